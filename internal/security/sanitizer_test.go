package security

import (
	"testing"

	"gamgui/internal/gamerr"
)

func TestSanitizerBlocksDestructiveCommands(t *testing.T) {
	var s Sanitizer

	blocked := []struct {
		name    string
		command string
	}{
		{"root deletion", "rm -rf /"},
		{"root deletion with flags split", "rm -r -f /"},
		{"home deletion", "rm -rf ~"},
		{"glob deletion", "rm -rf *"},
		{"system path", "rm -rf /etc"},
		{"system path nested flags", "sudo rm -fr /usr"},
		{"fork bomb", ":(){ :|:& };:"},
		{"device write", "dd if=/dev/zero of=/dev/sda"},
		{"device redirect", "echo junk > /dev/sda"},
		{"mkfs", "mkfs.ext4 /dev/sdb1"},
		{"shutdown", "shutdown -h now"},
		{"reboot", "reboot"},
	}
	for _, tc := range blocked {
		t.Run(tc.name, func(t *testing.T) {
			if f := s.Check(tc.command); f == nil {
				t.Errorf("expected %q to be blocked", tc.command)
			}
			err := s.Sanitize(tc.command)
			if !gamerr.Is(err, gamerr.KindCommandRejected) {
				t.Errorf("expected CommandRejected for %q, got %v", tc.command, err)
			}
		})
	}
}

func TestSanitizerAllowsNormalCommands(t *testing.T) {
	var s Sanitizer

	allowed := []string{
		"gam info domain",
		"gam print users",
		"ls -la /uploads",
		"rm report.csv",
		"rm -f /uploads/old-export.csv",
		"echo hello",
		"cat results.txt | grep admin",
		"gam user bob show messages query rfc822msgid:x",
	}
	for _, command := range allowed {
		if f := s.Check(command); f != nil {
			t.Errorf("expected %q to pass, blocked by %s (%q)", command, f.Rule, f.Match)
		}
	}
}

func TestSanitizerReportsFirstMatch(t *testing.T) {
	var s Sanitizer
	f := s.Check("rm -rf / && reboot")
	if f == nil {
		t.Fatal("expected a finding")
	}
	if f.Rule != "recursive root deletion" {
		t.Errorf("expected the first rule to win, got %s", f.Rule)
	}
}
