// Package security vets shell commands before they reach a sandbox.
package security

import (
	"regexp"

	"gamgui/internal/gamerr"
)

// Finding names the denylist rule a command tripped.
type Finding struct {
	Rule  string
	Match string
}

var (
	reRootDeletion = regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+(/|/\*|~|~/\*|\*)\s*($|;|&)`)
	reForkBomb     = regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`)
	reDevZeroWrite = regexp.MustCompile(`(?i)\b(dd|cat|cp)\b[^;|&]*\b/dev/zero\b[^;|&]*\bof=/dev/|>\s*/dev/[sh]d[a-z]`)
	reMkfs         = regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\s+/dev/`)
	rePowerControl = regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`)
	reWipePath     = regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+/(bin|boot|dev|etc|lib|proc|root|sbin|sys|usr|var)\b`)
)

// rules is ordered: the first match wins and is reported.
var rules = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"recursive root deletion", reRootDeletion},
	{"system path deletion", reWipePath},
	{"fork bomb", reForkBomb},
	{"raw device write", reDevZeroWrite},
	{"filesystem format", reMkfs},
	{"power control", rePowerControl},
}

// Sanitizer vets shell command text against the destructive-operation
// denylist. The zero value is ready to use.
type Sanitizer struct{}

// Check returns the first denylist finding, or nil when the command passes.
func (Sanitizer) Check(command string) *Finding {
	for _, r := range rules {
		if m := r.pattern.FindString(command); m != "" {
			return &Finding{Rule: r.name, Match: m}
		}
	}
	return nil
}

// Sanitize returns a CommandRejected error when the command trips the
// denylist, nil otherwise. The rejected command never reaches a backend.
func (s Sanitizer) Sanitize(command string) error {
	if f := s.Check(command); f != nil {
		return gamerr.Newf(gamerr.KindCommandRejected, "command blocked by %s rule", f.Rule)
	}
	return nil
}
