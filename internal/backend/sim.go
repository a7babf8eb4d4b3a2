package backend

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"gamgui/internal/gamerr"
	"gamgui/internal/secrets"
)

// simVersionBanner imitates the tool's version output closely enough for
// clients that parse the first line.
const simVersionBanner = "GAM 6.71 - https://github.com/GAM-team/GAM\nSimulated sandbox - no Google Workspace calls are made\n"

// SimBackend is the simulated substrate: no external engine, deterministic
// canned responses. It backs test mode end to end, including the interactive
// shell, so the full session lifecycle can run in CI.
type SimBackend struct {
	mu       sync.Mutex
	ready    bool
	sessions map[string]*simSandbox

	// FailCreate makes the next CreateSandbox fail, for rollback tests.
	FailCreate error
}

type simSandbox struct {
	sessionID string
	files     map[string][]byte
	creds     map[string][]byte
}

func NewSimBackend() *SimBackend {
	return &SimBackend{sessions: make(map[string]*simSandbox)}
}

func (b *SimBackend) Kind() HandleKind { return KindSimulated }

func (b *SimBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	b.ready = true
	b.mu.Unlock()
	return nil
}

func (b *SimBackend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *SimBackend) checkReady() error {
	if !b.Ready() {
		return gamerr.New(gamerr.KindAdapterNotInitialized, "simulated backend not opened")
	}
	return nil
}

func (b *SimBackend) MaterializeCredentials(ctx context.Context, sessionID string, bundle *secrets.Bundle) (string, error) {
	if err := b.checkReady(); err != nil {
		return "", err
	}
	ref := "sim-credentials-" + sessionID
	b.mu.Lock()
	sb := b.sessions[sessionID]
	if sb == nil {
		sb = &simSandbox{sessionID: sessionID, files: make(map[string][]byte)}
		b.sessions[sessionID] = sb
	}
	sb.creds = make(map[string][]byte, len(bundle.Files))
	for name, data := range bundle.Files {
		sb.creds[name] = append([]byte(nil), data...)
	}
	b.mu.Unlock()
	return ref, nil
}

func (b *SimBackend) RemoveCredentials(ctx context.Context, ref string) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	id := strings.TrimPrefix(ref, "sim-credentials-")
	b.mu.Lock()
	if sb := b.sessions[id]; sb != nil {
		sb.creds = nil
	}
	b.mu.Unlock()
	return nil
}

func (b *SimBackend) CreateSandbox(ctx context.Context, sessionID string, spec SandboxSpec) (Handle, error) {
	if err := b.checkReady(); err != nil {
		return Handle{}, err
	}
	b.mu.Lock()
	if b.FailCreate != nil {
		err := b.FailCreate
		b.FailCreate = nil
		b.mu.Unlock()
		return Handle{}, err
	}
	sb := b.sessions[sessionID]
	if sb == nil {
		sb = &simSandbox{sessionID: sessionID, files: make(map[string][]byte)}
		b.sessions[sessionID] = sb
	}
	b.mu.Unlock()
	return Handle{Kind: KindSimulated, ID: "sim-" + sessionID}, nil
}

func (b *SimBackend) lookup(h Handle) (*simSandbox, error) {
	id := strings.TrimPrefix(h.ID, "sim-")
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.sessions[id]
	if !ok {
		return nil, gamerr.Newf(gamerr.KindSessionNotFound, "no simulated sandbox for handle %s", h.ID)
	}
	return sb, nil
}

// Exec interprets a small command vocabulary and fabricates plausible
// output for everything else.
func (b *SimBackend) Exec(ctx context.Context, h Handle, argv []string) (ExecResult, error) {
	if err := b.checkReady(); err != nil {
		return ExecResult{}, err
	}
	sb, err := b.lookup(h)
	if err != nil {
		return ExecResult{}, err
	}
	out, code := b.interpret(sb, strings.Join(argv, " "))
	return ExecResult{Stdout: out, ExitCode: code}, nil
}

// interpret is the canned-response table shared by Exec and the interactive
// shell. File-table reads take b.mu since PutFile may run concurrently.
func (b *SimBackend) interpret(sb *simSandbox, line string) (string, int) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", 0
	}

	// Commands wrapped in a shell by the command layer unwrap to the inner
	// text for interpretation.
	if len(fields) >= 3 && fields[0] == "/bin/sh" && fields[1] == "-c" {
		return b.interpret(sb, strings.Join(fields[2:], " "))
	}

	switch fields[0] {
	case "gam":
		if len(fields) >= 2 && fields[1] == "version" {
			return simVersionBanner, 0
		}
		return fmt.Sprintf("simulated: gam %s completed\n", strings.Join(fields[1:], " ")), 0
	case "echo":
		return strings.Join(fields[1:], " ") + "\n", 0
	case "whoami":
		return "gam\n", 0
	case "pwd":
		return "/uploads\n", 0
	case "ls":
		b.mu.Lock()
		var names []string
		for name := range sb.files {
			names = append(names, name)
		}
		b.mu.Unlock()
		if len(names) == 0 {
			return "", 0
		}
		return strings.Join(names, "\n") + "\n", 0
	case "cat":
		if len(fields) < 2 {
			return "", 0
		}
		b.mu.Lock()
		data, ok := sb.files[path.Base(fields[1])]
		b.mu.Unlock()
		if !ok {
			return fmt.Sprintf("cat: %s: No such file or directory\n", fields[1]), 1
		}
		return string(data), 0
	case "exit":
		return "", 0
	default:
		return fmt.Sprintf("simulated: %s\n", line), 0
	}
}

// ExecInteractiveShell returns a line interpreter: each newline-terminated
// input line is run through the canned-response table and echoed back with
// its output and a fresh prompt.
func (b *SimBackend) ExecInteractiveShell(ctx context.Context, h Handle) (*Stream, error) {
	if err := b.checkReady(); err != nil {
		return nil, err
	}
	sb, err := b.lookup(h)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	s := NewStream(StreamConfig{
		Stdin:  pw,
		Cancel: func() { _ = pr.Close() },
	})

	go func() {
		s.Emit(SourceStdout, []byte("$ "))
		var line []byte
		buf := make([]byte, 256)
		for {
			n, err := pr.Read(buf)
			for _, c := range buf[:n] {
				if c != '\n' && c != '\r' {
					line = append(line, c)
					continue
				}
				text := string(line)
				line = line[:0]
				out, _ := b.interpret(sb, text)
				s.Emit(SourceStdout, []byte(text+"\r\n"+strings.ReplaceAll(out, "\n", "\r\n")+"$ "))
				if strings.TrimSpace(text) == "exit" {
					s.Finish(nil)
					return
				}
			}
			if err != nil {
				s.Finish(nil)
				return
			}
		}
	}()

	return s, nil
}

func (b *SimBackend) PutFile(ctx context.Context, h Handle, p string, r io.Reader) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	sb, err := b.lookup(h)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	sb.files[path.Base(p)] = data
	b.mu.Unlock()
	return nil
}

func (b *SimBackend) GetFile(ctx context.Context, h Handle, p string, w io.Writer) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	sb, err := b.lookup(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	data, ok := sb.files[path.Base(p)]
	b.mu.Unlock()
	if !ok {
		return gamerr.Newf(gamerr.KindSessionNotFound, "no such file %s in simulated sandbox", p)
	}
	_, err = w.Write(data)
	return err
}

func (b *SimBackend) Delete(ctx context.Context, h Handle) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	id := strings.TrimPrefix(h.ID, "sim-")
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
	return nil
}

func (b *SimBackend) Status(ctx context.Context, h Handle) (SandboxStatus, error) {
	if err := b.checkReady(); err != nil {
		return "", err
	}
	if _, err := b.lookup(h); err != nil {
		return StatusNotFound, nil
	}
	return StatusRunning, nil
}
