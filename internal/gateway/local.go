package gateway

import (
	"io"
	"strings"

	"gamgui/internal/backend"
)

const localBanner = "[no sandbox attached - local interpreter]\r\n$ "

// newLocalInterpreter builds the fallback terminal used when a session has
// no reachable sandbox. It echoes input back line by line so the operator
// sees a live prompt instead of a dead socket, and answers a couple of
// things locally.
func newLocalInterpreter() *backend.Stream {
	pr, pw := io.Pipe()
	s := backend.NewStream(backend.StreamConfig{
		Stdin:  pw,
		Cancel: func() { _ = pr.Close() },
	})

	go func() {
		s.Emit(backend.SourceStdout, []byte(localBanner))
		var line []byte
		buf := make([]byte, 256)
		for {
			n, err := pr.Read(buf)
			for _, c := range buf[:n] {
				if c != '\n' && c != '\r' {
					line = append(line, c)
					continue
				}
				text := strings.TrimSpace(string(line))
				line = line[:0]
				s.Emit(backend.SourceStdout, []byte(respond(text)))
			}
			if err != nil {
				s.Finish(nil)
				return
			}
		}
	}()
	return s
}

func respond(text string) string {
	switch {
	case text == "":
		return "$ "
	case text == "help":
		return "this terminal has no sandbox; delete and recreate the session\r\n$ "
	default:
		return text + ": no sandbox attached\r\n$ "
	}
}
