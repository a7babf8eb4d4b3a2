package backend

import (
	"io"
	"sync"

	"gamgui/internal/gamerr"
)

// Source tags which pipe a terminal chunk came from. Chunks on one Stream
// are delivered in arrival order; no ordering holds between stdout and
// stderr relative to each other.
type Source int

const (
	SourceStdout Source = iota
	SourceStderr
)

// Chunk is one unit of terminal output.
type Chunk struct {
	Source Source
	Data   []byte
}

// Stream is the uniform duplex abstraction over a sandbox exec channel.
// Adapters produce into it, the gateway consumes from it; neither side
// threads raw callbacks through intermediate layers.
//
// Stdin goes through Write, output arrives on Output. After Output is
// closed, Err reports why the stream ended (nil for a clean close).
type Stream struct {
	out    chan Chunk
	stdin  io.WriteCloser
	resize func(cols, rows uint16) error
	cancel func()

	closeOnce sync.Once
	finOnce   sync.Once

	mu  sync.Mutex
	err error
}

// StreamConfig wires the substrate side of a Stream.
type StreamConfig struct {
	// Stdin receives client input verbatim. Required.
	Stdin io.WriteCloser
	// Resize propagates terminal geometry. Optional.
	Resize func(cols, rows uint16) error
	// Cancel tears down the substrate channel. Optional.
	Cancel func()
	// Buffer sizes the output channel. Zero means a small default; the
	// gateway keeps its own backlog ring, so this only absorbs bursts.
	Buffer int
}

// NewStream builds a Stream for an adapter to feed.
func NewStream(cfg StreamConfig) *Stream {
	buf := cfg.Buffer
	if buf <= 0 {
		buf = 32
	}
	return &Stream{
		out:    make(chan Chunk, buf),
		stdin:  cfg.Stdin,
		resize: cfg.Resize,
		cancel: cfg.Cancel,
	}
}

// Output is the ordered chunk channel. Closed when the stream ends.
func (s *Stream) Output() <-chan Chunk { return s.out }

// Write forwards client input to the sandbox's stdin.
func (s *Stream) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Resize propagates the client terminal size when the substrate supports it.
func (s *Stream) Resize(cols, rows uint16) error {
	if s.resize == nil {
		return nil
	}
	return s.resize(cols, rows)
}

// Err reports why the stream ended. Valid after Output is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the stream down from the consumer side.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.stdin.Close()
	})
	return nil
}

// Emit delivers one output chunk in arrival order. Called by adapters only.
// Blocks when the consumer is behind; the gateway drains promptly and keeps
// its own eviction policy.
func (s *Stream) Emit(src Source, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.out <- Chunk{Source: src, Data: cp}
}

// Finish ends the stream, recording why. err nil means a clean close;
// anything else is wrapped as StreamClosed so consumers can offer reattach.
// Called by adapters only; safe to call once per stream.
func (s *Stream) Finish(err error) {
	s.finOnce.Do(func() {
		s.mu.Lock()
		if err != nil {
			s.err = gamerr.Wrap(gamerr.KindStreamClosed, err, "backend stream ended")
		}
		s.mu.Unlock()
		close(s.out)
	})
}

// sourceWriter adapts an io.Writer interface onto Emit for one source, so
// substrate libraries that want writers can feed the stream directly.
type sourceWriter struct {
	s   *Stream
	src Source
}

func (w sourceWriter) Write(p []byte) (int, error) {
	w.s.Emit(w.src, p)
	return len(p), nil
}

// StdoutWriter returns a writer that emits stdout chunks.
func (s *Stream) StdoutWriter() io.Writer { return sourceWriter{s: s, src: SourceStdout} }

// StderrWriter returns a writer that emits stderr chunks.
func (s *Stream) StderrWriter() io.Writer { return sourceWriter{s: s, src: SourceStderr} }
