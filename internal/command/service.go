// Package command runs one-shot executions inside a session's sandbox:
// raw shell lines, GAM tool invocations, and uploaded scripts.
package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"gamgui/internal/backend"
	"gamgui/internal/gamerr"
	"gamgui/internal/security"
	"gamgui/internal/session"
	"gamgui/internal/telemetry"
)

// uploadRoot is where scripts land inside every sandbox.
const uploadRoot = "/uploads"

// Result is the outcome of a completed execution.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
}

// ExecOptions tunes one execution.
type ExecOptions struct {
	// Trusted skips the denylist. Only internal callers (the reaper's
	// housekeeping, lifecycle hooks) set it; operator input never does.
	Trusted bool
	// Timeout overrides the service default when positive.
	Timeout time.Duration
}

// Service executes commands against Active sessions.
type Service struct {
	sessions  *session.Service
	sanitizer security.Sanitizer
	log       *slog.Logger
	metrics   *telemetry.Metrics
	timeout   time.Duration
}

func NewService(sessions *session.Service, logger *slog.Logger, metrics *telemetry.Metrics, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Service{
		sessions: sessions,
		log:      logger.With("component", "command"),
		metrics:  metrics,
		timeout:  timeout,
	}
}

// ExecuteShell runs a raw shell line in the session's sandbox. Operator
// input goes through the denylist first.
func (s *Service) ExecuteShell(ctx context.Context, ownerID, sessionID, command string, opts ExecOptions) (*Result, error) {
	sess, err := s.activeSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if !opts.Trusted {
		if err := s.sanitizer.Sanitize(command); err != nil {
			if s.metrics != nil {
				s.metrics.CommandsRejected.Inc()
			}
			s.log.Warn("Command rejected", "session", sessionID, "error", err)
			return nil, err
		}
	}
	return s.run(ctx, sess, []string{"/bin/sh", "-c", command}, "shell", opts)
}

// ExecuteTool runs a GAM invocation. The args are the words after the
// binary name; anything trying to smuggle a different binary in is refused.
// The denylist does not apply: the vocabulary is fixed to one tool.
func (s *Service) ExecuteTool(ctx context.Context, ownerID, sessionID string, args []string, opts ExecOptions) (*Result, error) {
	sess, err := s.activeSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, gamerr.New(gamerr.KindCommandRejected, "empty gam invocation")
	}
	for _, a := range args {
		if strings.ContainsAny(a, ";|&`$<>") {
			return nil, gamerr.Newf(gamerr.KindCommandRejected, "gam argument %q contains shell metacharacters", a)
		}
	}

	argv := append([]string{"gam"}, args...)
	res, err := s.run(ctx, sess, argv, "tool", opts)
	if err != nil {
		return nil, err
	}
	// Terminal clients render tool output verbatim; the trailing prompt
	// marker tells them the invocation is finished.
	if res.Stdout != "" && !strings.HasSuffix(res.Stdout, "\n") {
		res.Stdout += "\n"
	}
	res.Stdout += "$ "
	return res, nil
}

// ExecuteScript uploads the script into the sandbox, runs it, and removes
// it again best-effort.
func (s *Service) ExecuteScript(ctx context.Context, ownerID, sessionID, name string, content io.Reader, opts ExecOptions) (*Result, error) {
	sess, err := s.activeSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	target := path.Join(uploadRoot, path.Base(name))
	be := s.sessions.Backend()
	if err := be.PutFile(ctx, sess.Handle, target, content); err != nil {
		return nil, err
	}
	if _, err := be.Exec(ctx, sess.Handle, []string{"chmod", "+x", target}); err != nil {
		return nil, err
	}

	res, err := s.run(ctx, sess, []string{"/bin/sh", target}, "script", opts)

	if _, rmErr := be.Exec(context.WithoutCancel(ctx), sess.Handle, []string{"rm", "-f", target}); rmErr != nil {
		s.log.Debug("Script cleanup failed", "session", sessionID, "script", target, "error", rmErr)
	}
	return res, err
}

func (s *Service) activeSession(ctx context.Context, ownerID, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Get(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, gamerr.Newf(gamerr.KindSessionConflict, "session %s is %s, not Active", sessionID, sess.Status)
	}
	return sess, nil
}

// run executes argv with the configured timeout. On timeout the wait is
// abandoned, not killed: a long export inside the sandbox keeps running and
// the operator can watch it through the terminal instead.
func (s *Service) run(ctx context.Context, sess *session.Session, argv []string, mode string, opts ExecOptions) (*Result, error) {
	timeout := s.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	start := time.Now()
	be := s.sessions.Backend()

	type outcome struct {
		res backend.ExecResult
		err error
	}
	done := make(chan outcome, 1)
	execCtx := context.WithoutCancel(ctx)
	go func() {
		res, err := be.Exec(execCtx, sess.Handle, argv)
		done <- outcome{res, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		elapsed := time.Since(start)
		s.observe(mode, elapsed)
		s.sessions.Touch(ctx, sess.ID)
		if o.err != nil {
			return nil, o.err
		}
		return &Result{
			Stdout:   o.res.Stdout,
			Stderr:   o.res.Stderr,
			ExitCode: o.res.ExitCode,
			Duration: elapsed,
		}, nil
	case <-timer.C:
		s.observe(mode, time.Since(start))
		s.sessions.Touch(ctx, sess.ID)
		s.log.Warn("Command wait abandoned after timeout", "session", sess.ID, "mode", mode, "timeout", timeout)
		return nil, fmt.Errorf("command still running after %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) observe(mode string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.CommandDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}
