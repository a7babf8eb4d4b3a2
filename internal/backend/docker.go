package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"gamgui/internal/gamerr"
	"gamgui/internal/secrets"
	"gamgui/internal/security"
)

// DockerAPI is the subset of Docker API methods the local backend uses.
// This allows for mocking in tests.
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerResize(ctx context.Context, containerID string, options container.ResizeOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerOptions configures the local-engine backend.
type DockerOptions struct {
	Image         string
	CredentialDir string
	UploadDir     string
	CreateTimeout time.Duration
}

// DockerBackend runs sandboxes against the local Docker engine. There is no
// long-lived per-session resource: each Exec spins up a fresh container that
// auto-removes on exit, so the Handle it hands out is synthetic. The
// interactive shell is the exception; its container lives until the stream
// closes or the session is deleted.
type DockerBackend struct {
	opts      DockerOptions
	log       *slog.Logger
	sanitizer security.Sanitizer

	api DockerAPI

	mu       sync.Mutex
	ready    bool
	sessions map[string]*localSession // handle id -> live state
}

type localSession struct {
	credDir     string
	uploadDir   string
	interactive string // container id of the live shell, "" when none
}

// NewDockerBackend builds the adapter without touching the engine.
func NewDockerBackend(logger *slog.Logger, opts DockerOptions) *DockerBackend {
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = 60 * time.Second
	}
	return &DockerBackend{
		opts:     opts,
		log:      logger.With("component", "backend.docker"),
		sessions: make(map[string]*localSession),
	}
}

func (b *DockerBackend) Kind() HandleKind { return KindLocalContainer }

// Open connects to the engine, verifies the daemon answers, and pulls the
// session image if it is not present locally.
func (b *DockerBackend) Open(ctx context.Context) error {
	api := b.api
	if api == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to create docker client")
		}
		api = cli
	}

	if _, err := api.Ping(ctx); err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "docker daemon is not reachable")
	}

	if err := ensureImage(ctx, api, b.opts.Image); err != nil {
		return err
	}

	b.mu.Lock()
	b.api = api
	b.ready = true
	b.mu.Unlock()

	b.log.Info("Docker backend ready", "image", b.opts.Image)
	return nil
}

func ensureImage(ctx context.Context, api DockerAPI, ref string) error {
	images, err := api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to list images")
	}
	want := ref
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == ref || tag == want {
				return nil
			}
		}
	}

	reader, err := api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err,
			fmt.Sprintf("failed to pull image %s", ref))
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "image pull interrupted")
}

func (b *DockerBackend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *DockerBackend) checkReady() error {
	if !b.Ready() {
		return gamerr.New(gamerr.KindAdapterNotInitialized, "docker backend not opened")
	}
	return nil
}

// MaterializeCredentials writes the bundle into a per-session host directory
// that containers bind-mount read-only. The directory path is the reference.
func (b *DockerBackend) MaterializeCredentials(ctx context.Context, sessionID string, bundle *secrets.Bundle) (string, error) {
	if err := b.checkReady(); err != nil {
		return "", err
	}

	dir := filepath.Join(b.opts.CredentialDir, "sessions", sanitizeName(sessionID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to create credential dir")
	}
	for name, data := range bundle.Files {
		target := filepath.Join(dir, filepath.Base(name))
		if err := os.WriteFile(target, data, 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return "", gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to write credential file")
		}
	}
	return dir, nil
}

// RemoveCredentials deletes the materialized directory. Refs outside the
// credential root are refused rather than removed.
func (b *DockerBackend) RemoveCredentials(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	root := filepath.Join(b.opts.CredentialDir, "sessions")
	clean := filepath.Clean(ref)
	if !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return gamerr.Newf(gamerr.KindUnknown, "credential ref %s is outside the store root", ref)
	}
	return os.RemoveAll(clean)
}

// CreateSandbox registers the session and prepares its upload directory. No
// container is started here; each exec gets a fresh one.
func (b *DockerBackend) CreateSandbox(ctx context.Context, sessionID string, spec SandboxSpec) (Handle, error) {
	if err := b.checkReady(); err != nil {
		return Handle{}, err
	}

	uploadDir := filepath.Join(b.opts.UploadDir, sanitizeName(sessionID))
	if err := os.MkdirAll(uploadDir, 0o700); err != nil {
		return Handle{}, gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to create upload dir")
	}

	id := "local-" + sessionID
	b.mu.Lock()
	b.sessions[id] = &localSession{credDir: spec.CredentialRef, uploadDir: uploadDir}
	b.mu.Unlock()

	b.log.Info("Local sandbox registered", "handle", id, "session", sessionID)
	return Handle{Kind: KindLocalContainer, ID: id}, nil
}

func (b *DockerBackend) lookup(h Handle) (*localSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls, ok := b.sessions[h.ID]
	if !ok {
		return nil, gamerr.Newf(gamerr.KindSessionNotFound, "no local sandbox for handle %s", h.ID)
	}
	return ls, nil
}

func (b *DockerBackend) containerConfig(ls *localSession, cmd []string, tty bool) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image: b.opts.Image,
		Cmd:   cmd,
		Env: []string{
			"TERM=xterm-256color",
			"GAMCFGDIR=" + gamConfigDir,
		},
		Tty:          tty,
		OpenStdin:    tty,
		AttachStdin:  tty,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/uploads",
	}
	host := &container.HostConfig{
		AutoRemove: true,
		Binds: []string{
			ls.credDir + ":" + gamConfigDir + ":ro",
			ls.uploadDir + ":/uploads:rw",
		},
		Resources: container.Resources{
			Memory:   512 * 1024 * 1024,
			NanoCPUs: 1_000_000_000,
		},
	}
	return cfg, host
}

// Exec runs argv in a fresh auto-removing container and collects its output.
// Since every exec is an arbitrary process on a machine the server shares,
// the denylist applies here as well as at the command layer.
func (b *DockerBackend) Exec(ctx context.Context, h Handle, argv []string) (ExecResult, error) {
	if err := b.checkReady(); err != nil {
		return ExecResult{}, err
	}
	ls, err := b.lookup(h)
	if err != nil {
		return ExecResult{}, err
	}
	if err := b.sanitizer.Sanitize(strings.Join(argv, " ")); err != nil {
		return ExecResult{}, err
	}

	cfg, host := b.containerConfig(ls, argv, false)
	created, err := b.api.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return ExecResult{}, b.mapEngineError(err, "failed to create exec container")
	}

	attach, err := b.api.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		_ = b.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return ExecResult{}, b.mapEngineError(err, "failed to attach to exec container")
	}
	defer attach.Close()

	waitCh, waitErrCh := b.api.ContainerWait(ctx, created.ID, container.WaitConditionNextExit)

	if err := b.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = b.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return ExecResult{}, b.mapEngineError(err, "failed to start exec container")
	}

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	var exitCode int64
	select {
	case res := <-waitCh:
		if res.Error != nil {
			return ExecResult{}, gamerr.Newf(gamerr.KindSubstrateUnavailable,
				"exec container wait failed: %s", res.Error.Message)
		}
		exitCode = res.StatusCode
	case err := <-waitErrCh:
		return ExecResult{}, b.mapEngineError(err, "exec container wait failed")
	case <-ctx.Done():
		_ = b.api.ContainerStop(context.WithoutCancel(ctx), created.ID, container.StopOptions{})
		return ExecResult{}, ctx.Err()
	}

	<-copyDone
	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: int(exitCode),
	}, nil
}

// ExecInteractiveShell starts a long-lived TTY container running bash and
// bridges its hijacked connection into a Stream.
func (b *DockerBackend) ExecInteractiveShell(ctx context.Context, h Handle) (*Stream, error) {
	if err := b.checkReady(); err != nil {
		return nil, err
	}
	ls, err := b.lookup(h)
	if err != nil {
		return nil, err
	}

	cfg, host := b.containerConfig(ls, []string{"/bin/bash"}, true)
	host.AutoRemove = true
	created, err := b.api.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return nil, b.mapEngineError(err, "failed to create shell container")
	}

	attach, err := b.api.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		_ = b.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, b.mapEngineError(err, "failed to attach to shell container")
	}

	if err := b.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		attach.Close()
		_ = b.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, b.mapEngineError(err, "failed to start shell container")
	}

	b.mu.Lock()
	ls.interactive = created.ID
	b.mu.Unlock()

	s := NewStream(StreamConfig{
		Stdin: attach.Conn,
		Resize: func(cols, rows uint16) error {
			return b.api.ContainerResize(context.Background(), created.ID, container.ResizeOptions{
				Width: uint(cols), Height: uint(rows),
			})
		},
		Cancel: func() {
			attach.Close()
			_ = b.api.ContainerStop(context.Background(), created.ID, container.StopOptions{})
		},
	})

	go func() {
		// TTY containers multiplex nothing; the raw reader is the terminal.
		buf := make([]byte, 4096)
		var streamErr error
		for {
			n, err := attach.Reader.Read(buf)
			if n > 0 {
				s.Emit(SourceStdout, buf[:n])
			}
			if err != nil {
				if err != io.EOF {
					streamErr = err
				}
				break
			}
		}
		b.mu.Lock()
		if ls.interactive == created.ID {
			ls.interactive = ""
		}
		b.mu.Unlock()
		s.Finish(streamErr)
	}()

	return s, nil
}

// PutFile lands the content in the session's upload directory, which every
// container for this session mounts at /uploads. Only the base name is kept.
func (b *DockerBackend) PutFile(ctx context.Context, h Handle, path string, r io.Reader) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	ls, err := b.lookup(h)
	if err != nil {
		return err
	}
	target := filepath.Join(ls.uploadDir, filepath.Base(path))
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o700)
	if err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to create upload file")
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to write upload file")
	}
	return nil
}

// GetFile reads the named file back out of the session's upload directory.
func (b *DockerBackend) GetFile(ctx context.Context, h Handle, path string, w io.Writer) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	ls, err := b.lookup(h)
	if err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(ls.uploadDir, filepath.Base(path)))
	if err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to open session file")
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to read session file")
}

// Delete stops any live shell container and drops the session's host state.
// Unknown handles are a no-op.
func (b *DockerBackend) Delete(ctx context.Context, h Handle) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	b.mu.Lock()
	ls, ok := b.sessions[h.ID]
	delete(b.sessions, h.ID)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	if ls.interactive != "" {
		if err := b.api.ContainerStop(ctx, ls.interactive, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
			b.log.Warn("Failed to stop shell container", "container", ls.interactive, "error", err)
		}
		// AutoRemove handles cleanup after stop; force-remove as a fallback.
		if err := b.api.ContainerRemove(ctx, ls.interactive, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			b.log.Debug("Shell container already removed", "container", ls.interactive)
		}
	}
	if ls.uploadDir != "" {
		_ = os.RemoveAll(ls.uploadDir)
	}
	return nil
}

// Status reports the synthetic sandbox state: registered handles are Running
// since execs spawn on demand, everything else is NotFound.
func (b *DockerBackend) Status(ctx context.Context, h Handle) (SandboxStatus, error) {
	if err := b.checkReady(); err != nil {
		return "", err
	}
	b.mu.Lock()
	_, ok := b.sessions[h.ID]
	b.mu.Unlock()
	if !ok {
		return StatusNotFound, nil
	}
	return StatusRunning, nil
}

func (b *DockerBackend) mapEngineError(err error, msg string) error {
	if errdefs.IsNotFound(err) {
		return gamerr.Wrap(gamerr.KindSessionNotFound, err, msg)
	}
	return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, msg)
}
