package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"

	"gamgui/internal/gamerr"
	"gamgui/internal/secrets"
)

// Pod and secret labels used to identify resources managed by this server.
const (
	labelManagedBy = "app.kubernetes.io/managed-by"
	labelSessionID = "gamgui.io/session-id"
	labelOwnerID   = "gamgui.io/owner-id"
	labelCreatedAt = "gamgui.io/created-at"

	managedByValue = "gamgui"

	// shellContainer is the single container in every session pod.
	shellContainer = "shell"

	credentialMountPath = "/credentials"
	gamConfigDir        = "/gam-config"
)

// KubeOptions configures the pod backend.
type KubeOptions struct {
	Namespace     string
	Image         string
	CPULimit      string
	MemoryLimit   string
	CreateTimeout time.Duration

	// TokenFunc supplies a control-plane bearer token with its expiry, for
	// environments where the credential must be renewed out-of-band (GKE
	// workload identity). Nil means the kubeconfig/in-cluster transport
	// already handles auth.
	TokenFunc func(ctx context.Context) (token string, expiry time.Time, err error)
}

// KubeBackend runs each sandbox as a Kubernetes pod with the credential
// bundle materialized as a Secret and mounted read-only.
//
// Construction is two-phase: NewKubeBackend only records options; Open
// connects to the control plane. Every operation checks Ready first.
type KubeBackend struct {
	opts   KubeOptions
	log    *slog.Logger
	client kubernetes.Interface
	cfg    *rest.Config

	mu    sync.RWMutex
	ready bool

	// newExecutor is swappable in tests.
	newExecutor func(cfg *rest.Config, method string, u *url.URL) (remotecommand.Executor, error)
}

// NewKubeBackend builds the adapter without touching the control plane.
func NewKubeBackend(logger *slog.Logger, opts KubeOptions) *KubeBackend {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = 60 * time.Second
	}
	return &KubeBackend{
		opts:        opts,
		log:         logger.With("component", "backend.kubernetes"),
		newExecutor: remotecommand.NewSPDYExecutor,
	}
}

func (b *KubeBackend) Kind() HandleKind { return KindPod }

// Open loads the in-cluster configuration, falling back to kubeconfig, and
// verifies the target namespace exists.
func (b *KubeBackend) Open(ctx context.Context) error {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		var kubeconfig string
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		} else {
			kubeconfig = os.Getenv("KUBECONFIG")
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to load kubeconfig")
		}
	}

	if b.opts.TokenFunc != nil {
		src := &tokenSource{fetch: b.opts.TokenFunc}
		cfg.WrapTransport = func(rt http.RoundTripper) http.RoundTripper {
			return &bearerTransport{next: rt, source: src}
		}
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to create kubernetes client")
	}

	if _, err := client.CoreV1().Namespaces().Get(ctx, b.opts.Namespace, metav1.GetOptions{}); err != nil {
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err,
			fmt.Sprintf("failed to verify namespace %s", b.opts.Namespace))
	}

	b.mu.Lock()
	b.client = client
	b.cfg = cfg
	b.ready = true
	b.mu.Unlock()

	b.log.Info("Kubernetes backend ready", "namespace", b.opts.Namespace, "image", b.opts.Image)
	return nil
}

func (b *KubeBackend) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *KubeBackend) checkReady() error {
	if !b.Ready() {
		return gamerr.New(gamerr.KindAdapterNotInitialized, "kubernetes backend not opened")
	}
	return nil
}

func secretName(sessionID string) string {
	return "gam-credentials-" + sanitizeName(sessionID)
}

func podName(sessionID string) string {
	return "gam-session-" + sanitizeName(sessionID)
}

// MaterializeCredentials creates or replaces the per-session Secret holding
// the bundle. Raw bytes live only inside the Secret afterwards.
func (b *KubeBackend) MaterializeCredentials(ctx context.Context, sessionID string, bundle *secrets.Bundle) (string, error) {
	if err := b.checkReady(); err != nil {
		return "", err
	}

	name := secretName(sessionID)
	sec := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: b.opts.Namespace,
			Labels: map[string]string{
				labelManagedBy: managedByValue,
				labelSessionID: sessionID,
				labelOwnerID:   sanitizeName(bundle.OwnerID),
			},
		},
		Type: corev1.SecretTypeOpaque,
		Data: bundle.Files,
	}

	_, err := b.client.CoreV1().Secrets(b.opts.Namespace).Create(ctx, sec, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = b.client.CoreV1().Secrets(b.opts.Namespace).Update(ctx, sec, metav1.UpdateOptions{})
	}
	if err != nil {
		return "", b.mapAPIError(err, "failed to materialize credentials")
	}
	return name, nil
}

// RemoveCredentials deletes the materialized Secret; absent is fine.
func (b *KubeBackend) RemoveCredentials(ctx context.Context, ref string) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	err := b.client.CoreV1().Secrets(b.opts.Namespace).Delete(ctx, ref, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return b.mapAPIError(err, "failed to remove credentials")
	}
	return nil
}

// CreateSandbox provisions the session pod and waits for it to become
// exec-able.
func (b *KubeBackend) CreateSandbox(ctx context.Context, sessionID string, spec SandboxSpec) (Handle, error) {
	if err := b.checkReady(); err != nil {
		return Handle{}, err
	}

	pod, err := b.buildPod(sessionID, spec)
	if err != nil {
		return Handle{}, err
	}

	created, err := b.client.CoreV1().Pods(b.opts.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return Handle{}, b.mapAPIError(err, "failed to create session pod")
	}

	if err := b.waitForPodReady(ctx, created.Name); err != nil {
		// Roll the pod back so a failed create leaves nothing behind.
		_ = b.Delete(context.WithoutCancel(ctx), Handle{Kind: KindPod, ID: created.Name})
		return Handle{}, err
	}

	b.log.Info("Session pod running", "pod", created.Name, "session", sessionID)
	return Handle{Kind: KindPod, ID: created.Name}, nil
}

func (b *KubeBackend) buildPod(sessionID string, spec SandboxSpec) (*corev1.Pod, error) {
	memLimit, err := resource.ParseQuantity(b.opts.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", b.opts.MemoryLimit, err)
	}
	cpuLimit, err := resource.ParseQuantity(b.opts.CPULimit)
	if err != nil {
		return nil, fmt.Errorf("invalid cpu limit %q: %w", b.opts.CPULimit, err)
	}

	env := []corev1.EnvVar{
		{Name: "TERM", Value: "xterm-256color"},
		{Name: "SESSION_ID", Value: sessionID},
		{Name: "GAMCFGDIR", Value: gamConfigDir},
	}
	for k, v := range spec.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	// The startup script copies the mounted credentials into GAM's config
	// dir, then idles so the pod stays exec-able for the session's life.
	startup := fmt.Sprintf(
		"mkdir -p %s && cp %s/* %s/ 2>/dev/null; exec sleep infinity",
		gamConfigDir, credentialMountPath, gamConfigDir,
	)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(sessionID),
			Namespace: b.opts.Namespace,
			Labels: map[string]string{
				labelManagedBy: managedByValue,
				labelSessionID: sessionID,
				labelOwnerID:   sanitizeName(spec.OwnerID),
				labelCreatedAt: strconv.FormatInt(time.Now().Unix(), 10),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy:                 corev1.RestartPolicyNever,
			EnableServiceLinks:            ptr(false),
			AutomountServiceAccountToken:  ptr(false),
			TerminationGracePeriodSeconds: ptr(int64(10)),
			Containers: []corev1.Container{
				{
					Name:            shellContainer,
					Image:           b.opts.Image,
					ImagePullPolicy: corev1.PullIfNotPresent,
					Command:         []string{"/bin/sh", "-c", startup},
					Stdin:           true,
					TTY:             true,
					Env:             env,
					Resources: corev1.ResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse("100m"),
							corev1.ResourceMemory: resource.MustParse("128Mi"),
						},
						Limits: corev1.ResourceList{
							corev1.ResourceCPU:    cpuLimit,
							corev1.ResourceMemory: memLimit,
						},
					},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "credentials", MountPath: credentialMountPath, ReadOnly: true},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "credentials",
					VolumeSource: corev1.VolumeSource{
						Secret: &corev1.SecretVolumeSource{
							SecretName: spec.CredentialRef,
						},
					},
				},
			},
		},
	}, nil
}

func (b *KubeBackend) waitForPodReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(b.opts.CreateTimeout)
	for {
		if time.Now().After(deadline) {
			return gamerr.Newf(gamerr.KindSubstrateUnavailable,
				"timeout waiting for pod %s to become ready", name)
		}

		pod, err := b.client.CoreV1().Pods(b.opts.Namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return b.mapAPIError(err, "failed to poll pod")
		}

		switch pod.Status.Phase {
		case corev1.PodRunning:
			for _, cs := range pod.Status.ContainerStatuses {
				if cs.Name == shellContainer && cs.Ready {
					return nil
				}
			}
		case corev1.PodFailed, corev1.PodSucceeded:
			return gamerr.Newf(gamerr.KindSubstrateUnavailable,
				"pod %s entered terminal phase %s before becoming ready", name, pod.Status.Phase)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Exec runs argv to completion inside the pod over SPDY.
func (b *KubeBackend) Exec(ctx context.Context, h Handle, argv []string) (ExecResult, error) {
	if err := b.checkReady(); err != nil {
		return ExecResult{}, err
	}

	var stdout, stderr strings.Builder
	exitCode, err := b.stream(ctx, h.ID, argv, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	}, false)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// ExecInteractiveShell opens a TTY exec running the session shell and wires
// it into a Stream.
func (b *KubeBackend) ExecInteractiveShell(ctx context.Context, h Handle) (*Stream, error) {
	if err := b.checkReady(); err != nil {
		return nil, err
	}

	exec, err := b.executor(h.ID, []string{"/bin/bash"}, true, true)
	if err != nil {
		return nil, err
	}

	stdinR, stdinW := io.Pipe()
	sizes := newSizeQueue()
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := NewStream(StreamConfig{
		Stdin: stdinW,
		Resize: func(cols, rows uint16) error {
			sizes.push(remotecommand.TerminalSize{Width: cols, Height: rows})
			return nil
		},
		Cancel: func() {
			sizes.close()
			cancel()
		},
	})

	go func() {
		// TTY mode merges stderr into stdout; everything arrives as stdout.
		err := exec.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:             stdinR,
			Stdout:            s.StdoutWriter(),
			Tty:               true,
			TerminalSizeQueue: sizes,
		})
		_ = stdinR.Close()
		if err != nil && streamCtx.Err() != nil {
			err = nil // consumer closed the stream, not a substrate failure
		}
		s.Finish(err)
	}()

	return s, nil
}

// PutFile streams r to path inside the pod via shell redirection.
func (b *KubeBackend) PutFile(ctx context.Context, h Handle, path string, r io.Reader) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	cmd := []string{"/bin/sh", "-c",
		fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(filepath.Dir(path)), shellQuote(path))}
	var stderr strings.Builder
	code, err := b.stream(ctx, h.ID, cmd, remotecommand.StreamOptions{
		Stdin:  r,
		Stderr: &stderr,
	}, false)
	if err != nil {
		return err
	}
	if code != 0 {
		return gamerr.Newf(gamerr.KindSubstrateUnavailable,
			"file write to %s exited %d: %s", path, code, stderr.String())
	}
	return nil
}

// GetFile streams path's content into w.
func (b *KubeBackend) GetFile(ctx context.Context, h Handle, path string, w io.Writer) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	var stderr strings.Builder
	code, err := b.stream(ctx, h.ID, []string{"cat", path}, remotecommand.StreamOptions{
		Stdout: w,
		Stderr: &stderr,
	}, false)
	if err != nil {
		return err
	}
	if code != 0 {
		return gamerr.Newf(gamerr.KindSubstrateUnavailable,
			"file read of %s exited %d: %s", path, code, stderr.String())
	}
	return nil
}

// Delete removes the session pod. Absent pods are a no-op.
func (b *KubeBackend) Delete(ctx context.Context, h Handle) error {
	if err := b.checkReady(); err != nil {
		return err
	}
	if h.IsZero() {
		return nil
	}
	err := b.client.CoreV1().Pods(b.opts.Namespace).Delete(ctx, h.ID, metav1.DeleteOptions{
		GracePeriodSeconds: ptr(int64(0)),
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return b.mapAPIError(err, "failed to delete session pod")
	}
	return nil
}

// Status reports the pod phase.
func (b *KubeBackend) Status(ctx context.Context, h Handle) (SandboxStatus, error) {
	if err := b.checkReady(); err != nil {
		return "", err
	}
	pod, err := b.client.CoreV1().Pods(b.opts.Namespace).Get(ctx, h.ID, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return StatusNotFound, nil
	}
	if err != nil {
		return "", b.mapAPIError(err, "failed to get pod status")
	}
	switch pod.Status.Phase {
	case corev1.PodPending:
		return StatusPending, nil
	case corev1.PodRunning:
		return StatusRunning, nil
	case corev1.PodSucceeded:
		return StatusStopped, nil
	case corev1.PodFailed:
		return StatusFailed, nil
	default:
		return StatusFailed, nil
	}
}

// executor builds a remotecommand executor for one exec request.
func (b *KubeBackend) executor(pod string, cmd []string, stdin, tty bool) (remotecommand.Executor, error) {
	req := b.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(b.opts.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: shellContainer,
			Command:   cmd,
			Stdin:     stdin,
			Stdout:    true,
			Stderr:    !tty,
			TTY:       tty,
		}, scheme.ParameterCodec)

	exec, err := b.newExecutor(b.cfg, "POST", req.URL())
	if err != nil {
		return nil, gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "failed to create exec transport")
	}
	return exec, nil
}

// stream runs one exec request and extracts the exit code.
func (b *KubeBackend) stream(ctx context.Context, pod string, cmd []string, opts remotecommand.StreamOptions, tty bool) (int, error) {
	exec, err := b.executor(pod, cmd, opts.Stdin != nil, tty)
	if err != nil {
		return -1, err
	}

	err = exec.StreamWithContext(ctx, opts)
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(interface{ ExitStatus() int }); ok {
		return exitErr.ExitStatus(), nil
	}
	if code, ok := parseExitCode(err); ok {
		return code, nil
	}
	return -1, gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, "exec stream failed")
}

// parseExitCode digs the exit code out of the error text when the typed
// error is unavailable across client-go versions.
func parseExitCode(err error) (int, bool) {
	var code int
	if _, scanErr := fmt.Sscanf(err.Error(), "command terminated with exit code %d", &code); scanErr == nil {
		return code, true
	}
	return 0, false
}

// mapAPIError classifies control-plane failures into the error taxonomy.
func (b *KubeBackend) mapAPIError(err error, msg string) error {
	switch {
	case apierrors.IsForbidden(err) && strings.Contains(err.Error(), "quota"):
		return gamerr.Wrap(gamerr.KindQuotaExceeded, err, msg)
	case apierrors.IsTooManyRequests(err):
		return gamerr.Wrap(gamerr.KindQuotaExceeded, err, msg)
	default:
		return gamerr.Wrap(gamerr.KindSubstrateUnavailable, err, msg)
	}
}

// sizeQueue feeds terminal resizes to remotecommand without blocking the
// resize caller.
type sizeQueue struct {
	ch        chan remotecommand.TerminalSize
	closeOnce sync.Once
}

func newSizeQueue() *sizeQueue {
	return &sizeQueue{ch: make(chan remotecommand.TerminalSize, 4)}
}

func (q *sizeQueue) push(size remotecommand.TerminalSize) {
	select {
	case q.ch <- size:
	default: // stale sizes are droppable
	}
}

func (q *sizeQueue) close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

func (q *sizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

// tokenSource caches a bearer token and renews it lazily. The mutex keeps
// refreshes single-flight across all sessions sharing the adapter.
type tokenSource struct {
	fetch func(ctx context.Context) (string, time.Time, error)

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func (t *tokenSource) get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Now().Before(t.expiry.Add(-30*time.Second)) {
		return t.token, nil
	}
	token, expiry, err := t.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh control-plane token: %w", err)
	}
	t.token = token
	t.expiry = expiry
	return token, nil
}

type bearerTransport struct {
	next   http.RoundTripper
	source *tokenSource
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.get(req.Context())
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(clone)
}

func ptr[T any](v T) *T { return &v }

// sanitizeName makes ids safe for Kubernetes object names and label values.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	out := strings.Trim(sb.String(), "-")
	if len(out) > 63 {
		out = out[:63]
	}
	if out == "" {
		out = "unknown"
	}
	return out
}

// shellQuote single-quotes a path for embedding in sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
