package backend

import (
	"log/slog"
	"testing"

	"gamgui/internal/config"
)

func testConfig(backendName string) *config.Config {
	return &config.Config{
		Backend:      backendName,
		SessionImage: "gamgui/gam-session:latest",
		Namespace:    "default",
		CPULimit:     "500m",
		MemoryLimit:  "1Gi",
	}
}

func TestSelectTestModeForcesSim(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	cfg := testConfig(config.BackendKubernetes)
	cfg.TestMode = true

	b := Select(cfg, slog.Default())
	if b.Kind() != KindSimulated {
		t.Errorf("test mode should select the simulated backend, got %s", b.Kind())
	}
}

func TestSelectInClusterForcesKubernetes(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")

	b := Select(testConfig(config.BackendDocker), slog.Default())
	if b.Kind() != KindPod {
		t.Errorf("in-cluster run should force the pod backend, got %s", b.Kind())
	}
}

func TestSelectHonorsConfiguredBackend(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	if b := Select(testConfig(config.BackendDocker), slog.Default()); b.Kind() != KindLocalContainer {
		t.Errorf("expected docker backend, got %s", b.Kind())
	}
	if b := Select(testConfig(config.BackendKubernetes), slog.Default()); b.Kind() != KindPod {
		t.Errorf("expected pod backend, got %s", b.Kind())
	}
	if b := Select(testConfig(config.BackendSimulated), slog.Default()); b.Kind() != KindSimulated {
		t.Errorf("expected simulated backend, got %s", b.Kind())
	}
}
