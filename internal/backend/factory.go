package backend

import (
	"log/slog"
	"os"

	"gamgui/internal/config"
)

const serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Select decides which adapter drives sandboxes. Test mode always gets the
// simulated backend. A process that is visibly inside a cluster is forced
// onto the pod backend regardless of configuration, since a local engine
// there would provision sandboxes on the node's shared runtime. Otherwise
// the configured backend wins.
func Select(cfg *config.Config, logger *slog.Logger) Backend {
	if cfg.TestMode {
		return NewSimBackend()
	}

	if inCluster() {
		if cfg.Backend != config.BackendKubernetes {
			logger.Warn("Running in-cluster; overriding configured backend",
				"configured", cfg.Backend, "selected", config.BackendKubernetes)
		}
		return newKubeFromConfig(cfg, logger)
	}

	switch cfg.Backend {
	case config.BackendKubernetes:
		return newKubeFromConfig(cfg, logger)
	case config.BackendDocker:
		return NewDockerBackend(logger, DockerOptions{
			Image:         cfg.SessionImage,
			CredentialDir: cfg.CredentialDir,
			UploadDir:     cfg.UploadDir,
			CreateTimeout: cfg.CreateTimeout,
		})
	default:
		return NewSimBackend()
	}
}

func newKubeFromConfig(cfg *config.Config, logger *slog.Logger) Backend {
	return NewKubeBackend(logger, KubeOptions{
		Namespace:     cfg.Namespace,
		Image:         cfg.SessionImage,
		CPULimit:      cfg.CPULimit,
		MemoryLimit:   cfg.MemoryLimit,
		CreateTimeout: cfg.CreateTimeout,
	})
}

// inCluster checks the standard markers kubelet injects into every pod.
func inCluster() bool {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}
	if _, err := os.Stat(serviceAccountTokenPath); err == nil {
		return true
	}
	return false
}
