package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gamgui/internal/api"
	"gamgui/internal/backend"
	"gamgui/internal/command"
	"gamgui/internal/config"
	"gamgui/internal/gamerr"
	"gamgui/internal/gateway"
	"gamgui/internal/notify"
	"gamgui/internal/secrets"
	"gamgui/internal/session"
	"gamgui/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gamgui server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := telemetry.InitLogger(cfg.Debug, cfg.LogFile)
	metrics := telemetry.NewMetrics()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var secretStore secrets.Store
	if cfg.TestMode {
		secretStore = seededMemStore(cfg)
	} else {
		fileStore, err := secrets.NewFileStore(cfg.CredentialDir)
		if err != nil {
			return fmt.Errorf("failed to open credential store: %w", err)
		}
		secretStore = fileStore
	}

	be := backend.Select(cfg, logger)
	if err := openBackend(ctx, be, logger); err != nil {
		return err
	}

	repo, err := session.NewRepository(cfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer repo.Close()

	var notifier session.Notifier
	if n := notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, logger); n != nil {
		notifier = n
	}

	sessions := session.NewService(session.ServiceOptions{
		Repo:          repo,
		Backend:       be,
		Secrets:       secretStore,
		Logger:        logger,
		Metrics:       metrics,
		Notify:        notifier,
		CreateTimeout: cfg.CreateTimeout,
	})
	commands := command.NewService(sessions, logger, metrics, cfg.CommandTimeout)
	gw := gateway.New(sessions, logger, metrics, cfg.GatewayBuffer)

	reaper := session.NewReaper(sessions, cfg.IdleTTL, cfg.ReapInterval, logger, metrics)
	go reaper.Run(ctx)

	stopCollector := make(chan struct{})
	defer close(stopCollector)
	metrics.StartCollector(15*time.Second, stopCollector)
	go func() {
		if err := metrics.Serve(cfg.MetricsPort); err != nil {
			logger.Error("Metrics listener failed", "error", err)
		}
	}()

	srv := api.NewServer(cfg, sessions, commands, gw, secretStore, logger, metrics)
	logger.Info("Starting gamgui server", "backend", be.Kind(), "store", cfg.Store, "test_mode", cfg.TestMode)
	return srv.Start(ctx)
}

// openBackend retries transient substrate failures with a short backoff so
// the server can come up while its control plane is still settling.
func openBackend(ctx context.Context, be backend.Backend, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		err = be.Open(ctx)
		if err == nil {
			return nil
		}
		if !gamerr.Retryable(err) {
			return err
		}
		logger.Warn("Backend open failed; retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}
	return err
}

// seededMemStore gives test mode a working credential bundle per configured
// owner so session creation succeeds out of the box.
func seededMemStore(cfg *config.Config) *secrets.MemStore {
	store := secrets.NewMemStore()
	for _, owner := range cfg.APITokens {
		_ = store.Put(context.Background(), owner, secrets.NameOAuthToken, []byte("test-oauth-token"))
	}
	return store
}
