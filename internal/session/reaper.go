package session

import (
	"context"
	"log/slog"
	"time"

	"gamgui/internal/telemetry"
)

// Reaper deletes sessions whose last activity is older than the idle TTL.
//
// TTL semantics: zero reaps every Active session on the next sweep;
// negative disables reaping entirely.
type Reaper struct {
	svc      *Service
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger
	metrics  *telemetry.Metrics
}

func NewReaper(svc *Service, ttl, interval time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		svc:      svc,
		ttl:      ttl,
		interval: interval,
		log:      logger.With("component", "reaper"),
		metrics:  metrics,
	}
}

// Run sweeps until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.ttl < 0 {
		r.log.Info("Idle reaping disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reaping pass and returns how many sessions it deleted.
func (r *Reaper) Sweep(ctx context.Context) int {
	if r.metrics != nil {
		r.metrics.ReaperSweeps.Inc()
	}

	sessions, err := r.svc.repo.List(ctx)
	if err != nil {
		r.log.Error("Reaper list failed", "error", err)
		return 0
	}

	cutoff := time.Now().UTC().Add(-r.ttl)
	deleted := 0
	for _, s := range sessions {
		if s.Status != StatusActive || s.LastActiveAt.After(cutoff) {
			continue
		}
		// Owner check is skipped: the reaper acts on every owner's sessions.
		if err := r.svc.Delete(ctx, "", s.ID, "reaper"); err != nil {
			r.log.Warn("Reaper failed to delete session", "session", s.ID, "error", err)
			continue
		}
		deleted++
		if r.metrics != nil {
			r.metrics.ReaperDeleted.Inc()
		}
		r.log.Info("Reaped idle session", "session", s.ID, "owner", s.OwnerID,
			"idle_since", s.LastActiveAt)
	}
	return deleted
}
