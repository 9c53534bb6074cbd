package faucet

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler periodically re-polls requests stuck in Submitted. It is the
// recovery path for transactions whose confirmation outlived the synchronous
// wait or whose process crashed between submission and confirmation.
type Reconciler struct {
	ledger  *Ledger
	orch    *Orchestrator
	logger  *slog.Logger
	metrics *Metrics

	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// ReconcilerConfig tunes the sweep cadence.
type ReconcilerConfig struct {
	// Interval is the pause between sweeps.
	Interval time.Duration
	// StaleAfter is how long a request may sit in Submitted before a
	// sweep re-polls it.
	StaleAfter time.Duration
}

// NewReconciler builds a reconciler over the ledger and orchestrator.
func NewReconciler(ledger *Ledger, orch *Orchestrator, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	rec := &Reconciler{
		ledger:     ledger,
		orch:       orch,
		logger:     logger,
		metrics:    NewMetrics(),
		interval:   time.Minute,
		staleAfter: 2 * time.Minute,
		now:        time.Now,
	}
	if logger == nil {
		rec.logger = slog.Default()
	}
	if cfg.Interval > 0 {
		rec.interval = cfg.Interval
	}
	if cfg.StaleAfter > 0 {
		rec.staleAfter = cfg.StaleAfter
	}
	return rec
}

// Run sweeps on a ticker until the context is cancelled. Sweep errors are
// logged, not fatal; the next tick tries again.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("reconciler sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep re-polls every stale Submitted request once and returns how many
// reached a terminal state.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.ledger.SubmittedBefore(ctx, r.now().Add(-r.staleAfter))
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, req := range stale {
		updated, err := r.orch.Settle(ctx, req)
		if err != nil {
			r.metrics.RecordReconciled("error")
			r.logger.Warn("reconcile request failed",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()))
			continue
		}
		switch updated.Status {
		case StatusConfirmed:
			r.metrics.RecordReconciled("confirmed")
			settled++
		case StatusFailed:
			r.metrics.RecordReconciled("failed")
			settled++
		default:
			r.metrics.RecordReconciled("pending")
		}
	}
	return settled, nil
}
