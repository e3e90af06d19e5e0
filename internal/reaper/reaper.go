// Package reaper implements the scheduler-tick-adjacent sweep that reclaims
// stale STARTED task records whose worker is presumed lost (spec §4.6,
// §8 scenario S6: "a worker crashes mid-task").
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayq/relayq/internal/data"
	"github.com/relayq/relayq/internal/domain/model"
	"github.com/relayq/relayq/internal/observability/metrics"
	"github.com/relayq/relayq/internal/store"
)

// Reaper periodically scans the Store for STARTED records past
// time_start+timeout and transitions them to REVOKED/WorkerLost.
type Reaper struct {
	store    store.Store
	clock    data.TimeProvider
	log      *slog.Logger
	recorder metrics.Recorder
}

// New constructs a Reaper. clock may be nil (defaults to real time).
func New(st store.Store, clock data.TimeProvider) *Reaper {
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	return &Reaper{store: st, clock: clock, log: slog.Default().With("component", "reaper"), recorder: metrics.NoopRecorder{}}
}

// WithRecorder sets the metrics.Recorder revocations are reported to.
func (r *Reaper) WithRecorder(rec metrics.Recorder) *Reaper {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Sweep runs one pass, revoking every STARTED task whose time_start plus
// timeout has elapsed. It returns the number of tasks revoked.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	started, err := r.store.Filter(ctx, store.Filter{Status: model.StatusStarted})
	if err != nil {
		return 0, fmt.Errorf("reaper: filter started tasks: %w", err)
	}

	now := r.clock.Now()
	revoked := 0
	for _, task := range started {
		if task.TimeStart == nil {
			continue
		}
		deadline := task.TimeStart.Add(task.Timeout)
		if now.Before(deadline) {
			continue
		}

		reason := model.RevokeReasonWorkerLost
		if _, err := r.store.Update(ctx, task.ID, store.Patch{Status: model.StatusRevoked, RevokeReason: &reason}); err != nil {
			r.log.Warn("revoke stale task failed", "task_id", task.ID, "error", err)
			continue
		}
		r.recorder.ReaperRevoked(string(reason))
		revoked++
	}
	return revoked, nil
}

// Run invokes Sweep on interval until ctx is cancelled, logging sweep
// errors rather than exiting (a single bad pass must not stop the reaper).
func (r *Reaper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error("sweep failed", "error", err)
			}
		}
	}
}
