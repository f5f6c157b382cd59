package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/runbridge/chat"
	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/logging"
)

// DefaultInterval is how often the reconciler sweeps for expired runs.
const DefaultInterval = 15 * time.Minute

// Resumer delivers a decision to a run. Satisfied by bridge.Bridge.
type Resumer interface {
	Resume(ctx context.Context, runID string, decision core.Decision) error
}

// Options configures a Reconciler.
type Options struct {
	// Interval between sweeps when running via Start.
	Interval time.Duration
	// Logger receives sweep diagnostics.
	Logger logging.Logger
	// Clock returns the current time. Overridable for tests.
	Clock func() time.Time
}

// Reconciler cancels runs whose approval deadline has expired.
type Reconciler struct {
	store     core.RunStore
	messenger core.Messenger
	resumer   Resumer
	interval  time.Duration
	logger    logging.Logger
	clock     func() time.Time
}

// New creates a Reconciler over the given store, chat surface and resumer.
func New(store core.RunStore, messenger core.Messenger, resumer Resumer, optFns ...func(o *Options)) *Reconciler {
	opts := Options{
		Interval: DefaultInterval,
		Logger:   logging.NewNoOpLogger(),
		Clock:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Reconciler{
		store:     store,
		messenger: messenger,
		resumer:   resumer,
		interval:  opts.Interval,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}
}

// Start sweeps immediately and then on every interval tick until the
// context is canceled. It blocks; run it on its own goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("deadline reconciler started", "interval", r.interval)

	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("deadline sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("deadline reconciler stopped")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("deadline sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep: it loads every expired, not yet
// notified run and cancels each one independently. A failure on one run
// never blocks the others; the error return covers only the initial query.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	now := r.clock().UnixMilli()

	expired, err := r.store.GetUnnotifiedExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired runs: %w", err)
	}

	if len(expired) == 0 {
		return nil
	}

	r.logger.Info("deadline sweep found expired runs", "count", len(expired))

	for _, rec := range expired {
		if err := r.cancelRun(ctx, rec, now); err != nil {
			r.logger.Error("cancel expired run failed", "run_id", rec.RunID, "error", err)
		}
	}

	return nil
}

// cancelRun fences the run with the notified marker, posts a timeout notice
// into the run's thread, rewrites the approval message so the buttons
// disappear, and resumes the run with the synthetic timeout decision. The
// marker is written first: once set the run can never be notified twice,
// even if a later step fails. The chat steps are best effort.
func (r *Reconciler) cancelRun(ctx context.Context, rec core.RunRecord, now int64) error {
	if err := r.store.MarkTimeoutNotified(ctx, rec.RunID, now); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}

	if _, err := r.messenger.PostMessage(ctx, core.Message{
		ChannelID: rec.ChannelID,
		ThreadRef: rec.ParentRef,
		Text:      chat.TimeoutText,
	}); err != nil {
		r.logger.Warn("post timeout notice failed", "run_id", rec.RunID, "error", err)
	}

	if err := r.messenger.UpdateMessage(ctx, rec.ChannelID, rec.ApprovalMessageRef(), core.Message{
		ChannelID: rec.ChannelID,
		Text:      chat.TimeoutText,
	}); err != nil {
		r.logger.Warn("rewrite approval message failed", "run_id", rec.RunID, "error", err)
	}

	if err := r.resumer.Resume(ctx, rec.RunID, core.SystemTimeoutDecision()); err != nil {
		return fmt.Errorf("resume with timeout decision: %w", err)
	}

	r.logger.Info("run canceled after deadline", "run_id", rec.RunID)

	return nil
}
