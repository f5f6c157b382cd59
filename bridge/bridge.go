package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/runbridge/chat"
	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/internal/util"
	"github.com/hupe1980/runbridge/logging"
)

// DefaultDeadlineWindow is how long a run waits for a human decision
// before the reconciler may cancel it.
const DefaultDeadlineWindow = 24 * time.Hour

// Store combines the two persistence surfaces the bridge writes to.
type Store interface {
	core.RunStore
	core.ResearchStore
}

// Options configures a Bridge.
type Options struct {
	// DeadlineWindow is added to the start time to produce the run's
	// approval deadline.
	DeadlineWindow time.Duration
	// Logger receives coordinator diagnostics.
	Logger logging.Logger
}

// Bridge coordinates a single executor against a chat surface and a store.
type Bridge struct {
	executor       core.Executor
	store          Store
	messenger      core.Messenger
	deadlineWindow time.Duration
	logger         logging.Logger
}

// New creates a Bridge with the given collaborators.
func New(executor core.Executor, store Store, messenger core.Messenger, optFns ...func(o *Options)) *Bridge {
	opts := Options{
		DeadlineWindow: DefaultDeadlineWindow,
		Logger:         logging.NewNoOpLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bridge{
		executor:       executor,
		store:          store,
		messenger:      messenger,
		deadlineWindow: opts.DeadlineWindow,
		logger:         opts.Logger,
	}
}

// Start creates a new run for the given request, posts the initial thread
// message, opens a stream session, and launches the executor. It returns
// the new run ID once consumption is underway; event handling continues in
// the background.
func (b *Bridge) Start(ctx context.Context, input core.StartInput) (string, error) {
	runID := util.NewID()
	now := time.Now()

	rec := core.RunRecord{
		RunID:       runID,
		ChannelID:   input.ChannelID,
		RequesterID: input.RequesterID,
		DeadlineAt:  now.Add(b.deadlineWindow).UnixMilli(),
		CreatedAt:   now.UnixMilli(),
		UpdatedAt:   now.UnixMilli(),
	}

	if err := b.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("create run record: %w", err)
	}

	if err := b.store.CreateResearch(ctx, runID, input.Query); err != nil {
		return "", fmt.Errorf("create research record: %w", err)
	}

	parentRef, err := b.messenger.PostMessage(ctx, chat.StartMessage(input.ChannelID, input.Query))
	if err != nil {
		return "", fmt.Errorf("post start message: %w", err)
	}

	rec.ParentRef = parentRef

	if err := b.store.UpdateMessageRef(ctx, runID, parentRef); err != nil {
		return "", fmt.Errorf("record message ref: %w", err)
	}

	session, err := b.openSession(ctx, rec)
	if err != nil {
		return "", err
	}

	events, results, err := b.executor.Start(ctx, runID, input)
	if err != nil {
		session.Close(ctx, "")
		return "", fmt.Errorf("start executor: %w", err)
	}

	go b.consumeDetached(ctx, rec, session, events, results)

	return runID, nil
}

// Resume forwards a decision to a suspended run. A run that is no longer
// suspended, or that the executor does not know, is treated as a benign
// race and reported as success. For approved decisions a fresh stream
// session is opened before resuming so the research phases have somewhere
// to write.
func (b *Bridge) Resume(ctx context.Context, runID string, decision core.Decision) error {
	rec, err := b.store.GetByRunID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	var session *chat.Session

	if decision.Approved {
		session, err = b.openSession(ctx, *rec)
		if err != nil {
			return err
		}
	}

	events, results, err := b.executor.Resume(ctx, runID, decision)
	if err != nil {
		session.Close(ctx, "")

		if core.IsNotResumable(err) {
			b.logger.Warn("resume ignored", "run_id", runID, "error", err)
			return nil
		}

		return fmt.Errorf("resume executor: %w", err)
	}

	go b.consumeDetached(ctx, *rec, session, events, results)

	return nil
}

// openSession starts a stream session in the run's thread and records its
// reference for later lookups.
func (b *Bridge) openSession(ctx context.Context, rec core.RunRecord) (*chat.Session, error) {
	session, err := chat.OpenSession(ctx, b.messenger, rec.ChannelID, rec.ApprovalMessageRef(), func(o *chat.SessionOptions) {
		o.Logger = b.logger
	})
	if err != nil {
		return nil, fmt.Errorf("open stream session: %w", err)
	}

	if err := b.store.UpdateThreadRef(ctx, rec.RunID, session.Ref()); err != nil {
		b.logger.Warn("record thread ref failed", "run_id", rec.RunID, "error", err)
	}

	return session, nil
}

// consumeDetached drains a run's event sequence on its own goroutine. The
// parent context's cancellation is stripped so an ended HTTP request or
// reconciler tick cannot abandon a run mid flight.
func (b *Bridge) consumeDetached(ctx context.Context, rec core.RunRecord, session *chat.Session, events <-chan core.Event, results <-chan core.Result) {
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while consuming events", "run_id", rec.RunID, "panic", r)
			b.failRun(ctx, rec, session, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := b.consume(ctx, rec, session, events, results); err != nil {
		b.logger.Error("event consumption failed", "run_id", rec.RunID, "error", err)
		b.failRun(ctx, rec, session, err)
	}
}

// consume processes every event of one executor pass, then finalizes the
// run according to its result.
func (b *Bridge) consume(ctx context.Context, rec core.RunRecord, session *chat.Session, events <-chan core.Event, results <-chan core.Result) error {
	var planDraft strings.Builder

	streamed := make(map[core.Phase]bool)
	lost := make(map[core.Phase]bool)

	for ev := range events {
		switch e := ev.(type) {
		case core.ChunkEvent:
			if e.Phase == core.PhasePlan {
				planDraft.WriteString(e.Text)
			}

			if err := session.Append(ctx, e.Text); err != nil {
				b.logger.Warn("append to stream failed", "run_id", rec.RunID, "error", err)
				lost[e.Phase] = true
			} else {
				streamed[e.Phase] = true
			}
		case core.CompleteEvent:
			b.handleComplete(ctx, rec, session, e, streamed, lost)
		case core.ProgressEvent:
			b.append(ctx, rec.RunID, session, chat.ProgressLine(e.Message, e.Details))
		case core.PhaseErrorEvent:
			b.logger.Warn("phase error reported", "run_id", rec.RunID, "phase", e.Phase, "message", e.Message)
			b.append(ctx, rec.RunID, session, chat.PhaseErrorLine(e.Phase, e.Message))
		case core.SuspendedEvent:
			// Plan text that never made it into the stream rides along as
			// the close-time flush, so a delivery hiccup cannot lose it.
			var fallback string
			if lost[core.PhasePlan] || !streamed[core.PhasePlan] {
				fallback = planDraft.String()
			}

			newRef, err := b.handleSuspended(ctx, rec, session, fallback)
			if err != nil {
				return err
			}

			rec.ApprovalRef = newRef
		}
	}

	res, ok := <-results
	if !ok {
		return fmt.Errorf("executor closed without a result")
	}

	return b.finalize(ctx, rec, session, res)
}

// handleComplete flushes unstreamed phase text, persists the phase output,
// and appends the phase boundary marker. A successful flush of the full text
// also clears the phase's loss marker since nothing is missing anymore.
func (b *Bridge) handleComplete(ctx context.Context, rec core.RunRecord, session *chat.Session, e core.CompleteEvent, streamed, lost map[core.Phase]bool) {
	if !streamed[e.Phase] && e.Text != "" {
		if err := session.Append(ctx, e.Text); err != nil {
			b.logger.Warn("append to stream failed", "run_id", rec.RunID, "error", err)
			lost[e.Phase] = true
		} else {
			streamed[e.Phase] = true
			delete(lost, e.Phase)
		}
	}

	var err error

	switch e.Phase {
	case core.PhasePlan:
		err = b.store.UpdatePlan(ctx, rec.RunID, e.Text)
	case core.PhaseReport:
		err = b.store.UpdateReport(ctx, rec.RunID, e.Text)
	}

	if err != nil {
		b.logger.Warn("persist phase output failed", "run_id", rec.RunID, "phase", e.Phase, "error", err)
	}

	switch e.Phase {
	case core.PhasePlan:
		b.append(ctx, rec.RunID, session, chat.PlanCompleteLine)
	case core.PhaseReport:
		b.append(ctx, rec.RunID, session, chat.ReportCompleteLine)
	}
}

// handleSuspended closes the planning session, flushing any plan text that
// never reached the stream, and posts the approval prompt exactly once per
// run. A duplicate suspension for a run that already carries an approval
// reference is ignored.
func (b *Bridge) handleSuspended(ctx context.Context, rec core.RunRecord, session *chat.Session, fallbackText string) (string, error) {
	fresh, err := b.store.GetByRunID(ctx, rec.RunID)
	if err != nil {
		b.logger.Warn("reload before approval prompt failed", "run_id", rec.RunID, "error", err)

		fresh = &rec
	}

	if fresh.ApprovalRef != "" {
		b.logger.Debug("duplicate suspension ignored, approval prompt already posted", "run_id", rec.RunID)
		return fresh.ApprovalRef, nil
	}

	session.Close(ctx, fallbackText)

	ref, err := b.messenger.PostMessage(ctx, chat.ApprovalRequestMessage(rec.ChannelID, rec.ParentRef, rec.RunID))
	if err != nil {
		b.logger.Error("approval prompt could not be posted, run stays suspended and needs manual recovery", "run_id", rec.RunID, "error", err)
		return "", nil
	}

	if err := b.store.UpdateApprovalRef(ctx, rec.RunID, ref); err != nil {
		b.logger.Warn("record approval ref failed", "run_id", rec.RunID, "ref", ref, "error", err)
	}

	return ref, nil
}

// finalize closes the session and posts the run's closing message.
func (b *Bridge) finalize(ctx context.Context, rec core.RunRecord, session *chat.Session, res core.Result) error {
	switch res.Status {
	case core.ResultSuspended:
		// The approval prompt is already up; the run sleeps until a
		// decision arrives.
		b.logger.Info("run suspended awaiting approval", "run_id", rec.RunID)
		return nil
	case core.ResultSuccess:
		session.Close(ctx, "")

		if !res.Approved {
			// The reconciler already posted the timeout notice into the
			// thread; a second closing message would read as a human
			// rejection.
			if res.Reason == core.ReasonTimeout {
				b.logger.Info("run cancelled after deadline", "run_id", rec.RunID)
				return nil
			}

			text := strings.TrimSpace(res.Report)
			if text == "" {
				text = chat.DefaultCancellationText
			}

			ref, err := b.messenger.PostMessage(ctx, core.Message{
				ChannelID: rec.ChannelID,
				ThreadRef: rec.ParentRef,
				Text:      text,
			})
			if err != nil {
				return fmt.Errorf("post cancellation notice: %w", err)
			}

			if err := b.store.UpdateThreadRef(ctx, rec.RunID, ref); err != nil {
				b.logger.Warn("record thread ref failed", "run_id", rec.RunID, "error", err)
			}

			b.logger.Info("run ended without approval", "run_id", rec.RunID)

			return nil
		}

		if _, err := b.messenger.PostMessage(ctx, chat.FeedbackPromptMessage(rec.ChannelID, rec.ParentRef, rec.RunID)); err != nil {
			b.logger.Warn("post feedback prompt failed", "run_id", rec.RunID, "error", err)
		}

		b.logger.Info("run completed", "run_id", rec.RunID)

		return nil
	case core.ResultFailed:
		session.Close(ctx, "")

		if _, err := b.messenger.PostMessage(ctx, core.Message{
			ChannelID: rec.ChannelID,
			ThreadRef: rec.ParentRef,
			Text:      chat.RunFailedText(res.Err),
		}); err != nil {
			return fmt.Errorf("post failure notice: %w", err)
		}

		b.logger.Warn("run failed", "run_id", rec.RunID, "error", res.Err)

		return nil
	default:
		session.Close(ctx, "")

		if _, err := b.messenger.PostMessage(ctx, core.Message{
			ChannelID: rec.ChannelID,
			ThreadRef: rec.ParentRef,
			Text:      chat.UnexpectedStateText(res.Status),
		}); err != nil {
			return fmt.Errorf("post unexpected state notice: %w", err)
		}

		b.logger.Warn("run finished in unexpected state", "run_id", rec.RunID, "status", res.Status)

		return nil
	}
}

// failRun reports a consumption failure into the run's thread. Best effort:
// the session is force closed and the error posted as a plain message.
func (b *Bridge) failRun(ctx context.Context, rec core.RunRecord, session *chat.Session, cause error) {
	session.Close(ctx, "")

	if _, err := b.messenger.PostMessage(ctx, core.Message{
		ChannelID: rec.ChannelID,
		ThreadRef: rec.ParentRef,
		Text:      chat.RunFailedText(cause),
	}); err != nil {
		b.logger.Error("post failure notice failed", "run_id", rec.RunID, "error", err)
	}
}

func (b *Bridge) append(ctx context.Context, runID string, session *chat.Session, text string) {
	if err := session.Append(ctx, text); err != nil {
		b.logger.Warn("append to stream failed", "run_id", runID, "error", err)
	}
}
