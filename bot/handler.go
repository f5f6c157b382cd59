package bot

import (
	"context"
	"strings"
	"time"

	"github.com/hupe1980/runbridge/chat"
	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/logging"
)

const usageText = "Usage: /research <question to investigate>"

// Coordinator is the part of the bridge the handler drives.
type Coordinator interface {
	Start(ctx context.Context, input core.StartInput) (string, error)
	Resume(ctx context.Context, runID string, decision core.Decision) error
}

// Store combines the persistence surfaces the handler reads and writes.
type Store interface {
	core.RunStore
	core.FeedbackStore
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Logger receives handler diagnostics.
	Logger logging.Logger
	// Clock returns the current time. Overridable for tests.
	Clock func() time.Time
}

// Handler turns chat commands and button actions into run operations.
type Handler struct {
	coordinator Coordinator
	store       Store
	messenger   core.Messenger
	logger      logging.Logger
	clock       func() time.Time
}

// NewHandler creates a Handler over the given coordinator and chat surface.
func NewHandler(coordinator Coordinator, store Store, messenger core.Messenger, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{
		Logger: logging.NewNoOpLogger(),
		Clock:  time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Handler{
		coordinator: coordinator,
		store:       store,
		messenger:   messenger,
		logger:      opts.Logger,
		clock:       opts.Clock,
	}
}

// HandleResearchCommand starts a new run for a slash command. An empty
// query gets an ephemeral usage hint instead of a run.
func (h *Handler) HandleResearchCommand(ctx context.Context, channelID, userID, text string) {
	query := strings.TrimSpace(text)
	if query == "" {
		h.ephemeral(ctx, channelID, userID, usageText)
		return
	}

	runID, err := h.coordinator.Start(ctx, core.StartInput{
		Query:       query,
		ChannelID:   channelID,
		RequesterID: userID,
	})
	if err != nil {
		h.logger.Error("start run failed", "query", query, "error", err)
		h.ephemeral(ctx, channelID, userID, "❌ The research could not be started: "+err.Error())

		return
	}

	h.logger.Info("run started", "run_id", runID, "user_id", userID)
}

// HandleApprove records an approval: the approval message is rewritten so
// the buttons disappear, then the decision is forwarded to the run.
func (h *Handler) HandleApprove(ctx context.Context, runID, channelID, userID string) {
	h.decide(ctx, runID, channelID, userID, core.Decision{
		Approved: true,
		Approver: userID,
	})
}

// HandleReject records a rejection and cancels the run.
func (h *Handler) HandleReject(ctx context.Context, runID, channelID, userID string) {
	h.decide(ctx, runID, channelID, userID, core.Decision{
		Approved: false,
		Approver: userID,
		Reason:   "rejected",
	})
}

func (h *Handler) decide(ctx context.Context, runID, channelID, userID string, decision core.Decision) {
	rec, err := h.store.GetByRunID(ctx, runID)
	if err != nil {
		h.logger.Error("load run for decision failed", "run_id", runID, "error", err)
		h.ephemeral(ctx, channelID, userID, "❌ This research run could not be found anymore.")

		return
	}

	text := chat.RejectedStatusText(userID, h.clock())
	if decision.Approved {
		text = chat.ApprovedStatusText(userID, h.clock())
	}

	if err := h.messenger.UpdateMessage(ctx, rec.ChannelID, rec.ApprovalMessageRef(), core.Message{
		ChannelID: rec.ChannelID,
		Text:      text,
	}); err != nil {
		h.logger.Warn("rewrite approval message failed", "run_id", runID, "error", err)
	}

	if err := h.coordinator.Resume(ctx, runID, decision); err != nil {
		h.logger.Error("forward decision failed", "run_id", runID, "error", err)
		h.ephemeral(ctx, channelID, userID, "❌ The decision could not be applied: "+err.Error())
	}
}

// HandleFeedback records a reader's reaction to a delivered report and
// confirms it with an ephemeral acknowledgement.
func (h *Handler) HandleFeedback(ctx context.Context, runID, channelID, userID, messageRef string, kind core.FeedbackKind) {
	err := h.store.CreateFeedback(ctx, core.Feedback{
		RunID:      runID,
		Kind:       kind,
		UserID:     userID,
		MessageRef: messageRef,
	})
	if err != nil {
		h.logger.Error("save feedback failed", "run_id", runID, "kind", kind, "error", err)
		h.ephemeral(ctx, channelID, userID, "❌ The feedback could not be saved: "+err.Error())

		return
	}

	h.logger.Info("feedback recorded", "run_id", runID, "kind", kind, "user_id", userID)
	h.ephemeral(ctx, channelID, userID, chat.FeedbackThanksText(kind))
}

func (h *Handler) ephemeral(ctx context.Context, channelID, userID, text string) {
	if err := h.messenger.PostEphemeral(ctx, channelID, userID, text); err != nil {
		h.logger.Warn("post ephemeral failed", "user_id", userID, "error", err)
	}
}
