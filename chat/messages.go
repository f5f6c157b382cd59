package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/runbridge/core"
)

// ApprovalPromptText is the fallback text of the approval request message for
// surfaces that cannot render interactive elements.
const ApprovalPromptText = "📋 A research plan draft is ready. Please review and approve."

// TimeoutText is posted and written into the approval message when the
// approval window elapses without a decision.
const TimeoutText = "⏰ The approval deadline has passed; the research was cancelled automatically."

// DefaultCancellationText is posted when a rejection produced no custom
// cancellation report.
const DefaultCancellationText = "❌ The research was not carried out because the plan was sent back."

// Approval action identifiers routed back to the bridge by the front end.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Feedback action identifiers routed to the feedback handler.
const (
	ActionFeedbackPositive = "feedback_positive"
	ActionFeedbackNegative = "feedback_negative"
)

// FeedbackPromptText asks the requester to rate the delivered report.
const FeedbackPromptText = "💬 How was the research report?"

// StartMessage builds the parent message announcing a new run in a channel.
func StartMessage(channelID, query string) core.Message {
	return core.Message{
		ChannelID: channelID,
		Text:      fmt.Sprintf("🔍 Starting research: %q\nProgress will be shared in this message's thread.", query),
	}
}

// ApprovalRequestMessage builds the interactive approval request carrying the
// two mutually exclusive actions, each valued with the run id.
func ApprovalRequestMessage(channelID, threadRef, runID string) core.Message {
	return core.Message{
		ChannelID: channelID,
		ThreadRef: threadRef,
		Text:      ApprovalPromptText,
		Buttons: []core.Button{
			{ActionID: ActionApprove, Label: "✅ Approve and start research", Style: "primary", Value: runID},
			{ActionID: ActionReject, Label: "❌ Send back", Style: "danger", Value: runID},
		},
	}
}

// FeedbackPromptMessage builds the reaction request posted into the thread
// after a report was delivered, carrying the two feedback actions valued
// with the run id.
func FeedbackPromptMessage(channelID, threadRef, runID string) core.Message {
	return core.Message{
		ChannelID: channelID,
		ThreadRef: threadRef,
		Text:      FeedbackPromptText,
		Buttons: []core.Button{
			{ActionID: ActionFeedbackPositive, Label: "👍", Value: runID},
			{ActionID: ActionFeedbackNegative, Label: "👎", Value: runID},
		},
	}
}

// FeedbackThanksText renders the ephemeral acknowledgement of a recorded
// reaction.
func FeedbackThanksText(kind core.FeedbackKind) string {
	emoji := "👍"
	if kind == core.FeedbackNegative {
		emoji = "👎"
	}
	return fmt.Sprintf("%s Thanks for the feedback!", emoji)
}

// ApprovedStatusText renders the replacement text of the approval message
// after a human approved the plan.
func ApprovedStatusText(userID string, at time.Time) string {
	return fmt.Sprintf("✅ Approved by <@%s> (%s). Starting the full research...", userID, at.Format(time.RFC1123))
}

// RejectedStatusText renders the replacement text of the approval message
// after a human sent the plan back.
func RejectedStatusText(userID string, at time.Time) string {
	return fmt.Sprintf("❌ Sent back by <@%s> (%s). The research was cancelled.", userID, at.Format(time.RFC1123))
}

// PlanCompleteLine marks the end of plan streaming inside the session.
const PlanCompleteLine = "\n\n✅ The research plan draft is complete."

// ReportCompleteLine marks the end of report streaming inside the session.
const ReportCompleteLine = "\n\n✅ The report is complete."

// ProgressLine renders a gathering progress update as an appended status
// line. Message and details are both optional.
func ProgressLine(message, details string) string {
	details = strings.TrimSpace(details)
	switch {
	case message != "" && details != "":
		return fmt.Sprintf("\n\n🧭 Progress update\n\n• %s\n%s", message, details)
	case message != "":
		return fmt.Sprintf("\n\n🧭 Progress update\n\n• %s", message)
	case details != "":
		return fmt.Sprintf("\n\n🧭 Progress update\n%s", details)
	default:
		return "\n\n🧭 Progress update"
	}
}

// PhaseErrorLine renders a non-fatal phase failure as an appended warning
// line.
func PhaseErrorLine(phase core.Phase, message string) string {
	if message == "" {
		message = "no details available"
	}
	return fmt.Sprintf("\n\n⚠️ Error during %s phase: %s", phase, message)
}

// RunFailedText renders the terminal message of a failed run.
func RunFailedText(err error) string {
	if err == nil {
		return "❌ The research run failed: no details available"
	}
	return fmt.Sprintf("❌ The research run failed: %s", err.Error())
}

// UnexpectedStateText renders the terminal message of a run that ended in a
// non-success, non-suspended state.
func UnexpectedStateText(status core.ResultStatus) string {
	return fmt.Sprintf("⚠️ The research run ended in an unexpected state: %s", status)
}
