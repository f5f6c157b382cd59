package core

import "time"

// RunStatus describes the lifecycle position of one run. Transitions are
// monotonic except the awaiting-approval branch point which resolves to
// exactly one of gathering, rejected or timed out.
type RunStatus string

const (
	// StatusPlanning marks the initial plan drafting phase.
	StatusPlanning RunStatus = "planning"
	// StatusAwaitingApproval marks a run suspended on a human gate.
	StatusAwaitingApproval RunStatus = "awaiting_approval"
	// StatusGathering marks the data gathering phase after approval.
	StatusGathering RunStatus = "gathering"
	// StatusDelivering marks report composition and delivery.
	StatusDelivering RunStatus = "delivering"
	// StatusSucceeded is the terminal state of an approved, completed run.
	StatusSucceeded RunStatus = "succeeded"
	// StatusRejected is the terminal state of a human-rejected run.
	StatusRejected RunStatus = "rejected"
	// StatusFailed is the terminal state of a run whose executor failed.
	StatusFailed RunStatus = "failed"
	// StatusTimedOut is the terminal state of a run force-rejected by the
	// deadline reconciler.
	StatusTimedOut RunStatus = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusRejected, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// RunRecord is the persisted chat metadata of one run. Message references
// point into the messaging platform's namespace; each is set at most once by
// the step that creates the corresponding external message. ApprovalRef
// defaults to ParentRef when it was never separately created (see
// ApprovalMessageRef). Timestamps are epoch milliseconds.
type RunRecord struct {
	RunID             string
	ChannelID         string
	ParentRef         string
	ThreadRef         string
	ApprovalRef       string
	RequesterID       string
	DeadlineAt        int64
	TimeoutNotifiedAt *int64
	CreatedAt         int64
	UpdatedAt         int64
}

// ApprovalMessageRef returns the reference of the approval request message,
// falling back to the parent message when none was recorded.
func (r *RunRecord) ApprovalMessageRef() string {
	if r.ApprovalRef != "" {
		return r.ApprovalRef
	}
	return r.ParentRef
}

// Expired reports whether the approval deadline lies before now.
func (r *RunRecord) Expired(now time.Time) bool {
	return r.DeadlineAt < now.UnixMilli()
}

// Research holds the user query and the generated plan/report text of a run.
// Persisted separately from the chat metadata record.
type Research struct {
	RunID     string
	Query     string
	Plan      string
	Report    string
	CreatedAt int64
	UpdatedAt int64
}

// StartInput carries the immutable creation parameters of a run.
type StartInput struct {
	Query       string
	ChannelID   string
	RequesterID string
}

// Decision resolves a suspended approval gate. Approver is a user identifier
// or "system" for reconciler-forced rejections; Reason is optional free text
// (ReasonTimeout for forced rejections).
type Decision struct {
	Approved bool
	Approver string
	Reason   string
}

// ReasonTimeout is the decision reason the deadline reconciler attaches to
// forced rejections. Consumers distinguish timed-out runs from human
// rejections by it.
const ReasonTimeout = "timeout"

// SystemTimeoutDecision returns the synthetic rejection issued by the
// deadline reconciler for runs whose approval window elapsed.
func SystemTimeoutDecision() Decision {
	return Decision{Approved: false, Approver: "system", Reason: ReasonTimeout}
}

// FeedbackKind classifies a reader's reaction to a delivered report.
type FeedbackKind string

const (
	// FeedbackPositive is a thumbs-up reaction.
	FeedbackPositive FeedbackKind = "positive"
	// FeedbackNegative is a thumbs-down reaction.
	FeedbackNegative FeedbackKind = "negative"
)

// Feedback is one recorded reaction to a run's report. MessageRef points at
// the chat message the reaction was given on, when the platform supplies it.
type Feedback struct {
	ID         int64
	RunID      string
	Kind       FeedbackKind
	UserID     string
	MessageRef string
	CreatedAt  int64
}

// NowMillis returns the current wall clock as epoch milliseconds, the unit
// used by persisted deadline and audit timestamps.
func NowMillis() int64 { return time.Now().UnixMilli() }
