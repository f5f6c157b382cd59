package core

// Phase identifies the content-producing phase an event belongs to.
type Phase string

const (
	// PhasePlan is the plan drafting phase preceding the approval gate.
	PhasePlan Phase = "plan"
	// PhaseReport is the report composition phase after gathering.
	PhaseReport Phase = "report"
)

// Event represents one item of a run executor's ordered event sequence.
// Concrete event types implement the unexported isEvent marker enabling a
// closed set, so consumers get exhaustive handling via type switches.
type Event interface{ isEvent() }

// ChunkEvent carries a verbatim content fragment of the plan or report.
// Fragments must be applied strictly in emission order.
type ChunkEvent struct {
	Phase Phase
	Text  string
}

// isEvent implements the Event interface for ChunkEvent.
func (ChunkEvent) isEvent() {}

// CompleteEvent marks a content phase as finished and carries the full
// accumulated text, allowing consumers to flush it once as a fallback when
// no chunks were streamed for the phase.
type CompleteEvent struct {
	Phase Phase
	Text  string
}

// isEvent implements the Event interface for CompleteEvent.
func (CompleteEvent) isEvent() {}

// ProgressEvent is a free-form status update emitted during gathering.
// Rendering is best-effort and must never block the pipeline.
type ProgressEvent struct {
	Message string
	Details string
}

// isEvent implements the Event interface for ProgressEvent.
func (ProgressEvent) isEvent() {}

// PhaseErrorEvent reports a non-fatal failure inside a phase. It does not by
// itself terminate the run; termination is driven solely by the terminal
// Result.
type PhaseErrorEvent struct {
	Phase   Phase
	Message string
}

// isEvent implements the Event interface for PhaseErrorEvent.
func (PhaseErrorEvent) isEvent() {}

// SuspendedEvent signals that the approval gate paused the run. StepID names
// the suspended step for diagnostics.
type SuspendedEvent struct {
	StepID string
}

// isEvent implements the Event interface for SuspendedEvent.
func (SuspendedEvent) isEvent() {}

// ResultStatus is the terminal (or suspension) status of one Start/Resume
// event sequence.
type ResultStatus string

const (
	// ResultSuccess indicates the sequence ran to completion. Approved
	// distinguishes delivered reports from post-rejection cancellations.
	ResultSuccess ResultStatus = "success"
	// ResultSuspended indicates the sequence paused on the approval gate;
	// the run continues via Resume.
	ResultSuspended ResultStatus = "suspended"
	// ResultFailed indicates the executor failed; Err carries the reason.
	ResultFailed ResultStatus = "failed"
	// ResultRunning indicates the sequence is still in flight. Consumers
	// never observe it from a drained result channel; it exists for
	// compatibility with executors that snapshot intermediate state.
	ResultRunning ResultStatus = "running"
	// ResultCanceled indicates the sequence was cancelled out-of-band.
	ResultCanceled ResultStatus = "canceled"
)

// Result is the single terminal outcome of one Start/Resume call. Exactly one
// Result is delivered on the result channel before it closes. Reason carries
// the decision reason of unapproved outcomes (ReasonTimeout for runs the
// reconciler cancelled).
type Result struct {
	Status   ResultStatus
	Approved bool
	Report   string
	Reason   string
	Err      error
}
