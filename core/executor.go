package core

import (
	"context"
	"errors"
)

// ErrNotSuspended is returned by Executor.Resume when the targeted run is not
// currently awaiting approval. Callers treat it as a benign race between a
// human action and the deadline reconciler, not a failure.
var ErrNotSuspended = errors.New("run is not suspended")

// ErrUnknownRun is returned by Executor.Resume for run ids the executor has
// no state for.
var ErrUnknownRun = errors.New("unknown run")

// IsNotResumable reports whether a Resume error means the run simply could
// not accept the decision, as opposed to a real failure.
func IsNotResumable(err error) bool {
	return errors.Is(err, ErrNotSuspended) || errors.Is(err, ErrUnknownRun)
}

// Executor runs the research pipeline for individual runs. It is the opaque
// producer of the typed event sequence the bridge consumes; plan, gather and
// report step logic live behind it.
//
// Semantics & guarantees:
//   - Event ordering: events within one Start/Resume sequence are delivered
//     in emission order. The events channel is closed when the sequence ends
//     (suspension, success, failure, cancellation).
//   - Result channel: buffered size 1; carries exactly one terminal Result
//     then closes.
//   - Resume: only valid while the run is awaiting approval. Resuming a run
//     in any other state returns ErrNotSuspended without side effects, so
//     only the first decision to arrive is honored.
type Executor interface {
	// Start begins a new run identified by runID and returns its ordered
	// event sequence plus the terminal result channel. The immediate error
	// return covers startup failures only.
	Start(ctx context.Context, runID string, input StartInput) (<-chan Event, <-chan Result, error)

	// Resume delivers an approval decision to a suspended run and returns
	// the continuation's event sequence and terminal result channel.
	Resume(ctx context.Context, runID string, decision Decision) (<-chan Event, <-chan Result, error)
}
