// Package pipeline implements core.Executor as an in-process state machine
// of step states (planning, awaiting approval, gathering, delivering,
// terminal) indexed by run id.
//
// Start drives the planning phase and suspends on the approval gate; Resume
// delivers exactly one decision to a suspended run and drives gathering and
// report delivery (or a cancellation outcome). Each Start/Resume call returns
// an ordered event channel plus a single-result channel, both closed when the
// segment ends. Resuming a run that is not awaiting approval returns
// core.ErrNotSuspended without side effects, which makes races between human
// decisions and the deadline reconciler safe.
//
// The plan, gather and report step logic is pluggable via the Planner,
// Gatherer and Reporter interfaces; model- and search-backed defaults live in
// steps.go.
package pipeline
