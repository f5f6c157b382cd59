// Package bridge implements the run coordinator: it creates runs, consumes
// the executor's ordered event sequence and translates it into incremental
// chat output through stream sessions, posts the approval gate, and
// finalizes runs on their terminal result.
//
// Start returns as soon as the initial messages are issued; event
// consumption continues on an independent per-run goroutine detached from
// the caller's cancellation. Resume forwards one approval decision to the
// executor and treats a non-suspended target as a benign race (logged, not
// an error), so human actions and the deadline reconciler can both fire
// without coordination beyond the persisted state.
package bridge
