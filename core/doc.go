// Package core defines the shared contracts of runbridge: run records and
// lifecycle statuses, the closed event variant set emitted by a run executor,
// the Executor/RunStore/ResearchStore/Messenger interfaces and the decision
// and result types exchanged between the bridge, the reconciler and the
// front end.
//
// The package holds no behavior beyond small helpers; concrete
// implementations live in the pipeline, store and chat packages.
package core
