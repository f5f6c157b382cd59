package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/logging"
)

// ApprovalStepID names the suspended step in emitted SuspendedEvents.
const ApprovalStepID = "research.approval-step"

// Options holds dependency + configuration overrides passed to New.
type Options struct {
	// EventBufferSize sets channel buffering for emitted events.
	EventBufferSize int
	// Logger receives phase transition diagnostics.
	Logger logging.Logger
}

type runState struct {
	input  core.StartInput
	status core.RunStatus
	plan   string
}

// Pipeline coordinates research run execution. Public methods are safe for
// concurrent use; each run's state is guarded by the pipeline mutex and
// mutated only at segment boundaries.
type Pipeline struct {
	planner  Planner
	gatherer Gatherer
	reporter Reporter

	eventBufferSize int
	logger          logging.Logger

	mu   sync.RWMutex
	runs map[string]*runState
}

var _ core.Executor = (*Pipeline)(nil)

// New constructs a Pipeline with optional overrides.
func New(planner Planner, gatherer Gatherer, reporter Reporter, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pipeline{
		planner:         planner,
		gatherer:        gatherer,
		reporter:        reporter,
		eventBufferSize: opts.EventBufferSize,
		logger:          opts.Logger,
		runs:            make(map[string]*runState),
	}
}

// Status returns the current lifecycle status of a run.
func (p *Pipeline) Status(runID string) (core.RunStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.runs[runID]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Start implements core.Executor. It registers the run, drives the planning
// phase asynchronously and suspends on the approval gate.
func (p *Pipeline) Start(ctx context.Context, runID string, input core.StartInput) (<-chan core.Event, <-chan core.Result, error) {
	p.mu.Lock()
	if _, exists := p.runs[runID]; exists {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("run %s already started", runID)
	}
	st := &runState{input: input, status: core.StatusPlanning}
	p.runs[runID] = st
	p.mu.Unlock()

	events := make(chan core.Event, p.eventBufferSize)
	results := make(chan core.Result, 1)

	go func() {
		defer close(events)
		defer close(results)
		p.runPlanning(ctx, runID, st, events, results)
	}()

	return events, results, nil
}

// Resume implements core.Executor. Only the first decision delivered while
// the run awaits approval is honored; any later resume attempt observes a
// non-suspended status and returns core.ErrNotSuspended.
func (p *Pipeline) Resume(ctx context.Context, runID string, decision core.Decision) (<-chan core.Event, <-chan core.Result, error) {
	p.mu.Lock()
	st, ok := p.runs[runID]
	if !ok {
		p.mu.Unlock()
		return nil, nil, core.ErrUnknownRun
	}
	if st.status != core.StatusAwaitingApproval {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("run %s in status %s: %w", runID, st.status, core.ErrNotSuspended)
	}
	if decision.Approved {
		st.status = core.StatusGathering
	} else if decision.Reason == core.ReasonTimeout {
		st.status = core.StatusTimedOut
	} else {
		st.status = core.StatusRejected
	}
	p.mu.Unlock()

	p.logger.Info("run resumed", "run_id", runID, "approved", decision.Approved, "approver", decision.Approver)

	events := make(chan core.Event, p.eventBufferSize)
	results := make(chan core.Result, 1)

	go func() {
		defer close(events)
		defer close(results)
		if !decision.Approved {
			results <- core.Result{Status: core.ResultSuccess, Approved: false, Reason: decision.Reason}
			return
		}
		p.runResearch(ctx, runID, st, events, results)
	}()

	return events, results, nil
}

func (p *Pipeline) runPlanning(ctx context.Context, runID string, st *runState, events chan<- core.Event, results chan<- core.Result) {
	plan, err := p.planner.Plan(ctx, st.input.Query, func(chunk string) {
		emit(ctx, events, core.ChunkEvent{Phase: core.PhasePlan, Text: chunk})
	})
	if err != nil {
		p.setStatus(st, core.StatusFailed)
		results <- core.Result{Status: core.ResultFailed, Err: fmt.Errorf("plan step: %w", err)}
		return
	}

	emit(ctx, events, core.CompleteEvent{Phase: core.PhasePlan, Text: plan})

	p.mu.Lock()
	st.plan = plan
	st.status = core.StatusAwaitingApproval
	p.mu.Unlock()

	emit(ctx, events, core.SuspendedEvent{StepID: ApprovalStepID})
	results <- core.Result{Status: core.ResultSuspended}
}

func (p *Pipeline) runResearch(ctx context.Context, runID string, st *runState, events chan<- core.Event, results chan<- core.Result) {
	findings, err := p.gatherer.Gather(ctx, st.input.Query, st.plan, func(message, details string) {
		emit(ctx, events, core.ProgressEvent{Message: message, Details: details})
	})
	if err != nil {
		// Gathering failures are non-fatal: the report step still runs with
		// whatever was collected.
		p.logger.Warn("gather step failed", "run_id", runID, "error", err)
		emit(ctx, events, core.PhaseErrorEvent{Phase: core.PhaseReport, Message: err.Error()})
	}
	emit(ctx, events, core.ProgressEvent{Message: "Gathering complete"})

	p.setStatus(st, core.StatusDelivering)

	report, err := p.reporter.Report(ctx, st.input.Query, st.plan, findings, func(chunk string) {
		emit(ctx, events, core.ChunkEvent{Phase: core.PhaseReport, Text: chunk})
	})
	if err != nil {
		p.setStatus(st, core.StatusFailed)
		results <- core.Result{Status: core.ResultFailed, Err: fmt.Errorf("report step: %w", err)}
		return
	}

	emit(ctx, events, core.CompleteEvent{Phase: core.PhaseReport, Text: report})

	p.setStatus(st, core.StatusSucceeded)
	results <- core.Result{Status: core.ResultSuccess, Approved: true, Report: report}
}

func (p *Pipeline) setStatus(st *runState, status core.RunStatus) {
	p.mu.Lock()
	st.status = status
	p.mu.Unlock()
}

// emit delivers ev unless the context is already cancelled.
func emit(ctx context.Context, events chan<- core.Event, ev core.Event) {
	select {
	case <-ctx.Done():
	case events <- ev:
	}
}
