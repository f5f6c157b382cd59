package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/runbridge/core"
)

type fakePlanner struct {
	chunks []string
	plan   string
	err    error
}

func (f *fakePlanner) Plan(_ context.Context, _ string, emit func(string)) (string, error) {
	for _, c := range f.chunks {
		emit(c)
	}
	return f.plan, f.err
}

type fakeGatherer struct {
	findings string
	err      error
}

func (f *fakeGatherer) Gather(_ context.Context, _, _ string, progress func(string, string)) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	progress("Searching", "• source one")
	return f.findings, nil
}

type fakeReporter struct {
	chunks []string
	report string
	err    error

	gotFindings string
}

func (f *fakeReporter) Report(_ context.Context, _, _, findings string, emit func(string)) (string, error) {
	f.gotFindings = findings
	for _, c := range f.chunks {
		emit(c)
	}
	return f.report, f.err
}

func newTestPipeline(planner Planner, gatherer Gatherer, reporter Reporter) *Pipeline {
	return New(planner, gatherer, reporter)
}

func drain(t *testing.T, events <-chan core.Event, results <-chan core.Result) ([]core.Event, core.Result) {
	t.Helper()

	var evs []core.Event
	for ev := range events {
		evs = append(evs, ev)
	}

	res, ok := <-results
	require.True(t, ok, "expected a terminal result")

	return evs, res
}

func TestStartPlansAndSuspends(t *testing.T) {
	p := newTestPipeline(
		&fakePlanner{chunks: []string{"## Pl", "an"}, plan: "## Plan"},
		&fakeGatherer{},
		&fakeReporter{},
	)

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "what is zig"})
	require.NoError(t, err)

	evs, res := drain(t, events, results)

	require.Len(t, evs, 4)
	assert.Equal(t, core.ChunkEvent{Phase: core.PhasePlan, Text: "## Pl"}, evs[0])
	assert.Equal(t, core.ChunkEvent{Phase: core.PhasePlan, Text: "an"}, evs[1])
	assert.Equal(t, core.CompleteEvent{Phase: core.PhasePlan, Text: "## Plan"}, evs[2])
	assert.Equal(t, core.SuspendedEvent{StepID: ApprovalStepID}, evs[3])

	assert.Equal(t, core.ResultSuspended, res.Status)

	status, ok := p.Status("run-1")
	require.True(t, ok)
	assert.Equal(t, core.StatusAwaitingApproval, status)
}

func TestStartDuplicateRunID(t *testing.T) {
	p := newTestPipeline(&fakePlanner{plan: "p"}, &fakeGatherer{}, &fakeReporter{})

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)
	drain(t, events, results)

	_, _, err = p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.Error(t, err)
}

func TestPlanFailureFailsRun(t *testing.T) {
	p := newTestPipeline(&fakePlanner{err: errors.New("model unavailable")}, &fakeGatherer{}, &fakeReporter{})

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)

	_, res := drain(t, events, results)

	assert.Equal(t, core.ResultFailed, res.Status)
	require.Error(t, res.Err)

	status, _ := p.Status("run-1")
	assert.Equal(t, core.StatusFailed, status)
}

func TestResumeApprovedCompletesRun(t *testing.T) {
	reporter := &fakeReporter{chunks: []string{"# Rep", "ort"}, report: "# Report"}
	p := newTestPipeline(
		&fakePlanner{plan: "## Plan"},
		&fakeGatherer{findings: "findings"},
		reporter,
	)

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)
	drain(t, events, results)

	events, results, err = p.Resume(context.Background(), "run-1", core.Decision{Approved: true, Approver: "U1"})
	require.NoError(t, err)

	evs, res := drain(t, events, results)

	assert.Equal(t, core.ResultSuccess, res.Status)
	assert.True(t, res.Approved)
	assert.Equal(t, "# Report", res.Report)
	assert.Equal(t, "findings", reporter.gotFindings)

	var chunks, completes int
	for _, ev := range evs {
		switch e := ev.(type) {
		case core.ChunkEvent:
			assert.Equal(t, core.PhaseReport, e.Phase)
			chunks++
		case core.CompleteEvent:
			assert.Equal(t, core.PhaseReport, e.Phase)
			completes++
		}
	}
	assert.Equal(t, 2, chunks)
	assert.Equal(t, 1, completes)

	status, _ := p.Status("run-1")
	assert.Equal(t, core.StatusSucceeded, status)
}

func TestResumeRejectedEndsRun(t *testing.T) {
	p := newTestPipeline(&fakePlanner{plan: "p"}, &fakeGatherer{}, &fakeReporter{})

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)
	drain(t, events, results)

	events, results, err = p.Resume(context.Background(), "run-1", core.Decision{Approved: false, Approver: "U1", Reason: "rejected"})
	require.NoError(t, err)

	evs, res := drain(t, events, results)

	assert.Empty(t, evs)
	assert.Equal(t, core.ResultSuccess, res.Status)
	assert.False(t, res.Approved)

	status, _ := p.Status("run-1")
	assert.Equal(t, core.StatusRejected, status)
}

func TestResumeTimeoutMarksTimedOut(t *testing.T) {
	p := newTestPipeline(&fakePlanner{plan: "p"}, &fakeGatherer{}, &fakeReporter{})

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)
	drain(t, events, results)

	events, results, err = p.Resume(context.Background(), "run-1", core.SystemTimeoutDecision())
	require.NoError(t, err)
	_, res := drain(t, events, results)

	// The result carries the timeout reason so consumers can tell the
	// forced cancellation apart from a human rejection.
	assert.False(t, res.Approved)
	assert.Equal(t, core.ReasonTimeout, res.Reason)

	status, _ := p.Status("run-1")
	assert.Equal(t, core.StatusTimedOut, status)
}

func TestOnlyFirstResumeWins(t *testing.T) {
	p := newTestPipeline(
		&fakePlanner{plan: "p"},
		&fakeGatherer{},
		&fakeReporter{report: "r"},
	)

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)
	drain(t, events, results)

	events, results, err = p.Resume(context.Background(), "run-1", core.Decision{Approved: true, Approver: "U1"})
	require.NoError(t, err)

	// The run is no longer awaiting approval, even while research still runs.
	_, _, err = p.Resume(context.Background(), "run-1", core.SystemTimeoutDecision())
	assert.ErrorIs(t, err, core.ErrNotSuspended)

	drain(t, events, results)
}

func TestResumeUnknownRun(t *testing.T) {
	p := newTestPipeline(&fakePlanner{}, &fakeGatherer{}, &fakeReporter{})

	_, _, err := p.Resume(context.Background(), "ghost", core.Decision{Approved: true})
	assert.ErrorIs(t, err, core.ErrUnknownRun)
}

func TestGatherFailureIsNonFatal(t *testing.T) {
	p := newTestPipeline(
		&fakePlanner{plan: "p"},
		&fakeGatherer{err: errors.New("search unavailable")},
		&fakeReporter{report: "r"},
	)

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)
	drain(t, events, results)

	events, results, err = p.Resume(context.Background(), "run-1", core.Decision{Approved: true})
	require.NoError(t, err)

	evs, res := drain(t, events, results)

	assert.Equal(t, core.ResultSuccess, res.Status)
	assert.True(t, res.Approved)

	var sawPhaseError bool
	for _, ev := range evs {
		if _, ok := ev.(core.PhaseErrorEvent); ok {
			sawPhaseError = true
		}
	}
	assert.True(t, sawPhaseError)
}

func TestReportFailureFailsRun(t *testing.T) {
	p := newTestPipeline(
		&fakePlanner{plan: "p"},
		&fakeGatherer{},
		&fakeReporter{err: errors.New("model unavailable")},
	)

	events, results, err := p.Start(context.Background(), "run-1", core.StartInput{Query: "q"})
	require.NoError(t, err)
	drain(t, events, results)

	events, results, err = p.Resume(context.Background(), "run-1", core.Decision{Approved: true})
	require.NoError(t, err)

	_, res := drain(t, events, results)

	assert.Equal(t, core.ResultFailed, res.Status)

	status, _ := p.Status("run-1")
	assert.Equal(t, core.StatusFailed, status)
}
