package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/runbridge/chat"
	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/internal/testutil"
	"github.com/hupe1980/runbridge/store"
)

func suspensionScript(events ...core.Event) testutil.Script {
	return testutil.Script{
		Events: events,
		Result: core.Result{Status: core.ResultSuspended},
	}
}

func newTestBridge(exec core.Executor) (*Bridge, *store.InMemory, *testutil.FakeMessenger) {
	st := store.NewInMemory()
	fm := testutil.NewFakeMessenger()
	b := New(exec, st, fm)

	return b, st, fm
}

func approvalPosted(fm *testutil.FakeMessenger) func() bool {
	return func() bool {
		for _, msg := range postedSnapshot(fm) {
			if len(msg.Buttons) > 0 {
				return true
			}
		}
		return false
	}
}

func postedSnapshot(fm *testutil.FakeMessenger) []core.Message {
	return fm.PostedMessages()
}

func TestStartToSuspension(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		StartScript: suspensionScript(
			core.ChunkEvent{Phase: core.PhasePlan, Text: "## Pl"},
			core.ChunkEvent{Phase: core.PhasePlan, Text: "an"},
			core.CompleteEvent{Phase: core.PhasePlan, Text: "## Plan"},
			core.SuspendedEvent{StepID: "approval"},
		),
	}

	b, st, fm := newTestBridge(exec)

	before := time.Now()
	runID, err := b.Start(context.Background(), core.StartInput{Query: "what is zig", ChannelID: "C1", RequesterID: "U1"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, approvalPosted(fm), 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()

	rec, err := st.GetByRunID(ctx, runID)
	require.NoError(t, err)

	// Deadline sits one window ahead of the start time.
	wantDeadline := before.Add(DefaultDeadlineWindow).UnixMilli()
	assert.InDelta(t, wantDeadline, rec.DeadlineAt, float64(5*time.Second.Milliseconds()))

	assert.NotEmpty(t, rec.ParentRef)
	assert.NotEmpty(t, rec.ThreadRef)
	assert.NotEmpty(t, rec.ApprovalRef)

	research, err := st.GetResearch(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "what is zig", research.Query)
	assert.Equal(t, "## Plan", research.Plan)

	// Parent message announces the query, approval message carries both
	// actions valued with the run id.
	posted := postedSnapshot(fm)
	require.Len(t, posted, 2)
	assert.Contains(t, posted[0].Text, "what is zig")

	approval := posted[1]
	require.Len(t, approval.Buttons, 2)
	assert.Equal(t, chat.ActionApprove, approval.Buttons[0].ActionID)
	assert.Equal(t, chat.ActionReject, approval.Buttons[1].ActionID)
	assert.Equal(t, runID, approval.Buttons[0].Value)
	assert.Equal(t, runID, approval.Buttons[1].Value)

	// The planning session streamed both chunks plus the completion marker
	// and was stopped exactly once before the approval prompt.
	require.Len(t, fm.Streams, 1)
	stream := fm.Streams[0]
	assert.Equal(t, []string{"## Pl", "an", chat.PlanCompleteLine}, stream.Appends)
	assert.Equal(t, 1, stream.Stops)
}

func TestDuplicateSuspensionPostsOneApprovalPrompt(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		StartScript: suspensionScript(
			core.CompleteEvent{Phase: core.PhasePlan, Text: "## Plan"},
			core.SuspendedEvent{StepID: "approval"},
			core.SuspendedEvent{StepID: "approval"},
		),
	}

	b, _, fm := newTestBridge(exec)

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.NoError(t, err)

	require.Eventually(t, approvalPosted(fm), 2*time.Second, 10*time.Millisecond)

	// Give the second suspension time to be (mis)handled before counting.
	time.Sleep(50 * time.Millisecond)

	var approvals int
	for _, msg := range postedSnapshot(fm) {
		if len(msg.Buttons) > 0 {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestChunkOrderingPreserved(t *testing.T) {
	var events []core.Event
	var want []string

	for i := 0; i < 150; i++ {
		text := fmt.Sprintf("chunk-%03d ", i)
		events = append(events, core.ChunkEvent{Phase: core.PhasePlan, Text: text})
		want = append(want, text)
	}

	events = append(events,
		core.CompleteEvent{Phase: core.PhasePlan, Text: strings.Join(want, "")},
		core.SuspendedEvent{StepID: "approval"},
	)

	exec := &testutil.ScriptedExecutor{StartScript: suspensionScript(events...)}

	b, _, fm := newTestBridge(exec)

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.NoError(t, err)

	require.Eventually(t, approvalPosted(fm), 2*time.Second, 10*time.Millisecond)

	require.Len(t, fm.Streams, 1)
	appends := fm.Streams[0].Appends
	require.Len(t, appends, 151)
	assert.Equal(t, want, appends[:150])
	assert.Equal(t, chat.PlanCompleteLine, appends[150])
}

func TestCompleteWithoutChunksFlushesOnce(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		StartScript: suspensionScript(
			core.CompleteEvent{Phase: core.PhasePlan, Text: "## Plan\n\nFull draft."},
			core.SuspendedEvent{StepID: "approval"},
		),
	}

	b, _, fm := newTestBridge(exec)

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.NoError(t, err)

	require.Eventually(t, approvalPosted(fm), 2*time.Second, 10*time.Millisecond)

	require.Len(t, fm.Streams, 1)
	stream := fm.Streams[0]

	// Exactly one flush of the full draft, then the completion marker, then
	// a plain stop with no second copy of the text.
	assert.Equal(t, []string{"## Plan\n\nFull draft.", chat.PlanCompleteLine}, stream.Appends)
	assert.Equal(t, 1, stream.Stops)
	assert.Empty(t, stream.FinalText)
}

func TestProgressAndPhaseErrorsAppendLines(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		StartScript: suspensionScript(
			core.ProgressEvent{Message: "Searching", Details: "• site one"},
			core.PhaseErrorEvent{Phase: core.PhasePlan, Message: "source unreachable"},
			core.CompleteEvent{Phase: core.PhasePlan, Text: "## Plan"},
			core.SuspendedEvent{StepID: "approval"},
		),
	}

	b, _, fm := newTestBridge(exec)

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.NoError(t, err)

	require.Eventually(t, approvalPosted(fm), 2*time.Second, 10*time.Millisecond)

	require.Len(t, fm.Streams, 1)
	appends := fm.Streams[0].Appends
	require.Len(t, appends, 4)
	assert.Contains(t, appends[0], "Searching")
	assert.Contains(t, appends[1], "source unreachable")
}

func TestResumeApprovedDeliversReport(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		ResumeScripts: []testutil.Script{{
			Events: []core.Event{
				core.ChunkEvent{Phase: core.PhaseReport, Text: "# Rep"},
				core.ChunkEvent{Phase: core.PhaseReport, Text: "ort"},
				core.CompleteEvent{Phase: core.PhaseReport, Text: "# Report"},
			},
			Result: core.Result{Status: core.ResultSuccess, Approved: true, Report: "# Report"},
		}},
	}

	b, st, fm := newTestBridge(exec)
	ctx := context.Background()

	rec := testutil.NewRunRecordBuilder("run-1").Channel("C1").Parent("msg-parent").Approval("msg-approval").Build()
	require.NoError(t, st.Create(ctx, rec))
	require.NoError(t, st.CreateResearch(ctx, "run-1", "q"))

	require.NoError(t, b.Resume(ctx, "run-1", core.Decision{Approved: true, Approver: "U1"}))

	require.Eventually(t, func() bool {
		s := fm.Stream("stream-1")
		return s != nil && s.Stops == 1 && len(postedSnapshot(fm)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stream := fm.Stream("stream-1")
	// The report session threads off the approval message.
	assert.Equal(t, "msg-approval", stream.ThreadRef)
	assert.Equal(t, []string{"# Rep", "ort", chat.ReportCompleteLine}, stream.Appends)

	research, err := st.GetResearch(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "# Report", research.Report)

	// A delivered report is followed by the feedback prompt in the thread.
	posted := postedSnapshot(fm)
	require.Len(t, posted, 1)
	prompt := posted[0]
	assert.Equal(t, "msg-parent", prompt.ThreadRef)
	assert.Equal(t, chat.FeedbackPromptText, prompt.Text)
	require.Len(t, prompt.Buttons, 2)
	assert.Equal(t, chat.ActionFeedbackPositive, prompt.Buttons[0].ActionID)
	assert.Equal(t, chat.ActionFeedbackNegative, prompt.Buttons[1].ActionID)
	assert.Equal(t, "run-1", prompt.Buttons[0].Value)
	assert.Equal(t, "run-1", prompt.Buttons[1].Value)

	require.Len(t, exec.ResumeCalls, 1)
	assert.Equal(t, "run-1", exec.ResumeCalls[0].RunID)
	assert.True(t, exec.ResumeCalls[0].Decision.Approved)
}

func TestResumeRejectedPostsCancellation(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		ResumeScripts: []testutil.Script{{
			Result: core.Result{Status: core.ResultSuccess, Approved: false},
		}},
	}

	b, st, fm := newTestBridge(exec)
	ctx := context.Background()

	rec := testutil.NewRunRecordBuilder("run-1").Channel("C1").Parent("msg-parent").Build()
	require.NoError(t, st.Create(ctx, rec))

	require.NoError(t, b.Resume(ctx, "run-1", core.Decision{Approved: false, Approver: "U1", Reason: "rejected"}))

	require.Eventually(t, func() bool {
		return len(postedSnapshot(fm)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := fm.LastPosted()
	assert.Equal(t, "C1", msg.ChannelID)
	assert.Equal(t, "msg-parent", msg.ThreadRef)
	assert.Equal(t, chat.DefaultCancellationText, msg.Text)

	// Rejections never open a stream session.
	assert.Empty(t, fm.Streams)
}

func TestResumeTimeoutPostsNoCancellation(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		ResumeScripts: []testutil.Script{{
			Result: core.Result{Status: core.ResultSuccess, Approved: false, Reason: core.ReasonTimeout},
		}},
	}

	b, st, fm := newTestBridge(exec)
	ctx := context.Background()

	rec := testutil.NewRunRecordBuilder("run-1").Channel("C1").Parent("msg-parent").Build()
	require.NoError(t, st.Create(ctx, rec))

	require.NoError(t, b.Resume(ctx, "run-1", core.SystemTimeoutDecision()))

	// Give the detached consumer time to finalize before counting.
	time.Sleep(50 * time.Millisecond)

	require.Len(t, exec.ResumeCalls, 1)

	// The reconciler owns the timeout notice; the bridge stays quiet so the
	// thread does not read as a human rejection.
	assert.Empty(t, postedSnapshot(fm))
	assert.Empty(t, fm.Streams)
}

func TestPlanAppendFailureFlushedOnClose(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		StartScript: suspensionScript(
			core.ChunkEvent{Phase: core.PhasePlan, Text: "## Pl"},
			core.ChunkEvent{Phase: core.PhasePlan, Text: "an"},
			core.CompleteEvent{Phase: core.PhasePlan, Text: "## Plan"},
			core.SuspendedEvent{StepID: "approval"},
		),
	}

	b, _, fm := newTestBridge(exec)
	fm.AppendErr = errors.New("stream gone")

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.NoError(t, err)

	require.Eventually(t, approvalPosted(fm), 2*time.Second, 10*time.Millisecond)

	// Nothing reached the stream incrementally, so the accumulated plan
	// rides along as the close-time flush.
	require.Len(t, fm.Streams, 1)
	stream := fm.Streams[0]
	assert.Empty(t, stream.Appends)
	assert.Equal(t, 1, stream.Stops)
	assert.Equal(t, "## Plan", stream.FinalText)
}

func TestResumeNotSuspendedIsBenign(t *testing.T) {
	exec := &testutil.ScriptedExecutor{}

	b, st, fm := newTestBridge(exec)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, testutil.NewRunRecordBuilder("run-1").Build()))

	// No scripts queued: the executor reports the run as not suspended.
	require.NoError(t, b.Resume(ctx, "run-1", core.Decision{Approved: true, Approver: "U1"}))

	// The optimistically opened session was closed again.
	require.Len(t, fm.Streams, 1)
	assert.Equal(t, 1, fm.Streams[0].Stops)
}

func TestResumeUnknownRecordFails(t *testing.T) {
	b, _, _ := newTestBridge(&testutil.ScriptedExecutor{})

	err := b.Resume(context.Background(), "ghost", core.Decision{Approved: true})
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func TestFailedRunPostsFailureNotice(t *testing.T) {
	exec := &testutil.ScriptedExecutor{
		StartScript: testutil.Script{
			Events: []core.Event{core.ChunkEvent{Phase: core.PhasePlan, Text: "partial"}},
			Result: core.Result{Status: core.ResultFailed, Err: errors.New("model unavailable")},
		},
	}

	b, _, fm := newTestBridge(exec)

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(postedSnapshot(fm)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msg := fm.LastPosted()
	assert.Contains(t, msg.Text, "model unavailable")

	// The session was force closed before the notice went out.
	require.Len(t, fm.Streams, 1)
	assert.Equal(t, 1, fm.Streams[0].Stops)
}

func TestStartExecutorFailureClosesSession(t *testing.T) {
	exec := &testutil.ScriptedExecutor{StartErr: errors.New("executor down")}

	b, _, fm := newTestBridge(exec)

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.Error(t, err)

	require.Len(t, fm.Streams, 1)
	assert.Equal(t, 1, fm.Streams[0].Stops)
}

func TestStartPostFailureAborts(t *testing.T) {
	fmErr := errors.New("channel archived")

	exec := &testutil.ScriptedExecutor{}
	st := store.NewInMemory()
	fm := testutil.NewFakeMessenger()
	fm.PostErr = fmErr

	b := New(exec, st, fm)

	_, err := b.Start(context.Background(), core.StartInput{Query: "q", ChannelID: "C1", RequesterID: "U1"})
	require.ErrorIs(t, err, fmErr)

	assert.Empty(t, exec.StartCalls)
}
