package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/runbridge/core"
)

// StreamLog records the lifetime of one stream session on a FakeMessenger.
type StreamLog struct {
	Ref       string
	ChannelID string
	ThreadRef string
	Appends   []string
	FinalText string
	Stops     int
}

// UpdateCall records one UpdateMessage invocation.
type UpdateCall struct {
	ChannelID string
	Ref       string
	Message   core.Message
}

// EphemeralCall records one PostEphemeral invocation.
type EphemeralCall struct {
	ChannelID string
	UserID    string
	Text      string
}

// FakeMessenger is an in-memory core.Messenger that records every call and
// can be primed to fail individual operations. Safe for concurrent use.
type FakeMessenger struct {
	mu sync.Mutex

	Posted     []core.Message
	PostedRefs []string
	Updates    []UpdateCall
	Ephemerals []EphemeralCall
	Streams    []*StreamLog

	PostErr      error
	UpdateErr    error
	EphemeralErr error
	StartErr     error
	AppendErr    error
	StopErr      error

	nextRef int
}

var _ core.Messenger = (*FakeMessenger)(nil)

// NewFakeMessenger creates an empty recording messenger.
func NewFakeMessenger() *FakeMessenger { return &FakeMessenger{} }

func (f *FakeMessenger) ref(prefix string) string {
	f.nextRef++
	return fmt.Sprintf("%s-%d", prefix, f.nextRef)
}

// PostMessage implements core.Messenger.
func (f *FakeMessenger) PostMessage(_ context.Context, msg core.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PostErr != nil {
		return "", f.PostErr
	}

	ref := f.ref("msg")
	f.Posted = append(f.Posted, msg)
	f.PostedRefs = append(f.PostedRefs, ref)

	return ref, nil
}

// UpdateMessage implements core.Messenger.
func (f *FakeMessenger) UpdateMessage(_ context.Context, channelID, ref string, msg core.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UpdateErr != nil {
		return f.UpdateErr
	}

	f.Updates = append(f.Updates, UpdateCall{ChannelID: channelID, Ref: ref, Message: msg})

	return nil
}

// PostEphemeral implements core.Messenger.
func (f *FakeMessenger) PostEphemeral(_ context.Context, channelID, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.EphemeralErr != nil {
		return f.EphemeralErr
	}

	f.Ephemerals = append(f.Ephemerals, EphemeralCall{ChannelID: channelID, UserID: userID, Text: text})

	return nil
}

// StartStream implements core.Messenger.
func (f *FakeMessenger) StartStream(_ context.Context, channelID, threadRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartErr != nil {
		return "", f.StartErr
	}

	ref := f.ref("stream")
	f.Streams = append(f.Streams, &StreamLog{Ref: ref, ChannelID: channelID, ThreadRef: threadRef})

	return ref, nil
}

// AppendStream implements core.Messenger.
func (f *FakeMessenger) AppendStream(_ context.Context, channelID, ref, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AppendErr != nil {
		return f.AppendErr
	}

	if s := f.streamLocked(ref); s != nil {
		s.Appends = append(s.Appends, text)
	}

	return nil
}

// StopStream implements core.Messenger.
func (f *FakeMessenger) StopStream(_ context.Context, channelID, ref, finalText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StopErr != nil {
		return f.StopErr
	}

	if s := f.streamLocked(ref); s != nil {
		s.Stops++
		s.FinalText = finalText
	}

	return nil
}

func (f *FakeMessenger) streamLocked(ref string) *StreamLog {
	for _, s := range f.Streams {
		if s.Ref == ref {
			return s
		}
	}

	return nil
}

// Stream returns the recorded stream with the given ref, or nil.
func (f *FakeMessenger) Stream(ref string) *StreamLog {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.streamLocked(ref)
}

// PostedMessages returns a copy of every posted message, safe to call while
// background goroutines are still posting.
func (f *FakeMessenger) PostedMessages() []core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]core.Message, len(f.Posted))
	copy(out, f.Posted)

	return out
}

// LastPosted returns the most recently posted message. It panics when
// nothing was posted; tests should assert the count first.
func (f *FakeMessenger) LastPosted() core.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Posted[len(f.Posted)-1]
}

// Script is one pre-canned executor pass: the events to emit in order
// followed by the terminal result.
type Script struct {
	Events []core.Event
	Result core.Result
}

// Play emits the script on fresh channels the way a real executor would:
// events in order, events channel closed, then exactly one result.
func (s Script) Play() (<-chan core.Event, <-chan core.Result) {
	events := make(chan core.Event, len(s.Events))
	results := make(chan core.Result, 1)

	for _, ev := range s.Events {
		events <- ev
	}

	close(events)

	results <- s.Result
	close(results)

	return events, results
}

// ResumeCall records one ScriptedExecutor.Resume invocation.
type ResumeCall struct {
	RunID    string
	Decision core.Decision
}

// ScriptedExecutor is a core.Executor that plays pre-canned scripts.
// Resume scripts are consumed in order; when they run out, ResumeErr
// (default core.ErrNotSuspended) is returned.
type ScriptedExecutor struct {
	mu sync.Mutex

	StartScript   Script
	StartErr      error
	ResumeScripts []Script
	ResumeErr     error

	StartCalls  []string
	ResumeCalls []ResumeCall
}

var _ core.Executor = (*ScriptedExecutor)(nil)

// Start implements core.Executor.
func (e *ScriptedExecutor) Start(_ context.Context, runID string, _ core.StartInput) (<-chan core.Event, <-chan core.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.StartCalls = append(e.StartCalls, runID)

	if e.StartErr != nil {
		return nil, nil, e.StartErr
	}

	events, results := e.StartScript.Play()

	return events, results, nil
}

// Resume implements core.Executor.
func (e *ScriptedExecutor) Resume(_ context.Context, runID string, decision core.Decision) (<-chan core.Event, <-chan core.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ResumeCalls = append(e.ResumeCalls, ResumeCall{RunID: runID, Decision: decision})

	if len(e.ResumeScripts) == 0 {
		if e.ResumeErr != nil {
			return nil, nil, e.ResumeErr
		}

		return nil, nil, core.ErrNotSuspended
	}

	script := e.ResumeScripts[0]
	e.ResumeScripts = e.ResumeScripts[1:]

	events, results := script.Play()

	return events, results, nil
}
