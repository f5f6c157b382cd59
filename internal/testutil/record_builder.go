package testutil

import (
	"time"

	"github.com/hupe1980/runbridge/core"
)

// RunRecordBuilder provides a fluent helper for constructing run records in
// tests. Example:
//
//	rec := NewRunRecordBuilder("run-1").Channel("C1").ExpiredSince(time.Hour).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type RunRecordBuilder struct {
	rec core.RunRecord
}

// NewRunRecordBuilder creates a builder for the given run id with a
// deadline one hour in the future.
func NewRunRecordBuilder(runID string) *RunRecordBuilder {
	now := time.Now()

	return &RunRecordBuilder{rec: core.RunRecord{
		RunID:       runID,
		ChannelID:   "C-test",
		RequesterID: "U-test",
		DeadlineAt:  now.Add(time.Hour).UnixMilli(),
		CreatedAt:   now.UnixMilli(),
		UpdatedAt:   now.UnixMilli(),
	}}
}

// Channel sets the channel id (chainable).
func (b *RunRecordBuilder) Channel(id string) *RunRecordBuilder { b.rec.ChannelID = id; return b }

// Requester sets the requesting user id (chainable).
func (b *RunRecordBuilder) Requester(id string) *RunRecordBuilder { b.rec.RequesterID = id; return b }

// Parent sets the parent message reference (chainable).
func (b *RunRecordBuilder) Parent(ref string) *RunRecordBuilder { b.rec.ParentRef = ref; return b }

// Thread sets the thread reference (chainable).
func (b *RunRecordBuilder) Thread(ref string) *RunRecordBuilder { b.rec.ThreadRef = ref; return b }

// Approval sets the approval message reference (chainable).
func (b *RunRecordBuilder) Approval(ref string) *RunRecordBuilder { b.rec.ApprovalRef = ref; return b }

// DeadlineAt sets the deadline in unix milliseconds (chainable).
func (b *RunRecordBuilder) DeadlineAt(ms int64) *RunRecordBuilder { b.rec.DeadlineAt = ms; return b }

// ExpiredSince moves the deadline the given duration into the past
// (chainable).
func (b *RunRecordBuilder) ExpiredSince(d time.Duration) *RunRecordBuilder {
	b.rec.DeadlineAt = time.Now().Add(-d).UnixMilli()
	return b
}

// Notified marks the record as already timeout notified at the given unix
// millisecond timestamp (chainable).
func (b *RunRecordBuilder) Notified(ms int64) *RunRecordBuilder {
	b.rec.TimeoutNotifiedAt = &ms
	return b
}

// Build returns the assembled record.
func (b *RunRecordBuilder) Build() core.RunRecord { return b.rec }
