package core

import (
	"context"
	"errors"
)

// ErrRunNotFound is returned by store lookups for run ids that have no
// persisted record.
var ErrRunNotFound = errors.New("run record not found")

// RunStore persists per-run chat metadata. Implementations must be safe for
// concurrent access from multiple run tasks and the reconciler; all mutations
// are single-row, keyed by run id.
type RunStore interface {
	// Create inserts the metadata record for a new run. CreatedAt/UpdatedAt
	// are assigned by the store.
	Create(ctx context.Context, rec RunRecord) error

	// UpdateMessageRef records the parent message reference.
	UpdateMessageRef(ctx context.Context, runID, ref string) error

	// UpdateThreadRef records the thread (stream session) reference.
	UpdateThreadRef(ctx context.Context, runID, ref string) error

	// UpdateApprovalRef records the approval request message reference.
	UpdateApprovalRef(ctx context.Context, runID, ref string) error

	// MarkTimeoutNotified stamps the write-once timeout notification fence.
	MarkTimeoutNotified(ctx context.Context, runID string, at int64) error

	// GetByRunID fetches one record or ErrRunNotFound.
	GetByRunID(ctx context.Context, runID string) (*RunRecord, error)

	// GetUnnotifiedExpired returns records whose deadline lies before now
	// (epoch millis) and whose timeout notification fence is unset, ordered
	// by deadline ascending.
	GetUnnotifiedExpired(ctx context.Context, now int64) ([]RunRecord, error)

	// DeleteByRunID removes a record; deleting a missing record is a no-op.
	DeleteByRunID(ctx context.Context, runID string) error
}

// FeedbackStore persists reader reactions to delivered reports.
type FeedbackStore interface {
	// CreateFeedback inserts one reaction. The ID and CreatedAt fields are
	// assigned by the store.
	CreateFeedback(ctx context.Context, fb Feedback) error

	// ListFeedback returns every reaction recorded for a run, newest first.
	ListFeedback(ctx context.Context, runID string) ([]Feedback, error)
}

// ResearchStore persists the query, plan and report text of runs.
type ResearchStore interface {
	// CreateResearch inserts the research row with the initial query.
	CreateResearch(ctx context.Context, runID, query string) error

	// UpdatePlan stores the finished plan text.
	UpdatePlan(ctx context.Context, runID, plan string) error

	// UpdateReport stores the finished report text.
	UpdateReport(ctx context.Context, runID, report string) error

	// GetResearch fetches one research row or ErrRunNotFound.
	GetResearch(ctx context.Context, runID string) (*Research, error)
}
