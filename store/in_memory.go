package store

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/runbridge/core"
)

// InMemory is a volatile gateway implementation storing records in process
// local maps. It is safe for concurrent access and best suited for tests or
// ephemeral demo setups. Returned records are copies to prevent external
// mutation of internal state.
type InMemory struct {
	mu         sync.RWMutex
	runs       map[string]*core.RunRecord
	research   map[string]*core.Research
	feedbacks  map[string][]core.Feedback
	feedbackID int64
}

var (
	_ core.RunStore      = (*InMemory)(nil)
	_ core.ResearchStore = (*InMemory)(nil)
	_ core.FeedbackStore = (*InMemory)(nil)
)

// NewInMemory constructs an empty in-memory gateway.
func NewInMemory() *InMemory {
	return &InMemory{
		runs:      make(map[string]*core.RunRecord),
		research:  make(map[string]*core.Research),
		feedbacks: make(map[string][]core.Feedback),
	}
}

// Create implements core.RunStore.
func (s *InMemory) Create(_ context.Context, rec core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := core.NowMillis()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.runs[rec.RunID] = &rec
	return nil
}

// UpdateMessageRef implements core.RunStore.
func (s *InMemory) UpdateMessageRef(_ context.Context, runID, ref string) error {
	return s.mutate(runID, func(r *core.RunRecord) { r.ParentRef = ref })
}

// UpdateThreadRef implements core.RunStore.
func (s *InMemory) UpdateThreadRef(_ context.Context, runID, ref string) error {
	return s.mutate(runID, func(r *core.RunRecord) { r.ThreadRef = ref })
}

// UpdateApprovalRef implements core.RunStore.
func (s *InMemory) UpdateApprovalRef(_ context.Context, runID, ref string) error {
	return s.mutate(runID, func(r *core.RunRecord) { r.ApprovalRef = ref })
}

// MarkTimeoutNotified implements core.RunStore; the stamp is write-once.
func (s *InMemory) MarkTimeoutNotified(_ context.Context, runID string, at int64) error {
	return s.mutate(runID, func(r *core.RunRecord) {
		if r.TimeoutNotifiedAt == nil {
			r.TimeoutNotifiedAt = &at
		}
	})
}

// GetByRunID implements core.RunStore.
func (s *InMemory) GetByRunID(_ context.Context, runID string) (*core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetUnnotifiedExpired implements core.RunStore.
func (s *InMemory) GetUnnotifiedExpired(_ context.Context, now int64) ([]core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.RunRecord
	for _, rec := range s.runs {
		if rec.DeadlineAt < now && rec.TimeoutNotifiedAt == nil {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt < out[j].DeadlineAt })
	return out, nil
}

// DeleteByRunID implements core.RunStore.
func (s *InMemory) DeleteByRunID(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	delete(s.research, runID)
	delete(s.feedbacks, runID)
	return nil
}

// CreateResearch implements core.ResearchStore.
func (s *InMemory) CreateResearch(_ context.Context, runID, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := core.NowMillis()
	s.research[runID] = &core.Research{RunID: runID, Query: query, CreatedAt: now, UpdatedAt: now}
	return nil
}

// UpdatePlan implements core.ResearchStore.
func (s *InMemory) UpdatePlan(_ context.Context, runID, plan string) error {
	return s.mutateResearch(runID, func(r *core.Research) { r.Plan = plan })
}

// UpdateReport implements core.ResearchStore.
func (s *InMemory) UpdateReport(_ context.Context, runID, report string) error {
	return s.mutateResearch(runID, func(r *core.Research) { r.Report = report })
}

// CreateFeedback implements core.FeedbackStore.
func (s *InMemory) CreateFeedback(_ context.Context, fb core.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackID++
	fb.ID = s.feedbackID
	fb.CreatedAt = core.NowMillis()
	s.feedbacks[fb.RunID] = append(s.feedbacks[fb.RunID], fb)
	return nil
}

// ListFeedback implements core.FeedbackStore.
func (s *InMemory) ListFeedback(_ context.Context, runID string) ([]core.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Feedback, len(s.feedbacks[runID]))
	copy(out, s.feedbacks[runID])
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GetResearch implements core.ResearchStore.
func (s *InMemory) GetResearch(_ context.Context, runID string) (*core.Research, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.research[runID]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *InMemory) mutate(runID string, fn func(*core.RunRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return core.ErrRunNotFound
	}
	fn(rec)
	rec.UpdatedAt = core.NowMillis()
	return nil
}

func (s *InMemory) mutateResearch(runID string, fn func(*core.Research)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.research[runID]
	if !ok {
		return core.ErrRunNotFound
	}
	fn(res)
	res.UpdatedAt = core.NowMillis()
	return nil
}
