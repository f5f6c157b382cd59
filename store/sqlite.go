package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/logging"
)

// Options holds configuration overrides passed to NewSQLite.
type Options struct {
	// Retry controls the transient-contention retry policy.
	Retry RetryPolicy
	// Logger receives retry and lifecycle diagnostics.
	Logger logging.Logger
}

// SQLite is the durable persistence gateway. It implements core.RunStore and
// core.ResearchStore with single-row, run-id keyed mutations; safe for
// concurrent use from multiple run tasks and the reconciler.
type SQLite struct {
	db     *sql.DB
	retry  RetryPolicy
	logger logging.Logger
}

var (
	_ core.RunStore      = (*SQLite)(nil)
	_ core.ResearchStore = (*SQLite)(nil)
	_ core.FeedbackStore = (*SQLite)(nil)
)

// NewSQLite opens (creating if needed) the database at path and applies the
// schema migration.
func NewSQLite(path string, optFns ...func(o *Options)) (*SQLite, error) {
	opts := Options{
		Retry:  DefaultRetryPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLite{db: db, retry: opts.Retry, logger: opts.Logger}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = func(err error, attempt int, delay time.Duration) {
			s.logger.Warn("transient database error, retrying", "attempt", attempt, "delay", delay, "error", err)
		}
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		parent_ref TEXT,
		thread_ref TEXT,
		approval_ref TEXT,
		requester_id TEXT NOT NULL,
		deadline_at INTEGER NOT NULL,
		timeout_notified_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS research (
		run_id TEXT PRIMARY KEY,
		query TEXT,
		plan TEXT,
		report TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS feedbacks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL,
		message_ref TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_deadline ON runs(deadline_at);
	CREATE INDEX IF NOT EXISTS idx_runs_channel ON runs(channel_id);
	CREATE INDEX IF NOT EXISTS idx_feedbacks_run ON feedbacks(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Create implements core.RunStore.
func (s *SQLite) Create(ctx context.Context, rec core.RunRecord) error {
	return Retry(ctx, s.retry, func() error {
		now := core.NowMillis()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (run_id, channel_id, parent_ref, thread_ref, approval_ref, requester_id, deadline_at, timeout_notified_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.ChannelID, nullable(rec.ParentRef), nullable(rec.ThreadRef), nullable(rec.ApprovalRef),
			rec.RequesterID, rec.DeadlineAt, rec.TimeoutNotifiedAt, now, now,
		)
		return err
	})
}

// UpdateMessageRef implements core.RunStore.
func (s *SQLite) UpdateMessageRef(ctx context.Context, runID, ref string) error {
	return s.updateColumn(ctx, "parent_ref", runID, ref)
}

// UpdateThreadRef implements core.RunStore.
func (s *SQLite) UpdateThreadRef(ctx context.Context, runID, ref string) error {
	return s.updateColumn(ctx, "thread_ref", runID, ref)
}

// UpdateApprovalRef implements core.RunStore.
func (s *SQLite) UpdateApprovalRef(ctx context.Context, runID, ref string) error {
	return s.updateColumn(ctx, "approval_ref", runID, ref)
}

func (s *SQLite) updateColumn(ctx context.Context, column, runID, ref string) error {
	return Retry(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET `+column+` = ?, updated_at = ? WHERE run_id = ?`,
			ref, core.NowMillis(), runID,
		)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// requireRow maps an update that matched no rows to ErrRunNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrRunNotFound
	}
	return nil
}

// MarkTimeoutNotified implements core.RunStore. The stamp is write-once: a
// second call for the same run leaves the original value in place.
func (s *SQLite) MarkTimeoutNotified(ctx context.Context, runID string, at int64) error {
	return Retry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET timeout_notified_at = ?, updated_at = ? WHERE run_id = ? AND timeout_notified_at IS NULL`,
			at, core.NowMillis(), runID,
		)
		return err
	})
}

// GetByRunID implements core.RunStore.
func (s *SQLite) GetByRunID(ctx context.Context, runID string) (*core.RunRecord, error) {
	var rec *core.RunRecord
	err := Retry(ctx, s.retry, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT run_id, channel_id, parent_ref, thread_ref, approval_ref, requester_id, deadline_at, timeout_notified_at, created_at, updated_at
			 FROM runs WHERE run_id = ?`, runID,
		)
		r, err := scanRunRecord(row)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetUnnotifiedExpired implements core.RunStore.
func (s *SQLite) GetUnnotifiedExpired(ctx context.Context, now int64) ([]core.RunRecord, error) {
	var recs []core.RunRecord
	err := Retry(ctx, s.retry, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT run_id, channel_id, parent_ref, thread_ref, approval_ref, requester_id, deadline_at, timeout_notified_at, created_at, updated_at
			 FROM runs WHERE deadline_at < ? AND timeout_notified_at IS NULL ORDER BY deadline_at ASC`, now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		recs = recs[:0]
		for rows.Next() {
			r, err := scanRunRecord(rows)
			if err != nil {
				return err
			}
			recs = append(recs, *r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteByRunID implements core.RunStore.
func (s *SQLite) DeleteByRunID(ctx context.Context, runID string) error {
	return Retry(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM research WHERE run_id = ?`, runID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM feedbacks WHERE run_id = ?`, runID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// CreateResearch implements core.ResearchStore.
func (s *SQLite) CreateResearch(ctx context.Context, runID, query string) error {
	return Retry(ctx, s.retry, func() error {
		now := core.NowMillis()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO research (run_id, query, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			runID, query, now, now,
		)
		return err
	})
}

// UpdatePlan implements core.ResearchStore.
func (s *SQLite) UpdatePlan(ctx context.Context, runID, plan string) error {
	return Retry(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE research SET plan = ?, updated_at = ? WHERE run_id = ?`,
			plan, core.NowMillis(), runID,
		)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// UpdateReport implements core.ResearchStore.
func (s *SQLite) UpdateReport(ctx context.Context, runID, report string) error {
	return Retry(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE research SET report = ?, updated_at = ? WHERE run_id = ?`,
			report, core.NowMillis(), runID,
		)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// CreateFeedback implements core.FeedbackStore.
func (s *SQLite) CreateFeedback(ctx context.Context, fb core.Feedback) error {
	return Retry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO feedbacks (run_id, kind, user_id, message_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
			fb.RunID, string(fb.Kind), fb.UserID, nullable(fb.MessageRef), core.NowMillis(),
		)
		return err
	})
}

// ListFeedback implements core.FeedbackStore.
func (s *SQLite) ListFeedback(ctx context.Context, runID string) ([]core.Feedback, error) {
	var out []core.Feedback
	err := Retry(ctx, s.retry, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, run_id, kind, user_id, message_ref, created_at
			 FROM feedbacks WHERE run_id = ? ORDER BY created_at DESC, id DESC`, runID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				fb         core.Feedback
				kind       string
				messageRef sql.NullString
			)
			if err := rows.Scan(&fb.ID, &fb.RunID, &kind, &fb.UserID, &messageRef, &fb.CreatedAt); err != nil {
				return err
			}
			fb.Kind = core.FeedbackKind(kind)
			fb.MessageRef = messageRef.String
			out = append(out, fb)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetResearch implements core.ResearchStore.
func (s *SQLite) GetResearch(ctx context.Context, runID string) (*core.Research, error) {
	var res *core.Research
	err := Retry(ctx, s.retry, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT run_id, query, plan, report, created_at, updated_at FROM research WHERE run_id = ?`, runID,
		)
		var (
			r                   core.Research
			query, plan, report sql.NullString
		)
		if err := row.Scan(&r.RunID, &query, &plan, &report, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return err
		}
		r.Query = query.String
		r.Plan = plan.String
		r.Report = report.String
		res = &r
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(row rowScanner) (*core.RunRecord, error) {
	var (
		rec                              core.RunRecord
		parentRef, threadRef, approvalRef sql.NullString
		notifiedAt                       sql.NullInt64
	)
	err := row.Scan(
		&rec.RunID, &rec.ChannelID, &parentRef, &threadRef, &approvalRef,
		&rec.RequesterID, &rec.DeadlineAt, &notifiedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ParentRef = parentRef.String
	rec.ThreadRef = threadRef.String
	rec.ApprovalRef = approvalRef.String
	if notifiedAt.Valid {
		rec.TimeoutNotifiedAt = &notifiedAt.Int64
	}
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
