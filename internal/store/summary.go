package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cortexltm/ltm/internal/model"
)

const summaryColumns = `id, thread_id, range_start_event_id, range_end_event_id,
	summary, embedding, is_active, meta, created_at, updated_at`

func scanSummary(row scanner) (model.Summary, error) {
	var sm model.Summary
	var rangeStart, rangeEnd, meta sql.NullString
	var emb []byte
	var active int
	var createdAt, updatedAt string
	err := row.Scan(&sm.ID, &sm.ThreadID, &rangeStart, &rangeEnd,
		&sm.Summary, &emb, &active, &meta, &createdAt, &updatedAt)
	if err != nil {
		return sm, err
	}
	sm.RangeStartID = rangeStart.String
	sm.RangeEndID = rangeEnd.String
	sm.Embedding = decodeVector(emb)
	sm.IsActive = active == 1
	sm.Meta = unmarshalMeta(meta)
	sm.CreatedAt = parseTime(createdAt)
	sm.UpdatedAt = parseTime(updatedAt)
	return sm, nil
}

func (s *SQLiteStore) ActiveSummary(ctx context.Context, threadID string) (*model.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries
		 WHERE thread_id = ? AND is_active = 1`, threadID)
	sm, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active summary for thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context, id string) (*model.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE id = ?`, id)
	sm, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("summary %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

func (s *SQLiteStore) ListSummaries(ctx context.Context, threadID string, includeArchived bool, limit int) ([]model.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + summaryColumns + ` FROM summaries WHERE thread_id = ?`
	if !includeArchived {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		sm, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertActiveSummary(ctx context.Context, p SummaryParams) (*model.Summary, error) {
	sm := newSummary(s.newID(), p)
	_, err := s.db.ExecContext(ctx, insertSummarySQL, insertSummaryArgs(sm)...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("thread %s: %w", p.ThreadID, ErrActiveSummaryExists)
		}
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	return sm, nil
}

func (s *SQLiteStore) UpdateActiveSummary(ctx context.Context, p UpdateSummaryParams) (*model.Summary, error) {
	ts := formatTime(now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE summaries SET
			summary = ?,
			range_end_event_id = COALESCE(?, range_end_event_id),
			embedding = COALESCE(?, embedding),
			meta = json_patch(COALESCE(meta, '{}'), COALESCE(?, '{}')),
			updated_at = ?
		 WHERE thread_id = ? AND is_active = 1`,
		p.Text, nullStr(p.RangeEndID), encodeVector(p.Embedding),
		marshalMeta(p.MetaPatch), ts, p.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("update summary: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("active summary for thread %s: %w", p.ThreadID, ErrNotFound)
	}
	return s.ActiveSummary(ctx, p.ThreadID)
}

func (s *SQLiteStore) SwitchActiveSummary(ctx context.Context, p SummaryParams) (*model.Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ts := formatTime(now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE summaries SET is_active = 0, updated_at = ?
		 WHERE thread_id = ? AND is_active = 1`, ts, p.ThreadID); err != nil {
		return nil, fmt.Errorf("archive summary: %w", err)
	}

	sm := newSummary(s.newID(), p)
	if _, err := tx.ExecContext(ctx, insertSummarySQL, insertSummaryArgs(sm)...); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("thread %s: %w", p.ThreadID, ErrActiveSummaryExists)
		}
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sm, nil
}

const insertSummarySQL = `INSERT INTO summaries
	(id, thread_id, range_start_event_id, range_end_event_id, summary,
	 embedding, is_active, meta, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`

func newSummary(id string, p SummaryParams) *model.Summary {
	ts := now()
	return &model.Summary{
		ID:           id,
		ThreadID:     p.ThreadID,
		RangeStartID: p.RangeStartID,
		RangeEndID:   p.RangeEndID,
		Summary:      p.Text,
		Embedding:    p.Embedding,
		IsActive:     true,
		Meta:         p.Meta,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

func insertSummaryArgs(sm *model.Summary) []any {
	return []any{
		sm.ID, sm.ThreadID, nullStr(sm.RangeStartID), nullStr(sm.RangeEndID),
		sm.Summary, encodeVector(sm.Embedding), marshalMeta(sm.Meta),
		formatTime(sm.CreatedAt), formatTime(sm.UpdatedAt),
	}
}
