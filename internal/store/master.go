package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cortexltm/ltm/internal/model"
)

const masterColumns = `id, user_id, bucket, text, status, stability, confidence,
	reinforcement_count, last_seen_at, last_reinforced_at, embedding, meta,
	created_at, updated_at`

func scanMasterItem(row scanner) (model.MasterItem, error) {
	var it model.MasterItem
	var bucket, status, stability string
	var lastSeen, lastReinforced, createdAt, updatedAt string
	var meta sql.NullString
	var emb []byte
	err := row.Scan(&it.ID, &it.UserID, &bucket, &it.Text, &status, &stability,
		&it.Confidence, &it.ReinforcementCount, &lastSeen, &lastReinforced,
		&emb, &meta, &createdAt, &updatedAt)
	if err != nil {
		return it, err
	}
	it.Bucket = model.Bucket(bucket)
	it.Status = model.ItemStatus(status)
	it.Stability = model.Stability(stability)
	it.LastSeenAt = parseTime(lastSeen)
	it.LastReinforcedAt = parseTime(lastReinforced)
	it.Embedding = decodeVector(emb)
	it.Meta = unmarshalMeta(meta)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	return it, nil
}

func (s *SQLiteStore) GetMasterItem(ctx context.Context, id string) (*model.MasterItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+masterColumns+` FROM master_items WHERE id = ?`, id)
	it, err := scanMasterItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("master item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// FindMasterItem looks up an active item by exact claim text within a bucket,
// case-insensitively and ignoring surrounding whitespace. Deprecated and
// conflicted rows never match; a repeated claim gets a fresh active item
// instead of reviving dead history.
func (s *SQLiteStore) FindMasterItem(ctx context.Context, userID string, bucket model.Bucket, text string) (*model.MasterItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+masterColumns+` FROM master_items
		 WHERE user_id = ? AND bucket = ? AND status = ?
		   AND lower(trim(text)) = lower(trim(?))
		 ORDER BY created_at LIMIT 1`,
		userID, string(bucket), string(model.StatusActive), text)
	it, err := scanMasterItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("master item %q: %w", strings.TrimSpace(text), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *SQLiteStore) ActiveMasterItems(ctx context.Context, userID string, bucket model.Bucket) ([]model.MasterItem, error) {
	return s.ListMasterItems(ctx, ListMasterItemsParams{
		UserID: userID,
		Bucket: bucket,
		Status: model.StatusActive,
	})
}

func (s *SQLiteStore) ListMasterItems(ctx context.Context, p ListMasterItemsParams) ([]model.MasterItem, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 200
	}

	q := `SELECT ` + masterColumns + ` FROM master_items WHERE user_id = ?`
	args := []any{p.UserID}
	if p.Bucket != "" {
		q += ` AND bucket = ?`
		args = append(args, string(p.Bucket))
	}
	if p.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(p.Status))
	}
	q += ` ORDER BY confidence DESC, reinforcement_count DESC, updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MasterItem
	for rows.Next() {
		it, err := scanMasterItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertMasterItem(ctx context.Context, p InsertMasterItemParams) (*model.MasterItem, error) {
	if strings.TrimSpace(p.Text) == "" {
		return nil, model.Invalid("text", "required")
	}
	bucket, err := model.ParseBucket(string(p.Bucket))
	if err != nil {
		return nil, err
	}
	status := p.Status
	if status == "" {
		status = model.StatusActive
	}
	stability := p.Stability
	if stability == "" {
		stability = model.StabilityMed
	}

	ts := now()
	it := &model.MasterItem{
		ID:                 s.newID(),
		UserID:             p.UserID,
		Bucket:             bucket,
		Text:               strings.TrimSpace(p.Text),
		Status:             status,
		Stability:          stability,
		Confidence:         model.ClampConfidence(p.Confidence),
		ReinforcementCount: 0,
		LastSeenAt:         ts,
		LastReinforcedAt:   ts,
		Embedding:          p.Embedding,
		Meta:               p.Meta,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO master_items
		 (id, user_id, bucket, text, status, stability, confidence,
		  reinforcement_count, last_seen_at, last_reinforced_at, embedding,
		  meta, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.UserID, string(it.Bucket), it.Text, string(it.Status),
		string(it.Stability), it.Confidence, formatTime(ts), formatTime(ts),
		encodeVector(it.Embedding), marshalMeta(it.Meta),
		formatTime(ts), formatTime(ts))
	if err != nil {
		return nil, fmt.Errorf("insert master item: %w", err)
	}
	return it, nil
}

// ReinforceMasterItem bumps the reinforcement counter and raises confidence.
// Confidence never decreases here; a stored embedding is kept unless the row
// had none.
func (s *SQLiteStore) ReinforceMasterItem(ctx context.Context, p ReinforceParams) (*model.MasterItem, error) {
	ts := formatTime(now())
	stability := nullStr(string(p.Stability))
	res, err := s.db.ExecContext(ctx,
		`UPDATE master_items SET
			confidence = max(confidence, ?),
			reinforcement_count = reinforcement_count + 1,
			stability = COALESCE(?, stability),
			embedding = COALESCE(embedding, ?),
			meta = json_patch(COALESCE(meta, '{}'), COALESCE(?, '{}')),
			last_seen_at = ?,
			last_reinforced_at = ?,
			updated_at = ?
		 WHERE id = ?`,
		model.ClampConfidence(p.Confidence), stability, encodeVector(p.Embedding),
		marshalMeta(p.MetaPatch), ts, ts, ts, p.ID)
	if err != nil {
		return nil, fmt.Errorf("reinforce master item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, fmt.Errorf("master item %s: %w", p.ID, ErrNotFound)
	}
	return s.GetMasterItem(ctx, p.ID)
}

func (s *SQLiteStore) SetMasterItemStatus(ctx context.Context, id string, status model.ItemStatus, metaPatch model.Meta) error {
	if _, err := model.ParseStatus(string(status)); err != nil {
		return err
	}
	ts := formatTime(now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE master_items SET
			status = ?,
			meta = json_patch(COALESCE(meta, '{}'), COALESCE(?, '{}')),
			updated_at = ?
		 WHERE id = ?`,
		string(status), marshalMeta(metaPatch), ts, id)
	if err != nil {
		return fmt.Errorf("set master item status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("master item %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) AddEvidence(ctx context.Context, p EvidenceParams) (*model.Evidence, error) {
	if p.ThreadID == "" && p.EventID == "" && p.SummaryID == "" {
		return nil, model.Invalid("evidence", "at least one of thread_id, event_id, summary_id is required")
	}
	weight := p.Weight
	if weight <= 0 {
		weight = 1.0
	}

	ev := &model.Evidence{
		ID:           s.newID(),
		MasterItemID: p.MasterItemID,
		ThreadID:     p.ThreadID,
		EventID:      p.EventID,
		SummaryID:    p.SummaryID,
		Weight:       weight,
		Meta:         p.Meta,
		CreatedAt:    now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO master_evidence
		 (id, master_item_id, thread_id, event_id, summary_id, weight, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.MasterItemID, nullStr(ev.ThreadID), nullStr(ev.EventID),
		nullStr(ev.SummaryID), ev.Weight, marshalMeta(ev.Meta),
		formatTime(ev.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, fmt.Errorf("master item %s: %w", p.MasterItemID, ErrNotFound)
		}
		return nil, fmt.Errorf("insert evidence: %w", err)
	}
	return ev, nil
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, masterItemID string) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, master_item_id, thread_id, event_id, summary_id, weight, meta, created_at
		 FROM master_evidence WHERE master_item_id = ?
		 ORDER BY created_at, id`, masterItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		var threadID, eventID, summaryID, meta sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.MasterItemID, &threadID, &eventID,
			&summaryID, &ev.Weight, &meta, &createdAt); err != nil {
			return nil, err
		}
		ev.ThreadID = threadID.String
		ev.EventID = eventID.String
		ev.SummaryID = summaryID.String
		ev.Meta = unmarshalMeta(meta)
		ev.CreatedAt = parseTime(createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}
