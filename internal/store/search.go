package store

import (
	"context"
	"sort"

	"github.com/cortexltm/ltm/internal/model"
)

// Semantic search runs a brute-force cosine scan over the filtered rows.
// Rows without an embedding never match. Ties on distance break toward the
// most recently created row.

func (s *SQLiteStore) SearchEvents(ctx context.Context, p SemanticParams) ([]model.EventHit, error) {
	if len(p.Vector) == 0 || p.K <= 0 {
		return nil, nil
	}

	q := `SELECT e.id, e.thread_id, e.actor, e.content, e.importance,
			e.embedding, e.meta, e.created_at
		  FROM events e JOIN threads t ON t.id = e.thread_id
		  WHERE t.user_id = ? AND e.embedding IS NOT NULL`
	args := []any{p.UserID}
	if p.ThreadID != "" {
		q += ` AND e.thread_id = ?`
		args = append(args, p.ThreadID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []model.EventHit
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, model.EventHit{
			Event:    e,
			Distance: cosineDistance(p.Vector, e.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > p.K {
		hits = hits[:p.K]
	}
	return hits, nil
}

func (s *SQLiteStore) SearchSummaries(ctx context.Context, p SemanticParams) ([]model.SummaryHit, error) {
	if len(p.Vector) == 0 || p.K <= 0 {
		return nil, nil
	}

	q := `SELECT s.id, s.thread_id, s.range_start_event_id, s.range_end_event_id,
			s.summary, s.embedding, s.is_active, s.meta, s.created_at, s.updated_at
		  FROM summaries s JOIN threads t ON t.id = s.thread_id
		  WHERE t.user_id = ? AND s.embedding IS NOT NULL`
	args := []any{p.UserID}
	if p.ThreadID != "" {
		q += ` AND s.thread_id = ?`
		args = append(args, p.ThreadID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []model.SummaryHit
	for rows.Next() {
		sm, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, model.SummaryHit{
			Summary:  sm,
			Distance: cosineDistance(p.Vector, sm.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > p.K {
		hits = hits[:p.K]
	}
	return hits, nil
}

func (s *SQLiteStore) SearchMasterItems(ctx context.Context, p SemanticParams) ([]model.MasterItemHit, error) {
	if len(p.Vector) == 0 || p.K <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+masterColumns+` FROM master_items
		 WHERE user_id = ? AND status = 'active' AND embedding IS NOT NULL`,
		p.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []model.MasterItemHit
	for rows.Next() {
		it, err := scanMasterItem(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, model.MasterItemHit{
			MasterItem: it,
			Distance:   cosineDistance(p.Vector, it.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > p.K {
		hits = hits[:p.K]
	}
	return hits, nil
}
