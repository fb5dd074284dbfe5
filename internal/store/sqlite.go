package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/cortexltm/ltm/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		title      TEXT,
		embedding  BLOB,
		meta       TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		actor      TEXT NOT NULL CHECK (actor IN ('user','assistant','system')),
		content    TEXT NOT NULL,
		importance INTEGER NOT NULL DEFAULT 0,
		embedding  BLOB,
		meta       TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_id, created_at, id);

	CREATE TABLE IF NOT EXISTS summaries (
		id                   TEXT PRIMARY KEY,
		thread_id            TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		range_start_event_id TEXT,
		range_end_event_id   TEXT,
		summary              TEXT NOT NULL,
		embedding            BLOB,
		is_active            INTEGER NOT NULL DEFAULT 0,
		meta                 TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_thread ON summaries(thread_id, created_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_summaries_one_active
		ON summaries(thread_id) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS master_items (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		bucket              TEXT NOT NULL CHECK (bucket IN (
			'PROFILE','PREFERENCES','CONSTRAINTS','COMMUNICATION_STYLE',
			'LONG_RUNNING_CONTEXT','GOALS','PROJECTS','NEXT_ACTIONS','OPEN_LOOPS')),
		text                TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'active'
			CHECK (status IN ('active','deprecated','conflicted')),
		stability           TEXT NOT NULL DEFAULT 'med'
			CHECK (stability IN ('high','med','low')),
		confidence          REAL NOT NULL DEFAULT 0.5
			CHECK (confidence >= 0.0 AND confidence <= 1.0),
		reinforcement_count INTEGER NOT NULL DEFAULT 0,
		last_seen_at        TEXT NOT NULL,
		last_reinforced_at  TEXT NOT NULL,
		embedding           BLOB,
		meta                TEXT,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_master_user_bucket ON master_items(user_id, bucket, status);

	CREATE TABLE IF NOT EXISTS master_evidence (
		id             TEXT PRIMARY KEY,
		master_item_id TEXT NOT NULL REFERENCES master_items(id) ON DELETE CASCADE,
		thread_id      TEXT,
		event_id       TEXT,
		summary_id     TEXT,
		weight         REAL NOT NULL DEFAULT 1.0,
		meta           TEXT,
		created_at     TEXT NOT NULL,
		CHECK (thread_id IS NOT NULL OR event_id IS NOT NULL OR summary_id IS NOT NULL)
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_item ON master_evidence(master_item_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation detects the partial-unique-index conflict raised when a
// second active summary is inserted for the same thread.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func now() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalMeta(m model.Meta) any {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalMeta(s sql.NullString) model.Meta {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m model.Meta
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return model.Meta{"_raw": s.String}
	}
	return m
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Threads ---

func (s *SQLiteStore) CreateThread(ctx context.Context, p CreateThreadParams) (*model.Thread, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, model.Invalid("user_id", "required")
	}

	t := &model.Thread{
		ID:        s.newID(),
		UserID:    p.UserID,
		Title:     p.Title,
		Embedding: p.Embedding,
		Meta:      p.Meta,
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, user_id, title, embedding, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullStr(t.Title), encodeVector(t.Embedding),
		marshalMeta(t.Meta), formatTime(t.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, embedding, meta, created_at
		 FROM threads WHERE id = ?`, id)

	var t model.Thread
	var title, meta sql.NullString
	var emb []byte
	var createdAt string
	err := row.Scan(&t.ID, &t.UserID, &title, &emb, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	t.Title = title.String
	t.Embedding = decodeVector(emb)
	t.Meta = unmarshalMeta(meta)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context, userID string, limit int) ([]model.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, embedding, meta, created_at
		 FROM threads WHERE user_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Thread
	for rows.Next() {
		var t model.Thread
		var title, meta sql.NullString
		var emb []byte
		var createdAt string
		if err := rows.Scan(&t.ID, &t.UserID, &title, &emb, &meta, &createdAt); err != nil {
			return nil, err
		}
		t.Title = title.String
		t.Embedding = decodeVector(emb)
		t.Meta = unmarshalMeta(meta)
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Evidence is owned by master items but audit edges into this thread's
	// rows go away with the thread.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM master_evidence
		 WHERE thread_id = ?
		    OR event_id IN (SELECT id FROM events WHERE thread_id = ?)
		    OR summary_id IN (SELECT id FROM summaries WHERE thread_id = ?)`,
		id, id, id)
	if err != nil {
		return fmt.Errorf("delete evidence: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// --- Events ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, p AppendEventParams) (*model.Event, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, model.Invalid("content", "required")
	}

	e := &model.Event{
		ID:         s.newID(),
		ThreadID:   p.ThreadID,
		Actor:      p.Actor,
		Content:    p.Content,
		Importance: p.Importance,
		Embedding:  p.Embedding,
		Meta:       p.Meta,
		CreatedAt:  now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, thread_id, actor, content, importance, embedding, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ThreadID, string(e.Actor), e.Content, e.Importance,
		encodeVector(e.Embedding), marshalMeta(e.Meta), formatTime(e.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, fmt.Errorf("thread %s: %w", p.ThreadID, ErrNotFound)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

const eventColumns = `id, thread_id, actor, content, importance, embedding, meta, created_at`

func scanEvent(row scanner) (model.Event, error) {
	var e model.Event
	var actor, createdAt string
	var meta sql.NullString
	var emb []byte
	err := row.Scan(&e.ID, &e.ThreadID, &actor, &e.Content, &e.Importance, &emb, &meta, &createdAt)
	if err != nil {
		return e, err
	}
	e.Actor = model.Actor(actor)
	e.Embedding = decodeVector(emb)
	e.Meta = unmarshalMeta(meta)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, threadID string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE thread_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	// Fetched newest-first to apply the limit; callers want chronology.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *SQLiteStore) EventsAfter(ctx context.Context, threadID, afterEventID string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 120
	}

	var rows *sql.Rows
	var err error
	if afterEventID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE thread_id = ?
			 ORDER BY created_at, id LIMIT ?`, threadID, limit)
	} else {
		after, gerr := s.GetEvent(ctx, afterEventID)
		if gerr != nil {
			return nil, gerr
		}
		cutoff := formatTime(after.CreatedAt)
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE thread_id = ?
			   AND (created_at > ? OR (created_at = ? AND id > ?))
			 ORDER BY created_at, id LIMIT ?`,
			threadID, cutoff, cutoff, after.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}
