// Package store provides durable storage for threads, events, summaries, and
// master memory, backed by SQLite with brute-force vector search over
// embedded rows.
package store

import (
	"context"
	"errors"

	"github.com/cortexltm/ltm/internal/model"
)

// ErrNotFound reports an unknown thread/event/summary/item id. It crosses the
// core boundary to callers.
var ErrNotFound = errors.New("not found")

// ErrActiveSummaryExists reports a violation of the one-active-summary-per-
// thread invariant. A racing consolidation must catch it, re-read state, and
// retry as an extend.
var ErrActiveSummaryExists = errors.New("thread already has an active summary")

// CreateThreadParams creates a conversation container.
type CreateThreadParams struct {
	UserID    string
	Title     string
	Embedding []float32
	Meta      model.Meta
}

// AppendEventParams appends one immutable message to a thread.
type AppendEventParams struct {
	ThreadID   string
	Actor      model.Actor
	Content    string
	Importance int
	Embedding  []float32
	Meta       model.Meta
}

// SummaryParams inserts a new active summary row.
type SummaryParams struct {
	ThreadID     string
	Text         string
	RangeStartID string
	RangeEndID   string
	Embedding    []float32
	Meta         model.Meta
}

// UpdateSummaryParams updates a thread's active summary in place.
type UpdateSummaryParams struct {
	ThreadID   string
	Text       string
	RangeEndID string
	Embedding  []float32
	MetaPatch  model.Meta
}

// InsertMasterItemParams creates a new master memory item.
type InsertMasterItemParams struct {
	UserID     string
	Bucket     model.Bucket
	Text       string
	Status     model.ItemStatus
	Stability  model.Stability
	Confidence float64
	Embedding  []float32
	Meta       model.Meta
}

// ReinforceParams strengthens an existing master item.
type ReinforceParams struct {
	ID         string
	Confidence float64 // only ever raises the stored value
	Stability  model.Stability
	Embedding  []float32 // kept only when the item has none yet
	MetaPatch  model.Meta
}

// ListMasterItemsParams filters the master item listing.
type ListMasterItemsParams struct {
	UserID string
	Bucket model.Bucket     // empty = all buckets
	Status model.ItemStatus // empty = all statuses
	Limit  int
}

// EvidenceParams appends an audit edge to a master item. At least one of
// ThreadID/EventID/SummaryID must be set.
type EvidenceParams struct {
	MasterItemID string
	ThreadID     string
	EventID      string
	SummaryID    string
	Weight       float64
	Meta         model.Meta
}

// SemanticParams is a nearest-neighbor query over one entity's embeddings.
type SemanticParams struct {
	UserID   string
	ThreadID string // optional scope narrowing for events/summaries
	Vector   []float32
	K        int
}

// Store is the storage interface consumed by the pipeline components.
type Store interface {
	// Threads
	CreateThread(ctx context.Context, p CreateThreadParams) (*model.Thread, error)
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	ListThreads(ctx context.Context, userID string, limit int) ([]model.Thread, error)
	DeleteThread(ctx context.Context, id string) error

	// Events (append-only)
	AppendEvent(ctx context.Context, p AppendEventParams) (*model.Event, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	RecentEvents(ctx context.Context, threadID string, limit int) ([]model.Event, error)
	// EventsAfter returns events strictly after afterEventID in creation
	// order, or from the start of the thread when afterEventID is empty.
	EventsAfter(ctx context.Context, threadID, afterEventID string, limit int) ([]model.Event, error)

	// Summaries
	ActiveSummary(ctx context.Context, threadID string) (*model.Summary, error)
	GetSummary(ctx context.Context, id string) (*model.Summary, error)
	ListSummaries(ctx context.Context, threadID string, includeArchived bool, limit int) ([]model.Summary, error)
	InsertActiveSummary(ctx context.Context, p SummaryParams) (*model.Summary, error)
	UpdateActiveSummary(ctx context.Context, p UpdateSummaryParams) (*model.Summary, error)
	// SwitchActiveSummary archives the current active row and inserts a new
	// active one in a single transaction.
	SwitchActiveSummary(ctx context.Context, p SummaryParams) (*model.Summary, error)

	// Master memory
	GetMasterItem(ctx context.Context, id string) (*model.MasterItem, error)
	FindMasterItem(ctx context.Context, userID string, bucket model.Bucket, text string) (*model.MasterItem, error)
	ActiveMasterItems(ctx context.Context, userID string, bucket model.Bucket) ([]model.MasterItem, error)
	ListMasterItems(ctx context.Context, p ListMasterItemsParams) ([]model.MasterItem, error)
	InsertMasterItem(ctx context.Context, p InsertMasterItemParams) (*model.MasterItem, error)
	ReinforceMasterItem(ctx context.Context, p ReinforceParams) (*model.MasterItem, error)
	SetMasterItemStatus(ctx context.Context, id string, status model.ItemStatus, metaPatch model.Meta) error
	AddEvidence(ctx context.Context, p EvidenceParams) (*model.Evidence, error)
	ListEvidence(ctx context.Context, masterItemID string) ([]model.Evidence, error)

	// Semantic search (ascending distance, most-recent tie-break)
	SearchEvents(ctx context.Context, p SemanticParams) ([]model.EventHit, error)
	SearchSummaries(ctx context.Context, p SemanticParams) ([]model.SummaryHit, error)
	SearchMasterItems(ctx context.Context, p SemanticParams) ([]model.MasterItemHit, error)

	Close() error
}
