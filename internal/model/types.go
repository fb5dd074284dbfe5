// Package model defines the core long-term-memory data types.
package model

import "time"

// Actor identifies who produced an event.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
	ActorSystem    Actor = "system"
)

// Bucket classifies a master memory item. The set is closed; writes with an
// unknown bucket are rejected before touching the store.
type Bucket string

const (
	BucketProfile            Bucket = "PROFILE"
	BucketPreferences        Bucket = "PREFERENCES"
	BucketConstraints        Bucket = "CONSTRAINTS"
	BucketCommunicationStyle Bucket = "COMMUNICATION_STYLE"
	BucketLongRunningContext Bucket = "LONG_RUNNING_CONTEXT"
	BucketGoals              Bucket = "GOALS"
	BucketProjects           Bucket = "PROJECTS"
	BucketNextActions        Bucket = "NEXT_ACTIONS"
	BucketOpenLoops          Bucket = "OPEN_LOOPS"
)

// ItemStatus is the lifecycle state of a master memory item. Items are never
// hard-deleted; deprecation and conflict are status transitions.
type ItemStatus string

const (
	StatusActive     ItemStatus = "active"
	StatusDeprecated ItemStatus = "deprecated"
	StatusConflicted ItemStatus = "conflicted"
)

// Stability estimates how durable a claim is expected to be.
type Stability string

const (
	StabilityHigh Stability = "high"
	StabilityMed  Stability = "med"
	StabilityLow  Stability = "low"
)

// Meta is free-form metadata persisted as JSON.
type Meta map[string]any

// Thread is a conversation container owned by one user.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Meta      Meta      `json:"meta,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one immutable message within a thread. Events have no update path;
// ordering by creation time within a thread is load-bearing for turn pairing
// and recent-N retrieval.
type Event struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Actor      Actor     `json:"actor"`
	Content    string    `json:"content"`
	Importance int       `json:"importance"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Meta       Meta      `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary is a compacted representation of a contiguous event range of a
// thread (an episode). At most one summary per thread is active at a time;
// archived rows are immutable history.
type Summary struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	RangeStartID string    `json:"range_start_event_id,omitempty"`
	RangeEndID   string    `json:"range_end_event_id,omitempty"`
	Summary      string    `json:"summary"`
	Embedding    []float32 `json:"embedding,omitempty"`
	IsActive     bool      `json:"is_active"`
	Meta         Meta      `json:"meta,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MasterItem is a user-scoped, cross-thread factual claim.
type MasterItem struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Bucket             Bucket     `json:"bucket"`
	Text               string     `json:"text"`
	Status             ItemStatus `json:"status"`
	Stability          Stability  `json:"stability"`
	Confidence         float64    `json:"confidence"`
	ReinforcementCount int        `json:"reinforcement_count"`
	LastSeenAt         time.Time  `json:"last_seen_at"`
	LastReinforcedAt   time.Time  `json:"last_reinforced_at"`
	Embedding          []float32  `json:"embedding,omitempty"`
	Meta               Meta       `json:"meta,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Evidence is an append-only audit edge from a master item to its supporting
// thread, event, and/or summary. At least one pointer is always set.
type Evidence struct {
	ID           string    `json:"id"`
	MasterItemID string    `json:"master_item_id"`
	ThreadID     string    `json:"thread_id,omitempty"`
	EventID      string    `json:"event_id,omitempty"`
	SummaryID    string    `json:"summary_id,omitempty"`
	Weight       float64   `json:"weight"`
	Meta         Meta      `json:"meta,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventHit is an event returned by semantic search with its vector distance.
type EventHit struct {
	Event
	Distance float64 `json:"distance"`
}

// SummaryHit is a summary returned by semantic search with its vector distance.
type SummaryHit struct {
	Summary
	Distance float64 `json:"distance"`
}

// MasterItemHit is a master item returned by semantic search with its vector
// distance.
type MasterItemHit struct {
	MasterItem
	Distance float64 `json:"distance"`
}

// MemoryContext is the composed retrieval result: the active summary for the
// thread (if any), semantic neighbors from each store, and the most recent
// events regardless of embedding presence.
type MemoryContext struct {
	ActiveSummary *Summary        `json:"active_summary,omitempty"`
	Summaries     []SummaryHit    `json:"summaries"`
	Events        []EventHit      `json:"events"`
	MasterItems   []MasterItemHit `json:"master_items"`
	RecentEvents  []Event         `json:"recent_events"`
}
