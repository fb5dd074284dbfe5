// Package retrieve composes memory context for a query: the thread's active
// summary, semantic neighbors from events, summaries, and master items, and
// the most recent events regardless of embedding coverage. Retrieval is
// read-only and fail-soft: a broken embedder empties the semantic lists but
// never fails the call.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cortexltm/ltm/internal/model"
	"github.com/cortexltm/ltm/internal/provider"
	"github.com/cortexltm/ltm/internal/store"
)

// Params scopes one retrieval.
type Params struct {
	UserID   string
	ThreadID string // optional; scopes the active summary and recent events
	Query    string
	K        int // per-list semantic result cap
	RecentN  int // recent events window
}

// Composer answers retrieval queries against the store.
type Composer struct {
	Store    store.Store
	Embedder provider.Embedder
	Logger   *slog.Logger
}

// New builds a Composer.
func New(st store.Store, emb provider.Embedder, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{Store: st, Embedder: emb, Logger: logger}
}

// Retrieve embeds the query once and assembles the memory context. The
// semantic lists share the single query vector; recent events and the active
// summary are fetched regardless.
func (c *Composer) Retrieve(ctx context.Context, p Params) (*model.MemoryContext, error) {
	if p.UserID == "" {
		return nil, model.Invalid("user_id", "required")
	}
	k := p.K
	if k <= 0 {
		k = 5
	}

	out := &model.MemoryContext{}

	if p.ThreadID != "" {
		sm, err := c.Store.ActiveSummary(ctx, p.ThreadID)
		switch {
		case err == nil:
			out.ActiveSummary = sm
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("active summary: %w", err)
		}

		if p.RecentN > 0 {
			recent, err := c.Store.RecentEvents(ctx, p.ThreadID, p.RecentN)
			if err != nil {
				return nil, fmt.Errorf("recent events: %w", err)
			}
			// Most recent first for consumers rendering "latest context".
			for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
				recent[i], recent[j] = recent[j], recent[i]
			}
			out.RecentEvents = recent
		}
	}

	if p.Query == "" {
		return out, nil
	}

	vec, err := c.Embedder.Embed(ctx, p.Query)
	if err != nil {
		c.Logger.Warn("query embedding failed, semantic lists empty",
			"user", p.UserID, "err", err)
		return out, nil
	}

	sp := store.SemanticParams{UserID: p.UserID, ThreadID: p.ThreadID, Vector: vec, K: k}

	if out.Events, err = c.Store.SearchEvents(ctx, sp); err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	if out.Summaries, err = c.Store.SearchSummaries(ctx, sp); err != nil {
		return nil, fmt.Errorf("search summaries: %w", err)
	}
	// Master memory is user-global; thread scoping does not apply.
	if out.MasterItems, err = c.Store.SearchMasterItems(ctx, store.SemanticParams{
		UserID: p.UserID, Vector: vec, K: k,
	}); err != nil {
		return nil, fmt.Errorf("search master items: %w", err)
	}

	return out, nil
}
