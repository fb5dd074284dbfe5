// Package memory is the top-level service tying the pipeline together. An
// appended event is validated, scored, and durably written. Everything
// downstream of the write is best-effort enrichment that can never fail the
// append.
package memory

import (
	"context"
	"log/slog"

	"github.com/cortexltm/ltm/internal/config"
	"github.com/cortexltm/ltm/internal/consolidate"
	"github.com/cortexltm/ltm/internal/heuristic"
	"github.com/cortexltm/ltm/internal/master"
	"github.com/cortexltm/ltm/internal/model"
	"github.com/cortexltm/ltm/internal/provider"
	"github.com/cortexltm/ltm/internal/retrieve"
	"github.com/cortexltm/ltm/internal/store"
)

// Service exposes the write and read pipelines over one store.
type Service struct {
	Store  store.Store
	Policy config.Policy

	embedder     provider.Embedder
	consolidator *consolidate.Consolidator
	extractor    *master.Extractor
	composer     *retrieve.Composer
	logger       *slog.Logger
}

// New wires the pipeline components around the given collaborators.
func New(st store.Store, emb provider.Embedder, gen provider.Generator, pol config.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:        st,
		Policy:       pol,
		embedder:     emb,
		consolidator: consolidate.New(st, emb, gen, pol, logger),
		extractor:    master.New(st, emb, gen, pol, logger),
		composer:     retrieve.New(st, emb, logger),
		logger:       logger,
	}
}

// AppendParams describes one incoming message.
type AppendParams struct {
	ThreadID string
	Actor    string
	Content  string
	Meta     model.Meta

	// Importance, when non-nil, replaces the scorer's verdict.
	Importance *int
	// ForceEmbed embeds the event regardless of its importance.
	ForceEmbed bool
}

// AppendEvent validates and durably writes the event, then runs the
// enrichment pipeline. The append succeeds whenever validation passes; cue
// scanning, consolidation, and extraction absorb their own failures.
func (s *Service) AppendEvent(ctx context.Context, p AppendParams) (*model.Event, error) {
	actor, err := model.ParseActor(p.Actor)
	if err != nil {
		return nil, err
	}

	th, err := s.Store.GetThread(ctx, p.ThreadID)
	if err != nil {
		return nil, err
	}

	importance := 0
	if actor == model.ActorUser {
		importance = heuristic.Importance(p.Content)
	}
	if p.Importance != nil {
		importance = *p.Importance
	}

	// Identity-grade events are embedded at write time so they are
	// immediately searchable; a failed embed stores the event unembedded.
	var vec []float32
	if p.ForceEmbed || importance >= heuristic.ImportanceIdentity {
		v, embErr := s.embedder.Embed(ctx, p.Content)
		if embErr != nil {
			s.logger.Warn("event embedding failed", "thread", p.ThreadID, "err", embErr)
		} else {
			vec = v
		}
	}

	event, err := s.Store.AppendEvent(ctx, store.AppendEventParams{
		ThreadID:   p.ThreadID,
		Actor:      actor,
		Content:    p.Content,
		Importance: importance,
		Embedding:  vec,
		Meta:       p.Meta,
	})
	if err != nil {
		return nil, err
	}

	s.enrich(ctx, th.UserID, event)
	return event, nil
}

// enrich runs the post-append pipeline. Every step is fail-soft.
// Consolidation only runs once an assistant reply closes the turn; running it
// on a user append could move the summary cursor onto a user event whose
// reply has not landed yet, stranding that reply outside every future window.
func (s *Service) enrich(ctx context.Context, userID string, event *model.Event) {
	if event.Actor == model.ActorUser {
		if outcome, ok := s.extractor.CueScan(ctx, userID, event); ok {
			s.logger.Debug("cue claim written",
				"thread", event.ThreadID, "outcome", string(outcome))
		}
		// Identity-grade statements go through full extraction right away
		// instead of waiting for the next summary write.
		if event.Importance >= heuristic.ImportanceIdentity {
			s.runExtraction(ctx, userID, event.ThreadID, "")
		}
		return
	}
	if event.Actor != model.ActorAssistant {
		return
	}

	res, err := s.consolidator.Maybe(ctx, event.ThreadID)
	if err != nil {
		s.logger.Warn("consolidation failed", "thread", event.ThreadID, "err", err)
		return
	}
	if res.Written {
		s.runExtraction(ctx, userID, event.ThreadID, res.Summary.ID)
	}
}

func (s *Service) runExtraction(ctx context.Context, userID, threadID, summaryID string) {
	outcomes, err := s.extractor.ExtractThread(ctx, userID, threadID, summaryID)
	if err != nil {
		s.logger.Warn("extraction failed", "thread", threadID, "err", err)
		return
	}
	if len(outcomes) > 0 {
		s.logger.Info("claims extracted", "thread", threadID, "count", len(outcomes))
	}
}

// CreateThread opens a new conversation container.
func (s *Service) CreateThread(ctx context.Context, userID, title string) (*model.Thread, error) {
	return s.Store.CreateThread(ctx, store.CreateThreadParams{UserID: userID, Title: title})
}

// Retrieve composes memory context for a query.
func (s *Service) Retrieve(ctx context.Context, p retrieve.Params) (*model.MemoryContext, error) {
	if p.K <= 0 {
		p.K = 5
	}
	if p.RecentN <= 0 {
		p.RecentN = s.Policy.RecentEvents
	}
	return s.composer.Retrieve(ctx, p)
}

// ForceSummarize consolidates the thread now, ignoring the debounce and the
// meaningful-turn gate, and runs extraction on a successful write.
func (s *Service) ForceSummarize(ctx context.Context, threadID string) (*consolidate.Result, error) {
	th, err := s.Store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	res, err := s.consolidator.Force(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if res.Written {
		s.runExtraction(ctx, th.UserID, threadID, res.Summary.ID)
	}
	return res, nil
}
