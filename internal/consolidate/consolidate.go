// Package consolidate maintains each thread's rolling summary. A consolidation
// pass folds newly accumulated meaningful turns into the active summary,
// extending it in place, or archiving it and opening a new episode when the
// topic shifts. Provider failures always degrade to a deterministic local path; a
// consolidation never blocks or fails an event append.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cortexltm/ltm/internal/config"
	"github.com/cortexltm/ltm/internal/model"
	"github.com/cortexltm/ltm/internal/provider"
	"github.com/cortexltm/ltm/internal/store"
	"github.com/cortexltm/ltm/internal/turns"
)

const (
	// transcriptLineMax bounds each transcript line handed to the generator.
	transcriptLineMax = 220

	// autoWireExcerptMax bounds the summary excerpt carried into master
	// memory by the auto-wire step.
	autoWireExcerptMax = 200

	autoWireConfidence = 0.6
)

const summarySystemPrompt = `You maintain a running summary of a conversation between a user and an assistant.
Write a compact third-person summary of what the user is doing, deciding, and asking about.
Keep durable facts, goals, deadlines, and open questions. Drop greetings and filler.
Reply with the summary text only.`

// Reason labels why a consolidation pass did or did not write.
type Reason string

const (
	ReasonInit       Reason = "init"
	ReasonExtend     Reason = "extend"
	ReasonTopicShift Reason = "topic_shift"
	ReasonDebounce   Reason = "debounce"
	ReasonBelowGate  Reason = "below_gate"
	ReasonNoEvents   Reason = "no_events"
)

// Result reports the outcome of one consolidation pass.
type Result struct {
	Written bool
	Reason  Reason
	Summary *model.Summary
}

// Consolidator runs the rolling-summary state machine for one store.
type Consolidator struct {
	Store     store.Store
	Embedder  provider.Embedder
	Generator provider.Generator
	Policy    config.Policy
	Logger    *slog.Logger

	// clock is swappable for debounce tests.
	clock func() time.Time
}

// New builds a Consolidator with the given collaborators.
func New(st store.Store, emb provider.Embedder, gen provider.Generator, pol config.Policy, logger *slog.Logger) *Consolidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{
		Store:     st,
		Embedder:  emb,
		Generator: gen,
		Policy:    pol,
		Logger:    logger,
		clock:     time.Now,
	}
}

// Maybe runs one consolidation pass for the thread, honoring the write
// debounce and the meaningful-turn gate.
func (c *Consolidator) Maybe(ctx context.Context, threadID string) (*Result, error) {
	return c.run(ctx, threadID, false)
}

// Force runs a consolidation pass ignoring the debounce; when no turn passes
// the meaningfulness gate it falls back to every complete turn so short
// threads can still be summarized.
func (c *Consolidator) Force(ctx context.Context, threadID string) (*Result, error) {
	return c.run(ctx, threadID, true)
}

func (c *Consolidator) run(ctx context.Context, threadID string, force bool) (*Result, error) {
	th, err := c.Store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	active, err := c.Store.ActiveSummary(ctx, threadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("read active summary: %w", err)
	}

	if active != nil && !force {
		if wait := c.Policy.SummaryDebounce.Std() - c.clock().Sub(active.UpdatedAt); wait > 0 {
			c.Logger.Debug("consolidation debounced",
				"thread", threadID, "retry_in", wait.Round(time.Second))
			return &Result{Reason: ReasonDebounce}, nil
		}
	}

	afterID := ""
	if active != nil {
		afterID = active.RangeEndID
	}
	events, err := c.Store.EventsAfter(ctx, threadID, afterID, c.Policy.LookbackCap)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}
	if len(events) == 0 {
		return &Result{Reason: ReasonNoEvents}, nil
	}
	atCap := len(events) >= c.Policy.LookbackCap

	all := turns.Build(events)
	if !force {
		// A trailing unanswered turn is still mid-exchange. It stays ahead
		// of the cursor until its reply lands, otherwise the reply would be
		// orphaned behind range_end and dropped from every later window.
		if n := len(all); n > 0 && all[n-1].Assistant == nil {
			all = all[:n-1]
		}
	}
	window := turns.Meaningful(all)
	if len(window) == 0 && (force || atCap) {
		window = complete(all)
	}
	if len(window) == 0 && atCap {
		// A cap-sized window of chatter must still advance the cursor, or
		// the thread can never reach the events beyond it.
		window = all
	}
	if len(window) == 0 {
		return &Result{Reason: ReasonBelowGate}, nil
	}
	if len(window) < c.Policy.MeaningfulTurnTarget && !force && !atCap {
		c.Logger.Debug("below turn target",
			"thread", threadID, "turns", len(window), "target", c.Policy.MeaningfulTurnTarget)
		return &Result{Reason: ReasonBelowGate}, nil
	}
	if len(window) > c.Policy.MeaningfulTurnTarget {
		window = window[:c.Policy.MeaningfulTurnTarget]
	}
	rangeEnd := window[len(window)-1].EndEventID()

	priorText := ""
	if active != nil {
		priorText = active.Summary
	}
	candidate := c.summarize(ctx, priorText, window)

	// All provider work happens before any transaction opens.
	candVec, embErr := c.Embedder.Embed(ctx, candidate)
	if embErr != nil {
		c.Logger.Warn("candidate embedding failed, treating as extend",
			"thread", threadID, "err", embErr)
	}

	var written *model.Summary
	reason := ReasonInit
	switch {
	case active == nil:
		written, err = c.insertFirst(ctx, threadID, candidate, candVec, events[0].ID, rangeEnd)
	case c.isTopicShift(ctx, active, candVec, embErr):
		reason = ReasonTopicShift
		fresh := c.summarize(ctx, "", window)
		freshVec, ferr := c.Embedder.Embed(ctx, fresh)
		if ferr != nil {
			c.Logger.Warn("fresh episode embedding failed", "thread", threadID, "err", ferr)
			freshVec = nil
		}
		written, err = c.Store.SwitchActiveSummary(ctx, store.SummaryParams{
			ThreadID:     threadID,
			Text:         fresh,
			RangeStartID: window[0].User.ID,
			RangeEndID:   rangeEnd,
			Embedding:    freshVec,
			Meta:         model.Meta{"reason": string(ReasonTopicShift)},
		})
	default:
		reason = ReasonExtend
		written, err = c.Store.UpdateActiveSummary(ctx, store.UpdateSummaryParams{
			ThreadID:   threadID,
			Text:       candidate,
			RangeEndID: rangeEnd,
			Embedding:  candVec,
			MetaPatch:  model.Meta{"reason": string(ReasonExtend)},
		})
	}
	if err != nil {
		return nil, err
	}

	c.Logger.Info("summary written",
		"thread", threadID, "reason", string(reason), "turns", len(window))
	c.autoWire(ctx, th.UserID, written)

	return &Result{Written: true, Reason: reason, Summary: written}, nil
}

// insertFirst creates the thread's first summary. A racing writer that lands
// first trips the unique index; the loser re-reads and retries once as an
// extend.
func (c *Consolidator) insertFirst(ctx context.Context, threadID, text string, vec []float32, rangeStart, rangeEnd string) (*model.Summary, error) {
	sm, err := c.Store.InsertActiveSummary(ctx, store.SummaryParams{
		ThreadID:     threadID,
		Text:         text,
		RangeStartID: rangeStart,
		RangeEndID:   rangeEnd,
		Embedding:    vec,
		Meta:         model.Meta{"reason": string(ReasonInit)},
	})
	if err == nil {
		return sm, nil
	}
	if !errors.Is(err, store.ErrActiveSummaryExists) {
		return nil, err
	}

	c.Logger.Warn("lost insert race, retrying as extend", "thread", threadID)
	return c.Store.UpdateActiveSummary(ctx, store.UpdateSummaryParams{
		ThreadID:   threadID,
		Text:       text,
		RangeEndID: rangeEnd,
		Embedding:  vec,
		MetaPatch:  model.Meta{"reason": string(ReasonExtend)},
	})
}

// isTopicShift compares the candidate against the prior summary. Without a
// usable pair of vectors the safe answer is no shift.
func (c *Consolidator) isTopicShift(ctx context.Context, active *model.Summary, candVec []float32, embErr error) bool {
	if embErr != nil || len(candVec) == 0 {
		return false
	}
	priorVec := active.Embedding
	if len(priorVec) == 0 {
		var err error
		priorVec, err = c.Embedder.Embed(ctx, active.Summary)
		if err != nil {
			c.Logger.Warn("prior embedding failed, treating as extend",
				"thread", active.ThreadID, "err", err)
			return false
		}
	}
	return provider.Cosine(priorVec, candVec) < c.Policy.TopicShiftMinCosine
}

// summarize asks the generator for a candidate summary; on failure it degrades
// to a deterministic concatenation of the window's user lines.
func (c *Consolidator) summarize(ctx context.Context, prior string, window []turns.Turn) string {
	var b strings.Builder
	if prior != "" {
		b.WriteString("Current summary:\n")
		b.WriteString(prior)
		b.WriteString("\n\nNew conversation turns:\n")
	} else {
		b.WriteString("Conversation turns:\n")
	}
	b.WriteString(Transcript(window))

	out, err := c.Generator.Generate(ctx, summarySystemPrompt, []provider.Message{
		{Role: provider.RoleUser, Content: b.String()},
	})
	if err == nil {
		if text := strings.TrimSpace(out); text != "" {
			return text
		}
	}
	if err != nil {
		c.Logger.Warn("summary generation failed, using heuristic fallback", "err", err)
	}
	return FallbackSummary(prior, window)
}

// Transcript renders a turn window as alternating USER/ASSISTANT lines, each
// truncated so one long message cannot dominate the prompt.
func Transcript(window []turns.Turn) string {
	var b strings.Builder
	for _, t := range window {
		b.WriteString("USER: ")
		b.WriteString(truncateLine(t.UserText()))
		b.WriteString("\n")
		if a := t.AssistantText(); a != "" {
			b.WriteString("ASSISTANT: ")
			b.WriteString(truncateLine(a))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FallbackSummary is the deterministic degradation path: the prior text (if
// any) followed by one bullet per user message in the window.
func FallbackSummary(prior string, window []turns.Turn) string {
	var b strings.Builder
	if prior != "" {
		b.WriteString(prior)
		b.WriteString("\n")
	}
	for _, t := range window {
		b.WriteString("- ")
		b.WriteString(truncateLine(t.UserText()))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateLine(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= transcriptLineMax {
		return s
	}
	return s[:transcriptLineMax] + "…"
}

// complete keeps turns that have both sides, the force-path fallback when
// nothing passes the meaningfulness gate.
func complete(all []turns.Turn) []turns.Turn {
	var out []turns.Turn
	for _, t := range all {
		if t.User != nil && t.Assistant != nil {
			out = append(out, t)
		}
	}
	return out
}

// autoWire keeps one LONG_RUNNING_CONTEXT master item per thread in step with
// the thread's summary. A stale excerpt is deprecated and replaced rather than
// edited; master items only ever move forward through status transitions.
// Failures are logged and dropped so a summary write never rolls back.
func (c *Consolidator) autoWire(ctx context.Context, userID string, sm *model.Summary) {
	excerpt := summaryExcerpt(sm.Summary)
	if excerpt == "" {
		return
	}

	items, err := c.Store.ListMasterItems(ctx, store.ListMasterItemsParams{
		UserID: userID,
		Bucket: model.BucketLongRunningContext,
		Status: model.StatusActive,
	})
	if err != nil {
		c.Logger.Warn("auto-wire lookup failed", "thread", sm.ThreadID, "err", err)
		return
	}

	var existing *model.MasterItem
	for i := range items {
		if tid, _ := items[i].Meta["thread_id"].(string); tid == sm.ThreadID {
			existing = &items[i]
			break
		}
	}

	if existing != nil && strings.EqualFold(strings.TrimSpace(existing.Text), excerpt) {
		if _, err := c.Store.ReinforceMasterItem(ctx, store.ReinforceParams{
			ID:         existing.ID,
			Confidence: autoWireConfidence,
		}); err != nil {
			c.Logger.Warn("auto-wire reinforce failed", "item", existing.ID, "err", err)
			return
		}
		c.addWireEvidence(ctx, existing.ID, sm)
		return
	}

	if existing != nil {
		if err := c.Store.SetMasterItemStatus(ctx, existing.ID, model.StatusDeprecated,
			model.Meta{"superseded_by_summary": sm.ID}); err != nil {
			c.Logger.Warn("auto-wire deprecate failed", "item", existing.ID, "err", err)
			return
		}
	}

	item, err := c.Store.InsertMasterItem(ctx, store.InsertMasterItemParams{
		UserID:     userID,
		Bucket:     model.BucketLongRunningContext,
		Text:       excerpt,
		Stability:  model.StabilityLow,
		Confidence: autoWireConfidence,
		Embedding:  sm.Embedding,
		Meta:       model.Meta{"thread_id": sm.ThreadID, "source": "summary"},
	})
	if err != nil {
		c.Logger.Warn("auto-wire insert failed", "thread", sm.ThreadID, "err", err)
		return
	}
	c.addWireEvidence(ctx, item.ID, sm)
}

func (c *Consolidator) addWireEvidence(ctx context.Context, itemID string, sm *model.Summary) {
	if _, err := c.Store.AddEvidence(ctx, store.EvidenceParams{
		MasterItemID: itemID,
		ThreadID:     sm.ThreadID,
		SummaryID:    sm.ID,
	}); err != nil {
		c.Logger.Warn("auto-wire evidence failed", "item", itemID, "err", err)
	}
}

func summaryExcerpt(text string) string {
	t := strings.TrimSpace(text)
	if idx := strings.IndexByte(t, '\n'); idx > 0 {
		t = strings.TrimSpace(t[:idx])
	}
	if len(t) > autoWireExcerptMax {
		t = t[:autoWireExcerptMax] + "…"
	}
	return t
}
