// Package master maintains user-scoped master memory: durable claims
// extracted from conversation, bucketed, reinforced on re-sighting, and
// flagged on contradiction. Extraction runs off the write path and every
// failure degrades to a skipped cycle; master memory is an enrichment, never
// a gate.
package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cortexltm/ltm/internal/config"
	"github.com/cortexltm/ltm/internal/heuristic"
	"github.com/cortexltm/ltm/internal/model"
	"github.com/cortexltm/ltm/internal/provider"
	"github.com/cortexltm/ltm/internal/store"
)

const maxClaimLen = 220

const extractSystemPrompt = `You extract durable facts about the USER from conversation excerpts.
Return a JSON array; each element is {"text": string, "bucket": string, "confidence": number, "event_index": number}.
Buckets: PROFILE, PREFERENCES, CONSTRAINTS, COMMUNICATION_STYLE, LONG_RUNNING_CONTEXT, GOALS, PROJECTS, NEXT_ACTIONS, OPEN_LOOPS.
Only include facts likely to stay true beyond this conversation. Return [] when there are none.
Reply with the JSON array only, no prose.`

// bannedSubstrings filters boilerplate claims the generator tends to produce
// about the conversation itself instead of the user.
var bannedSubstrings = []string{
	"the user is asking",
	"the user wants to know",
	"the user said",
	"in this conversation",
	"the assistant",
	"no durable facts",
	"not enough information",
}

// claim is one row of the generator's JSON array.
type claim struct {
	Text       string  `json:"text"`
	Bucket     string  `json:"bucket"`
	Confidence float64 `json:"confidence"`
	EventIndex int     `json:"event_index"`
}

// Outcome labels what the upsert policy did with one claim.
type Outcome string

const (
	OutcomeInserted   Outcome = "inserted"
	OutcomeReinforced Outcome = "reinforced"
	OutcomeConflicted Outcome = "conflicted"
	OutcomeDropped    Outcome = "dropped"
)

// Extractor pulls claims out of recent thread events and upserts them into
// master memory.
type Extractor struct {
	Store     store.Store
	Embedder  provider.Embedder
	Generator provider.Generator
	Policy    config.Policy
	Logger    *slog.Logger
}

// New builds an Extractor with the given collaborators.
func New(st store.Store, emb provider.Embedder, gen provider.Generator, pol config.Policy, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{Store: st, Embedder: emb, Generator: gen, Policy: pol, Logger: logger}
}

// ExtractThread runs one extraction cycle over the thread's most recent
// events. summaryID, when set, is recorded as evidence alongside the
// triggering events. A failed or malformed generation skips the cycle.
func (x *Extractor) ExtractThread(ctx context.Context, userID, threadID, summaryID string) ([]Outcome, error) {
	events, err := x.Store.RecentEvents(ctx, threadID, x.Policy.ExtractionWindow)
	if err != nil {
		return nil, fmt.Errorf("fetch extraction window: %w", err)
	}

	var userEvents []model.Event
	var lines []string
	for _, e := range events {
		if e.Actor != model.ActorUser {
			continue
		}
		userEvents = append(userEvents, e)
		lines = append(lines, fmt.Sprintf("%d. USER: %s", len(userEvents), truncate(e.Content, maxClaimLen)))
	}
	if len(lines) == 0 {
		return nil, nil
	}

	raw, err := x.Generator.Generate(ctx, extractSystemPrompt, []provider.Message{
		{Role: provider.RoleUser, Content: strings.Join(lines, "\n")},
	})
	if err != nil {
		x.Logger.Warn("extraction generation failed, skipping cycle",
			"thread", threadID, "err", err)
		return nil, nil
	}

	claims, ok := parseClaims(raw)
	if !ok {
		x.Logger.Warn("malformed extraction output, skipping cycle",
			"thread", threadID, "output_len", len(raw))
		return nil, nil
	}

	var outcomes []Outcome
	for _, cl := range claims {
		outcome, err := x.upsertClaim(ctx, userID, cl, x.Policy.ExtractionConfidenceFloor,
			evidenceFor(threadID, summaryID, cl, userEvents))
		if err != nil {
			x.Logger.Warn("claim upsert failed", "thread", threadID, "err", err)
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// CueScan is the deterministic fast path: keyword cues in a single user event
// become low-confidence claims without an LLM round trip.
func (x *Extractor) CueScan(ctx context.Context, userID string, event *model.Event) (Outcome, bool) {
	if event == nil || event.Actor != model.ActorUser {
		return "", false
	}
	cue, ok := heuristic.ScanCues(event.Content)
	if !ok {
		return "", false
	}

	// Cue claims carry their own fixed confidence and bypass the extraction
	// floor.
	outcome, err := x.upsertClaim(ctx, userID, claim{
		Text:       cue.Claim,
		Bucket:     string(cue.Bucket),
		Confidence: x.Policy.CueConfidence,
	}, 0, store.EvidenceParams{
		ThreadID: event.ThreadID,
		EventID:  event.ID,
	})
	if err != nil {
		x.Logger.Warn("cue upsert failed", "event", event.ID, "err", err)
		return "", false
	}
	return outcome, outcome != OutcomeDropped
}

// upsertClaim applies the shared policy: drop, reinforce, conflict, or insert.
func (x *Extractor) upsertClaim(ctx context.Context, userID string, cl claim, floor float64, ev store.EvidenceParams) (Outcome, error) {
	text := truncate(strings.TrimSpace(cl.Text), maxClaimLen)
	if text == "" || cl.Confidence < floor {
		return OutcomeDropped, nil
	}
	low := strings.ToLower(text)
	for _, banned := range bannedSubstrings {
		if strings.Contains(low, banned) {
			return OutcomeDropped, nil
		}
	}
	bucket, err := model.ParseBucket(cl.Bucket)
	if err != nil {
		return OutcomeDropped, nil
	}
	confidence := model.ClampConfidence(cl.Confidence)

	// Embeddings are computed before any write so no transaction waits on a
	// provider. Low-confidence claims go in unembedded.
	var vec []float32
	if confidence >= x.Policy.EmbedConfidenceMin {
		v, err := x.Embedder.Embed(ctx, text)
		if err != nil {
			x.Logger.Warn("claim embedding failed, storing unembedded", "err", err)
		} else {
			vec = v
		}
	}

	match, err := x.findMatch(ctx, userID, bucket, text, vec)
	if err != nil {
		return "", err
	}

	if match != nil {
		if contradicts(match.Text, text) {
			if err := x.Store.SetMasterItemStatus(ctx, match.ID, model.StatusConflicted,
				model.Meta{"conflicting_claim": text}); err != nil {
				return "", err
			}
			ev.MasterItemID = match.ID
			ev.Meta = model.Meta{"kind": "conflict"}
			x.addEvidence(ctx, ev)
			return OutcomeConflicted, nil
		}

		if _, err := x.Store.ReinforceMasterItem(ctx, store.ReinforceParams{
			ID:         match.ID,
			Confidence: confidence,
			Embedding:  vec,
		}); err != nil {
			return "", err
		}
		ev.MasterItemID = match.ID
		x.addEvidence(ctx, ev)
		return OutcomeReinforced, nil
	}

	item, err := x.Store.InsertMasterItem(ctx, store.InsertMasterItemParams{
		UserID:     userID,
		Bucket:     bucket,
		Text:       text,
		Confidence: confidence,
		Embedding:  vec,
	})
	if err != nil {
		return "", err
	}
	ev.MasterItemID = item.ID
	x.addEvidence(ctx, ev)
	return OutcomeInserted, nil
}

// findMatch looks for an existing active item the claim restates: exact
// normalized text first, then embedding proximity within the bucket.
func (x *Extractor) findMatch(ctx context.Context, userID string, bucket model.Bucket, text string, vec []float32) (*model.MasterItem, error) {
	exact, err := x.Store.FindMasterItem(ctx, userID, bucket, text)
	if err == nil {
		return exact, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, nil
	}

	items, err := x.Store.ActiveMasterItems(ctx, userID, bucket)
	if err != nil {
		return nil, err
	}
	var best *model.MasterItem
	bestSim := x.Policy.DedupeMinCosine
	for i := range items {
		if len(items[i].Embedding) == 0 {
			continue
		}
		if sim := provider.Cosine(vec, items[i].Embedding); sim >= bestSim {
			best = &items[i]
			bestSim = sim
		}
	}
	return best, nil
}

func (x *Extractor) addEvidence(ctx context.Context, ev store.EvidenceParams) {
	if _, err := x.Store.AddEvidence(ctx, ev); err != nil {
		x.Logger.Warn("evidence write failed", "item", ev.MasterItemID, "err", err)
	}
}

func evidenceFor(threadID, summaryID string, cl claim, userEvents []model.Event) store.EvidenceParams {
	ev := store.EvidenceParams{ThreadID: threadID, SummaryID: summaryID}
	if cl.EventIndex >= 1 && cl.EventIndex <= len(userEvents) {
		ev.EventID = userEvents[cl.EventIndex-1].ID
	}
	return ev
}

// parseClaims decodes the generator output, recovering from prose-wrapped
// arrays by slicing out the outermost [...] span.
func parseClaims(raw string) ([]claim, bool) {
	raw = strings.TrimSpace(raw)
	var claims []claim
	if err := json.Unmarshal([]byte(raw), &claims); err == nil {
		return claims, true
	}

	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &claims); err != nil {
		return nil, false
	}
	return claims, true
}

// negationPairs flag a claim as the inverse of a stored one. The first entry
// is the negating form; a non-empty second entry is the positive form the
// other claim must assert.
var negationPairs = [][2]string{
	{"do not", "do"},
	{"no longer", ""},
	{"not ", ""},
	{"never ", ""},
	{"stopped ", ""},
	{"quit ", ""},
	{"hate", "love"},
	{"hate", "like"},
	{"dislike", "like"},
}

// contractions expand negated short forms so the negation pairs below only
// need to match the long forms.
var contractions = strings.NewReplacer(
	"don't", "do not",
	"doesn't", "does not",
	"didn't", "did not",
	"won't", "will not",
	"isn't", "is not",
	"aren't", "are not",
	"can't", "can not",
)

// contradicts applies a negation/reversal heuristic between an existing claim
// and a new one. It only fires when the claims overlap enough to plausibly be
// about the same fact.
func contradicts(existing, incoming string) bool {
	a := contractions.Replace(strings.ToLower(existing))
	b := contractions.Replace(strings.ToLower(incoming))
	if a == b {
		return false
	}
	if !sharesContentWord(a, b) {
		return false
	}
	for _, pair := range negationPairs {
		neg, pos := pair[0], pair[1]
		aNeg := strings.Contains(a, neg)
		bNeg := strings.Contains(b, neg)
		if aNeg == bNeg {
			continue
		}
		if pos == "" {
			return true
		}
		// The positive side must actually assert the positive form.
		positive := a
		if aNeg {
			positive = b
		}
		if strings.Contains(positive, pos) {
			return true
		}
	}
	return false
}

// sharesContentWord requires at least one overlapping word of four or more
// characters so unrelated claims cannot conflict.
func sharesContentWord(a, b string) bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		if len(w) >= 4 {
			words[strings.Trim(w, ".,!?")] = true
		}
	}
	for _, w := range strings.Fields(b) {
		if len(w) >= 4 && words[strings.Trim(w, ".,!?")] {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
