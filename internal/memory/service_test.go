package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cortexltm/ltm/internal/config"
	"github.com/cortexltm/ltm/internal/model"
	"github.com/cortexltm/ltm/internal/provider"
	"github.com/cortexltm/ltm/internal/retrieve"
	"github.com/cortexltm/ltm/internal/store"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.Contains(strings.ToLower(text), "relocat") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Dims() int { return 2 }

type fakeGenerator struct {
	summary string
	claims  string
	err     error
}

// Generate answers the extraction prompt with a claims array and everything
// else with the canned summary.
func (f *fakeGenerator) Generate(_ context.Context, system string, _ []provider.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(system, "JSON array") {
		if f.claims == "" {
			return "[]", nil
		}
		return f.claims, nil
	}
	if f.summary == "" {
		return "The user is working through a plan.", nil
	}
	return f.summary, nil
}

func newService(t *testing.T) (*Service, *fakeEmbedder, *fakeGenerator) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ltm.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	emb := &fakeEmbedder{}
	gen := &fakeGenerator{}
	pol := config.DefaultPolicy()
	pol.SummaryDebounce = 0
	return New(s, emb, gen, pol, slog.Default()), emb, gen
}

func seedConversation(t *testing.T, svc *Service, threadID string, turns int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < turns; i++ {
		if _, err := svc.AppendEvent(ctx, AppendParams{
			ThreadID: threadID,
			Actor:    "user",
			Content:  fmt.Sprintf("Can you walk me through step %d of the relocation plan in more detail?", i),
		}); err != nil {
			t.Fatalf("append user %d: %v", i, err)
		}
		if _, err := svc.AppendEvent(ctx, AppendParams{
			ThreadID: threadID,
			Actor:    "assistant",
			Content:  fmt.Sprintf("Step %d of the relocation plan involves several parts worth going through carefully.", i),
		}); err != nil {
			t.Fatalf("append assistant %d: %v", i, err)
		}
	}
}

func TestAppendValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	th, err := svc.CreateThread(ctx, "u1", "")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	_, err = svc.AppendEvent(ctx, AppendParams{ThreadID: th.ID, Actor: "robot", Content: "hi"})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("bad actor should be a validation error, got %v", err)
	}

	_, err = svc.AppendEvent(ctx, AppendParams{ThreadID: "missing", Actor: "user", Content: "hi"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown thread should be ErrNotFound, got %v", err)
	}

	_, err = svc.AppendEvent(ctx, AppendParams{ThreadID: th.ID, Actor: "user", Content: "  "})
	if !errors.As(err, &verr) {
		t.Errorf("blank content should be a validation error, got %v", err)
	}
}

func TestAppendScoresAndEmbedsIdentity(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	th, err := svc.CreateThread(ctx, "u1", "")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	e, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID: th.ID,
		Actor:    "user",
		Content:  "my name is Sam and I live in Porto",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.Importance != 5 {
		t.Errorf("identity statement should score 5, got %d", e.Importance)
	}
	stored, err := svc.Store.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Embedding) == 0 {
		t.Error("identity event should be embedded at write time")
	}

	// Assistant text is never scored.
	a, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID: th.ID,
		Actor:    "assistant",
		Content:  "remember I must note your name",
	})
	if err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	if a.Importance != 0 {
		t.Errorf("assistant event scored %d", a.Importance)
	}
}

func TestAppendCallerOverrides(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	th, err := svc.CreateThread(ctx, "u1", "")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	// A caller-supplied importance replaces the scorer's verdict.
	imp := 5
	e, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID:   th.ID,
		Actor:      "user",
		Content:    "the meeting moved to Friday at nine",
		Importance: &imp,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.Importance != 5 {
		t.Errorf("override ignored, got %d", e.Importance)
	}
	stored, err := svc.Store.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Embedding) == 0 {
		t.Error("importance 5 should force embedding")
	}

	// ForceEmbed embeds an otherwise unremarkable event.
	e2, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID:   th.ID,
		Actor:      "user",
		Content:    "hello there, just checking in on things",
		ForceEmbed: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e2.Importance != 0 {
		t.Errorf("forced embedding must not change the score, got %d", e2.Importance)
	}
	stored2, err := svc.Store.GetEvent(ctx, e2.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored2.Embedding) == 0 {
		t.Error("forced embedding missing")
	}
}

func TestIdentityEventExtractsImmediately(t *testing.T) {
	svc, _, gen := newService(t)
	ctx := context.Background()
	gen.claims = `[{"text": "lives in Porto", "bucket": "PROFILE", "confidence": 0.95, "event_index": 1}]`

	th, err := svc.CreateThread(ctx, "u1", "")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	// No cue keyword, so only the full extractor can catch this.
	if _, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID: th.ID,
		Actor:    "user",
		Content:  "my name is Sam and I live in Porto",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := svc.Store.ActiveSummary(ctx, th.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no summary expected yet, got %v", err)
	}
	items, err := svc.Store.ActiveMasterItems(ctx, "u1", model.BucketProfile)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Text != "lives in Porto" {
		t.Errorf("identity event should extract without waiting for a summary: %+v", items)
	}
}

func TestConsolidationFiresOnAssistantReply(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	th, err := svc.CreateThread(ctx, "u1", "")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	seedConversation(t, svc, th.ID, svc.Policy.MeaningfulTurnTarget-1)

	// The gate-crossing user message arrives; its reply has not.
	if _, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID: th.ID,
		Actor:    "user",
		Content:  "I will handle the relocation paperwork myself after the weekend.",
	}); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if _, err := svc.Store.ActiveSummary(ctx, th.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("summary must not be written mid-turn, got %v", err)
	}

	reply, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID: th.ID,
		Actor:    "assistant",
		Content:  "Noted, the relocation paperwork is on your plate after the weekend.",
	})
	if err != nil {
		t.Fatalf("append reply: %v", err)
	}

	active, err := svc.Store.ActiveSummary(ctx, th.ID)
	if err != nil {
		t.Fatalf("summary should exist once the turn closes: %v", err)
	}
	if active.RangeEndID != reply.ID {
		t.Errorf("cursor should sit on the assistant reply")
	}
}

func TestAppendSurvivesProviderOutage(t *testing.T) {
	svc, emb, gen := newService(t)
	ctx := context.Background()
	th, err := svc.CreateThread(ctx, "u1", "")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	emb.err = errors.New("embedder offline")
	gen.err = errors.New("generator offline")

	e, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID: th.ID,
		Actor:    "user",
		Content:  "my name is Sam and I live in Porto",
	})
	if err != nil {
		t.Fatalf("append must succeed during outage: %v", err)
	}
	if e.Importance != 5 {
		t.Errorf("scoring is local and must still run, got %d", e.Importance)
	}
	stored, err := svc.Store.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Embedding) != 0 {
		t.Error("event should be stored unembedded during outage")
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	svc, _, gen := newService(t)
	ctx := context.Background()
	gen.claims = `[{"text": "is relocating abroad", "bucket": "LONG_RUNNING_CONTEXT", "confidence": 0.9, "event_index": 1}]`

	th, err := svc.CreateThread(ctx, "u1", "relocation")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}

	// A remember-directive lands in master memory via the cue fast path,
	// before any summary exists.
	if _, err := svc.AppendEvent(ctx, AppendParams{
		ThreadID: th.ID,
		Actor:    "user",
		Content:  "remember that I'm vegetarian",
	}); err != nil {
		t.Fatalf("append cue: %v", err)
	}
	prefs, err := svc.Store.ActiveMasterItems(ctx, "u1", model.BucketPreferences)
	if err != nil {
		t.Fatalf("prefs: %v", err)
	}
	if len(prefs) != 1 || prefs[0].Text != "I'm vegetarian" {
		t.Fatalf("cue fast path failed: %+v", prefs)
	}

	// Enough meaningful turns to cross the consolidation gate.
	seedConversation(t, svc, th.ID, svc.Policy.MeaningfulTurnTarget)

	active, err := svc.Store.ActiveSummary(ctx, th.ID)
	if err != nil {
		t.Fatalf("a summary should exist after %d turns: %v", svc.Policy.MeaningfulTurnTarget, err)
	}
	if active.Summary == "" {
		t.Error("summary text empty")
	}

	// The post-summary extraction ran and stored its claim.
	lrc, err := svc.Store.ActiveMasterItems(ctx, "u1", model.BucketLongRunningContext)
	if err != nil {
		t.Fatalf("lrc: %v", err)
	}
	var found bool
	for _, it := range lrc {
		if it.Text == "is relocating abroad" {
			found = true
		}
	}
	if !found {
		t.Errorf("extracted claim missing from master memory: %+v", lrc)
	}

	// Retrieval sees all of it.
	got, err := svc.Retrieve(ctx, retrieve.Params{
		UserID:   "u1",
		ThreadID: th.ID,
		Query:    "relocation plans",
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.ActiveSummary == nil {
		t.Error("retrieval missing active summary")
	}
	if len(got.MasterItems) == 0 {
		t.Error("retrieval missing master items")
	}
	if len(got.RecentEvents) == 0 {
		t.Error("retrieval missing recent events")
	}
}

func TestForceSummarizeShortThread(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	th, err := svc.CreateThread(ctx, "u1", "")
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	seedConversation(t, svc, th.ID, 2)

	if _, err := svc.Store.ActiveSummary(ctx, th.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no summary expected yet, got %v", err)
	}

	res, err := svc.ForceSummarize(ctx, th.ID)
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if !res.Written {
		t.Fatalf("force should write on a short thread, got %+v", res)
	}

	if _, err := svc.ForceSummarize(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
