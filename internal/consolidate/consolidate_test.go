package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cortexltm/ltm/internal/config"
	"github.com/cortexltm/ltm/internal/model"
	"github.com/cortexltm/ltm/internal/provider"
	"github.com/cortexltm/ltm/internal/store"
)

type fakeEmbedder struct {
	err   error
	calls int
}

// Embed maps text to one of two orthogonal directions so tests can stage a
// topic shift by keyword.
func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if strings.Contains(strings.ToLower(text), "gardening") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Dims() int { return 2 }

type fakeGenerator struct {
	out   string
	err   error
	calls int
	last  string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, messages []provider.Message) (string, error) {
	f.calls++
	if len(messages) > 0 {
		f.last = messages[len(messages)-1].Content
	}
	if f.err != nil {
		return "", f.err
	}
	if f.out != "" {
		return f.out, nil
	}
	// Echo the dominant topic so the embedder fake can react to it.
	if strings.Contains(strings.ToLower(f.last), "gardening") {
		return "The user is planning a gardening project.", nil
	}
	return "The user is planning a trip to Portugal.", nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ltm.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newConsolidator(t *testing.T, s *store.SQLiteStore) (*Consolidator, *fakeEmbedder, *fakeGenerator) {
	t.Helper()
	emb := &fakeEmbedder{}
	gen := &fakeGenerator{}
	c := New(s, emb, gen, config.DefaultPolicy(), slog.Default())
	return c, emb, gen
}

func seedThread(t *testing.T, s *store.SQLiteStore) *model.Thread {
	t.Helper()
	th, err := s.CreateThread(context.Background(), store.CreateThreadParams{UserID: "u1"})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return th
}

// seedTurns appends n complete turns long enough to pass the meaningfulness
// gate. Returns the id of the last appended event.
func seedTurns(t *testing.T, s *store.SQLiteStore, threadID, topic string, n int) string {
	t.Helper()
	ctx := context.Background()
	var lastID string
	for i := 0; i < n; i++ {
		if _, err := s.AppendEvent(ctx, store.AppendEventParams{
			ThreadID: threadID,
			Actor:    model.ActorUser,
			Content:  fmt.Sprintf("Can you walk me through step %d of the %s plan in more detail?", i, topic),
		}); err != nil {
			t.Fatalf("append user: %v", err)
		}
		e, err := s.AppendEvent(ctx, store.AppendEventParams{
			ThreadID: threadID,
			Actor:    model.ActorAssistant,
			Content:  fmt.Sprintf("Step %d of the %s plan involves several parts worth going through carefully.", i, topic),
		})
		if err != nil {
			t.Fatalf("append assistant: %v", err)
		}
		lastID = e.ID
	}
	return lastID
}

func TestMaybeBelowTargetIsNoOp(t *testing.T) {
	s := newTestStore(t)
	c, _, gen := newConsolidator(t, s)
	th := seedThread(t, s)
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget-1)

	res, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}
	if res.Written || res.Reason != ReasonBelowGate {
		t.Errorf("expected below-gate no-op, got %+v", res)
	}
	if gen.calls != 0 {
		t.Errorf("generator should not run below the gate")
	}
}

func TestMaybeFirstSummaryAtTarget(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	th := seedThread(t, s)
	lastID := seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	res, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}
	if !res.Written || res.Reason != ReasonInit {
		t.Fatalf("expected init write, got %+v", res)
	}
	if res.Summary.RangeEndID != lastID {
		t.Errorf("range end should be last included event")
	}

	active, err := s.ActiveSummary(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != res.Summary.ID {
		t.Errorf("written summary is not the active one")
	}
}

func TestMaybeIdempotentWithoutNewEvents(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	c.Policy.SummaryDebounce = 0
	th := seedThread(t, s)
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	if _, err := c.Maybe(context.Background(), th.ID); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Written || res.Reason != ReasonNoEvents {
		t.Errorf("expected no-events no-op, got %+v", res)
	}
}

func TestMaybeDebounce(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	th := seedThread(t, s)
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	if _, err := c.Maybe(context.Background(), th.ID); err != nil {
		t.Fatalf("first: %v", err)
	}
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	res, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Written || res.Reason != ReasonDebounce {
		t.Errorf("expected debounce, got %+v", res)
	}

	// Past the debounce window the same pass writes.
	c.clock = func() time.Time {
		return time.Now().Add(c.Policy.SummaryDebounce.Std() + time.Second)
	}
	res, err = c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if !res.Written || res.Reason != ReasonExtend {
		t.Errorf("expected extend after debounce, got %+v", res)
	}
}

func TestMaybeExtendsOnSameTopic(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	c.Policy.SummaryDebounce = 0
	th := seedThread(t, s)
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	first, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	second, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Written || second.Reason != ReasonExtend {
		t.Fatalf("expected extend, got %+v", second)
	}
	if second.Summary.ID != first.Summary.ID {
		t.Errorf("extend should keep the same summary row")
	}

	all, err := s.ListSummaries(context.Background(), th.ID, true, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("extend created a new row: %d summaries", len(all))
	}
}

func TestMaybeTopicShiftArchivesAndInserts(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	c.Policy.SummaryDebounce = 0
	th := seedThread(t, s)
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	first, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	seedTurns(t, s, th.ID, "gardening", c.Policy.MeaningfulTurnTarget)

	second, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Written || second.Reason != ReasonTopicShift {
		t.Fatalf("expected topic shift, got %+v", second)
	}
	if second.Summary.ID == first.Summary.ID {
		t.Error("topic shift should open a new summary row")
	}
	if second.Summary.Meta["reason"] != string(ReasonTopicShift) {
		t.Errorf("missing reason meta: %v", second.Summary.Meta)
	}

	old, err := s.GetSummary(context.Background(), first.Summary.ID)
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if old.IsActive {
		t.Error("prior summary should be archived")
	}
	if old.Summary != first.Summary.Summary {
		t.Error("archived text should be frozen")
	}
}

func TestMaybeForcedAtLookbackCap(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	// Shrink the cap so a padded thread hits it with too few meaningful turns.
	c.Policy.LookbackCap = 10
	th := seedThread(t, s)
	ctx := context.Background()

	seedTurns(t, s, th.ID, "portugal trip", 2)
	for i := 0; i < 10; i++ {
		if _, err := s.AppendEvent(ctx, store.AppendEventParams{
			ThreadID: th.ID,
			Actor:    model.ActorUser,
			Content:  "ok",
		}); err != nil {
			t.Fatalf("append filler: %v", err)
		}
	}

	res, err := c.Maybe(ctx, th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}
	if !res.Written {
		t.Fatalf("window at the lookback cap must consolidate, got %+v", res)
	}
}

func TestMaybeTrivialCapWindowDoesNotWedge(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	c.Policy.LookbackCap = 10
	c.Policy.MeaningfulTurnTarget = 3
	c.Policy.SummaryDebounce = 0
	th := seedThread(t, s)
	ctx := context.Background()

	// A cap-sized run of chatter: no turn passes the gate.
	for i := 0; i < 6; i++ {
		if _, err := s.AppendEvent(ctx, store.AppendEventParams{
			ThreadID: th.ID, Actor: model.ActorUser, Content: "ok",
		}); err != nil {
			t.Fatalf("append filler user: %v", err)
		}
		if _, err := s.AppendEvent(ctx, store.AppendEventParams{
			ThreadID: th.ID, Actor: model.ActorAssistant, Content: "yep",
		}); err != nil {
			t.Fatalf("append filler assistant: %v", err)
		}
	}

	res, err := c.Maybe(ctx, th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}
	if !res.Written {
		t.Fatalf("cap-sized chatter window must consolidate and advance, got %+v", res)
	}

	// The conversation past the chatter must become reachable within a
	// bounded number of passes.
	lastID := seedTurns(t, s, th.ID, "portugal trip", 11)
	for i := 0; i < 12; i++ {
		res, err = c.Maybe(ctx, th.ID)
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if res.Reason == ReasonNoEvents {
			break
		}
		if !res.Written {
			t.Fatalf("pass %d wedged: %+v", i, res)
		}
	}

	active, err := s.ActiveSummary(ctx, th.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.RangeEndID != lastID {
		t.Errorf("cursor should reach the end of the thread, stopped at %s", active.RangeEndID)
	}
}

func TestMaybeWaitsForTrailingReply(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	th := seedThread(t, s)
	ctx := context.Background()
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget-1)

	// The last user message is strong enough to pass the gate on its own,
	// but its reply has not arrived yet.
	if _, err := s.AppendEvent(ctx, store.AppendEventParams{
		ThreadID: th.ID,
		Actor:    model.ActorUser,
		Content:  "Remember my name is Sam and I will handle the visa paperwork myself.",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	res, err := c.Maybe(ctx, th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}
	if res.Written {
		t.Fatalf("an open turn must not be consolidated, got %+v", res)
	}

	reply, err := s.AppendEvent(ctx, store.AppendEventParams{
		ThreadID: th.ID,
		Actor:    model.ActorAssistant,
		Content:  "Noted, the visa paperwork is on your plate and your name is recorded.",
	})
	if err != nil {
		t.Fatalf("append reply: %v", err)
	}

	res, err = c.Maybe(ctx, th.ID)
	if err != nil {
		t.Fatalf("second maybe: %v", err)
	}
	if !res.Written {
		t.Fatalf("closed turn should consolidate, got %+v", res)
	}
	if res.Summary.RangeEndID != reply.ID {
		t.Errorf("cursor must sit on the reply, not the user event")
	}
}

func TestForceShortThread(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	th := seedThread(t, s)
	ctx := context.Background()

	// One complete but trivial turn: fails the gate, so Maybe stays silent.
	if _, err := s.AppendEvent(ctx, store.AppendEventParams{
		ThreadID: th.ID, Actor: model.ActorUser, Content: "thanks",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendEvent(ctx, store.AppendEventParams{
		ThreadID: th.ID, Actor: model.ActorAssistant, Content: "you're welcome",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	res, err := c.Maybe(ctx, th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}
	if res.Written {
		t.Fatal("trivial turn should not consolidate on its own")
	}

	res, err = c.Force(ctx, th.ID)
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if !res.Written || res.Reason != ReasonInit {
		t.Errorf("force should summarize the short thread, got %+v", res)
	}
}

func TestGeneratorFailureFallsBack(t *testing.T) {
	s := newTestStore(t)
	c, _, gen := newConsolidator(t, s)
	gen.err = errors.New("model offline")
	th := seedThread(t, s)
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	res, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}
	if !res.Written {
		t.Fatal("generator failure must not block consolidation")
	}
	if !strings.Contains(res.Summary.Summary, "- Can you walk me through step 0") {
		t.Errorf("expected bullet fallback, got %q", res.Summary.Summary)
	}
}

func TestEmbeddingFailureTreatsAsExtend(t *testing.T) {
	s := newTestStore(t)
	c, emb, _ := newConsolidator(t, s)
	c.Policy.SummaryDebounce = 0
	th := seedThread(t, s)
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	if _, err := c.Maybe(context.Background(), th.ID); err != nil {
		t.Fatalf("first: %v", err)
	}

	// Even a topic change extends when no vectors are available.
	emb.err = errors.New("embedder offline")
	seedTurns(t, s, th.ID, "gardening", c.Policy.MeaningfulTurnTarget)

	res, err := c.Maybe(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !res.Written || res.Reason != ReasonExtend {
		t.Errorf("expected degrade-to-extend, got %+v", res)
	}
}

func TestAutoWireLongRunningContext(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	c.Policy.SummaryDebounce = 0
	th := seedThread(t, s)
	ctx := context.Background()
	seedTurns(t, s, th.ID, "portugal trip", c.Policy.MeaningfulTurnTarget)

	res, err := c.Maybe(ctx, th.ID)
	if err != nil {
		t.Fatalf("maybe: %v", err)
	}

	items, err := s.ListMasterItems(ctx, store.ListMasterItemsParams{
		UserID: "u1",
		Bucket: model.BucketLongRunningContext,
		Status: model.StatusActive,
	})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one auto-wired item, got %d", len(items))
	}
	if items[0].Meta["thread_id"] != th.ID {
		t.Errorf("item not keyed to thread: %v", items[0].Meta)
	}

	evs, err := s.ListEvidence(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("list evidence: %v", err)
	}
	if len(evs) != 1 || evs[0].SummaryID != res.Summary.ID {
		t.Errorf("evidence should point at the summary: %+v", evs)
	}

	// A shifted summary replaces the item rather than editing it.
	seedTurns(t, s, th.ID, "gardening", c.Policy.MeaningfulTurnTarget)
	if _, err := c.Maybe(ctx, th.ID); err != nil {
		t.Fatalf("second: %v", err)
	}

	active, err := s.ListMasterItems(ctx, store.ListMasterItemsParams{
		UserID: "u1",
		Bucket: model.BucketLongRunningContext,
		Status: model.StatusActive,
	})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID == items[0].ID {
		t.Errorf("expected a fresh active item, got %+v", active)
	}

	all, err := s.ListMasterItems(ctx, store.ListMasterItemsParams{
		UserID: "u1",
		Bucket: model.BucketLongRunningContext,
	})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("old item should remain as deprecated history, got %d items", len(all))
	}
}

func TestUnknownThread(t *testing.T) {
	s := newTestStore(t)
	c, _, _ := newConsolidator(t, s)
	_, err := c.Maybe(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
