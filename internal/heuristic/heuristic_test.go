package heuristic

import (
	"testing"

	"github.com/cortexltm/ltm/internal/model"
)

func TestImportance(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"my name is Priya", 5},
		{"call me Dex", 5},
		{"remember that I'm vegetarian", 5},
		{"I work as a nurse in Leeds", 5},
		{"I need to finish the report by Friday", 3},
		{"we should migrate the billing tables", 3},
		{"I'm going to start running in the mornings", 3},
		{"I love thai food", 1},
		{"my favorite editor is vim", 1},
		{"I usually wake up at six", 1},
		{"lol", 0},
		{"what's the weather like", 0},
		{"", 0},
	}
	for _, c := range cases {
		if got := Importance(c.text); got != c.want {
			t.Errorf("Importance(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestImportancePriorityOrder(t *testing.T) {
	// Identity beats commitment when both pattern classes match.
	got := Importance("remember, I need to call the bank tomorrow")
	if got != 5 {
		t.Errorf("expected identity class to win, got %d", got)
	}
}

func TestMeaningfulTurn(t *testing.T) {
	longReply := "Here is a detailed plan for the migration covering schema changes, backfill, and rollout order."

	cases := []struct {
		name string
		u, a string
		want bool
	}{
		{"both empty", "", "", false},
		{"greeting with short reply", "hey", "hi there!", false},
		{"greeting with substantial reply", "hey", longReply, true},
		{"short combo", "why?", "because.", false},
		{"strong phrase", "my name is Sam by the way, nice to meet you", "noted!", true},
		{"preference", "i prefer postgres over mysql for this project", "makes sense", true},
		{"substance by length", "the checkout flow breaks when the cart has more than nine items and a discount code is applied", "", true},
		{"unanswered trivial", "thanks", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := MeaningfulTurn(c.u, c.a); got != c.want {
				t.Errorf("MeaningfulTurn(%q, %q) = %v, want %v", c.u, c.a, got, c.want)
			}
		})
	}
}

func TestScanCuesRemember(t *testing.T) {
	cue, ok := ScanCues("remember that I'm vegetarian")
	if !ok {
		t.Fatal("expected a cue")
	}
	if cue.Bucket != model.BucketPreferences {
		t.Errorf("bucket = %s, want PREFERENCES", cue.Bucket)
	}
	if cue.Claim != "I'm vegetarian" {
		t.Errorf("claim = %q", cue.Claim)
	}

	// Identical input must always map to the same bucket.
	again, _ := ScanCues("remember that I'm vegetarian")
	if again.Bucket != cue.Bucket || again.Claim != cue.Claim {
		t.Error("cue scan is not deterministic")
	}
}

func TestScanCuesProfile(t *testing.T) {
	cue, ok := ScanCues("please remember my name is Alba")
	if !ok {
		t.Fatal("expected a cue")
	}
	if cue.Bucket != model.BucketProfile {
		t.Errorf("bucket = %s, want PROFILE", cue.Bucket)
	}
}

func TestScanCuesProjects(t *testing.T) {
	cue, ok := ScanCues("I'm working on a rewrite of the ingestion service")
	if !ok {
		t.Fatal("expected a cue")
	}
	if cue.Bucket != model.BucketProjects {
		t.Errorf("bucket = %s, want PROJECTS", cue.Bucket)
	}
}

func TestScanCuesOngoing(t *testing.T) {
	cue, ok := ScanCues("lately I've been reviewing a lot of infra PRs")
	if !ok {
		t.Fatal("expected a cue")
	}
	if cue.Bucket != model.BucketLongRunningContext {
		t.Errorf("bucket = %s, want LONG_RUNNING_CONTEXT", cue.Bucket)
	}
}

func TestScanCuesNoMatch(t *testing.T) {
	if _, ok := ScanCues("what's the capital of france"); ok {
		t.Error("expected no cue for chatter")
	}
	if _, ok := ScanCues(""); ok {
		t.Error("expected no cue for empty text")
	}
}
