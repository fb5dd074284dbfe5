package heuristic

import (
	"strings"

	"github.com/cortexltm/ltm/internal/model"
)

// Cue is a claim surfaced by the keyword fast path, ready to be upserted into
// master memory without waiting for summarization or the LLM extractor.
type Cue struct {
	Bucket model.Bucket
	Claim  string
}

const maxCueClaimLen = 220

// rememberMarkers introduce an explicit persistence directive; the text after
// the marker becomes the claim.
var rememberMarkers = []string{
	"remember that ",
	"remember: ",
	"remember ",
}

// profileCues route a remembered clause to PROFILE instead of PREFERENCES.
var profileCues = []string{
	"my name", "call me", "i live", "i work", "my email",
	"my phone", "my address", "my birthday",
}

// projectCues are ongoing-work vocabulary mapped to PROJECTS.
var projectCues = []string{
	"working on", "my project", "our project",
	"i'm building", "i am building", "side project",
}

// ongoingCues signal long-running context rather than a discrete project.
var ongoingCues = []string{
	"these days", "lately", "currently", "this week", "ongoing",
}

// ScanCues checks a raw user utterance against the cue tables and returns at
// most one claim. Rules are checked in a fixed order so identical input always
// maps to the same bucket.
func ScanCues(text string) (Cue, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return Cue{}, false
	}
	low := strings.ToLower(t)

	for _, marker := range rememberMarkers {
		idx := strings.Index(low, marker)
		if idx < 0 {
			continue
		}
		claim := strings.TrimSpace(t[idx+len(marker):])
		if claim == "" {
			break
		}
		bucket := model.BucketPreferences
		clauseLow := strings.ToLower(claim)
		for _, p := range profileCues {
			if strings.Contains(clauseLow, p) {
				bucket = model.BucketProfile
				break
			}
		}
		return Cue{Bucket: bucket, Claim: truncateClaim(claim)}, true
	}

	for _, p := range projectCues {
		if strings.Contains(low, p) {
			return Cue{Bucket: model.BucketProjects, Claim: truncateClaim(t)}, true
		}
	}
	for _, p := range ongoingCues {
		if strings.Contains(low, p) {
			return Cue{Bucket: model.BucketLongRunningContext, Claim: truncateClaim(t)}, true
		}
	}

	return Cue{}, false
}

func truncateClaim(s string) string {
	if len(s) <= maxCueClaimLen {
		return s
	}
	return s[:maxCueClaimLen] + "…"
}
