// Package heuristic holds the cheap, deterministic text classifiers used by
// the write pipeline: the importance scorer, the meaningful-turn predicate,
// and the cue tables for the master-memory fast path. These are intentionally
// plain pattern tables, not ML calls, so they stay testable and free.
package heuristic

import "strings"

// Importance levels. Higher wins; the tables below are checked in order.
const (
	ImportanceNone       = 0 // chatter
	ImportanceDetail     = 1 // durable preference or stable fact
	ImportanceCommitment = 3 // plan, obligation, constraint
	ImportanceIdentity   = 5 // self-identification or explicit "remember this"
)

// identityPhrases declare who the user is, or explicitly request persistence.
var identityPhrases = []string{
	"my name is",
	"call me ",
	"i am a ",
	"i'm a ",
	"i am an ",
	"i'm an ",
	"i live in",
	"i work at",
	"i work as",
	"my email",
	"my phone",
	"my address",
	"my birthday",
	"remember",
}

// commitmentPhrases carry modal obligation or planning language.
var commitmentPhrases = []string{
	"need to",
	"needs to",
	"must ",
	"should ",
	"going to",
	"i will",
	"we will",
	"let's",
	"plan to",
	"next step",
	"deadline",
}

// detailPhrases signal durable preferences or stable personal details.
var detailPhrases = []string{
	"i like",
	"i love",
	"i hate",
	"i prefer",
	"i dislike",
	"i don't like",
	"my favorite",
	"i usually",
	"i always",
	"i never",
}

// Importance classifies a user utterance into {0, 1, 3, 5}. It is pure and
// deterministic; the caller is responsible for the side contract that a score
// of 5 forces embedding generation for the event.
func Importance(text string) int {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return ImportanceNone
	}
	for _, p := range identityPhrases {
		if strings.Contains(t, p) {
			return ImportanceIdentity
		}
	}
	for _, p := range commitmentPhrases {
		if strings.Contains(t, p) {
			return ImportanceCommitment
		}
	}
	for _, p := range detailPhrases {
		if strings.Contains(t, p) {
			return ImportanceDetail
		}
	}
	return ImportanceNone
}
