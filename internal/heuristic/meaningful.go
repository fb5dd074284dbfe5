package heuristic

import (
	"strings"
	"unicode"
)

// trivialUserLines are whole-utterance greetings and acknowledgments that
// never count toward consolidation on their own.
var trivialUserLines = map[string]bool{
	"ok": true, "okay": true, "k": true, "kk": true,
	"lol": true, "lmao": true, "bet": true, "nice": true,
	"cool": true, "word": true, "yup": true, "yeah": true,
	"nah": true, "thanks": true, "thx": true, "ty": true,
	"cya": true, "bye": true, "goodbye": true,
	"hi": true, "hello": true, "hey": true, "yo": true,
	"sup": true, "what's up": true, "whats up": true,
}

// strongPhrases mark a turn meaningful regardless of length: identity,
// relationships, preferences, memory intent, commitments, constraints, and
// project/decision vocabulary on the user side.
var strongPhrases = []string{
	// identity / profile
	"my name is", "call me ", "i am ", "i'm ", "i live", "i work",
	"my email", "my phone", "my address", "my birthday",
	"her name", "his name", "their name",
	// relationships / entities
	"my dog", "my cat", "my pet", "my boss", "my brother", "my sister",
	"my mother", "my mom", "my dad", "my father", "my husband", "my wife",
	"my kid", "my boyfriend", "my girlfriend", "my friend",
	// preferences / habits
	"i like", "i love", "i hate", "i prefer", "my favorite",
	"i don't like", "i dislike", "i usually", "i always", "i never",
	// memory intent
	"remember",
	// commitments / plans
	"i will", "i want to", "i need to", "we need to", "we should",
	"let's", "we will", "next step", "goal is", "deadline", "plan",
	// constraints / rules
	"do not", "don't", "never ", "avoid ", "stop ", "no more", "only ",
	// project / decisions
	"use ", "build ", "implement ", "schema", "table", "sql", "api",
	"bug", "error",
}

const (
	minComboLen     = 40
	substanceLen    = 80
	shortAssistant  = 80
)

// MeaningfulTurn reports whether a (user, assistant) exchange carries durable
// information worth counting toward consolidation. The predicate is
// deliberately conservative: greetings, filler, and very short exchanges are
// excluded, since false positives inflate summaries without bound.
func MeaningfulTurn(userText, assistantText string) bool {
	u := strings.TrimSpace(userText)
	a := strings.TrimSpace(assistantText)
	if u == "" && a == "" {
		return false
	}

	combo := strings.TrimSpace(u + "\n" + a)
	lowU := strings.ToLower(u)

	if trivialUserLines[lowU] && len(a) < shortAssistant {
		return false
	}
	if len(combo) < minComboLen {
		return false
	}

	for _, p := range strongPhrases {
		if strings.Contains(lowU, p) {
			return true
		}
	}

	return hasAlnum(combo) && len(combo) >= substanceLen
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
