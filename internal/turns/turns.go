// Package turns reconstructs (user, assistant) turns from an ordered event
// window. Turns are derived on demand and never stored.
package turns

import (
	"github.com/cortexltm/ltm/internal/heuristic"
	"github.com/cortexltm/ltm/internal/model"
)

// Turn pairs a user event with the assistant event that answered it. Assistant
// is nil for an unanswered turn.
type Turn struct {
	User      *model.Event
	Assistant *model.Event
}

// UserText returns the user side of the turn.
func (t Turn) UserText() string {
	if t.User == nil {
		return ""
	}
	return t.User.Content
}

// AssistantText returns the assistant side, or "" for an unanswered turn.
func (t Turn) AssistantText() string {
	if t.Assistant == nil {
		return ""
	}
	return t.Assistant.Content
}

// EndEventID is the id of the last event covered by the turn.
func (t Turn) EndEventID() string {
	if t.Assistant != nil {
		return t.Assistant.ID
	}
	return t.User.ID
}

// Meaningful reports whether the turn passes the minimum-content filter.
// Unanswered turns never pass: the exchange is not over until the assistant
// replies, and counting it early can move the summary cursor mid-turn.
func (t Turn) Meaningful() bool {
	if t.Assistant == nil {
		return false
	}
	return heuristic.MeaningfulTurn(t.UserText(), t.AssistantText())
}

// Build scans events (ascending by creation time) once and pairs each user
// event with the next assistant event that follows it before another user
// event appears. System events are skipped. A trailing user event with no
// assistant reply yields an unanswered turn.
func Build(events []model.Event) []Turn {
	var out []Turn
	for i := 0; i < len(events); i++ {
		if events[i].Actor != model.ActorUser {
			continue
		}
		turn := Turn{User: &events[i]}
		for j := i + 1; j < len(events); j++ {
			if events[j].Actor == model.ActorUser {
				break
			}
			if events[j].Actor == model.ActorAssistant {
				turn.Assistant = &events[j]
				break
			}
		}
		out = append(out, turn)
	}
	return out
}

// Meaningful filters turns down to those passing the content gate.
func Meaningful(all []Turn) []Turn {
	var out []Turn
	for _, t := range all {
		if t.Meaningful() {
			out = append(out, t)
		}
	}
	return out
}
