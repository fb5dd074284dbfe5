// Package provider defines the embedding and text-generation collaborator
// contracts and their HTTP implementations. Providers are network-bound and
// failure-prone; every call carries its own deadline and capped retry so a
// hung provider can never stall the write pipeline, and every failure is
// reported as a *Error the pipeline can degrade on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrDisabled reports a call against a provider configured as "none".
var ErrDisabled = errors.New("provider disabled")

// Error wraps an embedding or generation failure. Callers detect it with
// errors.As and fall back to heuristic paths instead of failing the write.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsProviderError reports whether err originated from a collaborator call.
func IsProviderError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// Embedder generates fixed-length embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// Role tags a chat message for the generation provider.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to the generation provider.
type Message struct {
	Role    Role
	Content string
}

// Generator produces text from a system context plus chat messages. It backs
// both summary synthesis and structured claim extraction.
type Generator interface {
	Generate(ctx context.Context, system string, messages []Message) (string, error)
}

// Cosine computes cosine similarity between two vectors. Mismatched or empty
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
