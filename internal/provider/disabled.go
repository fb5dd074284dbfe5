package provider

import "context"

// Disabled stands in when a provider kind is configured as "none". Every call
// fails with a *Error so the pipeline takes its deterministic fallbacks, and
// the rest of the system never special-cases a missing provider.
type Disabled struct {
	Name string
}

func (d Disabled) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, &Error{Provider: d.Name, Op: "embed", Err: ErrDisabled}
}

func (d Disabled) Dims() int { return 0 }

func (d Disabled) Generate(_ context.Context, _ string, _ []Message) (string, error) {
	return "", &Error{Provider: d.Name, Op: "generate", Err: ErrDisabled}
}
