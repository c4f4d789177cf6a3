// Package llm defines the text-generation and embedding interface the
// pipelines depend on, plus retry and rate-limit wrappers.
package llm

import "context"

// Provider is the interface all text-service backends must implement.
//
// Generate degrades rather than fails: when the backend itself is
// misconfigured or rejects the request, implementations return a diagnostic
// placeholder string with a nil error, so callers distinguish content from a
// degraded service only by convention. A non-nil error is reserved for local
// failures (context cancellation, rate limiting).
//
// The model name is an explicit argument on every call; implementations must
// not read ambient process state to select a model.
type Provider interface {
	// Generate returns generated text for the prompt using the named model.
	Generate(ctx context.Context, model, prompt string) (string, error)
	// Embed returns a fixed-dimension embedding vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Name returns the provider identifier (e.g. "gemini").
	Name() string
}
