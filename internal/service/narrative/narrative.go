// Package narrative calls external text-generation services to turn a run
// log into a human-readable summary.
//
// Every provider bounds its HTTP calls with a client timeout, so a stalled
// backend surfaces as an error rather than a hang.
package narrative

import (
	"context"
	"errors"
)

// SystemPrompt frames every generation request.
const SystemPrompt = "You are a helpful AI assistant specialized in API test summarization."

var (
	// ErrUnavailable means no generator is configured.
	ErrUnavailable = errors.New("narrative: generator unavailable")
	// ErrRateLimited means the backend answered 429.
	ErrRateLimited = errors.New("narrative: rate limited")
	// ErrEmpty means the backend answered with no text.
	ErrEmpty = errors.New("narrative: empty response")
)

// Generator produces narrative text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NoopProvider always reports ErrUnavailable, which makes the summary fall
// back to its placeholder narrative.
type NoopProvider struct{}

// Generate returns ErrUnavailable.
func (NoopProvider) Generate(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// truncate shortens backend error bodies for log and error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
