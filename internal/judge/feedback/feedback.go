// Package feedback produces hints for failed submissions.
package feedback

import (
	"context"

	"codejudge/internal/judge/model"
)

// Request describes the failure a hint is produced for.
type Request struct {
	Language string
	Code     string
	Verdict  model.Verdict
	Input    string
	Expected string
	Actual   string
}

// Generator produces a hint for one failed submission.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

const (
	hintWrongAnswer  = "Check your logic for handling edge cases and verify your output format matches exactly what's expected."
	hintTimeLimit    = "Your solution might be using an inefficient algorithm. Consider optimizing your approach or using a more efficient data structure."
	hintRuntimeError = "Look for potential null pointer dereferences, array index out of bounds, or division by zero in your code."
	hintDefault      = "Review your code logic and ensure it handles all possible input cases correctly."
)

// FallbackGenerator returns a fixed hint per verdict.
type FallbackGenerator struct{}

func (FallbackGenerator) Generate(_ context.Context, req Request) (string, error) {
	switch req.Verdict {
	case model.VerdictWrongAnswer:
		return hintWrongAnswer, nil
	case model.VerdictTimeLimitExceeded:
		return hintTimeLimit, nil
	case model.VerdictRuntimeError:
		return hintRuntimeError, nil
	default:
		return hintDefault, nil
	}
}

// WithFallback returns primary's hint, or the fixed hint when primary fails or returns nothing.
func WithFallback(primary Generator) Generator {
	if primary == nil {
		return FallbackGenerator{}
	}
	return chain{primary: primary}
}

type chain struct {
	primary Generator
}

func (c chain) Generate(ctx context.Context, req Request) (string, error) {
	hint, err := c.primary.Generate(ctx, req)
	if err == nil && hint != "" {
		return hint, nil
	}
	return FallbackGenerator{}.Generate(ctx, req)
}
