package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"

	"codejudge/internal/judge/model"
)

func TestFallbackGenerator(t *testing.T) {
	cases := []struct {
		verdict model.Verdict
		want    string
	}{
		{model.VerdictWrongAnswer, "edge cases"},
		{model.VerdictTimeLimitExceeded, "inefficient algorithm"},
		{model.VerdictRuntimeError, "division by zero"},
		{model.VerdictCompilationError, "Review your code logic"},
	}
	for _, tc := range cases {
		hint, err := FallbackGenerator{}.Generate(context.Background(), Request{Verdict: tc.verdict})
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if !strings.Contains(hint, tc.want) {
			t.Fatalf("hint for %s = %q, want it to mention %q", tc.verdict, hint, tc.want)
		}
	}
}

type stubGenerator struct {
	hint string
	err  error
}

func (s stubGenerator) Generate(context.Context, Request) (string, error) {
	return s.hint, s.err
}

func TestWithFallback(t *testing.T) {
	req := Request{Verdict: model.VerdictRuntimeError}
	hint, _ := WithFallback(stubGenerator{hint: "custom"}).Generate(context.Background(), req)
	if hint != "custom" {
		t.Fatalf("expected primary hint, got %q", hint)
	}
	hint, err := WithFallback(stubGenerator{err: errors.New("model offline")}).Generate(context.Background(), req)
	if err != nil || hint != hintRuntimeError {
		t.Fatalf("expected fallback hint, got %q %v", hint, err)
	}
	if _, ok := WithFallback(nil).(FallbackGenerator); !ok {
		t.Fatal("nil primary should yield the fixed generator")
	}
}
