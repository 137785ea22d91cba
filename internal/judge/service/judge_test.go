package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
)

// scriptedExecutor returns one result per call; the last entry repeats.
type scriptedExecutor struct {
	mu      sync.Mutex
	results []runner.Execution
	err     error
	inputs  []string
}

func (s *scriptedExecutor) Execute(_ context.Context, _ string, stdin string) (runner.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, stdin)
	if s.err != nil {
		return runner.Execution{}, s.err
	}
	idx := len(s.inputs) - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx], nil
}

func (s *scriptedExecutor) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func ok(stdout string) runner.Execution {
	return runner.Execution{Kind: runner.KindOK, Stdout: stdout}
}

func registryWith(lang string, exec runner.Executor) *runner.Registry {
	return runner.NewStaticRegistry(map[string]runner.Executor{lang: exec})
}

func cases(pairs ...string) []model.TestCase {
	out := make([]model.TestCase, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.TestCase{Input: pairs[i], Output: pairs[i+1]})
	}
	return out
}

func TestEvaluateAccepted(t *testing.T) {
	exec := &scriptedExecutor{results: []runner.Execution{ok("Hello\n")}}
	judge := NewJudge(registryWith("python", exec), "")

	outcome, err := judge.Evaluate(context.Background(), "print('Hello')", "python", cases("", "Hello"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if outcome.Verdict != model.VerdictAccepted || outcome.FailedTestCaseIndex != nil {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestEvaluateWrongAnswer(t *testing.T) {
	exec := &scriptedExecutor{results: []runner.Execution{ok("5")}}
	judge := NewJudge(registryWith("cpp", exec), "")

	outcome, err := judge.Evaluate(context.Background(), "code", "cpp", cases("", "6"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if outcome.Verdict != model.VerdictWrongAnswer {
		t.Fatalf("expected wrong answer, got %+v", outcome)
	}
	if outcome.FailedTestCaseIndex == nil || *outcome.FailedTestCaseIndex != 0 {
		t.Fatalf("expected failed index 0, got %v", outcome.FailedTestCaseIndex)
	}
	if outcome.ExpectedOutput != "6" || outcome.ActualOutput != "5" {
		t.Fatalf("unexpected expected/actual %q %q", outcome.ExpectedOutput, outcome.ActualOutput)
	}
}

func TestEvaluateShortCircuits(t *testing.T) {
	t.Run("first fails", func(t *testing.T) {
		exec := &scriptedExecutor{results: []runner.Execution{{Kind: runner.KindRuntimeError, Detail: "boom"}}}
		judge := NewJudge(registryWith("cpp", exec), "")
		outcome, err := judge.Evaluate(context.Background(), "code", "cpp", cases("1", "1", "2", "2", "3", "3"))
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if outcome.Verdict != model.VerdictRuntimeError || exec.calls() != 1 {
			t.Fatalf("expected one call and runtime error, got %d calls %+v", exec.calls(), outcome)
		}
	})
	t.Run("second fails", func(t *testing.T) {
		exec := &scriptedExecutor{results: []runner.Execution{ok("1"), ok("wrong"), ok("3")}}
		judge := NewJudge(registryWith("cpp", exec), "")
		outcome, err := judge.Evaluate(context.Background(), "code", "cpp", cases("1", "1", "2", "2", "3", "3"))
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if outcome.FailedTestCaseIndex == nil || *outcome.FailedTestCaseIndex != 1 {
			t.Fatalf("expected failed index 1, got %+v", outcome)
		}
		if exec.calls() != 2 {
			t.Fatalf("expected exactly two calls, got %d", exec.calls())
		}
		if exec.inputs[0] != "1" || exec.inputs[1] != "2" {
			t.Fatalf("test cases ran out of order: %v", exec.inputs)
		}
	})
}

func TestEvaluateVerdictMapping(t *testing.T) {
	cases := []struct {
		kind    runner.Kind
		verdict model.Verdict
	}{
		{runner.KindCompileError, model.VerdictCompilationError},
		{runner.KindRuntimeError, model.VerdictRuntimeError},
		{runner.KindTimeLimitExceeded, model.VerdictTimeLimitExceeded},
	}
	for _, tc := range cases {
		exec := &scriptedExecutor{results: []runner.Execution{{Kind: tc.kind, Detail: "detail"}}}
		judge := NewJudge(registryWith("java", exec), "")
		outcome, err := judge.Evaluate(context.Background(), "code", "java", []model.TestCase{{Input: "", Output: "x"}})
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if outcome.Verdict != tc.verdict || !outcome.Verdict.Valid() {
			t.Fatalf("kind %s mapped to %q, want %q", tc.kind, outcome.Verdict, tc.verdict)
		}
		if outcome.ExpectedOutput != "" || outcome.ActualOutput != "" {
			t.Fatalf("failures must not carry outputs: %+v", outcome)
		}
	}
}

func TestEvaluateUnknownKindIsError(t *testing.T) {
	exec := &scriptedExecutor{results: []runner.Execution{{Kind: "Exploded"}}}
	judge := NewJudge(registryWith("cpp", exec), "")
	if _, err := judge.Evaluate(context.Background(), "code", "cpp", cases("", "")); !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected judge system error, got %v", err)
	}
}

func TestEvaluateInfrastructureErrors(t *testing.T) {
	exec := &scriptedExecutor{err: appErr.New(appErr.StorageError).WithMessage("disk full")}
	judge := NewJudge(registryWith("cpp", exec), "")
	outcome, err := judge.Evaluate(context.Background(), "code", "cpp", cases("", ""))
	if !appErr.Is(err, appErr.StorageError) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if outcome.Verdict != "" {
		t.Fatalf("no verdict expected on infrastructure failure, got %q", outcome.Verdict)
	}

	if _, err := judge.Evaluate(context.Background(), "code", "brainfuck", cases("", "")); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected language not supported, got %v", err)
	}
}

func TestEvaluateSanitizesDiagnostic(t *testing.T) {
	base := "/var/lib/codejudge/jobs"
	detail := base + "/0b8f6c4e-2d7f-4f0a-9c55-0d9e8a7b6c5d/main.cpp:3:1: error: expected ';'\n" +
		"/work/main.cpp: In function 'int main()'"
	exec := &scriptedExecutor{results: []runner.Execution{{Kind: runner.KindCompileError, Detail: detail}}}
	judge := NewJudge(registryWith("cpp", exec), base)

	outcome, err := judge.Evaluate(context.Background(), "code", "cpp", cases("", ""))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	want := "<workdir>/main.cpp:3:1: error: expected ';'\n<workdir>/main.cpp: In function 'int main()'"
	if outcome.Diagnostic != want {
		t.Fatalf("unexpected diagnostic %q", outcome.Diagnostic)
	}
}

func TestDiagnosticTruncation(t *testing.T) {
	s := newDiagnosticSanitizer("")
	long := strings.Repeat("é", 600)
	got := s.clean(long)
	if !strings.HasSuffix(got, truncatedSuffix) {
		t.Fatalf("expected truncation suffix, got %q", got[len(got)-20:])
	}
	if n := len([]rune(strings.TrimSuffix(got, truncatedSuffix))); n != maxDiagnosticRunes {
		t.Fatalf("expected %d runes kept, got %d", maxDiagnosticRunes, n)
	}
	if s.clean("short") != "short" {
		t.Fatal("short text must be untouched")
	}
	if got := s.clean("/workspace/x and /work"); got != "/workspace/x and <workdir>" {
		t.Fatalf("unexpected path scrub %q", got)
	}
}

func TestEvaluateNormalizesOutput(t *testing.T) {
	exec := &scriptedExecutor{results: []runner.Execution{ok("1 2\r\n\r\n3  \n")}}
	judge := NewJudge(registryWith("python", exec), "")
	outcome, err := judge.Evaluate(context.Background(), "code", "python", cases("", "1 2\n3"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if outcome.Verdict != model.VerdictAccepted {
		t.Fatalf("expected accepted after normalization, got %+v", outcome)
	}
}
