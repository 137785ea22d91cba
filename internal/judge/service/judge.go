package service

import (
	"context"

	"codejudge/internal/judge/compare"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/runner"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// ExecutorSource resolves the executor of a language.
type ExecutorSource interface {
	Get(language string) (runner.Executor, error)
}

// JudgeOutcome is the result of judging one submission.
type JudgeOutcome struct {
	Verdict             model.Verdict `json:"verdict"`
	FailedTestCaseIndex *int          `json:"failedTestCaseIndex,omitempty"`
	ExpectedOutput      string        `json:"expectedOutput,omitempty"`
	ActualOutput        string        `json:"actualOutput,omitempty"`
	Diagnostic          string        `json:"diagnostic,omitempty"`
}

// Judge runs a submission against an ordered list of test cases.
type Judge struct {
	executors ExecutorSource
	sanitizer *diagnosticSanitizer
}

// NewJudge creates a judge. workspaceDir is scrubbed from diagnostics.
func NewJudge(executors ExecutorSource, workspaceDir string) *Judge {
	return &Judge{executors: executors, sanitizer: newDiagnosticSanitizer(workspaceDir)}
}

// Evaluate judges code sequentially and stops at the first failing test case.
// Infrastructure failures are returned as errors and never as a verdict.
func (j *Judge) Evaluate(ctx context.Context, code, language string, testCases []model.TestCase) (JudgeOutcome, error) {
	exec, err := j.executors.Get(language)
	if err != nil {
		return JudgeOutcome{}, err
	}
	for i, tc := range testCases {
		res, err := exec.Execute(ctx, code, tc.Input)
		if err != nil {
			logger.Error(ctx, "judge execution failed",
				zap.String("language", language),
				zap.Int("test_case", i),
				zap.Error(err),
			)
			return JudgeOutcome{}, err
		}
		if res.Failed() {
			verdict, err := verdictFor(res.Kind)
			if err != nil {
				return JudgeOutcome{}, err
			}
			logger.Debug(ctx, "test case failed",
				zap.Int("test_case", i),
				zap.String("verdict", string(verdict)),
				zap.String("diagnostic", res.Detail),
			)
			return JudgeOutcome{
				Verdict:             verdict,
				FailedTestCaseIndex: intPtr(i),
				Diagnostic:          j.sanitizer.clean(res.Detail),
			}, nil
		}
		if !compare.Matches(tc.Output, res.Stdout) {
			return JudgeOutcome{
				Verdict:             model.VerdictWrongAnswer,
				FailedTestCaseIndex: intPtr(i),
				ExpectedOutput:      tc.Output,
				ActualOutput:        res.Stdout,
			}, nil
		}
	}
	return JudgeOutcome{Verdict: model.VerdictAccepted}, nil
}

func verdictFor(kind runner.Kind) (model.Verdict, error) {
	switch kind {
	case runner.KindCompileError:
		return model.VerdictCompilationError, nil
	case runner.KindRuntimeError:
		return model.VerdictRuntimeError, nil
	case runner.KindTimeLimitExceeded:
		return model.VerdictTimeLimitExceeded, nil
	default:
		return "", appErr.Newf(appErr.JudgeSystemError, "unknown execution kind %q", kind)
	}
}

func intPtr(v int) *int {
	return &v
}
