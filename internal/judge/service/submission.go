// Package service implements judging and the submission workflow around it.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"codejudge/internal/judge/feedback"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/workspace"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxCodeLength  = 10000
	DefaultMaxInputLength = 1000
)

// ProblemSource loads the test cases of a problem.
type ProblemSource interface {
	Get(ctx context.Context, problemID string) (model.Problem, error)
}

// SubmissionStore persists judged submissions.
type SubmissionStore interface {
	Create(ctx context.Context, sub *model.Submission) error
	Get(ctx context.Context, id string) (model.Submission, error)
	ListByUser(ctx context.Context, userID, problemID string) ([]model.Submission, error)
}

// EventPublisher announces stored submissions.
type EventPublisher interface {
	PublishJudgeEvent(ctx context.Context, event model.JudgeEvent) error
}

// StatsSource reports workspace usage.
type StatsSource interface {
	Stats() workspace.Stats
}

// Config holds service dependencies and settings.
type Config struct {
	Executors      ExecutorSource
	Problems       ProblemSource
	Store          SubmissionStore
	Publisher      EventPublisher
	Feedback       feedback.Generator
	Workspace      StatsSource
	WorkspaceDir   string
	MaxCodeLength  int
	MaxInputLength int
	WorkerPoolSize int
	SlotWait       time.Duration
}

// RunRequest executes code against custom input.
type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

// RunResult is the output of a custom run, or its classified failure.
type RunResult struct {
	Output     string        `json:"output"`
	Verdict    model.Verdict `json:"verdict,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
}

// SubmitRequest judges code against a problem.
type SubmitRequest struct {
	UserID    string     `json:"-"`
	ProblemID string     `json:"problemId"`
	Language  string     `json:"language"`
	Code      string     `json:"code"`
	Mode      model.Mode `json:"mode"`
}

// SubmitResult is the judge outcome plus the stored submission id in submit mode.
type SubmitResult struct {
	JudgeOutcome
	SubmissionID string     `json:"submissionId,omitempty"`
	Mode         model.Mode `json:"mode"`
	Feedback     string     `json:"feedback,omitempty"`
	SubmittedAt  *time.Time `json:"submittedAt,omitempty"`
}

// Stats reports workspace usage and running judge tasks.
type Stats struct {
	workspace.Stats
	RunningTasks int `json:"runningTasks"`
}

// SubmissionService orchestrates judging, persistence and events.
type SubmissionService struct {
	judge     *Judge
	executors ExecutorSource
	problems  ProblemSource
	store     SubmissionStore
	publisher EventPublisher
	feedback  feedback.Generator
	workspace StatsSource
	pool      *workerPool
	sanitizer *diagnosticSanitizer

	maxCodeLength  int
	maxInputLength int
	now            func() time.Time
}

// NewSubmissionService creates a new submission service.
func NewSubmissionService(cfg Config) (*SubmissionService, error) {
	if cfg.Executors == nil {
		return nil, fmt.Errorf("executors are required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem source is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if cfg.MaxCodeLength <= 0 {
		cfg.MaxCodeLength = DefaultMaxCodeLength
	}
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}
	return &SubmissionService{
		judge:          NewJudge(cfg.Executors, cfg.WorkspaceDir),
		executors:      cfg.Executors,
		problems:       cfg.Problems,
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		feedback:       feedback.WithFallback(cfg.Feedback),
		workspace:      cfg.Workspace,
		pool:           newWorkerPool(cfg.WorkerPoolSize, cfg.SlotWait),
		sanitizer:      newDiagnosticSanitizer(cfg.WorkspaceDir),
		maxCodeLength:  cfg.MaxCodeLength,
		maxInputLength: cfg.MaxInputLength,
		now:            time.Now,
	}, nil
}

// Run executes code against custom input without judging or persistence.
func (s *SubmissionService) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if err := s.validateCode(req.Code); err != nil {
		return RunResult{}, err
	}
	if utf8.RuneCountInString(req.Input) > s.maxInputLength {
		return RunResult{}, appErr.Newf(appErr.CustomInputTooLarge, "input exceeds %d characters", s.maxInputLength)
	}
	exec, err := s.executors.Get(req.Language)
	if err != nil {
		return RunResult{}, err
	}

	if err := s.pool.acquire(ctx); err != nil {
		return RunResult{}, err
	}
	defer s.pool.release()

	res, err := exec.Execute(ctx, req.Code, req.Input)
	if err != nil {
		logger.Error(ctx, "custom run failed", zap.String("language", req.Language), zap.Error(err))
		return RunResult{}, err
	}
	if !res.Failed() {
		return RunResult{Output: res.Stdout}, nil
	}
	verdict, err := verdictFor(res.Kind)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{Verdict: verdict, Diagnostic: s.sanitizer.clean(res.Detail)}, nil
}

// evaluate judges testCases while holding a worker slot.
func (s *SubmissionService) evaluate(ctx context.Context, code, language string, testCases []model.TestCase) (JudgeOutcome, error) {
	if err := s.pool.acquire(ctx); err != nil {
		return JudgeOutcome{}, err
	}
	defer s.pool.release()
	return s.judge.Evaluate(ctx, code, language, testCases)
}

// Submit judges code against the problem's sample or full test cases.
// Only submit mode stores the result and publishes an event.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.Mode == "" {
		req.Mode = model.ModeSubmit
	}
	if req.Mode != model.ModeRun && req.Mode != model.ModeSubmit {
		return SubmitResult{}, appErr.Newf(appErr.InvalidJudgeMode, "unknown mode %q", req.Mode)
	}
	if req.ProblemID == "" {
		return SubmitResult{}, appErr.ValidationError("problemId", "required")
	}
	if req.Mode == model.ModeSubmit && req.UserID == "" {
		return SubmitResult{}, appErr.ValidationError("userId", "required")
	}
	if err := s.validateCode(req.Code); err != nil {
		return SubmitResult{}, err
	}
	if _, err := s.executors.Get(req.Language); err != nil {
		return SubmitResult{}, err
	}

	problem, err := s.problems.Get(ctx, req.ProblemID)
	if err != nil {
		return SubmitResult{}, err
	}
	testCases := problem.TestCases(req.Mode)
	if len(testCases) == 0 {
		return SubmitResult{}, appErr.Newf(appErr.TestCaseNotFound, "problem %s has no %s test cases", req.ProblemID, req.Mode)
	}

	outcome, err := s.evaluate(ctx, req.Code, req.Language, testCases)
	if err != nil {
		return SubmitResult{}, err
	}

	result := SubmitResult{JudgeOutcome: outcome, Mode: req.Mode}
	if outcome.Verdict != model.VerdictAccepted {
		result.Feedback = s.hint(ctx, req, outcome, testCases)
	}
	logger.Info(ctx, "submission judged",
		zap.String("problem_id", req.ProblemID),
		zap.String("language", req.Language),
		zap.String("mode", string(req.Mode)),
		zap.String("verdict", string(outcome.Verdict)),
	)
	if req.Mode == model.ModeRun {
		return result, nil
	}

	sub := &model.Submission{
		ID:                  uuid.NewString(),
		UserID:              req.UserID,
		ProblemID:           req.ProblemID,
		Language:            req.Language,
		Code:                req.Code,
		Verdict:             outcome.Verdict,
		ResultOutput:        resultOutput(outcome),
		FailedTestCaseIndex: outcome.FailedTestCaseIndex,
		Feedback:            result.Feedback,
		SubmittedAt:         s.now().UTC(),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return SubmitResult{}, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "save submission failed")
	}
	result.SubmissionID = sub.ID
	result.SubmittedAt = &sub.SubmittedAt

	if s.publisher != nil {
		if err := s.publisher.PublishJudgeEvent(ctx, model.NewJudgeEvent(*sub)); err != nil {
			logger.Warn(ctx, "publish judge event failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	return result, nil
}

// History returns the user's submissions, newest first.
func (s *SubmissionService) History(ctx context.Context, userID, problemID string) ([]model.Submission, error) {
	if userID == "" {
		return nil, appErr.ValidationError("userId", "required")
	}
	return s.store.ListByUser(ctx, userID, problemID)
}

// Submission returns one of the user's submissions.
// Submissions of other users are reported as missing.
func (s *SubmissionService) Submission(ctx context.Context, userID, id string) (model.Submission, error) {
	if userID == "" {
		return model.Submission{}, appErr.ValidationError("userId", "required")
	}
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Submission{}, err
	}
	if sub.UserID != userID {
		return model.Submission{}, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
	}
	return sub, nil
}

// Stats reports workspace usage.
func (s *SubmissionService) Stats() Stats {
	return Stats{Stats: s.workspace.Stats(), RunningTasks: s.pool.inUse()}
}

func (s *SubmissionService) validateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return appErr.ValidationError("code", "required")
	}
	if utf8.RuneCountInString(code) > s.maxCodeLength {
		return appErr.Newf(appErr.CodeTooLarge, "code exceeds %d characters", s.maxCodeLength)
	}
	return nil
}

func (s *SubmissionService) hint(ctx context.Context, req SubmitRequest, outcome JudgeOutcome, testCases []model.TestCase) string {
	fbReq := feedback.Request{
		Language: req.Language,
		Code:     req.Code,
		Verdict:  outcome.Verdict,
		Expected: outcome.ExpectedOutput,
		Actual:   outcome.ActualOutput,
	}
	if idx := outcome.FailedTestCaseIndex; idx != nil && *idx < len(testCases) {
		fbReq.Input = testCases[*idx].Input
	}
	hint, err := s.feedback.Generate(ctx, fbReq)
	if err != nil {
		logger.Warn(ctx, "generate feedback failed", zap.Error(err))
		return ""
	}
	return hint
}

// resultOutput is the text stored with a submission.
func resultOutput(outcome JudgeOutcome) string {
	switch outcome.Verdict {
	case model.VerdictWrongAnswer:
		return "got: " + outcome.ActualOutput
	case model.VerdictAccepted:
		return ""
	default:
		return outcome.Diagnostic
	}
}
