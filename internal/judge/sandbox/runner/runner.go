package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/workspace"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	containerWorkDir = "/work"
	inputFileName    = "input.txt"
	outputFileName   = "output.txt"
	compileLogName   = "compile.log"
	runtimeLogName   = "runtime.log"

	defaultRunTimeout     = 5 * time.Second
	defaultCompileTimeout = 10 * time.Second
)

// Workspace hands out and reclaims job directories.
type Workspace interface {
	CreateJob(ctx context.Context) (workspace.Job, error)
	Touch(id string)
	Cleanup(ctx context.Context, id string) bool
}

// Options configures a Runner.
type Options struct {
	Language       profile.LanguageSpec
	CompileProfile profile.TaskProfile
	RunProfile     profile.TaskProfile
	// RunTimeout is the wall-clock limit of one run before the language multiplier.
	RunTimeout time.Duration
	Metrics    observer.MetricsRecorder
}

// Runner executes source code of one language.
type Runner struct {
	lang           profile.LanguageSpec
	compileProfile profile.TaskProfile
	runProfile     profile.TaskProfile
	runTimeout     time.Duration

	ws      Workspace
	eng     engine.Engine
	metrics observer.MetricsRecorder
}

// NewRunner creates a runner for opts.Language.
func NewRunner(ws Workspace, eng engine.Engine, opts Options) (*Runner, error) {
	if ws == nil || eng == nil {
		return nil, fmt.Errorf("workspace and engine are required")
	}
	if opts.Language.ID == "" || opts.Language.SourceFile == "" {
		return nil, appErr.ValidationError("language", "id and source file are required")
	}
	if _, err := buildCommand(opts.Language.RunCmdTpl, opts.Language); err != nil {
		return nil, err
	}
	if opts.Language.CompileEnabled {
		if _, err := buildCommand(opts.Language.CompileCmdTpl, opts.Language); err != nil {
			return nil, err
		}
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = observer.NoopMetricsRecorder{}
	}
	if opts.CompileProfile.TaskType == "" {
		opts.CompileProfile.TaskType = profile.TaskTypeCompile
	}
	if opts.RunProfile.TaskType == "" {
		opts.RunProfile.TaskType = profile.TaskTypeRun
	}
	return &Runner{
		lang:           opts.Language,
		compileProfile: opts.CompileProfile,
		runProfile:     opts.RunProfile,
		runTimeout:     opts.RunTimeout,
		ws:             ws,
		eng:            eng,
		metrics:        opts.Metrics,
	}, nil
}

// Language returns the language this runner executes.
func (r *Runner) Language() profile.LanguageSpec {
	return r.lang
}

// Execute compiles source if needed and runs it with stdin as input.
// Classified failures come back as an Execution; errors are infrastructure failures.
// The job directory is removed before Execute returns.
func (r *Runner) Execute(ctx context.Context, source, stdin string) (Execution, error) {
	job, err := r.ws.CreateJob(ctx)
	if err != nil {
		return Execution{}, err
	}
	defer r.ws.Cleanup(ctx, job.ID)
	ctx = context.WithValue(ctx, contextkey.JobID, job.ID)

	if err := writeJobFile(job.Path(r.lang.SourceFile), source); err != nil {
		return Execution{}, err
	}
	if err := writeJobFile(job.Path(inputFileName), stdin); err != nil {
		return Execution{}, err
	}

	mounts := []spec.MountSpec{{Source: job.Dir, Target: containerWorkDir}}
	if r.lang.CompileEnabled {
		exec, err := r.compile(ctx, job, mounts)
		if err != nil || exec.Failed() {
			return exec, err
		}
		r.ws.Touch(job.ID)
	}
	return r.run(ctx, job, mounts)
}

func (r *Runner) compile(ctx context.Context, job workspace.Job, mounts []spec.MountSpec) (Execution, error) {
	cmd, err := buildCommand(r.lang.CompileCmdTpl, r.lang)
	if err != nil {
		return Execution{}, err
	}
	limits := r.compileProfile.DefaultLimits
	if limits.WallTimeMs <= 0 {
		limits.WallTimeMs = defaultCompileTimeout.Milliseconds()
	}
	runSpec := spec.RunSpec{
		SubmissionID: job.ID,
		TestID:       "compile",
		WorkDir:      containerWorkDir,
		Cmd:          cmd,
		Env:          r.lang.Env,
		StderrPath:   filepath.Join(containerWorkDir, compileLogName),
		Profile:      profile.Name(r.lang.ID, r.compileProfile.TaskType),
		Limits:       limits,
		BindMounts:   mounts,
	}

	res, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		return Execution{}, err
	}
	ok := res.Succeeded()
	r.metrics.ObserveCompile(ctx, r.lang.ID, ok, res.TimeMs, res.MemoryKB)
	if ok {
		return Execution{Kind: KindOK, TimeMs: res.TimeMs, MemoryKB: res.MemoryKB}, nil
	}

	detail := strings.TrimSpace(res.Stderr)
	if res.TimedOut {
		detail = joinDetail("compilation timed out", detail)
	} else if detail == "" {
		detail = fmt.Sprintf("compiler exited with code %d", res.ExitCode)
	}
	logger.Debug(ctx, "compilation failed", zap.String("language", r.lang.ID), zap.Int("exit_code", res.ExitCode))
	return Execution{
		Kind:     KindCompileError,
		Detail:   detail,
		ExitCode: res.ExitCode,
		TimeMs:   res.TimeMs,
		MemoryKB: res.MemoryKB,
	}, nil
}

func (r *Runner) run(ctx context.Context, job workspace.Job, mounts []spec.MountSpec) (Execution, error) {
	cmd, err := buildCommand(r.lang.RunCmdTpl, r.lang)
	if err != nil {
		return Execution{}, err
	}
	limits := applyLimits(spec.ResourceLimit{WallTimeMs: r.runTimeout.Milliseconds()}, r.runProfile.DefaultLimits, r.lang)
	runSpec := spec.RunSpec{
		SubmissionID: job.ID,
		TestID:       "run",
		WorkDir:      containerWorkDir,
		Cmd:          cmd,
		Env:          r.lang.Env,
		StdinPath:    filepath.Join(containerWorkDir, inputFileName),
		StdoutPath:   filepath.Join(containerWorkDir, outputFileName),
		StderrPath:   filepath.Join(containerWorkDir, runtimeLogName),
		Profile:      profile.Name(r.lang.ID, r.runProfile.TaskType),
		Limits:       limits,
		BindMounts:   mounts,
	}

	res, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		return Execution{}, err
	}
	r.ws.Touch(job.ID)

	exec := classifyRun(res, limits)
	r.metrics.ObserveRun(ctx, r.lang.ID, string(exec.Kind), res.TimeMs, res.MemoryKB, res.OutputKB)
	return exec, nil
}

// classifyRun maps the backend's tagged result onto an Execution.
// Output that was cut short or exceeds limits.OutputMB is a runtime error and
// its stdout is never handed on for comparison.
func classifyRun(res result.RunResult, limits spec.ResourceLimit) Execution {
	exec := Execution{
		ExitCode: res.ExitCode,
		TimeMs:   res.TimeMs,
		MemoryKB: res.MemoryKB,
	}
	switch {
	case res.TimedOut:
		exec.Kind = KindTimeLimitExceeded
	case outputLimitExceeded(res, limits):
		exec.Kind = KindRuntimeError
		exec.Detail = fmt.Sprintf("output limit exceeded (%d KB written)", res.OutputKB)
	case res.ExitCode != 0:
		exec.Kind = KindRuntimeError
		exec.Detail = strings.TrimSpace(res.Stderr)
		if res.OomKilled {
			exec.Detail = joinDetail("memory limit exceeded", exec.Detail)
		}
		if exec.Detail == "" {
			exec.Detail = fmt.Sprintf("program exited with code %d", res.ExitCode)
		}
	default:
		exec.Kind = KindOK
		exec.Stdout = res.Stdout
	}
	return exec
}

func outputLimitExceeded(res result.RunResult, limits spec.ResourceLimit) bool {
	if res.OutputTruncated {
		return true
	}
	if limits.OutputMB <= 0 {
		return false
	}
	// RLIMIT_FSIZE stops the file at exactly the limit and kills the writer.
	limitKB := limits.OutputMB * 1024
	return res.OutputKB > limitKB || (res.ExitCode != 0 && res.OutputKB >= limitKB)
}

func joinDetail(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + "\n" + tail
}

func writeJobFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "write %s failed", filepath.Base(path))
	}
	return nil
}
