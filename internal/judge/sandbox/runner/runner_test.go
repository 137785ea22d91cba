package runner

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/judge/sandbox/config"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/workspace"
	appErr "codejudge/pkg/errors"
)

type fakeEngine struct {
	mu    sync.Mutex
	specs []spec.RunSpec
	// handle returns the result for one run; hostDir is the job directory.
	handle func(runSpec spec.RunSpec, hostDir string) (result.RunResult, error)
}

func (f *fakeEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	f.mu.Lock()
	f.specs = append(f.specs, runSpec)
	f.mu.Unlock()
	hostDir := ""
	if len(runSpec.BindMounts) > 0 {
		hostDir = runSpec.BindMounts[0].Source
	}
	if f.handle == nil {
		return result.RunResult{}, nil
	}
	return f.handle(runSpec, hostDir)
}

func (f *fakeEngine) KillSubmission(context.Context, string) error { return nil }

func (f *fakeEngine) calls() []spec.RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spec.RunSpec(nil), f.specs...)
}

func echoInput(runSpec spec.RunSpec, hostDir string) (result.RunResult, error) {
	if runSpec.TestID != "run" {
		return result.RunResult{}, nil
	}
	data, err := os.ReadFile(filepath.Join(hostDir, "input.txt"))
	if err != nil {
		return result.RunResult{}, err
	}
	return result.RunResult{Stdout: string(data)}, nil
}

func languageByID(t *testing.T, id string) profile.LanguageSpec {
	t.Helper()
	for _, lang := range profile.DefaultLanguages() {
		if lang.ID == id {
			return lang
		}
	}
	t.Fatalf("language %s missing", id)
	return profile.LanguageSpec{}
}

func newTestRunner(t *testing.T, lang string, eng *fakeEngine) (*Runner, *workspace.Manager) {
	t.Helper()
	ws, err := workspace.NewManager(workspace.Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	r, err := NewRunner(ws, eng, Options{
		Language:   languageByID(t, lang),
		RunProfile: profile.TaskProfile{DefaultLimits: spec.ResourceLimit{MemoryMB: 256}},
		RunTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r, ws
}

func assertWorkspaceEmpty(t *testing.T, ws *workspace.Manager) {
	t.Helper()
	if stats := ws.Stats(); stats.ActiveJobs != 0 {
		t.Fatalf("expected no active jobs, got %d", stats.ActiveJobs)
	}
	entries, err := os.ReadDir(ws.BaseDir())
	if err != nil {
		t.Fatalf("read base dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected job dirs removed, found %d", len(entries))
	}
}

func TestExecuteCppSuccess(t *testing.T) {
	var source string
	eng := &fakeEngine{handle: func(runSpec spec.RunSpec, hostDir string) (result.RunResult, error) {
		if runSpec.TestID == "compile" {
			data, _ := os.ReadFile(filepath.Join(hostDir, "main.cpp"))
			source = string(data)
		}
		return echoInput(runSpec, hostDir)
	}}
	r, ws := newTestRunner(t, "cpp", eng)

	exec, err := r.Execute(context.Background(), "int main(){}", "3 4\n")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if exec.Kind != KindOK || exec.Stdout != "3 4\n" {
		t.Fatalf("unexpected execution %+v", exec)
	}
	if source != "int main(){}" {
		t.Fatalf("source not written, got %q", source)
	}

	calls := eng.calls()
	if len(calls) != 2 {
		t.Fatalf("expected compile and run, got %d calls", len(calls))
	}
	wantCompile := []string{"g++", "-O2", "-std=c++17", "-o", "/work/main", "/work/main.cpp"}
	if !reflect.DeepEqual(calls[0].Cmd, wantCompile) {
		t.Fatalf("unexpected compile cmd %v", calls[0].Cmd)
	}
	if calls[0].Profile != "cpp-compile" || calls[1].Profile != "cpp-run" {
		t.Fatalf("unexpected profiles %q %q", calls[0].Profile, calls[1].Profile)
	}
	run := calls[1]
	if !reflect.DeepEqual(run.Cmd, []string{"/work/main"}) || run.StdinPath != "/work/input.txt" {
		t.Fatalf("unexpected run spec %+v", run)
	}
	if run.Limits.WallTimeMs != 1000 || run.Limits.MemoryMB != 256 {
		t.Fatalf("unexpected run limits %+v", run.Limits)
	}
	if calls[0].SubmissionID != run.SubmissionID {
		t.Fatalf("compile and run must share the job")
	}
	assertWorkspaceEmpty(t, ws)
}

func TestExecuteCompileError(t *testing.T) {
	eng := &fakeEngine{handle: func(runSpec spec.RunSpec, hostDir string) (result.RunResult, error) {
		return result.RunResult{ExitCode: 1, Stderr: "main.cpp:1: error: expected ';'\n"}, nil
	}}
	r, ws := newTestRunner(t, "cpp", eng)

	exec, err := r.Execute(context.Background(), "int main(", "")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if exec.Kind != KindCompileError || exec.Detail != "main.cpp:1: error: expected ';'" {
		t.Fatalf("unexpected execution %+v", exec)
	}
	if len(eng.calls()) != 1 {
		t.Fatalf("run must be skipped after compile error")
	}
	assertWorkspaceEmpty(t, ws)
}

func TestExecuteClassifiesRunOutcome(t *testing.T) {
	cases := []struct {
		name   string
		res    result.RunResult
		kind   Kind
		detail string
	}{
		{name: "runtime error", res: result.RunResult{ExitCode: 1, Stderr: "Traceback: ZeroDivisionError\n"}, kind: KindRuntimeError, detail: "Traceback: ZeroDivisionError"},
		{name: "signal", res: result.RunResult{ExitCode: 139}, kind: KindRuntimeError, detail: "program exited with code 139"},
		{name: "timeout", res: result.RunResult{ExitCode: -1, TimedOut: true}, kind: KindTimeLimitExceeded},
		{name: "error text on success", res: result.RunResult{Stdout: "Error: none\n", Stderr: "error"}, kind: KindOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{handle: func(spec.RunSpec, string) (result.RunResult, error) { return tc.res, nil }}
			r, ws := newTestRunner(t, "python", eng)
			exec, err := r.Execute(context.Background(), "print(1/0)", "")
			if err != nil {
				t.Fatalf("execute failed: %v", err)
			}
			if exec.Kind != tc.kind || exec.Detail != tc.detail {
				t.Fatalf("unexpected execution %+v", exec)
			}
			if len(eng.calls()) != 1 {
				t.Fatalf("python must not compile")
			}
			assertWorkspaceEmpty(t, ws)
		})
	}
}

func TestExecuteOutputLimit(t *testing.T) {
	big := strings.Repeat("1234567890\n", 10000)
	cases := []struct {
		name string
		res  result.RunResult
		kind Kind
	}{
		{name: "large output within limit", res: result.RunResult{Stdout: big, OutputKB: int64(len(big)) / 1024}, kind: KindOK},
		{name: "exactly at limit", res: result.RunResult{Stdout: "x", OutputKB: 1024}, kind: KindOK},
		{name: "over limit", res: result.RunResult{Stdout: big[:100], OutputKB: 2048}, kind: KindRuntimeError},
		{name: "truncated capture", res: result.RunResult{Stdout: big[:65536], OutputKB: 64, OutputTruncated: true}, kind: KindRuntimeError},
		{name: "killed by file size limit", res: result.RunResult{ExitCode: 153, OutputKB: 1024}, kind: KindRuntimeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{handle: func(spec.RunSpec, string) (result.RunResult, error) { return tc.res, nil }}
			ws, err := workspace.NewManager(workspace.Config{BaseDir: t.TempDir()})
			if err != nil {
				t.Fatalf("new manager: %v", err)
			}
			r, err := NewRunner(ws, eng, Options{
				Language:   languageByID(t, "python"),
				RunProfile: profile.TaskProfile{DefaultLimits: spec.ResourceLimit{OutputMB: 1}},
				RunTimeout: time.Second,
			})
			if err != nil {
				t.Fatalf("new runner: %v", err)
			}

			exec, err := r.Execute(context.Background(), "print('1234567890\\n' * 10000)", "")
			if err != nil {
				t.Fatalf("execute failed: %v", err)
			}
			if exec.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s (%+v)", exec.Kind, tc.kind, exec)
			}
			if tc.kind == KindOK && exec.Stdout != tc.res.Stdout {
				t.Fatalf("stdout must be passed through whole, got %d bytes", len(exec.Stdout))
			}
			if tc.kind == KindRuntimeError {
				if !strings.HasPrefix(exec.Detail, "output limit exceeded") {
					t.Fatalf("unexpected detail %q", exec.Detail)
				}
				if exec.Stdout != "" {
					t.Fatalf("oversized output must not be returned for comparison")
				}
			}
			if got := eng.calls()[0].Limits.OutputMB; got != 1 {
				t.Fatalf("expected output limit passed to engine, got %d", got)
			}
		})
	}
}

func TestExecuteJavaUsesMainClassAndMultiplier(t *testing.T) {
	var found bool
	eng := &fakeEngine{handle: func(runSpec spec.RunSpec, hostDir string) (result.RunResult, error) {
		if runSpec.TestID == "compile" {
			_, err := os.Stat(filepath.Join(hostDir, "Main.java"))
			found = err == nil
		}
		return echoInput(runSpec, hostDir)
	}}
	r, ws := newTestRunner(t, "java", eng)

	if _, err := r.Execute(context.Background(), "public class Main {}", "x"); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !found {
		t.Fatal("expected Main.java in the job dir")
	}
	calls := eng.calls()
	wantCompile := []string{"javac", "-encoding", "UTF-8", "-d", "/work", "/work/Main.java"}
	if !reflect.DeepEqual(calls[0].Cmd, wantCompile) {
		t.Fatalf("unexpected compile cmd %v", calls[0].Cmd)
	}
	if calls[1].Limits.WallTimeMs != 2000 || calls[1].Limits.MemoryMB != 512 {
		t.Fatalf("expected doubled limits, got %+v", calls[1].Limits)
	}
	assertWorkspaceEmpty(t, ws)
}

func TestExecuteEngineFailureStillCleansUp(t *testing.T) {
	boom := appErr.New(appErr.SandboxError).WithMessage("helper crashed")
	eng := &fakeEngine{handle: func(spec.RunSpec, string) (result.RunResult, error) { return result.RunResult{}, boom }}
	r, ws := newTestRunner(t, "cpp", eng)

	if _, err := r.Execute(context.Background(), "int main(){}", ""); !appErr.Is(err, appErr.SandboxError) {
		t.Fatalf("expected sandbox error, got %v", err)
	}
	assertWorkspaceEmpty(t, ws)
}

type failingWorkspace struct{}

func (failingWorkspace) CreateJob(context.Context) (workspace.Job, error) {
	return workspace.Job{}, appErr.New(appErr.StorageError).WithMessage("disk full")
}
func (failingWorkspace) Touch(string)                   {}
func (failingWorkspace) Cleanup(context.Context, string) bool { return false }

func TestExecuteStorageError(t *testing.T) {
	eng := &fakeEngine{}
	r, err := NewRunner(failingWorkspace{}, eng, Options{Language: languageByID(t, "python")})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := r.Execute(context.Background(), "print(1)", ""); !appErr.Is(err, appErr.StorageError) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(eng.calls()) != 0 {
		t.Fatal("engine must not run without a job")
	}
}

func TestNewRunnerRejectsBadTemplate(t *testing.T) {
	lang := languageByID(t, "python")
	lang.RunCmdTpl = `python3 "{src}`
	if _, err := NewRunner(failingWorkspace{}, &fakeEngine{}, Options{Language: lang}); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestRegistry(t *testing.T) {
	ws, err := workspace.NewManager(workspace.Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	var profiles []profile.TaskProfile
	for _, lang := range profile.DefaultLanguages() {
		profiles = append(profiles,
			profile.TaskProfile{LanguageID: lang.ID, TaskType: profile.TaskTypeCompile},
			profile.TaskProfile{LanguageID: lang.ID, TaskType: profile.TaskTypeRun},
		)
	}
	repo := config.NewLocalRepository(profile.DefaultLanguages(), profiles)
	reg, err := NewRegistry(context.Background(), repo, repo, ws, &fakeEngine{}, time.Second, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if got := reg.Languages(); !reflect.DeepEqual(got, []string{"cpp", "java", "python"}) {
		t.Fatalf("unexpected languages %v", got)
	}
	if _, err := reg.Get("cobol"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected language not supported, got %v", err)
	}
	exec, err := reg.Get("java")
	if err != nil {
		t.Fatalf("get java: %v", err)
	}
	if r, ok := exec.(*Runner); !ok || r.Language().SourceFile != "Main.java" {
		t.Fatalf("unexpected java runner %v", exec)
	}

	missing := config.NewLocalRepository(profile.DefaultLanguages(), nil)
	if _, err := NewRegistry(context.Background(), missing, missing, ws, &fakeEngine{}, time.Second, nil); err == nil {
		t.Fatal("expected error when profiles are missing")
	} else if !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
