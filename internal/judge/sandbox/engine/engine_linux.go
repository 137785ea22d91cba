//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

type sandboxEngine struct {
	cfg      Config
	resolver ProfileResolver
	cgroups  *runRegistry
}

func newSandboxEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if cfg.CgroupEnabled() && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	ctx := context.Background()
	if !cfg.NamespacesEnabled() {
		logger.Warn(ctx, "sandbox namespaces disabled, programs share the host filesystem")
	}
	if !cfg.SeccompEnabled() {
		logger.Warn(ctx, "sandbox seccomp disabled")
	}
	if !cfg.CgroupEnabled() {
		logger.Warn(ctx, "sandbox cgroups disabled, memory is not enforced")
	}
	return &sandboxEngine{
		cfg:      cfg,
		resolver: resolver,
		cgroups:  newRunRegistry(),
	}, nil
}

func (e *sandboxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, appErr.Wrap(err, appErr.InvalidParams)
	}

	isoProfile, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return result.RunResult{}, err
	}
	if e.cfg.SeccompDir != "" && isoProfile.SeccompProfile != "" && !filepath.IsAbs(isoProfile.SeccompProfile) {
		isoProfile.SeccompProfile = filepath.Join(e.cfg.SeccompDir, isoProfile.SeccompProfile)
	}
	if e.cfg.SeccompEnabled() && isoProfile.SeccompProfile == "" {
		return result.RunResult{}, appErr.Newf(appErr.SandboxError, "profile %s has no seccomp profile", runSpec.Profile)
	}
	hidden := e.cfg.HiddenPaths
	if !e.cfg.NamespacesEnabled() {
		// Without a mount namespace the helper sees the host filesystem directly.
		runSpec = flattenRunSpec(runSpec)
		isoProfile.RootFS = ""
		hidden = nil
	}

	cgroupPath := ""
	if e.cfg.CgroupEnabled() {
		var cleanup func()
		cgroupPath, cleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.TestID)
		if err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "create cgroup failed")
		}
		defer cleanup()
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "apply cgroup limits failed")
		}
		e.cgroups.add(runSpec.SubmissionID, cgroupPath)
		defer e.cgroups.remove(runSpec.SubmissionID, cgroupPath)
	}

	stdinPipe := jsonToPipe(initRequest{
		RunSpec:       runSpec,
		Isolation:     isoProfile,
		EnableSeccomp: e.cfg.SeccompEnabled(),
		EnableNs:      e.cfg.NamespacesEnabled(),
		HiddenPaths:   hidden,
	})
	defer stdinPipe.Close()

	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(isoProfile, e.cfg.NamespacesEnabled())
	cmd.Stdin = stdinPipe
	// The helper reports setup failures on its own stderr; the program's stdio goes to files.
	var helperStderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "start sandbox helper failed")
	}
	if e.cfg.CgroupEnabled() {
		if err := addProcessToCgroup(cgroupPath, cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut, canceled atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wallLimit := durationFromMs(runSpec.Limits.WallTimeMs); wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			canceled.Store(true)
			killProcessGroup(cmd.Process.Pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(cmd.Process.Pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	if canceled.Load() && !timedOut.Load() {
		return result.RunResult{}, ctx.Err()
	}
	if helperStderr.Len() > 0 && !timedOut.Load() {
		msg := strings.TrimSpace(helperStderr.String())
		logger.Error(ctx, "sandbox helper failed", zap.String("stderr", msg), zap.Error(waitErr))
		return result.RunResult{}, appErr.Newf(appErr.SandboxError, "sandbox setup failed: %s", msg)
	}

	stdoutPath := resolveHostPath(runSpec.StdoutPath, runSpec.BindMounts)
	stderrPath := resolveHostPath(runSpec.StderrPath, runSpec.BindMounts)
	stdout, truncated := readLimitedFile(stdoutPath, stdoutCaptureLimit(e.cfg.StdoutStderrMaxBytes, runSpec.Limits.OutputMB))
	stderr, _ := readLimitedFile(stderrPath, e.cfg.StdoutStderrMaxBytes)
	runResult := result.RunResult{
		ExitCode:        exitCodeFromErr(waitErr, cmd.ProcessState),
		TimedOut:        timedOut.Load(),
		TimeMs:          cpuTimeMs(cmd.ProcessState),
		WallTimeMs:      time.Since(start).Milliseconds(),
		MemoryKB:        memoryPeakKB(cgroupPath, cmd.ProcessState),
		OutputKB:        fileSizeKB(stdoutPath),
		OutputTruncated: truncated,
		Stdout:          stdout,
		Stderr:          stderr,
		OomKilled:       wasOomKilled(cgroupPath),
	}
	if runResult.TimedOut && runResult.ExitCode == 0 {
		runResult.ExitCode = -1
	}
	return runResult, nil
}

func (e *sandboxEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	for _, cgroupPath := range e.cgroups.snapshot(submissionID) {
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	return nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	utime := time.Duration(usage.Utime.Sec)*time.Second + time.Duration(usage.Utime.Usec)*time.Microsecond
	stime := time.Duration(usage.Stime.Sec)*time.Second + time.Duration(usage.Stime.Usec)*time.Microsecond
	return (utime + stime).Milliseconds()
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func jsonToPipe(req initRequest) io.ReadCloser {
	reader, writer := io.Pipe()
	go func() {
		err := json.NewEncoder(writer).Encode(req)
		_ = writer.CloseWithError(err)
	}()
	return reader
}

func buildSysProcAttr(profile security.IsolationProfile, enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUSER)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	return attr
}
