package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const dockerCleanupTimeout = 10 * time.Second

// dockerClient is the subset of the docker API the backend needs.
type dockerClient interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

type dockerEngine struct {
	cfg        Config
	resolver   ProfileResolver
	cli        dockerClient
	containers *runRegistry

	pullMu sync.Mutex
	pulled map[string]bool
}

func newDockerEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Docker.Host != "" {
		opts = append(opts, client.WithHost(cfg.Docker.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerEngineWithClient(cfg, resolver, cli), nil
}

func newDockerEngineWithClient(cfg Config, resolver ProfileResolver, cli dockerClient) *dockerEngine {
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	return &dockerEngine{
		cfg:        cfg,
		resolver:   resolver,
		cli:        cli,
		containers: newRunRegistry(),
		pulled:     make(map[string]bool),
	}
}

func (e *dockerEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, appErr.Wrap(err, appErr.InvalidParams)
	}
	iso, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return result.RunResult{}, err
	}
	ref := iso.Image
	if ref == "" {
		ref = e.cfg.Docker.DefaultImage
	}
	if ref == "" {
		return result.RunResult{}, appErr.Newf(appErr.SandboxError, "no image configured for profile %s", runSpec.Profile)
	}
	if err := e.ensureImage(ctx, ref); err != nil {
		return result.RunResult{}, err
	}

	var stdin *os.File
	if runSpec.StdinPath != "" {
		stdin, err = os.Open(resolveHostPath(runSpec.StdinPath, runSpec.BindMounts))
		if err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.StorageError, "open stdin failed")
		}
		defer stdin.Close()
	}

	containerCfg, hostCfg := e.containerConfig(runSpec, iso.DisableNetwork, iso.User, ref, stdin != nil)
	created, err := e.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "create container failed")
	}
	id := created.ID
	e.containers.add(runSpec.SubmissionID, id)
	defer func() {
		e.containers.remove(runSpec.SubmissionID, id)
		rmCtx, cancel := context.WithTimeout(context.Background(), dockerCleanupTimeout)
		defer cancel()
		if err := e.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn(ctx, "remove container failed", zap.String("container", id), zap.Error(err))
		}
	}()

	var attach types.HijackedResponse
	if stdin != nil {
		attach, err = e.cli.ContainerAttach(ctx, id, container.AttachOptions{Stream: true, Stdin: true})
		if err != nil {
			return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "attach container failed")
		}
		defer attach.Close()
	}

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "start container failed")
	}
	if stdin != nil && attach.Conn != nil {
		go func() {
			if _, err := io.Copy(attach.Conn, stdin); err != nil {
				logger.Debug(ctx, "stream stdin stopped", zap.String("container", id), zap.Error(err))
			}
			_ = attach.CloseWrite()
		}()
	}

	exitCode, timedOut, err := e.wait(ctx, id, durationFromMs(runSpec.Limits.WallTimeMs))
	if err != nil {
		return result.RunResult{}, err
	}
	wall := time.Since(start)

	bgCtx, cancel := context.WithTimeout(context.Background(), dockerCleanupTimeout)
	defer cancel()
	stdout := &cappedBuffer{max: stdoutCaptureLimit(e.cfg.StdoutStderrMaxBytes, runSpec.Limits.OutputMB)}
	stderr := &cappedBuffer{max: e.cfg.StdoutStderrMaxBytes}
	if err := e.collectLogs(bgCtx, id, stdout, stderr); err != nil {
		return result.RunResult{}, err
	}
	if err := writeCapture(resolveHostPath(runSpec.StdoutPath, runSpec.BindMounts), stdout); err != nil {
		return result.RunResult{}, err
	}
	if err := writeCapture(resolveHostPath(runSpec.StderrPath, runSpec.BindMounts), stderr); err != nil {
		return result.RunResult{}, err
	}

	res := result.RunResult{
		ExitCode:        exitCode,
		TimedOut:        timedOut,
		TimeMs:          wall.Milliseconds(),
		WallTimeMs:      wall.Milliseconds(),
		OutputKB:        stdout.total / 1024,
		OutputTruncated: stdout.Truncated(),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
	}
	if info, err := e.cli.ContainerInspect(bgCtx, id); err == nil && info.State != nil {
		res.OomKilled = info.State.OOMKilled
	}
	if res.TimedOut && res.ExitCode == 0 {
		res.ExitCode = -1
	}
	return res, nil
}

func (e *dockerEngine) containerConfig(runSpec spec.RunSpec, disableNetwork bool, user, ref string, withStdin bool) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:        ref,
		Cmd:          runSpec.Cmd,
		Env:          runSpec.Env,
		WorkingDir:   runSpec.WorkDir,
		User:         user,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  withStdin,
		OpenStdin:    withStdin,
		StdinOnce:    withStdin,
	}

	binds := make([]string, 0, len(runSpec.BindMounts))
	for _, m := range runSpec.BindMounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", m.Source, m.Target, mode))
	}
	host := &container.HostConfig{
		Binds:       binds,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
	}
	if disableNetwork {
		host.NetworkMode = "none"
	}
	if runSpec.Limits.MemoryMB > 0 {
		host.Resources.Memory = runSpec.Limits.MemoryMB * 1024 * 1024
		host.Resources.MemorySwap = host.Resources.Memory
	}
	if runSpec.Limits.PIDs > 0 {
		pids := runSpec.Limits.PIDs
		host.Resources.PidsLimit = &pids
	}
	if e.cfg.Docker.CPUs > 0 {
		host.Resources.NanoCPUs = int64(e.cfg.Docker.CPUs * 1e9)
	}
	return cfg, host
}

// wait blocks until the container exits, the wall limit fires or ctx is done.
func (e *dockerEngine) wait(ctx context.Context, id string, wallLimit time.Duration) (int, bool, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var wallTimer <-chan time.Time
	if wallLimit > 0 {
		timer := time.NewTimer(wallLimit)
		defer timer.Stop()
		wallTimer = timer.C
	}
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return 0, false, appErr.Newf(appErr.SandboxError, "wait container: %s", status.Error.Message)
		}
		return int(status.StatusCode), false, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			e.kill(id)
			return 0, false, ctx.Err()
		}
		return 0, false, appErr.Wrapf(err, appErr.SandboxError, "wait container failed")
	case <-wallTimer:
		e.kill(id)
		return -1, true, nil
	case <-ctx.Done():
		e.kill(id)
		return 0, false, ctx.Err()
	}
}

func (e *dockerEngine) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), dockerCleanupTimeout)
	defer cancel()
	if err := e.cli.ContainerKill(ctx, id, "KILL"); err != nil {
		logger.Warn(ctx, "kill container failed", zap.String("container", id), zap.Error(err))
	}
}

func (e *dockerEngine) collectLogs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	logs, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "fetch container logs failed")
	}
	defer logs.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "demultiplex container logs failed")
	}
	return nil
}

func (e *dockerEngine) ensureImage(ctx context.Context, ref string) error {
	if !e.cfg.Docker.PullImages {
		return nil
	}
	e.pullMu.Lock()
	defer e.pullMu.Unlock()
	if e.pulled[ref] {
		return nil
	}
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "pull image %s failed", ref)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "pull image %s failed", ref)
	}
	e.pulled[ref] = true
	logger.Info(ctx, "image pulled", zap.String("image", ref))
	return nil
}

func (e *dockerEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	for _, id := range e.containers.snapshot(submissionID) {
		e.kill(id)
	}
	return nil
}

func writeCapture(path string, buf *cappedBuffer) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, buf.buf, 0o644); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "write captured output failed")
	}
	return nil
}
