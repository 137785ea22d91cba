//go:build linux

// Package initproc prepares an isolated process and execs the target program.
// It reads one JSON Request from stdin. Setup failures are written to the
// original stderr and the process exits with status 1.
package initproc

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Options supplies the steps that live outside this package.
type Options struct {
	// ApplySeccomp loads the filter at profilePath. A nil hook fails any
	// request that asks for seccomp.
	ApplySeccomp func(profilePath string) error
}

// report receives setup errors. It starts as stderr and is swapped for a
// saved descriptor before the program's stdio is redirected.
var report = os.Stderr

// Main runs the init sequence and never returns.
func Main(opts Options) {
	if err := run(opts); err != nil {
		_, _ = fmt.Fprintln(report, err.Error())
		os.Exit(1)
	}
}

// run only returns on failure; on success the process image is replaced.
func run(opts Options) error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	if req.EnableNs {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mount private: %w", err)
		}
		if err := applyBindMounts(req.Isolation.RootFS, req.RunSpec.BindMounts); err != nil {
			return err
		}
		// After the binds, so the job's own directory stays reachable at its target.
		if err := hidePaths(req.Isolation.RootFS, req.HiddenPaths); err != nil {
			return err
		}
		if err := enterRoot(req.Isolation.RootFS); err != nil {
			return err
		}
	} else if req.Isolation.RootFS != "" || len(req.RunSpec.BindMounts) > 0 || len(req.HiddenPaths) > 0 {
		return fmt.Errorf("namespaces disabled with rootfs, bind mounts or hidden paths")
	}

	if err := os.Chdir(req.RunSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}

	env := buildEnv(req.RunSpec.Env)
	cmdPath, err := lookPath(req.RunSpec.Cmd[0], env)
	if err != nil {
		return err
	}

	saved, err := saveReportFd()
	if err != nil {
		return err
	}
	report = saved

	if err := redirectIO(req.RunSpec.StdinPath, req.RunSpec.StdoutPath, req.RunSpec.StderrPath); err != nil {
		return err
	}
	if err := applyRlimits(req.RunSpec.Limits); err != nil {
		return err
	}
	if req.EnableSeccomp {
		if req.Isolation.SeccompProfile == "" {
			return fmt.Errorf("seccomp enabled but profile has no filter")
		}
		if opts.ApplySeccomp == nil {
			return fmt.Errorf("seccomp is not available in this helper")
		}
		if err := opts.ApplySeccomp(req.Isolation.SeccompProfile); err != nil {
			return err
		}
	}
	if err := unix.Exec(cmdPath, req.RunSpec.Cmd, env); err != nil {
		return fmt.Errorf("exec %s: %w", cmdPath, err)
	}
	return nil
}

func enterRoot(rootfs string) error {
	if rootfs == "" {
		return nil
	}
	if err := unix.Chroot(rootfs); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir root: %w", err)
	}
	return nil
}

// saveReportFd keeps a close-on-exec copy of stderr so errors after the
// stdio redirect still reach the engine and never the program's own log.
func saveReportFd() (*os.File, error) {
	fd, err := unix.FcntlInt(os.Stderr.Fd(), unix.F_DUPFD_CLOEXEC, 3)
	if err != nil {
		return nil, fmt.Errorf("dup report fd: %w", err)
	}
	return os.NewFile(uintptr(fd), "report"), nil
}

// lookPath resolves name against the PATH of the target environment.
func lookPath(name string, env []string) (string, error) {
	for _, kv := range env {
		if value, ok := strings.CutPrefix(kv, "PATH="); ok {
			if err := os.Setenv("PATH", value); err != nil {
				return "", fmt.Errorf("set path: %w", err)
			}
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve command: %w", err)
	}
	return path, nil
}

func buildEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	return append([]string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}, env...)
}
