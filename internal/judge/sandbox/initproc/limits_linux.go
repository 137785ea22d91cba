package initproc

import (
	"fmt"
	"os"

	"codejudge/internal/judge/sandbox/spec"

	"golang.org/x/sys/unix"
)

const maxOpenFiles = 256

func applyRlimits(limits spec.ResourceLimit) error {
	set := func(name string, resource int, value uint64) error {
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", name, err)
		}
		return nil
	}
	if limits.CPUTimeMs > 0 {
		if err := set("cpu", unix.RLIMIT_CPU, uint64((limits.CPUTimeMs+999)/1000)); err != nil {
			return err
		}
	}
	if limits.OutputMB > 0 {
		if err := set("fsize", unix.RLIMIT_FSIZE, uint64(limits.OutputMB)<<20); err != nil {
			return err
		}
	}
	if limits.StackMB > 0 {
		if err := set("stack", unix.RLIMIT_STACK, uint64(limits.StackMB)<<20); err != nil {
			return err
		}
	}
	if limits.PIDs > 0 {
		if err := set("nproc", unix.RLIMIT_NPROC, uint64(limits.PIDs)); err != nil {
			return err
		}
	}
	return set("nofile", unix.RLIMIT_NOFILE, maxOpenFiles)
}

func redirectIO(stdinPath, stdoutPath, stderrPath string) error {
	orDevNull := func(p string) string {
		if p == "" {
			return os.DevNull
		}
		return p
	}
	stdin, err := os.Open(orDevNull(stdinPath))
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	defer stdin.Close()
	stdout, err := os.OpenFile(orDevNull(stdoutPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open stdout: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(orDevNull(stderrPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open stderr: %w", err)
	}
	defer stderr.Close()

	for _, pair := range [][2]*os.File{{stdin, os.Stdin}, {stdout, os.Stdout}, {stderr, os.Stderr}} {
		if err := unix.Dup2(int(pair[0].Fd()), int(pair[1].Fd())); err != nil {
			return fmt.Errorf("dup %s: %w", pair[1].Name(), err)
		}
	}
	return nil
}
