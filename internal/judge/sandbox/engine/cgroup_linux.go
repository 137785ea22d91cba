//go:build linux

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/spec"
)

// cgroup v2 layout: <root>/<submission>/<test>-<nanos>
func createRunCgroup(root, submissionID, testID string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	runDir := fmt.Sprintf("%s-%d", testID, time.Now().UnixNano())
	submissionDir := filepath.Join(root, submissionID)
	cgroupPath := filepath.Join(submissionDir, runDir)
	if err := os.MkdirAll(cgroupPath, 0o750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = os.RemoveAll(cgroupPath)
		// Only succeeds once the last run of the submission is gone.
		_ = os.Remove(submissionDir)
	}
	return cgroupPath, cleanup, nil
}

type cgroupValue struct {
	name  string
	value string
}

func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit) error {
	values := []cgroupValue{
		{"pids.max", limitOrMax(limits.PIDs, 1)},
		{"cpu.max", "max 100000"},
	}
	if limits.MemoryMB > 0 {
		values = append(values,
			cgroupValue{"memory.max", limitOrMax(limits.MemoryMB, 1024*1024)},
			cgroupValue{"memory.swap.max", "0"},
		)
	}
	for _, v := range values {
		if err := writeCgroupValue(cgroupPath, v.name, v.value); err != nil {
			// memory.swap.max is absent when swap accounting is off.
			if v.name == "memory.swap.max" {
				continue
			}
			return err
		}
	}
	return nil
}

func limitOrMax(value, scale int64) string {
	if value <= 0 {
		return "max"
	}
	return strconv.FormatInt(value*scale, 10)
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0o600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func memoryPeakKB(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if val, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0o640)
}
