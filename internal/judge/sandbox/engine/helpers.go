package engine

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codejudge/internal/judge/sandbox/spec"
)

const defaultStdoutStderrMaxBytes int64 = 64 * 1024

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func fileSizeKB(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size() / 1024
}

// stdoutCaptureLimit is the configured capture size, raised to the run's
// output limit so output within the limit is never cut short.
func stdoutCaptureLimit(maxBytes, outputMB int64) int64 {
	if limit := outputMB * 1024 * 1024; limit > maxBytes {
		return limit
	}
	return maxBytes
}

// readLimitedFile returns up to maxBytes of path and whether the file held more.
func readLimitedFile(path string, maxBytes int64) (string, bool) {
	if path == "" || maxBytes <= 0 {
		return "", false
	}
	file, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", false
	}
	if int64(len(data)) > maxBytes {
		return string(data[:maxBytes]), true
	}
	return string(data), false
}

// resolveHostPath maps a container path onto the host through the longest matching bind mount.
func resolveHostPath(path string, mounts []spec.MountSpec) string {
	if path == "" {
		return ""
	}
	clean := filepath.Clean(path)
	longest := ""
	source := ""
	for _, mount := range mounts {
		if mount.Target == "" || mount.Source == "" {
			continue
		}
		target := filepath.Clean(mount.Target)
		if clean != target && !strings.HasPrefix(clean, target+string(os.PathSeparator)) {
			continue
		}
		if len(target) > len(longest) {
			longest = target
			source = mount.Source
		}
	}
	if source == "" {
		return path
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(clean, longest), string(os.PathSeparator))
	if rel == "" {
		return source
	}
	return filepath.Join(source, rel)
}

// flattenRunSpec rewrites container paths to host paths and drops the mounts.
// It is used when the process runs without a private mount namespace.
func flattenRunSpec(runSpec spec.RunSpec) spec.RunSpec {
	mounts := runSpec.BindMounts
	if len(mounts) == 0 {
		return runSpec
	}
	out := runSpec
	out.WorkDir = resolveHostPath(runSpec.WorkDir, mounts)
	out.StdinPath = resolveHostPath(runSpec.StdinPath, mounts)
	out.StdoutPath = resolveHostPath(runSpec.StdoutPath, mounts)
	out.StderrPath = resolveHostPath(runSpec.StderrPath, mounts)
	out.Cmd = make([]string, len(runSpec.Cmd))
	for i, arg := range runSpec.Cmd {
		if filepath.IsAbs(arg) {
			out.Cmd[i] = resolveHostPath(arg, mounts)
			continue
		}
		out.Cmd[i] = arg
	}
	out.BindMounts = nil
	return out
}

// cappedBuffer keeps the first max bytes written and counts the rest.
type cappedBuffer struct {
	max   int64
	total int64
	buf   []byte
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.total += int64(len(p))
	if room := b.max - int64(len(b.buf)); room > 0 {
		if int64(len(p)) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

// Truncated reports whether more bytes were written than kept.
func (b *cappedBuffer) Truncated() bool {
	return b.total > b.max
}

func (b *cappedBuffer) String() string {
	return string(b.buf)
}
