// Package enginetest lets a test binary stand in for sandbox-init.
//
// A package using it calls MaybeRunHelper from TestMain and points the
// engine's HelperPath at HelperPath(t). The helper runs the same setup as
// sandbox-init but has no seccomp loader, so engines under test must leave
// seccomp off.
package enginetest

import (
	"os"
	"testing"

	"codejudge/internal/judge/sandbox/initproc"
)

// Env switches the test binary into helper mode.
const Env = "CODEJUDGE_FAKE_SANDBOX_HELPER"

// MaybeRunHelper never returns when the process was started as a helper.
func MaybeRunHelper() {
	if os.Getenv(Env) != "1" {
		return
	}
	initproc.Main(initproc.Options{})
}

// HelperPath enables helper mode for child processes of t and returns the
// path of the running test binary.
func HelperPath(t testing.TB) string {
	t.Helper()
	t.Setenv(Env, "1")
	return os.Args[0]
}
