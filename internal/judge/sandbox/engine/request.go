package engine

import (
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
)

// initRequest is the JSON document sandbox-init reads from stdin.
// Field names are part of the helper contract.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
	HiddenPaths   []string
}
