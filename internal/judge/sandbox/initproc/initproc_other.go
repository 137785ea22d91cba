//go:build !linux

package initproc

import (
	"fmt"
	"os"
)

// Options supplies the steps that live outside this package.
type Options struct {
	ApplySeccomp func(profilePath string) error
}

// Main reports that the helper cannot run here and exits.
func Main(Options) {
	_, _ = fmt.Fprintln(os.Stderr, "sandbox-init is only supported on linux")
	os.Exit(1)
}
