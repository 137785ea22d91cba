//go:build !linux

package engine

import "fmt"

func newSandboxEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	return nil, fmt.Errorf("the %s backend is only supported on linux, use %s", BackendSandbox, BackendDocker)
}
