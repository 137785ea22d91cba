// Package engine runs a single RunSpec on an isolation backend.
package engine

import (
	"context"
	"fmt"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
)

const (
	// BackendSandbox re-execs the sandbox-init helper inside linux namespaces.
	BackendSandbox = "sandbox"
	// BackendDocker runs every process in a throwaway docker container.
	BackendDocker = "docker"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}

// ProfileResolver resolves a profile name into an isolation profile.
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// DefaultCgroupRoot is used when cgroups are enabled without a root.
const DefaultCgroupRoot = "/sys/fs/cgroup/codejudge"

// Config controls sandbox engine behavior.
// The Enable switches are on unless set to false explicitly.
type Config struct {
	Backend              string       `yaml:"backend"`
	CgroupRoot           string       `yaml:"cgroupRoot"`
	SeccompDir           string       `yaml:"seccompDir"`
	HelperPath           string       `yaml:"helperPath"`
	StdoutStderrMaxBytes int64        `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        *bool        `yaml:"enableSeccomp"`
	EnableCgroup         *bool        `yaml:"enableCgroup"`
	EnableNamespaces     *bool        `yaml:"enableNamespaces"`
	// HiddenPaths are covered by an empty tmpfs inside every run's mount
	// namespace. The workspace base dir belongs here so jobs cannot see each other.
	HiddenPaths          []string     `yaml:"hiddenPaths"`
	Docker               DockerConfig `yaml:"docker"`
}

func (c Config) SeccompEnabled() bool { return enabled(c.EnableSeccomp) }
func (c Config) CgroupEnabled() bool { return enabled(c.EnableCgroup) }
func (c Config) NamespacesEnabled() bool { return enabled(c.EnableNamespaces) }

func enabled(v *bool) bool {
	return v == nil || *v
}

// Bool returns a pointer to v for the Enable switches.
func Bool(v bool) *bool {
	return &v
}

// DockerConfig configures the docker backend.
type DockerConfig struct {
	Host         string  `yaml:"host"`
	DefaultImage string  `yaml:"defaultImage"`
	CPUs         float64 `yaml:"cpus"`
	PullImages   bool    `yaml:"pullImages"`
}

// New returns the backend selected by cfg.Backend.
func New(cfg Config, resolver ProfileResolver) (Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.CgroupEnabled() && cfg.CgroupRoot == "" {
		cfg.CgroupRoot = DefaultCgroupRoot
	}
	switch cfg.Backend {
	case "", BackendSandbox:
		return newSandboxEngine(cfg, resolver)
	case BackendDocker:
		return newDockerEngine(cfg, resolver)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if runSpec.TestID == "" {
		return fmt.Errorf("test id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if runSpec.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	return nil
}
