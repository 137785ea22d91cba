package runner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codejudge/internal/judge/sandbox/config"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	appErr "codejudge/pkg/errors"
)

// Executor runs source code against one input.
type Executor interface {
	Execute(ctx context.Context, source, stdin string) (Execution, error)
}

// Registry maps language ids to executors.
type Registry struct {
	runners map[string]Executor
}

// NewRegistry builds one runner per configured language. Every language needs
// a run profile, and a compile profile when it compiles.
func NewRegistry(ctx context.Context, langs config.LanguageSpecRepository, profiles config.TaskProfileRepository,
	ws Workspace, eng engine.Engine, runTimeout time.Duration, metrics observer.MetricsRecorder) (*Registry, error) {
	reg := &Registry{runners: make(map[string]Executor)}
	for _, lang := range langs.ListLanguages(ctx) {
		opts := Options{Language: lang, RunTimeout: runTimeout, Metrics: metrics}
		runProfile, err := profiles.GetTaskProfile(ctx, profile.TaskTypeRun, lang.ID)
		if err != nil {
			return nil, fmt.Errorf("language %s: %w", lang.ID, err)
		}
		opts.RunProfile = runProfile
		if lang.CompileEnabled {
			compileProfile, err := profiles.GetTaskProfile(ctx, profile.TaskTypeCompile, lang.ID)
			if err != nil {
				return nil, fmt.Errorf("language %s: %w", lang.ID, err)
			}
			opts.CompileProfile = compileProfile
		}
		r, err := NewRunner(ws, eng, opts)
		if err != nil {
			return nil, fmt.Errorf("language %s: %w", lang.ID, err)
		}
		reg.runners[lang.ID] = r
	}
	return reg, nil
}

// NewStaticRegistry builds a registry from hand-assembled executors.
func NewStaticRegistry(executors map[string]Executor) *Registry {
	reg := &Registry{runners: make(map[string]Executor, len(executors))}
	for id, exec := range executors {
		reg.runners[id] = exec
	}
	return reg
}

// Get returns the executor for language or LanguageNotSupported.
func (r *Registry) Get(language string) (Executor, error) {
	runner, ok := r.runners[language]
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %s not supported", language)
	}
	return runner, nil
}

// Languages lists the registered language ids, sorted.
func (r *Registry) Languages() []string {
	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
