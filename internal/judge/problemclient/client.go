// Package problemclient loads problem test cases for the judge.
package problemclient

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	cacheKeyPrefix   = "judge:problem:"
	defaultCacheTTL  = 10 * time.Minute
	defaultEmptyTTL  = time.Minute
	maxManifestBytes = 64 << 20
)

var problemIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Source reads a problem from its backing store.
// A missing problem is reported with appErr.NotFound.
type Source interface {
	Load(ctx context.Context, problemID string) (model.Problem, error)
}

// Config controls the cache in front of a Source.
type Config struct {
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// EmptyTTL is how long a missing problem is remembered.
	EmptyTTL time.Duration `yaml:"emptyTTL"`
}

// Client provides problem lookups with an optional cache.
type Client struct {
	source   Source
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewClient creates a new client. c may be nil.
func NewClient(source Source, c cache.Cache, cfg Config) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = defaultEmptyTTL
	}
	return &Client{source: source, cache: c, ttl: cfg.CacheTTL, emptyTTL: cfg.EmptyTTL}
}

// Get returns the test cases of problemID.
func (c *Client) Get(ctx context.Context, problemID string) (model.Problem, error) {
	if !problemIDPattern.MatchString(problemID) {
		return model.Problem{}, appErr.ValidationError("problemId", "invalid format")
	}
	if c.cache == nil {
		return c.source.Load(ctx, problemID)
	}

	problem, err := cache.GetWithCodec(ctx, c.cache, cacheKeyPrefix+problemID, c.ttl, c.emptyTTL,
		func(p model.Problem) bool { return p.ID == "" },
		problemCodec,
		func(ctx context.Context) (model.Problem, error) {
			logger.Debug(ctx, "problem cache miss", zap.String("problem_id", problemID))
			p, err := c.source.Load(ctx, problemID)
			if appErr.Is(err, appErr.NotFound) {
				return model.Problem{}, nil
			}
			return p, err
		})
	if err != nil {
		return model.Problem{}, err
	}
	if problem.ID == "" {
		return model.Problem{}, notFound(problemID)
	}
	return problem, nil
}

func notFound(problemID string) error {
	return appErr.Newf(appErr.NotFound, "problem %s not found", problemID)
}

var problemCodec = cache.Codec[model.Problem]{Encode: encodeProblem, Decode: decodeProblem}

func encodeProblem(p model.Problem) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeProblem(raw string) (model.Problem, error) {
	var p model.Problem
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.Problem{}, err
	}
	if p.ID == "" {
		return model.Problem{}, appErr.New(appErr.InvalidFormat).WithMessage("cached problem has no id")
	}
	return p, nil
}

// finish fills the id and checks the decoded test cases.
func finish(problemID string, p model.Problem) (model.Problem, error) {
	if p.ID == "" {
		p.ID = problemID
	}
	if p.ID != problemID {
		return model.Problem{}, appErr.Newf(appErr.TestCaseInvalid, "manifest id %q does not match problem %s", p.ID, problemID)
	}
	if len(p.SampleTestCases) == 0 && len(p.FullTestCases) == 0 {
		return model.Problem{}, appErr.Newf(appErr.TestCaseInvalid, "problem %s has no test cases", problemID)
	}
	return p, nil
}
