package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/consumer"
	"codejudge/internal/judge/problemclient"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/workspace"
	"codejudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr           = "0.0.0.0:8085"
	defaultReadTimeout        = 5 * time.Second
	defaultWriteTimeout       = 60 * time.Second
	defaultIdleTimeout        = 60 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultExecutionTimeoutMs = 5000
	defaultWorkspaceDir       = "/tmp/codejudge"
	defaultProblemDir         = "configs/problems"
	defaultSQLiteDSN          = "file:codejudge.db?_pragma=busy_timeout(5000)"
	defaultSubmissionCacheTTL = time.Hour
	defaultSeccompDir         = "configs/seccomp"
	defaultSeccompProfile     = "default.json"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// JudgeConfig holds submission limits and concurrency.
type JudgeConfig struct {
	MaxCodeLength      int           `yaml:"maxCodeLength"`
	MaxInputLength     int           `yaml:"maxInputLength"`
	ExecutionTimeoutMs int64         `yaml:"executionTimeoutMs"`
	WorkerPoolSize     int           `yaml:"workerPoolSize"`
	SlotWait           time.Duration `yaml:"slotWait"`
}

// ProblemConfig selects where test cases are read from.
// Object storage is used when minio.endpoint is set, otherwise Dir.
type ProblemConfig struct {
	Dir          string               `yaml:"dir"`
	ObjectPrefix string               `yaml:"objectPrefix"`
	Cache        problemclient.Config `yaml:"cache"`
}

// DatabaseConfig holds the submission store settings.
type DatabaseConfig struct {
	db.Config `yaml:",inline"`

	// AutoMigrate creates the submissions table on start.
	AutoMigrate bool          `yaml:"autoMigrate"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds broker settings. Kafka is disabled without brokers.
type KafkaConfig struct {
	mq.KafkaConfig `yaml:",inline"`

	ResultTopic string          `yaml:"resultTopic"`
	Consumer    consumer.Config `yaml:"consumer"`
	// ConsumeTasks subscribes to the task topic.
	ConsumeTasks bool `yaml:"consumeTasks"`
}

// AuthConfig holds caller identification settings.
type AuthConfig struct {
	middleware.AuthConfig `yaml:",inline"`

	// TrustUserHeader accepts X-User-Id from a trusted gateway.
	TrustUserHeader bool `yaml:"trustUserHeader"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig           `yaml:"server"`
	Logger    logger.Config          `yaml:"logger"`
	Judge     JudgeConfig            `yaml:"judge"`
	Workspace workspace.Config       `yaml:"workspace"`
	Sandbox   engine.Config          `yaml:"sandbox"`
	Languages []profile.LanguageSpec `yaml:"languages"`
	Profiles  []profile.TaskProfile  `yaml:"profiles"`
	Problems  ProblemConfig          `yaml:"problems"`
	Database  DatabaseConfig         `yaml:"database"`
	Redis     cache.RedisConfig      `yaml:"redis"`
	MinIO     storage.MinIOConfig    `yaml:"minio"`
	Kafka     KafkaConfig            `yaml:"kafka"`
	Auth      AuthConfig             `yaml:"auth"`
}

// ExecutionTimeout is the wall-clock budget of one run.
func (c *AppConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.Judge.ExecutionTimeoutMs) * time.Millisecond
}

// loadEnvFile loads KEY=VALUE pairs without overriding the environment.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnv(raw string) string {
	return os.Expand(raw, func(name string) string {
		key, def, hasDefault := strings.Cut(name, ":-")
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() error {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}

	if c.Judge.MaxCodeLength <= 0 {
		c.Judge.MaxCodeLength = service.DefaultMaxCodeLength
	}
	if c.Judge.MaxInputLength <= 0 {
		c.Judge.MaxInputLength = service.DefaultMaxInputLength
	}
	if c.Judge.ExecutionTimeoutMs <= 0 {
		c.Judge.ExecutionTimeoutMs = defaultExecutionTimeoutMs
	}
	if c.Judge.WorkerPoolSize <= 0 {
		c.Judge.WorkerPoolSize = 4
	}
	if c.Workspace.BaseDir == "" {
		c.Workspace.BaseDir = defaultWorkspaceDir
	}
	if c.Sandbox.SeccompDir == "" {
		c.Sandbox.SeccompDir = defaultSeccompDir
	}
	if c.Sandbox.CgroupEnabled() && c.Sandbox.CgroupRoot == "" {
		c.Sandbox.CgroupRoot = engine.DefaultCgroupRoot
	}

	if len(c.Languages) == 0 {
		c.Languages = profile.DefaultLanguages()
	}
	c.Profiles = withDefaultProfiles(c.Languages, c.Profiles, c.Judge.ExecutionTimeoutMs)

	if c.Problems.Dir == "" {
		c.Problems.Dir = defaultProblemDir
	}
	if c.MinIO.Endpoint != "" && c.MinIO.Bucket == "" {
		return fmt.Errorf("minio bucket is required")
	}

	if c.Database.Driver == "" {
		c.Database.Driver = db.DriverSQLite
	}
	if c.Database.DSN == "" {
		if c.Database.Driver != db.DriverSQLite {
			return fmt.Errorf("database dsn is required")
		}
		c.Database.DSN = defaultSQLiteDSN
	}
	if c.Database.CacheTTL == 0 {
		c.Database.CacheTTL = defaultSubmissionCacheTTL
	}
	if c.Redis.Addr != "" {
		c.Redis.ApplyDefaults()
	}

	if c.Kafka.ResultTopic == "" {
		c.Kafka.ResultTopic = repository.DefaultResultTopic
	}
	if c.Kafka.Consumer.Concurrency <= 0 {
		c.Kafka.Consumer.Concurrency = c.Judge.WorkerPoolSize
	}
	return nil
}

// sandboxConfig is the engine config with the workspace base dir hidden
// from every run, so a job only sees its own directory.
func (c *AppConfig) sandboxConfig(workspaceDir string) engine.Config {
	cfg := c.Sandbox
	cfg.HiddenPaths = append(append([]string(nil), c.Sandbox.HiddenPaths...), workspaceDir)
	return cfg
}

// withDefaultProfiles adds a run profile, and a compile profile for compiled
// languages, wherever the config does not define one.
func withDefaultProfiles(langs []profile.LanguageSpec, profiles []profile.TaskProfile, timeoutMs int64) []profile.TaskProfile {
	have := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		have[profile.Name(p.LanguageID, p.TaskType)] = true
	}
	out := append([]profile.TaskProfile(nil), profiles...)
	for _, lang := range langs {
		if !have[profile.Name(lang.ID, profile.TaskTypeRun)] {
			out = append(out, profile.TaskProfile{
				LanguageID:     lang.ID,
				TaskType:       profile.TaskTypeRun,
				SeccompProfile: defaultSeccompProfile,
				DefaultLimits: spec.ResourceLimit{
					CPUTimeMs:  timeoutMs,
					WallTimeMs: timeoutMs,
					MemoryMB:   256,
					StackMB:    64,
					OutputMB:   16,
					PIDs:       64,
				},
			})
		}
		if lang.CompileEnabled && !have[profile.Name(lang.ID, profile.TaskTypeCompile)] {
			out = append(out, profile.TaskProfile{
				LanguageID:     lang.ID,
				TaskType:       profile.TaskTypeCompile,
				SeccompProfile: defaultSeccompProfile,
				DefaultLimits: spec.ResourceLimit{
					CPUTimeMs:  20000,
					WallTimeMs: 30000,
					MemoryMB:   1024,
					StackMB:    64,
					OutputMB:   16,
					PIDs:       128,
				},
			})
		}
	}
	return out
}
