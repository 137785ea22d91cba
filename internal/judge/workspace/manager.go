// Package workspace allocates, tracks and reclaims per-job scratch directories.
package workspace

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxAge       = time.Hour
	defaultReapInterval = 15 * time.Minute
	baseDirPerm         = 0o711
	jobDirPerm          = 0o700
)

// Config controls where jobs live and how long they may stay idle.
type Config struct {
	BaseDir      string        `yaml:"baseDir"`
	MaxAge       time.Duration `yaml:"maxAge"`
	ReapInterval time.Duration `yaml:"reapInterval"`
}

// Job is one exclusively owned execution directory.
type Job struct {
	ID             string
	Dir            string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Path returns the absolute path of name inside the job directory.
func (j Job) Path(name string) string {
	return filepath.Join(j.Dir, name)
}

// Stats summarizes the current workspace usage.
type Stats struct {
	ActiveJobs int   `json:"activeJobs"`
	TotalBytes int64 `json:"totalBytes"`
}

// Manager tracks live jobs under one base directory.
type Manager struct {
	baseDir      string
	maxAge       time.Duration
	reapInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	jobs     map[string]*Job
	removing map[string]struct{} // directories being deleted by Cleanup or the orphan sweep
}

// NewManager creates the base directory and returns a manager rooted at it.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Join(os.TempDir(), "codejudge-jobs")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "resolve workspace base dir failed")
	}
	if err := os.MkdirAll(base, baseDirPerm); err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "create workspace base dir failed")
	}
	return &Manager{
		baseDir:      base,
		maxAge:       cfg.MaxAge,
		reapInterval: cfg.ReapInterval,
		now:          time.Now,
		jobs:         make(map[string]*Job),
		removing:     make(map[string]struct{}),
	}, nil
}

// BaseDir returns the absolute base directory.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// CreateJob allocates a fresh job directory and starts tracking it.
func (m *Manager) CreateJob(ctx context.Context) (Job, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.baseDir, id)
	if err := os.Mkdir(dir, jobDirPerm); err != nil {
		logger.Error(ctx, "create job dir failed", zap.String("dir", dir), zap.Error(err))
		return Job{}, appErr.Wrapf(err, appErr.StorageError, "create job workspace failed")
	}

	now := m.now()
	job := &Job{ID: id, Dir: dir, CreatedAt: now, LastAccessedAt: now}
	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()
	return *job, nil
}

// Touch marks a job as recently used.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.LastAccessedAt = m.now()
	}
}

// Lookup returns a tracked job.
func (m *Manager) Lookup(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Cleanup removes the job directory and forgets the job.
// It reports whether this call removed the directory; calling it again, or for
// an unknown id, does nothing and returns false. Failures are only logged.
func (m *Manager) Cleanup(ctx context.Context, id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
		m.removing[id] = struct{}{}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	defer m.doneRemoving(id)
	if err := os.RemoveAll(job.Dir); err != nil {
		logger.Warn(ctx, "remove job dir failed", zap.String("job_id", id), zap.String("dir", job.Dir), zap.Error(err))
		return false
	}
	return true
}

// Reap cleans up tracked jobs idle for longer than the max age, then removes
// untracked directories under the base dir whose mtime is older than the max age.
// It returns the number of directories removed.
func (m *Manager) Reap(ctx context.Context) int {
	now := m.now()
	var expired []string
	m.mu.Lock()
	for id, job := range m.jobs {
		if now.Sub(job.LastAccessedAt) > m.maxAge {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	removed := 0
	for _, id := range expired {
		if m.Cleanup(ctx, id) {
			removed++
		}
	}
	removed += m.reapOrphans(ctx, now)
	if removed > 0 {
		logger.Info(ctx, "workspace reaped", zap.Int("removed", removed))
	}
	return removed
}

func (m *Manager) reapOrphans(ctx context.Context, now time.Time) int {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		logger.Warn(ctx, "scan workspace base dir failed", zap.String("dir", m.baseDir), zap.Error(err))
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if m.removeOrphan(ctx, entry.Name(), now) {
			removed++
		}
	}
	return removed
}

// removeOrphan deletes an untracked directory older than the max age.
// The name is claimed first so a concurrent Cleanup or sweep never counts it twice.
func (m *Manager) removeOrphan(ctx context.Context, name string, now time.Time) bool {
	m.mu.Lock()
	_, tracked := m.jobs[name]
	_, busy := m.removing[name]
	if tracked || busy {
		m.mu.Unlock()
		return false
	}
	m.removing[name] = struct{}{}
	m.mu.Unlock()
	defer m.doneRemoving(name)

	dir := filepath.Join(m.baseDir, name)
	info, err := os.Lstat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	if now.Sub(info.ModTime()) <= m.maxAge {
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn(ctx, "remove orphan dir failed", zap.String("dir", dir), zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) doneRemoving(name string) {
	m.mu.Lock()
	delete(m.removing, name)
	m.mu.Unlock()
}

// Start runs Reap every reap interval until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(ctx)
		}
	}
}

// Stats reports the tracked job count and the bytes used under the base dir.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.jobs)
	m.mu.Unlock()

	var total int64
	_ = filepath.WalkDir(m.baseDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return Stats{ActiveJobs: active, TotalBytes: total}
}
