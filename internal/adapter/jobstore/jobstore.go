// Package jobstore persists submitted jobs under a jobs root, one directory
// per job holding a status.json. The in-memory map serves reads at runtime;
// the files let job state survive a restart.
package jobstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/trustbench/trustbench/internal/adapter/runstore"
	"github.com/trustbench/trustbench/internal/domain"
)

const statusFile = "status.json"

// Store is a filesystem-backed job registry safe for concurrent use.
type Store struct {
	root string

	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// New opens a store rooted at root and hydrates jobs persisted by earlier
// processes. Unreadable records are skipped with a warning so one corrupt
// file cannot keep the service from starting.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: jobs root is empty", domain.ErrConfig)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating jobs root %s: %v", domain.ErrStorage, root, err)
	}
	s := &Store{root: root, jobs: make(map[string]domain.Job)}
	if err := s.hydrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("%w: reading jobs root: %v", domain.ErrStorage, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.root, e.Name(), statusFile)
		data, err := os.ReadFile(path) // #nosec G304 -- paths are store-managed
		if err != nil {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal(data, &job); err != nil || job.ID == "" {
			slog.Warn("skipping unreadable job record", slog.String("path", path), slog.Any("error", err))
			continue
		}
		s.jobs[job.ID] = job
	}
	return nil
}

// Root returns the jobs root directory.
func (s *Store) Root() string { return s.root }

// Save persists the job and refreshes the cache. The status file is written
// atomically so a crash never leaves a half-written record.
func (s *Store) Save(job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is empty", domain.ErrInvalidArgument)
	}
	dir := filepath.Join(s.root, job.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: creating job dir %s: %v", domain.ErrStorage, dir, err)
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding job %s: %v", domain.ErrStorage, job.ID, err)
	}
	if err := runstore.WriteFileAtomic(dir, statusFile, append(data, '\n')); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return nil
}

// Get returns a job by id.
func (s *Store) Get(id string) (domain.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job, nil
}

// List returns all jobs newest first; ties break on id so the order is
// stable.
func (s *Store) List() []domain.Job {
	s.mu.RLock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stuck returns non-terminal jobs whose last update predates cutoff, sorted
// by id.
func (s *Store) Stuck(cutoff time.Time) []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Job
	for _, job := range s.jobs {
		if !job.State.Terminal() && job.UpdatedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
