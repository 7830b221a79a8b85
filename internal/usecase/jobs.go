// Package usecase coordinates the application services that sit between
// the HTTP surface and the adapters: job intake and lifecycle, and
// read-side queries over completed runs.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trustbench/trustbench/internal/adapter/jobstore"
	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/domain"
)

// Enqueuer hands an accepted job to whatever executes it. The worker
// pool implements this; tests substitute a recorder.
type Enqueuer interface {
	Enqueue(job domain.Job) error
}

// JobManager owns the job lifecycle: intake, forward-only state
// transitions, annotation with artifacts, and failure bookkeeping.
// Every mutation is persisted through the job store before it becomes
// visible, so status survives process restarts.
type JobManager struct {
	jobs  *jobstore.Store
	queue Enqueuer
}

// NewJobManager creates a JobManager backed by the given store. A nil
// queue is fine for managers that only drive transitions, such as the
// worker pool's view; Submit requires one.
func NewJobManager(jobs *jobstore.Store, queue Enqueuer) JobManager {
	return JobManager{jobs: jobs, queue: queue}
}

// Submit validates the repository URL, persists a queued job, and hands
// it to the queue. When the queue rejects the job (for example because
// it is full) the job is marked failed and the error is returned so the
// caller can surface it.
func (m JobManager) Submit(ctx context.Context, repoURL, profileName string) (domain.Job, error) {
	if m.queue == nil {
		return domain.Job{}, fmt.Errorf("%w: job manager has no queue", domain.ErrConfig)
	}
	repoURL = strings.TrimSpace(repoURL)
	if err := ValidateRepoURL(repoURL); err != nil {
		return domain.Job{}, err
	}

	now := time.Now().UTC()
	job := domain.Job{
		SchemaVersion: domain.SchemaVersion,
		ID:            ulid.Make().String(),
		RepoURL:       repoURL,
		State:         domain.JobQueued,
		Progress:      domain.JobQueued.Progress(),
		Message:       "queued for evaluation",
		Profile:       strings.TrimSpace(profileName),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.jobs.Save(job); err != nil {
		return domain.Job{}, err
	}

	if err := m.queue.Enqueue(job); err != nil {
		failed, ferr := m.Fail(job.ID, fmt.Errorf("enqueue: %v", err))
		if ferr != nil {
			slog.Error("mark job failed after enqueue rejection",
				slog.String("job_id", job.ID), slog.Any("error", ferr))
		} else {
			job = failed
		}
		return job, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	observability.EnqueueJob(job.Profile)
	slog.Info("job accepted",
		slog.String("job_id", job.ID),
		slog.String("repo_url", repoURL),
		slog.String("profile", job.Profile))
	return job, nil
}

// Transition moves a job into the next pipeline state. Illegal moves
// (backwards, or out of a terminal state) are rejected with
// ErrInvalidArgument and leave the stored job untouched.
func (m JobManager) Transition(id string, next domain.JobState, message string) (domain.Job, error) {
	job, err := m.jobs.Get(id)
	if err != nil {
		return domain.Job{}, err
	}
	if !job.State.CanTransition(next) {
		return domain.Job{}, fmt.Errorf("%w: job %s cannot move %s -> %s", domain.ErrInvalidArgument, id, job.State, next)
	}

	job.State = next
	if next != domain.JobFailed {
		job.Progress = next.Progress()
	}
	job.Message = message
	job.UpdatedAt = time.Now().UTC()
	if err := m.jobs.Save(job); err != nil {
		return domain.Job{}, err
	}

	slog.Info("job transition",
		slog.String("job_id", id),
		slog.String("state", string(next)),
		slog.Float64("progress", job.Progress))
	return job, nil
}

// Fail marks a job failed, recording the cause and keeping the stage,
// message, and progress untouched so callers can see where the pipeline
// stopped. Failing an already-terminal job is a no-op that returns the
// stored job.
func (m JobManager) Fail(id string, cause error) (domain.Job, error) {
	job, err := m.jobs.Get(id)
	if err != nil {
		return domain.Job{}, err
	}
	if job.State.Terminal() {
		return job, nil
	}

	job.State = domain.JobFailed
	job.Error = cause.Error()
	job.UpdatedAt = time.Now().UTC()
	if err := m.jobs.Save(job); err != nil {
		return domain.Job{}, err
	}

	slog.Warn("job failed", slog.String("job_id", id), slog.Any("error", cause))
	return job, nil
}

// Annotate merges artifact paths and metadata into a job without
// touching its state. Nil maps are accepted.
func (m JobManager) Annotate(id string, artifacts, metadata map[string]string) (domain.Job, error) {
	job, err := m.jobs.Get(id)
	if err != nil {
		return domain.Job{}, err
	}

	if len(artifacts) > 0 {
		if job.Artifacts == nil {
			job.Artifacts = make(map[string]string, len(artifacts))
		}
		for k, v := range artifacts {
			job.Artifacts[k] = v
		}
	}
	if len(metadata) > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			job.Metadata[k] = v
		}
	}
	job.UpdatedAt = time.Now().UTC()

	if err := m.jobs.Save(job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Get returns the stored job or ErrNotFound.
func (m JobManager) Get(id string) (domain.Job, error) {
	return m.jobs.Get(id)
}

// List returns all known jobs, newest first.
func (m JobManager) List() []domain.Job {
	return m.jobs.List()
}

// SweepStuck fails every non-terminal job that has not been touched for
// longer than olderThan. It returns the IDs of the jobs it failed.
func (m JobManager) SweepStuck(olderThan time.Duration) []string {
	cutoff := time.Now().UTC().Add(-olderThan)
	stuck := m.jobs.Stuck(cutoff)
	if len(stuck) == 0 {
		return nil
	}

	failed := make([]string, 0, len(stuck))
	for _, job := range stuck {
		if _, err := m.Fail(job.ID, fmt.Errorf("stuck: no progress for %s", olderThan)); err != nil {
			slog.Error("sweep stuck job", slog.String("job_id", job.ID), slog.Any("error", err))
			continue
		}
		failed = append(failed, job.ID)
	}
	if len(failed) > 0 {
		slog.Warn("swept stuck jobs", slog.Int("count", len(failed)))
	}
	return failed
}

// ValidateRepoURL accepts only public GitHub HTTPS URLs of the form
// https://github.com/{owner}/{repo}. Anything else is rejected with
// ErrInvalidArgument.
func ValidateRepoURL(repoURL string) error {
	const prefix = "https://github.com/"
	if !strings.HasPrefix(repoURL, prefix) {
		return fmt.Errorf("%w: repo_url must start with %s", domain.ErrInvalidArgument, prefix)
	}
	slug := strings.TrimSuffix(strings.TrimPrefix(repoURL, prefix), "/")
	slug = strings.TrimSuffix(slug, ".git")
	parts := strings.Split(slug, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: repo_url must name owner/repo, got %q", domain.ErrInvalidArgument, repoURL)
	}
	return nil
}
