package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbench/trustbench/internal/adapter/jobstore"
	"github.com/trustbench/trustbench/internal/domain"
)

type stubQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (q *stubQueue) Enqueue(job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) accepted() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Job(nil), q.jobs...)
}

func newManager(t *testing.T, queue Enqueuer) (JobManager, *jobstore.Store) {
	t.Helper()
	store, err := jobstore.New(t.TempDir())
	require.NoError(t, err)
	return NewJobManager(store, queue), store
}

func TestSubmitPersistsAndEnqueues(t *testing.T) {
	queue := &stubQueue{}
	m, store := newManager(t, queue)

	job, err := m.Submit(context.Background(), "https://github.com/acme/service", "default")
	require.NoError(t, err)

	assert.Len(t, job.ID, 26)
	assert.Equal(t, domain.JobQueued, job.State)
	assert.Equal(t, 0.0, job.Progress)
	assert.Equal(t, "https://github.com/acme/service", job.RepoURL)
	assert.Equal(t, "default", job.Profile)
	assert.Equal(t, domain.SchemaVersion, job.SchemaVersion)
	assert.False(t, job.CreatedAt.IsZero())

	stored, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, stored)

	_, err = os.Stat(filepath.Join(store.Root(), job.ID, "status.json"))
	require.NoError(t, err)

	accepted := queue.accepted()
	require.Len(t, accepted, 1)
	assert.Equal(t, job.ID, accepted[0].ID)
}

func TestSubmitRejectsInvalidURLs(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"plain http", "http://github.com/acme/service"},
		{"wrong host", "https://gitlab.com/acme/service"},
		{"missing repo", "https://github.com/acme"},
		{"extra segment", "https://github.com/acme/service/tree/main"},
		{"empty owner", "https://github.com//service"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			queue := &stubQueue{}
			m, _ := newManager(t, queue)

			_, err := m.Submit(context.Background(), tc.url, "")
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Empty(t, m.List())
			assert.Empty(t, queue.accepted())
		})
	}
}

func TestSubmitAcceptsGitSuffixAndTrailingSlash(t *testing.T) {
	queue := &stubQueue{}
	m, _ := newManager(t, queue)

	for _, url := range []string{
		"https://github.com/acme/service.git",
		"https://github.com/acme/service/",
	} {
		_, err := m.Submit(context.Background(), url, "")
		require.NoError(t, err, url)
	}
}

func TestSubmitMarksJobFailedWhenQueueRejects(t *testing.T) {
	queue := &stubQueue{err: fmt.Errorf("%w: job queue full", domain.ErrRateLimited)}
	m, _ := newManager(t, queue)

	job, err := m.Submit(context.Background(), "https://github.com/acme/service", "")
	require.ErrorIs(t, err, domain.ErrRateLimited)
	require.NotEmpty(t, job.ID)

	stored, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, stored.State)
	assert.Contains(t, stored.Error, "queue full")
	assert.Equal(t, 0.0, stored.Progress, "a job that never started keeps progress 0")
}

func TestTransitionWalksThePipelineForward(t *testing.T) {
	queue := &stubQueue{}
	m, _ := newManager(t, queue)

	job, err := m.Submit(context.Background(), "https://github.com/acme/service", "")
	require.NoError(t, err)

	prev := job.Progress
	for _, next := range []domain.JobState{
		domain.JobCloning,
		domain.JobAnalyzing,
		domain.JobEvaluating,
		domain.JobReporting,
		domain.JobComplete,
	} {
		job, err = m.Transition(job.ID, next, "stage "+string(next))
		require.NoError(t, err)
		assert.Equal(t, next, job.State)
		assert.GreaterOrEqual(t, job.Progress, prev)
		prev = job.Progress
	}
	assert.Equal(t, 1.0, job.Progress)
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	queue := &stubQueue{}
	m, _ := newManager(t, queue)

	job, err := m.Submit(context.Background(), "https://github.com/acme/service", "")
	require.NoError(t, err)

	_, err = m.Transition(job.ID, domain.JobEvaluating, "skip ahead then back")
	require.NoError(t, err)

	_, err = m.Transition(job.ID, domain.JobCloning, "backwards")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	stored, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobEvaluating, stored.State)

	_, err = m.Transition(job.ID, domain.JobComplete, "done")
	require.NoError(t, err)
	_, err = m.Transition(job.ID, domain.JobFailed, "too late")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestTransitionUnknownJob(t *testing.T) {
	queue := &stubQueue{}
	m, _ := newManager(t, queue)

	_, err := m.Transition("missing", domain.JobCloning, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailRecordsCauseAndKeepsStage(t *testing.T) {
	queue := &stubQueue{}
	m, _ := newManager(t, queue)

	job, err := m.Submit(context.Background(), "https://github.com/acme/service", "")
	require.NoError(t, err)
	_, err = m.Transition(job.ID, domain.JobCloning, "cloning repository")
	require.NoError(t, err)

	failed, err := m.Fail(job.ID, errors.New("clone: repository unreachable"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failed.State)
	assert.Equal(t, domain.JobCloning.Progress(), failed.Progress, "failed jobs keep the progress they reached")
	assert.Equal(t, "clone: repository unreachable", failed.Error)
	assert.Equal(t, "cloning repository", failed.Message)

	again, err := m.Fail(job.ID, errors.New("second cause"))
	require.NoError(t, err)
	assert.Equal(t, "clone: repository unreachable", again.Error)
}

func TestAnnotateMergesArtifactsAndMetadata(t *testing.T) {
	queue := &stubQueue{}
	m, _ := newManager(t, queue)

	job, err := m.Submit(context.Background(), "https://github.com/acme/service", "")
	require.NoError(t, err)

	_, err = m.Annotate(job.ID, map[string]string{"run_dir": "/runs/a"}, map[string]string{"workspace": "/jobs/a/workspace"})
	require.NoError(t, err)
	updated, err := m.Annotate(job.ID, map[string]string{"report_md": "/runs/a/report.md"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/runs/a", updated.Artifacts["run_dir"])
	assert.Equal(t, "/runs/a/report.md", updated.Artifacts["report_md"])
	assert.Equal(t, "/jobs/a/workspace", updated.Metadata["workspace"])
	assert.Equal(t, domain.JobQueued, updated.State)
}

func TestSweepStuckFailsOnlyStaleJobs(t *testing.T) {
	queue := &stubQueue{}
	m, store := newManager(t, queue)

	fresh, err := m.Submit(context.Background(), "https://github.com/acme/fresh", "")
	require.NoError(t, err)

	stale := domain.Job{
		SchemaVersion: domain.SchemaVersion,
		ID:            "01STALESTALESTALESTALESTALE",
		RepoURL:       "https://github.com/acme/stale",
		State:         domain.JobEvaluating,
		Progress:      domain.JobEvaluating.Progress(),
		CreatedAt:     time.Now().UTC().Add(-2 * time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, store.Save(stale))

	done := domain.Job{
		SchemaVersion: domain.SchemaVersion,
		ID:            "01DONEDONEDONEDONEDONEDONE",
		RepoURL:       "https://github.com/acme/done",
		State:         domain.JobComplete,
		Progress:      1.0,
		CreatedAt:     time.Now().UTC().Add(-3 * time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-3 * time.Hour),
	}
	require.NoError(t, store.Save(done))

	swept := m.SweepStuck(30 * time.Minute)
	require.Equal(t, []string{stale.ID}, swept)

	failedJob, err := m.Get(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, failedJob.State)
	assert.Equal(t, fmt.Sprintf("stuck: no progress for %s", 30*time.Minute), failedJob.Error)

	untouched, err := m.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, untouched.State)

	completed, err := m.Get(done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, completed.State)
}
