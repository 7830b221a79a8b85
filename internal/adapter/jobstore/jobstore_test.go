package jobstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbench/trustbench/internal/domain"
)

func sampleJob(id string, state domain.JobState, created time.Time) domain.Job {
	return domain.Job{
		SchemaVersion: domain.SchemaVersion,
		ID:            id,
		RepoURL:       "https://github.com/acme/widget",
		State:         state,
		Progress:      state.Progress(),
		Profile:       "default",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	job := sampleJob("job_1", domain.JobQueued, time.Now().UTC())
	require.NoError(t, store.Save(job))

	got, err := store.Get("job_1")
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveRejectsEmptyID(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	err = store.Save(domain.Job{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleJob("job_1", domain.JobCloning, time.Now().UTC())))

	entries, err := os.ReadDir(filepath.Join(root, "job_1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "status.json", entries[0].Name())
}

func TestReopenHydratesPersistedJobs(t *testing.T) {
	root := t.TempDir()
	first, err := New(root)
	require.NoError(t, err)

	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	job := sampleJob("job_1", domain.JobEvaluating, created)
	job.Metadata = map[string]string{"workspace": "/tmp/ws/job_1"}
	require.NoError(t, first.Save(job))

	reopened, err := New(root)
	require.NoError(t, err)
	got, err := reopened.Get("job_1")
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestHydrateSkipsCorruptRecords(t *testing.T) {
	root := t.TempDir()
	first, err := New(root)
	require.NoError(t, err)
	require.NoError(t, first.Save(sampleJob("job_ok", domain.JobComplete, time.Now().UTC())))

	corrupt := filepath.Join(root, "job_bad")
	require.NoError(t, os.MkdirAll(corrupt, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "status.json"), []byte("{not json"), 0o600))

	reopened, err := New(root)
	require.NoError(t, err)
	_, err = reopened.Get("job_ok")
	assert.NoError(t, err)
	_, err = reopened.Get("job_bad")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(sampleJob("job_old", domain.JobComplete, base)))
	require.NoError(t, store.Save(sampleJob("job_mid", domain.JobFailed, base.Add(time.Hour))))
	require.NoError(t, store.Save(sampleJob("job_new", domain.JobQueued, base.Add(2*time.Hour))))

	jobs := store.List()
	require.Len(t, jobs, 3)
	assert.Equal(t, "job_new", jobs[0].ID)
	assert.Equal(t, "job_mid", jobs[1].ID)
	assert.Equal(t, "job_old", jobs[2].ID)
}

func TestStuckFiltersTerminalAndFresh(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	now := time.Now().UTC()
	old := now.Add(-time.Hour)

	stale := sampleJob("job_stale", domain.JobEvaluating, old)
	require.NoError(t, store.Save(stale))

	done := sampleJob("job_done", domain.JobComplete, old)
	require.NoError(t, store.Save(done))

	fresh := sampleJob("job_fresh", domain.JobCloning, old)
	fresh.UpdatedAt = now
	require.NoError(t, store.Save(fresh))

	stuck := store.Stuck(now.Add(-30 * time.Minute))
	require.Len(t, stuck, 1)
	assert.Equal(t, "job_stale", stuck[0].ID)
}
