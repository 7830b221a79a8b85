package usecase

import (
	"log/slog"
	"time"

	"github.com/trustbench/trustbench/internal/adapter/runstore"
	"github.com/trustbench/trustbench/internal/domain"
)

// RunQuery is the read side over persisted evaluation runs. It never
// mutates run artifacts except through PromoteBaseline.
type RunQuery struct {
	store *runstore.Store
}

// NewRunQuery creates a RunQuery over the given run store.
func NewRunQuery(store *runstore.Store) RunQuery {
	return RunQuery{store: store}
}

// LatestView is what GET /api/run/latest returns: the manifest, the
// on-disk path, and the merged metrics summary.
type LatestView struct {
	Run     domain.RunManifest `json:"run"`
	Path    string             `json:"path"`
	Summary runstore.Summary   `json:"summary"`
}

// Latest resolves the most recent completed run. ErrNotFound when no
// run has completed yet.
func (q RunQuery) Latest() (LatestView, error) {
	dir, err := q.store.LatestDir()
	if err != nil {
		return LatestView{}, err
	}
	manifest, err := q.store.LoadManifest(dir)
	if err != nil {
		return LatestView{}, err
	}
	summary, err := q.store.LoadSummary(dir)
	if err != nil {
		return LatestView{}, err
	}
	return LatestView{Run: manifest, Path: dir, Summary: summary}, nil
}

// Verdict returns the verdict of the latest completed run. ErrNotFound
// when no run has completed yet.
func (q RunQuery) Verdict() (domain.Verdict, error) {
	dir, err := q.store.LatestDir()
	if err != nil {
		return domain.Verdict{}, err
	}
	return q.store.LoadVerdict(dir)
}

// List enumerates all stored runs, newest first.
func (q RunQuery) List() ([]runstore.RunInfo, error) {
	return q.store.List()
}

// PromoteBaseline snapshots the latest run as the comparison baseline
// and returns the baseline directory.
func (q RunQuery) PromoteBaseline(note string) (string, error) {
	dir, err := q.store.PromoteBaseline(note, time.Now().UTC())
	if err != nil {
		return "", err
	}
	slog.Info("baseline promoted", slog.String("dir", dir), slog.String("note", note))
	return dir, nil
}
