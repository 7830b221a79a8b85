// Package runstore owns the on-disk runs directory: run directory
// creation, atomic artifact writes, the latest pointer, listings, summary
// loading and baseline snapshots. Every file lands via write-to-temp,
// fsync, rename, so readers never observe a half-written artifact.
package runstore

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trustbench/trustbench/internal/domain"
)

const (
	latestName     = "latest"
	baselinePrefix = "baseline_"
	timeLayout     = "20060102T150405Z"

	// Metric discovery caps, shared with the HTTP summary surface.
	discoverMaxDepth  = 3
	discoverMaxLeaves = 32
)

// Store manages a single runs root. The mutex serializes latest-pointer
// updates and baseline promotion; artifact writes inside distinct run
// directories do not contend.
type Store struct {
	root string
	mu   sync.Mutex
}

// New opens (creating if needed) a store rooted at root.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: runs root is empty", domain.ErrConfig)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating runs root %s: %v", domain.ErrStorage, root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the runs root directory.
func (s *Store) Root() string { return s.root }

// Create allocates a fresh run directory named {timestamp}-{uuid} and
// returns its path.
func (s *Store) Create(now time.Time) (string, error) {
	name := fmt.Sprintf("%s-%s", now.UTC().Format(timeLayout), uuid.New().String())
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: creating run dir %s: %v", domain.ErrStorage, dir, err)
	}
	return dir, nil
}

// WriteJSON atomically persists v as indented JSON at {dir}/{name}.
func (s *Store) WriteJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", domain.ErrStorage, name, err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(dir, name, data)
}

// WriteFileAtomic writes data to {dir}/{name} via a temp file, fsync and
// rename.
func WriteFileAtomic(dir, name string, data []byte) error {
	tmp := filepath.Join(dir, name+".tmp")
	final := filepath.Join(dir, name)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304 -- paths are store-managed
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", domain.ErrStorage, tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: writing %s: %v", domain.ErrStorage, tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: syncing %s: %v", domain.ErrStorage, tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %v", domain.ErrStorage, tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: renaming %s: %v", domain.ErrStorage, final, err)
	}
	return nil
}

// RepointLatest atomically points {root}/latest at runDir. The pointer is a
// relative symlink created under a temporary name and renamed into place.
func (s *Store) RepointLatest(runDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := filepath.Base(runDir)
	link := filepath.Join(s.root, latestName)
	tmp := filepath.Join(s.root, fmt.Sprintf(".%s.tmp-%s", latestName, uuid.New().String()[:8]))

	// A plain directory named latest (from an older copy-based layout)
	// cannot be renamed over.
	if info, err := os.Lstat(link); err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
		if err := os.RemoveAll(link); err != nil {
			return fmt.Errorf("%w: clearing stale latest dir: %v", domain.ErrStorage, err)
		}
	}

	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("%w: creating latest symlink: %v", domain.ErrStorage, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: repointing latest: %v", domain.ErrStorage, err)
	}
	return nil
}

// LatestDir resolves the latest pointer to an absolute run directory.
func (s *Store) LatestDir() (string, error) {
	link := filepath.Join(s.root, latestName)
	target, err := os.Readlink(link)
	if err != nil {
		if info, statErr := os.Stat(link); statErr == nil && info.IsDir() {
			return link, nil
		}
		return "", fmt.Errorf("%w: no latest run", domain.ErrNotFound)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.root, target)
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("%w: latest points at missing run %s", domain.ErrNotFound, target)
	}
	return target, nil
}

// RunInfo is one listed run.
type RunInfo struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Latest  bool      `json:"latest"`
}

// List returns runs sorted newest first; the run behind the latest pointer
// always surfaces at the head. Baselines and the pointer itself are not
// runs and are excluded.
func (s *Store) List() ([]RunInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading runs root: %v", domain.ErrStorage, err)
	}

	latestTarget := ""
	if dir, err := s.LatestDir(); err == nil {
		latestTarget = filepath.Base(dir)
	}

	runs := make([]RunInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == latestName || strings.HasPrefix(name, baselinePrefix) || strings.HasPrefix(name, ".") {
			continue
		}
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, RunInfo{
			ID:      name,
			Path:    filepath.Join(s.root, name),
			ModTime: info.ModTime(),
			Latest:  name == latestTarget,
		})
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Latest != runs[j].Latest {
			return runs[i].Latest
		}
		return runs[i].ModTime.After(runs[j].ModTime)
	})
	return runs, nil
}

// Summary is the read-side view of one run directory. Missing artifacts
// degrade to empty collections.
type Summary struct {
	Metrics map[string]any         `json:"metrics"`
	Agents  []domain.AgentSnapshot `json:"agents,omitempty"`
}

// LoadSummary reads metrics.json and trace.json from a run directory.
func (s *Store) LoadSummary(dir string) (Summary, error) {
	summary := Summary{Metrics: map[string]any{}}

	if err := readJSON(filepath.Join(dir, "metrics.json"), &summary.Metrics); err != nil && !os.IsNotExist(err) {
		return Summary{}, fmt.Errorf("%w: reading metrics.json: %v", domain.ErrStorage, err)
	}
	if err := readJSON(filepath.Join(dir, "trace.json"), &summary.Agents); err != nil && !os.IsNotExist(err) {
		return Summary{}, fmt.Errorf("%w: reading trace.json: %v", domain.ErrStorage, err)
	}
	return summary, nil
}

// LoadManifest reads run.json from a run directory.
func (s *Store) LoadManifest(dir string) (domain.RunManifest, error) {
	var m domain.RunManifest
	if err := readJSON(filepath.Join(dir, "run.json"), &m); err != nil {
		if os.IsNotExist(err) {
			return domain.RunManifest{}, fmt.Errorf("%w: run manifest missing in %s", domain.ErrNotFound, dir)
		}
		return domain.RunManifest{}, fmt.Errorf("%w: reading run.json: %v", domain.ErrStorage, err)
	}
	return m, nil
}

// LoadVerdict reads verdict.json from a run directory.
func (s *Store) LoadVerdict(dir string) (domain.Verdict, error) {
	var v domain.Verdict
	if err := readJSON(filepath.Join(dir, "verdict.json"), &v); err != nil {
		if os.IsNotExist(err) {
			return domain.Verdict{}, fmt.Errorf("%w: verdict missing in %s", domain.ErrNotFound, dir)
		}
		return domain.Verdict{}, fmt.Errorf("%w: reading verdict.json: %v", domain.ErrStorage, err)
	}
	return v, nil
}

// PromoteBaseline copies the latest run into an immutable
// baseline_{timestamp} snapshot and records the note in baseline.json.
func (s *Store) PromoteBaseline(note string, now time.Time) (string, error) {
	src, err := s.LatestDir()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := baselinePrefix + now.UTC().Format(timeLayout)
	dst := filepath.Join(s.root, name)
	if _, err := os.Stat(dst); err == nil {
		name = fmt.Sprintf("%s-%s", name, uuid.New().String()[:8])
		dst = filepath.Join(s.root, name)
	}
	if err := copyTree(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return "", fmt.Errorf("%w: snapshotting %s: %v", domain.ErrStorage, src, err)
	}

	meta := map[string]any{
		"note":       note,
		"source":     filepath.Base(src),
		"created_at": now.UTC().Format(time.RFC3339),
	}
	if err := s.WriteJSON(dst, "baseline.json", meta); err != nil {
		return "", err
	}
	return dst, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- paths are store-managed
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- paths are store-managed
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) // #nosec G304 -- paths are store-managed
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// DiscoverMetrics walks a metrics map at most three levels deep and
// returns up to 32 numeric leaves under dotted keys, in sorted key order.
func DiscoverMetrics(metrics map[string]any) map[string]float64 {
	out := make(map[string]float64)
	discover(metrics, "", 1, out)
	return out
}

func discover(node map[string]any, prefix string, depth int, out map[string]float64) {
	if depth > discoverMaxDepth || len(out) >= discoverMaxLeaves {
		return
	}
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if len(out) >= discoverMaxLeaves {
			return
		}
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := node[k].(type) {
		case float64:
			out[key] = v
		case int:
			out[key] = float64(v)
		case json.Number:
			if f, err := v.Float64(); err == nil {
				out[key] = f
			}
		case map[string]any:
			discover(v, key, depth+1, out)
		}
	}
}
