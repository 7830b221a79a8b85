// Package profile loads evaluation profiles and their datasets from disk.
// Profiles may be authored as YAML or JSON; the store sniffs content rather
// than trusting extensions.
package profile

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/trustbench/trustbench/internal/domain"
)

// DefaultWarnThreshold applies when a profile does not set one.
const DefaultWarnThreshold = 0.75

// Store resolves named profiles under a single directory.
type Store struct {
	dir      string
	validate *validator.Validate
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, validate: validator.New()}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// List returns the available profile names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading profiles dir %s: %v", domain.ErrConfig, s.dir, err)
	}
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load reads, parses, validates, and path-resolves the named profile.
func (s *Store) Load(name string) (domain.Profile, error) {
	path, err := s.find(name)
	if err != nil {
		return domain.Profile{}, err
	}
	raw, err := os.ReadFile(path) // #nosec G304 -- profile paths come from the operator-owned profiles dir
	if err != nil {
		return domain.Profile{}, fmt.Errorf("%w: reading profile %s: %v", domain.ErrConfig, path, err)
	}

	var p domain.Profile
	if looksJSON(raw) {
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.Profile{}, fmt.Errorf("%w: parsing profile %s: %v", domain.ErrConfig, path, err)
		}
	} else {
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return domain.Profile{}, fmt.Errorf("%w: parsing profile %s: %v", domain.ErrConfig, path, err)
		}
	}

	if p.Name == "" {
		p.Name = name
	}
	if p.Thresholds.WarnThreshold == 0 {
		p.Thresholds.WarnThreshold = DefaultWarnThreshold
	}

	base := filepath.Dir(path)
	p.DatasetPath = resolve(base, p.DatasetPath)
	p.AdversarialPath = resolve(base, p.AdversarialPath)
	p.UnsafePath = resolve(base, p.UnsafePath)
	p.RepoPath = resolve(base, p.RepoPath)
	p.RulesPath = resolve(base, p.RulesPath)

	if err := s.check(p); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: profile %s: %v", domain.ErrConfig, name, err)
	}
	return p, nil
}

// find locates the profile file for name, preferring YAML over JSON when
// both exist.
func (s *Store) find(name string) (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: profile %q in %s", domain.ErrNotFound, name, s.dir)
}

// check runs struct validation plus the finiteness guards the tag grammar
// cannot express.
func (s *Store) check(p domain.Profile) error {
	if err := s.validate.Struct(p); err != nil {
		return err
	}
	for field, v := range map[string]float64{
		"thresholds.faithfulness":         p.Thresholds.Faithfulness,
		"thresholds.p95_latency":          p.Thresholds.P95Latency,
		"thresholds.injection_block_rate": p.Thresholds.InjectionBlockRate,
		"thresholds.refusal_accuracy":     p.Thresholds.RefusalAccuracy,
		"thresholds.warn_threshold":       p.Thresholds.WarnThreshold,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %v", field, v)
		}
	}
	return nil
}

// looksJSON sniffs whether raw is a JSON document. MIME detection handles
// the common cases; the brace check catches minified bodies that detectors
// classify as plain text.
func looksJSON(raw []byte) bool {
	if mimetype.Detect(raw).Is("application/json") {
		return true
	}
	trimmed := strings.TrimLeftFunc(string(raw), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	return strings.HasPrefix(trimmed, "{")
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
