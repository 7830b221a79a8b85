package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/trustbench/trustbench/internal/domain"
)

// Prompt is one adversarial or unsafe probe read from a prompt file.
type Prompt struct {
	ID   string `json:"id"`
	Text string `json:"prompt"`
}

// LoadDataset reads a JSONL dataset of ground-truth records. Blank lines are
// skipped; a malformed line is a config error naming the line number. An
// empty dataset is a config error because every consumer divides by its
// length.
func LoadDataset(path string) ([]domain.DatasetRecord, error) {
	f, err := os.Open(path) // #nosec G304 -- dataset paths come from validated profiles
	if err != nil {
		return nil, fmt.Errorf("%w: opening dataset %s: %v", domain.ErrConfig, path, err)
	}
	defer func() { _ = f.Close() }()

	var records []domain.DatasetRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec domain.DatasetRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("%w: dataset %s line %d: %v", domain.ErrConfig, path, line, err)
		}
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("row_%d", len(records)+1)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning dataset %s: %v", domain.ErrConfig, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: dataset %s is empty", domain.ErrConfig, path)
	}
	return records, nil
}

// LoadPrompts reads a prompt file. Lines starting with # are comments and
// blank lines are skipped. A line starting with { is parsed as a JSON object
// {id?, prompt}; if the parse fails the line is kept verbatim as prompt
// text. IDs default to their 1-based position.
func LoadPrompts(path string) ([]Prompt, error) {
	f, err := os.Open(path) // #nosec G304 -- prompt paths come from validated profiles
	if err != nil {
		return nil, fmt.Errorf("%w: opening prompts %s: %v", domain.ErrConfig, path, err)
	}
	defer func() { _ = f.Close() }()

	var prompts []Prompt
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p := Prompt{Text: text}
		if strings.HasPrefix(text, "{") {
			var parsed Prompt
			if err := json.Unmarshal([]byte(text), &parsed); err == nil && parsed.Text != "" {
				p = parsed
			}
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("prompt_%d", len(prompts)+1)
		}
		prompts = append(prompts, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning prompts %s: %v", domain.ErrConfig, path, err)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("%w: prompt file %s is empty", domain.ErrConfig, path)
	}
	return prompts, nil
}

// Sample draws n records deterministically using seed, preserving the
// dataset's original order in the result. n larger than the dataset returns
// everything.
func Sample(records []domain.DatasetRecord, n int, seed int64) []domain.DatasetRecord {
	if n <= 0 {
		return nil
	}
	if n >= len(records) {
		out := make([]domain.DatasetRecord, len(records))
		copy(out, records)
		return out
	}
	r := rand.New(rand.NewSource(seed)) // #nosec G404 -- sampling must be reproducible, not secure
	idx := r.Perm(len(records))[:n]
	sort.Ints(idx)
	out := make([]domain.DatasetRecord, 0, n)
	for _, i := range idx {
		out = append(out, records[i])
	}
	return out
}
