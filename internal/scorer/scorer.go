// Package scorer grades answers against reference truths. Tiers are tried
// in a fixed priority order (judge, embedding, token overlap) and the first
// tier able to serve the batch wins; lower tiers exist so a run always gets
// a score even when no provider capability is available.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnavailable reports that a tier cannot serve this batch and the chain
// should fall through to the next one.
var ErrUnavailable = errors.New("scorer unavailable")

// Pair is one graded row.
type Pair struct {
	Question string
	Answer   string
	Truth    string
}

// Meta records which tier served a batch and why higher tiers were skipped.
type Meta struct {
	Scorer         string `json:"scorer"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Tier is one scoring strategy. TryScore returns ErrUnavailable when the
// tier cannot serve the batch; any other error aborts the chain.
type Tier interface {
	Name() string
	TryScore(ctx context.Context, rows []Pair) ([]float64, Meta, error)
}

// Chain walks tiers in priority order.
type Chain struct {
	tiers []Tier
}

// NewChain builds a chain over the given tiers, highest priority first.
func NewChain(tiers ...Tier) *Chain {
	return &Chain{tiers: tiers}
}

// Default assembles the standard three-tier chain. judge may be nil when no
// judge provider is configured; embedder may be nil when the provider lacks
// the embedding capability.
func Default(judgeEnabled bool, judge JudgeProvider, embedder BatchEmbedder, embeddingModel string) *Chain {
	return NewChain(
		NewJudge(judge, judgeEnabled),
		NewEmbedding(embedder, embeddingModel),
		Overlap{},
	)
}

// Score grades rows with the first available tier. Scores are returned in
// row order; Meta.Scorer names the serving tier and Meta.Reason explains any
// tiers skipped on the way down.
func (c *Chain) Score(ctx context.Context, rows []Pair) ([]float64, Meta, error) {
	var skipped []string
	for _, tier := range c.tiers {
		scores, meta, err := tier.TryScore(ctx, rows)
		if err == nil {
			meta.Scorer = tier.Name()
			if len(skipped) > 0 {
				meta.Reason = strings.Join(skipped, "; ")
			}
			return scores, meta, nil
		}
		if errors.Is(err, ErrUnavailable) {
			reason := meta.Reason
			if reason == "" {
				reason = err.Error()
			}
			skipped = append(skipped, reason)
			slog.Debug("scorer tier unavailable",
				slog.String("tier", tier.Name()),
				slog.String("reason", reason))
			continue
		}
		return nil, Meta{}, fmt.Errorf("scorer tier %s: %w", tier.Name(), err)
	}
	return nil, Meta{}, fmt.Errorf("no scorer tier available: %s", strings.Join(skipped, "; "))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
