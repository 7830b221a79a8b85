package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/trustbench/trustbench/internal/domain"
)

// BatchEmbedder is the slice of the embedding surface this tier needs.
type BatchEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Embedding scores each row by cosine similarity between the answer and
// truth vectors, clamped to [0,1].
type Embedding struct {
	embedder BatchEmbedder
	model    string
}

// NewEmbedding returns the embedding tier. A nil embedder leaves the tier
// permanently unavailable.
func NewEmbedding(embedder BatchEmbedder, model string) *Embedding {
	return &Embedding{embedder: embedder, model: model}
}

func (e *Embedding) Name() string { return "embedding" }

// TryScore embeds answers and truths in one batch call, interleaved so the
// vectors for row i sit at 2i and 2i+1.
func (e *Embedding) TryScore(ctx context.Context, rows []Pair) ([]float64, Meta, error) {
	if e.embedder == nil {
		return nil, Meta{Reason: "embedding capability missing"}, ErrUnavailable
	}

	texts := make([]string, 0, 2*len(rows))
	for _, row := range rows {
		texts = append(texts, row.Answer, row.Truth)
	}
	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) || ctx.Err() != nil {
			return nil, Meta{}, err
		}
		return nil, Meta{Reason: fmt.Sprintf("embedding failed: %v", err)}, ErrUnavailable
	}
	if len(vectors) != len(texts) {
		return nil, Meta{Reason: "embedding returned wrong vector count"}, ErrUnavailable
	}

	scores := make([]float64, 0, len(rows))
	for i := range rows {
		scores = append(scores, clamp01(cosine(vectors[2*i], vectors[2*i+1])))
	}
	return scores, Meta{EmbeddingModel: e.model}, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
