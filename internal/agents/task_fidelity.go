package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/profile"
	"github.com/trustbench/trustbench/internal/scorer"
)

// taskPromptFormat is the exact generation template. Changing it changes
// measured faithfulness, so treat it as part of the metric definition.
const taskPromptFormat = "Answer the question accurately. Question: %s. Return only the answer."

// fallbackThreshold is the primary-provider quality bar below which the
// agent re-runs the sample with the profile's secondary provider.
const fallbackThreshold = 0.75

// TaskFidelity generates answers for a deterministic dataset sample and
// grades them with the scorer chain.
type TaskFidelity struct {
	providers domain.Providers
	scorer    *scorer.Chain
}

func NewTaskFidelity(providers domain.Providers, chain *scorer.Chain) *TaskFidelity {
	return &TaskFidelity{providers: providers, scorer: chain}
}

func (a *TaskFidelity) Pillar() string { return domain.PillarTask }

// taskDetail is one row of task_details.json.
type taskDetail struct {
	ID             string  `json:"id"`
	Question       string  `json:"question"`
	Truth          string  `json:"truth"`
	Answer         string  `json:"answer"`
	Score          float64 `json:"score"`
	LatencySeconds float64 `json:"latency_seconds"`
}

type taskRun struct {
	scores    []float64
	latencies []float64
	rows      []taskDetail
	meta      scorer.Meta
}

func (a *TaskFidelity) Run(ctx context.Context, p domain.Profile, _ string) (domain.AgentResult, error) {
	records, err := profile.LoadDataset(p.DatasetPath)
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("task_fidelity: %w", err)
	}
	sample := profile.Sample(records, p.Sampling.N, p.Sampling.Seed)

	primary, err := a.providers.Get(p.ProviderID, p.Model)
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("task_fidelity: %w", err)
	}
	run, err := a.evaluate(ctx, primary, sample)
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("task_fidelity: %w", err)
	}
	providerUsed := "primary"

	if mean(run.scores) < fallbackThreshold && p.HasFallback() {
		retry, retryErr := a.fallback(ctx, p, sample, mean(run.scores))
		switch {
		case retryErr != nil && errors.Is(retryErr, domain.ErrCancelled):
			return domain.AgentResult{}, fmt.Errorf("task_fidelity: %w", retryErr)
		case retryErr != nil:
			slog.Warn("task fidelity fallback failed, keeping primary result",
				slog.String("provider", p.FallbackProviderID),
				slog.Any("error", retryErr))
		case mean(retry.scores) > mean(run.scores):
			run = retry
			providerUsed = "secondary"
		}
	}

	failures := make([]domain.FailureRecord, 0)
	for i, rec := range sample {
		if run.scores[i] < p.Thresholds.Faithfulness {
			failures = append(failures, domain.FailureRecord{
				Pillar: domain.PillarTask,
				ID:     rec.ID,
				Reason: "low_faithfulness",
				Detail: fmt.Sprintf("score %.3f below threshold %.3f", run.scores[i], p.Thresholds.Faithfulness),
			})
		}
	}

	meta := map[string]string{
		"scorer":        run.meta.Scorer,
		"provider_used": providerUsed,
	}
	if run.meta.EmbeddingModel != "" {
		meta["embedding_model"] = run.meta.EmbeddingModel
	}
	if run.meta.Reason != "" {
		meta["scorer_reason"] = run.meta.Reason
	}

	return domain.AgentResult{
		Pillar: domain.PillarTask,
		Metrics: map[string]float64{
			"faithfulness": mean(run.scores),
			"avg_latency":  mean(run.latencies),
			"samples":      float64(len(run.scores)),
		},
		Meta:     meta,
		Failures: failures,
		Details:  run.rows,
	}, nil
}

func (a *TaskFidelity) fallback(ctx context.Context, p domain.Profile, sample []domain.DatasetRecord, primaryMean float64) (taskRun, error) {
	secondary, err := a.providers.Get(p.FallbackProviderID, p.FallbackModel)
	if err != nil {
		return taskRun{}, err
	}
	slog.Info("task fidelity engaging fallback provider",
		slog.Float64("primary_mean", primaryMean),
		slog.String("provider", p.FallbackProviderID),
		slog.String("model", p.FallbackModel))
	return a.evaluate(ctx, secondary, sample)
}

// evaluate answers every sampled record in dataset order, then grades the
// whole batch in one scorer pass.
func (a *TaskFidelity) evaluate(ctx context.Context, prov domain.Provider, sample []domain.DatasetRecord) (taskRun, error) {
	pairs := make([]scorer.Pair, 0, len(sample))
	latencies := make([]float64, 0, len(sample))
	rows := make([]taskDetail, 0, len(sample))
	for _, rec := range sample {
		res, err := prov.Complete(ctx, fmt.Sprintf(taskPromptFormat, rec.Question), domain.CompletionOpts{MaxTokens: 512})
		if err != nil {
			return taskRun{}, fmt.Errorf("completing record %s: %w", rec.ID, err)
		}
		pairs = append(pairs, scorer.Pair{Question: rec.Question, Answer: res.Text, Truth: rec.Truth})
		latencies = append(latencies, res.LatencySeconds)
		rows = append(rows, taskDetail{
			ID:             rec.ID,
			Question:       rec.Question,
			Truth:          rec.Truth,
			Answer:         res.Text,
			LatencySeconds: res.LatencySeconds,
		})
	}

	scores, meta, err := a.scorer.Score(ctx, pairs)
	if err != nil {
		return taskRun{}, fmt.Errorf("scoring batch: %w", err)
	}
	if len(scores) != len(rows) {
		return taskRun{}, fmt.Errorf("%w: scorer returned %d scores for %d rows", domain.ErrParse, len(scores), len(rows))
	}
	for i := range rows {
		rows[i].Score = scores[i]
	}
	return taskRun{scores: scores, latencies: latencies, rows: rows, meta: meta}, nil
}
