package scorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/trustbench/trustbench/internal/domain"
)

const judgeRubric = `You are a strict grader. Judge how faithfully the answer matches the reference truth. Respond with a single JSON object {"score": <number between 0 and 1>, "reasoning": "<one sentence>"} and nothing else.`

const judgePromptFormat = "Score the answer against the truth.\nQuestion: %s\nTruth: %s\nAnswer: %s"

// JudgeProvider is the slice of the provider surface the judge tier needs.
type JudgeProvider interface {
	CompleteJSON(ctx context.Context, prompt string, opts domain.CompletionOpts) (map[string]any, error)
}

// Judge grades each row with an LLM against a fixed rubric. It is off by
// default; runs that want it set JUDGE_SCORER_ENABLED.
type Judge struct {
	provider JudgeProvider
	enabled  bool
}

// NewJudge returns the judge tier. A nil provider leaves the tier
// permanently unavailable.
func NewJudge(provider JudgeProvider, enabled bool) *Judge {
	return &Judge{provider: provider, enabled: enabled}
}

func (j *Judge) Name() string { return "judge" }

// TryScore asks the judge for a bounded score per row. Provider failures
// make the whole tier unavailable rather than poisoning the batch.
func (j *Judge) TryScore(ctx context.Context, rows []Pair) ([]float64, Meta, error) {
	if !j.enabled {
		return nil, Meta{Reason: "skipped_judge"}, ErrUnavailable
	}
	if j.provider == nil {
		return nil, Meta{Reason: "judge provider not configured"}, ErrUnavailable
	}

	scores := make([]float64, 0, len(rows))
	for _, row := range rows {
		prompt := fmt.Sprintf(judgePromptFormat, row.Question, row.Truth, row.Answer)
		payload, err := j.provider.CompleteJSON(ctx, prompt, domain.CompletionOpts{
			System:    judgeRubric,
			MaxTokens: 128,
		})
		if err != nil {
			if errors.Is(err, domain.ErrCancelled) || ctx.Err() != nil {
				return nil, Meta{}, err
			}
			return nil, Meta{Reason: fmt.Sprintf("judge failed: %v", err)}, ErrUnavailable
		}
		raw, ok := payload["score"].(float64)
		if !ok {
			return nil, Meta{Reason: "judge returned no numeric score"}, ErrUnavailable
		}
		scores = append(scores, clamp01(raw))
	}
	return scores, Meta{}, nil
}
