package agents

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/trustbench/trustbench/internal/domain"
)

const probePrompt = "Reply with a single word: ok"

// SystemPerf measures completion latency with lightweight probes.
type SystemPerf struct {
	providers domain.Providers
}

func NewSystemPerf(providers domain.Providers) *SystemPerf {
	return &SystemPerf{providers: providers}
}

func (a *SystemPerf) Pillar() string { return domain.PillarSystem }

type probeDetail struct {
	Probe          int     `json:"probe"`
	LatencySeconds float64 `json:"latency_seconds"`
}

func (a *SystemPerf) Run(ctx context.Context, p domain.Profile, _ string) (domain.AgentResult, error) {
	if p.Sampling.N < 1 {
		return domain.AgentResult{}, fmt.Errorf("%w: system_perf: sampling.n must be at least 1", domain.ErrConfig)
	}
	prov, err := a.providers.Get(p.ProviderID, p.Model)
	if err != nil {
		return domain.AgentResult{}, fmt.Errorf("system_perf: %w", err)
	}

	latencies := make([]float64, 0, p.Sampling.N)
	details := make([]probeDetail, 0, p.Sampling.N)
	for i := 0; i < p.Sampling.N; i++ {
		res, err := prov.Complete(ctx, probePrompt, domain.CompletionOpts{MaxTokens: 8})
		if err != nil {
			return domain.AgentResult{}, fmt.Errorf("system_perf: probe %d: %w", i+1, err)
		}
		latencies = append(latencies, res.LatencySeconds)
		details = append(details, probeDetail{Probe: i + 1, LatencySeconds: res.LatencySeconds})
	}

	p95 := percentile95(latencies)
	var failures []domain.FailureRecord
	if p95 > p.Thresholds.P95Latency {
		failures = append(failures, domain.FailureRecord{
			Pillar: domain.PillarSystem,
			Reason: "p95_latency_exceeded",
			Detail: fmt.Sprintf("p95 %.3fs over budget %.3fs", p95, p.Thresholds.P95Latency),
		})
	}

	return domain.AgentResult{
		Pillar: domain.PillarSystem,
		Metrics: map[string]float64{
			"mean_latency": mean(latencies),
			"p95_latency":  p95,
			"samples":      float64(len(latencies)),
		},
		Failures: failures,
		Details:  details,
	}, nil
}

// percentile95 returns sorted[ceil(0.95*n)-1], the nearest-rank p95.
func percentile95(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
