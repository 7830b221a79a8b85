package agents

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbench/trustbench/internal/domain"
)

func latencyProvider(latencies ...float64) *scriptedProvider {
	i := 0
	return &scriptedProvider{
		name: "primary",
		complete: func(string) (domain.ProviderResult, error) {
			l := latencies[i%len(latencies)]
			i++
			return domain.ProviderResult{Text: "ok", LatencySeconds: l}, nil
		},
	}
}

func TestSystemPerfMetrics(t *testing.T) {
	agent := NewSystemPerf(providerMap{"primary": latencyProvider(0.01, 0.05, 0.03)})

	p := baseProfile()
	p.Sampling.N = 3

	res, err := agent.Run(context.Background(), p, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, domain.PillarSystem, res.Pillar)
	assert.InDelta(t, 0.03, res.Metrics["mean_latency"], 1e-9)
	assert.InDelta(t, 0.05, res.Metrics["p95_latency"], 1e-9)
	assert.InDelta(t, 3.0, res.Metrics["samples"], 1e-9)
	assert.Empty(t, res.Failures)

	probes, ok := res.Details.([]probeDetail)
	require.True(t, ok)
	require.Len(t, probes, 3)
	assert.Equal(t, 1, probes[0].Probe)
}

func TestSystemPerfBudgetExceeded(t *testing.T) {
	agent := NewSystemPerf(providerMap{"primary": latencyProvider(1.2)})

	p := baseProfile()
	p.Sampling.N = 4
	p.Thresholds.P95Latency = 0.5

	res, err := agent.Run(context.Background(), p, t.TempDir())
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "p95_latency_exceeded", res.Failures[0].Reason)
	assert.InDelta(t, 1.2, res.Metrics["p95_latency"], 1e-9)
}

func TestSystemPerfRequiresPositiveSampleCount(t *testing.T) {
	agent := NewSystemPerf(providerMap{"primary": latencyProvider(0.01)})

	p := baseProfile()
	p.Sampling.N = 0

	_, err := agent.Run(context.Background(), p, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestSystemPerfProviderErrorFailsPillar(t *testing.T) {
	failing := &scriptedProvider{name: "primary", complete: func(string) (domain.ProviderResult, error) {
		return domain.ProviderResult{}, fmt.Errorf("%w: connection refused", domain.ErrTimeout)
	}}
	agent := NewSystemPerf(providerMap{"primary": failing})

	_, err := agent.Run(context.Background(), baseProfile(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestPercentile95(t *testing.T) {
	cases := []struct {
		name      string
		latencies []float64
		want      float64
	}{
		{"single sample", []float64{0.7}, 0.7},
		{"ten samples takes index nine", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 10},
		{"twenty samples takes index eighteen", seq(20), 19},
		{"unsorted input", []float64{5, 1, 4, 2, 3}, 5},
		{"empty", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, percentile95(tc.latencies), 1e-9)
		})
	}
}

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}
