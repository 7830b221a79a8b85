package worker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trustbench/trustbench/internal/usecase"
)

// Sweeper fails jobs that stopped making progress, so a crashed worker
// cannot leave status endpoints reporting an eternal "evaluating".
type Sweeper struct {
	manager   usecase.JobManager
	olderThan time.Duration
	interval  time.Duration
}

// NewSweeper builds a Sweeper. Non-positive durations fall back to a
// 30 minute age limit checked every minute.
func NewSweeper(manager usecase.JobManager, olderThan, interval time.Duration) *Sweeper {
	if olderThan <= 0 {
		olderThan = 30 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{manager: manager, olderThan: olderThan, interval: interval}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			slog.Info("job sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	_, span := otel.Tracer(tracerName).Start(ctx, "worker.sweepStuck")
	defer span.End()

	swept := s.manager.SweepStuck(s.olderThan)
	span.SetAttributes(
		attribute.Int("jobs.swept", len(swept)),
		attribute.Float64("jobs.max_age_seconds", s.olderThan.Seconds()),
	)
}
