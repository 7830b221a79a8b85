// Command server starts the TrustBench HTTP API together with the
// in-process evaluation worker pool and the stuck-job sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trustbench/trustbench/internal/adapter/httpserver"
	"github.com/trustbench/trustbench/internal/adapter/jobstore"
	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/adapter/provider"
	"github.com/trustbench/trustbench/internal/adapter/runstore"
	"github.com/trustbench/trustbench/internal/adapter/toolbridge"
	"github.com/trustbench/trustbench/internal/app"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/orchestrator"
	"github.com/trustbench/trustbench/internal/profile"
	"github.com/trustbench/trustbench/internal/scorer"
	"github.com/trustbench/trustbench/internal/usecase"
	"github.com/trustbench/trustbench/internal/worker"
)

// gitSHA is stamped at build time via -ldflags "-X main.gitSHA=...".
var gitSHA string

func main() {
	// A missing .env file is fine; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, provider, tool, and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	jobs, err := jobstore.New(cfg.JobsRoot)
	if err != nil {
		slog.Error("open job store", slog.Any("error", err))
		os.Exit(1)
	}
	runs, err := runstore.New(cfg.RunsRoot)
	if err != nil {
		slog.Error("open run store", slog.Any("error", err))
		os.Exit(1)
	}
	profiles := profile.NewStore(cfg.ProfilesDir)

	registry := provider.NewRegistry(cfg, provider.NewPool(cfg.MaxProviderConcurrency))
	chain := buildScorer(cfg, registry)
	bridge := buildBridge(cfg)

	runner := orchestrator.NewRunner(cfg, registry, bridge, chain, runs)
	runner.GitSHA = gitSHA

	// The pool's manager carries no queue: workers only transition jobs they
	// already hold. The API-facing manager enqueues onto the pool.
	pool := worker.New(cfg, usecase.NewJobManager(jobs, nil), profiles, runner, bridge)
	manager := usecase.NewJobManager(jobs, pool)
	query := usecase.NewRunQuery(runs)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	pool.Start(workerCtx)

	// Jobs accepted before the last shutdown but never started are still
	// queued on disk; put them back on the channel. In-flight stages from a
	// crash are left to the sweeper.
	for _, job := range manager.List() {
		if job.State != domain.JobQueued {
			continue
		}
		if err := pool.Enqueue(job); err != nil {
			slog.Warn("requeue persisted job", slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}

	sweeper := worker.NewSweeper(manager, cfg.JobStuckAfter, time.Minute)
	go sweeper.Run(workerCtx)

	srv := httpserver.NewServer(cfg, manager, query, profiles, app.BuildReadinessChecks(cfg, profiles)...)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.Bool("fake_provider", cfg.FakeProvider))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Stop accepting new evaluation work, then wait for in-flight jobs to
	// unwind. Interrupted jobs are marked failed on the way out.
	stopWorkers()
	pool.Wait()
	slog.Info("shutdown complete")
}

// buildScorer assembles the three-tier faithfulness chain. Judge and
// embedding tiers degrade to unavailable when the provider cannot serve
// them; the token-overlap floor always works.
func buildScorer(cfg config.Config, registry *provider.Registry) *scorer.Chain {
	var judge scorer.JudgeProvider
	judgeEnabled := cfg.JudgeScorerEnabled
	if judgeEnabled {
		p, err := registry.Get("openai", cfg.ProviderModel)
		if err != nil {
			slog.Warn("judge scorer disabled", slog.Any("error", err))
			judgeEnabled = false
		} else {
			judge = p
		}
	}
	var embedder scorer.BatchEmbedder
	if emb, err := registry.Embedder(); err != nil {
		slog.Warn("embedding scorer disabled", slog.Any("error", err))
	} else {
		embedder = emb
	}
	return scorer.Default(judgeEnabled, judge, embedder, registry.EmbeddingModel())
}

// buildBridge picks the tool transport. Fake-provider deployments run the
// in-process stub so no external bridge process is needed.
func buildBridge(cfg config.Config) domain.ToolBridge {
	if cfg.FakeProvider {
		return toolbridge.NewStub(filepath.Join(cfg.JobsRoot, "workspaces"))
	}
	return toolbridge.NewClient(cfg)
}
