// Package worker executes queued evaluation jobs in-process with a
// bounded pool. Each job walks the pipeline clone -> analyze ->
// evaluate -> report; failures at any stage mark the job failed and
// keep the stage so operators can see where it stopped.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/adapter/toolbridge"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/orchestrator"
	"github.com/trustbench/trustbench/internal/profile"
	"github.com/trustbench/trustbench/internal/usecase"
)

const tracerName = "trustbench/worker"

// Pool is the in-process job executor. Enqueue never blocks; a full
// queue is reported to the caller so the API sheds load instead of
// stalling intake. Pool implements usecase.Enqueuer.
type Pool struct {
	cfg      config.Config
	manager  usecase.JobManager
	profiles *profile.Store
	runner   *orchestrator.Runner
	bridge   domain.ToolBridge

	queue   chan domain.Job
	workers int
	wg      sync.WaitGroup
}

// New sizes the pool from config. Worker and queue counts below one are
// raised to one so a misconfigured pool still drains.
func New(cfg config.Config, manager usecase.JobManager, profiles *profile.Store, runner *orchestrator.Runner, bridge domain.ToolBridge) *Pool {
	workers := cfg.JobWorkers
	if workers < 1 {
		workers = 1
	}
	size := cfg.JobQueueSize
	if size < 1 {
		size = 1
	}
	return &Pool{
		cfg:      cfg,
		manager:  manager,
		profiles: profiles,
		runner:   runner,
		bridge:   bridge,
		queue:    make(chan domain.Job, size),
		workers:  workers,
	}
}

// Enqueue hands a job to the pool without blocking.
func (p *Pool) Enqueue(job domain.Job) error {
	select {
	case p.queue <- job:
		return nil
	default:
		return fmt.Errorf("%w: job queue full", domain.ErrRateLimited)
	}
}

// Start launches the workers. They drain the queue until ctx is
// cancelled; call Wait to block until in-flight jobs finish.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.queue:
					p.process(ctx, job)
				}
			}
		}(i)
	}
	slog.Info("worker pool started",
		slog.Int("workers", p.workers),
		slog.Int("queue_size", cap(p.queue)))
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// process walks one job through the pipeline. Every stage transition is
// persisted before the stage's work starts, so a crash mid-stage leaves
// an accurate last-known state on disk.
func (p *Pool) process(ctx context.Context, job domain.Job) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker.process",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.repo_url", job.RepoURL),
		))
	defer span.End()

	label := job.Profile
	if label == "" {
		label = p.cfg.DefaultProfile
	}
	log := slog.With(slog.String("job_id", job.ID), slog.String("repo_url", job.RepoURL))
	observability.StartProcessingJob(label)

	if _, err := p.manager.Transition(job.ID, domain.JobCloning, "cloning repository"); err != nil {
		p.fail(job.ID, label, log, err)
		return
	}
	clone, err := p.bridge.Call(ctx, toolbridge.ToolDownloadRepo, map[string]any{"repo_url": job.RepoURL})
	if err != nil {
		p.fail(job.ID, label, log, err)
		return
	}
	if !clone.OK {
		p.fail(job.ID, label, log, fmt.Errorf("clone: %s", clone.Error))
		return
	}
	repoDir, _ := clone.Data["repo_dir"].(string)
	if repoDir == "" {
		p.fail(job.ID, label, log, fmt.Errorf("clone: tool returned no repo_dir"))
		return
	}
	branch, _ := clone.Data["branch"].(string)
	metadata := map[string]string{"workspace": repoDir}
	if branch != "" {
		metadata["branch"] = branch
	}
	if _, err := p.manager.Annotate(job.ID, nil, metadata); err != nil {
		p.fail(job.ID, label, log, err)
		return
	}

	if _, err := p.manager.Transition(job.ID, domain.JobAnalyzing, "inspecting workspace"); err != nil {
		p.fail(job.ID, label, log, err)
		return
	}
	p.inspectEnv(ctx, job.ID, repoDir, log)
	prof, err := p.profiles.Load(label)
	if err != nil {
		p.fail(job.ID, label, log, err)
		return
	}
	prof.RepoPath = repoDir

	if _, err := p.manager.Transition(job.ID, domain.JobEvaluating, "running evaluation agents"); err != nil {
		p.fail(job.ID, label, log, err)
		return
	}
	outcome, err := p.runner.Run(ctx, prof, repoDir)
	if err != nil {
		p.fail(job.ID, label, log, err)
		return
	}

	if _, err := p.manager.Transition(job.ID, domain.JobReporting, "writing reports"); err != nil {
		p.fail(job.ID, label, log, err)
		return
	}
	artifacts := map[string]string{
		"run_dir":     outcome.RunDir,
		"metrics":     filepath.Join(outcome.RunDir, "metrics.json"),
		"verdict":     filepath.Join(outcome.RunDir, "verdict.json"),
		"report_md":   filepath.Join(outcome.RunDir, "report.md"),
		"report_html": filepath.Join(outcome.RunDir, "report.html"),
	}
	meta := map[string]string{
		"run_id":   outcome.RunID,
		"decision": string(outcome.Verdict.Decision),
	}
	if _, err := p.manager.Annotate(job.ID, artifacts, meta); err != nil {
		p.fail(job.ID, label, log, err)
		return
	}

	message := fmt.Sprintf("evaluation complete: %s", outcome.Verdict.Decision)
	if outcome.Gate.Blocked {
		message = fmt.Sprintf("evaluation complete: %s (gate blocked: %v)", outcome.Verdict.Decision, outcome.Gate.Failed)
	}
	if _, err := p.manager.Transition(job.ID, domain.JobComplete, message); err != nil {
		p.fail(job.ID, label, log, err)
		return
	}

	observability.CompleteJob(label)
	span.SetAttributes(
		attribute.String("run.id", outcome.RunID),
		attribute.String("run.decision", string(outcome.Verdict.Decision)),
		attribute.Bool("run.blocked", outcome.Gate.Blocked),
	)
	log.Info("job complete",
		slog.String("run_id", outcome.RunID),
		slog.String("decision", string(outcome.Verdict.Decision)),
		slog.Bool("blocked", outcome.Gate.Blocked))
}

// inspectEnv records committed environment files as job metadata. Tool
// trouble here is logged and skipped; a broken inspection must not sink
// the evaluation.
func (p *Pool) inspectEnv(ctx context.Context, jobID, repoDir string, log *slog.Logger) {
	res, err := p.bridge.Call(ctx, toolbridge.ToolEnvContent, map[string]any{"dir_path": repoDir})
	if err != nil || !res.OK {
		if err != nil {
			log.Warn("env inspection skipped", slog.Any("error", err))
		} else {
			log.Warn("env inspection skipped", slog.String("error", res.Error))
		}
		return
	}
	found, _ := res.Data["found"].(bool)
	if !found {
		return
	}
	path, _ := res.Data["path"].(string)
	log.Warn("environment file committed to repository", slog.String("path", path))
	if _, err := p.manager.Annotate(jobID, nil, map[string]string{"env_file": path}); err != nil {
		log.Warn("record env finding", slog.Any("error", err))
	}
}

func (p *Pool) fail(jobID, label string, log *slog.Logger, cause error) {
	if _, err := p.manager.Fail(jobID, cause); err != nil {
		log.Error("mark job failed", slog.Any("error", err))
	}
	observability.FailJob(label)
	log.Warn("job failed", slog.Any("error", cause))
}
