// Command evalrun executes one evaluation run from the command line, which
// makes the quality gate usable as a CI step.
//
// Exit codes: 0 when the gate passed, 1 when the gate blocked or the run
// failed, 2 on configuration errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/adapter/provider"
	"github.com/trustbench/trustbench/internal/adapter/runstore"
	"github.com/trustbench/trustbench/internal/adapter/toolbridge"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/orchestrator"
	"github.com/trustbench/trustbench/internal/profile"
	"github.com/trustbench/trustbench/internal/scorer"
)

// gitSHA is stamped at build time via -ldflags "-X main.gitSHA=...".
var gitSHA string

const (
	exitPass    = 0
	exitBlocked = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("evalrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profileName := fs.String("profile", "", "profile name to evaluate (default: DEFAULT_PROFILE)")
	profilesDir := fs.String("profiles-dir", "", "directory holding profile documents (default: PROFILES_DIR)")
	workdir := fs.String("workdir", ".", "repository checkout the agents inspect")
	cleanup := fs.Bool("cleanup", false, "ask the tool bridge to clear its scratch workspace after the run")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	// A missing .env file is fine; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitConfig
	}
	if *profilesDir != "" {
		cfg.ProfilesDir = *profilesDir
	}
	name := *profileName
	if name == "" {
		name = cfg.DefaultProfile
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
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

	prof, err := profile.NewStore(cfg.ProfilesDir).Load(name)
	if err != nil {
		fmt.Fprintln(stderr, "profile:", err)
		return exitConfig
	}

	dir, err := filepath.Abs(*workdir)
	if err != nil {
		fmt.Fprintln(stderr, "workdir:", err)
		return exitConfig
	}
	prof.RepoPath = dir

	runs, err := runstore.New(cfg.RunsRoot)
	if err != nil {
		fmt.Fprintln(stderr, "run store:", err)
		return exitConfig
	}

	registry := provider.NewRegistry(cfg, provider.NewPool(cfg.MaxProviderConcurrency))
	chain := buildScorer(cfg, registry)
	bridge := buildBridge(cfg)

	runner := orchestrator.NewRunner(cfg, registry, bridge, chain, runs)
	runner.GitSHA = gitSHA

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := runner.Run(ctx, prof, dir)
	if err != nil {
		fmt.Fprintln(stderr, "run:", err)
		if errors.Is(err, domain.ErrConfig) {
			return exitConfig
		}
		return exitBlocked
	}

	printSummary(stdout, outcome)
	if *cleanup {
		cleanupWorkspace(bridge)
	}
	if outcome.Gate.Blocked {
		return exitBlocked
	}
	return exitPass
}

// cleanupWorkspace clears the bridge's scratch space. A failed run skips
// this so the workspace stays available for inspection; here the verdict
// is already on disk and cleanup trouble is only worth a warning.
func cleanupWorkspace(bridge domain.ToolBridge) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := bridge.Call(ctx, toolbridge.ToolCleanWorkspace, nil)
	switch {
	case err != nil:
		slog.Warn("workspace cleanup failed", slog.Any("error", err))
	case !res.OK:
		slog.Warn("workspace cleanup failed", slog.String("error", res.Error))
	default:
		slog.Info("workspace cleaned", slog.String("message", res.Str("message")))
	}
}

// printSummary writes the one-line result a CI log shows, plus the run path
// for anyone digging into artifacts.
func printSummary(w io.Writer, out orchestrator.Outcome) {
	gate := "passed"
	if out.Gate.Blocked {
		gate = "BLOCKED on " + strings.Join(out.Gate.Failed, ", ")
	}
	line := fmt.Sprintf("%s: decision=%s gate=%s", out.RunID, out.Verdict.Decision, gate)
	if out.Verdict.Composite != nil {
		line += fmt.Sprintf(" composite=%.3f", *out.Verdict.Composite)
	}
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "run:", out.RunDir)
}

// buildScorer assembles the three-tier faithfulness chain, degrading tiers
// the provider cannot serve.
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

// buildBridge picks the tool transport. Fake-provider runs use the
// in-process stub so the CLI works offline.
func buildBridge(cfg config.Config) domain.ToolBridge {
	if cfg.FakeProvider {
		return toolbridge.NewStub(filepath.Join(cfg.RunsRoot, "workspaces"))
	}
	return toolbridge.NewClient(cfg)
}
