package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/trustbench/trustbench/internal/adapter/httpserver"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/profile"
)

// BuildReadinessChecks wires the probes behind /readyz: both state roots
// must accept writes, the default profile must load, a provider must be
// usable, and the tool bridge must answer when runs depend on it.
func BuildReadinessChecks(cfg config.Config, profiles *profile.Store) []httpserver.ReadyCheck {
	checks := []httpserver.ReadyCheck{
		{Name: "runs_root", Probe: writableDir(cfg.RunsRoot)},
		{Name: "jobs_root", Probe: writableDir(cfg.JobsRoot)},
		{Name: "profile", Probe: func(context.Context) error {
			_, err := profiles.Load(cfg.DefaultProfile)
			return err
		}},
		{Name: "provider", Probe: func(context.Context) error {
			if !cfg.ProviderUsable() {
				return fmt.Errorf("%w: no provider credential and fake mode disabled", domain.ErrConfig)
			}
			return nil
		}},
	}
	if !cfg.FakeProvider && cfg.ToolBridgeURL != "" {
		checks = append(checks, httpserver.ReadyCheck{Name: "tool_bridge", Probe: reachableURL(cfg.ToolBridgeURL)})
	}
	return checks
}

// reachableURL proves the tool bridge answers HTTP at all. Any status
// code counts; only a transport failure marks the dependency down.
func reachableURL(base string) func(context.Context) error {
	client := &http.Client{Timeout: 2 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTool, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	}
}

// writableDir proves a directory accepts writes by creating and removing
// a marker file.
func writableDir(dir string) func(context.Context) error {
	return func(context.Context) error {
		if dir == "" {
			return fmt.Errorf("%w: directory not configured", domain.ErrConfig)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
		marker := filepath.Join(dir, ".readyz")
		if err := os.WriteFile(marker, []byte("ok"), 0o600); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorage, err)
		}
		return os.Remove(marker)
	}
}
