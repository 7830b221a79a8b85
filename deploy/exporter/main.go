package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Metric definitions
	latestMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trustbench_latest_metric",
			Help: "Numeric metric from the latest evaluation run",
		},
		[]string{"run_id", "profile", "metric"},
	)
	latestBlocked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trustbench_latest_gate_blocked",
			Help: "Whether the latest run's quality gate blocked (1) or passed (0)",
		},
		[]string{"run_id", "profile"},
	)
	latestInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trustbench_latest_run_info",
			Help: "Metadata about the latest evaluation run",
		},
		[]string{"run_id", "profile", "decision"},
	)
)

func init() {
	// Register metrics with Prometheus
	prometheus.MustRegister(latestMetric, latestBlocked, latestInfo)
}

type runManifest struct {
	RunID   string `json:"run_id"`
	Profile string `json:"profile"`
}

type gateResult struct {
	Blocked bool `json:"blocked"`
}

type verdictDoc struct {
	Decision string `json:"decision"`
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// collectMetrics re-reads the latest run directory and republishes its
// gauges. latest is a symlink the server repoints atomically, so a partial
// run is never visible here.
func collectMetrics(runsRoot string) {
	latest := filepath.Join(runsRoot, "latest")

	var manifest runManifest
	if err := readJSON(filepath.Join(latest, "run.json"), &manifest); err != nil {
		log.Printf("No readable run under %s: %v", latest, err)
		return
	}

	var gate gateResult
	if err := readJSON(filepath.Join(latest, "gate.json"), &gate); err != nil {
		log.Printf("Error reading gate.json: %v", err)
		return
	}

	var verdict verdictDoc
	if err := readJSON(filepath.Join(latest, "verdict.json"), &verdict); err != nil {
		log.Printf("Error reading verdict.json: %v", err)
		return
	}

	metrics := map[string]any{}
	if err := readJSON(filepath.Join(latest, "metrics.json"), &metrics); err != nil {
		log.Printf("Error reading metrics.json: %v", err)
		return
	}

	// Reset metrics to clear data from the previous run
	latestMetric.Reset()
	latestBlocked.Reset()
	latestInfo.Reset()

	for name, raw := range metrics {
		value, ok := raw.(float64)
		if !ok {
			continue
		}
		latestMetric.WithLabelValues(manifest.RunID, manifest.Profile, name).Set(value)
	}

	blocked := 0.0
	if gate.Blocked {
		blocked = 1.0
	}
	latestBlocked.WithLabelValues(manifest.RunID, manifest.Profile).Set(blocked)
	latestInfo.WithLabelValues(manifest.RunID, manifest.Profile, verdict.Decision).Set(1)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	runsRoot := getenv("RUNS_ROOT", "runs")
	addr := getenv("EXPORTER_ADDR", ":8000")

	// Start metric collection goroutine
	go func() {
		for {
			collectMetrics(runsRoot)
			time.Sleep(15 * time.Second)
		}
	}()

	// Expose metrics via HTTP
	http.Handle("/metrics", promhttp.Handler())
	fmt.Println("Starting TrustBench run exporter on " + addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
