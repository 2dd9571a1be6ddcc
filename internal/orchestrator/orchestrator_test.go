package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ericwastaken/payloadstash/internal/models"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stash.yml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunAllSuccessExitsZeroAndWritesArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	configPath := writeConfig(t, fmt.Sprintf(`
StashConfig:
  Name: Smoke
  Defaults:
    URLRoot: %s
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Checks
      Type: Sequential
      Requests:
        - Health: {Method: GET, URLPath: /health}
        - Ready: {Method: GET, URLPath: /ready}
`, srv.URL))

	outDir := t.TempDir()
	result, err := Run(context.Background(), Options{ConfigPath: configPath, OutDir: outDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}

	base := "stash"
	for _, suffix := range []string{"-resolved.yml", "-results.csv", "-log.txt", "-summary.html"} {
		if _, err := os.Stat(filepath.Join(result.RunDir, base+suffix)); err != nil {
			t.Fatalf("expected artifact %s: %v", suffix, err)
		}
	}
	if result.Summary.Total != 2 || result.Summary.Success != 2 {
		t.Fatalf("expected 2/2 successes in summary, got %+v", result.Summary)
	}
}

func TestRunNon200ExitsOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	configPath := writeConfig(t, fmt.Sprintf(`
StashConfig:
  Name: Failing
  Defaults:
    URLRoot: %s
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Checks
      Type: Sequential
      Requests:
        - Broken: {Method: GET, URLPath: /broken, Retry: null}
`, srv.URL))

	result, err := Run(context.Background(), Options{ConfigPath: configPath, OutDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != ExitPartialFailure {
		t.Fatalf("expected exit 1, got %d", result.ExitCode)
	}
}

func TestRunInvalidConfigReturnsValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `StashConfig: {}`)

	_, err := Run(context.Background(), Options{ConfigPath: configPath, OutDir: t.TempDir()})
	if err == nil {
		t.Fatalf("expected a validation error")
	}
	if _, ok := err.(*ValidationFailure); !ok {
		t.Fatalf("expected *ValidationFailure, got %T: %v", err, err)
	}
}

func TestRunConcurrentSequenceAggregatesEveryOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	requests := ""
	for i := 0; i < 8; i++ {
		requests += fmt.Sprintf("        - Req%d: {Method: GET, URLPath: /x}\n", i)
	}
	configPath := writeConfig(t, fmt.Sprintf(`
StashConfig:
  Name: Burst
  Defaults:
    URLRoot: %s
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Parallel
      Type: Concurrent
      ConcurrencyLimit: 4
      Requests:
%s
`, srv.URL, requests))

	var progressCalls int
	result, err := Run(context.Background(), Options{
		ConfigPath: configPath,
		OutDir:     t.TempDir(),
		OnProgress: func(completed, total, seqIndex, seqCount int, seqName string, success, failed int, outcome models.RequestOutcome) {
			progressCalls++
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}
	if result.Summary.Total != 8 {
		t.Fatalf("expected 8 observed outcomes, got %d", result.Summary.Total)
	}
	if progressCalls != 8 {
		t.Fatalf("expected 8 progress callbacks, got %d", progressCalls)
	}
}
