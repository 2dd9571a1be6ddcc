package htmlreport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ericwastaken/payloadstash/internal/stats"
)

func TestWriteProducesValidHTMLWithCoreFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo-summary.html")

	summary := stats.Summary{
		Total:       10,
		Success:     8,
		Failed:      2,
		Percentiles: stats.Percentiles{P50: 20, P90: 40, P95: 50, P99: 60},
		StatusCodes: map[int]int64{200: 8, 503: 2},
		Errors:      map[string]int64{"boom": 1},
		Sequences: []stats.SequenceSummary{
			{Name: "Setup", Total: 5, Success: 5, Failed: 0, Percentiles: stats.Percentiles{P50: 10, P90: 15, P99: 20}},
		},
	}

	if err := Write(path, "demo", "2026-07-31T12:00:00Z", summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	html := string(data)
	for _, want := range []string{"demo", "Setup", "200", "503", "boom", "80.0%"} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected summary html to contain %q, got:\n%s", want, html)
		}
	}
}

func TestWriteHandlesNoErrorsSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clean-summary.html")
	summary := stats.Summary{Total: 1, Success: 1, StatusCodes: map[int]int64{200: 1}}
	if err := Write(path, "clean", "now", summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
