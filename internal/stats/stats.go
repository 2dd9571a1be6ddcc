// Package stats collects per-sequence and overall latency histograms and
// status/error tallies over a run's outcome stream, feeding the HTML
// summary and the run Result (SPEC_FULL.md supplement 3). Nothing from it
// is written to the run log.
//
// Grounded on internal/stats/stats.go's Monitor, trimmed of its per-second
// time-series buckets — PayloadStash runs a bounded, enumerable plan
// rather than an open-loop load test, so there is no "requests per second
// over time" notion to track, only a per-sequence and a whole-run
// breakdown. Library: github.com/HdrHistogram/hdrhistogram-go, same
// histogram bounds as the teacher (1µs-30s, 3 significant figures).
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/ericwastaken/payloadstash/internal/artifact"
	"github.com/ericwastaken/payloadstash/internal/models"
)

// Percentiles is a snapshot of latency distribution at the standard
// quantiles reported in the HTML summary.
type Percentiles struct {
	P50, P90, P95, P99 int64 // milliseconds
	Min, Max           int64
}

type bucket struct {
	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	total     int64
	success   int64
	failed    int64
}

func newBucket() *bucket {
	return &bucket{histogram: hdrhistogram.New(1, 30000000, 3)}
}

func (b *bucket) record(o models.RequestOutcome) {
	atomic.AddInt64(&b.total, 1)
	if o.Success() {
		atomic.AddInt64(&b.success, 1)
	} else {
		atomic.AddInt64(&b.failed, 1)
	}
	if o.Final.Status >= 0 {
		b.mu.Lock()
		_ = b.histogram.RecordValue(o.Final.Elapsed.Microseconds())
		b.mu.Unlock()
	}
}

func (b *bucket) percentiles() Percentiles {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.histogram
	return Percentiles{
		P50: h.ValueAtQuantile(50) / 1000,
		P90: h.ValueAtQuantile(90) / 1000,
		P95: h.ValueAtQuantile(95) / 1000,
		P99: h.ValueAtQuantile(99) / 1000,
		Min: h.Min() / 1000,
		Max: h.Max() / 1000,
	}
}

// Collector accumulates outcomes into an overall bucket and one bucket per
// sequence name. Safe for concurrent Observe calls.
type Collector struct {
	overall *bucket

	mu          sync.Mutex
	bySequence  map[string]*bucket
	seqOrder    []string
	statusCodes map[int]int64
	errors      map[string]int64
}

// New builds an empty Collector.
func New() *Collector {
	return &Collector{
		overall:     newBucket(),
		bySequence:  make(map[string]*bucket),
		statusCodes: make(map[int]int64),
		errors:      make(map[string]int64),
	}
}

// Observe records one outcome's latency, status, and (if any) error.
func (c *Collector) Observe(o models.RequestOutcome) {
	c.overall.record(o)

	c.mu.Lock()
	b, ok := c.bySequence[o.Request.SequenceName]
	if !ok {
		b = newBucket()
		c.bySequence[o.Request.SequenceName] = b
		c.seqOrder = append(c.seqOrder, o.Request.SequenceName)
	}
	c.statusCodes[o.Final.Status]++
	if o.Final.Err != nil {
		c.errors[artifact.SanitizeError(o.Final.Err)]++
	}
	c.mu.Unlock()

	b.record(o)
}

// SequenceSummary is one sequence's aggregate counters and percentiles.
type SequenceSummary struct {
	Name              string
	Total             int64
	Success           int64
	Failed            int64
	Percentiles       Percentiles
}

// Summary is the whole-run aggregate, used to build the HTML report.
type Summary struct {
	Total       int64
	Success     int64
	Failed      int64
	Percentiles Percentiles
	StatusCodes map[int]int64
	Errors      map[string]int64
	Sequences   []SequenceSummary
}

// Snapshot reads the current totals. Safe to call after the run completes
// (or mid-run, for a live summary — no mutation happens here).
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	sequences := make([]SequenceSummary, 0, len(c.seqOrder))
	for _, name := range c.seqOrder {
		b := c.bySequence[name]
		sequences = append(sequences, SequenceSummary{
			Name:        name,
			Total:       atomic.LoadInt64(&b.total),
			Success:     atomic.LoadInt64(&b.success),
			Failed:      atomic.LoadInt64(&b.failed),
			Percentiles: b.percentiles(),
		})
	}

	statusCodes := make(map[int]int64, len(c.statusCodes))
	for k, v := range c.statusCodes {
		statusCodes[k] = v
	}
	errs := make(map[string]int64, len(c.errors))
	for k, v := range c.errors {
		errs[k] = v
	}

	return Summary{
		Total:       atomic.LoadInt64(&c.overall.total),
		Success:     atomic.LoadInt64(&c.overall.success),
		Failed:      atomic.LoadInt64(&c.overall.failed),
		Percentiles: c.overall.percentiles(),
		StatusCodes: statusCodes,
		Errors:      errs,
		Sequences:   sequences,
	}
}

// StatusLabel renders a status code for display, matching the teacher's
// "Timeout" special-case for its sentinel, generalized here to -1 (no
// response received).
func StatusLabel(code int) string {
	if code < 0 {
		return "no-response"
	}
	return fmt.Sprintf("%d", code)
}
