// Package circuitbreaker implements the run-level safety valve
// (SPEC_FULL.md supplement 2): StashConfig.StopIf/MinSamples, fed one
// outcome at a time, tripping the Sequence Scheduler's shouldStop hook
// once the configured error condition is met.
//
// Adapted from internal/circuitbreaker/breaker.go, generalized from
// "requests/failures/assertion failures" fields on a load-test-specific
// config struct to the same condition grammar driven by this repo's
// RequestOutcome stream (a failure here is "not Success()": non-200 or a
// failed assertion). Stdlib regexp for the condition grammar, same as the
// teacher.
package circuitbreaker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ericwastaken/payloadstash/internal/models"
)

// Condition is a parsed `stop_if` expression, e.g. "errors > 20%".
type Condition struct {
	Metric    string // "errors", "failures", or "error_rate"
	Operator  string // ">", ">=", "<", "<="
	Threshold float64
	IsPercent bool
}

var conditionPattern = regexp.MustCompile(`(?i)(errors?|error_rate|failures?)\s*([><=]+)\s*([\d.]+)(%)?`)

// ParseCondition parses a StashConfig.StopIf expression.
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Condition{}, fmt.Errorf("empty circuit breaker condition")
	}
	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return Condition{}, fmt.Errorf("invalid circuit breaker condition %q: expected a form like 'errors > 20%%' or 'error_rate > 0.2'", expr)
	}
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Condition{}, fmt.Errorf("invalid threshold %q: %w", m[3], err)
	}
	metric := strings.ToLower(m[1])
	switch metric {
	case "error", "errors":
		metric = "errors"
	case "failure", "failures":
		metric = "failures"
	case "error_rate":
		metric = "error_rate"
	}
	return Condition{Metric: metric, Operator: m[2], Threshold: threshold, IsPercent: m[4] == "%"}, nil
}

// Breaker tracks total/failed outcomes and trips once Condition holds and
// MinSamples has been reached. Safe for concurrent Observe calls from a
// Concurrent sequence's worker group.
type Breaker struct {
	condition  Condition
	minSamples int64

	total   int64
	failed  int64
	tripped int32
	reason  string
	mu      sync.Mutex
}

// New builds a Breaker. A nil *Breaker (returned when stopIf is empty) is
// always safe to call Observe/ShouldStop on — both are no-ops.
func New(stopIf string, minSamples int64) (*Breaker, error) {
	if strings.TrimSpace(stopIf) == "" {
		return nil, nil
	}
	cond, err := ParseCondition(stopIf)
	if err != nil {
		return nil, err
	}
	if minSamples <= 0 {
		minSamples = 20
	}
	return &Breaker{condition: cond, minSamples: minSamples}, nil
}

// Observe feeds one outcome into the breaker's running tally. A failed
// assertion counts as a failure even when the HTTP status was 200
// (SPEC_FULL.md supplement 1).
func (b *Breaker) Observe(o models.RequestOutcome) {
	if b == nil {
		return
	}
	total := atomic.AddInt64(&b.total, 1)
	var failed int64
	if !o.Success() {
		failed = atomic.AddInt64(&b.failed, 1)
	} else {
		failed = atomic.LoadInt64(&b.failed)
	}
	b.evaluate(total, failed)
}

func (b *Breaker) evaluate(total, failed int64) {
	if atomic.LoadInt32(&b.tripped) == 1 {
		return
	}
	if total < b.minSamples {
		return
	}

	var current float64
	switch b.condition.Metric {
	case "errors", "error_rate":
		if b.condition.IsPercent {
			current = float64(failed) / float64(total) * 100
		} else {
			current = float64(failed) / float64(total)
		}
	case "failures":
		current = float64(failed)
	default:
		return
	}

	var trips bool
	switch b.condition.Operator {
	case ">":
		trips = current > b.condition.Threshold
	case ">=":
		trips = current >= b.condition.Threshold
	case "<":
		trips = current < b.condition.Threshold
	case "<=":
		trips = current <= b.condition.Threshold
	}
	if !trips {
		return
	}

	b.mu.Lock()
	if atomic.CompareAndSwapInt32(&b.tripped, 0, 1) {
		unit := ""
		if b.condition.IsPercent {
			unit = "%"
		}
		b.reason = fmt.Sprintf("%s (%.2f%s) %s %.2f%s", b.condition.Metric, current, unit, b.condition.Operator, b.condition.Threshold, unit)
	}
	b.mu.Unlock()
}

// ShouldStop reports whether the breaker has tripped.
func (b *Breaker) ShouldStop() bool {
	if b == nil {
		return false
	}
	return atomic.LoadInt32(&b.tripped) == 1
}

// Reason returns the human-readable trip condition, empty until tripped.
func (b *Breaker) Reason() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}
