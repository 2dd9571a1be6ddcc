// Package models holds the data types shared across the resolution and
// execution pipeline: retry policy, flow control, the effective request
// produced by the config resolver, and the outcome record produced by the
// executor.
package models

import (
	"time"

	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// Method is an HTTP method allowed by the schema in spec.md §6.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

var ValidMethods = []Method{MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodHead, MethodOptions}

// SequenceType selects how a sequence's requests are dispatched.
type SequenceType string

const (
	Sequential SequenceType = "Sequential"
	Concurrent SequenceType = "Concurrent"
)

// BackoffStrategy selects how retry wait time grows between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// JitterMode is the resolved form of the Retry.Jitter field (spec.md §9).
type JitterMode int

const (
	JitterNone JitterMode = iota
	JitterFull            // true or "max": uniform in [0, wait]
	JitterEqual           // "min": uniform in [wait/2, wait]
)

// RetryPolicy is the fully-validated form of an authored Retry section.
type RetryPolicy struct {
	Attempts              int
	BackoffStrategy       BackoffStrategy
	BackoffSeconds        float64
	Multiplier            float64
	MaxBackoffSeconds     float64
	HasMaxBackoff         bool
	MaxElapsedSeconds     float64
	HasMaxElapsed         bool
	Jitter                JitterMode
	RetryOnStatus         map[int]bool
	RetryOnNetworkErrors  bool
	RetryOnTimeouts       bool
}

// RetryPresence models the explicit-null-vs-absent tri-state spec.md §3 and
// §9 require for retry precedence: a key can be entirely Absent from the
// authored mapping, explicitly Disabled (authored as null), or Set to a
// concrete policy.
type RetryPresence struct {
	Absent   bool
	Disabled bool
	Policy   *RetryPolicy // non-nil only when neither Absent nor Disabled
}

func (p RetryPresence) IsSet() bool { return !p.Absent && !p.Disabled && p.Policy != nil }

// EffectiveRetry returns the single-attempt-only disabled sentinel when
// retries are off, or the resolved policy otherwise.
func (p RetryPresence) EffectiveRetry() *RetryPolicy {
	if !p.IsSet() {
		return nil
	}
	return p.Policy
}

// FlowControl is the per-request delay/timeout pair, always fully populated
// on an effective request per spec.md §3's invariants.
type FlowControl struct {
	DelaySeconds   int
	TimeoutSeconds int
}

func (f FlowControl) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

func (f FlowControl) Delay() time.Duration {
	return time.Duration(f.DelaySeconds) * time.Second
}

// AssertionType names a supported response-assertion kind (SPEC_FULL.md
// supplement 1).
type AssertionType string

const (
	AssertContains AssertionType = "contains"
	AssertRegex    AssertionType = "regex"
	AssertJSONPath AssertionType = "json_path"
)

// Assertion is an authored response check attached to a request.
type Assertion struct {
	Type    AssertionType
	Value   string
	Path    string
	Message string
}

// CircuitBreakerConfig is the authored `StopIf`/`MinSamples` pair
// (SPEC_FULL.md supplement 2).
type CircuitBreakerConfig struct {
	StopIf     string
	MinSamples int64
	Metric     string
	Operator   string
	Threshold  float64
	IsPercent  bool
}

// EffectiveRequest is the Config Resolver's output for a single request:
// everything needed to execute it, with Headers/Body/Query possibly still
// containing deferred operator nodes (spec.md §3).
type EffectiveRequest struct {
	SequenceName  string
	SequenceIndex int // 1-based
	RequestKey    string
	RequestIndex  int // 1-based
	Method        Method
	URLRoot       string
	URLPath       string
	Headers       valuetree.Value // mapping or null
	Body          valuetree.Value
	Query         valuetree.Value
	FlowControl   FlowControl
	Retry         RetryPresence
	Assertions    []Assertion
}

// OutcomeKind classifies a single send attempt per spec.md §4.5.
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota
	OutcomeRetryableStatus
	OutcomeRetryableNetwork
	OutcomeRetryableTimeout
	OutcomeTerminalFailure
)

// AttemptResult is the record produced by one Request Executor send.
type AttemptResult struct {
	Status      int // -1 if no response was received
	BodyBytes   []byte
	ContentType string
	Elapsed     time.Duration
	Err         error
	Kind        OutcomeKind
}

// RequestOutcome is the final, possibly-retried result for one effective
// request, as consumed by the Artifact Writer.
type RequestOutcome struct {
	Request        EffectiveRequest
	StartedAt      time.Time
	Attempts       int
	Final          AttemptResult
	AssertionError error
	DryRun         bool
}

// Success reports whether this outcome counts as a full success for the
// exit-classification rule in SPEC_FULL.md's amended §6: HTTP 200 and every
// assertion passed.
func (o RequestOutcome) Success() bool {
	return o.Final.Status == 200 && o.AssertionError == nil
}
