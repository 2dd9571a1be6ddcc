// Package retry implements the Retry Controller (spec.md §4.5): outcome
// classification and the backoff/jitter/max-elapsed state machine governing
// whether and when a failed attempt is retried.
//
// Grounded on internal/attacker/attacker.go's executeStepWithRetry shape,
// generalized from its fixed-delay loop to the full fixed/exponential,
// jittered, max-elapsed-bounded policy spec.md §4.5 requires. Kept on the
// standard library: none of the pack's retry libraries (e.g.
// cenkalti/backoff, as seen wired into other_examples' redpanda processor)
// expose the explicit-null / per-status-code / bool-or-"min"/"max" jitter
// contract this spec demands, so reproducing their API would fight it
// rather than use it — see DESIGN.md.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/ericwastaken/payloadstash/internal/models"
)

// Classify implements the outcome-classification table in spec.md §4.5.
// status is -1 and timedOut is false when sendErr is a non-timeout
// transport failure.
func Classify(status int, sendErr error, timedOut bool, policy *models.RetryPolicy) models.OutcomeKind {
	retryOnNetwork, retryOnTimeout := true, true
	var retryOnStatus map[int]bool
	if policy != nil {
		retryOnNetwork = policy.RetryOnNetworkErrors
		retryOnTimeout = policy.RetryOnTimeouts
		retryOnStatus = policy.RetryOnStatus
	}

	switch {
	case timedOut:
		if retryOnTimeout {
			return models.OutcomeRetryableTimeout
		}
		return models.OutcomeTerminalFailure
	case sendErr != nil:
		if retryOnNetwork {
			return models.OutcomeRetryableNetwork
		}
		return models.OutcomeTerminalFailure
	case retryOnStatus[status]:
		return models.OutcomeRetryableStatus
	default:
		return models.OutcomeSucceeded
	}
}

// PreJitterWait computes the n-th retry's wait (n starting at 1) before
// jitter and before the max-elapsed check, per spec.md §4.5.
func PreJitterWait(n int, policy *models.RetryPolicy) time.Duration {
	var seconds float64
	switch policy.BackoffStrategy {
	case models.BackoffFixed:
		seconds = policy.BackoffSeconds
	case models.BackoffExponential:
		multiplier := policy.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		seconds = policy.BackoffSeconds * math.Pow(multiplier, float64(n-1))
	}
	if policy.HasMaxBackoff && seconds > policy.MaxBackoffSeconds {
		seconds = policy.MaxBackoffSeconds
	}
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// BackoffWait applies jitter on top of PreJitterWait per spec.md §4.5's
// jitter vocabulary (see also spec.md §9's resolved Open Question).
func BackoffWait(n int, policy *models.RetryPolicy) time.Duration {
	wait := PreJitterWait(n, policy)
	switch policy.Jitter {
	case models.JitterFull:
		return time.Duration(rand.Float64() * float64(wait))
	case models.JitterEqual:
		half := float64(wait) / 2
		return time.Duration(half + rand.Float64()*half)
	default:
		return wait
	}
}

// Run drives attempts through send until success, a terminal failure, the
// attempts cap, or the max-elapsed-seconds budget is exhausted. policy nil
// means "disabled sentinel or absent": exactly one attempt is made
// (spec.md §4.5 "If the retry policy is the disabled sentinel or absent").
// send is called with a 1-based attempt number and must itself classify its
// result's Kind (typically via Classify).
func Run(policy *models.RetryPolicy, send func(attempt int) models.AttemptResult) (models.AttemptResult, int) {
	maxAttempts := 1
	if policy != nil {
		maxAttempts = policy.Attempts
	}

	start := time.Now()
	var last models.AttemptResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = send(attempt)

		if last.Kind == models.OutcomeSucceeded || last.Kind == models.OutcomeTerminalFailure {
			return last, attempt
		}
		if policy == nil || attempt == maxAttempts {
			return last, attempt
		}

		wait := BackoffWait(attempt, policy)
		if policy.HasMaxElapsed {
			elapsed := time.Since(start)
			budget := time.Duration(policy.MaxElapsedSeconds * float64(time.Second))
			if elapsed+wait > budget {
				return last, attempt
			}
		}
		time.Sleep(wait)
	}
	return last, maxAttempts
}
