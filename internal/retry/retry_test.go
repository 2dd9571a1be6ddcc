package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/ericwastaken/payloadstash/internal/models"
)

func TestClassifySucceeded(t *testing.T) {
	k := Classify(200, nil, false, nil)
	if k != models.OutcomeSucceeded {
		t.Fatalf("got %v", k)
	}
}

func TestClassifyRetryableStatus(t *testing.T) {
	policy := &models.RetryPolicy{RetryOnStatus: map[int]bool{503: true}}
	k := Classify(503, nil, false, policy)
	if k != models.OutcomeRetryableStatus {
		t.Fatalf("got %v", k)
	}
}

func TestClassifyNonRetryableStatusIsSuccess(t *testing.T) {
	policy := &models.RetryPolicy{RetryOnStatus: map[int]bool{503: true}}
	k := Classify(404, nil, false, policy)
	if k != models.OutcomeSucceeded {
		t.Fatalf("a status not in RetryOnStatus should classify as succeeded, got %v", k)
	}
}

func TestClassifyNetworkError(t *testing.T) {
	policy := &models.RetryPolicy{RetryOnNetworkErrors: true}
	k := Classify(-1, errors.New("dial tcp: connection refused"), false, policy)
	if k != models.OutcomeRetryableNetwork {
		t.Fatalf("got %v", k)
	}
}

func TestClassifyNetworkErrorDisabled(t *testing.T) {
	policy := &models.RetryPolicy{RetryOnNetworkErrors: false}
	k := Classify(-1, errors.New("boom"), false, policy)
	if k != models.OutcomeTerminalFailure {
		t.Fatalf("got %v", k)
	}
}

func TestClassifyTimeout(t *testing.T) {
	policy := &models.RetryPolicy{RetryOnTimeouts: true}
	k := Classify(-1, nil, true, policy)
	if k != models.OutcomeRetryableTimeout {
		t.Fatalf("got %v", k)
	}
}

func TestPreJitterExponentialBackoffBounds(t *testing.T) {
	policy := &models.RetryPolicy{
		BackoffStrategy:   models.BackoffExponential,
		BackoffSeconds:    1,
		Multiplier:        2,
		MaxBackoffSeconds: 5,
		HasMaxBackoff:     true,
	}
	cases := map[int]time.Duration{
		1: 1 * time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 5 * time.Second, // capped: 1*2^3=8 > 5
	}
	for n, want := range cases {
		got := PreJitterWait(n, policy)
		if got != want {
			t.Fatalf("n=%d: got %v, want %v", n, got, want)
		}
	}
}

func TestBackoffFullJitterBounded(t *testing.T) {
	policy := &models.RetryPolicy{
		BackoffStrategy: models.BackoffFixed,
		BackoffSeconds:  1,
		Jitter:          models.JitterFull,
	}
	for i := 0; i < 20; i++ {
		wait := BackoffWait(1, policy)
		if wait < 0 || wait > time.Second {
			t.Fatalf("full jitter out of [0,1s]: %v", wait)
		}
	}
}

func TestBackoffEqualJitterBounded(t *testing.T) {
	policy := &models.RetryPolicy{
		BackoffStrategy: models.BackoffFixed,
		BackoffSeconds:  1,
		Jitter:          models.JitterEqual,
	}
	for i := 0; i < 20; i++ {
		wait := BackoffWait(1, policy)
		if wait < 500*time.Millisecond || wait > time.Second {
			t.Fatalf("equal jitter out of [0.5s,1s]: %v", wait)
		}
	}
}

func TestRunExhaustsOn503(t *testing.T) {
	policy := &models.RetryPolicy{
		Attempts:        3,
		BackoffStrategy: models.BackoffFixed,
		BackoffSeconds:  0.001,
		RetryOnStatus:   map[int]bool{503: true},
	}
	calls := 0
	final, attempts := Run(policy, func(attempt int) models.AttemptResult {
		calls++
		return models.AttemptResult{Status: 503, Kind: Classify(503, nil, false, policy)}
	})
	if calls != 3 || attempts != 3 {
		t.Fatalf("expected 3 sends, got calls=%d attempts=%d", calls, attempts)
	}
	if final.Status != 503 {
		t.Fatalf("expected final status 503, got %d", final.Status)
	}
}

func TestRunStopsOnFirstSuccess(t *testing.T) {
	policy := &models.RetryPolicy{
		Attempts:        5,
		BackoffStrategy: models.BackoffFixed,
		BackoffSeconds:  0.001,
		RetryOnStatus:   map[int]bool{503: true},
	}
	calls := 0
	_, attempts := Run(policy, func(attempt int) models.AttemptResult {
		calls++
		status := 503
		if attempt == 2 {
			status = 200
		}
		return models.AttemptResult{Status: status, Kind: Classify(status, nil, false, policy)}
	})
	if calls != 2 || attempts != 2 {
		t.Fatalf("expected to stop at attempt 2, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestRunNilPolicySingleAttempt(t *testing.T) {
	calls := 0
	_, attempts := Run(nil, func(attempt int) models.AttemptResult {
		calls++
		return models.AttemptResult{Status: 500, Kind: models.OutcomeTerminalFailure}
	})
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected exactly one attempt when policy is nil, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestRunAbortsOnMaxElapsed(t *testing.T) {
	policy := &models.RetryPolicy{
		Attempts:          10,
		BackoffStrategy:   models.BackoffFixed,
		BackoffSeconds:    10, // huge wait relative to budget
		MaxElapsedSeconds: 0.01,
		HasMaxElapsed:     true,
		RetryOnStatus:     map[int]bool{503: true},
	}
	calls := 0
	_, attempts := Run(policy, func(attempt int) models.AttemptResult {
		calls++
		return models.AttemptResult{Status: 503, Kind: Classify(503, nil, false, policy)}
	})
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected to abort after the first attempt given max-elapsed budget, got calls=%d attempts=%d", calls, attempts)
	}
}
