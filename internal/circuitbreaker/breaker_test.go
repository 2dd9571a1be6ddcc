package circuitbreaker

import (
	"testing"

	"github.com/ericwastaken/payloadstash/internal/models"
)

func ok() models.RequestOutcome   { return models.RequestOutcome{Final: models.AttemptResult{Status: 200}} }
func fail() models.RequestOutcome { return models.RequestOutcome{Final: models.AttemptResult{Status: 500}} }

func TestParseConditionPercent(t *testing.T) {
	c, err := ParseCondition("errors > 20%")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Metric != "errors" || c.Operator != ">" || c.Threshold != 20 || !c.IsPercent {
		t.Fatalf("got %+v", c)
	}
}

func TestParseConditionInvalid(t *testing.T) {
	if _, err := ParseCondition("bogus condition"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewNilForEmptyStopIf(t *testing.T) {
	b, err := New("", 0)
	if err != nil || b != nil {
		t.Fatalf("expected nil breaker, got %+v err=%v", b, err)
	}
	// nil breaker must be safe to use
	b.Observe(fail())
	if b.ShouldStop() {
		t.Fatalf("nil breaker should never stop")
	}
}

func TestBreakerRespectsMinSamples(t *testing.T) {
	b, err := New("errors > 50%", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 4; i++ {
		b.Observe(fail())
	}
	if b.ShouldStop() {
		t.Fatalf("should not trip before min_samples reached")
	}
}

func TestBreakerTripsOnPercentThreshold(t *testing.T) {
	b, err := New("errors > 50%", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Observe(ok())
	b.Observe(fail())
	b.Observe(fail())
	b.Observe(fail())
	if !b.ShouldStop() {
		t.Fatalf("expected breaker to trip at 75%% error rate")
	}
	if b.Reason() == "" {
		t.Fatalf("expected a non-empty trip reason")
	}
}

func TestBreakerCountsFailedAssertionAsFailure(t *testing.T) {
	b, err := New("errors > 50%", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	withFailedAssertion := models.RequestOutcome{
		Final:          models.AttemptResult{Status: 200},
		AssertionError: errAssertion{},
	}
	b.Observe(withFailedAssertion)
	b.Observe(withFailedAssertion)
	if !b.ShouldStop() {
		t.Fatalf("expected assertion failures to count toward the error rate")
	}
}

func TestBreakerStaysTrippedOnceTripped(t *testing.T) {
	b, err := New("errors > 50%", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Observe(fail())
	b.Observe(fail())
	if !b.ShouldStop() {
		t.Fatalf("expected trip")
	}
	reason := b.Reason()
	b.Observe(ok())
	b.Observe(ok())
	if !b.ShouldStop() {
		t.Fatalf("breaker should stay tripped")
	}
	if b.Reason() != reason {
		t.Fatalf("trip reason should not change once tripped")
	}
}

type errAssertion struct{}

func (errAssertion) Error() string { return "assertion failed" }
