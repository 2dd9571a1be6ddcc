package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericwastaken/payloadstash/internal/models"
)

func mkRequest(seqIdx, reqIdx int, key string) models.EffectiveRequest {
	return models.EffectiveRequest{
		SequenceIndex: seqIdx,
		RequestIndex:  reqIdx,
		RequestKey:    key,
	}
}

func TestConcurrentSequenceRespectsConcurrencyCap(t *testing.T) {
	var inFlight int32
	var peak int32

	execute := func(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return models.RequestOutcome{Request: req, Final: models.AttemptResult{Status: 200}}
	}

	reqs := make([]models.EffectiveRequest, 10)
	for i := range reqs {
		reqs[i] = mkRequest(1, i+1, "r")
	}
	seq := Sequence{Name: "Burst", Type: models.Concurrent, ConcurrencyLimit: 3, Requests: reqs}

	s := New(execute, 0, nil, nil)
	outcomes := s.Run(context.Background(), []Sequence{seq})

	if len(outcomes) != 10 {
		t.Fatalf("expected 10 outcomes, got %d", len(outcomes))
	}
	if peak > 3 {
		t.Fatalf("peak concurrency %d exceeded limit 3", peak)
	}
}

func TestConcurrentSequencePreservesAuthoredOrderInReport(t *testing.T) {
	execute := func(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome {
		// Later-indexed requests finish first, to prove ordering isn't
		// completion-order dependent.
		time.Sleep(time.Duration(10-req.RequestIndex) * time.Millisecond)
		return models.RequestOutcome{Request: req}
	}
	reqs := make([]models.EffectiveRequest, 5)
	for i := range reqs {
		reqs[i] = mkRequest(1, i+1, "r")
	}
	seq := Sequence{Name: "Burst", Type: models.Concurrent, ConcurrencyLimit: 5, Requests: reqs}
	s := New(execute, 0, nil, nil)
	outcomes := s.Run(context.Background(), []Sequence{seq})
	for i, o := range outcomes {
		if o.Request.RequestIndex != i+1 {
			t.Fatalf("outcome[%d] has RequestIndex %d, want authored order", i, o.Request.RequestIndex)
		}
	}
}

func TestSequenceBarrierOrdersSequences(t *testing.T) {
	var order []string
	execute := func(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome {
		order = append(order, req.RequestKey)
		return models.RequestOutcome{Request: req}
	}
	seqA := Sequence{Name: "A", Type: models.Sequential, Requests: []models.EffectiveRequest{mkRequest(1, 1, "a1"), mkRequest(1, 2, "a2")}}
	seqB := Sequence{Name: "B", Type: models.Sequential, Requests: []models.EffectiveRequest{mkRequest(2, 1, "b1")}}
	s := New(execute, 0, nil, nil)
	s.Run(context.Background(), []Sequence{seqA, seqB})
	want := []string{"a1", "a2", "b1"}
	if len(order) != len(want) {
		t.Fatalf("got %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestSequentialDelayNotAppliedBeforeFirstRequest(t *testing.T) {
	fc := models.FlowControl{DelaySeconds: 1}
	calls := 0
	execute := func(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome {
		calls++
		return models.RequestOutcome{Request: req}
	}
	req := mkRequest(1, 1, "solo")
	req.FlowControl = fc
	seq := Sequence{Name: "S", Type: models.Sequential, Requests: []models.EffectiveRequest{req}}
	s := New(execute, 0, nil, nil)
	start := time.Now()
	s.Run(context.Background(), []Sequence{seq})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("expected no delay before the first request of a run")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestShouldStopHaltsBeforeNextSequence(t *testing.T) {
	stop := false
	calls := 0
	execute := func(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome {
		calls++
		return models.RequestOutcome{Request: req}
	}
	seqA := Sequence{Name: "A", Type: models.Sequential, Requests: []models.EffectiveRequest{mkRequest(1, 1, "a1")}}
	seqB := Sequence{Name: "B", Type: models.Sequential, Requests: []models.EffectiveRequest{mkRequest(2, 1, "b1")}}
	s := New(execute, 0, func(models.RequestOutcome) { stop = true }, func() bool { return stop })
	s.Run(context.Background(), []Sequence{seqA, seqB})
	if calls != 1 {
		t.Fatalf("expected the breaker to prevent sequence B from starting, got %d calls", calls)
	}
}
