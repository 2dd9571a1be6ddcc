// Package scheduler implements the Sequence Scheduler (spec.md §4.6):
// authored-order sequence iteration, per-sequence dispatch (sequential or a
// bounded concurrent worker group), and inter-step/inter-sequence delay.
//
// Grounded on internal/attacker/attacker.go's worker-pool goroutine launch
// loop; kept on the standard library (sync/channels), matching the
// teacher's own bare-goroutine approach rather than reaching for a worker
// pool library, since none of the pack's dependencies improve on a
// semaphore-bounded goroutine group for this shape.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ericwastaken/payloadstash/internal/models"
)

// Sequence is one dispatch unit: a named, ordered group of requests sharing
// an execution mode.
type Sequence struct {
	Name             string
	Type             models.SequenceType
	ConcurrencyLimit int
	Requests         []models.EffectiveRequest
}

// ExecuteFunc sends one effective request and returns its final outcome
// (after any retries); implemented by internal/executor.
type ExecuteFunc func(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome

// OnOutcome is invoked, serialized, after every request outcome. An early
// stop (the circuit breaker tripping) is signalled through the shouldStop
// hook given to New, not through OnOutcome: requests already in flight
// complete, but no further request or sequence is dispatched
// (SPEC_FULL.md supplement 2).
type OnOutcome func(models.RequestOutcome)

// Scheduler drives a run's sequences against an ExecuteFunc.
type Scheduler struct {
	execute            ExecuteFunc
	interSequenceDelay time.Duration
	onOutcome          OnOutcome
	shouldStop         func() bool

	// onOutcomeMu serializes onOutcome calls across concurrent workers, so
	// callers can safely mutate unsynchronized state from it (spec.md §5
	// "shared resources... must be serialized").
	onOutcomeMu sync.Mutex
}

// New builds a Scheduler. onOutcome may be nil. shouldStop, if non-nil, is
// polled between dispatches to honor a tripped circuit breaker.
func New(execute ExecuteFunc, interSequenceDelay time.Duration, onOutcome OnOutcome, shouldStop func() bool) *Scheduler {
	if onOutcome == nil {
		onOutcome = func(models.RequestOutcome) {}
	}
	if shouldStop == nil {
		shouldStop = func() bool { return false }
	}
	return &Scheduler{execute: execute, interSequenceDelay: interSequenceDelay, onOutcome: onOutcome, shouldStop: shouldStop}
}

// reportOutcome calls onOutcome under onOutcomeMu, so it is safe for callers
// to mutate unsynchronized state from it even when invoked from multiple
// runConcurrent workers at once.
func (s *Scheduler) reportOutcome(outcome models.RequestOutcome) {
	s.onOutcomeMu.Lock()
	defer s.onOutcomeMu.Unlock()
	s.onOutcome(outcome)
}

// Run dispatches every sequence in authored order and returns every
// outcome, indexed in authored (sequence-index, request-index) order.
func (s *Scheduler) Run(ctx context.Context, sequences []Sequence) []models.RequestOutcome {
	var all []models.RequestOutcome
	for i, seq := range sequences {
		if s.shouldStop() {
			break
		}
		if i > 0 && s.interSequenceDelay > 0 {
			time.Sleep(s.interSequenceDelay)
		}
		switch seq.Type {
		case models.Concurrent:
			all = append(all, s.runConcurrent(ctx, seq)...)
		default:
			all = append(all, s.runSequential(ctx, seq)...)
		}
	}
	return all
}

func (s *Scheduler) runSequential(ctx context.Context, seq Sequence) []models.RequestOutcome {
	outcomes := make([]models.RequestOutcome, 0, len(seq.Requests))
	for i, req := range seq.Requests {
		if s.shouldStop() {
			break
		}
		if i > 0 && req.FlowControl.Delay() > 0 {
			time.Sleep(req.FlowControl.Delay())
		}
		outcome := s.execute(ctx, req)
		s.reportOutcome(outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// runConcurrent dispatches seq.Requests into a worker group bounded by
// seq.ConcurrencyLimit. Dispatch order is whichever worker frees up first;
// the returned slice preserves authored request order regardless (spec.md
// §4.6, §5 "Ordering guarantees").
func (s *Scheduler) runConcurrent(ctx context.Context, seq Sequence) []models.RequestOutcome {
	outcomes := make([]models.RequestOutcome, len(seq.Requests))
	limit := seq.ConcurrencyLimit
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, req := range seq.Requests {
		if s.shouldStop() {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req models.EffectiveRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := s.execute(ctx, req)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			s.reportOutcome(outcome)
		}(i, req)
	}
	wg.Wait()
	return outcomes
}
