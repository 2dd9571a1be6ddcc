package resolve

import (
	"fmt"
	"sort"

	"github.com/ericwastaken/payloadstash/internal/models"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// retryPresence implements spec.md §4.4 item 4: walk request, defaults, top
// in order, stopping at the first source where `Retry` is present in the
// authored mapping (even if null).
func retryPresence(request, defaults, top valuetree.Value) (models.RetryPresence, error) {
	for _, src := range []valuetree.Value{request, defaults, top} {
		raw, ok := src.Get("Retry")
		if !ok {
			continue
		}
		if raw.IsNull() {
			return models.RetryPresence{Disabled: true}, nil
		}
		policy, err := parseRetryPolicy(raw)
		if err != nil {
			return models.RetryPresence{}, err
		}
		return models.RetryPresence{Policy: &policy}, nil
	}
	return models.RetryPresence{Absent: true}, nil
}

func parseRetryPolicy(v valuetree.Value) (models.RetryPolicy, error) {
	var p models.RetryPolicy

	attempts, ok := getInt(v, "Attempts")
	if !ok || attempts < 1 {
		return p, fmt.Errorf("Retry.Attempts must be an integer >= 1")
	}
	p.Attempts = int(attempts)

	strategy, _ := getString(v, "BackoffStrategy")
	switch strategy {
	case string(models.BackoffFixed):
		p.BackoffStrategy = models.BackoffFixed
	case string(models.BackoffExponential):
		p.BackoffStrategy = models.BackoffExponential
	default:
		return p, fmt.Errorf("Retry.BackoffStrategy must be fixed or exponential, got %q", strategy)
	}

	backoff, ok := getFloat(v, "BackoffSeconds")
	if !ok || backoff < 0 {
		return p, fmt.Errorf("Retry.BackoffSeconds must be a number >= 0")
	}
	p.BackoffSeconds = backoff

	p.Multiplier = 2.0
	if m, ok := getFloat(v, "Multiplier"); ok {
		if m <= 0 {
			return p, fmt.Errorf("Retry.Multiplier must be > 0")
		}
		p.Multiplier = m
	}

	if mb, ok := getFloat(v, "MaxBackoffSeconds"); ok {
		if mb < 0 {
			return p, fmt.Errorf("Retry.MaxBackoffSeconds must be >= 0")
		}
		p.MaxBackoffSeconds = mb
		p.HasMaxBackoff = true
	}

	if me, ok := getFloat(v, "MaxElapsedSeconds"); ok {
		if me < 0 {
			return p, fmt.Errorf("Retry.MaxElapsedSeconds must be >= 0")
		}
		p.MaxElapsedSeconds = me
		p.HasMaxElapsed = true
	}

	p.Jitter = models.JitterNone
	if j, ok := v.Get("Jitter"); ok {
		switch j.Kind {
		case valuetree.KindBool:
			if j.Bool {
				p.Jitter = models.JitterFull
			}
		case valuetree.KindString:
			switch j.Str {
			case "max":
				p.Jitter = models.JitterFull
			case "min":
				p.Jitter = models.JitterEqual
			default:
				return p, fmt.Errorf(`Retry.Jitter string must be "min" or "max", got %q`, j.Str)
			}
		default:
			return p, fmt.Errorf(`Retry.Jitter must be a bool or "min"/"max" string`)
		}
	}

	p.RetryOnStatus = map[int]bool{}
	if s, ok := v.Get("RetryOnStatus"); ok && s.Kind == valuetree.KindSequence {
		for _, e := range s.Sequence {
			if i, ok := e.AsInt(); ok {
				p.RetryOnStatus[int(i)] = true
			}
		}
	}

	p.RetryOnNetworkErrors = true
	if b, ok := getBool(v, "RetryOnNetworkErrors"); ok {
		p.RetryOnNetworkErrors = b
	}
	p.RetryOnTimeouts = true
	if b, ok := getBool(v, "RetryOnTimeouts"); ok {
		p.RetryOnTimeouts = b
	}

	return p, nil
}

// retryPresenceToValue serializes a resolved RetryPresence back into a
// valuetree.Value for the `-resolved.yml` output (spec.md §4.4: "Retry
// fields present per request when applicable").
func retryPresenceToValue(p models.RetryPresence) valuetree.Value {
	if p.Absent {
		return valuetree.Null()
	}
	if p.Disabled || p.Policy == nil {
		return valuetree.Null()
	}
	pol := p.Policy
	entries := []valuetree.MapEntry{
		{Key: "Attempts", Value: valuetree.Int(int64(pol.Attempts))},
		{Key: "BackoffStrategy", Value: valuetree.String(string(pol.BackoffStrategy))},
		{Key: "BackoffSeconds", Value: valuetree.Value{Kind: valuetree.KindFloat, Float: pol.BackoffSeconds}},
		{Key: "Multiplier", Value: valuetree.Value{Kind: valuetree.KindFloat, Float: pol.Multiplier}},
	}
	if pol.HasMaxBackoff {
		entries = append(entries, valuetree.MapEntry{Key: "MaxBackoffSeconds", Value: valuetree.Value{Kind: valuetree.KindFloat, Float: pol.MaxBackoffSeconds}})
	}
	if pol.HasMaxElapsed {
		entries = append(entries, valuetree.MapEntry{Key: "MaxElapsedSeconds", Value: valuetree.Value{Kind: valuetree.KindFloat, Float: pol.MaxElapsedSeconds}})
	}
	codes := make([]int, 0, len(pol.RetryOnStatus))
	for code := range pol.RetryOnStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	statuses := make([]valuetree.Value, 0, len(codes))
	for _, code := range codes {
		statuses = append(statuses, valuetree.Int(int64(code)))
	}
	entries = append(entries,
		valuetree.MapEntry{Key: "RetryOnStatus", Value: valuetree.Sequence(statuses...)},
		valuetree.MapEntry{Key: "RetryOnNetworkErrors", Value: valuetree.Bool(pol.RetryOnNetworkErrors)},
		valuetree.MapEntry{Key: "RetryOnTimeouts", Value: valuetree.Bool(pol.RetryOnTimeouts)},
	)
	return valuetree.Mapping(entries...)
}
