// Package operators implements the Operator Resolver (spec.md §4.3): it
// walks a valuetree.Value looking for reserved-key mapping nodes
// (`$dynamic`, `$secrets`, `$func`, `$timestamp`, `$deferred`) and either
// evaluates them immediately or normalizes them into an inert deferred
// marker that the Request Executor materializes at send time.
//
// Grounded on internal/attacker/variables.go's placeholder-scan loop,
// lifted here from string-scanning to tree-walking since operator nodes
// are full mapping values, not inline template text.
package operators

import (
	"fmt"

	"github.com/ericwastaken/payloadstash/internal/dynamics"
	"github.com/ericwastaken/payloadstash/internal/secrets"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// Reserved mapping keys that mark an operator node.
const (
	KeyDynamic   = "$dynamic"
	KeySecrets   = "$secrets"
	KeyFunc      = "$func"
	KeyTimestamp = "$timestamp"
	KeyDeferred  = "$deferred"
	KeyWhen      = "when"
	KeyFormat    = "format"
)

var operatorKeys = []string{KeyDynamic, KeySecrets, KeyFunc, KeyTimestamp, KeyDeferred}

// Resolver evaluates operator nodes found while walking a value tree.
type Resolver struct {
	patterns map[string]string // pattern name -> template, from dynamics.patterns
	expander *dynamics.Expander
	secrets  *secrets.Resolver

	// cache holds, per pattern name, the first resolve-time expansion
	// result, reused for every subsequent non-deferred reference to the
	// same name (spec.md §4.3 "Determinism note").
	cache map[string]string
}

// New builds a Resolver. patterns maps a `$dynamic` pattern name to its
// template string (spec.md §3 "Pattern definition").
func New(patterns map[string]string, expander *dynamics.Expander, secretResolver *secrets.Resolver) *Resolver {
	return &Resolver{
		patterns: patterns,
		expander: expander,
		secrets:  secretResolver,
		cache:    make(map[string]string),
	}
}

// Resolve walks v and returns a new tree: immediate operator nodes are
// replaced by their computed value; nodes tagged `when: request` (or
// already wrapped in `$deferred`) are normalized into a `$deferred` marker
// carrying the inner operator node, unevaluated, for MaterializeDeferred to
// pick up at send time.
func (r *Resolver) Resolve(v valuetree.Value) (valuetree.Value, error) {
	switch v.Kind {
	case valuetree.KindMapping:
		key, ok := operatorKey(v)
		if ok {
			return r.resolveOperatorNode(key, v)
		}
		out := make([]valuetree.MapEntry, len(v.Mapping))
		for i, e := range v.Mapping {
			resolved, err := r.Resolve(e.Value)
			if err != nil {
				return valuetree.Value{}, fmt.Errorf("field %q: %w", e.Key, err)
			}
			out[i] = valuetree.MapEntry{Key: e.Key, Value: resolved}
		}
		return valuetree.Mapping(out...), nil
	case valuetree.KindSequence:
		out := make([]valuetree.Value, len(v.Sequence))
		for i, e := range v.Sequence {
			resolved, err := r.Resolve(e)
			if err != nil {
				return valuetree.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return valuetree.Sequence(out...), nil
	case valuetree.KindString:
		interpolated, err := r.secrets.Interpolate(v.Str)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.String(interpolated), nil
	default:
		return v, nil
	}
}

// operatorKey reports the reserved key present on a mapping node, if any.
func operatorKey(v valuetree.Value) (string, bool) {
	for _, k := range operatorKeys {
		if v.Has(k) {
			return k, true
		}
	}
	return "", false
}

func (r *Resolver) resolveOperatorNode(key string, v valuetree.Value) (valuetree.Value, error) {
	if key == KeyDeferred {
		inner, _ := v.Get(KeyDeferred)
		return valuetree.Mapping(valuetree.MapEntry{Key: KeyDeferred, Value: inner.Clone()}), nil
	}

	if isDeferred(key, v) {
		return valuetree.Mapping(valuetree.MapEntry{Key: KeyDeferred, Value: stripWhen(v)}), nil
	}

	return r.evalOperator(key, v, true)
}

// isDeferred reports whether an operator node's `when` field requests
// send-time (request) evaluation instead of resolve-time evaluation. `when`
// may sit alongside the operator key ($dynamic, $func shorthand forms) or
// nested inside the operator's own value mapping ($timestamp nested form).
func isDeferred(key string, v valuetree.Value) bool {
	if when, ok := v.Get(KeyWhen); ok {
		if s, _ := when.AsString(); s == "request" {
			return true
		}
	}
	if raw, ok := v.Get(key); ok && raw.Kind == valuetree.KindMapping {
		if when, ok := raw.Get(KeyWhen); ok {
			if s, _ := when.AsString(); s == "request" {
				return true
			}
		}
	}
	return false
}

// stripWhen clones an operator node's fields except `when`, for embedding
// inside a `$deferred` marker that MaterializeDeferred will later evaluate.
func stripWhen(v valuetree.Value) valuetree.Value {
	out := make([]valuetree.MapEntry, 0, len(v.Mapping))
	for _, e := range v.Mapping {
		if e.Key == KeyWhen {
			continue
		}
		out = append(out, valuetree.MapEntry{Key: e.Key, Value: e.Value.Clone()})
	}
	return valuetree.Mapping(out...)
}

// evalOperator computes the immediate value of a non-deferred operator
// node. useCache controls whether a `$dynamic` result is taken from (and
// recorded into) the per-name determinism cache: resolve-time calls pass
// true, MaterializeDeferred's request-time calls pass false so repeated
// sends re-expand independently (spec.md §4.3, §9 "mutation model").
func (r *Resolver) evalOperator(key string, v valuetree.Value, useCache bool) (valuetree.Value, error) {
	switch key {
	case KeyDynamic:
		name, ok := mustString(v, KeyDynamic)
		if !ok {
			return valuetree.Value{}, fmt.Errorf("%s must name a pattern", KeyDynamic)
		}
		out, err := r.expandPattern(name, useCache)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.String(out), nil

	case KeySecrets:
		name, ok := mustString(v, KeySecrets)
		if !ok {
			return valuetree.Value{}, fmt.Errorf("%s must be a secret key string", KeySecrets)
		}
		val, err := r.secrets.Resolve(name)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.String(val), nil

	case KeyTimestamp:
		format := timestampFormat(v, KeyTimestamp)
		return valuetree.String(dynamics.FormatTimestamp(format)), nil

	case KeyFunc:
		name, ok := mustString(v, KeyFunc)
		if !ok {
			return valuetree.Value{}, fmt.Errorf("%s must name a function", KeyFunc)
		}
		switch name {
		case "timestamp":
			format := ""
			if f, ok := v.Get(KeyFormat); ok {
				if s, ok := f.AsString(); ok {
					format = s
				}
			}
			return valuetree.String(dynamics.FormatTimestamp(format)), nil
		default:
			return valuetree.Value{}, fmt.Errorf("unknown %s function %q", KeyFunc, name)
		}

	default:
		return valuetree.Value{}, fmt.Errorf("unrecognized operator %q", key)
	}
}

// timestampFormat extracts the format from either the shorthand
// (`{$timestamp: "epoch_ms"}`) or nested (`{$timestamp: {format: "epoch_ms"}}`)
// forms described in spec.md §4.3.
func timestampFormat(v valuetree.Value, key string) string {
	raw, ok := v.Get(key)
	if !ok {
		return ""
	}
	if s, ok := raw.AsString(); ok {
		return s
	}
	if raw.Kind == valuetree.KindMapping {
		if f, ok := raw.Get(KeyFormat); ok {
			if s, ok := f.AsString(); ok {
				return s
			}
		}
	}
	return ""
}

func (r *Resolver) expandPattern(name string, useCache bool) (string, error) {
	if useCache {
		if cached, ok := r.cache[name]; ok {
			return cached, nil
		}
	}
	template, ok := r.patterns[name]
	if !ok {
		return "", fmt.Errorf("unknown %s pattern %q", KeyDynamic, name)
	}
	out, err := r.expander.Expand(template)
	if err != nil {
		return "", err
	}
	if useCache {
		r.cache[name] = out
	}
	return out, nil
}

func mustString(v valuetree.Value, key string) (string, bool) {
	raw, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return raw.AsString()
}

// MaterializeDeferred walks a previously resolved tree and replaces every
// `$deferred` marker with the immediate evaluation of its inner operator
// node. Called by the Request Executor on a fresh Value.Clone() before each
// send attempt, so repeated attempts and retries each get a fresh expansion
// (spec.md §9 "mutation model"); `$dynamic` patterns bypass the resolve-time
// cache here so request-time values are independently generated per send.
func (r *Resolver) MaterializeDeferred(v valuetree.Value) (valuetree.Value, error) {
	switch v.Kind {
	case valuetree.KindMapping:
		if inner, ok := v.Get(KeyDeferred); ok && len(v.Mapping) == 1 {
			key, ok := operatorKey(inner)
			if !ok {
				return valuetree.Value{}, fmt.Errorf("%s does not wrap a recognized operator", KeyDeferred)
			}
			materializedInner, err := r.MaterializeDeferred(inner)
			if err != nil {
				return valuetree.Value{}, err
			}
			return r.evalOperator(key, materializedInner, false)
		}
		out := make([]valuetree.MapEntry, len(v.Mapping))
		for i, e := range v.Mapping {
			m, err := r.MaterializeDeferred(e.Value)
			if err != nil {
				return valuetree.Value{}, fmt.Errorf("field %q: %w", e.Key, err)
			}
			out[i] = valuetree.MapEntry{Key: e.Key, Value: m}
		}
		return valuetree.Mapping(out...), nil
	case valuetree.KindSequence:
		out := make([]valuetree.Value, len(v.Sequence))
		for i, e := range v.Sequence {
			m, err := r.MaterializeDeferred(e)
			if err != nil {
				return valuetree.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = m
		}
		return valuetree.Sequence(out...), nil
	case valuetree.KindString:
		interpolated, err := r.secrets.Interpolate(v.Str)
		if err != nil {
			return valuetree.Value{}, err
		}
		return valuetree.String(interpolated), nil
	default:
		return v, nil
	}
}
