// Package resolve implements the Config Resolver (spec.md §4.4): schema
// validation, per-request section merging, URLRoot/FlowControl propagation,
// Retry precedence, and emission of the fully-resolved document.
//
// Grounded on the teacher's pkg/config/config.go (LoadConfig/Validate shape)
// and pkg/config/validator.go (ValidationResult/ValidationError plus the
// Levenshtein "did you mean" suggestion machinery), reused near-verbatim in
// style and generalized to PayloadStash's schema.
package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ericwastaken/payloadstash/internal/models"
	"github.com/ericwastaken/payloadstash/internal/operators"
	"github.com/ericwastaken/payloadstash/internal/secrets"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// inlineSecretRefPattern matches `{ $secrets: KEY }` spans inside string
// scalars, mirroring internal/secrets' own interpolation regex.
var inlineSecretRefPattern = regexp.MustCompile(`\{\s*\$secrets\s*:\s*([A-Za-z0-9_.\-]+)\s*\}`)

// ValidationError names one schema violation, with an optional "did you
// mean" hint for misspelled enum values.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (did you mean %q?)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult accumulates every schema violation found in one pass,
// instead of failing fast on the first — so a user sees every problem in
// one `validate` invocation.
type ValidationResult struct {
	Errors []ValidationError
}

func (r *ValidationResult) add(field, msg string, hint ...string) {
	h := ""
	if len(hint) > 0 {
		h = hint[0]
	}
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: msg, Hint: h})
}

// OK reports whether validation found zero errors.
func (r *ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Err collapses the result into a single error, or nil if OK.
func (r *ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	lines := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		lines[i] = e.Error()
	}
	return fmt.Errorf("%d validation error(s):\n%s", len(r.Errors), strings.Join(lines, "\n"))
}

var validBackoffStrategies = []string{"fixed", "exponential"}
var validSequenceTypes = []string{string(models.Sequential), string(models.Concurrent)}
var validMethods = methodStrings()

func methodStrings() []string {
	out := make([]string, len(models.ValidMethods))
	for i, m := range models.ValidMethods {
		out[i] = string(m)
	}
	return out
}

// Validate checks root against the schema in spec.md §6. secretsMap may be
// nil; when non-nil and actually loaded, inline `$secrets` references are
// checked against it eagerly ("missing secret key when secrets are
// supplied", spec.md §7).
func Validate(root valuetree.Value, secretsMap *secrets.Map) *ValidationResult {
	result := &ValidationResult{}

	stash, ok := root.Get("StashConfig")
	if !ok || stash.Kind != valuetree.KindMapping {
		result.add("StashConfig", "is required")
		return result
	}

	name, ok := getString(stash, "Name")
	if !ok || strings.TrimSpace(name) == "" {
		result.add("StashConfig.Name", "is required and must be a non-empty string")
	}

	defaults, hasDefaults := stash.Get("Defaults")
	if !hasDefaults || defaults.Kind != valuetree.KindMapping {
		result.add("StashConfig.Defaults", "is required")
	} else {
		validateURLRoot(defaults, "StashConfig.Defaults", result)
		validateFlowControl(defaults, "StashConfig.Defaults.FlowControl", result, true)
		validateRetry(defaults, "StashConfig.Defaults.Retry", result)
	}

	if forced, ok := stash.Get("Forced"); ok {
		if _, bad := forced.Get("URLRoot"); bad {
			result.add("StashConfig.Forced.URLRoot", "URLRoot is not permitted in Forced")
		}
		validateRetry(forced, "StashConfig.Forced.Retry", result)
	}

	validateRetry(stash, "StashConfig.Retry", result)

	patternNames, patternsPresent := validateDynamics(root, result)

	sequences, ok := stash.Get("Sequences")
	if !ok || sequences.Kind != valuetree.KindSequence || len(sequences.Sequence) == 0 {
		result.add("StashConfig.Sequences", "must be a non-empty list")
	} else {
		seenSeqNames := map[string]bool{}
		for i, seq := range sequences.Sequence {
			validateSequence(i, seq, seenSeqNames, result)
		}
	}

	if stopIf, ok := getString(stash, "StopIf"); ok && strings.TrimSpace(stopIf) == "" {
		result.add("StashConfig.StopIf", "must not be blank when present")
		_ = stopIf
	}

	validateDynamicRefs(root, patternNames, patternsPresent, result)
	validateSecretRefs(root, secretsMap, result)

	return result
}

func validateURLRoot(v valuetree.Value, field string, result *ValidationResult) {
	root, ok := getString(v, "URLRoot")
	if !ok || strings.TrimSpace(root) == "" {
		result.add(field+".URLRoot", "is required and must be a non-empty string")
	}
}

func validateFlowControl(v valuetree.Value, field string, result *ValidationResult, required bool) {
	fc, ok := v.Get("FlowControl")
	if !ok {
		if required {
			result.add(field, "is required")
		}
		return
	}
	if d, ok := fc.Get("DelaySeconds"); !ok {
		if required {
			result.add(field+".DelaySeconds", "is required")
		}
	} else if i, ok := d.AsInt(); !ok || i < 0 {
		result.add(field+".DelaySeconds", "must be an integer >= 0")
	}
	if t, ok := fc.Get("TimeoutSeconds"); !ok {
		if required {
			result.add(field+".TimeoutSeconds", "is required")
		}
	} else if i, ok := t.AsInt(); !ok || i < 0 {
		result.add(field+".TimeoutSeconds", "must be an integer >= 0")
	}
}

func validateRetry(v valuetree.Value, field string, result *ValidationResult) {
	raw, ok := v.Get("Retry")
	if !ok || raw.IsNull() {
		return
	}
	if raw.Kind != valuetree.KindMapping {
		result.add(field, "must be a mapping or null")
		return
	}
	attempts, ok := raw.Get("Attempts")
	if !ok {
		result.add(field+".Attempts", "is required")
	} else if i, ok := attempts.AsInt(); !ok || i < 1 {
		result.add(field+".Attempts", "must be an integer >= 1")
	}
	strategy, ok := getString(raw, "BackoffStrategy")
	if !ok {
		result.add(field+".BackoffStrategy", "is required")
	} else if strategy != "fixed" && strategy != "exponential" {
		hint, _ := suggest(strategy, validBackoffStrategies)
		result.add(field+".BackoffStrategy", fmt.Sprintf("must be one of %v", validBackoffStrategies), hint)
	}
	if backoff, ok := raw.Get("BackoffSeconds"); !ok {
		result.add(field+".BackoffSeconds", "is required")
	} else if f, ok := backoff.AsFloat(); !ok || f < 0 {
		result.add(field+".BackoffSeconds", "must be a number >= 0")
	}
	if m, ok := raw.Get("Multiplier"); ok {
		if f, ok := m.AsFloat(); !ok || f <= 0 {
			result.add(field+".Multiplier", "must be a number > 0")
		}
	}
	if mb, ok := raw.Get("MaxBackoffSeconds"); ok {
		if f, ok := mb.AsFloat(); !ok || f < 0 {
			result.add(field+".MaxBackoffSeconds", "must be a number >= 0")
		}
	}
	if me, ok := raw.Get("MaxElapsedSeconds"); ok {
		if f, ok := me.AsFloat(); !ok || f < 0 {
			result.add(field+".MaxElapsedSeconds", "must be a number >= 0")
		}
	}
	if j, ok := raw.Get("Jitter"); ok {
		switch j.Kind {
		case valuetree.KindBool:
		case valuetree.KindString:
			if j.Str != "min" && j.Str != "max" {
				result.add(field+".Jitter", `must be a bool or the string "min"/"max"`)
			}
		default:
			result.add(field+".Jitter", `must be a bool or the string "min"/"max"`)
		}
	}
	if s, ok := raw.Get("RetryOnStatus"); ok && s.Kind != valuetree.KindSequence {
		result.add(field+".RetryOnStatus", "must be a list of integers")
	}
}

func validateSequence(index int, seq valuetree.Value, seen map[string]bool, result *ValidationResult) {
	field := fmt.Sprintf("StashConfig.Sequences[%d]", index)
	name, ok := getString(seq, "Name")
	if !ok || strings.TrimSpace(name) == "" {
		result.add(field+".Name", "is required and must be a non-empty string")
	} else {
		if seen[name] {
			result.add(field+".Name", fmt.Sprintf("duplicate sequence name %q", name))
		}
		seen[name] = true
		field = fmt.Sprintf("StashConfig.Sequences[%d:%s]", index, name)
	}

	seqType, ok := getString(seq, "Type")
	isConcurrent := false
	if !ok {
		result.add(field+".Type", "is required")
	} else if seqType != string(models.Sequential) && seqType != string(models.Concurrent) {
		hint, _ := suggest(seqType, validSequenceTypes)
		result.add(field+".Type", fmt.Sprintf("must be one of %v", validSequenceTypes), hint)
	} else {
		isConcurrent = seqType == string(models.Concurrent)
	}

	limit, hasLimit := seq.Get("ConcurrencyLimit")
	if isConcurrent {
		if !hasLimit {
			result.add(field+".ConcurrencyLimit", "is required when Type is Concurrent")
		} else if i, ok := limit.AsInt(); !ok || i < 1 {
			result.add(field+".ConcurrencyLimit", "must be an integer >= 1")
		}
	} else if hasLimit {
		result.add(field+".ConcurrencyLimit", "is only permitted when Type is Concurrent")
	}

	requests, ok := seq.Get("Requests")
	if !ok || requests.Kind != valuetree.KindSequence || len(requests.Sequence) == 0 {
		result.add(field+".Requests", "must be a non-empty list")
		return
	}
	seenKeys := map[string]bool{}
	for i, item := range requests.Sequence {
		validateRequestItem(field, i, item, seenKeys, result)
	}
}

func validateRequestItem(seqField string, index int, item valuetree.Value, seenKeys map[string]bool, result *ValidationResult) {
	field := fmt.Sprintf("%s.Requests[%d]", seqField, index)
	if item.Kind != valuetree.KindMapping || len(item.Mapping) != 1 {
		result.add(field, "must be a single-key mapping {RequestKey: Request}")
		return
	}
	key := item.Mapping[0].Key
	req := item.Mapping[0].Value
	if seenKeys[key] {
		result.add(field, fmt.Sprintf("duplicate request key %q within sequence", key))
	}
	seenKeys[key] = true
	field = fmt.Sprintf("%s[%s]", field, key)

	method, ok := getString(req, "Method")
	if !ok {
		result.add(field+".Method", "is required")
	} else {
		valid := false
		for _, m := range validMethods {
			if m == method {
				valid = true
				break
			}
		}
		if !valid {
			hint, _ := suggest(method, validMethods)
			result.add(field+".Method", fmt.Sprintf("must be one of %v", validMethods), hint)
		}
	}

	if path, ok := getString(req, "URLPath"); !ok || path == "" {
		result.add(field+".URLPath", "is required and must be a non-empty string")
	}

	if _, has := req.Get("URLRoot"); has {
		result.add(field+".URLRoot", "URLRoot is forbidden inside a request; set it in Defaults")
	}

	validateFlowControl(req, field+".FlowControl", result, false)
	validateRetry(req, field+".Retry", result)
	validateAssertions(req, field+".Assertions", result)
}

func validateAssertions(req valuetree.Value, field string, result *ValidationResult) {
	list, ok := req.Get("Assertions")
	if !ok {
		return
	}
	if list.Kind != valuetree.KindSequence {
		result.add(field, "must be a list")
		return
	}
	for i, a := range list.Sequence {
		f := fmt.Sprintf("%s[%d]", field, i)
		typ, ok := getString(a, "Type")
		if !ok {
			result.add(f+".Type", "is required")
			continue
		}
		switch models.AssertionType(typ) {
		case models.AssertContains, models.AssertRegex:
			if v, ok := getString(a, "Value"); !ok || v == "" {
				result.add(f+".Value", "is required for this assertion type")
			}
		case models.AssertJSONPath:
			if v, ok := getString(a, "Path"); !ok || v == "" {
				result.add(f+".Path", "is required for json_path assertions")
			}
			if v, ok := getString(a, "Value"); !ok || v == "" {
				result.add(f+".Value", "is required for json_path assertions")
			}
		default:
			hint, _ := suggest(typ, []string{string(models.AssertContains), string(models.AssertRegex), string(models.AssertJSONPath)})
			result.add(f+".Type", "must be one of [contains regex json_path]", hint)
		}
	}
}

// validateDynamics checks `dynamics.patterns`/`dynamics.sets` shape and
// returns the set of known pattern names plus whether a dynamics section
// was authored at all (spec.md §7 "missing dynamics when $dynamic is
// used").
func validateDynamics(root valuetree.Value, result *ValidationResult) (map[string]bool, bool) {
	dyn, ok := root.Get("dynamics")
	if !ok {
		return nil, false
	}
	names := map[string]bool{}
	if patterns, ok := dyn.Get("patterns"); ok {
		if patterns.Kind != valuetree.KindMapping {
			result.add("dynamics.patterns", "must be a mapping")
		} else {
			for _, e := range patterns.Mapping {
				if _, ok := getString(e.Value, "template"); !ok {
					result.add(fmt.Sprintf("dynamics.patterns.%s.template", e.Key), "is required and must be a string")
				}
				names[e.Key] = true
			}
		}
	}
	if sets, ok := dyn.Get("sets"); ok && sets.Kind != valuetree.KindMapping {
		result.add("dynamics.sets", "must be a mapping of name to list of strings")
	}
	return names, true
}

// validateDynamicRefs scans the whole document for `$dynamic` operator
// nodes and checks each referenced pattern name exists.
func validateDynamicRefs(v valuetree.Value, known map[string]bool, patternsPresent bool, result *ValidationResult) {
	walkDynamicRefs(v, "", func(path, name string) {
		if !patternsPresent {
			result.add(path, fmt.Sprintf("references pattern %q but no dynamics.patterns section is present", name))
			return
		}
		if !known[name] {
			names := make([]string, 0, len(known))
			for n := range known {
				names = append(names, n)
			}
			hint, _ := suggest(name, names)
			result.add(path, fmt.Sprintf("unknown %s pattern %q", operators.KeyDynamic, name), hint)
		}
	})
}

func walkDynamicRefs(v valuetree.Value, path string, report func(path, name string)) {
	switch v.Kind {
	case valuetree.KindMapping:
		if raw, ok := v.Get(operators.KeyDynamic); ok {
			if name, ok := raw.AsString(); ok {
				report(path+"."+operators.KeyDynamic, name)
			}
		}
		for _, e := range v.Mapping {
			walkDynamicRefs(e.Value, path+"."+e.Key, report)
		}
	case valuetree.KindSequence:
		for i, e := range v.Sequence {
			walkDynamicRefs(e, fmt.Sprintf("%s[%d]", path, i), report)
		}
	}
}

// validateSecretRefs scans for `$secrets` operator nodes and inline
// `{ $secrets: KEY }` string spans, erroring only when a secrets map was
// actually supplied and lacks the key (spec.md §4.2, §7).
func validateSecretRefs(v valuetree.Value, secretsMap *secrets.Map, result *ValidationResult) {
	if secretsMap == nil || !secretsMap.Loaded() {
		return
	}
	walkSecretRefs(v, "", func(path, key string) {
		if _, ok := secretsMap.Lookup(key); !ok {
			result.add(path, fmt.Sprintf("secret %q is not present in the supplied secrets file", key))
		}
	})
}

func walkSecretRefs(v valuetree.Value, path string, report func(path, key string)) {
	switch v.Kind {
	case valuetree.KindMapping:
		if raw, ok := v.Get(operators.KeySecrets); ok {
			if key, ok := raw.AsString(); ok {
				report(path+"."+operators.KeySecrets, key)
			}
		}
		for _, e := range v.Mapping {
			walkSecretRefs(e.Value, path+"."+e.Key, report)
		}
	case valuetree.KindSequence:
		for i, e := range v.Sequence {
			walkSecretRefs(e, fmt.Sprintf("%s[%d]", path, i), report)
		}
	case valuetree.KindString:
		for _, m := range inlineSecretKeys(v.Str) {
			report(path, m)
		}
	}
}

func inlineSecretKeys(s string) []string {
	if !strings.Contains(s, "$secrets") {
		return nil
	}
	var out []string
	for _, m := range inlineSecretRefPattern.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}
