package resolve

import (
	"fmt"
	"os"

	"github.com/ericwastaken/payloadstash/internal/dynamics"
	"github.com/ericwastaken/payloadstash/internal/models"
	"github.com/ericwastaken/payloadstash/internal/operators"
	"github.com/ericwastaken/payloadstash/internal/secrets"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// LoadConfig reads and parses a stash document from path.
func LoadConfig(path string) (valuetree.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return valuetree.Value{}, fmt.Errorf("read config: %w", err)
	}
	v, err := valuetree.FromYAML(data)
	if err != nil {
		return valuetree.Value{}, fmt.Errorf("parse config: %w", err)
	}
	return v, nil
}

// SequencePlan is one resolved sequence: its dispatch mode and the
// effective requests it contains, in authored order.
type SequencePlan struct {
	Name             string
	Type             models.SequenceType
	ConcurrencyLimit int
	Requests         []models.EffectiveRequest
}

// Plan is the Config Resolver's complete output for a run.
type Plan struct {
	Name                 string
	StopIf               string
	MinSamples           int64
	DefaultsDelaySeconds int // inter-sequence delay (spec.md §4.6)
	Sequences            []SequencePlan
	ResolvedDoc          valuetree.Value

	// DeferredResolver materializes `$deferred` operator markers left in an
	// EffectiveRequest's Headers/Body/Query at send time (spec.md §9
	// "mutation model"). It shares the same patterns/expander/secrets as
	// every per-request resolver Build used, but its own determinism cache
	// is irrelevant here since MaterializeDeferred always bypasses the
	// cache (spec.md §4.3 "Determinism note").
	DeferredResolver *operators.Resolver
}

// Build validates and resolves root into a Plan. Callers should run
// Validate first and refuse to call Build on a failing result; Build still
// defends against structurally missing required sections.
func Build(root valuetree.Value, secretsMap *secrets.Map, redact bool) (*Plan, error) {
	stash, ok := root.Get("StashConfig")
	if !ok {
		return nil, fmt.Errorf("StashConfig is required")
	}
	name, _ := getString(stash, "Name")

	defaultsRaw := sectionOrNull(stash, "Defaults")
	forcedRaw, hasForced := stash.Get("Forced")

	urlRoot, _ := getString(defaultsRaw, "URLRoot")
	defaultsFlow := models.FlowControl{}
	if fc, ok := defaultsRaw.Get("FlowControl"); ok {
		if d, ok := fc.Get("DelaySeconds"); ok {
			if i, ok := d.AsInt(); ok {
				defaultsFlow.DelaySeconds = int(i)
			}
		}
		if t, ok := fc.Get("TimeoutSeconds"); ok {
			if i, ok := t.AsInt(); ok {
				defaultsFlow.TimeoutSeconds = int(i)
			}
		}
	}

	patterns := extractPatterns(root)
	sets := extractSets(root)

	if secretsMap == nil {
		secretsMap = secrets.Empty()
	}
	secretResolver := secrets.NewResolver(secretsMap, redact)
	expander := dynamics.New(sets, secretResolver)

	stopIf, _ := getString(stash, "StopIf")
	minSamples, hasMinSamples := getInt(stash, "MinSamples")
	if !hasMinSamples {
		minSamples = 20
	}

	sequencesRaw, _ := stash.Get("Sequences")
	plan := &Plan{
		Name:                 name,
		StopIf:               stopIf,
		MinSamples:           minSamples,
		DefaultsDelaySeconds: defaultsFlow.DelaySeconds,
		DeferredResolver:     operators.New(patterns, expander, secretResolver),
	}

	resolvedSequences := make([]valuetree.Value, 0, len(sequencesRaw.Sequence))

	for seqIndex, seqRaw := range sequencesRaw.Sequence {
		seqName, _ := getString(seqRaw, "Name")
		seqTypeStr, _ := getString(seqRaw, "Type")
		seqType := models.SequenceType(seqTypeStr)
		concurrencyLimit := 0
		if seqType == models.Concurrent {
			lim, _ := getInt(seqRaw, "ConcurrencyLimit")
			concurrencyLimit = int(lim)
		}

		requestsRaw, _ := seqRaw.Get("Requests")
		seqPlan := SequencePlan{Name: seqName, Type: seqType, ConcurrencyLimit: concurrencyLimit}
		resolvedRequests := make([]valuetree.Value, 0, len(requestsRaw.Sequence))

		// Each request gets its own operator resolver so `$dynamic`
		// determinism caching (spec.md §4.3) is scoped per request, not
		// leaked across unrelated requests referencing the same pattern.
		for reqIndex, item := range requestsRaw.Sequence {
			if len(item.Mapping) != 1 {
				return nil, fmt.Errorf("sequence %q request[%d]: expected a single-key mapping", seqName, reqIndex)
			}
			reqKey := item.Mapping[0].Key
			reqRaw := item.Mapping[0].Value

			opResolver := operators.New(patterns, expander, secretResolver)

			eff, resolvedReqValue, err := buildRequest(
				seqName, seqIndex+1, reqKey, reqIndex+1, reqRaw,
				defaultsRaw, forcedRaw, hasForced, urlRoot, defaultsFlow, stash, opResolver,
			)
			if err != nil {
				return nil, fmt.Errorf("sequence %q request %q: %w", seqName, reqKey, err)
			}
			seqPlan.Requests = append(seqPlan.Requests, eff)
			resolvedRequests = append(resolvedRequests, valuetree.Mapping(valuetree.MapEntry{Key: reqKey, Value: resolvedReqValue}))
		}

		plan.Sequences = append(plan.Sequences, seqPlan)

		seqEntries := []valuetree.MapEntry{
			{Key: "Name", Value: valuetree.String(seqName)},
			{Key: "Type", Value: valuetree.String(seqTypeStr)},
		}
		if seqType == models.Concurrent {
			seqEntries = append(seqEntries, valuetree.MapEntry{Key: "ConcurrencyLimit", Value: valuetree.Int(int64(concurrencyLimit))})
		}
		seqEntries = append(seqEntries, valuetree.MapEntry{Key: "Requests", Value: valuetree.Sequence(resolvedRequests...)})
		resolvedSequences = append(resolvedSequences, valuetree.Mapping(seqEntries...))
	}

	plan.ResolvedDoc = valuetree.Mapping(valuetree.MapEntry{
		Key: "StashConfig",
		Value: valuetree.Mapping(
			valuetree.MapEntry{Key: "Name", Value: valuetree.String(name)},
			valuetree.MapEntry{Key: "Sequences", Value: valuetree.Sequence(resolvedSequences...)},
		),
	})

	return plan, nil
}

func buildRequest(
	seqName string, seqIndex int, reqKey string, reqIndex int, reqRaw valuetree.Value,
	defaultsRaw, forcedRaw valuetree.Value, hasForced bool, urlRoot string, defaultsFlow models.FlowControl,
	stashRaw valuetree.Value, opResolver *operators.Resolver,
) (models.EffectiveRequest, valuetree.Value, error) {
	methodStr, _ := getString(reqRaw, "Method")
	urlPath, _ := getString(reqRaw, "URLPath")

	headers, err := resolveSection(reqRaw, defaultsRaw, forcedRaw, hasForced, "Headers", opResolver)
	if err != nil {
		return models.EffectiveRequest{}, valuetree.Value{}, err
	}
	body, err := resolveSection(reqRaw, defaultsRaw, forcedRaw, hasForced, "Body", opResolver)
	if err != nil {
		return models.EffectiveRequest{}, valuetree.Value{}, err
	}
	query, err := resolveSection(reqRaw, defaultsRaw, forcedRaw, hasForced, "Query", opResolver)
	if err != nil {
		return models.EffectiveRequest{}, valuetree.Value{}, err
	}

	flow := mergeFlowControl(defaultsFlow, reqRaw)

	retryPres, err := retryPresence(reqRaw, defaultsRaw, stashRaw)
	if err != nil {
		return models.EffectiveRequest{}, valuetree.Value{}, err
	}

	assertions := parseAssertions(reqRaw)

	eff := models.EffectiveRequest{
		SequenceName:  seqName,
		SequenceIndex: seqIndex,
		RequestKey:    reqKey,
		RequestIndex:  reqIndex,
		Method:        models.Method(methodStr),
		URLRoot:       urlRoot,
		URLPath:       urlPath,
		Headers:       headers,
		Body:          body,
		Query:         query,
		FlowControl:   flow,
		Retry:         retryPres,
		Assertions:    assertions,
	}

	resolvedValue := valuetree.Mapping(
		valuetree.MapEntry{Key: "Method", Value: valuetree.String(methodStr)},
		valuetree.MapEntry{Key: "URLRoot", Value: valuetree.String(urlRoot)},
		valuetree.MapEntry{Key: "URLPath", Value: valuetree.String(urlPath)},
		valuetree.MapEntry{Key: "Headers", Value: headers},
		valuetree.MapEntry{Key: "Body", Value: body},
		valuetree.MapEntry{Key: "Query", Value: query},
		valuetree.MapEntry{Key: "FlowControl", Value: valuetree.Mapping(
			valuetree.MapEntry{Key: "DelaySeconds", Value: valuetree.Int(int64(flow.DelaySeconds))},
			valuetree.MapEntry{Key: "TimeoutSeconds", Value: valuetree.Int(int64(flow.TimeoutSeconds))},
		)},
		valuetree.MapEntry{Key: "Retry", Value: retryPresenceToValue(retryPres)},
	)

	return eff, resolvedValue, nil
}

func resolveSection(request, defaults, forced valuetree.Value, hasForced bool, key string, opResolver *operators.Resolver) (valuetree.Value, error) {
	merged := mergeSection(sectionOrNull(request, key), sectionOrNull(defaults, key), sectionOrNull(forced, key), hasForced)
	resolved, err := opResolver.Resolve(merged)
	if err != nil {
		return valuetree.Value{}, fmt.Errorf("%s: %w", key, err)
	}
	return resolved, nil
}

func extractPatterns(root valuetree.Value) map[string]string {
	out := map[string]string{}
	dyn, ok := root.Get("dynamics")
	if !ok {
		return out
	}
	patterns, ok := dyn.Get("patterns")
	if !ok {
		return out
	}
	for _, e := range patterns.Mapping {
		if tmpl, ok := getString(e.Value, "template"); ok {
			out[e.Key] = tmpl
		}
	}
	return out
}

func extractSets(root valuetree.Value) dynamics.Sets {
	out := dynamics.Sets{}
	dyn, ok := root.Get("dynamics")
	if !ok {
		return out
	}
	sets, ok := dyn.Get("sets")
	if !ok {
		return out
	}
	for _, e := range sets.Mapping {
		if e.Value.Kind != valuetree.KindSequence {
			continue
		}
		values := make([]string, 0, len(e.Value.Sequence))
		for _, item := range e.Value.Sequence {
			if s, ok := item.AsString(); ok {
				values = append(values, s)
			}
		}
		out[e.Key] = values
	}
	return out
}

func parseAssertions(req valuetree.Value) []models.Assertion {
	list, ok := req.Get("Assertions")
	if !ok || list.Kind != valuetree.KindSequence {
		return nil
	}
	out := make([]models.Assertion, 0, len(list.Sequence))
	for _, a := range list.Sequence {
		typ, _ := getString(a, "Type")
		value, _ := getString(a, "Value")
		path, _ := getString(a, "Path")
		message, _ := getString(a, "Message")
		out = append(out, models.Assertion{
			Type:    models.AssertionType(typ),
			Value:   value,
			Path:    path,
			Message: message,
		})
	}
	return out
}
