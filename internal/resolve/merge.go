package resolve

import (
	"github.com/ericwastaken/payloadstash/internal/models"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// mergeSection implements spec.md §4.4 item 1: base is the request section
// if present, else the Defaults section if present, else null; overlay is
// the Forced section if present. Merging is shallow, per top-level key,
// with Forced keys overriding.
func mergeSection(request valuetree.Value, defaults valuetree.Value, forced valuetree.Value, hasForced bool) valuetree.Value {
	base, baseHas := request, true
	if base.IsNull() {
		baseHas = false
	}
	if !baseHas {
		if !defaults.IsNull() {
			base, baseHas = defaults, true
		}
	}

	if !hasForced || forced.IsNull() {
		if !baseHas {
			return valuetree.Null()
		}
		return base
	}

	if !baseHas {
		return forced
	}

	if base.Kind != valuetree.KindMapping || forced.Kind != valuetree.KindMapping {
		return forced
	}
	merged := base
	for _, e := range forced.Mapping {
		merged = merged.With(e.Key, e.Value)
	}
	return merged
}

// sectionOrNull returns the named section from v, or Null if absent.
func sectionOrNull(v valuetree.Value, key string) valuetree.Value {
	raw, ok := v.Get(key)
	if !ok {
		return valuetree.Null()
	}
	return raw
}

// mergeFlowControl field-wise overlays defaults by the request's
// FlowControl, independently for DelaySeconds and TimeoutSeconds (spec.md
// §4.4 item 3).
func mergeFlowControl(defaults models.FlowControl, request valuetree.Value) models.FlowControl {
	fc := defaults
	rawFC, ok := request.Get("FlowControl")
	if !ok {
		return fc
	}
	if d, ok := rawFC.Get("DelaySeconds"); ok {
		if i, ok := d.AsInt(); ok {
			fc.DelaySeconds = int(i)
		}
	}
	if t, ok := rawFC.Get("TimeoutSeconds"); ok {
		if i, ok := t.AsInt(); ok {
			fc.TimeoutSeconds = int(i)
		}
	}
	return fc
}
