package valuetree

import "testing"

func TestFromYAMLMergeKeyPrecedence(t *testing.T) {
	doc := []byte(`
defaults: &defaults
  team: blue
  region: us

service:
  <<: *defaults
  team: green
`)
	v, err := FromYAML(doc)
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	svc, ok := v.Get("service")
	if !ok {
		t.Fatalf("missing service key")
	}
	team, _ := svc.Get("team")
	if s, _ := team.AsString(); s != "green" {
		t.Fatalf("explicit key should win over merge, got %q", s)
	}
	region, ok := svc.Get("region")
	if !ok {
		t.Fatalf("merged key region missing")
	}
	if s, _ := region.AsString(); s != "us" {
		t.Fatalf("expected merged region=us, got %q", s)
	}
}

func TestFromYAMLExplicitNull(t *testing.T) {
	doc := []byte(`
retry: null
`)
	v, err := FromYAML(doc)
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if !v.Has("retry") {
		t.Fatalf("Has should report true for explicit null key")
	}
	r, _ := v.Get("retry")
	if !r.IsNull() {
		t.Fatalf("expected null value")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Mapping(MapEntry{Key: "a", Value: Sequence(String("x"))})
	clone := orig.Clone()
	clone.Mapping[0].Value.Sequence[0] = String("y")
	if orig.Mapping[0].Value.Sequence[0].Str != "x" {
		t.Fatalf("clone mutation leaked into original")
	}
}

func TestToYAMLRoundTrip(t *testing.T) {
	v := Mapping(
		MapEntry{Key: "name", Value: String("Mini")},
		MapEntry{Key: "count", Value: Int(3)},
	)
	out, err := ToYAML(v)
	if err != nil {
		t.Fatalf("ToYAML: %v", err)
	}
	reparsed, err := FromYAML(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	name, _ := reparsed.Get("name")
	if s, _ := name.AsString(); s != "Mini" {
		t.Fatalf("round trip lost name, got %q", s)
	}
}
