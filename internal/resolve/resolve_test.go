package resolve

import (
	"os"
	"testing"

	"github.com/ericwastaken/payloadstash/internal/operators"
	"github.com/ericwastaken/payloadstash/internal/secrets"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

func parseDoc(t *testing.T, yamlDoc string) valuetree.Value {
	t.Helper()
	v, err := valuetree.FromYAML([]byte(yamlDoc))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	return v
}

func TestValidateMinimalDocOK(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - Ping: {Method: GET, URLPath: /health}
`)
	result := Validate(doc, nil)
	if !result.OK() {
		t.Fatalf("expected valid document, got errors: %v", result.Errors)
	}
}

func TestValidateRejectsURLRootInRequest(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - Ping: {Method: GET, URLPath: /health, URLRoot: https://evil}
`)
	result := Validate(doc, nil)
	if result.OK() {
		t.Fatalf("expected validation error for URLRoot inside request")
	}
}

func TestValidateSuggestsMethodTypo(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - Ping: {Method: GTE, URLPath: /health}
`)
	result := Validate(doc, nil)
	found := false
	for _, e := range result.Errors {
		if e.Hint == "GET" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a GET hint for typo'd method, got %+v", result.Errors)
	}
}

func TestBuildForcedOverridesDefaults(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
    Body: {team: blue}
  Forced:
    Body: {team: green}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - Ping: {Method: POST, URLPath: /health}
`)
	plan, err := Build(doc, nil, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	req := plan.Sequences[0].Requests[0]
	team, _ := req.Body.Get("team")
	if s, _ := team.AsString(); s != "green" {
		t.Fatalf("expected Forced to win, got %q", s)
	}
}

func TestBuildExplicitNullDisablesRetry(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
    Retry: {Attempts: 3, BackoffStrategy: fixed, BackoffSeconds: 0.1}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - A: {Method: GET, URLPath: /a}
        - B: {Method: GET, URLPath: /b, Retry: null}
`)
	plan, err := Build(doc, nil, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	a := plan.Sequences[0].Requests[0]
	b := plan.Sequences[0].Requests[1]
	if !a.Retry.IsSet() {
		t.Fatalf("expected request A to inherit Defaults.Retry")
	}
	if !b.Retry.Disabled {
		t.Fatalf("expected request B's explicit null to disable retry, got %+v", b.Retry)
	}
}

func TestBuildDeferredDynamicPreservedAsMarker(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - Ping:
            Method: POST
            URLPath: /health
            Body:
              id:
                $dynamic: uid
                when: request
dynamics:
  patterns:
    uid:
      template: "u-${hex:4}"
`)
	result := Validate(doc, nil)
	if !result.OK() {
		t.Fatalf("expected valid doc, got %v", result.Errors)
	}
	plan, err := Build(doc, nil, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	body := plan.Sequences[0].Requests[0].Body
	id, ok := body.Get("id")
	if !ok {
		t.Fatalf("expected id field in body")
	}
	if !id.Has(operators.KeyDeferred) {
		t.Fatalf("expected id to be a deferred marker, got %+v", id)
	}
}

func TestValidateUnknownDynamicPattern(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - Ping:
            Method: GET
            URLPath: /health
            Headers:
              X-Id: {$dynamic: missing}
dynamics:
  patterns:
    other:
      template: "x"
`)
	result := Validate(doc, nil)
	if result.OK() {
		t.Fatalf("expected an unknown pattern error")
	}
}

func TestValidateMissingSuppliedSecret(t *testing.T) {
	doc := parseDoc(t, `
StashConfig:
  Name: Mini
  Defaults:
    URLRoot: https://x/y
    FlowControl: {DelaySeconds: 0, TimeoutSeconds: 5}
  Sequences:
    - Name: Solo
      Type: Sequential
      Requests:
        - Ping:
            Method: GET
            URLPath: /health
            Headers:
              Authorization: {$secrets: API_KEY}
`)
	m, err := secrets.Load(writeTempSecrets(t, "OTHER=x\n"))
	if err != nil {
		t.Fatal(err)
	}
	result := Validate(doc, m)
	if result.OK() {
		t.Fatalf("expected a missing-secret error")
	}
}

func writeTempSecrets(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/secrets.env"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
