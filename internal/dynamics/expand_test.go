package dynamics

import (
	"os"
	"regexp"
	"testing"

	"github.com/ericwastaken/payloadstash/internal/secrets"
)

func TestExpandCharClasses(t *testing.T) {
	e := New(nil, nil)
	cases := map[string]*regexp.Regexp{
		"${hex:8}":          regexp.MustCompile(`^[0-9A-F]{8}$`),
		"${alphanumeric:6}": regexp.MustCompile(`^[0-9A-Za-z]{6}$`),
		"${numeric:4}":      regexp.MustCompile(`^[0-9]{4}$`),
		"${alpha:5}":        regexp.MustCompile(`^[A-Za-z]{5}$`),
	}
	for tmpl, want := range cases {
		out, err := e.Expand(tmpl)
		if err != nil {
			t.Fatalf("Expand(%q): %v", tmpl, err)
		}
		if !want.MatchString(out) {
			t.Fatalf("Expand(%q) = %q, want match of %s", tmpl, out, want)
		}
	}
}

func TestExpandZeroLength(t *testing.T) {
	e := New(nil, nil)
	out, err := e.Expand("prefix-${numeric:0}-suffix")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if out != "prefix--suffix" {
		t.Fatalf("got %q", out)
	}
}

func TestExpandUUID(t *testing.T) {
	e := New(nil, nil)
	out, err := e.Expand("${uuidv4}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	uuidRe := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRe.MatchString(out) {
		t.Fatalf("not a v4 uuid: %q", out)
	}
}

func TestExpandChoice(t *testing.T) {
	e := New(Sets{"colors": {"red"}}, nil)
	out, err := e.Expand("${choice:colors}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if out != "red" {
		t.Fatalf("got %q", out)
	}
}

func TestExpandChoiceUnknownSet(t *testing.T) {
	e := New(Sets{}, nil)
	if _, err := e.Expand("${choice:missing}"); err == nil {
		t.Fatalf("expected error for undefined set")
	}
}

func TestExpandUnknownPlaceholderVerbatim(t *testing.T) {
	e := New(nil, nil)
	out, err := e.Expand("value ${not_a_thing} here")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if out != "value ${not_a_thing} here" {
		t.Fatalf("got %q", out)
	}
}

func TestExpandSecret(t *testing.T) {
	m, err := writeSecrets(t, "API_KEY=topsecret\n")
	if err != nil {
		t.Fatal(err)
	}
	resolver := secrets.NewResolver(m, false)
	e := New(nil, resolver)
	out, err := e.Expand("${secrets:API_KEY}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if out != "topsecret" {
		t.Fatalf("got %q", out)
	}
}

func TestExpandSecretRedacted(t *testing.T) {
	resolver := secrets.NewResolver(secrets.Empty(), true)
	e := New(nil, resolver)
	out, err := e.Expand("${secrets:API_KEY}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if out != secrets.Sentinel {
		t.Fatalf("got %q", out)
	}
}

func TestExpandTimestampEpochMs(t *testing.T) {
	e := New(nil, nil)
	out, err := e.Expand("${timestamp:epoch_ms}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !regexp.MustCompile(`^\d{10,}$`).MatchString(out) {
		t.Fatalf("got %q", out)
	}
}

func writeSecrets(t *testing.T, content string) (*secrets.Map, error) {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/secrets.env"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, err
	}
	return secrets.Load(path)
}
