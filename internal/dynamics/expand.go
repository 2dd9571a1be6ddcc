// Package dynamics implements the Dynamic Expander (spec.md §4.1): a pure
// function of (template, sets, secrets) that expands `${...}` placeholders
// embedded in named patterns.
//
// Grounded on internal/attacker/variables.go's `{{...}}` scanner and its
// regex_gen/random_string/random_digits_N placeholder family, generalized
// from a hand-rolled charset loop to github.com/lucasjones/reggen-generated
// bounded-repeat character classes.
package dynamics

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucasjones/reggen"

	"github.com/ericwastaken/payloadstash/internal/secrets"
)

// Sets maps a named set to its ordered list of choices, per spec.md §3
// "Pattern definition".
type Sets map[string][]string

// Expander expands `${...}` placeholders in a template string.
type Expander struct {
	sets     Sets
	resolver *secrets.Resolver
}

// New builds an Expander. resolver may be nil if the template is known not
// to reference `secrets:KEY` (an attempt to do so then fails fatally).
func New(sets Sets, resolver *secrets.Resolver) *Expander {
	return &Expander{sets: sets, resolver: resolver}
}

// Expand scans template left to right for `${...}` placeholders and
// replaces each recognized form per the table in spec.md §4.1. Unknown
// forms are emitted verbatim, with no error.
func (e *Expander) Expand(template string) (string, error) {
	if !strings.Contains(template, "${") {
		return template, nil
	}

	var sb strings.Builder
	sb.Grow(len(template))
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "${")
		if start == -1 {
			sb.WriteString(template[i:])
			break
		}
		start += i
		sb.WriteString(template[i:start])

		end := strings.IndexByte(template[start+2:], '}')
		if end == -1 {
			sb.WriteString(template[start:])
			break
		}
		end += start + 2

		spec := template[start+2 : end]
		rendered, handled, err := e.expandOne(spec)
		if err != nil {
			return "", fmt.Errorf("expand placeholder ${%s}: %w", spec, err)
		}
		if handled {
			sb.WriteString(rendered)
		} else {
			sb.WriteString(template[start : end+1])
		}
		i = end + 1
	}
	return sb.String(), nil
}

func (e *Expander) expandOne(spec string) (result string, handled bool, err error) {
	kind, arg, hasArg := strings.Cut(spec, ":")

	switch {
	case kind == "hex" && hasArg:
		return e.charClass("[0-9A-F]", arg)
	case kind == "alphanumeric" && hasArg:
		return e.charClass("[0-9A-Za-z]", arg)
	case kind == "numeric" && hasArg:
		return e.charClass("[0-9]", arg)
	case kind == "alpha" && hasArg:
		return e.charClass("[A-Za-z]", arg)
	case spec == "uuidv4":
		return uuid.New().String(), true, nil
	case kind == "choice" && hasArg:
		return e.choice(arg)
	case spec == "timestamp":
		return formatTimestamp("iso_8601"), true, nil
	case kind == "timestamp":
		return formatTimestamp(arg), true, nil
	case spec == "@timestamp":
		return formatTimestamp("iso_8601"), true, nil
	case kind == "@timestamp":
		return formatTimestamp(arg), true, nil
	case kind == "secrets" && hasArg:
		return e.secret(arg)
	default:
		return "", false, nil
	}
}

// Generate produces a value for a single bare placeholder body (e.g.
// "hex:8") outside of `${...}` template scanning. Unlike Expand, an
// unrecognized body is an error rather than being returned verbatim.
func (e *Expander) Generate(spec string) (string, error) {
	out, handled, err := e.expandOne(spec)
	if err != nil {
		return "", err
	}
	if !handled {
		return "", fmt.Errorf("unrecognized dynamic pattern %q", spec)
	}
	return out, nil
}

func (e *Expander) charClass(class, arg string) (string, bool, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return "", false, nil // not a recognized placeholder; leave verbatim
	}
	if n == 0 {
		return "", true, nil
	}
	pattern := fmt.Sprintf("%s{%d}", class, n)
	out, err := reggen.Generate(pattern, n)
	if err != nil {
		return "", true, fmt.Errorf("generate %q: %w", pattern, err)
	}
	return out, true, nil
}

func (e *Expander) choice(setName string) (string, bool, error) {
	options, ok := e.sets[setName]
	if !ok || len(options) == 0 {
		return "", true, fmt.Errorf("set %q is not defined", setName)
	}
	return options[rand.IntN(len(options))], true, nil
}

func (e *Expander) secret(key string) (string, bool, error) {
	if e.resolver == nil {
		return "", true, fmt.Errorf("secret %q referenced but no secrets resolver is configured", key)
	}
	val, err := e.resolver.Resolve(key)
	if err != nil {
		return "", true, err
	}
	return val, true, nil
}

// FormatTimestamp renders the current instant per the iso_8601/epoch_ms/
// epoch_s vocabulary, exported for internal/operators' `$timestamp`/`$func`
// operator nodes.
func FormatTimestamp(format string) string { return formatTimestamp(format) }

func formatTimestamp(format string) string {
	now := time.Now().UTC()
	switch strings.TrimSpace(format) {
	case "", "iso_8601":
		return now.Format(time.RFC3339)
	case "epoch_ms":
		return strconv.FormatInt(now.UnixMilli(), 10)
	case "epoch_s":
		return strconv.FormatInt(now.Unix(), 10)
	default:
		return now.Format(time.RFC3339)
	}
}
