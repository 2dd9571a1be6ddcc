// Package assertion evaluates the response checks a request may carry
// (SPEC_FULL.md supplement 1): contains, regex, and json_path. An
// assertion failure does not trigger a retry — it is recorded alongside
// the result and folded into the exit classification only.
//
// Adapted from internal/validator/assertions.go, restructured around this
// repo's models.Assertion (no precompiled Regex field is carried on the
// type, since assertions here are evaluated once per terminal response
// rather than once per load-test hit). Libraries: github.com/tidwall/gjson
// for json_path (byte-level, no full unmarshal); stdlib regexp/bytes for
// regex/contains, matching the teacher's own choice for those two.
package assertion

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ericwastaken/payloadstash/internal/models"
)

// Failure describes the first assertion that did not hold.
type Failure struct {
	Type     models.AssertionType
	Path     string
	Expected string
	Actual   string
	Message  string
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	switch f.Type {
	case models.AssertContains:
		return fmt.Sprintf("assertion failed: response body does not contain %q", f.Expected)
	case models.AssertRegex:
		return fmt.Sprintf("assertion failed: response body does not match regex %q", f.Expected)
	case models.AssertJSONPath:
		if f.Expected != "" {
			return fmt.Sprintf("assertion failed: json path %q expected %q, got %q", f.Path, f.Expected, f.Actual)
		}
		return fmt.Sprintf("assertion failed: json path %q not found", f.Path)
	default:
		return fmt.Sprintf("assertion failed: %s", f.Expected)
	}
}

// Evaluate checks every assertion against body in order and returns the
// first failure, or nil if all passed.
func Evaluate(body []byte, assertions []models.Assertion) error {
	for _, a := range assertions {
		var err error
		switch a.Type {
		case models.AssertContains:
			err = evalContains(body, a)
		case models.AssertRegex:
			err = evalRegex(body, a)
		case models.AssertJSONPath:
			err = evalJSONPath(body, a)
		default:
			err = evalContains(body, a)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func evalContains(body []byte, a models.Assertion) error {
	if bytes.Contains(body, []byte(a.Value)) {
		return nil
	}
	return &Failure{Type: models.AssertContains, Expected: a.Value, Actual: truncate(body, 100), Message: a.Message}
}

func evalRegex(body []byte, a models.Assertion) error {
	re, err := regexp.Compile(a.Value)
	if err != nil {
		return &Failure{Type: models.AssertRegex, Expected: a.Value, Message: fmt.Sprintf("invalid regex: %v", err)}
	}
	if re.Match(body) {
		return nil
	}
	return &Failure{Type: models.AssertRegex, Expected: a.Value, Actual: truncate(body, 100), Message: a.Message}
}

func evalJSONPath(body []byte, a models.Assertion) error {
	path := a.Path
	if path == "" {
		path = a.Value
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return &Failure{Type: models.AssertJSONPath, Path: path, Expected: a.Value, Message: a.Message}
	}
	if a.Value != "" && a.Path != "" {
		expected := strings.TrimSpace(a.Value)
		actual := strings.TrimSpace(result.String())
		if actual != expected {
			return &Failure{Type: models.AssertJSONPath, Path: path, Expected: expected, Actual: actual, Message: a.Message}
		}
	}
	return nil
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
