// Package executor implements the Request Executor (spec.md §4.7):
// assembling one HTTP call from an effective request, materializing any
// deferred operator markers immediately before send, driving the attempt
// loop through the Retry Controller, and producing a RequestOutcome.
//
// Grounded on internal/attacker/attacker.go's executeStep and its HTTP/2
// transport construction, carried over via golang.org/x/net/http2 exactly
// as the teacher configures it (automatic HTTP/1.1 fallback).
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/ericwastaken/payloadstash/internal/models"
	"github.com/ericwastaken/payloadstash/internal/operators"
	"github.com/ericwastaken/payloadstash/internal/retry"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// Executor sends one effective request, with retries, per spec.md §4.7.
type Executor struct {
	client   *http.Client
	resolver *operators.Resolver
	dryRun   bool
}

// New builds an Executor. resolver materializes deferred operator markers
// immediately before each send attempt. When dryRun is true, Execute
// records the would-be action without issuing any HTTP call (spec.md §7
// "Dry-run mode").
func New(resolver *operators.Resolver, dryRun bool) *Executor {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	// Enables HTTP/2 when the server supports it via ALPN, falling back to
	// HTTP/1.1 transparently otherwise.
	_ = http2.ConfigureTransport(transport)
	return &Executor{
		client:   &http.Client{Transport: transport},
		resolver: resolver,
		dryRun:   dryRun,
	}
}

// Execute runs the full retry-bounded attempt loop for one effective
// request and returns its final outcome.
func (e *Executor) Execute(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome {
	startedAt := time.Now().UTC()

	if e.dryRun {
		return models.RequestOutcome{
			Request:   req,
			StartedAt: startedAt,
			DryRun:    true,
			Final:     models.AttemptResult{Status: 0, Kind: models.OutcomeSucceeded},
		}
	}

	policy := req.Retry.EffectiveRetry()
	final, attempts := retry.Run(policy, func(attempt int) models.AttemptResult {
		return e.sendOnce(ctx, req, policy)
	})

	return models.RequestOutcome{
		Request:   req,
		StartedAt: startedAt,
		Attempts:  attempts,
		Final:     final,
	}
}

func (e *Executor) sendOnce(ctx context.Context, req models.EffectiveRequest, policy *models.RetryPolicy) models.AttemptResult {
	start := time.Now()

	headers, body, query, err := e.materialize(req)
	if err != nil {
		return models.AttemptResult{Status: -1, Err: err, Elapsed: time.Since(start), Kind: models.OutcomeTerminalFailure}
	}

	httpHeaders, err := headersToHTTP(headers)
	if err != nil {
		return models.AttemptResult{Status: -1, Err: err, Elapsed: time.Since(start), Kind: models.OutcomeTerminalFailure}
	}

	bodyBytes, err := buildRequestBody(httpHeaders, body)
	if err != nil {
		return models.AttemptResult{Status: -1, Err: err, Elapsed: time.Since(start), Kind: models.OutcomeTerminalFailure}
	}

	target := joinURL(req.URLRoot, req.URLPath)
	target, err = applyQuery(target, query)
	if err != nil {
		return models.AttemptResult{Status: -1, Err: err, Elapsed: time.Since(start), Kind: models.OutcomeTerminalFailure}
	}

	timeout := req.FlowControl.Timeout()
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, string(req.Method), target, bodyReader)
	if err != nil {
		return models.AttemptResult{Status: -1, Err: err, Elapsed: time.Since(start), Kind: models.OutcomeTerminalFailure}
	}
	httpReq.Header = httpHeaders

	resp, err := e.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded)
		kind := retry.Classify(-1, err, timedOut, policy)
		return models.AttemptResult{Status: -1, Err: err, Elapsed: elapsed, Kind: kind}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	contentType := resp.Header.Get("Content-Type")
	kind := retry.Classify(resp.StatusCode, nil, false, policy)

	return models.AttemptResult{
		Status:      resp.StatusCode,
		BodyBytes:   respBody,
		ContentType: contentType,
		Elapsed:     elapsed,
		Err:         readErr,
		Kind:        kind,
	}
}

// materialize deep-copies Headers/Body/Query and resolves any remaining
// `$deferred` markers, fresh, for this attempt (spec.md §9 "mutation
// model").
func (e *Executor) materialize(req models.EffectiveRequest) (valuetree.Value, valuetree.Value, valuetree.Value, error) {
	headers, err := e.resolver.MaterializeDeferred(req.Headers.Clone())
	if err != nil {
		return valuetree.Value{}, valuetree.Value{}, valuetree.Value{}, err
	}
	body, err := e.resolver.MaterializeDeferred(req.Body.Clone())
	if err != nil {
		return valuetree.Value{}, valuetree.Value{}, valuetree.Value{}, err
	}
	query, err := e.resolver.MaterializeDeferred(req.Query.Clone())
	if err != nil {
		return valuetree.Value{}, valuetree.Value{}, valuetree.Value{}, err
	}
	return headers, body, query, nil
}

// headersToHTTP applies Headers case-insensitively, last-write-wins under
// case-folding (spec.md §4.7 item 4) — http.Header.Set already canonicalizes
// keys, so simply iterating in mapping order gives last-write-wins.
func headersToHTTP(headers valuetree.Value) (http.Header, error) {
	out := make(http.Header)
	if headers.Kind != valuetree.KindMapping {
		return out, nil
	}
	for _, e := range headers.Mapping {
		s, ok := e.Value.AsString()
		if !ok {
			continue
		}
		out.Set(e.Key, s)
	}
	return out, nil
}

// buildRequestBody implements spec.md §4.7 item 3: JSON by default, raw
// bytes when Content-Type explicitly names a non-JSON media type.
func buildRequestBody(headers http.Header, body valuetree.Value) ([]byte, error) {
	if body.IsNull() {
		return nil, nil
	}
	ct := headers.Get("Content-Type")
	if ct == "" || isJSONMediaType(ct) {
		encoded, err := json.Marshal(body.ToNative())
		if err != nil {
			return nil, err
		}
		if ct == "" {
			headers.Set("Content-Type", "application/json")
		}
		return encoded, nil
	}
	if s, ok := body.AsString(); ok {
		return []byte(s), nil
	}
	return json.Marshal(body.ToNative())
}

func isJSONMediaType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func joinURL(root, path string) string {
	return strings.TrimRight(root, "/") + "/" + strings.TrimLeft(path, "/")
}

func applyQuery(target string, query valuetree.Value) (string, error) {
	if query.IsNull() || query.Kind != valuetree.KindMapping || len(query.Mapping) == 0 {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	values := u.Query()
	for _, e := range query.Mapping {
		if s, ok := e.Value.AsString(); ok {
			values.Set(e.Key, s)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}
