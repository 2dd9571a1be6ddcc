// Package orchestrator implements the Run Orchestrator: it composes
// resolve -> scheduler -> executor -> artifact into one run, owns the run
// directory, and returns the exit classification SPEC_FULL.md's amended
// §6 specifies.
//
// Grounded on cmd/sayl/main.go's top-level composition (load -> validate
// -> run -> report).
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ericwastaken/payloadstash/internal/artifact"
	"github.com/ericwastaken/payloadstash/internal/assertion"
	"github.com/ericwastaken/payloadstash/internal/circuitbreaker"
	"github.com/ericwastaken/payloadstash/internal/executor"
	"github.com/ericwastaken/payloadstash/internal/htmlreport"
	"github.com/ericwastaken/payloadstash/internal/models"
	"github.com/ericwastaken/payloadstash/internal/resolve"
	"github.com/ericwastaken/payloadstash/internal/scheduler"
	"github.com/ericwastaken/payloadstash/internal/secrets"
	"github.com/ericwastaken/payloadstash/internal/stats"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

// Exit codes per spec.md §6, amended by SPEC_FULL.md's "AMENDED §6".
const (
	ExitSuccess        = 0
	ExitPartialFailure = 1
	ExitValidationOrIO = 9
)

// ValidationFailure wraps a resolve.ValidationResult so callers can tell a
// schema failure (exit 9, no run directory written) apart from an I/O
// failure mid-run.
type ValidationFailure struct {
	Result *resolve.ValidationResult
}

func (e *ValidationFailure) Error() string { return e.Result.Err().Error() }

// Options configures one run.
type Options struct {
	ConfigPath  string
	SecretsPath string
	OutDir      string
	DryRun      bool
	// OnProgress, if non-nil, is invoked (serialized) after every outcome —
	// the CLI wires this to the TUI dashboard.
	OnProgress func(completed, total, seqIndex, seqCount int, seqName string, success, failed int, outcome models.RequestOutcome)
}

// Result is the outcome of a full run, used by the CLI to pick an exit
// code and print a closing summary.
type Result struct {
	ExitCode  int
	RunDir    string
	Plan      *resolve.Plan
	Summary   stats.Summary
	TrippedBy string // non-empty if the circuit breaker stopped the run early
}

// Run executes the full validate -> resolve -> schedule -> execute ->
// write pipeline and returns the exit classification.
func Run(ctx context.Context, opts Options) (*Result, error) {
	root, err := resolve.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	var secretsMap *secrets.Map
	redact := true
	if opts.SecretsPath != "" {
		secretsMap, err = secrets.Load(opts.SecretsPath)
		if err != nil {
			return nil, err
		}
		redact = false
	}

	vr := resolve.Validate(root, secretsMap)
	if !vr.OK() {
		return nil, &ValidationFailure{Result: vr}
	}

	plan, err := resolve.Build(root, secretsMap, redact)
	if err != nil {
		return nil, err
	}

	runTimestamp := time.Now().UTC().Format("20060102T150405Z")
	configBase := strings.TrimSuffix(filepath.Base(opts.ConfigPath), filepath.Ext(opts.ConfigPath))
	runDir := filepath.Join(opts.OutDir, plan.Name, runTimestamp)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	logger, err := artifact.OpenLogger(filepath.Join(runDir, configBase+"-log.txt"))
	if err != nil {
		return nil, err
	}
	defer logger.Close()

	totalRequests := 0
	for _, seq := range plan.Sequences {
		totalRequests += len(seq.Requests)
	}
	logger.RunStarted(plan.Name, len(plan.Sequences), totalRequests)

	if err := writeResolvedDoc(runDir, configBase, plan.ResolvedDoc); err != nil {
		return nil, err
	}
	logger.ResolutionNotice(fmt.Sprintf("wrote %s-resolved.yml", configBase))

	breaker, err := circuitbreaker.New(plan.StopIf, plan.MinSamples)
	if err != nil {
		return nil, err
	}

	collector := stats.New()
	exec := executor.New(plan.DeferredResolver, opts.DryRun)

	completed, successCount, failedCount := 0, 0, 0

	execFn := func(ctx context.Context, req models.EffectiveRequest) models.RequestOutcome {
		outcome := exec.Execute(ctx, req)
		if len(req.Assertions) > 0 && outcome.Final.Status >= 0 && !outcome.DryRun {
			outcome.AssertionError = assertion.Evaluate(outcome.Final.BodyBytes, req.Assertions)
		}
		if _, werr := artifact.WriteResponseBody(runDir, outcome); werr != nil {
			logger.NonFatalError("write response body", werr)
		}
		return outcome
	}

	onOutcome := func(o models.RequestOutcome) {
		collector.Observe(o)
		breaker.Observe(o)
		completed++
		if o.Success() {
			successCount++
		} else {
			failedCount++
		}
		logger.RequestCompleted(o.Request.SequenceName, o.Request.RequestKey, o.Final.Status, o.Final.Elapsed, o.Attempts)
		if opts.OnProgress != nil {
			opts.OnProgress(completed, totalRequests, o.Request.SequenceIndex, len(plan.Sequences), o.Request.SequenceName, successCount, failedCount, o)
		}
	}

	sequences := make([]scheduler.Sequence, 0, len(plan.Sequences))
	for _, sp := range plan.Sequences {
		sequences = append(sequences, scheduler.Sequence{
			Name: sp.Name, Type: sp.Type, ConcurrencyLimit: sp.ConcurrencyLimit, Requests: sp.Requests,
		})
	}

	sched := scheduler.New(execFn, time.Duration(plan.DefaultsDelaySeconds)*time.Second, onOutcome, breaker.ShouldStop)
	outcomes := sched.Run(ctx, sequences)

	if err := artifact.WriteResultsCSV(filepath.Join(runDir, configBase+"-results.csv"), outcomes); err != nil {
		return nil, err
	}

	summary := collector.Snapshot()
	if err := htmlreport.Write(filepath.Join(runDir, configBase+"-summary.html"), plan.Name, runTimestamp, summary); err != nil {
		logger.NonFatalError("write summary html", err)
	}

	exitCode := ExitSuccess
	trippedBy := breaker.Reason()
	if trippedBy != "" {
		exitCode = ExitPartialFailure
		logger.NonFatalError("circuit breaker tripped", fmt.Errorf("%s", trippedBy))
	}
	for _, o := range outcomes {
		if o.Request.RequestKey == "" {
			// zero-value placeholder left by a worker group the circuit
			// breaker stopped mid-dispatch (scheduler.runConcurrent).
			continue
		}
		if !o.Success() {
			exitCode = ExitPartialFailure
			break
		}
	}

	logger.RunEnded(exitCode)

	return &Result{ExitCode: exitCode, RunDir: runDir, Plan: plan, Summary: summary, TrippedBy: trippedBy}, nil
}

func writeResolvedDoc(runDir, configBase string, doc valuetree.Value) error {
	data, err := valuetree.ToYAML(doc)
	if err != nil {
		return fmt.Errorf("serialize resolved document: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, configBase+"-resolved.yml"), data, 0o644)
}
