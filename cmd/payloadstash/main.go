// Command payloadstash resolves a declarative fetch-and-archive document
// and runs it, archiving every response, a results CSV, a run log, and an
// HTML summary into its own timestamped run directory.
//
// Grounded on cmd/sayl/main.go's flag-based wiring (one FlagSet per
// subcommand, graceful-shutdown signal handling, bubbletea program launch).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/ericwastaken/payloadstash/internal/models"
	"github.com/ericwastaken/payloadstash/internal/orchestrator"
	"github.com/ericwastaken/payloadstash/internal/resolve"
	"github.com/ericwastaken/payloadstash/internal/secrets"
	"github.com/ericwastaken/payloadstash/internal/tui"
	"github.com/ericwastaken/payloadstash/internal/valuetree"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(orchestrator.ExitValidationOrIO)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "validate":
		os.Exit(validateCommand(os.Args[2:]))
	case "resolve":
		os.Exit(resolveCommand(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
		os.Exit(orchestrator.ExitSuccess)
	default:
		usage()
		os.Exit(orchestrator.ExitValidationOrIO)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: payloadstash <run|validate|resolve> -config FILE [flags]")
}

func validateCommand(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a stash YAML document")
	fs.StringVar(configPath, "f", "", "path to a stash YAML document (shorthand)")
	secretsPath := fs.String("secrets", "", "path to a secrets file")
	fs.Parse(args)
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "validate: -config is required")
		return orchestrator.ExitValidationOrIO
	}

	root, err := resolve.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return orchestrator.ExitValidationOrIO
	}

	var secretsMap *secrets.Map
	if *secretsPath != "" {
		secretsMap, err = secrets.Load(*secretsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return orchestrator.ExitValidationOrIO
		}
	}

	result := resolve.Validate(root, secretsMap)
	if result.OK() {
		fmt.Println("valid")
		return orchestrator.ExitSuccess
	}
	fmt.Fprintln(os.Stderr, result.Err())
	return orchestrator.ExitValidationOrIO
}

func resolveCommand(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a stash YAML document")
	fs.StringVar(configPath, "f", "", "path to a stash YAML document (shorthand)")
	secretsPath := fs.String("secrets", "", "path to a secrets file")
	fs.Parse(args)
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "resolve: -config is required")
		return orchestrator.ExitValidationOrIO
	}

	root, err := resolve.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return orchestrator.ExitValidationOrIO
	}

	var secretsMap *secrets.Map
	redact := true
	if *secretsPath != "" {
		secretsMap, err = secrets.Load(*secretsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return orchestrator.ExitValidationOrIO
		}
		redact = false
	}

	if vr := resolve.Validate(root, secretsMap); !vr.OK() {
		fmt.Fprintln(os.Stderr, vr.Err())
		return orchestrator.ExitValidationOrIO
	}

	plan, err := resolve.Build(root, secretsMap, redact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return orchestrator.ExitValidationOrIO
	}

	data, err := valuetree.ToYAML(plan.ResolvedDoc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return orchestrator.ExitValidationOrIO
	}
	os.Stdout.Write(data)
	return orchestrator.ExitSuccess
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a stash YAML document")
	fs.StringVar(configPath, "f", "", "path to a stash YAML document (shorthand)")
	secretsPath := fs.String("secrets", "", "path to a secrets file")
	outDir := fs.String("out", "./payloadstash-runs", "directory to write run artifacts under")
	dryRun := fs.Bool("dry-run", false, "record what would be sent without issuing any HTTP call")
	noTUI := fs.Bool("no-tui", false, "print plain progress lines to stderr instead of the dashboard")
	yes := fs.Bool("yes", false, "skip the pre-run confirmation prompt")
	fs.Parse(args)
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "run: -config is required")
		return orchestrator.ExitValidationOrIO
	}

	root, err := resolve.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return orchestrator.ExitValidationOrIO
	}

	var secretsMap *secrets.Map
	if *secretsPath != "" {
		secretsMap, err = secrets.Load(*secretsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return orchestrator.ExitValidationOrIO
		}
	}

	vr := resolve.Validate(root, secretsMap)
	if !vr.OK() {
		fmt.Fprintln(os.Stderr, vr.Err())
		return orchestrator.ExitValidationOrIO
	}

	redact := *secretsPath == ""
	plan, err := resolve.Build(root, secretsMap, redact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return orchestrator.ExitValidationOrIO
	}

	if !*yes && !confirmRun(plan) {
		fmt.Println("aborted")
		return orchestrator.ExitSuccess
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nreceived interrupt, shutting down")
		cancel()
	}()

	totalRequests := 0
	for _, seq := range plan.Sequences {
		totalRequests += len(seq.Requests)
	}

	var program *tea.Program
	if !*noTUI {
		program = tea.NewProgram(tui.NewModel(plan.Name, totalRequests, len(plan.Sequences)))
		go func() {
			if _, err := program.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
			}
		}()
	}

	result, runErr := orchestrator.Run(ctx, orchestrator.Options{
		ConfigPath:  *configPath,
		SecretsPath: *secretsPath,
		OutDir:      *outDir,
		DryRun:      *dryRun,
		OnProgress:  progressReporter(program, *noTUI),
	})

	exitCode := orchestrator.ExitValidationOrIO
	if runErr == nil {
		exitCode = result.ExitCode
	}
	if program != nil {
		program.Send(tui.Done{ExitCode: exitCode})
	}

	if runErr != nil {
		if vf, ok := runErr.(*orchestrator.ValidationFailure); ok {
			fmt.Fprintln(os.Stderr, vf.Result.Err())
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		}
		return orchestrator.ExitValidationOrIO
	}

	if *noTUI {
		fmt.Printf("run complete: %s (exit %d)\n", result.RunDir, result.ExitCode)
	}
	return result.ExitCode
}

// progressReporter drives the TUI dashboard when enabled, or prints one
// plain line per completed request to stderr otherwise.
func progressReporter(program *tea.Program, noTUI bool) func(completed, total, seqIndex, seqCount int, seqName string, success, failed int, outcome models.RequestOutcome) {
	return func(completed, total, seqIndex, seqCount int, seqName string, success, failed int, outcome models.RequestOutcome) {
		if program != nil {
			program.Send(tui.Progress{
				SequenceIndex:  seqIndex,
				SequenceCount:  seqCount,
				SequenceName:   seqName,
				Completed:      completed,
				Total:          total,
				Success:        success,
				Failed:         failed,
				LastRequestKey: outcome.Request.RequestKey,
				LastStatus:     outcome.Final.Status,
			})
			return
		}
		if noTUI {
			fmt.Fprintf(os.Stderr, "[%d/%d] sequence %d/%d %s: %s status=%d\n",
				completed, total, seqIndex, seqCount, seqName, outcome.Request.RequestKey, outcome.Final.Status)
		}
	}
}

func confirmRun(plan *resolve.Plan) bool {
	totalRequests := 0
	for _, seq := range plan.Sequences {
		totalRequests += len(seq.Requests)
	}
	confirmed := true
	prompt := huh.NewConfirm().
		Title(fmt.Sprintf("Run %q: %d sequence(s), %d request(s)?", plan.Name, len(plan.Sequences), totalRequests)).
		Affirmative("Run").
		Negative("Cancel").
		Value(&confirmed)
	if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil {
		return false
	}
	return confirmed
}
