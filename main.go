package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
	"github.com/launchdarkly/spec-harness/framework/parallel"
	"github.com/launchdarkly/spec-harness/framework/progress"
	"github.com/launchdarkly/spec-harness/suites"
)

// workerDebugEnvVar tells a worker process to write debug logging to its stderr.
const workerDebugEnvVar = "SPEC_HARNESS_DEBUG"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, ok := parallel.WorkerID(); ok {
		if err := runWorker(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Worker error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var params commandParams
	if !params.Read(os.Args) {
		os.Exit(1)
	}

	results, err := run(ctx, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !results.OK() {
		os.Exit(1)
	}
}

// runWorker serves the process-pool protocol. Stdout carries the protocol, so nothing else may
// write to it.
func runWorker(ctx context.Context) error {
	debugLogger := framework.NullLogger()
	if os.Getenv(workerDebugEnvVar) != "" {
		debugLogger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return parallel.ServeWorker(ctx, suites.All(), os.Stdin, os.Stdout, debugLogger)
}

func run(ctx context.Context, params commandParams) (*ldspec.Results, error) {
	if params.skipFile != "" {
		if err := loadSuppressions(&params); err != nil {
			return nil, err
		}
	}

	mainDebugLogger := framework.NullLogger()
	if params.debugAll {
		mainDebugLogger = log.New(os.Stderr, "", log.LstdFlags)
	}

	runID := uuid.NewString()
	selection := params.selection()
	roots, err := suites.NewRegistry().Discover(selection, ldspec.BuildOptions{Dedupe: params.dedupe})
	if err != nil {
		return nil, err
	}
	fmt.Printf("spec-harness run %s: %s\n", runID, selection)

	sinks := []ldspec.ReportSink{&ldspec.ConsoleSink{
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
		Verbose:              params.verbose,
	}}
	if params.jUnitFile != "" {
		sinks = append(sinks, ldspec.NewJUnitSink(params.jUnitFile, map[string]string{
			"run.id":    runID,
			"selection": selection.String(),
		}))
	}
	if params.progressAddr != "" {
		server := progress.NewServer(runID, mainDebugLogger)
		addr, err := server.Start(params.progressAddr)
		if err != nil {
			return nil, fmt.Errorf("cannot start progress server: %w", err)
		}
		defer func() { _ = server.Close() }()
		fmt.Printf("Progress events at http://%s/events\n", addr)
		sinks = append(sinks, server)
	}
	sink := ldspec.ProtectEach(mainDebugLogger, sinks...)

	var results ldspec.Results
	var runErr error
	if params.parallel > 0 {
		var env []string
		if params.debugAll {
			env = append(env, workerDebugEnvVar+"=1")
		}
		coordinator := &parallel.Coordinator{
			Workers:       params.parallel,
			Launcher:      parallel.ExecLauncher{Env: env},
			FlushInterval: params.flushInterval,
			Sink:          sink,
			Dedupe:        params.dedupe,
			DryRun:        params.dryRun,
			DebugLogger:   mainDebugLogger,
		}
		results, runErr = coordinator.Run(ctx, roots)
	} else {
		scheduler := ldspec.NewScheduler(ldspec.SchedulerConfig{
			Concurrency: params.concurrency,
			DryRun:      params.dryRun,
			Sink:        sink,
			DebugLogger: mainDebugLogger,
		})
		results = scheduler.Run(ctx, roots)
	}

	fmt.Println()
	logErr := sink.EndRun(results)

	if params.recordFailures != "" {
		if err := recordFailures(params.recordFailures, results); err != nil {
			return nil, err
		}
	}

	if err := errors.Join(runErr, logErr); err != nil {
		return nil, fmt.Errorf("error completing run: %w", err)
	}
	return &results, nil
}

func recordFailures(path string, results ldspec.Results) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create failure file: %w", err)
	}
	for _, c := range results.Failures {
		fmt.Fprintln(f, c.ID)
	}
	return f.Close()
}

// loadSuppressions reads case IDs, such as a file written by -record-failures, and excludes
// each of them from the run.
func loadSuppressions(params *commandParams) error {
	file, err := os.Open(params.skipFile)
	if err != nil {
		return fmt.Errorf("cannot open provided suppression file: %w", err)
	}
	defer func() { _ = file.Close() }()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Ignore blank lines
		if line == "" {
			continue
		}
		if err := params.filters.MustNotMatch.Set(anchoredPath(line)); err != nil {
			return fmt.Errorf("cannot parse suppression: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("while processing suppression file: %w", err)
	}
	return nil
}

// anchoredPath turns a literal case ID into a path pattern matching exactly that ID.
func anchoredPath(id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		parts[i] = "^" + regexp.QuoteMeta(p) + "$"
	}
	return strings.Join(parts, "/")
}
