package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

type commandParams struct {
	configFile     string
	concurrency    int
	parallel       int
	module         string
	tests          stringListFlag
	include        metadataFlag
	exclude        metadataFlag
	filters        ldspec.RegexFilters
	skipFile       string
	recordFailures string
	dryRun         bool
	dedupe         bool
	verbose        bool
	debug          bool
	debugAll       bool
	jUnitFile      string
	progressAddr   string
	flushInterval  time.Duration
}

func (c *commandParams) Read(args []string) bool {
	if err := c.parse(args, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		return false
	}
	return true
}

func (c *commandParams) parse(args []string, errOut io.Writer) error {
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&c.configFile, "config", "", "read run options from a YAML file; flags override it")
	fs.IntVar(&c.concurrency, "concurrency", 1, "default number of cases and hooks that may run at once")
	fs.IntVar(&c.parallel, "parallel", 0, "run cases in this many worker processes instead of in this process")
	fs.StringVar(&c.module, "module", "", "run only specs whose qualified name contains this string")
	fs.Var(&c.tests, "tests", "comma-separated case names to run")
	fs.Var(&c.include, "select", "run only cases with metadata key=value (may be repeated)")
	fs.Var(&c.exclude, "exclude", "do not run cases with metadata key=value (may be repeated)")
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select cases to run")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select cases not to run")
	fs.StringVar(&c.skipFile, "skip-from", "", "file of case IDs, one per line, not to run")
	fs.StringVar(&c.recordFailures, "record-failures", "", "write the IDs of failed cases to this file")
	fs.BoolVar(&c.dryRun, "dry-run", false, "report every runnable case as passed without running anything")
	fs.BoolVar(&c.dedupe, "dedupe", false, "run only one case for dataset entries with identical arguments")
	fs.BoolVar(&c.verbose, "verbose", false, "print every spec and passing case")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging for failed cases")
	fs.BoolVar(&c.debugAll, "debug-all", false, "enable debug logging for all cases")
	fs.StringVar(&c.jUnitFile, "junit", "", "write JUnit XML output to the specified path")
	fs.StringVar(&c.progressAddr, "progress-addr", "", "serve live progress on this address, e.g. localhost:8112")
	fs.DurationVar(&c.flushInterval, "flush-interval", 0, "how long workers hold results before sending them")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if c.configFile != "" {
		config, err := readRunConfig(c.configFile)
		if err != nil {
			return err
		}
		explicit := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		if err := config.applyTo(c, explicit); err != nil {
			return fmt.Errorf("in %s: %w", c.configFile, err)
		}
	}
	if c.concurrency < 1 {
		return errors.New("-concurrency must be at least 1")
	}
	if c.parallel < 0 {
		return errors.New("-parallel cannot be negative")
	}
	return nil
}

func (c *commandParams) selection() ldspec.Selection {
	return ldspec.Selection{
		Module:    c.module,
		TestNames: c.tests,
		Include:   c.include.metadata,
		Exclude:   c.exclude.metadata,
		Paths:     c.filters,
	}
}

// stringListFlag accepts comma-separated values, and can be repeated.
type stringListFlag []string

func (s stringListFlag) String() string { return strings.Join(s, ",") }

func (s *stringListFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*s = append(*s, v)
		}
	}
	return nil
}

// metadataFlag accepts key=value, and can be repeated. A value that is valid JSON is used as
// that JSON value, so -select retries=3 matches the number 3; anything else is a string.
type metadataFlag struct {
	metadata ldspec.Metadata
}

func (m metadataFlag) String() string {
	parts := make([]string, 0, len(m.metadata))
	for k, v := range m.metadata {
		parts = append(parts, k+"="+v.JSONString())
	}
	return strings.Join(parts, ",")
}

func (m *metadataFlag) Set(value string) error {
	key, raw, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("%q is not in the form key=value", value)
	}
	m.put(key, parseMetadataValue(raw))
	return nil
}

func (m *metadataFlag) put(key string, value ldvalue.Value) {
	if m.metadata == nil {
		m.metadata = make(ldspec.Metadata)
	}
	m.metadata[key] = value
}

func parseMetadataValue(raw string) ldvalue.Value {
	if v := ldvalue.Parse([]byte(raw)); !v.IsNull() || raw == "null" {
		return v
	}
	return ldvalue.String(raw)
}
