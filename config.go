package main

import (
	"fmt"
	"os"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"gopkg.in/yaml.v3"

	"github.com/launchdarkly/spec-harness/framework/opt"
)

// runConfig is the YAML form of the command line options. Every key is optional.
//
//	concurrency: 4
//	parallel: 2
//	select:
//	  speed: fast
//	flush_interval: 50ms
type runConfig struct {
	Concurrency    opt.Maybe[int]           `yaml:"concurrency"`
	Parallel       opt.Maybe[int]           `yaml:"parallel"`
	Module         opt.Maybe[string]        `yaml:"module"`
	Tests          []string                 `yaml:"tests"`
	Select         map[string]interface{}   `yaml:"select"`
	Exclude        map[string]interface{}   `yaml:"exclude"`
	Run            []string                 `yaml:"run"`
	Skip           []string                 `yaml:"skip"`
	DryRun         opt.Maybe[bool]          `yaml:"dry_run"`
	Dedupe         opt.Maybe[bool]          `yaml:"dedupe"`
	JUnit          opt.Maybe[string]        `yaml:"junit"`
	ProgressAddr   opt.Maybe[string]        `yaml:"progress_addr"`
	FlushInterval  opt.Maybe[time.Duration] `yaml:"flush_interval"`
	RecordFailures opt.Maybe[string]        `yaml:"record_failures"`
}

func readRunConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	var config runConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return &config, nil
}

// applyTo copies every option the file sets into params, except those named in explicit, which
// were given on the command line.
func (r *runConfig) applyTo(params *commandParams, explicit map[string]bool) error {
	setMaybe(&params.concurrency, r.Concurrency, !explicit["concurrency"])
	setMaybe(&params.parallel, r.Parallel, !explicit["parallel"])
	setMaybe(&params.module, r.Module, !explicit["module"])
	setMaybe(&params.dryRun, r.DryRun, !explicit["dry-run"])
	setMaybe(&params.dedupe, r.Dedupe, !explicit["dedupe"])
	setMaybe(&params.jUnitFile, r.JUnit, !explicit["junit"])
	setMaybe(&params.progressAddr, r.ProgressAddr, !explicit["progress-addr"])
	setMaybe(&params.flushInterval, r.FlushInterval, !explicit["flush-interval"])
	setMaybe(&params.recordFailures, r.RecordFailures, !explicit["record-failures"])

	if len(r.Tests) != 0 && !explicit["tests"] {
		params.tests = append(stringListFlag(nil), r.Tests...)
	}
	if !explicit["select"] {
		for k, v := range r.Select {
			params.include.put(k, ldvalue.CopyArbitraryValue(v))
		}
	}
	if !explicit["exclude"] {
		for k, v := range r.Exclude {
			params.exclude.put(k, ldvalue.CopyArbitraryValue(v))
		}
	}
	if !explicit["run"] {
		for _, p := range r.Run {
			if err := params.filters.MustMatch.Set(p); err != nil {
				return fmt.Errorf("run pattern %q: %w", p, err)
			}
		}
	}
	if !explicit["skip"] {
		for _, p := range r.Skip {
			if err := params.filters.MustNotMatch.Set(p); err != nil {
				return fmt.Errorf("skip pattern %q: %w", p, err)
			}
		}
	}
	return nil
}

func setMaybe[V any](target *V, value opt.Maybe[V], allowed bool) {
	if allowed && value.IsDefined() {
		*target = value.Value()
	}
}
