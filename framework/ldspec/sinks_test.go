package ldspec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/matchers"
)

func mixedOutcomeDefs() []*Def {
	return []*Def{
		{
			Name: "alpha",
			Cases: []CaseTemplate{
				passingCase("ok"),
				{Name: "wrong", Body: func(t *T) {
					t.Debug("about to compare")
					t.Expect(3).To(matchers.Equal(4))
				}},
				{Name: "boom", Body: func(*T) { panic("boom") }},
				{Name: "later", Body: func(*T) {}, Skip: true, SkipReason: "flaky"},
			},
		},
		{
			Name:      "beta",
			BeforeAll: func(*Scope) error { return errors.New("setup broke") },
			Cases:     []CaseTemplate{passingCase("never")},
		},
	}
}

func TestConsoleSink(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	sink := &ConsoleSink{Out: &buf, DebugOutputOnFailure: true, Verbose: true}
	_, results := run(t, sink, 1, mixedOutcomeDefs()...)
	require.NoError(t, EndRun(sink, results))

	out := buf.String()
	assert.Contains(t, out, "[alpha]")
	assert.Contains(t, out, "PASSED: alpha/ok")
	assert.Contains(t, out, "FAILED: alpha/wrong")
	assert.Contains(t, out, "3 equal 4")
	assert.Contains(t, out, "DEBUG ")
	assert.Contains(t, out, "about to compare")
	assert.Contains(t, out, "ERROR: alpha/boom")
	assert.Contains(t, out, "SKIPPED: alpha/later (flaky)")
	assert.Contains(t, out, "BEFORE_ALL ERROR: beta")
	assert.Contains(t, out, "setup broke")
	assert.Contains(t, out, "1 passed, 1 failed, 1 error, 1 skipped, 0 incomplete, 1 hook failure(s)")
	assert.Contains(t, out, "FAILED CASES (2):")
	assert.Contains(t, out, "FAILED HOOKS (1):")
}

func TestJUnitSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junit.xml")
	sink := NewJUnitSink(path, map[string]string{"run.id": "abc"})
	multi := MultiSink{Sinks: []ReportSink{sink}}
	_, results := run(t, multi, 2, mixedOutcomeDefs()...)
	require.NoError(t, multi.EndRun(results))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc jUnitXMLDocument
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Len(t, doc.Suites, 2)

	suites := map[string]jUnitXMLTestSuite{}
	for _, s := range doc.Suites {
		suites[s.Name] = s
	}
	alpha := suites["alpha"]
	assert.Equal(t, 4, alpha.Tests)
	assert.Equal(t, 1, alpha.Failures)
	assert.Equal(t, 1, alpha.Errors)
	assert.Equal(t, 1, alpha.Skipped)
	assert.Equal(t, []jUnitXMLProperty{{Name: "run.id", Value: "abc"}}, alpha.Properties)

	beta := suites["beta"]
	require.Len(t, beta.TestCases, 1)
	assert.Equal(t, "beta/before_all", beta.TestCases[0].Name)
	require.NotNil(t, beta.TestCases[0].Error)
	assert.Equal(t, "setup broke", beta.TestCases[0].Error.Message)
}

func TestMultiSinkEndRunJoinsErrors(t *testing.T) {
	bad := NewJUnitSink(filepath.Join(t.TempDir(), "missing-dir", "x.xml"), nil)
	multi := MultiSink{Sinks: []ReportSink{&recordingSink{}, bad}}
	assert.Error(t, multi.EndRun(Results{}))
	assert.NoError(t, EndRun(&recordingSink{}, Results{}))
}

func TestProtectEachKeepsOtherSinksGoing(t *testing.T) {
	var logger framework.CapturingLogger
	recorder := &recordingSink{}
	bad := NewJUnitSink(filepath.Join(t.TempDir(), "missing-dir", "x.xml"), nil)
	multi := ProtectEach(&logger, panickingSink{}, recorder, bad)
	_, results := run(t, multi, 2, &Def{Name: "node", Cases: []CaseTemplate{passingCase("a")}})

	assert.Equal(t, 1, recorder.count("case", "node"))
	assert.Equal(t, 1, recorder.count("finished", "node"))
	assert.NotEmpty(t, logger.Output())
	assert.Error(t, multi.EndRun(results))
}

func TestConsoleSinkShowsArgumentsOfFailedDataDrivenCase(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	def := &Def{
		Name: "data",
		Cases: []CaseTemplate{{
			Name:   "check",
			Params: []Param{{Name: "n", Default: ldvalue.Int(0)}},
			Body:   func(t *T) { t.Expect(t.Arg("n").IntValue()).To(matchers.Equal(0)) },
		}},
		Dataset: Dataset{
			"zero": {Args: Args{"n": ldvalue.Int(0)}},
			"two":  {Args: Args{"n": ldvalue.Int(2)}},
		},
	}
	run(t, &ConsoleSink{Out: &buf}, 1, def)
	out := buf.String()
	assert.Contains(t, out, "FAILED: data/check_two")
	assert.Contains(t, out, "with n=2")
	assert.NotContains(t, out, "check_zero")
}
