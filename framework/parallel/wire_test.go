package parallel

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

func TestBatchCrossesTheWire(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	outcome := ldspec.Outcome{
		Case:  "a/b/c",
		Node:  "a/b",
		Start: start,
		End:   start.Add(time.Millisecond),
		Assertions: []ldspec.Assertion{{
			Target:       3,
			Expected:     map[string]interface{}{"x": "y"},
			TargetText:   "3",
			ExpectedText: `{"x":"y"}`,
			Comparator:   "equal",
			Required:     true,
			Message:      "expected equal",
			Location:     "thing_test.go:10",
		}},
		Failures: []ldspec.Failure{{
			Slot: ldspec.SlotAfterEach,
			Traceback: ldspec.TracebackRecord{
				Message: "oops",
				Type:    "*errors.errorString",
				Frames: []ldspec.Frame{{
					Package:  "example.com/pkg",
					Function: "doThing",
					File:     "/src/thing.go",
					Line:     42,
					Source:   []ldspec.SourceLine{{Number: 42, Text: "\tpanic(\"oops\")", Current: true}},
				}},
			},
		}},
		Output: framework.CapturedOutput{{Time: start, Message: "hello\nworld"}},
	}

	var buf bytes.Buffer
	w := messageWriter{w: &buf}
	require.NoError(t, w.send(Message{Kind: KindBatch, Outcomes: []ldspec.Outcome{outcome}}))
	require.NoError(t, w.send(Message{Kind: KindDone, Worked: 7}))

	r := newMessageReader(&buf)
	m, err := r.next()
	require.NoError(t, err)
	require.Equal(t, KindBatch, m.Kind)
	require.Len(t, m.Outcomes, 1)
	got := m.Outcomes[0]

	assert.Equal(t, outcome.Case, got.Case)
	assert.Equal(t, outcome.Node, got.Node)
	assert.True(t, outcome.Start.Equal(got.Start))
	assert.True(t, outcome.End.Equal(got.End))
	assert.Equal(t, outcome.Failures, got.Failures)
	require.Len(t, got.Output, 1)
	assert.Equal(t, "hello\nworld", got.Output[0].Message)

	require.Len(t, got.Assertions, 1)
	a := got.Assertions[0]
	require.IsType(t, ldvalue.Value{}, a.Target)
	assert.True(t, ldvalue.Int(3).Equal(a.Target.(ldvalue.Value)))
	require.IsType(t, ldvalue.Value{}, a.Expected)
	assert.True(t, ldvalue.ObjectBuild().SetString("x", "y").Build().Equal(a.Expected.(ldvalue.Value)))
	a.Target, a.Expected = nil, nil
	want := outcome.Assertions[0]
	want.Target, want.Expected = nil, nil
	assert.Equal(t, want, a)

	m, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, Message{Kind: KindDone, Worked: 7}, m)

	_, err = r.next()
	assert.Equal(t, io.EOF, err)
}

func TestControlMessages(t *testing.T) {
	for _, m := range []Message{
		{Kind: KindStart, Start: StartOptions{Worker: 2, DryRun: true, FlushInterval: 10 * time.Millisecond}},
		{Kind: KindCase, Token: Token{Case: "a/x", Node: "a"}},
		{Kind: KindStop},
		{Kind: KindReady},
		{Kind: KindSetupFailed, Token: Token{Case: "a/b/x", Node: "a/b"}, Node: "a",
			Failure: ldspec.Failure{Slot: ldspec.SlotBeforeAll, Traceback: ldspec.TracebackRecord{Message: "no db"}}},
		{Kind: KindTeardown, Node: "a", Failure: ldspec.Failure{Slot: ldspec.SlotAfterAll,
			Traceback: ldspec.TracebackRecord{Message: "bad"}}},
	} {
		t.Run(string(m.Kind), func(t *testing.T) {
			data, err := encodeMessage(m)
			require.NoError(t, err)
			got, err := decodeMessage(data)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestMalformedMessages(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"kind":"explode"}`,
		`{"kind":"batch","outcomes":[{"start":"yesterday"}]}`,
		`{"kind":"teardown","node":"a","failure":{"slot":"sideways"}}`,
	} {
		t.Run(line, func(t *testing.T) {
			_, err := decodeMessage([]byte(line))
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
	_, err := encodeMessage(Message{})
	assert.ErrorIs(t, err, ErrProtocol)
}
