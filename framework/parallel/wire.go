package parallel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

// ErrProtocol is wrapped by every error caused by a malformed or unexpected message.
var ErrProtocol = errors.New("worker protocol error")

const maxMessageSize = 16 * 1024 * 1024

// MessageKind identifies a message on the wire. The coordinator sends start, case, and stop;
// the worker sends ready, batch, setup_failed, teardown, and done.
type MessageKind string

const (
	KindStart    MessageKind = "start"
	KindCase     MessageKind = "case"
	KindStop     MessageKind = "stop"
	KindReady    MessageKind = "ready"
	KindBatch    MessageKind = "batch"
	KindTeardown MessageKind = "teardown"
	KindDone     MessageKind = "done"

	// KindSetupFailed answers a case token whose case never ran because a before_all above it
	// failed. Node is the node whose hook failed.
	KindSetupFailed MessageKind = "setup_failed"
)

func (k MessageKind) valid() bool {
	switch k {
	case KindStart, KindCase, KindStop, KindReady, KindBatch, KindSetupFailed, KindTeardown, KindDone:
		return true
	}
	return false
}

// Token is an entry in the work queue: the identity of one case, or the stop sentinel.
type Token struct {
	Case ldspec.CaseID
	Node ldspec.NodeID
	Stop bool
}

// StartOptions is what a worker is told before it receives any work.
type StartOptions struct {
	Worker        int
	DryRun        bool
	Dedupe        bool
	FlushInterval time.Duration
}

// Message is one line of the protocol. Which fields are meaningful depends on Kind.
type Message struct {
	Kind     MessageKind
	Start    StartOptions     // start
	Token    Token            // case, setup_failed
	Outcomes []ldspec.Outcome // batch
	Node     ldspec.NodeID    // setup_failed, teardown
	Failure  ldspec.Failure   // setup_failed, teardown
	Worked   int              // done
}

type messageWriter struct {
	w io.Writer
}

func (mw messageWriter) send(m Message) error {
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	_, err = mw.w.Write(append(data, '\n'))
	return err
}

type messageReader struct {
	scanner *bufio.Scanner
}

func newMessageReader(r io.Reader) *messageReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	return &messageReader{scanner: scanner}
}

// next returns io.EOF if the stream ended cleanly between messages.
func (mr *messageReader) next() (Message, error) {
	for mr.scanner.Scan() {
		line := mr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return decodeMessage(line)
	}
	if err := mr.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

func encodeMessage(m Message) ([]byte, error) {
	if !m.Kind.valid() {
		return nil, fmt.Errorf("%w: cannot send message of kind %q", ErrProtocol, m.Kind)
	}
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("kind").String(string(m.Kind))
	switch m.Kind {
	case KindStart:
		obj.Name("worker").Int(m.Start.Worker)
		obj.Name("dryRun").Bool(m.Start.DryRun)
		obj.Name("dedupe").Bool(m.Start.Dedupe)
		obj.Name("flushInterval").String(m.Start.FlushInterval.String())
	case KindCase:
		obj.Name("case").String(string(m.Token.Case))
		obj.Name("node").String(string(m.Token.Node))
	case KindBatch:
		arr := obj.Name("outcomes").Array()
		for _, o := range m.Outcomes {
			writeOutcome(&w, o)
		}
		arr.End()
	case KindSetupFailed:
		obj.Name("case").String(string(m.Token.Case))
		obj.Name("node").String(string(m.Token.Node))
		obj.Name("failedNode").String(string(m.Node))
		writeFailure(obj.Name("failure"), m.Failure)
	case KindTeardown:
		obj.Name("node").String(string(m.Node))
		writeFailure(obj.Name("failure"), m.Failure)
	case KindDone:
		obj.Name("worked").Int(m.Worked)
	}
	obj.End()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func writeOutcome(w *jwriter.Writer, o ldspec.Outcome) {
	obj := w.Object()
	obj.Name("case").String(string(o.Case))
	obj.Name("node").String(string(o.Node))
	obj.Name("start").String(o.Start.Format(time.RFC3339Nano))
	obj.Name("end").String(o.End.Format(time.RFC3339Nano))
	assertions := obj.Name("assertions").Array()
	for _, a := range o.Assertions {
		writeAssertion(w, a)
	}
	assertions.End()
	failures := obj.Name("failures").Array()
	for _, f := range o.Failures {
		writeFailure(w, f)
	}
	failures.End()
	output := obj.Name("output").Array()
	for _, m := range o.Output {
		msg := w.Object()
		msg.Name("time").String(m.Time.Format(time.RFC3339Nano))
		msg.Name("message").String(m.Message)
		msg.End()
	}
	output.End()
	obj.End()
}

// writeAssertion sends the live target and expected values as JSON copies, since the values
// themselves cannot leave the worker process.
func writeAssertion(w *jwriter.Writer, a ldspec.Assertion) {
	obj := w.Object()
	if a.Target != nil {
		ldvalue.CopyArbitraryValue(a.Target).WriteToJSONWriter(obj.Name("target"))
	}
	if a.Expected != nil {
		ldvalue.CopyArbitraryValue(a.Expected).WriteToJSONWriter(obj.Name("expected"))
	}
	obj.Name("targetText").String(a.TargetText)
	obj.Name("expectedText").String(a.ExpectedText)
	obj.Name("comparator").String(a.Comparator)
	obj.Name("success").Bool(a.Success)
	obj.Name("required").Bool(a.Required)
	obj.Name("message").String(a.Message)
	obj.Name("location").String(a.Location)
	obj.End()
}

func writeFailure(w *jwriter.Writer, f ldspec.Failure) {
	obj := w.Object()
	obj.Name("slot").String(string(f.Slot))
	tb := obj.Name("traceback").Object()
	tb.Name("message").String(f.Traceback.Message)
	tb.Name("type").String(f.Traceback.Type)
	frames := tb.Name("frames").Array()
	for _, fr := range f.Traceback.Frames {
		frame := w.Object()
		frame.Name("package").String(fr.Package)
		frame.Name("function").String(fr.Function)
		frame.Name("file").String(fr.File)
		frame.Name("line").Int(fr.Line)
		source := frame.Name("source").Array()
		for _, s := range fr.Source {
			line := w.Object()
			line.Name("number").Int(s.Number)
			line.Name("text").String(s.Text)
			line.Name("current").Bool(s.Current)
			line.End()
		}
		source.End()
		frame.End()
	}
	frames.End()
	tb.End()
	obj.End()
}

func decodeMessage(data []byte) (Message, error) {
	r := jreader.NewReader(data)
	var m Message
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "kind":
			m.Kind = MessageKind(r.String())
		case "worker":
			m.Start.Worker = r.Int()
		case "dryRun":
			m.Start.DryRun = r.Bool()
		case "dedupe":
			m.Start.Dedupe = r.Bool()
		case "flushInterval":
			d, err := time.ParseDuration(r.String())
			if err != nil {
				r.AddError(err)
			}
			m.Start.FlushInterval = d
		case "case":
			m.Token.Case = ldspec.CaseID(r.String())
		case "node":
			m.Token.Node = ldspec.NodeID(r.String())
		case "failedNode":
			m.Node = ldspec.NodeID(r.String())
		case "outcomes":
			for arr := r.Array(); arr.Next(); {
				m.Outcomes = append(m.Outcomes, readOutcome(&r))
			}
		case "failure":
			m.Failure = readFailure(&r)
		case "worked":
			m.Worked = r.Int()
		default:
			_ = r.SkipValue()
		}
	}
	if err := r.Error(); err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrProtocol, err)
	}
	if !m.Kind.valid() {
		return Message{}, fmt.Errorf("%w: unknown message kind %q", ErrProtocol, m.Kind)
	}
	if m.Kind == KindTeardown {
		m.Node = m.Token.Node
		m.Token = Token{}
	}
	return m, nil
}

func readTime(r *jreader.Reader) time.Time {
	s := r.String()
	if r.Error() != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		r.AddError(err)
	}
	return t
}

func readOutcome(r *jreader.Reader) ldspec.Outcome {
	var o ldspec.Outcome
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "case":
			o.Case = ldspec.CaseID(r.String())
		case "node":
			o.Node = ldspec.NodeID(r.String())
		case "start":
			o.Start = readTime(r)
		case "end":
			o.End = readTime(r)
		case "assertions":
			for arr := r.Array(); arr.Next(); {
				o.Assertions = append(o.Assertions, readAssertion(r))
			}
		case "failures":
			for arr := r.Array(); arr.Next(); {
				o.Failures = append(o.Failures, readFailure(r))
			}
		case "output":
			for arr := r.Array(); arr.Next(); {
				var msg framework.CapturedMessage
				for m := r.Object(); m.Next(); {
					switch string(m.Name()) {
					case "time":
						msg.Time = readTime(r)
					case "message":
						msg.Message = r.String()
					default:
						_ = r.SkipValue()
					}
				}
				o.Output = append(o.Output, msg)
			}
		default:
			_ = r.SkipValue()
		}
	}
	return o
}

func readAssertion(r *jreader.Reader) ldspec.Assertion {
	var a ldspec.Assertion
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "target":
			var v ldvalue.Value
			v.ReadFromJSONReader(r)
			a.Target = v
		case "expected":
			var v ldvalue.Value
			v.ReadFromJSONReader(r)
			a.Expected = v
		case "targetText":
			a.TargetText = r.String()
		case "expectedText":
			a.ExpectedText = r.String()
		case "comparator":
			a.Comparator = r.String()
		case "success":
			a.Success = r.Bool()
		case "required":
			a.Required = r.Bool()
		case "message":
			a.Message = r.String()
		case "location":
			a.Location = r.String()
		default:
			_ = r.SkipValue()
		}
	}
	return a
}

func readFailure(r *jreader.Reader) ldspec.Failure {
	var f ldspec.Failure
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "slot":
			name := r.String()
			slot, ok := ldspec.ParseSlot(name)
			if !ok && r.Error() == nil {
				r.AddError(fmt.Errorf("unknown failure slot %q", name))
			}
			f.Slot = slot
		case "traceback":
			f.Traceback = readTraceback(r)
		default:
			_ = r.SkipValue()
		}
	}
	return f
}

func readTraceback(r *jreader.Reader) ldspec.TracebackRecord {
	var tb ldspec.TracebackRecord
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "message":
			tb.Message = r.String()
		case "type":
			tb.Type = r.String()
		case "frames":
			for arr := r.Array(); arr.Next(); {
				tb.Frames = append(tb.Frames, readFrame(r))
			}
		default:
			_ = r.SkipValue()
		}
	}
	return tb
}

func readFrame(r *jreader.Reader) ldspec.Frame {
	var f ldspec.Frame
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "package":
			f.Package = r.String()
		case "function":
			f.Function = r.String()
		case "file":
			f.File = r.String()
		case "line":
			f.Line = r.Int()
		case "source":
			for arr := r.Array(); arr.Next(); {
				var line ldspec.SourceLine
				for l := r.Object(); l.Next(); {
					switch string(l.Name()) {
					case "number":
						line.Number = r.Int()
					case "text":
						line.Text = r.String()
					case "current":
						line.Current = r.Bool()
					default:
						_ = r.SkipValue()
					}
				}
				f.Source = append(f.Source, line)
			}
		default:
			_ = r.SkipValue()
		}
	}
	return f
}
