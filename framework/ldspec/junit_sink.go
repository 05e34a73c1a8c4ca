package ldspec

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// JUnitSink writes a JUnit XML report when the run ends. There is one test suite per root
// spec, and one test case per case or per failed node hook.
type JUnitSink struct {
	filePath   string
	properties map[string]string
	order      []jUnitEntry // preserves the order that results arrived in
	hooksSeen  map[NodeID]int
	lock       sync.Mutex
}

type jUnitEntry struct {
	root     string
	name     string
	status   Status
	elapsed  time.Duration
	skip     string
	message  string
	kind     string
	contents string
}

// Struct definitions for the JUnit XML schema - see https://github.com/jstemmer/go-junit-report

type jUnitXMLDocument struct {
	XMLName xml.Name            `xml:"testsuites"`
	Suites  []jUnitXMLTestSuite `xml:"testsuite"`
}

type jUnitXMLTestSuite struct {
	XMLName    xml.Name           `xml:"testsuite"`
	Tests      int                `xml:"tests,attr"`
	Failures   int                `xml:"failures,attr"`
	Errors     int                `xml:"errors,attr"`
	Skipped    int                `xml:"skipped,attr"`
	Time       string             `xml:"time,attr"`
	Name       string             `xml:"name,attr"`
	Properties []jUnitXMLProperty `xml:"properties>property,omitempty"`
	TestCases  []jUnitXMLTestCase `xml:"testcase"`
}

type jUnitXMLTestCase struct {
	XMLName     xml.Name             `xml:"testcase"`
	Classname   string               `xml:"classname,attr"`
	Name        string               `xml:"name,attr"`
	Time        string               `xml:"time,attr"`
	SkipMessage *jUnitXMLSkipMessage `xml:"skipped,omitempty"`
	Failure     *jUnitXMLFailure     `xml:"failure,omitempty"`
	Error       *jUnitXMLFailure     `xml:"error,omitempty"`
}

type jUnitXMLSkipMessage struct {
	Message string `xml:"message,attr"`
}

type jUnitXMLProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type jUnitXMLFailure struct {
	Message  string `xml:"message,attr"`
	Type     string `xml:"type,attr"`
	Contents string `xml:",chardata"`
}

// NewJUnitSink creates a sink that writes to filePath. The properties are copied into every
// suite, in key order.
func NewJUnitSink(filePath string, properties map[string]string) *JUnitSink {
	return &JUnitSink{
		filePath:   filePath,
		properties: properties,
		hooksSeen:  make(map[NodeID]int),
	}
}

func (j *JUnitSink) TrackSpec(*Node) {}

func (j *JUnitSink) SpecFinished(*Node) {}

func (j *JUnitSink) CaseFinished(n *Node, c *Case) {
	j.lock.Lock()
	defer j.lock.Unlock()
	root := n.Path()[0]
	if c == nil {
		failures := n.HookFailures()
		for _, f := range failures[min(j.hooksSeen[n.id], len(failures)):] {
			j.order = append(j.order, jUnitEntry{
				root:     root,
				name:     n.Path().Plus(string(f.Slot)).String(),
				status:   StatusErrored,
				message:  f.Traceback.Message,
				kind:     f.Traceback.Type,
				contents: f.Traceback.String(),
			})
		}
		j.hooksSeen[n.id] = len(failures)
		return
	}
	entry := jUnitEntry{
		root:    root,
		name:    c.Path().String(),
		status:  c.Status(),
		elapsed: c.Elapsed(),
		skip:    c.SkipReason(),
	}
	switch entry.status {
	case StatusFailed:
		var messages []string
		for _, a := range c.Assertions() {
			if !a.Success {
				messages = append(messages, describeAssertion(a))
			}
		}
		entry.message = strings.Join(messages, "\n")
		entry.contents = c.Output().ToString("")
	case StatusErrored:
		var messages []string
		for _, f := range c.Failures() {
			messages = append(messages, f.Slot.String()+": "+f.Traceback.String())
			if entry.kind == "" {
				entry.kind = f.Traceback.Type
			}
		}
		entry.message = strings.Join(messages, "\n")
		entry.contents = c.Output().ToString("")
	case StatusIncomplete:
		entry.skip = "incomplete"
	}
	j.order = append(j.order, entry)
}

// EndRun writes the report file.
func (j *JUnitSink) EndRun(Results) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	var properties []jUnitXMLProperty
	for _, k := range sortedKeys(j.properties) {
		properties = append(properties, jUnitXMLProperty{Name: k, Value: j.properties[k]})
	}

	var doc jUnitXMLDocument
	for _, root := range j.roots() {
		suite := jUnitXMLTestSuite{Name: root, Properties: properties}
		total := time.Duration(0)
		for _, e := range j.order {
			if e.root != root {
				continue
			}
			suite.Tests++
			total += e.elapsed
			testCase := jUnitXMLTestCase{Classname: root, Name: e.name, Time: jUnitDurationString(e.elapsed)}
			switch e.status {
			case StatusFailed:
				suite.Failures++
				testCase.Failure = &jUnitXMLFailure{Message: e.message, Type: "assertion", Contents: e.contents}
			case StatusErrored:
				suite.Errors++
				testCase.Error = &jUnitXMLFailure{Message: e.message, Type: e.kind, Contents: e.contents}
			case StatusSkipped, StatusIncomplete:
				suite.Skipped++
				testCase.SkipMessage = &jUnitXMLSkipMessage{Message: e.skip}
			}
			suite.TestCases = append(suite.TestCases, testCase)
		}
		suite.Time = jUnitDurationString(total)
		doc.Suites = append(doc.Suites, suite)
	}

	bytes, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	bytes = append(bytes, '\n')
	return os.WriteFile(j.filePath, bytes, 0644) //nolint:gosec
}

func (j *JUnitSink) roots() []string {
	var ret []string
	seen := make(map[string]bool)
	for _, e := range j.order {
		if !seen[e.root] {
			ret = append(ret, e.root)
			seen[e.root] = true
		}
	}
	return ret
}

func jUnitDurationString(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
