package ldspec

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var consoleErrorColor = color.New(color.FgYellow)                 //nolint:gochecknoglobals
var consoleFailedColor = color.New(color.FgRed)                   //nolint:gochecknoglobals
var consoleSkippedColor = color.New(color.Faint, color.FgBlue)    //nolint:gochecknoglobals
var consoleIncompleteColor = color.New(color.Faint, color.FgCyan) //nolint:gochecknoglobals
var consoleDebugOutputColor = color.New(color.Faint)              //nolint:gochecknoglobals
var allPassedColor = color.New(color.FgGreen)                     //nolint:gochecknoglobals

// ConsoleSink prints progress as it happens and a summary at the end of the run.
type ConsoleSink struct {
	DebugOutputOnFailure bool
	DebugOutputOnSuccess bool

	// Verbose also prints a line for every node and every passing case.
	Verbose bool

	// Out defaults to os.Stdout.
	Out io.Writer

	lock       sync.Mutex
	hooksShown map[NodeID]int
}

func (c *ConsoleSink) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *ConsoleSink) TrackSpec(n *Node) {
	if !c.Verbose {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	fmt.Fprintf(c.out(), "[%s]\n", n.Path())
}

func (c *ConsoleSink) CaseFinished(n *Node, cs *Case) {
	c.lock.Lock()
	defer c.lock.Unlock()
	w := c.out()
	if cs == nil {
		if c.hooksShown == nil {
			c.hooksShown = make(map[NodeID]int)
		}
		failures := n.HookFailures()
		for _, f := range failures[min(c.hooksShown[n.id], len(failures)):] {
			_, _ = consoleFailedColor.Fprintf(w, "  %s: %s\n", strings.ToUpper(f.Slot.String()), n.Path())
			printIndented(w, consoleErrorColor, f.Traceback.String())
		}
		c.hooksShown[n.id] = len(failures)
		return
	}

	status := cs.Status()
	switch status {
	case StatusPassed:
		if c.Verbose {
			fmt.Fprintf(w, "  PASSED: %s (%s)\n", cs.Path(), cs.Elapsed())
		}
	case StatusFailed:
		_, _ = consoleFailedColor.Fprintf(w, "  FAILED: %s\n", cs.Path())
		c.printArgs(w, cs)
		for _, a := range cs.Assertions() {
			if !a.Success {
				printIndented(w, consoleErrorColor, describeAssertion(a))
			}
		}
	case StatusErrored:
		_, _ = consoleFailedColor.Fprintf(w, "  ERROR: %s\n", cs.Path())
		c.printArgs(w, cs)
		for _, f := range cs.Failures() {
			printIndented(w, consoleErrorColor, f.Slot.String()+": "+f.Traceback.String())
		}
	case StatusSkipped:
		if reason := cs.SkipReason(); reason != "" {
			_, _ = consoleSkippedColor.Fprintf(w, "  SKIPPED: %s (%s)\n", cs.Path(), reason)
		} else {
			_, _ = consoleSkippedColor.Fprintf(w, "  SKIPPED: %s\n", cs.Path())
		}
	case StatusIncomplete:
		_, _ = consoleIncompleteColor.Fprintf(w, "  INCOMPLETE: %s\n", cs.Path())
	}

	failed := status == StatusFailed || status == StatusErrored
	output := cs.Output()
	if len(output) > 0 && ((failed && c.DebugOutputOnFailure) || (!failed && c.DebugOutputOnSuccess)) {
		_, _ = consoleDebugOutputColor.Fprintln(w, output.ToString("    DEBUG "))
	}
}

func (c *ConsoleSink) printArgs(w io.Writer, cs *Case) {
	if !cs.DataDriven() {
		return
	}
	args := cs.Args()
	parts := make([]string, 0, len(args))
	for _, k := range sortedKeys(args) {
		parts = append(parts, k+"="+args[k].JSONString())
	}
	_, _ = consoleErrorColor.Fprintf(w, "    with %s\n", strings.Join(parts, ", "))
}

func (c *ConsoleSink) SpecFinished(*Node) {}

// EndRun prints the summary.
func (c *ConsoleSink) EndRun(results Results) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	PrintResults(c.out(), results)
	return nil
}

// PrintResults writes the totals and the list of failures.
func PrintResults(w io.Writer, results Results) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, results.Totals)
	if results.OK() {
		_, _ = allPassedColor.Fprintln(w, "All cases passed")
		return
	}
	if len(results.Failures) != 0 {
		_, _ = consoleFailedColor.Fprintf(w, "FAILED CASES (%d):\n", len(results.Failures))
		for _, f := range results.Failures {
			_, _ = consoleFailedColor.Fprintf(w, "  * %s (%s)\n", f.Path, f.Status)
		}
	}
	if len(results.HookFailures) != 0 {
		_, _ = consoleFailedColor.Fprintf(w, "FAILED HOOKS (%d):\n", len(results.HookFailures))
		for _, h := range results.HookFailures {
			_, _ = consoleFailedColor.Fprintf(w, "  * %s (%s)\n", h.Path, h.Failure.Slot)
		}
	}
}

func describeAssertion(a Assertion) string {
	var b strings.Builder
	if a.Required {
		b.WriteString("required: ")
	}
	if a.TargetText != "" {
		fmt.Fprintf(&b, "%s %s", a.TargetText, a.Comparator)
		if a.ExpectedText != "" {
			b.WriteString(" " + a.ExpectedText)
		}
		b.WriteString("\n")
	}
	b.WriteString(a.Message)
	if a.Location != "" {
		b.WriteString("\n  at " + a.Location)
	}
	return b.String()
}

func printIndented(w io.Writer, c *color.Color, text string) {
	for _, line := range strings.Split(text, "\n") {
		_, _ = c.Fprintf(w, "    %s\n", line)
	}
}
