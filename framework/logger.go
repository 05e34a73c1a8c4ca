package framework

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logger is the minimal logging interface used throughout the harness. A *log.Logger from the
// standard library satisfies it.
type Logger interface {
	Println(args ...interface{})
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (n nullLogger) Println(args ...interface{})                {}
func (n nullLogger) Printf(message string, args ...interface{}) {}

// NullLogger returns a Logger that discards everything.
func NullLogger() Logger { return nullLogger{} }

// OrNullLogger returns the logger if it is non-nil, or NullLogger() otherwise.
func OrNullLogger(logger Logger) Logger {
	if logger == nil {
		return nullLogger{}
	}
	return logger
}

type CapturedMessage struct {
	Time    time.Time
	Message string
}

type CapturedOutput []CapturedMessage

// CapturingLogger records all debug output for a spec node or a case.
//
// A node's logger can have attached loggers, one for each case that is currently running. While
// any are attached, messages written to the node logger are forwarded to them instead of being
// kept by the node; this way, output from a before_each hook shows up in the case it ran for.
// A newly attached logger starts out with a copy of whatever the node had already recorded.
type CapturingLogger struct {
	output   CapturedOutput
	attached []*CapturingLogger
	lock     sync.Mutex
}

func (l *CapturingLogger) Println(args ...interface{}) {
	m := strings.TrimRight(fmt.Sprintln(args...), "\r\n") // Sprintln appends a newline
	l.append(CapturedMessage{Time: time.Now(), Message: m})
}

func (l *CapturingLogger) Printf(message string, args ...interface{}) {
	l.append(CapturedMessage{Time: time.Now(), Message: fmt.Sprintf(message, args...)})
}

func (l *CapturingLogger) append(m CapturedMessage) {
	l.lock.Lock()
	if len(l.attached) == 0 {
		l.output = append(l.output, m)
		l.lock.Unlock()
		return
	}
	targets := append([]*CapturingLogger(nil), l.attached...)
	l.lock.Unlock()
	for _, t := range targets {
		t.append(m)
	}
}

// Output returns a copy of everything recorded so far.
func (l *CapturingLogger) Output() CapturedOutput {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append(CapturedOutput(nil), l.output...)
}

// Attach starts forwarding messages to the other logger.
func (l *CapturingLogger) Attach(other *CapturingLogger) {
	l.lock.Lock()
	l.attached = append(l.attached, other)
	inherited := append(CapturedOutput(nil), l.output...)
	l.lock.Unlock()
	other.lock.Lock()
	other.output = append(inherited, other.output...)
	other.lock.Unlock()
}

// Detach stops forwarding messages to the other logger.
func (l *CapturingLogger) Detach(other *CapturingLogger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, a := range l.attached {
		if a == other {
			l.attached = append(l.attached[:i], l.attached[i+1:]...)
			return
		}
	}
}

// ToString formats the output one message per line, each with a timestamp and the prefix.
func (output CapturedOutput) ToString(prefix string) string {
	lines := make([]string, 0, len(output))
	for _, m := range output {
		lines = append(lines, fmt.Sprintf("%s[%s] %s", prefix, m.Time.Format(timestampFormat), m.Message))
	}
	return strings.Join(lines, "\n")
}

type prefixedLogger struct {
	base   Logger
	prefix string
}

// LoggerWithPrefix returns a Logger that prepends the prefix to every message.
func LoggerWithPrefix(baseLogger Logger, prefix string) Logger {
	return prefixedLogger{OrNullLogger(baseLogger), prefix}
}

func (p prefixedLogger) Println(args ...interface{}) {
	p.base.Println(append([]interface{}{p.prefix}, args...)...)
}

func (p prefixedLogger) Printf(message string, args ...interface{}) {
	p.base.Printf(p.prefix+message, args...)
}
