package ldspec

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"sync"
)

const (
	maxTracebackFrames = 5
	sourceWindowLines  = 2
)

// SourceLine is one line of source text shown around a traceback frame.
type SourceLine struct {
	Number  int
	Text    string
	Current bool
}

// Frame is one call frame of a traceback.
type Frame struct {
	Package  string
	Function string
	File     string
	Line     int
	Source   []SourceLine
}

func (f Frame) String() string {
	packageName := strings.TrimPrefix(f.Package, rootPackageName+"/")
	return fmt.Sprintf("%s.%s (%s:%d)", packageName, f.Function, filepath.Base(f.File), f.Line)
}

// TracebackRecord describes an unexpected panic or error: what it was and where it came from.
// Reporters treat it as an opaque payload.
type TracebackRecord struct {
	Message string
	Type    string
	Frames  []Frame
}

func (r TracebackRecord) String() string {
	lines := []string{r.Message}
	for _, f := range r.Frames {
		lines = append(lines, "  at "+f.String())
	}
	return strings.Join(lines, "\n")
}

var (
	errorTraceInMessageRegex = regexp.MustCompile(`^(?s:\s*Error Trace:.*\sError:\s*)`)

	currentPackage  = currentPackageName()
	rootPackageName = strings.Join(firstN(strings.Split(currentPackage, "/"), 3), "/")

	sourceCache     = map[string][]string{}
	sourceCacheLock sync.Mutex
)

// cleanMessage strips any stacktrace that testify/assert or testify/require put into the
// message, since we compute our own.
func cleanMessage(message string) string {
	if strings.Contains(message, "Error Trace:") {
		return strings.TrimSpace(errorTraceInMessageRegex.ReplaceAllLiteralString(message, ""))
	}
	return message
}

func tracebackFromPanic(value interface{}, helperFns []string) TracebackRecord {
	message := fmt.Sprintf("%+v", value)
	if err, ok := value.(error); ok {
		message = err.Error()
	}
	return TracebackRecord{
		Message: "unexpected panic: " + cleanMessage(message),
		Type:    fmt.Sprintf("%T", value),
		Frames:  captureFrames(helperFns, maxTracebackFrames),
	}
}

// tracebackFromError describes an error returned by a hook. There is no stack to walk by the
// time the error comes back, so the only frame is the hook function's own declaration.
func tracebackFromError(err error, fn interface{}) TracebackRecord {
	rec := TracebackRecord{Message: cleanMessage(err.Error()), Type: fmt.Sprintf("%T", err)}
	if f, ok := functionFrame(fn); ok {
		rec.Frames = []Frame{f}
	}
	return rec
}

func callerLocation(helperFns []string) string {
	frames := captureFrames(helperFns, 1)
	if len(frames) == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frames[0].File), frames[0].Line)
}

func captureFrames(helperFns []string, limit int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs) // skip runtime.Callers and captureFrames
	frames := runtime.CallersFrames(pcs[:n])
	var ret []Frame
	for len(ret) < limit {
		f, more := frames.Next()
		if f.Function != "" && includeFrame(f, helperFns) {
			packageName, functionName := parsePackageAndFunctionName(f.Function)
			ret = append(ret, Frame{
				Package:  packageName,
				Function: functionName,
				File:     f.File,
				Line:     f.Line,
				Source:   sourceWindow(f.File, f.Line),
			})
		}
		if !more {
			break
		}
	}
	return ret
}

func includeFrame(f runtime.Frame, helperFns []string) bool {
	packageName, _ := parsePackageAndFunctionName(f.Function)
	switch {
	case packageName == "runtime", strings.HasPrefix(packageName, "runtime/"):
		return false
	case packageName == currentPackage && !strings.HasSuffix(f.File, "_test.go"):
		return false
	case strings.HasPrefix(packageName, "github.com/stretchr/testify/"):
		return false
	case packageName == "golang.org/x/sync/errgroup":
		return false
	}
	for _, h := range helperFns {
		if h == f.Function {
			return false
		}
	}
	return true
}

func functionFrame(fn interface{}) (Frame, bool) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return Frame{}, false
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return Frame{}, false
	}
	file, line := rf.FileLine(rf.Entry())
	packageName, functionName := parsePackageAndFunctionName(rf.Name())
	return Frame{
		Package:  packageName,
		Function: functionName,
		File:     file,
		Line:     line,
		Source:   sourceWindow(file, line),
	}, true
}

func sourceWindow(file string, line int) []SourceLine {
	sourceCacheLock.Lock()
	lines, ok := sourceCache[file]
	if !ok {
		if data, err := os.ReadFile(file); err == nil {
			lines = strings.Split(string(data), "\n")
		}
		sourceCache[file] = lines
	}
	sourceCacheLock.Unlock()
	if line < 1 || line > len(lines) {
		return nil
	}
	from, to := max(1, line-sourceWindowLines), min(len(lines), line+sourceWindowLines)
	ret := make([]SourceLine, 0, to-from+1)
	for n := from; n <= to; n++ {
		ret = append(ret, SourceLine{Number: n, Text: lines[n-1], Current: n == line})
	}
	return ret
}

func currentPackageName() string {
	pc, _, _, ok := runtime.Caller(0)
	if !ok {
		return "?"
	}
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "?"
	}
	packageName, _ := parsePackageAndFunctionName(f.Name())
	return packageName
}

func parsePackageAndFunctionName(fullName string) (string, string) {
	lastSlash := strings.LastIndex(fullName, "/")
	firstDotAfterSlash := strings.Index(fullName[lastSlash+1:], ".")
	if firstDotAfterSlash < 0 {
		return fullName, ""
	}
	packageName := fullName[0 : lastSlash+firstDotAfterSlash+1]
	functionName := fullName[len(packageName)+1:]
	return packageName, functionName
}

func firstN(parts []string, n int) []string {
	if len(parts) < n {
		return parts
	}
	return parts[:n]
}

// callerFunctionName returns the name of the function that called the caller of this one.
func callerFunctionName() (string, bool) {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "", false
	}
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "", false
	}
	return f.Name(), true
}
