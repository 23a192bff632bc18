// Package report delivers user-facing error messages: location provider
// failures and runtime faults.
package report

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Reporter receives human-readable error messages.
type Reporter interface {
	Report(msg string)
}

// Func adapts a function to Reporter.
type Func func(msg string)

func (f Func) Report(msg string) { f(msg) }

// Multi fans a message out to every reporter; nil entries are skipped.
type Multi []Reporter

func (m Multi) Report(msg string) {
	for _, r := range m {
		if r != nil {
			r.Report(msg)
		}
	}
}

// Log writes messages to a logrus logger at error level.
type Log struct {
	Logger logrus.FieldLogger
}

func (l Log) Report(msg string) {
	l.Logger.WithField("component", "report").Error(msg)
}

// Fault is an unexpected runtime failure recovered from a panic.
type Fault struct {
	File    string
	Line    int
	Column  int // not available in Go stacks, always 0
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s %d,%d: %s", f.File, f.Line, f.Column, f.Message)
}

// FromPanic builds a Fault from a recovered value. It must be called from
// the deferred function that recovered, so the panicking frame is still on
// the stack.
func FromPanic(v any) *Fault {
	f := &Fault{File: "unknown"}
	switch e := v.(type) {
	case error:
		f.Message = e.Error()
	default:
		f.Message = fmt.Sprint(v)
	}

	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	seenPanic := false
	for {
		fr, more := frames.Next()
		switch {
		case fr.Function == "runtime.gopanic":
			seenPanic = true
		case seenPanic && !inRuntime(fr.Function):
			f.File, f.Line = fr.File, fr.Line
			return f
		}
		if !more {
			break
		}
	}
	return f
}

func inRuntime(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") || strings.HasPrefix(fn, "internal/runtime/")
}
