package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	ewerror "errwatch.dev/errwatch/v1/errwatchlib/error"
	"errwatch.dev/errwatch/v1/errwatchlib/error/errorreport"
)

// Recover observes a panic on its way up the stack. It must be deferred
// directly:
//
//	defer p.Recover()
//
// The panic is reported, pending reports get a chance to reach the collector,
// and then it continues as an *ObservedPanic carrying the original value.
// Recover never swallows a failure, and a deferred Recover further up the same
// stack passes an ObservedPanic on without reporting it twice.
func (p *Pipeline) Recover() {
	r := recover()
	if r == nil {
		return
	}
	if observed, ok := r.(*ObservedPanic); ok {
		panic(observed)
	}

	file, line := panicSite()
	p.HandlePanic(r, file, line, string(debug.Stack()))

	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		p.logger.Error(err)
	}

	panic(&ObservedPanic{Value: r})
}

// ObservedPanic is a panic that has already been reported
type ObservedPanic struct {
	Value interface{}
}

func (o *ObservedPanic) Error() string {
	return fmt.Sprint(o.Value)
}

func (o *ObservedPanic) Unwrap() error {
	err, _ := o.Value.(error)
	return err
}

// HandlePanic reports a panic that was already recovered somewhere else
func (p *Pipeline) HandlePanic(value interface{}, file string, line int, stack string) {
	message := describe(value)
	p.logger.Errorf("Script Error: %s (%s:%d)\n%s", message, file, line, stack)

	record := p.newRecord(ewerror.ScriptError, message, errorreport.Detail{
		"filename": file,
		"lineno":   line,
		"stack":    stack,
	})
	p.observe(record, p.text(ScriptMessageKey))
}

// panicSite finds the frame that panicked: the first frame below
// runtime.gopanic that is not part of the runtime itself
func panicSite() (string, int) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	panicking := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			panicking = true
		} else if panicking && !strings.HasPrefix(frame.Function, "runtime.") {
			return frame.File, frame.Line
		}
		if !more {
			break
		}
	}
	return "unknown", 0
}
