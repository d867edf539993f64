package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"gopkg.in/tomb.v2"

	ewerror "errwatch.dev/errwatch/v1/errwatchlib/error"
	"errwatch.dev/errwatch/v1/errwatchlib/error/errorreport"
)

// PanicError is what a Task dies with when its function panicked
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Task is an asynchronous operation whose failure nobody else is waiting to handle
type Task struct {
	tmb *tomb.Tomb
}

// Wait blocks until the task is done and returns what it failed with, if anything
func (t *Task) Wait() error {
	return t.tmb.Wait()
}

// Kill cancels the task's context. A task that stops because it was killed is
// not reported.
func (t *Task) Kill(reason error) {
	t.tmb.Kill(reason)
}

func (t *Task) Dead() <-chan struct{} {
	return t.tmb.Dead()
}

// Go runs fn in its own goroutine. When fn returns an error or panics with any
// value the failure is reported as a rejection; it never crashes the process.
func (p *Pipeline) Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	tmb, taskCtx := tomb.WithContext(ctx)

	tmb.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if observed, ok := r.(*ObservedPanic); ok {
					// a Recover inside fn already reported it
					err = &PanicError{Value: observed.Value, Stack: stack}
					return
				}
				p.handleRejection(r, stack)
				err = &PanicError{Value: r, Stack: stack}
			}
		}()

		err = fn(taskCtx)
		if err != nil && !cancelled(taskCtx, err) {
			p.HandleRejection(err)
		}
		return err
	})

	return &Task{tmb: tmb}
}

func cancelled(ctx context.Context, err error) bool {
	if errors.Is(err, tomb.ErrDying) {
		return true
	}
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// HandleRejection reports an asynchronous failure that went unhandled. The
// reason may be any value, not only an error.
func (p *Pipeline) HandleRejection(reason interface{}) {
	p.handleRejection(reason, "")
}

func (p *Pipeline) handleRejection(reason interface{}, stack string) {
	message := describe(reason)
	p.logger.Errorf("Unhandled Rejection: %s", message)

	detail := errorreport.Detail{
		"reason": fmt.Sprintf("%T", reason),
	}
	if stack != "" {
		detail["stack"] = stack
	}

	record := p.newRecord(ewerror.RejectionError, message, detail)
	p.observe(record, p.text(RejectionMessageKey))
}
