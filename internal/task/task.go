package task

import (
	"fmt"
	"runtime/debug"
	"time"
)

// State is the lifecycle state of a Task.
type State uint8

const (
	Waiting State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Task is a unit of deferred work: an action run on its own goroutine and a
// termination callback run on the polling goroutine once the action returned.
//
// A Task is not safe for concurrent use. Run, Poll and the accessors must be
// called from a single goroutine (the Scheduler's frame goroutine once pushed).
type Task struct {
	id   uint64
	name string

	state       State
	action      func() error
	termination func()
	// Set while termination runs, so a callback that polls again (directly
	// or through the Scheduler) cannot run it a second time.
	terminating bool

	done chan struct{}

	// Written by the action goroutine before done is closed.
	err     error
	stack   []byte
	runTime time.Duration

	queuedAt  time.Time
	startedAt time.Time
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithName labels the task in logs, events and snapshots.
func WithName(name string) TaskOption {
	return func(t *Task) { t.name = name }
}

// OnTermination sets the callback run by Poll once the action completed.
// A nil fn keeps the no-op default.
func OnTermination(fn func()) TaskOption {
	return func(t *Task) {
		if fn != nil {
			t.termination = fn
		}
	}
}

// NewTask creates a Waiting task. It panics if action is nil.
func NewTask(action func() error, opts ...TaskOption) *Task {
	if action == nil {
		panic("task: nil action")
	}
	t := &Task{
		action:      action,
		termination: func() {},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Func adapts an action that cannot fail.
func Func(fn func()) func() error {
	return func() error {
		fn()
		return nil
	}
}

// ID is the identifier assigned by Scheduler.PushTask (0 before that).
func (t *Task) ID() uint64 { return t.id }

func (t *Task) Name() string {
	if t.name != "" {
		return t.name
	}
	if t.id != 0 {
		return fmt.Sprintf("task#%d", t.id)
	}
	return "task"
}

func (t *Task) State() State { return t.state }

// Run starts the action on a new goroutine. Only a Waiting task starts;
// every other call is ignored.
func (t *Task) Run() {
	if t.state != Waiting {
		return
	}
	t.done = make(chan struct{})
	t.startedAt = time.Now()
	t.state = Running
	go t.exec(t.done, t.startedAt)
}

func (t *Task) exec(done chan struct{}, started time.Time) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("%w: %v", ErrPanic, r)
			t.stack = debug.Stack()
		}
		t.runTime = time.Since(started)
	}()
	t.err = t.action()
}

// Poll checks, without blocking, whether a running action has returned.
// If so it runs the termination callback and then marks the task Terminated.
// Polling a task that is not Running does nothing.
func (t *Task) Poll() {
	if t.state != Running || t.terminating {
		return
	}
	select {
	case <-t.done:
	default:
		return
	}
	t.terminating = true
	t.termination()
	t.terminating = false
	t.state = Terminated
}

// Wait blocks until the action of a Running task returns. It does not run
// the termination callback; a later Poll still does.
func (t *Task) Wait() {
	if t.state != Running {
		return
	}
	<-t.done
}

// Err reports the action's error (or recovered panic, wrapping ErrPanic)
// once the task is Terminated. It is nil in every other state.
func (t *Task) Err() error {
	if t.state != Terminated {
		return nil
	}
	return t.err
}

// PanicStack returns the stack captured when the action panicked.
func (t *Task) PanicStack() string {
	if t.state != Terminated {
		return ""
	}
	return string(t.stack)
}

// RunTime is how long the action ran. Zero until Terminated.
func (t *Task) RunTime() time.Duration {
	if t.state != Terminated {
		return 0
	}
	return t.runTime
}
