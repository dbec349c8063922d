package task

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func pollUntilTerminated(t *testing.T, tk *Task) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tk.State() != Terminated {
		if time.Now().After(deadline) {
			t.Fatalf("task %s still %s after 2s", tk.Name(), tk.State())
		}
		tk.Poll()
		time.Sleep(time.Millisecond)
	}
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	var runs atomic.Int32
	terminations := 0

	tk := NewTask(func() error {
		runs.Add(1)
		<-gate
		return nil
	}, OnTermination(func() { terminations++ }))

	if tk.State() != Waiting {
		t.Fatalf("State = %s, want waiting", tk.State())
	}
	tk.Poll()
	if tk.State() != Waiting || terminations != 0 {
		t.Fatalf("Poll on a waiting task changed it: state=%s terminations=%d", tk.State(), terminations)
	}

	tk.Run()
	tk.Run()
	if tk.State() != Running {
		t.Fatalf("State = %s, want running", tk.State())
	}
	tk.Poll()
	if tk.State() != Running || terminations != 0 {
		t.Fatalf("Poll before completion: state=%s terminations=%d", tk.State(), terminations)
	}

	close(gate)
	pollUntilTerminated(t, tk)

	if terminations != 1 {
		t.Fatalf("terminations = %d, want 1", terminations)
	}
	tk.Poll()
	tk.Run()
	if terminations != 1 {
		t.Fatalf("termination ran again: %d", terminations)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("action ran %d times, want 1", got)
	}
	if tk.Err() != nil {
		t.Fatalf("Err = %v, want nil", tk.Err())
	}
}

func TestTaskErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	failing := NewTask(func() error { return boom })
	failing.Run()
	if failing.Err() != nil {
		t.Fatalf("Err before termination = %v, want nil", failing.Err())
	}
	pollUntilTerminated(t, failing)
	if !errors.Is(failing.Err(), boom) {
		t.Fatalf("Err = %v, want %v", failing.Err(), boom)
	}

	panicking := NewTask(func() error { panic("kaput") })
	panicking.Run()
	pollUntilTerminated(t, panicking)
	if !errors.Is(panicking.Err(), ErrPanic) {
		t.Fatalf("Err = %v, want ErrPanic", panicking.Err())
	}
	if !strings.Contains(panicking.Err().Error(), "kaput") {
		t.Fatalf("Err = %q, want panic value in message", panicking.Err())
	}
	if panicking.PanicStack() == "" {
		t.Fatal("expected a captured stack")
	}
}

func TestTaskWaitBlocksUntilActionReturns(t *testing.T) {
	t.Parallel()
	var done atomic.Bool
	tk := NewTask(Func(func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	}))

	tk.Wait() // no-op while waiting
	tk.Run()
	tk.Wait()
	if !done.Load() {
		t.Fatal("Wait returned before the action finished")
	}
	if tk.State() != Running {
		t.Fatalf("Wait must not terminate the task, state = %s", tk.State())
	}
	tk.Poll()
	if tk.State() != Terminated {
		t.Fatalf("State = %s, want terminated", tk.State())
	}
	if tk.RunTime() < 20*time.Millisecond {
		t.Fatalf("RunTime = %v, want >= 20ms", tk.RunTime())
	}
}

func TestNewTaskRejectsNilAction(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewTask(nil)
}

func TestTaskName(t *testing.T) {
	t.Parallel()
	tk := NewTask(Func(func() {}))
	if tk.Name() != "task" {
		t.Fatalf("Name = %q", tk.Name())
	}
	s := NewScheduler()
	id := s.PushTask(tk)
	if tk.Name() != "task#1" || id != 1 {
		t.Fatalf("Name = %q id = %d", tk.Name(), id)
	}
	named := NewTask(Func(func() {}), WithName("load-assets"))
	if named.Name() != "load-assets" {
		t.Fatalf("Name = %q", named.Name())
	}
}
