package task

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"framesched/internal/eventbus"
	"framesched/internal/timestep"
	logx "framesched/pkg/logx"
)

// frameUntil drives s with a simulated 10ms time step until cond holds.
func frameUntil(t *testing.T, s *Scheduler, ts *timestep.Timestep, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after 2s (queued=%d running=%d)", s.QueueLen(), s.RunningLen())
		}
		ts.ForceUpdate(10 * time.Millisecond)
		s.Frame(ts)
		time.Sleep(time.Millisecond)
	}
}

func gated(gate <-chan struct{}) func() error {
	return func() error {
		<-gate
		return nil
	}
}

func TestPushTaskIDsIncrease(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	var prev uint64
	for i := 0; i < 20; i++ {
		id := s.PushTask(NewTask(Func(func() {})))
		if id <= prev {
			t.Fatalf("id %d after %d", id, prev)
		}
		prev = id
	}
	if prev != 20 {
		t.Fatalf("last id = %d, want 20", prev)
	}
	if s.PushTask(nil) != 0 {
		t.Fatal("PushTask(nil) must return 0")
	}
}

func TestPushTaskTwiceKeepsID(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	tk := NewTask(Func(func() {}))
	first := s.PushTask(tk)
	second := s.PushTask(tk)
	if first != second || s.QueueLen() != 1 {
		t.Fatalf("re-push: ids %d/%d, queue %d", first, second, s.QueueLen())
	}
}

func TestSchedulerUnknownTask(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	if s.IsTaskFinished(85) || s.IsTaskRunning(85) || s.IsTaskInQueue(85) {
		t.Fatal("unknown id reported as tracked")
	}
	if s.TaskStatus(85) != StatusUnknown {
		t.Fatalf("TaskStatus = %s, want unknown", s.TaskStatus(85))
	}

	// ID 0 is never issued, yet reads as finished even before any push.
	if !s.IsTaskFinished(0) || s.TaskStatus(0) != StatusUnknown {
		t.Fatalf("id 0: finished=%v status=%s", s.IsTaskFinished(0), s.TaskStatus(0))
	}
}

func TestTerminationCallbackWaitsOnScheduler(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	release := make(chan struct{})

	calls := 0
	var first *Task
	first = NewTask(func() error { return nil }, OnTermination(func() {
		calls++
		// Closing twice would panic if the callback ran again.
		close(release)
		s.WaitRunning()
		first.Poll()
	}))
	s.PushTask(first)
	slowID := s.PushTask(NewTask(gated(release), WithName("slow")))

	s.Frame(nil)
	if s.RunningLen() != 2 {
		t.Fatalf("running = %d, want 2", s.RunningLen())
	}
	first.Wait()
	s.Frame(nil)

	if calls != 1 {
		t.Fatalf("termination ran %d times", calls)
	}
	if first.State() != Terminated || s.RunningLen() != 0 || !s.IsTaskFinished(slowID) {
		t.Fatalf("state=%s running=%d slow finished=%v", first.State(), s.RunningLen(), s.IsTaskFinished(slowID))
	}
	if st := s.Stats(); st.Completed != 2 {
		t.Fatalf("completed = %d, want 2", st.Completed)
	}
}

func TestTerminationCallbackClosesScheduler(t *testing.T) {
	t.Parallel()
	s := NewScheduler(WithMaxRunning(1))

	calls := 0
	s.PushTask(NewTask(func() error { return nil }, OnTermination(func() {
		calls++
		s.Close()
	})))
	var ran atomic.Bool
	queued := s.PushTask(NewTask(Func(func() { ran.Store(true) })))

	s.Frame(nil)
	s.WaitRunning()

	if calls != 1 || ran.Load() {
		t.Fatalf("calls=%d queued task ran=%v", calls, ran.Load())
	}
	if s.QueueLen() != 0 || s.RunningLen() != 0 || !s.IsTaskFinished(queued) {
		t.Fatalf("queue=%d running=%d", s.QueueLen(), s.RunningLen())
	}
}

func TestSchedulerTaskLifecycle(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	ts := timestep.New()
	gate := make(chan struct{})

	ts.ForceUpdate(100 * time.Millisecond)
	s.Frame(ts)

	id := s.PushTask(NewTask(gated(gate)))
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}
	if s.IsTaskFinished(id) || s.IsTaskRunning(id) || !s.IsTaskInQueue(id) {
		t.Fatal("pushed task must only be queued")
	}
	if s.TaskStatus(id) != StatusQueued {
		t.Fatalf("TaskStatus = %s", s.TaskStatus(id))
	}

	ts.ForceUpdate(100 * time.Millisecond)
	s.Frame(ts)
	if s.IsTaskFinished(id) || !s.IsTaskRunning(id) || s.IsTaskInQueue(id) {
		t.Fatal("admitted task must only be running")
	}
	if s.TaskStatus(id) != StatusRunning {
		t.Fatalf("TaskStatus = %s", s.TaskStatus(id))
	}

	close(gate)
	frameUntil(t, s, ts, func() bool { return s.IsTaskFinished(id) })
	if s.IsTaskRunning(id) || s.IsTaskInQueue(id) {
		t.Fatal("finished task still tracked")
	}
	if s.TaskStatus(id) != StatusFinished {
		t.Fatalf("TaskStatus = %s", s.TaskStatus(id))
	}
}

func TestSchedulerAdmissionCap(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	ts := timestep.New()

	gates := make([]chan struct{}, 7)
	tasks := make([]*Task, 7)
	for i := range gates {
		gates[i] = make(chan struct{})
		tasks[i] = NewTask(gated(gates[i]))
		s.PushTask(tasks[i])
	}

	s.Frame(ts)
	if s.RunningLen() != DefaultMaxRunning || s.QueueLen() != 2 {
		t.Fatalf("running=%d queued=%d, want 5/2", s.RunningLen(), s.QueueLen())
	}
	for id := uint64(1); id <= 5; id++ {
		if !s.IsTaskRunning(id) {
			t.Fatalf("task %d not running", id)
		}
	}
	if !s.IsTaskInQueue(6) || !s.IsTaskInQueue(7) {
		t.Fatal("tasks 6 and 7 must stay queued")
	}

	// Still capped while nothing finished.
	ts.ForceUpdate(10 * time.Millisecond)
	s.Frame(ts)
	if s.RunningLen() != 5 || s.QueueLen() != 2 {
		t.Fatalf("running=%d queued=%d, want 5/2", s.RunningLen(), s.QueueLen())
	}

	for i := 0; i < 5; i++ {
		close(gates[i])
		tasks[i].Wait()
	}
	ts.ForceUpdate(10 * time.Millisecond)
	s.Frame(ts)
	if s.QueueLen() != 0 || s.RunningLen() != 2 {
		t.Fatalf("running=%d queued=%d, want 2/0", s.RunningLen(), s.QueueLen())
	}
	if !s.IsTaskRunning(6) || !s.IsTaskRunning(7) {
		t.Fatal("tasks 6 and 7 must be running")
	}

	close(gates[5])
	close(gates[6])
	s.WaitEmptyQueue()
	for id := uint64(1); id <= 7; id++ {
		if !s.IsTaskFinished(id) {
			t.Fatalf("task %d not finished", id)
		}
	}
}

func TestSchedulerAdmitsFIFO(t *testing.T) {
	t.Parallel()
	s := NewScheduler(WithMaxRunning(1))
	var order []int
	for i := 1; i <= 4; i++ {
		i := i
		s.PushTask(NewTask(Func(func() {}), OnTermination(func() { order = append(order, i) })))
	}
	s.WaitEmptyQueue()
	want := []int{1, 2, 3, 4}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestClearQueue(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	ts := timestep.New()
	counter := 0

	s.PushTask(NewTask(Func(func() {}), OnTermination(func() { counter++ })))
	s.Frame(ts)
	frameUntil(t, s, ts, func() bool { return s.IsTaskFinished(1) })
	if counter != 1 {
		t.Fatalf("counter = %d, want 1", counter)
	}

	for i := 0; i < 3; i++ {
		s.PushTask(NewTask(Func(func() { counter++ }), OnTermination(func() { counter++ })))
	}
	if !s.IsTaskInQueue(4) {
		t.Fatal("task 4 must be queued")
	}
	s.ClearQueue()
	if s.IsTaskInQueue(4) || s.QueueLen() != 0 {
		t.Fatal("queue not cleared")
	}
	// Discarded IDs look finished.
	if !s.IsTaskFinished(4) {
		t.Fatal("discarded task must report finished")
	}

	start := time.Now()
	s.WaitEmptyQueue()
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("WaitEmptyQueue on an idle scheduler must return immediately")
	}
	if s.RunningLen() != 0 || counter != 1 {
		t.Fatalf("running=%d counter=%d", s.RunningLen(), counter)
	}
	if s.Stats().Discarded != 3 {
		t.Fatalf("Discarded = %d, want 3", s.Stats().Discarded)
	}
}

func TestWaitRunningDoesNotAdmit(t *testing.T) {
	t.Parallel()
	s := NewScheduler(WithMaxRunning(1))
	s.PushTask(NewTask(Func(func() { time.Sleep(5 * time.Millisecond) })))
	s.PushTask(NewTask(Func(func() {})))

	s.Frame(timestep.New())
	s.WaitRunning()
	if s.RunningLen() != 0 || s.QueueLen() != 1 {
		t.Fatalf("running=%d queued=%d, want 0/1", s.RunningLen(), s.QueueLen())
	}
	if !s.IsTaskFinished(1) || !s.IsTaskInQueue(2) {
		t.Fatal("WaitRunning must only drain running tasks")
	}
}

func TestWaitEmptyQueueRunsLateSubmissions(t *testing.T) {
	t.Parallel()
	s := NewScheduler()
	var second uint64
	s.PushTask(NewTask(Func(func() {}), OnTermination(func() {
		second = s.PushTask(NewTask(Func(func() {})))
	})))
	s.WaitEmptyQueue()
	if second == 0 || !s.IsTaskFinished(second) {
		t.Fatalf("late task %d not drained", second)
	}
}

func TestCloseBlocksForRunningTasks(t *testing.T) {
	t.Parallel()
	s := NewScheduler(WithMaxRunning(3))
	gate := make(chan struct{})
	var finished atomic.Int32
	terminations := 0
	queuedRan := false

	for i := 0; i < 3; i++ {
		s.PushTask(NewTask(func() error {
			<-gate
			time.Sleep(5 * time.Millisecond)
			finished.Add(1)
			return nil
		}, OnTermination(func() { terminations++ })))
	}
	for i := 0; i < 2; i++ {
		s.PushTask(NewTask(Func(func() { queuedRan = true }), OnTermination(func() { queuedRan = true })))
	}
	s.Frame(timestep.New())
	if s.RunningLen() != 3 || s.QueueLen() != 2 {
		t.Fatalf("running=%d queued=%d", s.RunningLen(), s.QueueLen())
	}

	time.AfterFunc(30*time.Millisecond, func() { close(gate) })
	start := time.Now()
	s.Close()

	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("Close returned before running tasks finished")
	}
	if finished.Load() != 3 || terminations != 3 {
		t.Fatalf("finished=%d terminations=%d, want 3/3", finished.Load(), terminations)
	}
	if queuedRan {
		t.Fatal("queued task ran during Close")
	}
	if s.RunningLen() != 0 || s.QueueLen() != 0 {
		t.Fatal("scheduler not empty after Close")
	}
}

func TestSetMaxRunning(t *testing.T) {
	t.Parallel()
	s := NewScheduler(WithMaxRunning(2))
	gate := make(chan struct{})
	for i := 0; i < 6; i++ {
		s.PushTask(NewTask(gated(gate)))
	}
	ts := timestep.New()
	s.Frame(ts)
	if s.RunningLen() != 2 {
		t.Fatalf("running = %d, want 2", s.RunningLen())
	}
	s.SetMaxRunning(4)
	s.Frame(ts)
	if s.RunningLen() != 4 {
		t.Fatalf("running = %d, want 4", s.RunningLen())
	}
	s.SetMaxRunning(1)
	s.Frame(ts)
	if s.RunningLen() != 4 || s.QueueLen() != 2 {
		t.Fatalf("lowering the cap must not evict: running=%d queued=%d", s.RunningLen(), s.QueueLen())
	}
	s.SetMaxRunning(0)
	if s.MaxRunning() != DefaultMaxRunning {
		t.Fatalf("MaxRunning = %d, want default", s.MaxRunning())
	}
	close(gate)
	s.WaitEmptyQueue()
}

func TestZeroValueScheduler(t *testing.T) {
	t.Parallel()
	var s Scheduler
	for i := 0; i < 7; i++ {
		s.PushTask(NewTask(Func(func() {})))
	}
	s.Frame(nil)
	if s.RunningLen() > DefaultMaxRunning {
		t.Fatalf("running = %d exceeds default cap", s.RunningLen())
	}
	s.WaitEmptyQueue()
	if !s.IsTaskFinished(7) {
		t.Fatal("task 7 not finished")
	}
}

func TestSchedulerEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	s := NewScheduler(WithEventBus(bus))
	boom := errors.New("boom")
	s.PushTask(NewTask(func() error { return boom }, WithName("failing")))
	s.PushTask(NewTask(func() error { panic("x") }))
	s.WaitEmptyQueue()

	var types []string
	var failed []TaskEvent
	for len(ch) > 0 {
		e := <-ch
		types = append(types, e.Type)
		if e.Type == eventbus.TaskFinished {
			failed = append(failed, e.Data.(TaskEvent))
		}
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{eventbus.TaskQueued, eventbus.TaskStarted, eventbus.TaskFinished} {
		if strings.Count(joined, want) != 2 {
			t.Fatalf("events %q: want two %s", joined, want)
		}
	}
	if len(failed) != 2 || failed[0].Error == "" || failed[1].Error == "" {
		t.Fatalf("finished events = %+v", failed)
	}
	if st := s.Stats(); st.Failed != 2 || st.Completed != 2 || st.Started != 2 || st.Submitted != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBacklogWarningIsThrottled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewScheduler(
		WithMaxRunning(1),
		WithLogger(logx.NewWriter(&buf, "warn")),
		WithBacklogWarning(2, time.Hour),
	)
	gate := make(chan struct{})
	for i := 0; i < 4; i++ {
		s.PushTask(NewTask(gated(gate)))
	}
	ts := timestep.New()
	s.Frame(ts)
	s.Frame(ts)
	s.Frame(ts)
	if n := strings.Count(buf.String(), "task queue backlog"); n != 1 {
		t.Fatalf("backlog warnings = %d, want 1\n%s", n, buf.String())
	}
	close(gate)
	s.WaitEmptyQueue()
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s := NewScheduler(WithMaxRunning(1))
	gate := make(chan struct{})
	s.PushTask(NewTask(gated(gate), WithName("a")))
	s.PushTask(NewTask(gated(gate), WithName("b")))
	s.PushTimer(TimerParam{Name: "tick", Action: Func(func() {}), Frequency: time.Second})
	s.Frame(timestep.New())

	snap := s.Snapshot()
	if snap.MaxRunning != 1 || snap.LastTaskID != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Running) != 1 || snap.Running[0].Name != "a" || snap.Running[0].State != "running" {
		t.Fatalf("running = %+v", snap.Running)
	}
	if len(snap.Queued) != 1 || snap.Queued[0].Name != "b" {
		t.Fatalf("queued = %+v", snap.Queued)
	}
	if len(snap.Timers) != 1 || snap.Timers[0].Fired != 1 || snap.Timers[0].State != "running" {
		t.Fatalf("timers = %+v", snap.Timers)
	}
	close(gate)
	s.WaitEmptyQueue()
}
