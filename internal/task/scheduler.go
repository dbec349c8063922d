package task

import (
	"runtime"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"framesched/internal/eventbus"
	"framesched/internal/timestep"
	logx "framesched/pkg/logx"
)

const (
	// DefaultMaxRunning caps the number of concurrently running tasks.
	DefaultMaxRunning = 5

	defaultBacklogWarn      = 64
	defaultBacklogWarnEvery = 10 * time.Second
)

// Scheduler owns a FIFO queue of pending tasks, a bounded set of running
// tasks and a list of timers, all advanced by Frame.
//
// The zero value is ready to use with DefaultMaxRunning and no logging.
type Scheduler struct {
	log logx.Logger
	bus eventbus.Bus

	queue   []*Task
	running []*Task
	timers  []*Timer

	maxRunning int
	lastTaskID uint64
	lastTimer  uint64

	backlogWarn int
	warnLimiter *rate.Limiter

	stats Stats
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxRunning sets the running-set capacity. Values <= 0 are ignored.
func WithMaxRunning(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxRunning = n
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithEventBus publishes task and timer lifecycle events on bus.
func WithEventBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithBacklogWarning logs a warning, at most once per every, when n or more
// tasks are still queued after admission. n <= 0 disables the warning.
func WithBacklogWarning(n int, every time.Duration) Option {
	return func(s *Scheduler) { s.SetBacklogWarning(n, every) }
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		maxRunning:  DefaultMaxRunning,
		backlogWarn: defaultBacklogWarn,
		warnLimiter: rate.NewLimiter(rate.Every(defaultBacklogWarnEvery), 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// PushTask assigns the next ID to t and appends it to the queue. The task
// only starts once admitted by a later Frame (or WaitEmptyQueue).
//
// Pushing nil returns 0. Pushing a task that already has an ID returns that
// ID without queueing it again.
func (s *Scheduler) PushTask(t *Task) uint64 {
	if t == nil {
		return 0
	}
	if t.id != 0 {
		return t.id
	}
	s.lastTaskID++
	t.id = s.lastTaskID
	t.queuedAt = time.Now()
	s.queue = append(s.queue, t)
	s.stats.Submitted++

	s.publish(eventbus.TaskQueued, TaskEvent{ID: t.id, Name: t.Name()})
	return t.id
}

// PushTimer stores a new timer built from p and returns a handle to it.
// The handle stays resolvable through LookupTimer until the timer expires
// or the timer list is cleared.
func (s *Scheduler) PushTimer(p TimerParam) TimerHandle {
	tm := NewTimer(p)
	s.lastTimer++
	tm.id = s.lastTimer
	s.timers = append(s.timers, tm)

	s.publish(eventbus.TimerAdded, TimerEvent{ID: tm.id, Name: tm.Name(), Async: p.Async})
	return TimerHandle{id: tm.id}
}

// LookupTimer resolves a handle against the live timer list.
func (s *Scheduler) LookupTimer(h TimerHandle) (*Timer, bool) {
	if h.id == 0 {
		return nil, false
	}
	for _, tm := range s.timers {
		if tm.id == h.id {
			return tm, true
		}
	}
	return nil, false
}

// Frame advances the scheduler by one tick:
//  1. poll running tasks and prune the terminated ones
//  2. advance every timer against ts
//  3. prune expired timers
//  4. admit queued tasks until the queue is empty or the running set is full
func (s *Scheduler) Frame(ts *timestep.Timestep) {
	s.pollRunning()

	// Index loop: inline timer actions may push or clear timers.
	for i := 0; i < len(s.timers); i++ {
		s.timers[i].Frame(ts, s)
	}
	s.pruneTimers()

	s.admit()
}

// WaitRunning polls until no task is running. Queued tasks are not started.
// Called from a termination callback, it does not wait for the task whose
// callback is running.
func (s *Scheduler) WaitRunning() {
	for {
		s.pollRunning()
		if s.busy() == 0 {
			return
		}
		runtime.Gosched()
	}
}

// WaitEmptyQueue polls and admits until both the queue and the running set
// are empty. Timers are not advanced.
func (s *Scheduler) WaitEmptyQueue() {
	for {
		s.pollRunning()
		s.admit()
		if len(s.queue) == 0 && s.busy() == 0 {
			return
		}
		runtime.Gosched()
	}
}

// IsTaskFinished reports whether id is at most the last issued ID and is
// neither queued nor running. IDs start at 1, so 0 reports true even on a
// fresh scheduler, as do IDs dropped by ClearQueue. TaskStatus tells
// never-issued IDs apart.
func (s *Scheduler) IsTaskFinished(id uint64) bool {
	return id <= s.lastTaskID && !(s.IsTaskRunning(id) || s.IsTaskInQueue(id))
}

func (s *Scheduler) IsTaskRunning(id uint64) bool {
	return indexOf(s.running, id) >= 0
}

func (s *Scheduler) IsTaskInQueue(id uint64) bool {
	return indexOf(s.queue, id) >= 0
}

// TaskStatus is the stricter form of the three Is* queries: it reports
// StatusUnknown for IDs this scheduler never issued.
func (s *Scheduler) TaskStatus(id uint64) Status {
	switch {
	case id == 0 || id > s.lastTaskID:
		return StatusUnknown
	case s.IsTaskInQueue(id):
		return StatusQueued
	case s.IsTaskRunning(id):
		return StatusRunning
	default:
		return StatusFinished
	}
}

// ClearQueue drops every pending task. Dropped tasks never run and their
// termination callbacks are never called. Running tasks are unaffected.
func (s *Scheduler) ClearQueue() {
	for i, t := range s.queue {
		s.publish(eventbus.TaskDiscarded, TaskEvent{ID: t.id, Name: t.Name()})
		s.queue[i] = nil
	}
	s.stats.Discarded += uint64(len(s.queue))
	s.queue = s.queue[:0]
}

// ClearTimers drops every timer, whatever its state.
func (s *Scheduler) ClearTimers() {
	for i := range s.timers {
		s.timers[i] = nil
	}
	s.timers = s.timers[:0]
}

// Close discards the queue and blocks until every running task returned and
// was polled. It is the scheduler's teardown; the Scheduler stays usable.
func (s *Scheduler) Close() {
	queued := len(s.queue)
	running := len(s.running)
	s.ClearQueue()
	start := time.Now()
	s.WaitRunning()
	s.log.Info("scheduler closed",
		logx.Int("discarded", queued),
		logx.Int("drained", running),
		logx.Duration("took", time.Since(start)),
	)
}

// SetMaxRunning changes the running-set capacity. Values <= 0 restore the
// default. Lowering it below the current running count stops admission until
// enough tasks finished; running tasks are never evicted.
func (s *Scheduler) SetMaxRunning(n int) {
	if n <= 0 {
		n = DefaultMaxRunning
	}
	s.maxRunning = n
}

// SetBacklogWarning changes the backlog warning threshold and throttle.
// every <= 0 keeps the current throttle.
func (s *Scheduler) SetBacklogWarning(n int, every time.Duration) {
	s.backlogWarn = n
	switch {
	case every <= 0:
	case s.warnLimiter == nil:
		s.warnLimiter = rate.NewLimiter(rate.Every(every), 1)
	default:
		s.warnLimiter.SetLimit(rate.Every(every))
	}
}

func (s *Scheduler) MaxRunning() int {
	if s.maxRunning <= 0 {
		return DefaultMaxRunning
	}
	return s.maxRunning
}

func (s *Scheduler) QueueLen() int   { return len(s.queue) }
func (s *Scheduler) RunningLen() int { return len(s.running) }
func (s *Scheduler) TimerCount() int { return len(s.timers) }

// pollRunning may be re-entered from a termination callback. Polling walks a
// copy of the running set because a nested call prunes s.running in place;
// the prune then works on whatever the nested calls left behind.
func (s *Scheduler) pollRunning() {
	if len(s.running) == 0 {
		return
	}
	for _, t := range slices.Clone(s.running) {
		if t != nil {
			t.Poll()
		}
	}

	kept := s.running[:0]
	for _, t := range s.running {
		if t == nil {
			continue
		}
		if t.state == Terminated {
			s.finished(t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(s.running); i++ {
		s.running[i] = nil
	}
	s.running = kept
}

// busy counts running tasks other than those whose termination callback is
// executing further up the stack. Waiting on those would never return.
func (s *Scheduler) busy() int {
	n := 0
	for _, t := range s.running {
		if !t.terminating {
			n++
		}
	}
	return n
}

func (s *Scheduler) finished(t *Task) {
	s.stats.Completed++
	ev := TaskEvent{
		ID:         t.id,
		Name:       t.Name(),
		QueueDelay: t.startedAt.Sub(t.queuedAt),
		Duration:   t.runTime,
	}
	if t.err != nil {
		s.stats.Failed++
		ev.Error = t.err.Error()
	}
	s.publish(eventbus.TaskFinished, ev)
	if s.log.Enabled(logx.LevelTrace) {
		s.log.Trace("task finished", logx.Uint64("id", t.id), logx.String("task", ev.Name), logx.Duration("dur", ev.Duration))
	}
}

func (s *Scheduler) pruneTimers() {
	kept := s.timers[:0]
	for _, tm := range s.timers {
		if tm.state == TimerExpired {
			s.publish(eventbus.TimerExpired, TimerEvent{ID: tm.id, Name: tm.Name(), Fired: tm.fired, Async: tm.param.Async})
			continue
		}
		kept = append(kept, tm)
	}
	for i := len(kept); i < len(s.timers); i++ {
		s.timers[i] = nil
	}
	s.timers = kept
}

func (s *Scheduler) admit() {
	limit := s.MaxRunning()
	for len(s.queue) > 0 && len(s.running) < limit {
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		t.Run()
		s.running = append(s.running, t)
		s.stats.Started++
		s.publish(eventbus.TaskStarted, TaskEvent{ID: t.id, Name: t.Name(), QueueDelay: t.startedAt.Sub(t.queuedAt)})
	}
	if len(s.queue) == 0 {
		// Drop the consumed prefix so the backing array does not grow forever.
		s.queue = nil
	}

	if s.backlogWarn > 0 && len(s.queue) >= s.backlogWarn && (s.warnLimiter == nil || s.warnLimiter.Allow()) {
		s.log.Warn("task queue backlog",
			logx.Int("queued", len(s.queue)),
			logx.Int("running", len(s.running)),
			logx.Int("max_running", limit),
		)
	}
}

func (s *Scheduler) timerFired(tm *Timer, err error) {
	s.stats.TimerFirings++
	ev := TimerEvent{ID: tm.id, Name: tm.Name(), Fired: tm.fired, Async: tm.param.Async}
	if err != nil {
		ev.Error = err.Error()
	}
	s.publish(eventbus.TimerFired, ev)
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func indexOf(list []*Task, id uint64) int {
	for i, t := range list {
		if t.id == id {
			return i
		}
	}
	return -1
}
