package task

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"framesched/internal/timestep"
)

// TimerState is the lifecycle state of a Timer.
type TimerState uint8

const (
	// TimerStarted is the initial state; the first Frame fires and leaves it.
	TimerStarted TimerState = iota
	TimerRunning
	TimerPaused
	TimerExpired
)

func (s TimerState) String() string {
	switch s {
	case TimerStarted:
		return "started"
	case TimerRunning:
		return "running"
	case TimerPaused:
		return "paused"
	case TimerExpired:
		return "expired"
	default:
		return fmt.Sprintf("timer_state(%d)", uint8(s))
	}
}

// TimerParam describes a recurring action.
type TimerParam struct {
	Name string

	// Action is required.
	Action func() error

	// Frequency is the minimum time between two firings. A timer fires when
	// strictly more than Frequency elapsed since the previous firing.
	Frequency time.Duration

	// Schedule, when set, replaces Frequency: the timer fires once the time
	// point reaches the schedule's next activation.
	Schedule cron.Schedule

	// Async dispatches each firing as a new Task through the Scheduler
	// instead of running Action inline.
	Async bool

	// Iterations bounds the number of firings. 0 means unbounded.
	Iterations int
}

// Timer fires an action on a cadence measured against the time step.
//
// Like Task, a Timer belongs to the frame goroutine; Pause/Resume must be
// called from it too.
type Timer struct {
	id    uint64
	param TimerParam

	state    TimerState
	fired    int
	lastFire time.Time
	next     time.Time
	lastErr  error
}

// NewTimer creates a standalone Timer in the Started state. Scheduler.PushTimer
// is the usual entry point. It panics if p.Action is nil.
func NewTimer(p TimerParam) *Timer {
	if p.Action == nil {
		panic("task: nil timer action")
	}
	if p.Frequency < 0 {
		p.Frequency = 0
	}
	if p.Iterations < 0 {
		p.Iterations = 0
	}
	return &Timer{param: p, lastFire: time.Now()}
}

// ID is the identifier assigned by Scheduler.PushTimer (0 for standalone timers).
func (t *Timer) ID() uint64 { return t.id }

func (t *Timer) Name() string {
	if t.param.Name != "" {
		return t.param.Name
	}
	return fmt.Sprintf("timer#%d", t.id)
}

func (t *Timer) State() TimerState { return t.state }

// Fired counts the firings so far.
func (t *Timer) Fired() int { return t.fired }

// LastFire is the time point of the latest firing.
func (t *Timer) LastFire() time.Time { return t.lastFire }

// Next is the next activation of a cron-scheduled timer (zero otherwise).
func (t *Timer) Next() time.Time { return t.next }

// LastErr is the error returned by the latest inline firing.
// Async firings report through their Task instead.
func (t *Timer) LastErr() error { return t.lastErr }

func (t *Timer) Param() TimerParam { return t.param }

// Frame evaluates the timer against the time step. The first call always
// fires; later calls fire when the cadence is due. Paused and expired timers
// ignore the call.
//
// s may be nil, in which case async timers run inline.
func (t *Timer) Frame(ts *timestep.Timestep, s *Scheduler) {
	now := timePoint(ts)
	switch t.state {
	case TimerStarted:
		t.state = TimerRunning
		t.fire(now, s)
	case TimerRunning:
		if t.due(now) {
			t.fire(now, s)
		}
	}
}

func (t *Timer) due(now time.Time) bool {
	if t.param.Schedule != nil {
		return !now.Before(t.next)
	}
	return now.Sub(t.lastFire) > t.param.Frequency
}

func (t *Timer) fire(now time.Time, s *Scheduler) {
	t.lastFire = now
	if t.param.Schedule != nil {
		t.next = t.param.Schedule.Next(now)
	}
	t.fired++

	var err error
	if t.param.Async && s != nil {
		s.PushTask(NewTask(t.param.Action, WithName(t.Name())))
	} else {
		err = runInline(t.param.Action)
		t.lastErr = err
	}

	if t.param.Iterations > 0 && t.fired >= t.param.Iterations {
		t.state = TimerExpired
	}
	if s != nil {
		s.timerFired(t, err)
	}
}

func runInline(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

func (t *Timer) Pause() {
	if t.state == TimerRunning {
		t.state = TimerPaused
	}
}

func (t *Timer) Resume() {
	if t.state == TimerPaused {
		t.state = TimerRunning
	}
}

func (t *Timer) SetPaused(paused bool) {
	if paused {
		t.Pause()
	} else {
		t.Resume()
	}
}

// TogglePaused flips between running and paused; other states are left alone.
func (t *Timer) TogglePaused() {
	switch t.state {
	case TimerRunning:
		t.state = TimerPaused
	case TimerPaused:
		t.state = TimerRunning
	}
}

func timePoint(ts *timestep.Timestep) time.Time {
	if ts == nil {
		return time.Now()
	}
	return ts.TimePoint()
}
