package task

import "time"

// TimerHandle is a non-owning reference to a timer held by a Scheduler.
// Resolve it with Scheduler.LookupTimer before each use; the scheduler may
// prune the timer at any frame boundary.
type TimerHandle struct {
	id uint64
}

// ID is the timer's identifier; 0 for the zero handle.
func (h TimerHandle) ID() uint64 { return h.id }

// Status is the tri-state answer of Scheduler.TaskStatus.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusQueued
	StatusRunning
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// TaskEvent is the payload of task.* events on the event bus.
type TaskEvent struct {
	ID         uint64        `json:"id"`
	Name       string        `json:"name"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// TimerEvent is the payload of timer.* events on the event bus.
type TimerEvent struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Fired int    `json:"fired"`
	Async bool   `json:"async"`
	Error string `json:"error,omitempty"`
}

// Stats are cumulative counters since the scheduler was created.
type Stats struct {
	Submitted    uint64 `json:"submitted"`
	Started      uint64 `json:"started"`
	Completed    uint64 `json:"completed"`
	Failed       uint64 `json:"failed"`
	Discarded    uint64 `json:"discarded"`
	TimerFirings uint64 `json:"timer_firings"`
}

type TaskInfo struct {
	ID    uint64    `json:"id"`
	Name  string    `json:"name"`
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

type TimerInfo struct {
	ID         uint64        `json:"id"`
	Name       string        `json:"name"`
	State      string        `json:"state"`
	Async      bool          `json:"async"`
	Frequency  time.Duration `json:"frequency,omitempty"`
	Cron       bool          `json:"cron,omitempty"`
	Next       time.Time     `json:"next,omitempty"`
	Fired      int           `json:"fired"`
	Iterations int           `json:"iterations"`
	LastFire   time.Time     `json:"last_fire"`
	LastErr    string        `json:"last_err,omitempty"`
}

// Snapshot is a copy of the scheduler state, safe to hand to other goroutines.
type Snapshot struct {
	MaxRunning int         `json:"max_running"`
	LastTaskID uint64      `json:"last_task_id"`
	Queued     []TaskInfo  `json:"queued"`
	Running    []TaskInfo  `json:"running"`
	Timers     []TimerInfo `json:"timers"`
	Stats      Stats       `json:"stats"`
}

// Snapshot copies the current state. Like every Scheduler method it must be
// called from the frame goroutine.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		MaxRunning: s.MaxRunning(),
		LastTaskID: s.lastTaskID,
		Queued:     make([]TaskInfo, 0, len(s.queue)),
		Running:    make([]TaskInfo, 0, len(s.running)),
		Timers:     make([]TimerInfo, 0, len(s.timers)),
		Stats:      s.stats,
	}
	for _, t := range s.queue {
		snap.Queued = append(snap.Queued, TaskInfo{ID: t.id, Name: t.Name(), State: t.state.String(), Since: t.queuedAt})
	}
	for _, t := range s.running {
		snap.Running = append(snap.Running, TaskInfo{ID: t.id, Name: t.Name(), State: t.state.String(), Since: t.startedAt})
	}
	for _, tm := range s.timers {
		info := TimerInfo{
			ID:         tm.id,
			Name:       tm.Name(),
			State:      tm.state.String(),
			Async:      tm.param.Async,
			Frequency:  tm.param.Frequency,
			Cron:       tm.param.Schedule != nil,
			Next:       tm.next,
			Fired:      tm.fired,
			Iterations: tm.param.Iterations,
			LastFire:   tm.lastFire,
		}
		if tm.lastErr != nil {
			info.LastErr = tm.lastErr.Error()
		}
		snap.Timers = append(snap.Timers, info)
	}
	return snap
}

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats { return s.stats }
