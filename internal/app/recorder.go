package app

import (
	"context"
	"time"

	"framesched/internal/eventbus"
	"framesched/internal/storage"
	"framesched/internal/task"
	logx "framesched/pkg/logx"
)

const (
	recorderBuffer       = 1024
	recorderWriteTimeout = 2 * time.Second
)

// recorder consumes scheduler events off the frame goroutine: it logs
// failures and appends finished tasks and expired timers to the store.
type recorder struct {
	log     logx.Logger
	store   storage.Store // may be nil
	session string

	events <-chan eventbus.Event
	unsub  func()
}

func newRecorder(bus eventbus.Bus, store storage.Store, session string, log logx.Logger) *recorder {
	events, unsub := bus.Subscribe(recorderBuffer,
		eventbus.TaskFinished, eventbus.TaskDiscarded, eventbus.TimerFired, eventbus.TimerExpired)
	return &recorder{log: log, store: store, session: session, events: events, unsub: unsub}
}

// Run records until ctx is done, then drains what is already buffered.
func (r *recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case e, ok := <-r.events:
			if !ok {
				return nil
			}
			r.handle(e)
		}
	}
}

func (r *recorder) drain() {
	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(e)
		default:
			return
		}
	}
}

func (r *recorder) handle(e eventbus.Event) {
	if r.log.Enabled(logx.LevelTrace) {
		r.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	}

	var rec storage.TaskRecord
	switch ev := e.Data.(type) {
	case task.TaskEvent:
		switch e.Type {
		case eventbus.TaskFinished:
			if ev.Error != "" {
				r.log.Warn("task failed", logx.Uint64("id", ev.ID), logx.String("task", ev.Name), logx.String("err", ev.Error))
			}
		case eventbus.TaskDiscarded:
			ev.Error = "discarded"
		default:
			return
		}
		rec = storage.TaskRecord{
			Kind:         storage.KindTask,
			ID:           ev.ID,
			Name:         ev.Name,
			QueueDelayMS: ev.QueueDelay.Milliseconds(),
			DurationMS:   ev.Duration.Milliseconds(),
			Error:        ev.Error,
		}
	case task.TimerEvent:
		switch e.Type {
		case eventbus.TimerFired:
			if ev.Error != "" {
				r.log.Warn("timer action failed", logx.Uint64("id", ev.ID), logx.String("timer", ev.Name), logx.String("err", ev.Error))
			}
			return
		case eventbus.TimerExpired:
		default:
			return
		}
		rec = storage.TaskRecord{Kind: storage.KindTimer, ID: ev.ID, Name: ev.Name, Fired: ev.Fired}
	default:
		return
	}

	if r.store == nil {
		return
	}
	rec.At = e.Time
	rec.Session = r.session
	// Not tied to the run context: records drained during shutdown still land.
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()
	if err := r.store.AppendTaskRecord(ctx, rec); err != nil {
		r.log.Warn("history append failed", logx.Err(err))
	}
}
