package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the task scheduler.
const (
	TaskQueued    = "task.queued"
	TaskStarted   = "task.started"
	TaskFinished  = "task.finished"
	TaskDiscarded = "task.discarded"
	TimerAdded    = "timer.added"
	TimerFired    = "timer.fired"
	TimerExpired  = "timer.expired"
)

// Event is a lightweight, in-memory signal used to decouple the frame loop
// from slower consumers (history store, status server).
//
// Contract:
//   - Publish MUST be non-blocking; it is called from the frame goroutine.
//   - Subscribers get buffered channels; a full buffer drops the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered channel. With types, only events of
	// those types are delivered.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts events a subscriber could not accept.
	Dropped() uint64
}

const defaultBuffer = 8

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	b := &memBus{}
	b.subs.Store(&[]*subscriber{})
	return b
}

type memBus struct {
	mu      sync.Mutex // serializes writers of subs
	subs    atomic.Pointer[[]*subscriber]
	dropped atomic.Uint64
}

type subscriber struct {
	types []string // empty: all

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) wants(typ string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, typ)
}

// offer reports false when the buffer was full.
func (s *subscriber) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range *b.subs.Load() {
		if s.wants(e.Type) && !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{types: slices.Clone(types), ch: make(chan Event, buffer)}

	b.mu.Lock()
	cur := *b.subs.Load()
	next := append(slices.Clip(cur), s)
	b.subs.Store(&next)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			cur := *b.subs.Load()
			next := slices.DeleteFunc(slices.Clone(cur), func(x *subscriber) bool { return x == s })
			b.subs.Store(&next)
			b.mu.Unlock()

			s.mu.Lock()
			s.closed = true
			close(s.ch)
			s.mu.Unlock()
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
