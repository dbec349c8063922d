// Package status serves the latest scheduler state over HTTP.
//
// The frame loop publishes a Report to a Board; HTTP handlers only ever read
// the Board, never the Scheduler itself.
package status

import (
	"sync/atomic"
	"time"

	rtsup "framesched/internal/runtime/supervisor"
	"framesched/internal/task"
)

type Report struct {
	Session   string    `json:"session"`
	StartedAt time.Time `json:"started_at"`
	At        time.Time `json:"at"`

	Frame         uint64  `json:"frame"`
	FPS           float64 `json:"fps"`
	StabilizedFPS float64 `json:"stabilized_fps"`

	Scheduler   task.Snapshot  `json:"scheduler"`
	Supervisor  rtsup.Snapshot `json:"supervisor"`
	EventsDrops uint64         `json:"events_dropped"`
}

// Board holds the most recent Report. Safe for concurrent use.
type Board struct {
	cur atomic.Pointer[Report]
}

func (b *Board) Publish(r Report) { b.cur.Store(&r) }

// Latest returns the last published report, or false before the first one.
func (b *Board) Latest() (Report, bool) {
	r := b.cur.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}
