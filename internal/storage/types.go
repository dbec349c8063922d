package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record kinds.
const (
	KindTask  = "task"
	KindTimer = "timer"
)

// TaskRecord is one finished task or expired timer.
// Keep it compact and schema-stable.
type TaskRecord struct {
	At      time.Time `json:"at"`
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	ID      uint64    `json:"id"`
	Name    string    `json:"name"`

	QueueDelayMS int64  `json:"queue_delay_ms,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	Fired        int    `json:"fired,omitempty"`
	Error        string `json:"error,omitempty"`
}
