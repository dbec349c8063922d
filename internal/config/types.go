package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Timers are installed once at startup. They are not rebuilt on reload.
	Timers []TimerConfig `json:"timers,omitempty"`

	// Tasks are pushed once at startup.
	Tasks []TaskConfig `json:"tasks,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Status  StatusConfig   `json:"status,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format of the console sink: "text" (default) or "json".
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool      `json:"enabled"`
	Path    string    `json:"path"`
	Rotate  LogRotate `json:"rotate,omitempty"`
}

// LogRotate turns on size-based rotation of the log file.
type LogRotate struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"max_size_mb,omitempty"`
	MaxBackups int  `json:"max_backups,omitempty"`
	MaxAgeDays int  `json:"max_age_days,omitempty"`
	Compress   bool `json:"compress,omitempty"`
}

// SchedulerConfig controls the frame loop and the task scheduler.
//
// Defaults (when fields are omitted/zero):
//   - max_running: 5
//   - tick_rate: 60 (frames per second)
//   - backlog_warn: 64 queued tasks
//   - backlog_warn_every: "10s"
type SchedulerConfig struct {
	MaxRunning int `json:"max_running,omitempty"`

	// TickRate is the target number of frames per second.
	TickRate float64 `json:"tick_rate,omitempty"`

	// BacklogWarn logs a warning when this many tasks are still queued after
	// admission. Use -1 to disable.
	BacklogWarn int `json:"backlog_warn,omitempty"`

	// BacklogWarnEvery is a Go duration string throttling the backlog warning.
	BacklogWarnEvery string `json:"backlog_warn_every,omitempty"`
}

// TimerConfig declares a recurring built-in action.
//
// Example:
//
//	timers:
//	  - name: heartbeat
//	    every: 5s
//	    action: log
//	  - name: compact
//	    every: "0 */6 * * *"
//	    action: gc
//	    async: true
type TimerConfig struct {
	Name string `json:"name"`

	// Every is an interval ("500ms", "02:30") or a cron expression
	// ("*/5 * * * *", "@hourly"). See ParseSchedule.
	Every string `json:"every"`

	Iterations int  `json:"iterations,omitempty"`
	Async      bool `json:"async,omitempty"`

	ActionConfig
}

// TaskConfig declares a one-shot built-in action pushed at startup.
type TaskConfig struct {
	Name string `json:"name"`
	ActionConfig
}

// ActionConfig selects a built-in action: "log", "sleep" or "gc".
type ActionConfig struct {
	Action string `json:"action"`

	// Duration is the simulated work time of the "sleep" action.
	Duration string `json:"duration,omitempty"`

	// Message replaces the default line of the "log" action.
	Message string `json:"message,omitempty"`
}

// StorageConfig controls the optional task history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./framesched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// StatusConfig controls the optional status HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:7070").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:7070"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"` // mount /debug/pprof

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
