package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultMaxRunning       = 5
	DefaultTickRate         = 60.0
	DefaultBacklogWarn      = 64
	DefaultBacklogWarnEvery = 10 * time.Second
	DefaultStatusAddr       = "127.0.0.1:7070"
)

// Built-in action names accepted by timers and tasks.
const (
	ActionLog   = "log"
	ActionSleep = "sleep"
	ActionGC    = "gc"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrDuplicateName = errors.New("duplicate name")
	ErrInsecureBind  = errors.New("non-loopback bind without token")
)

// SchedulerSettings are the effective scheduler values after defaults.
type SchedulerSettings struct {
	MaxRunning       int
	TickRate         float64
	BacklogWarn      int
	BacklogWarnEvery time.Duration
}

// Settings resolves defaults for the scheduler section.
func (c SchedulerConfig) Settings() (SchedulerSettings, error) {
	out := SchedulerSettings{
		MaxRunning:  c.MaxRunning,
		TickRate:    c.TickRate,
		BacklogWarn: c.BacklogWarn,
	}
	if c.MaxRunning < 0 {
		return out, fmt.Errorf("scheduler.max_running: must be >= 0")
	}
	if c.TickRate < 0 {
		return out, fmt.Errorf("scheduler.tick_rate: must be >= 0")
	}
	if out.MaxRunning == 0 {
		out.MaxRunning = DefaultMaxRunning
	}
	if out.TickRate == 0 {
		out.TickRate = DefaultTickRate
	}
	switch {
	case out.BacklogWarn == 0:
		out.BacklogWarn = DefaultBacklogWarn
	case out.BacklogWarn < 0:
		out.BacklogWarn = 0
	}
	every, err := ParseDurationOrDefault("scheduler.backlog_warn_every", c.BacklogWarnEvery, DefaultBacklogWarnEvery)
	if err != nil {
		return out, err
	}
	out.BacklogWarnEvery = every
	return out, nil
}

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported %q (use text or json)", cfg.Logging.Format))
	}
	if _, err := cfg.Scheduler.Settings(); err != nil {
		errs = append(errs, err)
	}

	seen := map[string]struct{}{}
	for i, t := range cfg.Timers {
		path := fmt.Sprintf("timers[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if _, dup := seen[t.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: %w %q", path, ErrDuplicateName, t.Name))
		}
		seen[t.Name] = struct{}{}
		if _, err := ParseSchedule(t.Every); err != nil {
			errs = append(errs, fmt.Errorf("%s.every: %w", path, err))
		}
		if t.Iterations < 0 {
			errs = append(errs, fmt.Errorf("%s.iterations: must be >= 0", path))
		}
		if err := t.ActionConfig.validate(path); err != nil {
			errs = append(errs, err)
		}
	}
	for i, t := range cfg.Tasks {
		if err := t.ActionConfig.validate(fmt.Sprintf("tasks[%d]", i)); err != nil {
			errs = append(errs, err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if err := cfg.Status.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a ActionConfig) validate(path string) error {
	switch strings.ToLower(strings.TrimSpace(a.Action)) {
	case ActionLog, ActionGC:
		return nil
	case ActionSleep:
		_, err := ParseDurationField(path+".duration", a.Duration)
		return err
	default:
		return fmt.Errorf("%s.action: %w %q", path, ErrUnknownAction, a.Action)
	}
}

func (s StatusConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	for _, f := range []struct{ path, raw string }{
		{"status.read_timeout", s.ReadTimeout},
		{"status.write_timeout", s.WriteTimeout},
		{"status.idle_timeout", s.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	addr := s.ListenAddr()
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("status.addr: %w", err)
	}
	if !IsLoopbackAddr(addr) && strings.TrimSpace(s.Token) == "" && !s.AllowInsecure {
		return fmt.Errorf("status.addr %q: %w (set status.token or status.allow_insecure)", addr, ErrInsecureBind)
	}
	return nil
}

// ListenAddr is Addr with the default applied.
func (s StatusConfig) ListenAddr() string {
	if a := strings.TrimSpace(s.Addr); a != "" {
		return a
	}
	return DefaultStatusAddr
}

// IsLoopbackAddr reports whether addr (host:port) binds a loopback host. An
// empty host means all interfaces and is not loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
