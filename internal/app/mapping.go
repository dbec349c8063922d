package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"framesched/internal/config"
	"framesched/internal/status"
	"framesched/internal/storage"
	"framesched/internal/task"
	logx "framesched/pkg/logx"
)

func mapLogConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    strings.EqualFold(strings.TrimSpace(c.Format), "json"),
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
			Rotate: logx.RotateConfig{
				Enabled:    c.File.Rotate.Enabled,
				MaxSizeMB:  c.File.Rotate.MaxSizeMB,
				MaxBackups: c.File.Rotate.MaxBackups,
				MaxAgeDays: c.File.Rotate.MaxAgeDays,
				Compress:   c.File.Rotate.Compress,
			},
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

// validateConfig is config.Validate plus the checks the component mappings
// make, so the manager never commits a config New would refuse.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if cfg.Status.Enabled {
		if _, err := mapStatusConfig(cfg.Status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func mapStatusConfig(c config.StatusConfig) (status.Config, error) {
	out := status.Config{
		Addr:          c.ListenAddr(),
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("status.read_timeout", c.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	if out.WriteTimeout, err = config.ParseDurationField("status.write_timeout", c.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("status.idle_timeout", c.IdleTimeout, time.Minute); err != nil {
		return out, err
	}
	return out, nil
}

// timerParam builds the scheduler timer for a config entry.
func (a *App) timerParam(tc config.TimerConfig) (task.TimerParam, error) {
	sch, err := config.ParseSchedule(tc.Every)
	if err != nil {
		return task.TimerParam{}, fmt.Errorf("timer %q: %w", tc.Name, err)
	}
	fn, err := a.action(tc.Name, tc.ActionConfig)
	if err != nil {
		return task.TimerParam{}, fmt.Errorf("timer %q: %w", tc.Name, err)
	}
	p := task.TimerParam{
		Name:       tc.Name,
		Action:     fn,
		Async:      tc.Async,
		Iterations: tc.Iterations,
	}
	if sch.Kind == config.ScheduleCron {
		p.Schedule = sch.Cron
	} else {
		p.Frequency = sch.Every
	}
	return p, nil
}
