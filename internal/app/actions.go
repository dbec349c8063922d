package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"framesched/internal/config"
	logx "framesched/pkg/logx"
)

// action resolves a built-in action. The returned func may run on a task
// goroutine, so it only touches goroutine-safe state (the logger and the
// status board).
func (a *App) action(name string, ac config.ActionConfig) (func() error, error) {
	log := a.log.With(logx.String("action", ac.Action), logx.String("name", name))

	switch strings.ToLower(strings.TrimSpace(ac.Action)) {
	case config.ActionLog:
		msg := strings.TrimSpace(ac.Message)
		if msg == "" {
			msg = "heartbeat"
		}
		return func() error {
			fields := []logx.Field{}
			if rep, ok := a.board.Latest(); ok {
				fields = append(fields,
					logx.Uint64("frame", rep.Frame),
					logx.Float64("fps", rep.StabilizedFPS),
					logx.Int("running", len(rep.Scheduler.Running)),
					logx.Int("queued", len(rep.Scheduler.Queued)),
				)
			}
			log.Info(msg, fields...)
			return nil
		}, nil

	case config.ActionSleep:
		d, err := config.ParseDurationField("duration", ac.Duration)
		if err != nil {
			return nil, err
		}
		return func() error {
			time.Sleep(d)
			log.Debug("sleep done", logx.Duration("took", d))
			return nil
		}, nil

	case config.ActionGC:
		return func() error {
			start := time.Now()
			runtime.GC()
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			log.Info("gc",
				logx.Duration("took", time.Since(start)),
				logx.Uint64("heap_alloc", ms.HeapAlloc),
				logx.Uint64("heap_objects", ms.HeapObjects),
				logx.Int64("num_gc", int64(ms.NumGC)),
				logx.Int("goroutines", runtime.NumGoroutine()),
			)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("%w %q", config.ErrUnknownAction, ac.Action)
}
