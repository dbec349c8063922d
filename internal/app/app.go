// Package app hosts the frame loop: it drives a task.Scheduler at a fixed
// tick rate and wires config reload, history, status and systemd around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"framesched/internal/config"
	"framesched/internal/eventbus"
	rtsup "framesched/internal/runtime/supervisor"
	"framesched/internal/status"
	"framesched/internal/storage"
	"framesched/internal/task"
	"framesched/internal/timestep"
	logx "framesched/pkg/logx"
)

// newLogService builds the log service; tests wrap it to observe the sinks.
var newLogService = logx.New

const (
	statusPublishEvery = 100 * time.Millisecond
	stopTimeout        = 5 * time.Second
)

type App struct {
	cfgm    *config.Manager
	cfg     *config.Config // last applied; owned by the frame goroutine
	reloads chan *config.Config

	session   string
	startedAt time.Time

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store        storage.Store
	rec          *recorder
	stopRecorder context.CancelFunc
	board        *status.Board
	status       *status.Service // nil when disabled
	sd           *sdNotifier

	sched *task.Scheduler
	ts    *timestep.Timestep
	pacer *rate.Limiter

	publishStatus rate.Sometimes
	pingWatchdog  rate.Sometimes

	sup *rtsup.Supervisor
}

// New loads cfgPath and builds every component. Timers are installed and
// startup tasks queued; nothing runs until Run.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	settings, err := cfg.Scheduler.Settings()
	if err != nil {
		return nil, err
	}

	session := uuid.NewString()
	logSvc, log := newLogService(mapLogConfig(cfg.Logging))
	log = log.With(logx.String("session", session))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:      cfgm,
		cfg:       cfg,
		reloads:   cfgm.Subscribe(4),
		session:   session,
		startedAt: time.Now(),
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       eventbus.New(),
		board:     &status.Board{},
		ts:        timestep.New(),
		pacer:     rate.NewLimiter(rate.Limit(settings.TickRate), 1),

		publishStatus: rate.Sometimes{Interval: statusPublishEvery},
	}
	a.log.Info("config loaded", logx.String("path", cfgm.Path()))

	built := false
	defer func() {
		if !built {
			a.closeStore()
			_ = a.logs.Close()
		}
	}()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.sched = task.NewScheduler(
		task.WithMaxRunning(settings.MaxRunning),
		task.WithLogger(log.With(logx.String("comp", "scheduler"))),
		task.WithEventBus(a.bus),
		task.WithBacklogWarning(settings.BacklogWarn, settings.BacklogWarnEvery),
	)
	a.rec = newRecorder(a.bus, a.store, session, log.With(logx.String("comp", "recorder")))

	if cfg.Status.Enabled {
		scfg, err := mapStatusConfig(cfg.Status)
		if err != nil {
			return nil, err
		}
		a.status = status.New(scfg, a.board, a.store, log.With(logx.String("comp", "status")))
	}

	if err := a.install(cfg); err != nil {
		return nil, err
	}

	a.sd = newSDNotifier(log.With(logx.String("comp", "systemd")))
	if iv := a.sd.PingInterval(); iv > 0 {
		a.pingWatchdog = rate.Sometimes{Interval: iv}
	}
	built = true
	return a, nil
}

// install pushes the configured timers and startup tasks.
func (a *App) install(cfg *config.Config) error {
	for _, tc := range cfg.Timers {
		p, err := a.timerParam(tc)
		if err != nil {
			return err
		}
		h := a.sched.PushTimer(p)
		a.log.Debug("timer installed",
			logx.Uint64("id", h.ID()),
			logx.String("timer", tc.Name),
			logx.String("every", tc.Every),
			logx.Bool("async", tc.Async),
		)
	}
	for i, tc := range cfg.Tasks {
		name := tc.Name
		if name == "" {
			name = fmt.Sprintf("startup#%d", i)
		}
		fn, err := a.action(name, tc.ActionConfig)
		if err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}
		var t *task.Task
		t = task.NewTask(fn, task.WithName(name), task.OnTermination(func() {
			if err := t.Err(); err != nil {
				a.log.Warn("startup task failed", logx.String("task", name), logx.Err(err))
				return
			}
			a.log.Info("startup task done", logx.String("task", name), logx.Duration("took", t.RunTime()))
		}))
		a.sched.PushTask(t)
	}
	return nil
}

// Scheduler exposes the scheduler. Like every Scheduler method, it must only
// be used from the goroutine calling Run (for example from a timer action
// running inline).
func (a *App) Scheduler() *task.Scheduler { return a.sched }

func (a *App) Session() string { return a.session }

// Run drives frames until ctx is done, then shuts down: the queue is
// discarded and running tasks are awaited before Run returns.
func (a *App) Run(ctx context.Context) error {
	// A background service that gives up stops the frame loop; Run then
	// returns its error.
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)
	// The recorder outlives the frame loop so the events of the final
	// drain are still recorded.
	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	a.stopRecorder = stopRecorder
	a.sup.Go("history.recorder", func(context.Context) error { return a.rec.Run(recCtx) })
	a.sup.Go("config.watch", a.cfgm.Watch)
	if a.status != nil {
		a.status.Start(a.sup)
	}

	a.sd.Ready()
	a.log.Info("frame loop started",
		logx.Float64("tick_rate", float64(a.pacer.Limit())),
		logx.Int("max_running", a.sched.MaxRunning()),
		logx.Int("timers", a.sched.TimerCount()),
		logx.Int("queued", a.sched.QueueLen()),
	)

	runCtx := a.sup.Context()
	for {
		if err := a.pacer.Wait(runCtx); err != nil {
			break
		}
		a.frame()
	}
	return a.shutdown()
}

func (a *App) frame() {
	a.ts.Update()
	a.applyPendingConfig()
	a.sched.Frame(a.ts)
	a.publishStatus.Do(a.publish)
	a.pingWatchdog.Do(a.sd.Watchdog)
}

func (a *App) publish() {
	a.board.Publish(status.Report{
		Session:       a.session,
		StartedAt:     a.startedAt,
		At:            a.ts.TimePoint(),
		Frame:         a.ts.FrameNumber(),
		FPS:           a.ts.FPS(),
		StabilizedFPS: a.ts.StabilizedFPS(),
		Scheduler:     a.sched.Snapshot(),
		Supervisor:    a.sup.Snapshot(),
		EventsDrops:   a.bus.Dropped(),
	})
}

// applyPendingConfig applies at most the newest pending reload.
func (a *App) applyPendingConfig() {
	var newCfg *config.Config
drain:
	for {
		select {
		case c := <-a.reloads:
			newCfg = c
		default:
			break drain
		}
	}
	if newCfg == nil {
		return
	}
	a.applyConfig(newCfg)
}

func (a *App) applyConfig(newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(a.cfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		a.cfg = newCfg
		return
	}

	settings, err := newCfg.Scheduler.Settings()
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	if err := a.logs.Apply(mapLogConfig(newCfg.Logging)); err != nil {
		a.log.Warn("log sink unavailable", logx.Err(err))
	}
	a.sched.SetMaxRunning(settings.MaxRunning)
	a.sched.SetBacklogWarning(settings.BacklogWarn, settings.BacklogWarnEvery)
	a.pacer.SetLimit(rate.Limit(settings.TickRate))

	for _, s := range sections {
		switch s {
		case "storage", "status", "timers", "tasks":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	a.cfg = newCfg

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) shutdown() error {
	a.sd.Stopping()
	start := time.Now()
	a.log.Info("stopping",
		logx.Int("queued", a.sched.QueueLen()),
		logx.Int("running", a.sched.RunningLen()),
	)

	a.sched.ClearTimers()
	a.sched.Close()
	a.publish()
	a.stopRecorder()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := a.sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("supervisor stop deadline reached", logx.Duration("timeout", stopTimeout))
	}
	a.cfgm.Unsubscribe(a.reloads)
	a.closeStore()

	a.log.Info("stopped", logx.Duration("took", time.Since(start)), logx.Any("stats", a.sched.Stats()))
	_ = a.logs.Close()
	return err
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
}
