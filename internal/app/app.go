// Package app wires the engines together and owns the run lifecycle: start,
// stop, daily reset, heartbeat and the operator status surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ambler/internal/activity"
	"ambler/internal/autopost"
	"ambler/internal/browser"
	"ambler/internal/config"
	"ambler/internal/coordinator"
	"ambler/internal/license"
	"ambler/internal/logging"
	"ambler/internal/media"
	"ambler/internal/plan"
	"ambler/internal/policy"
	"ambler/internal/sched"
	"ambler/internal/store"
	"ambler/internal/types"
)

// Durable alarm names owned by the app itself.
const (
	AlarmDailyReset = "app:daily-reset"
	AlarmHeartbeat  = "app:heartbeat"
)

const heartbeatInterval = 2 * time.Minute

// App owns every component of a running ambler process.
type App struct {
	cfg   config.Config
	loc   *time.Location
	log   *zap.Logger
	clock types.Clock

	store    *store.Store
	timers   *sched.Timers
	lock     *coordinator.Lock
	exec     *browser.Executor
	license  *license.Manager
	policy   *policy.Client
	library  *media.Library
	feed     *logging.Feed
	post     *autopost.Engine
	activity *activity.Engine

	stopping   atomic.Bool
	hbFailures atomic.Int32
}

// New opens the store, builds every engine and registers the alarm handlers.
// Nothing is armed until Run.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	loc := cfg.Location()

	st, err := store.Open(filepath.Join(cfg.DataDir, "ambler.db"), cfg.SeedSettings())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		cfg:     cfg,
		loc:     loc,
		log:     log,
		clock:   types.RealClock{},
		store:   st,
		lock:    coordinator.New(nil),
		exec:    browser.NewExecutor(cfg.Browser, log),
		license: license.NewManager(cfg.API, st, log),
	}
	a.feed = logging.NewFeed(log, st, a.clock)
	a.timers = sched.New(st, log.Named("sched"), a.clock)

	fp, err := a.license.Fingerprint(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.policy = policy.New(cfg.API, a.license, fp, log)
	a.library = media.NewLibrary(cfg.Media.Dir, log, rand.New(rand.NewSource(time.Now().UnixNano())))

	a.post = autopost.New(autopost.Deps{
		Config:   cfg.Autopost,
		Location: loc,
		Store:    st,
		Sched:    a.timers,
		Lock:     a.lock,
		Exec:     a.exec,
		Policy:   a.policy,
		Library:  a.library,
		Feed:     a.feed,
		Clock:    a.clock,
		OnFatal:  a.fatal,
	})
	a.activity = activity.New(activity.Deps{
		Schedule: cfg.Schedule,
		Profile:  cfg.Behavior,
		Location: loc,
		Store:    st,
		Sched:    a.timers,
		Lock:     a.lock,
		Exec:     a.exec,
		Policy:   a.policy,
		Feed:     a.feed,
		Clock:    a.clock,
		PostBusy: a.post.Posting,
		OnFatal:  a.fatal,
	})

	a.timers.Handle(autopost.AlarmTick, a.post.Tick)
	a.timers.Handle(activity.AlarmSession, a.activity.Tick)
	a.timers.Handle(AlarmDailyReset, a.dailyReset)
	a.timers.Handle(AlarmHeartbeat, a.heartbeat)
	return a, nil
}

// Run restores persisted alarms, resumes a run that was active before the
// process restarted (or begins one when autostart is set), and blocks until
// ctx is cancelled.
func (a *App) Run(ctx context.Context, autostart bool) error {
	if err := a.library.Watch(ctx); err != nil {
		a.log.Warn("media watch unavailable", zap.Error(err))
	}
	if err := a.timers.Restore(ctx); err != nil {
		return err
	}
	if err := a.armDailyReset(ctx); err != nil {
		return err
	}

	rt, err := a.store.Runtime(ctx)
	if err != nil {
		return err
	}
	if rt.Running || autostart {
		if rt.Running {
			a.log.Info("resuming previous run")
		}
		if err := a.Start(ctx); err != nil {
			a.feed.Error(ctx, "RESUME_FAILED", "could not start run", zap.Error(err))
		}
	}

	<-ctx.Done()

	// Orderly shutdown: stop timers first so no handler races the closes.
	a.timers.Close()
	_ = a.exec.Close()
	return a.store.Close()
}

// Start flips the run on and starts the enabled engines. The session token is
// verified up front so an invalid license fails the start instead of the
// first tick.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.license.Token(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	a.stopping.Store(false)

	if _, err := a.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Running = true
		r.Status = types.StatusRunning
	}); err != nil {
		return err
	}

	settings, err := a.store.Settings(ctx)
	if err != nil {
		return err
	}
	if settings.AutopostEnabled {
		if err := a.post.OnStart(ctx); err != nil {
			return err
		}
	}
	if settings.ActivityEnabled {
		if err := a.activity.OnStart(ctx); err != nil {
			return err
		}
	}
	if err := a.timers.ScheduleOnce(ctx, AlarmHeartbeat, a.clock.Now().Add(heartbeatInterval)); err != nil {
		return err
	}
	a.feed.Info(ctx, "STARTED", "run started")
	return nil
}

// Stop is the emergency stop. Ordering matters: the stop flags go down first
// so in-flight loops abort at their next check, then alarms are cleared, the
// executor interrupted and the lock released.
func (a *App) Stop(ctx context.Context) error {
	a.stopping.Store(true)

	if _, err := a.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Running = false
		if r.Status == types.StatusRunning {
			r.Status = types.StatusStopped
		}
		r.NextPostAt = 0
		r.NextActivityWindow = nil
	}); err != nil {
		return err
	}

	var errs []error
	if err := a.post.OnStop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.activity.OnStop(ctx); err != nil {
		errs = append(errs, err)
	}
	a.exec.Abort()
	if err := a.timers.CancelAll(ctx); err != nil {
		errs = append(errs, err)
	}
	a.lock.Release(coordinator.OwnerAutopost)
	a.lock.Release(coordinator.OwnerActivity)

	// The daily reset must keep firing while the process lives.
	if err := a.armDailyReset(ctx); err != nil {
		errs = append(errs, err)
	}
	a.feed.Info(ctx, "STOPPED", "run stopped")
	return errors.Join(errs...)
}

// fatal handles authentication failure: clear cached credentials, stop
// everything, surface to the operator. Idempotent across racing engines.
func (a *App) fatal(ctx context.Context, err error) {
	if !a.stopping.CompareAndSwap(false, true) {
		return
	}
	a.license.Invalidate()
	a.feed.Error(ctx, types.CodeLicenseInvalid, "stopping: authentication failure", zap.Error(err))
	if stopErr := a.Stop(ctx); stopErr != nil {
		a.log.Error("stop after auth failure", zap.Error(stopErr))
	}
}

func (a *App) armDailyReset(ctx context.Context) error {
	at := plan.NextMidnight(a.clock.Now(), a.loc)
	return a.timers.ScheduleOnce(ctx, AlarmDailyReset, at)
}

// dailyReset zeroes the daily counters (lifetime totals survive), discards
// the plan so a fresh one is built, and re-arms itself for the next midnight.
func (a *App) dailyReset(ctx context.Context) {
	now := a.clock.Now()
	rt, err := a.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.ResetDaily()
		r.SessionPlanToday = nil
		r.SessionPlanDate = 0
		r.Mood = ""
		r.NextActivityWindow = nil
		r.LastResetDate = plan.DateString(now, a.loc)
	})
	if err != nil {
		a.feed.Error(ctx, "RESET_FAILED", "daily reset failed", zap.Error(err))
	} else {
		a.feed.Info(ctx, "DAILY_RESET", "daily counters reset",
			zap.String("date", rt.LastResetDate))
	}

	if err == nil && rt.Running {
		settings, serr := a.store.Settings(ctx)
		if serr == nil && settings.ActivityEnabled {
			// Rebuild the plan now instead of waiting for the next tick.
			if aerr := a.activity.OnStart(ctx); aerr != nil {
				a.feed.Error(ctx, "PLAN_REBUILD_FAILED", "post-reset plan rebuild failed", zap.Error(aerr))
			}
		}
	}

	if err := a.armDailyReset(ctx); err != nil {
		a.feed.Error(ctx, "ALARM_FAILED", "failed to re-arm daily reset", zap.Error(err))
	}
}

// heartbeat re-verifies the session every couple of minutes while running.
// Authentication rejection stops the run; network trouble is only counted.
func (a *App) heartbeat(ctx context.Context) {
	rt, err := a.store.Runtime(ctx)
	if err != nil {
		// A store hiccup must not silence the liveness loop; only a clean
		// not-running read ends the chain.
		n := a.hbFailures.Add(1)
		a.log.Warn("heartbeat: runtime read failed", zap.Error(err), zap.Int32("consecutive", n))
		if rerr := a.timers.ScheduleOnce(ctx, AlarmHeartbeat, a.clock.Now().Add(heartbeatInterval)); rerr != nil {
			a.log.Error("re-arm heartbeat", zap.Error(rerr))
		}
		return
	}
	if !rt.Running {
		return
	}

	info, err := a.policy.Heartbeat(ctx)
	switch {
	case errors.Is(err, types.ErrAuth):
		a.fatal(ctx, err)
		return
	case err != nil:
		n := a.hbFailures.Add(1)
		a.log.Warn("heartbeat failed", zap.Error(err), zap.Int32("consecutive", n))
	case info.UpdateRequired:
		a.feed.Warn(ctx, "UPDATE_REQUIRED", "backend requires an update, stopping")
		if _, merr := a.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
			r.Status = types.StatusUpdateRequired
		}); merr != nil {
			a.log.Error("persist update-required status", zap.Error(merr))
		}
		if serr := a.Stop(ctx); serr != nil {
			a.log.Error("stop after update-required", zap.Error(serr))
		}
		return
	default:
		a.hbFailures.Store(0)
	}

	if err := a.timers.ScheduleOnce(ctx, AlarmHeartbeat, a.clock.Now().Add(heartbeatInterval)); err != nil {
		a.log.Error("re-arm heartbeat", zap.Error(err))
	}
}
