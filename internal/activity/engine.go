// Package activity runs the session scheduler: it keeps a daily plan of
// activity windows, arms an alarm for the next window, and drives the
// behavior engine against the browser tab for the length of each session.
package activity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ambler/internal/behavior"
	"ambler/internal/config"
	"ambler/internal/coordinator"
	"ambler/internal/logging"
	"ambler/internal/plan"
	"ambler/internal/policy"
	"ambler/internal/types"
)

// AlarmSession is the durable alarm name for the next session start.
const AlarmSession = "activity:session"

const (
	// postImminentWindow keeps activity off the tab when a post is due soon.
	postImminentWindow = 8 * time.Second

	// contentionDeferral re-arms a tick that found the post engine busy.
	contentionDeferral = 2 * time.Second

	// failureRetry re-arms after a failed tick, so a single bad session never
	// kills the loop.
	failureRetry = 5 * time.Minute

	// noTabGrace is how many consecutive missing-tab probes end a session.
	noTabGrace = 3
)

// Engine is the activity scheduler.
type Engine struct {
	schedule config.ScheduleConfig
	profile  config.BehaviorProfile
	loc      *time.Location
	store    types.RuntimeStore
	sched    types.Scheduler
	lock     *coordinator.Lock
	exec     types.Executor
	policy   *policy.Client
	builder  *plan.Builder
	feed     *logging.Feed
	clock    types.Clock
	rng      *rand.Rand

	// postBusy reports whether the post engine is mid-publish.
	postBusy func() bool
	onFatal  func(ctx context.Context, err error)

	sessionInProgress atomic.Bool
	stopped           atomic.Bool
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Schedule config.ScheduleConfig
	Profile  config.BehaviorProfile
	Location *time.Location
	Store    types.RuntimeStore
	Sched    types.Scheduler
	Lock     *coordinator.Lock
	Exec     types.Executor
	Policy   *policy.Client
	Feed     *logging.Feed
	Clock    types.Clock
	PostBusy func() bool
	OnFatal  func(ctx context.Context, err error)
}

func New(d Deps) *Engine {
	clock := d.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	e := &Engine{
		schedule: d.Schedule,
		profile:  d.Profile,
		loc:      d.Location,
		store:    d.Store,
		sched:    d.Sched,
		lock:     d.Lock,
		exec:     d.Exec,
		policy:   d.Policy,
		builder:  plan.NewBuilder(d.Schedule, rng),
		feed:     d.Feed.Named("activity"),
		clock:    clock,
		rng:      rng,
		postBusy: d.PostBusy,
		onFatal:  d.OnFatal,
	}
	e.stopped.Store(true)
	return e
}

// InSession reports whether a session is currently ticking.
func (e *Engine) InSession() bool { return e.sessionInProgress.Load() }

// OnStart validates or regenerates today's plan and arms the next window.
func (e *Engine) OnStart(ctx context.Context) error {
	e.stopped.Store(false)
	if err := e.ensurePlan(ctx); err != nil {
		return err
	}
	return e.scheduleNextWindow(ctx)
}

// OnStop disarms the session alarm. A session in flight notices the stop flag
// at its next tick boundary.
func (e *Engine) OnStop(ctx context.Context) error {
	e.stopped.Store(true)
	if err := e.sched.Cancel(ctx, AlarmSession); err != nil {
		return err
	}
	_, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.NextActivityWindow = nil
	})
	return err
}

// ForceStart begins a session immediately, bypassing the plan. Used by the
// operator surface.
func (e *Engine) ForceStart(ctx context.Context) error {
	now := e.clock.Now()
	dur := time.Duration(e.schedule.SessionDurations[types.SessionMedium][0]) * time.Minute
	if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.NextActivityWindow = &types.ActivityWindow{Start: now, End: now.Add(dur)}
	}); err != nil {
		return err
	}
	return e.sched.ScheduleOnce(ctx, AlarmSession, now)
}

// ensurePlan regenerates the daily plan when it is missing, corrupt, or left
// over from a previous day. Regeneration also zeroes the daily counters, so a
// device that slept through midnight catches up.
func (e *Engine) ensurePlan(ctx context.Context) error {
	rt, err := e.store.Runtime(ctx)
	if err != nil {
		return fmt.Errorf("activity: load runtime: %w", err)
	}
	todayStart := plan.TodayStart(e.clock.Now(), e.loc)
	if !plan.IsStale(rt.SessionPlanDate, todayStart) && len(rt.SessionPlanToday) > 0 {
		return nil
	}

	settings, err := e.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("activity: load settings: %w", err)
	}

	p := e.buildPlan(ctx, todayStart, settings)
	if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.ResetDaily()
		r.SessionPlanToday = p.Sessions
		r.SessionPlanDate = p.PlanDate
		r.Mood = p.Mood
		r.NextActivityWindow = nil
	}); err != nil {
		return fmt.Errorf("activity: persist plan: %w", err)
	}

	if len(p.Sessions) == 0 {
		e.feed.Info(ctx, "OFF_DAY", "no activity sessions planned today", zap.String("mood", string(p.Mood)))
	} else {
		e.feed.Info(ctx, "PLAN_BUILT", "daily activity plan built",
			zap.Int("sessions", len(p.Sessions)),
			zap.String("mood", string(p.Mood)),
			zap.Int("total_minutes", p.TotalMinutes))
	}
	return nil
}

// buildPlan prefers a backend-issued plan and falls back to the local builder
// when the backend has none or is unreachable.
func (e *Engine) buildPlan(ctx context.Context, todayStart time.Time, settings types.Settings) plan.Plan {
	local := e.builder.Build(todayStart, settings)

	remote, err := e.policy.DailyPlan(ctx, settings.Timezone, local.Mood)
	if err != nil || len(remote.Sessions) == 0 {
		if err != nil && !errors.Is(err, types.ErrAuth) {
			e.feed.Logger().Debug("remote plan unavailable, using local", zap.Error(err))
		}
		return local
	}
	return plan.Plan{
		Sessions:     remote.Sessions,
		Mood:         remote.Mood,
		PlanDate:     todayStart.UnixMilli(),
		TotalMinutes: remote.TotalMinutes,
	}
}

// scheduleNextWindow arms the alarm for the first planned session still ahead
// of now and records it as the next activity window.
func (e *Engine) scheduleNextWindow(ctx context.Context) error {
	rt, err := e.store.Runtime(ctx)
	if err != nil {
		return fmt.Errorf("activity: load runtime: %w", err)
	}

	now := e.clock.Now()
	todayStart := plan.TodayStart(now, e.loc)
	for _, s := range rt.SessionPlanToday {
		start := plan.ClockTime(todayStart, s.StartMinutes, e.loc)
		end := start.Add(time.Duration(s.DurationMinutes) * time.Minute)
		if !end.After(now) {
			continue
		}
		window := &types.ActivityWindow{Start: start, End: end}
		if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
			r.NextActivityWindow = window
		}); err != nil {
			return fmt.Errorf("activity: persist window: %w", err)
		}
		if err := e.sched.ScheduleOnce(ctx, AlarmSession, start); err != nil {
			return fmt.Errorf("activity: arm session alarm: %w", err)
		}
		e.feed.Info(ctx, "SESSION_SCHEDULED", "next activity session scheduled",
			zap.Time("start", start), zap.String("type", string(s.Type)))
		return nil
	}

	if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.NextActivityWindow = nil
	}); err != nil {
		return err
	}
	e.feed.Info(ctx, "PLAN_EXHAUSTED", "no more activity sessions today")
	return nil
}

// Tick is the session alarm handler. Any failure is caught, flags are
// cleared, and a retry is armed, so the scheduler is never left stuck.
func (e *Engine) Tick(ctx context.Context) {
	if e.stopped.Load() {
		return
	}
	if !e.sessionInProgress.CompareAndSwap(false, true) {
		e.feed.Logger().Debug("tick skipped, session already in progress")
		return
	}
	defer e.sessionInProgress.Store(false)

	if err := e.tick(ctx); err != nil {
		if errors.Is(err, types.ErrAuth) {
			e.feed.Error(ctx, types.CodeLicenseInvalid, "authentication rejected, stopping", zap.Error(err))
			if e.onFatal != nil {
				e.onFatal(ctx, err)
			}
			return
		}
		e.feed.Error(ctx, "SESSION_FAILED", "session tick failed, retrying later", zap.Error(err))
		e.rearm(ctx, e.clock.Now().Add(failureRetry))
	}
}

func (e *Engine) tick(ctx context.Context) error {
	rt, err := e.store.Runtime(ctx)
	if err != nil {
		return fmt.Errorf("load runtime: %w", err)
	}
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !rt.Running || !settings.ActivityEnabled {
		return nil
	}

	// Yield the tab whenever a post is in flight or due momentarily.
	if e.postContention(rt) {
		e.feed.Logger().Debug("post engine busy, deferring session")
		e.rearm(ctx, e.clock.Now().Add(contentionDeferral))
		return nil
	}

	now := e.clock.Now()
	window := rt.NextActivityWindow
	if window == nil || !window.End.After(now) {
		return e.scheduleNextWindow(ctx)
	}
	if window.Start.After(now.Add(time.Second)) {
		// Fired early (restored stale alarm); re-arm for the real start.
		return e.sched.ScheduleOnce(ctx, AlarmSession, window.Start)
	}

	sessionType := e.sessionTypeFor(rt, window)
	err = e.lock.WithLock(ctx, coordinator.OwnerActivity, coordinator.Options{
		Priority: coordinator.PriorityActivity,
	}, func(ctx context.Context) error {
		return e.runSession(ctx, window.End, sessionType, rt.Mood)
	})

	var timeout coordinator.ErrLockTimeout
	if errors.As(err, &timeout) {
		e.feed.Warn(ctx, types.CodeLockTimeout, "tab lock unavailable, deferring session")
		e.rearm(ctx, e.clock.Now().Add(contentionDeferral))
		return nil
	}
	if err != nil {
		return err
	}
	return e.scheduleNextWindow(ctx)
}

func (e *Engine) postContention(rt types.RuntimeState) bool {
	if e.postBusy != nil && e.postBusy() {
		return true
	}
	if e.lock.HeldBy(coordinator.OwnerAutopost) {
		return true
	}
	if rt.NextPostAt != 0 {
		due := time.UnixMilli(rt.NextPostAt)
		now := e.clock.Now()
		if due.After(now.Add(-postImminentWindow)) && due.Before(now.Add(postImminentWindow)) {
			return true
		}
	}
	return false
}

// sessionTypeFor recovers the planned type for the window, defaulting to
// medium when the plan no longer has it.
func (e *Engine) sessionTypeFor(rt types.RuntimeState, w *types.ActivityWindow) types.SessionType {
	todayStart := plan.TodayStart(e.clock.Now(), e.loc)
	for _, s := range rt.SessionPlanToday {
		if plan.ClockTime(todayStart, s.StartMinutes, e.loc).Equal(w.Start) {
			return s.Type
		}
	}
	return types.SessionMedium
}

// runSession drives the behavior engine until the window ends, the operator
// stops the run, or the tab disappears. The lock TTL is extended every tick
// by re-acquiring.
func (e *Engine) runSession(ctx context.Context, end time.Time, sessionType types.SessionType, mood types.Mood) error {
	profile := e.sessionProfile(ctx, sessionType, mood)
	fsm := behavior.NewEngine(profile, e.clock, e.rng, e.feed.Logger())

	e.feed.Info(ctx, "SESSION_STARTED", "activity session started",
		zap.String("type", string(sessionType)), zap.Time("until", end))

	started := e.clock.Now()
	noTab := 0
	flushDone := make(chan struct{})
	go e.flushActivityTime(ctx, flushDone)
	defer func() {
		close(flushDone)
		if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
			r.Counters.SessionsStartedToday++
		}); err != nil {
			e.feed.Logger().Warn("failed to persist session totals", zap.Error(err))
		}
		e.feed.Info(ctx, "SESSION_ENDED", "activity session ended",
			zap.Duration("elapsed", e.clock.Now().Sub(started)))
	}()

	for e.clock.Now().Before(end) {
		if e.stopped.Load() || ctx.Err() != nil {
			return nil
		}

		// Freeze, don't abandon, while a post takes the tab.
		if (e.postBusy != nil && e.postBusy()) || e.lock.HeldBy(coordinator.OwnerAutopost) {
			if err := e.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}
		// Keep our hold alive across the iteration.
		e.lock.TryLock(coordinator.OwnerActivity, 0, coordinator.PriorityActivity)

		url, err := e.exec.CurrentURL(ctx)
		haveTab := err == nil
		if err != nil && !errors.Is(err, types.ErrNoTab) {
			return fmt.Errorf("probe tab: %w", err)
		}
		if !fsm.SyncPosition(url, haveTab) {
			noTab++
			if noTab >= noTabGrace {
				e.feed.Warn(ctx, types.CodeNoTab, "platform tab gone, ending session")
				return nil
			}
			if err := e.sleep(ctx, 3*time.Second); err != nil {
				return nil
			}
			continue
		}
		noTab = 0

		act := fsm.ChooseNext()
		res, err := e.exec.Execute(ctx, act)
		if err != nil {
			return fmt.Errorf("execute %s: %w", act.Type, err)
		}
		if !res.OK {
			if res.ErrorCode == types.CodeNoTab {
				noTab++
				continue
			}
			e.feed.Logger().Warn("action failed, continuing",
				zap.String("action", string(act.Type)),
				zap.String("code", res.ErrorCode))
		} else {
			fsm.NoteSuccess(act.Type)
			e.recordAction(ctx, act.Type)
		}

		// Human think time between actions.
		think := time.Duration(500+e.rng.Intn(3500)) * time.Millisecond
		if err := e.sleep(ctx, think); err != nil {
			return nil
		}
	}
	return nil
}

// flushActivityTime mirrors a live session into the persisted counter once a
// second, so the status surface sees it move and a crash mid-session loses at
// most the final second.
func (e *Engine) flushActivityTime(ctx context.Context, done <-chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
				r.Counters.ActivityTimeTodaySec++
			}); err != nil {
				e.feed.Logger().Warn("activity time flush failed", zap.Error(err))
			}
		}
	}
}

// sessionProfile fetches the backend-tuned behavior profile, falling back to
// the configured one. Auth failures bubble up as fatal.
func (e *Engine) sessionProfile(ctx context.Context, sessionType types.SessionType, mood types.Mood) config.BehaviorProfile {
	p, err := e.policy.BehaviorProfile(ctx, sessionType, mood)
	if err != nil {
		if errors.Is(err, types.ErrAuth) && e.onFatal != nil {
			e.onFatal(ctx, err)
		} else {
			e.feed.Logger().Debug("behavior profile fetch failed, using local", zap.Error(err))
		}
		return e.profile
	}
	if err := p.Validate(); err != nil {
		e.feed.Logger().Warn("backend behavior profile invalid, using local", zap.Error(err))
		return e.profile
	}
	return p
}

// recordAction mirrors a successful action into the daily counters.
func (e *Engine) recordAction(ctx context.Context, t types.ActionType) {
	mutate := func(fn func(*types.Counters)) {
		if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
			fn(&r.Counters)
		}); err != nil {
			e.feed.Logger().Warn("counter update failed", zap.Error(err))
		}
	}
	switch t {
	case types.ActionLikeTweet:
		mutate(func(c *types.Counters) { c.LikesToday++ })
	case types.ActionLikeComment:
		mutate(func(c *types.Counters) { c.CommentLikesToday++ })
	case types.ActionOpenProfile:
		mutate(func(c *types.Counters) { c.ProfilesVisitedToday++ })
	case types.ActionOpenNotifications:
		mutate(func(c *types.Counters) { c.NotificationChecksToday++ })
	case types.ActionOpenTweet:
		mutate(func(c *types.Counters) { c.TweetsOpenedToday++ })
	case types.ActionRefreshTimeline:
		mutate(func(c *types.Counters) { c.RefreshesToday++ })
	case types.ActionScrollTimeline, types.ActionScrollProfile,
		types.ActionScrollNotifications, types.ActionScrollComments:
		mutate(func(c *types.Counters) { c.ScrollsToday++ })
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.stopped.Load() {
		return context.Canceled
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (e *Engine) rearm(ctx context.Context, at time.Time) {
	if e.stopped.Load() {
		return
	}
	if err := e.sched.ScheduleOnce(ctx, AlarmSession, at); err != nil {
		e.feed.Error(ctx, "ALARM_FAILED", "failed to arm session alarm", zap.Error(err))
	}
}
