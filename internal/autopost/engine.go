// Package autopost runs the post scheduler: an alarm-driven loop that asks
// the policy backend what to do next (wait or post), publishes queued posts
// through the browser executor under the coordination lock, and re-arms
// itself for the next decision.
package autopost

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ambler/internal/config"
	"ambler/internal/coordinator"
	"ambler/internal/logging"
	"ambler/internal/media"
	"ambler/internal/plan"
	"ambler/internal/policy"
	"ambler/internal/types"
)

// AlarmTick is the durable alarm name driving the scheduler.
const AlarmTick = "autopost:tick"

const (
	// policyBackoff re-arms the tick after a failed decision fetch. It is a
	// fast path separate from post-execution retries so transient connectivity
	// loss does not abandon the schedule.
	policyBackoff = time.Minute

	// lockRetryBackoff re-arms after failing to acquire the coordination lock.
	lockRetryBackoff = time.Minute
)

var (
	// postRetryDelays paces re-attempts of a failed post. After the list is
	// exhausted the post is skipped, not retried forever.
	postRetryDelays = []time.Duration{10 * time.Second, 25 * time.Second}

	// composerSettle waits for the composer dialog to render before typing.
	composerSettle = 1200 * time.Millisecond
)

// Engine is the post scheduler.
type Engine struct {
	cfg     config.AutopostConfig
	loc     *time.Location
	store   types.RuntimeStore
	sched   types.Scheduler
	lock    *coordinator.Lock
	exec    types.Executor
	policy  *policy.Client
	library *media.Library
	feed    *logging.Feed
	clock   types.Clock
	rng     *rand.Rand

	// onFatal is invoked on authentication failure. The app stops the run.
	onFatal func(ctx context.Context, err error)

	isPosting atomic.Bool
	stopped   atomic.Bool
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Config   config.AutopostConfig
	Location *time.Location
	Store    types.RuntimeStore
	Sched    types.Scheduler
	Lock     *coordinator.Lock
	Exec     types.Executor
	Policy   *policy.Client
	Library  *media.Library
	Feed     *logging.Feed
	Clock    types.Clock
	OnFatal  func(ctx context.Context, err error)
}

func New(d Deps) *Engine {
	clock := d.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	e := &Engine{
		cfg:     d.Config,
		loc:     d.Location,
		store:   d.Store,
		sched:   d.Sched,
		lock:    d.Lock,
		exec:    d.Exec,
		policy:  d.Policy,
		library: d.Library,
		feed:    d.Feed.Named("autopost"),
		clock:   clock,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		onFatal: d.OnFatal,
	}
	e.stopped.Store(true)
	return e
}

// Posting reports whether a post is in flight right now. The activity engine
// checks this before contending for the tab.
func (e *Engine) Posting() bool { return e.isPosting.Load() }

// OnStart arms the first tick a few seconds out so startup settles first.
func (e *Engine) OnStart(ctx context.Context) error {
	e.stopped.Store(false)
	delay := time.Duration(3000+e.rng.Intn(2000)) * time.Millisecond
	at := e.clock.Now().Add(delay)
	if err := e.sched.ScheduleOnce(ctx, AlarmTick, at); err != nil {
		return fmt.Errorf("autopost: arm first tick: %w", err)
	}
	e.feed.Info(ctx, "AUTOPOST_STARTED", "post scheduler started")
	return nil
}

// OnStop disarms the scheduler and clears the advertised next-post time.
func (e *Engine) OnStop(ctx context.Context) error {
	e.stopped.Store(true)
	if err := e.sched.Cancel(ctx, AlarmTick); err != nil {
		return err
	}
	_, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.NextPostAt = 0
	})
	return err
}

// Tick is the alarm handler. It is guarded against duplicate fires by the
// isPosting flag and serialized against the activity engine by the lock.
func (e *Engine) Tick(ctx context.Context) {
	if e.stopped.Load() {
		return
	}
	if !e.isPosting.CompareAndSwap(false, true) {
		e.feed.Logger().Debug("tick skipped, post already in flight")
		return
	}
	defer e.isPosting.Store(false)

	rt, err := e.store.Runtime(ctx)
	if err != nil {
		e.feed.Error(ctx, "STORE_READ_FAILED", "cannot read runtime state", zap.Error(err))
		e.rearm(ctx, e.clock.Now().Add(policyBackoff))
		return
	}
	if !rt.Running {
		return
	}

	err = e.lock.WithLock(ctx, coordinator.OwnerAutopost, coordinator.Options{
		Priority: coordinator.PriorityAutopost,
	}, e.execute)

	var timeout coordinator.ErrLockTimeout
	switch {
	case err == nil:
	case errors.As(err, &timeout):
		e.feed.Warn(ctx, types.CodeLockTimeout, "could not acquire tab lock, retrying later")
		e.rearm(ctx, e.clock.Now().Add(lockRetryBackoff))
	case errors.Is(err, types.ErrAuth):
		e.feed.Error(ctx, types.CodeLicenseInvalid, "authentication rejected, stopping", zap.Error(err))
		if e.onFatal != nil {
			e.onFatal(ctx, err)
		}
	default:
		e.feed.Error(ctx, "AUTOPOST_TICK_FAILED", "tick failed, retrying later", zap.Error(err))
		e.rearm(ctx, e.clock.Now().Add(policyBackoff))
	}
}

// execute runs one decision cycle while holding the lock.
func (e *Engine) execute(ctx context.Context) error {
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.AutopostEnabled {
		e.feed.Info(ctx, "AUTOPOST_DISABLED", "autopost disabled, scheduler idle")
		return nil
	}

	rt, err := e.store.Runtime(ctx)
	if err != nil {
		return fmt.Errorf("load runtime: %w", err)
	}
	posts := ParsePosts(settings.PostsRaw)

	action, err := e.policy.NextPostAction(ctx, policy.NextPostRequest{
		Posts:         posts,
		NextPostIndex: rt.NextPostIndex,
		NextPostAt:    rt.NextPostAt,
		Timezone:      settings.Timezone,
		PostsToday:    rt.Counters.PostsToday,
	})
	if errors.Is(err, types.ErrAuth) {
		return err
	}
	if err != nil {
		e.feed.Warn(ctx, "POLICY_FETCH_FAILED", "next-action fetch failed, backing off", zap.Error(err))
		e.rearm(ctx, e.clock.Now().Add(policyBackoff))
		return nil
	}

	switch action.Action {
	case policy.ActionWait:
		return e.applyWait(ctx, action)
	case policy.ActionPost:
		return e.applyPost(ctx, settings, action)
	default:
		return fmt.Errorf("unknown policy action %q", action.Action)
	}
}

func (e *Engine) applyWait(ctx context.Context, action policy.PostAction) error {
	at := time.UnixMilli(action.WaitUntil)
	if action.WaitUntil == 0 {
		at = e.nextLocalPostTime(e.clock.Now())
	}
	if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		action.UpdateRuntime.Apply(r)
		r.NextPostAt = at.UnixMilli()
	}); err != nil {
		return fmt.Errorf("persist wait: %w", err)
	}
	e.feed.Info(ctx, "AUTOPOST_WAIT", "waiting for next post slot",
		zap.Time("until", at), zap.String("reason", action.Reason))
	return e.rearmErr(ctx, at)
}

func (e *Engine) applyPost(ctx context.Context, settings types.Settings, action policy.PostAction) error {
	// The decision fetch is a suspension point; a stop request may have raced
	// it. Re-verify before touching the composer.
	rt, err := e.store.Runtime(ctx)
	if err != nil {
		return fmt.Errorf("re-verify runtime: %w", err)
	}
	if !rt.Running || e.stopped.Load() {
		e.feed.Info(ctx, "AUTOPOST_ABORTED", "stop requested, skipping post")
		return nil
	}

	text, attachments := e.library.ResolveText(action.PostText)
	if len(attachments) == 0 {
		attachments = e.library.MaybeRandom(settings.MediaAutoAttach, settings.MediaAttachChance)
	}

	nextAt := time.UnixMilli(action.NextPostAt)
	if action.NextPostAt == 0 {
		nextAt = e.nextLocalPostTime(e.clock.Now())
	}

	if n := len([]rune(text)); n > e.cfg.MaxPostLength {
		e.feed.Error(ctx, types.CodePostTooLong, "post exceeds platform limit, skipping",
			zap.Int("length", n), zap.Int("limit", e.cfg.MaxPostLength))
		return e.advance(ctx, action.NextIndex, nextAt)
	}

	if err := e.publish(ctx, text, attachments); err != nil {
		e.feed.Error(ctx, "POST_FAILED", "post failed after retries, skipping to next",
			zap.Error(err), zap.Int("next_index", action.NextIndex))
		return e.advance(ctx, action.NextIndex, nextAt)
	}

	if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.PostsToday++
		r.Counters.TotalPostsLifetime++
		r.NextPostIndex = action.NextIndex
		r.NextPostAt = nextAt.UnixMilli()
	}); err != nil {
		return fmt.Errorf("persist post result: %w", err)
	}
	e.feed.Info(ctx, "POSTED", "post published",
		zap.Int("chars", len([]rune(text))),
		zap.Int("media", len(attachments)),
		zap.Time("next_post_at", nextAt))
	return e.rearmErr(ctx, nextAt)
}

// advance skips past the current post without publishing it and arms the next
// decision, so one bad post never stalls the pipeline.
func (e *Engine) advance(ctx context.Context, nextIndex int, nextAt time.Time) error {
	if _, err := e.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.NextPostIndex = nextIndex
		r.NextPostAt = nextAt.UnixMilli()
	}); err != nil {
		return fmt.Errorf("persist skip: %w", err)
	}
	return e.rearmErr(ctx, nextAt)
}

// publish drives the composer: open, type, submit. A failed attempt retries
// after 10s, then 25s; the third failure is final.
func (e *Engine) publish(ctx context.Context, text string, attachments []types.MediaFile) error {
	var lastErr error
	for attempt := 0; attempt <= len(postRetryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(postRetryDelays[attempt-1]):
			}
		}
		if e.stopped.Load() {
			return errors.New("stopped during post")
		}

		lastErr = e.attemptPost(ctx, text, attachments)
		if lastErr == nil {
			return nil
		}
		e.feed.Warn(ctx, "POST_RETRY", "post attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return lastErr
}

func (e *Engine) attemptPost(ctx context.Context, text string, attachments []types.MediaFile) error {
	if err := e.exec.Ping(ctx); err != nil {
		return fmt.Errorf("probe tab: %w", err)
	}

	res, err := e.exec.Execute(ctx, types.Action{
		Type:    types.ActionOpenComposer,
		Payload: types.EmptyPayload{},
	})
	if err != nil {
		return fmt.Errorf("open composer: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("open composer: %s (%s)", res.ErrorCode, res.Details)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(composerSettle):
	}

	res, err = e.exec.Execute(ctx, types.Action{
		Type:    types.ActionTypeAndPost,
		Payload: types.PostPayload{Text: text, Media: attachments},
	})
	if err != nil {
		return fmt.Errorf("type and post: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("type and post: %s (%s)", res.ErrorCode, res.Details)
	}
	return nil
}

// nextLocalPostTime draws the next slot from the configured interval and
// pushes it out of any pause window it lands in.
func (e *Engine) nextLocalPostTime(now time.Time) time.Time {
	lo, hi := e.cfg.IntervalMinutes[0], e.cfg.IntervalMinutes[1]
	minutes := lo
	if hi > lo {
		minutes += e.rng.Intn(hi - lo + 1)
	}
	at := now.Add(time.Duration(minutes) * time.Minute)

	local := at.In(e.loc)
	for _, w := range e.cfg.Pauses {
		if w.Contains(plan.MinutesSinceMidnight(local, e.loc)) {
			end := plan.ClockTime(local, w.EndMinutes, e.loc)
			if !end.After(local) {
				end = plan.ClockTime(local.AddDate(0, 0, 1), w.EndMinutes, e.loc)
			}
			// A little jitter so posts don't cluster at the window edge.
			return end.Add(time.Duration(e.rng.Intn(15)) * time.Minute)
		}
	}
	return at
}

func (e *Engine) rearm(ctx context.Context, at time.Time) {
	if err := e.rearmErr(ctx, at); err != nil {
		e.feed.Error(ctx, "ALARM_FAILED", "failed to arm next tick", zap.Error(err))
	}
}

func (e *Engine) rearmErr(ctx context.Context, at time.Time) error {
	if e.stopped.Load() {
		return nil
	}
	return e.sched.ScheduleOnce(ctx, AlarmTick, at)
}
