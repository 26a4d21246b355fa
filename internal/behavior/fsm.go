package behavior

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"ambler/internal/config"
	"ambler/internal/types"
)

// refreshMinInterval caps timeline refreshes to one per five minutes.
const refreshMinInterval = 5 * time.Minute

// timelineOrder fixes the iteration order of the weighted draw so a seeded
// random source yields a reproducible decision sequence.
var timelineOrder = []string{
	config.TLContinueScroll,
	config.TLRefreshTimeline,
	config.TLOpenTweet,
	config.TLLikeFromTimeline,
	config.TLOpenProfile,
	config.TLCheckNotifs,
}

// Engine decides the next browsing action for one activity session. It is a
// pure decision core: all side effects happen when the caller executes the
// returned action and reports back via NoteSuccess.
type Engine struct {
	profile    config.BehaviorProfile
	refractory *Refractory
	state      *SessionState
	clock      types.Clock
	rng        *rand.Rand
	log        *zap.Logger
}

// NewEngine builds a session-scoped engine. clock may be nil.
func NewEngine(profile config.BehaviorProfile, clock types.Clock, rng *rand.Rand, log *zap.Logger) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Engine{
		profile:    profile,
		refractory: NewRefractory(profile.RefractoryWindows, clock, rng),
		state:      NewSessionState(),
		clock:      clock,
		rng:        rng,
		log:        log,
	}
}

// State exposes the live session state, mainly for the scheduler and tests.
func (e *Engine) State() *SessionState { return e.state }

// Refractory exposes the cool-down registry.
func (e *Engine) Refractory() *Refractory { return e.refractory }

// ResetState discards all session state, restarting from the timeline.
func (e *Engine) ResetState() { e.state = NewSessionState() }

// SyncPosition re-derives the position from the live tab URL before a
// decision. haveTab=false fails closed: the state is reset and the caller
// should emit a safe IDLE instead of guessing. Pending flags survive a
// timeline re-entry so a deferred click is not silently dropped.
func (e *Engine) SyncPosition(url string, haveTab bool) bool {
	if !haveTab {
		e.state = NewSessionState()
		return false
	}

	real := DetectPosition(url)
	if real == e.state.Position {
		return true
	}

	prev := e.state.Position
	e.state.Position = real

	switch real {
	case types.PositionTimeline:
		if !e.state.HasPending() {
			e.state.Tweet = nil
			e.state.Profile = nil
			e.state.Notifications = nil
		}
	case types.PositionTweet:
		if e.state.Tweet == nil {
			e.state.Tweet = e.newTweetState()
		}
	case types.PositionProfile:
		if e.state.Profile == nil {
			e.state.Profile = e.newVisitState(e.profile.DwellMedians.Profile)
		}
	}

	e.log.Debug("position re-synced",
		zap.String("from", string(prev)),
		zap.String("to", string(real)),
		zap.String("url", url))
	return true
}

// ChooseNext picks the next action for the current position.
func (e *Engine) ChooseNext() types.Action {
	switch e.state.Position {
	case types.PositionTimeline:
		return e.chooseTimeline()
	case types.PositionTweet:
		return e.chooseTweet()
	case types.PositionProfile:
		return e.chooseProfile()
	case types.PositionNotifications:
		return e.chooseNotifications()
	default:
		// Unknown position is a bug signal; return to known ground.
		e.log.Error("unknown position", zap.String("position", string(e.state.Position)))
		return e.action(types.ActionBackToTimeline, e.between(1200, 2000))
	}
}

func (e *Engine) chooseTimeline() types.Action {
	s := e.state

	// Serve deferred clicks first; each was decided one tick ago so the
	// reading pause has already happened.
	if s.PendingTweetOpen {
		s.PendingTweetOpen = false
		return e.action(types.ActionOpenTweet, e.between(800, 1500))
	}
	if s.PendingProfileOpen {
		s.PendingProfileOpen = false
		return types.Action{
			Type:     types.ActionOpenProfile,
			Duration: e.between(800, 1500),
			Payload:  types.ProfilePayload{FromTimeline: true},
		}
	}
	if s.PendingTimelineLike {
		s.PendingTimelineLike = false
		e.refractory.Note(types.ActionLikeTweet)
		return types.Action{
			Type:     types.ActionLikeTweet,
			Duration: e.between(1000, 3000),
			Payload:  types.LikePayload{FromTimeline: true},
		}
	}

	s.Counters.Scrolls++

	limits := e.profile.SessionLimits
	roll := e.rng.Float64()
	var cumulative float64

	for _, name := range timelineOrder {
		cumulative += e.profile.TimelineActions[name]
		if roll >= cumulative {
			continue
		}

		switch name {
		case config.TLContinueScroll:
			return e.scrollTimeline()

		case config.TLRefreshTimeline:
			if !s.LastRefresh.IsZero() && e.clock.Now().Sub(s.LastRefresh) <= refreshMinInterval {
				return e.scrollTimeline()
			}
			s.LastRefresh = e.clock.Now()
			s.Counters.Refreshes++
			return e.action(types.ActionRefreshTimeline, e.between(2000, 3000))

		case config.TLOpenTweet:
			if !e.refractory.Can(types.ActionOpenTweet) || s.Counters.Scrolls < 2 {
				return e.scrollTimeline()
			}
			s.PendingTweetOpen = true
			return e.action(types.ActionIdle, e.readingPause(config.ReadTweetInTimeline))

		case config.TLLikeFromTimeline:
			if !e.refractory.Can(types.ActionLikeTweet) {
				return e.scrollTimeline()
			}
			s.PendingTimelineLike = true
			return e.action(types.ActionIdle, e.readingPause(config.ReadTweetInTimeline))

		case config.TLOpenProfile:
			if s.Counters.ProfilesVisited >= limits.MaxProfiles || !e.refractory.Can(types.ActionOpenProfile) {
				return e.scrollTimeline()
			}
			s.PendingProfileOpen = true
			return e.action(types.ActionIdle, e.between(1000, 3000))

		case config.TLCheckNotifs:
			if s.Counters.NotificationChecks >= limits.MaxNotificationChecks ||
				!e.refractory.Can(types.ActionOpenNotifications) {
				return e.scrollTimeline()
			}
			return e.action(types.ActionOpenNotifications, e.between(1200, 2000))
		}
	}

	return e.scrollTimeline()
}

func (e *Engine) chooseTweet() types.Action {
	s := e.state
	if s.Tweet == nil {
		s.Tweet = e.newTweetState()
	}
	ts := s.Tweet

	if !ts.HasReadTweet {
		ts.HasReadTweet = true
		return e.action(types.ActionDwell, e.readingPause(config.ReadTweetOpened))
	}

	if !ts.HasDecidedAfterReading {
		ts.HasDecidedAfterReading = true
		if e.rng.Float64() < e.profile.AfterReadingTweet.LikeTweet && e.refractory.Can(types.ActionLikeTweet) {
			e.refractory.Note(types.ActionLikeTweet)
			return e.action(types.ActionLikeTweet, e.between(400, 1200))
		}
		return e.action(types.ActionContinueReading, 0)
	}

	if e.clock.Now().Before(ts.TargetEnd) {
		cc := e.profile.CommentBehavior
		shouldLike := ts.CommentScrolls >= 2 &&
			e.rng.Float64() < cc.LikeChancePerScroll &&
			ts.CommentLikes < cc.MaxLikesPerTweet &&
			e.refractory.Can(types.ActionLikeComment)

		if shouldLike {
			ts.CommentLikes++
			e.refractory.Note(types.ActionLikeComment)
			return e.action(types.ActionLikeComment, e.between(400, 1200))
		}

		ts.CommentScrolls++
		return e.action(types.ActionContinueReading, 0)
	}

	s.Tweet = nil
	return e.action(types.ActionBackToTimeline, e.between(800, 1600))
}

func (e *Engine) chooseProfile() types.Action {
	s := e.state
	if s.Profile == nil {
		s.Profile = e.newVisitState(e.profile.DwellMedians.Profile)
	}
	ps := s.Profile

	if !ps.HasInitialPause {
		ps.HasInitialPause = true
		return e.action(types.ActionDwell, e.readingPause(config.ReadProfile))
	}

	if !e.clock.Now().Before(ps.TargetEnd) {
		s.Profile = nil
		return e.action(types.ActionBackToTimeline, e.between(500, 1500))
	}

	likeChance := e.profile.TimelineActions[config.TLLikeFromTimeline]
	if e.rng.Float64() < likeChance && e.refractory.Can(types.ActionLikeTweet) {
		e.refractory.Note(types.ActionLikeTweet)
		return types.Action{
			Type:     types.ActionLikeTweet,
			Duration: e.between(800, 2000),
			Payload:  types.LikePayload{Source: "profile"},
		}
	}

	return e.action(types.ActionScrollProfile, 0)
}

func (e *Engine) chooseNotifications() types.Action {
	s := e.state
	if s.Notifications == nil {
		s.Notifications = e.newVisitState(e.profile.DwellMedians.Notifications)
	}
	ns := s.Notifications

	if !ns.HasInitialPause {
		ns.HasInitialPause = true
		return e.action(types.ActionDwell, e.readingPause(config.ReadNotifications))
	}

	if !e.clock.Now().Before(ns.TargetEnd) {
		s.Notifications = nil
		return e.action(types.ActionBackToTimeline, e.between(500, 1500))
	}

	return e.action(types.ActionScrollNotifications, 0)
}

// NoteSuccess records a successfully executed action: position moves,
// session counters, refractory firings.
func (e *Engine) NoteSuccess(action types.ActionType) {
	s := e.state
	switch action {
	case types.ActionOpenTweet:
		if s.Position == types.PositionTimeline {
			s.Position = types.PositionTweet
			s.Counters.TweetsOpened++
			e.refractory.Note(types.ActionOpenTweet)
		}
	case types.ActionOpenProfile:
		if s.Position == types.PositionTimeline || s.Position == types.PositionTweet {
			s.Position = types.PositionProfile
			s.Counters.ProfilesVisited++
			e.refractory.Note(types.ActionOpenProfile)
		}
	case types.ActionOpenNotifications:
		s.Position = types.PositionNotifications
		s.Counters.NotificationChecks++
		e.refractory.Note(types.ActionOpenNotifications)
	case types.ActionBackToTimeline:
		s.Position = types.PositionTimeline
		s.ClearSubStates()
	case types.ActionLikeTweet:
		e.refractory.Note(types.ActionLikeTweet)
	case types.ActionLikeComment:
		e.refractory.Note(types.ActionLikeComment)
	}
}

func (e *Engine) newTweetState() *TweetState {
	now := e.clock.Now()
	return &TweetState{
		StartedAt: now,
		TargetEnd: now.Add(e.dwell(e.profile.DwellMedians.Thread)),
	}
}

func (e *Engine) newVisitState(r config.Range) *VisitState {
	now := e.clock.Now()
	return &VisitState{
		StartedAt: now,
		TargetEnd: now.Add(e.dwell(r)),
	}
}

// dwell draws a uniform duration from an [min,max]-seconds range. Drawn once
// per position entry.
func (e *Engine) dwell(r config.Range) time.Duration {
	seconds := r.Min() + e.rng.Float64()*(r.Max()-r.Min())
	return time.Duration(seconds * float64(time.Second))
}

func (e *Engine) readingPause(context string) time.Duration {
	r, ok := e.profile.ReadingTimes[context]
	if !ok {
		r = config.Range{3, 8}
	}
	return e.dwell(r)
}

// between draws a uniform duration in [lo, hi) milliseconds.
func (e *Engine) between(lo, hi int) time.Duration {
	ms := lo + e.rng.Intn(hi-lo)
	return time.Duration(ms) * time.Millisecond
}

func (e *Engine) action(t types.ActionType, d time.Duration) types.Action {
	return types.Action{Type: t, Duration: d, Payload: types.EmptyPayload{}}
}

func (e *Engine) scrollTimeline() types.Action {
	return e.action(types.ActionScrollTimeline, 0)
}
