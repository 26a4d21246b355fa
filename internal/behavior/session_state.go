package behavior

import (
	"time"

	"ambler/internal/types"
)

// SessionCounters tracks per-session action totals, used to gate excursions.
type SessionCounters struct {
	Scrolls            int
	TweetsOpened       int
	ProfilesVisited    int
	NotificationChecks int
	Refreshes          int
}

// TweetState is the sub-state while reading an opened tweet. TargetEnd is
// drawn once on entry and never recomputed, so the visit has a deterministic
// exit even though the path to it is randomized.
type TweetState struct {
	HasReadTweet           bool
	HasDecidedAfterReading bool
	StartedAt              time.Time
	TargetEnd              time.Time
	CommentLikes           int
	CommentScrolls         int
}

// VisitState is the sub-state for profile and notifications visits.
type VisitState struct {
	StartedAt       time.Time
	TargetEnd       time.Time
	HasInitialPause bool
}

// SessionState is the in-memory FSM state of one activity session. It is
// created when a session starts and discarded when it ends; it is never
// persisted.
type SessionState struct {
	Position    types.Position
	Counters    SessionCounters
	LastRefresh time.Time

	// Pending flags defer a decided click by one tick so a reading pause
	// happens before the actual action.
	PendingTweetOpen    bool
	PendingProfileOpen  bool
	PendingTimelineLike bool

	Tweet         *TweetState
	Profile       *VisitState
	Notifications *VisitState
}

// NewSessionState starts a session on the timeline with zeroed counters.
func NewSessionState() *SessionState {
	return &SessionState{Position: types.PositionTimeline}
}

// HasPending reports whether any deferred click is waiting to be served.
func (s *SessionState) HasPending() bool {
	return s.PendingTweetOpen || s.PendingProfileOpen || s.PendingTimelineLike
}

// ClearSubStates drops all per-position sub-state and pending flags, used
// when returning to a known-good timeline position.
func (s *SessionState) ClearSubStates() {
	s.Tweet = nil
	s.Profile = nil
	s.Notifications = nil
	s.PendingTweetOpen = false
	s.PendingProfileOpen = false
	s.PendingTimelineLike = false
}
