package types

import "time"

// RunStatus is the lifecycle state of the whole bot.
type RunStatus string

const (
	StatusStopped        RunStatus = "STOPPED"
	StatusRunning        RunStatus = "RUNNING"
	StatusUpdateRequired RunStatus = "UPDATE_REQUIRED"
)

// Counters tracks daily and lifetime activity totals.
// TotalPostsLifetime is never reset; everything else is zeroed once per
// local calendar day.
type Counters struct {
	PostsToday              int `json:"postsToday"`
	TotalPostsLifetime      int `json:"totalPostsLifetime"`
	LikesToday              int `json:"likesToday"`
	CommentLikesToday       int `json:"commentLikesToday"`
	ProfilesVisitedToday    int `json:"profilesVisitedToday"`
	NotificationChecksToday int `json:"notificationChecksToday"`
	ActivityTimeTodaySec    int `json:"activityTimeTodaySec"`
	SessionsStartedToday    int `json:"sessionsStartedToday"`
	ScrollsToday            int `json:"scrollsToday"`
	RefreshesToday          int `json:"refreshesToday"`
	TweetsOpenedToday       int `json:"tweetsOpenedToday"`
}

// ResetDaily zeroes every per-day counter while preserving lifetime totals.
func (c *Counters) ResetDaily() {
	lifetime := c.TotalPostsLifetime
	*c = Counters{TotalPostsLifetime: lifetime}
}

// PlannedSession is one entry of the daily activity plan. StartMinutes is the
// offset from local midnight. Entries in a plan are ordered by StartMinutes
// and non-overlapping by construction.
type PlannedSession struct {
	Type            SessionType `json:"type"`
	StartMinutes    int         `json:"startMinutes"`
	DurationMinutes int         `json:"durationMinutes"`
}

// ActivityWindow is the wall-clock span of the next planned session.
type ActivityWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FeedEntry is one line of the user-visible activity feed.
type FeedEntry struct {
	TS      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Code    string    `json:"code"`
	Message string    `json:"msg"`
}

// MaxFeedEntries bounds the RuntimeState.LastErrors ring.
const MaxFeedEntries = 50

// RuntimeState is the single persisted runtime document. All mutation goes
// through the store's atomic read-modify-write; sequences of mutations carry
// no cross-field transaction guarantee.
type RuntimeState struct {
	Running  bool      `json:"running"`
	Status   RunStatus `json:"status"`
	Counters Counters  `json:"counters"`

	SessionPlanToday []PlannedSession `json:"sessionPlanToday,omitempty"`
	SessionPlanDate  int64            `json:"sessionPlanDate,omitempty"` // unix ms of the plan's local midnight, 0 = none
	Mood             Mood             `json:"mood,omitempty"`

	NextPostAt         int64 `json:"nextPostAt,omitempty"` // unix ms, 0 = none
	NextPostIndex      int   `json:"nextPostIndex"`
	LastTickWasInPause bool  `json:"lastTickWasInPause"`

	NextActivityWindow *ActivityWindow `json:"nextActivityWindow,omitempty"`

	LastResetDate string      `json:"lastResetDate,omitempty"` // YYYY-MM-DD in the user's timezone
	LastErrors    []FeedEntry `json:"lastErrors,omitempty"`
}

// AppendFeed pushes an entry onto the bounded activity feed ring.
func (r *RuntimeState) AppendFeed(e FeedEntry) {
	r.LastErrors = append(r.LastErrors, e)
	if n := len(r.LastErrors); n > MaxFeedEntries {
		r.LastErrors = r.LastErrors[n-MaxFeedEntries:]
	}
}

// NewRuntimeState returns the first-install document: stopped, all counters
// zero, no plan.
func NewRuntimeState() RuntimeState {
	return RuntimeState{Status: StatusStopped}
}

// MoodWeights is the percent split used when drawing the daily mood.
// The three fields must sum to 100.
type MoodWeights struct {
	Low    int `json:"low" yaml:"low"`
	Normal int `json:"normal" yaml:"normal"`
	High   int `json:"high" yaml:"high"`
}

// Settings is the persisted, user-patchable configuration document. It is
// seeded from the static config file on first install and owned by the store
// afterwards.
type Settings struct {
	Timezone        string `json:"timezone"`
	AutopostEnabled bool   `json:"autopostEnabled"`
	ActivityEnabled bool   `json:"activityEnabled"`

	LicenseKey string `json:"licenseKey,omitempty"`

	// PostsRaw is the blank-line-separated post queue.
	PostsRaw string `json:"postsRaw,omitempty"`

	MediaAutoAttach   bool `json:"mediaAutoAttach"`
	MediaAttachChance int  `json:"mediaAttachChance"` // percent 0-100

	MoodWeights       MoodWeights `json:"moodWeights"`
	OffDayProbability float64     `json:"offDayProbability"`
}
