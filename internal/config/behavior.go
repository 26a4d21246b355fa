package config

import (
	"fmt"
	"math"
)

// Range is an inclusive [min, max] pair. Depending on context the unit is
// seconds (reading/dwell/refractory) or minutes.
type Range [2]float64

// Min returns the lower bound.
func (r Range) Min() float64 { return r[0] }

// Max returns the upper bound.
func (r Range) Max() float64 { return r[1] }

func (r Range) valid() bool { return r[0] >= 0 && r[1] >= r[0] }

// Timeline action names used as keys of TimelineActions. Kept as plain
// strings because they arrive from YAML and from the policy backend.
const (
	TLContinueScroll   = "continueScroll"
	TLRefreshTimeline  = "refreshTimeline"
	TLOpenTweet        = "openTweet"
	TLLikeFromTimeline = "likeTweetFromTimeline"
	TLOpenProfile      = "openProfile"
	TLCheckNotifs      = "checkNotifications"
)

// BehaviorProfile parameterizes the browsing decision engine. A profile is
// either loaded from this config or fetched once per session from the policy
// backend; both shapes are identical.
type BehaviorProfile struct {
	// TimelineActions maps action name to probability; values must sum to ~1.
	TimelineActions map[string]float64 `yaml:"timeline_actions" json:"timelineActions"`

	// ReadingTimes gives [min,max] seconds of simulated reading per context.
	ReadingTimes map[string]Range `yaml:"reading_times" json:"readingTimes"`

	AfterReadingTweet AfterReading  `yaml:"after_reading_tweet" json:"afterReadingTweet"`
	CommentBehavior   CommentConfig `yaml:"comment_behavior" json:"commentBehavior"`
	SessionLimits     SessionLimits `yaml:"session_limits" json:"sessionLimits"`

	// DwellMedians gives [min,max] seconds spent inside a position before
	// returning to the timeline.
	DwellMedians DwellMedians `yaml:"dwell_medians" json:"dwellMedians"`

	// RefractoryWindows gives [min,max] seconds of per-action cool-down.
	RefractoryWindows map[string]Range `yaml:"refractory_windows" json:"refractoryWindows"`
}

// AfterReading holds the decision probabilities applied right after the
// initial reading pause on an opened tweet.
type AfterReading struct {
	LikeTweet float64 `yaml:"like_tweet" json:"likeTweet"`
}

// CommentConfig gates comment likes while scrolling a thread.
type CommentConfig struct {
	LikeChancePerScroll float64 `yaml:"like_chance_per_scroll" json:"likeChancePerScroll"`
	MaxLikesPerTweet    int     `yaml:"max_likes_per_tweet" json:"maxLikesPerTweet"`
}

// SessionLimits caps per-session excursions.
type SessionLimits struct {
	MaxProfiles           int `yaml:"max_profiles" json:"maxProfiles"`
	MaxNotificationChecks int `yaml:"max_notification_checks" json:"maxNotificationChecks"`
}

// DwellMedians bounds how long a visit to each position lasts.
type DwellMedians struct {
	Thread        Range `yaml:"thread" json:"thread"`
	Profile       Range `yaml:"profile" json:"profile"`
	Notifications Range `yaml:"notifications" json:"notifications"`
}

// Reading-time context keys.
const (
	ReadTweetOpened     = "tweetOpened"
	ReadTweetInTimeline = "tweetInTimeline"
	ReadProfile         = "profile"
	ReadNotifications   = "notifications"
)

// DefaultBehavior returns the built-in behavior profile.
func DefaultBehavior() BehaviorProfile {
	return BehaviorProfile{
		TimelineActions: map[string]float64{
			TLContinueScroll:   0.575,
			TLRefreshTimeline:  0.05,
			TLOpenTweet:        0.20,
			TLLikeFromTimeline: 0.025,
			TLOpenProfile:      0.10,
			TLCheckNotifs:      0.05,
		},
		ReadingTimes: map[string]Range{
			ReadTweetOpened:     {4, 10},
			ReadTweetInTimeline: {3, 8},
			ReadProfile:         {2, 5},
			ReadNotifications:   {2, 4},
		},
		AfterReadingTweet: AfterReading{LikeTweet: 0.15},
		CommentBehavior: CommentConfig{
			LikeChancePerScroll: 0.08,
			MaxLikesPerTweet:    2,
		},
		SessionLimits: SessionLimits{
			MaxProfiles:           3,
			MaxNotificationChecks: 2,
		},
		DwellMedians: DwellMedians{
			Thread:        Range{20, 75},
			Profile:       Range{10, 30},
			Notifications: Range{8, 20},
		},
		RefractoryWindows: map[string]Range{
			"LIKE_TWEET":         {30, 60},
			"LIKE_COMMENT":       {45, 90},
			"OPEN_TWEET":         {20, 45},
			"OPEN_PROFILE":       {60, 180},
			"OPEN_NOTIFICATIONS": {300, 600},
			"REFRESH_TIMELINE":   {300, 420},
		},
	}
}

// Validate checks the profile's internal consistency.
func (p BehaviorProfile) Validate() error {
	var sum float64
	for name, prob := range p.TimelineActions {
		if prob < 0 || prob > 1 {
			return fmt.Errorf("timeline action %q probability out of range: %v", name, prob)
		}
		sum += prob
	}
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("timeline action probabilities sum to %.3f, want ~1", sum)
	}
	for name, r := range p.ReadingTimes {
		if !r.valid() {
			return fmt.Errorf("reading time %q: invalid range %v", name, r)
		}
	}
	for name, r := range p.RefractoryWindows {
		if !r.valid() {
			return fmt.Errorf("refractory window %q: invalid range %v", name, r)
		}
	}
	for name, r := range map[string]Range{
		"thread":        p.DwellMedians.Thread,
		"profile":       p.DwellMedians.Profile,
		"notifications": p.DwellMedians.Notifications,
	} {
		if !r.valid() {
			return fmt.Errorf("dwell median %q: invalid range %v", name, r)
		}
	}
	if p.CommentBehavior.MaxLikesPerTweet < 0 {
		return fmt.Errorf("max_likes_per_tweet must be >= 0")
	}
	return nil
}
