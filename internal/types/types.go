// Package types provides shared type definitions used across ambler packages.
// This package exists to break import cycles between the engines, the store,
// and the browser executor. Types here are foundational data structures with
// no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// ActionType identifies a single simulated user action. The string values are
// part of the executor wire contract and of the persisted activity feed, so
// they must stay stable.
type ActionType string

const (
	ActionScrollTimeline        ActionType = "SCROLL_TIMELINE"
	ActionRefreshTimeline       ActionType = "REFRESH_TIMELINE"
	ActionOpenTweet             ActionType = "OPEN_TWEET"
	ActionLikeTweet             ActionType = "LIKE_TWEET"
	ActionLikeComment           ActionType = "LIKE_COMMENT"
	ActionOpenProfile           ActionType = "OPEN_PROFILE"
	ActionOpenNotifications     ActionType = "OPEN_NOTIFICATIONS"
	ActionScrollProfile         ActionType = "SCROLL_PROFILE"
	ActionScrollNotifications   ActionType = "SCROLL_NOTIFICATIONS"
	ActionScrollComments        ActionType = "SCROLL_COMMENTS"
	ActionContinueReading       ActionType = "CONTINUE_READING_COMMENTS"
	ActionBackToTimeline        ActionType = "BACK_TO_TIMELINE"
	ActionOpenComposer          ActionType = "OPEN_COMPOSER"
	ActionTypeAndPost           ActionType = "TYPE_AND_POST"
	ActionDwell                 ActionType = "DWELL"
	ActionIdle                  ActionType = "IDLE"
)

// IsLocal reports whether the action is a pure pause with no DOM side effect.
func (a ActionType) IsLocal() bool {
	return a == ActionDwell || a == ActionIdle
}

// Payload is the tagged union of action-specific data carried from the
// decision engine to the executor. Using a marker interface instead of a
// map keeps the dispatcher exhaustive at compile time.
type Payload interface {
	isPayload()
}

// EmptyPayload is used by actions that need no extra data.
type EmptyPayload struct{}

// LikePayload qualifies a like action with its origin.
type LikePayload struct {
	FromTimeline bool
	Source       string
}

// ProfilePayload qualifies a profile-open action.
type ProfilePayload struct {
	FromTimeline bool
}

// PostPayload carries the text and resolved media for a publish action.
type PostPayload struct {
	Text  string
	Media []MediaFile
}

func (EmptyPayload) isPayload()   {}
func (LikePayload) isPayload()    {}
func (ProfilePayload) isPayload() {}
func (PostPayload) isPayload()    {}

// MediaFile is one attachment resolved from the media library.
type MediaFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	MIME string `json:"mime"`
}

// Action is one decision emitted by the behavior engine: what to do, how
// long the surrounding pause should last, and any action-specific payload.
type Action struct {
	Type     ActionType
	Duration time.Duration
	Payload  Payload
}

func (a Action) String() string {
	return fmt.Sprintf("%s (%s)", a.Type, a.Duration.Round(time.Millisecond))
}

// Position is the simulated "where am I" inside the platform UI.
type Position string

const (
	PositionTimeline      Position = "timeline"
	PositionTweet         Position = "tweet"
	PositionProfile       Position = "profile"
	PositionNotifications Position = "notifications"
	PositionDM            Position = "dm"
)

// ExecResult is the outcome of one executor round trip.
type ExecResult struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Error codes surfaced by the executor and the policy backend.
const (
	CodeNoTab          = "NO_TAB"
	CodePostTooLong    = "POST_TOO_LONG"
	CodeLicenseInvalid = "LICENSE_INVALID"
	CodeLockTimeout    = "LOCK_TIMEOUT"
)

// Mood is the coarse daily intensity level that scales session planning.
type Mood string

const (
	MoodLow    Mood = "low"
	MoodNormal Mood = "normal"
	MoodHigh   Mood = "high"
)

// SessionType classifies a planned activity window by length.
type SessionType string

const (
	SessionShort  SessionType = "short"
	SessionMedium SessionType = "medium"
	SessionLong   SessionType = "long"
)
