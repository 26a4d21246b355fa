package app

import (
	"context"
	"time"

	"ambler/internal/autopost"
	"ambler/internal/license"
	"ambler/internal/types"
)

// Status is the operator-facing snapshot of the run.
type Status struct {
	Running bool            `json:"running"`
	Status  types.RunStatus `json:"status"`
	Mood    types.Mood      `json:"mood,omitempty"`

	Counters types.Counters `json:"counters"`

	NextPostAt         *time.Time            `json:"nextPostAt,omitempty"`
	NextPostIndex      int                   `json:"nextPostIndex"`
	QueuedPosts        int                   `json:"queuedPosts"`
	NextActivityWindow *types.ActivityWindow `json:"nextActivityWindow,omitempty"`
	PlannedSessions    int                   `json:"plannedSessions"`
	InSession          bool                  `json:"inSession"`
	Posting            bool                  `json:"posting"`
	LockHolder         string                `json:"lockHolder,omitempty"`

	LastResetDate string            `json:"lastResetDate,omitempty"`
	Feed          []types.FeedEntry `json:"feed,omitempty"`
}

// Status assembles the snapshot from the runtime document and live engine
// flags.
func (a *App) Status(ctx context.Context) (Status, error) {
	rt, err := a.store.Runtime(ctx)
	if err != nil {
		return Status{}, err
	}
	settings, err := a.store.Settings(ctx)
	if err != nil {
		return Status{}, err
	}

	s := Status{
		Running:            rt.Running,
		Status:             rt.Status,
		Mood:               rt.Mood,
		Counters:           rt.Counters,
		NextPostIndex:      rt.NextPostIndex,
		QueuedPosts:        len(autopost.ParsePosts(settings.PostsRaw)),
		NextActivityWindow: rt.NextActivityWindow,
		PlannedSessions:    len(rt.SessionPlanToday),
		InSession:          a.activity.InSession(),
		Posting:            a.post.Posting(),
		LockHolder:         a.lock.Holder(),
		LastResetDate:      rt.LastResetDate,
		Feed:               rt.LastErrors,
	}
	if rt.NextPostAt != 0 {
		t := time.UnixMilli(rt.NextPostAt)
		s.NextPostAt = &t
	}
	return s, nil
}

// Activate binds a license key to this device.
func (a *App) Activate(ctx context.Context, key, email string) (license.ActivationResult, error) {
	return a.license.Activate(ctx, key, email)
}

// ValidateQueue parses the stored post queue and reports posts over the
// platform limit.
func (a *App) ValidateQueue(ctx context.Context) ([]string, []autopost.Issue, error) {
	settings, err := a.store.Settings(ctx)
	if err != nil {
		return nil, nil, err
	}
	posts := autopost.ParsePosts(settings.PostsRaw)
	return posts, autopost.ValidatePosts(posts, a.cfg.Autopost.MaxPostLength), nil
}

// SetQueue replaces the stored post queue text.
func (a *App) SetQueue(ctx context.Context, raw string) error {
	_, err := a.store.PatchSettings(ctx, func(s *types.Settings) {
		s.PostsRaw = raw
	})
	return err
}

// ForceSession starts an activity session immediately, ignoring the plan.
func (a *App) ForceSession(ctx context.Context) error {
	return a.activity.ForceStart(ctx)
}

// Reset wipes all persisted state except the install identity.
func (a *App) Reset(ctx context.Context) error {
	if err := a.timers.CancelAll(ctx); err != nil {
		return err
	}
	return a.store.ResetAll(ctx)
}
