package config

import "fmt"

// PauseWindow is a daily span, in minutes from local midnight, during which
// no posts are published.
type PauseWindow struct {
	StartMinutes int `yaml:"start_minutes" json:"startMinutes"`
	EndMinutes   int `yaml:"end_minutes" json:"endMinutes"`
}

// Contains reports whether the given minutes-since-midnight falls inside the
// window. Windows that wrap past midnight (start > end) are supported.
func (p PauseWindow) Contains(minutes int) bool {
	if p.StartMinutes <= p.EndMinutes {
		return minutes >= p.StartMinutes && minutes < p.EndMinutes
	}
	return minutes >= p.StartMinutes || minutes < p.EndMinutes
}

// AutopostConfig parameterizes the post scheduler.
type AutopostConfig struct {
	// IntervalMinutes is the [min,max] spacing between consecutive posts.
	IntervalMinutes IntRange `yaml:"interval_minutes"`

	// Pauses are daily no-post windows (e.g. night hours).
	Pauses []PauseWindow `yaml:"pauses"`

	// MaxPostLength is the platform character cap.
	MaxPostLength int `yaml:"max_post_length"`
}

func defaultAutopost() AutopostConfig {
	return AutopostConfig{
		IntervalMinutes: IntRange{45, 120},
		Pauses: []PauseWindow{
			{StartMinutes: 0, EndMinutes: 7 * 60},
		},
		MaxPostLength: 500,
	}
}

// Validate checks the autopost configuration.
func (a AutopostConfig) Validate() error {
	if a.IntervalMinutes[0] <= 0 || a.IntervalMinutes[1] < a.IntervalMinutes[0] {
		return fmt.Errorf("invalid autopost interval range %v", a.IntervalMinutes)
	}
	if a.MaxPostLength <= 0 {
		return fmt.Errorf("max_post_length must be positive")
	}
	return nil
}
