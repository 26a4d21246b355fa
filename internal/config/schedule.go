package config

import (
	"fmt"

	"ambler/internal/types"
)

// IntRange is an inclusive [min, max] integer pair.
type IntRange [2]int

// Min returns the lower bound.
func (r IntRange) Min() int { return r[0] }

// Max returns the upper bound.
func (r IntRange) Max() int { return r[1] }

// ScheduleConfig parameterizes the daily plan builder.
type ScheduleConfig struct {
	// ActiveHours bounds when sessions may be planned, in minutes from local
	// midnight.
	ActiveStartMinutes int `yaml:"active_start_minutes"`
	ActiveEndMinutes   int `yaml:"active_end_minutes"`

	// SessionsByMood gives the [min,max] session count per mood.
	SessionsByMood map[types.Mood]IntRange `yaml:"sessions_by_mood"`

	// SessionTypeDistribution maps session type to draw probability.
	SessionTypeDistribution map[types.SessionType]float64 `yaml:"session_type_distribution"`

	// SessionDurations gives the [min,max] minutes per session type.
	SessionDurations map[types.SessionType]IntRange `yaml:"session_durations"`

	// MinGapMinutes separates consecutive planned sessions.
	MinGapMinutes int `yaml:"min_gap_minutes"`
}

func defaultSchedule() ScheduleConfig {
	return ScheduleConfig{
		ActiveStartMinutes: 8 * 60,
		ActiveEndMinutes:   23 * 60,
		SessionsByMood: map[types.Mood]IntRange{
			types.MoodLow:    {1, 2},
			types.MoodNormal: {2, 4},
			types.MoodHigh:   {4, 6},
		},
		SessionTypeDistribution: map[types.SessionType]float64{
			types.SessionShort:  0.45,
			types.SessionMedium: 0.40,
			types.SessionLong:   0.15,
		},
		SessionDurations: map[types.SessionType]IntRange{
			types.SessionShort:  {3, 8},
			types.SessionMedium: {10, 20},
			types.SessionLong:   {25, 45},
		},
		MinGapMinutes: 30,
	}
}

// Validate checks the schedule's internal consistency.
func (s ScheduleConfig) Validate() error {
	if s.ActiveStartMinutes < 0 || s.ActiveEndMinutes > 24*60 || s.ActiveEndMinutes <= s.ActiveStartMinutes {
		return fmt.Errorf("active hours [%d,%d) out of order", s.ActiveStartMinutes, s.ActiveEndMinutes)
	}
	var sum float64
	for st, prob := range s.SessionTypeDistribution {
		if prob < 0 {
			return fmt.Errorf("session type %q: negative probability", st)
		}
		if _, ok := s.SessionDurations[st]; !ok {
			return fmt.Errorf("session type %q has no duration range", st)
		}
		sum += prob
	}
	if sum <= 0 {
		return fmt.Errorf("session type distribution is empty")
	}
	for st, r := range s.SessionDurations {
		if r[0] <= 0 || r[1] < r[0] {
			return fmt.Errorf("session type %q: invalid duration range %v", st, r)
		}
	}
	return nil
}
