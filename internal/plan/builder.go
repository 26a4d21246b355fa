package plan

import (
	"math/rand"
	"sort"
	"time"

	"ambler/internal/config"
	"ambler/internal/types"
)

// Plan is one day's activity schedule. Sessions are ordered by start offset
// and non-overlapping. An off day has a mood but no sessions.
type Plan struct {
	Sessions     []types.PlannedSession
	Mood         types.Mood
	PlanDate     int64 // unix ms of the plan's local midnight
	TotalMinutes int
}

// Builder draws daily plans from the schedule configuration.
type Builder struct {
	cfg config.ScheduleConfig
	rng *rand.Rand
}

// NewBuilder wires a Builder over its random source.
func NewBuilder(cfg config.ScheduleConfig, rng *rand.Rand) *Builder {
	return &Builder{cfg: cfg, rng: rng}
}

// Build draws the plan for the day starting at todayStart. Mood weights and
// the off-day probability come from the settings document.
func (b *Builder) Build(todayStart time.Time, st types.Settings) Plan {
	p := Plan{
		Mood:     b.drawMood(st.MoodWeights),
		PlanDate: todayStart.UnixMilli(),
	}

	if b.rng.Float64() < st.OffDayProbability {
		return p
	}

	countRange := b.cfg.SessionsByMood[p.Mood]
	count := countRange.Min()
	if spread := countRange.Max() - countRange.Min(); spread > 0 {
		count += b.rng.Intn(spread + 1)
	}

	starts := make([]int, 0, count)
	window := b.cfg.ActiveEndMinutes - b.cfg.ActiveStartMinutes
	for i := 0; i < count; i++ {
		starts = append(starts, b.cfg.ActiveStartMinutes+b.rng.Intn(window))
	}
	sort.Ints(starts)

	prevEnd := 0
	for _, start := range starts {
		st := b.drawType()
		dur := b.drawDuration(st)

		if start < prevEnd+b.cfg.MinGapMinutes {
			start = prevEnd + b.cfg.MinGapMinutes
		}
		if start+dur > b.cfg.ActiveEndMinutes {
			// No room left in the active window.
			break
		}

		p.Sessions = append(p.Sessions, types.PlannedSession{
			Type:            st,
			StartMinutes:    start,
			DurationMinutes: dur,
		})
		p.TotalMinutes += dur
		prevEnd = start + dur
	}

	return p
}

func (b *Builder) drawMood(w types.MoodWeights) types.Mood {
	roll := b.rng.Intn(100)
	switch {
	case roll < w.Low:
		return types.MoodLow
	case roll < w.Low+w.Normal:
		return types.MoodNormal
	default:
		return types.MoodHigh
	}
}

var typeOrder = []types.SessionType{types.SessionShort, types.SessionMedium, types.SessionLong}

func (b *Builder) drawType() types.SessionType {
	roll := b.rng.Float64()
	var cumulative float64
	for _, st := range typeOrder {
		cumulative += b.cfg.SessionTypeDistribution[st]
		if roll < cumulative {
			return st
		}
	}
	return types.SessionMedium
}

func (b *Builder) drawDuration(st types.SessionType) int {
	r, ok := b.cfg.SessionDurations[st]
	if !ok {
		return 10
	}
	dur := r.Min()
	if spread := r.Max() - r.Min(); spread > 0 {
		dur += b.rng.Intn(spread + 1)
	}
	return dur
}
