package plan

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambler/internal/config"
	"ambler/internal/types"
)

func testSettings() types.Settings {
	return types.Settings{
		Timezone:          "UTC",
		MoodWeights:       types.MoodWeights{Low: 30, Normal: 45, High: 25},
		OffDayProbability: 0,
	}
}

func midnight(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
}

func TestBuildRespectsActiveWindowAndGaps(t *testing.T) {
	cfg := config.Default().Schedule
	for seed := int64(0); seed < 100; seed++ {
		b := NewBuilder(cfg, rand.New(rand.NewSource(seed)))
		p := b.Build(midnight(t), testSettings())

		require.NotEmpty(t, p.Mood, "seed %d", seed)
		assert.Equal(t, midnight(t).UnixMilli(), p.PlanDate)

		prevEnd := -1
		for i, s := range p.Sessions {
			assert.GreaterOrEqual(t, s.StartMinutes, cfg.ActiveStartMinutes, "seed %d session %d", seed, i)
			assert.LessOrEqual(t, s.StartMinutes+s.DurationMinutes, cfg.ActiveEndMinutes, "seed %d session %d", seed, i)
			if prevEnd >= 0 {
				assert.GreaterOrEqual(t, s.StartMinutes, prevEnd+cfg.MinGapMinutes, "seed %d session %d overlaps gap", seed, i)
			}
			prevEnd = s.StartMinutes + s.DurationMinutes

			dur, ok := cfg.SessionDurations[s.Type]
			require.True(t, ok, "seed %d: unknown session type %q", seed, s.Type)
			assert.GreaterOrEqual(t, s.DurationMinutes, dur.Min())
			assert.LessOrEqual(t, s.DurationMinutes, dur.Max())
		}
	}
}

func TestBuildSessionCountMatchesMood(t *testing.T) {
	cfg := config.Default().Schedule
	for seed := int64(0); seed < 100; seed++ {
		b := NewBuilder(cfg, rand.New(rand.NewSource(seed)))
		p := b.Build(midnight(t), testSettings())

		// The greedy gap walk may drop trailing sessions, never add them.
		assert.LessOrEqual(t, len(p.Sessions), cfg.SessionsByMood[p.Mood].Max(), "seed %d", seed)
	}
}

func TestBuildOffDay(t *testing.T) {
	st := testSettings()
	st.OffDayProbability = 1.0

	b := NewBuilder(config.Default().Schedule, rand.New(rand.NewSource(1)))
	p := b.Build(midnight(t), st)

	assert.Empty(t, p.Sessions)
	assert.NotEmpty(t, p.Mood, "an off day still has a mood")
	assert.Zero(t, p.TotalMinutes)
}

func TestMoodWeightsSkewDraw(t *testing.T) {
	st := testSettings()
	st.MoodWeights = types.MoodWeights{Low: 100, Normal: 0, High: 0}

	b := NewBuilder(config.Default().Schedule, rand.New(rand.NewSource(2)))
	for i := 0; i < 20; i++ {
		p := b.Build(midnight(t), st)
		assert.Equal(t, types.MoodLow, p.Mood)
	}
}

func TestIsStale(t *testing.T) {
	today := midnight(t)
	assert.True(t, IsStale(0, today), "no plan is stale")
	assert.True(t, IsStale(today.Add(-24*time.Hour).UnixMilli(), today), "yesterday's plan is stale")
	assert.False(t, IsStale(today.UnixMilli(), today))
	assert.False(t, IsStale(today.Add(time.Hour).UnixMilli(), today))
}

func TestTodayStartAndNextMidnight(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	now := time.Date(2026, 3, 14, 17, 42, 11, 0, loc)
	start := TodayStart(now, loc)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, loc), start)

	next := NextMidnight(now, loc)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, loc), next)
}

func TestNextMidnightAcrossDSTIsWallClock(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// DST starts 2026-03-29 in Berlin: that day has 23 hours.
	now := time.Date(2026, 3, 29, 12, 0, 0, 0, loc)
	next := NextMidnight(now, loc)
	assert.Equal(t, time.Date(2026, 3, 30, 0, 0, 0, 0, loc), next)
	assert.Equal(t, 0, next.Hour(), "wall-clock midnight, not midnight plus an hour")
}

func TestMinutesSinceMidnight(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 14, 8, 30, 0, 0, loc)
	assert.Equal(t, 8*60+30, MinutesSinceMidnight(now, loc))
}

func TestClockTimeHoldsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// Spring forward 2026-03-29: the day is 23 hours long.
	short := time.Date(2026, 3, 29, 0, 0, 0, 0, loc)
	at := ClockTime(short, 600, loc)
	assert.Equal(t, 10, at.Hour(), "minute 600 reads 10:00 on the clock, not elapsed time")
	assert.Equal(t, 9*time.Hour, at.Sub(short), "only nine hours actually elapse")

	// Fall back 2026-10-25: the day is 25 hours long.
	long := time.Date(2026, 10, 25, 0, 0, 0, 0, loc)
	at = ClockTime(long, 600, loc)
	assert.Equal(t, 10, at.Hour())
	assert.Equal(t, 11*time.Hour, at.Sub(long))

	// Clock 10:00 is minute 600 regardless of the day's length.
	assert.Equal(t, 600, MinutesSinceMidnight(at, loc))
}

func TestDateString(t *testing.T) {
	loc := time.UTC
	assert.Equal(t, "2026-03-14", DateString(time.Date(2026, 3, 14, 23, 59, 0, 0, loc), loc))
}
