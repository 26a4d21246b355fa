package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambler/internal/types"
)

func testSeed() types.Settings {
	return types.Settings{
		Timezone:          "UTC",
		AutopostEnabled:   true,
		ActivityEnabled:   true,
		MoodWeights:       types.MoodWeights{Low: 30, Normal: 45, High: 25},
		OffDayProbability: 0.06,
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testSeed())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRuntimeFirstInstall(t *testing.T) {
	s := openTestStore(t)
	rt, err := s.Runtime(context.Background())
	require.NoError(t, err)

	assert.False(t, rt.Running)
	assert.Equal(t, types.StatusStopped, rt.Status)
	assert.Zero(t, rt.Counters.TotalPostsLifetime)
}

func TestMutateRuntimePersists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Running = true
		r.Status = types.StatusRunning
		r.Counters.PostsToday = 3
		r.NextPostAt = 1234
	})
	require.NoError(t, err)

	rt, err := s.Runtime(ctx)
	require.NoError(t, err)
	assert.True(t, rt.Running)
	assert.Equal(t, 3, rt.Counters.PostsToday)
	assert.EqualValues(t, 1234, rt.NextPostAt)
}

func TestLifetimeCounterNeverDecreases(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.TotalPostsLifetime = 10
	})
	require.NoError(t, err)

	rt, err := s.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.TotalPostsLifetime = 4
	})
	require.NoError(t, err)
	assert.Equal(t, 10, rt.Counters.TotalPostsLifetime, "clamped against backwards movement")

	rt, err = s.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.ResetDaily()
	})
	require.NoError(t, err)
	assert.Equal(t, 10, rt.Counters.TotalPostsLifetime, "daily reset preserves lifetime")
}

func TestSettingsSeededOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "UTC", st.Timezone)
	assert.True(t, st.AutopostEnabled)
}

func TestPatchSettingsValidates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.PatchSettings(ctx, func(st *types.Settings) {
		st.MoodWeights = types.MoodWeights{Low: 50, Normal: 40, High: 20}
	})
	require.Error(t, err, "mood weights must sum to 100")

	// A rejected patch must not be persisted.
	st, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.MoodWeights{Low: 30, Normal: 45, High: 25}, st.MoodWeights)

	_, err = s.PatchSettings(ctx, func(st *types.Settings) {
		st.MoodWeights = types.MoodWeights{Low: 20, Normal: 50, High: 30}
		st.LicenseKey = "AMB-TEST"
	})
	require.NoError(t, err)

	st, err = s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AMB-TEST", st.LicenseKey)
	assert.Equal(t, 20, st.MoodWeights.Low)
}

func TestValidateSettings(t *testing.T) {
	base := testSeed()

	bad := base
	bad.Timezone = ""
	assert.Error(t, ValidateSettings(bad))

	bad = base
	bad.MediaAttachChance = 120
	assert.Error(t, ValidateSettings(bad))

	bad = base
	bad.OffDayProbability = 1.0
	assert.Error(t, ValidateSettings(bad))

	assert.NoError(t, ValidateSettings(base))
}

func TestInstallIDStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InstallID(ctx, uuid.NewString)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.InstallID(ctx, uuid.NewString)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResetAllKeepsInstallID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InstallID(ctx, uuid.NewString)
	require.NoError(t, err)

	_, err = s.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.TotalPostsLifetime = 42
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveAlarm(ctx, "x", time.Now().Add(time.Hour)))

	require.NoError(t, s.ResetAll(ctx))

	rt, err := s.Runtime(ctx)
	require.NoError(t, err)
	assert.Zero(t, rt.Counters.TotalPostsLifetime)

	alarms, err := s.Alarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, alarms)

	same, err := s.InstallID(ctx, uuid.NewString)
	require.NoError(t, err)
	assert.Equal(t, id, same)
}

func TestAlarmsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	early := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	late := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.SaveAlarm(ctx, "late", late))
	require.NoError(t, s.SaveAlarm(ctx, "early", early))

	alarms, err := s.Alarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 2)
	assert.Equal(t, "early", alarms[0].Name, "ordered by fire time")
	assert.Equal(t, early.UnixMilli(), alarms[0].FireAt.UnixMilli())

	// Upsert moves an existing alarm.
	moved := late.Add(time.Hour)
	require.NoError(t, s.SaveAlarm(ctx, "early", moved))
	alarms, err = s.Alarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 2)
	assert.Equal(t, "late", alarms[0].Name)

	require.NoError(t, s.DeleteAlarm(ctx, "late"))
	alarms, err = s.Alarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 1)

	require.NoError(t, s.DeleteAllAlarms(ctx))
	alarms, err = s.Alarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, alarms)
}
