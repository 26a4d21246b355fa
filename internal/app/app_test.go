package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ambler/internal/config"
	"ambler/internal/plan"
	"ambler/internal/types"
)

// licenseOK answers /license/verify with a fresh session token and accepts
// heartbeats. Everything else is 404 so engines fall back to local behavior.
func licenseOK() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/license/verify", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid":        true,
			"sessionToken": "tok-1",
			"expiresIn":    3600,
			"plan":         "pro",
		})
	})
	mux.HandleFunc("/license/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": true})
	})
	return mux
}

func newTestApp(t *testing.T, handler http.Handler) *App {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Media.Dir = filepath.Join(cfg.DataDir, "media")
	cfg.API = config.APIConfig{BaseURL: srv.URL, Timeout: "5s"}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.timers.Close()
		_ = a.store.Close()
	})

	// Keep the browser out of unit tests: a real session would try to attach.
	_, err = a.store.PatchSettings(context.Background(), func(s *types.Settings) {
		s.ActivityEnabled = false
	})
	require.NoError(t, err)
	return a
}

func activate(t *testing.T, a *App) {
	t.Helper()
	_, err := a.store.PatchSettings(context.Background(), func(s *types.Settings) {
		s.LicenseKey = "AMB-TEST"
	})
	require.NoError(t, err)
}

func alarmNames(t *testing.T, a *App) []string {
	t.Helper()
	alarms, err := a.store.Alarms(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(alarms))
	for _, al := range alarms {
		names = append(names, al.Name)
	}
	return names
}

func TestStartFailsWithoutLicenseKey(t *testing.T) {
	a := newTestApp(t, licenseOK())

	err := a.Start(context.Background())
	require.ErrorIs(t, err, types.ErrAuth)

	s, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Running)
}

func TestStartStopLifecycle(t *testing.T) {
	a := newTestApp(t, licenseOK())
	activate(t, a)
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))

	s, err := a.Status(ctx)
	require.NoError(t, err)
	assert.True(t, s.Running)
	assert.Equal(t, types.StatusRunning, s.Status)
	assert.Contains(t, alarmNames(t, a), AlarmHeartbeat)

	// Plant in-flight state so Stop has something to clear.
	_, err = a.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.NextPostAt = time.Now().Add(time.Hour).UnixMilli()
		r.NextActivityWindow = &types.ActivityWindow{
			Start: time.Now(), End: time.Now().Add(time.Hour),
		}
	})
	require.NoError(t, err)

	require.NoError(t, a.Stop(ctx))

	s, err = a.Status(ctx)
	require.NoError(t, err)
	assert.False(t, s.Running)
	assert.Equal(t, types.StatusStopped, s.Status)
	assert.Nil(t, s.NextPostAt)
	assert.Nil(t, s.NextActivityWindow)
	assert.False(t, s.Posting)
	assert.False(t, s.InSession)
	assert.Empty(t, s.LockHolder)

	// Only the daily reset survives a stop.
	assert.Equal(t, []string{AlarmDailyReset}, alarmNames(t, a))
}

func TestDailyReset(t *testing.T) {
	a := newTestApp(t, licenseOK())
	ctx := context.Background()

	_, err := a.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.PostsToday = 4
		r.Counters.LikesToday = 12
		r.Counters.TotalPostsLifetime = 99
		r.SessionPlanDate = 1
		r.SessionPlanToday = []types.PlannedSession{{Type: types.SessionShort, StartMinutes: 60, DurationMinutes: 5}}
		r.Mood = types.MoodHigh
	})
	require.NoError(t, err)

	a.dailyReset(ctx)
	a.dailyReset(ctx) // same-day repeat must be a no-op for lifetime totals

	rt, err := a.store.Runtime(ctx)
	require.NoError(t, err)
	assert.Zero(t, rt.Counters.PostsToday)
	assert.Zero(t, rt.Counters.LikesToday)
	assert.Equal(t, 99, rt.Counters.TotalPostsLifetime)
	assert.Empty(t, rt.SessionPlanToday)
	assert.Zero(t, rt.SessionPlanDate)
	assert.Empty(t, rt.Mood)
	assert.Equal(t, plan.DateString(time.Now(), a.loc), rt.LastResetDate)

	assert.Contains(t, alarmNames(t, a), AlarmDailyReset, "reset re-arms itself")
}

func TestFatalStopsRunOnce(t *testing.T) {
	a := newTestApp(t, licenseOK())
	activate(t, a)
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))

	a.fatal(ctx, types.ErrAuth)
	a.fatal(ctx, types.ErrAuth) // second racing engine is a no-op

	s, err := a.Status(ctx)
	require.NoError(t, err)
	assert.False(t, s.Running)
	assert.Equal(t, types.StatusStopped, s.Status)

	var codes []string
	for _, e := range s.Feed {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, types.CodeLicenseInvalid)
}

func TestHeartbeatUpdateRequired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/license/verify", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid": true, "sessionToken": "tok-1", "expiresIn": 3600,
		})
	})
	mux.HandleFunc("/license/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": true, "updateRequired": true})
	})

	a := newTestApp(t, mux)
	activate(t, a)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	a.heartbeat(ctx)

	s, err := a.Status(ctx)
	require.NoError(t, err)
	assert.False(t, s.Running)
	assert.Equal(t, types.StatusUpdateRequired, s.Status)
	assert.Equal(t, []string{AlarmDailyReset}, alarmNames(t, a))
}

func TestHeartbeatNetworkFailureKeepsRunning(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/license/verify", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid": true, "sessionToken": "tok-1", "expiresIn": 3600,
		})
	})
	mux.HandleFunc("/license/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	})

	a := newTestApp(t, mux)
	activate(t, a)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	a.heartbeat(ctx)

	s, err := a.Status(ctx)
	require.NoError(t, err)
	assert.True(t, s.Running, "transient backend trouble never stops a run")
	assert.Equal(t, int32(1), a.hbFailures.Load())
	assert.Contains(t, alarmNames(t, a), AlarmHeartbeat, "heartbeat keeps ticking")
}

func TestHeartbeatSurvivesStoreFailure(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/license/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		hits++
	})

	a := newTestApp(t, mux)
	ctx := context.Background()

	// Persist the runtime document, then corrupt the row so the next read
	// fails the way a mid-write crash would.
	_, err := a.store.MutateRuntime(ctx, func(r *types.RuntimeState) { r.Running = true })
	require.NoError(t, err)

	db, err := sql.Open("sqlite", filepath.Join(a.cfg.DataDir, "ambler.db"))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE documents SET value = '{' WHERE key = 'runtime'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	a.heartbeat(ctx)

	assert.Zero(t, hits, "no ping without a readable run state")
	assert.Equal(t, int32(1), a.hbFailures.Load())
	assert.Contains(t, alarmNames(t, a), AlarmHeartbeat, "one bad read never silences the loop")
}

func TestHeartbeatSkippedWhileStopped(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/license/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		hits++
	})

	a := newTestApp(t, mux)
	a.heartbeat(context.Background())
	assert.Zero(t, hits, "no heartbeat while not running")
}

func TestQueueManagement(t *testing.T) {
	a := newTestApp(t, licenseOK())
	ctx := context.Background()

	require.NoError(t, a.SetQueue(ctx, "first post\n\nsecond post\n\nthird"))

	posts, issues, err := a.ValidateQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 3)
	assert.Empty(t, issues)

	s, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.QueuedPosts)
	assert.Nil(t, s.NextPostAt)
}

func TestResetKeepsInstallIdentity(t *testing.T) {
	a := newTestApp(t, licenseOK())
	ctx := context.Background()

	fpBefore, err := a.license.Fingerprint(ctx)
	require.NoError(t, err)

	_, err = a.store.MutateRuntime(ctx, func(r *types.RuntimeState) {
		r.Counters.TotalPostsLifetime = 7
	})
	require.NoError(t, err)

	require.NoError(t, a.Reset(ctx))

	rt, err := a.store.Runtime(ctx)
	require.NoError(t, err)
	assert.Zero(t, rt.Counters.TotalPostsLifetime)

	fpAfter, err := a.license.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, fpBefore, fpAfter, "fingerprint survives a reset")
}

func TestRunRestoresAndShutsDown(t *testing.T) {
	a := newTestApp(t, licenseOK())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, false) }()

	time.Sleep(100 * time.Millisecond)
	assert.Contains(t, alarmNames(t, a), AlarmDailyReset)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
