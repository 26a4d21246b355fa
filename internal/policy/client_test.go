package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ambler/internal/config"
	"ambler/internal/types"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) { return string(s), nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.APIConfig{BaseURL: srv.URL, Timeout: "5s"},
		staticTokens("tok-123"), "fp-abc", zap.NewNop())
}

func TestNextPostActionSendsAuthHeaders(t *testing.T) {
	var gotToken, gotFP string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Session-Token")
		gotFP = r.Header.Get("X-Device-Fingerprint")

		var req NextPostRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.NextPostIndex)

		json.NewEncoder(w).Encode(PostAction{
			Action:     ActionPost,
			PostText:   "hello",
			NextIndex:  3,
			NextPostAt: 1234,
		})
	})

	action, err := c.NextPostAction(context.Background(), NextPostRequest{
		Posts:         []string{"a", "b", "c", "d"},
		NextPostIndex: 2,
		Timezone:      "UTC",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-123", gotToken)
	assert.Equal(t, "fp-abc", gotFP)
	assert.Equal(t, ActionPost, action.Action)
	assert.Equal(t, "hello", action.PostText)
	assert.Equal(t, 3, action.NextIndex)
}

func TestNextPostActionRejectsUnknownVerb(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PostAction{Action: "DANCE"})
	})
	_, err := c.NextPostAction(context.Background(), NextPostRequest{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrAuth)
}

func TestAuthStatusesAreFatal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := c.Heartbeat(context.Background())
		assert.ErrorIs(t, err, types.ErrAuth, "status %d", status)
	}
}

func TestServerErrorsAreRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := c.NextPostAction(context.Background(), NextPostRequest{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrAuth)
	assert.Contains(t, err.Error(), "503")
}

func TestRuntimePatchApply(t *testing.T) {
	rt := types.RuntimeState{NextPostIndex: 1, NextPostAt: 100}

	var nilPatch *RuntimePatch
	nilPatch.Apply(&rt)
	assert.Equal(t, 1, rt.NextPostIndex, "nil patch is a no-op")

	inPause := true
	at := int64(999)
	(&RuntimePatch{LastTickWasInPause: &inPause, NextPostAt: &at}).Apply(&rt)
	assert.True(t, rt.LastTickWasInPause)
	assert.EqualValues(t, 999, rt.NextPostAt)
	assert.Equal(t, 1, rt.NextPostIndex, "unset fields untouched")
}

func TestBehaviorProfileRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activity/behavior-profile", r.URL.Path)
		json.NewEncoder(w).Encode(config.DefaultBehavior())
	})

	p, err := c.BehaviorProfile(context.Background(), types.SessionMedium, types.MoodNormal)
	require.NoError(t, err)
	assert.NoError(t, p.Validate())
}

func TestDailyPlanNotFoundIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.DailyPlan(context.Background(), "UTC", types.MoodNormal)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrAuth)
}
