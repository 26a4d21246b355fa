// Package policy talks to the remote policy backend: next-post decisions,
// behavior profiles, daily plans and liveness heartbeats. Every call is
// authenticated with a session token and the device fingerprint.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ambler/internal/config"
	"ambler/internal/types"
)

// Client is a thin JSON-over-HTTP client for the policy backend.
type Client struct {
	base        string
	fingerprint string
	tokens      types.TokenSource
	http        *http.Client
	log         *zap.Logger
}

// New builds a policy client. fingerprint identifies this install and is sent
// with every request.
func New(cfg config.APIConfig, tokens types.TokenSource, fingerprint string, log *zap.Logger) *Client {
	return &Client{
		base:        cfg.BaseURL,
		fingerprint: fingerprint,
		tokens:      tokens,
		http:        &http.Client{Timeout: cfg.RequestTimeout()},
		log:         log.Named("policy"),
	}
}

// Post action verbs returned by the backend.
const (
	ActionWait = "WAIT"
	ActionPost = "POST"
)

// RuntimePatch carries runtime fields the backend wants updated alongside a
// post decision. Pointers distinguish "unset" from zero values.
type RuntimePatch struct {
	LastTickWasInPause *bool  `json:"lastTickWasInPause,omitempty"`
	NextPostAt         *int64 `json:"nextPostAt,omitempty"`
	NextPostIndex      *int   `json:"nextPostIndex,omitempty"`
}

// Apply copies the set fields onto rt.
func (p *RuntimePatch) Apply(rt *types.RuntimeState) {
	if p == nil {
		return
	}
	if p.LastTickWasInPause != nil {
		rt.LastTickWasInPause = *p.LastTickWasInPause
	}
	if p.NextPostAt != nil {
		rt.NextPostAt = *p.NextPostAt
	}
	if p.NextPostIndex != nil {
		rt.NextPostIndex = *p.NextPostIndex
	}
}

// PostAction is the backend's decision for the autopost tick.
type PostAction struct {
	Action        string        `json:"action"`
	Reason        string        `json:"reason,omitempty"`
	WaitUntil     int64         `json:"waitUntil,omitempty"`
	PostText      string        `json:"postText,omitempty"`
	NextIndex     int           `json:"nextIndex,omitempty"`
	NextPostAt    int64         `json:"nextPostAt,omitempty"`
	UpdateRuntime *RuntimePatch `json:"updateRuntime,omitempty"`
}

// NextPostRequest describes the local state the backend decides against.
type NextPostRequest struct {
	Posts         []string `json:"posts"`
	NextPostIndex int      `json:"nextPostIndex"`
	NextPostAt    int64    `json:"nextPostAt"`
	Timezone      string   `json:"timezone"`
	PostsToday    int      `json:"postsToday"`
}

// NextPostAction asks the backend what the autopost engine should do now.
func (c *Client) NextPostAction(ctx context.Context, req NextPostRequest) (PostAction, error) {
	var out PostAction
	if err := c.post(ctx, "/autopost/next-action", req, &out); err != nil {
		return PostAction{}, err
	}
	if out.Action != ActionWait && out.Action != ActionPost {
		return PostAction{}, fmt.Errorf("policy: unknown action %q", out.Action)
	}
	return out, nil
}

// BehaviorProfile fetches the server-tuned behavior profile for one session.
func (c *Client) BehaviorProfile(ctx context.Context, session types.SessionType, mood types.Mood) (config.BehaviorProfile, error) {
	req := struct {
		SessionType types.SessionType `json:"sessionType"`
		Mood        types.Mood        `json:"mood"`
	}{session, mood}
	var out config.BehaviorProfile
	if err := c.post(ctx, "/activity/behavior-profile", req, &out); err != nil {
		return config.BehaviorProfile{}, err
	}
	return out, nil
}

// RemotePlan is a server-provided daily session plan.
type RemotePlan struct {
	Sessions     []types.PlannedSession `json:"sessions"`
	Mood         types.Mood             `json:"mood"`
	PlanDate     int64                  `json:"planDate"`
	TotalMinutes int                    `json:"totalMinutes"`
}

// DailyPlan fetches today's plan from the backend. A backend without plan
// support answers 404, which callers treat as "build locally".
func (c *Client) DailyPlan(ctx context.Context, timezone string, mood types.Mood) (RemotePlan, error) {
	req := struct {
		Timezone string     `json:"timezone"`
		Mood     types.Mood `json:"mood"`
	}{timezone, mood}
	var out RemotePlan
	if err := c.post(ctx, "/activity/daily-plan", req, &out); err != nil {
		return RemotePlan{}, err
	}
	return out, nil
}

// HeartbeatInfo is the backend's answer to a liveness report.
type HeartbeatInfo struct {
	Valid          bool   `json:"valid"`
	Plan           string `json:"plan,omitempty"`
	UpdateRequired bool   `json:"updateRequired,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Heartbeat reports liveness and re-verifies the session. An auth rejection
// surfaces as types.ErrAuth; network trouble stays retryable.
func (c *Client) Heartbeat(ctx context.Context) (HeartbeatInfo, error) {
	req := struct {
		At int64 `json:"at"`
	}{time.Now().UnixMilli()}
	var out HeartbeatInfo
	if err := c.post(ctx, "/license/heartbeat", req, &out); err != nil {
		return HeartbeatInfo{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("policy: session token: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("policy: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("policy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Token", token)
	req.Header.Set("X-Device-Fingerprint", c.fingerprint)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("policy: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Warn("backend rejected session", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("policy: %s: status %d: %w", path, resp.StatusCode, types.ErrAuth)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("policy: %s: status %d: %s", path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("policy: %s: decode response: %w", path, err)
	}
	return nil
}
