// Package license handles activation and session-token lifecycle against the
// licensing backend. Tokens are short-lived and renewed lazily on use.
package license

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ambler/internal/config"
	"ambler/internal/store"
	"ambler/internal/types"
)

// tokens are renewed this long before their stated expiry.
const renewSlack = 2 * time.Minute

// Manager verifies the license key and hands out cached session tokens.
// It implements types.TokenSource.
type Manager struct {
	base  string
	http  *http.Client
	store *store.Store
	log   *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	plan      string
}

func NewManager(cfg config.APIConfig, st *store.Store, log *zap.Logger) *Manager {
	return &Manager{
		base:  cfg.BaseURL,
		http:  &http.Client{Timeout: cfg.RequestTimeout()},
		store: st,
		log:   log.Named("license"),
	}
}

// Fingerprint returns the stable device fingerprint: the SHA-256 of the
// install ID, generated and persisted on first use.
func (m *Manager) Fingerprint(ctx context.Context) (string, error) {
	id, err := m.store.InstallID(ctx, uuid.NewString)
	if err != nil {
		return "", fmt.Errorf("license: install id: %w", err)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:]), nil
}

type verifyResponse struct {
	Valid        bool   `json:"valid"`
	SessionToken string `json:"sessionToken"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds
	Plan         string `json:"plan,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Token returns a valid session token, renewing against the backend when the
// cached one is missing or near expiry. Rejections surface as types.ErrAuth.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Before(m.expiresAt.Add(-renewSlack)) {
		return m.token, nil
	}

	settings, err := m.store.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("license: load settings: %w", err)
	}
	if settings.LicenseKey == "" {
		return "", fmt.Errorf("license: no key configured: %w", types.ErrAuth)
	}

	fp, err := m.Fingerprint(ctx)
	if err != nil {
		return "", err
	}

	var out verifyResponse
	req := struct {
		LicenseKey  string `json:"licenseKey"`
		Fingerprint string `json:"fingerprint"`
	}{settings.LicenseKey, fp}
	if err := m.post(ctx, "/license/verify", req, &out); err != nil {
		return "", err
	}
	if !out.Valid || out.SessionToken == "" {
		m.token = ""
		return "", fmt.Errorf("license: verification refused: %s: %w", out.Message, types.ErrAuth)
	}

	m.token = out.SessionToken
	m.expiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	m.plan = out.Plan
	m.log.Debug("session token renewed",
		zap.String("plan", out.Plan),
		zap.Time("expires_at", m.expiresAt))
	return m.token, nil
}

// Invalidate drops the cached token so the next Token call re-verifies.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
}

// Plan reports the plan name from the last successful verification.
func (m *Manager) Plan() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plan
}

// ActivationResult reports the outcome of a key activation.
type ActivationResult struct {
	Activated bool   `json:"activated"`
	Plan      string `json:"plan,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Activate binds a license key to this device and persists it on success.
func (m *Manager) Activate(ctx context.Context, key, email string) (ActivationResult, error) {
	fp, err := m.Fingerprint(ctx)
	if err != nil {
		return ActivationResult{}, err
	}

	var out ActivationResult
	req := struct {
		LicenseKey  string `json:"licenseKey"`
		Email       string `json:"email,omitempty"`
		Fingerprint string `json:"fingerprint"`
	}{key, email, fp}
	if err := m.post(ctx, "/license/activate", req, &out); err != nil {
		return ActivationResult{}, err
	}
	if !out.Activated {
		return out, fmt.Errorf("license: activation refused: %s: %w", out.Message, types.ErrAuth)
	}

	if _, err := m.store.PatchSettings(ctx, func(s *types.Settings) {
		s.LicenseKey = key
	}); err != nil {
		return out, fmt.Errorf("license: persist key: %w", err)
	}
	m.Invalidate()
	m.log.Info("license activated", zap.String("plan", out.Plan))
	return out, nil
}

func (m *Manager) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("license: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("license: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("license: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("license: %s: status %d: %w", path, resp.StatusCode, types.ErrAuth)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("license: %s: status %d: %s", path, resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
