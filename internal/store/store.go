// Package store persists the runtime and settings documents in SQLite.
// Both are single-row JSON documents; the runtime document is only ever
// changed through MutateRuntime, which serializes read-modify-write cycles
// under the store lock.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"ambler/internal/types"
)

const (
	keyRuntime  = "runtime"
	keySettings = "settings"
	keyInstall  = "installId"
)

// Store is the SQLite-backed runtime store.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	seed   types.Settings
}

// Open initializes the database at path. seed is the settings document
// written on first install.
func Open(path string, seed types.Settings) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, dbPath: path, seed: seed}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS alarms (
		name TEXT PRIMARY KEY,
		fire_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) loadDoc(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) saveDoc(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Runtime returns the runtime document, creating the first-install document
// if none exists yet.
func (s *Store) Runtime(ctx context.Context) (types.RuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimeLocked(ctx)
}

func (s *Store) runtimeLocked(ctx context.Context) (types.RuntimeState, error) {
	var rt types.RuntimeState
	ok, err := s.loadDoc(ctx, keyRuntime, &rt)
	if err != nil {
		return rt, err
	}
	if !ok {
		rt = types.NewRuntimeState()
		if err := s.saveDoc(ctx, keyRuntime, rt); err != nil {
			return rt, err
		}
	}
	return rt, nil
}

// MutateRuntime applies fn to the runtime document and persists the result.
// The lifetime post counter never moves backwards, regardless of what the
// mutator did.
func (s *Store) MutateRuntime(ctx context.Context, fn func(*types.RuntimeState)) (types.RuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, err := s.runtimeLocked(ctx)
	if err != nil {
		return rt, err
	}
	lifetime := rt.Counters.TotalPostsLifetime

	fn(&rt)

	if rt.Counters.TotalPostsLifetime < lifetime {
		rt.Counters.TotalPostsLifetime = lifetime
	}
	if err := s.saveDoc(ctx, keyRuntime, rt); err != nil {
		return rt, err
	}
	return rt, nil
}

// Settings returns the settings document, seeding it on first install.
func (s *Store) Settings(ctx context.Context) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked(ctx)
}

func (s *Store) settingsLocked(ctx context.Context) (types.Settings, error) {
	var st types.Settings
	ok, err := s.loadDoc(ctx, keySettings, &st)
	if err != nil {
		return st, err
	}
	if !ok {
		st = s.seed
		if err := s.saveDoc(ctx, keySettings, st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// PatchSettings applies fn to the settings document, validates the result
// and persists it.
func (s *Store) PatchSettings(ctx context.Context, fn func(*types.Settings)) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.settingsLocked(ctx)
	if err != nil {
		return st, err
	}
	fn(&st)
	if err := ValidateSettings(st); err != nil {
		return st, err
	}
	if err := s.saveDoc(ctx, keySettings, st); err != nil {
		return st, err
	}
	return st, nil
}

// ValidateSettings rejects settings documents that would break planning.
func ValidateSettings(st types.Settings) error {
	if st.Timezone == "" {
		return fmt.Errorf("settings: timezone required")
	}
	sum := st.MoodWeights.Low + st.MoodWeights.Normal + st.MoodWeights.High
	if sum != 100 {
		return fmt.Errorf("settings: mood weights sum to %d, want 100", sum)
	}
	if st.MediaAttachChance < 0 || st.MediaAttachChance > 100 {
		return fmt.Errorf("settings: media attach chance out of range")
	}
	if st.OffDayProbability < 0 || st.OffDayProbability >= 1 {
		return fmt.Errorf("settings: off-day probability out of range")
	}
	return nil
}

// InstallID returns the stable per-install identifier, generating one on
// first call.
func (s *Store) InstallID(ctx context.Context, generate func() string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	ok, err := s.loadDoc(ctx, keyInstall, &id)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = generate()
	if err := s.saveDoc(ctx, keyInstall, id); err != nil {
		return "", err
	}
	return id, nil
}

// ResetAll wipes every document back to first-install state. Alarms are
// cleared as well.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key != ?`, keyInstall); err != nil {
		return fmt.Errorf("reset documents: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alarms`); err != nil {
		return fmt.Errorf("reset alarms: %w", err)
	}
	if err := s.saveDoc(ctx, keySettings, s.seed); err != nil {
		return err
	}
	return s.saveDoc(ctx, keyRuntime, types.NewRuntimeState())
}
