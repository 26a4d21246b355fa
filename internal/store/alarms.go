package store

import (
	"context"
	"fmt"
	"time"
)

// Alarm is one persisted one-shot timer.
type Alarm struct {
	Name   string
	FireAt time.Time
}

// SaveAlarm upserts a named alarm. Re-saving a name replaces its instant.
func (s *Store) SaveAlarm(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alarms (name, fire_at) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET fire_at = excluded.fire_at`,
		name, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("save alarm %s: %w", name, err)
	}
	return nil
}

// DeleteAlarm removes a named alarm. Deleting an unknown name is a no-op.
func (s *Store) DeleteAlarm(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete alarm %s: %w", name, err)
	}
	return nil
}

// DeleteAllAlarms removes every persisted alarm.
func (s *Store) DeleteAllAlarms(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alarms`); err != nil {
		return fmt.Errorf("delete alarms: %w", err)
	}
	return nil
}

// Alarms returns all persisted alarms, used to re-arm timers after restart.
func (s *Store) Alarms(ctx context.Context) ([]Alarm, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, fire_at FROM alarms ORDER BY fire_at`)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()

	var out []Alarm
	for rows.Next() {
		var name string
		var ms int64
		if err := rows.Scan(&name, &ms); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		out = append(out, Alarm{Name: name, FireAt: time.UnixMilli(ms)})
	}
	return out, rows.Err()
}
