// Package sched implements durable named one-shot timers. Every scheduled
// alarm is persisted before it is armed, so a restart re-arms pending alarms
// via Restore and fires overdue ones immediately instead of losing them.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ambler/internal/store"
	"ambler/internal/types"
)

// Handler runs when a named alarm fires.
type Handler func(ctx context.Context)

// Persistence is the durable side of the timer set. *store.Store satisfies it.
type Persistence interface {
	SaveAlarm(ctx context.Context, name string, at time.Time) error
	DeleteAlarm(ctx context.Context, name string) error
	DeleteAllAlarms(ctx context.Context) error
	Alarms(ctx context.Context) ([]store.Alarm, error)
}

// Timers is the in-process timer set over persisted alarms. At most one
// pending timer exists per name; rescheduling a name replaces it.
type Timers struct {
	log   *zap.Logger
	db    Persistence
	clock types.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*time.Timer
	wg       sync.WaitGroup
	closed   bool
}

// New builds an empty timer set. clock may be nil, defaulting to real time.
func New(db Persistence, log *zap.Logger, clock types.Clock) *Timers {
	if clock == nil {
		clock = types.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Timers{
		log:      log,
		db:       db,
		clock:    clock,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*time.Timer),
	}
}

// Handle registers the handler for a name. Must be called before the name is
// scheduled or restored.
func (t *Timers) Handle(name string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = h
}

// ScheduleOnce persists and arms a one-shot alarm. Instants in the past fire
// immediately.
func (t *Timers) ScheduleOnce(ctx context.Context, name string, at time.Time) error {
	if err := t.db.SaveAlarm(ctx, name, at); err != nil {
		return err
	}
	t.arm(name, at)
	return nil
}

// Cancel disarms a named alarm and removes its persisted record.
func (t *Timers) Cancel(ctx context.Context, name string) error {
	t.mu.Lock()
	if timer, ok := t.pending[name]; ok {
		timer.Stop()
		delete(t.pending, name)
	}
	t.mu.Unlock()
	return t.db.DeleteAlarm(ctx, name)
}

// CancelAll disarms every alarm.
func (t *Timers) CancelAll(ctx context.Context) error {
	t.mu.Lock()
	for name, timer := range t.pending {
		timer.Stop()
		delete(t.pending, name)
	}
	t.mu.Unlock()
	return t.db.DeleteAllAlarms(ctx)
}

// Restore re-arms every persisted alarm. Call once at startup after all
// handlers are registered.
func (t *Timers) Restore(ctx context.Context) error {
	alarms, err := t.db.Alarms(ctx)
	if err != nil {
		return fmt.Errorf("restore alarms: %w", err)
	}
	for _, a := range alarms {
		t.log.Info("restoring alarm",
			zap.String("name", a.Name),
			zap.Time("fire_at", a.FireAt))
		t.arm(a.Name, a.FireAt)
	}
	return nil
}

func (t *Timers) arm(name string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if prev, ok := t.pending[name]; ok {
		prev.Stop()
	}

	delay := at.Sub(t.clock.Now())
	if delay < 0 {
		delay = 0
	}
	t.pending[name] = time.AfterFunc(delay, func() { t.fire(name) })
}

func (t *Timers) fire(name string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.pending, name)
	h, ok := t.handlers[name]
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()

	// The alarm is consumed whether or not a handler exists; handlers that
	// need another tick re-schedule themselves.
	if err := t.db.DeleteAlarm(t.ctx, name); err != nil {
		t.log.Warn("failed to consume alarm", zap.String("name", name), zap.Error(err))
	}
	if !ok {
		t.log.Warn("alarm fired with no handler", zap.String("name", name))
		return
	}
	h(t.ctx)
}

// Close stops all timers and waits for in-flight handlers to return.
func (t *Timers) Close() {
	t.mu.Lock()
	t.closed = true
	for name, timer := range t.pending {
		timer.Stop()
		delete(t.pending, name)
	}
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}
