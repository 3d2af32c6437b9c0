// Package circuit implements a shared circuit breaker whose state lives in a
// Store so every process guarding the same dependency sees the same position.
//
// Transitions:
//
//	closed    --N consecutive failures-->  open
//	open      --cooldown elapsed, Allow--> half_open (one trial)
//	half_open --trial success-->           closed (failure count reset)
//	half_open --trial failure-->           open (new cooldown)
//
// Every transition is a compare-and-set on the stored version; a caller that
// loses the race reloads and re-evaluates.
package circuit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"carebase/pkg/platform/sentinel"
)

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 300 * time.Second
	maxCASAttempts          = 8
)

// Change describes the transition produced by a call, if any.
type Change struct {
	From Status
	To   Status
}

func (c Change) Changed() bool  { return c.From != c.To }
func (c Change) Opened() bool   { return c.Changed() && c.To == StatusOpen }
func (c Change) Closed() bool   { return c.Changed() && c.To == StatusClosed }
func (c Change) HalfOpen() bool { return c.Changed() && c.To == StatusHalfOpen }

type Breaker struct {
	name             string
	store            Store
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
	logger           *slog.Logger
	onTransition     func(service string, change Change)
}

type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// WithOnTransition registers a hook called after every state change.
func WithOnTransition(fn func(service string, change Change)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

func New(name string, store Store, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		store:            store,
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
		now:              time.Now,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the stored row for this breaker.
func (b *Breaker) State(ctx context.Context) (State, error) {
	return b.store.Load(ctx, b.name)
}

// Allow reports whether a call to the dependency may proceed. In open state
// after the cooldown, exactly one caller wins the open->half_open swap and is
// allowed the trial; a half_open breaker whose trial outlived the cooldown
// grants a fresh trial.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	for range maxCASAttempts {
		st, err := b.store.Load(ctx, b.name)
		if err != nil {
			return false, fmt.Errorf("load breaker %s: %w", b.name, err)
		}
		now := b.now()
		switch st.Status {
		case StatusClosed:
			return true, nil
		case StatusOpen, StatusHalfOpen:
			if st.NextRetryAt != nil && now.Before(*st.NextRetryAt) {
				return false, nil
			}
			next := st
			next.Status = StatusHalfOpen
			retry := now.Add(b.cooldown)
			next.NextRetryAt = &retry
			ok, err := b.store.CompareAndSwap(ctx, st.Version, next)
			if err != nil {
				return false, fmt.Errorf("swap breaker %s: %w", b.name, err)
			}
			if ok {
				if st.Status != StatusHalfOpen {
					b.transitioned(ctx, Change{From: st.Status, To: StatusHalfOpen})
				}
				return true, nil
			}
		default:
			return false, fmt.Errorf("breaker %s: unknown status %q", b.name, st.Status)
		}
	}
	return false, fmt.Errorf("breaker %s: %w", b.name, sentinel.ErrConflict)
}

// IsOpen reports whether calls are currently rejected, without reserving a trial.
func (b *Breaker) IsOpen(ctx context.Context) (bool, error) {
	st, err := b.store.Load(ctx, b.name)
	if err != nil {
		return false, fmt.Errorf("load breaker %s: %w", b.name, err)
	}
	if st.Status == StatusClosed {
		return false, nil
	}
	return st.NextRetryAt == nil || b.now().Before(*st.NextRetryAt), nil
}

// RecordSuccess closes a half-open breaker and clears failures on a closed one.
func (b *Breaker) RecordSuccess(ctx context.Context) (Change, error) {
	return b.update(ctx, func(st State, _ time.Time) (State, bool) {
		switch st.Status {
		case StatusHalfOpen:
			st.Status = StatusClosed
			st.FailureCount = 0
			st.NextRetryAt = nil
			return st, true
		case StatusClosed:
			if st.FailureCount == 0 {
				return st, false
			}
			st.FailureCount = 0
			return st, true
		default:
			// a late success from before the breaker opened does not close it
			return st, false
		}
	})
}

// RecordFailure counts a failure; the threshold-th consecutive failure opens
// the breaker and a failed half-open trial reopens it.
func (b *Breaker) RecordFailure(ctx context.Context) (Change, error) {
	return b.update(ctx, func(st State, now time.Time) (State, bool) {
		st.FailureCount++
		st.LastFailureAt = &now
		switch st.Status {
		case StatusClosed:
			if st.FailureCount >= b.failureThreshold {
				st.Status = StatusOpen
				retry := now.Add(b.cooldown)
				st.NextRetryAt = &retry
			}
		case StatusHalfOpen:
			st.Status = StatusOpen
			retry := now.Add(b.cooldown)
			st.NextRetryAt = &retry
		}
		return st, true
	})
}

// Reset force-closes the breaker.
func (b *Breaker) Reset(ctx context.Context) error {
	_, err := b.update(ctx, func(st State, _ time.Time) (State, bool) {
		if st.Status == StatusClosed && st.FailureCount == 0 {
			return st, false
		}
		st.Status = StatusClosed
		st.FailureCount = 0
		st.NextRetryAt = nil
		return st, true
	})
	return err
}

func (b *Breaker) update(ctx context.Context, mutate func(State, time.Time) (State, bool)) (Change, error) {
	for range maxCASAttempts {
		st, err := b.store.Load(ctx, b.name)
		if err != nil {
			return Change{}, fmt.Errorf("load breaker %s: %w", b.name, err)
		}
		next, write := mutate(st, b.now())
		change := Change{From: st.Status, To: next.Status}
		if !write {
			return change, nil
		}
		ok, err := b.store.CompareAndSwap(ctx, st.Version, next)
		if err != nil {
			return Change{}, fmt.Errorf("swap breaker %s: %w", b.name, err)
		}
		if ok {
			if change.Changed() {
				b.transitioned(ctx, change)
			}
			return change, nil
		}
	}
	return Change{}, fmt.Errorf("breaker %s: %w", b.name, sentinel.ErrConflict)
}

func (b *Breaker) transitioned(ctx context.Context, change Change) {
	b.logger.InfoContext(ctx, "circuit breaker transition",
		"service", b.name,
		"from", string(change.From),
		"to", string(change.To),
	)
	if b.onTransition != nil {
		b.onTransition(b.name, change)
	}
}
