package circuit

import (
	"context"
	"time"
)

// Status is the breaker position for one external dependency.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half_open"
)

// State is the persisted breaker row. Version increments on every successful
// compare-and-set; a fresh service starts closed at version 0.
type State struct {
	Service       string     `json:"service"`
	Status        Status     `json:"status"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	Version       int64      `json:"version"`
}

func closedState(service string) State {
	return State{Service: service, Status: StatusClosed}
}

// Store persists breaker rows. CompareAndSwap writes next only when the stored
// version still equals expected, and stores next with Version = expected+1.
type Store interface {
	Load(ctx context.Context, service string) (State, error)
	CompareAndSwap(ctx context.Context, expected int64, next State) (bool, error)
}
