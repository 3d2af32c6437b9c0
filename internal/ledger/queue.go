package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"carebase/internal/router"
)

// PendingFollowUp is a follow-up that could not be appended inline with its
// cause. The worker retries it until it lands.
type PendingFollowUp struct {
	ID            uuid.UUID       `json:"id"`
	FollowUp      router.FollowUp `json:"follow_up"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
}

// Queue persists pending follow-ups. Enqueue joins the caller's unit of work,
// so a deferred follow-up commits together with the event that caused it.
type Queue interface {
	Enqueue(ctx context.Context, f router.FollowUp, reason string) error
	// Claim leases up to limit items due at now; a claimed item is invisible
	// to other claimers until lease expires or it is failed.
	Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]PendingFollowUp, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error
	Pending(ctx context.Context) ([]PendingFollowUp, error)
}
