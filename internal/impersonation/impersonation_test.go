package impersonation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	auditmemory "carebase/pkg/platform/audit/store/memory"
)

type admins map[domain.UserID]bool

func (a admins) IsSuperAdminEquivalent(_ context.Context, id domain.UserID) (bool, error) {
	return a[id], nil
}

type noEmit struct{}

func (noEmit) Emit(router.FollowUp) {}

var startedAt = time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)

func apply(t *testing.T, p *Projector, stream uuid.UUID, eventType eventstore.EventType, payload any) error {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return p.Apply(context.Background(), eventstore.Event{
		ID:         uuid.New(),
		StreamID:   stream,
		StreamType: StreamType,
		EventType:  eventType,
		Payload:    raw,
		CreatedAt:  startedAt,
	}, noEmit{})
}

func TestImpersonationLifecycle(t *testing.T) {
	admin := domain.UserID(uuid.New())
	store := NewInMemoryStore()
	p := NewProjector(store, admins{admin: true}, auditmemory.NewInMemoryStore(), nil)
	id := uuid.New()

	require.NoError(t, apply(t, p, id, EventStarted, StartedPayload{
		SuperAdminID: admin,
		TargetUserID: domain.UserID(uuid.New()),
		TargetOrgID:  domain.OrganizationID(uuid.New()),
		Reason:       "support ticket 4411",
		ExpiresAt:    startedAt.Add(30 * time.Minute),
	}))

	renewal := RenewedPayload{ExpiresAt: startedAt.Add(time.Hour)}
	require.NoError(t, apply(t, p, id, EventRenewed, renewal))
	require.NoError(t, apply(t, p, id, EventRenewed, renewal))

	s, err := store.Get(context.Background(), domain.SessionID(id))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Renewals, "a redelivered renewal is not counted twice")
	assert.True(t, s.Active(startedAt.Add(45*time.Minute)))

	require.NoError(t, apply(t, p, id, EventEnded, EndedPayload{Reason: "done"}))
	s, err = store.Get(context.Background(), domain.SessionID(id))
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, s.Status)
	assert.False(t, s.Active(startedAt))

	err = apply(t, p, id, EventRenewed, RenewedPayload{ExpiresAt: startedAt.Add(2 * time.Hour)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProjection))
}

func TestImpersonationRequiresSuperAdmin(t *testing.T) {
	p := NewProjector(NewInMemoryStore(), admins{}, auditmemory.NewInMemoryStore(), nil)

	err := apply(t, p, uuid.New(), EventStarted, StartedPayload{
		SuperAdminID: domain.UserID(uuid.New()),
		TargetUserID: domain.UserID(uuid.New()),
		Reason:       "curious",
		ExpiresAt:    startedAt.Add(time.Hour),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProjection))
}
