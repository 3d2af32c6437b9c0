package accessgrant

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

type noEmit struct{}

func (noEmit) Emit(router.FollowUp) {}

var granted = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func applyEvent(t *testing.T, p *Projector, stream uuid.UUID, eventType eventstore.EventType, payload any) error {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return p.Apply(context.Background(), eventstore.Event{
		ID:         uuid.New(),
		StreamID:   stream,
		StreamType: StreamType,
		EventType:  eventType,
		Payload:    raw,
		Metadata:   eventstore.Metadata{UserID: "admin-1"},
		CreatedAt:  granted,
	}, noEmit{})
}

func newGrant(t *testing.T, p *Projector) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, applyEvent(t, p, id, EventCreated, CreatedPayload{
		ConsultantOrgID:   domain.OrganizationID(uuid.New()),
		ProviderOrgID:     domain.OrganizationID(uuid.New()),
		Scope:             ScopeFullOrg,
		AuthorizationType: "var_contract",
	}))
	return id
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusSuspended, true},
		{StatusSuspended, StatusActive, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusRevoked, true},
		{StatusSuspended, StatusRevoked, false},
		{StatusRevoked, StatusActive, false},
		{StatusExpired, StatusActive, false},
		{StatusExpired, StatusRevoked, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestProjector_StatusMachine(t *testing.T) {
	store := NewInMemoryStore()
	p := NewProjector(store, auditmemory.NewInMemoryStore(), nil)
	id := newGrant(t, p)

	require.NoError(t, applyEvent(t, p, id, EventSuspended, StatusPayload{Reason: "audit pending"}))
	g, err := store.Get(context.Background(), domain.GrantID(id))
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, g.Status)
	assert.Equal(t, "audit pending", g.SuspendedReason)

	require.NoError(t, applyEvent(t, p, id, EventSuspended, StatusPayload{Reason: "audit pending"}), "redelivery is a no-op")

	err = applyEvent(t, p, id, EventRevoked, StatusPayload{Reason: "contract ended"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProjection), "suspended grants cannot be revoked directly")

	require.NoError(t, applyEvent(t, p, id, EventReactivated, StatusPayload{Reason: "audit passed"}))
	require.NoError(t, applyEvent(t, p, id, EventRevoked, StatusPayload{Reason: "contract ended"}))

	err = applyEvent(t, p, id, EventReactivated, StatusPayload{Reason: "retry"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProjection), "revoked is terminal")

	g, err = store.Get(context.Background(), domain.GrantID(id))
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, g.Status)
	assert.Nil(t, g.SuspendedAt)
	require.NotNil(t, g.RevokedAt)
}

func TestProjector_CreatedValidation(t *testing.T) {
	p := NewProjector(NewInMemoryStore(), auditmemory.NewInMemoryStore(), nil)
	org := domain.OrganizationID(uuid.New())
	past := granted.Add(-time.Hour)

	cases := map[string]CreatedPayload{
		"same organization": {
			ConsultantOrgID:   org,
			ProviderOrgID:     org,
			Scope:             ScopeFullOrg,
			AuthorizationType: "x",
		},
		"sub-scope without id": {
			ConsultantOrgID:   org,
			ProviderOrgID:     domain.OrganizationID(uuid.New()),
			Scope:             ScopeFacility,
			AuthorizationType: "x",
		},
		"expires in the past": {
			ConsultantOrgID:   org,
			ProviderOrgID:     domain.OrganizationID(uuid.New()),
			Scope:             ScopeFullOrg,
			AuthorizationType: "x",
			ExpiresAt:         &past,
		},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			err := applyEvent(t, p, uuid.New(), EventCreated, payload)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeProjection))
		})
	}
}

func TestGrant_UsableAndCovers(t *testing.T) {
	facility := uuid.New()
	expires := granted.Add(24 * time.Hour)
	g := Grant{Status: StatusActive, Scope: ScopeFacility, ScopeID: &facility, ExpiresAt: &expires}

	assert.True(t, g.Usable(granted))
	assert.False(t, g.Usable(expires))
	assert.True(t, g.Covers(ScopeFacility, &facility))
	other := uuid.New()
	assert.False(t, g.Covers(ScopeFacility, &other))
	assert.False(t, g.Covers(ScopeProgram, &facility))

	full := Grant{Status: StatusActive, Scope: ScopeFullOrg}
	assert.True(t, full.Covers(ScopeClientSpecific, &other))
}
