package rbac

import (
	"encoding/json"
	"slices"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	"carebase/pkg/domain"
)

// snapshot renders the whole read model and the audit trail.
func (s *ProjectorSuite) snapshot() string {
	records, err := s.audit.ListRecent(s.ctx, 0)
	s.Require().NoError(err)

	s.store.mu.RLock()
	grants := make([]string, 0, len(s.store.grants))
	for g := range s.store.grants {
		grants = append(grants, g.role.String()+"/"+g.permission.String())
	}
	slices.Sort(grants)
	raw, err := json.Marshal(map[string]any{
		"permissions": s.store.permissions,
		"roles":       s.store.roles,
		"grants":      grants,
		"users":       s.store.users,
		"user_roles":  s.store.userRoles,
		"audit":       records,
	})
	s.store.mu.RUnlock()
	s.Require().NoError(err)
	return string(raw)
}

func (s *ProjectorSuite) TestRedeliveredEventsLeaveStateUnchanged() {
	perm, role, user := uuid.New(), uuid.New(), uuid.New()
	external := "idp|42"
	ward := domain.Path("root.acme.ward_a")

	steps := []struct {
		stream     uuid.UUID
		streamType eventstore.StreamType
		eventType  eventstore.EventType
		payload    any
	}{
		{perm, StreamPermission, EventPermissionDefined, PermissionDefinedPayload{Applet: "client", Action: "view", ScopeType: ScopeOrg}},
		{role, StreamRole, EventRoleCreated, RoleCreatedPayload{Name: "nurse", OrganizationID: &s.org, ScopePath: &s.orgPath}},
		{role, StreamRole, EventRoleUpdated, map[string]any{"description": "ward nurse"}},
		{role, StreamRole, EventRolePermissionGranted, RolePermissionPayload{PermissionID: domain.PermissionID(perm)}},
		{user, StreamUser, EventUserCreated, UserCreatedPayload{Email: "n@acme.test", OrganizationID: &s.org, ExternalID: &external}},
		{user, StreamUser, EventUserUpdated, map[string]any{"name": "Night Nurse"}},
		{user, StreamUser, EventUserRoleAssigned, UserRolePayload{RoleID: domain.RoleID(role), OrganizationID: &s.org, ScopePath: &ward}},
		{user, StreamUser, EventUserRoleRevoked, UserRolePayload{RoleID: domain.RoleID(role), OrganizationID: &s.org}},
		{role, StreamRole, EventRolePermissionRevoked, RolePermissionPayload{PermissionID: domain.PermissionID(perm)}},
		{role, StreamRole, EventRoleDeleted, RoleDeletedPayload{Reason: "restructure"}},
	}

	covered := map[eventstore.EventType]bool{}
	for _, st := range steps {
		evt := s.event(st.stream, st.streamType, st.eventType, st.payload)
		s.Require().NoError(s.projector.Apply(s.ctx, evt, noEmit{}), "first delivery of %s", st.eventType)
		before := s.snapshot()

		s.Require().NoError(s.projector.Apply(s.ctx, evt, noEmit{}), "redelivery of %s", st.eventType)
		s.Equal(before, s.snapshot(), "redelivery of %s changed state", st.eventType)
		covered[st.eventType] = true
	}

	for _, et := range s.projector.EventTypes() {
		s.True(covered[et], "%s has no redelivery case", et)
	}
}
