package authz

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"carebase/internal/accessgrant"
	"carebase/internal/platform/metrics"
	"carebase/internal/rbac"
	"carebase/pkg/domain"
	"carebase/pkg/requestcontext"
)

type ResolverSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	rbac     *rbac.InMemoryStore
	grants   *accessgrant.InMemoryStore
	metrics  *metrics.Metrics
	resolver *Resolver

	acme  domain.OrganizationID
	other domain.OrganizationID
	perms map[string]domain.PermissionID
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.rbac = rbac.NewInMemoryStore()
	s.grants = accessgrant.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())

	var err error
	s.resolver, err = NewResolver(s.rbac, s.grants, WithMetrics(s.metrics))
	s.Require().NoError(err)

	s.acme = domain.OrganizationID(uuid.New())
	s.other = domain.OrganizationID(uuid.New())
	s.perms = map[string]domain.PermissionID{}
	for _, name := range []string{"clients.view", "medications.administer", "billing.export"} {
		id := domain.PermissionID(uuid.New())
		_, err := s.rbac.InsertPermission(s.ctx, rbac.Permission{
			ID: id, Name: name, ScopeType: rbac.ScopeFacility, RequiresMFA: name == "billing.export",
		})
		s.Require().NoError(err)
		s.perms[name] = id
	}
}

func (s *ResolverSuite) user(active bool) domain.UserID {
	id := domain.UserID(uuid.New())
	_, err := s.rbac.InsertUser(s.ctx, rbac.User{ID: id, Email: id.String() + "@example.com", Active: active})
	s.Require().NoError(err)
	return id
}

func (s *ResolverSuite) role(name string, orgID *domain.OrganizationID, scope *domain.Path, perms ...string) domain.RoleID {
	id := domain.RoleID(uuid.New())
	_, err := s.rbac.InsertRole(s.ctx, rbac.Role{ID: id, Name: name, OrganizationID: orgID, ScopePath: scope})
	s.Require().NoError(err)
	for _, p := range perms {
		s.Require().NoError(s.rbac.GrantPermission(s.ctx, id, s.perms[p]))
	}
	return id
}

func (s *ResolverSuite) assign(userID domain.UserID, roleID domain.RoleID, orgID *domain.OrganizationID, scope *domain.Path) {
	s.Require().NoError(s.rbac.AssignRole(s.ctx, rbac.UserRole{
		UserID: userID, RoleID: roleID, OrganizationID: orgID, ScopePath: scope, AssignedAt: s.now,
	}))
}

func path(p string) *domain.Path {
	v := domain.Path(p)
	return &v
}

func (s *ResolverSuite) TestScopeContainmentIsSymmetric() {
	nurse := s.user(true)
	roleID := s.role("nurse", &s.acme, path("root.acme"), "medications.administer")
	s.assign(nurse, roleID, &s.acme, path("root.acme.north"))

	cases := []struct {
		name  string
		org   domain.OrganizationID
		scope *domain.Path
		want  bool
	}{
		{"same scope", s.acme, path("root.acme.north"), true},
		{"requested scope below the grant", s.acme, path("root.acme.north.ward_b"), true},
		{"requested scope above the grant", s.acme, path("root.acme"), true},
		{"sibling scope", s.acme, path("root.acme.south"), false},
		{"label prefix is not containment", s.acme, path("root.acme.northwest"), false},
		{"no scope requested", s.acme, nil, true},
		{"other organization", s.other, path("root.acme.north"), false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			ok, err := s.resolver.HasPermission(s.ctx, nurse, "medications.administer", tc.org, tc.scope)
			s.Require().NoError(err)
			s.Equal(tc.want, ok)
		})
	}

	ok, err := s.resolver.HasPermission(s.ctx, nurse, "billing.export", s.acme, nil)
	s.Require().NoError(err)
	s.False(ok, "permission not on the role")

	s.Equal(4.0, testutil.ToFloat64(s.metrics.AuthzDecisions.WithLabelValues("has_permission", "allow")))
	s.Equal(4.0, testutil.ToFloat64(s.metrics.AuthzDecisions.WithLabelValues("has_permission", "deny")))
}

func (s *ResolverSuite) TestGlobalGrantAppliesEverywhere() {
	admin := s.user(true)
	roleID := s.role(rbac.SuperAdminRole, nil, nil, "billing.export")
	s.assign(admin, roleID, nil, nil)

	for _, org := range []domain.OrganizationID{s.acme, s.other} {
		ok, err := s.resolver.HasPermission(s.ctx, admin, "billing.export", org, path("root.anything"))
		s.Require().NoError(err)
		s.True(ok)
	}

	super, err := s.resolver.IsSuperAdminEquivalent(s.ctx, admin)
	s.Require().NoError(err)
	s.True(super)

	orgs, err := s.resolver.ListUserOrganizations(s.ctx, admin)
	s.Require().NoError(err)
	s.Empty(orgs, "global grants belong to no organization")
}

func (s *ResolverSuite) TestInactiveAndUnknownUsersAreDenied() {
	inactive := s.user(false)
	roleID := s.role(rbac.SuperAdminRole, nil, nil, "clients.view")
	s.assign(inactive, roleID, nil, nil)

	ok, err := s.resolver.HasPermission(s.ctx, inactive, "clients.view", s.acme, nil)
	s.Require().NoError(err)
	s.False(ok)

	super, err := s.resolver.IsSuperAdminEquivalent(s.ctx, inactive)
	s.Require().NoError(err)
	s.False(super)

	ok, err = s.resolver.HasPermission(s.ctx, domain.UserID(uuid.New()), "clients.view", s.acme, nil)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ResolverSuite) TestListings() {
	u := s.user(true)
	viewer := s.role("viewer", &s.acme, path("root.acme"), "clients.view")
	biller := s.role("biller", &s.other, path("root.other"), "billing.export", "clients.view")
	s.assign(u, viewer, &s.acme, path("root.acme.north"))
	s.assign(u, biller, &s.other, path("root.other"))

	perms, err := s.resolver.ListPermissions(s.ctx, u, s.other)
	s.Require().NoError(err)
	s.Equal([]PermissionDescriptor{
		{Name: "billing.export", ScopeType: rbac.ScopeFacility, RequiresMFA: true},
		{Name: "clients.view", ScopeType: rbac.ScopeFacility},
	}, perms)

	orgs, err := s.resolver.ListUserOrganizations(s.ctx, u)
	s.Require().NoError(err)
	s.ElementsMatch([]OrganizationMembership{
		{OrganizationID: s.acme, RoleID: viewer, RoleName: "viewer", ScopePath: path("root.acme.north")},
		{OrganizationID: s.other, RoleID: biller, RoleName: "biller", ScopePath: path("root.other")},
	}, orgs)

	super, err := s.resolver.IsSuperAdminEquivalent(s.ctx, u)
	s.Require().NoError(err)
	s.False(super)
}

func (s *ResolverSuite) TestListingsSkipInactiveUsersAndDeletedRoles() {
	inactive := s.user(false)
	s.assign(inactive, s.role("viewer", &s.acme, path("root.acme"), "clients.view"), &s.acme, path("root.acme"))

	orgs, err := s.resolver.ListUserOrganizations(s.ctx, inactive)
	s.Require().NoError(err)
	s.Empty(orgs)
	perms, err := s.resolver.ListPermissions(s.ctx, inactive, s.acme)
	s.Require().NoError(err)
	s.Empty(perms)

	u := s.user(true)
	retired := s.role("retired", &s.acme, path("root.acme"), "clients.view")
	s.assign(u, retired, &s.acme, path("root.acme"))
	role, err := s.rbac.GetRole(s.ctx, retired)
	s.Require().NoError(err)
	role.Deleted = true
	s.Require().NoError(s.rbac.UpdateRole(s.ctx, role))

	orgs, err = s.resolver.ListUserOrganizations(s.ctx, u)
	s.Require().NoError(err)
	s.Empty(orgs)
}

func (s *ResolverSuite) TestHasPermissionWithMFA() {
	u := s.user(true)
	s.assign(u, s.role("biller", &s.acme, path("root.acme"), "billing.export"), &s.acme, path("root.acme"))

	d, err := s.resolver.HasPermissionWithMFA(s.ctx, u, "billing.export", s.acme, nil)
	s.Require().NoError(err)
	s.Equal(Decision{Allowed: true, RequiresMFA: true}, d)

	d, err = s.resolver.HasPermissionWithMFA(s.ctx, u, "clients.view", s.acme, nil)
	s.Require().NoError(err)
	s.Equal(Decision{Allowed: false, RequiresMFA: false}, d)

	d, err = s.resolver.HasPermissionWithMFA(s.ctx, u, "undefined.permission", s.acme, nil)
	s.Require().NoError(err)
	s.False(d.Allowed)
}

func (s *ResolverSuite) grant(g accessgrant.Grant) {
	g.ID = domain.GrantID(uuid.New())
	g.ConsultantOrgID = s.other
	g.ProviderOrgID = s.acme
	g.AuthorizationType = "var_contract"
	g.GrantedAt = s.now.Add(-time.Hour)
	if g.Status == "" {
		g.Status = accessgrant.StatusActive
	}
	_, err := s.grants.Insert(s.ctx, g)
	s.Require().NoError(err)
}

func (s *ResolverSuite) TestCrossTenantAccess() {
	facility := uuid.New()
	consultant := domain.UserID(uuid.New())
	req := func(scope accessgrant.Scope, scopeID *uuid.UUID, user *domain.UserID) CrossTenantRequest {
		return CrossTenantRequest{ConsultantOrgID: s.other, ProviderOrgID: s.acme, Scope: scope, ScopeID: scopeID, UserID: user}
	}
	check := func(r CrossTenantRequest) bool {
		ok, err := s.resolver.CheckCrossTenantAccess(s.ctx, r)
		s.Require().NoError(err)
		return ok
	}

	s.False(check(req(accessgrant.ScopeFullOrg, nil, nil)), "no grants")

	expired := s.now.Add(-time.Minute)
	s.grant(accessgrant.Grant{Scope: accessgrant.ScopeFullOrg, ExpiresAt: &expired})
	s.grant(accessgrant.Grant{Scope: accessgrant.ScopeFullOrg, Status: accessgrant.StatusSuspended})
	s.False(check(req(accessgrant.ScopeFullOrg, nil, nil)), "expired and suspended grants do not count")

	s.grant(accessgrant.Grant{Scope: accessgrant.ScopeFacility, ScopeID: &facility, ConsultantUserID: &consultant})
	s.True(check(req(accessgrant.ScopeFacility, &facility, &consultant)))
	s.False(check(req(accessgrant.ScopeFacility, &facility, nil)), "grant bound to a user")
	other := uuid.New()
	s.False(check(req(accessgrant.ScopeFacility, &other, &consultant)), "different facility")
	s.False(check(req(accessgrant.ScopeProgram, &facility, &consultant)), "different scope kind")

	s.grant(accessgrant.Grant{Scope: accessgrant.ScopeFullOrg})
	s.True(check(req(accessgrant.ScopeClientSpecific, &other, nil)), "full_org covers every sub-scope")

	reverse := CrossTenantRequest{ConsultantOrgID: s.acme, ProviderOrgID: s.other, Scope: accessgrant.ScopeFullOrg}
	s.False(check(reverse), "grants are directional")
}

func TestNewResolver_RequiresStores(t *testing.T) {
	_, err := NewResolver(nil, accessgrant.NewInMemoryStore())
	require.Error(t, err)
	_, err = NewResolver(rbac.NewInMemoryStore(), nil)
	require.Error(t, err)
}
