package bootstrap_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"carebase/internal/bootstrap"
	"carebase/internal/bootstrap/mocks"
	"carebase/internal/eventbus"
	"carebase/internal/eventstore"
	"carebase/internal/ledger"
	"carebase/internal/organization"
	"carebase/internal/rbac"
	"carebase/internal/router"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	auditmemory "carebase/pkg/platform/audit/store/memory"
	"carebase/pkg/platform/circuit"
	"carebase/pkg/requestcontext"
)

// =============================================================================
// Bootstrap Saga Test Suite
// =============================================================================
// The saga runs against the real ledger, router and organization/RBAC
// projectors over in-memory stores. Only the external provider is mocked.
// Backoff waits are recorded instead of slept.

type OrchestratorSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	ctrl     *gomock.Controller
	provider *mocks.MockProvider
	events   *eventstore.InMemoryStore
	orgs     *organization.InMemoryStore
	rbac     *rbac.InMemoryStore
	ledger   *ledger.Ledger
	breaker  *circuit.Breaker
	delays   []time.Duration
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *OrchestratorSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.events = eventstore.NewInMemoryStore()
	s.orgs = organization.NewInMemoryStore()
	s.rbac = rbac.NewInMemoryStore()
	s.delays = nil

	audit := auditmemory.NewInMemoryStore()
	registry, err := router.NewRegistry(
		organization.NewProjector(s.orgs, s.rbac, audit, organization.WithLogger(discardLogger())),
		rbac.NewProjector(s.rbac, audit, rbac.WithLogger(discardLogger())),
	)
	s.Require().NoError(err)
	r, err := router.New(s.events, registry, router.WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.ledger, err = ledger.New(s.events, r, ledger.WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.breaker = s.newBreaker(3)
}

func (s *OrchestratorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *OrchestratorSuite) newBreaker(threshold int) *circuit.Breaker {
	return circuit.New("identity_provider", circuit.NewInMemoryStore(),
		circuit.WithFailureThreshold(threshold),
		circuit.WithClock(func() time.Time { return s.now }),
		circuit.WithLogger(discardLogger()),
	)
}

func (s *OrchestratorSuite) orchestrator(opts ...bootstrap.Option) *bootstrap.Orchestrator {
	opts = append([]bootstrap.Option{
		bootstrap.WithLogger(discardLogger()),
		bootstrap.WithSleep(func(_ context.Context, d time.Duration) error {
			s.delays = append(s.delays, d)
			return nil
		}),
	}, opts...)
	o, err := bootstrap.NewOrchestrator(s.ledger, s.events, s.provider, s.breaker, s.rbac, opts...)
	s.Require().NoError(err)
	return o
}

func (s *OrchestratorSuite) initiate(o *bootstrap.Orchestrator, slug string, typ organization.Type) (bootstrap.Saga, eventstore.Event) {
	saga, err := o.Initiate(s.ctx, bootstrap.InitiateRequest{
		Name: slug, Type: typ, Slug: slug, AdminEmail: "admin@" + slug + ".test", AdminName: "Admin",
	})
	s.Require().NoError(err)
	evt, err := s.events.Get(s.ctx, saga.EventID)
	s.Require().NoError(err)
	return saga, evt
}

func (s *OrchestratorSuite) status(o *bootstrap.Orchestrator, correlationID string) bootstrap.Status {
	st, err := o.Monitor().GetBootstrapStatus(s.ctx, correlationID)
	s.Require().NoError(err)
	return st
}

func (s *OrchestratorSuite) eventTypes(correlationID string) []eventstore.EventType {
	events, err := s.events.ListByCorrelationID(s.ctx, correlationID)
	s.Require().NoError(err)
	out := make([]eventstore.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func (s *OrchestratorSuite) expectProviderSuccess() {
	s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("ext-org-1", nil)
	s.provider.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return("ext-user-1", nil)
}

func (s *OrchestratorSuite) TestProviderTenantIsProvisioned() {
	o := s.orchestrator()
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)

	s.provider.EXPECT().CreateOrganization(gomock.Any(), bootstrap.CreateOrganizationRequest{
		Name: "acme", Type: organization.TypeProvider, Subdomain: "acme", Reference: saga.OrganizationID.String(),
	}).Return("ext-org-1", nil)
	s.provider.EXPECT().CreateUser(gomock.Any(), bootstrap.CreateUserRequest{
		ExternalOrgID: "ext-org-1", Email: "admin@acme.test", Name: "Admin", Role: "provider_admin",
	}).Return("ext-user-1", nil)

	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	s.Equal([]eventstore.EventType{
		organization.EventBootstrapInitiated,
		organization.EventBootstrapExternalCreated,
		organization.EventCreated,
		rbac.EventRoleCreated,
		rbac.EventUserCreated,
		rbac.EventUserRoleAssigned,
		organization.EventBootstrapCompleted,
	}, s.eventTypes(saga.CorrelationID))

	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateCompleted, st.State)
	s.Equal("provider_admin", st.Role)
	s.Equal(1, st.Attempts)
	s.Require().NotNil(st.AdminUserID)

	org, err := s.orgs.Get(s.ctx, saga.OrganizationID)
	s.Require().NoError(err)
	s.Equal(domain.Path("root.acme"), org.Path)
	s.Equal("ext-org-1", *org.ExternalID)

	internal, err := s.rbac.ResolveInternalUserID(s.ctx, "ext-user-1")
	s.Require().NoError(err)
	s.Equal(*st.AdminUserID, internal)

	roles, err := s.rbac.ListUserRoles(s.ctx, internal)
	s.Require().NoError(err)
	s.Require().Len(roles, 1)
	s.Equal(saga.OrganizationID, *roles[0].OrganizationID)
}

func (s *OrchestratorSuite) TestPlatformOwnerAdminIsSuperAdmin() {
	o := s.orchestrator()
	s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("ext-org-1", nil)
	s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("ext-org-2", nil)
	s.provider.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return("ext-user-1", nil)
	s.provider.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return("ext-user-2", nil)

	first, evt := s.initiate(o, "platform", organization.TypePlatformOwner)
	s.Require().NoError(o.HandleInitiated(s.ctx, evt))
	second, evt := s.initiate(o, "platform_two", organization.TypePlatformOwner)
	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	s.Equal(bootstrap.StateCompleted, s.status(o, first.CorrelationID).State)
	s.Equal(bootstrap.StateCompleted, s.status(o, second.CorrelationID).State)
	s.NotContains(s.eventTypes(second.CorrelationID), eventstore.EventType(rbac.EventRoleCreated), "global role is reused")

	st := s.status(o, second.CorrelationID)
	roles, err := s.rbac.ListUserRoles(s.ctx, *st.AdminUserID)
	s.Require().NoError(err)
	s.Require().Len(roles, 1)
	s.Nil(roles[0].OrganizationID)
}

func (s *OrchestratorSuite) TestTransientProviderFailuresAreRetried() {
	o := s.orchestrator()
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)
	gomock.InOrder(
		s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("", errors.New("503")).Times(2),
		s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("ext-org-1", nil),
	)
	s.provider.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return("ext-user-1", nil)

	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateCompleted, st.State)
	s.Equal(3, st.Attempts)
	s.Equal([]time.Duration{time.Second, 2 * time.Second}, s.delays)

	state, err := s.breaker.State(s.ctx)
	s.Require().NoError(err)
	s.Equal(circuit.StatusClosed, state.Status)
	s.Zero(state.FailureCount)
}

func (s *OrchestratorSuite) TestExhaustedRetriesFailExternalCreation() {
	s.breaker = s.newBreaker(10)
	o := s.orchestrator(bootstrap.WithRetry(6, time.Second, 8*time.Second))
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)
	s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("", errors.New("timeout")).Times(6)

	s.Require().NoError(o.HandleInitiated(s.ctx, evt), "saga failures are recorded, not returned")

	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateFailed, st.State)
	s.Equal(bootstrap.StageExternalCreation, st.FailedStage)
	s.Equal(6, st.Attempts)
	s.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}, s.delays)
	s.Equal([]eventstore.EventType{organization.EventBootstrapInitiated, organization.EventBootstrapFailed}, s.eventTypes(saga.CorrelationID))
}

func (s *OrchestratorSuite) TestOpenBreakerFailsWithoutCallingProvider() {
	for range 3 {
		_, err := s.breaker.RecordFailure(s.ctx)
		s.Require().NoError(err)
	}
	o := s.orchestrator()
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)

	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateFailed, st.State)
	s.Equal(bootstrap.StageCircuitCheck, st.FailedStage)
}

func (s *OrchestratorSuite) TestDefaultRetriesRunPastBreakerOpening() {
	o := s.orchestrator()
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)
	s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("", errors.New("503")).Times(4)

	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateFailed, st.State)
	s.Equal(bootstrap.StageExternalCreation, st.FailedStage)
	s.Equal(4, st.Attempts)
	s.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, s.delays)
	s.Equal([]eventstore.EventType{organization.EventBootstrapInitiated, organization.EventBootstrapFailed}, s.eventTypes(saga.CorrelationID))

	state, err := s.breaker.State(s.ctx)
	s.Require().NoError(err)
	s.Equal(circuit.StatusOpen, state.Status)
	s.Equal(4, state.FailureCount)

	next, evt := s.initiate(o, "beta", organization.TypeProvider)
	s.Require().NoError(o.HandleInitiated(s.ctx, evt))
	s.Equal(bootstrap.StageCircuitCheck, s.status(o, next.CorrelationID).FailedStage, "open breaker rejects the next saga")
}

func (s *OrchestratorSuite) TestPartialExternalCreationRequestsCleanupOnce() {
	s.breaker = s.newBreaker(10)
	o := s.orchestrator()
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)
	s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("ext-org-1", nil).Times(1)
	s.provider.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return("", errors.New("quota")).Times(4)

	s.Require().NoError(o.HandleInitiated(s.ctx, evt))
	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateFailed, st.State)
	s.Equal("ext-org-1", st.ExternalOrgID)
	s.False(st.CleanupRequested)

	events, err := s.events.ListByCorrelationID(s.ctx, saga.CorrelationID)
	s.Require().NoError(err)
	failed := events[len(events)-1]
	s.Require().NoError(o.HandleTerminal(s.ctx, failed))
	s.Require().NoError(o.HandleTerminal(s.ctx, failed))

	st = s.status(o, saga.CorrelationID)
	s.True(st.CleanupRequested)
	s.Equal([]eventstore.EventType{
		organization.EventBootstrapInitiated,
		organization.EventBootstrapFailed,
		organization.EventBootstrapCleanupRequested,
	}, s.eventTypes(saga.CorrelationID))
}

func (s *OrchestratorSuite) TestLocalFailureIsTerminal() {
	o := s.orchestrator()
	parent := domain.Path("root.missing")
	saga, err := o.Initiate(s.ctx, bootstrap.InitiateRequest{
		Name: "north", Type: organization.TypeProvider, Slug: "north", ParentPath: &parent, AdminEmail: "a@north.test",
	})
	s.Require().NoError(err)
	evt, err := s.events.Get(s.ctx, saga.EventID)
	s.Require().NoError(err)
	s.expectProviderSuccess()

	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateFailed, st.State)
	s.Equal(bootstrap.StageLocalCreation, st.FailedStage)
	s.Equal("ext-user-1", st.ExternalUserID)
	s.NotContains(s.eventTypes(saga.CorrelationID), eventstore.EventType(organization.EventBootstrapCompleted))
}

func (s *OrchestratorSuite) TestRedeliveryDoesNotRerunSaga() {
	o := s.orchestrator()
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)
	s.expectProviderSuccess()

	s.Require().NoError(o.HandleInitiated(s.ctx, evt))
	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	s.Len(s.eventTypes(saga.CorrelationID), 7)
}

func (s *OrchestratorSuite) TestCancel() {
	o := s.orchestrator()
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)

	s.Require().NoError(o.Cancel(s.ctx, saga.CorrelationID, "duplicate request"))
	s.Require().NoError(o.HandleInitiated(s.ctx, evt), "cancelled saga is not started")
	s.Equal(bootstrap.StateCancelled, s.status(o, saga.CorrelationID).State)

	err := o.Cancel(s.ctx, saga.CorrelationID, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *OrchestratorSuite) TestInitiateValidation() {
	o := s.orchestrator()
	cases := map[string]bootstrap.InitiateRequest{
		"missing name": {Type: organization.TypeProvider, Slug: "a", AdminEmail: "a@b.c"},
		"unknown type": {Name: "A", Type: "vendor", Slug: "a", AdminEmail: "a@b.c"},
		"bad email":    {Name: "A", Type: organization.TypeProvider, Slug: "a", AdminEmail: "nobody"},
		"bad slug":     {Name: "A", Type: organization.TypeProvider, Slug: "Acme Inc", AdminEmail: "a@b.c"},
		"dotted slug":  {Name: "A", Type: organization.TypeProvider, Slug: "a.b", AdminEmail: "a@b.c"},
	}
	for name, req := range cases {
		s.Run(name, func() {
			_, err := o.Initiate(s.ctx, req)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), err)
		})
	}
}

func (s *OrchestratorSuite) TestMonitorRetriesFailedSaga() {
	s.breaker = s.newBreaker(10)
	o := s.orchestrator(bootstrap.WithRetry(1, time.Second, time.Second))
	saga, evt := s.initiate(o, "acme", organization.TypeProvider)
	s.provider.EXPECT().CreateOrganization(gomock.Any(), gomock.Any()).Return("", errors.New("503"))
	s.Require().NoError(o.HandleInitiated(s.ctx, evt))

	monitor := o.Monitor()
	retried, err := monitor.RetryFailedBootstrap(s.ctx, saga.CorrelationID)
	s.Require().NoError(err)
	s.NotEqual(saga.CorrelationID, retried.CorrelationID)
	s.Equal(saga.OrganizationID, retried.OrganizationID)
	s.Equal(saga.CorrelationID, retried.Request.RetryOf)
	s.Equal(bootstrap.StateInitiated, retried.State)

	s.expectProviderSuccess()
	retryEvent, err := s.events.Get(s.ctx, retried.InitiatedEventID)
	s.Require().NoError(err)
	s.Require().NoError(o.HandleInitiated(s.ctx, retryEvent))
	s.Equal(bootstrap.StateCompleted, s.status(o, retried.CorrelationID).State)

	_, err = monitor.RetryFailedBootstrap(s.ctx, retried.CorrelationID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	all, err := monitor.ListBootstrapProcesses(s.ctx, eventstore.Page{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(bootstrap.StateFailed, all[0].State)
	s.Equal(bootstrap.StateCompleted, all[1].State)

	_, err = monitor.GetBootstrapStatus(s.ctx, "unknown")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *OrchestratorSuite) TestBusDrivesSagaEndToEnd() {
	bus := eventbus.NewInMemoryBus(eventbus.WithSynchronousDelivery(), eventbus.WithMemoryLogger(discardLogger()))
	r, err := router.New(s.events, mustRegistry(s), router.WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.ledger, err = ledger.New(s.events, r, ledger.WithPublisher(bus), ledger.WithLogger(discardLogger()))
	s.Require().NoError(err)
	o := s.orchestrator()
	o.Register(bus)
	s.expectProviderSuccess()

	saga, err := o.Initiate(s.ctx, bootstrap.InitiateRequest{
		Name: "Acme", Type: organization.TypeProviderPartner, Slug: "acme", AdminEmail: "admin@acme.test",
	})
	s.Require().NoError(err)

	st := s.status(o, saga.CorrelationID)
	s.Equal(bootstrap.StateCompleted, st.State)
	s.Equal("partner_admin", st.Role)
}

func mustRegistry(s *OrchestratorSuite) *router.Registry {
	audit := auditmemory.NewInMemoryStore()
	registry, err := router.NewRegistry(
		organization.NewProjector(s.orgs, s.rbac, audit, organization.WithLogger(discardLogger())),
		rbac.NewProjector(s.rbac, audit, rbac.WithLogger(discardLogger())),
	)
	s.Require().NoError(err)
	return registry
}

func (s *OrchestratorSuite) TestInitiateNormalizesAdminContact() {
	o := s.orchestrator()
	saga, err := o.Initiate(s.ctx, bootstrap.InitiateRequest{
		Name: "Acme", Type: organization.TypeProvider, Slug: "acme", AdminEmail: " Jane.Doe@Acme.TEST ",
	})
	s.Require().NoError(err)
	evt, err := s.events.Get(s.ctx, saga.EventID)
	s.Require().NoError(err)

	var payload bootstrap.InitiatedPayload
	s.Require().NoError(evt.Decode(&payload))
	s.Equal("jane.doe@acme.test", payload.AdminEmail)
	s.Equal("Jane Doe", payload.AdminName)
}
