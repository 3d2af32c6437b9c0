package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"carebase/internal/eventbus"
	"carebase/internal/eventstore"
	"carebase/internal/ledger"
	"carebase/internal/organization"
	"carebase/internal/platform/metrics"
	"carebase/internal/rbac"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/email"
	"carebase/pkg/platform/circuit"
	"carebase/pkg/platform/sentinel"
)

const (
	defaultAttempts     = 4
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 8 * time.Second
)

// idNamespace derives stable local ids so a redelivered saga step reuses
// the ids of its first run.
var idNamespace = uuid.MustParse("6f1c2a4e-8d0b-4b7e-9a35-0c9e4f3d2b10")

// RoleLookup finds an existing role by name; the rbac store implements it.
type RoleLookup interface {
	GetRoleByName(ctx context.Context, name string, orgID *domain.OrganizationID) (rbac.Role, error)
}

// Orchestrator runs bootstrap sagas. It consumes
// organization.bootstrap.initiated from the event bus and appends every
// later step through the ledger.
type Orchestrator struct {
	ledger   Appender
	monitor  *Monitor
	provider Provider
	breaker  *circuit.Breaker
	roles    RoleLookup
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	attempts     int
	initialDelay time.Duration
	maxDelay     time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetry bounds external creation to attempts calls with exponential
// backoff starting at initial and capped at ceiling.
func WithRetry(attempts int, initial, ceiling time.Duration) Option {
	return func(o *Orchestrator) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if initial > 0 {
			o.initialDelay = initial
		}
		if ceiling > 0 {
			o.maxDelay = ceiling
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func NewOrchestrator(appender Appender, events EventReader, provider Provider, breaker *circuit.Breaker, roles RoleLookup, opts ...Option) (*Orchestrator, error) {
	switch {
	case appender == nil:
		return nil, errors.New("bootstrap: appender is required")
	case events == nil:
		return nil, errors.New("bootstrap: event reader is required")
	case provider == nil:
		return nil, errors.New("bootstrap: provider is required")
	case breaker == nil:
		return nil, errors.New("bootstrap: circuit breaker is required")
	case roles == nil:
		return nil, errors.New("bootstrap: role lookup is required")
	}
	o := &Orchestrator{
		ledger:       appender,
		monitor:      NewMonitor(events, appender),
		provider:     provider,
		breaker:      breaker,
		roles:        roles,
		logger:       slog.Default(),
		tracer:       otel.Tracer("carebase/bootstrap"),
		attempts:     defaultAttempts,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) Monitor() *Monitor { return o.monitor }

// Register subscribes the saga and its cleanup listener to bus.
func (o *Orchestrator) Register(bus eventbus.Bus) {
	bus.Subscribe("bootstrap.orchestrator", organization.EventBootstrapInitiated, o.HandleInitiated)
	bus.Subscribe("bootstrap.cleanup", "organization.bootstrap.", o.HandleTerminal)
}

// InitiateRequest asks for a new tenant. Slug becomes the last label of the
// organization path and its subdomain.
type InitiateRequest struct {
	Name        string
	DisplayName string
	Type        organization.Type
	Slug        string
	Timezone    string
	ParentPath  *domain.Path
	AdminEmail  string
	AdminName   string
}

// Saga identifies a started bootstrap.
type Saga struct {
	CorrelationID  string
	OrganizationID domain.OrganizationID
	EventID        uuid.UUID
}

// Initiate validates req and appends organization.bootstrap.initiated on a
// new organization stream. Provisioning continues asynchronously.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (Saga, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Saga{}, dErrors.New(dErrors.CodeValidation, "organization name is required")
	}
	if !req.Type.Valid() {
		return Saga{}, dErrors.Newf(dErrors.CodeValidation, "unknown organization type %q", req.Type)
	}
	req.AdminEmail = email.Normalize(req.AdminEmail)
	if !email.Valid(req.AdminEmail) {
		return Saga{}, dErrors.New(dErrors.CodeValidation, "a valid admin email is required")
	}
	if strings.TrimSpace(req.AdminName) == "" {
		req.AdminName = email.DisplayName(req.AdminEmail)
	}
	if strings.Contains(req.Slug, ".") {
		return Saga{}, dErrors.New(dErrors.CodeValidation, "slug must be a single path label")
	}
	path := domain.Path(domain.RootLabel).Child(req.Slug)
	if req.ParentPath != nil && *req.ParentPath != "" {
		path = req.ParentPath.Child(req.Slug)
	}
	if err := domain.ValidateOrganizationPath(path, req.ParentPath); err != nil {
		return Saga{}, err
	}

	orgID := domain.OrganizationID(uuid.New())
	correlationID := uuid.NewString()
	evt, err := appendInitiated(ctx, o.ledger, orgID, correlationID, InitiatedPayload{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Type:        req.Type,
		Subdomain:   req.Slug,
		Timezone:    req.Timezone,
		Path:        path,
		ParentPath:  req.ParentPath,
		AdminEmail:  req.AdminEmail,
		AdminName:   req.AdminName,
	}, "", "tenant bootstrap requested")
	if err != nil {
		return Saga{}, err
	}
	o.logger.InfoContext(ctx, "bootstrap initiated",
		"correlation_id", correlationID,
		"organization_id", orgID.String(),
		"path", path.String(),
	)
	return Saga{CorrelationID: correlationID, OrganizationID: orgID, EventID: evt.ID}, nil
}

// Cancel ends a saga that has not reached a terminal state.
func (o *Orchestrator) Cancel(ctx context.Context, correlationID, reason string) error {
	st, err := o.monitor.GetBootstrapStatus(ctx, correlationID)
	if err != nil {
		return err
	}
	if st.State.Terminal() {
		return dErrors.Newf(dErrors.CodeConflict, "bootstrap %s already %s", correlationID, st.State)
	}
	_, err = o.appendStep(ctx, st, organization.EventBootstrapCancelled, CancelledPayload{Reason: reason})
	return err
}

// HandleInitiated runs the saga for one initiated event. Redelivery of an
// event whose saga already moved on is ignored.
func (o *Orchestrator) HandleInitiated(ctx context.Context, evt eventstore.Event) error {
	if evt.EventType != organization.EventBootstrapInitiated {
		return nil
	}
	st, err := o.monitor.GetBootstrapStatus(ctx, evt.Metadata.CorrelationID)
	if err != nil {
		return err
	}
	if st.State != StateInitiated || st.InitiatedEventID != evt.ID {
		o.logger.DebugContext(ctx, "bootstrap already past initiation",
			"correlation_id", st.CorrelationID,
			"state", string(st.State),
		)
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "bootstrap.saga", trace.WithAttributes(
		attribute.String("correlation_id", st.CorrelationID),
		attribute.String("organization.id", st.OrganizationID.String()),
	))
	defer span.End()

	started := time.Now()
	stage, err := o.run(ctx, st)
	if err != nil {
		span.RecordError(err)
		o.metrics.ObserveBootstrap("failed", string(stage), started)
		return nil
	}
	o.metrics.ObserveBootstrap("completed", "", started)
	return nil
}

// run drives the saga to a terminal event. A non-nil error has already been
// recorded as organization.bootstrap.failed.
func (o *Orchestrator) run(ctx context.Context, st Status) (Stage, error) {
	allowed, err := o.breaker.Allow(ctx)
	if err != nil || !allowed {
		if err == nil {
			err = fmt.Errorf("circuit breaker %s is open", o.breaker.Name())
		}
		return o.fail(ctx, st, StageCircuitCheck, err, externalIDs{}, 0)
	}

	ext, attempts, err := o.createExternal(ctx, st)
	if err != nil {
		return o.fail(ctx, st, StageExternalCreation, err, ext, attempts)
	}
	if o.cancelledSince(ctx, st, ext) {
		return "", nil
	}
	if _, err := o.appendStep(ctx, st, organization.EventBootstrapExternalCreated, ExternalCreatedPayload{
		ExternalOrgID: ext.org, ExternalUserID: ext.user, Attempts: attempts,
	}); err != nil {
		return o.fail(ctx, st, StageExternalCreation, err, ext, attempts)
	}

	done, err := o.createLocal(ctx, st, ext)
	if err != nil {
		return o.fail(ctx, st, StageLocalCreation, err, ext, attempts)
	}
	if o.cancelledSince(ctx, st, externalIDs{}) {
		return "", nil
	}
	if _, err := o.appendStep(ctx, st, organization.EventBootstrapCompleted, done); err != nil {
		return o.fail(ctx, st, StageLocalCreation, err, ext, attempts)
	}
	o.logger.InfoContext(ctx, "bootstrap completed",
		"correlation_id", st.CorrelationID,
		"organization_id", st.OrganizationID.String(),
		"role", done.Role,
	)
	return "", nil
}

type externalIDs struct {
	org  string
	user string
}

// createExternal creates the organization, then its admin user, at the
// provider. The breaker gates the saga once, before the first attempt; every
// attempt still records its outcome on the breaker. An organization created
// by an earlier attempt is not created again.
func (o *Orchestrator) createExternal(ctx context.Context, st Status) (externalIDs, int, error) {
	var (
		ext     externalIDs
		lastErr error
		delay   = o.initialDelay
	)
	for attempt := 1; attempt <= o.attempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, delay); err != nil {
				return ext, attempt - 1, err
			}
			delay = min(delay*2, o.maxDelay)
		}

		lastErr = o.callProvider(ctx, st, &ext)
		if lastErr == nil {
			o.record(ctx, o.breaker.RecordSuccess)
			return ext, attempt, nil
		}
		o.record(ctx, o.breaker.RecordFailure)
		o.logger.WarnContext(ctx, "provider call failed",
			"correlation_id", st.CorrelationID,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return ext, o.attempts, dErrors.Wrap(lastErr, dErrors.CodeExternalDependency,
		fmt.Sprintf("provider failed after %d attempts", o.attempts))
}

func (o *Orchestrator) callProvider(ctx context.Context, st Status, ext *externalIDs) error {
	req := st.Request
	if ext.org == "" {
		id, err := o.provider.CreateOrganization(ctx, CreateOrganizationRequest{
			Name:      req.Name,
			Type:      req.Type,
			Subdomain: req.Subdomain,
			Reference: st.OrganizationID.String(),
		})
		if err != nil {
			o.metrics.IncProviderCall("create_organization", "error")
			return fmt.Errorf("create organization: %w", err)
		}
		o.metrics.IncProviderCall("create_organization", "ok")
		ext.org = id
	}
	id, err := o.provider.CreateUser(ctx, CreateUserRequest{
		ExternalOrgID: ext.org,
		Email:         req.AdminEmail,
		Name:          req.AdminName,
		Role:          AdminRoleFor(req.Type),
	})
	if err != nil {
		o.metrics.IncProviderCall("create_user", "error")
		return fmt.Errorf("create admin user: %w", err)
	}
	o.metrics.IncProviderCall("create_user", "ok")
	ext.user = id
	return nil
}

func (o *Orchestrator) record(ctx context.Context, fn func(context.Context) (circuit.Change, error)) {
	if _, err := fn(ctx); err != nil {
		o.logger.ErrorContext(ctx, "circuit breaker bookkeeping failed", "breaker", o.breaker.Name(), "error", err)
	}
}

// createLocal appends the organization, its admin role when missing, the
// admin user and the role assignment.
func (o *Orchestrator) createLocal(ctx context.Context, st Status, ext externalIDs) (CompletedPayload, error) {
	req := st.Request
	orgID := st.OrganizationID
	if _, err := o.appendLocal(ctx, st, uuid.UUID(orgID), organization.StreamType, organization.EventCreated, organization.CreatedPayload{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Type:        req.Type,
		Subdomain:   req.Subdomain,
		Timezone:    req.Timezone,
		ExternalID:  &ext.org,
		Path:        req.Path,
		ParentPath:  req.ParentPath,
	}); err != nil {
		return CompletedPayload{}, err
	}

	roleName := AdminRoleFor(req.Type)
	var (
		roleOrg   *domain.OrganizationID
		roleScope *domain.Path
	)
	if roleName != rbac.SuperAdminRole {
		roleOrg, roleScope = &orgID, &req.Path
	}
	roleID, err := o.ensureRole(ctx, st, roleName, roleOrg, roleScope)
	if err != nil {
		return CompletedPayload{}, err
	}

	userID := domain.UserID(uuid.NewSHA1(idNamespace, []byte(orgID.String()+"/admin")))
	if _, err := o.appendLocal(ctx, st, uuid.UUID(userID), rbac.StreamUser, rbac.EventUserCreated, rbac.UserCreatedPayload{
		Email:          req.AdminEmail,
		Name:           req.AdminName,
		OrganizationID: &orgID,
		ExternalID:     &ext.user,
	}); err != nil {
		return CompletedPayload{}, err
	}
	if _, err := o.appendLocal(ctx, st, uuid.UUID(userID), rbac.StreamUser, rbac.EventUserRoleAssigned, rbac.UserRolePayload{
		RoleID:         roleID,
		OrganizationID: roleOrg,
		ScopePath:      roleScope,
	}); err != nil {
		return CompletedPayload{}, err
	}
	return CompletedPayload{OrganizationID: orgID, AdminUserID: userID, Role: roleName, Path: req.Path}, nil
}

func (o *Orchestrator) ensureRole(ctx context.Context, st Status, name string, orgID *domain.OrganizationID, scope *domain.Path) (domain.RoleID, error) {
	existing, err := o.roles.GetRoleByName(ctx, name, orgID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.RoleID{}, fmt.Errorf("look up role %s: %w", name, err)
	}
	key := "role/" + name
	if orgID != nil {
		key = orgID.String() + "/" + key
	}
	roleID := domain.RoleID(uuid.NewSHA1(idNamespace, []byte(key)))
	_, err = o.appendLocal(ctx, st, uuid.UUID(roleID), rbac.StreamRole, rbac.EventRoleCreated, rbac.RoleCreatedPayload{
		Name:           name,
		Description:    "organization administrator",
		OrganizationID: orgID,
		ScopePath:      scope,
	})
	return roleID, err
}

// appendLocal appends a local entity event and treats a projection failure
// as a saga failure.
func (o *Orchestrator) appendLocal(ctx context.Context, st Status, streamID uuid.UUID, streamType eventstore.StreamType, eventType eventstore.EventType, payload any) (eventstore.Event, error) {
	evt, err := o.ledger.Append(ctx, ledger.AppendRequest{
		StreamID:      streamID,
		StreamType:    streamType,
		EventType:     eventType,
		Payload:       payload,
		Reason:        "tenant bootstrap",
		CorrelationID: st.CorrelationID,
		CausationID:   st.InitiatedEventID.String(),
	})
	if err != nil {
		return evt, fmt.Errorf("append %s: %w", eventType, err)
	}
	if evt.Failed() {
		return evt, dErrors.Newf(dErrors.CodeProjection, "%s not projected: %s", eventType, *evt.ProcessingError)
	}
	return evt, nil
}

func (o *Orchestrator) appendStep(ctx context.Context, st Status, eventType eventstore.EventType, payload any) (eventstore.Event, error) {
	return o.ledger.Append(ctx, ledger.AppendRequest{
		StreamID:      uuid.UUID(st.OrganizationID),
		StreamType:    organization.StreamType,
		EventType:     eventType,
		Payload:       payload,
		Reason:        "tenant bootstrap",
		CorrelationID: st.CorrelationID,
		CausationID:   st.InitiatedEventID.String(),
	})
}

// fail appends the saga's single failure event.
func (o *Orchestrator) fail(ctx context.Context, st Status, stage Stage, cause error, ext externalIDs, attempts int) (Stage, error) {
	o.logger.ErrorContext(ctx, "bootstrap failed",
		"correlation_id", st.CorrelationID,
		"stage", string(stage),
		"error", cause,
	)
	if _, err := o.appendStep(ctx, st, organization.EventBootstrapFailed, FailedPayload{
		Stage:          stage,
		Error:          cause.Error(),
		Attempts:       attempts,
		ExternalOrgID:  ext.org,
		ExternalUserID: ext.user,
	}); err != nil {
		o.logger.ErrorContext(ctx, "record bootstrap failure", "correlation_id", st.CorrelationID, "error", err)
	}
	return stage, cause
}

// cancelledSince reports whether the saga was cancelled while it ran. When
// the provider already holds resources the ledger does not know about yet,
// it asks for their cleanup.
func (o *Orchestrator) cancelledSince(ctx context.Context, st Status, unrecorded externalIDs) bool {
	now, err := o.monitor.GetBootstrapStatus(ctx, st.CorrelationID)
	if err != nil || now.State != StateCancelled {
		return false
	}
	o.logger.InfoContext(ctx, "bootstrap cancelled while running", "correlation_id", st.CorrelationID)
	if unrecorded != (externalIDs{}) {
		if _, err := o.appendStep(ctx, st, organization.EventBootstrapCleanupRequested, CleanupRequestedPayload{
			ExternalOrgID:  unrecorded.org,
			ExternalUserID: unrecorded.user,
			Reason:         "bootstrap cancelled",
		}); err != nil {
			o.logger.ErrorContext(ctx, "request cleanup", "correlation_id", st.CorrelationID, "error", err)
		}
	}
	return true
}

// HandleTerminal requests cleanup of provider resources left behind by a
// failed or cancelled saga, once.
func (o *Orchestrator) HandleTerminal(ctx context.Context, evt eventstore.Event) error {
	if evt.EventType != organization.EventBootstrapFailed && evt.EventType != organization.EventBootstrapCancelled {
		return nil
	}
	st, err := o.monitor.GetBootstrapStatus(ctx, evt.Metadata.CorrelationID)
	if err != nil {
		return err
	}
	if !st.HasExternalResources() || st.CleanupRequested {
		return nil
	}
	_, err = o.appendStep(ctx, st, organization.EventBootstrapCleanupRequested, CleanupRequestedPayload{
		ExternalOrgID:  st.ExternalOrgID,
		ExternalUserID: st.ExternalUserID,
		Reason:         fmt.Sprintf("bootstrap %s", st.State),
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
