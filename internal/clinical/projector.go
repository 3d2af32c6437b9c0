package clinical

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	"carebase/internal/organization"
	"carebase/internal/router"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
	"carebase/pkg/platform/sentinel"
	strutil "carebase/pkg/platform/strings"
	"carebase/pkg/requestcontext"
)

// Organizations looks up the owning organization of new clinical records.
type Organizations interface {
	Get(ctx context.Context, id domain.OrganizationID) (organization.Organization, error)
}

type Option func(*base)

func WithLogger(logger *slog.Logger) Option {
	return func(b *base) { b.logger = logger }
}

// base carries what every clinical projector shares: the dispatch table and
// the audit trail.
type base struct {
	audit    audit.Store
	logger   *slog.Logger
	handlers router.Handlers
}

func newBase(auditStore audit.Store, opts []Option) base {
	b := base{audit: auditStore, logger: slog.Default()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) EventTypes() []eventstore.EventType { return b.handlers.EventTypes() }

func (b *base) Apply(ctx context.Context, evt eventstore.Event, emit router.Emitter) error {
	if err := b.handlers.Apply(ctx, b.logger, evt, emit); err != nil {
		return err
	}
	return b.audit.Append(ctx, evt.AuditRecord(requestcontext.Now(ctx)))
}

// NewProjectors returns the four clinical projectors over stores.
func NewProjectors(stores Stores, orgs Organizations, auditStore audit.Store, opts ...Option) []router.Projector {
	return []router.Projector{
		NewClientProjector(stores.Clients, orgs, auditStore, opts...),
		NewMedicationProjector(stores.Medications, orgs, auditStore, opts...),
		NewHistoryProjector(stores, auditStore, opts...),
		NewDosageProjector(stores, auditStore, opts...),
	}
}

func requireOrganization(ctx context.Context, orgs Organizations, id domain.OrganizationID) error {
	if id.IsNil() {
		return dErrors.New(dErrors.CodeProjection, "organization id is required")
	}
	org, err := orgs.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeProjection, "organization %s does not exist", id)
	}
	if err != nil {
		return err
	}
	if org.Deleted {
		return dErrors.Newf(dErrors.CodeProjection, "organization %s is deleted", id)
	}
	return nil
}

func load[T any](ctx context.Context, docs Documents[T], kind string, id uuid.UUID) (T, error) {
	doc, err := docs.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return doc, dErrors.Newf(dErrors.CodeProjection, "%s %s not projected", kind, id)
	}
	return doc, err
}

func validDate(field, value string) error {
	if _, err := time.Parse(dateLayout, value); err != nil {
		return dErrors.Newf(dErrors.CodeProjection, "%s must be a YYYY-MM-DD date", field)
	}
	return nil
}

// cleanList trims and de-duplicates free-text list entries. The result is
// never nil so stored documents always carry an array.
func cleanList(s []string) []string {
	out := strutil.DedupeAndTrim(s)
	if out == nil {
		return []string{}
	}
	return out
}
