package bootstrap

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	"carebase/internal/ledger"
	"carebase/internal/organization"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
)

// EventReader is the slice of the event store the saga folds from.
type EventReader interface {
	ListByCorrelationID(ctx context.Context, correlationID string) ([]eventstore.Event, error)
	ListByTypePrefix(ctx context.Context, prefix string, page eventstore.Page) ([]eventstore.Event, error)
}

// Appender records new saga events; *ledger.Ledger implements it.
type Appender interface {
	Append(ctx context.Context, req ledger.AppendRequest) (eventstore.Event, error)
}

// Monitor reads saga state back from the ledger.
type Monitor struct {
	events EventReader
	ledger Appender
}

func NewMonitor(events EventReader, appender Appender) *Monitor {
	return &Monitor{events: events, ledger: appender}
}

func (m *Monitor) GetBootstrapStatus(ctx context.Context, correlationID string) (Status, error) {
	if correlationID == "" {
		return Status{}, dErrors.New(dErrors.CodeInvalidInput, "correlation id is required")
	}
	events, err := m.events.ListByCorrelationID(ctx, correlationID)
	if err != nil {
		return Status{}, fmt.Errorf("list bootstrap events: %w", err)
	}
	return Fold(correlationID, events)
}

// ListBootstrapProcesses returns one status per initiated saga in page.
func (m *Monitor) ListBootstrapProcesses(ctx context.Context, page eventstore.Page) ([]Status, error) {
	initiated, err := m.events.ListByTypePrefix(ctx, organization.EventBootstrapInitiated, page)
	if err != nil {
		return nil, fmt.Errorf("list bootstrap sagas: %w", err)
	}
	out := make([]Status, 0, len(initiated))
	for _, evt := range initiated {
		st, err := m.GetBootstrapStatus(ctx, evt.Metadata.CorrelationID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// RetryFailedBootstrap starts a new saga for the same organization with the
// failed saga's request. Only failed sagas can be retried.
func (m *Monitor) RetryFailedBootstrap(ctx context.Context, correlationID string) (Status, error) {
	st, err := m.GetBootstrapStatus(ctx, correlationID)
	if err != nil {
		return Status{}, err
	}
	if st.State != StateFailed {
		return Status{}, dErrors.Newf(dErrors.CodeConflict, "bootstrap %s is %s, only failed sagas can be retried", correlationID, st.State)
	}
	req := st.Request
	req.RetryOf = correlationID
	next := uuid.NewString()
	if _, err := appendInitiated(ctx, m.ledger, st.OrganizationID, next, req, st.LastEventID.String(), "retry of "+correlationID); err != nil {
		return Status{}, err
	}
	return m.GetBootstrapStatus(ctx, next)
}

func appendInitiated(ctx context.Context, appender Appender, orgID domain.OrganizationID, correlationID string, req InitiatedPayload, causationID, reason string) (eventstore.Event, error) {
	return appender.Append(ctx, ledger.AppendRequest{
		StreamID:      uuid.UUID(orgID),
		StreamType:    organization.StreamType,
		EventType:     organization.EventBootstrapInitiated,
		Payload:       req,
		Reason:        reason,
		CorrelationID: correlationID,
		CausationID:   causationID,
	})
}
