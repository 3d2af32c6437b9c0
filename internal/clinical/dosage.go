package clinical

import (
	"context"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
)

type DosageProjector struct {
	base
	stores Stores
}

func NewDosageProjector(stores Stores, auditStore audit.Store, opts ...Option) *DosageProjector {
	p := &DosageProjector{base: newBase(auditStore, opts), stores: stores}
	p.handlers = router.Handlers{
		EventDosageScheduled:    router.Handle(p.scheduled),
		EventDosageAdministered: router.Handle(p.administered),
		EventDosageSkipped:      router.Handle(p.closeWith(DosageSkipped)),
		EventDosageRefused:      router.Handle(p.closeWith(DosageRefused)),
		EventDosageUpdated:      router.Handle(p.updated),
	}
	return p
}

func (p *DosageProjector) Name() string { return "dosage" }

func (p *DosageProjector) StreamTypes() []eventstore.StreamType {
	return []eventstore.StreamType{StreamDosage}
}

func (p *DosageProjector) scheduled(ctx context.Context, evt eventstore.Event, payload DosageScheduledPayload, _ router.Emitter) error {
	h, err := load(ctx, p.stores.Histories, "medication history", payload.HistoryID)
	if err != nil {
		return err
	}
	if h.Status != HistoryActive {
		return dErrors.Newf(dErrors.CodeProjection, "medication history %s is %s", h.ID, h.Status)
	}
	if payload.ScheduledAt.IsZero() {
		return dErrors.New(dErrors.CodeProjection, "scheduled time is required")
	}
	d := Dosage{
		ID:             evt.StreamID,
		OrganizationID: h.OrganizationID,
		HistoryID:      h.ID,
		ClientID:       h.ClientID,
		ScheduledAt:    payload.ScheduledAt,
		Status:         DosageScheduled,
		DoseAmount:     h.DosageAmount,
		DoseUnit:       h.DosageUnit,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.CreatedAt,
	}
	if payload.DoseAmount > 0 {
		d.DoseAmount = payload.DoseAmount
	}
	if payload.DoseUnit != "" {
		d.DoseUnit = payload.DoseUnit
	}
	_, err = p.stores.Dosages.Insert(ctx, d.ID, d.OrganizationID, d)
	return err
}

// administered records the dose. A missed dose may still be given late.
func (p *DosageProjector) administered(ctx context.Context, evt eventstore.Event, payload DosageAdministeredPayload, _ router.Emitter) error {
	d, err := load(ctx, p.stores.Dosages, "dosage", evt.StreamID)
	if err != nil {
		return err
	}
	if d.Status == DosageAdministered {
		return nil
	}
	if d.Status != DosageScheduled && d.Status != DosageMissed {
		return dErrors.Newf(dErrors.CodeProjection, "dosage %s is %s", d.ID, d.Status)
	}
	at := payload.AdministeredAt
	if at.IsZero() {
		at = evt.CreatedAt
	}
	d.Status = DosageAdministered
	d.AdministeredAt = &at
	d.AdministeredBy = evt.Metadata.UserID
	if payload.DoseAmount != nil {
		if *payload.DoseAmount <= 0 {
			return dErrors.New(dErrors.CodeProjection, "administered dose must be positive")
		}
		d.DoseAmount = *payload.DoseAmount
	}
	if payload.Notes != "" {
		d.Notes = payload.Notes
	}
	d.UpdatedAt = evt.CreatedAt
	return p.stores.Dosages.Update(ctx, d.ID, d)
}

func (p *DosageProjector) closeWith(target DosageStatus) func(context.Context, eventstore.Event, DosageReasonPayload, router.Emitter) error {
	return func(ctx context.Context, evt eventstore.Event, payload DosageReasonPayload, _ router.Emitter) error {
		d, err := load(ctx, p.stores.Dosages, "dosage", evt.StreamID)
		if err != nil {
			return err
		}
		if d.Status == target {
			return nil
		}
		if d.Status != DosageScheduled {
			return dErrors.Newf(dErrors.CodeProjection, "dosage %s is %s", d.ID, d.Status)
		}
		if payload.Reason == "" {
			return dErrors.Newf(dErrors.CodeProjection, "%s dosage requires a reason", target)
		}
		if target == DosageSkipped {
			d.SkipReason = payload.Reason
		} else {
			d.RefusalReason = payload.Reason
		}
		d.Status = target
		d.UpdatedAt = evt.CreatedAt
		return p.stores.Dosages.Update(ctx, d.ID, d)
	}
}

// updated edits notes at any time. Rescheduling and marking a dose missed
// are only possible while it is still scheduled; a schedule time equal to the
// current one is not a reschedule.
func (p *DosageProjector) updated(ctx context.Context, evt eventstore.Event, payload DosageUpdatedPayload, _ router.Emitter) error {
	d, err := load(ctx, p.stores.Dosages, "dosage", evt.StreamID)
	if err != nil {
		return err
	}
	payload.Notes.Apply(&d.Notes)
	if payload.ScheduledAt.Set && !(payload.ScheduledAt.Value.Equal(d.ScheduledAt) && !payload.ScheduledAt.Null) {
		if d.Status != DosageScheduled {
			return dErrors.Newf(dErrors.CodeProjection, "dosage %s is %s and cannot be rescheduled", d.ID, d.Status)
		}
		if payload.ScheduledAt.Null || payload.ScheduledAt.Value.IsZero() {
			return dErrors.New(dErrors.CodeProjection, "scheduled time cannot be cleared")
		}
		d.ScheduledAt = payload.ScheduledAt.Value
	}
	if payload.Status.Set && payload.Status.Value != d.Status {
		if payload.Status.Value != DosageMissed || d.Status != DosageScheduled {
			return dErrors.Newf(dErrors.CodeProjection, "dosage %s cannot move from %s to %q by update", d.ID, d.Status, payload.Status.Value)
		}
		d.Status = DosageMissed
	}
	d.UpdatedAt = evt.CreatedAt
	return p.stores.Dosages.Update(ctx, d.ID, d)
}
