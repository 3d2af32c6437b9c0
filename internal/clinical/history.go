package clinical

import (
	"context"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
)

// HistoryProjector folds prescriptions. Discontinuing one skips its doses
// that are still scheduled.
type HistoryProjector struct {
	base
	stores Stores
}

func NewHistoryProjector(stores Stores, auditStore audit.Store, opts ...Option) *HistoryProjector {
	p := &HistoryProjector{base: newBase(auditStore, opts), stores: stores}
	p.handlers = router.Handlers{
		EventHistoryStarted:      router.Handle(p.started),
		EventHistoryUpdated:      router.Handle(p.updated),
		EventHistoryDiscontinued: router.Handle(p.discontinued),
	}
	return p
}

func (p *HistoryProjector) Name() string { return "medication_history" }

func (p *HistoryProjector) StreamTypes() []eventstore.StreamType {
	return []eventstore.StreamType{StreamMedicationHistory}
}

func (p *HistoryProjector) started(ctx context.Context, evt eventstore.Event, payload HistoryStartedPayload, _ router.Emitter) error {
	client, err := load(ctx, p.stores.Clients, "client", payload.ClientID)
	if err != nil {
		return err
	}
	if client.Status == ClientArchived {
		return dErrors.Newf(dErrors.CodeProjection, "client %s is archived", client.ID)
	}
	med, err := p.resolveMedication(ctx, payload)
	if err != nil {
		return err
	}
	if !med.Active {
		return dErrors.Newf(dErrors.CodeProjection, "medication %q is discontinued", med.Name)
	}
	if med.OrganizationID != client.OrganizationID {
		return dErrors.New(dErrors.CodeProjection, "medication and client belong to different organizations")
	}
	if err := validDate("start_date", payload.StartDate); err != nil {
		return err
	}
	if payload.EndDate != "" {
		if err := validDate("end_date", payload.EndDate); err != nil {
			return err
		}
		if payload.EndDate < payload.StartDate {
			return dErrors.New(dErrors.CodeProjection, "end date precedes start date")
		}
	}
	if payload.DosageAmount <= 0 || payload.DosageUnit == "" || payload.Frequency == "" {
		return dErrors.New(dErrors.CodeProjection, "dosage amount, unit and frequency are required")
	}
	_, err = p.stores.Histories.Insert(ctx, evt.StreamID, client.OrganizationID, MedicationHistory{
		ID:               evt.StreamID,
		OrganizationID:   client.OrganizationID,
		ClientID:         client.ID,
		MedicationID:     med.ID,
		PrescriptionDate: payload.PrescriptionDate,
		StartDate:        payload.StartDate,
		EndDate:          payload.EndDate,
		DosageAmount:     payload.DosageAmount,
		DosageUnit:       payload.DosageUnit,
		Frequency:        payload.Frequency,
		Route:            payload.Route,
		PrescribedBy:     payload.PrescribedBy,
		Status:           HistoryActive,
		CreatedAt:        evt.CreatedAt,
		UpdatedAt:        evt.CreatedAt,
	})
	return err
}

func (p *HistoryProjector) resolveMedication(ctx context.Context, payload HistoryStartedPayload) (Medication, error) {
	if payload.MedicationID != nil {
		return load(ctx, p.stores.Medications, "medication", *payload.MedicationID)
	}
	if payload.NDCCode == "" {
		return Medication{}, dErrors.New(dErrors.CodeProjection, "medication id or NDC code is required")
	}
	matches, err := p.stores.Medications.ListContainingAny(ctx, "ndc_codes", []string{payload.NDCCode})
	if err != nil {
		return Medication{}, err
	}
	switch len(matches) {
	case 0:
		return Medication{}, dErrors.Newf(dErrors.CodeProjection, "no medication with NDC code %s", payload.NDCCode)
	case 1:
		return matches[0], nil
	default:
		return Medication{}, dErrors.Newf(dErrors.CodeProjection, "NDC code %s matches %d medications", payload.NDCCode, len(matches))
	}
}

func (p *HistoryProjector) updated(ctx context.Context, evt eventstore.Event, payload HistoryUpdatedPayload, _ router.Emitter) error {
	h, err := load(ctx, p.stores.Histories, "medication history", evt.StreamID)
	if err != nil {
		return err
	}
	if h.Status == HistoryDiscontinued {
		return dErrors.Newf(dErrors.CodeProjection, "medication history %s is discontinued", h.ID)
	}
	payload.EndDate.Apply(&h.EndDate)
	if h.EndDate != "" {
		if err := validDate("end_date", h.EndDate); err != nil {
			return err
		}
	}
	payload.DosageAmount.Apply(&h.DosageAmount)
	payload.DosageUnit.Apply(&h.DosageUnit)
	payload.Frequency.Apply(&h.Frequency)
	if h.DosageAmount <= 0 || h.DosageUnit == "" || h.Frequency == "" {
		return dErrors.New(dErrors.CodeProjection, "dosage amount, unit and frequency cannot be cleared")
	}
	payload.Route.Apply(&h.Route)
	payload.PrescribedBy.Apply(&h.PrescribedBy)
	if payload.Status.Set {
		switch s := payload.Status.Value; s {
		case HistoryActive, HistoryOnHold, HistoryCompleted:
			h.Status = s
		default:
			return dErrors.Newf(dErrors.CodeProjection, "medication history status cannot be set to %q by update", s)
		}
	}
	h.UpdatedAt = evt.CreatedAt
	return p.stores.Histories.Update(ctx, h.ID, h)
}

// discontinued ends the prescription and, on the first delivery only, asks
// for dosage.skipped on each dose still scheduled under it.
func (p *HistoryProjector) discontinued(ctx context.Context, evt eventstore.Event, payload HistoryDiscontinuedPayload, emit router.Emitter) error {
	h, err := load(ctx, p.stores.Histories, "medication history", evt.StreamID)
	if err != nil {
		return err
	}
	if h.Status == HistoryDiscontinued {
		return nil
	}
	if payload.Reason == "" {
		return dErrors.New(dErrors.CodeProjection, "discontinue reason is required")
	}
	at := evt.CreatedAt
	h.Status = HistoryDiscontinued
	h.DiscontinueReason = payload.Reason
	h.DiscontinuedAt = &at
	if payload.EndDate != "" {
		h.EndDate = payload.EndDate
	} else if h.EndDate == "" {
		h.EndDate = at.Format(dateLayout)
	}
	h.UpdatedAt = at
	if err := p.stores.Histories.Update(ctx, h.ID, h); err != nil {
		return err
	}

	doses, err := p.stores.Dosages.ListWhere(ctx, "history_id", h.ID.String())
	if err != nil {
		return err
	}
	for _, d := range doses {
		if d.Status != DosageScheduled {
			continue
		}
		f, err := router.NewFollowUp(evt, d.ID, StreamDosage, EventDosageSkipped, DosageReasonPayload{
			Reason: "medication discontinued: " + payload.Reason,
		})
		if err != nil {
			return err
		}
		emit.Emit(f)
	}
	return nil
}
