package clinical

import (
	"context"
	"slices"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
)

// controlledSchedules are the DEA schedules a controlled medication may carry.
var controlledSchedules = []string{"CI", "CII", "CIII", "CIV", "CV"}

type MedicationProjector struct {
	base
	medications Documents[Medication]
	orgs        Organizations
}

func NewMedicationProjector(medications Documents[Medication], orgs Organizations, auditStore audit.Store, opts ...Option) *MedicationProjector {
	p := &MedicationProjector{base: newBase(auditStore, opts), medications: medications, orgs: orgs}
	p.handlers = router.Handlers{
		EventMedicationAdded:        router.Handle(p.added),
		EventMedicationUpdated:      router.Handle(p.updated),
		EventMedicationDiscontinued: router.Handle(p.discontinued),
	}
	return p
}

func (p *MedicationProjector) Name() string { return "medication" }

func (p *MedicationProjector) StreamTypes() []eventstore.StreamType {
	return []eventstore.StreamType{StreamMedication}
}

func (p *MedicationProjector) added(ctx context.Context, evt eventstore.Event, payload MedicationAddedPayload, _ router.Emitter) error {
	if payload.Name == "" {
		return dErrors.New(dErrors.CodeProjection, "medication name is required")
	}
	if err := requireOrganization(ctx, p.orgs, payload.OrganizationID); err != nil {
		return err
	}
	m := Medication{
		ID:                 evt.StreamID,
		OrganizationID:     payload.OrganizationID,
		Name:               payload.Name,
		GenericName:        payload.GenericName,
		BrandNames:         cleanList(payload.BrandNames),
		RxNormCUI:          payload.RxNormCUI,
		NDCCodes:           cleanList(payload.NDCCodes),
		Category:           payload.Category,
		DrugClass:          payload.DrugClass,
		IsPsychotropic:     payload.IsPsychotropic,
		IsControlled:       payload.IsControlled,
		IsNarcotic:         payload.IsNarcotic,
		ControlledSchedule: payload.ControlledSchedule,
		Active:             true,
		CreatedAt:          evt.CreatedAt,
		UpdatedAt:          evt.CreatedAt,
	}
	if err := checkControls(m); err != nil {
		return err
	}
	_, err := p.medications.Insert(ctx, m.ID, m.OrganizationID, m)
	return err
}

func (p *MedicationProjector) updated(ctx context.Context, evt eventstore.Event, payload MedicationUpdatedPayload, _ router.Emitter) error {
	m, err := load(ctx, p.medications, "medication", evt.StreamID)
	if err != nil {
		return err
	}
	payload.Name.Apply(&m.Name)
	if m.Name == "" {
		return dErrors.New(dErrors.CodeProjection, "medication name cannot be cleared")
	}
	payload.GenericName.Apply(&m.GenericName)
	payload.BrandNames.Apply(&m.BrandNames)
	payload.RxNormCUI.Apply(&m.RxNormCUI)
	payload.NDCCodes.Apply(&m.NDCCodes)
	m.BrandNames, m.NDCCodes = cleanList(m.BrandNames), cleanList(m.NDCCodes)
	payload.Category.Apply(&m.Category)
	payload.DrugClass.Apply(&m.DrugClass)
	payload.IsPsychotropic.Apply(&m.IsPsychotropic)
	payload.IsControlled.Apply(&m.IsControlled)
	payload.IsNarcotic.Apply(&m.IsNarcotic)
	payload.ControlledSchedule.Apply(&m.ControlledSchedule)
	if err := checkControls(m); err != nil {
		return err
	}
	m.UpdatedAt = evt.CreatedAt
	return p.medications.Update(ctx, m.ID, m)
}

func (p *MedicationProjector) discontinued(ctx context.Context, evt eventstore.Event, payload MedicationDiscontinuedPayload, _ router.Emitter) error {
	m, err := load(ctx, p.medications, "medication", evt.StreamID)
	if err != nil {
		return err
	}
	if !m.Active {
		return nil
	}
	m.Active = false
	m.DiscontinuedReason = payload.Reason
	m.UpdatedAt = evt.CreatedAt
	return p.medications.Update(ctx, m.ID, m)
}

// checkControls enforces that narcotics are controlled and that controlled
// medications name their schedule.
func checkControls(m Medication) error {
	if m.IsNarcotic && !m.IsControlled {
		return dErrors.Newf(dErrors.CodeProjection, "narcotic medication %q must be controlled", m.Name)
	}
	if m.IsControlled && !slices.Contains(controlledSchedules, m.ControlledSchedule) {
		return dErrors.Newf(dErrors.CodeProjection, "controlled medication %q needs a schedule in %v", m.Name, controlledSchedules)
	}
	if !m.IsControlled && m.ControlledSchedule != "" {
		return dErrors.Newf(dErrors.CodeProjection, "medication %q has a schedule but is not controlled", m.Name)
	}
	return nil
}
