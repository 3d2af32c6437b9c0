package clinical

import (
	"context"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
)

type ClientProjector struct {
	base
	clients Documents[Client]
	orgs    Organizations
}

func NewClientProjector(clients Documents[Client], orgs Organizations, auditStore audit.Store, opts ...Option) *ClientProjector {
	p := &ClientProjector{base: newBase(auditStore, opts), clients: clients, orgs: orgs}
	p.handlers = router.Handlers{
		EventClientRegistered: router.Handle(p.registered),
		EventClientUpdated:    router.Handle(p.updated),
		EventClientAdmitted:   router.Handle(p.admitted),
		EventClientDischarged: router.Handle(p.discharged),
		EventClientArchived:   router.Handle(p.archived),
	}
	return p
}

func (p *ClientProjector) Name() string { return "client" }

func (p *ClientProjector) StreamTypes() []eventstore.StreamType {
	return []eventstore.StreamType{StreamClient}
}

func (p *ClientProjector) registered(ctx context.Context, evt eventstore.Event, payload ClientRegisteredPayload, _ router.Emitter) error {
	if payload.FirstName == "" || payload.LastName == "" {
		return dErrors.New(dErrors.CodeProjection, "client first and last name are required")
	}
	if err := validDate("date_of_birth", payload.DateOfBirth); err != nil {
		return err
	}
	if err := requireOrganization(ctx, p.orgs, payload.OrganizationID); err != nil {
		return err
	}
	_, err := p.clients.Insert(ctx, evt.StreamID, payload.OrganizationID, Client{
		ID:                evt.StreamID,
		OrganizationID:    payload.OrganizationID,
		FirstName:         payload.FirstName,
		LastName:          payload.LastName,
		DateOfBirth:       payload.DateOfBirth,
		Gender:            payload.Gender,
		Email:             payload.Email,
		Phone:             payload.Phone,
		Address:           payload.Address,
		EmergencyContact:  payload.EmergencyContact,
		Allergies:         cleanList(payload.Allergies),
		MedicalConditions: cleanList(payload.MedicalConditions),
		BloodType:         payload.BloodType,
		Status:            ClientActive,
		Notes:             payload.Notes,
		CreatedAt:         evt.CreatedAt,
		UpdatedAt:         evt.CreatedAt,
	})
	return err
}

func (p *ClientProjector) updated(ctx context.Context, evt eventstore.Event, payload ClientUpdatedPayload, _ router.Emitter) error {
	c, err := p.mutable(ctx, evt)
	if err != nil {
		return err
	}
	payload.FirstName.Apply(&c.FirstName)
	payload.LastName.Apply(&c.LastName)
	if c.FirstName == "" || c.LastName == "" {
		return dErrors.New(dErrors.CodeProjection, "client name cannot be cleared")
	}
	payload.DateOfBirth.Apply(&c.DateOfBirth)
	if err := validDate("date_of_birth", c.DateOfBirth); err != nil {
		return err
	}
	payload.Gender.Apply(&c.Gender)
	payload.Email.Apply(&c.Email)
	payload.Phone.Apply(&c.Phone)
	payload.Address.Apply(&c.Address)
	payload.EmergencyContact.ApplyPtr(&c.EmergencyContact)
	payload.Allergies.Apply(&c.Allergies)
	payload.MedicalConditions.Apply(&c.MedicalConditions)
	c.Allergies, c.MedicalConditions = cleanList(c.Allergies), cleanList(c.MedicalConditions)
	payload.BloodType.Apply(&c.BloodType)
	payload.Notes.Apply(&c.Notes)
	if payload.Status.Set {
		if s := payload.Status.Value; s != ClientActive && s != ClientInactive {
			return dErrors.Newf(dErrors.CodeProjection, "client status cannot be set to %q by update", s)
		}
		c.Status = payload.Status.Value
	}
	c.UpdatedAt = evt.CreatedAt
	return p.clients.Update(ctx, c.ID, c)
}

func (p *ClientProjector) admitted(ctx context.Context, evt eventstore.Event, payload ClientAdmittedPayload, _ router.Emitter) error {
	c, err := p.mutable(ctx, evt)
	if err != nil {
		return err
	}
	if payload.AdmissionDate.IsZero() {
		return dErrors.New(dErrors.CodeProjection, "admission date is required")
	}
	at := payload.AdmissionDate
	c.AdmissionDate = &at
	c.DischargeDate = nil
	c.DischargeReason = ""
	c.Status = ClientActive
	c.UpdatedAt = evt.CreatedAt
	return p.clients.Update(ctx, c.ID, c)
}

func (p *ClientProjector) discharged(ctx context.Context, evt eventstore.Event, payload ClientDischargedPayload, _ router.Emitter) error {
	c, err := p.mutable(ctx, evt)
	if err != nil {
		return err
	}
	if c.AdmissionDate == nil {
		return dErrors.Newf(dErrors.CodeProjection, "client %s was never admitted", c.ID)
	}
	if payload.DischargeDate.Before(*c.AdmissionDate) {
		return dErrors.New(dErrors.CodeProjection, "discharge date precedes admission date")
	}
	at := payload.DischargeDate
	c.DischargeDate = &at
	c.DischargeReason = payload.Reason
	c.Status = ClientInactive
	c.UpdatedAt = evt.CreatedAt
	return p.clients.Update(ctx, c.ID, c)
}

// archived is terminal; a redelivered archive leaves the record untouched.
func (p *ClientProjector) archived(ctx context.Context, evt eventstore.Event, _ ClientArchivedPayload, _ router.Emitter) error {
	c, err := load(ctx, p.clients, "client", evt.StreamID)
	if err != nil {
		return err
	}
	if c.Status == ClientArchived {
		return nil
	}
	at := evt.CreatedAt
	c.Status = ClientArchived
	c.ArchivedAt = &at
	c.UpdatedAt = at
	return p.clients.Update(ctx, c.ID, c)
}

func (p *ClientProjector) mutable(ctx context.Context, evt eventstore.Event) (Client, error) {
	c, err := load(ctx, p.clients, "client", evt.StreamID)
	if err != nil {
		return c, err
	}
	if c.Status == ClientArchived {
		return c, dErrors.Newf(dErrors.CodeProjection, "client %s is archived", c.ID)
	}
	return c, nil
}
