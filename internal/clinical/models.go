package clinical

import (
	"time"

	"github.com/google/uuid"

	"carebase/pkg/domain"
	"carebase/pkg/platform/patch"
)

const (
	StreamClient            = "client"
	StreamMedication        = "medication"
	StreamMedicationHistory = "medication_history"
	StreamDosage            = "dosage"
)

const (
	EventClientRegistered = "client.registered"
	EventClientUpdated    = "client.updated"
	EventClientAdmitted   = "client.admitted"
	EventClientDischarged = "client.discharged"
	EventClientArchived   = "client.archived"

	EventMedicationAdded        = "medication.added"
	EventMedicationUpdated      = "medication.updated"
	EventMedicationDiscontinued = "medication.discontinued"

	EventHistoryStarted      = "medication_history.started"
	EventHistoryUpdated      = "medication_history.updated"
	EventHistoryDiscontinued = "medication_history.discontinued"

	EventDosageScheduled    = "dosage.scheduled"
	EventDosageAdministered = "dosage.administered"
	EventDosageSkipped      = "dosage.skipped"
	EventDosageRefused      = "dosage.refused"
	EventDosageUpdated      = "dosage.updated"
)

// dateLayout is the wire form of calendar dates.
const dateLayout = "2006-01-02"

type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
	ClientArchived ClientStatus = "archived"
)

type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

type Client struct {
	ID                uuid.UUID             `json:"id"`
	OrganizationID    domain.OrganizationID `json:"organization_id"`
	FirstName         string                `json:"first_name"`
	LastName          string                `json:"last_name"`
	DateOfBirth       string                `json:"date_of_birth"`
	Gender            string                `json:"gender,omitempty"`
	Email             string                `json:"email,omitempty"`
	Phone             string                `json:"phone,omitempty"`
	Address           string                `json:"address,omitempty"`
	EmergencyContact  *EmergencyContact     `json:"emergency_contact,omitempty"`
	Allergies         []string              `json:"allergies"`
	MedicalConditions []string              `json:"medical_conditions"`
	BloodType         string                `json:"blood_type,omitempty"`
	Status            ClientStatus          `json:"status"`
	AdmissionDate     *time.Time            `json:"admission_date,omitempty"`
	DischargeDate     *time.Time            `json:"discharge_date,omitempty"`
	DischargeReason   string                `json:"discharge_reason,omitempty"`
	Notes             string                `json:"notes,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
	ArchivedAt        *time.Time            `json:"archived_at,omitempty"`
}

type ClientRegisteredPayload struct {
	OrganizationID    domain.OrganizationID `json:"organization_id"`
	FirstName         string                `json:"first_name"`
	LastName          string                `json:"last_name"`
	DateOfBirth       string                `json:"date_of_birth"`
	Gender            string                `json:"gender,omitempty"`
	Email             string                `json:"email,omitempty"`
	Phone             string                `json:"phone,omitempty"`
	Address           string                `json:"address,omitempty"`
	EmergencyContact  *EmergencyContact     `json:"emergency_contact,omitempty"`
	Allergies         []string              `json:"allergies,omitempty"`
	MedicalConditions []string              `json:"medical_conditions,omitempty"`
	BloodType         string                `json:"blood_type,omitempty"`
	Notes             string                `json:"notes,omitempty"`
}

type ClientUpdatedPayload struct {
	FirstName         patch.Field[string]           `json:"first_name,omitzero"`
	LastName          patch.Field[string]           `json:"last_name,omitzero"`
	DateOfBirth       patch.Field[string]           `json:"date_of_birth,omitzero"`
	Gender            patch.Field[string]           `json:"gender,omitzero"`
	Email             patch.Field[string]           `json:"email,omitzero"`
	Phone             patch.Field[string]           `json:"phone,omitzero"`
	Address           patch.Field[string]           `json:"address,omitzero"`
	EmergencyContact  patch.Field[EmergencyContact] `json:"emergency_contact,omitzero"`
	Allergies         patch.Field[[]string]         `json:"allergies,omitzero"`
	MedicalConditions patch.Field[[]string]         `json:"medical_conditions,omitzero"`
	BloodType         patch.Field[string]           `json:"blood_type,omitzero"`
	Status            patch.Field[ClientStatus]     `json:"status,omitzero"`
	Notes             patch.Field[string]           `json:"notes,omitzero"`
}

type ClientAdmittedPayload struct {
	AdmissionDate time.Time `json:"admission_date"`
}

type ClientDischargedPayload struct {
	DischargeDate time.Time `json:"discharge_date"`
	Reason        string    `json:"reason,omitempty"`
}

type ClientArchivedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type Medication struct {
	ID                 uuid.UUID             `json:"id"`
	OrganizationID     domain.OrganizationID `json:"organization_id"`
	Name               string                `json:"name"`
	GenericName        string                `json:"generic_name,omitempty"`
	BrandNames         []string              `json:"brand_names"`
	RxNormCUI          string                `json:"rxnorm_cui,omitempty"`
	NDCCodes           []string              `json:"ndc_codes"`
	Category           string                `json:"category,omitempty"`
	DrugClass          string                `json:"drug_class,omitempty"`
	IsPsychotropic     bool                  `json:"is_psychotropic"`
	IsControlled       bool                  `json:"is_controlled"`
	IsNarcotic         bool                  `json:"is_narcotic"`
	ControlledSchedule string                `json:"controlled_schedule,omitempty"`
	Active             bool                  `json:"active"`
	DiscontinuedReason string                `json:"discontinued_reason,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

type MedicationAddedPayload struct {
	OrganizationID     domain.OrganizationID `json:"organization_id"`
	Name               string                `json:"name"`
	GenericName        string                `json:"generic_name,omitempty"`
	BrandNames         []string              `json:"brand_names,omitempty"`
	RxNormCUI          string                `json:"rxnorm_cui,omitempty"`
	NDCCodes           []string              `json:"ndc_codes,omitempty"`
	Category           string                `json:"category,omitempty"`
	DrugClass          string                `json:"drug_class,omitempty"`
	IsPsychotropic     bool                  `json:"is_psychotropic,omitempty"`
	IsControlled       bool                  `json:"is_controlled,omitempty"`
	IsNarcotic         bool                  `json:"is_narcotic,omitempty"`
	ControlledSchedule string                `json:"controlled_schedule,omitempty"`
}

type MedicationUpdatedPayload struct {
	Name               patch.Field[string]   `json:"name,omitzero"`
	GenericName        patch.Field[string]   `json:"generic_name,omitzero"`
	BrandNames         patch.Field[[]string] `json:"brand_names,omitzero"`
	RxNormCUI          patch.Field[string]   `json:"rxnorm_cui,omitzero"`
	NDCCodes           patch.Field[[]string] `json:"ndc_codes,omitzero"`
	Category           patch.Field[string]   `json:"category,omitzero"`
	DrugClass          patch.Field[string]   `json:"drug_class,omitzero"`
	IsPsychotropic     patch.Field[bool]     `json:"is_psychotropic,omitzero"`
	IsControlled       patch.Field[bool]     `json:"is_controlled,omitzero"`
	IsNarcotic         patch.Field[bool]     `json:"is_narcotic,omitzero"`
	ControlledSchedule patch.Field[string]   `json:"controlled_schedule,omitzero"`
}

type MedicationDiscontinuedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type HistoryStatus string

const (
	HistoryActive       HistoryStatus = "active"
	HistoryCompleted    HistoryStatus = "completed"
	HistoryDiscontinued HistoryStatus = "discontinued"
	HistoryOnHold       HistoryStatus = "on_hold"
)

type MedicationHistory struct {
	ID                uuid.UUID             `json:"id"`
	OrganizationID    domain.OrganizationID `json:"organization_id"`
	ClientID          uuid.UUID             `json:"client_id"`
	MedicationID      uuid.UUID             `json:"medication_id"`
	PrescriptionDate  string                `json:"prescription_date,omitempty"`
	StartDate         string                `json:"start_date"`
	EndDate           string                `json:"end_date,omitempty"`
	DosageAmount      float64               `json:"dosage_amount"`
	DosageUnit        string                `json:"dosage_unit"`
	Frequency         string                `json:"frequency"`
	Route             string                `json:"route,omitempty"`
	PrescribedBy      string                `json:"prescribed_by,omitempty"`
	Status            HistoryStatus         `json:"status"`
	DiscontinueReason string                `json:"discontinue_reason,omitempty"`
	DiscontinuedAt    *time.Time            `json:"discontinued_at,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// HistoryStartedPayload names the medication by id or, for imported
// prescriptions, by any of its NDC codes.
type HistoryStartedPayload struct {
	ClientID         uuid.UUID  `json:"client_id"`
	MedicationID     *uuid.UUID `json:"medication_id,omitempty"`
	NDCCode          string     `json:"ndc_code,omitempty"`
	PrescriptionDate string     `json:"prescription_date,omitempty"`
	StartDate        string     `json:"start_date"`
	EndDate          string     `json:"end_date,omitempty"`
	DosageAmount     float64    `json:"dosage_amount"`
	DosageUnit       string     `json:"dosage_unit"`
	Frequency        string     `json:"frequency"`
	Route            string     `json:"route,omitempty"`
	PrescribedBy     string     `json:"prescribed_by,omitempty"`
}

type HistoryUpdatedPayload struct {
	EndDate      patch.Field[string]        `json:"end_date,omitzero"`
	DosageAmount patch.Field[float64]       `json:"dosage_amount,omitzero"`
	DosageUnit   patch.Field[string]        `json:"dosage_unit,omitzero"`
	Frequency    patch.Field[string]        `json:"frequency,omitzero"`
	Route        patch.Field[string]        `json:"route,omitzero"`
	PrescribedBy patch.Field[string]        `json:"prescribed_by,omitzero"`
	Status       patch.Field[HistoryStatus] `json:"status,omitzero"`
}

type HistoryDiscontinuedPayload struct {
	Reason  string `json:"reason"`
	EndDate string `json:"end_date,omitempty"`
}

type DosageStatus string

const (
	DosageScheduled    DosageStatus = "scheduled"
	DosageAdministered DosageStatus = "administered"
	DosageSkipped      DosageStatus = "skipped"
	DosageRefused      DosageStatus = "refused"
	DosageMissed       DosageStatus = "missed"
)

type Dosage struct {
	ID             uuid.UUID             `json:"id"`
	OrganizationID domain.OrganizationID `json:"organization_id"`
	HistoryID      uuid.UUID             `json:"history_id"`
	ClientID       uuid.UUID             `json:"client_id"`
	ScheduledAt    time.Time             `json:"scheduled_at"`
	Status         DosageStatus          `json:"status"`
	DoseAmount     float64               `json:"dose_amount"`
	DoseUnit       string                `json:"dose_unit"`
	AdministeredAt *time.Time            `json:"administered_at,omitempty"`
	AdministeredBy string                `json:"administered_by,omitempty"`
	SkipReason     string                `json:"skip_reason,omitempty"`
	RefusalReason  string                `json:"refusal_reason,omitempty"`
	Notes          string                `json:"notes,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

type DosageScheduledPayload struct {
	HistoryID   uuid.UUID `json:"history_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	DoseAmount  float64   `json:"dose_amount,omitempty"`
	DoseUnit    string    `json:"dose_unit,omitempty"`
}

type DosageAdministeredPayload struct {
	AdministeredAt time.Time `json:"administered_at"`
	DoseAmount     *float64  `json:"dose_amount,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

type DosageReasonPayload struct {
	Reason string `json:"reason"`
}

type DosageUpdatedPayload struct {
	ScheduledAt patch.Field[time.Time]    `json:"scheduled_at,omitzero"`
	Status      patch.Field[DosageStatus] `json:"status,omitzero"`
	Notes       patch.Field[string]       `json:"notes,omitzero"`
}
