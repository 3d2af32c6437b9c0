package admin

import (
	"carebase/internal/bootstrap"
	"carebase/internal/eventstore"
	"carebase/internal/ledger"
)

type EventsResponse struct {
	Events []eventstore.Event `json:"events"`
	Total  int                `json:"total"`
}

type StatsResponse struct {
	StreamTypes []eventstore.StreamTypeStats `json:"stream_types"`
}

type FollowUpsResponse struct {
	FollowUps []ledger.PendingFollowUp `json:"follow_ups"`
	Total     int                      `json:"total"`
}

type BootstrapsResponse struct {
	Bootstraps []bootstrap.Status `json:"bootstraps"`
	Total      int                `json:"total"`
}

// InitiateBootstrapRequest is the body of POST /admin/bootstrap.
type InitiateBootstrapRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	Slug        string `json:"slug"`
	Timezone    string `json:"timezone"`
	ParentPath  string `json:"parent_path"`
	AdminEmail  string `json:"admin_email"`
	AdminName   string `json:"admin_name"`
}

type InitiateBootstrapResponse struct {
	CorrelationID  string `json:"correlation_id"`
	OrganizationID string `json:"organization_id"`
	EventID        string `json:"event_id"`
}

type CancelBootstrapRequest struct {
	Reason string `json:"reason"`
}
