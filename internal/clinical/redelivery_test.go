package clinical

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
)

func dumpDocuments[T any](docs Documents[T]) map[uuid.UUID]T {
	m := docs.(*InMemoryDocuments[T])
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]T, len(m.docs))
	for id, d := range m.docs {
		out[id] = d.doc
	}
	return out
}

// snapshot renders every clinical read model and the audit trail.
func (s *ClinicalSuite) snapshot() string {
	records, err := s.audit.ListRecent(s.ctx, 0)
	s.Require().NoError(err)
	raw, err := json.Marshal(map[string]any{
		"clients":     dumpDocuments(s.stores.Clients),
		"medications": dumpDocuments(s.stores.Medications),
		"histories":   dumpDocuments(s.stores.Histories),
		"dosages":     dumpDocuments(s.stores.Dosages),
		"audit":       records,
	})
	s.Require().NoError(err)
	return string(raw)
}

func (s *ClinicalSuite) TestRedeliveredEventsLeaveStateUnchanged() {
	clientID, medID, historyID := uuid.New(), uuid.New(), uuid.New()
	given, skipped, refused, pending := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	schedule := func(id uuid.UUID, offset time.Duration) step {
		return step{id, StreamDosage, EventDosageScheduled, DosageScheduledPayload{HistoryID: historyID, ScheduledAt: s.at.Add(offset)}}
	}

	steps := []step{
		{clientID, StreamClient, EventClientRegistered, ClientRegisteredPayload{
			OrganizationID: s.orgID, FirstName: "Ada", LastName: "Byron", DateOfBirth: "1990-12-10",
			Allergies: []string{"latex", " latex"},
		}},
		{clientID, StreamClient, EventClientUpdated, map[string]any{"phone": "555-0100", "allergies": []string{"latex", "sulfa"}}},
		{clientID, StreamClient, EventClientAdmitted, ClientAdmittedPayload{AdmissionDate: s.at.Add(-24 * time.Hour)}},
		{medID, StreamMedication, EventMedicationAdded, MedicationAddedPayload{
			OrganizationID: s.orgID, Name: "Sertraline", NDCCodes: []string{"0049-4900-50"},
		}},
		{medID, StreamMedication, EventMedicationUpdated, map[string]any{"category": "antidepressant"}},
		{historyID, StreamMedicationHistory, EventHistoryStarted, HistoryStartedPayload{
			ClientID: clientID, MedicationID: &medID, StartDate: "2026-05-01",
			DosageAmount: 50, DosageUnit: "mg", Frequency: "daily",
		}},
		{historyID, StreamMedicationHistory, EventHistoryUpdated, map[string]any{"frequency": "twice daily"}},
		schedule(given, time.Hour),
		{given, StreamDosage, EventDosageUpdated, map[string]any{
			"scheduled_at": s.at.Add(90 * time.Minute), "status": "missed", "notes": "off unit",
		}},
		{given, StreamDosage, EventDosageAdministered, DosageAdministeredPayload{AdministeredAt: s.at.Add(2 * time.Hour)}},
		schedule(skipped, 3*time.Hour),
		{skipped, StreamDosage, EventDosageSkipped, DosageReasonPayload{Reason: "sleeping"}},
		schedule(refused, 4*time.Hour),
		{refused, StreamDosage, EventDosageRefused, DosageReasonPayload{Reason: "nausea"}},
		schedule(pending, 5*time.Hour),
		{historyID, StreamMedicationHistory, EventHistoryDiscontinued, HistoryDiscontinuedPayload{Reason: "side effects"}},
		{medID, StreamMedication, EventMedicationDiscontinued, MedicationDiscontinuedPayload{Reason: "formulary change"}},
		{clientID, StreamClient, EventClientDischarged, ClientDischargedPayload{DischargeDate: s.at, Reason: "recovered"}},
		{clientID, StreamClient, EventClientArchived, ClientArchivedPayload{Reason: "closed"}},
	}

	covered := map[eventstore.EventType]bool{}
	for _, st := range steps {
		evt := s.event(st.stream, st.streamType, st.eventType, st.payload)
		_, err := s.applyEvent(evt)
		s.Require().NoError(err, "first delivery of %s", st.eventType)
		before := s.snapshot()

		_, err = s.applyEvent(evt)
		s.Require().NoError(err, "redelivery of %s", st.eventType)
		s.Equal(before, s.snapshot(), "redelivery of %s changed state", st.eventType)
		covered[st.eventType] = true
	}

	for _, p := range s.projectors {
		for _, et := range p.EventTypes() {
			s.True(covered[et], "%s has no redelivery case", et)
		}
	}
}

type step struct {
	stream     uuid.UUID
	streamType eventstore.StreamType
	eventType  eventstore.EventType
	payload    any
}
