package organization

import (
	"encoding/json"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
)

func (s *ProjectorSuite) snapshot() string {
	records, err := s.audit.ListRecent(s.ctx, 0)
	s.Require().NoError(err)
	s.store.mu.RLock()
	raw, err := json.Marshal(map[string]any{"organizations": s.store.orgs, "audit": records})
	s.store.mu.RUnlock()
	s.Require().NoError(err)
	return string(raw)
}

func (s *ProjectorSuite) TestRedeliveredEventsLeaveStateUnchanged() {
	parent, child := uuid.New(), uuid.New()
	saga := map[string]any{"note": "saga step"}

	steps := []struct {
		stream    uuid.UUID
		eventType eventstore.EventType
		payload   any
	}{
		{parent, EventCreated, CreatedPayload{Name: "Acme", Type: TypeProvider, Path: "root.acme"}},
		{child, EventCreated, CreatedPayload{Name: "North", Type: TypeProvider, Path: "root.acme.north", ParentPath: ptr("root.acme")}},
		{parent, EventUpdated, map[string]any{"display_name": "Acme Care", "timezone": "UTC"}},
		{parent, EventDeactivated, StatusPayload{Reason: "billing"}},
		{parent, EventReactivated, StatusPayload{Reason: "paid"}},
		{parent, EventBootstrapInitiated, saga},
		{parent, EventBootstrapExternalCreated, saga},
		{parent, EventBootstrapCompleted, saga},
		{parent, EventBootstrapFailed, saga},
		{parent, EventBootstrapCancelled, saga},
		{parent, EventBootstrapCleanupRequested, saga},
		{parent, EventDeleted, DeletedPayload{Reason: "closed", Cascade: true}},
	}

	covered := map[eventstore.EventType]bool{}
	for _, st := range steps {
		evt := s.event(st.stream, st.eventType, st.payload)
		_, err := s.apply(evt)
		s.Require().NoError(err, "first delivery of %s", st.eventType)
		before := s.snapshot()

		followUps, err := s.apply(evt)
		s.Require().NoError(err, "redelivery of %s", st.eventType)
		s.Empty(followUps, "redelivery of %s emitted follow-ups", st.eventType)
		s.Equal(before, s.snapshot(), "redelivery of %s changed state", st.eventType)
		covered[st.eventType] = true
	}

	for _, et := range s.projector.EventTypes() {
		s.True(covered[et], "%s has no redelivery case", et)
	}
}
