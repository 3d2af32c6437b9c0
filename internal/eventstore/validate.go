package eventstore

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/google/uuid"

	dErrors "carebase/pkg/domain-errors"
)

var (
	eventTypePattern  = regexp.MustCompile(`^[a-z_]+(\.[a-z_]+)+$`)
	streamTypePattern = regexp.MustCompile(`^[a-z_]+$`)
)

// ValidEventType reports whether t is a dotted lowercase event name.
func ValidEventType(t EventType) bool {
	return eventTypePattern.MatchString(string(t))
}

// ValidStreamType reports whether t is a lowercase stream type name.
func ValidStreamType(t StreamType) bool {
	return streamTypePattern.MatchString(string(t))
}

// ValidateNew checks the format rules every appended event must satisfy.
func ValidateNew(ev NewEvent) error {
	if ev.StreamID == uuid.Nil {
		return dErrors.New(dErrors.CodeValidation, "stream_id is required")
	}
	if !ValidStreamType(ev.StreamType) {
		return dErrors.Newf(dErrors.CodeValidation, "invalid stream_type %q", ev.StreamType)
	}
	if ev.StreamVersion < 1 {
		return dErrors.Newf(dErrors.CodeValidation, "stream_version must be >= 1, got %d", ev.StreamVersion)
	}
	if !ValidEventType(ev.EventType) {
		return dErrors.Newf(dErrors.CodeValidation, "invalid event_type %q", ev.EventType)
	}
	if err := validatePayload(ev.Payload); err != nil {
		return err
	}
	return nil
}

func validatePayload(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return dErrors.New(dErrors.CodeValidation, "payload is required")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return dErrors.New(dErrors.CodeValidation, "payload must be a JSON object")
	}
	if len(fields) == 0 {
		return dErrors.New(dErrors.CodeValidation, "payload must not be empty")
	}
	return nil
}
