package eventstore

import (
	"context"
	"errors"

	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/sentinel"
)

// DefaultAppendAttempts bounds AppendNext's conflict retries.
const DefaultAppendAttempts = 5

// AppendNext appends ev at the stream's next version, re-reading the version
// and retrying when a concurrent writer wins the race. ev.StreamVersion is
// ignored. After attempts conflicts the last conflict is returned.
func AppendNext(ctx context.Context, store Store, ev NewEvent, attempts int) (Event, error) {
	if attempts <= 0 {
		attempts = DefaultAppendAttempts
	}
	var lastErr error
	for range attempts {
		current, err := store.StreamVersion(ctx, ev.StreamID, ev.StreamType)
		if err != nil {
			return Event{}, err
		}
		ev.StreamVersion = current + 1
		appended, err := store.Append(ctx, ev)
		if err == nil {
			return appended, nil
		}
		if !IsConflict(err) {
			return Event{}, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}
	}
	return Event{}, lastErr
}

// IsConflict reports whether err is a stream version collision.
func IsConflict(err error) bool {
	return errors.Is(err, sentinel.ErrConflict) || dErrors.HasCode(err, dErrors.CodeConcurrencyConflict)
}
