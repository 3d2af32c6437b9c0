package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	dErrors "carebase/pkg/domain-errors"
)

type processedVersions interface {
	MaxProcessedVersion(ctx context.Context, streamID uuid.UUID, streamType eventstore.StreamType) (int, error)
}

// VersionValidator enforces gap-free per-stream application: an event may be
// applied only when its version is the highest processed version plus one.
// It neither buffers nor reorders.
type VersionValidator struct {
	store processedVersions
}

func NewVersionValidator(store processedVersions) *VersionValidator {
	return &VersionValidator{store: store}
}

func (v *VersionValidator) Check(ctx context.Context, evt eventstore.Event) error {
	processed, err := v.store.MaxProcessedVersion(ctx, evt.StreamID, evt.StreamType)
	if err != nil {
		return fmt.Errorf("read processed version: %w", err)
	}
	if want := processed + 1; evt.StreamVersion != want {
		return dErrors.Newf(dErrors.CodeSequence,
			"stream %s/%s expects version %d, got %d", evt.StreamType, evt.StreamID, want, evt.StreamVersion)
	}
	return nil
}
