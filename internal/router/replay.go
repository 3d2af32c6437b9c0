package router

import (
	"context"
	"fmt"

	"carebase/internal/eventstore"
)

const replayBatch = 500

type sequenceReader interface {
	ListBySequenceRange(ctx context.Context, fromSeq, toSeq int64) ([]eventstore.Event, error)
}

// Replay re-applies processed events in [fromSeq, toSeq] to their projectors,
// rebuilding read models from the ledger. Status fields are not touched and
// follow-ups are dropped: the facts they would produce are already in the ledger.
func (r *Router) Replay(ctx context.Context, events sequenceReader, fromSeq, toSeq int64) (int, error) {
	applied := 0
	for lo := fromSeq; lo <= toSeq; lo += replayBatch {
		hi := min(lo+replayBatch-1, toSeq)
		batch, err := events.ListBySequenceRange(ctx, lo, hi)
		if err != nil {
			return applied, fmt.Errorf("read events %d-%d: %w", lo, hi, err)
		}
		for _, evt := range batch {
			if !evt.Processed() {
				continue
			}
			p, ok := r.registry.Lookup(evt.StreamType)
			if !ok {
				continue
			}
			if err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
				return safeApply(ctx, p, evt, discard{})
			}); err != nil {
				return applied, fmt.Errorf("replay event %d (%s): %w", evt.Sequence, evt.EventType, err)
			}
			applied++
		}
		if hi == toSeq {
			break
		}
	}
	return applied, nil
}
