package ledger

import (
	"context"
	"log/slog"
	"time"
)

type WorkerDeps struct {
	Ledger   *Ledger
	Logger   *slog.Logger
	Interval time.Duration
	Batch    int
}

// Worker periodically drains deferred follow-ups and republishes committed
// events the bus never accepted.
type Worker struct {
	ledger   *Ledger
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

func NewWorker(deps WorkerDeps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	batch := deps.Batch
	if batch <= 0 {
		batch = 50
	}
	return &Worker{ledger: deps.Ledger, logger: l, interval: interval, batch: batch}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce drains until a batch comes back short, then republishes the
// outbox the same way.
func (w *Worker) ProcessOnce(ctx context.Context) {
	w.drain(ctx)
	w.republish(ctx)
}

func (w *Worker) drain(ctx context.Context) {
	for {
		n, err := w.ledger.DrainPending(ctx, w.batch)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "drain deferred follow-ups failed", "error", err)
			}
			return
		}
		if n > 0 {
			w.logger.InfoContext(ctx, "deferred follow-ups appended", "count", n)
		}
		if n < w.batch {
			return
		}
	}
}

func (w *Worker) republish(ctx context.Context) {
	for {
		n, err := w.ledger.RepublishPending(ctx, w.batch)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "republish committed events failed", "error", err)
			}
			return
		}
		if n > 0 {
			w.logger.InfoContext(ctx, "committed events republished", "count", n)
		}
		if n < w.batch {
			return
		}
	}
}
