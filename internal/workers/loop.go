package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/treyvum/smsgate/internal/logging"
)

// WorkerFunc is one batch of periodic work. It returns the number of items
// processed and any critical error.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

// runTimeout bounds a single batch so a stuck store call cannot wedge the
// loop.
const runTimeout = time.Minute

// runWorkerLoop invokes fn every interval until ctx is cancelled.
func runWorkerLoop(ctx context.Context, name string, interval time.Duration, batchSize int, fn WorkerFunc) {
	logCtx := logging.ContextWithWorkerID(ctx, name)
	slog.InfoContext(logCtx, "worker starting",
		slog.Duration("interval", interval), slog.Int("batch_size", batchSize))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(logCtx, "worker stopping")
			return
		case <-ticker.C:
			runWork(logCtx, batchSize, fn)
		}
	}
}

func runWork(ctx context.Context, batchSize int, fn WorkerFunc) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	processed, err := fn(runCtx, batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "worker run failed", slog.Any("error", err))
		return
	}
	if processed > 0 {
		slog.InfoContext(ctx, "worker run finished", slog.Int("processed", processed))
	}
}
