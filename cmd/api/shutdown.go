package main

import (
	"context"
	"log/slog"
	"time"
)

// workerStopper is the part of the river client used at shutdown.
type workerStopper interface {
	Stop(ctx context.Context) error
	StopAndCancel(ctx context.Context) error
}

// stopWorkers lets running jobs finish for up to grace, then cancels the
// rest. A cancelled generation fails through its abort path, which refunds
// the reservation on a detached context, so cancelGrace only has to cover
// that settlement.
func stopWorkers(w workerStopper, grace, cancelGrace time.Duration, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := w.Stop(ctx)
	if err == nil {
		return nil
	}
	log.Warn("jobs still running after grace period, cancelling", "grace", grace, "error", err)

	cctx, ccancel := context.WithTimeout(context.Background(), cancelGrace)
	defer ccancel()
	return w.StopAndCancel(cctx)
}
