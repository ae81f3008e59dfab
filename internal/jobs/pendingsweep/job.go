// Package pendingsweep runs the scheduled auto-resolution of expired
// cross-lane pending connections.
package pendingsweep

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type resolver interface {
	AutoResolve(ctx context.Context, batchSize int) (int, error)
}

type Job struct {
	resolver  resolver
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func New(res resolver, interval time.Duration, batchSize int, logger *zap.Logger) *Job {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		resolver:  res,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run ticks until the context is cancelled. Each tick drains full batches
// until one comes back short, so a backlog built up while the process was
// down clears on the first tick.
func (j *Job) Run(ctx context.Context) {
	if j.resolver == nil {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Job) sweep(ctx context.Context) {
	for {
		resolved, err := j.resolver.AutoResolve(ctx, j.batchSize)
		if err != nil {
			j.logger.Error("pending sweep failed", zap.Error(err))
			return
		}
		if resolved < j.batchSize {
			return
		}
	}
}
