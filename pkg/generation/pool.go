package generation

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of in-flight generation calls against the shared
// backing model. Bursting sessions wait up to AcquireWait for a slot and
// then degrade with ErrPoolBusy instead of piling onto the model.
type Pool struct {
	sem         *semaphore.Weighted
	acquireWait time.Duration
}

const (
	DefaultPoolLimit   = 8
	DefaultAcquireWait = 2 * time.Second
)

func NewPool(limit int, acquireWait time.Duration) *Pool {
	if limit <= 0 {
		limit = DefaultPoolLimit
	}
	if acquireWait <= 0 {
		acquireWait = DefaultAcquireWait
	}
	return &Pool{
		sem:         semaphore.NewWeighted(int64(limit)),
		acquireWait: acquireWait,
	}
}

func (p *Pool) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.acquireWait)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPoolBusy
	}
	return nil
}

func (p *Pool) Release() {
	p.sem.Release(1)
}
