package service

import (
	"context"
	"time"

	"codejudge/internal/common/mq"
	appErr "codejudge/pkg/errors"
)

const defaultSlotWait = 2 * time.Second

// workerPool caps the number of judge tasks running at once.
// Callers that cannot get a slot within wait are rejected as JudgeQueueFull.
type workerPool struct {
	slots *mq.TokenLimiter
	wait  time.Duration
}

func newWorkerPool(size int, wait time.Duration) *workerPool {
	if wait <= 0 {
		wait = defaultSlotWait
	}
	return &workerPool{slots: mq.NewTokenLimiter(size), wait: wait}
}

func (p *workerPool) acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.wait)
	defer cancel()
	if err := p.slots.Acquire(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
	return nil
}

func (p *workerPool) release() {
	p.slots.Release()
}

func (p *workerPool) inUse() int {
	return p.slots.InUse()
}
