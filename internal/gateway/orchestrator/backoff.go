package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/failure"
)

// retryBackOff steps linearly (base, 2*base, ...) after throttling and
// quota failures and waits a flat base after any other retryable failure.
// The step counter advances on every failure so it tracks the attempt.
type retryBackOff struct {
	base time.Duration
	n    int
	last failure.Kind
}

var _ backoff.BackOff = (*retryBackOff)(nil)

func newRetryBackOff(base time.Duration) *retryBackOff {
	return &retryBackOff{base: base}
}

// observe records the failure the next delay is chosen for
func (b *retryBackOff) observe(kind failure.Kind) { b.last = kind }

func (b *retryBackOff) NextBackOff() time.Duration {
	b.n++
	switch b.last {
	case failure.TransientRateLimit, failure.PermanentQuota:
		return b.base * time.Duration(b.n)
	}
	return b.base
}

func (b *retryBackOff) Reset() {
	b.n = 0
	b.last = failure.Unclassified
}

// sleepTimer adapts a SleepFunc to backoff.Timer. Start blocks for the
// delay and fires only if the sleep was not interrupted.
type sleepTimer struct {
	ctx   context.Context
	sleep SleepFunc
	c     chan time.Time
}

var _ backoff.Timer = (*sleepTimer)(nil)

func newSleepTimer(ctx context.Context, sleep SleepFunc) *sleepTimer {
	return &sleepTimer{ctx: ctx, sleep: sleep, c: make(chan time.Time, 1)}
}

func (t *sleepTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		return
	}
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *sleepTimer) Stop() {
	select {
	case <-t.c:
	default:
	}
}

func (t *sleepTimer) C() <-chan time.Time { return t.c }
