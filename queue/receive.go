package queue

import (
	"context"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// ReceiveQueue is the pull facet of a Queue. It keeps the current batch between calls,
// so it must be used from a single goroutine.
type ReceiveQueue[T any] struct {
	q   *Queue[T]
	cur []T
}

var _ cbus.ReceiveQueue[int] = (*ReceiveQueue[int])(nil)

// Poll returns the next item without waiting.
func (r *ReceiveQueue[T]) Poll() (T, bool) {
	if len(r.cur) == 0 {
		b, ok := r.q.take()
		if !ok {
			var zero T
			return zero, false
		}

		r.cur = b
	}

	item := r.cur[0]
	r.cur = r.cur[1:]

	return item, true
}

// PollWait waits up to the configured poll wait for the next item.
func (r *ReceiveQueue[T]) PollWait(ctx context.Context) (T, bool) {
	if item, ok := r.Poll(); ok {
		return item, true
	}

	t := time.NewTimer(r.q.cfg.PollWait)
	defer t.Stop()

	select {
	case <-r.q.ready:
	case <-t.C:
	case <-ctx.Done():
	}

	return r.Poll()
}

// Take blocks until an item is visible, ctx is done, or the queue is stopped and drained.
func (r *ReceiveQueue[T]) Take(ctx context.Context) (T, error) {
	for {
		stopped := r.q.stopped.Load()

		if item, ok := r.Poll(); ok {
			return item, nil
		}

		var zero T

		if stopped {
			return zero, fmt.Errorf("take %s: %w", r.q.name, berr.ErrQueueStopped)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-r.q.stop:
		case <-r.q.ready:
		}
	}
}

// ReadBatch returns the rest of the current batch, or the next batch, without waiting.
func (r *ReceiveQueue[T]) ReadBatch() []T {
	if len(r.cur) > 0 {
		b := r.cur
		r.cur = nil

		return b
	}

	b, _ := r.q.take()

	return b
}
