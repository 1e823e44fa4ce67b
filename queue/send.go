package queue

import (
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// SendQueue is a producer facet. Items stay in its private buffer until flushed.
// It is safe for concurrent use; batches it hands off keep send order.
type SendQueue[T any] struct {
	q *Queue[T]

	mu  sync.Mutex
	buf []T
}

var _ cbus.SendQueue[int] = (*SendQueue[int])(nil)

// Send buffers item and flushes once the batch size is reached.
func (s *SendQueue[T]) Send(item T) error {
	if s.q.stopped.Load() {
		return fmt.Errorf("send %s: %w", s.q.name, berr.ErrQueueStopped)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, item)
	s.q.sent.Add(1)

	if len(s.buf) >= s.q.cfg.BatchSize {
		return s.flushLocked()
	}

	return nil
}

// SendAndFlush buffers item and flushes immediately.
func (s *SendQueue[T]) SendAndFlush(item T) error {
	if s.q.stopped.Load() {
		return fmt.Errorf("send %s: %w", s.q.name, berr.ErrQueueStopped)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, item)
	s.q.sent.Add(1)

	return s.flushLocked()
}

// SendBatch buffers items in order, flushing every time the batch size is reached.
func (s *SendQueue[T]) SendBatch(items []T) error {
	if s.q.stopped.Load() {
		return fmt.Errorf("send %s: %w", s.q.name, berr.ErrQueueStopped)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.buf = append(s.buf, item)
		s.q.sent.Add(1)

		if len(s.buf) >= s.q.cfg.BatchSize {
			if err := s.flushLocked(); err != nil {
				return err
			}
		}
	}

	return nil
}

// FlushSends hands the buffered items off to the consumer as one batch.
func (s *SendQueue[T]) FlushSends() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked()
}

// Size returns the number of buffered, not yet flushed items.
func (s *SendQueue[T]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buf)
}

func (s *SendQueue[T]) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}

	batch := s.buf
	s.buf = make([]T, 0, s.q.cfg.BatchSize)

	return s.q.put(batch)
}
