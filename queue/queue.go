package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Defaults used when a Config field is zero.
const (
	DefaultBatchSize = 50
	DefaultPollWait  = 5 * time.Millisecond
	DefaultIdleAfter = 20
)

// Config controls batching and consumer polling.
type Config struct {
	// BatchSize is the number of buffered items that forces a flush.
	BatchSize int
	// PollWait is how long the consumer waits for a batch before reporting an empty poll.
	PollWait time.Duration
	// IdleAfter is the number of consecutive empty polls reported before Idle.
	IdleAfter int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize, PollWait: DefaultPollWait, IdleAfter: DefaultIdleAfter}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.PollWait <= 0 {
		c.PollWait = DefaultPollWait
	}

	if c.IdleAfter <= 0 {
		c.IdleAfter = DefaultIdleAfter
	}

	return c
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Sent      uint64 // items accepted by producers
	Batches   uint64 // batches handed off to the consumer
	Delivered uint64 // items handed to the consumer
}

// Queue is a batched queue with one consumer.
type Queue[T any] struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	batches [][]T

	ready     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	stopped   atomic.Bool
	listening atomic.Bool
	stopOnce  sync.Once

	sent      atomic.Uint64
	handed    atomic.Uint64
	delivered atomic.Uint64
}

// New creates a queue. A nil logger discards output.
func New[T any](name string, cfg Config, logger *slog.Logger) *Queue[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Queue[T]{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.With("queue", name),
		ready:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

// Config returns the effective configuration.
func (q *Queue[T]) Config() Config { return q.cfg }

// SendQueue returns a new producer with its own buffer.
func (q *Queue[T]) SendQueue() *SendQueue[T] {
	return &SendQueue[T]{q: q, buf: make([]T, 0, q.cfg.BatchSize)}
}

// ReceiveQueue returns the pull facet. Do not mix it with a running listener.
func (q *Queue[T]) ReceiveQueue() *ReceiveQueue[T] { return &ReceiveQueue[T]{q: q} }

// Stopped reports whether Stop was called.
func (q *Queue[T]) Stopped() bool { return q.stopped.Load() }

// Stats returns a snapshot of the counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{Sent: q.sent.Load(), Batches: q.handed.Load(), Delivered: q.delivered.Load()}
}

// StartListener starts the consumer goroutine driving l.
func (q *Queue[T]) StartListener(l cbus.ReceiveQueueListener[T]) error {
	if q.stopped.Load() {
		return fmt.Errorf("start listener %s: %w", q.name, berr.ErrQueueStopped)
	}

	if !q.listening.CompareAndSwap(false, true) {
		return fmt.Errorf("start listener %s: %w", q.name, berr.ErrListenerRunning)
	}

	go q.run(l)

	return nil
}

// Stop rejects further sends, lets the listener drain what was already handed off and waits for it.
// Calling Stop from the listener goroutine itself deadlocks.
func (q *Queue[T]) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped.Store(true)
		q.mu.Unlock()
		close(q.stop)
	})

	if q.listening.Load() {
		<-q.done
	}
}

// put hands a batch off to the consumer.
func (q *Queue[T]) put(batch []T) error {
	if len(batch) == 0 {
		return nil
	}

	q.mu.Lock()
	if q.stopped.Load() {
		q.mu.Unlock()
		return fmt.Errorf("send %s: %w", q.name, berr.ErrQueueStopped)
	}

	q.batches = append(q.batches, batch)
	q.mu.Unlock()

	q.handed.Add(1)

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return nil
}

// take pops the oldest batch.
func (q *Queue[T]) take() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return nil, false
	}

	b := q.batches[0]
	q.batches[0] = nil
	q.batches = q.batches[1:]
	q.delivered.Add(uint64(len(b)))

	return b, true
}

func (q *Queue[T]) run(l cbus.ReceiveQueueListener[T]) {
	defer close(q.done)

	timer := time.NewTimer(q.cfg.PollWait)
	defer timer.Stop()

	empties := 0

	for {
		select {
		case <-q.stop:
			q.drain(l)
			return
		default:
		}

		if batch, ok := q.take(); ok {
			empties = 0

			for _, item := range batch {
				l.Receive(item)
			}

			if len(batch) >= q.cfg.BatchSize {
				l.Limit()
			}

			continue
		}

		l.Empty()

		empties++
		if empties >= q.cfg.IdleAfter {
			l.Idle()

			empties = 0
		}

		timer.Reset(q.cfg.PollWait)
		select {
		case <-q.stop:
		case <-q.ready:
		case <-timer.C:
		}
	}
}

func (q *Queue[T]) drain(l cbus.ReceiveQueueListener[T]) {
	n := 0

	for {
		batch, ok := q.take()
		if !ok {
			break
		}

		for _, item := range batch {
			l.Receive(item)
		}

		n += len(batch)
	}

	q.logger.Debug("queue stopped", "drained", n)
	l.Shutdown()
}
