package bus

import "context"

// Flusher makes buffered items visible to their consumer.
type Flusher interface {
	FlushSends() error
}

// SendQueue is the producer facet of a batched queue.
// Send buffers locally; items become visible to the consumer when the buffer is flushed,
// either explicitly or once the configured batch size is reached.
type SendQueue[T any] interface {
	Flusher
	Send(item T) error
	SendAndFlush(item T) error
	SendBatch(items []T) error
	Size() int
}

// ReceiveQueue is the pull facet of a batched queue. It must be used from one goroutine only.
type ReceiveQueue[T any] interface {
	// Poll returns the next visible item without waiting.
	Poll() (T, bool)
	// PollWait waits at most the queue poll wait for the next item.
	PollWait(ctx context.Context) (T, bool)
	// Take blocks until an item is visible, ctx is done, or the queue stops.
	Take(ctx context.Context) (T, error)
	// ReadBatch returns the next visible batch without waiting, or nil.
	ReadBatch() []T
}

// ReceiveQueueListener is driven by a queue's single consumer goroutine.
type ReceiveQueueListener[T any] interface {
	// Receive is called for every delivered item, in batch order.
	Receive(item T)
	// Empty is called whenever a poll finds nothing.
	Empty()
	// Limit is called after a batch of at least the configured batch size was delivered.
	Limit()
	// Idle is called after repeated empty polls.
	Idle()
	// Shutdown is called once when the consumer loop exits.
	Shutdown()
}

// ListenerFuncs adapts optional functions to a ReceiveQueueListener. Nil fields are no-ops.
type ListenerFuncs[T any] struct {
	OnReceive  func(item T)
	OnEmpty    func()
	OnLimit    func()
	OnIdle     func()
	OnShutdown func()
}

func (l ListenerFuncs[T]) Receive(item T) {
	if l.OnReceive != nil {
		l.OnReceive(item)
	}
}

func (l ListenerFuncs[T]) Empty() {
	if l.OnEmpty != nil {
		l.OnEmpty()
	}
}

func (l ListenerFuncs[T]) Limit() {
	if l.OnLimit != nil {
		l.OnLimit()
	}
}

func (l ListenerFuncs[T]) Idle() {
	if l.OnIdle != nil {
		l.OnIdle()
	}
}

func (l ListenerFuncs[T]) Shutdown() {
	if l.OnShutdown != nil {
		l.OnShutdown()
	}
}
