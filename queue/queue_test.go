package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
	"github.com/next-trace/scg-call-bus/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(2 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func TestSend_NotVisibleUntilFlush(t *testing.T) {
	q := queue.New[int]("t", queue.Config{BatchSize: 10}, nil)
	defer q.Stop()

	sq := q.SendQueue()
	rq := q.ReceiveQueue()

	for i := 0; i < 3; i++ {
		if err := sq.Send(i); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	if _, ok := rq.Poll(); ok {
		t.Fatalf("item visible before flush")
	}

	if sq.Size() != 3 {
		t.Fatalf("size=%d", sq.Size())
	}

	if err := sq.FlushSends(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got := rq.ReadBatch()
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("batch=%v", got)
	}
}

func TestSend_FlushesAtBatchSize(t *testing.T) {
	q := queue.New[int]("t", queue.Config{BatchSize: 5}, nil)
	defer q.Stop()

	sq := q.SendQueue()
	rq := q.ReceiveQueue()

	for i := 0; i < 5; i++ {
		_ = sq.Send(i)
	}

	got := rq.ReadBatch()
	if len(got) != 5 {
		t.Fatalf("want one batch of 5 without flush, got %v", got)
	}

	if sq.Size() != 0 {
		t.Fatalf("buffer not reset: %d", sq.Size())
	}

	if st := q.Stats(); st.Sent != 5 || st.Batches != 1 || st.Delivered != 5 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSendBatch_SplitsAtBatchSize(t *testing.T) {
	q := queue.New[int]("t", queue.Config{BatchSize: 4}, nil)
	defer q.Stop()

	sq := q.SendQueue()
	rq := q.ReceiveQueue()

	if err := sq.SendBatch([]int{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("send batch: %v", err)
	}

	if b := rq.ReadBatch(); len(b) != 4 {
		t.Fatalf("first batch=%v", b)
	}

	if b := rq.ReadBatch(); b != nil {
		t.Fatalf("remainder should still be buffered, got %v", b)
	}

	_ = sq.FlushSends()

	if b := rq.ReadBatch(); len(b) != 2 || b[0] != 5 {
		t.Fatalf("second batch=%v", b)
	}
}

func TestSingleProducerOrder(t *testing.T) {
	q := queue.New[int]("t", queue.Config{BatchSize: 7}, nil)
	defer q.Stop()

	sq := q.SendQueue()
	rq := q.ReceiveQueue()

	for i := 0; i < 100; i++ {
		_ = sq.Send(i)
	}

	_ = sq.FlushSends()

	for want := 0; want < 100; want++ {
		got, ok := rq.Poll()
		if !ok || got != want {
			t.Fatalf("want %d got %d (ok=%v)", want, got, ok)
		}
	}
}

type recListener struct {
	mu       sync.Mutex
	items    []int
	empty    atomic.Int64
	idle     atomic.Int64
	limit    atomic.Int64
	shutdown atomic.Int64
}

func (l *recListener) Receive(item int) {
	l.mu.Lock()
	l.items = append(l.items, item)
	l.mu.Unlock()
}

func (l *recListener) Empty()    { l.empty.Add(1) }
func (l *recListener) Limit()    { l.limit.Add(1) }
func (l *recListener) Idle()     { l.idle.Add(1) }
func (l *recListener) Shutdown() { l.shutdown.Add(1) }

func (l *recListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.items)
}

func TestListener_Lifecycle(t *testing.T) {
	q := queue.New[int]("t", queue.Config{BatchSize: 3, PollWait: time.Millisecond, IdleAfter: 2}, nil)
	l := &recListener{}

	if err := q.StartListener(l); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := q.StartListener(l); !errors.Is(err, berr.ErrListenerRunning) {
		t.Fatalf("want ErrListenerRunning, got %v", err)
	}

	sq := q.SendQueue()
	for i := 0; i < 3; i++ {
		_ = sq.Send(i)
	}

	waitFor(t, "three items", func() bool { return l.count() == 3 })
	waitFor(t, "limit", func() bool { return l.limit.Load() >= 1 })
	waitFor(t, "empty polls", func() bool { return l.empty.Load() >= 2 })
	waitFor(t, "idle", func() bool { return l.idle.Load() >= 1 })

	q.Stop()

	if l.shutdown.Load() != 1 {
		t.Fatalf("shutdown calls=%d", l.shutdown.Load())
	}

	if err := sq.Send(9); !errors.Is(err, berr.ErrQueueStopped) {
		t.Fatalf("want ErrQueueStopped after stop, got %v", err)
	}

	// Stop is idempotent.
	q.Stop()
}

func TestStop_DrainsHandedOffBatches(t *testing.T) {
	q := queue.New[int]("t", queue.Config{BatchSize: 100, PollWait: time.Hour}, nil)
	sq := q.SendQueue()

	for i := 0; i < 10; i++ {
		_ = sq.Send(i)
	}

	_ = sq.FlushSends()

	l := &recListener{}
	blocked := make(chan struct{})
	release := make(chan struct{})

	// The first Receive parks the consumer so Stop races with pending items.
	first := true
	wrapped := cbus.ListenerFuncs[int]{
		OnReceive: func(item int) {
			if first {
				first = false
				close(blocked)
				<-release
			}
			l.Receive(item)
		},
		OnShutdown: l.Shutdown,
	}

	if err := q.StartListener(wrapped); err != nil {
		t.Fatalf("start: %v", err)
	}

	<-blocked

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()

	close(release)
	<-done

	if l.count() != 10 {
		t.Fatalf("drained %d of 10", l.count())
	}

	if l.shutdown.Load() != 1 {
		t.Fatalf("shutdown calls=%d", l.shutdown.Load())
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := queue.New[int]("t", queue.Config{BatchSize: 16, PollWait: time.Millisecond}, nil)
	l := &recListener{}

	if err := q.StartListener(l); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sq := q.SendQueue()
			for i := 0; i < 250; i++ {
				_ = sq.Send(i)
			}

			_ = sq.FlushSends()
		}()
	}

	wg.Wait()
	waitFor(t, "all items", func() bool { return l.count() == 2000 })
	q.Stop()
}

func TestReceiveQueue_TakeAndContext(t *testing.T) {
	q := queue.New[string]("t", queue.Config{BatchSize: 2, PollWait: time.Millisecond}, nil)
	rq := q.ReceiveQueue()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	if _, err := rq.Take(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}

	go func() {
		_ = q.SendQueue().SendAndFlush("hello")
	}()

	got, err := rq.Take(t.Context())
	if err != nil || got != "hello" {
		t.Fatalf("take=%q err=%v", got, err)
	}

	if _, ok := rq.PollWait(t.Context()); ok {
		t.Fatalf("unexpected item")
	}

	q.Stop()

	if _, err := rq.Take(t.Context()); !errors.Is(err, berr.ErrQueueStopped) {
		t.Fatalf("want ErrQueueStopped, got %v", err)
	}

	if err := q.StartListener(cbus.ListenerFuncs[string]{}); !errors.Is(err, berr.ErrQueueStopped) {
		t.Fatalf("want ErrQueueStopped on start after stop, got %v", err)
	}
}
