package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
	"github.com/next-trace/scg-call-bus/queue"
)

// DefaultSendTimeout bounds one flush of a RemoteEndpoint.
const DefaultSendTimeout = 5 * time.Second

// RemoteEndpoint buffers calls for one remote address and sends each flushed batch as one
// encoded payload through a Sender.
type RemoteEndpoint struct {
	encoder cbus.ProtocolEncoder
	address string
	sender  cbus.Sender
	before  cbus.BeforeMethodCall

	batchSize   int
	sendTimeout time.Duration
	logger      *slog.Logger

	mu  sync.Mutex
	buf []cbus.MethodCall
}

var _ cbus.SendQueue[cbus.MethodCall] = (*RemoteEndpoint)(nil)

// EndpointOption configures a RemoteEndpoint.
type EndpointOption func(*RemoteEndpoint)

// WithEndpointBatchSize sets the number of buffered calls that forces a send.
func WithEndpointBatchSize(n int) EndpointOption {
	return func(e *RemoteEndpoint) { e.batchSize = n }
}

// WithEndpointSendTimeout bounds every Sender call.
func WithEndpointSendTimeout(d time.Duration) EndpointOption {
	return func(e *RemoteEndpoint) { e.sendTimeout = d }
}

// WithEndpointLogger sets the logger.
func WithEndpointLogger(l *slog.Logger) EndpointOption {
	return func(e *RemoteEndpoint) { e.logger = l }
}

// NewRemoteEndpoint returns an endpoint for address. A nil before hook allows every call.
func NewRemoteEndpoint(
	encoder cbus.ProtocolEncoder,
	address string,
	sender cbus.Sender,
	before cbus.BeforeMethodCall,
	opts ...EndpointOption,
) *RemoteEndpoint {
	e := &RemoteEndpoint{
		encoder:     encoder,
		address:     address,
		sender:      sender,
		before:      before,
		batchSize:   queue.DefaultBatchSize,
		sendTimeout: DefaultSendTimeout,
	}

	for _, o := range opts {
		o(e)
	}

	if e.before == nil {
		e.before = cbus.NopBeforeMethodCall{}
	}

	if e.batchSize <= 0 {
		e.batchSize = queue.DefaultBatchSize
	}

	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}

	e.logger = e.logger.With("endpoint", address)

	return e
}

// Address returns the remote address.
func (e *RemoteEndpoint) Address() string { return e.address }

// Send buffers call and sends the batch once it is full. Vetoed calls are dropped with ErrVetoed.
func (e *RemoteEndpoint) Send(call cbus.MethodCall) error {
	if !e.before.Before(call) {
		e.logger.Info("call vetoed", "address", call.Address, "id", call.ID)
		return fmt.Errorf("send %s: %w", e.address, berr.ErrVetoed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf = append(e.buf, call)
	if len(e.buf) >= e.batchSize {
		return e.flushLocked()
	}

	return nil
}

// SendAndFlush buffers call and sends the batch.
func (e *RemoteEndpoint) SendAndFlush(call cbus.MethodCall) error {
	if err := e.Send(call); err != nil {
		return err
	}

	return e.FlushSends()
}

// SendBatch buffers calls in order. Vetoed calls are skipped and reported together.
func (e *RemoteEndpoint) SendBatch(calls []cbus.MethodCall) error {
	var errs []error

	for _, c := range calls {
		if err := e.Send(c); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// FlushSends encodes the buffered calls and sends them as one payload.
func (e *RemoteEndpoint) FlushSends() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.flushLocked()
}

// Size returns the number of buffered calls.
func (e *RemoteEndpoint) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.buf)
}

func (e *RemoteEndpoint) flushLocked() error {
	if len(e.buf) == 0 {
		return nil
	}

	batch := e.buf
	e.buf = nil

	payload, err := e.encoder.EncodeMethodCalls(batch)
	if err != nil {
		return fmt.Errorf("encode %d calls for %s: %w", len(batch), e.address, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
	defer cancel()

	if err := e.sender.Send(ctx, e.address, payload); err != nil {
		e.logger.Warn("send failed", "calls", len(batch), "err", err)
		return fmt.Errorf("send %s: %w", e.address, errors.Join(berr.ErrSendFailed, err))
	}

	return nil
}
