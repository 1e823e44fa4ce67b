package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
	"github.com/next-trace/scg-call-bus/queue"
)

// Bundle routes calls to the services registered under one root address and correlates their
// responses with the callbacks of the callers.
//
// Calls enter through the bundle's own queue and are routed on its consumer goroutine. Responses
// from every service share one response queue with its own consumer. Bundle is safe for
// concurrent use and holds no global state.
type Bundle struct {
	address string
	cfg     Config
	logger  *slog.Logger
	factory cbus.ServiceFactory

	before         cbus.BeforeMethodCall
	afterTransform cbus.BeforeMethodCall
	transform      cbus.ArgTransformer

	methods   *queue.Queue[cbus.MethodCall]
	inbound   *queue.SendQueue[cbus.MethodCall]
	responses *queue.Queue[cbus.Response]
	// synthesized carries error responses produced by the routing consumer.
	synthesized *queue.SendQueue[cbus.Response]

	router     *router
	correlator *correlator

	// ids stamps calls that reach CallWithCallback without an id.
	ids func() int64

	mu       sync.RWMutex
	services []cbus.Service
	flushers []cbus.Flusher
	stopped  bool

	lastFlush time.Time // routing consumer only

	stopOnce sync.Once
	stopErr  error
}

var _ cbus.Bundle = (*Bundle)(nil)

// New creates a bundle rooted at address and starts its consumers. One trailing "/" is stripped
// from address. Without WithServiceFactory, services are built by a fresh Factory.
func New(address string, opts ...Option) *Bundle {
	b := &Bundle{
		address: strings.TrimSuffix(address, "/"),
		cfg:     DefaultConfig(),
		router:  newRouter(),
	}

	for _, o := range opts {
		o(b)
	}

	b.cfg = b.cfg.withDefaults()

	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}

	b.logger = b.logger.With("bundle", b.address)

	if b.factory == nil {
		b.factory = NewFactory(WithFactoryConfig(b.cfg), WithFactoryLogger(b.logger))
	}

	if seq, ok := b.factory.(interface{ NextID() int64 }); ok {
		b.ids = seq.NextID
	} else {
		var n atomic.Int64
		b.ids = func() int64 { return n.Add(1) }
	}

	if b.before == nil {
		b.before = cbus.NopBeforeMethodCall{}
	}

	if b.afterTransform == nil {
		b.afterTransform = cbus.NopBeforeMethodCall{}
	}

	qc := b.cfg.QueueConfig()
	b.methods = queue.New[cbus.MethodCall]("bundle:"+b.address, qc, b.logger)
	b.inbound = b.methods.SendQueue()
	b.responses = queue.New[cbus.Response]("responses:"+b.address, qc, b.logger)
	b.synthesized = b.responses.SendQueue()
	b.correlator = newCorrelator(b.cfg.CallbackTTL, b.cfg.SweepInterval, b.logger)

	// Both queues are fresh, so starting their listeners cannot fail.
	_ = b.responses.StartListener(cbus.ListenerFuncs[cbus.Response]{
		OnReceive: b.correlator.dispatch,
		OnEmpty:   b.correlator.sweep,
		OnIdle:    b.correlator.sweep,
	})
	_ = b.methods.StartListener(cbus.ListenerFuncs[cbus.MethodCall]{
		OnReceive:  b.doCall,
		OnEmpty:    b.autoFlush,
		OnLimit:    b.autoFlush,
		OnShutdown: b.flushAll,
	})

	return b
}

// Address returns the normalized root address.
func (b *Bundle) Address() string { return b.address }

// Config returns the effective configuration.
func (b *Bundle) Config() Config { return b.cfg }

// AddService wraps target into a service and registers its name and addresses.
// A name or address that is already registered is rejected with ErrServiceExists. After Stop it
// returns ErrQueueStopped.
func (b *Bundle) AddService(serviceAddress string, target any) error {
	if b.methods.Stopped() {
		return fmt.Errorf("add service %s: %w", serviceAddress, berr.ErrQueueStopped)
	}

	svc, err := b.factory.CreateService(b.address, serviceAddress, target, b.responses.SendQueue())
	if err != nil {
		return fmt.Errorf("add service %s: %w", serviceAddress, err)
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		_ = svc.Stop()

		return fmt.Errorf("add service %s: %w", svc.Name(), berr.ErrQueueStopped)
	}

	if err := b.router.add(svc.Name(), svc.Addresses(b.address), svc.Requests()); err != nil {
		b.mu.Unlock()
		_ = svc.Stop()

		return fmt.Errorf("add service %s: %w", svc.Name(), err)
	}

	b.services = append(b.services, svc)
	b.mu.Unlock()

	b.logger.Debug("service added", "service", svc.Name(), "addresses", svc.Addresses(b.address))

	return nil
}

// AddRoute routes address, and every address it is a prefix of, to q. q is flushed with the
// service queues.
func (b *Bundle) AddRoute(address string, q cbus.SendQueue[cbus.MethodCall]) error {
	if err := b.router.add("", []string{address}, q); err != nil {
		return fmt.Errorf("add route: %w", err)
	}

	return nil
}

// AddSendQueue registers a producer that is not a service to be flushed on idle.
func (b *Bundle) AddSendQueue(f cbus.Flusher) {
	b.mu.Lock()
	b.flushers = append(b.flushers, f)
	b.mu.Unlock()
}

// Call enqueues call for routing.
func (b *Bundle) Call(ctx context.Context, call cbus.MethodCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.inbound.Send(call); err != nil {
		return fmt.Errorf("call %s: %w", callTarget(call), err)
	}

	return nil
}

// CallWithCallback registers cb under the call's key and enqueues the call. The callback is
// known before the call can be routed, so it cannot miss its response.
//
// A call without an id gets the next id of the bundle's factory. A call whose key is still
// waiting for a response is rejected with ErrDuplicateCall and nothing is enqueued.
func (b *Bundle) CallWithCallback(ctx context.Context, call cbus.MethodCall, cb cbus.Callback) error {
	if cb == nil {
		return b.Call(ctx, call)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if call.ID == 0 {
		call.ID = b.ids()
	}

	if err := b.correlator.register(call.Key(), cb); err != nil {
		return fmt.Errorf("call %s: %w", callTarget(call), err)
	}

	if err := b.inbound.Send(call); err != nil {
		b.correlator.remove(call.Key())
		return fmt.Errorf("call %s: %w", callTarget(call), err)
	}

	return nil
}

// FlushSends hands buffered calls to the routing consumer.
func (b *Bundle) FlushSends() error {
	return b.inbound.FlushSends()
}

// EndPoints returns every registered name and address, sorted.
func (b *Bundle) EndPoints() []string { return b.router.keys() }

// Route reports the routing key call resolves to.
func (b *Bundle) Route(call cbus.MethodCall) (string, bool) {
	key, _, ok := b.router.resolve(call)

	return key, ok
}

// PendingCallbacks returns the number of callbacks waiting for a response.
func (b *Bundle) PendingCallbacks() int { return b.correlator.len() }

// DeliverResponse hands resp to the response consumer, as if a local service had produced it.
func (b *Bundle) DeliverResponse(resp cbus.Response) error {
	if err := b.responses.SendQueue().SendAndFlush(resp); err != nil {
		return fmt.Errorf("deliver response %d: %w", resp.ID, err)
	}

	return nil
}

// Stop stops routing, then every service in parallel, then the response consumer so the last
// responses still reach their callbacks. It is idempotent.
//
// Stop waits for the response consumer, which runs the callbacks. Calling it from inside a
// callback deadlocks; hand it to another goroutine instead.
func (b *Bundle) Stop() error {
	b.stopOnce.Do(func() {
		if err := b.inbound.FlushSends(); err != nil {
			b.logger.Warn("flush on stop", "err", err)
		}

		b.methods.Stop()

		b.mu.Lock()
		b.stopped = true
		services := slices.Clone(b.services)
		b.mu.Unlock()

		errs := make([]error, len(services))

		var g errgroup.Group
		for i, svc := range services {
			g.Go(func() error {
				if err := svc.Stop(); err != nil {
					errs[i] = fmt.Errorf("stop service %s: %w", svc.Name(), err)
				}

				return nil
			})
		}

		_ = g.Wait()

		b.flushFlushers()
		b.responses.Stop()

		b.stopErr = errors.Join(errs...)
		b.logger.Debug("bundle stopped", "pendingCallbacks", b.correlator.len())
	})

	return b.stopErr
}

// doCall runs the interceptor chain on call and sends it to its target. It runs on the routing
// consumer only.
func (b *Bundle) doCall(call cbus.MethodCall) {
	if !b.before.Before(call) {
		b.vetoed(call)
		return
	}

	if b.transform != nil {
		body, err := b.transform.Transform(call)
		if err != nil {
			b.fail(call, fmt.Errorf("transform %s: %w", callTarget(call), errors.Join(berr.ErrTransformFailed, err)))
			return
		}

		call = call.WithBody(body)
	}

	if !b.afterTransform.Before(call) {
		b.vetoed(call)
		return
	}

	_, q, ok := b.router.resolve(call)
	if !ok {
		err := fmt.Errorf("route %s: %w", callTarget(call), berr.ErrNoRoute)
		b.logger.Error("no route", "address", call.Address, "object", call.ObjectName, "id", call.ID)
		b.fail(call, err)

		return
	}

	if err := q.Send(call); err != nil {
		b.fail(call, fmt.Errorf("route %s: %w", callTarget(call), err))
	}
}

func (b *Bundle) vetoed(call cbus.MethodCall) {
	b.logger.Info("call vetoed", "address", call.Address, "object", call.ObjectName, "method", call.MethodName, "id", call.ID)

	if b.cfg.NotifyVeto {
		b.fail(call, fmt.Errorf("call %s: %w", callTarget(call), berr.ErrVetoed))
	}
}

// fail answers call with err on the response queue.
func (b *Bundle) fail(call cbus.MethodCall, err error) {
	if sendErr := b.synthesized.Send(cbus.ResponseTo(call, err, true)); sendErr != nil {
		b.logger.Warn("error response not sent", "id", call.ID, "err", sendErr)
	}
}

// autoFlush flushes everything downstream of the router once per flush interval. It runs when a
// poll finds nothing or a full batch, so a steady stream of small batches defers it.
func (b *Bundle) autoFlush() {
	now := time.Now()
	if now.Sub(b.lastFlush) < b.cfg.FlushInterval {
		return
	}

	b.lastFlush = now
	b.flushAll()
}

func (b *Bundle) flushAll() {
	if err := b.inbound.FlushSends(); err != nil && !errors.Is(err, berr.ErrQueueStopped) {
		b.logger.Warn("flush inbound", "err", err)
	}

	for _, q := range b.router.queues() {
		if err := q.FlushSends(); err != nil {
			b.logger.Warn("flush service queue", "err", err)
		}
	}

	b.flushFlushers()

	if err := b.synthesized.FlushSends(); err != nil {
		b.logger.Warn("flush error responses", "err", err)
	}
}

func (b *Bundle) flushFlushers() {
	b.mu.RLock()
	flushers := slices.Clone(b.flushers)
	b.mu.RUnlock()

	for _, f := range flushers {
		if err := f.FlushSends(); err != nil {
			b.logger.Warn("flush send queue", "err", err)
		}
	}
}

func callTarget(call cbus.MethodCall) string {
	if call.Address != "" {
		return call.Address
	}

	if call.ObjectName != "" {
		return call.ObjectName + "." + call.MethodName
	}

	return fmt.Sprintf("#%d", call.ID)
}
