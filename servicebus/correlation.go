package servicebus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

type pending struct {
	cb       cbus.Callback
	deadline time.Time
}

// correlator holds the callbacks waiting for a response, keyed by return address and call id.
type correlator struct {
	mu      sync.Mutex
	entries map[cbus.HandlerKey]pending

	ttl        time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
	logger     *slog.Logger
}

func newCorrelator(ttl, sweepEvery time.Duration, logger *slog.Logger) *correlator {
	return &correlator{
		entries:    make(map[cbus.HandlerKey]pending),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		now:        time.Now,
		logger:     logger,
	}
}

// register adds cb under key. A key that is still pending is rejected with ErrDuplicateCall and
// keeps its first callback.
func (c *correlator) register(key cbus.HandlerKey, cb cbus.Callback) error {
	p := pending{cb: cb}
	if c.ttl > 0 {
		p.deadline = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return fmt.Errorf("callback %s#%d: %w", key.ReturnAddress, key.ID, berr.ErrDuplicateCall)
	}

	c.entries[key] = p

	return nil
}

func (c *correlator) remove(key cbus.HandlerKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *correlator) take(key cbus.HandlerKey) (pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}

	return p, ok
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// dispatch fires the callback waiting for resp, if any.
func (c *correlator) dispatch(resp cbus.Response) {
	p, ok := c.take(resp.Key())
	if !ok {
		c.logger.Debug("response dropped", "returnAddress", resp.ReturnAddress, "id", resp.ID)
		return
	}

	if resp.WasErrors {
		c.fail(resp.Key(), p.cb, responseError(resp.Body))
		return
	}

	c.accept(resp.Key(), p.cb, resp.Body)
}

// sweep expires overdue callbacks, at most once per sweep interval.
func (c *correlator) sweep() {
	if c.ttl <= 0 {
		return
	}

	now := c.now()

	c.mu.Lock()
	if now.Sub(c.lastSweep) < c.sweepEvery {
		c.mu.Unlock()
		return
	}

	c.lastSweep = now

	var expired map[cbus.HandlerKey]pending

	for k, p := range c.entries {
		if now.After(p.deadline) {
			if expired == nil {
				expired = make(map[cbus.HandlerKey]pending)
			}

			expired[k] = p
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	for k, p := range expired {
		c.logger.Debug("callback expired", "returnAddress", k.ReturnAddress, "id", k.ID)
		c.fail(k, p.cb, fmt.Errorf("callback %s#%d: %w", k.ReturnAddress, k.ID, berr.ErrCallbackExpired))
	}
}

func (c *correlator) accept(key cbus.HandlerKey, cb cbus.Callback, body any) {
	defer c.recoverCallback(key)

	cb.Accept(body)
}

func (c *correlator) fail(key cbus.HandlerKey, cb cbus.Callback, err error) {
	defer c.recoverCallback(key)

	cb.OnError(err)
}

func (c *correlator) recoverCallback(key cbus.HandlerKey) {
	if r := recover(); r != nil {
		c.logger.Error("callback panicked", "returnAddress", key.ReturnAddress, "id", key.ID, "panic", r)
	}
}

// responseError turns an error response body into an error value.
func responseError(body any) error {
	if err, ok := body.(error); ok {
		return err
	}

	return fmt.Errorf("%w: %v", berr.ErrCallFailed, body)
}
