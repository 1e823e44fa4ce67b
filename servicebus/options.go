package servicebus

import (
	"log/slog"
	"time"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	"github.com/next-trace/scg-call-bus/queue"
)

// Defaults for the bundle-level timers.
const (
	DefaultFlushInterval = 50 * time.Millisecond
	DefaultCallbackTTL   = 30 * time.Second
	DefaultSweepInterval = time.Second
)

// Config tunes a Bundle and the services it creates.
type Config struct {
	// BatchSize, PollWait and IdleAfter configure every queue the bundle owns.
	BatchSize int
	PollWait  time.Duration
	IdleAfter int

	// FlushInterval is the minimum time between two idle auto-flushes. Auto-flushes run when the
	// routing consumer polls an empty queue or a full batch. Under a steady stream of batches
	// smaller than BatchSize, a service queue is flushed only once its buffer fills, so a routed
	// call may wait until the stream pauses plus FlushInterval.
	FlushInterval time.Duration
	// CallbackTTL bounds how long a callback waits for its response. Zero keeps entries until answered.
	CallbackTTL time.Duration
	// SweepInterval is the minimum time between two expiry sweeps.
	SweepInterval time.Duration
	// NotifyVeto delivers an ErrVetoed response to the caller of a vetoed call.
	NotifyVeto bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	qc := queue.DefaultConfig()

	return Config{
		BatchSize:     qc.BatchSize,
		PollWait:      qc.PollWait,
		IdleAfter:     qc.IdleAfter,
		FlushInterval: DefaultFlushInterval,
		CallbackTTL:   DefaultCallbackTTL,
		SweepInterval: DefaultSweepInterval,
		NotifyVeto:    true,
	}
}

// QueueConfig returns the queue settings carried by c.
func (c Config) QueueConfig() queue.Config {
	return queue.Config{BatchSize: c.BatchSize, PollWait: c.PollWait, IdleAfter: c.IdleAfter}
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}

	if c.CallbackTTL < 0 {
		c.CallbackTTL = 0
	}

	return c
}

// Option configures a Bundle instance.
type Option func(*Bundle)

// WithConfig replaces the bundle configuration.
func WithConfig(cfg Config) Option {
	return func(b *Bundle) { b.cfg = cfg }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bundle) { b.logger = l }
}

// WithServiceFactory sets the factory used by AddService.
func WithServiceFactory(f cbus.ServiceFactory) Option {
	return func(b *Bundle) { b.factory = f }
}

// WithBeforeMethodCall sets the hook run on every call before the argument transform.
func WithBeforeMethodCall(h cbus.BeforeMethodCall) Option {
	return func(b *Bundle) { b.before = h }
}

// WithBeforeMethodCallAfterTransform sets the hook run after the argument transform.
func WithBeforeMethodCallAfterTransform(h cbus.BeforeMethodCall) Option {
	return func(b *Bundle) { b.afterTransform = h }
}

// WithArgTransformer sets the transform applied to call bodies before routing.
func WithArgTransformer(t cbus.ArgTransformer) Option {
	return func(b *Bundle) { b.transform = t }
}
