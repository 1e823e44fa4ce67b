package nats

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// DefaultSubjectPrefix is prepended to every subject.
const DefaultSubjectPrefix = "calls"

// Header keys set on every message.
const (
	HeaderAddress     = "x-call-address"
	HeaderContentType = "Content-Type"
)

// Client is a minimal NATS-like publisher interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
}

// Adapter sends encoded call batches to NATS subjects derived from the call address.
type Adapter struct {
	Client      Client
	Prefix      string
	ContentType string
	Propagator  cbus.HeaderPropagator
	Headers     map[string]string
}

var _ cbus.Sender = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c, Prefix: DefaultSubjectPrefix} }

// Send publishes payload on the subject for address.
func (a *Adapter) Send(ctx context.Context, address string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats send %s: %w", address, berr.ErrSendFailed)
	}

	subject := Subject(a.Prefix, address)

	if err := a.Client.Publish(subject, payload, a.headers(ctx, address)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats send %s: %w", subject, errors.Join(berr.ErrSendFailed, err))
	}

	return nil
}

func (a *Adapter) headers(ctx context.Context, address string) map[string]string {
	h := make(map[string]string, len(a.Headers)+2)
	maps.Copy(h, a.Headers)
	h[HeaderAddress] = address

	if a.ContentType != "" {
		h[HeaderContentType] = a.ContentType
	}

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, h)
	}

	return h
}

// Subject maps a slash separated call address onto a dot separated subject under prefix.
// "/app/users" becomes "calls.app.users".
func Subject(prefix, address string) string {
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, prefix)
	}

	for _, p := range strings.Split(address, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return strings.Join(parts, ".")
}
