package kafka

import (
	"context"
	"errors"
	"fmt"
	"maps"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Defaults for produced records.
const (
	DefaultTopic       = "calls"
	DefaultContentType = "application/json"
	HeaderAddress      = "x-call-address"
	HeaderContentType  = "content-type"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Adapter sends encoded call batches as records on one topic. The record key is the call
// address, so batches for one address land on one partition in send order.
type Adapter struct {
	Writer      Writer
	Topic       string
	ContentType string
	Propagator  cbus.HeaderPropagator
	Headers     map[string]string
}

var _ cbus.Sender = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided writer.
func New(w Writer) *Adapter {
	return &Adapter{Writer: w, Topic: DefaultTopic, ContentType: DefaultContentType}
}

// Send writes payload keyed by address.
func (a *Adapter) Send(ctx context.Context, address string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka send %s: %w", address, berr.ErrSendFailed)
	}

	topic := a.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	if err := a.Writer.Write(ctx, topic, []byte(address), payload, a.headers(ctx, address)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka send %s to %q: %w", address, topic, errors.Join(berr.ErrSendFailed, err))
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
