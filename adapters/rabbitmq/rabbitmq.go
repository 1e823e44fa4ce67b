package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Defaults for the exchange calls are published to.
const (
	DefaultExchange    = "calls"
	DefaultContentType = "application/json"
	HeaderAddress      = "x-call-address"
)

type PubMsg struct {
	Exchange    string
	RoutingKey  string
	ContentType string
	Body        []byte
	Headers     map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Adapter sends encoded call batches to a topic exchange, keyed by the call address.
type Adapter struct {
	Publisher   Publisher
	Propagator  cbus.HeaderPropagator // optional, for context propagation into headers
	Exchange    string
	ContentType string
}

var _ cbus.Sender = (*Adapter)(nil)

func New(p Publisher) *Adapter {
	return &Adapter{Publisher: p, Exchange: DefaultExchange, ContentType: DefaultContentType}
}

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbus.HeaderPropagator) *Adapter {
	a := New(p)
	a.Propagator = hp

	return a
}

// Send publishes payload with the routing key for address.
func (a *Adapter) Send(ctx context.Context, address string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq send %s: %w", address, berr.ErrSendFailed)
	}

	hdrs := map[string]string{HeaderAddress: address}
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:    a.Exchange,
		RoutingKey:  RoutingKey(address),
		ContentType: a.ContentType,
		Body:        payload,
		Headers:     hdrs,
	}

	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq send %s: %w", msg.RoutingKey, errors.Join(berr.ErrSendFailed, err))
	}

	return nil
}

// RoutingKey maps a slash separated call address onto a dot separated topic routing key.
func RoutingKey(address string) string {
	parts := strings.FieldsFunc(address, func(r rune) bool { return r == '/' })

	return strings.Join(parts, ".")
}

func publishing(m PubMsg, mode uint8) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	ct := m.ContentType
	if ct == "" {
		ct = DefaultContentType
	}

	return amqp.Publishing{
		DeliveryMode: mode,
		Headers:      h,
		ContentType:  ct,
		Body:         m.Body,
	}
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m, amqp.Transient))
}

// NewWithAMQPChannel publishes on an existing channel. The exchange must already exist.
func NewWithAMQPChannel(ch *amqp.Channel) *Adapter {
	return New(amqpChannelPublisher{ch: ch})
}
