// Package mqtt sends encoded call batches to an MQTT broker. The topic is the call address under a
// fixed prefix, so "/app/users" is published on "calls/app/users".
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// DefaultTopicPrefix is prepended to every topic.
const DefaultTopicPrefix = "calls"

// Client is the publishing subset of an MQTT connection.
type Client interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// Adapter implements bus.Sender over a Client.
type Adapter struct {
	Client Client
	Prefix string
	QoS    byte
}

var _ cbus.Sender = (*Adapter)(nil)

// New returns an Adapter publishing at QoS 1.
func New(c Client) *Adapter { return &Adapter{Client: c, Prefix: DefaultTopicPrefix, QoS: 1} }

// Send publishes payload on the topic for address.
func (a *Adapter) Send(ctx context.Context, address string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("mqtt send %s: %w", address, berr.ErrSendFailed)
	}

	topic := Topic(a.Prefix, address)

	if err := a.Client.Publish(ctx, topic, a.QoS, payload); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("mqtt send %s: %w", topic, errors.Join(berr.ErrSendFailed, err))
	}

	return nil
}

// Topic joins prefix and the non-empty segments of address with "/".
// Wildcard characters are not valid in a publish topic and are replaced with "_".
func Topic(prefix, address string) string {
	parts := strings.FieldsFunc(address, func(r rune) bool { return r == '/' })
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append([]string{p}, parts...)
	}

	return strings.NewReplacer("+", "_", "#", "_").Replace(strings.Join(parts, "/"))
}
