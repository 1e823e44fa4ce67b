package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Config configures the paho backed constructor.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	Prefix         string
	QoS            byte
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

const (
	defaultConnectTimeout = 5 * time.Second
	connectRetryInterval  = 2 * time.Second
	maxReconnectInterval  = 30 * time.Second
)

type pahoClient struct{ c paho.Client }

func (p pahoClient) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	tok := p.c.Publish(topic, qos, false, payload)

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewWithPaho connects to the broker with auto-reconnect and returns an Adapter and a cleanup
// that disconnects.
func NewWithPaho(cfg Config) (*Adapter, func(), error) {
	if cfg.Broker == "" {
		return nil, nil, fmt.Errorf("%w: mqtt broker required", berr.ErrInvalidConfig)
	}

	if cfg.QoS > 2 {
		return nil, nil, fmt.Errorf("%w: mqtt qos %d", berr.ErrInvalidConfig, cfg.QoS)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	c := paho.NewClient(opts)

	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		c.Disconnect(0)
		return nil, nil, fmt.Errorf("%w: mqtt connect to %s timed out", berr.ErrSendFailed, cfg.Broker)
	}

	if err := tok.Error(); err != nil {
		c.Disconnect(0)
		return nil, nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, errors.Join(berr.ErrSendFailed, err))
	}

	ad := New(pahoClient{c: c})
	ad.QoS = cfg.QoS

	if cfg.Prefix != "" {
		ad.Prefix = cfg.Prefix
	}

	return ad, func() { c.Disconnect(250) }, nil
}
