package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/time/rate"

	"github.com/next-trace/scg-call-bus/adapters/inmemory"
	"github.com/next-trace/scg-call-bus/adapters/kafka"
	"github.com/next-trace/scg-call-bus/adapters/mqtt"
	"github.com/next-trace/scg-call-bus/adapters/nats"
	"github.com/next-trace/scg-call-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-call-bus/codec"
	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	"github.com/next-trace/scg-call-bus/registry"
	"github.com/next-trace/scg-call-bus/servicebus"
)

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level

	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// Protocol returns the configured wire codec.
func (c *Config) Protocol() *codec.Protocol {
	if c.Codec == CodecMsgpack {
		return codec.NewMsgpack()
	}

	return codec.NewJSON()
}

// Factory builds a servicebus.Factory encoding with the configured codec. JSON stays the fallback
// parser so bodies of either format can be read.
func (c *Config) Factory(logger *slog.Logger) *servicebus.Factory {
	p := c.Protocol()
	opts := []servicebus.FactoryOption{
		servicebus.WithFactoryConfig(c.ServiceBus()),
		servicebus.WithFactoryLogger(logger),
		servicebus.WithEncoder(p),
	}

	if c.Codec == CodecMsgpack {
		opts = append(opts, servicebus.WithParser(p))
	}

	return servicebus.NewFactory(opts...)
}

// BeforeMethodCall returns the interceptor chain of the bundle section.
func (c *Config) BeforeMethodCall() cbus.BeforeMethodCall {
	var hooks []cbus.BeforeMethodCall

	if len(c.Bundle.Deny) > 0 {
		hooks = append(hooks, servicebus.DenyAddressPrefix(c.Bundle.Deny...))
	}

	if c.Bundle.RateLimit > 0 {
		burst := max(c.Bundle.RateBurst, 1)
		hooks = append(hooks, servicebus.RateLimit(rate.NewLimiter(rate.Limit(c.Bundle.RateLimit), burst)))
	}

	return servicebus.ChainBefore(hooks...)
}

// OpenSender connects the configured transport. The inmemory kind records payloads.
func (c *Config) OpenSender(logger *slog.Logger) (cbus.Sender, func(), error) {
	t := c.Transport
	ct := c.Protocol().ContentType()

	switch t.Kind {
	case TransportNATS:
		return nats.NewWithNATS(nats.Config{
			URL:           t.NATS.URL,
			Name:          t.NATS.Name,
			ConnTimeout:   t.NATS.ConnTimeout,
			MaxReconnects: t.NATS.MaxReconnects,
			SubjectPrefix: t.NATS.SubjectPrefix,
			ContentType:   ct,
		})
	case TransportRabbitMQ:
		return rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:         t.RabbitMQ.URL,
			ConnTimeout: t.RabbitMQ.ConnTimeout,
			Exchange:    t.RabbitMQ.Exchange,
			ContentType: ct,
		})
	case TransportKafka:
		return kafka.NewWithKgo(kafka.Config{
			Brokers:     t.Kafka.Brokers,
			ClientID:    t.Kafka.ClientID,
			Topic:       t.Kafka.Topic,
			ContentType: ct,
			Acks:        t.Kafka.Acks,
			Compression: t.Kafka.Compression,
		})
	case TransportMQTT:
		qos := byte(1)
		if t.MQTT.QoS != nil {
			qos = byte(*t.MQTT.QoS)
		}

		return mqtt.NewWithPaho(mqtt.Config{
			Broker:         t.MQTT.Broker,
			ClientID:       t.MQTT.ClientID,
			Username:       t.MQTT.Username,
			Password:       t.MQTT.Password,
			Prefix:         t.MQTT.Prefix,
			QoS:            qos,
			ConnectTimeout: t.MQTT.ConnectTimeout,
			Logger:         logger,
		})
	default:
		return inmemory.NewRecorder(), func() {}, nil
	}
}

// OpenRegistry returns the configured registry, or nil for kind none.
func (c *Config) OpenRegistry(logger *slog.Logger) (registry.Registry, error) { //nolint:ireturn
	switch c.Registry.Kind {
	case RegistryMemory:
		return registry.NewMemory(), nil
	case RegistryEtcd:
		return registry.NewEtcdRegistry(registry.EtcdConfig{
			Endpoints:   c.Registry.Endpoints,
			DialTimeout: c.Registry.DialTimeout,
			Prefix:      c.Registry.Prefix,
			Logger:      logger,
		})
	default:
		return nil, nil
	}
}

// Node is a bundle wired to its transport, remote endpoints and registry.
type Node struct {
	Config   *Config
	Bundle   *servicebus.Bundle
	Factory  *servicebus.Factory
	Sender   cbus.Sender
	Registry registry.Registry

	logger    *slog.Logger
	published []registry.Endpoint
	closers   []func()
}

// Open builds a Node from cfg. Close releases everything Open acquired.
func Open(cfg *Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	n := &Node{Config: cfg, logger: logger, Factory: cfg.Factory(logger)}

	sender, closeSender, err := cfg.OpenSender(logger)
	if err != nil {
		return nil, fmt.Errorf("open transport %s: %w", cfg.Transport.Kind, err)
	}

	n.Sender = sender
	n.closers = append(n.closers, closeSender)

	reg, err := cfg.OpenRegistry(logger)
	if err != nil {
		n.release()
		return nil, fmt.Errorf("open registry %s: %w", cfg.Registry.Kind, err)
	}

	if reg != nil {
		n.Registry = reg
		n.closers = append(n.closers, func() { _ = reg.Close() })
	}

	n.Bundle = n.Factory.CreateServiceBundle(cfg.Bundle.Address,
		servicebus.WithConfig(cfg.ServiceBus()),
		servicebus.WithLogger(logger),
		servicebus.WithBeforeMethodCall(cfg.BeforeMethodCall()),
	)

	for _, r := range cfg.Remotes {
		opts := []servicebus.EndpointOption{servicebus.WithEndpointLogger(logger)}
		if r.BatchSize > 0 {
			opts = append(opts, servicebus.WithEndpointBatchSize(r.BatchSize))
		}

		if r.SendTimeout > 0 {
			opts = append(opts, servicebus.WithEndpointSendTimeout(r.SendTimeout))
		}

		ep := servicebus.NewRemoteEndpoint(n.Factory.CreateEncoder(), r.Address, sender, nil, opts...)
		if err := n.Bundle.AddRoute(r.Address, ep); err != nil {
			_ = n.Close(context.Background())
			return nil, fmt.Errorf("remote %s: %w", r.Address, err)
		}
	}

	return n, nil
}

// Publish registers the bundle's absolute addresses under the configured node name.
func (n *Node) Publish(ctx context.Context) error {
	if n.Registry == nil {
		return nil
	}

	eps, err := registry.PublishBundle(ctx, n.Registry, localEndpoints{n.Bundle, n.Config.Remotes}, n.Config.Node,
		n.Factory.CreateEncoder().ContentType(), n.Config.Registry.TTL)
	n.published = append(n.published, eps...)

	if err != nil {
		return err
	}

	n.logger.Info("endpoints published", "count", len(eps), "node", n.Config.Node)

	return nil
}

// localEndpoints hides the routes that point at remote endpoints.
type localEndpoints struct {
	*servicebus.Bundle
	remotes []RemoteConfig
}

func (l localEndpoints) EndPoints() []string {
	all := l.Bundle.EndPoints()
	out := all[:0:0]

	for _, a := range all {
		if !slices.ContainsFunc(l.remotes, func(r RemoteConfig) bool { return r.Address == a }) {
			out = append(out, a)
		}
	}

	return out
}

// Close withdraws published endpoints, stops the bundle and closes the transport and registry.
func (n *Node) Close(ctx context.Context) error {
	var errs []error

	if n.Registry != nil && len(n.published) > 0 {
		errs = append(errs, registry.WithdrawBundle(ctx, n.Registry, n.published))
		n.published = nil
	}

	if n.Bundle != nil {
		errs = append(errs, n.Bundle.Stop())
	}

	n.release()

	return errors.Join(errs...)
}

func (n *Node) release() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}

	n.closers = nil
}
