package config

import (
	"fmt"
	"slices"
	"strings"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Validate checks cfg and reports the first problem wrapped in ErrInvalidConfig.
func Validate(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{berr.ErrInvalidConfig}, args...)...)
}

func validate(cfg *Config) error {
	if !slices.Contains([]string{CodecJSON, CodecMsgpack}, cfg.Codec) {
		return invalid("codec %q must be json or msgpack", cfg.Codec)
	}

	if !slices.Contains([]string{"", "debug", "info", "warn", "error"}, strings.ToLower(cfg.Log.Level)) {
		return invalid("log.level %q", cfg.Log.Level)
	}

	if !slices.Contains([]string{"", "text", "json"}, cfg.Log.Format) {
		return invalid("log.format %q must be text or json", cfg.Log.Format)
	}

	b := cfg.Bundle
	if b.BatchSize < 0 || b.IdleAfter < 0 {
		return invalid("bundle.batch_size and bundle.idle_after must be >= 0")
	}

	if b.PollWait < 0 || b.FlushInterval < 0 || b.SweepInterval < 0 || b.CallbackTTL < 0 {
		return invalid("bundle durations must be >= 0")
	}

	if b.RateLimit < 0 || b.RateBurst < 0 {
		return invalid("bundle.rate_limit and bundle.rate_burst must be >= 0")
	}

	if b.Address != "" && !strings.HasPrefix(b.Address, "/") {
		return invalid("bundle.address %q must start with /", b.Address)
	}

	if err := validateTransport(cfg.Transport); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Remotes))
	for i, r := range cfg.Remotes {
		if !strings.HasPrefix(r.Address, "/") {
			return invalid("remotes[%d].address %q must start with /", i, r.Address)
		}

		if seen[r.Address] {
			return invalid("remotes[%d].address %q repeated", i, r.Address)
		}

		seen[r.Address] = true

		if r.BatchSize < 0 || r.SendTimeout < 0 {
			return invalid("remotes[%d] batch_size and send_timeout must be >= 0", i)
		}
	}

	switch cfg.Registry.Kind {
	case RegistryNone, RegistryMemory:
	case RegistryEtcd:
		if len(cfg.Registry.Endpoints) == 0 {
			return invalid("registry.endpoints required for etcd")
		}
	default:
		return invalid("registry.kind %q", cfg.Registry.Kind)
	}

	if cfg.Registry.Kind != RegistryNone && cfg.Node == "" {
		return invalid("node required when a registry is configured")
	}

	return nil
}

func validateTransport(t TransportConfig) error {
	switch t.Kind {
	case TransportInMemory:
	case TransportNATS:
		if t.NATS.URL == "" {
			return invalid("transport.nats.url required")
		}
	case TransportRabbitMQ:
		if t.RabbitMQ.URL == "" {
			return invalid("transport.rabbitmq.url required")
		}
	case TransportKafka:
		if len(t.Kafka.Brokers) == 0 {
			return invalid("transport.kafka.brokers required")
		}
	case TransportMQTT:
		if t.MQTT.Broker == "" {
			return invalid("transport.mqtt.broker required")
		}

		if q := t.MQTT.QoS; q != nil && (*q < 0 || *q > 2) {
			return invalid("transport.mqtt.qos %d must be 0, 1 or 2", *q)
		}
	default:
		return invalid("transport.kind %q", t.Kind)
	}

	return nil
}
