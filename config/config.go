// Package config loads the YAML configuration of a call bus node and turns it into the
// constructor configs of the bundle, the codec, the outgoing transport and the registry.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/next-trace/scg-call-bus/queue"
	"github.com/next-trace/scg-call-bus/servicebus"
)

// Transport kinds.
const (
	TransportInMemory = "inmemory"
	TransportNATS     = "nats"
	TransportRabbitMQ = "rabbitmq"
	TransportKafka    = "kafka"
	TransportMQTT     = "mqtt"
)

// Registry kinds.
const (
	RegistryNone   = "none"
	RegistryMemory = "memory"
	RegistryEtcd   = "etcd"
)

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Config is the complete node configuration.
type Config struct {
	Node      string          `yaml:"node"` // transport location published to the registry
	Codec     string          `yaml:"codec"`
	Log       LogConfig       `yaml:"log"`
	Bundle    BundleConfig    `yaml:"bundle"`
	Transport TransportConfig `yaml:"transport"`
	Remotes   []RemoteConfig  `yaml:"remotes"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// BundleConfig mirrors servicebus.Config.
type BundleConfig struct {
	Address       string        `yaml:"address"`
	BatchSize     int           `yaml:"batch_size"`
	PollWait      time.Duration `yaml:"poll_wait"`
	IdleAfter     int           `yaml:"idle_after"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	CallbackTTL   time.Duration `yaml:"callback_ttl"` // 0 keeps callbacks until answered
	SweepInterval time.Duration `yaml:"sweep_interval"`
	NotifyVeto    *bool         `yaml:"notify_veto,omitempty"`
	// RateLimit caps routed calls per second; 0 disables the limiter.
	RateLimit float64  `yaml:"rate_limit"`
	RateBurst int      `yaml:"rate_burst"`
	Deny      []string `yaml:"deny_prefixes"`
}

// TransportConfig configures the sender used by remote endpoints.
type TransportConfig struct {
	Kind     string         `yaml:"kind"`
	NATS     NATSConfig     `yaml:"nats"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	MaxReconnects int           `yaml:"max_reconnects"`
}

type RabbitMQConfig struct {
	URL         string        `yaml:"url"`
	Exchange    string        `yaml:"exchange"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	ClientID    string   `yaml:"client_id"`
	Topic       string   `yaml:"topic"`
	Acks        string   `yaml:"acks"`
	Compression string   `yaml:"compression"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Prefix         string        `yaml:"prefix"`
	QoS            *int          `yaml:"qos,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RemoteConfig routes an address prefix to the transport.
type RemoteConfig struct {
	Address     string        `yaml:"address"`
	BatchSize   int           `yaml:"batch_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// RegistryConfig selects where the bundle's endpoints are published.
type RegistryConfig struct {
	Kind        string        `yaml:"kind"`
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	TTL         time.Duration `yaml:"ttl"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Default returns a configuration for a single in-memory node.
func Default() Config {
	d := servicebus.DefaultConfig()
	veto := d.NotifyVeto

	return Config{
		Node:  "local",
		Codec: CodecJSON,
		Log:   LogConfig{Level: "info", Format: "text"},
		Bundle: BundleConfig{
			BatchSize:     d.BatchSize,
			PollWait:      d.PollWait,
			IdleAfter:     d.IdleAfter,
			FlushInterval: d.FlushInterval,
			CallbackTTL:   d.CallbackTTL,
			SweepInterval: d.SweepInterval,
			NotifyVeto:    &veto,
		},
		Transport: TransportConfig{Kind: TransportInMemory},
		Registry:  RegistryConfig{Kind: RegistryNone},
	}
}

// Load reads path, applies defaults for every field left out and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Codec == "" {
		c.Codec = CodecJSON
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportInMemory
	}

	if c.Registry.Kind == "" {
		c.Registry.Kind = RegistryNone
	}

	if c.Bundle.NotifyVeto == nil {
		veto := true
		c.Bundle.NotifyVeto = &veto
	}
}

// ServiceBus converts the bundle section; zero fields fall back to the bundle defaults.
func (c *Config) ServiceBus() servicebus.Config {
	b := c.Bundle
	cfg := servicebus.Config{
		BatchSize:     b.BatchSize,
		PollWait:      b.PollWait,
		IdleAfter:     b.IdleAfter,
		FlushInterval: b.FlushInterval,
		CallbackTTL:   b.CallbackTTL,
		SweepInterval: b.SweepInterval,
		NotifyVeto:    b.NotifyVeto == nil || *b.NotifyVeto,
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = queue.DefaultBatchSize
	}

	if cfg.PollWait == 0 {
		cfg.PollWait = queue.DefaultPollWait
	}

	if cfg.IdleAfter == 0 {
		cfg.IdleAfter = queue.DefaultIdleAfter
	}

	return cfg
}
