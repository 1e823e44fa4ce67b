package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Concrete franz-go based constructor and writer wrapper.

// Acks values accepted by Config.
const (
	AcksAll    = "all"
	AcksLeader = "leader"
	AcksNone   = "none"
)

type Config struct {
	Brokers     []string
	TLS         *tls.Config
	ClientID    string
	Topic       string
	ContentType string
	// Acks is one of AcksAll (default), AcksLeader or AcksNone.
	Acks string
	// Compression is one of "", "none", "gzip", "snappy", "lz4", "zstd".
	Compression string
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	opts, err := kgoOpts(cfg)
	if err != nil {
		return nil, nil, err
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client init: %w", errors.Join(berr.ErrSendFailed, err))
	}

	ad := New(kgoWriter{cl: cl})
	if cfg.Topic != "" {
		ad.Topic = cfg.Topic
	}

	if cfg.ContentType != "" {
		ad.ContentType = cfg.ContentType
	}

	return ad, cl.Close, nil
}

func kgoOpts(cfg Config) ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers required", berr.ErrInvalidConfig)
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	switch strings.ToLower(cfg.Acks) {
	case "", AcksAll:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case AcksLeader:
		// idempotent writes require all-ISR acks
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case AcksNone:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		return nil, fmt.Errorf("%w: kafka acks %q", berr.ErrInvalidConfig, cfg.Acks)
	}

	codec, err := compression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	if codec != nil {
		opts = append(opts, kgo.ProducerBatchCompression(*codec))
	}

	return opts, nil
}

func compression(name string) (*kgo.CompressionCodec, error) {
	var c kgo.CompressionCodec

	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "none":
		c = kgo.NoCompression()
	case "gzip":
		c = kgo.GzipCompression()
	case "snappy":
		c = kgo.SnappyCompression()
	case "lz4":
		c = kgo.Lz4Compression()
	case "zstd":
		c = kgo.ZstdCompression()
	default:
		return nil, fmt.Errorf("%w: kafka compression %q", berr.ErrInvalidConfig, name)
	}

	return &c, nil
}
