package kafka

import (
	"errors"
	"testing"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

func TestNewWithKgo_Validation(t *testing.T) {
	cases := []Config{
		{},
		{Brokers: []string{"localhost:9092"}, Acks: "quorum"},
		{Brokers: []string{"localhost:9092"}, Compression: "brotli"},
	}

	for _, cfg := range cases {
		if _, _, err := NewWithKgo(cfg); !errors.Is(err, berr.ErrInvalidConfig) {
			t.Fatalf("%+v: want ErrInvalidConfig, got %v", cfg, err)
		}
	}
}

func TestKgoOpts(t *testing.T) {
	for _, acks := range []string{"", AcksAll, AcksLeader, "NONE"} {
		for _, comp := range []string{"", "none", "gzip", "snappy", "lz4", "zstd"} {
			opts, err := kgoOpts(Config{Brokers: []string{"b:9092"}, ClientID: "svc", Acks: acks, Compression: comp})
			if err != nil {
				t.Fatalf("acks=%q compression=%q: %v", acks, comp, err)
			}

			if len(opts) < 3 {
				t.Fatalf("acks=%q compression=%q: %d opts", acks, comp, len(opts))
			}
		}
	}
}
