package nats_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-call-bus/adapters/nats"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

func TestNewWithNATS_EmptyURL(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{})
	if err == nil {
		t.Fatalf("expected error")
	}

	if !errors.Is(err, berr.ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}
}
