package mqtt_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-call-bus/adapters/mqtt"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	calls []published
	err   error
}

func (f *fakeClient) Publish(_ context.Context, topic string, qos byte, payload []byte) error {
	f.calls = append(f.calls, published{topic, qos, payload})

	return f.err
}

func TestMQTT_SendPublishesOnAddressTopic(t *testing.T) {
	fc := &fakeClient{}
	ad := mqtt.New(fc)

	if err := ad.Send(t.Context(), "/app/users", []byte("batch")); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fc.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fc.calls))
	}

	c := fc.calls[0]
	if c.topic != "calls/app/users" || c.qos != 1 || string(c.payload) != "batch" {
		t.Fatalf("published: %+v", c)
	}
}

func TestTopic(t *testing.T) {
	cases := []struct{ prefix, address, want string }{
		{"calls", "/app/users", "calls/app/users"},
		{"", "/app/users/", "app/users"},
		{"/rpc/", "users", "rpc/users"},
		{"calls", "/a/+/#", "calls/a/_/_"},
	}

	for _, c := range cases {
		if got := mqtt.Topic(c.prefix, c.address); got != c.want {
			t.Fatalf("Topic(%q,%q)=%q want %q", c.prefix, c.address, got, c.want)
		}
	}
}

func TestMQTT_Errors(t *testing.T) {
	if err := mqtt.New(nil).Send(t.Context(), "/x", nil); !errors.Is(err, berr.ErrSendFailed) {
		t.Fatalf("nil client: want ErrSendFailed, got %v", err)
	}

	if err := mqtt.New(&fakeClient{err: errors.New("not connected")}).Send(t.Context(), "/x", nil); !errors.Is(err, berr.ErrSendFailed) {
		t.Fatalf("publish error: want ErrSendFailed, got %v", err)
	}

	err := mqtt.New(&fakeClient{err: context.DeadlineExceeded}).Send(t.Context(), "/x", nil)
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrSendFailed) {
		t.Fatalf("want bare deadline error, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fc := &fakeClient{}
	if err := mqtt.New(fc).Send(ctx, "/x", nil); !errors.Is(err, context.Canceled) || len(fc.calls) != 0 {
		t.Fatalf("canceled: err=%v calls=%d", err, len(fc.calls))
	}
}

func TestNewWithPaho_InvalidConfig(t *testing.T) {
	for _, cfg := range []mqtt.Config{{}, {Broker: "tcp://localhost:1883", QoS: 3}} {
		if _, _, err := mqtt.NewWithPaho(cfg); !errors.Is(err, berr.ErrInvalidConfig) {
			t.Fatalf("%+v: want ErrInvalidConfig, got %v", cfg, err)
		}
	}
}
