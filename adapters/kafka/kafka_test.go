package kafka_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-call-bus/adapters/kafka"
	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

type record struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	calls []record
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.calls = append(f.calls, record{topic, key, value, headers})

	return f.err
}

func TestKafka_SendKeysByAddress(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw)
	ad.Headers = map[string]string{"h": "1"}
	ad.Propagator = cbus.HeaderPropagatorFunc(func(_ context.Context, h map[string]string) {
		h["traceparent"] = "00-abc"
	})

	if err := ad.Send(t.Context(), "/app/users", []byte(`[{"kind":"call"}]`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fw.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fw.calls))
	}

	c := fw.calls[0]
	if c.topic != kafka.DefaultTopic || string(c.key) != "/app/users" {
		t.Fatalf("record: topic=%s key=%s", c.topic, c.key)
	}

	if len(c.value) == 0 {
		t.Fatalf("value empty")
	}

	want := map[string]string{
		"h":                     "1",
		"traceparent":           "00-abc",
		kafka.HeaderAddress:     "/app/users",
		kafka.HeaderContentType: kafka.DefaultContentType,
	}
	for k, v := range want {
		if c.headers[k] != v {
			t.Fatalf("header %s: %+v", k, c.headers)
		}
	}

	if ad.Headers[kafka.HeaderAddress] != "" {
		t.Fatalf("static headers mutated: %+v", ad.Headers)
	}
}

func TestKafka_TopicOverride(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw)
	ad.Topic = "rpc.calls"

	if err := ad.Send(t.Context(), "/x", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	if fw.calls[0].topic != "rpc.calls" {
		t.Fatalf("topic: %s", fw.calls[0].topic)
	}
}

func TestKafka_Errors(t *testing.T) {
	if err := kafka.New(nil).Send(t.Context(), "/x", nil); !errors.Is(err, berr.ErrSendFailed) {
		t.Fatalf("nil writer: want ErrSendFailed, got %v", err)
	}

	if err := kafka.New(&fakeWriter{err: errors.New("broker down")}).Send(t.Context(), "/x", nil); !errors.Is(err, berr.ErrSendFailed) {
		t.Fatalf("write error: want ErrSendFailed, got %v", err)
	}

	err := kafka.New(&fakeWriter{err: context.Canceled}).Send(t.Context(), "/x", nil)
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrSendFailed) {
		t.Fatalf("want bare context error, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fw := &fakeWriter{}
	if err := kafka.New(fw).Send(ctx, "/x", nil); !errors.Is(err, context.Canceled) || len(fw.calls) != 0 {
		t.Fatalf("canceled: err=%v calls=%d", err, len(fw.calls))
	}
}
