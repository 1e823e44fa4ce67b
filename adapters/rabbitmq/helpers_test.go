package rabbitmq_test

import (
	"context"

	"github.com/next-trace/scg-call-bus/adapters/rabbitmq"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	f.calls = append(f.calls, m)

	return f.err
}
