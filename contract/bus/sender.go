package bus

import "context"

// Sender abstracts how an encoded payload physically leaves the process.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, address string, payload []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, address string, payload []byte) error

func (f SenderFunc) Send(ctx context.Context, address string, payload []byte) error {
	return f(ctx, address, payload)
}
