// Package inmemory provides in-process senders: a Recorder for tests and examples, and a Loopback
// that hands encoded call batches to another bundle in the same process and routes the answers
// back to the caller's bundle.
package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Message is one recorded send.
type Message struct {
	Address string
	Payload []byte
}

// Recorder is a thread-safe bus.Sender that keeps every payload it is given.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// Err, when set, is returned from every Send after recording.
	Err error
}

var _ cbus.Sender = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(ctx context.Context, address string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.messages = append(r.messages, Message{Address: address, Payload: slices.Clone(payload)})
	r.mu.Unlock()

	return r.Err
}

// Messages returns a copy of the recorded sends in order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.messages)
}

// Reset drops every recorded send.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

// ResponseSink accepts responses for the calling side, e.g. *servicebus.Bundle.
type ResponseSink interface {
	DeliverResponse(resp cbus.Response) error
}

// Loopback decodes each payload with Parser, calls every decoded call on Target and delivers the
// outcome to Replies as a Response.
type Loopback struct {
	Parser  cbus.ProtocolParser
	Target  cbus.Bundle
	Replies ResponseSink
}

var _ cbus.Sender = (*Loopback)(nil)

// NewLoopback wires parser, target and replies together.
func NewLoopback(parser cbus.ProtocolParser, target cbus.Bundle, replies ResponseSink) *Loopback {
	return &Loopback{Parser: parser, Target: target, Replies: replies}
}

func (l *Loopback) Send(ctx context.Context, address string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if l.Parser == nil || l.Target == nil {
		return fmt.Errorf("inmemory loopback %s: %w", address, berr.ErrSendFailed)
	}

	calls, err := l.Parser.ParseMethodCalls(payload)
	if err != nil {
		return fmt.Errorf("inmemory loopback %s: %w", address, err)
	}

	for _, call := range calls {
		if err := l.Target.CallWithCallback(ctx, call, l.reply(call)); err != nil {
			return fmt.Errorf("inmemory loopback %s: %w", address, err)
		}
	}

	return nil
}

func (l *Loopback) reply(call cbus.MethodCall) cbus.Callback {
	deliver := func(resp cbus.Response) {
		if l.Replies != nil {
			_ = l.Replies.DeliverResponse(resp)
		}
	}

	return cbus.CallbackFuncs{
		OnAccept: func(body any) { deliver(cbus.ResponseTo(call, body, false)) },
		OnFail:   func(err error) { deliver(cbus.ResponseTo(call, err, true)) },
	}
}
