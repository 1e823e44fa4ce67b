package servicebus

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Client issues calls into a bundle under one return address.
type Client struct {
	bundle        cbus.Bundle
	factory       *Factory
	returnAddress string
}

// NewClient returns a client for bundle. An empty returnAddress gets a unique "client-<uuid>".
func NewClient(bundle cbus.Bundle, factory *Factory, returnAddress string) *Client {
	if factory == nil {
		factory = NewFactory()
	}

	if returnAddress == "" {
		returnAddress = "client-" + uuid.NewString()
	}

	return &Client{bundle: bundle, factory: factory, returnAddress: returnAddress}
}

// ReturnAddress returns the address responses to this client carry.
func (c *Client) ReturnAddress() string { return c.returnAddress }

// Invoke calls method on the service registered as objectName. cb may be nil.
func (c *Client) Invoke(ctx context.Context, objectName, method string, cb cbus.Callback, args ...any) error {
	call, err := c.factory.CreateMethodCallByNames(objectName, method, c.returnAddress, argsBody(args), nil)
	if err != nil {
		return err
	}

	return c.bundle.CallWithCallback(ctx, call, cb)
}

// InvokeAddress calls the service answering address. Without a method name the service uses the
// last path element of address. cb may be nil.
func (c *Client) InvokeAddress(ctx context.Context, address, method string, cb cbus.Callback, args ...any) error {
	call, err := c.factory.CreateMethodCallByAddress(address, c.returnAddress, argsBody(args), nil)
	if err != nil {
		return err
	}

	call.MethodName = method

	return c.bundle.CallWithCallback(ctx, call, cb)
}

// Flush hands the calls buffered so far to the router.
func (c *Client) Flush() error { return c.bundle.FlushSends() }

// Service returns a stub bound to objectName.
func (c *Client) Service(objectName string) *Stub {
	return &Stub{client: c, objectName: objectName}
}

// Stub is a client bound to one service. Typed interfaces wrap a Stub by hand.
type Stub struct {
	client     *Client
	objectName string
}

// Name returns the service the stub calls.
func (s *Stub) Name() string { return s.objectName }

// Invoke calls method on the bound service. cb may be nil.
func (s *Stub) Invoke(ctx context.Context, method string, cb cbus.Callback, args ...any) error {
	return s.client.Invoke(ctx, s.objectName, method, cb, args...)
}

// Request calls method on the bound service and hands the result, asserted to R, to done.
// A result of another type is reported as ErrHandlerTypeMismatch.
func Request[R any](ctx context.Context, s *Stub, method string, done func(R, error), args ...any) error {
	return s.Invoke(ctx, method, cbus.CallbackFuncs{
		OnAccept: func(body any) {
			var zero R

			if body == nil {
				done(zero, nil)
				return
			}

			r, ok := body.(R)
			if !ok {
				done(zero, fmt.Errorf("%s.%s returned %T: %w", s.objectName, method, body, berr.ErrHandlerTypeMismatch))
				return
			}

			done(r, nil)
		},
		OnFail: func(err error) {
			var zero R
			done(zero, err)
		},
	}, args...)
}

func argsBody(args []any) any {
	if len(args) == 0 {
		return nil
	}

	return args
}
