// Package memory builds a ready to use in-process call bus.
package memory

import (
	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	"github.com/next-trace/scg-call-bus/servicebus"
)

// New constructs a root bundle and returns it as a bus.Bundle along with a cleanup function
// that stops it.
func New(opts ...servicebus.Option) (cbus.Bundle, func()) { //nolint:ireturn
	b := servicebus.New("", opts...)
	cleanup := func() { _ = b.Stop() }

	return b, cleanup
}
