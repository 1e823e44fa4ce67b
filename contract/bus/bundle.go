package bus

import "context"

// Bundle is the tech-agnostic view of a service bundle: a router and lifecycle manager
// composing many services under one root address.
type Bundle interface {
	Address() string
	AddService(serviceAddress string, target any) error
	Call(ctx context.Context, call MethodCall) error
	CallWithCallback(ctx context.Context, call MethodCall, cb Callback) error
	FlushSends() error
	EndPoints() []string
	Stop() error
}
