package bus

import "context"

// Service is a target object behind its own inbound queue and consumer goroutine.
type Service interface {
	// Name is the stable simple name the service is reachable under.
	Name() string
	// Requests is the queue callers use to reach the service.
	Requests() SendQueue[MethodCall]
	// Addresses lists every full address the service answers to under rootAddress.
	Addresses(rootAddress string) []string
	// Stop halts the consumer goroutine. Later sends are rejected.
	Stop() error
}

// ServiceFactory wraps a target object into a Service publishing its responses on responses.
type ServiceFactory interface {
	CreateService(rootAddress, serviceAddress string, target any, responses SendQueue[Response]) (Service, error)
}

// Invoker lets a target dispatch calls itself instead of going through reflection.
// Targets implementing it are called with the positional arguments of the call body.
type Invoker interface {
	Invoke(ctx context.Context, method string, args []any) (any, error)
}

// Named overrides the service name derived from the target's type.
type Named interface {
	ServiceName() string
}
