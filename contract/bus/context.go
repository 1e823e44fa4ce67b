package bus

import "context"

// HeaderPropagator injects request-scoped context (trace ids, tenant, deadlines) into the headers
// a Sender attaches to an outgoing payload. Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// HeaderPropagatorFunc adapts a function to HeaderPropagator.
type HeaderPropagatorFunc func(ctx context.Context, headers map[string]string)

func (f HeaderPropagatorFunc) Inject(ctx context.Context, headers map[string]string) { f(ctx, headers) }

// NopHeaderPropagator is a no-op implementation useful for tests or when tracing is disabled.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}
