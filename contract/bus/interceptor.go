package bus

// BeforeMethodCall inspects a call before it is routed. Returning false vetoes the call.
type BeforeMethodCall interface {
	Before(call MethodCall) bool
}

// BeforeMethodCallFunc adapts a function to BeforeMethodCall.
type BeforeMethodCallFunc func(call MethodCall) bool

func (f BeforeMethodCallFunc) Before(call MethodCall) bool { return f(call) }

// NopBeforeMethodCall allows every call.
type NopBeforeMethodCall struct{}

func (NopBeforeMethodCall) Before(MethodCall) bool { return true }

// ArgTransformer rewrites a call body, for example decoding wire bytes into typed arguments.
type ArgTransformer interface {
	Transform(call MethodCall) (any, error)
}

// ArgTransformerFunc adapts a function to ArgTransformer.
type ArgTransformerFunc func(call MethodCall) (any, error)

func (f ArgTransformerFunc) Transform(call MethodCall) (any, error) { return f(call) }
