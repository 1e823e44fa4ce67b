package bus

// ProtocolParser decodes wire bodies into calls and responses.
type ProtocolParser interface {
	// Supports reports whether the parser understands body given its params.
	Supports(body any, params Params) bool
	ParseMethodCall(body any) (MethodCall, error)
	ParseMethodCalls(body any) ([]MethodCall, error)
	ParseResponse(body any) (Response, error)
}

// ProtocolEncoder encodes calls and responses into wire form.
type ProtocolEncoder interface {
	EncodeMethodCall(call MethodCall) ([]byte, error)
	EncodeMethodCalls(calls []MethodCall) ([]byte, error)
	EncodeResponse(resp Response) ([]byte, error)
	// ContentType names the wire format, e.g. "application/json".
	ContentType() string
}
