package bus

import (
	"maps"
	"slices"
	"time"
)

// Params is a string multi-map carried next to a call or response body as side-channel metadata.
type Params map[string][]string

// Add appends value to the values stored under key.
func (p Params) Add(key, value string) { p[key] = append(p[key], value) }

// Get returns the first value stored under key, or "".
func (p Params) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}

	return ""
}

// Values returns every value stored under key.
func (p Params) Values(key string) []string { return p[key] }

// Clone returns a deep copy. A nil receiver yields nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}

	out := make(Params, len(p))
	for k, vs := range p {
		out[k] = slices.Clone(vs)
	}

	return out
}

// Merge returns a copy of p with the values of other appended key by key.
func (p Params) Merge(other Params) Params {
	if len(other) == 0 {
		return p.Clone()
	}

	out := p.Clone()
	if out == nil {
		out = make(Params, len(other))
	}

	for _, k := range slices.Sorted(maps.Keys(other)) {
		out[k] = append(out[k], other[k]...)
	}

	return out
}

// Well-known param keys used to carry routing fields when a transport only preserves params.
const (
	ParamAddress       = "address"
	ParamReturnAddress = "returnAddress"
	ParamObjectName    = "objectName"
	ParamMethodName    = "methodName"
	ParamContentType   = "Content-Type"
)

// HandlerKey identifies the pending callback a response satisfies.
// The empty return address is a regular value and equals itself.
type HandlerKey struct {
	ReturnAddress string
	ID            int64
}

// MethodCall is a request addressed to a service. It is a value: pass it around by copy and
// derive new calls with WithBody or Overrides instead of mutating fields of a shared instance.
type MethodCall struct {
	ID            int64
	Address       string
	ReturnAddress string
	ObjectName    string
	MethodName    string
	Timestamp     time.Time
	Body          any
	Params        Params
}

// Key returns the correlation key of the call.
func (m MethodCall) Key() HandlerKey { return HandlerKey{ReturnAddress: m.ReturnAddress, ID: m.ID} }

// WithBody returns a copy of the call carrying body. Every other field is copied.
func (m MethodCall) WithBody(body any) MethodCall {
	out := m
	out.Body = body
	out.Params = m.Params.Clone()

	return out
}

// Overrides returns a copy of m where every non-empty field of other replaces the field of m.
// Params are merged, other's values appended after m's.
func (m MethodCall) Overrides(other MethodCall) MethodCall {
	out := m
	if other.ID != 0 {
		out.ID = other.ID
	}

	if other.Address != "" {
		out.Address = other.Address
	}

	if other.ReturnAddress != "" {
		out.ReturnAddress = other.ReturnAddress
	}

	if other.ObjectName != "" {
		out.ObjectName = other.ObjectName
	}

	if other.MethodName != "" {
		out.MethodName = other.MethodName
	}

	if !other.Timestamp.IsZero() {
		out.Timestamp = other.Timestamp
	}

	if other.Body != nil {
		out.Body = other.Body
	}

	out.Params = m.Params.Merge(other.Params)

	return out
}

// OverridesFromParams fills empty routing fields from the well-known params.
func (m MethodCall) OverridesFromParams() MethodCall {
	out := m
	if out.Address == "" {
		out.Address = m.Params.Get(ParamAddress)
	}

	if out.ReturnAddress == "" {
		out.ReturnAddress = m.Params.Get(ParamReturnAddress)
	}

	if out.ObjectName == "" {
		out.ObjectName = m.Params.Get(ParamObjectName)
	}

	if out.MethodName == "" {
		out.MethodName = m.Params.Get(ParamMethodName)
	}

	return out
}

// Response is the asynchronous result of a MethodCall. ID and ReturnAddress select the callback.
type Response struct {
	ID            int64
	Address       string
	ReturnAddress string
	Timestamp     time.Time
	Body          any
	Params        Params
	WasErrors     bool
}

// Key returns the correlation key of the response.
func (r Response) Key() HandlerKey { return HandlerKey{ReturnAddress: r.ReturnAddress, ID: r.ID} }

// ResponseTo builds the response for call carrying body.
func ResponseTo(call MethodCall, body any, wasErrors bool) Response {
	return Response{
		ID:            call.ID,
		Address:       call.Address,
		ReturnAddress: call.ReturnAddress,
		Timestamp:     time.Now(),
		Body:          body,
		Params:        call.Params.Clone(),
		WasErrors:     wasErrors,
	}
}
