// Package codec implements the wire protocols calls and responses travel in when they leave the
// process: JSON and MessagePack. Both share one envelope layout; a batch is an array of envelopes.
package codec

import (
	"errors"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Envelope kinds.
const (
	KindCall     = "call"
	KindResponse = "response"
)

// envelope is the wire form of a call or a response.
type envelope struct {
	Kind          string              `json:"kind"                    msgpack:"kind"`
	ID            int64               `json:"id"                      msgpack:"id"`
	Address       string              `json:"address,omitempty"       msgpack:"address,omitempty"`
	ReturnAddress string              `json:"returnAddress,omitempty" msgpack:"returnAddress,omitempty"`
	ObjectName    string              `json:"objectName,omitempty"    msgpack:"objectName,omitempty"`
	MethodName    string              `json:"methodName,omitempty"    msgpack:"methodName,omitempty"`
	Timestamp     int64               `json:"timestamp,omitempty"     msgpack:"timestamp,omitempty"`
	Params        map[string][]string `json:"params,omitempty"        msgpack:"params,omitempty"`
	Body          any                 `json:"body,omitempty"          msgpack:"body,omitempty"`
	WasErrors     bool                `json:"wasErrors,omitempty"     msgpack:"wasErrors,omitempty"`
	Error         string              `json:"error,omitempty"         msgpack:"error,omitempty"`
}

// RemoteError is the error a failed remote call reports. It matches ErrCallFailed.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Is reports whether target is ErrCallFailed.
func (e *RemoteError) Is(target error) bool { return errors.Is(target, berr.ErrCallFailed) }

// format is one serialization: how to marshal, unmarshal and recognise a payload.
type format struct {
	contentType string
	marshal     func(v any) ([]byte, error)
	unmarshal   func(data []byte, v any) error
	sniff       func(data []byte) bool
	text        bool
}

// Protocol parses and encodes calls and responses in one format.
type Protocol struct {
	f format
}

var (
	_ cbus.ProtocolParser  = (*Protocol)(nil)
	_ cbus.ProtocolEncoder = (*Protocol)(nil)
)

// ContentType names the wire format.
func (p *Protocol) ContentType() string { return p.f.contentType }

// Supports reports whether body is a payload of this format. A Content-Type param decides when
// present; otherwise the first byte of the payload does.
func (p *Protocol) Supports(body any, params cbus.Params) bool {
	if ct := params.Get(cbus.ParamContentType); ct != "" {
		return ct == p.f.contentType
	}

	data, ok := p.bytes(body)
	if !ok {
		return false
	}

	return p.f.sniff(data)
}

// EncodeMethodCall encodes one call.
func (p *Protocol) EncodeMethodCall(call cbus.MethodCall) ([]byte, error) {
	return p.encode(fromCall(call))
}

// EncodeMethodCalls encodes calls as one batch.
func (p *Protocol) EncodeMethodCalls(calls []cbus.MethodCall) ([]byte, error) {
	envs := make([]envelope, len(calls))
	for i, c := range calls {
		envs[i] = fromCall(c)
	}

	return p.encode(envs)
}

// EncodeResponse encodes one response. An error body travels as its message.
func (p *Protocol) EncodeResponse(resp cbus.Response) ([]byte, error) {
	return p.encode(fromResponse(resp))
}

// ParseMethodCall decodes one call.
func (p *Protocol) ParseMethodCall(body any) (cbus.MethodCall, error) {
	var env envelope
	if err := p.decode(body, &env); err != nil {
		return cbus.MethodCall{}, err
	}

	if env.Kind != "" && env.Kind != KindCall {
		return cbus.MethodCall{}, fmt.Errorf("parse call: kind %q: %w", env.Kind, berr.ErrSerializationFailed)
	}

	return env.call(), nil
}

// ParseMethodCalls decodes a batch. A single call is accepted as a batch of one.
func (p *Protocol) ParseMethodCalls(body any) ([]cbus.MethodCall, error) {
	data, ok := p.bytes(body)
	if !ok {
		return nil, fmt.Errorf("parse calls: body %T: %w", body, berr.ErrSerializationFailed)
	}

	var envs []envelope
	if err := p.f.unmarshal(data, &envs); err != nil {
		call, oneErr := p.ParseMethodCall(data)
		if oneErr != nil {
			return nil, fmt.Errorf("parse calls: %w", errors.Join(berr.ErrSerializationFailed, err))
		}

		return []cbus.MethodCall{call}, nil
	}

	out := make([]cbus.MethodCall, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.call())
	}

	return out, nil
}

// ParseResponse decodes one response.
func (p *Protocol) ParseResponse(body any) (cbus.Response, error) {
	var env envelope
	if err := p.decode(body, &env); err != nil {
		return cbus.Response{}, err
	}

	if env.Kind != "" && env.Kind != KindResponse {
		return cbus.Response{}, fmt.Errorf("parse response: kind %q: %w", env.Kind, berr.ErrSerializationFailed)
	}

	return env.response(), nil
}

func (p *Protocol) encode(v any) ([]byte, error) {
	data, err := p.f.marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.f.contentType, errors.Join(berr.ErrSerializationFailed, err))
	}

	return data, nil
}

func (p *Protocol) decode(body any, v any) error {
	data, ok := p.bytes(body)
	if !ok {
		return fmt.Errorf("decode %s: body %T: %w", p.f.contentType, body, berr.ErrSerializationFailed)
	}

	if err := p.f.unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", p.f.contentType, errors.Join(berr.ErrSerializationFailed, err))
	}

	return nil
}

func (p *Protocol) bytes(body any) ([]byte, bool) {
	switch b := body.(type) {
	case []byte:
		return b, true
	case string:
		if p.f.text {
			return []byte(b), true
		}
	}

	return nil, false
}

func fromCall(c cbus.MethodCall) envelope {
	return envelope{
		Kind:          KindCall,
		ID:            c.ID,
		Address:       c.Address,
		ReturnAddress: c.ReturnAddress,
		ObjectName:    c.ObjectName,
		MethodName:    c.MethodName,
		Timestamp:     millis(c.Timestamp),
		Params:        c.Params,
		Body:          c.Body,
	}
}

func fromResponse(r cbus.Response) envelope {
	env := envelope{
		Kind:          KindResponse,
		ID:            r.ID,
		Address:       r.Address,
		ReturnAddress: r.ReturnAddress,
		Timestamp:     millis(r.Timestamp),
		Params:        r.Params,
		Body:          r.Body,
		WasErrors:     r.WasErrors,
	}

	if err, ok := r.Body.(error); ok {
		env.Body = nil
		env.Error = err.Error()
	}

	return env
}

func (e envelope) call() cbus.MethodCall {
	return cbus.MethodCall{
		ID:            e.ID,
		Address:       e.Address,
		ReturnAddress: e.ReturnAddress,
		ObjectName:    e.ObjectName,
		MethodName:    e.MethodName,
		Timestamp:     fromMillis(e.Timestamp),
		Body:          e.Body,
		Params:        e.Params,
	}
}

func (e envelope) response() cbus.Response {
	body := e.Body
	if e.WasErrors && e.Error != "" {
		body = &RemoteError{Message: e.Error}
	}

	return cbus.Response{
		ID:            e.ID,
		Address:       e.Address,
		ReturnAddress: e.ReturnAddress,
		Timestamp:     fromMillis(e.Timestamp),
		Body:          body,
		Params:        e.Params,
		WasErrors:     e.WasErrors,
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}
