package servicebus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/next-trace/scg-call-bus/codec"
	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

// Factory creates services, bundles, calls and remote endpoints sharing one id sequence
// and one set of protocol parsers.
type Factory struct {
	ids atomic.Int64

	cfg      Config
	logger   *slog.Logger
	parsers  []cbus.ProtocolParser
	fallback cbus.ProtocolParser
	encoder  cbus.ProtocolEncoder
}

var _ cbus.ServiceFactory = (*Factory)(nil)

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactoryConfig sets the configuration of the services and bundles the factory creates.
func WithFactoryConfig(cfg Config) FactoryOption {
	return func(f *Factory) { f.cfg = cfg }
}

// WithFactoryLogger sets the logger handed to created services and bundles.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// WithParser appends a protocol parser. Parsers are tried in registration order after JSON.
func WithParser(p cbus.ProtocolParser) FactoryOption {
	return func(f *Factory) { f.parsers = append(f.parsers, p) }
}

// WithEncoder replaces the encoder handed to remote endpoints.
func WithEncoder(e cbus.ProtocolEncoder) FactoryOption {
	return func(f *Factory) { f.encoder = e }
}

// NewFactory returns a factory with the JSON protocol as parser, fallback and encoder.
func NewFactory(opts ...FactoryOption) *Factory {
	j := codec.NewJSON()
	f := &Factory{
		cfg:      DefaultConfig(),
		parsers:  []cbus.ProtocolParser{j},
		fallback: j,
		encoder:  j,
	}

	for _, o := range opts {
		o(f)
	}

	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}

	return f
}

// NextID returns the next call id. Ids start at 1.
func (f *Factory) NextID() int64 { return f.ids.Add(1) }

// CreateService wraps target into a Service publishing on responses.
func (f *Factory) CreateService(
	_ string,
	serviceAddress string,
	target any,
	responses cbus.SendQueue[cbus.Response],
) (cbus.Service, error) {
	return NewService(serviceAddress, target, responses, f.cfg.QueueConfig(), f.logger)
}

// CreateServiceBundle returns a bundle rooted at address that builds its services with f.
func (f *Factory) CreateServiceBundle(address string, opts ...Option) *Bundle {
	base := []Option{WithConfig(f.cfg), WithLogger(f.logger), WithServiceFactory(f)}

	return New(address, append(base, opts...)...)
}

// CreateEncoder returns the encoder used for remote endpoints.
func (f *Factory) CreateEncoder() cbus.ProtocolEncoder { return f.encoder }

// CreateRemoteEndpoint returns a batching endpoint sending encoded calls to address.
func (f *Factory) CreateRemoteEndpoint(address string, sender cbus.Sender, before cbus.BeforeMethodCall) *RemoteEndpoint {
	return NewRemoteEndpoint(f.encoder, address, sender, before,
		WithEndpointBatchSize(f.cfg.BatchSize), WithEndpointLogger(f.logger))
}

// CreateMethodCallByAddress builds a call routed by address.
func (f *Factory) CreateMethodCallByAddress(
	address, returnAddress string,
	body any,
	params cbus.Params,
) (cbus.MethodCall, error) {
	return f.createMethodCall(cbus.MethodCall{
		Address:       address,
		ReturnAddress: returnAddress,
		Body:          body,
		Params:        params,
	})
}

// CreateMethodCallByNames builds a call routed by object name.
func (f *Factory) CreateMethodCallByNames(
	objectName, methodName, returnAddress string,
	body any,
	params cbus.Params,
) (cbus.MethodCall, error) {
	return f.createMethodCall(cbus.MethodCall{
		ObjectName:    objectName,
		MethodName:    methodName,
		ReturnAddress: returnAddress,
		Body:          body,
		Params:        params,
	})
}

// createMethodCall decodes a wire body when a parser claims it and lets the caller's non-empty
// fields win over the decoded ones. Other bodies are used as is.
func (f *Factory) createMethodCall(base cbus.MethodCall) (cbus.MethodCall, error) {
	var call cbus.MethodCall

	if p := f.selectParser(base.Body, base.Params); p != nil {
		parsed, err := p.ParseMethodCall(base.Body)
		if err != nil {
			return cbus.MethodCall{}, fmt.Errorf("create method call: %w", err)
		}

		meta := base
		meta.Body = nil
		call = parsed.Overrides(meta)
	} else {
		call = base.OverridesFromParams()
	}

	return f.stamp(call), nil
}

// CreateMethodCallFromBody decodes a call from a wire body. Relative addresses are joined with
// prefix; params fill routing fields the body left empty.
func (f *Factory) CreateMethodCallFromBody(prefix string, body any, params cbus.Params) (cbus.MethodCall, error) {
	if body == nil {
		return cbus.MethodCall{}, fmt.Errorf("create method call from body: nil body: %w", berr.ErrNoParser)
	}

	p := f.selectParser(body, params)
	if p == nil {
		p = f.fallback
	}

	call, err := p.ParseMethodCall(body)
	if err != nil {
		return cbus.MethodCall{}, fmt.Errorf("create method call from body: %w", err)
	}

	if prefix != "" && call.Address != "" && !strings.HasPrefix(call.Address, "/") {
		call.Address = joinAddress(strings.TrimSuffix(prefix, "/"), call.Address)
	}

	call.Params = call.Params.Merge(params)

	return f.stamp(call.OverridesFromParams()), nil
}

// CreateResponseFromBody decodes a response from a wire body.
func (f *Factory) CreateResponseFromBody(body any) (cbus.Response, error) {
	p := f.selectParser(body, nil)
	if p == nil {
		p = f.fallback
	}

	resp, err := p.ParseResponse(body)
	if err != nil {
		return cbus.Response{}, fmt.Errorf("create response from body: %w", err)
	}

	return resp, nil
}

func (f *Factory) selectParser(body any, params cbus.Params) cbus.ProtocolParser {
	if body == nil {
		return nil
	}

	for _, p := range f.parsers {
		if p.Supports(body, params) {
			return p
		}
	}

	return nil
}

func (f *Factory) stamp(call cbus.MethodCall) cbus.MethodCall {
	if call.ID == 0 {
		call.ID = f.NextID()
	}

	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now()
	}

	return call
}
