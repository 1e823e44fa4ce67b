package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
	"github.com/next-trace/scg-call-bus/queue"
)

// Service wraps one target behind its own request queue and consumer goroutine.
// Calls sent after Stop are rejected with ErrQueueStopped.
type Service struct {
	name    string
	address string
	target  any
	invoker cbus.Invoker
	methods methodTable

	q         *queue.Queue[cbus.MethodCall]
	requests  *queue.SendQueue[cbus.MethodCall]
	responses cbus.SendQueue[cbus.Response]

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

var _ cbus.Service = (*Service)(nil)

// NewService wraps target and starts its consumer. Responses are published on responses.
func NewService(
	serviceAddress string,
	target any,
	responses cbus.SendQueue[cbus.Response],
	cfg queue.Config,
	logger *slog.Logger,
) (*Service, error) {
	if target == nil {
		return nil, fmt.Errorf("create service: nil target: %w", berr.ErrHandlerTypeMismatch)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	name := ServiceName(target)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		name:      name,
		address:   serviceAddress,
		target:    target,
		responses: responses,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("service", name),
	}

	if inv, ok := target.(cbus.Invoker); ok {
		s.invoker = inv
	} else {
		s.methods = newMethodTable(target)
	}

	s.q = queue.New[cbus.MethodCall]("service:"+name, cfg, logger)
	s.requests = s.q.SendQueue()

	if err := s.q.StartListener(cbus.ListenerFuncs[cbus.MethodCall]{
		OnReceive:  s.receive,
		OnEmpty:    s.flushResponses,
		OnLimit:    s.flushResponses,
		OnShutdown: s.flushResponses,
	}); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

// ServiceName returns the name target is registered under: its ServiceName when it implements
// Named, otherwise its type name with a lower-case first letter.
func ServiceName(target any) string {
	if n, ok := target.(cbus.Named); ok {
		return n.ServiceName()
	}

	t := reflect.TypeOf(target)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	name := t.Name()
	r, size := utf8.DecodeRuneInString(name)

	if r == utf8.RuneError {
		return name
	}

	return string(unicode.ToLower(r)) + name[size:]
}

// Name returns the simple service name.
func (s *Service) Name() string { return s.name }

// Requests returns the queue callers use to reach the service.
func (s *Service) Requests() cbus.SendQueue[cbus.MethodCall] { return s.requests }

// Addresses lists the explicit address, root/name and, when the explicit address is not already
// under root, root joined with it.
func (s *Service) Addresses(root string) []string {
	out := make([]string, 0, 3)
	add := func(a string) {
		for _, have := range out {
			if have == a {
				return
			}
		}

		out = append(out, a)
	}

	if s.address != "" {
		add(s.address)
	}

	add(joinAddress(root, s.name))

	if s.address != "" && !underRoot(root, s.address) {
		add(joinAddress(root, s.address))
	}

	return out
}

// Stop drains calls already handed to the service and stops its consumer.
func (s *Service) Stop() error {
	s.q.Stop()
	s.cancel()

	return nil
}

// Stats returns the request queue counters.
func (s *Service) Stats() queue.Stats { return s.q.Stats() }

func (s *Service) receive(call cbus.MethodCall) {
	body, err := s.invoke(call)

	var resp cbus.Response
	if err != nil {
		s.logger.Debug("call failed", "address", call.Address, "method", call.MethodName, "id", call.ID, "err", err)
		resp = cbus.ResponseTo(call, err, true)
	} else {
		resp = cbus.ResponseTo(call, body, false)
	}

	if err := s.responses.Send(resp); err != nil {
		s.logger.Warn("response not sent", "id", call.ID, "err", err)
	}
}

func (s *Service) invoke(call cbus.MethodCall) (result any, err error) {
	method := methodName(call)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("call %s.%s: panic: %v: %w", s.name, method, r, berr.ErrInvocationFailed)
		}
	}()

	args := callArgs(call.Body)

	if s.invoker != nil {
		return s.invoker.Invoke(s.ctx, method, args)
	}

	m, ok := s.methods.lookup(method)
	if !ok {
		return nil, fmt.Errorf("call %s.%s: %w", s.name, method, berr.ErrMethodNotFound)
	}

	return m.call(s.ctx, args)
}

func (s *Service) flushResponses() {
	if err := s.responses.FlushSends(); err != nil {
		s.logger.Warn("flush responses", "err", err)
	}
}

// methodName returns the call's method name, or the last path element of its address.
func methodName(call cbus.MethodCall) string {
	if call.MethodName != "" {
		return call.MethodName
	}

	a := strings.TrimSuffix(call.Address, "/")
	if i := strings.LastIndexByte(a, '/'); i >= 0 {
		return a[i+1:]
	}

	return a
}

func joinAddress(root, address string) string {
	return root + "/" + strings.TrimPrefix(address, "/")
}

func underRoot(root, address string) bool {
	return root == "" || address == root || strings.HasPrefix(address, root+"/")
}
