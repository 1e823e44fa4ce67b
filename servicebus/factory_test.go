package servicebus_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/next-trace/scg-call-bus/codec"
	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
	"github.com/next-trace/scg-call-bus/servicebus"
)

func TestFactory_IDsIncrease(t *testing.T) {
	f := servicebus.NewFactory()

	a, _ := f.CreateMethodCallByNames("users", "find", "c", nil, nil)
	b, _ := f.CreateMethodCallByNames("users", "find", "c", nil, nil)

	if a.ID == 0 || b.ID <= a.ID {
		t.Fatalf("ids %d, %d", a.ID, b.ID)
	}

	if a.Timestamp.IsZero() {
		t.Fatalf("timestamp not set")
	}
}

func TestFactory_CallerFieldsOverrideParsedBody(t *testing.T) {
	f := servicebus.NewFactory()

	wire, err := codec.NewJSON().EncodeMethodCall(cbus.MethodCall{
		ID:         5,
		Address:    "/wire/address",
		MethodName: "fromWire",
		Body:       []any{"x"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	call, err := f.CreateMethodCallByAddress("/caller/address", "client-9", wire, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if call.Address != "/caller/address" || call.ReturnAddress != "client-9" {
		t.Fatalf("caller fields lost: %+v", call)
	}

	if call.MethodName != "fromWire" || call.ID != 5 {
		t.Fatalf("wire fields lost: %+v", call)
	}

	if args, ok := call.Body.([]any); !ok || len(args) != 1 {
		t.Fatalf("body=%#v", call.Body)
	}
}

func TestFactory_PlainBodyTakesRoutingFromParams(t *testing.T) {
	f := servicebus.NewFactory()
	params := cbus.Params{}
	params.Add(cbus.ParamObjectName, "users")
	params.Add(cbus.ParamMethodName, "find")

	call, err := f.CreateMethodCallByAddress("", "c", []any{"bob"}, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if call.ObjectName != "users" || call.MethodName != "find" {
		t.Fatalf("params not applied: %+v", call)
	}
}

func TestFactory_FromBodyJoinsRelativeAddress(t *testing.T) {
	f := servicebus.NewFactory(servicebus.WithParser(codec.NewMsgpack()))

	for _, p := range []*codec.Protocol{codec.NewJSON(), codec.NewMsgpack()} {
		wire, _ := p.EncodeMethodCall(cbus.MethodCall{Address: "users/find"})

		call, err := f.CreateMethodCallFromBody("/app/", wire, nil)
		if err != nil {
			t.Fatalf("%s: %v", p.ContentType(), err)
		}

		if call.Address != "/app/users/find" {
			t.Fatalf("%s: address=%q", p.ContentType(), call.Address)
		}

		if call.ID == 0 {
			t.Fatalf("%s: id not assigned", p.ContentType())
		}
	}

	abs, _ := codec.NewJSON().EncodeMethodCall(cbus.MethodCall{Address: "/other/x"})
	if call, _ := f.CreateMethodCallFromBody("/app", abs, nil); call.Address != "/other/x" {
		t.Fatalf("absolute address rewritten: %q", call.Address)
	}

	if _, err := f.CreateMethodCallFromBody("/app", nil, nil); !errors.Is(err, berr.ErrNoParser) {
		t.Fatalf("want ErrNoParser, got %v", err)
	}

	if _, err := f.CreateMethodCallFromBody("/app", []byte("garbage"), nil); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}

func TestFactory_ResponseFromBody(t *testing.T) {
	f := servicebus.NewFactory()

	wire, _ := codec.NewJSON().EncodeResponse(cbus.Response{ID: 42, ReturnAddress: "client-1", Body: "ok"})

	resp, err := f.CreateResponseFromBody(wire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if resp.Key() != (cbus.HandlerKey{ReturnAddress: "client-1", ID: 42}) || resp.Body != "ok" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestFactory_CreateServiceBundleUsesFactoryServices(t *testing.T) {
	f := servicebus.NewFactory(servicebus.WithFactoryConfig(testConfig()))
	b := f.CreateServiceBundle("/root/")
	t.Cleanup(func() { _ = b.Stop() })

	if b.Address() != "/root" {
		t.Fatalf("address=%q", b.Address())
	}

	if err := b.AddService("", userService{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if f.CreateEncoder().ContentType() != codec.ContentTypeJSON {
		t.Fatalf("default encoder is %s", f.CreateEncoder().ContentType())
	}

	ep := f.CreateRemoteEndpoint("/r", &recordingSender{}, nil)
	if ep.Address() != "/r" {
		t.Fatalf("endpoint address=%q", ep.Address())
	}
}

func TestServiceName(t *testing.T) {
	if got := servicebus.ServiceName(&userService{}); got != "userService" {
		t.Fatalf("got %q", got)
	}

	if got := servicebus.ServiceName(&tagged{name: "custom"}); got != "custom" {
		t.Fatalf("got %q", got)
	}
}

func TestClient_TypedRequest(t *testing.T) {
	b := newBundle(t, "/app")
	_ = b.AddService("", userService{})

	c := servicebus.NewClient(b, nil, "")
	if !strings.HasPrefix(c.ReturnAddress(), "client-") {
		t.Fatalf("return address %q", c.ReturnAddress())
	}

	type result struct {
		v   string
		err error
	}

	done := make(chan result, 2)
	users := c.Service("userService")

	if err := servicebus.Request(t.Context(), users, "Find", func(v string, err error) { done <- result{v, err} }, "kim"); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := servicebus.Request(t.Context(), users, "Add", func(v string, err error) { done <- result{v, err} }, 1, 2); err != nil {
		t.Fatalf("request: %v", err)
	}

	_ = c.Flush()

	got := map[bool]result{}
	for i := 0; i < 2; i++ {
		r := <-done
		got[r.err == nil] = r
	}

	if got[true].v != "user:kim" {
		t.Fatalf("find: %+v", got[true])
	}

	if !errors.Is(got[false].err, berr.ErrHandlerTypeMismatch) {
		t.Fatalf("add into string: %+v", got[false])
	}
}

func TestClient_InvokeAddress(t *testing.T) {
	b := newBundle(t, "/app")
	_ = b.AddService("/app/users", userService{})

	c := servicebus.NewClient(b, servicebus.NewFactory(), "client-1")
	cb, ch := capture()

	if err := c.InvokeAddress(t.Context(), "/app/users/Find", "", cb, "lee"); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if o := await(t, ch); o.body != "user:lee" {
		t.Fatalf("got %+v", o)
	}
}
