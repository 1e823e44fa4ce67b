package codec_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-call-bus/codec"
	cbus "github.com/next-trace/scg-call-bus/contract/bus"
	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

func sampleCall() cbus.MethodCall {
	return cbus.MethodCall{
		ID:            42,
		Address:       "/app/users/find",
		ReturnAddress: "client-1",
		ObjectName:    "users",
		MethodName:    "find",
		Timestamp:     time.UnixMilli(1_700_000_000_000),
		Body:          []any{"alice", 3},
		Params:        cbus.Params{"tenant": {"acme"}},
	}
}

func TestProtocols_CallFields(t *testing.T) {
	for _, p := range []*codec.Protocol{codec.NewJSON(), codec.NewMsgpack()} {
		t.Run(p.ContentType(), func(t *testing.T) {
			data, err := p.EncodeMethodCall(sampleCall())
			require.NoError(t, err)
			require.True(t, p.Supports(data, nil))

			got, err := p.ParseMethodCall(data)
			require.NoError(t, err)

			want := sampleCall()
			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Address, got.Address)
			assert.Equal(t, want.ReturnAddress, got.ReturnAddress)
			assert.Equal(t, want.ObjectName, got.ObjectName)
			assert.Equal(t, want.MethodName, got.MethodName)
			assert.True(t, want.Timestamp.Equal(got.Timestamp))
			assert.Equal(t, "acme", got.Params.Get("tenant"))

			args, ok := got.Body.([]any)
			require.True(t, ok, "body %T", got.Body)
			require.Len(t, args, 2)
			assert.Equal(t, "alice", args[0])
		})
	}
}

func TestProtocols_Batch(t *testing.T) {
	for _, p := range []*codec.Protocol{codec.NewJSON(), codec.NewMsgpack()} {
		t.Run(p.ContentType(), func(t *testing.T) {
			a, b := sampleCall(), sampleCall()
			b.ID = 43

			data, err := p.EncodeMethodCalls([]cbus.MethodCall{a, b})
			require.NoError(t, err)

			calls, err := p.ParseMethodCalls(data)
			require.NoError(t, err)
			require.Len(t, calls, 2)
			assert.Equal(t, int64(42), calls[0].ID)
			assert.Equal(t, int64(43), calls[1].ID)

			one, err := p.EncodeMethodCall(a)
			require.NoError(t, err)

			calls, err = p.ParseMethodCalls(one)
			require.NoError(t, err)
			require.Len(t, calls, 1)
		})
	}
}

func TestProtocols_ErrorResponse(t *testing.T) {
	for _, p := range []*codec.Protocol{codec.NewJSON(), codec.NewMsgpack()} {
		t.Run(p.ContentType(), func(t *testing.T) {
			resp := cbus.ResponseTo(sampleCall(), errors.New("boom"), true)

			data, err := p.EncodeResponse(resp)
			require.NoError(t, err)

			got, err := p.ParseResponse(data)
			require.NoError(t, err)
			assert.True(t, got.WasErrors)
			assert.Equal(t, resp.Key(), got.Key())

			rerr, ok := got.Body.(error)
			require.True(t, ok)
			assert.EqualError(t, rerr, "boom")
			assert.ErrorIs(t, rerr, berr.ErrCallFailed)
		})
	}
}

func TestProtocols_KindMismatch(t *testing.T) {
	p := codec.NewJSON()

	data, err := p.EncodeResponse(cbus.Response{ID: 1})
	require.NoError(t, err)

	_, err = p.ParseMethodCall(data)
	assert.ErrorIs(t, err, berr.ErrSerializationFailed)

	_, err = p.ParseResponse([]byte("{not json"))
	assert.ErrorIs(t, err, berr.ErrSerializationFailed)

	_, err = p.ParseResponse(17)
	assert.ErrorIs(t, err, berr.ErrSerializationFailed)
}

func TestSupports(t *testing.T) {
	j, m := codec.NewJSON(), codec.NewMsgpack()

	assert.True(t, j.Supports(`  {"id":1}`, nil))
	assert.True(t, j.Supports([]byte("[1]"), nil))
	assert.False(t, j.Supports([]byte("hello"), nil))
	assert.False(t, j.Supports([]any{1}, nil))

	assert.True(t, m.Supports([]byte{0x81, 0xa1, 'a', 0x01}, nil))
	assert.False(t, m.Supports("{}", nil))

	params := cbus.Params{cbus.ParamContentType: {codec.ContentTypeMsgpack}}
	assert.False(t, j.Supports([]byte("{}"), params))
	assert.True(t, m.Supports([]byte("{}"), params))
}

func TestJSONArgs(t *testing.T) {
	got, err := codec.JSONArgs.Transform(cbus.MethodCall{Body: []byte(`["x", 2]`)})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", float64(2)}, got)

	got, err = codec.JSONArgs.Transform(cbus.MethodCall{Body: []any{1}})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, got)

	_, err = codec.JSONArgs.Transform(cbus.MethodCall{Body: `[1,`})
	assert.ErrorIs(t, err, berr.ErrSerializationFailed)
}
