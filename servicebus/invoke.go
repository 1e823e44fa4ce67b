package servicebus

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"

	berr "github.com/next-trace/scg-call-bus/contract/errors"
)

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
)

// methodType is one exported method of a service target.
type methodType struct {
	name    string
	fn      reflect.Value
	in      []reflect.Type
	withCtx bool
	result  bool
	errOut  bool
}

// methodTable is built once per target. Lookups are by exact name, then case-insensitive.
type methodTable struct {
	exact map[string]*methodType
	fold  map[string]*methodType
}

// newMethodTable scans the exported methods of target. Accepted shapes take an optional leading
// context.Context and return nothing, a value, an error, or a value and an error.
func newMethodTable(target any) methodTable {
	t := methodTable{exact: make(map[string]*methodType), fold: make(map[string]*methodType)}

	val := reflect.ValueOf(target)
	typ := val.Type()

	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if !m.IsExported() {
			continue
		}

		mt, ok := newMethodType(m.Name, val.Method(i))
		if !ok {
			continue
		}

		t.exact[m.Name] = mt

		key := strings.ToLower(m.Name)
		if _, dup := t.fold[key]; !dup {
			t.fold[key] = mt
		}
	}

	return t
}

func newMethodType(name string, fn reflect.Value) (*methodType, bool) {
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, false
	}

	mt := &methodType{name: name, fn: fn}

	for i := 0; i < ft.NumIn(); i++ {
		in := ft.In(i)
		if i == 0 && in == contextType {
			mt.withCtx = true
			continue
		}

		mt.in = append(mt.in, in)
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			mt.errOut = true
		} else {
			mt.result = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, false
		}

		mt.result, mt.errOut = true, true
	default:
		return nil, false
	}

	return mt, true
}

func (t methodTable) lookup(name string) (*methodType, bool) {
	if m, ok := t.exact[name]; ok {
		return m, true
	}

	m, ok := t.fold[strings.ToLower(name)]

	return m, ok
}

// call invokes the method with positional args.
func (m *methodType) call(ctx context.Context, args []any) (any, error) {
	if len(args) != len(m.in) {
		return nil, fmt.Errorf("call %s: want %d args, got %d: %w", m.name, len(m.in), len(args), berr.ErrArgumentMismatch)
	}

	in := make([]reflect.Value, 0, len(m.in)+1)
	if m.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}

	for i, a := range args {
		v, err := convertArg(a, m.in[i])
		if err != nil {
			return nil, fmt.Errorf("call %s arg %d: %w", m.name, i, err)
		}

		in = append(in, v)
	}

	out := m.fn.Call(in)

	var (
		result any
		err    error
	)

	if m.result {
		result = out[0].Interface()
	}

	if m.errOut {
		if e := out[len(out)-1]; !e.IsNil() {
			err, _ = e.Interface().(error)
		}
	}

	return result, err
}

// callArgs spreads a call body into positional arguments.
func callArgs(body any) []any {
	switch b := body.(type) {
	case nil:
		return nil
	case []any:
		return b
	default:
		return []any{b}
	}
}

func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(t), nil
	}

	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, nil
	}

	if convertible(v.Type(), t) {
		if !fits(v, t) {
			return reflect.Value{}, fmt.Errorf("%v does not fit %s: %w", a, t, berr.ErrArgumentMismatch)
		}

		return v.Convert(t), nil
	}

	return reflect.Value{}, fmt.Errorf("%s to %s: %w", v.Type(), t, berr.ErrArgumentMismatch)
}

// convertible allows numeric conversions and conversions between types of the same kind.
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}

	return from.Kind() == to.Kind() || (numeric(from) && numeric(to))
}

func numeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// fits reports whether the numeric value v converts to t without truncation or overflow.
// Non-numeric values always fit.
func fits(v reflect.Value, t reflect.Type) bool {
	if !numeric(v.Type()) || !numeric(t) {
		return true
	}

	z := reflect.Zero(t)

	switch {
	case v.CanFloat():
		f := v.Float()

		switch {
		case z.CanFloat():
			return t.Kind() == reflect.Float64 || math.IsInf(f, 0) || !z.OverflowFloat(f)
		case f != math.Trunc(f):
			return false
		case z.CanInt():
			return f >= -0x1p63 && f < 0x1p63 && !z.OverflowInt(int64(f))
		default:
			return f >= 0 && f < 0x1p64 && !z.OverflowUint(uint64(f))
		}
	case v.CanInt():
		i := v.Int()

		switch {
		case z.CanInt():
			return !z.OverflowInt(i)
		case z.CanUint():
			return i >= 0 && !z.OverflowUint(uint64(i))
		}
	case v.CanUint():
		u := v.Uint()

		switch {
		case z.CanInt():
			return u <= math.MaxInt64 && !z.OverflowInt(int64(u))
		case z.CanUint():
			return !z.OverflowUint(u)
		}
	}

	return true
}
