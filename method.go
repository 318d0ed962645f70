package dbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// invokeFunc runs a handler whose arguments have already been
// decoded, and returns its output values.
type invokeFunc func(ctx context.Context, call *Call) ([]Value, error)

// prepareFunc decodes call arguments for a handler. It returns a
// SignatureError if the arguments don't have the required shape.
type prepareFunc func(args []Value) (invokeFunc, error)

// RawHandler is a method handler that works directly with Values.
//
// args has exactly one Value per declared input, each of which has
// been checked against the declared input type. The handler must
// return one Value per declared output.
type RawHandler func(ctx context.Context, call *Call, args []Value) ([]Value, error)

// Method describes a method of an [Interface].
type Method struct {
	name     string
	in, out  []Type
	inNames  []string
	outNames []string
	prepare  prepareFunc
}

// Name returns the method's name.
func (m *Method) Name() string { return m.name }

// In returns the method's input signature.
func (m *Method) In() string { return signatureString(m.in) }

// Out returns the method's output signature.
func (m *Method) Out() string { return signatureString(m.out) }

// A MethodOption configures optional aspects of a method.
type MethodOption func(*Method) error

// InNames sets the names of the method's input arguments, as shown
// in introspection data. By default, arguments are named arg_N.
func InNames(names ...string) MethodOption {
	return func(m *Method) error {
		if len(names) != len(m.in) {
			return fmt.Errorf("got %d input names for %d inputs", len(names), len(m.in))
		}
		m.inNames = slices.Clone(names)
		return nil
	}
}

// OutNames sets the names of the method's output arguments, as shown
// in introspection data. By default, arguments are named arg_N.
func OutNames(names ...string) MethodOption {
	return func(m *Method) error {
		if len(names) != len(m.out) {
			return fmt.Errorf("got %d output names for %d outputs", len(names), len(m.out))
		}
		m.outNames = slices.Clone(names)
		return nil
	}
}

// MethodFunc adds a method implemented by the Go function fn.
//
// in and out are the DBus signatures of the method's inputs and
// outputs. fn must have the form
//
//	func(context.Context, *dbus.Call, In0, In1, ...) (Out0, Out1, ..., error)
//
// with one Go parameter per input type and one Go result per output
// type, each of which must be able to represent its DBus type. A
// method with several outputs may instead return a single struct
// whose exported fields correspond to the outputs in order.
func MethodFunc(name string, fn any, in, out string, opts ...MethodOption) InterfaceOption {
	return func(f *Interface) error {
		m, err := newMethod(f, name, in, out, opts)
		if err != nil {
			return err
		}
		m.prepare, err = handlerForFunc(fn, m.in, m.out)
		if err != nil {
			return f.memberErr(name, err)
		}
		return f.addMethod(m)
	}
}

// RawMethod adds a method implemented by the RawHandler fn.
func RawMethod(name, in, out string, fn RawHandler, opts ...MethodOption) InterfaceOption {
	return func(f *Interface) error {
		if fn == nil {
			return f.memberErr(name, errors.New("nil handler"))
		}
		m, err := newMethod(f, name, in, out, opts)
		if err != nil {
			return err
		}
		ins := m.in
		m.prepare = func(args []Value) (invokeFunc, error) {
			for i, a := range args {
				if err := CheckValue(ins[i], a); err != nil {
					return nil, err
				}
			}
			return func(ctx context.Context, call *Call) ([]Value, error) {
				return fn(ctx, call, args)
			}, nil
		}
		return f.addMethod(m)
	}
}

func newMethod(f *Interface, name, in, out string, opts []MethodOption) (*Method, error) {
	if err := validMemberName(name); err != nil {
		return nil, f.memberErr(name, err)
	}
	ins, err := ParseSignature(in)
	if err != nil {
		return nil, f.memberErr(name, fmt.Errorf("input signature: %w", err))
	}
	outs, err := ParseSignature(out)
	if err != nil {
		return nil, f.memberErr(name, fmt.Errorf("output signature: %w", err))
	}
	ret := &Method{
		name: name,
		in:   ins,
		out:  outs,
	}
	for _, o := range opts {
		if err := o(ret); err != nil {
			return nil, f.memberErr(name, err)
		}
	}
	return ret, nil
}

var (
	contextType = reflect.TypeFor[context.Context]()
	callType    = reflect.TypeFor[*Call]()
	errorType   = reflect.TypeFor[error]()
)

// handlerForFunc adapts fn into a prepareFunc for a method with the
// given input and output types.
func handlerForFunc(fn any, in, out []Type) (prepareFunc, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler %T is not a function", fn)
	}
	if v.IsNil() {
		return nil, errors.New("nil handler")
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, errors.New("handler must not be variadic")
	}
	if t.NumIn() != len(in)+2 {
		return nil, fmt.Errorf("handler takes %d arguments, want context.Context, *dbus.Call and %d method arguments", t.NumIn(), len(in))
	}
	if t.In(0) != contextType {
		return nil, fmt.Errorf("handler's first argument must be context.Context, got %s", t.In(0))
	}
	if t.In(1) != callType {
		return nil, fmt.Errorf("handler's second argument must be *dbus.Call, got %s", t.In(1))
	}
	ins := make([]*codec, len(in))
	for i, it := range in {
		c, err := codecFor(it, t.In(i+2))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		ins[i] = c
	}

	if t.NumOut() == 0 || t.Out(t.NumOut()-1) != errorType {
		return nil, errors.New("handler's last result must be error")
	}
	nOut := t.NumOut() - 1
	var (
		outs      []*codec
		outStruct *codec
	)
	switch {
	case nOut == len(out):
		outs = make([]*codec, nOut)
		for i, ot := range out {
			c, err := codecFor(ot, t.Out(i))
			if err != nil {
				return nil, fmt.Errorf("result %d: %w", i, err)
			}
			outs[i] = c
		}
	case nOut == 1 && len(out) > 1:
		c, err := codecFor(StructOf(out...), t.Out(0))
		if err != nil {
			return nil, fmt.Errorf("result struct: %w", err)
		}
		outStruct = c
	default:
		return nil, fmt.Errorf("handler returns %d values, want %d and an error", nOut, len(out))
	}

	prepare := func(args []Value) (invokeFunc, error) {
		callArgs := make([]reflect.Value, len(args)+2)
		for i, a := range args {
			av := reflect.New(t.In(i + 2)).Elem()
			if err := ins[i].decode(a, av); err != nil {
				return nil, err
			}
			callArgs[i+2] = av
		}
		invoke := func(ctx context.Context, call *Call) ([]Value, error) {
			callArgs[0] = reflect.ValueOf(&ctx).Elem()
			callArgs[1] = reflect.ValueOf(call)
			res := v.Call(callArgs)
			if err, _ := res[nOut].Interface().(error); err != nil {
				return nil, err
			}
			if outStruct != nil {
				ret := outStruct.encode(res[0])
				if st, ok := ret.(Struct); ok {
					return []Value(st), nil
				}
				// A raw Value result of the wrong shape fails the
				// caller's output check.
				return []Value{ret}, nil
			}
			if nOut == 0 {
				return nil, nil
			}
			ret := make([]Value, nOut)
			for i, oc := range outs {
				ret[i] = oc.encode(res[i])
			}
			return ret, nil
		}
		return invoke, nil
	}
	return prepare, nil
}
