package dbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// getterFunc reads a property's current value.
type getterFunc func(ctx context.Context, call *Call) (Value, error)

// setterFunc checks a new property value, and returns a function that
// stores it.
type setterFunc func(v Value) (func(ctx context.Context, call *Call) error, error)

// Property describes a property of an [Interface].
type Property struct {
	name string
	typ  Type
	get  getterFunc
	set  setterFunc
}

// Name returns the property's name.
func (p *Property) Name() string { return p.name }

// Type returns the property's type.
func (p *Property) Type() Type { return p.typ }

// Readable reports whether the property has a getter.
func (p *Property) Readable() bool { return p.get != nil }

// Writable reports whether the property has a setter.
func (p *Property) Writable() bool { return p.set != nil }

// Access returns the property's access mode as written in
// introspection data: "read", "write" or "readwrite".
func (p *Property) Access() string {
	ret := ""
	if p.Readable() {
		ret += "read"
	}
	if p.Writable() {
		ret += "write"
	}
	return ret
}

// A PropertyOption configures the accessors of a property.
type PropertyOption func(*Property) error

// PropertyFunc adds a property of the given type to the interface.
// At least one of a getter and a setter must be provided.
func PropertyFunc(name, sig string, accessors ...PropertyOption) InterfaceOption {
	return func(f *Interface) error {
		if err := validMemberName(name); err != nil {
			return f.memberErr(name, err)
		}
		t, err := ParseType(sig)
		if err != nil {
			return f.memberErr(name, err)
		}
		p := &Property{
			name: name,
			typ:  t,
		}
		var errs []error
		for _, a := range accessors {
			if err := a(p); err != nil {
				errs = append(errs, f.memberErr(name, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
		if p.get == nil && p.set == nil {
			return f.memberErr(name, errors.New("property has neither getter nor setter"))
		}
		return f.addProperty(p)
	}
}

// Getter sets the getter of a property to the Go function fn, which
// must have the form
//
//	func(context.Context, *dbus.Call) (T, error)
//
// where T can represent the property's type.
func Getter(fn any) PropertyOption {
	return func(p *Property) error {
		if p.get != nil {
			return errors.New("multiple getters")
		}
		v := reflect.ValueOf(fn)
		if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
			return fmt.Errorf("getter %T is not a function", fn)
		}
		t := v.Type()
		if t.NumIn() != 2 || t.In(0) != contextType || t.In(1) != callType {
			return fmt.Errorf("getter must take (context.Context, *dbus.Call), got %s", t)
		}
		if t.NumOut() != 2 || t.Out(1) != errorType {
			return fmt.Errorf("getter must return (T, error), got %s", t)
		}
		c, err := codecFor(p.typ, t.Out(0))
		if err != nil {
			return err
		}
		p.get = func(ctx context.Context, call *Call) (Value, error) {
			res := v.Call([]reflect.Value{reflect.ValueOf(&ctx).Elem(), reflect.ValueOf(call)})
			if err, _ := res[1].Interface().(error); err != nil {
				return nil, err
			}
			return c.encode(res[0]), nil
		}
		return nil
	}
}

// Setter sets the setter of a property to the Go function fn, which
// must have the form
//
//	func(context.Context, *dbus.Call, T) error
//
// where T can represent the property's type.
func Setter(fn any) PropertyOption {
	return func(p *Property) error {
		if p.set != nil {
			return errors.New("multiple setters")
		}
		v := reflect.ValueOf(fn)
		if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
			return fmt.Errorf("setter %T is not a function", fn)
		}
		t := v.Type()
		if t.NumIn() != 3 || t.In(0) != contextType || t.In(1) != callType {
			return fmt.Errorf("setter must take (context.Context, *dbus.Call, T), got %s", t)
		}
		if t.NumOut() != 1 || t.Out(0) != errorType {
			return fmt.Errorf("setter must return error, got %s", t)
		}
		c, err := codecFor(p.typ, t.In(2))
		if err != nil {
			return err
		}
		p.set = func(nv Value) (func(context.Context, *Call) error, error) {
			arg := reflect.New(t.In(2)).Elem()
			if err := c.decode(nv, arg); err != nil {
				return nil, err
			}
			return func(ctx context.Context, call *Call) error {
				res := v.Call([]reflect.Value{reflect.ValueOf(&ctx).Elem(), reflect.ValueOf(call), arg})
				err, _ := res[0].Interface().(error)
				return err
			}, nil
		}
		return nil
	}
}

// RawGetter sets the getter of a property to fn. fn must return a
// Value of the property's type.
func RawGetter(fn func(ctx context.Context, call *Call) (Value, error)) PropertyOption {
	return func(p *Property) error {
		if p.get != nil {
			return errors.New("multiple getters")
		}
		if fn == nil {
			return errors.New("nil getter")
		}
		p.get = fn
		return nil
	}
}

// RawSetter sets the setter of a property to fn. fn is only invoked
// with Values of the property's type.
func RawSetter(fn func(ctx context.Context, call *Call, v Value) error) PropertyOption {
	return func(p *Property) error {
		if p.set != nil {
			return errors.New("multiple setters")
		}
		if fn == nil {
			return errors.New("nil setter")
		}
		t := p.typ
		p.set = func(nv Value) (func(context.Context, *Call) error, error) {
			if err := CheckValue(t, nv); err != nil {
				return nil, err
			}
			return func(ctx context.Context, call *Call) error {
				return fn(ctx, call, nv)
			}, nil
		}
		return nil
	}
}
