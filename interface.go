package dbus

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Interface describes a set of methods, properties and signals that
// an exported object offers.
//
// Interfaces are built with [NewInterface], and are immutable once
// built.
type Interface struct {
	name       string
	methods    []*Method
	properties []*Property
	signals    []*Signal

	methodByName   map[string]*Method
	propertyByName map[string]*Property
	signalByName   map[string]*Signal
}

// An InterfaceOption adds a member to an Interface under
// construction.
type InterfaceOption func(*Interface) error

// NewInterface returns a new Interface with the given name and
// members. Members are kept in the order they are given, which is
// also the order they appear in introspection data.
//
// NewInterface returns a [ConfigError] for every invalid member
// definition.
func NewInterface(name string, members ...InterfaceOption) (*Interface, error) {
	if err := validInterfaceName(name); err != nil {
		return nil, ConfigError{Interface: name, Err: err}
	}
	ret := &Interface{
		name:           name,
		methodByName:   map[string]*Method{},
		propertyByName: map[string]*Property{},
		signalByName:   map[string]*Signal{},
	}
	var errs []error
	for _, m := range members {
		if err := m(ret); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ret, nil
}

// MustInterface is like [NewInterface], but panics if the interface
// definition is invalid.
func MustInterface(name string, members ...InterfaceOption) *Interface {
	ret, err := NewInterface(name, members...)
	if err != nil {
		panic(err)
	}
	return ret
}

// Name returns the name of the interface.
func (f *Interface) Name() string { return f.name }

func (f *Interface) String() string { return f.name }

// Methods returns the interface's methods in declaration order.
func (f *Interface) Methods() []*Method { return slices.Clone(f.methods) }

// Properties returns the interface's properties in declaration order.
func (f *Interface) Properties() []*Property { return slices.Clone(f.properties) }

// Signals returns the interface's signals in declaration order.
func (f *Interface) Signals() []*Signal { return slices.Clone(f.signals) }

// Method returns the named method.
func (f *Interface) Method(name string) (*Method, bool) {
	m, ok := f.methodByName[name]
	return m, ok
}

// Property returns the named property.
func (f *Interface) Property(name string) (*Property, bool) {
	p, ok := f.propertyByName[name]
	return p, ok
}

// Signal returns the named signal.
func (f *Interface) Signal(name string) (*Signal, bool) {
	s, ok := f.signalByName[name]
	return s, ok
}

func (f *Interface) memberErr(member string, err error) error {
	return ConfigError{Interface: f.name, Member: member, Err: err}
}

func (f *Interface) addMethod(m *Method) error {
	if _, ok := f.methodByName[m.name]; ok {
		return f.memberErr(m.name, errors.New("duplicate method"))
	}
	f.methods = append(f.methods, m)
	f.methodByName[m.name] = m
	return nil
}

func (f *Interface) addProperty(p *Property) error {
	if _, ok := f.propertyByName[p.name]; ok {
		return f.memberErr(p.name, errors.New("duplicate property"))
	}
	f.properties = append(f.properties, p)
	f.propertyByName[p.name] = p
	return nil
}

func (f *Interface) addSignal(s *Signal) error {
	if _, ok := f.signalByName[s.name]; ok {
		return f.memberErr(s.name, errors.New("duplicate signal"))
	}
	f.signals = append(f.signals, s)
	f.signalByName[s.name] = s
	return nil
}

// validInterfaceName reports whether name is a valid DBus interface
// name.
func validInterfaceName(name string) error {
	if name == "" {
		return errors.New("empty interface name")
	}
	if len(name) > 255 {
		return fmt.Errorf("interface name is %d bytes, maximum is 255", len(name))
	}
	elems := strings.Split(name, ".")
	if len(elems) < 2 {
		return fmt.Errorf("interface name %q must have at least two elements", name)
	}
	for _, e := range elems {
		if err := validElement(e); err != nil {
			return fmt.Errorf("interface name %q: %w", name, err)
		}
	}
	return nil
}

// validMemberName reports whether name is a valid DBus member name.
func validMemberName(name string) error {
	if len(name) > 255 {
		return fmt.Errorf("member name is %d bytes, maximum is 255", len(name))
	}
	return validElement(name)
}

func validElement(e string) error {
	if e == "" {
		return errors.New("empty name element")
	}
	for i, c := range e {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return fmt.Errorf("invalid character %q in %q", c, e)
		}
	}
	return nil
}
