// Package mockobj builds DBus objects from declarative TOML
// descriptions.
//
// A description lists interfaces, each with methods that return
// canned replies, properties backed by a [dbus.Store], and signals
// that appear in introspection data. It is meant for exercising
// DBus clients without writing Go code for the service side.
//
//	[[interface]]
//	name = "org.example.Greeter"
//
//	[[interface.method]]
//	name = "Hello"
//	in = "s"
//	out = "s"
//	reply = ["hi there"]
//
//	[[interface.property]]
//	name = "Greeting"
//	type = "s"
//	value = "hello"
//	access = "readwrite"
package mockobj

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	dbus "github.com/danderson/dbusexport"
)

// Object is the description of a mock DBus object.
type Object struct {
	Interfaces []Interface `toml:"interface"`
}

// Interface describes one interface of a mock object.
type Interface struct {
	Name       string     `toml:"name"`
	Methods    []Method   `toml:"method"`
	Properties []Property `toml:"property"`
	Signals    []Signal   `toml:"signal"`
}

// Method describes a method with a canned result.
//
// A method either replies with the literal values in Reply, echoes
// its arguments back when Echo is set, or fails with Error.
type Method struct {
	Name     string    `toml:"name"`
	In       string    `toml:"in"`
	Out      string    `toml:"out"`
	InNames  []string  `toml:"in_names"`
	OutNames []string  `toml:"out_names"`
	Reply    []any     `toml:"reply"`
	Echo     bool      `toml:"echo"`
	Error    *ErrReply `toml:"error"`
}

// ErrReply is a canned error reply.
type ErrReply struct {
	Name    string `toml:"name"`
	Message string `toml:"message"`
}

// Property describes a stored property.
type Property struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	Value  any    `toml:"value"`
	Access string `toml:"access"`
}

// Signal describes a signal declaration.
type Signal struct {
	Name string   `toml:"name"`
	Type string   `toml:"type"`
	Args []string `toml:"args"`
}

// Load reads and validates an object description from a TOML file.
func Load(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mock object load failed (%s): %w", path, err)
	}
	ret, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("mock object %s: %w", path, err)
	}
	return ret, nil
}

// Parse decodes and validates an object description.
func Parse(doc string) (*Object, error) {
	var ret Object
	if _, err := toml.Decode(doc, &ret); err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return &ret, nil
}

// Validate checks the parts of the description that do not depend on
// DBus type checking. Type errors surface from [Object.Build].
func (o *Object) Validate() error {
	if len(o.Interfaces) == 0 {
		return errors.New("object has no interfaces")
	}
	var errs []error
	for i, f := range o.Interfaces {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Errorf("interface[%d] missing name", i))
			continue
		}
		for j, m := range f.Methods {
			if err := m.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s method[%d]: %w", f.Name, j, err))
			}
		}
		for j, p := range f.Properties {
			if strings.TrimSpace(p.Name) == "" {
				errs = append(errs, fmt.Errorf("%s property[%d] missing name", f.Name, j))
			}
			if p.Value == nil {
				errs = append(errs, fmt.Errorf("%s property[%d] missing value", f.Name, j))
			}
		}
		for j, s := range f.Signals {
			if strings.TrimSpace(s.Name) == "" {
				errs = append(errs, fmt.Errorf("%s signal[%d] missing name", f.Name, j))
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Method) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("missing name")
	}
	modes := 0
	if m.Reply != nil {
		modes++
	}
	if m.Echo {
		modes++
		if m.In != m.Out {
			return fmt.Errorf("echo requires matching signatures, got in=%q out=%q", m.In, m.Out)
		}
	}
	if m.Error != nil {
		modes++
		if m.Error.Name == "" {
			return errors.New("error reply missing name")
		}
	}
	if modes > 1 {
		return errors.New("at most one of reply, echo and error may be set")
	}
	return nil
}

// Build constructs a registry implementing the described object.
// Property values live in store.
func (o *Object) Build(store *dbus.Store) (*dbus.Registry, error) {
	var ifaces []*dbus.Interface
	for _, f := range o.Interfaces {
		var members []dbus.InterfaceOption
		for _, m := range f.Methods {
			h, err := m.handler()
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, m.Name, err)
			}
			var opts []dbus.MethodOption
			if len(m.InNames) > 0 {
				opts = append(opts, dbus.InNames(m.InNames...))
			}
			if len(m.OutNames) > 0 {
				opts = append(opts, dbus.OutNames(m.OutNames...))
			}
			members = append(members, dbus.RawMethod(m.Name, m.In, m.Out, h, opts...))
		}
		for _, p := range f.Properties {
			t, err := dbus.ParseType(p.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			v, err := dbus.FromLiteral(t, p.Value)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			access := p.Access
			if access == "" {
				access = "read"
			}
			members = append(members, store.Property(p.Name, p.Type, v, access))
		}
		for _, s := range f.Signals {
			members = append(members, dbus.Emits(s.Name, s.Type, s.Args...))
		}
		iface, err := dbus.NewInterface(f.Name, members...)
		if err != nil {
			return nil, err
		}
		ifaces = append(ifaces, iface)
	}
	return dbus.NewRegistry(ifaces...)
}

// handler returns the canned behavior of m.
func (m *Method) handler() (dbus.RawHandler, error) {
	switch {
	case m.Error != nil:
		cerr := &dbus.CallError{Name: m.Error.Name, Detail: m.Error.Message}
		return func(context.Context, *dbus.Call, []dbus.Value) ([]dbus.Value, error) {
			return nil, cerr
		}, nil
	case m.Echo:
		return func(_ context.Context, _ *dbus.Call, args []dbus.Value) ([]dbus.Value, error) {
			return args, nil
		}, nil
	}

	outs, err := dbus.ParseSignature(m.Out)
	if err != nil {
		return nil, err
	}
	if len(m.Reply) != len(outs) {
		return nil, fmt.Errorf("reply has %d values, signature %q wants %d", len(m.Reply), m.Out, len(outs))
	}
	reply := make([]dbus.Value, len(outs))
	for i, t := range outs {
		v, err := dbus.FromLiteral(t, m.Reply[i])
		if err != nil {
			return nil, fmt.Errorf("reply value %d: %w", i, err)
		}
		reply[i] = v
	}
	return func(context.Context, *dbus.Call, []dbus.Value) ([]dbus.Value, error) {
		return reply, nil
	}, nil
}
