package dbus

import (
	"errors"
	"slices"

	"github.com/creachadair/mds/mapset"
)

// Names of the built-in interfaces that every dispatcher may answer
// on behalf of the objects it serves.
const (
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
)

var reservedInterfaces = mapset.New(ifaceIntrospectable, ifaceProperties)

// Registry is the set of interfaces an object implements.
type Registry struct {
	ifaces   []*Interface
	byName   map[string]*Interface
	hasProps bool
}

// NewRegistry returns a Registry of the given interfaces.
//
// Interface names must be unique, and must not be the name of one of
// the built-in interfaces org.freedesktop.DBus.Introspectable and
// org.freedesktop.DBus.Properties.
func NewRegistry(ifaces ...*Interface) (*Registry, error) {
	ret := &Registry{
		byName: map[string]*Interface{},
	}
	seen := mapset.New[string]()
	var errs []error
	for _, f := range ifaces {
		switch {
		case f == nil:
			errs = append(errs, errors.New("nil interface"))
			continue
		case reservedInterfaces.Has(f.name):
			errs = append(errs, ConfigError{Interface: f.name, Err: errors.New("interface name is reserved for a built-in interface")})
			continue
		case seen.Has(f.name):
			errs = append(errs, ConfigError{Interface: f.name, Err: errors.New("duplicate interface")})
			continue
		}
		seen.Add(f.name)
		ret.ifaces = append(ret.ifaces, f)
		ret.byName[f.name] = f
		if len(f.properties) > 0 {
			ret.hasProps = true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ret, nil
}

// Interface returns the named interface.
func (r *Registry) Interface(name string) (*Interface, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Interfaces returns the registry's interfaces, in registration
// order.
func (r *Registry) Interfaces() []*Interface {
	return slices.Clone(r.ifaces)
}

// HasProperties reports whether any interface in the registry
// declares at least one property.
func (r *Registry) HasProperties() bool {
	return r.hasProps
}
