package dbus

import (
	"context"
	"fmt"
	"sync"
)

// Store holds property values for objects whose properties are plain
// data, rather than computed by Go code.
//
// Use [Store.Property] to declare stored properties on an interface.
// Values set by callers through org.freedesktop.DBus.Properties.Set
// are checked against the property's type before being stored.
type Store struct {
	mu       sync.RWMutex
	vals     map[storeKey]Value
	onChange func(ctx context.Context, iface, prop string, v Value)
}

type storeKey struct {
	iface, prop string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		vals: map[storeKey]Value{},
	}
}

// OnChange sets a function to be called after a caller changes a
// stored property. fn runs with the store unlocked.
func (s *Store) OnChange(fn func(ctx context.Context, iface, prop string, v Value)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Get returns the stored value of the given property.
func (s *Store) Get(iface, prop string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[storeKey{iface, prop}]
	return v, ok
}

// Set stores a new value for the given property, without notifying
// the OnChange function.
func (s *Store) Set(iface, prop string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[storeKey{iface, prop}] = v
}

// Property declares a property whose value lives in s, with the
// given type and initial value. access is one of "read", "write" or
// "readwrite".
func (s *Store) Property(name, sig string, initial Value, access string) InterfaceOption {
	return func(f *Interface) error {
		t, err := ParseType(sig)
		if err != nil {
			return f.memberErr(name, err)
		}
		if err := CheckValue(t, initial); err != nil {
			return f.memberErr(name, fmt.Errorf("initial value: %w", err))
		}
		var accessors []PropertyOption
		switch access {
		case "read":
			accessors = append(accessors, RawGetter(s.getter(f.name, name)))
		case "write":
			accessors = append(accessors, RawSetter(s.setter(f.name, name)))
		case "readwrite":
			accessors = append(accessors, RawGetter(s.getter(f.name, name)), RawSetter(s.setter(f.name, name)))
		default:
			return f.memberErr(name, fmt.Errorf("unknown property access %q", access))
		}
		if err := PropertyFunc(name, sig, accessors...)(f); err != nil {
			return err
		}
		s.Set(f.name, name, initial)
		return nil
	}
}

func (s *Store) getter(iface, prop string) func(context.Context, *Call) (Value, error) {
	return func(context.Context, *Call) (Value, error) {
		v, ok := s.Get(iface, prop)
		if !ok {
			return nil, &CallError{ErrFailed, fmt.Sprintf("property %s.%s has no value", iface, prop)}
		}
		return v, nil
	}
}

func (s *Store) setter(iface, prop string) func(context.Context, *Call, Value) error {
	return func(ctx context.Context, _ *Call, v Value) error {
		s.mu.Lock()
		s.vals[storeKey{iface, prop}] = v
		fn := s.onChange
		s.mu.Unlock()
		if fn != nil {
			fn(ctx, iface, prop, v)
		}
		return nil
	}
}
