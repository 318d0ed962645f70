package dbus

import (
	"errors"
	"fmt"
	"reflect"
)

// Standard DBus error names used in error replies.
const (
	ErrInterface        = "org.freedesktop.DBus.Error.Interface"
	ErrMember           = "org.freedesktop.DBus.Error.Member"
	ErrProperty         = "org.freedesktop.DBus.Error.Property"
	ErrUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	ErrInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrFailed           = "org.freedesktop.DBus.Error.Failed"
)

// TypeError is the error returned when a Go type cannot be used to
// represent values of a DBus type.
type TypeError struct {
	// Type is the name of the Go type that caused the error.
	Type string
	// Signature is the DBus type the Go type was matched against.
	Signature string
	// Reason is an explanation of why the types are incompatible.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("%s cannot represent dbus type %s: %s", e.Type, e.Signature, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, sig Type, reason string, args ...any) error {
	ts := "<nil>"
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, sig.String(), fmt.Errorf(reason, args...)}
}

// SignatureError is the error returned when a Value does not have
// the shape its expected type requires.
type SignatureError struct {
	// Expected is the signature that was expected.
	Expected string
	// Actual is the signature that was found. It is empty if the
	// value was missing entirely.
	Actual string
}

func (e SignatureError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("missing value, expected signature %s", e.Expected)
	}
	return fmt.Sprintf("signature mismatch: expected %s got %s", e.Expected, e.Actual)
}

// CallError is a DBus error reply.
//
// Handlers may return a CallError to choose the error name and
// detail of the reply sent to the caller. Any other error returned by
// a handler is reported to the caller as [ErrFailed].
type CallError struct {
	// Name is the DBus error name.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e *CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

func callErr(name, detail string, args ...any) *CallError {
	return &CallError{name, fmt.Sprintf(detail, args...)}
}

// asCallError converts err into the CallError that should be sent
// back to the caller.
func asCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	var se SignatureError
	if errors.As(err, &se) {
		return &CallError{ErrInvalidArgs, se.Error()}
	}
	return &CallError{ErrFailed, err.Error()}
}

// ConfigError is the error returned when an interface, member or
// registry definition is invalid.
type ConfigError struct {
	// Interface is the name of the interface being defined.
	Interface string
	// Member is the name of the member being defined, if any.
	Member string
	// Err is the underlying problem.
	Err error
}

func (e ConfigError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("interface %s: %s", e.Interface, e.Err)
	}
	return fmt.Sprintf("interface %s: member %s: %s", e.Interface, e.Member, e.Err)
}

func (e ConfigError) Unwrap() error {
	return e.Err
}
