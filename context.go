package dbus

import (
	"context"
)

// Conn is the connection-side collaborator of a [Dispatcher].
type Conn interface {
	// Send transmits msg to its destination. Send is responsible for
	// assigning msg a serial number.
	Send(ctx context.Context, msg *Message) error
	// ListChildren returns the names of the direct children of path
	// in the connection's object tree.
	ListChildren(ctx context.Context, path ObjectPath) ([]string, error)
}

// Call describes an incoming method call being handled.
type Call struct {
	// Conn is the connection the call arrived on.
	Conn Conn
	// Header is the header of the call message.
	Header *Header
}

// Path returns the object path the call targets.
func (c *Call) Path() ObjectPath { return c.Header.Path }

// Sender returns the bus name of the caller.
func (c *Call) Sender() string { return c.Header.Sender }

type callContextKey struct{}

func withContextCall(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callContextKey{}, call)
}

// ContextCall returns the method call being handled, if ctx is the
// context of a method handler or property accessor.
func ContextCall(ctx context.Context) (*Call, bool) {
	v := ctx.Value(callContextKey{})
	if v == nil {
		return nil, false
	}
	if ret, ok := v.(*Call); ok {
		return ret, true
	}
	return nil, false
}
