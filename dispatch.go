package dbus

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/rs/zerolog"
)

// Dispatcher routes method calls addressed to one exported object to
// the handlers of the object's [Registry], and produces the replies.
//
// In addition to the registry's interfaces, a Dispatcher answers
// org.freedesktop.DBus.Introspectable if introspection is enabled,
// and org.freedesktop.DBus.Properties if any registered interface has
// properties.
type Dispatcher struct {
	reg           *Registry
	introspection bool
	log           zerolog.Logger

	// staticXML is the introspection document up to, but not
	// including, the child nodes.
	staticXML string
}

// A DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithIntrospection sets whether the dispatcher answers
// org.freedesktop.DBus.Introspectable calls. The default is true.
func WithIntrospection(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.introspection = enabled }
}

// WithLogger sets the logger the dispatcher reports problems to. The
// default is a disabled logger.
func WithLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher returns a Dispatcher for an object implementing the
// interfaces in reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	ret := &Dispatcher{
		reg:           reg,
		introspection: true,
		log:           zerolog.Nop(),
	}
	for _, o := range opts {
		o(ret)
	}
	ret.staticXML = introspectStatic(reg, reg.HasProperties())
	return ret
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Dispatch handles msg, and sends the resulting reply through conn.
//
// Messages other than method calls are ignored. No reply is sent if
// msg carries the FlagNoReplyExpected flag. Dispatch returns an error
// only if sending the reply fails.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, msg *Message) error {
	return d.dispatch(ctx, conn, msg, nil)
}

// dispatch is Dispatch, with handler invocations serialized by lock
// if it is non-nil.
func (d *Dispatcher) dispatch(ctx context.Context, conn Conn, msg *Message, lock sync.Locker) error {
	if msg.Type != MsgMethodCall {
		return nil
	}
	call := &Call{Conn: conn, Header: &msg.Header}
	ctx = withContextCall(ctx, call)
	reply := d.handle(ctx, call, msg.Body, lock)

	member, _ := msg.Member.GetOK()
	log := d.log.With().Str("path", string(msg.Path)).Str("member", member).Logger()
	if reply.Type == MsgError {
		log.Debug().Str("error", reply.ErrName).Msg("call failed")
	}
	if !msg.WantReply() {
		log.Trace().Msg("reply suppressed by caller")
		return nil
	}
	if err := conn.Send(ctx, reply); err != nil {
		log.Warn().Err(err).Msg("sending reply")
		return err
	}
	return nil
}

// handle computes the reply to a method call.
func (d *Dispatcher) handle(ctx context.Context, call *Call, body []Value, lock sync.Locker) *Message {
	hdr := call.Header
	ifaceName, ok := hdr.Interface.GetOK()
	if !ok {
		return hdr.errorReply(callErr(ErrInterface, "Message does not have a interface"))
	}

	switch {
	case ifaceName == ifaceIntrospectable && d.introspection:
		return d.introspect(ctx, call, body)
	case ifaceName == ifaceProperties && d.reg.HasProperties():
		return d.properties(ctx, call, body, lock)
	}

	iface, ok := d.reg.Interface(ifaceName)
	if !ok {
		return hdr.errorReply(unknownInterface(hdr.Path, ifaceName))
	}
	member, ok := hdr.Member.GetOK()
	if !ok {
		return hdr.errorReply(callErr(ErrMember, "Message does not have a member"))
	}
	m, ok := iface.Method(member)
	if !ok {
		return hdr.errorReply(unknownMethod(ifaceName, member))
	}

	args, cerr := takeArgs(hdr, body, m.in)
	if cerr != nil {
		return hdr.errorReply(cerr)
	}
	invoke, err := m.prepare(args)
	if err != nil {
		return hdr.errorReply(asCallError(err))
	}

	var outs []Value
	err = locked(lock, func() (err error) {
		outs, err = invoke(ctx, call)
		return err
	})
	if err != nil {
		return hdr.errorReply(asHandlerError(err))
	}
	if err := checkOutputs(m.out, outs); err != nil {
		d.log.Error().Err(err).Str("interface", ifaceName).Str("method", member).Msg("handler returned malformed results")
		return hdr.errorReply(callErr(ErrFailed, "method %s.%s returned malformed results", ifaceName, member))
	}
	return hdr.methodReturn(outs...)
}

// takeArgs checks the call's signature against the expected input
// types, and returns exactly one body value per input.
func takeArgs(hdr *Header, body []Value, in []Type) ([]Value, *CallError) {
	want := signatureString(in)
	got, hasSig := hdr.Signature.GetOK()
	switch {
	case len(in) == 0:
		if hasSig && got != "" {
			return nil, callErr(ErrInvalidArgs, "too many arguments: got %s", got)
		}
	case !hasSig || got == "":
		return nil, callErr(ErrInvalidArgs, "signature mismatch: expected %s", want)
	case got != want:
		return nil, callErr(ErrInvalidArgs, "signature mismatch: expected %s got %s", want, got)
	}

	var rest queue.Queue[Value]
	for _, v := range body {
		rest.Add(v)
	}
	args := make([]Value, 0, len(in))
	for _, t := range in {
		v, ok := rest.Pop()
		if !ok {
			return nil, callErr(ErrInvalidArgs, "signature mismatch: expected %s", t)
		}
		args = append(args, v)
	}
	if rest.Len() > 0 {
		var extra []Value
		for v, ok := rest.Pop(); ok; v, ok = rest.Pop() {
			extra = append(extra, v)
		}
		return nil, callErr(ErrInvalidArgs, "too many arguments: got %s", signatureOf(extra))
	}
	return args, nil
}

// checkOutputs verifies that a handler produced one well-formed value
// per declared output.
func checkOutputs(out []Type, vs []Value) error {
	if len(vs) != len(out) {
		return SignatureError{Expected: signatureString(out), Actual: signatureOf(vs)}
	}
	for i, t := range out {
		if err := CheckValue(t, vs[i]); err != nil {
			return err
		}
	}
	return nil
}

// asHandlerError converts an error returned by a handler into the
// error reply sent to the caller. CallErrors pass through verbatim,
// everything else is a generic failure.
func asHandlerError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{ErrFailed, err.Error()}
}

// locked runs fn, holding lock if it is non-nil.
func locked(lock sync.Locker, fn func() error) error {
	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}
	return fn()
}

func unknownInterface(path ObjectPath, iface string) *CallError {
	return callErr(ErrUnknownInterface, "No such interface %q on object at path %s", iface, path)
}

func unknownMethod(iface, member string) *CallError {
	return callErr(ErrUnknownMethod, "No such method %q on interface %q", member, iface)
}

func unknownProperty(iface, prop string) *CallError {
	return callErr(ErrUnknownProperty, "No such property %q on interface %q", prop, iface)
}
