package dbus

import (
	"context"
	"sync"
)

var (
	propGetArgs    = mustParseSignature("ss")
	propGetAllArgs = mustParseSignature("s")
	propSetArgs    = mustParseSignature("ssv")
)

// properties handles calls to the org.freedesktop.DBus.Properties
// interface.
func (d *Dispatcher) properties(ctx context.Context, call *Call, body []Value, lock sync.Locker) *Message {
	hdr := call.Header
	member, ok := hdr.Member.GetOK()
	if !ok {
		return hdr.errorReply(callErr(ErrMember, "Message does not have a member"))
	}
	switch member {
	case "Get":
		return d.propGet(ctx, call, body, lock)
	case "GetAll":
		return d.propGetAll(ctx, call, body, lock)
	case "Set":
		return d.propSet(ctx, call, body, lock)
	default:
		return hdr.errorReply(unknownMethod(ifaceProperties, member))
	}
}

func (d *Dispatcher) propGet(ctx context.Context, call *Call, body []Value, lock sync.Locker) *Message {
	hdr := call.Header
	args, cerr := takeArgs(hdr, body, propGetArgs)
	if cerr != nil {
		return hdr.errorReply(cerr)
	}
	var ifaceName, propName string
	if err := decodeArgs(propGetArgs, args, &ifaceName, &propName); err != nil {
		return hdr.errorReply(asCallError(err))
	}
	p, cerr := d.lookupProperty(hdr.Path, ifaceName, propName)
	if cerr != nil {
		return hdr.errorReply(cerr)
	}
	if !p.Readable() {
		return hdr.errorReply(callErr(ErrProperty, "This property is write only"))
	}
	v, cerr := d.readProperty(ctx, call, ifaceName, p, lock)
	if cerr != nil {
		return hdr.errorReply(cerr)
	}
	return hdr.methodReturn(Variant{v})
}

// propGetAll replies with the values of all readable properties of
// an interface, in declaration order, as an array of variants.
func (d *Dispatcher) propGetAll(ctx context.Context, call *Call, body []Value, lock sync.Locker) *Message {
	hdr := call.Header
	args, cerr := takeArgs(hdr, body, propGetAllArgs)
	if cerr != nil {
		return hdr.errorReply(cerr)
	}
	var ifaceName string
	if err := decodeArgs(propGetAllArgs, args, &ifaceName); err != nil {
		return hdr.errorReply(asCallError(err))
	}
	iface, ok := d.reg.Interface(ifaceName)
	if !ok {
		return hdr.errorReply(unknownInterface(hdr.Path, ifaceName))
	}
	ret := Array{Elem: "v"}
	for _, p := range iface.properties {
		if !p.Readable() {
			continue
		}
		v, cerr := d.readProperty(ctx, call, ifaceName, p, lock)
		if cerr != nil {
			return hdr.errorReply(cerr)
		}
		ret.Values = append(ret.Values, Variant{v})
	}
	return hdr.methodReturn(ret)
}

func (d *Dispatcher) propSet(ctx context.Context, call *Call, body []Value, lock sync.Locker) *Message {
	hdr := call.Header
	args, cerr := takeArgs(hdr, body, propSetArgs)
	if cerr != nil {
		return hdr.errorReply(cerr)
	}
	var (
		ifaceName, propName string
		nv                  Variant
	)
	if err := decodeArgs(propSetArgs, args, &ifaceName, &propName, &nv); err != nil {
		return hdr.errorReply(asCallError(err))
	}
	p, cerr := d.lookupProperty(hdr.Path, ifaceName, propName)
	if cerr != nil {
		return hdr.errorReply(cerr)
	}
	if !p.Writable() {
		return hdr.errorReply(callErr(ErrProperty, "This property is read only"))
	}
	apply, err := p.set(nv.Value)
	if err != nil {
		return hdr.errorReply(asCallError(err))
	}
	if err := locked(lock, func() error { return apply(ctx, call) }); err != nil {
		return hdr.errorReply(asHandlerError(err))
	}
	return hdr.methodReturn()
}

func (d *Dispatcher) lookupProperty(path ObjectPath, ifaceName, propName string) (*Property, *CallError) {
	iface, ok := d.reg.Interface(ifaceName)
	if !ok {
		return nil, unknownInterface(path, ifaceName)
	}
	p, ok := iface.Property(propName)
	if !ok {
		return nil, unknownProperty(ifaceName, propName)
	}
	return p, nil
}

// readProperty invokes p's getter and checks the returned value.
func (d *Dispatcher) readProperty(ctx context.Context, call *Call, ifaceName string, p *Property, lock sync.Locker) (Value, *CallError) {
	var v Value
	err := locked(lock, func() (err error) {
		v, err = p.get(ctx, call)
		return err
	})
	if err != nil {
		return nil, asHandlerError(err)
	}
	if err := CheckValue(p.typ, v); err != nil {
		d.log.Error().Err(err).Str("interface", ifaceName).Str("property", p.name).Msg("getter returned malformed value")
		return nil, callErr(ErrFailed, "property %s.%s has a malformed value", ifaceName, p.name)
	}
	return v, nil
}

// decodeArgs decodes args, which have types ts, into the values
// pointed to by outs.
func decodeArgs(ts []Type, args []Value, outs ...any) error {
	for i, out := range outs {
		if err := Decode(ts[i], args[i], out); err != nil {
			return err
		}
	}
	return nil
}
