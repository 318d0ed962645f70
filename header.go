package dbus

import (
	"fmt"

	"github.com/creachadair/mds/value"
)

// MessageType is the type of a DBus message.
type MessageType byte

const (
	MsgMethodCall MessageType = iota + 1
	MsgMethodReturn
	MsgError
	MsgSignal
)

func (t MessageType) String() string {
	switch t {
	case MsgMethodCall:
		return "method_call"
	case MsgMethodReturn:
		return "method_return"
	case MsgError:
		return "error"
	case MsgSignal:
		return "signal"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Flags is the flag byte of a DBus message header.
type Flags byte

const (
	// FlagNoReplyExpected indicates that the caller does not want a
	// reply to its method call.
	FlagNoReplyExpected Flags = 0x1
	// FlagNoAutoStart asks the bus not to launch an owner for the
	// destination name.
	FlagNoAutoStart Flags = 0x2
	// FlagAllowInteractiveAuthorization indicates that the caller is
	// prepared to wait for an interactive authorization prompt.
	FlagAllowInteractiveAuthorization Flags = 0x4
)

// Header is a DBus message header.
//
// Fields that are optional in the DBus protocol and for which the
// empty value is meaningful are represented as value.Maybe.
type Header struct {
	// Type is the message's type.
	Type MessageType
	// Flags is the message's flag byte.
	Flags Flags
	// Serial is the serial for this message. It is assigned by the
	// connection that sends the message.
	Serial uint32

	// Path is the target object for a call, or the source object
	// for a signal.
	Path ObjectPath
	// Interface is the interface to target for a call, or the
	// source interface for a signal.
	Interface value.Maybe[string]
	// Member is the method name for a call, or signal name for a
	// signal.
	Member value.Maybe[string]
	// ErrName is the name of the error that occurred. Required for
	// MsgError.
	ErrName string
	// ReplySerial is the message serial to which this message is
	// replying. Required for MsgMethodReturn and MsgError.
	ReplySerial uint32
	// Destination is the target for a message.
	Destination string
	// Sender is the client ID of the message sender.
	Sender string
	// Signature is the type signature of the message body.
	Signature value.Maybe[string]
}

// Valid checks that the message header is valid for its message type.
func (h *Header) Valid() error {
	switch h.Type {
	case 0:
		return fmt.Errorf("invalid message with Type 0")
	case MsgMethodCall:
		if h.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if !h.Member.Present() {
			return fmt.Errorf("missing required header field Member")
		}
	case MsgMethodReturn:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
	case MsgError:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
		if h.ErrName == "" {
			return fmt.Errorf("missing required header field ErrName")
		}
	case MsgSignal:
		if h.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if !h.Interface.Present() {
			return fmt.Errorf("missing required header field Interface")
		}
		if !h.Member.Present() {
			return fmt.Errorf("missing required header field Member")
		}
	default:
		// Unknown message types are suspect, but the protocol
		// requires us to gracefully allow them.
	}
	return nil
}

// WantReply reports whether this message requires a response.
func (h *Header) WantReply() bool {
	return h.Type == MsgMethodCall && h.Flags&FlagNoReplyExpected == 0
}

// CanInteract reports whether the message's sender is prepared to
// wait for an interactive authorization prompt.
func (h *Header) CanInteract() bool {
	return h.Type == MsgMethodCall && h.Flags&FlagAllowInteractiveAuthorization != 0
}

// Message is a DBus message: a header, and a body of zero or more
// values.
type Message struct {
	Header
	Body []Value
}

// NewMethodCall returns a method call message for the given object,
// interface and method, carrying body.
//
// An empty iface produces a call with no Interface header field.
func NewMethodCall(path ObjectPath, iface, member string, body ...Value) *Message {
	ret := &Message{
		Header: Header{
			Type:   MsgMethodCall,
			Path:   path,
			Member: value.Just(member),
		},
		Body: body,
	}
	if iface != "" {
		ret.Interface = value.Just(iface)
	}
	if len(body) > 0 {
		ret.Signature = value.Just(signatureOf(body))
	}
	return ret
}

// methodReturn returns a successful reply to the call described by
// h.
func (h *Header) methodReturn(body ...Value) *Message {
	ret := &Message{
		Header: Header{
			Type:        MsgMethodReturn,
			ReplySerial: h.Serial,
			Destination: h.Sender,
		},
		Body: body,
	}
	if len(body) > 0 {
		ret.Signature = value.Just(signatureOf(body))
	}
	return ret
}

// errorReply returns an error reply to the call described by h.
func (h *Header) errorReply(err *CallError) *Message {
	ret := &Message{
		Header: Header{
			Type:        MsgError,
			ErrName:     err.Name,
			ReplySerial: h.Serial,
			Destination: h.Sender,
		},
	}
	if err.Detail != "" {
		ret.Body = []Value{String(err.Detail)}
		ret.Signature = value.Just("s")
	}
	return ret
}

// Err returns the CallError carried by an error reply, or nil if m is
// not an error reply.
func (m *Message) Err() *CallError {
	if m.Type != MsgError {
		return nil
	}
	ret := &CallError{Name: m.ErrName}
	if len(m.Body) > 0 {
		if s, ok := m.Body[0].(String); ok {
			ret.Detail = string(s)
		}
	}
	return ret
}
