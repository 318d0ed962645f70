package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderValid(t *testing.T) {
	tests := []struct {
		name  string
		hdr   Header
		valid bool
	}{
		{"zero", Header{}, false},
		{"call", Header{Type: MsgMethodCall, Path: "/a", Member: maybe("M")}, true},
		{"call without path", Header{Type: MsgMethodCall, Member: maybe("M")}, false},
		{"call without member", Header{Type: MsgMethodCall, Path: "/a"}, false},
		{"return", Header{Type: MsgMethodReturn, ReplySerial: 1}, true},
		{"return without serial", Header{Type: MsgMethodReturn}, false},
		{"error", Header{Type: MsgError, ReplySerial: 1, ErrName: ErrFailed}, true},
		{"error without name", Header{Type: MsgError, ReplySerial: 1}, false},
		{"error without serial", Header{Type: MsgError, ErrName: ErrFailed}, false},
		{"signal", Header{Type: MsgSignal, Path: "/a", Interface: maybe("a.b"), Member: maybe("S")}, true},
		{"signal without interface", Header{Type: MsgSignal, Path: "/a", Member: maybe("S")}, false},
		{"unknown type", Header{Type: 42}, true},
	}
	for _, tc := range tests {
		err := tc.hdr.Valid()
		if got := err == nil; got != tc.valid {
			t.Errorf("%s: Valid() = %v, want valid=%v", tc.name, err, tc.valid)
		}
	}
}

func TestHeaderFlags(t *testing.T) {
	call := NewMethodCall("/a", "a.b", "M")
	if !call.WantReply() {
		t.Error("plain call doesn't want a reply")
	}
	if call.CanInteract() {
		t.Error("plain call allows interaction")
	}
	call.Flags = FlagNoReplyExpected | FlagAllowInteractiveAuthorization
	if call.WantReply() {
		t.Error("call with FlagNoReplyExpected wants a reply")
	}
	if !call.CanInteract() {
		t.Error("call with FlagAllowInteractiveAuthorization doesn't allow interaction")
	}

	sig := &Header{Type: MsgSignal}
	if sig.WantReply() {
		t.Error("signal wants a reply")
	}
}

func TestNewMethodCall(t *testing.T) {
	msg := NewMethodCall("/a", "", "M", String("x"), Array{Elem: "i"})
	if msg.Interface.Present() {
		t.Error("call with empty interface has an Interface field")
	}
	if got, _ := msg.Signature.GetOK(); got != "sai" {
		t.Errorf("Signature = %q, want sai", got)
	}
	if err := msg.Valid(); err != nil {
		t.Errorf("NewMethodCall produced invalid header: %v", err)
	}

	msg = NewMethodCall("/a", "a.b", "M")
	if msg.Signature.Present() {
		t.Error("call with no body has a Signature field")
	}
}

func TestReplies(t *testing.T) {
	call := NewMethodCall("/a", "a.b", "M")
	call.Serial = 7
	call.Sender = ":1.1"

	ret := call.methodReturn(Uint32(1))
	checkReply(t, ret, MsgMethodReturn, "u")
	if ret.Err() != nil {
		t.Errorf("method return has error %v", ret.Err())
	}

	eret := call.errorReply(&CallError{"org.example.Error", "oops"})
	checkReply(t, eret, MsgError, "s")
	if eret.ErrName != "org.example.Error" {
		t.Errorf("ErrName = %q, want org.example.Error", eret.ErrName)
	}
	if diff := cmp.Diff(eret.Err(), &CallError{"org.example.Error", "oops"}); diff != "" {
		t.Errorf("wrong error (-got+want):\n%s", diff)
	}
	if got, want := eret.Err().Error(), "call error org.example.Error: oops"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := call.errorReply(&CallError{Name: ErrFailed})
	if bare.Signature.Present() || len(bare.Body) != 0 {
		t.Errorf("error without detail has body %v", bare.Body)
	}
	if got, want := bare.Err().Error(), "call error "+ErrFailed; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// checkReply checks the header fields of a reply to the call in
// TestReplies.
func checkReply(t *testing.T, msg *Message, typ MessageType, sig string) {
	t.Helper()
	if msg.Type != typ {
		t.Errorf("Type = %s, want %s", msg.Type, typ)
	}
	if msg.ReplySerial != 7 {
		t.Errorf("ReplySerial = %d, want 7", msg.ReplySerial)
	}
	if msg.Destination != ":1.1" {
		t.Errorf("Destination = %q, want :1.1", msg.Destination)
	}
	if msg.Path != "" || msg.Interface.Present() || msg.Member.Present() {
		t.Errorf("reply has call fields %s %v %v", msg.Path, msg.Interface, msg.Member)
	}
	if got, _ := msg.Signature.GetOK(); got != sig {
		t.Errorf("Signature = %q, want %q", got, sig)
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		typ  MessageType
		want string
	}{
		{MsgMethodCall, "method_call"},
		{MsgMethodReturn, "method_return"},
		{MsgError, "error"},
		{MsgSignal, "signal"},
		{9, "MessageType(9)"},
	}
	for _, tc := range tests {
		if got := tc.typ.String(); got != tc.want {
			t.Errorf("MessageType(%d).String() = %q, want %q", tc.typ, got, tc.want)
		}
	}
}
