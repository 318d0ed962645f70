package dbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/creachadair/mds/value"
)

type pair struct {
	First  string
	Second int32
}

// calc is the state behind the test object.
type calc struct {
	greets int
	secret int32
	count  uint32
	lock   *recordingLock
}

// recordingLock is a mutex that remembers whether it is held.
type recordingLock struct {
	mu   sync.Mutex
	held bool
	uses int
}

func (l *recordingLock) Lock() {
	l.mu.Lock()
	l.held = true
	l.uses++
}

func (l *recordingLock) Unlock() {
	l.held = false
	l.mu.Unlock()
}

func (c *calc) registry(t *testing.T) *Registry {
	t.Helper()
	calcIface, err := NewInterface("org.example.Calc",
		MethodFunc("Add", func(ctx context.Context, call *Call, a, b int32) (int32, error) {
			return a + b, nil
		}, "ii", "i"),
		MethodFunc("Greet", func(ctx context.Context, call *Call, name string, n uint32) (string, error) {
			c.greets++
			return fmt.Sprintf("hello %s #%d", name, n), nil
		}, "su", "s", InNames("name", "n"), OutNames("greeting")),
		MethodFunc("Split", func(ctx context.Context, call *Call, s string) (pair, error) {
			return pair{s, int32(len(s))}, nil
		}, "s", "si"),
		MethodFunc("SplitRaw", func(ctx context.Context, call *Call, s string) (Value, error) {
			switch s {
			case "nil":
				return nil, nil
			case "flat":
				return String(s), nil
			default:
				return Struct{String(s), Int32(len(s))}, nil
			}
		}, "s", "si"),
		MethodFunc("Fail", func(ctx context.Context, call *Call) error {
			return &CallError{"org.example.Error.Name", "boom"}
		}, "", ""),
		MethodFunc("FailWrapped", func(ctx context.Context, call *Call) error {
			return fmt.Errorf("wrapped: %w", &CallError{"org.example.Error.Wrapped", "deep"})
		}, "", ""),
		MethodFunc("Broken", func(ctx context.Context, call *Call) error {
			return errBoom
		}, "", ""),
		RawMethod("Malformed", "", "s", func(ctx context.Context, call *Call, args []Value) ([]Value, error) {
			return []Value{Int32(1)}, nil
		}),
		MethodFunc("Who", func(ctx context.Context, call *Call) (string, error) {
			got, ok := ContextCall(ctx)
			if !ok || got != call {
				return "", errors.New("call missing from context")
			}
			return call.Sender(), nil
		}, "", "s"),
		MethodFunc("Locked", func(ctx context.Context, call *Call) (bool, error) {
			return c.lock != nil && c.lock.held, nil
		}, "", "b"),
	)
	if err != nil {
		t.Fatalf("building Calc: %v", err)
	}
	propsIface, err := NewInterface("org.example.properties",
		PropertyFunc("Name", "s", Getter(func(ctx context.Context, call *Call) (string, error) {
			return "hello", nil
		})),
		PropertyFunc("Secret", "i", Setter(func(ctx context.Context, call *Call, v int32) error {
			c.secret = v
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("building properties: %v", err)
	}
	counterIface, err := NewInterface("org.example.Counter",
		PropertyFunc("Count", "u",
			Getter(func(ctx context.Context, call *Call) (uint32, error) {
				return c.count, nil
			}),
			Setter(func(ctx context.Context, call *Call, v uint32) error {
				if v > 100 {
					return &CallError{ErrInvalidArgs, "too many"}
				}
				c.count = v
				return nil
			})),
		PropertyFunc("Broken", "s", RawGetter(func(ctx context.Context, call *Call) (Value, error) {
			return nil, errBoom
		})),
		PropertyFunc("Wrong", "s", RawGetter(func(ctx context.Context, call *Call) (Value, error) {
			return Int32(4), nil
		})),
	)
	if err != nil {
		t.Fatalf("building Counter: %v", err)
	}
	reg, err := NewRegistry(calcIface, propsIface, counterIface)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestDispatchMethods(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	wantReturn(t, conn.call(t, d, "org.example.Calc", "Add", Int32(2), Int32(40)), Int32(42))
	wantReturn(t, conn.call(t, d, "org.example.Calc", "Greet", String("bob"), Uint32(3)), String("hello bob #3"))
	wantReturn(t, conn.call(t, d, "org.example.Calc", "Split", String("four")), String("four"), Int32(4))
	wantReturn(t, conn.call(t, d, "org.example.Calc", "SplitRaw", String("four")), String("four"), Int32(4))
	wantReturn(t, conn.call(t, d, "org.example.Calc", "Who"), String(":1.7"))
	wantReturn(t, conn.call(t, d, "org.example.Calc", "Locked"), Bool(false))
	if c.greets != 1 {
		t.Errorf("Greet ran %d times, want 1", c.greets)
	}
}

func TestDispatchErrors(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	tests := []struct {
		name       string
		iface      string
		member     string
		body       []Value
		wantErr    string
		wantDetail string
	}{
		{
			name:       "missing argument",
			iface:      "org.example.Calc",
			member:     "Greet",
			body:       []Value{String("bob")},
			wantErr:    ErrInvalidArgs,
			wantDetail: "signature mismatch: expected su got s",
		},
		{
			name:       "no arguments",
			iface:      "org.example.Calc",
			member:     "Greet",
			wantErr:    ErrInvalidArgs,
			wantDetail: "signature mismatch: expected su",
		},
		{
			name:       "swapped arguments",
			iface:      "org.example.Calc",
			member:     "Greet",
			body:       []Value{Uint32(3), String("bob")},
			wantErr:    ErrInvalidArgs,
			wantDetail: "signature mismatch: expected su got us",
		},
		{
			name:       "unexpected argument",
			iface:      "org.example.Calc",
			member:     "Who",
			body:       []Value{String("x")},
			wantErr:    ErrInvalidArgs,
			wantDetail: "too many arguments: got s",
		},
		{
			name:       "unknown interface",
			iface:      "org.example.Nope",
			member:     "Add",
			wantErr:    ErrUnknownInterface,
			wantDetail: `No such interface "org.example.Nope" on object at path /obj`,
		},
		{
			name:       "unknown method",
			iface:      "org.example.Calc",
			member:     "Subtract",
			wantErr:    ErrUnknownMethod,
			wantDetail: `No such method "Subtract" on interface "org.example.Calc"`,
		},
		{
			name:       "missing interface",
			member:     "Add",
			wantErr:    ErrInterface,
			wantDetail: "Message does not have a interface",
		},
		{
			name:       "call error",
			iface:      "org.example.Calc",
			member:     "Fail",
			wantErr:    "org.example.Error.Name",
			wantDetail: "boom",
		},
		{
			name:       "wrapped call error",
			iface:      "org.example.Calc",
			member:     "FailWrapped",
			wantErr:    "org.example.Error.Wrapped",
			wantDetail: "deep",
		},
		{
			name:       "plain error",
			iface:      "org.example.Calc",
			member:     "Broken",
			wantErr:    ErrFailed,
			wantDetail: "boom",
		},
		{
			name:       "malformed results",
			iface:      "org.example.Calc",
			member:     "Malformed",
			wantErr:    ErrFailed,
			wantDetail: "method org.example.Calc.Malformed returned malformed results",
		},
		{
			name:       "struct result not a struct",
			iface:      "org.example.Calc",
			member:     "SplitRaw",
			body:       []Value{String("flat")},
			wantErr:    ErrFailed,
			wantDetail: "method org.example.Calc.SplitRaw returned malformed results",
		},
		{
			name:       "nil struct result",
			iface:      "org.example.Calc",
			member:     "SplitRaw",
			body:       []Value{String("nil")},
			wantErr:    ErrFailed,
			wantDetail: "method org.example.Calc.SplitRaw returned malformed results",
		},
		{
			name:       "unknown introspectable member",
			iface:      "org.freedesktop.DBus.Introspectable",
			member:     "Describe",
			wantErr:    ErrUnknownMethod,
			wantDetail: `No such method "Describe" on interface "org.freedesktop.DBus.Introspectable"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply := conn.call(t, d, tc.iface, tc.member, tc.body...)
			wantError(t, reply, tc.wantErr, tc.wantDetail)
		})
	}
	if c.greets != 0 {
		t.Errorf("Greet ran %d times after bad calls, want 0", c.greets)
	}
}

func TestDispatchMissingMember(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	msg := NewMethodCall("/obj", "org.example.Calc", "Add")
	msg.Member = value.Maybe[string]{}
	reply := conn.send(t, d, msg)
	wantError(t, reply, ErrMember, "Message does not have a member")
}

func TestDispatchShortBody(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	// The header claims both arguments, but the body only has one.
	msg := NewMethodCall("/obj", "org.example.Calc", "Greet", String("bob"))
	msg.Signature = maybe("su")
	reply := conn.send(t, d, msg)
	wantError(t, reply, ErrInvalidArgs, "signature mismatch: expected u")
	if c.greets != 0 {
		t.Errorf("Greet ran %d times, want 0", c.greets)
	}
}

func TestDispatchNoReply(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	msg := NewMethodCall("/obj", "org.example.Calc", "Greet", String("bob"), Uint32(1))
	msg.Flags |= FlagNoReplyExpected
	if err := d.Dispatch(context.Background(), conn, msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(conn.sent) != 0 {
		t.Errorf("Dispatch sent %d messages, want none", len(conn.sent))
	}
	if c.greets != 1 {
		t.Errorf("Greet ran %d times, want 1", c.greets)
	}
}

func TestDispatchIgnoresNonCalls(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	for _, typ := range []MessageType{MsgMethodReturn, MsgError, MsgSignal} {
		msg := NewMethodCall("/obj", "org.example.Calc", "Greet", String("bob"), Uint32(1))
		msg.Type = typ
		if err := d.Dispatch(context.Background(), conn, msg); err != nil {
			t.Errorf("Dispatch(%s) failed: %v", typ, err)
		}
	}
	if len(conn.sent) != 0 {
		t.Errorf("Dispatch sent %d messages, want none", len(conn.sent))
	}
	if c.greets != 0 {
		t.Errorf("Greet ran %d times, want 0", c.greets)
	}
}

func TestDispatchSendError(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{sendErr: errBoom}

	msg := NewMethodCall("/obj", "org.example.Calc", "Add", Int32(1), Int32(2))
	if err := d.Dispatch(context.Background(), conn, msg); !errors.Is(err, errBoom) {
		t.Errorf("Dispatch returned %v, want %v", err, errBoom)
	}
}

func TestDispatchLock(t *testing.T) {
	c := calc{lock: &recordingLock{}}
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	msg := NewMethodCall("/obj", "org.example.Calc", "Locked")
	msg.Serial = 1
	if err := d.dispatch(context.Background(), conn, msg, c.lock); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	msg = NewMethodCall("/obj", "org.freedesktop.DBus.Properties", "Get", String("org.example.Counter"), String("Count"))
	msg.Serial = 2
	if err := d.dispatch(context.Background(), conn, msg, c.lock); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(conn.sent) != 2 {
		t.Fatalf("got %d replies, want 2", len(conn.sent))
	}
	wantReturn(t, conn.sent[0], Bool(true))
	wantReturn(t, conn.sent[1], Variant{Uint32(0)})
	if c.lock.uses != 2 {
		t.Errorf("lock taken %d times, want 2", c.lock.uses)
	}
	if c.lock.held {
		t.Error("lock still held after dispatch")
	}
}

const ifaceProps = "org.freedesktop.DBus.Properties"

func TestPropertiesGet(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	reply := conn.call(t, d, ifaceProps, "Get", String("org.example.properties"), String("Name"))
	wantReturn(t, reply, Variant{String("hello")})

	c.count = 7
	reply = conn.call(t, d, ifaceProps, "Get", String("org.example.Counter"), String("Count"))
	wantReturn(t, reply, Variant{Uint32(7)})
}

func TestPropertiesGetAll(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	reply := conn.call(t, d, ifaceProps, "GetAll", String("org.example.properties"))
	wantReturn(t, reply, Array{Elem: "v", Values: []Value{Variant{String("hello")}}})

	// One failing getter fails the whole call.
	reply = conn.call(t, d, ifaceProps, "GetAll", String("org.example.Counter"))
	wantError(t, reply, ErrFailed, "boom")

	reply = conn.call(t, d, ifaceProps, "GetAll", String("org.example.Nope"))
	wantError(t, reply, ErrUnknownInterface, `No such interface "org.example.Nope" on object at path /obj`)
}

func TestPropertiesSet(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	reply := conn.call(t, d, ifaceProps, "Set", String("org.example.properties"), String("Secret"), Variant{Int32(7)})
	wantReturn(t, reply)
	if c.secret != 7 {
		t.Errorf("secret is %d after Set, want 7", c.secret)
	}

	reply = conn.call(t, d, ifaceProps, "Set", String("org.example.Counter"), String("Count"), Variant{Uint32(9)})
	wantReturn(t, reply)
	if c.count != 9 {
		t.Errorf("count is %d after Set, want 9", c.count)
	}

	reply = conn.call(t, d, ifaceProps, "Set", String("org.example.Counter"), String("Count"), Variant{Uint32(500)})
	wantError(t, reply, ErrInvalidArgs, "too many")
	if c.count != 9 {
		t.Errorf("count is %d after rejected Set, want 9", c.count)
	}
}

func TestPropertiesErrors(t *testing.T) {
	var c calc
	d := NewDispatcher(c.registry(t))
	conn := &fakeConn{}

	tests := []struct {
		name       string
		member     string
		body       []Value
		wantErr    string
		wantDetail string
	}{
		{
			name:       "get write only",
			member:     "Get",
			body:       []Value{String("org.example.properties"), String("Secret")},
			wantErr:    ErrProperty,
			wantDetail: "This property is write only",
		},
		{
			name:       "set read only",
			member:     "Set",
			body:       []Value{String("org.example.properties"), String("Name"), Variant{String("bye")}},
			wantErr:    ErrProperty,
			wantDetail: "This property is read only",
		},
		{
			name:       "set wrong type",
			member:     "Set",
			body:       []Value{String("org.example.properties"), String("Secret"), Variant{String("seven")}},
			wantErr:    ErrInvalidArgs,
			wantDetail: "signature mismatch: expected i got s",
		},
		{
			name:       "unknown property",
			member:     "Get",
			body:       []Value{String("org.example.properties"), String("Nope")},
			wantErr:    ErrUnknownProperty,
			wantDetail: `No such property "Nope" on interface "org.example.properties"`,
		},
		{
			name:       "unknown interface",
			member:     "Get",
			body:       []Value{String("org.example.Nope"), String("Name")},
			wantErr:    ErrUnknownInterface,
			wantDetail: `No such interface "org.example.Nope" on object at path /obj`,
		},
		{
			name:       "getter error",
			member:     "Get",
			body:       []Value{String("org.example.Counter"), String("Broken")},
			wantErr:    ErrFailed,
			wantDetail: "boom",
		},
		{
			name:       "malformed value",
			member:     "Get",
			body:       []Value{String("org.example.Counter"), String("Wrong")},
			wantErr:    ErrFailed,
			wantDetail: "property org.example.Counter.Wrong has a malformed value",
		},
		{
			name:       "bad arguments",
			member:     "Get",
			body:       []Value{String("org.example.properties")},
			wantErr:    ErrInvalidArgs,
			wantDetail: "signature mismatch: expected ss got s",
		},
		{
			name:       "unknown member",
			member:     "Delete",
			body:       []Value{String("org.example.properties")},
			wantErr:    ErrUnknownMethod,
			wantDetail: `No such method "Delete" on interface "org.freedesktop.DBus.Properties"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply := conn.call(t, d, ifaceProps, tc.member, tc.body...)
			wantError(t, reply, tc.wantErr, tc.wantDetail)
		})
	}
	if c.secret != 0 {
		t.Errorf("secret is %d after bad calls, want 0", c.secret)
	}
}

func TestPropertiesAbsent(t *testing.T) {
	iface := MustInterface("org.example.Plain",
		MethodFunc("Ping", func(context.Context, *Call) error { return nil }, "", ""))
	reg, err := NewRegistry(iface)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(reg)
	conn := &fakeConn{}

	reply := conn.call(t, d, ifaceProps, "GetAll", String("org.example.Plain"))
	wantError(t, reply, ErrUnknownInterface, "")
	wantReturn(t, conn.call(t, d, "org.example.Plain", "Ping"))
}

func TestIntrospectionToggle(t *testing.T) {
	var c calc
	reg := c.registry(t)
	conn := &fakeConn{}

	on := NewDispatcher(reg)
	reply := conn.call(t, on, "org.freedesktop.DBus.Introspectable", "Introspect")
	if reply.Type != MsgMethodReturn {
		t.Fatalf("Introspect failed: %v", reply.Err())
	}
	// Interfaces the object doesn't implement fail for every other
	// member, including one named Introspect.
	reply = conn.call(t, on, "org.example.Nope", "Introspect")
	wantError(t, reply, ErrUnknownInterface, "")

	off := NewDispatcher(reg, WithIntrospection(false))
	reply = conn.call(t, off, "org.freedesktop.DBus.Introspectable", "Introspect")
	wantError(t, reply, ErrUnknownInterface, `No such interface "org.freedesktop.DBus.Introspectable" on object at path /obj`)
}
