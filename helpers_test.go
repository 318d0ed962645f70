package dbus

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/creachadair/mds/value"
	"github.com/google/go-cmp/cmp"
)

// reflectNew returns a pointer to a new zero value of v's type.
func reflectNew(v any) reflect.Value {
	return reflect.New(reflect.TypeOf(v))
}

// fakeConn records the messages a dispatcher sends, and reports a
// fixed set of children for every path.
type fakeConn struct {
	mu       sync.Mutex
	sent     []*Message
	children []string
	sendErr  error
	listErr  error
}

func (c *fakeConn) Send(ctx context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) ListChildren(ctx context.Context, path ObjectPath) ([]string, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.children, nil
}

// call dispatches a method call to d and returns the single reply.
func (c *fakeConn) call(t *testing.T, d *Dispatcher, iface, member string, body ...Value) *Message {
	t.Helper()
	return c.send(t, d, NewMethodCall("/obj", iface, member, body...))
}

// send dispatches msg to d and returns the single reply.
func (c *fakeConn) send(t *testing.T, d *Dispatcher, msg *Message) *Message {
	t.Helper()
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()

	member, _ := msg.Member.GetOK()
	msg.Serial = 42
	msg.Sender = ":1.7"
	if err := d.Dispatch(context.Background(), c, msg); err != nil {
		t.Fatalf("Dispatch(%s) failed: %v", member, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) != 1 {
		t.Fatalf("Dispatch(%s) sent %d messages, want 1", member, len(c.sent))
	}
	reply := c.sent[0]
	if reply.ReplySerial != 42 {
		t.Errorf("reply has ReplySerial %d, want 42", reply.ReplySerial)
	}
	if reply.Destination != ":1.7" {
		t.Errorf("reply has Destination %q, want :1.7", reply.Destination)
	}
	return reply
}

// wantReturn checks that reply is a method return carrying body.
func wantReturn(t *testing.T, reply *Message, body ...Value) {
	t.Helper()
	if reply.Type != MsgMethodReturn {
		t.Fatalf("got %s reply (%v), want method_return", reply.Type, reply.Err())
	}
	if diff := cmp.Diff(reply.Body, body); diff != "" {
		t.Errorf("wrong reply body (-got+want):\n%s", diff)
	}
	wantSig := signatureOf(body)
	gotSig, ok := reply.Signature.GetOK()
	if len(body) == 0 {
		if ok {
			t.Errorf("empty reply has signature %q", gotSig)
		}
	} else if gotSig != wantSig {
		t.Errorf("reply signature = %q, want %q", gotSig, wantSig)
	}
}

// wantError checks that reply is an error reply with the given name,
// and detail if detail is non-empty.
func wantError(t *testing.T, reply *Message, name, detail string) {
	t.Helper()
	cerr := reply.Err()
	if cerr == nil {
		t.Fatalf("got %s reply with body %v, want error %s", reply.Type, reply.Body, name)
	}
	if cerr.Name != name {
		t.Errorf("got error %s (%s), want %s", cerr.Name, cerr.Detail, name)
	}
	if detail != "" && cerr.Detail != detail {
		t.Errorf("got error detail %q, want %q", cerr.Detail, detail)
	}
}

var errBoom = errors.New("boom")

// maybe is a shorthand for value.Just in header literals.
func maybe(s string) value.Maybe[string] { return value.Just(s) }
