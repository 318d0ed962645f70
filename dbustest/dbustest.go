// Package dbustest provides an in-memory connection for exercising
// exported objects in tests.
package dbustest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	dbus "github.com/danderson/dbusexport"
	"github.com/rs/zerolog"
)

// Conn is an in-memory peer of a [dbus.Exporter]. It delivers method
// calls to the exporter, and collects the messages the exporter
// sends back.
type Conn struct {
	exp *dbus.Exporter

	mu      sync.Mutex
	serial  uint32
	sent    []*dbus.Message
	waiters map[uint32]chan *dbus.Message
}

// New returns a Conn attached to a fresh Exporter. The exporter logs
// to t, and is waited for when the test finishes.
func New(t testing.TB) *Conn {
	ret := &Conn{
		waiters: map[uint32]chan *dbus.Message{},
	}
	ret.exp = dbus.NewExporter(ret, dbus.ExportLogger(Logger(t)))
	t.Cleanup(ret.exp.Wait)
	return ret
}

// Exporter returns the exporter that c delivers calls to.
func (c *Conn) Exporter() *dbus.Exporter { return c.exp }

// Send implements [dbus.Sender]. Replies are routed to the pending
// [Conn.Call] that they answer, and all messages are recorded.
func (c *Conn) Send(ctx context.Context, msg *dbus.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	if w := c.waiters[msg.ReplySerial]; w != nil {
		delete(c.waiters, msg.ReplySerial)
		w <- msg
	}
	return nil
}

// Sent returns all the messages the exporter has sent so far.
func (c *Conn) Sent() []*dbus.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*dbus.Message(nil), c.sent...)
}

// Deliver assigns msg a serial number and hands it to the exporter,
// without waiting for a reply.
func (c *Conn) Deliver(ctx context.Context, msg *dbus.Message) {
	c.mu.Lock()
	c.serial++
	msg.Serial = c.serial
	c.mu.Unlock()
	c.exp.Deliver(ctx, msg)
}

// Call delivers msg to the exporter and waits for the reply.
func (c *Conn) Call(ctx context.Context, msg *dbus.Message) (*dbus.Message, error) {
	if !msg.WantReply() {
		return nil, fmt.Errorf("message does not expect a reply")
	}
	ch := make(chan *dbus.Message, 1)
	c.mu.Lock()
	c.serial++
	msg.Serial = c.serial
	c.waiters[msg.Serial] = ch
	c.mu.Unlock()

	c.exp.Deliver(ctx, msg)
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, msg.Serial)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// MustCall is like [Conn.Call], but builds the method call from its
// arguments and fails the test if no reply arrives.
func (c *Conn) MustCall(t testing.TB, path dbus.ObjectPath, iface, member string, body ...dbus.Value) *dbus.Message {
	t.Helper()
	msg := dbus.NewMethodCall(path, iface, member, body...)
	msg.Sender = ":1.test"
	reply, err := c.Call(context.Background(), msg)
	if err != nil {
		t.Fatalf("calling %s.%s on %s: %v", iface, member, path, err)
	}
	return reply
}

// Logger returns a logger that writes to t.
func Logger(t testing.TB) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:     &logWriter{t: t},
		NoColor: true,
	}
	return zerolog.New(out).Level(zerolog.DebugLevel)
}

// logWriter forwards complete lines to a test's log.
type logWriter struct {
	t   testing.TB
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logWriter) Write(bs []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(bs)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i == -1 {
			return len(bs), nil
		}
		line := l.buf.Next(i + 1)
		l.t.Log(string(line[:i]))
	}
}
