package dbus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// Sender is the part of a connection that transmits messages.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Exporter serves a tree of objects on a connection.
//
// Each exported object is a [Dispatcher] bound to an object path.
// Incoming method calls are handed to [Exporter.Deliver], which runs
// each call on its own goroutine. Replies go out through the
// Exporter's Sender.
type Exporter struct {
	out   Sender
	log   zerolog.Logger
	tasks *taskgroup.Group

	mu      sync.Mutex
	objects map[ObjectPath]*binding
}

type binding struct {
	disp *Dispatcher
	lock sync.Locker
}

// An ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// ExportLogger sets the logger the exporter reports problems to. The
// default is a disabled logger.
func ExportLogger(log zerolog.Logger) ExporterOption {
	return func(e *Exporter) { e.log = log }
}

// NewExporter returns an Exporter that sends replies through out.
func NewExporter(out Sender, opts ...ExporterOption) *Exporter {
	ret := &Exporter{
		out:     out,
		log:     zerolog.Nop(),
		tasks:   taskgroup.New(nil),
		objects: map[ObjectPath]*binding{},
	}
	for _, o := range opts {
		o(ret)
	}
	return ret
}

// A BindOption configures an object binding.
type BindOption func(*binding)

// WithLock makes the bound object hold lock while its handlers and
// property accessors run. Use it to serialize access to an object's
// state across concurrent calls.
func WithLock(lock sync.Locker) BindOption {
	return func(b *binding) { b.lock = lock }
}

// Bind exports the object served by d at path.
func (e *Exporter) Bind(path ObjectPath, d *Dispatcher, opts ...BindOption) error {
	if err := path.Valid(); err != nil {
		return err
	}
	if d == nil {
		return errors.New("cannot bind nil dispatcher")
	}
	b := &binding{disp: d}
	for _, o := range opts {
		o(b)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.objects[path]; ok {
		return fmt.Errorf("object path %s is already bound", path)
	}
	e.objects[path] = b
	e.log.Debug().Str("path", string(path)).Msg("object bound")
	return nil
}

// Unbind stops exporting the object at path, and reports whether an
// object was bound there. Calls that were already delivered to the
// object run to completion.
func (e *Exporter) Unbind(path ObjectPath) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.objects[path]; !ok {
		return false
	}
	delete(e.objects, path)
	e.log.Debug().Str("path", string(path)).Msg("object unbound")
	return true
}

// Paths returns the paths of all bound objects, in sorted order.
func (e *Exporter) Paths() []ObjectPath {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.objects))
}

// Send implements [Conn].
func (e *Exporter) Send(ctx context.Context, msg *Message) error {
	return e.out.Send(ctx, msg)
}

// ListChildren implements [Conn]. It returns the names of the direct
// children of path that lead to bound objects, in sorted order.
func (e *Exporter) ListChildren(ctx context.Context, path ObjectPath) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.childrenLocked(path), nil
}

func (e *Exporter) childrenLocked(path ObjectPath) []string {
	names := mapset.New[string]()
	for p := range e.objects {
		if n, ok := path.childName(p); ok {
			names.Add(n)
		}
	}
	return slices.Sorted(maps.Keys(names))
}

// Deliver routes msg to the object it targets. Method calls run on
// their own goroutine, so Deliver does not block on handlers. Use
// [Exporter.Wait] to wait for delivered calls to finish.
//
// Calls to paths with no bound object get an UnknownObject error,
// except for introspection of a path that has bound descendants,
// which describes the path's children.
func (e *Exporter) Deliver(ctx context.Context, msg *Message) {
	if msg.Type != MsgMethodCall {
		return
	}

	e.mu.Lock()
	b := e.objects[msg.Path]
	var children []string
	if b == nil {
		children = e.childrenLocked(msg.Path)
	}
	e.mu.Unlock()

	e.tasks.Go(func() error {
		var err error
		if b != nil {
			err = b.disp.dispatch(ctx, e, msg, b.lock)
		} else {
			err = e.noObject(ctx, msg, children)
		}
		if err != nil {
			e.log.Warn().Err(err).Str("path", string(msg.Path)).Msg("delivering call")
		}
		return nil
	})
}

// noObject answers a call to a path with no bound object.
func (e *Exporter) noObject(ctx context.Context, msg *Message, children []string) error {
	var reply *Message
	iface, _ := msg.Interface.GetOK()
	member, _ := msg.Member.GetOK()
	if len(children) > 0 && iface == ifaceIntrospectable && member == "Introspect" {
		var sb strings.Builder
		sb.WriteString(introspectHeader)
		writeChildren(&sb, children)
		sb.WriteString(introspectFooter)
		reply = msg.methodReturn(String(sb.String()))
	} else {
		reply = msg.errorReply(callErr(ErrUnknownObject, "No such object path %s", msg.Path))
	}
	if !msg.WantReply() {
		return nil
	}
	return e.Send(ctx, reply)
}

// Wait blocks until all delivered calls have finished.
func (e *Exporter) Wait() {
	e.tasks.Wait()
}
