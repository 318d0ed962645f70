// Package dbus exports Go objects on DBus.
//
// An exported object is described by a [Registry] of [Interface]
// values. Each interface declares methods, properties and signals,
// along with their DBus type signatures:
//
//	iface := dbus.MustInterface("org.example.Greeter",
//	    dbus.MethodFunc("Hello", hello, "s", "s"),
//	    dbus.PropertyFunc("Greeting", "s",
//	        dbus.Getter(getGreeting),
//	        dbus.Setter(setGreeting)),
//	    dbus.Emits("Greeted", "s", "who"),
//	)
//
// Method handlers are plain Go functions of the form
//
//	func(ctx context.Context, call *dbus.Call, in1 T1, in2 T2, ...) (out1 U1, ..., err error)
//
// Arguments and results are converted between DBus values and Go
// types according to the declared signatures. DBus basic types map to
// the Go types of the same size and kind, arrays to slices, dicts to
// maps, structs to Go structs with one exported field per struct
// field, and variants to [Variant]. Handlers that want to see the
// raw values use [RawMethod] instead.
//
// A [Dispatcher] serves calls to one object. It validates each call's
// arguments before running the handler, and answers calls to the
// standard org.freedesktop.DBus.Properties and
// org.freedesktop.DBus.Introspectable interfaces on behalf of the
// object. An [Exporter] routes calls to a tree of dispatchers bound
// to object paths.
//
// Handler errors reach the caller as DBus error replies. Return a
// [*CallError] to choose the error name; any other error is reported
// as org.freedesktop.DBus.Error.Failed.
package dbus
