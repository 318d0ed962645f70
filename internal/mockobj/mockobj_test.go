package mockobj

import (
	"strings"
	"testing"

	dbus "github.com/danderson/dbusexport"
	"github.com/danderson/dbusexport/dbustest"
	"github.com/google/go-cmp/cmp"
)

func mustLoad(t *testing.T) (*dbustest.Conn, *dbus.Store) {
	t.Helper()
	obj, err := Load("testdata/greeter.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	store := dbus.NewStore()
	reg, err := obj.Build(store)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	conn := dbustest.New(t)
	if err := conn.Exporter().Bind(objPath, dbus.NewDispatcher(reg, dbus.WithLogger(dbustest.Logger(t)))); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	return conn, store
}

const objPath = "/org/example"

func TestLoad(t *testing.T) {
	obj, err := Load("testdata/greeter.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := len(obj.Interfaces); got != 1 {
		t.Fatalf("got %d interfaces, want 1", got)
	}
	f := obj.Interfaces[0]
	var names []string
	for _, m := range f.Methods {
		names = append(names, m.Name)
	}
	if diff := cmp.Diff(names, []string{"Hello", "Echo", "Fail"}); diff != "" {
		t.Errorf("wrong methods (-got+want):\n%s", diff)
	}
	if got, want := len(f.Properties), 3; got != want {
		t.Errorf("got %d properties, want %d", got, want)
	}
}

func TestMethods(t *testing.T) {
	conn, _ := mustLoad(t)

	got := conn.MustCall(t, objPath, "org.example.Greeter", "Hello", dbus.String("bob"))
	if diff := cmp.Diff(got.Body, []dbus.Value{dbus.String("hi there")}); diff != "" {
		t.Errorf("Hello reply (-got+want):\n%s", diff)
	}

	dict := dbus.Array{
		Elem: "{sv}",
		Values: []dbus.Value{
			dbus.DictEntry{Key: dbus.String("k"), Value: dbus.Variant{Value: dbus.Uint32(7)}},
		},
	}
	got = conn.MustCall(t, objPath, "org.example.Greeter", "Echo", dict)
	if diff := cmp.Diff(got.Body, []dbus.Value{dict}); diff != "" {
		t.Errorf("Echo reply (-got+want):\n%s", diff)
	}

	got = conn.MustCall(t, objPath, "org.example.Greeter", "Fail")
	want := &dbus.CallError{Name: "org.example.Error.Nope", Detail: "not today"}
	if diff := cmp.Diff(got.Err(), want); diff != "" {
		t.Errorf("Fail reply (-got+want):\n%s", diff)
	}
}

func TestProperties(t *testing.T) {
	conn, store := mustLoad(t)

	got := conn.MustCall(t, objPath, "org.freedesktop.DBus.Properties", "Get", dbus.String("org.example.Greeter"), dbus.String("Counts"))
	want := []dbus.Value{dbus.Variant{Value: dbus.Array{
		Elem: "{sq}",
		Values: []dbus.Value{
			dbus.DictEntry{Key: dbus.String("apples"), Value: dbus.Uint16(3)},
			dbus.DictEntry{Key: dbus.String("pears"), Value: dbus.Uint16(5)},
		},
	}}}
	if diff := cmp.Diff(got.Body, want); diff != "" {
		t.Errorf("Get(Counts) (-got+want):\n%s", diff)
	}

	got = conn.MustCall(t, objPath, "org.freedesktop.DBus.Properties", "Get", dbus.String("org.example.Greeter"), dbus.String("Any"))
	want = []dbus.Value{dbus.Variant{Value: dbus.Variant{Value: dbus.Struct{dbus.Int32(42), dbus.Bool(true)}}}}
	if diff := cmp.Diff(got.Body, want); diff != "" {
		t.Errorf("Get(Any) (-got+want):\n%s", diff)
	}

	got = conn.MustCall(t, objPath, "org.freedesktop.DBus.Properties", "Set", dbus.String("org.example.Greeter"), dbus.String("Greeting"), dbus.Variant{Value: dbus.String("howdy")})
	if err := got.Err(); err != nil {
		t.Fatalf("Set(Greeting) failed: %v", err)
	}
	if v, _ := store.Get("org.example.Greeter", "Greeting"); v != dbus.String("howdy") {
		t.Errorf("stored Greeting is %v, want howdy", v)
	}

	got = conn.MustCall(t, objPath, "org.freedesktop.DBus.Properties", "Set", dbus.String("org.example.Greeter"), dbus.String("Counts"), dbus.Variant{Value: dbus.String("nope")})
	if err := got.Err(); err == nil || err.Name != dbus.ErrProperty {
		t.Errorf("Set(Counts) got error %v, want %s", err, dbus.ErrProperty)
	}
}

func TestIntrospectSignals(t *testing.T) {
	conn, _ := mustLoad(t)
	got := conn.MustCall(t, objPath, "org.freedesktop.DBus.Introspectable", "Introspect")
	xml := string(got.Body[0].(dbus.String))
	for _, want := range []string{
		`<signal name="Greeted">`,
		`<arg name="who" type="s"/>`,
		`<arg name="name" type="s" direction="in"/>`,
		`<property name="Greeting" type="s" access="readwrite"/>`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("introspection data missing %s:\n%s", want, xml)
		}
	}
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  string
	}{
		{"empty", ``, "object has no interfaces"},
		{"no name", "[[interface]]\n", "missing name"},
		{
			"echo mismatch",
			"[[interface]]\nname = \"a.b\"\n[[interface.method]]\nname = \"E\"\nin = \"s\"\nout = \"i\"\necho = true\n",
			"echo requires matching signatures",
		},
		{
			"two modes",
			"[[interface]]\nname = \"a.b\"\n[[interface.method]]\nname = \"E\"\necho = true\nreply = [\"x\"]\n",
			"at most one of",
		},
		{
			"property without value",
			"[[interface]]\nname = \"a.b\"\n[[interface.property]]\nname = \"P\"\ntype = \"s\"\n",
			"missing value",
		},
		{"bad toml", "[[interface", "parse failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.doc)
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.err) {
				t.Errorf("Parse error %q does not mention %q", err, tc.err)
			}
		})
	}
}

func TestBuildErrors(t *testing.T) {
	obj, err := Load("testdata/bad_reply.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := obj.Build(dbus.NewStore()); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("Build got error %v, want out of range", err)
	}

	obj, err = Parse("[[interface]]\nname = \"a.b\"\n[[interface.property]]\nname = \"P\"\ntype = \"q\"\nvalue = \"x\"\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := obj.Build(dbus.NewStore()); err == nil {
		t.Error("Build with mistyped property value succeeded")
	}
}
