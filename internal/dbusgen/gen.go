// Package dbusgen generates Go skeletons for serving DBus interfaces
// described by introspection data.
package dbusgen

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"go/format"
	"slices"
	"strings"
	"unicode"

	dbus "github.com/danderson/dbusexport"
)

type generator struct {
	out   bytes.Buffer
	iface *dbus.InterfaceDescription
	opts  bytes.Buffer
}

// Interface returns Go source declaring a handler interface for iface,
// and a constructor that builds a *dbus.Interface served by a handler
// implementation.
//
// Members are emitted in name order. If the generated code fails to
// format, the unformatted code is returned along with the error.
func Interface(iface *dbus.InterfaceDescription) (string, error) {
	if iface == nil {
		return "", errors.New("no interface provided")
	}
	switch iface.Name {
	case "org.freedesktop.DBus.Properties", "org.freedesktop.DBus.Introspectable":
		return "", fmt.Errorf("interface %s is provided by the dispatcher", iface.Name)
	}
	g := generator{iface: iface}
	g.Interface()

	ret, err := format.Source(g.out.Bytes())
	if err != nil {
		return g.out.String(), err
	}
	return string(ret), nil
}

func (g *generator) s(s string) {
	g.out.WriteString(s)
}

func (g *generator) f(msg string, args ...any) {
	fmt.Fprintf(&g.out, msg, args...)
}

// opt records one member option for the constructor.
func (g *generator) opt(msg string, args ...any) {
	fmt.Fprintf(&g.opts, msg, args...)
	g.opts.WriteString(",\n")
}

func (g *generator) Interface() {
	iface := g.iface
	name := publicIdentifier(iface.Name)

	methods := slices.SortedFunc(slices.Values(iface.Methods), func(a, b *dbus.MethodDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	props := slices.SortedFunc(slices.Values(iface.Properties), func(a, b *dbus.PropertyDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	signals := slices.SortedFunc(slices.Values(iface.Signals), func(a, b *dbus.SignalDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})

	g.f("// %sHandler implements the DBus interface %s.\n", name, iface.Name)
	g.f("type %sHandler interface {\n", name)
	for _, m := range methods {
		g.Method(m)
	}
	for _, p := range props {
		g.Property(p)
	}
	g.s("}\n\n")
	for _, s := range signals {
		g.Signal(s)
	}

	g.f(`
// New%[1]s returns the %[2]s interface, served by h.
func New%[1]s(h %[1]sHandler) (*dbus.Interface, error) {
	return dbus.NewInterface(%[2]q,
%[3]s)
}
`, name, iface.Name, g.opts.String())
}

func (g *generator) Method(m *dbus.MethodDescription) {
	mname := publicIdentifier(m.Name)
	g.f("%s(ctx context.Context, call *dbus.Call", mname)
	for i, a := range m.In {
		g.f(", %s %s", argName(i, a), a.Type.GoType())
	}
	g.s(") ")
	if len(m.Out) == 0 {
		g.s("error\n")
	} else {
		g.s("(")
		for i, a := range m.Out {
			g.f("%s %s, ", argName(len(m.In)+i, a), a.Type.GoType())
		}
		g.s("err error)\n")
	}

	var opts string
	if names := argNames(m.In); names != "" {
		opts += ", dbus.InNames(" + names + ")"
	}
	if names := argNames(m.Out); names != "" {
		opts += ", dbus.OutNames(" + names + ")"
	}
	g.opt("dbus.MethodFunc(%q, h.%s, %q, %q%s)", m.Name, mname, signature(m.In), signature(m.Out), opts)
}

func (g *generator) Property(p *dbus.PropertyDescription) {
	pname := publicIdentifier(p.Name)
	var accessors []string
	if p.Readable {
		g.f("%s(ctx context.Context, call *dbus.Call) (%s, error)\n", pname, p.Type.GoType())
		accessors = append(accessors, fmt.Sprintf("dbus.Getter(h.%s)", pname))
	}
	if p.Writable {
		g.f("Set%s(ctx context.Context, call *dbus.Call, val %s) error\n", pname, p.Type.GoType())
		accessors = append(accessors, fmt.Sprintf("dbus.Setter(h.Set%s)", pname))
	}
	g.opt("dbus.PropertyFunc(%q, %q, %s)", p.Name, p.Type.String(), strings.Join(accessors, ", "))
}

func (g *generator) Signal(s *dbus.SignalDescription) {
	if names := argNames(s.Args); names != "" {
		g.opt("dbus.Emits(%q, %q, %s)", s.Name, signature(s.Args), names)
	} else {
		g.opt("dbus.Emits(%q, %q)", s.Name, signature(s.Args))
	}
}

// signature returns the concatenated type signature of args.
func signature(args []dbus.ArgumentDescription) string {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(a.Type.String())
	}
	return sb.String()
}

// argNames returns the quoted names of args as a Go argument list, or
// "" if any argument is unnamed.
func argNames(args []dbus.ArgumentDescription) string {
	if len(args) == 0 {
		return ""
	}
	names := make([]string, len(args))
	for i, a := range args {
		if a.Name == "" {
			return ""
		}
		names[i] = fmt.Sprintf("%q", a.Name)
	}
	return strings.Join(names, ", ")
}

func argName(n int, arg dbus.ArgumentDescription) string {
	name := arg.Name
	if name == "" {
		name = fmt.Sprintf("arg%d", n)
	}
	name = identifier(name)
	switch name {
	case "type":
		name = "typ"
	case "ctx", "call", "err", "val":
		name += "Arg"
	}
	return name
}

func identifier(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	fs := strings.Split(s, "_")
	for i := range fs {
		if i == 0 {
			fst := true
			fs[i] = strings.Map(func(r rune) rune {
				if fst {
					fst = false
					return unicode.ToLower(r)
				}
				return r
			}, fs[i])
		} else {
			switch fs[i] {
			case "id":
				fs[i] = "ID"
			case "fd":
				fs[i] = "FD"
			default:
				fs[i] = strings.Title(fs[i])
			}
		}
	}
	return strings.Join(fs, "")
}

func publicIdentifier(s string) string {
	return strings.Title(identifier(s))
}
