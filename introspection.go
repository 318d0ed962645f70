package dbus

import (
	"cmp"
	"context"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
)

const introspectHeader = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
  <interface name="org.freedesktop.DBus.Introspectable">
    <method name="Introspect">
      <arg name="xml_data" type="s" direction="out"/>
    </method>
  </interface>
`

const introspectProperties = `  <interface name="org.freedesktop.DBus.Properties">
    <method name="Get">
      <arg name="interface_name" type="s" direction="in"/>
      <arg name="property_name" type="s" direction="in"/>
      <arg name="value" type="v" direction="out"/>
    </method>
    <method name="GetAll">
      <arg name="interface_name" type="s" direction="in"/>
      <arg name="properties" type="a{sv}" direction="out"/>
    </method>
    <method name="Set">
      <arg name="interface_name" type="s" direction="in"/>
      <arg name="property_name" type="s" direction="in"/>
      <arg name="value" type="v" direction="in"/>
    </method>
    <signal name="PropertiesChanged">
      <arg name="interface_name" type="s"/>
      <arg name="changed_properties" type="a{sv}"/>
      <arg name="invalidated_properties" type="as"/>
    </signal>
  </interface>
`

const introspectFooter = "</node>\n"

// Introspect returns the introspection XML document for an object
// implementing the interfaces in reg, with the given child nodes.
//
// The document always describes org.freedesktop.DBus.Introspectable,
// and describes org.freedesktop.DBus.Properties if hasProperties is
// true. Interfaces and their members appear in declaration order.
func Introspect(reg *Registry, hasProperties bool, children []string) string {
	var sb strings.Builder
	sb.WriteString(introspectStatic(reg, hasProperties))
	writeChildren(&sb, children)
	sb.WriteString(introspectFooter)
	return sb.String()
}

// introspectStatic returns the part of the introspection document
// that doesn't depend on the object's children.
func introspectStatic(reg *Registry, hasProperties bool) string {
	var sb strings.Builder
	sb.WriteString(introspectHeader)
	if hasProperties {
		sb.WriteString(introspectProperties)
	}
	for _, f := range reg.ifaces {
		writeInterface(&sb, f)
	}
	return sb.String()
}

func writeInterface(sb *strings.Builder, f *Interface) {
	fmt.Fprintf(sb, "  <interface name=%s>\n", attr(f.name))
	for _, m := range f.methods {
		fmt.Fprintf(sb, "    <method name=%s>\n", attr(m.name))
		n := 0
		for i, t := range m.in {
			writeArg(sb, argName(m.inNames, i, n), t, "in")
			n++
		}
		for i, t := range m.out {
			writeArg(sb, argName(m.outNames, i, n), t, "out")
			n++
		}
		sb.WriteString("    </method>\n")
	}
	for _, p := range f.properties {
		fmt.Fprintf(sb, "    <property name=%s type=%s access=%s/>\n", attr(p.name), attr(p.typ.String()), attr(p.Access()))
	}
	for _, s := range f.signals {
		fmt.Fprintf(sb, "    <signal name=%s>\n", attr(s.name))
		for i, t := range s.args {
			if len(s.argNames) > 0 {
				fmt.Fprintf(sb, "      <arg name=%s type=%s/>\n", attr(s.argNames[i]), attr(t.String()))
			} else {
				fmt.Fprintf(sb, "      <arg type=%s/>\n", attr(t.String()))
			}
		}
		sb.WriteString("    </signal>\n")
	}
	sb.WriteString("  </interface>\n")
}

// argName returns the introspection name of a method argument. Args
// without an explicit name are numbered across inputs and outputs.
func argName(names []string, i, n int) string {
	if len(names) > 0 {
		return names[i]
	}
	return fmt.Sprintf("arg_%d", n)
}

func writeArg(sb *strings.Builder, name string, t Type, direction string) {
	fmt.Fprintf(sb, "      <arg name=%s type=%s direction=%s/>\n", attr(name), attr(t.String()), attr(direction))
}

func writeChildren(sb *strings.Builder, children []string) {
	for _, c := range children {
		fmt.Fprintf(sb, "  <node name=%s/>\n", attr(c))
	}
}

// attr returns s as a quoted and escaped XML attribute value.
func attr(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	xml.EscapeText(&sb, []byte(s))
	sb.WriteByte('"')
	return sb.String()
}

// introspect handles calls to the org.freedesktop.DBus.Introspectable
// interface.
func (d *Dispatcher) introspect(ctx context.Context, call *Call, body []Value) *Message {
	hdr := call.Header
	member, ok := hdr.Member.GetOK()
	if !ok {
		return hdr.errorReply(callErr(ErrMember, "Message does not have a member"))
	}
	if member != "Introspect" {
		return hdr.errorReply(unknownMethod(ifaceIntrospectable, member))
	}
	if _, cerr := takeArgs(hdr, body, nil); cerr != nil {
		return hdr.errorReply(cerr)
	}
	children, err := call.Conn.ListChildren(ctx, hdr.Path)
	if err != nil {
		d.log.Warn().Err(err).Str("path", string(hdr.Path)).Msg("listing children for introspection")
		return hdr.errorReply(callErr(ErrFailed, "listing children of %s: %v", hdr.Path, err))
	}
	var sb strings.Builder
	sb.WriteString(d.staticXML)
	writeChildren(&sb, children)
	sb.WriteString(introspectFooter)
	return hdr.methodReturn(String(sb.String()))
}

// ObjectDescription describes a DBus object's interfaces and child
// objects, as parsed from introspection XML.
type ObjectDescription struct {
	// Interfaces maps an interface name to a description of its API.
	Interfaces map[string]*InterfaceDescription
	// Children is the relative paths to child objects under this
	// object.
	Children []string
}

// ParseIntrospection parses an introspection XML document.
func ParseIntrospection(doc string) (*ObjectDescription, error) {
	var ret ObjectDescription
	if err := xml.Unmarshal([]byte(doc), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (o *ObjectDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Interfaces []*InterfaceDescription `xml:"interface"`
		Children   []struct {
			Name string `xml:"name,attr"`
		} `xml:"node"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	o.Interfaces = make(map[string]*InterfaceDescription, len(raw.Interfaces))
	for _, iface := range raw.Interfaces {
		o.Interfaces[iface.Name] = iface
	}
	o.Children = make([]string, 0, len(raw.Children))
	for _, v := range raw.Children {
		o.Children = append(o.Children, v.Name)
	}
	return nil
}

// InterfaceDescription describes a DBus interface.
type InterfaceDescription struct {
	Name       string                 `xml:"name,attr"`
	Methods    []*MethodDescription   `xml:"method"`
	Signals    []*SignalDescription   `xml:"signal"`
	Properties []*PropertyDescription `xml:"property"`
}

func (d InterfaceDescription) String() string {
	var ret strings.Builder
	fmt.Fprintf(&ret, "interface %s {\n", d.Name)

	methods := slices.SortedFunc(slices.Values(d.Methods), func(a, b *MethodDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, m := range methods {
		fmt.Fprintf(&ret, "  %s\n", m)
	}
	signals := slices.SortedFunc(slices.Values(d.Signals), func(a, b *SignalDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, s := range signals {
		fmt.Fprintf(&ret, "  %s\n", s)
	}
	props := slices.SortedFunc(slices.Values(d.Properties), func(a, b *PropertyDescription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, p := range props {
		fmt.Fprintf(&ret, "  %s\n", p)
	}
	ret.WriteString("}")
	return ret.String()
}

// MethodDescription describes a DBus method.
type MethodDescription struct {
	Name string
	In   []ArgumentDescription
	Out  []ArgumentDescription
}

func (m MethodDescription) String() string {
	var ret strings.Builder
	ret.WriteString("func ")
	ret.WriteString(m.Name)
	writeArgList(&ret, m.In)
	if len(m.Out) > 0 {
		ret.WriteByte(' ')
		writeArgList(&ret, m.Out)
	}
	return ret.String()
}

func writeArgList(sb *strings.Builder, args []ArgumentDescription) {
	sb.WriteByte('(')
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(arg.String())
	}
	sb.WriteByte(')')
}

func (m *MethodDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Name string `xml:"name,attr"`
		Args []struct {
			Name      string `xml:"name,attr"`
			Type      string `xml:"type,attr"`
			Direction string `xml:"direction,attr"`
		} `xml:"arg"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	m.Name = raw.Name
	m.In, m.Out = nil, nil
	for _, arg := range raw.Args {
		t, err := ParseType(arg.Type)
		if err != nil {
			return fmt.Errorf("invalid signature %q for arg %s: %w", arg.Type, arg.Name, err)
		}
		ad := ArgumentDescription{
			Name: arg.Name,
			Type: t,
		}
		if arg.Direction == "out" {
			m.Out = append(m.Out, ad)
		} else {
			m.In = append(m.In, ad)
		}
	}
	return nil
}

// SignalDescription describes a DBus signal.
type SignalDescription struct {
	Name string
	Args []ArgumentDescription
}

func (s SignalDescription) String() string {
	var ret strings.Builder
	ret.WriteString("signal ")
	ret.WriteString(s.Name)
	writeArgList(&ret, s.Args)
	return ret.String()
}

func (s *SignalDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Name string `xml:"name,attr"`
		Args []struct {
			Name string `xml:"name,attr"`
			Type string `xml:"type,attr"`
		} `xml:"arg"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Args = nil
	for _, arg := range raw.Args {
		t, err := ParseType(arg.Type)
		if err != nil {
			return fmt.Errorf("invalid signature %q for signal arg %s: %w", arg.Type, arg.Name, err)
		}
		s.Args = append(s.Args, ArgumentDescription{
			Name: arg.Name,
			Type: t,
		})
	}
	return nil
}

// PropertyDescription describes a DBus property.
type PropertyDescription struct {
	Name     string
	Type     Type
	Readable bool
	Writable bool
}

func (p PropertyDescription) String() string {
	access := ""
	switch {
	case p.Readable && p.Writable:
		access = "readwrite"
	case p.Readable:
		access = "readonly"
	case p.Writable:
		access = "writeonly"
	}
	return fmt.Sprintf("property %s %s [%s]", p.Name, p.Type.GoType(), access)
}

func (p *PropertyDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Name   string `xml:"name,attr"`
		Type   string `xml:"type,attr"`
		Access string `xml:"access,attr"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	p.Name = raw.Name
	t, err := ParseType(raw.Type)
	if err != nil {
		return fmt.Errorf("invalid signature %q for property %s: %w", raw.Type, raw.Name, err)
	}
	p.Type = t
	switch raw.Access {
	case "read":
		p.Readable, p.Writable = true, false
	case "write":
		p.Readable, p.Writable = false, true
	case "readwrite":
		p.Readable, p.Writable = true, true
	default:
		return fmt.Errorf("unknown property access value %q", raw.Access)
	}
	return nil
}

// ArgumentDescription describes a DBus method's input or output, or a
// signal's argument.
type ArgumentDescription struct {
	Name string // optional
	Type Type
}

func (a ArgumentDescription) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s %s", a.Name, a.Type.GoType())
	}
	return a.Type.GoType().String()
}
