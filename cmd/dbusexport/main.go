package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	dbus "github.com/danderson/dbusexport"
	"github.com/danderson/dbusexport/fragments"
	"github.com/danderson/dbusexport/internal/dbusgen"
	"github.com/danderson/dbusexport/internal/mockobj"
	"github.com/kr/pretty"
	"github.com/rs/zerolog"
)

var globalArgs struct {
	Verbose   bool   `flag:"verbose,Log dispatch activity to stderr"`
	Path      string `flag:"path,default=/,Object path to export the mock object at"`
	NoIntro   bool   `flag:"no-introspect,Do not serve org.freedesktop.DBus.Introspectable"`
	BigEndian bool   `flag:"big-endian,Use big-endian wire encoding instead of native"`
}

var callArgs struct {
	Wire    bool          `flag:"wire,Print the wire encoding of the reply body"`
	Timeout time.Duration `flag:"timeout,default=5s,How long to wait for the reply"`
}

var generateArgs struct {
	PackageName string `flag:"package,default=service,Package name to output"`
	OutFile     string `flag:"out,default=gen.go,Output file path"`
}

func main() {
	root := &command.C{
		Name:     "dbusexport",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "parse",
				Usage: "parse signature...",
				Help:  "Parse DBus type signatures and show the Go types they map to.",
				Run:   runParse,
			},
			{
				Name:  "check",
				Usage: "check file",
				Help:  "Load a mock object description and list its members.",
				Run:   command.Adapt(runCheck),
			},
			{
				Name:  "introspect",
				Usage: "introspect file [child...]",
				Help: `Print the introspection document of a mock object.

Children, if given, are listed as child nodes of the object.`,
				Run: runIntrospect,
			},
			{
				Name:  "call",
				Usage: "call file interface member [arg...]",
				Help: `Call a method on a mock object and print the reply.

Each argument is a TOML value, converted to the DBus type that the
method expects. Strings may be given without quotes. Variants are
tables with "type" and "value" keys, for example:

  call greeter.toml org.freedesktop.DBus.Properties Set \
    org.example.Greeter Greeting '{type="s", value="howdy"}'
`,
				SetFlags: command.Flags(flax.MustBind, &callArgs),
				Run:      runCall,
			},
			{
				Name:  "generate",
				Usage: "generate introspection.xml interface",
				Help: `Generate a Go skeleton that serves an interface.

The interface is read from an introspection XML document. The output
declares a handler interface with one method per DBus method and
property accessor, and a constructor that builds the exported
interface from a handler.`,
				SetFlags: command.Flags(flax.MustBind, &generateArgs),
				Run:      command.Adapt(runGenerate),
			},
			{
				Name:  "decode",
				Usage: "decode signature hex",
				Help:  "Decode a hex-encoded message body with the given signature.",
				Run:   command.Adapt(runDecode),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func logger() zerolog.Logger {
	if !globalArgs.Verbose {
		return zerolog.Nop()
	}
	out := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(out).With().Timestamp().Str("app", "dbusexport").Logger()
}

func byteOrder() fragments.ByteOrder {
	if globalArgs.BigEndian {
		return fragments.BigEndian
	}
	return fragments.NativeEndian
}

func loadObject(path string) (*dbus.Dispatcher, error) {
	obj, err := mockobj.Load(path)
	if err != nil {
		return nil, err
	}
	reg, err := obj.Build(dbus.NewStore())
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", path, err)
	}
	return dbus.NewDispatcher(reg,
		dbus.WithIntrospection(!globalArgs.NoIntro),
		dbus.WithLogger(logger())), nil
}

func runParse(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("parse requires at least one signature.")
	}
	var errs []error
	for _, sig := range env.Args {
		for t, err := range dbus.Types(sig) {
			if err != nil {
				errs = append(errs, err)
				break
			}
			fmt.Printf("%s: %s\n", t, t.GoType())
		}
	}
	return errors.Join(errs...)
}

func runCheck(env *command.Env, file string) error {
	d, err := loadObject(file)
	if err != nil {
		return err
	}
	var out indenter
	for _, f := range d.Registry().Interfaces() {
		out.indent(0)
		out.v(f.Name())
		out.indent(1)
		for _, m := range f.Methods() {
			out.f("method %s(%s) -> (%s)", m.Name(), m.In(), m.Out())
		}
		for _, p := range f.Properties() {
			out.f("property %s %s (%s)", p.Name(), p.Type(), p.Access())
		}
		for _, s := range f.Signals() {
			out.f("signal %s(%s)", s.Name(), s.Signature())
		}
	}
	return nil
}

func runIntrospect(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("introspect requires a mock object file.")
	}
	d, err := loadObject(env.Args[0])
	if err != nil {
		return err
	}
	doc := dbus.Introspect(d.Registry(), d.Registry().HasProperties(), env.Args[1:])
	fmt.Print(doc)
	return nil
}

// printer is a connection that delivers replies to a channel.
type printer struct {
	replies chan *dbus.Message
}

func (p printer) Send(ctx context.Context, msg *dbus.Message) error {
	select {
	case p.replies <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runCall(env *command.Env) error {
	if len(env.Args) < 3 {
		return env.Usagef("call requires a file, an interface and a member.")
	}
	file, iface, member, rawArgs := env.Args[0], env.Args[1], env.Args[2], env.Args[3:]
	d, err := loadObject(file)
	if err != nil {
		return err
	}
	in, err := inputSignature(d.Registry(), iface, member)
	if err != nil {
		return err
	}
	body, err := parseArgs(in, rawArgs)
	if err != nil {
		return err
	}

	out := printer{replies: make(chan *dbus.Message, 1)}
	exp := dbus.NewExporter(out, dbus.ExportLogger(logger()))
	if err := exp.Bind(dbus.ObjectPath(globalArgs.Path), d, dbus.WithLock(&sync.Mutex{})); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(env.Context(), callArgs.Timeout)
	defer cancel()
	msg := dbus.NewMethodCall(dbus.ObjectPath(globalArgs.Path), iface, member, body...)
	msg.Serial = 1
	msg.Sender = ":dbusexport.cli"
	exp.Deliver(ctx, msg)
	exp.Wait()

	var reply *dbus.Message
	select {
	case reply = <-out.replies:
	case <-ctx.Done():
		return fmt.Errorf("waiting for reply: %w", ctx.Err())
	}
	if cerr := reply.Err(); cerr != nil {
		return cerr
	}
	fmt.Printf("%# v\n", pretty.Formatter(reply.Body))
	if callArgs.Wire {
		bs, err := dbus.MarshalBody(byteOrder(), reply.Body)
		if err != nil {
			return fmt.Errorf("encoding reply: %w", err)
		}
		sig, _ := reply.Signature.GetOK()
		fmt.Printf("signature %q\n%s", sig, hex.Dump(bs))
	}
	return nil
}

// inputSignature returns the input signature of the named member,
// including the members of the standard interfaces.
func inputSignature(reg *dbus.Registry, iface, member string) (string, error) {
	switch iface {
	case "org.freedesktop.DBus.Introspectable":
		return "", nil
	case "org.freedesktop.DBus.Properties":
		switch member {
		case "Get":
			return "ss", nil
		case "GetAll":
			return "s", nil
		case "Set":
			return "ssv", nil
		}
		return "", nil
	}
	f, ok := reg.Interface(iface)
	if !ok {
		return "", fmt.Errorf("unknown interface %q", iface)
	}
	m, ok := f.Method(member)
	if !ok {
		return "", fmt.Errorf("unknown method %s.%s", iface, member)
	}
	return m.In(), nil
}

// parseArgs converts command line arguments into a call body of
// signature sig.
func parseArgs(sig string, args []string) ([]dbus.Value, error) {
	ts, err := dbus.ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(args) != len(ts) {
		return nil, fmt.Errorf("got %d arguments, signature %q wants %d", len(args), sig, len(ts))
	}
	var ret []dbus.Value
	for i, t := range ts {
		lit, err := parseLiteral(args[i])
		if err != nil {
			if t.Kind() != dbus.KindString && t.Kind() != dbus.KindObjectPath && t.Kind() != dbus.KindSignature {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			lit = args[i]
		}
		if _, ok := lit.(string); !ok && t.Kind() == dbus.KindString {
			lit = args[i]
		}
		v, err := dbus.FromLiteral(t, lit)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		ret = append(ret, v)
	}
	return ret, nil
}

// parseLiteral parses s as a TOML value.
func parseLiteral(s string) (any, error) {
	var doc map[string]any
	if _, err := toml.Decode("v = "+s, &doc); err != nil {
		return nil, err
	}
	return doc["v"], nil
}

func runDecode(env *command.Env, sig, data string) error {
	bs, err := hex.DecodeString(strings.Join(strings.Fields(data), ""))
	if err != nil {
		return fmt.Errorf("parsing hex: %w", err)
	}
	vs, err := dbus.UnmarshalBody(byteOrder(), sig, bs)
	if err != nil {
		return err
	}
	fmt.Printf("%# v\n", pretty.Formatter(vs))
	return nil
}

func runGenerate(env *command.Env, file, ifaceName string) error {
	bs, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	desc, err := dbus.ParseIntrospection(string(bs))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}
	iface := desc.Interfaces[ifaceName]
	if iface == nil {
		return fmt.Errorf("%s does not describe interface %s", file, ifaceName)
	}
	code, err := dbusgen.Interface(iface)
	if err != nil {
		return fmt.Errorf("generate interface %s: %w", ifaceName, err)
	}

	var out strings.Builder
	fmt.Fprintf(&out, `package %s

import (
	"context"

	"github.com/danderson/dbusexport"
)

`, generateArgs.PackageName)
	out.WriteString(code)
	if err := os.WriteFile(generateArgs.OutFile, []byte(out.String()), 0644); err != nil {
		return fmt.Errorf("writing generated code: %w", err)
	}
	fmt.Printf("Wrote generated package to %s\n", generateArgs.OutFile)
	return nil
}
