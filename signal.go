package dbus

import (
	"fmt"
	"slices"
)

// Signal describes a signal declared by an [Interface]. Signals
// appear in introspection data only.
type Signal struct {
	name     string
	args     []Type
	argNames []string
}

// Name returns the signal's name.
func (s *Signal) Name() string { return s.name }

// Signature returns the signature of the signal's body.
func (s *Signal) Signature() string { return signatureString(s.args) }

// Emits declares a signal with the given body signature.
//
// argNames optionally names the signal's arguments in introspection
// data. If provided, there must be one name per argument.
func Emits(name, sig string, argNames ...string) InterfaceOption {
	return func(f *Interface) error {
		if err := validMemberName(name); err != nil {
			return f.memberErr(name, err)
		}
		args, err := ParseSignature(sig)
		if err != nil {
			return f.memberErr(name, err)
		}
		if len(argNames) != 0 && len(argNames) != len(args) {
			return f.memberErr(name, fmt.Errorf("got %d argument names for %d arguments", len(argNames), len(args)))
		}
		return f.addSignal(&Signal{
			name:     name,
			args:     args,
			argNames: slices.Clone(argNames),
		})
	}
}
