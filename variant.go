package dbus

import (
	"fmt"
	"reflect"
)

// Variant is a value that carries its own type signature.
type Variant struct {
	Value Value
}

var (
	variantType = reflect.TypeFor[Variant]()
	valueType   = reflect.TypeFor[Value]()
)

// Type returns the parsed type of the variant's inner value.
func (v Variant) Type() (Type, error) {
	if v.Value == nil {
		return Type{}, fmt.Errorf("variant has no value")
	}
	return ParseType(v.Value.SignatureDBus())
}

// String returns a compact human-readable rendering of the variant,
// for logging.
func (v Variant) String() string {
	if v.Value == nil {
		return "Variant(<nil>)"
	}
	return fmt.Sprintf("Variant(%s: %v)", v.Value.SignatureDBus(), v.Value)
}
