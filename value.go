package dbus

import (
	"fmt"
	"strings"
)

// A Value is a dynamically typed DBus value.
//
// The set of Value implementations is closed: Byte, Bool, Int16,
// Uint16, Int32, Uint32, Int64, Uint64, String, ObjectPath,
// Signature, Variant, Array, Struct and DictEntry.
type Value interface {
	// SignatureDBus returns the DBus type signature of the value.
	SignatureDBus() string
	isValue()
}

type (
	Byte   uint8
	Bool   bool
	Int16  int16
	Uint16 uint16
	Int32  int32
	Uint32 uint32
	Int64  int64
	Uint64 uint64
	String string
)

// Signature is a DBus type signature, carried as a value of DBus
// type 'g'.
//
// Use [ParseSignature] to obtain the parsed types a Signature
// describes.
type Signature string

// Array is a homogeneous sequence of values.
type Array struct {
	// Elem is the signature of the array's element type. It must be
	// set even if Values is empty.
	Elem   string
	Values []Value
}

// Struct is an ordered, non-empty sequence of values.
type Struct []Value

// DictEntry is a key/value pair. DictEntries only appear as the
// elements of an Array.
type DictEntry struct {
	Key   Value
	Value Value
}

func (Byte) SignatureDBus() string       { return "y" }
func (Bool) SignatureDBus() string       { return "b" }
func (Int16) SignatureDBus() string      { return "n" }
func (Uint16) SignatureDBus() string     { return "q" }
func (Int32) SignatureDBus() string      { return "i" }
func (Uint32) SignatureDBus() string     { return "u" }
func (Int64) SignatureDBus() string      { return "x" }
func (Uint64) SignatureDBus() string     { return "t" }
func (String) SignatureDBus() string     { return "s" }
func (ObjectPath) SignatureDBus() string { return "o" }
func (Signature) SignatureDBus() string  { return "g" }
func (Variant) SignatureDBus() string    { return "v" }
func (a Array) SignatureDBus() string    { return "a" + a.Elem }

func (s Struct) SignatureDBus() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, v := range s {
		sb.WriteString(valueSignature(v))
	}
	sb.WriteByte(')')
	return sb.String()
}

func (d DictEntry) SignatureDBus() string {
	return "{" + valueSignature(d.Key) + valueSignature(d.Value) + "}"
}

func (Byte) isValue()       {}
func (Bool) isValue()       {}
func (Int16) isValue()      {}
func (Uint16) isValue()     {}
func (Int32) isValue()      {}
func (Uint32) isValue()     {}
func (Int64) isValue()      {}
func (Uint64) isValue()     {}
func (String) isValue()     {}
func (ObjectPath) isValue() {}
func (Signature) isValue()  {}
func (Variant) isValue()    {}
func (Array) isValue()      {}
func (Struct) isValue()     {}
func (DictEntry) isValue()  {}

// valueSignature is v.SignatureDBus, tolerating nil.
func valueSignature(v Value) string {
	if v == nil {
		return ""
	}
	return v.SignatureDBus()
}

// signatureOf returns the concatenated signatures of vs.
func signatureOf(vs []Value) string {
	var sb strings.Builder
	for _, v := range vs {
		sb.WriteString(valueSignature(v))
	}
	return sb.String()
}

// CheckValue reports whether v is a well-formed value of type t. The
// check is deep: every element of an array and every field of a
// struct must match as well.
func CheckValue(t Type, v Value) error {
	if v == nil {
		return SignatureError{Expected: t.String()}
	}
	mismatch := func() error {
		return SignatureError{Expected: t.String(), Actual: v.SignatureDBus()}
	}

	switch t.Kind() {
	case KindArray:
		a, ok := v.(Array)
		if !ok || a.Elem != t.Elem().String() {
			return mismatch()
		}
		for _, elem := range a.Values {
			if err := CheckValue(t.Elem(), elem); err != nil {
				return err
			}
		}
		return nil
	case KindStruct:
		s, ok := v.(Struct)
		if !ok {
			return mismatch()
		}
		for i, ft := range t.elems {
			if i >= len(s) {
				return SignatureError{Expected: ft.String()}
			}
			if err := CheckValue(ft, s[i]); err != nil {
				return err
			}
		}
		return nil
	case KindDictEntry:
		d, ok := v.(DictEntry)
		if !ok {
			return mismatch()
		}
		if err := CheckValue(t.Key(), d.Key); err != nil {
			return err
		}
		return CheckValue(t.Value(), d.Value)
	case KindVariant:
		vv, ok := v.(Variant)
		if !ok {
			return mismatch()
		}
		if vv.Value == nil {
			return fmt.Errorf("variant has no value")
		}
		inner, err := peekType(vv.Value.SignatureDBus())
		if err != nil {
			return err
		}
		return CheckValue(inner, vv.Value)
	default:
		if v.SignatureDBus() != t.String() {
			return mismatch()
		}
		return nil
	}
}
