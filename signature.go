package dbus

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"
)

// Kind is the kind of a DBus type.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindByte
	KindBool
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindString
	KindObjectPath
	KindSignature
	KindVariant
	KindArray
	KindStruct
	KindDictEntry
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindByte:       "byte",
	KindBool:       "bool",
	KindInt16:      "int16",
	KindUint16:     "uint16",
	KindInt32:      "int32",
	KindUint32:     "uint32",
	KindInt64:      "int64",
	KindUint64:     "uint64",
	KindString:     "string",
	KindObjectPath: "object path",
	KindSignature:  "signature",
	KindVariant:    "variant",
	KindArray:      "array",
	KindStruct:     "struct",
	KindDictEntry:  "dict entry",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// maxDepth is the maximum container nesting a signature may have.
const maxDepth = 64

// A Type is a parsed DBus type signature for a single complete type.
//
// Types are immutable. The zero Type is invalid.
type Type struct {
	kind Kind
	str  string
	// elems holds the element type of an array, the fields of a
	// struct, or the key and value types of a dict entry.
	elems []Type
}

// Kind returns the type's kind.
func (t Type) Kind() Kind { return t.kind }

// String returns the canonical signature string of t.
func (t Type) String() string { return t.str }

// IsZero reports whether t is the zero Type.
func (t Type) IsZero() bool { return t.kind == KindInvalid }

// IsBasic reports whether t is a DBus basic type, that is a type that
// can be used as a dict entry key.
func (t Type) IsBasic() bool { return basicKinds.Has(t.kind) }

// Elem returns the element type of an array type. It panics if t is
// not an array.
func (t Type) Elem() Type {
	if t.kind != KindArray {
		panic(fmt.Sprintf("Elem of non-array type %s", t))
	}
	return t.elems[0]
}

// Fields returns the field types of a struct type. It panics if t is
// not a struct.
func (t Type) Fields() []Type {
	if t.kind != KindStruct {
		panic(fmt.Sprintf("Fields of non-struct type %s", t))
	}
	return slices.Clone(t.elems)
}

// Key returns the key type of a dict entry type. It panics if t is
// not a dict entry.
func (t Type) Key() Type {
	if t.kind != KindDictEntry {
		panic(fmt.Sprintf("Key of non-dict-entry type %s", t))
	}
	return t.elems[0]
}

// Value returns the value type of a dict entry type. It panics if t
// is not a dict entry.
func (t Type) Value() Type {
	if t.kind != KindDictEntry {
		panic(fmt.Sprintf("Value of non-dict-entry type %s", t))
	}
	return t.elems[1]
}

// IsDict reports whether t is an array of dict entries.
func (t Type) IsDict() bool {
	return t.kind == KindArray && t.elems[0].kind == KindDictEntry
}

// GoType returns the canonical Go type for values of t.
//
// Basic types map to the matching fixed-size Go type, with ObjectPath,
// Signature and Variant for the 'o', 'g' and 'v' types. Dicts map to
// Go maps, other arrays to slices. Structs map to a struct with fields
// Field0..FieldN, and lone dict entries to a struct with fields Key
// and Value.
func (t Type) GoType() reflect.Type {
	switch t.kind {
	case KindArray:
		if t.IsDict() {
			ent := t.elems[0]
			return reflect.MapOf(ent.elems[0].GoType(), ent.elems[1].GoType())
		}
		return reflect.SliceOf(t.elems[0].GoType())
	case KindStruct:
		fs := make([]reflect.StructField, len(t.elems))
		for i, f := range t.elems {
			fs[i] = reflect.StructField{
				Name: fmt.Sprintf("Field%d", i),
				Type: f.GoType(),
			}
		}
		return reflect.StructOf(fs)
	case KindDictEntry:
		return reflect.StructOf([]reflect.StructField{
			{Name: "Key", Type: t.elems[0].GoType()},
			{Name: "Value", Type: t.elems[1].GoType()},
		})
	case KindInvalid:
		return nil
	default:
		return kindToType[t.kind]
	}
}

func basicType(k Kind) Type {
	return Type{kind: k, str: string(kindToStr[k])}
}

// ArrayOf returns the array type with the given element type.
func ArrayOf(elem Type) Type {
	if elem.IsZero() {
		panic("ArrayOf invalid type")
	}
	return Type{kind: KindArray, str: "a" + elem.str, elems: []Type{elem}}
}

// StructOf returns the struct type with the given fields. It panics
// if no fields are given.
func StructOf(fields ...Type) Type {
	if len(fields) == 0 {
		panic("StructOf with no fields")
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for _, f := range fields {
		if f.IsZero() {
			panic("StructOf invalid field type")
		}
		sb.WriteString(f.str)
	}
	sb.WriteByte(')')
	return Type{kind: KindStruct, str: sb.String(), elems: slices.Clone(fields)}
}

// DictOf returns the type of an array of dict entries with the given
// key and value types. It panics if key is not a basic type.
func DictOf(key, val Type) Type {
	if !key.IsBasic() {
		panic(fmt.Sprintf("invalid dict entry key type %s, must be a dbus basic type", key))
	}
	if val.IsZero() {
		panic("DictOf invalid value type")
	}
	ent := Type{
		kind:  KindDictEntry,
		str:   "{" + key.str + val.str + "}",
		elems: []Type{key, val},
	}
	return ArrayOf(ent)
}

var (
	strToTypes cache[string, []Type]
	strToType  cache[string, Type]
)

// ParseSignature parses a DBus type signature string, which may
// contain zero or more complete types.
func ParseSignature(sig string) ([]Type, error) {
	if ret, err := strToTypes.Get(sig); err == nil {
		return slices.Clone(ret), nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}

	ret, err := parseSignature(sig)
	if err != nil {
		strToTypes.SetErr(sig, err)
		return nil, err
	}
	strToTypes.Set(sig, ret)
	return slices.Clone(ret), nil
}

// ParseType parses a DBus type signature that must consist of
// exactly one complete type.
func ParseType(sig string) (Type, error) {
	if ret, err := strToType.Get(sig); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return Type{}, err
	}

	ret, err := parseType(sig)
	if err != nil {
		strToType.SetErr(sig, err)
		return Type{}, err
	}
	strToType.Set(sig, ret)
	return ret, nil
}

// peekSignature is ParseSignature for signatures supplied by peers.
// It uses cached results, but never adds to the cache.
func peekSignature(sig string) ([]Type, error) {
	if ret, err := strToTypes.Get(sig); err == nil {
		return slices.Clone(ret), nil
	}
	return parseSignature(sig)
}

// peekType is ParseType for signatures supplied by peers. It uses
// cached results, but never adds to the cache.
func peekType(sig string) (Type, error) {
	if ret, err := strToType.Get(sig); err == nil {
		return ret, nil
	}
	return parseType(sig)
}

func parseSignature(sig string) ([]Type, error) {
	var ret []Type
	for t, err := range Types(sig) {
		if err != nil {
			return nil, err
		}
		ret = append(ret, t)
	}
	return ret, nil
}

func parseType(sig string) (Type, error) {
	ts, err := parseSignature(sig)
	if err != nil {
		return Type{}, err
	}
	if len(ts) != 1 {
		return Type{}, fmt.Errorf("invalid type signature %q: expected exactly one type, got %d", sig, len(ts))
	}
	return ts[0], nil
}

func mustParseType(sig string) Type {
	ret, err := ParseType(sig)
	if err != nil {
		panic(err)
	}
	return ret
}

func mustParseSignature(sig string) []Type {
	ret, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return ret
}

// Types returns an iterator over the complete types in sig.
//
// Types are parsed lazily, one per iteration. If sig is malformed,
// the iterator yields the types preceding the problem, then a final
// error.
func Types(sig string) iter.Seq2[Type, error] {
	return func(yield func(Type, error) bool) {
		p := parser{sig: sig}
		for {
			t, ok, err := p.parseOne(0, false)
			if err != nil {
				yield(Type{}, fmt.Errorf("invalid type signature %q: %w", sig, err))
				return
			}
			if !ok {
				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// signatureString returns the concatenation of the signatures of ts.
func signatureString(ts []Type) string {
	var sb strings.Builder
	for _, t := range ts {
		sb.WriteString(t.str)
	}
	return sb.String()
}

type parser struct {
	sig string
	pos int
}

// parseOne consumes the first complete type at the parser's current
// position. It reports ok=false if the signature is exhausted.
func (p *parser) parseOne(depth int, inArray bool) (t Type, ok bool, err error) {
	if p.pos >= len(p.sig) {
		return Type{}, false, nil
	}
	if depth > maxDepth {
		return Type{}, false, fmt.Errorf("containers nested more than %d deep", maxDepth)
	}

	start := p.pos
	c := p.sig[p.pos]
	if k, isBasic := strToKind[c]; isBasic {
		p.pos++
		return basicType(k), true, nil
	}

	switch c {
	case 'a':
		p.pos++
		elem, ok, err := p.parseOne(depth+1, true)
		if err != nil {
			return Type{}, false, err
		}
		if !ok {
			return Type{}, false, errors.New("Array was the last character")
		}
		return Type{kind: KindArray, str: p.sig[start:p.pos], elems: []Type{elem}}, true, nil
	case '(':
		p.pos++
		var fields []Type
		for {
			if p.pos >= len(p.sig) {
				return Type{}, false, errors.New(") was not closed")
			}
			if p.sig[p.pos] == ')' {
				p.pos++
				break
			}
			field, _, err := p.parseOne(depth+1, false)
			if err != nil {
				return Type{}, false, err
			}
			fields = append(fields, field)
		}
		if len(fields) == 0 {
			return Type{}, false, errors.New("struct is empty")
		}
		return Type{kind: KindStruct, str: p.sig[start:p.pos], elems: fields}, true, nil
	case '{':
		if !inArray {
			return Type{}, false, errors.New("dict entry type found outside array")
		}
		p.pos++
		key, ok, err := p.parseOne(depth+1, false)
		if err != nil {
			return Type{}, false, err
		}
		if !ok {
			return Type{}, false, errors.New("Could not get key type")
		}
		if !key.IsBasic() {
			return Type{}, false, fmt.Errorf("invalid dict entry key type %s, must be a dbus basic type", key)
		}
		val, ok, err := p.parseOne(depth+1, false)
		if err != nil {
			return Type{}, false, err
		}
		if !ok {
			return Type{}, false, errors.New("Could not get value type")
		}
		if p.pos >= len(p.sig) || p.sig[p.pos] != '}' {
			return Type{}, false, errors.New("} was not closed")
		}
		p.pos++
		return Type{kind: KindDictEntry, str: p.sig[start:p.pos], elems: []Type{key, val}}, true, nil
	default:
		return Type{}, false, fmt.Errorf("unknown signature: %c", c)
	}
}
