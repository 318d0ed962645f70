package dbus

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// decoderFunc stores the Go representation of v into out, which must
// be settable. It returns a SignatureError if v doesn't have the
// shape the codec's DBus type requires.
type decoderFunc func(v Value, out reflect.Value) error

// encoderFunc returns the Value representation of in.
type encoderFunc func(in reflect.Value) Value

// A codec converts between Values of one DBus type and Go values of
// one reflect.Type.
type codec struct {
	typ    Type
	goType reflect.Type
	decode decoderFunc
	encode encoderFunc
}

type codecKey struct {
	sig string
	t   reflect.Type
}

var codecs cache[codecKey, *codec]

// codecFor returns a codec between values of DBus type t and Go type
// rt. It returns a TypeError if rt cannot represent t.
//
// Go types are matched structurally: rt must have the right
// reflect.Kind for basic types, be a slice for arrays, a map or
// slice for dicts, and a struct with one exported field per DBus
// struct field for structs. Pointers are followed. The Variant type
// represents variants, and the Value interface type accepts any
// well-formed value of t.
func codecFor(t Type, rt reflect.Type) (ret *codec, err error) {
	key := codecKey{t.String(), rt}
	if ret, err := codecs.Get(key); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	defer func() {
		if err != nil {
			codecs.SetErr(key, err)
		} else {
			codecs.Set(key, ret)
		}
	}()

	if rt == nil {
		return nil, typeErr(rt, t, "nil type")
	}
	if rt == valueType {
		return newValueCodec(t), nil
	}
	if rt.Kind() == reflect.Pointer {
		return newPtrCodec(t, rt)
	}

	switch t.Kind() {
	case KindVariant:
		if rt != variantType {
			return nil, typeErr(rt, t, "variants must be represented by %s", variantType)
		}
		return newVariantCodec(t), nil
	case KindArray:
		if t.IsDict() && rt.Kind() == reflect.Map {
			return newMapCodec(t, rt)
		}
		return newSliceCodec(t, rt)
	case KindStruct:
		return newStructCodec(t, rt)
	case KindDictEntry:
		return newDictEntryCodec(t, rt)
	case KindInvalid:
		return nil, typeErr(rt, t, "invalid dbus type")
	default:
		return newBasicCodec(t, rt)
	}
}

// mustCodecFor is codecFor for types that are known to be compatible.
func mustCodecFor(t Type, rt reflect.Type) *codec {
	ret, err := codecFor(t, rt)
	if err != nil {
		panic(err)
	}
	return ret
}

func mismatch(t Type, v Value) error {
	if v == nil {
		return SignatureError{Expected: t.String()}
	}
	return SignatureError{Expected: t.String(), Actual: v.SignatureDBus()}
}

func newValueCodec(t Type) *codec {
	dec := func(v Value, out reflect.Value) error {
		if err := CheckValue(t, v); err != nil {
			return err
		}
		out.Set(reflect.ValueOf(&v).Elem())
		return nil
	}
	enc := func(in reflect.Value) Value {
		if in.IsNil() {
			return nil
		}
		return in.Interface().(Value)
	}
	return &codec{t, valueType, dec, enc}
}

func newPtrCodec(t Type, rt reflect.Type) (*codec, error) {
	elem, err := codecFor(t, rt.Elem())
	if err != nil {
		return nil, err
	}
	dec := func(v Value, out reflect.Value) error {
		p := reflect.New(rt.Elem())
		if err := elem.decode(v, p.Elem()); err != nil {
			return err
		}
		out.Set(p)
		return nil
	}
	enc := func(in reflect.Value) Value {
		if in.IsNil() {
			return elem.encode(reflect.Zero(rt.Elem()))
		}
		return elem.encode(in.Elem())
	}
	return &codec{t, rt, dec, enc}, nil
}

func newVariantCodec(t Type) *codec {
	dec := func(v Value, out reflect.Value) error {
		vv, ok := v.(Variant)
		if !ok {
			return mismatch(t, v)
		}
		out.Set(reflect.ValueOf(vv))
		return nil
	}
	enc := func(in reflect.Value) Value {
		return in.Interface().(Variant)
	}
	return &codec{t, variantType, dec, enc}
}

func newBasicCodec(t Type, rt reflect.Type) (*codec, error) {
	if want := kindToReflect[t.Kind()]; rt.Kind() != want {
		return nil, typeErr(rt, t, "want a Go type of kind %s", want)
	}

	var (
		dec decoderFunc
		enc encoderFunc
	)
	switch t.Kind() {
	case KindByte:
		dec = func(v Value, out reflect.Value) error {
			b, ok := v.(Byte)
			if !ok {
				return mismatch(t, v)
			}
			out.SetUint(uint64(b))
			return nil
		}
		enc = func(in reflect.Value) Value { return Byte(in.Uint()) }
	case KindBool:
		dec = func(v Value, out reflect.Value) error {
			b, ok := v.(Bool)
			if !ok {
				return mismatch(t, v)
			}
			out.SetBool(bool(b))
			return nil
		}
		enc = func(in reflect.Value) Value { return Bool(in.Bool()) }
	case KindInt16:
		dec = func(v Value, out reflect.Value) error {
			i, ok := v.(Int16)
			if !ok {
				return mismatch(t, v)
			}
			out.SetInt(int64(i))
			return nil
		}
		enc = func(in reflect.Value) Value { return Int16(in.Int()) }
	case KindUint16:
		dec = func(v Value, out reflect.Value) error {
			u, ok := v.(Uint16)
			if !ok {
				return mismatch(t, v)
			}
			out.SetUint(uint64(u))
			return nil
		}
		enc = func(in reflect.Value) Value { return Uint16(in.Uint()) }
	case KindInt32:
		dec = func(v Value, out reflect.Value) error {
			i, ok := v.(Int32)
			if !ok {
				return mismatch(t, v)
			}
			out.SetInt(int64(i))
			return nil
		}
		enc = func(in reflect.Value) Value { return Int32(in.Int()) }
	case KindUint32:
		dec = func(v Value, out reflect.Value) error {
			u, ok := v.(Uint32)
			if !ok {
				return mismatch(t, v)
			}
			out.SetUint(uint64(u))
			return nil
		}
		enc = func(in reflect.Value) Value { return Uint32(in.Uint()) }
	case KindInt64:
		dec = func(v Value, out reflect.Value) error {
			i, ok := v.(Int64)
			if !ok {
				return mismatch(t, v)
			}
			out.SetInt(int64(i))
			return nil
		}
		enc = func(in reflect.Value) Value { return Int64(in.Int()) }
	case KindUint64:
		dec = func(v Value, out reflect.Value) error {
			u, ok := v.(Uint64)
			if !ok {
				return mismatch(t, v)
			}
			out.SetUint(uint64(u))
			return nil
		}
		enc = func(in reflect.Value) Value { return Uint64(in.Uint()) }
	case KindString:
		dec = func(v Value, out reflect.Value) error {
			s, ok := v.(String)
			if !ok {
				return mismatch(t, v)
			}
			out.SetString(string(s))
			return nil
		}
		enc = func(in reflect.Value) Value { return String(in.String()) }
	case KindObjectPath:
		dec = func(v Value, out reflect.Value) error {
			p, ok := v.(ObjectPath)
			if !ok {
				return mismatch(t, v)
			}
			out.SetString(string(p))
			return nil
		}
		enc = func(in reflect.Value) Value { return ObjectPath(in.String()) }
	case KindSignature:
		dec = func(v Value, out reflect.Value) error {
			s, ok := v.(Signature)
			if !ok {
				return mismatch(t, v)
			}
			out.SetString(string(s))
			return nil
		}
		enc = func(in reflect.Value) Value { return Signature(in.String()) }
	default:
		return nil, typeErr(rt, t, "unhandled basic kind %s", t.Kind())
	}
	return &codec{t, rt, dec, enc}, nil
}

func newSliceCodec(t Type, rt reflect.Type) (*codec, error) {
	if rt.Kind() != reflect.Slice {
		return nil, typeErr(rt, t, "arrays must be represented by a slice")
	}
	elemType := t.Elem()
	elem, err := codecFor(elemType, rt.Elem())
	if err != nil {
		return nil, err
	}
	elemSig := elemType.String()

	dec := func(v Value, out reflect.Value) error {
		a, ok := v.(Array)
		if !ok {
			return mismatch(t, v)
		}
		if a.Elem != elemSig {
			return mismatch(t, v)
		}
		ret := reflect.MakeSlice(rt, len(a.Values), len(a.Values))
		for i, ev := range a.Values {
			if err := elem.decode(ev, ret.Index(i)); err != nil {
				return err
			}
		}
		out.Set(ret)
		return nil
	}
	enc := func(in reflect.Value) Value {
		ret := Array{Elem: elemSig}
		if in.Len() == 0 {
			return ret
		}
		ret.Values = make([]Value, in.Len())
		for i := range in.Len() {
			ret.Values[i] = elem.encode(in.Index(i))
		}
		return ret
	}
	return &codec{t, rt, dec, enc}, nil
}

func newMapCodec(t Type, rt reflect.Type) (*codec, error) {
	switch rt.Key().Kind() {
	case reflect.Interface, reflect.Pointer:
		return nil, typeErr(rt, t, "map key %s has no deterministic order", rt.Key())
	}
	ent := t.Elem()
	key, err := codecFor(ent.Key(), rt.Key())
	if err != nil {
		return nil, err
	}
	val, err := codecFor(ent.Value(), rt.Elem())
	if err != nil {
		return nil, err
	}
	elemSig := ent.String()

	dec := func(v Value, out reflect.Value) error {
		a, ok := v.(Array)
		if !ok || a.Elem != elemSig {
			return mismatch(t, v)
		}
		ret := reflect.MakeMapWithSize(rt, len(a.Values))
		kv := reflect.New(rt.Key()).Elem()
		vv := reflect.New(rt.Elem()).Elem()
		for _, ev := range a.Values {
			de, ok := ev.(DictEntry)
			if !ok {
				return mismatch(ent, ev)
			}
			kv.SetZero()
			vv.SetZero()
			if err := key.decode(de.Key, kv); err != nil {
				return err
			}
			if err := val.decode(de.Value, vv); err != nil {
				return err
			}
			ret.SetMapIndex(kv, vv)
		}
		out.Set(ret)
		return nil
	}
	enc := func(in reflect.Value) Value {
		ret := Array{Elem: elemSig}
		if in.Len() == 0 {
			return ret
		}
		keys := in.MapKeys()
		slices.SortFunc(keys, compareKeys)
		ret.Values = make([]Value, len(keys))
		for i, k := range keys {
			ret.Values[i] = DictEntry{key.encode(k), val.encode(in.MapIndex(k))}
		}
		return ret
	}
	return &codec{t, rt, dec, enc}, nil
}

// compareKeys orders map keys, so that maps encode deterministically.
func compareKeys(a, b reflect.Value) int {
	switch a.Kind() {
	case reflect.Bool:
		switch {
		case a.Bool() == b.Bool():
			return 0
		case !a.Bool():
			return -1
		default:
			return 1
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.String:
		return cmp.Compare(a.String(), b.String())
	default:
		panic(fmt.Sprintf("unorderable map key kind %s", a.Kind()))
	}
}

// exportedFields returns the indices of rt's exported fields, in
// declaration order.
func exportedFields(rt reflect.Type) []int {
	var ret []int
	for i := range rt.NumField() {
		if rt.Field(i).IsExported() {
			ret = append(ret, i)
		}
	}
	return ret
}

func newStructCodec(t Type, rt reflect.Type) (*codec, error) {
	if rt.Kind() != reflect.Struct {
		return nil, typeErr(rt, t, "structs must be represented by a Go struct")
	}
	fieldTypes := t.Fields()
	idx := exportedFields(rt)
	if len(idx) != len(fieldTypes) {
		return nil, typeErr(rt, t, "Go struct has %d exported fields, dbus struct has %d", len(idx), len(fieldTypes))
	}
	fields := make([]*codec, len(fieldTypes))
	for i, ft := range fieldTypes {
		fc, err := codecFor(ft, rt.Field(idx[i]).Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", rt.Field(idx[i]).Name, err)
		}
		fields[i] = fc
	}

	dec := func(v Value, out reflect.Value) error {
		s, ok := v.(Struct)
		if !ok {
			return mismatch(t, v)
		}
		// Elements beyond the last field are ignored.
		for i, fc := range fields {
			if i >= len(s) {
				return SignatureError{Expected: fc.typ.String()}
			}
			if err := fc.decode(s[i], out.Field(idx[i])); err != nil {
				return err
			}
		}
		return nil
	}
	enc := func(in reflect.Value) Value {
		ret := make(Struct, len(fields))
		for i, fc := range fields {
			ret[i] = fc.encode(in.Field(idx[i]))
		}
		return ret
	}
	return &codec{t, rt, dec, enc}, nil
}

func newDictEntryCodec(t Type, rt reflect.Type) (*codec, error) {
	if rt.Kind() != reflect.Struct {
		return nil, typeErr(rt, t, "dict entries must be represented by a Go struct")
	}
	idx := exportedFields(rt)
	if len(idx) != 2 {
		return nil, typeErr(rt, t, "Go struct has %d exported fields, dict entries need 2", len(idx))
	}
	key, err := codecFor(t.Key(), rt.Field(idx[0]).Type)
	if err != nil {
		return nil, err
	}
	val, err := codecFor(t.Value(), rt.Field(idx[1]).Type)
	if err != nil {
		return nil, err
	}

	dec := func(v Value, out reflect.Value) error {
		de, ok := v.(DictEntry)
		if !ok {
			return mismatch(t, v)
		}
		if err := key.decode(de.Key, out.Field(idx[0])); err != nil {
			return err
		}
		return val.decode(de.Value, out.Field(idx[1]))
	}
	enc := func(in reflect.Value) Value {
		return DictEntry{key.encode(in.Field(idx[0])), val.encode(in.Field(idx[1]))}
	}
	return &codec{t, rt, dec, enc}, nil
}

// Decode stores the Go representation of v into the value pointed to
// by out, according to the DBus type t.
func Decode(t Type, v Value, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("Decode target must be a non-nil pointer, got %T", out)
	}
	c, err := codecFor(t, rv.Type().Elem())
	if err != nil {
		return err
	}
	return c.decode(v, rv.Elem())
}

// Encode returns the Value representation of in, according to the
// DBus type t.
func Encode(t Type, in any) (Value, error) {
	rv := reflect.ValueOf(in)
	if !rv.IsValid() {
		return nil, fmt.Errorf("cannot encode nil as %s", t)
	}
	c, err := codecFor(t, rv.Type())
	if err != nil {
		return nil, err
	}
	return c.encode(rv), nil
}
