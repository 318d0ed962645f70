package dbus

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// FromLiteral converts a generic literal, as produced by decoding
// TOML or JSON into an any, into a Value of type t.
//
// Integers may be given as any Go integer type or as an integral
// float64, and must be in range for t. Strings, object paths and
// signatures are given as strings. Arrays and structs are given as
// []any. Dicts are given either as map[string]any, whose keys are
// parsed according to the dict's key type, or as []any of two-element
// []any pairs. Variants are given as a map with keys "type", holding
// the inner signature, and "value".
func FromLiteral(t Type, lit any) (Value, error) {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("literal %v (%T) is not a valid %s: %s", lit, lit, t, fmt.Sprintf(format, args...))
	}

	switch t.Kind() {
	case KindByte, KindInt16, KindUint16, KindInt32, KindUint32, KindInt64, KindUint64:
		return intLiteral(t, lit, bad)
	case KindBool:
		b, ok := lit.(bool)
		if !ok {
			return nil, bad("want a bool")
		}
		return Bool(b), nil
	case KindString:
		s, ok := lit.(string)
		if !ok {
			return nil, bad("want a string")
		}
		return String(s), nil
	case KindObjectPath:
		s, ok := lit.(string)
		if !ok {
			return nil, bad("want a string")
		}
		if err := ObjectPath(s).Valid(); err != nil {
			return nil, bad("%v", err)
		}
		return ObjectPath(s), nil
	case KindSignature:
		s, ok := lit.(string)
		if !ok {
			return nil, bad("want a string")
		}
		if _, err := ParseSignature(s); err != nil {
			return nil, bad("%v", err)
		}
		return Signature(s), nil
	case KindVariant:
		m, ok := lit.(map[string]any)
		if !ok {
			return nil, bad("want a table with type and value")
		}
		sig, ok := m["type"].(string)
		if !ok {
			return nil, bad("missing variant type")
		}
		inner, err := ParseType(sig)
		if err != nil {
			return nil, bad("%v", err)
		}
		iv, ok := m["value"]
		if !ok {
			return nil, bad("missing variant value")
		}
		v, err := FromLiteral(inner, iv)
		if err != nil {
			return nil, err
		}
		return Variant{v}, nil
	case KindArray:
		if t.IsDict() {
			if m, ok := lit.(map[string]any); ok {
				return dictLiteral(t, m, bad)
			}
		}
		elems, ok := lit.([]any)
		if !ok {
			return nil, bad("want a list")
		}
		ret := Array{Elem: t.Elem().String()}
		for i, e := range elems {
			v, err := FromLiteral(t.Elem(), e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			ret.Values = append(ret.Values, v)
		}
		return ret, nil
	case KindStruct:
		elems, ok := lit.([]any)
		if !ok {
			return nil, bad("want a list")
		}
		fields := t.Fields()
		if len(elems) != len(fields) {
			return nil, bad("got %d fields, want %d", len(elems), len(fields))
		}
		ret := make(Struct, len(fields))
		for i, ft := range fields {
			v, err := FromLiteral(ft, elems[i])
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			ret[i] = v
		}
		return ret, nil
	case KindDictEntry:
		pair, ok := lit.([]any)
		if !ok || len(pair) != 2 {
			return nil, bad("want a [key, value] pair")
		}
		k, err := FromLiteral(t.Key(), pair[0])
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		v, err := FromLiteral(t.Value(), pair[1])
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		return DictEntry{k, v}, nil
	default:
		return nil, bad("unsupported type")
	}
}

func intLiteral(t Type, lit any, bad func(string, ...any) error) (Value, error) {
	var (
		i     int64
		u     uint64
		isNeg bool
	)
	switch n := lit.(type) {
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint:
		u = uint64(n)
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n > math.MaxUint64 {
			return nil, bad("not an integer")
		}
		if n < 0 {
			i = int64(n)
		} else {
			u = uint64(n)
		}
	default:
		return nil, bad("want an integer")
	}
	switch n := lit.(type) {
	case int, int8, int16, int32, int64:
		if i < 0 {
			isNeg = true
		} else {
			u = uint64(i)
		}
	case float64:
		isNeg = n < 0
	}

	inRange := func(lo int64, hi uint64) bool {
		if isNeg {
			return i >= lo
		}
		return u <= hi
	}
	switch t.Kind() {
	case KindByte:
		if !inRange(0, math.MaxUint8) {
			return nil, bad("out of range")
		}
		return Byte(u), nil
	case KindInt16:
		if !inRange(math.MinInt16, math.MaxInt16) {
			return nil, bad("out of range")
		}
		if isNeg {
			return Int16(i), nil
		}
		return Int16(u), nil
	case KindUint16:
		if !inRange(0, math.MaxUint16) {
			return nil, bad("out of range")
		}
		return Uint16(u), nil
	case KindInt32:
		if !inRange(math.MinInt32, math.MaxInt32) {
			return nil, bad("out of range")
		}
		if isNeg {
			return Int32(i), nil
		}
		return Int32(u), nil
	case KindUint32:
		if !inRange(0, math.MaxUint32) {
			return nil, bad("out of range")
		}
		return Uint32(u), nil
	case KindInt64:
		if !inRange(math.MinInt64, math.MaxInt64) {
			return nil, bad("out of range")
		}
		if isNeg {
			return Int64(i), nil
		}
		return Int64(u), nil
	case KindUint64:
		if isNeg {
			return nil, bad("out of range")
		}
		return Uint64(u), nil
	default:
		return nil, bad("not an integer type")
	}
}

func dictLiteral(t Type, m map[string]any, bad func(string, ...any) error) (Value, error) {
	ent := t.Elem()
	ret := Array{Elem: ent.String()}
	type kv struct {
		key Value
		val Value
	}
	var ents []kv
	for _, ks := range slices.Sorted(maps.Keys(m)) {
		k, err := keyLiteral(ent.Key(), ks)
		if err != nil {
			return nil, bad("key %q: %v", ks, err)
		}
		v, err := FromLiteral(ent.Value(), m[ks])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", ks, err)
		}
		ents = append(ents, kv{k, v})
	}
	slices.SortStableFunc(ents, func(a, b kv) int {
		return compareValues(a.key, b.key)
	})
	for _, e := range ents {
		ret.Values = append(ret.Values, DictEntry{e.key, e.val})
	}
	return ret, nil
}

// keyLiteral parses a table key as a value of the basic type t.
func keyLiteral(t Type, s string) (Value, error) {
	switch t.Kind() {
	case KindString, KindObjectPath, KindSignature:
		return FromLiteral(t, s)
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		return Bool(b), nil
	case KindByte, KindUint16, KindUint32, KindUint64:
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, err
		}
		return FromLiteral(t, u)
	default:
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, err
		}
		return FromLiteral(t, i)
	}
}

// compareValues orders basic values of the same type.
func compareValues(a, b Value) int {
	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Byte:
		return cmp.Compare(av, b.(Byte))
	case Int16:
		return cmp.Compare(av, b.(Int16))
	case Uint16:
		return cmp.Compare(av, b.(Uint16))
	case Int32:
		return cmp.Compare(av, b.(Int32))
	case Uint32:
		return cmp.Compare(av, b.(Uint32))
	case Int64:
		return cmp.Compare(av, b.(Int64))
	case Uint64:
		return cmp.Compare(av, b.(Uint64))
	case String:
		return cmp.Compare(av, b.(String))
	case ObjectPath:
		return cmp.Compare(av, b.(ObjectPath))
	case Signature:
		return cmp.Compare(av, b.(Signature))
	default:
		return 0
	}
}
