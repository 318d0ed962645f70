package dbus

import (
	"bytes"
	"fmt"

	"github.com/danderson/dbusexport/fragments"
)

// MarshalBody returns the DBus wire encoding of a message body, using
// the given byte order.
//
// Every value must be well-formed: arrays must hold elements of their
// declared element type, and variants must hold a value.
func MarshalBody(order fragments.ByteOrder, body []Value) ([]byte, error) {
	e := fragments.Encoder{Order: order}
	for i, v := range body {
		t, err := ParseType(valueSignature(v))
		if err != nil {
			return nil, fmt.Errorf("body value %d: %w", i, err)
		}
		if err := CheckValue(t, v); err != nil {
			return nil, fmt.Errorf("body value %d: %w", i, err)
		}
		if err := encodeValue(&e, t, v); err != nil {
			return nil, fmt.Errorf("body value %d: %w", i, err)
		}
	}
	return e.Out, nil
}

// needsAlign8 reports whether values of t are 8-byte aligned.
func needsAlign8(t Type) bool {
	switch t.Kind() {
	case KindStruct, KindDictEntry, KindInt64, KindUint64:
		return true
	default:
		return false
	}
}

// encodeValue writes v, which has already been checked to be of type
// t, to e.
func encodeValue(e *fragments.Encoder, t Type, v Value) error {
	switch t.Kind() {
	case KindByte:
		e.Uint8(uint8(v.(Byte)))
	case KindBool:
		e.Bool(bool(v.(Bool)))
	case KindInt16:
		e.Uint16(uint16(v.(Int16)))
	case KindUint16:
		e.Uint16(uint16(v.(Uint16)))
	case KindInt32:
		e.Uint32(uint32(v.(Int32)))
	case KindUint32:
		e.Uint32(uint32(v.(Uint32)))
	case KindInt64:
		e.Uint64(uint64(v.(Int64)))
	case KindUint64:
		e.Uint64(uint64(v.(Uint64)))
	case KindString:
		e.String(string(v.(String)))
	case KindObjectPath:
		e.String(string(v.(ObjectPath)))
	case KindSignature:
		e.Signature(string(v.(Signature)))
	case KindVariant:
		inner := v.(Variant).Value
		it, err := peekType(inner.SignatureDBus())
		if err != nil {
			return err
		}
		e.Signature(it.String())
		return encodeValue(e, it, inner)
	case KindArray:
		elem := t.Elem()
		return e.Array(needsAlign8(elem), func() error {
			for _, ev := range v.(Array).Values {
				if err := encodeValue(e, elem, ev); err != nil {
					return err
				}
			}
			return nil
		})
	case KindStruct:
		return e.Struct(func() error {
			for i, ft := range t.elems {
				if err := encodeValue(e, ft, v.(Struct)[i]); err != nil {
					return err
				}
			}
			return nil
		})
	case KindDictEntry:
		de := v.(DictEntry)
		return e.Struct(func() error {
			if err := encodeValue(e, t.Key(), de.Key); err != nil {
				return err
			}
			return encodeValue(e, t.Value(), de.Value)
		})
	default:
		return fmt.Errorf("cannot encode %s", t)
	}
	return nil
}

// UnmarshalBody decodes a message body with the given signature from
// its DBus wire encoding.
func UnmarshalBody(order fragments.ByteOrder, sig string, data []byte) ([]Value, error) {
	ts, err := peekSignature(sig)
	if err != nil {
		return nil, err
	}
	in := bytes.NewReader(data)
	d := fragments.Decoder{
		Order: order,
		In:    in,
	}
	var ret []Value
	for i, t := range ts {
		v, err := decodeValue(&d, t, 0)
		if err != nil {
			return nil, fmt.Errorf("body value %d (%s): %w", i, t, err)
		}
		ret = append(ret, v)
	}
	if in.Len() > 0 {
		return nil, fmt.Errorf("%d bytes of trailing data after body", in.Len())
	}
	return ret, nil
}

// decodeValue reads a value of type t from d. depth counts variant
// nesting, which signature parsing cannot bound.
func decodeValue(d *fragments.Decoder, t Type, depth int) (Value, error) {
	switch t.Kind() {
	case KindByte:
		u, err := d.Uint8()
		return Byte(u), err
	case KindBool:
		b, err := d.Bool()
		return Bool(b), err
	case KindInt16:
		u, err := d.Uint16()
		return Int16(u), err
	case KindUint16:
		u, err := d.Uint16()
		return Uint16(u), err
	case KindInt32:
		u, err := d.Uint32()
		return Int32(u), err
	case KindUint32:
		u, err := d.Uint32()
		return Uint32(u), err
	case KindInt64:
		u, err := d.Uint64()
		return Int64(u), err
	case KindUint64:
		u, err := d.Uint64()
		return Uint64(u), err
	case KindString:
		s, err := d.String()
		return String(s), err
	case KindObjectPath:
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		if err := ObjectPath(s).Valid(); err != nil {
			return nil, err
		}
		return ObjectPath(s), nil
	case KindSignature:
		s, err := d.Signature()
		if err != nil {
			return nil, err
		}
		if _, err := peekSignature(s); err != nil {
			return nil, err
		}
		return Signature(s), nil
	case KindVariant:
		if depth >= maxDepth {
			return nil, fmt.Errorf("variants nested more than %d deep", maxDepth)
		}
		s, err := d.Signature()
		if err != nil {
			return nil, err
		}
		it, err := peekType(s)
		if err != nil {
			return nil, err
		}
		inner, err := decodeValue(d, it, depth+1)
		if err != nil {
			return nil, err
		}
		return Variant{inner}, nil
	case KindArray:
		elem := t.Elem()
		ret := Array{Elem: elem.String()}
		_, err := d.Array(needsAlign8(elem), func(int) error {
			v, err := decodeValue(d, elem, depth)
			if err != nil {
				return err
			}
			ret.Values = append(ret.Values, v)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ret, nil
	case KindStruct:
		ret := make(Struct, 0, len(t.elems))
		err := d.Struct(func() error {
			for _, ft := range t.elems {
				v, err := decodeValue(d, ft, depth)
				if err != nil {
					return err
				}
				ret = append(ret, v)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ret, nil
	case KindDictEntry:
		var ret DictEntry
		err := d.Struct(func() error {
			k, err := decodeValue(d, t.Key(), depth)
			if err != nil {
				return err
			}
			v, err := decodeValue(d, t.Value(), depth)
			if err != nil {
				return err
			}
			ret = DictEntry{k, v}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return ret, nil
	default:
		return nil, fmt.Errorf("cannot decode %s", t)
	}
}
