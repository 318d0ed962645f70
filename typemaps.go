package dbus

import (
	"reflect"

	"github.com/creachadair/mds/mapset"
)

var (
	// strToKind maps the DBus type signature identifier of a basic
	// type to its Kind.
	strToKind = map[byte]Kind{
		'y': KindByte,
		'b': KindBool,
		'n': KindInt16,
		'q': KindUint16,
		'i': KindInt32,
		'u': KindUint32,
		'x': KindInt64,
		't': KindUint64,
		's': KindString,
		'o': KindObjectPath,
		'g': KindSignature,
		'v': KindVariant,
	}

	// kindToStr is the inverse of strToKind.
	kindToStr = map[Kind]byte{
		KindByte:       'y',
		KindBool:       'b',
		KindInt16:      'n',
		KindUint16:     'q',
		KindInt32:      'i',
		KindUint32:     'u',
		KindInt64:      'x',
		KindUint64:     't',
		KindString:     's',
		KindObjectPath: 'o',
		KindSignature:  'g',
		KindVariant:    'v',
	}

	// kindToType maps the single-character Kinds to the Go type that
	// natively represents them.
	kindToType = map[Kind]reflect.Type{
		KindByte:       reflect.TypeFor[uint8](),
		KindBool:       reflect.TypeFor[bool](),
		KindInt16:      reflect.TypeFor[int16](),
		KindUint16:     reflect.TypeFor[uint16](),
		KindInt32:      reflect.TypeFor[int32](),
		KindUint32:     reflect.TypeFor[uint32](),
		KindInt64:      reflect.TypeFor[int64](),
		KindUint64:     reflect.TypeFor[uint64](),
		KindString:     reflect.TypeFor[string](),
		KindObjectPath: reflect.TypeFor[ObjectPath](),
		KindSignature:  reflect.TypeFor[Signature](),
		KindVariant:    reflect.TypeFor[Variant](),
	}

	// kindToReflect maps the single-character Kinds to the
	// reflect.Kind a compatible Go type must have. Variant is absent
	// because only the Variant type itself can hold a variant.
	kindToReflect = map[Kind]reflect.Kind{
		KindByte:       reflect.Uint8,
		KindBool:       reflect.Bool,
		KindInt16:      reflect.Int16,
		KindUint16:     reflect.Uint16,
		KindInt32:      reflect.Int32,
		KindUint32:     reflect.Uint32,
		KindInt64:      reflect.Int64,
		KindUint64:     reflect.Uint64,
		KindString:     reflect.String,
		KindObjectPath: reflect.String,
		KindSignature:  reflect.String,
	}

	// basicKinds is the set of Kinds that DBus considers "basic",
	// and that can therefore be dict entry keys.
	basicKinds = mapset.New(
		KindByte,
		KindBool,
		KindInt16,
		KindUint16,
		KindInt32,
		KindUint32,
		KindInt64,
		KindUint64,
		KindString,
		KindObjectPath,
		KindSignature,
	)
)
