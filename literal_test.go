package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromLiteral(t *testing.T) {
	tests := []struct {
		sig  string
		lit  any
		want Value
	}{
		{"y", int64(255), Byte(255)},
		{"n", int64(-5), Int16(-5)},
		{"q", 65535, Uint16(65535)},
		{"i", float64(-7), Int32(-7)},
		{"u", uint64(7), Uint32(7)},
		{"x", float64(3), Int64(3)},
		{"x", int64(-1 << 62), Int64(-1 << 62)},
		{"t", uint64(1 << 63), Uint64(1 << 63)},
		{"b", true, Bool(true)},
		{"s", "hi", String("hi")},
		{"o", "/a/b", ObjectPath("/a/b")},
		{"g", "a{sv}", Signature("a{sv}")},
		{"as", []any{"a", "b"}, Array{Elem: "s", Values: []Value{String("a"), String("b")}}},
		{"as", []any{}, Array{Elem: "s"}},
		{
			"a{sq}",
			map[string]any{"pears": int64(5), "apples": int64(3)},
			Array{Elem: "{sq}", Values: []Value{
				DictEntry{String("apples"), Uint16(3)},
				DictEntry{String("pears"), Uint16(5)},
			}},
		},
		{
			"a{ib}",
			map[string]any{"10": true, "-2": false, "3": true},
			Array{Elem: "{ib}", Values: []Value{
				DictEntry{Int32(-2), Bool(false)},
				DictEntry{Int32(3), Bool(true)},
				DictEntry{Int32(10), Bool(true)},
			}},
		},
		{
			"a{bs}",
			map[string]any{"true": "yes", "false": "no"},
			Array{Elem: "{bs}", Values: []Value{
				DictEntry{Bool(false), String("no")},
				DictEntry{Bool(true), String("yes")},
			}},
		},
		{
			"a{sq}",
			[]any{[]any{"x", int64(1)}, []any{"a", int64(2)}},
			Array{Elem: "{sq}", Values: []Value{
				DictEntry{String("x"), Uint16(1)},
				DictEntry{String("a"), Uint16(2)},
			}},
		},
		{"(ib)", []any{int64(42), true}, Struct{Int32(42), Bool(true)}},
		{
			"v",
			map[string]any{"type": "(ib)", "value": []any{int64(42), true}},
			Variant{Struct{Int32(42), Bool(true)}},
		},
		{
			"av",
			[]any{map[string]any{"type": "s", "value": "x"}},
			Array{Elem: "v", Values: []Value{Variant{String("x")}}},
		},
	}

	for _, tc := range tests {
		typ := mustParseType(tc.sig)
		got, err := FromLiteral(typ, tc.lit)
		if err != nil {
			t.Errorf("FromLiteral(%s, %v) failed: %v", tc.sig, tc.lit, err)
			continue
		}
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("FromLiteral(%s, %v) wrong (-got+want):\n%s", tc.sig, tc.lit, diff)
		}
		if err := CheckValue(typ, got); err != nil {
			t.Errorf("FromLiteral(%s, %v) returned ill-typed %v: %v", tc.sig, tc.lit, got, err)
		}
	}
}

func TestFromLiteralErrors(t *testing.T) {
	tests := []struct {
		sig string
		lit any
	}{
		{"y", int64(256)},
		{"y", int64(-1)},
		{"n", int64(40000)},
		{"t", int64(-1)},
		{"i", float64(1.5)},
		{"q", "7"},
		{"b", "true"},
		{"s", int64(1)},
		{"o", "not/a/path"},
		{"g", "a{"},
		{"as", "a"},
		{"as", []any{"a", int64(1)}},
		{"a{ys}", map[string]any{"300": "x"}},
		{"a{ys}", map[string]any{"one": "x"}},
		{"a{sq}", []any{[]any{"x"}}},
		{"(ib)", []any{int64(1)}},
		{"(ib)", []any{int64(1), true, "extra"}},
		{"v", "x"},
		{"v", map[string]any{"value": "x"}},
		{"v", map[string]any{"type": "s"}},
		{"v", map[string]any{"type": "(", "value": "x"}},
		{"v", map[string]any{"type": "u", "value": "x"}},
	}
	for _, tc := range tests {
		got, err := FromLiteral(mustParseType(tc.sig), tc.lit)
		if err == nil {
			t.Errorf("FromLiteral(%s, %#v) = %v, want error", tc.sig, tc.lit, got)
		}
	}
}
