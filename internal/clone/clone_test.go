package clone

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

type profile struct {
	Name    string
	Age     int
	Tags    []string
	Joined  time.Time
	Avatar  []byte
	Manager *profile
	secret  string
}

func TestRoundTripPreservesValue(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	tests := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"bool", true},
		{"string", "hello"},
		{"empty string", ""},
		{"invalid utf8", "\xff\xfe"},
		{"int", 42},
		{"negative int8", int8(-7)},
		{"int64 beyond float precision", int64(math.MaxInt64)},
		{"uint64 max", uint64(math.MaxUint64)},
		{"uint8", uint8(7)},
		{"float32", float32(1.5)},
		{"float64", 0.1},
		{"bytes", []byte("raw\x00data")},
		{"byte array", [4]byte{1, 2, 3, 4}},
		{"time", when},
		{
			"persisted state",
			map[string]any{"state": map[string]any{"n": 1}, "version": 1},
		},
		{"typed slice", []int{1, 2, 3}},
		{"typed map", map[string][]string{"tags": {"a", "b"}}},
		{"int keys", map[int]string{2: "b", 1: "a"}},
		{"any keys", map[any]any{1: "int", "s": 2.5, true: nil}},
		{"array", [2]int{1, 2}},
		{"nested any", []any{1, "two", []any{3.0, nil}, map[string]any{"x": []byte{9}}}},
		{"nil typed slice", []int(nil)},
		{"nil typed map", map[string]int(nil)},
		{"empty slice", []string{}},
		{"times in a map", map[string]time.Time{"a": when}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Value(tt.in)
			if err != nil {
				t.Fatalf("Value(%#v): %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.in) {
				t.Fatalf("Value(%#v) = %#v", tt.in, got)
			}
		})
	}
}

func TestUntypedForms(t *testing.T) {
	type celsius float64
	type names []string

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"pointer is stored as its referent", &[]int{1}, []int{1}},
		{"nil pointer", (*int)(nil), nil},
		{"named scalar", celsius(21.5), 21.5},
		{"named slice", names{"a"}, []any{"a"}},
		{"struct", struct {
			A int
			b int
		}{1, 2}, map[string]any{"A": 1}},
		{"named keys", map[celsius]int{1.5: 1}, map[any]any{1.5: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Value(tt.in)
			if err != nil {
				t.Fatalf("Value(%#v): %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Value(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeIntoStruct(t *testing.T) {
	boss := &profile{Name: "Ada"}
	in := profile{
		Name:    "Grace",
		Age:     85,
		Tags:    []string{"navy", "cobol"},
		Joined:  time.Date(1944, 7, 1, 0, 0, 0, 0, time.UTC),
		Avatar:  []byte{0x89, 'P', 'N', 'G'},
		Manager: boss,
		secret:  "dropped",
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}

	var out profile
	if err := DecodeInto(data, &out); err != nil {
		t.Fatal(err)
	}
	in.secret = ""
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("DecodeInto = %#v, want %#v", out, in)
	}
	if out.Manager == boss {
		t.Fatal("decoded pointer aliases the original")
	}
}

func TestDecodeIntoConverts(t *testing.T) {
	data, err := Encode(map[string]any{"Name": "x", "Age": 3.0, "Extra": true})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := DecodeInto(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["Age"] != 3.0 {
		t.Fatalf("map decode = %#v", m)
	}

	n, _ := Encode(int64(300))
	var small int8
	if err := DecodeInto(n, &small); !errors.Is(err, ErrMismatch) {
		t.Fatalf("int8 overflow: got %v", err)
	}
	var wide uint16
	if err := DecodeInto(n, &wide); err != nil || wide != 300 {
		t.Fatalf("uint16 = %d, %v", wide, err)
	}

	f, _ := Encode(2.5)
	var i int
	if err := DecodeInto(f, &i); !errors.Is(err, ErrMismatch) {
		t.Fatalf("fractional into int: got %v", err)
	}

	s, _ := Encode("text")
	if err := DecodeInto(s, &i); !errors.Is(err, ErrMismatch) {
		t.Fatalf("string into int: got %v", err)
	}
	if err := DecodeInto(s, i); !errors.Is(err, ErrMismatch) {
		t.Fatalf("non-pointer destination: got %v", err)
	}
}

func TestUnsupported(t *testing.T) {
	selfRef := map[string]any{}
	selfRef["self"] = selfRef

	tests := []struct {
		name string
		in   any
	}{
		{"func", func() {}},
		{"chan", make(chan int)},
		{"complex", complex(1, 2)},
		{"struct keys", map[struct{ A int }]string{{1}: "a"}},
		{"slice key in any map", map[any]int{[1]int{1}: 1}},
		{"nested func", map[string]any{"x": []any{func() {}}}},
		{"cycle", selfRef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.in)
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("Encode(%T): got %v, want ErrUnsupported", tt.in, err)
			}
		})
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	in := map[int]string{3: "c", 1: "a", 2: "b"}
	first, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Encode(in)
		if string(again) != string(first) {
			t.Fatal("encoding the same map twice produced different bytes")
		}
	}
}

func TestDecodedValueIsIndependent(t *testing.T) {
	data, err := Encode(map[string]any{"list": []any{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	first, _ := Decode(data)
	first.(map[string]any)["list"].([]any)[0] = "changed"

	second, _ := Decode(data)
	if got := second.(map[string]any)["list"].([]any)[0]; got != "a" {
		t.Fatalf("second decode saw mutation: %v", got)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected error decoding garbage")
	}
}

func TestDescriptors(t *testing.T) {
	for _, in := range []any{
		[]int{}, [3]uint8{}, map[string][]float32{}, map[any]any{},
		[][]string{}, map[int64]time.Time{}, []any{},
	} {
		typ := reflect.TypeOf(in)
		desc, ok := describe(typ)
		if !ok {
			t.Fatalf("describe(%s) failed", typ)
		}
		back, err := parseType(desc)
		if err != nil {
			t.Fatalf("parseType(%q): %v", desc, err)
		}
		if back != typ {
			t.Fatalf("parseType(%q) = %s, want %s", desc, back, typ)
		}
	}
	for _, bad := range []string{"", "[x]int", "map[[]int]int", "widget", "[99999999999]int", "[]int junk"} {
		if _, err := parseType(bad); !errors.Is(err, ErrMismatch) {
			t.Errorf("parseType(%q): got %v", bad, err)
		}
	}
}
