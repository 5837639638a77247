// Package clone encodes structured values for storage and decodes them
// into fresh, independent copies.
//
// The wire form is a protobuf google.protobuf.Value tree. nil, bool,
// float64, []any and valid UTF-8 strings map to the plain Value kinds.
// Every other kind is a tagged struct node {"t": tag, "v": payload,
// "type": descriptor}, so integers keep their width, byte slices, times
// and arbitrary strings survive, and unnamed container types such as
// []int or map[string]int come back as themselves.
//
// Pointers are followed and stored as their referent. Structs are stored
// field by field (exported fields only) and decode as map[string]any
// unless read with DecodeInto. Named types decode as their underlying
// unnamed form.
package clone

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxDepth bounds nesting; self-referencing values hit it instead of
// recursing forever.
const MaxDepth = 100

var (
	ErrUnsupported = errors.New("value cannot be cloned")
	ErrMismatch    = errors.New("stored value does not fit the destination")
)

// Node tags.
const (
	tagBytes  = "bytes"
	tagString = "str" // string that is not valid UTF-8, base64 payload
	tagTime   = "time"
	tagList   = "list"
	tagMap    = "map"
	tagNil    = "nil" // typed nil slice or map
	tagStruct = "struct"
)

var marshalOpts = proto.MarshalOptions{Deterministic: true}

// Encode serializes v. It fails with ErrUnsupported for funcs, channels,
// complex numbers, unsafe pointers, maps keyed by anything but scalars,
// and nesting deeper than MaxDepth.
func Encode(v any) ([]byte, error) {
	pv, err := encode(reflect.ValueOf(v), 0)
	if err != nil {
		return nil, err
	}
	data, err := marshalOpts.Marshal(pv)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

// Decode parses bytes produced by Encode into untyped form.
func Decode(data []byte) (any, error) {
	pv, err := unmarshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := decodeInto(pv, reflect.ValueOf(&out).Elem(), 0); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeInto parses bytes produced by Encode into dst, which must be a
// non-nil pointer. Struct fields are matched by name; stored fields the
// destination lacks are ignored.
func DecodeInto(data []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: destination must be a non-nil pointer, got %T", ErrMismatch, dst)
	}
	pv, err := unmarshal(data)
	if err != nil {
		return err
	}
	return decodeInto(pv, rv.Elem(), 0)
}

// Value returns an independent deep copy of v as Decode would produce it.
func Value(v any) (any, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func unmarshal(data []byte) (*structpb.Value, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(data, &pv); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return &pv, nil
}

func tagged(tag string, payload *structpb.Value, typ string) *structpb.Value {
	fields := map[string]*structpb.Value{"t": structpb.NewStringValue(tag)}
	if payload != nil {
		fields["v"] = payload
	}
	if typ != "" {
		fields["type"] = structpb.NewStringValue(typ)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func encode(rv reflect.Value, depth int) (*structpb.Value, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, MaxDepth)
	}
	if !rv.IsValid() {
		return structpb.NewNullValue(), nil
	}
	t := rv.Type()
	if t == timeType {
		b, err := rv.Interface().(time.Time).MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return tagged(tagTime, structpb.NewStringValue(base64.StdEncoding.EncodeToString(b)), ""), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return structpb.NewBoolValue(rv.Bool()), nil
	case reflect.String:
		s := rv.String()
		if utf8.ValidString(s) {
			return structpb.NewStringValue(s), nil
		}
		return tagged(tagString, structpb.NewStringValue(base64.StdEncoding.EncodeToString([]byte(s))), ""), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return tagged(rv.Kind().String(), structpb.NewStringValue(strconv.FormatInt(rv.Int(), 10)), ""), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return tagged(rv.Kind().String(), structpb.NewStringValue(strconv.FormatUint(rv.Uint(), 10)), ""), nil
	case reflect.Float32:
		return tagged(rv.Kind().String(), structpb.NewNumberValue(rv.Float()), ""), nil
	case reflect.Float64:
		return structpb.NewNumberValue(rv.Float()), nil
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return structpb.NewNullValue(), nil
		}
		return encode(rv.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		return encodeList(rv, depth)
	case reflect.Map:
		return encodeMap(rv, depth)
	case reflect.Struct:
		fields := make(map[string]*structpb.Value, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			v, err := encode(rv.Field(i), depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			fields[f.Name] = v
		}
		return tagged(tagStruct, structpb.NewStructValue(&structpb.Struct{Fields: fields}), ""), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

func encodeList(rv reflect.Value, depth int) (*structpb.Value, error) {
	t := rv.Type()
	desc, _ := describe(t)
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		if desc == "" {
			return structpb.NewNullValue(), nil
		}
		return tagged(tagNil, nil, desc), nil
	}
	if t.Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		for i := range b {
			b[i] = byte(rv.Index(i).Uint())
		}
		typ := ""
		if rv.Kind() == reflect.Array {
			typ = desc
		}
		return tagged(tagBytes, structpb.NewStringValue(base64.StdEncoding.EncodeToString(b)), typ), nil
	}

	items := make([]*structpb.Value, rv.Len())
	for i := range items {
		v, err := encode(rv.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	list := structpb.NewListValue(&structpb.ListValue{Values: items})
	if t == anySliceType || desc == "" {
		return list, nil
	}
	return tagged(tagList, list, desc), nil
}

func encodeMap(rv reflect.Value, depth int) (*structpb.Value, error) {
	t := rv.Type()
	if t.Key() != anyType && !scalarKind(t.Key().Kind()) {
		return nil, fmt.Errorf("%w: map key type %s", ErrUnsupported, t.Key())
	}
	desc, ok := describe(t)
	if !ok {
		desc = "map[any]any"
		if t.Key().Kind() == reflect.String {
			desc = "map[string]any"
		}
	}
	if rv.IsNil() {
		return tagged(tagNil, nil, desc), nil
	}

	keys := rv.MapKeys()
	sortKeys(keys)
	pairs := make([]*structpb.Value, 0, len(keys))
	for _, k := range keys {
		if k.Kind() == reflect.Interface {
			if dyn := k.Elem(); dyn.IsValid() && !scalarKind(dyn.Kind()) {
				return nil, fmt.Errorf("%w: map key type %s", ErrUnsupported, dyn.Type())
			}
		}
		kv, err := encode(k, depth+1)
		if err != nil {
			return nil, err
		}
		vv, err := encode(rv.MapIndex(k), depth+1)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{kv, vv}}))
	}
	return tagged(tagMap, structpb.NewListValue(&structpb.ListValue{Values: pairs}), desc), nil
}
