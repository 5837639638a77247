package clone

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

func mismatch(what string, dst reflect.Value) error {
	return fmt.Errorf("%w: %s into %s", ErrMismatch, what, dst.Type())
}

func isNull(pv *structpb.Value) bool {
	switch pv.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return true
	}
	return false
}

func decodeInto(pv *structpb.Value, dst reflect.Value, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrMismatch, MaxDepth)
	}
	if isNull(pv) {
		dst.SetZero()
		return nil
	}

	switch dst.Kind() {
	case reflect.Interface:
		typ, err := naturalType(pv)
		if err != nil {
			return err
		}
		if !typ.AssignableTo(dst.Type()) {
			return mismatch(typ.String(), dst)
		}
		v := reflect.New(typ).Elem()
		if err := decodeInto(pv, v, depth+1); err != nil {
			return err
		}
		dst.Set(v)
		return nil
	case reflect.Pointer:
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return decodeInto(pv, dst.Elem(), depth+1)
	}

	switch k := pv.GetKind().(type) {
	case *structpb.Value_BoolValue:
		if dst.Kind() != reflect.Bool {
			return mismatch("bool", dst)
		}
		dst.SetBool(k.BoolValue)
		return nil
	case *structpb.Value_StringValue:
		if dst.Kind() != reflect.String {
			return mismatch("string", dst)
		}
		dst.SetString(k.StringValue)
		return nil
	case *structpb.Value_NumberValue:
		return setFloat(dst, k.NumberValue)
	case *structpb.Value_ListValue:
		return decodeList(k.ListValue.GetValues(), dst, depth)
	case *structpb.Value_StructValue:
		return decodeTagged(k.StructValue, dst, depth)
	}
	return mismatch("unknown value", dst)
}

// naturalType is the type Decode produces for pv.
func naturalType(pv *structpb.Value) (reflect.Type, error) {
	switch k := pv.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return basicTypes["bool"], nil
	case *structpb.Value_StringValue:
		return basicTypes["string"], nil
	case *structpb.Value_NumberValue:
		return basicTypes["float64"], nil
	case *structpb.Value_ListValue:
		return anySliceType, nil
	case *structpb.Value_StructValue:
		fields := k.StructValue.GetFields()
		tag := fields["t"].GetStringValue()
		if typ := fields["type"].GetStringValue(); typ != "" {
			return parseType(typ)
		}
		switch tag {
		case tagBytes:
			return reflect.TypeOf((*[]byte)(nil)).Elem(), nil
		case tagString:
			return basicTypes["string"], nil
		case tagTime:
			return timeType, nil
		case tagStruct:
			return objectType, nil
		}
		if t, ok := basicTypes[tag]; ok {
			return t, nil
		}
		return nil, fmt.Errorf("%w: unknown tag %q", ErrMismatch, tag)
	}
	return nil, fmt.Errorf("%w: empty value", ErrMismatch)
}

func decodeList(items []*structpb.Value, dst reflect.Value, depth int) error {
	switch dst.Kind() {
	case reflect.Slice:
		s := reflect.MakeSlice(dst.Type(), len(items), len(items))
		for i, item := range items {
			if err := decodeInto(item, s.Index(i), depth+1); err != nil {
				return err
			}
		}
		dst.Set(s)
		return nil
	case reflect.Array:
		if dst.Len() != len(items) {
			return mismatch(fmt.Sprintf("list of %d", len(items)), dst)
		}
		for i, item := range items {
			if err := decodeInto(item, dst.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return mismatch("list", dst)
}

func decodeTagged(s *structpb.Struct, dst reflect.Value, depth int) error {
	fields := s.GetFields()
	tag := fields["t"].GetStringValue()
	payload := fields["v"]

	switch tag {
	case "int", "int8", "int16", "int32", "int64":
		n, err := strconv.ParseInt(payload.GetStringValue(), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMismatch, err)
		}
		return setInt(dst, n)
	case "uint", "uint8", "uint16", "uint32", "uint64", "uintptr":
		n, err := strconv.ParseUint(payload.GetStringValue(), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMismatch, err)
		}
		return setUint(dst, n)
	case "float32":
		return setFloat(dst, payload.GetNumberValue())
	case tagString:
		b, err := base64.StdEncoding.DecodeString(payload.GetStringValue())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMismatch, err)
		}
		if dst.Kind() != reflect.String {
			return mismatch("string", dst)
		}
		dst.SetString(string(b))
		return nil
	case tagBytes:
		b, err := base64.StdEncoding.DecodeString(payload.GetStringValue())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMismatch, err)
		}
		return setBytes(dst, b)
	case tagTime:
		if dst.Type() != timeType {
			return mismatch("time", dst)
		}
		b, err := base64.StdEncoding.DecodeString(payload.GetStringValue())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMismatch, err)
		}
		var tm time.Time
		if err := tm.UnmarshalBinary(b); err != nil {
			return fmt.Errorf("%w: %v", ErrMismatch, err)
		}
		dst.Set(reflect.ValueOf(tm))
		return nil
	case tagNil:
		if dst.Kind() != reflect.Slice && dst.Kind() != reflect.Map {
			return mismatch("nil", dst)
		}
		dst.SetZero()
		return nil
	case tagList:
		return decodeList(payload.GetListValue().GetValues(), dst, depth)
	case tagMap:
		return decodeMap(payload.GetListValue().GetValues(), dst, depth)
	case tagStruct:
		return decodeStruct(payload.GetStructValue().GetFields(), dst, depth)
	}
	return fmt.Errorf("%w: unknown tag %q", ErrMismatch, tag)
}

func decodeMap(pairs []*structpb.Value, dst reflect.Value, depth int) error {
	if dst.Kind() != reflect.Map {
		return mismatch("map", dst)
	}
	t := dst.Type()
	m := reflect.MakeMapWithSize(t, len(pairs))
	for _, p := range pairs {
		kv := p.GetListValue().GetValues()
		if len(kv) != 2 {
			return fmt.Errorf("%w: malformed map entry", ErrMismatch)
		}
		k := reflect.New(t.Key()).Elem()
		if err := decodeInto(kv[0], k, depth+1); err != nil {
			return err
		}
		if !k.Comparable() {
			return mismatch("unhashable key", dst)
		}
		v := reflect.New(t.Elem()).Elem()
		if err := decodeInto(kv[1], v, depth+1); err != nil {
			return err
		}
		m.SetMapIndex(k, v)
	}
	dst.Set(m)
	return nil
}

// decodeStruct fills a struct by field name, or a string-keyed map with
// every stored field.
func decodeStruct(fields map[string]*structpb.Value, dst reflect.Value, depth int) error {
	switch {
	case dst.Kind() == reflect.Struct:
		for name, fv := range fields {
			sf, ok := dst.Type().FieldByName(name)
			if !ok || !sf.IsExported() {
				continue
			}
			f, err := dst.FieldByIndexErr(sf.Index)
			if err != nil || !f.CanSet() {
				continue
			}
			if err := decodeInto(fv, f, depth+1); err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
		}
		return nil
	case dst.Kind() == reflect.Map && dst.Type().Key().Kind() == reflect.String:
		t := dst.Type()
		m := reflect.MakeMapWithSize(t, len(fields))
		for name, fv := range fields {
			v := reflect.New(t.Elem()).Elem()
			if err := decodeInto(fv, v, depth+1); err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			m.SetMapIndex(reflect.ValueOf(name).Convert(t.Key()), v)
		}
		dst.Set(m)
		return nil
	}
	return mismatch("struct", dst)
}

func setBytes(dst reflect.Value, b []byte) error {
	switch {
	case dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8:
		s := reflect.MakeSlice(dst.Type(), len(b), len(b))
		for i, c := range b {
			s.Index(i).SetUint(uint64(c))
		}
		dst.Set(s)
		return nil
	case dst.Kind() == reflect.Array && dst.Type().Elem().Kind() == reflect.Uint8 && dst.Len() == len(b):
		for i, c := range b {
			dst.Index(i).SetUint(uint64(c))
		}
		return nil
	}
	return mismatch("bytes", dst)
}

func setInt(dst reflect.Value, n int64) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if dst.OverflowInt(n) {
			return mismatch(strconv.FormatInt(n, 10), dst)
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return mismatch(strconv.FormatInt(n, 10), dst)
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		dst.SetFloat(float64(n))
		return nil
	}
	return mismatch("integer", dst)
}

func setUint(dst reflect.Value, n uint64) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n > math.MaxInt64 || dst.OverflowInt(int64(n)) {
			return mismatch(strconv.FormatUint(n, 10), dst)
		}
		dst.SetInt(int64(n))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if dst.OverflowUint(n) {
			return mismatch(strconv.FormatUint(n, 10), dst)
		}
		dst.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		dst.SetFloat(float64(n))
		return nil
	}
	return mismatch("integer", dst)
}

func setFloat(dst reflect.Value, f float64) error {
	switch dst.Kind() {
	case reflect.Float32, reflect.Float64:
		if dst.OverflowFloat(f) {
			return mismatch(strconv.FormatFloat(f, 'g', -1, 64), dst)
		}
		dst.SetFloat(f)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return mismatch(strconv.FormatFloat(f, 'g', -1, 64), dst)
		}
		return setInt(dst, int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return mismatch(strconv.FormatFloat(f, 'g', -1, 64), dst)
		}
		return setUint(dst, uint64(f))
	}
	return mismatch("number", dst)
}
