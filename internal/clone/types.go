package clone

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	anyType      = reflect.TypeOf((*any)(nil)).Elem()
	anySliceType = reflect.TypeOf((*[]any)(nil)).Elem()
	timeType     = reflect.TypeOf((*time.Time)(nil)).Elem()
	objectType   = reflect.TypeOf((*map[string]any)(nil)).Elem()
)

// basicTypes are the unnamed scalar types a descriptor can name. Integer
// and float32 tags reuse these names.
var basicTypes = map[string]reflect.Type{
	"bool":    reflect.TypeOf((*bool)(nil)).Elem(),
	"string":  reflect.TypeOf((*string)(nil)).Elem(),
	"int":     reflect.TypeOf((*int)(nil)).Elem(),
	"int8":    reflect.TypeOf((*int8)(nil)).Elem(),
	"int16":   reflect.TypeOf((*int16)(nil)).Elem(),
	"int32":   reflect.TypeOf((*int32)(nil)).Elem(),
	"int64":   reflect.TypeOf((*int64)(nil)).Elem(),
	"uint":    reflect.TypeOf((*uint)(nil)).Elem(),
	"uint8":   reflect.TypeOf((*uint8)(nil)).Elem(),
	"uint16":  reflect.TypeOf((*uint16)(nil)).Elem(),
	"uint32":  reflect.TypeOf((*uint32)(nil)).Elem(),
	"uint64":  reflect.TypeOf((*uint64)(nil)).Elem(),
	"uintptr": reflect.TypeOf((*uintptr)(nil)).Elem(),
	"float32": reflect.TypeOf((*float32)(nil)).Elem(),
	"float64": reflect.TypeOf((*float64)(nil)).Elem(),
}

// maxArrayLen guards reflect.ArrayOf against corrupt descriptors.
const maxArrayLen = 1 << 24

// describe returns a descriptor for types that can be rebuilt without a
// registry: unnamed scalars, any, time.Time, and unnamed slices, arrays
// and maps of those.
func describe(t reflect.Type) (string, bool) {
	switch {
	case t == anyType:
		return "any", true
	case t == timeType:
		return "time", true
	case t.Name() != "":
		if basicTypes[t.Name()] == t {
			return t.Name(), true
		}
		return "", false
	}
	switch t.Kind() {
	case reflect.Slice:
		if e, ok := describe(t.Elem()); ok {
			return "[]" + e, true
		}
	case reflect.Array:
		if e, ok := describe(t.Elem()); ok {
			return fmt.Sprintf("[%d]%s", t.Len(), e), true
		}
	case reflect.Map:
		k, kok := describe(t.Key())
		e, eok := describe(t.Elem())
		if kok && eok {
			return "map[" + k + "]" + e, true
		}
	}
	return "", false
}

func parseType(s string) (reflect.Type, error) {
	t, rest, err := parseTypePrefix(s)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("%w: trailing %q in type %q", ErrMismatch, rest, s)
	}
	return t, nil
}

func parseTypePrefix(s string) (reflect.Type, string, error) {
	switch {
	case strings.HasPrefix(s, "[]"):
		e, rest, err := parseTypePrefix(s[2:])
		if err != nil {
			return nil, "", err
		}
		return reflect.SliceOf(e), rest, nil
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, "", fmt.Errorf("%w: bad array type %q", ErrMismatch, s)
		}
		n, err := strconv.Atoi(s[1:end])
		if err != nil || n < 0 || n > maxArrayLen {
			return nil, "", fmt.Errorf("%w: bad array length in %q", ErrMismatch, s)
		}
		e, rest, err := parseTypePrefix(s[end+1:])
		if err != nil {
			return nil, "", err
		}
		return reflect.ArrayOf(n, e), rest, nil
	case strings.HasPrefix(s, "map["):
		k, rest, err := parseTypePrefix(s[len("map["):])
		if err != nil {
			return nil, "", err
		}
		if k != anyType && !scalarKind(k.Kind()) {
			return nil, "", fmt.Errorf("%w: bad map key in %q", ErrMismatch, s)
		}
		if !strings.HasPrefix(rest, "]") {
			return nil, "", fmt.Errorf("%w: bad map type %q", ErrMismatch, s)
		}
		e, rest, err := parseTypePrefix(rest[1:])
		if err != nil {
			return nil, "", err
		}
		return reflect.MapOf(k, e), rest, nil
	}

	i := 0
	for i < len(s) && (s[i] >= 'a' && s[i] <= 'z' || s[i] >= '0' && s[i] <= '9') {
		i++
	}
	name, rest := s[:i], s[i:]
	switch name {
	case "any":
		return anyType, rest, nil
	case "time":
		return timeType, rest, nil
	}
	if t, ok := basicTypes[name]; ok {
		return t, rest, nil
	}
	return nil, "", fmt.Errorf("%w: unknown type %q", ErrMismatch, s)
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// sortKeys orders map keys so encoding is deterministic.
func sortKeys(keys []reflect.Value) {
	slices.SortFunc(keys, compareKeys)
}

func compareKeys(a, b reflect.Value) int {
	if a.Kind() == reflect.Interface {
		a = a.Elem()
	}
	if b.Kind() == reflect.Interface {
		b = b.Elem()
	}
	ra, rb := keyRank(a), keyRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 1:
		return cmp.Compare(boolInt(a.Bool()), boolInt(b.Bool()))
	case 2:
		return cmp.Compare(a.Int(), b.Int())
	case 3:
		return cmp.Compare(a.Uint(), b.Uint())
	case 4:
		return cmp.Compare(a.Float(), b.Float())
	case 5:
		return cmp.Compare(a.String(), b.String())
	}
	return 0
}

func keyRank(v reflect.Value) int {
	if !v.IsValid() {
		return 0
	}
	switch v.Kind() {
	case reflect.Bool:
		return 1
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return 2
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return 3
	case reflect.Float32, reflect.Float64:
		return 4
	case reflect.String:
		return 5
	}
	return 6
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
