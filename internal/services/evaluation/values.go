package evaluation

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Truthy reports the boolean interpretation of a value: nil, false, zero
// numbers, empty strings and empty collections are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case time.Time:
		return !val.IsZero()
	}

	if f, ok := ToNumber(v); ok {
		return f != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// ToNumber converts any Go numeric type to float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ToInt converts integral numbers and numeric strings to int64.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	f, ok := ToNumber(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Equal compares two values. Numbers compare by value across Go types,
// sequences element-wise; any other pair falls back to deep equality.
func Equal(a, b any) bool {
	aNil, bNil := isNil(a), isNil(b)
	if aNil || bNil {
		return aNil && bNil
	}

	if c, ok := compareIntegers(a, b); ok {
		return c == 0
	}
	if fa, ok := ToNumber(a); ok {
		fb, ok := ToNumber(b)
		if !ok {
			return false
		}
		return fa == fb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}

	if as, ok := AsSlice(a); ok {
		bs, ok := AsSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

// Compare orders two values of the same comparable kind (numbers, strings,
// times). ok is false for any other pair, including nil operands.
func Compare(a, b any) (int, bool) {
	if c, ok := compareIntegers(a, b); ok {
		return c, true
	}
	if fa, ok := ToNumber(a); ok {
		fb, ok := ToNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}

	return 0, false
}

// compareIntegers orders two integral values of any Go integer types
// without going through float64. ok is false unless both are integers.
func compareIntegers(a, b any) (int, bool) {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	aSigned, aOK := integerKind(ra)
	bSigned, bOK := integerKind(rb)
	if !aOK || !bOK {
		return 0, false
	}

	switch {
	case aSigned && bSigned:
		return cmpOrdered(ra.Int(), rb.Int()), true
	case !aSigned && !bSigned:
		return cmpOrdered(ra.Uint(), rb.Uint()), true
	case aSigned:
		if ra.Int() < 0 {
			return -1, true
		}
		return cmpOrdered(uint64(ra.Int()), rb.Uint()), true
	default:
		if rb.Int() < 0 {
			return 1, true
		}
		return cmpOrdered(ra.Uint(), uint64(rb.Int())), true
	}
}

func integerKind(v reflect.Value) (signed bool, ok bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return false, true
	}
	return false, false
}

func cmpOrdered[T int64 | uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// AsSlice returns the elements of a slice or array. Strings and byte
// slices are not sequences here.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Contains reports membership of item in a sequence, or key membership
// for string-keyed maps.
func Contains(container, item any) bool {
	if items, ok := AsSlice(container); ok {
		for _, candidate := range items {
			if Equal(candidate, item) {
				return true
			}
		}
		return false
	}

	key, ok := item.(string)
	if !ok {
		return false
	}
	if r, ok := AsResolver(container); ok {
		if _, isStruct := r.(*StructResolver); isStruct {
			return false
		}
		_, found := r.Field(key)
		return found
	}
	return false
}
