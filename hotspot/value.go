package hotspot

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/zeebo/xxh3"
)

// ParamKey is the 128-bit identity of one parameter value, derived from a
// type-tagged canonical encoding. Two values compare equal iff their keys
// do, so the counter caches key on it directly.
type ParamKey [16]byte

const (
	tagNil byte = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagOpaque
)

// KeyOf hashes a parameter value into its counter-map identity.
func KeyOf(v interface{}) ParamKey {
	var buf [9]byte
	switch x := v.(type) {
	case nil:
		buf[0] = tagNil
		return hashKey(buf[:1])
	case bool:
		buf[0] = tagBool
		if x {
			buf[1] = 1
		}
		return hashKey(buf[:2])
	case int:
		return intKey(int64(x))
	case int8:
		return intKey(int64(x))
	case int16:
		return intKey(int64(x))
	case int32:
		return intKey(int64(x))
	case int64:
		return intKey(x)
	case uint:
		return uintKey(uint64(x))
	case uint8:
		return uintKey(uint64(x))
	case uint16:
		return uintKey(uint64(x))
	case uint32:
		return uintKey(uint64(x))
	case uint64:
		return uintKey(x)
	case float32:
		return floatKey(float64(x))
	case float64:
		return floatKey(x)
	case string:
		return stringKey(tagString, x)
	default:
		// Opaque values fall back to their formatted representation.
		return stringKey(tagOpaque, fmt.Sprintf("%T:%v", v, v))
	}
}

func hashKey(b []byte) ParamKey {
	sum := xxh3.Hash128(b)
	var k ParamKey
	binary.BigEndian.PutUint64(k[:8], sum.Hi)
	binary.BigEndian.PutUint64(k[8:], sum.Lo)
	return k
}

func intKey(x int64) ParamKey {
	var buf [9]byte
	buf[0] = tagInt
	binary.BigEndian.PutUint64(buf[1:], uint64(x))
	return hashKey(buf[:])
}

func uintKey(x uint64) ParamKey {
	var buf [9]byte
	buf[0] = tagUint
	binary.BigEndian.PutUint64(buf[1:], x)
	return hashKey(buf[:])
}

func floatKey(x float64) ParamKey {
	var buf [9]byte
	buf[0] = tagFloat
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(x))
	return hashKey(buf[:])
}

func stringKey(tag byte, s string) ParamKey {
	b := make([]byte, 1+len(s))
	b[0] = tag
	copy(b[1:], s)
	return hashKey(b)
}

// valuesAt extracts the parameter values a rule checks for one call: the
// argument at the resolved index, or — for a sequence argument — each of its
// elements in order.
func valuesAt(args []interface{}, rule *Rule) ([]interface{}, bool) {
	idx, ok := rule.resolveIdx(len(args))
	if !ok {
		return nil, false
	}
	arg := args[idx]
	if arg == nil {
		return []interface{}{nil}, true
	}
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// []byte reads as one opaque value, not a per-element sequence.
			return []interface{}{arg}, true
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	default:
		return []interface{}{arg}, true
	}
}
