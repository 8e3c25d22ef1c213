package ble

import (
	"reflect"
	"strconv"
)

// Numeric is the set of scalar types accepted by Number.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Payload is a notification value normalized to bytes.
type Payload struct {
	data []byte
}

// Bytes returns a payload holding a copy of b.
func Bytes(b []byte) Payload {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Payload{data: cp}
}

// Text returns a payload holding the UTF-8 bytes of s.
func Text(s string) Payload {
	return Payload{data: []byte(s)}
}

// Number returns a payload holding the decimal text form of v. Floats use
// the shortest representation that round-trips at their own precision, so
// float32(3.5) becomes "3.5" and 42 becomes "42".
func Number[T Numeric](v T) Payload {
	return Text(formatNumber(v))
}

func formatNumber[T Numeric](v T) string {
	switch reflect.TypeOf(v).Kind() {
	case reflect.Float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(float64(v), 'f', -1, 64)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return strconv.FormatUint(uint64(v), 10)
	}
}

// Bytes returns the payload bytes. The caller must not modify them.
func (p Payload) Bytes() []byte { return p.data }

// Len returns the payload length in bytes.
func (p Payload) Len() int { return len(p.data) }

func (p Payload) String() string { return string(p.data) }
