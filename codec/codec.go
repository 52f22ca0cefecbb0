// Package codec converts raw datapoint bytes to and from application values.
// Multi-byte values are little-endian on the device.
package codec

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDivisor is returned for a zero divisor
	ErrDivisor = errors.New("codec: divisor must not be zero")
	// ErrSize is returned for integers not between 1 and 8 bytes
	ErrSize = errors.New("codec: invalid size")
	// ErrRange is returned when a value does not fit the requested size
	ErrRange = errors.New("codec: value out of range")
	// ErrBCD is returned for bytes which are not valid packed BCD
	ErrBCD = errors.New("codec: invalid BCD")
)

// Int decodes a little-endian integer of 1 to 8 bytes
func Int(data []byte, signed bool) (int64, error) {
	if len(data) == 0 || len(data) > 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrSize, len(data))
	}
	var u uint64
	for i := len(data) - 1; i >= 0; i-- {
		u = u<<8 | uint64(data[i])
	}
	if signed && len(data) < 8 && data[len(data)-1]&0x80 != 0 {
		// sign extension
		u |= ^uint64(0) << (8 * uint(len(data)))
	}
	return int64(u), nil
}

// Uint decodes a little-endian unsigned integer of 1 to 8 bytes
func Uint(data []byte) (uint64, error) {
	if len(data) == 0 || len(data) > 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrSize, len(data))
	}
	var u uint64
	for i := len(data) - 1; i >= 0; i-- {
		u = u<<8 | uint64(data[i])
	}
	return u, nil
}

// BytesValue interprets data as little-endian integer and divides it by divisor,
// e.g. temperatures are stored in tenths of a degree: BytesValue([]byte{0xd2, 0x00}, 10, true) == 21.0
func BytesValue(data []byte, divisor float64, signed bool) (float64, error) {
	if divisor == 0 {
		return 0, ErrDivisor
	}
	if !signed {
		u, err := Uint(data)
		if err != nil {
			return 0, err
		}
		return float64(u) / divisor, nil
	}
	i, err := Int(data, true)
	if err != nil {
		return 0, err
	}
	return float64(i) / divisor, nil
}

// PutInt encodes value as little-endian integer of size bytes. Values fitting either the
// signed or the unsigned range of size bytes are accepted.
func PutInt(value int64, size int) ([]byte, error) {
	if size <= 0 || size > 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrSize, size)
	}
	if size < 8 {
		bits := uint(8 * size)
		lo, hi := -(int64(1) << (bits - 1)), int64(1)<<bits-1
		if value < lo || value > hi {
			return nil, fmt.Errorf("%w: %d in %d bytes", ErrRange, value, size)
		}
	}
	b := make([]byte, size)
	u := uint64(value)
	for i := range b {
		b[i] = byte(u)
		u >>= 8
	}
	return b, nil
}

// ScaledInt is the inverse of BytesValue: value*multiplier rounded and encoded in size bytes
func ScaledInt(value, multiplier float64, size int) ([]byte, error) {
	if multiplier == 0 {
		return nil, ErrDivisor
	}
	f := math.Round(value * multiplier)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("%w: %v", ErrRange, value)
	}
	return PutInt(int64(f), size)
}
