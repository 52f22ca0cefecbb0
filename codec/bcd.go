package codec

import (
	"fmt"
	"time"
)

// FromBCD decodes one packed BCD byte, 0x59 -> 59
func FromBCD(b byte) (int, error) {
	hi, lo := b>>4, b&0x0f
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("%w: 0x%02X", ErrBCD, b)
	}
	return int(hi)*10 + int(lo), nil
}

// ToBCD encodes 0..99 as packed BCD byte
func ToBCD(i int) byte {
	if i < 0 || i > 99 {
		i = 0
	}
	return byte(i/10)<<4 | byte(i%10)
}

func fromBCDs(c []byte) ([]int, error) {
	v := make([]int, len(c))
	for i, b := range c {
		d, err := FromBCD(b)
		if err != nil {
			return nil, err
		}
		v[i] = d
	}
	return v, nil
}

// DecodeDateTimeBCD decodes the 8 byte system time layout
// CC YY MM DD WD hh mm ss, the weekday is ignored
func DecodeDateTimeBCD(c []byte, loc *time.Location) (time.Time, error) {
	if len(c) < 8 {
		return time.Time{}, fmt.Errorf("%w: date and time need 8 bytes, got %d", ErrSize, len(c))
	}
	v, err := fromBCDs(c[:8])
	if err != nil {
		return time.Time{}, err
	}
	return date(v, loc)
}

// DecodeDateBCD decodes the first 4 bytes CC YY MM DD
func DecodeDateBCD(c []byte, loc *time.Location) (time.Time, error) {
	if len(c) < 4 {
		return time.Time{}, fmt.Errorf("%w: a date needs 4 bytes, got %d", ErrSize, len(c))
	}
	v, err := fromBCDs(c[:4])
	if err != nil {
		return time.Time{}, err
	}
	return date(append(v, 0, 0, 0, 0), loc)
}

func date(v []int, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if v[2] < 1 || v[2] > 12 || v[3] < 1 || v[3] > 31 || v[5] > 23 || v[6] > 59 || v[7] > 59 {
		return time.Time{}, fmt.Errorf("%w: date %v", ErrRange, v)
	}
	return time.Date(v[0]*100+v[1], time.Month(v[2]), v[3], v[5], v[6], v[7], 0, loc), nil
}

// EncodeDateTimeBCD is the inverse of DecodeDateTimeBCD, weekday Monday=1 .. Sunday=7
func EncodeDateTimeBCD(t time.Time) []byte {
	wday := int(t.Weekday())
	if wday == 0 {
		wday = 7
	}
	return []byte{
		ToBCD(t.Year() / 100),
		ToBCD(t.Year() % 100),
		ToBCD(int(t.Month())),
		ToBCD(t.Day()),
		ToBCD(wday),
		ToBCD(t.Hour()),
		ToBCD(t.Minute()),
		ToBCD(t.Second()),
	}
}

// DecodeSeconds decodes a little-endian counter of seconds, e.g. burner hours
func DecodeSeconds(c []byte) (time.Duration, error) {
	u, err := Uint(c)
	if err != nil {
		return 0, err
	}
	return time.Duration(u) * time.Second, nil
}

// ErrorEntry is one record of the controller's error history
type ErrorEntry struct {
	Code byte
	Time time.Time
}

func (e ErrorEntry) String() string {
	return fmt.Sprintf("0x%02X: %v", e.Code, e.Time)
}

// DecodeErrorHistory splits records of 9 bytes, the error code followed by DateTimeBCD.
// Empty slots (code 0) are skipped.
func DecodeErrorHistory(c []byte, loc *time.Location) ([]ErrorEntry, error) {
	if len(c)%9 != 0 {
		return nil, fmt.Errorf("%w: error history of %d bytes", ErrSize, len(c))
	}
	var entries []ErrorEntry
	for j := 0; j < len(c); j += 9 {
		if c[j] == 0 {
			continue
		}
		t, err := DecodeDateTimeBCD(c[j+1:j+9], loc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ErrorEntry{Code: c[j], Time: t})
	}
	return entries, nil
}
