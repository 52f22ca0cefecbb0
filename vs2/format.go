package vs2

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatBytes renders b as upper case hex bytes separated by spaces, e.g. "41 05 00 01"
func FormatBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

// ParseHexBytes is the inverse of FormatBytes. Spaces, dashes and colons between
// bytes are optional, so "41 05", "41-05" and "4105" are equivalent.
func ParseHexBytes(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', ':', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vs2: can't parse hex bytes: %w", err)
	}
	return b, nil
}
