package sourcemap

import (
	"fmt"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Values = func() [128]int8 {
	var t [128]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(base64Chars); i++ {
		t[base64Chars[i]] = int8(i)
	}
	return t
}()

const (
	vlqShift    = 5
	vlqBase     = 1 << vlqShift
	vlqMask     = vlqBase - 1
	vlqContinue = vlqBase
)

// encodeVLQ appends the base64 VLQ encoding of n.
func encodeVLQ(sb *strings.Builder, n int) {
	v := n << 1
	if n < 0 {
		v = (-n << 1) | 1
	}
	for {
		digit := v & vlqMask
		v >>= vlqShift
		if v > 0 {
			digit |= vlqContinue
		}
		sb.WriteByte(base64Chars[digit])
		if v == 0 {
			return
		}
	}
}

// decodeVLQ reads one value from s starting at i and returns it with the
// index just past it.
func decodeVLQ(s string, i int) (int, int, error) {
	result, shift := 0, 0
	for {
		if i >= len(s) {
			return 0, i, fmt.Errorf("unterminated VLQ value")
		}
		c := s[i]
		if c >= 128 || base64Values[c] < 0 {
			return 0, i, fmt.Errorf("invalid base64 character %q at offset %d", c, i)
		}
		digit := int(base64Values[c])
		i++
		result += (digit & vlqMask) << shift
		if digit&vlqContinue == 0 {
			break
		}
		shift += vlqShift
		if shift > 60 {
			return 0, i, fmt.Errorf("VLQ value overflows")
		}
	}
	if result&1 == 1 {
		return -(result >> 1), i, nil
	}
	return result >> 1, i, nil
}
