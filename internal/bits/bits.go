// Package bits converts marker strings to and from MSB-first bit sequences.
package bits

import (
	"fmt"
	"strings"
)

// FromString returns one element (0 or 1) per bit of the UTF-8 encoding of s,
// most significant bit first.
func FromString(s string) []byte {
	out := make([]byte, 0, len(s)*8)
	for i := 0; i < len(s); i++ {
		b := s[i]
		for j := 7; j >= 0; j-- {
			out = append(out, (b>>uint(j))&1)
		}
	}
	return out
}

// ToString packs bits back into bytes and decodes them as UTF-8.
// Invalid sequences are dropped rather than reported, so extraction from
// tampered media never fails on content.
func ToString(bits []byte) (string, error) {
	if len(bits)%8 != 0 {
		return "", fmt.Errorf("bit count %d is not a multiple of 8", len(bits))
	}
	raw := make([]byte, len(bits)/8)
	for i := range raw {
		var b byte
		for _, bit := range bits[i*8 : i*8+8] {
			b = b<<1 | (bit & 1)
		}
		raw[i] = b
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}
