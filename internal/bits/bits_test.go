package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	// 'W' = 0x57 = 0101 0111
	got := FromString("W")
	assert.Equal(t, []byte{0, 1, 0, 1, 0, 1, 1, 1}, got)
	assert.Len(t, FromString("WMARK"), 40)
	assert.Empty(t, FromString(""))
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"", "A", "WMARK", "hello world", "~!@#$%^&*()"} {
		got, err := ToString(FromString(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestToString_RejectsPartialByte(t *testing.T) {
	_, err := ToString([]byte{1, 0, 1})
	assert.Error(t, err)
}

func TestToString_DropsInvalidUTF8(t *testing.T) {
	// 0xFF is never valid UTF-8; it is dropped, the ASCII around it survives.
	in := append(FromString("A"), 1, 1, 1, 1, 1, 1, 1, 1)
	in = append(in, FromString("B")...)

	got, err := ToString(in)
	require.NoError(t, err)
	assert.Equal(t, "AB", got)
}
