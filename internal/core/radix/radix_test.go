package radix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeKnownValue(t *testing.T) {
	words, err := Encode("abc")
	require.NoError(t, err)
	assert.Equal(t, []uint64{(1*Base+2)*Base + 3}, words)
}

func TestServiceAddressRoundTrip(t *testing.T) {
	in := "tcp://node-a.local:9999"
	assert.False(t, Encodable(in), "dash is outside the alphabet")

	in = "tcp://nodea.local:9999/calc.add"
	words, err := Encode(in)
	require.NoError(t, err)
	assert.Len(t, words, (len(in)+ChunkSize-1)/ChunkSize)

	out, err := Decode(words)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeLowercases(t *testing.T) {
	words, err := Encode("Calc.Add")
	require.NoError(t, err)
	out, err := Decode(words)
	require.NoError(t, err)
	assert.Equal(t, "calc.add", out)
}

func TestEncodeRejectsUnknownSymbol(t *testing.T) {
	_, err := Encode("a b")
	assert.ErrorIs(t, err, ErrSymbol)
	_, err = Encode("\r")
	assert.ErrorIs(t, err, ErrSymbol)
}

func TestDecodeRejectsZeroWord(t *testing.T) {
	_, err := Decode([]uint64{0})
	assert.ErrorIs(t, err, ErrBadWord)
}

func TestBytesRoundTrip(t *testing.T) {
	words, err := Encode(strings.Repeat("z", 30))
	require.NoError(t, err)
	b, err := AppendBytes([]byte{0xAA}, words)
	require.NoError(t, err)
	require.Len(t, b, 1+1+8*len(words))

	pos := 1
	got, err := ReadBytes(b, &pos)
	require.NoError(t, err)
	assert.Equal(t, words, got)
	assert.Equal(t, len(b), pos)
}

func TestRoundTripProperty(t *testing.T) {
	symbols := []rune(Alphabet[1:])
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.StringOf(rapid.SampledFrom(symbols)).Draw(rt, "s")
		words, err := Encode(s)
		require.NoError(rt, err)
		out, err := Decode(words)
		require.NoError(rt, err)
		require.Equal(rt, s, out)
	})
}
