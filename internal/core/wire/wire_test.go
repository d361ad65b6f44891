package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", strings.Repeat("a", 1000)} {
		b := EncodeString(s)
		require.Len(t, b, 4+len(s))

		pos := 0
		got, err := ReadString(b, &pos)
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Equal(t, 4+len(s), pos)
	}
}

func TestEmptyStringIsZeroPrefix(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeString(""))
}

func TestReadStringTruncated(t *testing.T) {
	b := EncodeString("hello")[:6]
	pos := 0
	_, err := ReadString(b, &pos)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Zero(t, pos)

	pos = 0
	_, err = ReadString([]byte{1, 0}, &pos)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestConsecutiveReadsAdvanceCursor(t *testing.T) {
	var b []byte
	b = AppendUint32(b, 7)
	b = AppendString(b, "chan")
	b = AppendUint64(b, 1<<40)
	b = append(b, 0xFE)

	pos := 0
	u32, err := ReadUint32(b, &pos)
	require.NoError(t, err)
	assert.EqualValues(t, 7, u32)
	s, err := ReadString(b, &pos)
	require.NoError(t, err)
	assert.Equal(t, "chan", s)
	u64, err := ReadUint64(b, &pos)
	require.NoError(t, err)
	assert.EqualValues(t, uint64(1<<40), u64)
	c, err := ReadByte(b, &pos)
	require.NoError(t, err)
	assert.EqualValues(t, 0xFE, c)
	assert.Equal(t, len(b), pos)

	_, err = ReadUint32(b, &pos)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestNTLayout(t *testing.T) {
	ts := time.Unix(1700000000, 250*int64(time.Millisecond))
	b := make([]byte, 4+NTSize)
	require.NoError(t, PutNT(b, 4, ts))

	pos := 4
	secs, _ := ReadUint64(b, &pos)
	ms, _ := ReadUint64(b, &pos)
	assert.EqualValues(t, 1700000000, secs)
	assert.EqualValues(t, 250, ms)

	pos = 4
	got, err := ReadNT(b, &pos)
	require.NoError(t, err)
	assert.True(t, got.Equal(ts))
	assert.Equal(t, AppendNT(nil, ts), b[4:])

	assert.ErrorIs(t, PutNT(b, 5, ts), ErrTruncated)
}

func TestCompressEmpty(t *testing.T) {
	b, err := CompressString("")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)

	s, err := DecompressString(b)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestCompressRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		b, err := CompressString(s)
		require.NoError(rt, err)
		got, err := DecompressString(b)
		require.NoError(rt, err)
		require.Equal(rt, s, got)
	})
}

func TestStringCodecProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")
		pos := 0
		got, err := ReadString(EncodeString(s), &pos)
		require.NoError(rt, err)
		require.Equal(rt, s, got)
	})
}
