package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Meshflow/internal/core/wire"
)

func TestAdvertRoundTrip(t *testing.T) {
	in := &Advert{
		SentAt:  time.UnixMilli(1_700_000_123_456),
		NodeID:  "12D3KooWnode",
		Inputs:  []string{"Calc.Add.a", "Calc.Add.b"},
		Outputs: []string{"Calc.Add.return"},
	}
	b, err := in.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, advertTag, b[0])

	var out Advert
	require.NoError(t, out.UnmarshalBinary(b))
	assert.True(t, in.SentAt.Equal(out.SentAt))
	assert.Equal(t, in.NodeID, out.NodeID)
	assert.Equal(t, in.Inputs, out.Inputs)
	assert.Equal(t, in.Outputs, out.Outputs)
}

func TestAdvertEmptyLists(t *testing.T) {
	b, err := (&Advert{SentAt: time.UnixMilli(0), NodeID: "n"}).MarshalBinary()
	require.NoError(t, err)
	var out Advert
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Nil(t, out.Inputs)
	assert.Nil(t, out.Outputs)
}

func TestAdvertRejectsGarbage(t *testing.T) {
	var a Advert
	assert.ErrorIs(t, a.UnmarshalBinary([]byte{'Z', 1, 2}), ErrAdvertFrame)
	assert.ErrorIs(t, a.UnmarshalBinary(nil), wire.ErrTruncated)

	b, err := (&Advert{NodeID: "n", Inputs: []string{"a"}}).MarshalBinary()
	require.NoError(t, err)
	assert.ErrorIs(t, a.UnmarshalBinary(b[:len(b)-3]), wire.ErrTruncated)

	// A list count far beyond the frame is rejected before allocating.
	huge := append([]byte{advertTag}, make([]byte, wire.NTSize)...)
	huge = wire.AppendString(huge, "n")
	huge = wire.AppendUint32(huge, 1<<30)
	assert.ErrorIs(t, a.UnmarshalBinary(huge), wire.ErrTruncated)
}
