package node

import (
	"errors"
	"fmt"
	"time"

	"Meshflow/internal/core/wire"
)

// advertTag opens every advertisement frame so stray traffic on the
// discovery topic is rejected before parsing.
const advertTag byte = 'A'

var ErrAdvertFrame = errors.New("not an advertisement frame")

// Advert is what a node announces on the discovery topic: when it spoke,
// who it is, and the channel aliases it consumes and produces.
type Advert struct {
	SentAt  time.Time
	NodeID  string
	Inputs  []string
	Outputs []string
}

func (a *Advert) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 1+wire.NTSize+64)
	b = append(b, advertTag)
	b = wire.AppendNT(b, a.SentAt)
	b = wire.AppendString(b, a.NodeID)
	b = appendList(b, a.Inputs)
	b = appendList(b, a.Outputs)
	return b, nil
}

func (a *Advert) UnmarshalBinary(b []byte) error {
	pos := 0
	tag, err := wire.ReadByte(b, &pos)
	if err != nil {
		return err
	}
	if tag != advertTag {
		return fmt.Errorf("%w: tag 0x%02x", ErrAdvertFrame, tag)
	}
	var out Advert
	if out.SentAt, err = wire.ReadNT(b, &pos); err != nil {
		return fmt.Errorf("advert timestamp: %w", err)
	}
	if out.NodeID, err = wire.ReadString(b, &pos); err != nil {
		return fmt.Errorf("advert node id: %w", err)
	}
	if out.Inputs, err = readList(b, &pos); err != nil {
		return fmt.Errorf("advert inputs: %w", err)
	}
	if out.Outputs, err = readList(b, &pos); err != nil {
		return fmt.Errorf("advert outputs: %w", err)
	}
	*a = out
	return nil
}

func appendList(b []byte, items []string) []byte {
	b = wire.AppendUint32(b, uint32(len(items)))
	for _, s := range items {
		b = wire.AppendString(b, s)
	}
	return b
}

func readList(b []byte, pos *int) ([]string, error) {
	n, err := wire.ReadUint32(b, pos)
	if err != nil {
		return nil, err
	}
	// Each entry needs at least its length prefix.
	if int(n) > (len(b)-*pos)/4 {
		return nil, wire.ErrTruncated
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := wire.ReadString(b, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
