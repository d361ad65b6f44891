package mesh

import (
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"
)

const (
	XIDTimeOfDay = "time-of-day"
	XIDSequence  = "sequence"
)

// XIDSource allocates correlation ids for outgoing envelopes.
type XIDSource interface {
	Next() uint32
}

// TimeOfDay yields milliseconds since local midnight. Ids repeat daily and
// collide between nodes.
type TimeOfDay struct {
	Now func() time.Time
}

func (s TimeOfDay) Next() uint32 {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return uint32(t.Sub(midnight).Milliseconds())
}

// Sequence is a monotonic counter whose starting point is derived from the
// node id, so distinct nodes start in distinct regions of the id space.
type Sequence struct {
	n atomic.Uint32
}

func NewSequence(nodeID string) *Sequence {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	s := &Sequence{}
	s.n.Store(h.Sum32() &^ 0xFFFF)
	return s
}

func (s *Sequence) Next() uint32 { return s.n.Add(1) }

// NewXIDSource returns the source registered under name.
func NewXIDSource(name, nodeID string) (XIDSource, error) {
	switch name {
	case "", XIDTimeOfDay:
		return TimeOfDay{}, nil
	case XIDSequence:
		return NewSequence(nodeID), nil
	default:
		return nil, fmt.Errorf("unknown xid source %q", name)
	}
}
