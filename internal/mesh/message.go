package mesh

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"Meshflow/internal/core/radix"
	"Meshflow/internal/core/wire"
)

// DataGraph tags every envelope posted by a channel proxy.
const DataGraph uint32 = 1

const (
	frameData    byte = 0
	frameRawFlag byte = 0x80

	serviceString byte = 0
	serviceRadix  byte = 1
)

var ErrFrameType = errors.New("mesh: unknown frame type")

// Message is the envelope carried between nodes.
type Message struct {
	GraphID uint32   `json:"graph_id"`
	XID     uint32   `json:"xid"`
	Service string   `json:"service,omitempty"`
	Channel string   `json:"channel"`
	Payload string   `json:"payload"`
	Routes  []string `json:"routes,omitempty"`
}

func (m *Message) Clone() *Message {
	cp := *m
	cp.Routes = slices.Clone(m.Routes)
	return &cp
}

// RoutedTo reports whether addr should receive m. An empty route list is a
// broadcast.
func (m *Message) RoutedTo(addr string) bool {
	return len(m.Routes) == 0 || slices.Contains(m.Routes, addr)
}

// MarshalBinary encodes m with a compressed payload.
func (m *Message) MarshalBinary() ([]byte, error) {
	return m.Encode(true)
}

// Encode writes the frame: type byte, GraphID, XID, service, channel, routes
// and payload. The type byte's high bit marks an uncompressed payload.
func (m *Message) Encode(compress bool) ([]byte, error) {
	kind := frameData
	if !compress {
		kind |= frameRawFlag
	}
	b := make([]byte, 0, 64+len(m.Channel)+len(m.Service)+len(m.Payload))
	b = append(b, kind)
	b = wire.AppendUint32(b, m.GraphID)
	b = wire.AppendUint32(b, m.XID)

	// Radix lowercases, so only already-lowercase services take the compact form.
	var words []uint64
	if m.Service != "" && m.Service == strings.ToLower(m.Service) {
		words, _ = radix.Encode(m.Service)
	}
	if words != nil && len(words) <= 255 {
		var err error
		b = append(b, serviceRadix)
		if b, err = radix.AppendBytes(b, words); err != nil {
			return nil, fmt.Errorf("encode service: %w", err)
		}
	} else {
		b = append(b, serviceString)
		b = wire.AppendString(b, m.Service)
	}

	b = wire.AppendString(b, m.Channel)
	b = wire.AppendUint32(b, uint32(len(m.Routes)))
	for _, r := range m.Routes {
		b = wire.AppendString(b, r)
	}

	if !compress {
		return wire.AppendString(b, m.Payload), nil
	}
	payload, err := wire.CompressString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return append(b, payload...), nil
}

func (m *Message) UnmarshalBinary(b []byte) error {
	decoded, err := DecodeMessage(b)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// DecodeMessage parses a frame written by Encode.
func DecodeMessage(b []byte) (*Message, error) {
	pos := 0
	kind, err := wire.ReadByte(b, &pos)
	if err != nil {
		return nil, err
	}
	if kind&^frameRawFlag != frameData {
		return nil, fmt.Errorf("%w: %d", ErrFrameType, kind)
	}
	m := &Message{}
	if m.GraphID, err = wire.ReadUint32(b, &pos); err != nil {
		return nil, fmt.Errorf("graph id: %w", err)
	}
	if m.XID, err = wire.ReadUint32(b, &pos); err != nil {
		return nil, fmt.Errorf("xid: %w", err)
	}

	form, err := wire.ReadByte(b, &pos)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	switch form {
	case serviceRadix:
		words, err := radix.ReadBytes(b, &pos)
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		if m.Service, err = radix.Decode(words); err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
	case serviceString:
		if m.Service, err = wire.ReadString(b, &pos); err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
	default:
		return nil, fmt.Errorf("service form %d: %w", form, ErrFrameType)
	}

	if m.Channel, err = wire.ReadString(b, &pos); err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	n, err := wire.ReadUint32(b, &pos)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	if uint64(n)*4 > uint64(len(b)-pos) {
		return nil, fmt.Errorf("routes: %w", wire.ErrTruncated)
	}
	for i := uint32(0); i < n; i++ {
		r, err := wire.ReadString(b, &pos)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		m.Routes = append(m.Routes, r)
	}

	if kind&frameRawFlag != 0 {
		if m.Payload, err = wire.ReadString(b, &pos); err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		return m, nil
	}
	if m.Payload, err = wire.DecompressString(b[pos:]); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return m, nil
}
