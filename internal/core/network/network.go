// Package network carries encoded mesh frames between nodes. Every transport
// is a topic broadcast: a node publishes a frame on the topic of a channel
// and every node subscribed to that topic receives a copy.
package network

import "errors"

var ErrClosed = errors.New("transport closed")

// Message is one frame received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}

// Transport is a PubSub with an identity and a lifetime.
type Transport interface {
	PubSub
	// ID identifies this endpoint to peers. Empty means the caller picks one.
	ID() string
	Close() error
}

// Kinds accepted by configuration.
const (
	KindMemory = "memory"
	KindLibp2p = "libp2p"
	KindNATS   = "nats"
)

// subscriberBuffer bounds each subscription channel. Frames beyond it are
// dropped rather than stalling the publisher.
const subscriberBuffer = 64
