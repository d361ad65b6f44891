package mesh

import (
	"fmt"

	"Meshflow/internal/core/pubsub"
)

// Observable receives values of type T from one or more input channels.
type Observable[T any] struct {
	*Proxy
}

func NewObservable[T any](channel string, opts ...ProxyOption) (*Observable[T], error) {
	codec, err := CodecFor[T]()
	if err != nil {
		return nil, fmt.Errorf("observable %s: %w", channel, err)
	}
	opts = append([]ProxyOption{WithInputs(channel)}, opts...)
	return &Observable[T]{Proxy: NewProxy(codec, opts...)}, nil
}

// Subscribe registers fn for every decoded value.
func (o *Observable[T]) Subscribe(fn func(T) error) *pubsub.Subscription {
	return o.SubscribeEnvelope(func(v T, _ *Message) error { return fn(v) })
}

// SubscribeEnvelope registers fn with access to the carrying envelope.
func (o *Observable[T]) SubscribeEnvelope(fn func(T, *Message) error) *pubsub.Subscription {
	return o.Proxy.Subscribe(pubsub.Func(func(d Delivery) error {
		var v T
		if d.Value != nil {
			typed, ok := d.Value.(T)
			if !ok {
				return fmt.Errorf("observable: got %T, want %T", d.Value, v)
			}
			v = typed
		}
		return fn(v, d.Envelope)
	}))
}

// Observer publishes values of type T on one or more output channels.
type Observer[T any] struct {
	*Proxy
}

func NewObserver[T any](channel string, opts ...ProxyOption) (*Observer[T], error) {
	codec, err := CodecFor[T]()
	if err != nil {
		return nil, fmt.Errorf("observer %s: %w", channel, err)
	}
	opts = append([]ProxyOption{WithOutputs(channel)}, opts...)
	return &Observer[T]{Proxy: NewProxy(codec, opts...)}, nil
}

// OnNext broadcasts v to every matched peer.
func (o *Observer[T]) OnNext(v T) error {
	return o.OnPost(v, "")
}

// OnNextTo sends v to peer only.
func (o *Observer[T]) OnNextTo(v T, peer string) error {
	return o.OnPost(v, peer)
}
