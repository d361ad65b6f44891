package mesh

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"Meshflow/internal/core/mesherr"
	"Meshflow/internal/core/pubsub"
)

// PublishFunc hands one envelope to the transport for channel.
type PublishFunc func(channel string, msg *Message)

// RouteRegistrant is implemented by anything that binds channel aliases into
// a node's registries.
type RouteRegistrant interface {
	InputChannelNames() []string
	OutputChannelNames() []string
	// TypeName is the type tag every alias of the route is bound with.
	TypeName() string
	RegisterReceiverChannels(reg *Registry) error
	RegisterPublisherChannels(reg *Registry) error
	SetPublishChannel(fn PublishFunc)
}

// Reactor is an application component built from route registrants.
type Reactor interface {
	Name() string
	Routes() []RouteRegistrant
}

// Delivery is a decoded value together with the envelope that carried it.
type Delivery struct {
	Value    any
	Envelope *Message
}

// Proxy adapts a payload codec to the named envelope channels. Inbound
// envelopes decode and fan out to local subscribers; posted values encode
// and go to the transport once per output alias.
type Proxy struct {
	inputs  []string
	outputs []string
	codec   Codec
	xids    XIDSource
	metrics *Metrics
	logger  *zap.Logger
	local   *pubsub.Subject[Delivery]

	mu        sync.RWMutex
	publish   PublishFunc
	onConnect func(peer string)
	onError   func(error)
}

type ProxyOption func(*Proxy)

// WithInputs appends input aliases.
func WithInputs(names ...string) ProxyOption {
	return func(p *Proxy) { p.inputs = appendUnique(p.inputs, names...) }
}

// WithOutputs appends output aliases.
func WithOutputs(names ...string) ProxyOption {
	return func(p *Proxy) { p.outputs = appendUnique(p.outputs, names...) }
}

func WithXIDSource(s XIDSource) ProxyOption {
	return func(p *Proxy) {
		if s != nil {
			p.xids = s
		}
	}
}

func WithMetrics(m *Metrics) ProxyOption {
	return func(p *Proxy) { p.metrics = m }
}

func WithLogger(l *zap.Logger) ProxyOption {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithErrorHook receives decode, encode and local subscriber failures.
func WithErrorHook(fn func(error)) ProxyOption {
	return func(p *Proxy) { p.onError = fn }
}

func NewProxy(codec Codec, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		codec:   codec,
		xids:    TimeOfDay{},
		logger:  zap.NewNop(),
		local:   pubsub.NewSubject[Delivery](),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.local.SetErrorHook(p.reportError)
	return p
}

func (p *Proxy) TypeName() string { return p.codec.TypeName() }

func (p *Proxy) InputChannelNames() []string  { return append([]string(nil), p.inputs...) }
func (p *Proxy) OutputChannelNames() []string { return append([]string(nil), p.outputs...) }

// RegisterReceiverChannels binds every input alias in reg, creating channels
// that are absent, and subscribes the proxy to each.
func (p *Proxy) RegisterReceiverChannels(reg *Registry) error {
	var errs error
	for _, name := range p.inputs {
		ch, created, err := reg.GetOrCreate(name, p.codec.TypeName())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ch.Subscribe(p)
		if created {
			p.logger.Debug("input channel created", zap.String("channel", name), zap.String("type", p.codec.TypeName()))
		}
	}
	return errs
}

// RegisterPublisherChannels binds every output alias in reg with the proxy as
// a publisher-of-record.
func (p *Proxy) RegisterPublisherChannels(reg *Registry) error {
	var errs error
	for _, name := range p.outputs {
		ch, created, err := reg.GetOrCreate(name, p.codec.TypeName())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ch.AddPublisher(p)
		if created {
			p.logger.Debug("output channel created", zap.String("channel", name), zap.String("type", p.codec.TypeName()))
		}
	}
	return errs
}

func (p *Proxy) SetPublishChannel(fn PublishFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publish = fn
}

// SetOnConnect installs the catch-up hook run when a consuming peer joins.
func (p *Proxy) SetOnConnect(fn func(peer string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = fn
}

// Subscribe registers a local consumer of decoded values.
func (p *Proxy) Subscribe(s pubsub.Subscriber[Delivery]) *pubsub.Subscription {
	return p.local.Subscribe(s)
}

// OnNext decodes an inbound envelope and fans the value out locally. Decode
// failures go to the error hook only.
func (p *Proxy) OnNext(msg *Message) error {
	if msg == nil {
		return nil
	}
	p.metrics.Received(msg.Channel)
	v, err := p.codec.Decode(msg.Payload)
	if err != nil {
		p.metrics.Failed(msg.Channel)
		p.reportError(mesherr.NewDecode("proxy", "OnNext", err).WithChannel(msg.Channel))
		return nil
	}
	p.local.Publish(Delivery{Value: v, Envelope: msg})
	return nil
}

// OnPost encodes v into one envelope and publishes it on every output alias.
// A non-empty target restricts delivery to that peer. Posting before a
// transport is bound is a no-op.
func (p *Proxy) OnPost(v any, target string) error {
	payload, err := p.codec.Encode(v)
	if err != nil {
		for _, name := range p.outputs {
			p.metrics.Failed(name)
		}
		e := mesherr.NewEncode("proxy", "OnPost", err)
		p.reportError(e)
		return e
	}
	msg := &Message{GraphID: DataGraph, XID: p.xids.Next(), Payload: payload}
	if target != "" {
		msg.Routes = []string{target}
	}

	p.mu.RLock()
	publish := p.publish
	p.mu.RUnlock()
	if publish == nil {
		return nil
	}
	for _, name := range p.outputs {
		out := msg.Clone()
		out.Channel = name
		publish(name, out)
		p.metrics.Sent(name)
	}
	return nil
}

// OnConnect runs the catch-up hook for a peer that joined channels.
func (p *Proxy) OnConnect(peer string, channels []string) {
	for _, name := range channels {
		p.metrics.Connected(name)
	}
	p.mu.RLock()
	hook := p.onConnect
	p.mu.RUnlock()
	if hook == nil {
		return
	}
	p.logger.Debug("peer connected", zap.String("peer", peer), zap.Strings("channels", channels))
	hook(peer)
}

func (p *Proxy) reportError(err error) {
	p.mu.RLock()
	hook := p.onError
	p.mu.RUnlock()
	if hook != nil {
		hook(err)
		return
	}
	p.logger.Warn("channel proxy error", zap.Error(err))
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		dup := false
		for _, existing := range dst {
			if existing == n {
				dup = true
				break
			}
		}
		if !dup && n != "" {
			dst = append(dst, n)
		}
	}
	return dst
}
