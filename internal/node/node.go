// Package node hosts reactors on a transport. It maps each input channel to
// a transport topic, turns outbound envelopes into frames, and advertises
// the node's aliases so peers that consume its outputs get a catch-up.
package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Meshflow/internal/core/mesherr"
	"Meshflow/internal/core/network"
	"Meshflow/internal/core/pubsub"
	"Meshflow/internal/mesh"
	"Meshflow/internal/transform"
)

const (
	DefaultTopicPrefix      = "mesh."
	DefaultDiscoveryTopic   = "mesh.discovery"
	DefaultAnnounceInterval = 2 * time.Second
	DefaultPeerTTL          = 10 * time.Second

	DirectionInput  = "input"
	DirectionOutput = "output"
)

var (
	ErrStarted         = errors.New("node already started")
	ErrNotStarted      = errors.New("node not started")
	ErrChannelNotFound = errors.New("no such input channel")
)

// Config tunes topic naming and discovery timing. Zero values take defaults.
type Config struct {
	ID               string
	TopicPrefix      string
	DiscoveryTopic   string
	AnnounceInterval time.Duration
	PeerTTL          time.Duration
	Compress         bool
}

func (c Config) withDefaults() Config {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.DiscoveryTopic == "" {
		c.DiscoveryTopic = DefaultDiscoveryTopic
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = DefaultPeerTTL
	}
	return c
}

type Option func(*Node)

func WithLogger(l *zap.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithRegisterer registers the node's peer and frame collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(n *Node) { n.reg = reg }
}

func WithXIDSource(s mesh.XIDSource) Option {
	return func(n *Node) {
		if s != nil {
			n.xids = s
		}
	}
}

// WithErrorHook receives transport, encode and frame decode failures.
func WithErrorHook(fn func(error)) Option {
	return func(n *Node) { n.onError = fn }
}

// WithClock replaces time.Now for advertisement stamps and peer expiry.
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.now = now
		}
	}
}

// PeerInfo is what the node knows about one remote node.
type PeerInfo struct {
	ID       string    `json:"id"`
	Inputs   []string  `json:"inputs"`
	Outputs  []string  `json:"outputs"`
	Matched  []string  `json:"matched,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

type peerState struct {
	inputs    []string
	outputs   []string
	lastSeen  time.Time
	connected map[string]bool
}

// ChannelInfo describes one bound channel.
type ChannelInfo struct {
	Name        string `json:"name"`
	Direction   string `json:"direction"`
	Type        string `json:"type"`
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
	Publishers  int    `json:"publishers"`
}

// Info summarizes the node.
type Info struct {
	ID             string   `json:"id"`
	TopicPrefix    string   `json:"topic_prefix"`
	DiscoveryTopic string   `json:"discovery_topic"`
	Reactors       []string `json:"reactors"`
	Peers          int      `json:"peers"`
	Started        bool     `json:"started"`
	// ListenAddrs and TransportPeers are reported by networked transports.
	ListenAddrs    []string `json:"listen_addrs,omitempty"`
	TransportPeers []string `json:"transport_peers,omitempty"`
}

type describer interface {
	Descriptors() []transform.Descriptor
}

type addressed interface {
	ListenAddrs() []string
	ConnectedPeers() []string
}

var _ addressed = (*network.Libp2pPubSub)(nil)

type nodeMetrics struct {
	peers  prometheus.Gauge
	frames *prometheus.CounterVec
}

// Node owns the input and output registries of one process.
type Node struct {
	id        string
	cfg       Config
	transport network.PubSub
	logger    *zap.Logger
	reg       prometheus.Registerer
	metrics   nodeMetrics
	xids      mesh.XIDSource
	onError   func(error)
	now       func() time.Time

	inputs  *mesh.Registry
	outputs *mesh.Registry

	mu       sync.RWMutex
	reactors []mesh.Reactor
	peers    map[string]*peerState
	topics   map[string]func()
	ctx      context.Context
	group    *errgroup.Group
	started  bool
}

// New builds a node on transport. The node id is cfg.ID, else the
// transport's own id, else a random UUID.
func New(transport network.PubSub, cfg Config, opts ...Option) *Node {
	cfg = cfg.withDefaults()
	n := &Node{
		cfg:       cfg,
		transport: transport,
		logger:    zap.NewNop(),
		xids:      mesh.TimeOfDay{},
		now:       time.Now,
		inputs:    mesh.NewRegistry(),
		outputs:   mesh.NewRegistry(),
		peers:     make(map[string]*peerState),
		topics:    make(map[string]func()),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.id = cfg.ID
	if n.id == "" {
		if t, ok := transport.(network.Transport); ok {
			n.id = t.ID()
		}
	}
	if n.id == "" {
		n.id = uuid.NewString()
	}
	n.logger = n.logger.With(zap.String("node_id", n.id))

	f := promauto.With(n.reg)
	n.metrics = nodeMetrics{
		peers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshflow",
			Subsystem: "node",
			Name:      "peers",
			Help:      "Peers heard on the discovery topic within the TTL.",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshflow",
			Subsystem: "node",
			Name:      "frames_total",
			Help:      "Frames moved through the transport.",
		}, []string{"direction"}),
	}
	n.inputs.SetErrorHook(n.report)
	return n
}

func (n *Node) ID() string { return n.id }

// Inputs and Outputs expose the registries for inspection.
func (n *Node) Inputs() *mesh.Registry  { return n.inputs }
func (n *Node) Outputs() *mesh.Registry { return n.outputs }

// Topic is the transport topic carrying channel.
func (n *Node) Topic(channel string) string { return n.cfg.TopicPrefix + channel }

// Attach binds r's routes into the registries. On a running node the new
// input topics are subscribed and the node re-announces.
func (n *Node) Attach(r mesh.Reactor) error {
	if err := mesh.Attach(n.inputs, n.outputs, r, n.publish); err != nil {
		return fmt.Errorf("attach %s: %w", r.Name(), err)
	}
	n.mu.Lock()
	n.reactors = append(n.reactors, r)
	started := n.started
	n.mu.Unlock()
	n.logger.Info("reactor attached", zap.String("reactor", r.Name()))

	if !started {
		return nil
	}
	inputs, _ := mesh.ChannelNames(r)
	for _, name := range inputs {
		if err := n.subscribeChannel(name); err != nil {
			return err
		}
	}
	n.announce()
	return nil
}

// Start subscribes every input topic and the discovery topic, then runs
// ingestion and the announce loop until ctx ends. A failed Start leaves the
// node stopped, so it can be started again.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return ErrStarted
	}
	runCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	n.group, n.ctx, n.started = g, gctx, true
	n.mu.Unlock()

	for _, name := range n.inputs.Names() {
		if err := n.subscribeChannel(name); err != nil {
			n.abortStart(stop, g)
			return err
		}
	}
	adverts, cancel, err := n.transport.Subscribe(n.cfg.DiscoveryTopic)
	if err != nil {
		n.abortStart(stop, g)
		return mesherr.NewTransport("node", "Start", err).WithChannel(n.cfg.DiscoveryTopic)
	}
	g.Go(func() error {
		defer cancel()
		n.consume(gctx, adverts, n.handleAdvert)
		return nil
	})
	g.Go(func() error {
		n.announceLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		n.unsubscribeAll()
		stop()
		return nil
	})

	n.logger.Info("node started",
		zap.Int("inputs", n.inputs.Len()),
		zap.Int("outputs", n.outputs.Len()),
		zap.String("discovery_topic", n.cfg.DiscoveryTopic))
	n.announce()
	return nil
}

// abortStart undoes a partial Start: the topics subscribed so far are
// released and the node returns to the stopped state.
func (n *Node) abortStart(stop context.CancelFunc, g *errgroup.Group) {
	stop()
	n.unsubscribeAll()
	_ = g.Wait()
	n.mu.Lock()
	n.group, n.ctx, n.started = nil, nil, false
	n.mu.Unlock()
}

// Wait blocks until every goroutine started by Start has returned.
func (n *Node) Wait() error {
	n.mu.RLock()
	g := n.group
	n.mu.RUnlock()
	if g == nil {
		return ErrNotStarted
	}
	return g.Wait()
}

func (n *Node) subscribeChannel(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.topics[name]; ok {
		return nil
	}
	topic := n.Topic(name)
	ch, cancel, err := n.transport.Subscribe(topic)
	if err != nil {
		return mesherr.NewTransport("node", "subscribe", err).WithChannel(name)
	}
	n.topics[name] = cancel
	ctx := n.ctx
	n.group.Go(func() error {
		n.consume(ctx, ch, func(frame []byte) { n.ingest(name, frame) })
		return nil
	})
	n.logger.Debug("subscribed", zap.String("channel", name), zap.String("topic", topic))
	return nil
}

func (n *Node) unsubscribeAll() {
	n.mu.Lock()
	cancels := make([]func(), 0, len(n.topics))
	for name, cancel := range n.topics {
		cancels = append(cancels, cancel)
		delete(n.topics, name)
	}
	n.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (n *Node) consume(ctx context.Context, ch <-chan network.Message, handle func([]byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			n.metrics.frames.WithLabelValues("in").Inc()
			handle(msg.Payload)
		}
	}
}

// ingest decodes one inbound frame and hands it to the local input channel,
// unless its routes exclude this node.
func (n *Node) ingest(channel string, frame []byte) {
	msg, err := mesh.DecodeMessage(frame)
	if err != nil {
		n.report(mesherr.NewDecode("node", "ingest", err).WithChannel(channel))
		return
	}
	if !msg.RoutedTo(n.id) {
		return
	}
	ch, ok := n.inputs.Lookup(channel)
	if !ok {
		return
	}
	ch.Publish(msg)
}

// publish is the PublishFunc handed to every route.
func (n *Node) publish(channel string, msg *mesh.Message) {
	if err := n.send(channel, msg); err != nil {
		n.report(err)
	}
}

func (n *Node) send(channel string, msg *mesh.Message) error {
	msg.Service = n.id
	frame, err := msg.Encode(n.cfg.Compress)
	if err != nil {
		return mesherr.NewEncode("node", "send", err).WithChannel(channel)
	}
	if err := n.transport.Publish(n.Topic(channel), frame); err != nil {
		return mesherr.NewTransport("node", "send", err).WithChannel(channel)
	}
	n.metrics.frames.WithLabelValues("out").Inc()
	return nil
}

// Send publishes a raw JSON payload on channel's topic as if a reactor of
// this node had produced it. Routes narrow delivery to the named peers.
func (n *Node) Send(channel, payload string, routes ...string) error {
	if channel == "" {
		return mesherr.NewConfig("node", "Send", mesh.ErrEmptyName)
	}
	return n.send(channel, n.envelope(channel, payload, routes))
}

// Inject delivers a raw JSON payload straight to a local input channel,
// bypassing the transport.
func (n *Node) Inject(channel, payload string) error {
	ch, ok := n.inputs.Lookup(channel)
	if !ok {
		return mesherr.NewConfig("node", "Inject", ErrChannelNotFound).WithChannel(channel)
	}
	msg := n.envelope(channel, payload, nil)
	msg.Service = n.id
	ch.Publish(msg)
	return nil
}

func (n *Node) envelope(channel, payload string, routes []string) *mesh.Message {
	msg := &mesh.Message{
		GraphID: mesh.DataGraph,
		XID:     n.xids.Next(),
		Channel: channel,
		Payload: payload,
	}
	if len(routes) > 0 {
		msg.Routes = append([]string(nil), routes...)
	}
	return msg
}

// Watch streams the envelopes delivered to a local input channel. Envelopes
// arriving while the stream is full are skipped. The returned cancel closes
// the stream.
func (n *Node) Watch(channel string) (<-chan *mesh.Message, func(), error) {
	ch, ok := n.inputs.Lookup(channel)
	if !ok {
		return nil, nil, mesherr.NewConfig("node", "Watch", ErrChannelNotFound).WithChannel(channel)
	}
	out := make(chan *mesh.Message, 16)
	var (
		mu   sync.Mutex
		done bool
	)
	sub := ch.Subscribe(pubsub.Func(func(msg *mesh.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return nil
		}
		select {
		case out <- msg:
		default:
		}
		return nil
	}))
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			sub.Unsubscribe()
			mu.Lock()
			done = true
			close(out)
			mu.Unlock()
		})
	}
	return out, cancel, nil
}

func (n *Node) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.announce()
			n.expire()
		}
	}
}

func (n *Node) advert() *Advert {
	return &Advert{
		SentAt:  n.now(),
		NodeID:  n.id,
		Inputs:  n.inputs.Names(),
		Outputs: n.outputs.Names(),
	}
}

func (n *Node) announce() {
	frame, err := n.advert().MarshalBinary()
	if err != nil {
		n.report(mesherr.NewEncode("node", "announce", err))
		return
	}
	if err := n.transport.Publish(n.cfg.DiscoveryTopic, frame); err != nil {
		n.report(mesherr.NewTransport("node", "announce", err).WithChannel(n.cfg.DiscoveryTopic))
	}
}

// handleAdvert records a peer and connects it to every local output it
// consumes that it was not already connected to.
func (n *Node) handleAdvert(frame []byte) {
	var a Advert
	if err := a.UnmarshalBinary(frame); err != nil {
		n.report(mesherr.NewDecode("node", "advert", err).WithChannel(n.cfg.DiscoveryTopic))
		return
	}
	if a.NodeID == "" || a.NodeID == n.id {
		return
	}

	n.mu.Lock()
	p, known := n.peers[a.NodeID]
	if !known {
		p = &peerState{connected: make(map[string]bool)}
		n.peers[a.NodeID] = p
		n.metrics.peers.Set(float64(len(n.peers)))
	}
	p.inputs, p.outputs, p.lastSeen = a.Inputs, a.Outputs, n.now()
	var fresh []string
	for _, name := range a.Inputs {
		if p.connected[name] {
			continue
		}
		if _, ok := n.outputs.Lookup(name); ok {
			p.connected[name] = true
			fresh = append(fresh, name)
		}
	}
	n.mu.Unlock()

	if !known {
		n.logger.Info("peer discovered", zap.String("peer", a.NodeID), zap.Strings("inputs", a.Inputs))
		// Answer right away so the newcomer does not wait a full interval.
		n.announce()
	}
	if len(fresh) > 0 {
		notified := n.outputs.Connect(a.NodeID, fresh)
		n.logger.Debug("peer connected to outputs",
			zap.String("peer", a.NodeID), zap.Strings("channels", fresh), zap.Int("publishers", notified))
	}
}

func (n *Node) expire() {
	cutoff := n.now().Add(-n.cfg.PeerTTL)
	n.mu.Lock()
	var gone []string
	for id, p := range n.peers {
		if p.lastSeen.Before(cutoff) {
			delete(n.peers, id)
			gone = append(gone, id)
		}
	}
	n.metrics.peers.Set(float64(len(n.peers)))
	n.mu.Unlock()
	for _, id := range gone {
		n.logger.Info("peer expired", zap.String("peer", id))
	}
}

// Peers lists the live peers sorted by id.
func (n *Node) Peers() []PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]PeerInfo, 0, len(n.peers))
	for id, p := range n.peers {
		info := PeerInfo{
			ID:       id,
			Inputs:   append([]string(nil), p.inputs...),
			Outputs:  append([]string(nil), p.outputs...),
			LastSeen: p.lastSeen,
		}
		for name := range p.connected {
			info.Matched = append(info.Matched, name)
		}
		sort.Strings(info.Matched)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Channels lists input channels then output channels, each sorted by name.
func (n *Node) Channels() []ChannelInfo {
	var out []ChannelInfo
	for _, dir := range []struct {
		name string
		reg  *mesh.Registry
	}{{DirectionInput, n.inputs}, {DirectionOutput, n.outputs}} {
		for _, name := range dir.reg.Names() {
			ch, ok := dir.reg.Lookup(name)
			if !ok {
				continue
			}
			out = append(out, ChannelInfo{
				Name:        name,
				Direction:   dir.name,
				Type:        ch.TypeName(),
				Topic:       n.Topic(name),
				Subscribers: ch.Subscribers(),
				Publishers:  len(ch.Publishers()),
			})
		}
	}
	return out
}

// Transforms describes the transforms of every attached wiring engine.
func (n *Node) Transforms() []transform.Descriptor {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []transform.Descriptor
	for _, r := range n.reactors {
		if d, ok := r.(describer); ok {
			out = append(out, d.Descriptors()...)
		}
	}
	return out
}

func (n *Node) Info() Info {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, len(n.reactors))
	for i, r := range n.reactors {
		names[i] = r.Name()
	}
	info := Info{
		ID:             n.id,
		TopicPrefix:    n.cfg.TopicPrefix,
		DiscoveryTopic: n.cfg.DiscoveryTopic,
		Reactors:       names,
		Peers:          len(n.peers),
		Started:        n.started,
	}
	if a, ok := n.transport.(addressed); ok {
		info.ListenAddrs = a.ListenAddrs()
		info.TransportPeers = a.ConnectedPeers()
	}
	return info
}

func (n *Node) report(err error) {
	if err == nil {
		return
	}
	n.logger.Warn("node error", zap.Error(err))
	if n.onError != nil {
		n.onError(err)
	}
}
