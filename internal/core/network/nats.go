package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSOptions configures the NATS transport.
type NATSOptions struct {
	URL           string
	ClientName    string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATSPubSub maps mesh topics onto core NATS subjects. Delivery is at most
// once, the same as the other transports.
type NATSPubSub struct {
	conn   *nats.Conn
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed bool
}

func NewNATSPubSub(opts NATSOptions, logger *zap.Logger) (*NATSPubSub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}
	p := &NATSPubSub{logger: logger.With(zap.String("nats_url", url)), subs: make(map[*nats.Subscription]struct{})}

	natsOpts := []nats.Option{
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.logger.Info("nats reconnected", zap.String("server", c.ConnectedUrl()))
		}),
	}
	if opts.ClientName != "" {
		natsOpts = append(natsOpts, nats.Name(opts.ClientName))
	}
	if opts.ReconnectWait > 0 {
		natsOpts = append(natsOpts, nats.ReconnectWait(opts.ReconnectWait))
	}
	if opts.Timeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(opts.Timeout))
	}

	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	p.conn = conn
	return p, nil
}

func (p *NATSPubSub) Publish(topic string, payload []byte) error {
	if p.conn.IsClosed() {
		return ErrClosed
	}
	return p.conn.Publish(topic, payload)
}

func (p *NATSPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrClosed
	}

	out := make(chan Message, subscriberBuffer)
	var (
		outMu sync.Mutex
		done  bool
	)
	sub, err := p.conn.Subscribe(topic, func(msg *nats.Msg) {
		outMu.Lock()
		defer outMu.Unlock()
		if done {
			return
		}
		select {
		case out <- Message{Topic: topic, Payload: append([]byte(nil), msg.Data...)}:
		default:
			p.logger.Debug("subscriber full, frame dropped", zap.String("topic", topic))
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	p.subs[sub] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, sub)
			p.mu.Unlock()
			if err := sub.Unsubscribe(); err != nil && !p.conn.IsClosed() {
				p.logger.Debug("nats unsubscribe failed", zap.String("topic", topic), zap.Error(err))
			}
			outMu.Lock()
			done = true
			close(out)
			outMu.Unlock()
		})
	}
	return out, cancel, nil
}

// ID is empty: a NATS connection does not identify the node.
func (p *NATSPubSub) ID() string { return "" }

// Close drains pending publishes and closes the connection.
func (p *NATSPubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.conn.Flush(); err != nil && !p.conn.IsClosed() {
		p.logger.Debug("nats flush failed", zap.Error(err))
	}
	p.conn.Close()
	return nil
}
