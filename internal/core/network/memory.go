package network

import (
	"sync"

	"go.uber.org/zap"
)

// MemoryPubSub is a process-local transport. Several nodes sharing one
// instance form an in-memory mesh, which is how the node tests run.
type MemoryPubSub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	closed bool
	subs   map[string]map[int]chan Message
}

func NewMemoryPubSub(logger *zap.Logger) *MemoryPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryPubSub{logger: logger, subs: make(map[string]map[int]chan Message)}
}

func (m *MemoryPubSub) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for id, ch := range m.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case ch <- msg:
		default:
			m.logger.Debug("subscriber full, frame dropped", zap.String("topic", topic), zap.Int("subscriber", id))
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := m.subs[topic]; !ok {
		m.subs[topic] = make(map[int]chan Message)
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Message, subscriberBuffer)
	m.subs[topic][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if byTopic, ok := m.subs[topic]; ok {
			if sub, exists := byTopic[id]; exists {
				delete(byTopic, id)
				close(sub)
			}
			if len(byTopic) == 0 {
				delete(m.subs, topic)
			}
		}
	}
	return ch, cancel, nil
}

// Topics lists topics with at least one subscriber.
func (m *MemoryPubSub) Topics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.subs))
	for t := range m.subs {
		out = append(out, t)
	}
	return out
}

// ID is empty: nodes on a shared memory bus name themselves.
func (m *MemoryPubSub) ID() string { return "" }

// Close ends every subscription. Later calls fail with ErrClosed.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, byTopic := range m.subs {
		for _, ch := range byTopic {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}
