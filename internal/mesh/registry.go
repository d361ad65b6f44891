package mesh

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"Meshflow/internal/core/mesherr"
	"Meshflow/internal/core/pubsub"
)

var (
	ErrConflictingType = errors.New("channel already bound to a different type")
	ErrEmptyName       = errors.New("channel name is empty")
)

// Connector is notified when a peer that consumes one of its channels joins.
type Connector interface {
	OnConnect(peer string, channels []string)
}

// Channel is a named broadcast point for envelopes.
type Channel struct {
	name     string
	typeName string
	subject  *pubsub.Subject[*Message]

	mu         sync.Mutex
	publishers []Connector
}

func newChannel(name, typeName string) *Channel {
	return &Channel{name: name, typeName: typeName, subject: pubsub.NewSubject[*Message]()}
}

func (c *Channel) Name() string     { return c.name }
func (c *Channel) TypeName() string { return c.typeName }

func (c *Channel) Publish(msg *Message) { c.subject.Publish(msg) }

func (c *Channel) Subscribe(s pubsub.Subscriber[*Message]) *pubsub.Subscription {
	return c.subject.Subscribe(s)
}

func (c *Channel) Subscribers() int { return c.subject.Len() }

// AddPublisher records p as a publisher-of-record. Repeated calls are no-ops.
func (c *Channel) AddPublisher(p Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.publishers {
		if sameConnector(existing, p) {
			return
		}
	}
	c.publishers = append(c.publishers, p)
}

func (c *Channel) Publishers() []Connector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Connector(nil), c.publishers...)
}

// Registry binds channel names to Channels. Lookups and creation are atomic.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	onError  func(error)
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// SetErrorHook receives subscriber failures on channels created afterwards.
func (r *Registry) SetErrorHook(hook func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = hook
}

// GetOrCreate returns the channel bound to name, creating it with typeName
// when absent. An existing channel whose type conflicts is a configuration
// error; the opaque type is compatible with every other type.
func (r *Registry) GetOrCreate(name, typeName string) (*Channel, bool, error) {
	if name == "" {
		return nil, false, mesherr.NewConfig("registry", "GetOrCreate", ErrEmptyName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		if !compatibleTypes(ch.typeName, typeName) {
			return nil, false, conflictError("GetOrCreate", name, ch.typeName, typeName)
		}
		return ch, false, nil
	}
	ch := newChannel(name, typeName)
	if r.onError != nil {
		ch.subject.SetErrorHook(r.onError)
	}
	r.channels[name] = ch
	return ch, true, nil
}

// Check reports the error GetOrCreate would return for name and typeName
// without creating anything.
func (r *Registry) Check(name, typeName string) error {
	if name == "" {
		return mesherr.NewConfig("registry", "Check", ErrEmptyName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok && !compatibleTypes(ch.typeName, typeName) {
		return conflictError("Check", name, ch.typeName, typeName)
	}
	return nil
}

func conflictError(op, name, have, want string) error {
	err := fmt.Errorf("%w: %s is %s, requested %s", ErrConflictingType, name, have, want)
	return mesherr.NewConfig("registry", op, err).WithChannel(name)
}

func (r *Registry) Lookup(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns the bound channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Connect notifies, once each, the publishers of every named channel that
// peer has joined. It returns the number of publishers notified.
func (r *Registry) Connect(peer string, names []string) int {
	type target struct {
		c        Connector
		channels []string
	}
	var targets []*target
	for _, name := range names {
		ch, ok := r.Lookup(name)
		if !ok {
			continue
		}
		for _, p := range ch.Publishers() {
			var t *target
			for _, existing := range targets {
				if sameConnector(existing.c, p) {
					t = existing
					break
				}
			}
			if t == nil {
				t = &target{c: p}
				targets = append(targets, t)
			}
			t.channels = append(t.channels, name)
		}
	}
	for _, t := range targets {
		t.c.OnConnect(peer, t.channels)
	}
	return len(targets)
}

func compatibleTypes(a, b string) bool {
	return a == b || a == OpaqueTypeName || b == OpaqueTypeName || a == "" || b == ""
}

func sameConnector(a, b Connector) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
