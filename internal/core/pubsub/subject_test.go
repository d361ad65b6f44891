package pubsub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type counter struct {
	mu   sync.Mutex
	seen []int
}

func (c *counter) OnNext(v int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, v)
	return nil
}

func (c *counter) values() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.seen...)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	s := NewSubject[int]()
	c := &counter{}

	first := s.Subscribe(c)
	second := s.Subscribe(c)
	require.Equal(t, 1, s.Len())

	s.Publish(1)
	assert.Equal(t, []int{1}, c.values())

	second.Unsubscribe()
	s.Publish(2)
	assert.Equal(t, []int{1}, c.values())

	first.Unsubscribe()
	assert.Zero(t, s.Len())
}

func TestUnsubscribeRemovesOnlyThatSubscriber(t *testing.T) {
	s := NewSubject[int]()
	a, b := &counter{}, &counter{}
	subA := s.Subscribe(a)
	s.Subscribe(b)

	subA.Unsubscribe()
	subA.Unsubscribe()
	s.Publish(7)

	assert.Empty(t, a.values())
	assert.Equal(t, []int{7}, b.values())
}

func TestPublishInRegistrationOrder(t *testing.T) {
	s := NewSubject[string]()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		s.Subscribe(Func(func(string) error {
			order = append(order, name)
			return nil
		}))
	}
	s.Publish("x")
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFailingSubscriberIsIsolated(t *testing.T) {
	s := NewSubject[int]()
	var hooked []error
	s.SetErrorHook(func(err error) { hooked = append(hooked, err) })

	boom := errors.New("boom")
	s.Subscribe(Func(func(int) error { return boom }))
	s.Subscribe(Func(func(int) error { panic("kaboom") }))
	tail := &counter{}
	s.Subscribe(tail)

	s.Publish(3)

	assert.Equal(t, []int{3}, tail.values())
	require.Len(t, hooked, 2)
	assert.ErrorIs(t, hooked[0], boom)
	assert.ErrorIs(t, hooked[1], ErrSubscriberPanic)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	s := NewSubject[int]()
	s.Publish(1)
	var nilToken *Subscription
	nilToken.Unsubscribe()
}

func TestConcurrentSubscribeDuringPublish(t *testing.T) {
	s := NewSubject[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Publish(j)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := s.Subscribe(&counter{})
				sub.Unsubscribe()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, s.Len())
}

func TestEachSubscriberNotifiedOncePerPublish(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "subscribers")
		repeats := rapid.SliceOfN(rapid.IntRange(1, 4), n, n).Draw(rt, "repeats")
		publishes := rapid.IntRange(0, 20).Draw(rt, "publishes")

		s := NewSubject[int]()
		subs := make([]*counter, n)
		for i := range subs {
			subs[i] = &counter{}
			for r := 0; r < repeats[i]; r++ {
				s.Subscribe(subs[i])
			}
		}
		for p := 0; p < publishes; p++ {
			s.Publish(p)
		}
		for _, c := range subs {
			require.Len(rt, c.values(), publishes)
		}
	})
}

// taggedSub is a value subscriber whose dynamic type is not comparable.
type taggedSub struct {
	tags []string
	hits *int
}

func (s taggedSub) OnNext(int) error {
	*s.hits++
	return nil
}

func TestUnsubscribeNonComparableSubscriber(t *testing.T) {
	s := NewSubject[int]()
	hits := 0
	sub := s.Subscribe(taggedSub{tags: []string{"x"}, hits: &hits})
	require.Equal(t, 1, s.Len())

	s.Publish(1)
	sub.Unsubscribe()
	s.Publish(2)

	assert.Equal(t, 1, hits)
	assert.Zero(t, s.Len())
}
