package pubsub

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrSubscriberPanic wraps a value recovered from a panicking subscriber.
var ErrSubscriberPanic = errors.New("subscriber panicked")

// Subscriber receives values published on a Subject.
type Subscriber[T any] interface {
	OnNext(v T) error
}

// Publisher hands values to every current subscriber.
type Publisher[T any] interface {
	Publish(v T)
}

// Observable accepts subscribers.
type Observable[T any] interface {
	Subscribe(s Subscriber[T]) *Subscription
}

type funcSubscriber[T any] struct {
	fn func(T) error
}

func (f *funcSubscriber[T]) OnNext(v T) error { return f.fn(v) }

// Func adapts fn to a Subscriber. Every call returns a distinct subscriber.
func Func[T any](fn func(T) error) Subscriber[T] {
	return &funcSubscriber[T]{fn: fn}
}

// Subscription is the token handed back by Subscribe.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Unsubscribe removes the subscriber the token was issued for. Safe to call
// more than once and on a nil token.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.remove != nil {
			s.remove()
		}
	})
}

// Subject is an in-process broadcast list. Subscribing the same subscriber
// twice is a no-op; Publish fans out over a snapshot of the list.
type Subject[T any] struct {
	mu      sync.RWMutex
	subs    []*entry[T]
	onError func(error)
}

// entry is one registration. Tokens remove by entry, so subscribers whose
// dynamic type is not comparable can still be removed.
type entry[T any] struct {
	sub Subscriber[T]
}

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// SetErrorHook installs the callback that receives subscriber failures.
func (s *Subject[T]) SetErrorHook(hook func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = hook
}

func (s *Subject[T]) Subscribe(sub Subscriber[T]) *Subscription {
	if sub == nil {
		return &Subscription{}
	}
	s.mu.Lock()
	e := s.findLocked(sub)
	if e == nil {
		e = &entry[T]{sub: sub}
		s.subs = append(s.subs, e)
	}
	s.mu.Unlock()
	return &Subscription{remove: func() { s.unsubscribe(e) }}
}

// Publish notifies subscribers in registration order. A failing subscriber
// is reported to the error hook and does not stop the fan-out.
func (s *Subject[T]) Publish(v T) {
	s.mu.RLock()
	snapshot := append([]*entry[T](nil), s.subs...)
	hook := s.onError
	s.mu.RUnlock()

	for _, e := range snapshot {
		if err := deliver(e.sub, v); err != nil && hook != nil {
			hook(err)
		}
	}
}

// Len reports the number of registered subscribers.
func (s *Subject[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Subject[T]) unsubscribe(e *entry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subs {
		if existing == e {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// findLocked returns the registration of sub, if any. Subscribers that are
// not comparable never match, so each of their Subscribe calls registers anew.
func (s *Subject[T]) findLocked(sub Subscriber[T]) *entry[T] {
	for _, existing := range s.subs {
		if sameSubscriber(existing.sub, sub) {
			return existing
		}
	}
	return nil
}

func deliver[T any](sub Subscriber[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSubscriberPanic, r)
		}
	}()
	return sub.OnNext(v)
}

// sameSubscriber compares identities without panicking on subscribers whose
// dynamic type is not comparable.
func sameSubscriber[T any](a, b Subscriber[T]) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
