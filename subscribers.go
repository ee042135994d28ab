package authsync

import (
	"sync"
	"sync/atomic"
)

// Subscription is a live registration on an observable. Unsubscribe is
// idempotent and safe to call from inside a notification callback.
type Subscription interface {
	Unsubscribe()
}

// subscriberList delivers values to callbacks in subscription order. A
// callback added while a notification is in flight is not called for that
// notification; one unsubscribed mid-flight is skipped.
type subscriberList[T any] struct {
	mu   sync.Mutex
	subs []*subscriber[T]
}

type subscriber[T any] struct {
	list *subscriberList[T]
	cb   func(T)
	live atomic.Bool
}

func (l *subscriberList[T]) add(cb func(T)) *subscriber[T] {
	s := &subscriber[T]{list: l, cb: cb}
	s.live.Store(true)
	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()
	return s
}

func (l *subscriberList[T]) notify(v T) {
	l.mu.Lock()
	snapshot := make([]*subscriber[T], len(l.subs))
	copy(snapshot, l.subs)
	l.mu.Unlock()

	for _, s := range snapshot {
		if s.live.Load() {
			s.cb(v)
		}
	}
}

func (s *subscriber[T]) Unsubscribe() {
	if !s.live.CompareAndSwap(true, false) {
		return
	}
	s.list.mu.Lock()
	defer s.list.mu.Unlock()
	for i, cur := range s.list.subs {
		if cur == s {
			s.list.subs = append(s.list.subs[:i], s.list.subs[i+1:]...)
			break
		}
	}
}
