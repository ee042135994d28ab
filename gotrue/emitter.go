package gotrue

import (
	"sync"
	"sync/atomic"

	"github.com/aromachat/authsync/domain"
)

// emitter fans auth events out to registered callbacks. All deliveries run
// on one dispatch goroutine, so callbacks observe events serialized in
// emission order. Callbacks registered earlier are invoked earlier.
type emitter struct {
	regMu sync.Mutex
	subs  []*eventSub

	events    chan domain.AuthEvent
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newEmitter() *emitter {
	em := &emitter{
		events: make(chan domain.AuthEvent, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go em.dispatch()
	return em
}

// emit queues ev for delivery. Blocks when the queue is full rather than
// dropping: losing an auth event desynchronizes every consumer.
func (em *emitter) emit(ev domain.AuthEvent) {
	select {
	case em.events <- ev:
	case <-em.quit:
	}
}

func (em *emitter) subscribe(cb func(domain.AuthEvent)) *eventSub {
	s := &eventSub{em: em, cb: cb}
	s.live.Store(true)
	em.regMu.Lock()
	em.subs = append(em.subs, s)
	em.regMu.Unlock()
	return s
}

// close stops the dispatch goroutine and waits for it to exit. Queued but
// undelivered events are discarded.
func (em *emitter) close() {
	em.closeOnce.Do(func() { close(em.quit) })
	<-em.done
}

func (em *emitter) dispatch() {
	defer close(em.done)
	for {
		select {
		case ev := <-em.events:
			em.deliver(ev)
		case <-em.quit:
			return
		}
	}
}

func (em *emitter) deliver(ev domain.AuthEvent) {
	em.regMu.Lock()
	snapshot := make([]*eventSub, len(em.subs))
	copy(snapshot, em.subs)
	em.regMu.Unlock()

	// Callbacks run outside regMu so they may subscribe or unsubscribe
	// without deadlocking.
	for _, s := range snapshot {
		if s.live.Load() {
			s.cb(ev)
		}
	}
}

// eventSub implements domain.EventSubscription.
type eventSub struct {
	em   *emitter
	cb   func(domain.AuthEvent)
	live atomic.Bool
}

func (s *eventSub) Unsubscribe() {
	if !s.live.CompareAndSwap(true, false) {
		return
	}
	s.em.regMu.Lock()
	defer s.em.regMu.Unlock()
	for i, cur := range s.em.subs {
		if cur == s {
			s.em.subs = append(s.em.subs[:i], s.em.subs[i+1:]...)
			break
		}
	}
}
