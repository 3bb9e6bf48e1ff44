package notify

import (
	"context"
	"sync"
)

// Local is an in-process Broker.
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan Change
	once sync.Once
}

func NewLocal() *Local {
	return &Local{subs: make(map[string]map[*localSub]struct{})}
}

func (b *Local) Publish(_ context.Context, change Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs[change.ListID] {
		deliver(s.ch, change)
	}
	return nil
}

// deliver never blocks. When the buffer is full the oldest pending change is
// dropped in favour of the newest one.
func deliver(ch chan Change, change Change) {
	select {
	case ch <- change:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- change:
	default:
	}
}

func (b *Local) Subscribe(listID string) (<-chan Change, func()) {
	s := &localSub{ch: make(chan Change, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	if b.subs[listID] == nil {
		b.subs[listID] = make(map[*localSub]struct{})
	}
	b.subs[listID][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[listID]; ok {
			if _, ok := set[s]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(b.subs, listID)
				}
				s.once.Do(func() { close(s.ch) })
			}
		}
	}
	return s.ch, cancel
}

// Subscribers returns the number of live subscriptions for listID.
func (b *Local) Subscribers(listID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[listID])
}

func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	b.subs = make(map[string]map[*localSub]struct{})
	return nil
}
