// Package event provides typed observer lists.
//
// A Topic delivers values of one type to its subscribers in registration
// order. Every subscription carries an owner so callers can ask whether a
// given component is still listening, and every subscription can be
// removed through the handle Subscribe returns.
package event

import "sync"

// Topic is a list of subscribers for events of type T.
// The zero value is ready to use.
type Topic[T any] struct {
	mu   sync.Mutex
	subs []*Subscription
	fns  map[*Subscription]func(T)
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	owner  any
	cancel func(*Subscription)
	once   sync.Once
}

// Owner returns the owner passed to Subscribe.
func (s *Subscription) Owner() any { return s.owner }

// Unsubscribe removes the subscription. Calling it more than once is a
// no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.cancel(s) })
}

// Subscribe registers fn under owner. Owner must be comparable; it is
// usually the subscribing component's pointer.
func (t *Topic[T]) Subscribe(owner any, fn func(T)) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fns == nil {
		t.fns = make(map[*Subscription]func(T))
	}
	s := &Subscription{owner: owner, cancel: t.remove}
	t.subs = append(t.subs, s)
	t.fns[s] = fn
	return s
}

func (t *Topic[T]) remove(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, cur := range t.subs {
		if cur == s {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			break
		}
	}
	delete(t.fns, s)
}

// Emit delivers v to every subscriber registered when Emit was called.
// Subscribers removed by an earlier handler in the same emission are
// skipped.
func (t *Topic[T]) Emit(v T) {
	t.mu.Lock()
	snapshot := make([]*Subscription, len(t.subs))
	copy(snapshot, t.subs)
	t.mu.Unlock()

	for _, s := range snapshot {
		t.mu.Lock()
		fn, ok := t.fns[s]
		t.mu.Unlock()
		if ok {
			fn(v)
		}
	}
}

// HasSubscriber reports whether owner holds at least one subscription.
func (t *Topic[T]) HasSubscriber(owner any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		if s.owner == owner {
			return true
		}
	}
	return false
}

// Len returns the number of live subscriptions.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Group collects subscriptions so they can be dropped together.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add records subs in the group.
func (g *Group) Add(subs ...*Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, subs...)
}

// Len returns the number of subscriptions held.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// UnsubscribeAll removes every subscription in the group and empties it.
func (g *Group) UnsubscribeAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
