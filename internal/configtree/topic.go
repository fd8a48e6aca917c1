package configtree

import "sync"

// Validator inspects a candidate value before it is stored. Returning
// ok=false rejects the value — the previous value is retained and
// subscribers are not notified. Returning ok=true may also coerce the
// value (e.g. clamp, normalize case).
type Validator func(newValue Any) (coerced Any, ok bool)

// Subscriber observes a single Topic. what distinguishes the first
// delivery (Initialized, fired synchronously on Subscribe) from ongoing
// Changed/Removed notifications. value is the value associated with this
// particular notification — not necessarily the topic's current value, so
// that a burst of updates delivered to a plain subscriber is still
// observed in order (see BatchedSubscriber for the coalescing variant).
type Subscriber func(what WhatHappened, topic *Topic, value Any)

// scheduler is the internal interface both plain subscriber funcs and
// BatchedSubscriber implement so Topic.dispatch can treat them uniformly.
type scheduler interface {
	schedule(pq *publishQueue, what WhatHappened, topic *Topic, value Any)
}

// plainSub delivers every notification, each as its own publish-queue job,
// carrying the value snapshot observed at enqueue time.
type plainSub struct {
	fn Subscriber
}

func (p plainSub) schedule(pq *publishQueue, what WhatHappened, topic *Topic, value Any) {
	pq.enqueue(func() {
		p.fn(what, topic, value)
	})
}

// Topic is a leaf node holding a single Any value.
type Topic struct {
	base
	value       Any
	validator   Validator
	subs        []scheduler
	changeCount uint64
}

func newTopic(tree *Tree, name string, parent *Topics, modtime int64) *Topic {
	t := &Topic{}
	t.tree = tree
	t.name = name
	t.parent = parent
	t.modtime = modtime
	return t
}

// Value returns the topic's current value.
func (t *Topic) Value() Any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

// SetValidator installs (or replaces) the topic's validator.
func (t *Topic) SetValidator(v Validator) {
	t.mu.Lock()
	t.validator = v
	t.mu.Unlock()
}

// SetValue applies a candidate value at the given logical modtime. A
// modtime <= the topic's current modtime with an unchanged value is a
// no-op (spec invariant: state monotonicity per modtime). The validator,
// if any, runs first; rejection leaves the previous value untouched and
// fires no notification.
func (t *Topic) SetValue(modtime int64, value Any) {
	value = normalizeNumber(value)

	t.mu.Lock()
	if modtime <= t.modtime && Equal(t.value, value) {
		t.mu.Unlock()
		return
	}

	candidate := value
	if t.validator != nil {
		coerced, ok := t.validator(value)
		if !ok {
			t.mu.Unlock()
			return
		}
		candidate = coerced
	}

	if modtime <= t.modtime && Equal(t.value, candidate) {
		t.mu.Unlock()
		return
	}

	t.value = candidate
	if modtime > t.modtime {
		t.modtime = modtime
	}
	t.changeCount++
	subs := make([]scheduler, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	bumpParentChain(t, modtime)

	for _, s := range subs {
		s.schedule(t.tree.pub, Changed, t, candidate)
	}
}

// Subscribe registers sub. If the topic already holds a non-null value,
// sub is called once, synchronously, with Initialized before Subscribe
// returns. Every subsequent accepted change is delivered through the
// publish queue.
func (t *Topic) Subscribe(sub Subscriber) {
	t.subscribeScheduler(plainSub{fn: sub})
}

// SubscribeBatched registers a BatchedSubscriber: a burst of changes
// arriving before the publish queue drains coalesces into a single
// callback observing the topic's value at delivery time.
func (t *Topic) SubscribeBatched(fn Subscriber) *BatchedSubscriber {
	b := &BatchedSubscriber{fn: fn}
	t.subscribeScheduler(b)
	return b
}

func (t *Topic) subscribeScheduler(s scheduler) {
	t.mu.Lock()
	t.subs = append(t.subs, s)
	value := t.value
	t.mu.Unlock()

	if value != nil {
		// Initialized fires synchronously, outside the publish queue,
		// matching the "subscriber receives (Initialized, value)
		// synchronously" scenario (S2 in the source spec).
		if ps, ok := s.(plainSub); ok {
			ps.fn(Initialized, t, value)
		} else if b, ok := s.(*BatchedSubscriber); ok {
			b.fn(Initialized, t, value)
		}
	}
}

// UnsubscribeBatched removes a subscriber previously registered with
// SubscribeBatched. Plain subscribers registered with Subscribe cannot be
// compared by value (Go forbids comparing funcs), so there is no
// corresponding Unsubscribe for them; callers that need to stop listening
// should use SubscribeBatched and this method.
func (t *Topic) UnsubscribeBatched(b *BatchedSubscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.subs {
		if existing, ok := existing.(*BatchedSubscriber); ok && existing == b {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// BatchedSubscriber coalesces a burst of Changed notifications arriving
// on the publish queue before it drains into a single callback. Internally
// it tracks whether a delivery job is already scheduled; additional
// notifications that arrive while one is pending are absorbed, and the
// eventual callback observes the topic's value at delivery time (not the
// value that triggered scheduling).
type BatchedSubscriber struct {
	fn     Subscriber
	mu     sync.Mutex
	queued bool
}

func (b *BatchedSubscriber) schedule(pq *publishQueue, what WhatHappened, topic *Topic, _ Any) {
	b.mu.Lock()
	if b.queued {
		b.mu.Unlock()
		return
	}
	b.queued = true
	b.mu.Unlock()

	pq.enqueue(func() {
		b.mu.Lock()
		b.queued = false
		b.mu.Unlock()
		b.fn(what, topic, topic.Value())
	})
}
