package configtree

import "fmt"

// ChildSubscriber is notified when a Topics' child set changes structurally
// (a child added or removed), independent of any particular leaf's value.
// modtime is the logical time the structural change was applied at, so a
// Removed notification carries enough information to log a faithfully
// replayable tlog record.
type ChildSubscriber func(what WhatHappened, child Node, modtime int64)

// Topics is an interior node: an ordered mapping from child name to Node.
// Insertion order is preserved so YAML round trips reproduce the same
// child ordering, and lookup is O(1) via the backing map.
type Topics struct {
	base
	order     []string
	children  map[string]Node
	childSubs []ChildSubscriber
}

func newTopics(tree *Tree, name string, parent *Topics, modtime int64) *Topics {
	t := &Topics{
		children: make(map[string]Node),
	}
	t.tree = tree
	t.name = name
	t.parent = parent
	t.modtime = modtime
	return t
}

// Get returns the existing child named name, or nil.
func (t *Topics) Get(name string) Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.children[name]
}

// Children returns the child nodes in insertion order.
func (t *Topics) Children() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.children[name])
	}
	return out
}

// ChildNames returns the child names in insertion order.
func (t *Topics) ChildNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// SubscribeChildren registers a ChildSubscriber for structural changes.
func (t *Topics) SubscribeChildren(sub ChildSubscriber) {
	t.mu.Lock()
	t.childSubs = append(t.childSubs, sub)
	t.mu.Unlock()
}

// lookupTopicsChild returns (creating if absent) the named child as a
// Topics node. Returns an error if the existing child is a leaf Topic.
func (t *Topics) lookupTopicsChild(name string, modtime int64) (*Topics, error) {
	t.mu.Lock()
	if existing, ok := t.children[name]; ok {
		t.mu.Unlock()
		child, ok := existing.(*Topics)
		if !ok {
			return nil, fmt.Errorf("configtree: %q is a leaf topic, not a container", name)
		}
		return child, nil
	}
	child := newTopics(t.tree, name, t, modtime)
	t.children[name] = child
	t.order = append(t.order, name)
	t.mu.Unlock()
	t.touch(modtime)
	t.notifyChildren(Initialized, child, modtime)
	return child, nil
}

// lookupTopicChild returns (creating if absent) the named child as a leaf
// Topic, initialised to null. Returns an error if the existing child is a
// Topics container.
func (t *Topics) lookupTopicChild(name string, modtime int64) (*Topic, error) {
	t.mu.Lock()
	if existing, ok := t.children[name]; ok {
		t.mu.Unlock()
		child, ok := existing.(*Topic)
		if !ok {
			return nil, fmt.Errorf("configtree: %q is a container, not a leaf topic", name)
		}
		return child, nil
	}
	child := newTopic(t.tree, name, t, modtime)
	t.children[name] = child
	t.order = append(t.order, name)
	t.mu.Unlock()
	t.touch(modtime)
	t.notifyChildren(Initialized, child, modtime)
	return child, nil
}

// LookupChildTopic returns (creating if absent) the named direct child as
// a leaf Topic, initialised to null at the tree's next modtime. It is the
// exported form of lookupTopicChild for callers outside this package that
// already hold a *Topics (e.g. shellrunner locating a service's `status`
// leaf) and don't need a full path lookup from the root.
func (t *Topics) LookupChildTopic(name string) (*Topic, error) {
	return t.lookupTopicChild(name, t.tree.NextModTime())
}

// GetOrCreateLeaf returns the string value of the named child leaf,
// creating it with generate()'s result if absent. Used for values that
// must be generated once and then persist unchanged across restarts (the
// per-service SVCUID).
func (t *Topics) GetOrCreateLeaf(name string, generate func() string) (string, error) {
	t.mu.RLock()
	existing, ok := t.children[name]
	t.mu.RUnlock()
	if ok {
		topic, ok := existing.(*Topic)
		if !ok {
			return "", fmt.Errorf("configtree: %q is a container, not a leaf topic", name)
		}
		if s, ok := topic.Value().(string); ok && s != "" {
			return s, nil
		}
	}

	topic, err := t.lookupTopicChild(name, t.tree.NextModTime())
	if err != nil {
		return "", err
	}
	if s, ok := topic.Value().(string); ok && s != "" {
		return s, nil
	}
	value := generate()
	topic.SetValue(t.tree.NextModTime(), value)
	return value, nil
}

// SetLeafValue resolves (creating if absent) the named direct child as a
// leaf Topic and sets its value at the tree's next modtime. Convenience
// for callers outside this package that want a single call rather than
// LookupChildTopic followed by SetValue.
func (t *Topics) SetLeafValue(name string, value Any) error {
	topic, err := t.lookupTopicChild(name, t.tree.NextModTime())
	if err != nil {
		return err
	}
	topic.SetValue(t.tree.NextModTime(), value)
	return nil
}

// remove detaches the named child, notifying child subscribers.
func (t *Topics) remove(name string, modtime int64) {
	t.mu.Lock()
	child, ok := t.children[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.children, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if b, ok := child.(interface{ detach() }); ok {
		b.detach()
	}
	t.touch(modtime)
	t.notifyChildren(Removed, child, modtime)
}

func (t *Topics) notifyChildren(what WhatHappened, child Node, modtime int64) {
	t.mu.RLock()
	subs := make([]ChildSubscriber, len(t.childSubs))
	copy(subs, t.childSubs)
	t.mu.RUnlock()
	if len(subs) == 0 {
		return
	}
	t.tree.pub.enqueue(func() {
		for _, sub := range subs {
			sub(what, child, modtime)
		}
	})
}
