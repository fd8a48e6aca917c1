// Package configtree implements the hierarchical, reactive configuration
// store at the core of the kernel: an ordered tree of named Topics
// (containers) and Topic (leaf value) nodes, with subscriber notification
// delivered in a single, globally-ordered stream so that no observer ever
// sees one branch's later state without having first seen every
// intermediate notification for a branch it happened-after.
package configtree

import (
	"strings"
	"sync/atomic"
)

// Tree is the root of a configuration tree. All lookups and mutations
// funnel through it so it can hand out a single shared publishQueue and a
// monotonic logical clock (NextModTime) used when the caller has no
// externally-supplied modtime (e.g. programmatic SetValue calls, as
// opposed to transaction-log replay, which carries its own timestamps).
type Tree struct {
	root  *Topics
	pub   *publishQueue
	clock int64
}

// New returns an empty Tree.
func New() *Tree {
	t := &Tree{pub: newPublishQueue()}
	t.root = newTopics(t, "", nil, 0)
	return t
}

// Root returns the tree's root Topics node.
func (t *Tree) Root() *Topics {
	return t.root
}

// NextModTime returns a fresh, strictly increasing logical timestamp. It
// is monotonic within a process but carries no wall-clock meaning;
// transaction log replay instead reuses the modtime recorded at the time
// each entry was originally written.
func (t *Tree) NextModTime() int64 {
	return atomic.AddInt64(&t.clock, 1)
}

// Drain blocks until every notification enqueued before this call has
// been delivered. Tests use this to make subscriber-observed ordering
// deterministic without sleeping.
func (t *Tree) Drain() {
	t.pub.drain()
}

// Close stops the tree's publish-queue consumer once it empties.
func (t *Tree) Close() {
	t.pub.close()
}

// splitPath splits a "/"-joined dotted path into its segments, ignoring
// leading/trailing/duplicate slashes.
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// LookupTopics resolves (creating any missing interior nodes) the Topics
// at the given "/"-separated path relative to the root.
func (t *Tree) LookupTopics(path string) (*Topics, error) {
	return t.lookupTopicsSegs(splitPath(path), t.NextModTime())
}

func (t *Tree) lookupTopicsSegs(segs []string, modtime int64) (*Topics, error) {
	cur := t.root
	for _, seg := range segs {
		next, err := cur.lookupTopicsChild(seg, modtime)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// LookupTopic resolves (creating any missing interior nodes and the leaf
// itself) the Topic at the given "/"-separated path relative to the root.
func (t *Tree) LookupTopic(path string) (*Topic, error) {
	segs := splitPath(path)
	modtime := t.NextModTime()
	if len(segs) == 0 {
		return nil, errEmptyPath
	}
	parent, err := t.lookupTopicsSegs(segs[:len(segs)-1], modtime)
	if err != nil {
		return nil, err
	}
	return parent.lookupTopicChild(segs[len(segs)-1], modtime)
}

// Find returns the existing Node at path, or nil if any segment is
// missing. Unlike LookupTopic/LookupTopics it never creates nodes.
func (t *Tree) Find(path string) Node {
	segs := splitPath(path)
	var cur Node = t.root
	for _, seg := range segs {
		topics, ok := cur.(*Topics)
		if !ok {
			return nil
		}
		cur = topics.Get(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// SetValue resolves path (creating missing nodes) and applies value at a
// freshly allocated modtime. It is the convenience entry point for
// programmatic writers; replay from a transaction log instead calls
// Topic.SetValue directly with the recorded modtime.
func (t *Tree) SetValue(path string, value Any) error {
	topic, err := t.LookupTopic(path)
	if err != nil {
		return err
	}
	topic.SetValue(t.NextModTime(), value)
	return nil
}

// Remove detaches the node at path from its parent, if present.
func (t *Tree) Remove(path string) {
	t.removeAt(path, t.NextModTime())
}

// removeAt is Remove with an explicit modtime, so tlog replay can apply a
// recorded Remove entry at the modtime it was originally logged at rather
// than allocating a fresh one.
func (t *Tree) removeAt(path string, modtime int64) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return
	}
	parentNode := t.Find(strings.Join(segs[:len(segs)-1], "/"))
	parent, ok := parentNode.(*Topics)
	if parentNode == nil {
		parent = t.root
		ok = true
	}
	if !ok {
		return
	}
	parent.remove(segs[len(segs)-1], modtime)
}

// MergeMap applies a nested map[string]Any onto the tree rooted at path,
// MERGE semantics: existing keys not present in m are left untouched,
// existing keys present in m are overwritten (recursively for nested
// maps), and keys absent from the existing tree are created. This is how
// config.yaml and tlog replay both populate the tree, and how a
// ConfigurationWriter stages a whole-subtree update atomically with
// respect to publish-queue ordering (every leaf SetValue in the merge
// still gets its own notification, in the iteration order of m, which Go
// leaves unspecified).
func (t *Tree) MergeMap(path string, m map[string]Any) error {
	modtime := t.NextModTime()
	topics, err := t.lookupTopicsSegs(splitPath(path), modtime)
	if err != nil {
		return err
	}
	return mergeInto(topics, m, modtime)
}

func mergeInto(topics *Topics, m map[string]Any, modtime int64) error {
	for k, v := range m {
		if nested, ok := v.(map[string]Any); ok {
			child, err := topics.lookupTopicsChild(k, modtime)
			if err != nil {
				return err
			}
			if err := mergeInto(child, nested, modtime); err != nil {
				return err
			}
			continue
		}
		child, err := topics.lookupTopicChild(k, modtime)
		if err != nil {
			return err
		}
		child.SetValue(modtime, v)
	}
	return nil
}

// ReplaceMap is identical to MergeMap except any existing child not named
// in m is removed first, giving REPLACE rather than MERGE semantics for
// the direct children of path (nested maps below that are still merged
// key-by-key, matching the REPLACE-at-this-level/MERGE-below-it rule a
// single tlog entry encodes).
func (t *Tree) ReplaceMap(path string, m map[string]Any) error {
	modtime := t.NextModTime()
	topics, err := t.lookupTopicsSegs(splitPath(path), modtime)
	if err != nil {
		return err
	}
	for _, existing := range topics.ChildNames() {
		if _, keep := m[existing]; !keep {
			topics.remove(existing, modtime)
		}
	}
	return mergeInto(topics, m, modtime)
}
