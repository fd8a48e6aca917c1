// Package ctxreg implements the kernel's process-wide dependency-injection
// registry: a Context keyed by (type tag, optional name), with at-most-once
// lazy construction and post-injection hooks.
package ctxreg

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/edged/edged/internal/configtree"
)

// Key identifies a cell in the Context: a type tag plus an optional
// instance name, so the same tag can hold several named implementations
// (e.g. multiple named Executors).
type Key struct {
	Tag  string
	Name string
}

func (k Key) String() string {
	if k.Name == "" {
		return k.Tag
	}
	return fmt.Sprintf("%s:%s", k.Tag, k.Name)
}

// Constructor builds the value for a key on first access. It receives the
// owning Context so constructors can look up their own dependencies.
type Constructor func(ctx *Context) (any, error)

// PostInjectable is the "post-inject" capability: a constructed value
// implementing this interface has PostInject called once, immediately
// after construction and before the cell is considered populated. An
// error here propagates to every waiting Get and leaves the cell empty,
// matching the spec's requirement that post-inject failure never caches a
// half-initialized value.
type PostInjectable interface {
	PostInject(ctx *Context) error
}

type cell struct {
	mu          sync.RWMutex
	value       any
	has         bool
	constructor Constructor
	building    bool
}

// Context is a process-wide registry keyed by (type-tag, name). It is safe
// for concurrent use; construction of any single key runs at most once
// even under concurrent Gets, via singleflight keyed on the key's string
// form.
type Context struct {
	mu    sync.RWMutex
	cells map[Key]*cell
	group singleflight.Group
	tree  *configtree.Tree
}

// New returns an empty Context. tree is used by notify to post
// dependency-reevaluation events onto the configuration tree's publish
// queue; it may be nil for tests that don't exercise Notify.
func New(tree *configtree.Tree) *Context {
	return &Context{cells: make(map[Key]*cell), tree: tree}
}

func (c *Context) cellFor(key Key) *cell {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.cells[key]
	if !ok {
		cl = &cell{}
		c.cells[key] = cl
	}
	return cl
}

// Put idempotently overwrites key's value, bypassing any registered
// constructor.
func (c *Context) Put(key Key, value any) {
	cl := c.cellFor(key)
	cl.mu.Lock()
	cl.value = value
	cl.has = true
	cl.mu.Unlock()
}

// Register installs a constructor for key without invoking it. A Get that
// finds an empty cell with no registered constructor returns an error.
func (c *Context) Register(key Key, ctor Constructor) {
	cl := c.cellFor(key)
	cl.mu.Lock()
	cl.constructor = ctor
	cl.mu.Unlock()
}

// Get returns key's value, constructing it if the cell is empty. Multiple
// concurrent Gets for the same empty cell block on a single constructor
// call: singleflight collapses them, so construction is at-most-once.
func (c *Context) Get(key Key) (any, error) {
	cl := c.cellFor(key)

	cl.mu.RLock()
	if cl.has {
		v := cl.value
		cl.mu.RUnlock()
		return v, nil
	}
	ctor := cl.constructor
	cl.mu.RUnlock()

	if ctor == nil {
		return nil, fmt.Errorf("ctxreg: no value or constructor registered for %s", key)
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		return c.construct(cl, key, ctor)
	})
	return v, err
}

func (c *Context) construct(cl *cell, key Key, ctor Constructor) (any, error) {
	cl.mu.Lock()
	if cl.has {
		v := cl.value
		cl.mu.Unlock()
		return v, nil
	}
	if cl.building {
		cl.mu.Unlock()
		return nil, fmt.Errorf("ctxreg: construction cycle detected at %s", key)
	}
	cl.building = true
	cl.mu.Unlock()

	value, err := ctor(c)

	cl.mu.Lock()
	cl.building = false
	if err != nil {
		cl.mu.Unlock()
		return nil, err
	}
	if pi, ok := value.(PostInjectable); ok {
		cl.mu.Unlock()
		if err := pi.PostInject(c); err != nil {
			return nil, fmt.Errorf("ctxreg: post-inject %s: %w", key, err)
		}
		cl.mu.Lock()
	}
	cl.value = value
	cl.has = true
	cl.mu.Unlock()
	return value, nil
}

// ComputeIfEmpty runs fn against key's cell only if it is currently empty,
// storing and returning whatever fn returns; if the cell is already
// populated, its existing value is returned and fn is not called. This is
// the polymorphic-lookup path: fn decides, at call time, which concrete
// implementation to construct (e.g. picking a Docker-backed vs. a shell
// service implementor based on runtime probing), which a static
// Constructor registered ahead of time cannot do.
func (c *Context) ComputeIfEmpty(key Key, fn func() (any, error)) (any, error) {
	cl := c.cellFor(key)
	cl.mu.RLock()
	if cl.has {
		v := cl.value
		cl.mu.RUnlock()
		return v, nil
	}
	cl.mu.RUnlock()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		cl.mu.Lock()
		if cl.has {
			v := cl.value
			cl.mu.Unlock()
			return v, nil
		}
		cl.mu.Unlock()

		value, err := fn()
		if err != nil {
			return nil, err
		}
		cl.mu.Lock()
		cl.value = value
		cl.has = true
		cl.mu.Unlock()
		return value, nil
	})
	return v, err
}

// ForEach visits every constructed (non-empty) cell. Iteration order is
// unspecified, matching Go's native map iteration.
func (c *Context) ForEach(visitor func(key Key, value any)) {
	c.mu.RLock()
	type kv struct {
		key Key
		cl  *cell
	}
	all := make([]kv, 0, len(c.cells))
	for k, cl := range c.cells {
		all = append(all, kv{k, cl})
	}
	c.mu.RUnlock()

	// Stable by key string purely so tests observing ForEach output
	// aren't flaky; the spec leaves order unspecified.
	sort.Slice(all, func(i, j int) bool { return all[i].key.String() < all[j].key.String() })

	for _, e := range all {
		e.cl.mu.RLock()
		has, v := e.cl.has, e.cl.value
		e.cl.mu.RUnlock()
		if has {
			visitor(e.key, v)
		}
	}
}

// Notify posts a dependency-reevaluation event naming entity onto the
// configuration tree's publish queue, so anything waiting on the tree's
// single-consumer notification stream observes it in order relative to
// every other tree event — the same ordering guarantee config changes get.
func (c *Context) Notify(entity string, state any) {
	if c.tree == nil {
		return
	}
	c.tree.Root() // ensure tree is initialized; no-op otherwise
	c.enqueue(entity, state)
}

func (c *Context) enqueue(entity string, state any) {
	// Routed through SetValue on a dedicated notifications subtree so the
	// publish queue (owned by configtree.Tree) is the single place events
	// of any kind funnel through, matching the ConfigTree's own "one
	// ordered stream" guarantee rather than introducing a second one.
	_ = c.tree.SetValue("_events/"+entity, state)
}
