package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"graphstack/pkg/graph"
)

// Validator inspects a changeset before a context's local save commits.
// Returning an error aborts the save at that context.
type Validator func(changes []graph.Change) error

// Context is a queue-affine handle over a working set of entities. Every
// context belongs to exactly one tree rooted at the single engine-bound root
// context. All working-set state is confined to the context's own queue;
// only identifiers and cloned snapshots cross context boundaries.
type Context struct {
	name   string
	queue  *Queue
	stack  *Stack
	parent int // registry handle into the stack, -1 for the root
	engine graph.StorageEngine

	obtainPermanentIDs atomic.Bool

	validatorMu sync.Mutex
	validator   Validator

	// Queue-confined: touched only from operations running on queue.
	registered map[graph.ID]graph.Entity
	pending    []graph.Change

	subMu       sync.Mutex
	subscribers map[*Context]struct{}
}

func newContext(name string, stack *Stack, parent int, engine graph.StorageEngine) *Context {
	return &Context{
		name:        name,
		queue:       NewQueue(name),
		stack:       stack,
		parent:      parent,
		engine:      engine,
		registered:  make(map[graph.ID]graph.Entity),
		subscribers: make(map[*Context]struct{}),
	}
}

// Name returns the context's unique name within its stack.
func (c *Context) Name() string { return c.name }

// Queue returns the context's serial execution queue.
func (c *Context) Queue() *Queue { return c.queue }

// Parent returns the parent context, or nil for the root. The parent link is
// a registry handle, not an owning reference.
func (c *Context) Parent() *Context {
	if c.parent < 0 {
		return nil
	}
	return c.stack.contextAt(c.parent)
}

// IsRoot reports whether this context holds the storage-engine binding.
func (c *Context) IsRoot() bool { return c.engine != nil }

// SetObtainPermanentIDsBeforeSave controls whether saves first obtain durable
// identifiers for this context's inserted entities. Affects future saves only.
func (c *Context) SetObtainPermanentIDsBeforeSave(v bool) {
	c.obtainPermanentIDs.Store(v)
}

// ObtainsPermanentIDsBeforeSave reports the current policy flag.
func (c *Context) ObtainsPermanentIDsBeforeSave() bool {
	return c.obtainPermanentIDs.Load()
}

// SetValidator installs a changeset validator evaluated at local-save time.
func (c *Context) SetValidator(v Validator) {
	c.validatorMu.Lock()
	c.validator = v
	c.validatorMu.Unlock()
}

func (c *Context) currentValidator() Validator {
	c.validatorMu.Lock()
	defer c.validatorMu.Unlock()
	return c.validator
}

// Perform runs fn asynchronously on the context's queue.
func (c *Context) Perform(fn func()) {
	c.queue.Async(fn)
}

// PerformAndWait runs fn on the context's queue and blocks until it returns.
// Must not be called from an operation already running on this queue.
func (c *Context) PerformAndWait(fn func()) {
	c.queue.Sync(fn)
}

// Insert stages a new entity and returns its temporary identifier. The
// identifier becomes durable when a save carrying it reaches the root, or
// earlier when the permanent-ID policy is enabled. Inserting into a closed
// stack fails rather than returning a zero identifier.
func (c *Context) Insert(kind string, attrs map[string]any) (graph.ID, error) {
	if kind == "" {
		return "", fmt.Errorf("insert: kind must not be empty")
	}
	var id graph.ID
	if !c.queue.Sync(func() {
		e := graph.Entity{ID: graph.NewTemporaryID(), Kind: kind, Attributes: attrs}
		e = e.Clone()
		c.registered[e.ID] = e
		c.pending = append(c.pending, graph.Change{Action: graph.ActionInsert, Entity: e.Clone()})
		id = e.ID
	}) {
		return "", fmt.Errorf("insert: context %s is closed", c.name)
	}
	return id, nil
}

// Update stages an attribute replacement for a registered entity.
func (c *Context) Update(id graph.ID, attrs map[string]any) error {
	var err error
	if !c.queue.Sync(func() {
		current, ok := c.registered[id]
		if !ok {
			err = graph.NotFoundError{ID: id}
			return
		}
		updated := graph.Entity{ID: id, Kind: current.Kind, Attributes: attrs}.Clone()
		c.registered[id] = updated
		c.pending = append(c.pending, graph.Change{Action: graph.ActionUpdate, Entity: updated.Clone()})
	}) {
		return fmt.Errorf("update: context %s is closed", c.name)
	}
	return err
}

// Delete stages removal of a registered entity.
func (c *Context) Delete(id graph.ID) error {
	var err error
	if !c.queue.Sync(func() {
		current, ok := c.registered[id]
		if !ok {
			err = graph.NotFoundError{ID: id}
			return
		}
		delete(c.registered, id)
		c.pending = append(c.pending, graph.Change{Action: graph.ActionDelete, Entity: graph.Entity{ID: id, Kind: current.Kind}})
	}) {
		return fmt.Errorf("delete: context %s is closed", c.name)
	}
	return err
}

// Get returns a cloned snapshot of a registered entity.
func (c *Context) Get(id graph.ID) (graph.Entity, bool) {
	var e graph.Entity
	var ok bool
	c.queue.Sync(func() {
		var cur graph.Entity
		cur, ok = c.registered[id]
		if ok {
			e = cur.Clone()
		}
	})
	return e, ok
}

// HasChanges reports whether the context holds staged, unsaved changes.
func (c *Context) HasChanges() bool {
	var dirty bool
	c.queue.Sync(func() {
		dirty = len(c.pending) > 0
	})
	return dirty
}

// RegisteredCount reports the size of the working set.
func (c *Context) RegisteredCount() int {
	var n int
	c.queue.Sync(func() {
		n = len(c.registered)
	})
	return n
}

// --- queue-confined helpers; callers must already be on c.queue ---

// temporaryInserts returns the registered entities still carrying temporary
// identifiers.
func (c *Context) temporaryInserts() []graph.Entity {
	var out []graph.Entity
	for _, ch := range c.pending {
		if ch.Action == graph.ActionInsert && ch.Entity.ID.Temporary() {
			if e, ok := c.registered[ch.Entity.ID]; ok {
				out = append(out, e.Clone())
			}
		}
	}
	return out
}

// dropCancelledInserts removes staged insert/delete pairs on the same
// temporary identifier: an entity inserted and deleted within one save window
// never existed as far as ancestors or the engine are concerned. Any updates
// staged between the pair go with it.
func (c *Context) dropCancelledInserts() {
	inserted := make(map[graph.ID]struct{})
	var cancelled map[graph.ID]struct{}
	for _, ch := range c.pending {
		if !ch.Entity.ID.Temporary() {
			continue
		}
		switch ch.Action {
		case graph.ActionInsert:
			inserted[ch.Entity.ID] = struct{}{}
		case graph.ActionDelete:
			if _, ok := inserted[ch.Entity.ID]; ok {
				if cancelled == nil {
					cancelled = make(map[graph.ID]struct{})
				}
				cancelled[ch.Entity.ID] = struct{}{}
			}
		}
	}
	if len(cancelled) == 0 {
		return
	}
	kept := c.pending[:0]
	for _, ch := range c.pending {
		if _, ok := cancelled[ch.Entity.ID]; ok {
			continue
		}
		kept = append(kept, ch)
	}
	c.pending = kept
}

// promote rewrites temporary identifiers to their durable counterparts in
// the working set and the staged changes. Identifiers absent from the
// mapping, and already-durable identifiers, are left untouched.
func (c *Context) promote(mapping map[graph.ID]graph.ID) {
	if len(mapping) == 0 {
		return
	}
	for tmp, durable := range mapping {
		if e, ok := c.registered[tmp]; ok {
			delete(c.registered, tmp)
			e.ID = durable
			c.registered[durable] = e
		}
	}
	for i := range c.pending {
		if durable, ok := mapping[c.pending[i].Entity.ID]; ok {
			c.pending[i].Entity.ID = durable
		}
	}
}

// applyChangeset merges an ascending changeset into the working set and
// stages it for this context's own local save.
func (c *Context) applyChangeset(changes []graph.Change) {
	for _, ch := range changes {
		cloned := ch.Clone()
		switch cloned.Action {
		case graph.ActionDelete:
			delete(c.registered, cloned.Entity.ID)
		default:
			c.registered[cloned.Entity.ID] = cloned.Entity
		}
		c.pending = append(c.pending, cloned)
	}
}

// commitLocal validates and clears the staged changes, returning them as a
// context-free changeset for the next hop. After commitLocal the context no
// longer reports unsaved changes even though durability is only decided at
// the root.
func (c *Context) commitLocal() ([]graph.Change, error) {
	if v := c.currentValidator(); v != nil {
		if err := v(c.pending); err != nil {
			return nil, err
		}
	}
	changes := c.pending
	c.pending = nil
	return changes, nil
}

// mergeCommitted folds another context's committed changes into the working
// set without staging them; used by the notification bridge.
func (c *Context) mergeCommitted(changes []graph.Change) {
	for _, ch := range changes {
		switch ch.Action {
		case graph.ActionDelete:
			delete(c.registered, ch.Entity.ID)
		default:
			c.registered[ch.Entity.ID] = ch.Entity.Clone()
		}
	}
}
