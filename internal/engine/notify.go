package engine

import (
	"time"

	"graphstack/pkg/graph"
)

// Observe registers the receiver so that whenever observed completes a save,
// the committed changes are merged into the receiver's working set on the
// receiver's own queue. Registration is idempotent. The two contexts do not
// need to share a tree; observation is strictly event-driven replication of
// committed state.
func (c *Context) Observe(observed *Context) {
	if observed == nil || observed == c {
		return
	}
	observed.subMu.Lock()
	observed.subscribers[c] = struct{}{}
	observed.subMu.Unlock()
}

// StopObserving removes a registration made with Observe. No-op when not
// registered.
func (c *Context) StopObserving(observed *Context) {
	if observed == nil {
		return
	}
	observed.subMu.Lock()
	delete(observed.subscribers, c)
	observed.subMu.Unlock()
}

// notifyDidSave fans a completed save out to this context's subscribers.
// Each merge is dispatched onto the observer's own queue with a cloned
// changeset; nothing runs on the saving context's queue and no references
// are shared.
func (c *Context) notifyDidSave(changes []graph.Change) {
	if len(changes) == 0 {
		return
	}
	c.subMu.Lock()
	observers := make([]*Context, 0, len(c.subscribers))
	for obs := range c.subscribers {
		observers = append(observers, obs)
	}
	c.subMu.Unlock()

	for _, obs := range observers {
		merged := graph.CloneChanges(changes)
		target := obs
		start := time.Now()
		target.queue.Async(func() {
			target.mergeCommitted(merged)
			target.stack.observeMerge(start)
		})
	}
}
