package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"graphstack/pkg/graph"
)

// SaveOptions configures callback delivery for an asynchronous save.
// Nil queues default to the stack's main queue.
type SaveOptions struct {
	SuccessQueue *Queue
	FailureQueue *Queue
}

// continuation is a single-fire result handle carrying explicit delivery
// queues. Exactly one of succeed/fail takes effect, at most once, per
// request; the synchronous variants block on it with inline delivery.
type continuation struct {
	once     sync.Once
	successQ *Queue // nil delivers inline on the completing goroutine
	failureQ *Queue

	stack *Stack
	op    string
	start time.Time
	span  TraceSpan
}

func (s *Stack) newContinuation(op string, successQ, failureQ *Queue, inline bool) *continuation {
	if !inline {
		if successQ == nil {
			successQ = s.main.queue
		}
		if failureQ == nil {
			failureQ = s.main.queue
		}
	}
	return &continuation{
		successQ: successQ,
		failureQ: failureQ,
		stack:    s,
		op:       op,
		start:    time.Now(),
		span:     s.startSpan(op),
	}
}

func (k *continuation) succeed(fn func()) {
	k.once.Do(func() {
		k.span.End(nil)
		k.stack.observe(k.op, true, k.start)
		if fn == nil {
			return
		}
		if k.successQ == nil {
			fn()
			return
		}
		k.successQ.Async(fn)
	})
}

func (k *continuation) fail(err error, fn func(error)) {
	k.once.Do(func() {
		k.span.End(err)
		k.stack.observe(k.op, false, k.start)
		if fn == nil {
			return
		}
		if k.failureQ == nil {
			fn(err)
			return
		}
		k.failureQ.Async(func() { fn(err) })
	})
}

// Save asynchronously propagates this context's staged changes up the
// ancestor chain to the root, which commits them to the storage engine.
// Control returns immediately; exactly one of the continuations fires later
// on the configured queue (default: the stack's main queue).
func (c *Context) Save(opts SaveOptions, onSuccess func(), onFailure func(error)) {
	cont := c.stack.newContinuation(opSave, opts.SuccessQueue, opts.FailureQueue, false)
	c.stack.saveHop(c, nil, cont, onSuccess, onFailure, nil)
}

// SaveAndWait blocks the calling goroutine until the full ancestor chain
// resolves. The actual work still runs on the owning queues; must not be
// called from an operation running on a queue that participates in the
// chain.
func (c *Context) SaveAndWait() error {
	errc := make(chan error, 1)
	cont := c.stack.newContinuation(opSave, nil, nil, true)
	c.stack.saveHop(c, nil, cont, func() { errc <- nil }, func(err error) { errc <- err }, nil)
	return <-errc
}

// saveHop performs one level of the save ascent on the target context's own
// queue: merge the descendant changeset, obtain durable identifiers when the
// policy (or root terminality) requires it, commit locally, then either hand
// the changeset to the parent queue or, at the root, commit to the engine.
func (s *Stack) saveHop(target *Context, incoming []graph.Change, cont *continuation, onSuccess func(), onFailure func(error), committedBelow []string) {
	target.queue.Async(func() {
		if !target.IsRoot() && target.Parent() == nil {
			err := graph.LocalSaveError{Context: target.name, Err: fmt.Errorf("no ancestor chain to an engine-bound root")}
			cont.fail(ascentError(err, target.name, committedBelow), onFailure)
			return
		}
		if incoming != nil {
			target.applyChangeset(incoming)
		}
		target.dropCancelledInserts()

		// Identifier promotion: early per policy, unconditionally at the
		// root so no temporary identifier ever reaches the engine.
		if target.ObtainsPermanentIDsBeforeSave() || target.IsRoot() {
			if inserts := target.temporaryInserts(); len(inserts) > 0 {
				mapping, err := s.assignDurableIDs(target, inserts)
				if err != nil {
					wrapped := graph.PermanentIDError{Context: target.name, Err: err}
					cont.fail(ascentError(wrapped, target.name, committedBelow), onFailure)
					return
				}
				target.promote(mapping)
			}
		}

		changes, err := target.commitLocal()
		if err != nil {
			wrapped := graph.LocalSaveError{Context: target.name, Err: err}
			cont.fail(ascentError(wrapped, target.name, committedBelow), onFailure)
			return
		}

		if target.IsRoot() {
			if err := target.engine.Commit(context.Background(), target.name, changes); err != nil {
				wrapped := graph.LocalSaveError{Context: target.name, Err: err}
				cont.fail(ascentError(wrapped, target.name, committedBelow), onFailure)
				return
			}
			// Root did-save notifications arrive via the engine's commit
			// event stream, not inline here.
			cont.succeed(onSuccess)
			return
		}

		target.notifyDidSave(changes)

		below := make([]string, 0, len(committedBelow)+1)
		below = append(below, committedBelow...)
		below = append(below, target.name)
		s.saveHop(target.Parent(), changes, cont, onSuccess, onFailure, below)
	})
}

// ascentError surfaces a hop failure as-is when no descendant had committed
// locally yet, or as a ChainError carrying the committed descendants when
// the chain is already partially applied.
func ascentError(err error, failedAt string, committedBelow []string) error {
	if len(committedBelow) == 0 {
		return err
	}
	return graph.ChainError{FailedAt: failedAt, CommittedBelow: committedBelow, Err: err}
}

// assignDurableIDs requests durable identifiers from the storage engine.
// The engine binding lives on the root context, so non-root requests are
// dispatched synchronously through the root queue.
func (s *Stack) assignDurableIDs(target *Context, entities []graph.Entity) (map[graph.ID]graph.ID, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("stack has no storage engine")
	}
	if target.IsRoot() {
		return s.engine.AssignDurableIDs(context.Background(), entities)
	}
	var mapping map[graph.ID]graph.ID
	var err error
	s.root.queue.Sync(func() {
		mapping, err = s.engine.AssignDurableIDs(context.Background(), entities)
	})
	return mapping, err
}
