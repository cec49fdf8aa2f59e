package engine

import (
	"context"
	"fmt"

	"graphstack/pkg/graph"
)

// FetchOptions configures an asynchronous fetch. ReturnIDs skips the
// translation step and delivers identifiers; nil queues default to the
// stack's main queue.
type FetchOptions struct {
	ReturnIDs    bool
	SuccessQueue *Queue
	FailureQueue *Queue
}

// FetchResult is the outcome of a fetch: identifiers when ReturnIDs was set,
// materialized entities bound to the calling context otherwise. Either way
// the order is the query order.
type FetchResult struct {
	IDs      []graph.ID
	Entities []graph.Entity
}

// Fetch executes the request on the stack's background fetch context and
// delivers the outcome asynchronously. The query always produces
// identifiers first; unless ReturnIDs is set, each identifier is translated
// into a materialized entity on the calling context's own queue, preserving
// query order. Translation is all-or-nothing: a single unresolvable
// identifier fails the whole request.
func (c *Context) Fetch(req graph.FetchRequest, opts FetchOptions, onSuccess func(FetchResult), onFailure func(error)) {
	cont := c.stack.newContinuation(opFetch, opts.SuccessQueue, opts.FailureQueue, false)
	c.stack.fetchHops(c, req, opts.ReturnIDs, cont, onSuccess, onFailure)
}

// FetchAndWait blocks the calling goroutine until the request resolves into
// materialized entities bound to this context.
func (c *Context) FetchAndWait(req graph.FetchRequest) ([]graph.Entity, error) {
	res, err := c.fetchWait(req, false)
	return res.Entities, err
}

// FetchIDsAndWait blocks the calling goroutine until the request resolves
// into identifiers.
func (c *Context) FetchIDsAndWait(req graph.FetchRequest) ([]graph.ID, error) {
	res, err := c.fetchWait(req, true)
	return res.IDs, err
}

func (c *Context) fetchWait(req graph.FetchRequest, returnIDs bool) (FetchResult, error) {
	type outcome struct {
		res FetchResult
		err error
	}
	ch := make(chan outcome, 1)
	cont := c.stack.newContinuation(opFetch, nil, nil, true)
	c.stack.fetchHops(c, req, returnIDs, cont,
		func(res FetchResult) { ch <- outcome{res: res} },
		func(err error) { ch <- outcome{err: err} })
	out := <-ch
	return out.res, out.err
}

// fetchHops runs the two queue hops of a fetch: query execution on the
// dedicated fetch context, then optional translation on the caller's queue.
func (s *Stack) fetchHops(caller *Context, req graph.FetchRequest, returnIDs bool, cont *continuation, onSuccess func(FetchResult), onFailure func(error)) {
	succeed := func(res FetchResult) {
		if onSuccess == nil {
			cont.succeed(nil)
			return
		}
		cont.succeed(func() { onSuccess(res) })
	}
	s.fetcher.queue.Async(func() {
		if s.engine == nil {
			err := graph.FetchError{Context: s.fetcher.name, Err: fmt.Errorf("stack has no storage engine")}
			cont.fail(err, onFailure)
			return
		}
		ids, err := s.engine.Fetch(context.Background(), req)
		if err != nil {
			cont.fail(graph.FetchError{Context: s.fetcher.name, Err: err}, onFailure)
			return
		}
		if returnIDs {
			succeed(FetchResult{IDs: ids})
			return
		}
		caller.queue.Async(func() {
			entities, terr := caller.translate(ids)
			if terr != nil {
				cont.fail(terr, onFailure)
				return
			}
			succeed(FetchResult{Entities: entities})
		})
	})
}

// translate resolves identifiers into materialized entities bound to this
// context, in the given order. Registered entities come from the working
// set; unknown identifiers are materialized from the engine and registered
// as lazily-loaded snapshots. Runs on c's queue.
func (c *Context) translate(ids []graph.ID) ([]graph.Entity, error) {
	entities := make([]graph.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.registered[id]; ok {
			entities = append(entities, e.Clone())
			continue
		}
		materialized, err := c.stack.engine.Materialize(context.Background(), id)
		if err != nil {
			return nil, graph.TranslationError{ID: id, Err: err}
		}
		materialized = materialized.Clone()
		c.registered[materialized.ID] = materialized
		entities = append(entities, materialized.Clone())
	}
	return entities, nil
}
