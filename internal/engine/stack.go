package engine

import (
	"fmt"
	"sync"

	"graphstack/pkg/graph"
)

// Stack owns a context tree: the single engine-bound root context, the
// singleton main context, and lazily created background contexts. Contexts
// are tracked in a registry so parent links are handles rather than owning
// references.
type Stack struct {
	engine  graph.StorageEngine
	metrics MetricsRecorder
	tracer  Tracer

	mu       sync.RWMutex
	contexts []*Context
	byKey    map[string]*Context

	root    *Context
	main    *Context
	fetcher *Context

	unsubscribe func()
	closeOnce   sync.Once
}

// Option configures a Stack.
type Option func(*Stack)

// WithMetrics installs a metrics recorder consumed by the orchestrators.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Stack) { s.metrics = m }
}

// WithTracer installs a tracer spanning save and fetch requests.
func WithTracer(t Tracer) Option {
	return func(s *Stack) { s.tracer = t }
}

// NewStack builds a context tree over the given storage engine. The root
// context is bound to the engine; the main context and an internal fetch
// context are parented to it. Creation never fails: configuration problems
// surface at first use.
func NewStack(engine graph.StorageEngine, opts ...Option) *Stack {
	s := &Stack{
		engine: engine,
		byKey:  make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.root = newContext("root", s, -1, engine)
	s.register(s.root)

	s.main = newContext("main", s, 0, nil)
	s.main.SetObtainPermanentIDsBeforeSave(true)
	s.register(s.main)

	s.fetcher = newContext("fetch-worker", s, 0, nil)
	s.fetcher.SetObtainPermanentIDsBeforeSave(true)
	s.register(s.fetcher)

	if engine != nil {
		rootName := s.root.name
		s.unsubscribe = engine.SubscribeCommits(func(ev graph.CommitEvent) {
			if ev.ContextID == rootName {
				s.root.notifyDidSave(ev.Changes)
			}
		})
	}
	return s
}

func (s *Stack) register(c *Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, c)
	return len(s.contexts) - 1
}

func (s *Stack) contextAt(i int) *Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.contexts) {
		return nil
	}
	return s.contexts[i]
}

// Root returns the engine-bound root context.
func (s *Stack) Root() *Context { return s.root }

// Main returns the singleton main context, the default target for callback
// delivery.
func (s *Stack) Main() *Context { return s.main }

// ContextFor returns the background context for the given worker key,
// creating it on first use: parented to root, permanent-ID policy enabled,
// cached for reuse under the same key. Goroutines carry no identity, so
// callers supply a stable key in place of a thread identifier.
func (s *Stack) ContextFor(key string) *Context {
	s.mu.Lock()
	if c, ok := s.byKey[key]; ok {
		s.mu.Unlock()
		return c
	}
	c := newContext(fmt.Sprintf("bg-%s", key), s, 0, nil)
	c.SetObtainPermanentIDsBeforeSave(true)
	s.contexts = append(s.contexts, c)
	s.byKey[key] = c
	s.mu.Unlock()
	return c
}

// NewChildContext creates an independently constructed child of parent. The
// permanent-ID policy is left to the caller, matching the default for
// contexts the stack did not create itself.
func (s *Stack) NewChildContext(name string, parent *Context) *Context {
	parentIdx := s.indexOf(parent)
	c := newContext(name, s, parentIdx, nil)
	s.register(c)
	return c
}

func (s *Stack) indexOf(c *Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, candidate := range s.contexts {
		if candidate == c {
			return i
		}
	}
	return -1
}

// Close drains and stops every context queue, children before the root, and
// cancels the engine commit subscription. Submitted operations still run to
// completion; nothing is cancelled mid-flight.
func (s *Stack) Close() {
	s.closeOnce.Do(func() {
		s.mu.RLock()
		contexts := make([]*Context, len(s.contexts))
		copy(contexts, s.contexts)
		s.mu.RUnlock()

		for i := len(contexts) - 1; i > 0; i-- {
			contexts[i].queue.Close()
		}
		if len(contexts) > 0 {
			contexts[0].queue.Close()
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}
