package actor

import (
	"sync"

	"goa.design/coderun/runtime/session/broadcast"
	"goa.design/coderun/runtime/session/eventlog"
	"goa.design/coderun/runtime/session/token"
)

type (
	// Registry maps session IDs to their coordinator instances: an in-memory
	// arena with lazy creation. Exactly one actor exists per session ID per
	// process, created on first use and held for the session's lifetime or
	// until evicted by the hosting runtime's policy.
	Registry struct {
		store  eventlog.Store
		cipher token.Cipher
		opts   []Option
		sink   broadcast.Sink

		mu     sync.Mutex
		actors map[string]*Actor
	}

	// RegistryOption configures a Registry.
	RegistryOption func(*Registry)
)

// WithActorOptions applies the given options to every actor the registry
// creates.
func WithActorOptions(opts ...Option) RegistryOption {
	return func(r *Registry) { r.opts = append(r.opts, opts...) }
}

// WithBroadcastSink mirrors every created actor's broadcasts to the sink.
func WithBroadcastSink(s broadcast.Sink) RegistryOption {
	return func(r *Registry) { r.sink = s }
}

// NewRegistry constructs an empty registry. Store and cipher are shared by
// all actors it creates.
func NewRegistry(store eventlog.Store, cipher token.Cipher, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:  store,
		cipher: cipher,
		actors: make(map[string]*Actor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the actor for the session ID, creating it on first
// use. Each actor gets its own broadcast hub.
func (r *Registry) GetOrCreate(sessionID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[sessionID]; ok {
		return a
	}
	var hubOpts []broadcast.Option
	if r.sink != nil {
		hubOpts = append(hubOpts, broadcast.WithSink(r.sink))
	}
	hub := broadcast.NewHub(sessionID, hubOpts...)
	a := New(sessionID, r.store, hub, r.cipher, r.opts...)
	r.actors[sessionID] = a
	return a
}

// Get returns the actor for the session ID when it exists.
func (r *Registry) Get(sessionID string) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[sessionID]
	return a, ok
}

// Evict removes the actor for the session ID. In-flight operations on the
// evicted actor complete against its (now detached) state.
func (r *Registry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, sessionID)
}

// Len returns the number of live actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
