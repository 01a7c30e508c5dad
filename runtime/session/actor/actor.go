// Package actor implements the per-session coordinator: a single-writer
// owner of session, sandbox, message, participant, and artifact state that
// ingests sandbox events, consults the lifecycle decision engine, appends to
// the event log, and drives broadcast fan-out.
//
// Every operation on an Actor executes serialized with respect to the same
// session; operations on different sessions proceed in parallel. This
// single-writer property is the correctness backbone: circuit breaker state,
// the spawning flag, and all domain state are plain fields with no further
// synchronization.
package actor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"goa.design/coderun/runtime/session"
	"goa.design/coderun/runtime/session/broadcast"
	"goa.design/coderun/runtime/session/event"
	"goa.design/coderun/runtime/session/eventlog"
	"goa.design/coderun/runtime/session/lifecycle"
	"goa.design/coderun/runtime/session/token"
)

type (
	// Actor owns the in-memory state of exactly one session.
	//
	// Contract:
	// - All exported methods are safe for concurrent use; internally they
	//   serialize on the actor's mutex, preserving single-writer semantics
	//   across suspension points (the lock is held across cipher calls).
	// - No other component mutates actor-owned state.
	Actor struct {
		id string

		mu    sync.Mutex
		clock func() time.Time

		cfg       lifecycle.Config
		store     eventlog.Store
		hub       *broadcast.Hub
		cipher    token.Cipher
		persist   event.PersistPolicy
		broadcast event.BroadcastPolicy

		sess         *session.Session
		sandbox      *session.Sandbox
		participants []*session.Participant
		messages     []*session.Message
		artifacts    []*session.Artifact

		breaker  session.CircuitBreakerState
		spawning bool

		wsGrants map[string]token.WSGrant

		ingested metric.Int64Counter
	}

	// Option configures an Actor.
	Option func(*Actor)
)

// WithClock injects the time source. Tests use this to drive cooldown and
// breaker windows deterministically.
func WithClock(clock func() time.Time) Option {
	return func(a *Actor) { a.clock = clock }
}

// WithLifecycleConfig overrides the lifecycle engine tuning.
func WithLifecycleConfig(cfg lifecycle.Config) Option {
	return func(a *Actor) { a.cfg = cfg }
}

// WithPersistPolicy overrides which sandbox events are appended to the log.
func WithPersistPolicy(p event.PersistPolicy) Option {
	return func(a *Actor) { a.persist = p }
}

// WithBroadcastPolicy overrides which sandbox events are fanned out live.
func WithBroadcastPolicy(p event.BroadcastPolicy) Option {
	return func(a *Actor) { a.broadcast = p }
}

// New constructs the coordinator for one session ID. The store, hub, and
// cipher are required collaborators.
func New(sessionID string, store eventlog.Store, hub *broadcast.Hub, cipher token.Cipher, opts ...Option) *Actor {
	a := &Actor{
		id:        sessionID,
		clock:     time.Now,
		cfg:       lifecycle.DefaultConfig(),
		store:     store,
		hub:       hub,
		cipher:    cipher,
		persist:   event.DefaultPersistPolicy,
		broadcast: event.DefaultBroadcastPolicy,
		wsGrants:  make(map[string]token.WSGrant),
	}
	for _, opt := range opts {
		opt(a)
	}
	meter := otel.Meter("goa.design/coderun/runtime/session/actor")
	if counter, err := meter.Int64Counter("session_sandbox_events_total"); err == nil {
		a.ingested = counter
	}
	return a
}

// ID returns the session ID this actor coordinates.
func (a *Actor) ID() string { return a.id }

// Hub returns the actor's broadcast hub. The transport layer registers and
// unregisters raw connections through it; authentication goes through
// Subscribe so grants are enforced.
func (a *Actor) Hub() *broadcast.Hub { return a.hub }

// State returns a snapshot of the session's state, or false when the session
// is not initialized.
func (a *Actor) State() (session.State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return session.State{}, false
	}
	return a.snapshotLocked(), true
}

// snapshotLocked copies the actor state into a detached session.State.
// Callers must hold a.mu.
func (a *Actor) snapshotLocked() session.State {
	st := session.State{
		Session: *a.sess,
		Sandbox: *a.sandbox,
	}
	st.Participants = make([]session.Participant, len(a.participants))
	for i, p := range a.participants {
		st.Participants[i] = *p
	}
	st.Messages = make([]session.Message, len(a.messages))
	for i, m := range a.messages {
		st.Messages[i] = *m
	}
	st.Artifacts = make([]session.Artifact, len(a.artifacts))
	for i, art := range a.artifacts {
		st.Artifacts[i] = *art
	}
	return st
}

// now returns the actor's current time in UTC.
func (a *Actor) now() time.Time { return a.clock().UTC() }

// countIngested records one ingested sandbox event.
func (a *Actor) countIngested(ctx context.Context, t event.Type) {
	if a.ingested == nil {
		return
	}
	a.ingested.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(t))))
}
