// Package broadcast provides authenticated fan-out of server messages to a
// session's live connections, plus presence tracking over those connections.
//
// Delivery is best-effort and at-least-once at the system level: a message is
// serialized once and written to every authenticated connection; a failed
// write is logged and skipped so one slow or dead viewer never stalls the
// rest. Clients that miss messages resynchronize through the event log's
// cursor pagination.
package broadcast

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"

	"goa.design/coderun/runtime/session/event"
)

type (
	// Conn is a transport-level connection capable of receiving serialized
	// server messages. Transports (WebSocket, SSE) adapt their connection
	// type to this interface; tests use in-memory implementations.
	Conn interface {
		// Write delivers one serialized message. Implementations must not
		// block indefinitely; the hub treats any error as a dropped send for
		// this connection only.
		Write(ctx context.Context, data []byte) error
	}

	// Sink mirrors every hub broadcast to an external transport, such as a
	// Pulse stream, so out-of-process consumers can follow the session.
	Sink interface {
		// Send publishes one serialized broadcast. Errors are logged by the
		// hub and do not affect connection delivery.
		Send(ctx context.Context, sessionID string, kind event.MessageKind, data []byte) error
		// Close releases sink resources.
		Close(ctx context.Context) error
	}

	// Hub tracks a session's live connections and fans out server messages
	// to the authenticated ones.
	Hub struct {
		sessionID string
		sink      Sink

		mu    sync.RWMutex
		conns map[string]*connState

		dropped metric.Int64Counter
	}

	// connState is the per-connection record: transport handle plus the
	// authenticated participant identity, when established.
	connState struct {
		conn          Conn
		participantID string
		userID        string
		authenticated bool
	}

	// Option configures a Hub.
	Option func(*Hub)
)

// WithSink mirrors every broadcast to the given sink.
func WithSink(s Sink) Option {
	return func(h *Hub) { h.sink = s }
}

// NewHub constructs a hub for the given session.
func NewHub(sessionID string, opts ...Option) *Hub {
	h := &Hub{
		sessionID: sessionID,
		conns:     make(map[string]*connState),
	}
	for _, opt := range opts {
		opt(h)
	}
	meter := otel.Meter("goa.design/coderun/runtime/session/broadcast")
	if counter, err := meter.Int64Counter("session_broadcast_dropped_total"); err == nil {
		h.dropped = counter
	}
	return h
}

// Register adds a transport connection in the unauthenticated state. It
// receives no broadcasts until Authenticate promotes it.
func (h *Hub) Register(connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = &connState{conn: conn}
}

// Authenticate promotes a registered connection to authenticated with the
// given participant identity and announces the join to the other viewers.
// Returns false when the connection is not registered.
func (h *Hub) Authenticate(ctx context.Context, connID, participantID, userID string) bool {
	h.mu.Lock()
	cs, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	cs.participantID = participantID
	cs.userID = userID
	cs.authenticated = true
	h.mu.Unlock()

	h.Send(ctx, event.PresenceUpdate{
		Type:        event.KindPresenceUpdate,
		Participant: event.PresenceEntry{ParticipantID: participantID, UserID: userID},
	})
	return true
}

// Unregister removes a connection. If it was authenticated, the departure is
// announced to the remaining viewers.
func (h *Hub) Unregister(ctx context.Context, connID string) {
	h.mu.Lock()
	cs, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	h.mu.Unlock()
	if !ok || !cs.authenticated {
		return
	}
	h.Send(ctx, event.PresenceLeave{
		Type:          event.KindPresenceLeave,
		ParticipantID: cs.participantID,
	})
}

// Presence returns the authenticated viewers.
func (h *Hub) Presence() []event.PresenceEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var entries []event.PresenceEntry
	for _, cs := range h.conns {
		if cs.authenticated {
			entries = append(entries, event.PresenceEntry{
				ParticipantID: cs.participantID,
				UserID:        cs.userID,
			})
		}
	}
	return entries
}

// ConnectionCount returns the number of authenticated connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, cs := range h.conns {
		if cs.authenticated {
			n++
		}
	}
	return n
}

// HasLiveConnection reports whether at least one authenticated connection
// exists. The lifecycle engine uses this to protect actively viewed
// sandboxes.
func (h *Hub) HasLiveConnection() bool {
	return h.ConnectionCount() > 0
}

// Send serializes the message once and delivers it to every authenticated
// connection. Per-connection failures are counted, logged, and skipped. A
// configured sink receives the same serialized bytes after connection
// delivery.
func (h *Hub) Send(ctx context.Context, msg event.ServerMessage) {
	data, err := event.MarshalServerMessage(msg)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "marshal server message"},
			log.KV{K: "kind", V: string(msg.Kind())})
		return
	}

	// Snapshot under the read lock so a slow Write never holds the lock.
	h.mu.RLock()
	targets := make([]*connState, 0, len(h.conns))
	for _, cs := range h.conns {
		if cs.authenticated {
			targets = append(targets, cs)
		}
	}
	h.mu.RUnlock()

	for _, cs := range targets {
		if err := cs.conn.Write(ctx, data); err != nil {
			if h.dropped != nil {
				h.dropped.Add(ctx, 1, metric.WithAttributes(
					attribute.String("kind", string(msg.Kind()))))
			}
			log.Debug(ctx, log.KV{K: "msg", V: "broadcast send dropped"},
				log.KV{K: "session_id", V: h.sessionID},
				log.KV{K: "participant_id", V: cs.participantID},
				log.KV{K: "kind", V: string(msg.Kind())},
				log.KV{K: "err", V: err.Error()})
		}
	}

	if h.sink != nil {
		if err := h.sink.Send(ctx, h.sessionID, msg.Kind(), data); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "broadcast sink send"},
				log.KV{K: "session_id", V: h.sessionID},
				log.KV{K: "kind", V: string(msg.Kind())})
		}
	}
}

// SendTo delivers a message to a single connection regardless of its
// authentication state. Used for subscription confirmations and per-request
// errors.
func (h *Hub) SendTo(ctx context.Context, connID string, msg event.ServerMessage) error {
	data, err := event.MarshalServerMessage(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	cs, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return cs.conn.Write(ctx, data)
}
