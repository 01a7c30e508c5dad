// Package pulse exposes a broadcast.Sink implementation that mirrors session
// broadcasts onto goa.design/pulse streams. It follows the layering used by
// existing Pulse deployments: services build a Redis client, pass it to the
// Pulse client, and hand the resulting sink to the broadcast hub.
package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"goa.design/clue/log"

	"goa.design/coderun/features/stream/pulse/clients/pulse"
	"goa.design/coderun/runtime/session/event"
)

type (
	// Sink publishes session broadcasts to per-session Pulse streams so that
	// other processes can observe session activity. Each session gets its
	// own stream named "session/<session id>".
	Sink struct {
		client  pulse.Client
		nameFor func(sessionID string) string
		marshal func(envelope) ([]byte, error)

		mu      sync.Mutex
		streams map[string]pulse.Stream
	}

	// SinkOption customizes the sink.
	SinkOption func(*sinkOptions)

	sinkOptions struct {
		streamID        func(sessionID string) string
		marshalEnvelope func(envelope) ([]byte, error)
	}

	// envelope is the wire format written to the stream. Payload carries the
	// already-serialized broadcast message bytes.
	envelope struct {
		Type      string          `json:"type"`
		SessionID string          `json:"session_id"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}
)

// WithStreamID overrides how session IDs map to Pulse stream names.
func WithStreamID(fn func(sessionID string) string) SinkOption {
	return func(o *sinkOptions) {
		if fn != nil {
			o.streamID = fn
		}
	}
}

// WithMarshalEnvelope overrides envelope serialization, primarily for tests.
func WithMarshalEnvelope(fn func(envelope) ([]byte, error)) SinkOption {
	return func(o *sinkOptions) {
		if fn != nil {
			o.marshalEnvelope = fn
		}
	}
}

// NewSink constructs a broadcast sink that publishes to Pulse streams.
func NewSink(client pulse.Client, opts ...SinkOption) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("pulse client is required")
	}
	options := &sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
	}
	for _, opt := range opts {
		opt(options)
	}
	return &Sink{
		client:  client,
		nameFor: options.streamID,
		marshal: options.marshalEnvelope,
		streams: make(map[string]pulse.Stream),
	}, nil
}

// Send publishes a broadcast message to the session's stream.
//
// Contract:
//   - Data is forwarded opaque; the sink never re-encodes the message body.
//   - Errors are returned to the caller, which logs and continues. A stream
//     outage must not break in-process delivery.
func (s *Sink) Send(ctx context.Context, sessionID string, kind event.MessageKind, data []byte) error {
	str, err := s.streamFor(sessionID)
	if err != nil {
		return err
	}
	payload, err := s.marshal(envelope{
		Type:      string(kind),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	})
	if err != nil {
		return fmt.Errorf("marshal stream envelope: %w", err)
	}
	if _, err := str.Add(ctx, string(kind), payload); err != nil {
		return fmt.Errorf("publish to stream: %w", err)
	}
	log.Debug(ctx, log.KV{K: "msg", V: "published broadcast"},
		log.KV{K: "session_id", V: sessionID},
		log.KV{K: "kind", V: string(kind)})
	return nil
}

// Close drops cached stream handles and releases the underlying client.
// Streams persist in Redis so consumers can drain them after the coordinator
// shuts down.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.streams = make(map[string]pulse.Stream)
	s.mu.Unlock()
	return s.client.Close(ctx)
}

// streamFor returns the cached stream handle for a session, creating it on
// first use.
func (s *Sink) streamFor(sessionID string) (pulse.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if str, ok := s.streams[sessionID]; ok {
		return str, nil
	}
	str, err := s.client.Stream(s.nameFor(sessionID))
	if err != nil {
		return nil, err
	}
	s.streams[sessionID] = str
	return str, nil
}

// defaultStreamID maps a session ID to its stream name.
func defaultStreamID(sessionID string) string {
	return "session/" + sessionID
}

// defaultMarshal is the production envelope serializer.
func defaultMarshal(env envelope) ([]byte, error) {
	return json.Marshal(env)
}
