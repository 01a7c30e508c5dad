package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/coderun/features/stream/pulse/clients/pulse"
	"goa.design/coderun/runtime/session/event"
)

type (
	// Broadcast is one session broadcast read back from a Pulse stream. Kind
	// identifies the server message type and Payload carries its serialized
	// body.
	Broadcast struct {
		// Kind is the server message kind.
		Kind event.MessageKind
		// SessionID identifies the originating session.
		SessionID string
		// Timestamp records when the broadcast was published.
		Timestamp time.Time
		// Payload is the serialized server message.
		Payload json.RawMessage
	}

	// BroadcastDecoder converts raw payloads read from Pulse into broadcasts.
	// Custom decoders can be provided to handle non-standard envelope formats.
	BroadcastDecoder func([]byte) (Broadcast, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume broadcasts. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "coderun_subscriber".
		SinkName string
		// Buffer specifies the broadcast channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes broadcast payloads. Defaults to the built-in
		// JSON decoder.
		Decoder BroadcastDecoder
	}

	// Subscriber consumes session streams and emits the broadcasts the
	// coordinator published there. It wraps a Pulse sink (consumer group)
	// and decodes incoming envelopes.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode BroadcastDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in opts
// is required; SinkName, Buffer, and Decoder default to sensible values if not
// provided (see SubscriberOptions field documentation).
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "coderun_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeBroadcast
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a Pulse sink on the given session's stream and returns
// channels for broadcasts and errors. It spawns a goroutine that consumes
// from the sink, decodes envelopes, and emits broadcasts. The returned cancel
// function stops consumption, closes the sink, and closes both channels.
//
// Usage:
//
//	broadcasts, errs, cancel, err := sub.Subscribe(ctx, "sess-123")
//	defer cancel()
//	for b := range broadcasts {
//	    // process broadcast
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	sessionID string,
	opts ...streamopts.Sink,
) (<-chan Broadcast, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(defaultStreamID(sessionID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	broadcasts := make(chan Broadcast, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, broadcasts, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return broadcasts, errs, cancelFunc, nil
}

// consume reads events from the Pulse sink channel, decodes them, and emits
// them on the out channel. It acks each event after successful emission.
// Closes both channels when ctx is canceled or when the sink channel closes.
// Sends errors on the errs channel if decoding or acking fails, then returns.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- Broadcast, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeBroadcast deserializes the default JSON envelope format. Returns an
// error if the payload is malformed.
func decodeBroadcast(payload []byte) (Broadcast, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Broadcast{}, err
	}
	return Broadcast{
		Kind:      event.MessageKind(env.Type),
		SessionID: env.SessionID,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	}, nil
}
