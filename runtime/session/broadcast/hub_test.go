package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/coderun/runtime/session/event"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) kinds(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]string, 0, len(c.writes))
	for _, data := range c.writes {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		kinds = append(kinds, msg.Type)
	}
	return kinds
}

type recordingSink struct {
	mu      sync.Mutex
	sends   []sinkSend
	sendErr error
	closed  bool
}

type sinkSend struct {
	sessionID string
	kind      event.MessageKind
	data      []byte
}

func (s *recordingSink) Send(_ context.Context, sessionID string, kind event.MessageKind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sends = append(s.sends, sinkSend{sessionID: sessionID, kind: kind, data: data})
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestSendReachesOnlyAuthenticatedConns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := NewHub("sess-1")
	authed := &fakeConn{}
	anon := &fakeConn{}
	h.Register("c-1", authed)
	h.Register("c-2", anon)
	require.True(t, h.Authenticate(ctx, "c-1", "p-1", "u-1"))

	h.Send(ctx, event.Pong{Type: event.KindPong})

	require.Contains(t, authed.kinds(t), "pong")
	require.Empty(t, anon.writes)
}

func TestAuthenticateAnnouncesJoin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := NewHub("sess-1")
	first := &fakeConn{}
	h.Register("c-1", first)
	require.True(t, h.Authenticate(ctx, "c-1", "p-1", "u-1"))

	second := &fakeConn{}
	h.Register("c-2", second)
	require.True(t, h.Authenticate(ctx, "c-2", "p-2", "u-2"))

	// The first viewer sees the second join.
	require.Contains(t, first.kinds(t), "presence_update")
}

func TestAuthenticateUnknownConn(t *testing.T) {
	t.Parallel()

	h := NewHub("sess-1")
	require.False(t, h.Authenticate(context.Background(), "ghost", "p-1", "u-1"))
}

func TestUnregisterAnnouncesLeaveOnlyWhenAuthenticated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := NewHub("sess-1")
	stayer := &fakeConn{}
	h.Register("c-1", stayer)
	require.True(t, h.Authenticate(ctx, "c-1", "p-1", "u-1"))

	// Anonymous departure is silent.
	h.Register("c-2", &fakeConn{})
	h.Unregister(ctx, "c-2")
	require.NotContains(t, stayer.kinds(t), "presence_leave")

	leaver := &fakeConn{}
	h.Register("c-3", leaver)
	require.True(t, h.Authenticate(ctx, "c-3", "p-3", "u-3"))
	h.Unregister(ctx, "c-3")
	require.Contains(t, stayer.kinds(t), "presence_leave")
}

func TestPresenceAndCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := NewHub("sess-1")
	require.False(t, h.HasLiveConnection())

	h.Register("c-1", &fakeConn{})
	// Registered but unauthenticated connections do not count as live.
	require.Equal(t, 0, h.ConnectionCount())
	require.False(t, h.HasLiveConnection())
	require.Empty(t, h.Presence())

	require.True(t, h.Authenticate(ctx, "c-1", "p-1", "u-1"))
	require.Equal(t, 1, h.ConnectionCount())
	require.True(t, h.HasLiveConnection())
	require.Equal(t, []event.PresenceEntry{{ParticipantID: "p-1", UserID: "u-1"}}, h.Presence())

	h.Unregister(ctx, "c-1")
	require.Equal(t, 0, h.ConnectionCount())
}

func TestSendSkipsFailingConn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := NewHub("sess-1")
	broken := &fakeConn{writeErr: errors.New("wedged")}
	healthy := &fakeConn{}
	h.Register("c-1", broken)
	h.Register("c-2", healthy)
	require.True(t, h.Authenticate(ctx, "c-1", "p-1", "u-1"))
	require.True(t, h.Authenticate(ctx, "c-2", "p-2", "u-2"))

	h.Send(ctx, event.Pong{Type: event.KindPong})

	// The healthy connection still got the message.
	require.Contains(t, healthy.kinds(t), "pong")
}

func TestSendMirrorsToSink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := &recordingSink{}
	h := NewHub("sess-1", WithSink(sink))

	h.Send(ctx, event.Pong{Type: event.KindPong})

	require.Len(t, sink.sends, 1)
	require.Equal(t, "sess-1", sink.sends[0].sessionID)
	require.Equal(t, event.KindPong, sink.sends[0].kind)
	require.JSONEq(t, `{"type":"pong"}`, string(sink.sends[0].data))
}

func TestSendSurvivesSinkError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := &recordingSink{sendErr: errors.New("stream down")}
	h := NewHub("sess-1", WithSink(sink))
	conn := &fakeConn{}
	h.Register("c-1", conn)
	require.True(t, h.Authenticate(ctx, "c-1", "p-1", "u-1"))

	h.Send(ctx, event.Pong{Type: event.KindPong})

	require.Contains(t, conn.kinds(t), "pong")
}

func TestSendToIgnoresAuthState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := NewHub("sess-1")
	conn := &fakeConn{}
	h.Register("c-1", conn)

	require.NoError(t, h.SendTo(ctx, "c-1", event.Pong{Type: event.KindPong}))
	require.Contains(t, conn.kinds(t), "pong")

	// Unknown connections are a no-op, not an error.
	require.NoError(t, h.SendTo(ctx, "ghost", event.Pong{Type: event.KindPong}))
}

func TestSendToPropagatesWriteError(t *testing.T) {
	t.Parallel()

	h := NewHub("sess-1")
	conn := &fakeConn{writeErr: errors.New("closed")}
	h.Register("c-1", conn)

	err := h.SendTo(context.Background(), "c-1", event.Pong{Type: event.KindPong})
	require.ErrorContains(t, err, "closed")
}
