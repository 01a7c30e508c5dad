package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	pulseclient "goa.design/coderun/features/stream/pulse/clients/pulse"
	"goa.design/coderun/runtime/session/event"
)

type fakeStream struct {
	adds   []addCall
	addErr error
}

type addCall struct {
	event   string
	payload []byte
}

func (f *fakeStream) Add(_ context.Context, ev string, payload []byte) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.adds = append(f.adds, addCall{event: ev, payload: payload})
	return "1-0", nil
}

func (f *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (pulseclient.Sink, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStream) Destroy(context.Context) error { return nil }

type fakeClient struct {
	streams map[string]*fakeStream
	names   []string
	closed  bool
}

func (f *fakeClient) Stream(name string, _ ...streamopts.Stream) (pulseclient.Stream, error) {
	if f.streams == nil {
		f.streams = make(map[string]*fakeStream)
	}
	if str, ok := f.streams[name]; ok {
		return str, nil
	}
	str := &fakeStream{}
	f.streams[name] = str
	f.names = append(f.names, name)
	return str, nil
}

func (f *fakeClient) Close(context.Context) error {
	f.closed = true
	return nil
}

func TestSinkSendPublishesEnvelope(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	sink, err := NewSink(client)
	require.NoError(t, err)

	data := []byte(`{"type":"subscribed"}`)
	require.NoError(t, sink.Send(context.Background(), "sess-1", event.KindSubscribed, data))

	require.Equal(t, []string{"session/sess-1"}, client.names)
	str := client.streams["session/sess-1"]
	require.Len(t, str.adds, 1)
	require.Equal(t, string(event.KindSubscribed), str.adds[0].event)

	var env envelope
	require.NoError(t, json.Unmarshal(str.adds[0].payload, &env))
	require.Equal(t, string(event.KindSubscribed), env.Type)
	require.Equal(t, "sess-1", env.SessionID)
	require.False(t, env.Timestamp.IsZero())
	require.JSONEq(t, string(data), string(env.Payload))
}

func TestSinkReusesStreamHandle(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	sink, err := NewSink(client)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, "sess-1", event.KindPong, []byte(`{}`)))
	require.NoError(t, sink.Send(ctx, "sess-1", event.KindPong, []byte(`{}`)))

	require.Len(t, client.names, 1)
	require.Len(t, client.streams["session/sess-1"].adds, 2)
}

func TestSinkSendReturnsPublishError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{streams: map[string]*fakeStream{
		"session/sess-1": {addErr: errors.New("redis down")},
	}}
	sink, err := NewSink(client)
	require.NoError(t, err)

	err = sink.Send(context.Background(), "sess-1", event.KindPong, []byte(`{}`))
	require.ErrorContains(t, err, "redis down")
}

func TestSinkSendMarshalError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	sink, err := NewSink(client, WithMarshalEnvelope(func(envelope) ([]byte, error) {
		return nil, errors.New("marshal boom")
	}))
	require.NoError(t, err)

	err = sink.Send(context.Background(), "sess-1", event.KindPong, []byte(`{}`))
	require.ErrorContains(t, err, "marshal boom")
}

func TestSinkCustomStreamID(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	sink, err := NewSink(client, WithStreamID(func(id string) string { return "custom/" + id }))
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), "s", event.KindPong, []byte(`{}`)))
	require.Equal(t, []string{"custom/s"}, client.names)
}

func TestSinkCloseReleasesClient(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	sink, err := NewSink(client)
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), "s", event.KindPong, []byte(`{}`)))
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, client.closed)

	// Closing drops cached handles; a later Send recreates the stream.
	require.NoError(t, sink.Send(context.Background(), "s", event.KindPong, []byte(`{}`)))
	require.Len(t, client.names, 1)
}

func TestNewSinkRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewSink(nil)
	require.Error(t, err)
}
