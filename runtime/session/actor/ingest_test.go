package actor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/coderun/runtime/session"
	"goa.design/coderun/runtime/session/event"
	"goa.design/coderun/runtime/session/eventlog"
)

func logTypes(t *testing.T, f *fixture) []event.Type {
	t.Helper()
	page, err := f.actor.Events(context.Background(), eventlog.Filter{Limit: 100})
	require.NoError(t, err)
	types := make([]event.Type, 0, len(page.Events))
	for _, e := range page.Events {
		types = append(types, e.Type)
	}
	return types
}

func TestHandleSandboxEventBeforeInitIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.actor.HandleSandboxEvent(context.Background(), &event.Token{Content: "hi"}))
	require.Empty(t, logTypes(t, f))
}

func TestHeartbeatRefreshesHealthWithoutPersisting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	conn := f.viewer(t, "c-1", "p-1", "u-1")

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.Heartbeat{Status: session.SandboxRunning}))

	st, _ := f.actor.State()
	require.Equal(t, session.SandboxRunning, st.Sandbox.Status)
	require.NotNil(t, st.Sandbox.LastHeartbeat)
	require.Equal(t, testStart, *st.Sandbox.LastHeartbeat)
	require.NotNil(t, st.Sandbox.LastActivity)

	// Heartbeats are broadcast but never logged.
	require.Contains(t, conn.kinds(t), "sandbox_event")
	require.Empty(t, logTypes(t, f))
}

func TestHeartbeatIgnoresNonLiveStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.Heartbeat{Status: session.SandboxStatus("rebooting")}))

	st, _ := f.actor.State()
	// The sandbox keeps its pending status; heartbeats only adopt ready/running.
	require.Equal(t, session.SandboxPending, st.Sandbox.Status)
}

func TestTokenEventPersistsAndBroadcasts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	conn := f.viewer(t, "c-1", "p-1", "u-1")

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.Token{Content: "chunk", MessageID: "m-1"}))

	require.Equal(t, []event.Type{event.TypeToken}, logTypes(t, f))
	require.Contains(t, conn.kinds(t), "sandbox_event")

	var relay event.SandboxEventMessage
	conn.last(t, &relay)
	decoded, err := event.Decode(relay.Event)
	require.NoError(t, err)
	require.Equal(t, event.TypeToken, decoded.Type())
}

func TestToolCallPersistenceGating(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	conn := f.viewer(t, "c-1", "p-1", "u-1")

	// Intermediate progress is broadcast but not logged.
	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.ToolCall{Tool: "bash", CallID: "c-1", Status: "running"}))
	require.Empty(t, logTypes(t, f))
	require.Contains(t, conn.kinds(t), "sandbox_event")

	// The terminal update lands in the log.
	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.ToolCall{Tool: "bash", CallID: "c-1", Status: "completed", Output: json.RawMessage(`{"out":"ok"}`)}))
	require.Equal(t, []event.Type{event.TypeToolCall}, logTypes(t, f))
}

func TestStepStartPromotesPendingMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	res, err := f.actor.EnqueuePrompt(ctx, PromptParams{AuthorID: "u-1", Content: "go"})
	require.NoError(t, err)

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.StepStart{MessageID: res.MessageID}))

	st, _ := f.actor.State()
	require.Equal(t, session.MessageProcessing, st.Messages[0].Status)
	require.NotNil(t, st.Messages[0].StartedAt)

	// A second step_start does not reset the started timestamp.
	f.clock.Advance(time.Minute)
	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.StepStart{MessageID: res.MessageID}))
	st, _ = f.actor.State()
	require.Equal(t, testStart, *st.Messages[0].StartedAt)

	// StepStart is persisted but not broadcast.
	require.Contains(t, logTypes(t, f), event.TypeStepStart)
}

func TestExecutionCompleteSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	res, err := f.actor.EnqueuePrompt(ctx, PromptParams{AuthorID: "u-1", Content: "go"})
	require.NoError(t, err)
	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.StepStart{MessageID: res.MessageID}))
	conn := f.viewer(t, "c-1", "p-1", "u-1")

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.ExecutionComplete{MessageID: res.MessageID, Success: true}))

	st, _ := f.actor.State()
	require.Equal(t, session.MessageCompleted, st.Messages[0].Status)
	require.NotNil(t, st.Messages[0].CompletedAt)

	kinds := conn.kinds(t)
	// Raw relay first, then the processing flag clears.
	require.Contains(t, kinds, "sandbox_event")
	require.Equal(t, "processing_status", kinds[len(kinds)-1])
}

func TestExecutionCompleteFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	res, err := f.actor.EnqueuePrompt(ctx, PromptParams{AuthorID: "u-1", Content: "go"})
	require.NoError(t, err)

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.ExecutionComplete{MessageID: res.MessageID, Success: false, Error: "agent crashed"}))

	st, _ := f.actor.State()
	require.Equal(t, session.MessageFailed, st.Messages[0].Status)
}

func TestExecutionCompleteUnknownMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)

	// Unknown attribution is tolerated; the event still lands in the log.
	require.NoError(t, f.actor.HandleSandboxEvent(context.Background(), &event.ExecutionComplete{MessageID: "ghost", Success: true}))
	require.Contains(t, logTypes(t, f), event.TypeExecutionComplete)
}

func TestGitSyncTracksSHAs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.GitSync{Status: "synced", SHA: "aaa111"}))
	st, _ := f.actor.State()
	require.Equal(t, "aaa111", st.Session.BaseSHA)
	require.Equal(t, "aaa111", st.Session.CurrentSHA)

	// Later syncs advance the head but keep the base.
	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.GitSync{Status: "synced", SHA: "bbb222"}))
	st, _ = f.actor.State()
	require.Equal(t, "aaa111", st.Session.BaseSHA)
	require.Equal(t, "bbb222", st.Session.CurrentSHA)

	// A sync without a SHA changes nothing.
	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.GitSync{Status: "syncing"}))
	st, _ = f.actor.State()
	require.Equal(t, "bbb222", st.Session.CurrentSHA)
}

func TestArtifactEventAppendsAndAnnounces(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	conn := f.viewer(t, "c-1", "p-1", "u-1")

	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.Artifact{
		ArtifactType: "pr",
		URL:          "https://github.com/octo/app/pull/7",
		Metadata:     map[string]any{"number": "7"},
	}))

	st, _ := f.actor.State()
	require.Len(t, st.Artifacts, 1)
	require.Equal(t, "pr", st.Artifacts[0].Type)
	require.NotEmpty(t, st.Artifacts[0].ID)

	var created event.ArtifactCreated
	conn.last(t, &created)
	require.Equal(t, event.KindArtifactCreated, created.Type)
	require.Equal(t, st.Artifacts[0].ID, created.Artifact.ID)
}

func TestPushCompleteSetsBranch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)

	require.NoError(t, f.actor.HandleSandboxEvent(context.Background(), &event.PushComplete{BranchName: "agent/fix-7"}))

	st, _ := f.actor.State()
	require.Equal(t, "agent/fix-7", st.Session.BranchName)
}

func TestUserMessageEchoNotRebroadcast(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	conn := f.viewer(t, "c-1", "p-1", "u-1")

	require.NoError(t, f.actor.HandleSandboxEvent(context.Background(), &event.UserMessage{Content: "echo", MessageID: "m-1"}))

	require.Contains(t, logTypes(t, f), event.TypeUserMessage)
	require.NotContains(t, conn.kinds(t), "sandbox_event")
}

func TestCustomPolicies(t *testing.T) {
	t.Parallel()

	// Persist nothing, broadcast everything.
	f := newFixture(t,
		WithPersistPolicy(func(event.SandboxEvent) bool { return false }),
		WithBroadcastPolicy(func(event.SandboxEvent) bool { return true }),
	)
	f.init(t)
	conn := f.viewer(t, "c-1", "p-1", "u-1")

	require.NoError(t, f.actor.HandleSandboxEvent(context.Background(), &event.StepStart{MessageID: "m-1"}))
	require.Empty(t, logTypes(t, f))
	require.Contains(t, conn.kinds(t), "sandbox_event")
}

func TestIngestionRefreshesActivity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.actor.HandleSandboxEvent(ctx, &event.Token{Content: "hi"}))

	st, _ := f.actor.State()
	require.NotNil(t, st.Sandbox.LastActivity)
	require.Equal(t, testStart.Add(3*time.Minute), *st.Sandbox.LastActivity)
	require.Equal(t, testStart.Add(3*time.Minute), st.Session.UpdatedAt)
}
