package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldPersistToolCall(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status string
		want   bool
	}{
		{"", true},
		{"null", true},
		{"completed", true},
		{"error", true},
		{"pending", false},
		{"running", false},
		{"in_progress", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ShouldPersistToolCall(tc.status), "status %q", tc.status)
	}
}

func TestDefaultPersistPolicy(t *testing.T) {
	t.Parallel()

	require.False(t, DefaultPersistPolicy(&Heartbeat{}))
	require.False(t, DefaultPersistPolicy(&ToolCall{Status: "running"}))
	require.True(t, DefaultPersistPolicy(&ToolCall{Status: "completed"}))
	require.True(t, DefaultPersistPolicy(&ToolCall{}))
	require.True(t, DefaultPersistPolicy(&Token{Content: "hi"}))
	require.True(t, DefaultPersistPolicy(&StepStart{}))
	require.True(t, DefaultPersistPolicy(&UserMessage{}))
	require.True(t, DefaultPersistPolicy(&ExecutionComplete{}))
}

func TestDefaultBroadcastPolicy(t *testing.T) {
	t.Parallel()

	require.False(t, DefaultBroadcastPolicy(&StepStart{}))
	require.False(t, DefaultBroadcastPolicy(&StepFinish{}))
	require.False(t, DefaultBroadcastPolicy(&UserMessage{}))
	require.True(t, DefaultBroadcastPolicy(&Heartbeat{}))
	require.True(t, DefaultBroadcastPolicy(&Token{}))
	require.True(t, DefaultBroadcastPolicy(&ToolCall{Status: "running"}))
	require.True(t, DefaultBroadcastPolicy(&ExecutionComplete{}))
}
