package event

type (
	// PersistPolicy decides whether an inbound sandbox event is appended to
	// the session event log. Injected so deployments can widen or narrow the
	// persisted set without touching the ingestion path.
	PersistPolicy func(SandboxEvent) bool

	// BroadcastPolicy decides whether an inbound sandbox event is fanned out
	// to live viewers. Independent of PersistPolicy: some types are persisted
	// but not broadcast, and vice versa.
	BroadcastPolicy func(SandboxEvent) bool
)

// ShouldPersistToolCall reports whether a tool_call event with the given
// status belongs in the log. Terminal states and untagged calls are kept;
// intermediate pending/running updates would flood the log with partial
// progress and are suppressed.
func ShouldPersistToolCall(status string) bool {
	switch status {
	case "", "null", "completed", "error":
		return true
	default:
		return false
	}
}

// DefaultPersistPolicy persists every event type except heartbeats, with
// tool_call events additionally gated on ShouldPersistToolCall.
func DefaultPersistPolicy(evt SandboxEvent) bool {
	switch e := evt.(type) {
	case *Heartbeat:
		return false
	case *ToolCall:
		return ShouldPersistToolCall(e.Status)
	default:
		return true
	}
}

// DefaultBroadcastPolicy fans out the client-facing set: everything a viewer
// renders live. Step boundaries and user_message echoes are persisted for
// replay but not re-broadcast (viewers already saw the prompt via
// prompt_queued).
func DefaultBroadcastPolicy(evt SandboxEvent) bool {
	switch evt.(type) {
	case *StepStart, *StepFinish, *UserMessage:
		return false
	default:
		return true
	}
}
