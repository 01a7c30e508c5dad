// Package event defines the wire-level event vocabulary of the coordinator:
// the closed set of inbound sandbox events emitted by the in-sandbox bridge,
// and the outbound server messages fanned out to live viewers.
//
// Both families are modeled as closed sums: an interface with a type tag plus
// one concrete struct per variant. The codec and the actor's ingestion path
// switch exhaustively on the concrete types so that adding a variant breaks
// compilation at every dispatch site instead of silently dropping events.
package event

import (
	"encoding/json"
	"time"

	"goa.design/coderun/runtime/session"
)

type (
	// SandboxEvent is an inbound event reported by the sandbox bridge.
	// Concrete types carry typed payloads for each variant.
	//
	// Consumers use type switches to access variant fields:
	//
	//	switch e := evt.(type) {
	//	case *ExecutionComplete:
	//	    markDone(e.MessageID, e.Success)
	//	case *GitSync:
	//	    trackSHA(e.SHA)
	//	}
	SandboxEvent interface {
		// Type returns the event type tag (e.g., TypeHeartbeat, TypeToolCall).
		Type() Type
		// SandboxID identifies the sandbox instance that produced the event.
		// Empty for the variants the bridge relays without instance context
		// (push_complete, push_error, user_message).
		SandboxID() string
		// OccurredAt returns the bridge-reported event time, zero when the
		// variant carries no timestamp.
		OccurredAt() time.Time
	}

	// Type is the sandbox event type tag.
	Type string

	// base carries the fields shared by every sandbox event variant. Field
	// names are short because they are set once at decode time and read only
	// through the interface methods.
	base struct {
		// SB is the reporting sandbox instance ID.
		SB string
		// At is the bridge-reported event time.
		At time.Time
	}

	// Heartbeat is the periodic liveness report. Heartbeats update sandbox
	// health and may adopt a ready/running status, but are never persisted.
	Heartbeat struct {
		base
		// Status is the sandbox status as seen by the bridge.
		Status session.SandboxStatus
	}

	// Token is an incremental chunk of agent output text.
	Token struct {
		base
		// Content is the text chunk.
		Content string
		// MessageID is the prompt the chunk belongs to.
		MessageID string
	}

	// ToolCall reports a tool invocation and its progress.
	ToolCall struct {
		base
		// Tool is the tool name.
		Tool string
		// Args is the JSON-encoded tool input.
		Args json.RawMessage
		// CallID correlates the call with its result.
		CallID string
		// Status is the call progress: empty, pending, running, completed, error.
		Status string
		// Output is the JSON-encoded partial or final output, when present.
		Output json.RawMessage
		// MessageID is the prompt that triggered the call.
		MessageID string
	}

	// ToolResult reports the final result of a tool call.
	ToolResult struct {
		base
		// CallID correlates the result with its call.
		CallID string
		// Result is the JSON-encoded tool result.
		Result json.RawMessage
		// Error is the tool failure message, empty on success.
		Error string
		// MessageID is the prompt that triggered the call.
		MessageID string
	}

	// StepStart marks the beginning of an agent step for a message.
	StepStart struct {
		base
		// MessageID is the prompt being processed.
		MessageID string
		// IsSubtask reports whether the step belongs to a decomposed subtask.
		IsSubtask bool
	}

	// StepFinish marks the end of an agent step.
	StepFinish struct {
		base
		// MessageID is the prompt being processed.
		MessageID string
		// Cost is the provider-reported cost of the step, when known.
		Cost float64
		// Tokens is the token count consumed by the step, when known.
		Tokens int
		// Reason is the provider stop reason.
		Reason string
		// IsSubtask reports whether the step belonged to a decomposed subtask.
		IsSubtask bool
	}

	// GitSync reports repository sync progress. A sync carrying a SHA updates
	// the session's current commit and seeds the base commit on first sync.
	GitSync struct {
		base
		// Status describes the sync phase (cloning, synced, error).
		Status string
		// SHA is the synced commit, when the phase reports one.
		SHA string
	}

	// Error reports a non-fatal agent error attributed to a message.
	Error struct {
		base
		// Error is the failure description.
		Error string
		// MessageID is the prompt the error is attributed to.
		MessageID string
	}

	// ExecutionComplete reports that a message finished processing.
	ExecutionComplete struct {
		base
		// MessageID is the finished prompt.
		MessageID string
		// Success reports whether the prompt completed without error.
		Success bool
		// Error is the failure description when Success is false.
		Error string
	}

	// Artifact reports a durable side-product produced by the agent.
	Artifact struct {
		base
		// ArtifactType classifies the artifact (pr, screenshot, branch, preview).
		ArtifactType string
		// URL locates the artifact.
		URL string
		// Metadata carries artifact-specific details.
		Metadata map[string]any
	}

	// PushComplete reports a successful branch push.
	PushComplete struct {
		base
		// BranchName is the branch that was pushed.
		BranchName string
	}

	// PushError reports a failed branch push.
	PushError struct {
		base
		// BranchName is the branch the push targeted.
		BranchName string
		// Error is the push failure description.
		Error string
	}

	// UserMessage echoes a user prompt injected from outside the primary
	// transport (e.g., a chat relay), so the log replays the full conversation.
	UserMessage struct {
		base
		// Content is the prompt text.
		Content string
		// MessageID is the message the prompt was recorded under.
		MessageID string
		// Author identifies the prompt author, when known.
		Author string
	}
)

const (
	// TypeHeartbeat is the periodic liveness report.
	TypeHeartbeat Type = "heartbeat"
	// TypeToken is incremental agent output text.
	TypeToken Type = "token"
	// TypeToolCall is a tool invocation or progress update.
	TypeToolCall Type = "tool_call"
	// TypeToolResult is the final result of a tool call.
	TypeToolResult Type = "tool_result"
	// TypeStepStart marks the start of an agent step.
	TypeStepStart Type = "step_start"
	// TypeStepFinish marks the end of an agent step.
	TypeStepFinish Type = "step_finish"
	// TypeGitSync is repository sync progress.
	TypeGitSync Type = "git_sync"
	// TypeError is a non-fatal agent error.
	TypeError Type = "error"
	// TypeExecutionComplete marks a message as finished.
	TypeExecutionComplete Type = "execution_complete"
	// TypeArtifact reports a durable side-product.
	TypeArtifact Type = "artifact"
	// TypePushComplete reports a successful branch push.
	TypePushComplete Type = "push_complete"
	// TypePushError reports a failed branch push.
	TypePushError Type = "push_error"
	// TypeUserMessage echoes an externally injected user prompt.
	TypeUserMessage Type = "user_message"
)

func (b base) SandboxID() string     { return b.SB }
func (b base) OccurredAt() time.Time { return b.At }

// Type implements SandboxEvent.
func (*Heartbeat) Type() Type { return TypeHeartbeat }

// Type implements SandboxEvent.
func (*Token) Type() Type { return TypeToken }

// Type implements SandboxEvent.
func (*ToolCall) Type() Type { return TypeToolCall }

// Type implements SandboxEvent.
func (*ToolResult) Type() Type { return TypeToolResult }

// Type implements SandboxEvent.
func (*StepStart) Type() Type { return TypeStepStart }

// Type implements SandboxEvent.
func (*StepFinish) Type() Type { return TypeStepFinish }

// Type implements SandboxEvent.
func (*GitSync) Type() Type { return TypeGitSync }

// Type implements SandboxEvent.
func (*Error) Type() Type { return TypeError }

// Type implements SandboxEvent.
func (*ExecutionComplete) Type() Type { return TypeExecutionComplete }

// Type implements SandboxEvent.
func (*Artifact) Type() Type { return TypeArtifact }

// Type implements SandboxEvent.
func (*PushComplete) Type() Type { return TypePushComplete }

// Type implements SandboxEvent.
func (*PushError) Type() Type { return TypePushError }

// Type implements SandboxEvent.
func (*UserMessage) Type() Type { return TypeUserMessage }

// MessageID returns the message a sandbox event is attributed to, or empty
// when the variant carries none. The actor uses this to stamp persisted log
// entries without switching on every variant.
func MessageID(evt SandboxEvent) string {
	switch e := evt.(type) {
	case *Token:
		return e.MessageID
	case *ToolCall:
		return e.MessageID
	case *ToolResult:
		return e.MessageID
	case *StepStart:
		return e.MessageID
	case *StepFinish:
		return e.MessageID
	case *Error:
		return e.MessageID
	case *ExecutionComplete:
		return e.MessageID
	case *UserMessage:
		return e.MessageID
	default:
		return ""
	}
}
