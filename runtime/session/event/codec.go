package event

import (
	"encoding/json"
	"fmt"
	"time"

	"goa.design/coderun/runtime/session"
)

// envelope is the union of every sandbox event variant's wire fields. The
// bridge emits flat JSON objects discriminated by "type"; decoding reads the
// superset and projects it onto the matching concrete type.
type envelope struct {
	Type         Type            `json:"type"`
	SandboxID    string          `json:"sandboxId,omitempty"`
	Timestamp    *time.Time      `json:"timestamp,omitempty"`
	Status       string          `json:"status,omitempty"`
	Content      string          `json:"content,omitempty"`
	MessageID    string          `json:"messageId,omitempty"`
	Tool         string          `json:"tool,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	CallID       string          `json:"callId,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	IsSubtask    bool            `json:"isSubtask,omitempty"`
	Cost         float64         `json:"cost,omitempty"`
	Tokens       int             `json:"tokens,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	SHA          string          `json:"sha,omitempty"`
	Success      bool            `json:"success,omitempty"`
	ArtifactType string          `json:"artifactType,omitempty"`
	URL          string          `json:"url,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	BranchName   string          `json:"branchName,omitempty"`
	Author       string          `json:"author,omitempty"`
}

// UnknownTypeError indicates a sandbox event with a type tag outside the
// closed set. The coordinator rejects the event rather than guessing.
type UnknownTypeError struct {
	// Tag is the unrecognized type value.
	Tag string
}

// Error implements error.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown sandbox event type %q", e.Tag)
}

// Decode parses a raw bridge payload into its typed sandbox event. It returns
// an *UnknownTypeError for type tags outside the closed set so callers can
// distinguish schema drift from malformed JSON.
func Decode(data []byte) (SandboxEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode sandbox event: %w", err)
	}
	b := base{SB: env.SandboxID}
	if env.Timestamp != nil {
		b.At = env.Timestamp.UTC()
	}
	switch env.Type {
	case TypeHeartbeat:
		return &Heartbeat{base: b, Status: session.SandboxStatus(env.Status)}, nil
	case TypeToken:
		return &Token{base: b, Content: env.Content, MessageID: env.MessageID}, nil
	case TypeToolCall:
		return &ToolCall{
			base:      b,
			Tool:      env.Tool,
			Args:      env.Args,
			CallID:    env.CallID,
			Status:    env.Status,
			Output:    env.Output,
			MessageID: env.MessageID,
		}, nil
	case TypeToolResult:
		return &ToolResult{
			base:      b,
			CallID:    env.CallID,
			Result:    env.Result,
			Error:     env.Error,
			MessageID: env.MessageID,
		}, nil
	case TypeStepStart:
		return &StepStart{base: b, MessageID: env.MessageID, IsSubtask: env.IsSubtask}, nil
	case TypeStepFinish:
		return &StepFinish{
			base:      b,
			MessageID: env.MessageID,
			Cost:      env.Cost,
			Tokens:    env.Tokens,
			Reason:    env.Reason,
			IsSubtask: env.IsSubtask,
		}, nil
	case TypeGitSync:
		return &GitSync{base: b, Status: env.Status, SHA: env.SHA}, nil
	case TypeError:
		return &Error{base: b, Error: env.Error, MessageID: env.MessageID}, nil
	case TypeExecutionComplete:
		return &ExecutionComplete{
			base:      b,
			MessageID: env.MessageID,
			Success:   env.Success,
			Error:     env.Error,
		}, nil
	case TypeArtifact:
		return &Artifact{
			base:         b,
			ArtifactType: env.ArtifactType,
			URL:          env.URL,
			Metadata:     env.Metadata,
		}, nil
	case TypePushComplete:
		return &PushComplete{base: b, BranchName: env.BranchName}, nil
	case TypePushError:
		return &PushError{base: b, BranchName: env.BranchName, Error: env.Error}, nil
	case TypeUserMessage:
		return &UserMessage{
			base:      b,
			Content:   env.Content,
			MessageID: env.MessageID,
			Author:    env.Author,
		}, nil
	default:
		return nil, &UnknownTypeError{Tag: string(env.Type)}
	}
}

// Encode serializes a sandbox event back to its wire form. The switch is
// exhaustive over the closed set; encoding an unknown implementation is a
// programming error and returns an *UnknownTypeError.
func Encode(evt SandboxEvent) ([]byte, error) {
	env := envelope{Type: evt.Type(), SandboxID: evt.SandboxID()}
	if at := evt.OccurredAt(); !at.IsZero() {
		utc := at.UTC()
		env.Timestamp = &utc
	}
	switch e := evt.(type) {
	case *Heartbeat:
		env.Status = string(e.Status)
	case *Token:
		env.Content = e.Content
		env.MessageID = e.MessageID
	case *ToolCall:
		env.Tool = e.Tool
		env.Args = e.Args
		env.CallID = e.CallID
		env.Status = e.Status
		env.Output = e.Output
		env.MessageID = e.MessageID
	case *ToolResult:
		env.CallID = e.CallID
		env.Result = e.Result
		env.Error = e.Error
		env.MessageID = e.MessageID
	case *StepStart:
		env.MessageID = e.MessageID
		env.IsSubtask = e.IsSubtask
	case *StepFinish:
		env.MessageID = e.MessageID
		env.Cost = e.Cost
		env.Tokens = e.Tokens
		env.Reason = e.Reason
		env.IsSubtask = e.IsSubtask
	case *GitSync:
		env.Status = e.Status
		env.SHA = e.SHA
	case *Error:
		env.Error = e.Error
		env.MessageID = e.MessageID
	case *ExecutionComplete:
		env.MessageID = e.MessageID
		env.Success = e.Success
		env.Error = e.Error
	case *Artifact:
		env.ArtifactType = e.ArtifactType
		env.URL = e.URL
		env.Metadata = e.Metadata
	case *PushComplete:
		env.BranchName = e.BranchName
	case *PushError:
		env.BranchName = e.BranchName
		env.Error = e.Error
	case *UserMessage:
		env.Content = e.Content
		env.MessageID = e.MessageID
		env.Author = e.Author
	default:
		return nil, &UnknownTypeError{Tag: string(evt.Type())}
	}
	return json.Marshal(env)
}
