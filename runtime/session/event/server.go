package event

import (
	"encoding/json"
	"time"

	"goa.design/coderun/runtime/session"
)

type (
	// ServerMessage is an outbound real-time message fanned out to viewers.
	// Each variant is a flat JSON object discriminated by "type"; the Kind
	// method returns the tag without marshaling.
	ServerMessage interface {
		// Kind returns the message type tag.
		Kind() MessageKind
	}

	// MessageKind is the server message type tag.
	MessageKind string

	// Pong answers a client ping.
	Pong struct {
		Type MessageKind `json:"type"`
	}

	// Subscribed confirms a successful subscription and carries the current
	// session state snapshot for the new viewer.
	Subscribed struct {
		Type          MessageKind   `json:"type"`
		SessionID     string        `json:"sessionId"`
		State         session.State `json:"state"`
		ParticipantID string        `json:"participantId,omitempty"`
	}

	// PromptQueued acknowledges an enqueued prompt with its queue position.
	PromptQueued struct {
		Type      MessageKind `json:"type"`
		MessageID string      `json:"messageId"`
		Position  int         `json:"position"`
	}

	// SandboxEventMessage relays a raw sandbox event to viewers.
	SandboxEventMessage struct {
		Type  MessageKind     `json:"type"`
		Event json.RawMessage `json:"event"`
	}

	// PresenceEntry describes one authenticated viewer.
	PresenceEntry struct {
		ParticipantID string `json:"participantId"`
		UserID        string `json:"userId"`
	}

	// PresenceSync carries the full authenticated viewer list.
	PresenceSync struct {
		Type         MessageKind     `json:"type"`
		Participants []PresenceEntry `json:"participants"`
	}

	// PresenceUpdate announces a viewer joining.
	PresenceUpdate struct {
		Type        MessageKind   `json:"type"`
		Participant PresenceEntry `json:"participant"`
	}

	// PresenceLeave announces a viewer leaving.
	PresenceLeave struct {
		Type          MessageKind `json:"type"`
		ParticipantID string      `json:"participantId"`
	}

	// SandboxStatusMessage reports sandbox lifecycle transitions
	// (sandbox_warming, sandbox_spawning, sandbox_status, sandbox_ready,
	// sandbox_error share this shape).
	SandboxStatusMessage struct {
		Type      MessageKind           `json:"type"`
		SandboxID string                `json:"sandboxId,omitempty"`
		Status    session.SandboxStatus `json:"status,omitempty"`
		Error     string                `json:"error,omitempty"`
	}

	// ErrorMessage reports a structured failure to one viewer.
	ErrorMessage struct {
		Type    MessageKind `json:"type"`
		Code    string      `json:"code"`
		Message string      `json:"message"`
	}

	// ArtifactCreated announces a new artifact.
	ArtifactCreated struct {
		Type     MessageKind      `json:"type"`
		Artifact session.Artifact `json:"artifact"`
	}

	// SessionStatusMessage announces a session status change.
	SessionStatusMessage struct {
		Type   MessageKind    `json:"type"`
		Status session.Status `json:"status"`
	}

	// ProcessingStatus reports whether the sandbox is actively processing.
	ProcessingStatus struct {
		Type         MessageKind `json:"type"`
		IsProcessing bool        `json:"isProcessing"`
	}

	// HistoryItem is one replayed event on a history page.
	HistoryItem struct {
		ID        string          `json:"id"`
		EventType Type            `json:"eventType"`
		Data      json.RawMessage `json:"data"`
		MessageID string          `json:"messageId,omitempty"`
		SandboxID string          `json:"sandboxId,omitempty"`
		CreatedAt time.Time       `json:"createdAt"`
	}

	// HistoryPage is a cursor-paginated slice of replayed events.
	HistoryPage struct {
		Type    MessageKind   `json:"type"`
		Items   []HistoryItem `json:"items"`
		HasMore bool          `json:"hasMore"`
		Cursor  string        `json:"cursor,omitempty"`
	}
)

const (
	// KindPong answers a ping.
	KindPong MessageKind = "pong"
	// KindSubscribed confirms a subscription.
	KindSubscribed MessageKind = "subscribed"
	// KindPromptQueued acknowledges an enqueued prompt.
	KindPromptQueued MessageKind = "prompt_queued"
	// KindSandboxEvent relays a raw sandbox event.
	KindSandboxEvent MessageKind = "sandbox_event"
	// KindPresenceSync carries the full viewer list.
	KindPresenceSync MessageKind = "presence_sync"
	// KindPresenceUpdate announces a join.
	KindPresenceUpdate MessageKind = "presence_update"
	// KindPresenceLeave announces a leave.
	KindPresenceLeave MessageKind = "presence_leave"
	// KindSandboxWarming reports a warm-pool spawn in progress.
	KindSandboxWarming MessageKind = "sandbox_warming"
	// KindSandboxSpawning reports a spawn in progress.
	KindSandboxSpawning MessageKind = "sandbox_spawning"
	// KindSandboxStatus reports a sandbox status change.
	KindSandboxStatus MessageKind = "sandbox_status"
	// KindSandboxReady reports the sandbox reaching ready.
	KindSandboxReady MessageKind = "sandbox_ready"
	// KindSandboxError reports a sandbox failure.
	KindSandboxError MessageKind = "sandbox_error"
	// KindError reports a structured failure.
	KindError MessageKind = "error"
	// KindArtifactCreated announces a new artifact.
	KindArtifactCreated MessageKind = "artifact_created"
	// KindSessionStatus announces a session status change.
	KindSessionStatus MessageKind = "session_status"
	// KindProcessingStatus reports processing activity.
	KindProcessingStatus MessageKind = "processing_status"
	// KindHistoryPage carries a page of replayed events.
	KindHistoryPage MessageKind = "history_page"
)

// MarshalServerMessage serializes a server message to its wire form. Every
// variant carries its own "type" field, so plain JSON marshaling yields the
// discriminated object clients expect.
func MarshalServerMessage(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Kind implements ServerMessage.
func (m Pong) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m Subscribed) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m PromptQueued) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m SandboxEventMessage) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m PresenceSync) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m PresenceUpdate) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m PresenceLeave) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m SandboxStatusMessage) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m ErrorMessage) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m ArtifactCreated) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m SessionStatusMessage) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m ProcessingStatus) Kind() MessageKind { return m.Type }

// Kind implements ServerMessage.
func (m HistoryPage) Kind() MessageKind { return m.Type }
