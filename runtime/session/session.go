// Package session defines the domain model for coding-agent sessions.
//
// A Session binds a chat-like conversation to a repository and to an
// ephemeral execution sandbox. The package holds only data types, status
// machines, and the sentinel errors shared by the coordinator; all mutation
// happens through the actor package, which owns exactly one copy of this
// state per session ID.
package session

import (
	"errors"
	"time"
)

type (
	// Session is the long-lived unit of work binding a conversation to a
	// repository and an agent execution sandbox.
	//
	// Contract:
	// - Created exactly once by the coordinator's Init operation.
	// - Status advances created → active → archived (⇄ active); completed is
	//   terminal and reachable only administratively.
	// - Never deleted by the coordinator; deletion is an index-level concern.
	Session struct {
		// ID is the durable session identifier.
		ID string `json:"id"`
		// RepoOwner is the owning account of the bound repository.
		RepoOwner string `json:"repoOwner"`
		// RepoName is the name of the bound repository.
		RepoName string `json:"repoName"`
		// RepoID is the provider-assigned repository identifier, if known.
		RepoID string `json:"repoId,omitempty"`
		// DefaultBranch is the repository default branch at bind time.
		DefaultBranch string `json:"defaultBranch,omitempty"`
		// BranchName is the working branch the sandbox pushes to.
		BranchName string `json:"branchName,omitempty"`
		// BaseSHA is the commit the working branch was cut from. Seeded by the
		// first git_sync event that reports a SHA.
		BaseSHA string `json:"baseSha,omitempty"`
		// CurrentSHA tracks the latest synced commit.
		CurrentSHA string `json:"currentSha,omitempty"`
		// Model is the model selection applied to prompts without an override.
		Model string `json:"model,omitempty"`
		// ReasoningEffort is the reasoning-effort selection for the model.
		ReasoningEffort string `json:"reasoningEffort,omitempty"`
		// Status is the session lifecycle state.
		Status Status `json:"status"`
		// CreatedAt records when the session was initialized.
		CreatedAt time.Time `json:"createdAt"`
		// UpdatedAt records the last mutation applied by the coordinator.
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Sandbox is the ephemeral execution environment bound 1:1 to a session.
	// A new spawn replaces identity, token hash, and provider reference; at
	// most one live instance exists per session.
	Sandbox struct {
		// ID identifies the current sandbox instance. Reassigned on each spawn.
		ID string `json:"id"`
		// Status is the sandbox lifecycle state.
		Status SandboxStatus `json:"status"`
		// ProviderRef is the opaque provider object reference for the live
		// instance. Invalidated by a new spawn.
		ProviderRef string `json:"-"`
		// AuthTokenHash is the hash of the sandbox auth token. The plaintext
		// token lives only inside the sandbox.
		AuthTokenHash string `json:"-"`
		// SnapshotImage references a snapshot the sandbox can be restored
		// from, when one exists.
		SnapshotImage string `json:"snapshotImage,omitempty"`
		// LastActivity is the time of the last inbound sandbox event.
		LastActivity *time.Time `json:"lastActivity,omitempty"`
		// LastHeartbeat is the time of the last heartbeat event.
		LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
		// LastSpawnError records the most recent spawn failure reason.
		LastSpawnError string `json:"lastSpawnError,omitempty"`
		// LastSpawnErrorAt records when the most recent spawn failure occurred.
		LastSpawnErrorAt *time.Time `json:"lastSpawnErrorAt,omitempty"`
		// CreatedAt is reset on each spawn and anchors cooldown and
		// ready-wait calculations.
		CreatedAt time.Time `json:"createdAt"`
	}

	// Participant is a user attached to a session. Participants are
	// deduplicated by user ID; the owner is created at session init when an
	// owner ID is supplied.
	Participant struct {
		// ID is the participant identifier within the session.
		ID string `json:"id"`
		// UserID is the stable identity of the user across sessions.
		UserID string `json:"userId"`
		// DisplayName is the user's display name.
		DisplayName string `json:"displayName,omitempty"`
		// Login is the user's provider login.
		Login string `json:"login,omitempty"`
		// Role is owner or member.
		Role Role `json:"role"`
		// JoinedAt records when the participant joined.
		JoinedAt time.Time `json:"joinedAt"`
	}

	// Message is a single prompt enqueued against the session. Immutable once
	// completed or failed except for timestamp fields.
	Message struct {
		// ID is the message identifier.
		ID string `json:"id"`
		// AuthorID identifies the participant or user who wrote the prompt.
		AuthorID string `json:"authorId"`
		// Content is the prompt text.
		Content string `json:"content"`
		// Source records where the prompt originated (web, api, relay).
		Source string `json:"source,omitempty"`
		// Model is the per-message model override, if any.
		Model string `json:"model,omitempty"`
		// ReasoningEffort is the per-message effort override, if any.
		ReasoningEffort string `json:"reasoningEffort,omitempty"`
		// Status is the message lifecycle state.
		Status MessageStatus `json:"status"`
		// CreatedAt records when the prompt was enqueued.
		CreatedAt time.Time `json:"createdAt"`
		// StartedAt is set when the sandbox begins processing the message.
		StartedAt *time.Time `json:"startedAt,omitempty"`
		// CompletedAt is set when the message reaches a terminal status.
		CompletedAt *time.Time `json:"completedAt,omitempty"`
	}

	// Artifact is a durable side-product of a session: a pull request, a
	// screenshot, a branch, a preview URL.
	Artifact struct {
		// ID is the artifact identifier.
		ID string `json:"id"`
		// Type classifies the artifact (pr, screenshot, branch, preview).
		Type string `json:"type"`
		// URL locates the artifact, when it has one.
		URL string `json:"url,omitempty"`
		// Metadata carries artifact-specific details.
		Metadata map[string]any `json:"metadata,omitempty"`
		// CreatedAt records when the artifact was reported.
		CreatedAt time.Time `json:"createdAt"`
	}

	// CircuitBreakerState tracks consecutive spawn failures. It is plain
	// actor-owned state: the single-writer invariant serializes access.
	CircuitBreakerState struct {
		// FailureCount is the number of failures recorded since the last reset.
		FailureCount int
		// LastFailureTime is the time of the most recent failure.
		LastFailureTime time.Time
	}

	// State is a point-in-time snapshot of a session handed to subscribers on
	// attach. Slices are copies; mutating them does not affect actor state.
	State struct {
		Session      Session       `json:"session"`
		Sandbox      Sandbox       `json:"sandbox"`
		Participants []Participant `json:"participants"`
		Messages     []Message     `json:"messages"`
		Artifacts    []Artifact    `json:"artifacts"`
	}

	// Status is the session lifecycle state.
	Status string

	// SandboxStatus is the sandbox lifecycle state.
	SandboxStatus string

	// MessageStatus is the message lifecycle state.
	MessageStatus string

	// Role is the participant role within a session.
	Role string
)

const (
	// StatusCreated indicates the session exists but has received no prompt.
	StatusCreated Status = "created"
	// StatusActive indicates the session has received at least one prompt.
	StatusActive Status = "active"
	// StatusCompleted is terminal and set only administratively.
	StatusCompleted Status = "completed"
	// StatusArchived indicates the session is archived and hidden from
	// default listings. Unarchive returns it to active.
	StatusArchived Status = "archived"
)

const (
	// SandboxPending indicates the sandbox record exists but no spawn has started.
	SandboxPending SandboxStatus = "pending"
	// SandboxSpawning indicates the provider is creating the instance.
	SandboxSpawning SandboxStatus = "spawning"
	// SandboxConnecting indicates the instance is up but the bridge has not connected.
	SandboxConnecting SandboxStatus = "connecting"
	// SandboxWarming indicates the bridge is installing the agent toolchain.
	SandboxWarming SandboxStatus = "warming"
	// SandboxSyncing indicates the repository clone/sync is in progress.
	SandboxSyncing SandboxStatus = "syncing"
	// SandboxReady indicates the sandbox is idle and able to take prompts.
	SandboxReady SandboxStatus = "ready"
	// SandboxRunning indicates the agent is executing a prompt.
	SandboxRunning SandboxStatus = "running"
	// SandboxStale indicates heartbeats stopped while the instance may still exist.
	SandboxStale SandboxStatus = "stale"
	// SandboxSnapshotting indicates a snapshot is being captured.
	SandboxSnapshotting SandboxStatus = "snapshotting"
	// SandboxStopped indicates the instance was shut down.
	SandboxStopped SandboxStatus = "stopped"
	// SandboxFailed indicates the last spawn or run failed.
	SandboxFailed SandboxStatus = "failed"
)

const (
	// MessagePending indicates the prompt is queued and not yet picked up.
	MessagePending MessageStatus = "pending"
	// MessageProcessing indicates the sandbox is working on the prompt.
	MessageProcessing MessageStatus = "processing"
	// MessageCompleted indicates the prompt finished. Stop also forces
	// processing messages here: stopping is not an error.
	MessageCompleted MessageStatus = "completed"
	// MessageFailed indicates the prompt terminated with an error.
	MessageFailed MessageStatus = "failed"
)

const (
	// RoleOwner is the session owner.
	RoleOwner Role = "owner"
	// RoleMember is any other participant.
	RoleMember Role = "member"
)

var (
	// ErrNotInitialized indicates an operation ran before Init.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrAlreadyInitialized indicates Init ran on an initialized session.
	ErrAlreadyInitialized = errors.New("session already initialized")
	// ErrNotArchived indicates Unarchive ran on a session that is not archived.
	ErrNotArchived = errors.New("session not archived")
	// ErrEmptyContent indicates a prompt with no content was rejected.
	ErrEmptyContent = errors.New("prompt content is required")
)

// Terminal reports whether the sandbox status is terminal for lifecycle
// decisions: the instance is gone or unusable without a restore.
func (s SandboxStatus) Terminal() bool {
	return s == SandboxStopped || s == SandboxFailed || s == SandboxStale
}

// Live reports whether the sandbox status indicates a usable instance.
func (s SandboxStatus) Live() bool {
	return s == SandboxReady || s == SandboxRunning
}
