package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"goa.design/coderun/runtime/session"
	"goa.design/coderun/runtime/session/event"
	"goa.design/coderun/runtime/session/eventlog"
	"goa.design/coderun/runtime/session/token"
)

type (
	// InitParams carries everything needed to initialize a session.
	InitParams struct {
		// RepoOwner is the owning account of the repository. Required.
		RepoOwner string
		// RepoName is the repository name. Required.
		RepoName string
		// RepoID is the provider-assigned repository identifier.
		RepoID string
		// DefaultBranch is the repository default branch.
		DefaultBranch string
		// OwnerUserID, when set, creates the owner participant.
		OwnerUserID string
		// OwnerDisplayName is the owner's display name.
		OwnerDisplayName string
		// OwnerLogin is the owner's provider login.
		OwnerLogin string
		// Model is the initial model selection.
		Model string
		// ReasoningEffort is the initial reasoning-effort selection.
		ReasoningEffort string
	}

	// InitResult reports the outcome of Init.
	InitResult struct {
		// AlreadyInitialized reports that the session existed and nothing
		// was mutated.
		AlreadyInitialized bool
		// State is the session state after the call.
		State session.State
	}

	// PromptParams carries one prompt to enqueue.
	PromptParams struct {
		// AuthorID identifies the prompt author. Required.
		AuthorID string
		// Content is the prompt text. Required non-empty.
		Content string
		// Source records where the prompt originated.
		Source string
		// Model, when set, overrides the session model for this and all
		// subsequent prompts.
		Model string
		// ReasoningEffort, when set, overrides the session effort likewise.
		ReasoningEffort string
	}

	// PromptResult acknowledges an enqueued prompt.
	PromptResult struct {
		// MessageID is the identifier of the appended message.
		MessageID string
		// Position is the count of pending messages immediately after
		// insertion. Not a global counter: it shrinks as older messages
		// complete.
		Position int
	}
)

// Init creates the session and its sandbox record. Idempotent: a second call
// reports AlreadyInitialized without mutating anything. This is the only
// place Session and Sandbox are created.
func (a *Actor) Init(ctx context.Context, p InitParams) (InitResult, error) {
	if strings.TrimSpace(p.RepoOwner) == "" {
		return InitResult{}, fmt.Errorf("repo owner is required")
	}
	if strings.TrimSpace(p.RepoName) == "" {
		return InitResult{}, fmt.Errorf("repo name is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess != nil {
		return InitResult{AlreadyInitialized: true, State: a.snapshotLocked()}, nil
	}

	now := a.now()
	a.sess = &session.Session{
		ID:              a.id,
		RepoOwner:       p.RepoOwner,
		RepoName:        p.RepoName,
		RepoID:          p.RepoID,
		DefaultBranch:   p.DefaultBranch,
		Model:           p.Model,
		ReasoningEffort: p.ReasoningEffort,
		Status:          session.StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a.sandbox = &session.Sandbox{
		ID:        uuid.NewString(),
		Status:    session.SandboxPending,
		CreatedAt: now,
	}
	if p.OwnerUserID != "" {
		a.participants = append(a.participants, &session.Participant{
			ID:          uuid.NewString(),
			UserID:      p.OwnerUserID,
			DisplayName: p.OwnerDisplayName,
			Login:       p.OwnerLogin,
			Role:        session.RoleOwner,
			JoinedAt:    now,
		})
	}

	log.Info(ctx, log.KV{K: "msg", V: "session initialized"},
		log.KV{K: "session_id", V: a.id},
		log.KV{K: "repo", V: p.RepoOwner + "/" + p.RepoName})
	return InitResult{State: a.snapshotLocked()}, nil
}

// AddParticipant attaches a user to the session, deduplicating by user ID.
// Returns the existing participant when the user already joined.
func (a *Actor) AddParticipant(_ context.Context, userID, displayName, login string) (session.Participant, error) {
	if userID == "" {
		return session.Participant{}, fmt.Errorf("user id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess == nil {
		return session.Participant{}, session.ErrNotInitialized
	}
	for _, p := range a.participants {
		if p.UserID == userID {
			return *p, nil
		}
	}
	p := &session.Participant{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		Login:       login,
		Role:        session.RoleMember,
		JoinedAt:    a.now(),
	}
	a.participants = append(a.participants, p)
	a.sess.UpdatedAt = a.now()
	return *p, nil
}

// EnqueuePrompt appends a pending message, promotes a freshly created session
// to active, records a user_message event for replay, and acknowledges the
// prompt to viewers.
func (a *Actor) EnqueuePrompt(ctx context.Context, p PromptParams) (PromptResult, error) {
	if strings.TrimSpace(p.Content) == "" {
		return PromptResult{}, session.ErrEmptyContent
	}

	a.mu.Lock()
	if a.sess == nil {
		a.mu.Unlock()
		return PromptResult{}, session.ErrNotInitialized
	}

	now := a.now()
	msg := &session.Message{
		ID:              uuid.NewString(),
		AuthorID:        p.AuthorID,
		Content:         p.Content,
		Source:          p.Source,
		Model:           p.Model,
		ReasoningEffort: p.ReasoningEffort,
		Status:          session.MessagePending,
		CreatedAt:       now,
	}
	a.messages = append(a.messages, msg)

	if a.sess.Status == session.StatusCreated {
		a.sess.Status = session.StatusActive
	}
	// A per-prompt override becomes the session default for what follows.
	if p.Model != "" {
		a.sess.Model = p.Model
	}
	if p.ReasoningEffort != "" {
		a.sess.ReasoningEffort = p.ReasoningEffort
	}

	position := 0
	for _, m := range a.messages {
		if m.Status == session.MessagePending {
			position++
		}
	}

	data, err := event.Encode(&event.UserMessage{
		Content:   p.Content,
		MessageID: msg.ID,
		Author:    p.AuthorID,
	})
	if err != nil {
		a.mu.Unlock()
		return PromptResult{}, fmt.Errorf("encode user message: %w", err)
	}
	if err := a.store.Append(ctx, a.id, &eventlog.Event{
		Type:      event.TypeUserMessage,
		Data:      data,
		MessageID: msg.ID,
		CreatedAt: now,
	}); err != nil {
		a.mu.Unlock()
		return PromptResult{}, fmt.Errorf("append user message event: %w", err)
	}

	a.sess.UpdatedAt = now
	a.mu.Unlock()

	a.hub.Send(ctx, event.PromptQueued{
		Type:      event.KindPromptQueued,
		MessageID: msg.ID,
		Position:  position,
	})
	return PromptResult{MessageID: msg.ID, Position: position}, nil
}

// Stop forces every processing message to completed and tells viewers that
// processing ended. Stopping is cooperative and not an error, so messages
// land in completed, never failed. Returns false when the session is not
// initialized.
func (a *Actor) Stop(ctx context.Context) bool {
	a.mu.Lock()
	if a.sess == nil {
		a.mu.Unlock()
		return false
	}
	now := a.now()
	for _, m := range a.messages {
		if m.Status == session.MessageProcessing {
			m.Status = session.MessageCompleted
			completed := now
			m.CompletedAt = &completed
		}
	}
	a.sess.UpdatedAt = now
	a.mu.Unlock()

	a.hub.Send(ctx, event.ProcessingStatus{Type: event.KindProcessingStatus, IsProcessing: false})
	return true
}

// Archive moves the session to archived and announces the change.
func (a *Actor) Archive(ctx context.Context) error {
	a.mu.Lock()
	if a.sess == nil {
		a.mu.Unlock()
		return session.ErrNotInitialized
	}
	a.sess.Status = session.StatusArchived
	a.sess.UpdatedAt = a.now()
	a.mu.Unlock()

	a.hub.Send(ctx, event.SessionStatusMessage{Type: event.KindSessionStatus, Status: session.StatusArchived})
	return nil
}

// Unarchive returns an archived session to active. Fails with ErrNotArchived
// when the session is in any other status.
func (a *Actor) Unarchive(ctx context.Context) error {
	a.mu.Lock()
	if a.sess == nil {
		a.mu.Unlock()
		return session.ErrNotInitialized
	}
	if a.sess.Status != session.StatusArchived {
		a.mu.Unlock()
		return session.ErrNotArchived
	}
	a.sess.Status = session.StatusActive
	a.sess.UpdatedAt = a.now()
	a.mu.Unlock()

	a.hub.Send(ctx, event.SessionStatusMessage{Type: event.KindSessionStatus, Status: session.StatusActive})
	return nil
}

// Events returns a forward page of the session's event log. Pagination starts
// strictly after the filter cursor; an unknown cursor restarts from the
// beginning so clients keep making progress after compaction.
func (a *Actor) Events(ctx context.Context, f eventlog.Filter) (eventlog.Page, error) {
	return a.store.List(ctx, a.id, f)
}

// History wraps Events in the history_page wire shape.
func (a *Actor) History(ctx context.Context, f eventlog.Filter) (event.HistoryPage, error) {
	page, err := a.store.List(ctx, a.id, f)
	if err != nil {
		return event.HistoryPage{}, err
	}
	items := make([]event.HistoryItem, len(page.Events))
	for i, e := range page.Events {
		items[i] = event.HistoryItem{
			ID:        e.ID,
			EventType: e.Type,
			Data:      json.RawMessage(e.Data),
			MessageID: e.MessageID,
			SandboxID: e.SandboxID,
			CreatedAt: e.CreatedAt,
		}
	}
	return event.HistoryPage{
		Type:    event.KindHistoryPage,
		Items:   items,
		HasMore: page.HasMore,
		Cursor:  page.Cursor,
	}, nil
}

// GenerateWSToken mints a short-lived opaque token a client presents to
// subscribe. Expired grants are pruned on each mint.
func (a *Actor) GenerateWSToken(_ context.Context, participantID string) (token.WSGrant, error) {
	if participantID == "" {
		return token.WSGrant{}, fmt.Errorf("participant id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess == nil {
		return token.WSGrant{}, session.ErrNotInitialized
	}

	now := a.now()
	for tok, grant := range a.wsGrants {
		if grant.Expired(now) {
			delete(a.wsGrants, tok)
		}
	}
	grant, err := token.NewWSGrant(participantID, now)
	if err != nil {
		return token.WSGrant{}, err
	}
	a.wsGrants[grant.Token] = grant
	return grant, nil
}

// Subscribe authenticates a registered connection with a WebSocket grant,
// announces presence, and hands the new viewer the state snapshot plus the
// current presence list. Grants are single-use.
func (a *Actor) Subscribe(ctx context.Context, connID, wsToken string) error {
	a.mu.Lock()
	if a.sess == nil {
		a.mu.Unlock()
		return session.ErrNotInitialized
	}
	grant, ok := a.wsGrants[wsToken]
	if !ok || grant.Expired(a.now()) {
		delete(a.wsGrants, wsToken)
		a.mu.Unlock()
		return fmt.Errorf("invalid or expired subscription token")
	}
	delete(a.wsGrants, wsToken)
	userID := ""
	for _, p := range a.participants {
		if p.ID == grant.ParticipantID {
			userID = p.UserID
			break
		}
	}
	state := a.snapshotLocked()
	a.mu.Unlock()

	if !a.hub.Authenticate(ctx, connID, grant.ParticipantID, userID) {
		return fmt.Errorf("connection %q is not registered", connID)
	}
	if err := a.hub.SendTo(ctx, connID, event.Subscribed{
		Type:          event.KindSubscribed,
		SessionID:     a.id,
		State:         state,
		ParticipantID: grant.ParticipantID,
	}); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "subscribed ack dropped"},
			log.KV{K: "session_id", V: a.id},
			log.KV{K: "err", V: err.Error()})
	}
	if err := a.hub.SendTo(ctx, connID, event.PresenceSync{
		Type:         event.KindPresenceSync,
		Participants: a.hub.Presence(),
	}); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "presence sync dropped"},
			log.KV{K: "session_id", V: a.id},
			log.KV{K: "err", V: err.Error()})
	}
	return nil
}

// VerifySandboxToken accepts a sandbox bridge credential only when the
// sandbox ID matches the current instance and the token's hash equals the
// stored hash. The comparison is constant time.
func (a *Actor) VerifySandboxToken(ctx context.Context, tok, sandboxID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess == nil || a.sandbox == nil {
		return false, session.ErrNotInitialized
	}
	if sandboxID == "" || a.sandbox.ID != sandboxID || a.sandbox.AuthTokenHash == "" {
		return false, nil
	}
	hash, err := a.cipher.Hash(ctx, tok)
	if err != nil {
		return false, fmt.Errorf("hash sandbox token: %w", err)
	}
	return token.VerifyHash(hash, a.sandbox.AuthTokenHash), nil
}
