package actor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"goa.design/coderun/runtime/session"
	"goa.design/coderun/runtime/session/event"
	"goa.design/coderun/runtime/session/eventlog"
)

// HandleSandboxEvent is the central ingestion path for bridge-reported
// events. In order: it refreshes activity, short-circuits heartbeats (health
// only, never persisted), appends persist-eligible events to the log, applies
// type-specific side effects, and fans the raw event out to viewers when the
// broadcast policy allows.
//
// A no-op when the session is not initialized: the bridge may race session
// teardown and its events are then meaningless rather than erroneous.
func (a *Actor) HandleSandboxEvent(ctx context.Context, evt event.SandboxEvent) error {
	a.countIngested(ctx, evt.Type())

	a.mu.Lock()
	if a.sess == nil {
		a.mu.Unlock()
		log.Debug(ctx, log.KV{K: "msg", V: "sandbox event before init dropped"},
			log.KV{K: "session_id", V: a.id},
			log.KV{K: "type", V: string(evt.Type())})
		return nil
	}

	now := a.now()
	a.sandbox.LastActivity = &now

	if hb, ok := evt.(*event.Heartbeat); ok {
		a.sandbox.LastHeartbeat = &now
		if hb.Status == session.SandboxReady || hb.Status == session.SandboxRunning {
			a.sandbox.Status = hb.Status
		}
		a.sess.UpdatedAt = now
		a.mu.Unlock()
		return a.broadcastRaw(ctx, evt)
	}

	if a.persist(evt) {
		data, err := event.Encode(evt)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("encode sandbox event: %w", err)
		}
		if err := a.store.Append(ctx, a.id, &eventlog.Event{
			Type:      evt.Type(),
			Data:      data,
			MessageID: event.MessageID(evt),
			SandboxID: evt.SandboxID(),
			CreatedAt: now,
		}); err != nil {
			a.mu.Unlock()
			return fmt.Errorf("append sandbox event: %w", err)
		}
	}

	var followups []event.ServerMessage

	switch e := evt.(type) {
	case *event.StepStart:
		if m := a.findMessageLocked(e.MessageID); m != nil && m.Status == session.MessagePending {
			m.Status = session.MessageProcessing
			started := now
			m.StartedAt = &started
		}
	case *event.ExecutionComplete:
		if m := a.findMessageLocked(e.MessageID); m != nil {
			if e.Success {
				m.Status = session.MessageCompleted
			} else {
				m.Status = session.MessageFailed
			}
			completed := now
			m.CompletedAt = &completed
		}
		followups = append(followups, event.ProcessingStatus{
			Type:         event.KindProcessingStatus,
			IsProcessing: false,
		})
	case *event.GitSync:
		if e.SHA != "" {
			a.sess.CurrentSHA = e.SHA
			// First sync establishes the base commit.
			if a.sess.BaseSHA == "" {
				a.sess.BaseSHA = e.SHA
			}
		}
	case *event.Artifact:
		art := &session.Artifact{
			ID:        uuid.NewString(),
			Type:      e.ArtifactType,
			URL:       e.URL,
			Metadata:  e.Metadata,
			CreatedAt: now,
		}
		a.artifacts = append(a.artifacts, art)
		followups = append(followups, event.ArtifactCreated{
			Type:     event.KindArtifactCreated,
			Artifact: *art,
		})
	case *event.PushComplete:
		a.sess.BranchName = e.BranchName
	}

	a.sess.UpdatedAt = now
	a.mu.Unlock()

	if a.broadcast(evt) {
		if err := a.broadcastRaw(ctx, evt); err != nil {
			return err
		}
	}
	for _, msg := range followups {
		a.hub.Send(ctx, msg)
	}
	return nil
}

// broadcastRaw wraps the sandbox event in its relay envelope and fans it out.
func (a *Actor) broadcastRaw(ctx context.Context, evt event.SandboxEvent) error {
	data, err := event.Encode(evt)
	if err != nil {
		return fmt.Errorf("encode sandbox event: %w", err)
	}
	a.hub.Send(ctx, event.SandboxEventMessage{
		Type:  event.KindSandboxEvent,
		Event: data,
	})
	return nil
}

// findMessageLocked returns the message with the given ID, nil when absent.
// Callers must hold a.mu.
func (a *Actor) findMessageLocked(id string) *session.Message {
	if id == "" {
		return nil
	}
	for _, m := range a.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}
