package actor

import (
	"context"
	"fmt"

	"goa.design/clue/log"

	"goa.design/coderun/runtime/session"
	"goa.design/coderun/runtime/session/event"
	"goa.design/coderun/runtime/session/lifecycle"
)

// SpawnDecision consults the lifecycle engine to decide whether and how to
// provision the sandbox. The circuit breaker is evaluated first: an open
// breaker suppresses any provisioning with a skip carrying the remaining
// wait, and an elapsed window resets the breaker before the spawn rules run.
func (a *Actor) SpawnDecision(ctx context.Context) (lifecycle.SpawnDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess == nil || a.sandbox == nil {
		return lifecycle.SpawnDecision{}, session.ErrNotInitialized
	}

	now := a.now()
	bd := lifecycle.CheckBreaker(a.breaker, a.cfg.Breaker, now)
	if bd.Reset {
		a.breaker = session.CircuitBreakerState{}
		log.Debug(ctx, log.KV{K: "msg", V: "circuit breaker reset"},
			log.KV{K: "session_id", V: a.id})
	}
	if !bd.Proceed {
		return lifecycle.SpawnDecision{
			Action: lifecycle.ActionSkip,
			Reason: "circuit breaker open",
			Wait:   bd.Wait,
		}, nil
	}

	return lifecycle.DecideSpawn(lifecycle.SandboxView{
		Status:        a.sandbox.Status,
		SnapshotImage: a.sandbox.SnapshotImage,
		SpawnedAt:     a.sandbox.CreatedAt,
	}, a.cfg.Spawn, now, a.spawning, a.hub.HasLiveConnection()), nil
}

// WarmDecision consults the warm-pool rule.
func (a *Actor) WarmDecision(_ context.Context) (lifecycle.WarmDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess == nil || a.sandbox == nil {
		return lifecycle.WarmDecision{}, session.ErrNotInitialized
	}
	return lifecycle.DecideWarm(a.sandbox.Status, a.spawning, a.hub.HasLiveConnection()), nil
}

// RecordSpawnFailure counts a failed spawn attempt against the breaker,
// clears the in-flight flag, and stamps the sandbox with the failure reason.
func (a *Actor) RecordSpawnFailure(ctx context.Context, reason string) {
	a.mu.Lock()
	now := a.now()
	a.breaker.FailureCount++
	a.breaker.LastFailureTime = now
	a.spawning = false
	if a.sandbox != nil {
		a.sandbox.Status = session.SandboxFailed
		a.sandbox.LastSpawnError = reason
		at := now
		a.sandbox.LastSpawnErrorAt = &at
	}
	failures := a.breaker.FailureCount
	a.mu.Unlock()

	log.Error(ctx, fmt.Errorf("sandbox spawn failed: %s", reason),
		log.KV{K: "session_id", V: a.id},
		log.KV{K: "failure_count", V: failures})
	a.hub.Send(ctx, event.SandboxStatusMessage{
		Type:  event.KindSandboxError,
		Error: reason,
	})
}

// ResetCircuitBreaker clears the breaker and the in-flight flag.
func (a *Actor) ResetCircuitBreaker(_ context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.breaker = session.CircuitBreakerState{}
	a.spawning = false
}

// SetSpawning marks a spawn in flight and rebinds the sandbox to its new
// identity and auth hash. CreatedAt resets to now: it anchors the cooldown
// and ready-wait timers for this attempt. The prior provider reference is
// invalidated.
func (a *Actor) SetSpawning(ctx context.Context, sandboxID, authTokenHash string) error {
	if sandboxID == "" {
		return fmt.Errorf("sandbox id is required")
	}

	a.mu.Lock()
	if a.sess == nil || a.sandbox == nil {
		a.mu.Unlock()
		return session.ErrNotInitialized
	}
	now := a.now()
	a.spawning = true
	a.sandbox.ID = sandboxID
	a.sandbox.AuthTokenHash = authTokenHash
	a.sandbox.Status = session.SandboxSpawning
	a.sandbox.ProviderRef = ""
	a.sandbox.CreatedAt = now
	a.sess.UpdatedAt = now
	a.mu.Unlock()

	a.hub.Send(ctx, event.SandboxStatusMessage{
		Type:      event.KindSandboxSpawning,
		SandboxID: sandboxID,
		Status:    session.SandboxSpawning,
	})
	return nil
}

// SetSandboxStatus records a provisioning outcome applied by the scheduler
// (provider reference on success, snapshot image after a pause) and
// announces the transition. The spawning flag clears once the sandbox leaves
// the spawning/connecting phases.
func (a *Actor) SetSandboxStatus(ctx context.Context, status session.SandboxStatus, providerRef, snapshotImage string) error {
	a.mu.Lock()
	if a.sess == nil || a.sandbox == nil {
		a.mu.Unlock()
		return session.ErrNotInitialized
	}
	now := a.now()
	a.sandbox.Status = status
	if providerRef != "" {
		a.sandbox.ProviderRef = providerRef
	}
	if snapshotImage != "" {
		a.sandbox.SnapshotImage = snapshotImage
	}
	if status != session.SandboxSpawning && status != session.SandboxConnecting {
		a.spawning = false
	}
	sandboxID := a.sandbox.ID
	a.sess.UpdatedAt = now
	a.mu.Unlock()

	kind := event.KindSandboxStatus
	if status == session.SandboxReady {
		kind = event.KindSandboxReady
	}
	a.hub.Send(ctx, event.SandboxStatusMessage{
		Type:      kind,
		SandboxID: sandboxID,
		Status:    status,
	})
	return nil
}

// CheckInactivity evaluates the inactivity rule against current state. The
// decision is returned for the scheduler to apply; provider calls stay
// outside the actor.
func (a *Actor) CheckInactivity(_ context.Context) (lifecycle.InactivityDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sess == nil || a.sandbox == nil {
		return lifecycle.InactivityDecision{}, session.ErrNotInitialized
	}
	return lifecycle.CheckInactivity(
		a.sandbox.LastActivity,
		a.sandbox.Status,
		a.hub.ConnectionCount(),
		a.cfg.Inactivity,
		a.now(),
	), nil
}

// CheckHeartbeat marks a live sandbox stale when its heartbeats stopped and
// announces the transition. Returns whether the sandbox is now stale.
func (a *Actor) CheckHeartbeat(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if a.sess == nil || a.sandbox == nil {
		a.mu.Unlock()
		return false, session.ErrNotInitialized
	}
	stale := lifecycle.HeartbeatStale(a.sandbox.LastHeartbeat, a.cfg.HeartbeatTimeout, a.now())
	transitioned := false
	var sandboxID string
	if stale && a.sandbox.Status.Live() {
		a.sandbox.Status = session.SandboxStale
		a.sess.UpdatedAt = a.now()
		transitioned = true
		sandboxID = a.sandbox.ID
	}
	a.mu.Unlock()

	if transitioned {
		log.Info(ctx, log.KV{K: "msg", V: "sandbox heartbeat stale"},
			log.KV{K: "session_id", V: a.id},
			log.KV{K: "sandbox_id", V: sandboxID})
		a.hub.Send(ctx, event.SandboxStatusMessage{
			Type:      event.KindSandboxStatus,
			SandboxID: sandboxID,
			Status:    session.SandboxStale,
		})
	}
	return stale, nil
}
