// Package lifecycle holds the sandbox lifecycle decision engine: pure
// functions of (state, config, now) that tell the coordinator whether and how
// to provision, keep, or retire a session's sandbox.
//
// None of the functions perform I/O, read clocks, or mutate shared state.
// Callers pass the current time explicitly and apply the returned decision
// themselves, which keeps circuit-breaker, spawn, and inactivity logic unit
// testable without mocking time.
package lifecycle

import (
	"time"

	"goa.design/coderun/runtime/session"
)

type (
	// BreakerConfig tunes the spawn circuit breaker.
	BreakerConfig struct {
		// Threshold is the failure count at which the breaker opens.
		Threshold int
		// Window is how long the breaker stays open after the last failure.
		Window time.Duration
	}

	// BreakerDecision is the circuit breaker's verdict.
	BreakerDecision struct {
		// Proceed reports whether a spawn attempt may go ahead.
		Proceed bool
		// Reset reports that the failure window elapsed and the caller
		// should clear the breaker state.
		Reset bool
		// Wait is how long until the breaker closes, when open.
		Wait time.Duration
	}

	// SandboxView is the slice of sandbox state the spawn decision reads.
	SandboxView struct {
		// Status is the current sandbox status.
		Status session.SandboxStatus
		// SnapshotImage is non-empty when a restorable snapshot exists.
		SnapshotImage string
		// SpawnedAt is the time of the last spawn (Sandbox.CreatedAt).
		SpawnedAt time.Time
	}

	// SpawnConfig tunes the spawn decision.
	SpawnConfig struct {
		// Cooldown is the minimum gap between spawn attempts.
		Cooldown time.Duration
		// ReadyWait is the grace period granted to a ready sandbox with no
		// live connection before a replacement is considered.
		ReadyWait time.Duration
	}

	// SpawnAction is the action selected by DecideSpawn.
	SpawnAction string

	// SpawnDecision tells the caller how to proceed with provisioning.
	SpawnDecision struct {
		// Action is the selected action.
		Action SpawnAction
		// Reason is a stable, human-readable explanation for skip/wait.
		Reason string
		// Wait is how long to wait before re-evaluating, for ActionWait.
		Wait time.Duration
	}

	// InactivityConfig tunes the inactivity timeout.
	InactivityConfig struct {
		// Timeout is the idle duration after which the sandbox is retired.
		Timeout time.Duration
		// Extension is the grace granted when viewers are still connected.
		Extension time.Duration
		// MinCheckInterval floors the reschedule delay.
		MinCheckInterval time.Duration
	}

	// InactivityAction is the action selected by CheckInactivity.
	InactivityAction string

	// InactivityDecision tells the caller when to check again or what to do.
	InactivityDecision struct {
		// Action is the selected action.
		Action InactivityAction
		// NextCheck is the delay before the next inactivity check.
		NextCheck time.Duration
		// ShouldSnapshot reports that the sandbox should be snapshotted
		// before termination, for ActionTimeout.
		ShouldSnapshot bool
		// Warning reports that the extension was granted on an already
		// timed-out sandbox, for ActionExtend.
		Warning bool
	}

	// WarmAction is the action selected by DecideWarm.
	WarmAction string

	// WarmDecision tells the warm-pool scheduler whether to pre-spawn.
	WarmDecision struct {
		// Action is the selected action.
		Action WarmAction
		// Reason is a stable explanation for ActionWarmSkip.
		Reason string
	}
)

const (
	// ActionRestore restores the sandbox from its snapshot image.
	ActionRestore SpawnAction = "restore"
	// ActionSkip leaves provisioning alone.
	ActionSkip SpawnAction = "skip"
	// ActionWait re-evaluates after SpawnDecision.Wait.
	ActionWait SpawnAction = "wait"
	// ActionSpawn cold-spawns a new sandbox.
	ActionSpawn SpawnAction = "spawn"

	// ActionRecheck re-runs the inactivity check after NextCheck.
	ActionRecheck InactivityAction = "recheck"
	// ActionExtend grants a timed-out but actively viewed sandbox more time.
	ActionExtend InactivityAction = "extend"
	// ActionTimeout retires the sandbox.
	ActionTimeout InactivityAction = "timeout"

	// ActionWarmSpawn pre-spawns a sandbox for the warm pool.
	ActionWarmSpawn WarmAction = "spawn"
	// ActionWarmSkip leaves the warm pool alone.
	ActionWarmSkip WarmAction = "skip"
)

// Defaults.
const (
	// DefaultBreakerThreshold opens the breaker after this many failures.
	DefaultBreakerThreshold = 3
	// DefaultBreakerWindow is how long the breaker stays open.
	DefaultBreakerWindow = 5 * time.Minute
	// DefaultSpawnCooldown is the minimum gap between spawn attempts.
	DefaultSpawnCooldown = 30 * time.Second
	// DefaultReadyWait is the orphaned-ready grace period.
	DefaultReadyWait = time.Minute
	// DefaultInactivityTimeout retires sandboxes idle this long.
	DefaultInactivityTimeout = 10 * time.Minute
	// DefaultInactivityExtension is the viewer-connected grace.
	DefaultInactivityExtension = 5 * time.Minute
	// DefaultMinCheckInterval floors inactivity reschedules.
	DefaultMinCheckInterval = 30 * time.Second
	// DefaultHeartbeatTimeout is the heartbeat age beyond which a sandbox is
	// considered stale.
	DefaultHeartbeatTimeout = 90 * time.Second
)

// Config aggregates the engine's tuning for callers that carry all of it.
type Config struct {
	// Breaker tunes the spawn circuit breaker.
	Breaker BreakerConfig
	// Spawn tunes the spawn decision.
	Spawn SpawnConfig
	// Inactivity tunes the inactivity timeout.
	Inactivity InactivityConfig
	// HeartbeatTimeout is the heartbeat age beyond which a sandbox is stale.
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns the default engine tuning.
func DefaultConfig() Config {
	return Config{
		Breaker:          DefaultBreakerConfig(),
		Spawn:            DefaultSpawnConfig(),
		Inactivity:       DefaultInactivityConfig(),
		HeartbeatTimeout: DefaultHeartbeatTimeout,
	}
}

// DefaultBreakerConfig returns the default circuit breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: DefaultBreakerThreshold, Window: DefaultBreakerWindow}
}

// DefaultSpawnConfig returns the default spawn decision tuning.
func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{Cooldown: DefaultSpawnCooldown, ReadyWait: DefaultReadyWait}
}

// DefaultInactivityConfig returns the default inactivity tuning.
func DefaultInactivityConfig() InactivityConfig {
	return InactivityConfig{
		Timeout:          DefaultInactivityTimeout,
		Extension:        DefaultInactivityExtension,
		MinCheckInterval: DefaultMinCheckInterval,
	}
}

// CheckBreaker evaluates the spawn circuit breaker.
//
// Contract:
// - Failures recorded, window fully elapsed since the last one: proceed and
//   signal the caller to reset the breaker state.
// - At or above threshold inside the window: do not proceed; Wait is the
//   time remaining until the window closes.
// - Otherwise proceed without reset.
func CheckBreaker(st session.CircuitBreakerState, cfg BreakerConfig, now time.Time) BreakerDecision {
	if st.FailureCount > 0 {
		elapsed := now.Sub(st.LastFailureTime)
		if elapsed >= cfg.Window {
			return BreakerDecision{Proceed: true, Reset: true}
		}
		if st.FailureCount >= cfg.Threshold {
			return BreakerDecision{Wait: cfg.Window - elapsed}
		}
	}
	return BreakerDecision{Proceed: true}
}

// DecideSpawn selects a provisioning action for the sandbox. Rules apply in
// strict precedence order so that snapshot restore always beats cold spawn
// and a ready-but-orphaned sandbox gets one grace period before replacement:
//
//  1. Snapshot exists and status is stopped/stale/failed: restore.
//  2. Status is spawning/connecting: skip, a spawn is already in flight.
//  3. Status is ready: skip when a live connection exists, otherwise wait out
//     the ready-wait grace since the last spawn, then fall through.
//  4. Inside the cooldown since the last spawn (unless failed/stopped): wait.
//  5. In-memory spawning flag set: skip.
//  6. Otherwise: spawn.
func DecideSpawn(sb SandboxView, cfg SpawnConfig, now time.Time, spawning, hasLiveConnection bool) SpawnDecision {
	if sb.SnapshotImage != "" {
		switch sb.Status {
		case session.SandboxStopped, session.SandboxStale, session.SandboxFailed:
			return SpawnDecision{Action: ActionRestore}
		}
	}

	if sb.Status == session.SandboxSpawning || sb.Status == session.SandboxConnecting {
		return SpawnDecision{Action: ActionSkip, Reason: "spawn already in flight"}
	}

	sinceSpawn := now.Sub(sb.SpawnedAt)
	if sb.Status == session.SandboxReady {
		if hasLiveConnection {
			return SpawnDecision{Action: ActionSkip, Reason: "sandbox ready with live connection"}
		}
		if sinceSpawn < cfg.ReadyWait {
			return SpawnDecision{
				Action: ActionWait,
				Reason: "ready sandbox in grace period",
				Wait:   cfg.ReadyWait - sinceSpawn,
			}
		}
		// Grace elapsed with nobody connected: treat as orphaned and fall
		// through to the cooldown and spawn rules.
	}

	if sinceSpawn < cfg.Cooldown && sb.Status != session.SandboxFailed && sb.Status != session.SandboxStopped {
		return SpawnDecision{
			Action: ActionWait,
			Reason: "spawn cooldown",
			Wait:   cfg.Cooldown - sinceSpawn,
		}
	}

	if spawning {
		return SpawnDecision{Action: ActionSkip, Reason: "spawn in progress"}
	}

	return SpawnDecision{Action: ActionSpawn}
}

// CheckInactivity decides whether an idle sandbox should be retired.
//
// Terminal statuses, a missing activity timestamp, and statuses that are not
// ready/running all reschedule at the minimum check interval: there is
// nothing to retire yet. A timed-out sandbox with viewers still connected is
// extended rather than killed under them.
func CheckInactivity(lastActivity *time.Time, status session.SandboxStatus, connectedClients int, cfg InactivityConfig, now time.Time) InactivityDecision {
	if status.Terminal() || lastActivity == nil || !status.Live() {
		return InactivityDecision{Action: ActionRecheck, NextCheck: cfg.MinCheckInterval}
	}

	idle := now.Sub(*lastActivity)
	if idle >= cfg.Timeout {
		if connectedClients > 0 {
			return InactivityDecision{
				Action:    ActionExtend,
				NextCheck: cfg.Extension,
				Warning:   true,
			}
		}
		return InactivityDecision{Action: ActionTimeout, ShouldSnapshot: true}
	}

	next := cfg.Timeout - idle
	if next < cfg.MinCheckInterval {
		next = cfg.MinCheckInterval
	}
	return InactivityDecision{Action: ActionRecheck, NextCheck: next}
}

// HeartbeatStale reports whether the sandbox missed its heartbeat budget. A
// sandbox that never sent a heartbeat is not stale: staleness means a
// previously healthy bridge went quiet.
func HeartbeatStale(lastHeartbeat *time.Time, timeout time.Duration, now time.Time) bool {
	if lastHeartbeat == nil {
		return false
	}
	return now.Sub(*lastHeartbeat) > timeout
}

// DecideWarm decides whether the warm-pool scheduler should pre-spawn a
// sandbox for the session. Nothing to do when someone is connected (the
// regular spawn path owns provisioning then) or when a spawn is already in
// flight.
func DecideWarm(status session.SandboxStatus, spawning, hasLiveConnection bool) WarmDecision {
	if hasLiveConnection {
		return WarmDecision{Action: ActionWarmSkip, Reason: "live connection present"}
	}
	if spawning {
		return WarmDecision{Action: ActionWarmSkip, Reason: "spawn in progress"}
	}
	if status == session.SandboxSpawning || status == session.SandboxConnecting {
		return WarmDecision{Action: ActionWarmSkip, Reason: "spawn already in flight"}
	}
	return WarmDecision{Action: ActionWarmSpawn}
}
