// Package provider defines the SandboxProvider capability: the external
// container-orchestration backend that creates and destroys sandbox
// instances. The coordinator consumes the interface; concrete backends live
// outside this module.
package provider

import (
	"context"
	"errors"
	"fmt"
)

type (
	// SandboxProvider provisions and retires sandbox instances.
	//
	// Contract:
	// - Errors are classified: transient failures may be retried with
	//   backoff, permanent failures (misconfiguration, quota denial) must
	//   not be.
	// - Pause and Resume are optional capabilities; backends without them
	//   return ErrUnsupported.
	SandboxProvider interface {
		// CreateSandbox provisions a new instance, optionally from a
		// snapshot image.
		CreateSandbox(ctx context.Context, req CreateRequest) (Instance, error)
		// DestroySandbox tears down an instance. Idempotent: destroying a
		// missing instance succeeds.
		DestroySandbox(ctx context.Context, ref string) error
		// PauseSandbox snapshots and suspends an instance.
		PauseSandbox(ctx context.Context, ref string) (snapshotImage string, err error)
		// ResumeSandbox restores a paused or snapshotted instance.
		ResumeSandbox(ctx context.Context, snapshotImage string) (Instance, error)
	}

	// CreateRequest carries everything a backend needs to start a sandbox.
	CreateRequest struct {
		// SessionID is the owning session.
		SessionID string
		// SandboxID is the coordinator-assigned instance identity.
		SandboxID string
		// RepoOwner and RepoName identify the repository to clone.
		RepoOwner string
		// RepoName is the repository name.
		RepoName string
		// BranchName is the working branch, empty for a fresh branch.
		BranchName string
		// AuthToken is the plaintext sandbox token injected into the
		// instance for bridge authentication.
		AuthToken string
		// SnapshotImage restores from a snapshot instead of a cold start.
		SnapshotImage string
	}

	// Instance is a provisioned sandbox as seen by the coordinator.
	Instance struct {
		// Ref is the opaque provider object reference.
		Ref string
		// Host is the address the bridge will dial in from, when known.
		Host string
	}

	// Error is a classified provider failure.
	Error struct {
		// Op is the provider operation that failed.
		Op string
		// Code is the backend-specific failure code, when known.
		Code string
		// Transient reports whether a retry may succeed.
		Transient bool
		// Err is the underlying cause.
		Err error
	}
)

// ErrUnsupported indicates the backend does not implement an optional
// capability (pause/resume).
var ErrUnsupported = errors.New("operation not supported by provider")

// Error implements error.
func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s error: %v", e.Op, kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider error that may be retried.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}
