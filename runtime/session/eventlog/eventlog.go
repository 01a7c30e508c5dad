// Package eventlog provides the durable, append-only event log of a session.
//
// The log is the canonical replay source for viewers that reconnect: the
// coordinator appends domain events as the sandbox reports them and clients
// page forward using the ID of the last event they saw as an opaque cursor.
package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/coderun/runtime/session/event"
)

type (
	// Event is a single immutable entry in a session's event log.
	//
	// Store implementations assign the ID when persisting. IDs are opaque,
	// monotonically ordered within a session, and double as pagination
	// cursors.
	Event struct {
		// ID is the store-assigned opaque identifier.
		ID string
		// Type is the sandbox event type this entry records.
		Type event.Type
		// Data is the canonical JSON-encoded event payload.
		Data json.RawMessage
		// MessageID links the entry to a prompt, when attributable.
		MessageID string
		// SandboxID identifies the sandbox instance that produced the event.
		SandboxID string
		// CreatedAt is the append time.
		CreatedAt time.Time
	}

	// Filter selects and positions a List call.
	//
	// Contract:
	// - Types, when non-empty, is applied before the cursor offset, so
	//   pagination and filtering compose. Cursors from differing type sets
	//   must not be mixed.
	// - A cursor whose event is no longer present restarts the listing from
	//   the beginning; callers own their cursor bookkeeping and rely on
	//   forward progress after compaction.
	Filter struct {
		// Cursor is the ID of the last event already seen, empty to start
		// from the beginning.
		Cursor string
		// Limit caps the page size. Non-positive limits use DefaultLimit.
		Limit int
		// Types restricts the listing to the given event types.
		Types []event.Type
	}

	// Page is a forward page of log events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// Cursor is the ID of the last returned event when more remain,
		// empty otherwise.
		Cursor string
		// HasMore reports whether events beyond this page exist under the
		// same filter.
		HasMore bool
	}

	// Store is the append-only event store for one or more sessions.
	//
	// Implementations must provide stable insertion ordering per session.
	// Append must surface failures so the coordinator can fail the triggering
	// operation instead of silently losing replay data.
	Store interface {
		// Append stores the event under the session, assigning its ID.
		Append(ctx context.Context, sessionID string, e *Event) error

		// List returns the next forward page of events for the session,
		// selected and positioned by the filter.
		List(ctx context.Context, sessionID string, f Filter) (Page, error)
	}
)

// DefaultLimit is the page size used when a filter does not set one.
const DefaultLimit = 50

// Matches reports whether the event passes the filter's type restriction.
func (f Filter) Matches(t event.Type) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, want := range f.Types {
		if t == want {
			return true
		}
	}
	return false
}
