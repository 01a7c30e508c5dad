// Package inmem provides an in-memory implementation of eventlog.Store.
//
// The in-memory store is intended for tests and single-process deployments
// that accept losing replay history on restart. Durable deployments should
// use features/eventlog/mongo.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"goa.design/coderun/runtime/session/eventlog"
)

type (
	// Store implements eventlog.Store in memory.
	Store struct {
		mu sync.Mutex
		// per-session monotonically increasing sequence.
		nextSeq map[string]int64
		// per-session ordered events.
		events map[string][]*eventlog.Event
	}
)

// New returns a new in-memory event log store.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		events:  make(map[string][]*eventlog.Event),
	}
}

// Append implements eventlog.Store.
func (s *Store) Append(_ context.Context, sessionID string, e *eventlog.Event) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if e == nil {
		return fmt.Errorf("event is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[sessionID] + 1
	s.nextSeq[sessionID] = seq

	e.ID = strconv.FormatInt(seq, 10)
	ev := *e
	s.events[sessionID] = append(s.events[sessionID], &ev)
	return nil
}

// List implements eventlog.Store. The type filter applies before the cursor
// offset; an unknown cursor restarts from the beginning.
func (s *Store) List(_ context.Context, sessionID string, f eventlog.Filter) (eventlog.Page, error) {
	if sessionID == "" {
		return eventlog.Page{}, fmt.Errorf("session id is required")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = eventlog.DefaultLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var filtered []*eventlog.Event
	for _, e := range s.events[sessionID] {
		if f.Matches(e.Type) {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return eventlog.Page{}, nil
	}

	start := 0
	if f.Cursor != "" {
		for i, e := range filtered {
			if e.ID == f.Cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(filtered) {
		return eventlog.Page{}, nil
	}

	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	events := append([]*eventlog.Event(nil), filtered[start:end]...)
	page := eventlog.Page{Events: events}
	if end < len(filtered) {
		page.HasMore = true
		page.Cursor = events[len(events)-1].ID
	}
	return page, nil
}
