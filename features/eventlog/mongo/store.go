// Package mongo wires the eventlog.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/coderun/features/eventlog/mongo/clients/mongo"
	"goa.design/coderun/runtime/session/eventlog"
)

// Store implements eventlog.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed session event log using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Append implements eventlog.Store.
func (s *Store) Append(ctx context.Context, sessionID string, e *eventlog.Event) error {
	return s.client.Append(ctx, sessionID, e)
}

// List implements eventlog.Store.
func (s *Store) List(ctx context.Context, sessionID string, f eventlog.Filter) (eventlog.Page, error) {
	return s.client.List(ctx, sessionID, f)
}
