// Package mongo provides MongoDB-backed storage for the session event log.
//
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain an eventlog.Store that persists append-only session events with
// ObjectID-based cursor pagination.
package mongo
