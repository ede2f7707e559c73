// Package store is the narrow slice of the event store the orchestrator
// consumes: a mutable JSON snapshot and an append-only NDJSON audit log,
// both keyed by conversation id.
package store

import (
	"context"
	"fmt"
)

// StorageError wraps any event-store I/O failure. Conflict marks an
// optimistic-concurrency failure: the snapshot changed under the writer
// and the record should be redelivered.
type StorageError struct {
	Op       string
	Key      string
	Conflict bool
	Err      error
}

func (e *StorageError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("storage %s %s: version conflict", e.Op, e.Key)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the event-store contract.
//
// GetSnapshot returns (nil, "", nil) when no snapshot exists. The etag
// returned by GetSnapshot is passed back to PutSnapshot as expectedETag;
// an empty expectedETag asserts the snapshot must not exist yet.
type Store interface {
	GetSnapshot(ctx context.Context, conversationID string) (data []byte, etag string, err error)
	PutSnapshot(ctx context.Context, conversationID string, data []byte, expectedETag string) error
	AppendEvent(ctx context.Context, conversationID string, line []byte) error
	ReadEvents(ctx context.Context, conversationID string) ([][]byte, error)
	Ping(ctx context.Context) error
}
