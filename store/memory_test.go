package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemorySnapshotETagCycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	data, etag, err := s.GetSnapshot(ctx, "conv-1")
	if err != nil || data != nil || etag != "" {
		t.Fatalf("absent snapshot: data=%v etag=%q err=%v", data, etag, err)
	}

	if err := s.PutSnapshot(ctx, "conv-1", []byte(`{"v":1}`), ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	data, etag, err = s.GetSnapshot(ctx, "conv-1")
	if err != nil || string(data) != `{"v":1}` {
		t.Fatalf("read back: data=%s err=%v", data, err)
	}

	if err := s.PutSnapshot(ctx, "conv-1", []byte(`{"v":2}`), etag); err != nil {
		t.Fatalf("update with fresh etag: %v", err)
	}

	// The first etag is now stale.
	err = s.PutSnapshot(ctx, "conv-1", []byte(`{"v":3}`), etag)
	var serr *StorageError
	if !errors.As(err, &serr) || !serr.Conflict {
		t.Fatalf("expected conflict for stale etag, got %v", err)
	}

	// Create-if-absent fails once the snapshot exists.
	err = s.PutSnapshot(ctx, "conv-1", []byte(`{"v":4}`), "")
	if !errors.As(err, &serr) || !serr.Conflict {
		t.Fatalf("expected conflict for empty etag on existing snapshot, got %v", err)
	}
}

func TestMemoryAuditAppendOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, line := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if err := s.AppendEvent(ctx, "conv-1", []byte(line)); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	lines, err := s.ReadEvents(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d; expected 3", len(lines))
	}
	for i, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if string(lines[i]) != want {
			t.Errorf("lines[%d] = %s; expected %s", i, lines[i], want)
		}
	}
}
