package store

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store used by tests and offline replay.
// ETags are monotonically increasing write counters per key.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	etags     map[string]int
	audits    map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]byte),
		etags:     make(map[string]int),
		audits:    make(map[string][][]byte),
	}
}

func (s *MemoryStore) GetSnapshot(_ context.Context, conversationID string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.snapshots[conversationID]
	if !ok {
		return nil, "", nil
	}
	return append([]byte(nil), data...), strconv.Itoa(s.etags[conversationID]), nil
}

func (s *MemoryStore) PutSnapshot(_ context.Context, conversationID string, data []byte, expectedETag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := ""
	if _, ok := s.snapshots[conversationID]; ok {
		current = strconv.Itoa(s.etags[conversationID])
	}
	if current != expectedETag {
		return &StorageError{Op: "put", Key: conversationID, Conflict: true}
	}

	s.snapshots[conversationID] = append([]byte(nil), data...)
	s.etags[conversationID]++
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, conversationID string, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits[conversationID] = append(s.audits[conversationID], append([]byte(nil), line...))
	return nil
}

func (s *MemoryStore) ReadEvents(_ context.Context, conversationID string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([][]byte, 0, len(s.audits[conversationID]))
	for _, line := range s.audits[conversationID] {
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
