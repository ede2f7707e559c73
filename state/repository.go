// Package state gives read-modify-write access to the per-conversation
// aggregate and appends typed events to the audit log.
package state

import (
	"context"
	"encoding/json"

	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/store"
)

// Repository mediates all snapshot and audit-log access. Writes carry
// the ETag captured at read time; a concurrent writer surfaces as a
// *store.StorageError with Conflict set, and the record is left to the
// transport to redeliver. The stat-then-put window in the object store
// is not atomic, so the check is best-effort rather than a true CAS.
type Repository struct {
	store      store.Store
	historyCap int
}

// New creates a repository. historyCap bounds the assertion history kept
// on the snapshot; <= 0 means unbounded.
func New(s store.Store, historyCap int) *Repository {
	return &Repository{
		store:      s,
		historyCap: historyCap,
	}
}

// Get reads the current snapshot, or nil when the conversation has no
// state yet.
func (r *Repository) Get(ctx context.Context, conversationID string) (*ConversationState, error) {
	data, etag, err := r.store.GetSnapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &store.StorageError{Op: "decode", Key: conversationID, Err: err}
	}
	st.etag = etag
	return &st, nil
}

// AddAssertion appends the assertion to the conversation's history,
// creating the aggregate if absent, and returns the resulting state.
func (r *Repository) AddAssertion(ctx context.Context, ev *events.AssertionEvent) (*ConversationState, error) {
	st, err := r.Get(ctx, ev.ConversationID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &ConversationState{ConversationID: ev.ConversationID}
	}

	// Redelivered records must not fold the same assertion in twice:
	// eventId is the idempotency key. Dedup is scoped to the retained
	// history window, which also bounds the check.
	if st.HasAssertion(ev.EventID) {
		return st, nil
	}

	st.AppendSummary(Summarize(ev), r.historyCap)
	st.UpdatedAt = ev.Metadata.OccurredAt

	if err := r.put(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Update merges a typed patch into the stored aggregate and returns the
// resulting state.
func (r *Repository) Update(ctx context.Context, conversationID string, patch StatePatch) (*ConversationState, error) {
	st, err := r.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &ConversationState{ConversationID: conversationID}
	}

	st.merge(patch)

	if err := r.put(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SaveAssertionEvent appends the assertion event to the audit log.
func (r *Repository) SaveAssertionEvent(ctx context.Context, ev *events.AssertionEvent) error {
	return r.appendAudit(ctx, ev.ConversationID, ev)
}

// SaveDecisionEvent appends the decision event to the audit log.
func (r *Repository) SaveDecisionEvent(ctx context.Context, ev *events.DecisionEvent) error {
	return r.appendAudit(ctx, ev.ConversationID, ev)
}

// SaveUpdateEvent appends the update event to the audit log.
func (r *Repository) SaveUpdateEvent(ctx context.Context, ev *events.UpdateEvent) error {
	return r.appendAudit(ctx, ev.ConversationID, ev)
}

func (r *Repository) put(ctx context.Context, st *ConversationState) error {
	expected := st.etag
	st.Version++

	data, err := json.Marshal(st)
	if err != nil {
		return &store.StorageError{Op: "encode", Key: st.ConversationID, Err: err}
	}

	if err := r.store.PutSnapshot(ctx, st.ConversationID, data, expected); err != nil {
		st.Version--
		return err
	}
	return nil
}

func (r *Repository) appendAudit(ctx context.Context, conversationID string, ev events.AuditEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return &store.StorageError{Op: "encode", Key: conversationID, Err: err}
	}
	return r.store.AppendEvent(ctx, conversationID, line)
}
