package state

import (
	"time"

	"github.com/yhwhpe/response-orchestrator/events"
)

// AssertionSummary is the bounded-history entry kept on the snapshot.
type AssertionSummary struct {
	EventID    string               `json:"eventId"`
	Type       events.AssertionType `json:"type"`
	AgentID    string               `json:"agentId"`
	Confidence float64              `json:"confidence"`
	OccurredAt time.Time            `json:"occurredAt"`
}

// DecisionRef records the last decision taken for a conversation.
type DecisionRef struct {
	Type   events.DecisionType `json:"type"`
	MadeAt time.Time           `json:"madeAt"`
}

// ConversationState is the mutable per-conversation aggregate. Created
// lazily on the first assertion; never deleted by this subsystem.
type ConversationState struct {
	ConversationID string             `json:"conversationId"`
	Assertions     []AssertionSummary `json:"assertions"`
	ResponsesSent  int                `json:"responsesSent"`
	LastDecision   *DecisionRef       `json:"lastDecision,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	Version        int64              `json:"version"`

	// etag of the stored object this state was read from; backs the
	// optimistic write check and never leaves the process.
	etag string
}

// StatePatch is the closed set of snapshot fields a writer may change.
// Nil fields are left untouched; set fields are last-writer-wins,
// subject to the monotonic guards applied on merge.
type StatePatch struct {
	ResponsesSent *int
	LastDecision  *DecisionRef
	UpdatedAt     *time.Time
}

// AppendSummary appends sum to the history, evicting the oldest entries
// beyond limit. A limit <= 0 means unbounded.
func (s *ConversationState) AppendSummary(sum AssertionSummary, limit int) {
	s.Assertions = append(s.Assertions, sum)
	if limit > 0 && len(s.Assertions) > limit {
		s.Assertions = s.Assertions[len(s.Assertions)-limit:]
	}
}

// HasAssertion reports whether the retained history window already
// contains the given event id.
func (s *ConversationState) HasAssertion(eventID string) bool {
	for _, a := range s.Assertions {
		if a.EventID == eventID {
			return true
		}
	}
	return false
}

// merge applies a patch under the aggregate invariants: ResponsesSent
// never decreases and LastDecision.MadeAt never moves backwards.
func (s *ConversationState) merge(patch StatePatch) {
	if patch.ResponsesSent != nil && *patch.ResponsesSent > s.ResponsesSent {
		s.ResponsesSent = *patch.ResponsesSent
	}
	if patch.LastDecision != nil {
		if s.LastDecision == nil || !patch.LastDecision.MadeAt.Before(s.LastDecision.MadeAt) {
			ref := *patch.LastDecision
			s.LastDecision = &ref
		}
	}
	if patch.UpdatedAt != nil && patch.UpdatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = *patch.UpdatedAt
	}
}

// Summarize reduces an assertion event to its history entry.
func Summarize(ev *events.AssertionEvent) AssertionSummary {
	return AssertionSummary{
		EventID:    ev.EventID,
		Type:       ev.Assertion.Type,
		AgentID:    ev.Assertion.AgentID,
		Confidence: ev.Assertion.Confidence,
		OccurredAt: ev.Metadata.OccurredAt,
	}
}
