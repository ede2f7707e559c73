package events

import (
	"time"

	"github.com/google/uuid"
)

// AssertionType mirrors the agent-mesh assertion contract (ASSERTION_*).
type AssertionType string

const (
	NegativeSentiment      AssertionType = "NEGATIVE_SENTIMENT"
	PositiveSentiment      AssertionType = "POSITIVE_SENTIMENT"
	ResponseRecommendation AssertionType = "RESPONSE_RECOMMENDATION"
	EscalationRequired     AssertionType = "ESCALATION_REQUIRED"
	IntentDetected         AssertionType = "INTENT_DETECTED"
)

// Known reports whether t is part of the assertion contract.
func (t AssertionType) Known() bool {
	switch t {
	case NegativeSentiment, PositiveSentiment, ResponseRecommendation,
		EscalationRequired, IntentDetected:
		return true
	}
	return false
}

// DecisionType enumerates orchestrator outcomes.
type DecisionType string

const (
	DecisionRespond  DecisionType = "RESPOND"
	DecisionEscalate DecisionType = "ESCALATE"
	DecisionNoAction DecisionType = "NO_ACTION"
	DecisionDefer    DecisionType = "DEFER"
)

// Audit log discriminators (eventType field on every persisted line).
const (
	TypeAssertion = "ASSERTION"
	TypeDecision  = "DECISION"
	TypeUpdate    = "UPDATE"
)

// Assertion is the claim body of an AssertionEvent.
type Assertion struct {
	Type       AssertionType  `json:"type"`
	AgentID    string         `json:"agentId"`
	Confidence float64        `json:"confidence"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Metadata carries provenance for an assertion event.
type Metadata struct {
	CorrelationID string    `json:"correlationId"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// AssertionEvent is an AI agent's claim about a conversation. Immutable
// once parsed; EventID is the dedup key across redeliveries.
type AssertionEvent struct {
	EventType      string    `json:"eventType"`
	EventID        string    `json:"eventId"`
	ConversationID string    `json:"conversationId"`
	Assertion      Assertion `json:"assertion"`
	Metadata       Metadata  `json:"metadata"`
}

// SuggestedMessage returns the recommendation payload text, if any.
func (e *AssertionEvent) SuggestedMessage() string {
	if e.Assertion.Payload == nil {
		return ""
	}
	s, _ := e.Assertion.Payload["suggestedMessage"].(string)
	return s
}

// Decision is the engine's verdict for one assertion.
type Decision struct {
	ShouldRespond bool         `json:"shouldRespond"`
	Decision      DecisionType `json:"decision"`
	Reasoning     string       `json:"reasoning"`
}

// DecisionEvent is emitted for every processed assertion, whether or not
// a response was warranted.
type DecisionEvent struct {
	EventType      string    `json:"eventType"`
	EventID        string    `json:"eventId"`
	ConversationID string    `json:"conversationId"`
	AssertionID    string    `json:"assertionId"`
	Decision       Decision  `json:"decision"`
	EmittedAt      time.Time `json:"emittedAt"`
}

// UpdateEvent carries a customer-facing artifact; emitted only when a
// decision warrants a response and a payload could be derived.
type UpdateEvent struct {
	EventType      string       `json:"eventType"`
	EventID        string       `json:"eventId"`
	ConversationID string       `json:"conversationId"`
	AssertionID    string       `json:"assertionId"`
	Decision       DecisionType `json:"decision"`
	Message        string       `json:"message"`
	EmittedAt      time.Time    `json:"emittedAt"`
}

// NewID returns a fresh event id.
func NewID() string {
	return uuid.NewString()
}
