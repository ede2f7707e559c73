// Package emitter constructs decision/update events, publishes them to
// the downstream topics and appends them to the audit log. A
// DecisionEvent is produced for every processed assertion so the audit
// trail never has gaps; an UpdateEvent only when there is a concrete
// customer-facing artifact.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/state"
)

// Publisher pushes a serialized event to a downstream topic, keyed by
// conversation id.
type Publisher interface {
	Publish(ctx context.Context, topic, conversationID, eventID string, body []byte) error
}

// PublishError wraps a downstream publish failure. The record is
// redelivered by the transport; downstream consumers dedup by event id.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type Emitter struct {
	repo           *state.Repository
	publisher      Publisher
	decisionsTopic string
	updatesTopic   string

	now   func() time.Time
	newID func() string
}

func New(repo *state.Repository, publisher Publisher, decisionsTopic, updatesTopic string) *Emitter {
	return &Emitter{
		repo:           repo,
		publisher:      publisher,
		decisionsTopic: decisionsTopic,
		updatesTopic:   updatesTopic,
		now:            time.Now,
		newID:          events.NewID,
	}
}

// EmitDecision always builds, publishes and persists a DecisionEvent.
// The audit append happens even when the publish fails; publish and
// persist are independent writes, not a transaction.
func (em *Emitter) EmitDecision(ctx context.Context, as *events.AssertionEvent, d events.Decision) (*events.DecisionEvent, error) {
	ev := &events.DecisionEvent{
		EventType:      events.TypeDecision,
		EventID:        em.newID(),
		ConversationID: as.ConversationID,
		AssertionID:    as.EventID,
		Decision:       d,
		EmittedAt:      em.now().UTC(),
	}

	pubErr := em.publish(ctx, em.decisionsTopic, ev.ConversationID, ev.EventID, ev)
	if err := em.repo.SaveDecisionEvent(ctx, ev); err != nil {
		return ev, err
	}
	if pubErr != nil {
		return ev, pubErr
	}

	log.Printf("[EMITTER] Decision %s emitted: conversation=%s decision=%s respond=%v",
		ev.EventID, ev.ConversationID, d.Decision, d.ShouldRespond)
	return ev, nil
}

// EmitUpdate builds, publishes and persists an UpdateEvent when the
// decision warrants a response and a payload can be derived. It returns
// (nil, nil) otherwise; callers must not fabricate an empty update.
func (em *Emitter) EmitUpdate(ctx context.Context, as *events.AssertionEvent, d events.Decision) (*events.UpdateEvent, error) {
	if !d.ShouldRespond {
		return nil, nil
	}

	message, ok := updatePayload(as, d)
	if !ok {
		log.Printf("[EMITTER] No update payload derivable for assertion %s (decision %s), skipping update",
			as.EventID, d.Decision)
		return nil, nil
	}

	ev := &events.UpdateEvent{
		EventType:      events.TypeUpdate,
		EventID:        em.newID(),
		ConversationID: as.ConversationID,
		AssertionID:    as.EventID,
		Decision:       d.Decision,
		Message:        message,
		EmittedAt:      em.now().UTC(),
	}

	pubErr := em.publish(ctx, em.updatesTopic, ev.ConversationID, ev.EventID, ev)
	if err := em.repo.SaveUpdateEvent(ctx, ev); err != nil {
		return ev, err
	}
	if pubErr != nil {
		return ev, pubErr
	}

	log.Printf("[EMITTER] Update %s emitted: conversation=%s decision=%s", ev.EventID, ev.ConversationID, d.Decision)
	return ev, nil
}

// updatePayload derives the customer-facing message for a decision.
// RESPOND has no artifact without a suggested message; NO_ACTION and
// DEFER never have one.
func updatePayload(as *events.AssertionEvent, d events.Decision) (string, bool) {
	switch d.Decision {
	case events.DecisionEscalate:
		return "This conversation has been escalated to a support specialist.", true
	case events.DecisionRespond:
		if msg := as.SuggestedMessage(); msg != "" {
			return msg, true
		}
		return "", false
	default:
		return "", false
	}
}

func (em *Emitter) publish(ctx context.Context, topic, conversationID, eventID string, ev events.AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	if err := em.publisher.Publish(ctx, topic, conversationID, eventID, body); err != nil {
		log.Printf("[EMITTER] ⚠️ Publish to %s failed for event %s: %v", topic, eventID, err)
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}
