// Package parser decodes raw transport records into typed assertion
// events. Malformed input is a data-quality condition, reported as a
// *ParseError and never retried.
package parser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/yhwhpe/response-orchestrator/events"
)

// ParseError marks a record as terminally malformed.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return "parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes a raw record (base64-encoded UTF-8 JSON; plain JSON is
// accepted for broker-local publishing) and validates it against the
// AssertionEvent schema. No side effects, no I/O.
func Parse(raw []byte) (*events.AssertionEvent, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Reason: "empty record"}
	}

	payload := raw
	if decoded, err := base64.StdEncoding.DecodeString(string(raw)); err == nil {
		payload = decoded
	}

	var ev events.AssertionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, &ParseError{Reason: "invalid json", Err: err}
	}

	if err := validate(&ev); err != nil {
		return nil, err
	}

	ev.EventType = events.TypeAssertion
	return &ev, nil
}

func validate(ev *events.AssertionEvent) error {
	switch {
	case ev.EventID == "":
		return &ParseError{Reason: "missing eventId"}
	case ev.ConversationID == "":
		return &ParseError{Reason: "missing conversationId"}
	case ev.Assertion.AgentID == "":
		return &ParseError{Reason: "missing assertion.agentId"}
	case ev.Assertion.Type == "":
		return &ParseError{Reason: "missing assertion.type"}
	case !ev.Assertion.Type.Known():
		return &ParseError{Reason: fmt.Sprintf("unknown assertion type %q", ev.Assertion.Type)}
	case ev.Assertion.Confidence < 0 || ev.Assertion.Confidence > 1:
		return &ParseError{Reason: fmt.Sprintf("confidence %v out of [0,1]", ev.Assertion.Confidence)}
	case ev.Metadata.OccurredAt.IsZero():
		return &ParseError{Reason: "missing metadata.occurredAt"}
	}
	return nil
}
