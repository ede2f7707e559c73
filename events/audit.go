package events

import (
	"encoding/json"
	"fmt"
)

// AuditEvent is implemented by every event written to a conversation's
// audit log.
type AuditEvent interface {
	GetEventType() string
	GetEventID() string
}

func (e *AssertionEvent) GetEventType() string { return e.EventType }
func (e *AssertionEvent) GetEventID() string   { return e.EventID }

func (e *DecisionEvent) GetEventType() string { return e.EventType }
func (e *DecisionEvent) GetEventID() string   { return e.EventID }

func (e *UpdateEvent) GetEventType() string { return e.EventType }
func (e *UpdateEvent) GetEventID() string   { return e.EventID }

// ParseAuditLine decodes one NDJSON audit line into its concrete event
// type, dispatching on the eventType discriminator.
func ParseAuditLine(line []byte) (AuditEvent, error) {
	var base struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, fmt.Errorf("unmarshal audit line: %w", err)
	}

	var event AuditEvent
	switch base.EventType {
	case TypeAssertion:
		event = &AssertionEvent{}
	case TypeDecision:
		event = &DecisionEvent{}
	case TypeUpdate:
		event = &UpdateEvent{}
	default:
		return nil, fmt.Errorf("unknown audit event type: %s", base.EventType)
	}

	if err := json.Unmarshal(line, event); err != nil {
		return nil, fmt.Errorf("unmarshal %s event: %w", base.EventType, err)
	}
	return event, nil
}
