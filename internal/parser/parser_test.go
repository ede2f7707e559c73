package parser

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/yhwhpe/response-orchestrator/events"
)

func validJSON() string {
	return `{
		"eventId": "evt-1",
		"conversationId": "conv-1",
		"assertion": {"type": "NEGATIVE_SENTIMENT", "agentId": "agent-1", "confidence": 0.9},
		"metadata": {"correlationId": "corr-1", "occurredAt": "2026-08-30T10:00:00Z"}
	}`
}

func TestParseBase64Record(t *testing.T) {
	raw := []byte(base64.StdEncoding.EncodeToString([]byte(validJSON())))

	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ev.EventID != "evt-1" || ev.ConversationID != "conv-1" {
		t.Errorf("unexpected identity: eventId=%q conversationId=%q", ev.EventID, ev.ConversationID)
	}
	if ev.Assertion.Type != events.NegativeSentiment {
		t.Errorf("type = %q; expected NEGATIVE_SENTIMENT", ev.Assertion.Type)
	}
	if ev.EventType != events.TypeAssertion {
		t.Errorf("eventType = %q; expected %q", ev.EventType, events.TypeAssertion)
	}
	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if !ev.Metadata.OccurredAt.Equal(want) {
		t.Errorf("occurredAt = %v; expected %v", ev.Metadata.OccurredAt, want)
	}
}

func TestParsePlainJSONFallback(t *testing.T) {
	ev, err := Parse([]byte(validJSON()))
	if err != nil {
		t.Fatalf("Parse failed on plain JSON: %v", err)
	}
	if ev.EventID != "evt-1" {
		t.Errorf("eventId = %q", ev.EventID)
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not json at all {"},
		{"missing eventId", `{"conversationId":"c","assertion":{"type":"NEGATIVE_SENTIMENT","agentId":"a","confidence":0.5},"metadata":{"occurredAt":"2026-08-30T10:00:00Z"}}`},
		{"missing conversationId", `{"eventId":"e","assertion":{"type":"NEGATIVE_SENTIMENT","agentId":"a","confidence":0.5},"metadata":{"occurredAt":"2026-08-30T10:00:00Z"}}`},
		{"missing agentId", `{"eventId":"e","conversationId":"c","assertion":{"type":"NEGATIVE_SENTIMENT","confidence":0.5},"metadata":{"occurredAt":"2026-08-30T10:00:00Z"}}`},
		{"unknown type", `{"eventId":"e","conversationId":"c","assertion":{"type":"SOMETHING_ELSE","agentId":"a","confidence":0.5},"metadata":{"occurredAt":"2026-08-30T10:00:00Z"}}`},
		{"confidence above 1", `{"eventId":"e","conversationId":"c","assertion":{"type":"NEGATIVE_SENTIMENT","agentId":"a","confidence":1.5},"metadata":{"occurredAt":"2026-08-30T10:00:00Z"}}`},
		{"confidence below 0", `{"eventId":"e","conversationId":"c","assertion":{"type":"NEGATIVE_SENTIMENT","agentId":"a","confidence":-0.1},"metadata":{"occurredAt":"2026-08-30T10:00:00Z"}}`},
		{"missing occurredAt", `{"eventId":"e","conversationId":"c","assertion":{"type":"NEGATIVE_SENTIMENT","agentId":"a","confidence":0.5},"metadata":{}}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.raw))
			if err == nil {
				t.Fatalf("expected error for %s", test.name)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("expected *ParseError, got %T: %v", err, err)
			}
		})
	}
}
