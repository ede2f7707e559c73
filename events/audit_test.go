package events

import (
	"testing"
)

func TestParseAuditLineDispatch(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"assertion", `{"eventType":"ASSERTION","eventId":"a1","conversationId":"c1"}`, TypeAssertion},
		{"decision", `{"eventType":"DECISION","eventId":"d1","conversationId":"c1"}`, TypeDecision},
		{"update", `{"eventType":"UPDATE","eventId":"u1","conversationId":"c1"}`, TypeUpdate},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ev, err := ParseAuditLine([]byte(test.line))
			if err != nil {
				t.Fatalf("ParseAuditLine: %v", err)
			}
			if ev.GetEventType() != test.want {
				t.Errorf("type = %s; expected %s", ev.GetEventType(), test.want)
			}
		})
	}
}

func TestParseAuditLineRejectsUnknown(t *testing.T) {
	if _, err := ParseAuditLine([]byte(`{"eventType":"MYSTERY"}`)); err == nil {
		t.Error("expected error for unknown event type")
	}
	if _, err := ParseAuditLine([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed line")
	}
}
