package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/state"
)

func testEngine() *Engine {
	return New(Config{ConfidenceThreshold: 0.85, EscalationRunLength: 3})
}

func assertion(id string, typ events.AssertionType, confidence float64) *events.AssertionEvent {
	return &events.AssertionEvent{
		EventType:      events.TypeAssertion,
		EventID:        id,
		ConversationID: "conv-1",
		Assertion: events.Assertion{
			Type:       typ,
			AgentID:    "agent-1",
			Confidence: confidence,
		},
		Metadata: events.Metadata{OccurredAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
	}
}

func historyOf(types ...events.AssertionType) *state.ConversationState {
	st := &state.ConversationState{ConversationID: "conv-1"}
	for i, typ := range types {
		st.Assertions = append(st.Assertions, state.AssertionSummary{
			EventID: "hist-" + string(rune('a'+i)),
			Type:    typ,
		})
	}
	return st
}

func TestAnalyzeOutcomes(t *testing.T) {
	eng := testEngine()
	escalated := &state.ConversationState{
		ConversationID: "conv-1",
		LastDecision:   &state.DecisionRef{Type: events.DecisionEscalate, MadeAt: time.Now()},
	}

	tests := []struct {
		name        string
		as          *events.AssertionEvent
		st          *state.ConversationState
		wantKind    events.DecisionType
		wantRespond bool
	}{
		{
			name:        "escalation required ignores confidence",
			as:          assertion("e1", events.EscalationRequired, 0.1),
			wantKind:    events.DecisionEscalate,
			wantRespond: true,
		},
		{
			name:        "fourth consecutive negative escalates",
			as:          assertion("e2", events.NegativeSentiment, 0.9),
			st:          historyOf(events.NegativeSentiment, events.NegativeSentiment, events.NegativeSentiment),
			wantKind:    events.DecisionEscalate,
			wantRespond: true,
		},
		{
			name:        "low-confidence negative run still escalates",
			as:          assertion("e3", events.NegativeSentiment, 0.2),
			st:          historyOf(events.NegativeSentiment, events.NegativeSentiment),
			wantKind:    events.DecisionEscalate,
			wantRespond: true,
		},
		{
			name:        "negative run broken by positive does not escalate",
			as:          assertion("e4", events.NegativeSentiment, 0.2),
			st:          historyOf(events.NegativeSentiment, events.PositiveSentiment, events.NegativeSentiment),
			wantKind:    events.DecisionNoAction,
			wantRespond: false,
		},
		{
			name:        "confident negative responds",
			as:          assertion("e5", events.NegativeSentiment, 0.9),
			wantKind:    events.DecisionRespond,
			wantRespond: true,
		},
		{
			name:        "low-confidence recommendation takes no action",
			as:          assertion("e6", events.ResponseRecommendation, 0.4),
			wantKind:    events.DecisionNoAction,
			wantRespond: false,
		},
		{
			name:        "confident recommendation responds",
			as:          assertion("e7", events.ResponseRecommendation, 0.9),
			wantKind:    events.DecisionRespond,
			wantRespond: true,
		},
		{
			name:        "respond defers while escalated",
			as:          assertion("e8", events.ResponseRecommendation, 0.95),
			st:          escalated,
			wantKind:    events.DecisionDefer,
			wantRespond: false,
		},
		{
			name:        "positive sentiment takes no action",
			as:          assertion("e9", events.PositiveSentiment, 0.99),
			wantKind:    events.DecisionNoAction,
			wantRespond: false,
		},
		{
			name:        "intent detection takes no action",
			as:          assertion("e10", events.IntentDetected, 0.99),
			wantKind:    events.DecisionNoAction,
			wantRespond: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := eng.Analyze(test.as, test.st)
			if d.Decision != test.wantKind {
				t.Errorf("decision = %s; expected %s (%s)", d.Decision, test.wantKind, d.Reasoning)
			}
			if d.ShouldRespond != test.wantRespond {
				t.Errorf("shouldRespond = %v; expected %v", d.ShouldRespond, test.wantRespond)
			}
			if d.Reasoning == "" {
				t.Error("reasoning must not be empty")
			}
		})
	}
}

func TestAnalyzeDoesNotDoubleCountTriggeringAssertion(t *testing.T) {
	eng := testEngine()
	as := assertion("e1", events.NegativeSentiment, 0.2)

	// The orchestrator appends before analyzing, so the history tail is
	// the triggering assertion itself.
	st := historyOf(events.NegativeSentiment)
	st.Assertions = append(st.Assertions, state.AssertionSummary{EventID: "e1", Type: events.NegativeSentiment})

	d := eng.Analyze(as, st)
	if d.Decision != events.DecisionNoAction {
		t.Errorf("run of 2 with threshold 3 escalated: %s (%s)", d.Decision, d.Reasoning)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	eng := testEngine()
	as := assertion("e1", events.NegativeSentiment, 0.9)
	st := historyOf(events.NegativeSentiment, events.NegativeSentiment)

	first := eng.Analyze(as, st)
	for i := 0; i < 10; i++ {
		if d := eng.Analyze(as, st); !reflect.DeepEqual(first, d) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, d)
		}
	}
}

func TestAnalyzeEscalationNotDeferred(t *testing.T) {
	eng := testEngine()
	as := assertion("e1", events.EscalationRequired, 0.9)
	st := &state.ConversationState{
		ConversationID: "conv-1",
		LastDecision:   &state.DecisionRef{Type: events.DecisionEscalate, MadeAt: time.Now()},
	}

	d := eng.Analyze(as, st)
	if d.Decision != events.DecisionEscalate || !d.ShouldRespond {
		t.Errorf("expected repeat ESCALATE, got %s respond=%v", d.Decision, d.ShouldRespond)
	}
}
