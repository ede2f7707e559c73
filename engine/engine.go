// Package engine decides whether the system should respond to an
// assertion. Analyze is pure and deterministic: identical
// (assertion, state) input always yields the identical Decision, so a
// run can be replayed from the audit log.
package engine

import (
	"fmt"

	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/state"
)

// Config holds the tunable decision thresholds.
type Config struct {
	// ConfidenceThreshold is the minimum confidence at which an
	// assertion can trigger RESPOND on its own.
	ConfidenceThreshold float64
	// EscalationRunLength is the number of consecutive negative-
	// sentiment assertions (including the current one) that forces
	// ESCALATE regardless of confidence.
	EscalationRunLength int
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Analyze examines the assertion against the conversation's current
// state. st may be nil for a conversation with no prior state; when the
// triggering assertion was already appended to the history, it is not
// double-counted. The most recent assertion always takes priority over
// older ones. No I/O, no clock reads, no randomness.
func (e *Engine) Analyze(as *events.AssertionEvent, st *state.ConversationState) events.Decision {
	conf := as.Assertion.Confidence

	switch as.Assertion.Type {
	case events.EscalationRequired:
		return events.Decision{
			ShouldRespond: true,
			Decision:      events.DecisionEscalate,
			Reasoning:     fmt.Sprintf("agent %s required escalation (confidence %.2f)", as.Assertion.AgentID, conf),
		}

	case events.NegativeSentiment:
		run := e.negativeRun(as, st)
		if e.cfg.EscalationRunLength > 0 && run >= e.cfg.EscalationRunLength {
			return events.Decision{
				ShouldRespond: true,
				Decision:      events.DecisionEscalate,
				Reasoning:     fmt.Sprintf("%d consecutive negative-sentiment assertions (threshold %d)", run, e.cfg.EscalationRunLength),
			}
		}
		if conf >= e.cfg.ConfidenceThreshold {
			return e.respondOrDefer(st,
				fmt.Sprintf("negative sentiment at confidence %.2f (threshold %.2f)", conf, e.cfg.ConfidenceThreshold))
		}
		return events.Decision{
			Decision:  events.DecisionNoAction,
			Reasoning: fmt.Sprintf("negative sentiment below confidence threshold (%.2f < %.2f), run %d of %d", conf, e.cfg.ConfidenceThreshold, run, e.cfg.EscalationRunLength),
		}

	case events.ResponseRecommendation:
		if conf >= e.cfg.ConfidenceThreshold {
			return e.respondOrDefer(st,
				fmt.Sprintf("response recommended at confidence %.2f (threshold %.2f)", conf, e.cfg.ConfidenceThreshold))
		}
		return events.Decision{
			Decision:  events.DecisionNoAction,
			Reasoning: fmt.Sprintf("recommendation below confidence threshold (%.2f < %.2f)", conf, e.cfg.ConfidenceThreshold),
		}

	default:
		return events.Decision{
			Decision:  events.DecisionNoAction,
			Reasoning: fmt.Sprintf("assertion type %s carries no response trigger", as.Assertion.Type),
		}
	}
}

// respondOrDefer downgrades a respond-worthy assertion to DEFER when the
// conversation was last escalated: it belongs to a human owner now.
func (e *Engine) respondOrDefer(st *state.ConversationState, reason string) events.Decision {
	if st != nil && st.LastDecision != nil && st.LastDecision.Type == events.DecisionEscalate {
		return events.Decision{
			Decision:  events.DecisionDefer,
			Reasoning: reason + "; deferred, conversation is escalated",
		}
	}
	return events.Decision{
		ShouldRespond: true,
		Decision:      events.DecisionRespond,
		Reasoning:     reason,
	}
}

// negativeRun counts the trailing run of consecutive negative-sentiment
// assertions, counting the triggering assertion exactly once.
func (e *Engine) negativeRun(as *events.AssertionEvent, st *state.ConversationState) int {
	run := 0
	if as.Assertion.Type == events.NegativeSentiment {
		run = 1
	}
	if st == nil {
		return run
	}

	hist := st.Assertions
	if n := len(hist); n > 0 && hist[n-1].EventID == as.EventID {
		hist = hist[:n-1]
	}
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Type != events.NegativeSentiment {
			break
		}
		run++
	}
	return run
}
