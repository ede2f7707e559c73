package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/yhwhpe/response-orchestrator/config"
	"github.com/yhwhpe/response-orchestrator/emitter"
	"github.com/yhwhpe/response-orchestrator/engine"
	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/orchestrator"
	"github.com/yhwhpe/response-orchestrator/state"
	"github.com/yhwhpe/response-orchestrator/store"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, string, []byte) error { return nil }

func seedConversation(t *testing.T, cfg *config.Config) *store.MemoryStore {
	t.Helper()
	mem := store.NewMemoryStore()
	repo := state.New(mem, cfg.HistoryCap)
	em := emitter.New(repo, nopPublisher{}, cfg.Topics.Decisions, cfg.Topics.Updates)
	eng := engine.New(engine.Config{
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		EscalationRunLength: cfg.Engine.EscalationRunLength,
	})
	o := orchestrator.New(repo, eng, em, 0)

	var records [][]byte
	mk := func(id string, typ events.AssertionType, conf float64) []byte {
		data, err := json.Marshal(events.AssertionEvent{
			EventID:        id,
			ConversationID: "conv-1",
			Assertion:      events.Assertion{Type: typ, AgentID: "agent-1", Confidence: conf},
			Metadata:       events.Metadata{OccurredAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
		})
		if err != nil {
			t.Fatal(err)
		}
		return []byte(base64.StdEncoding.EncodeToString(data))
	}
	records = append(records,
		mk("evt-1", events.NegativeSentiment, 0.5),
		mk("evt-2", events.NegativeSentiment, 0.5),
		mk("evt-3", events.NegativeSentiment, 0.9),
		mk("evt-4", events.PositiveSentiment, 0.9),
	)

	result, err := o.ProcessBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("seeding batch: %v", err)
	}
	if result.Succeeded != len(records) {
		t.Fatalf("seeding batch succeeded=%d: %+v", result.Succeeded, result.Results)
	}
	return mem
}

func TestReplayReproducesRecordedDecisions(t *testing.T) {
	cfg := config.Default()
	mem := seedConversation(t, cfg)

	var out bytes.Buffer
	if err := Replay(context.Background(), mem, cfg, "conv-1", &out); err != nil {
		t.Fatalf("Replay: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "0 divergence(s)") {
		t.Errorf("expected zero divergences, got:\n%s", out.String())
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	cfg := config.Default()
	mem := seedConversation(t, cfg)

	// A tampered decision for a recorded assertion must be flagged.
	bogus, err := json.Marshal(events.DecisionEvent{
		EventType:      events.TypeDecision,
		EventID:        "dec-bogus",
		ConversationID: "conv-1",
		AssertionID:    "evt-3",
		Decision:       events.Decision{ShouldRespond: false, Decision: events.DecisionNoAction},
		EmittedAt:      time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.AppendEvent(context.Background(), "conv-1", bogus); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Replay(context.Background(), mem, cfg, "conv-1", &out); err == nil {
		t.Fatalf("expected divergence error, got:\n%s", out.String())
	}
}

func TestReplayEmptyConversation(t *testing.T) {
	cfg := config.Default()
	var out bytes.Buffer
	if err := Replay(context.Background(), store.NewMemoryStore(), cfg, "conv-none", &out); err == nil {
		t.Error("expected error for a conversation with no audit events")
	}
}
