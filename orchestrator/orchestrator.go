// Package orchestrator sequences parse → state mutation → decision →
// emission for each record of a transport batch. Per-record failures
// never abort sibling records; the transport owns all retry scheduling.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yhwhpe/response-orchestrator/emitter"
	"github.com/yhwhpe/response-orchestrator/engine"
	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/internal/parser"
	"github.com/yhwhpe/response-orchestrator/state"
)

// ProcessingResult is the per-record outcome reported to the transport.
type ProcessingResult struct {
	Index           int
	ConversationID  string
	Decision        events.DecisionType
	DecisionEmitted bool
	UpdateEmitted   bool
	Elapsed         time.Duration
	// Terminal marks a data-quality failure (malformed record) that
	// must not be retried.
	Terminal bool
	// Skipped marks a record never started because the invocation's
	// time budget ran out; the transport should redeliver it.
	Skipped bool
	Err     error
}

// Success reports whether the record fully processed.
func (r *ProcessingResult) Success() bool {
	return r.Err == nil && !r.Skipped
}

// BatchResult aggregates one invocation's per-record outcomes.
type BatchResult struct {
	Results   []ProcessingResult
	Succeeded int
	Failed    int
	Skipped   int
	Decisions int
	Updates   int
}

type Orchestrator struct {
	repo    *state.Repository
	engine  *engine.Engine
	emitter *emitter.Emitter

	// deadlineReserve is the remaining-time floor below which no new
	// record is started, so a record is never killed mid-write.
	deadlineReserve time.Duration
}

func New(repo *state.Repository, eng *engine.Engine, em *emitter.Emitter, deadlineReserve time.Duration) *Orchestrator {
	return &Orchestrator{
		repo:            repo,
		engine:          eng,
		emitter:         em,
		deadlineReserve: deadlineReserve,
	}
}

// ProcessBatch processes raw records sequentially in delivery order.
// It returns an error only for failures before per-record processing
// can start; individual record failures are reported in the result and
// the invocation itself returns normally.
func (o *Orchestrator) ProcessBatch(ctx context.Context, records [][]byte) (*BatchResult, error) {
	if o.repo == nil || o.engine == nil || o.emitter == nil {
		return nil, errors.New("orchestrator is not fully wired")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch aborted before processing: %w", err)
	}

	batch := &BatchResult{Results: make([]ProcessingResult, 0, len(records))}

	for i, raw := range records {
		if o.outOfTime(ctx) {
			log.Printf("[ORCHESTRATOR] ⏱ Time budget exhausted, skipping records %d..%d", i, len(records)-1)
			for j := i; j < len(records); j++ {
				batch.Results = append(batch.Results, ProcessingResult{Index: j, Skipped: true})
				batch.Skipped++
			}
			break
		}

		res := o.processRecord(ctx, i, raw)
		batch.Results = append(batch.Results, res)

		if res.Success() {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
		if res.DecisionEmitted {
			batch.Decisions++
		}
		if res.UpdateEmitted {
			batch.Updates++
		}
	}

	log.Printf("[ORCHESTRATOR] Batch done: total=%d succeeded=%d failed=%d skipped=%d decisions=%d updates=%d",
		len(records), batch.Succeeded, batch.Failed, batch.Skipped, batch.Decisions, batch.Updates)
	return batch, nil
}

func (o *Orchestrator) processRecord(ctx context.Context, index int, raw []byte) ProcessingResult {
	start := time.Now()
	res := ProcessingResult{Index: index}

	ev, err := parser.Parse(raw)
	if err != nil {
		log.Printf("[ORCHESTRATOR] ❌ Record %d dropped: %v", index, err)
		res.Err = err
		res.Terminal = true
		res.Elapsed = time.Since(start)
		return res
	}
	res.ConversationID = ev.ConversationID

	st, err := o.repo.AddAssertion(ctx, ev)
	if err != nil {
		return res.fail(start, fmt.Errorf("append assertion: %w", err))
	}

	if err := o.repo.SaveAssertionEvent(ctx, ev); err != nil {
		return res.fail(start, fmt.Errorf("persist assertion event: %w", err))
	}

	decision := o.engine.Analyze(ev, st)
	res.Decision = decision.Decision

	if decision.ShouldRespond {
		update, err := o.emitter.EmitUpdate(ctx, ev, decision)
		if update != nil && persisted(err) {
			res.UpdateEmitted = true
		}
		if err != nil {
			return res.fail(start, fmt.Errorf("emit update: %w", err))
		}
		if update != nil {
			sent := st.ResponsesSent + 1
			if _, err := o.repo.Update(ctx, ev.ConversationID, state.StatePatch{ResponsesSent: &sent}); err != nil {
				return res.fail(start, fmt.Errorf("increment responsesSent: %w", err))
			}
		}
	}

	decisionEvent, err := o.emitter.EmitDecision(ctx, ev, decision)
	if decisionEvent != nil && persisted(err) {
		res.DecisionEmitted = true
	}
	if err != nil {
		return res.fail(start, fmt.Errorf("emit decision: %w", err))
	}

	patch := state.StatePatch{
		LastDecision: &state.DecisionRef{Type: decision.Decision, MadeAt: decisionEvent.EmittedAt},
		UpdatedAt:    &decisionEvent.EmittedAt,
	}
	if _, err := o.repo.Update(ctx, ev.ConversationID, patch); err != nil {
		return res.fail(start, fmt.Errorf("update last decision: %w", err))
	}

	res.Elapsed = time.Since(start)
	return res
}

func (r ProcessingResult) fail(start time.Time, err error) ProcessingResult {
	r.Err = err
	r.Elapsed = time.Since(start)
	return r
}

// persisted reports whether an emit call got its event into the audit
// log: a nil error did, and so did a publish-only failure (the emitter
// appends to the audit log regardless of downstream publish success).
func persisted(err error) bool {
	if err == nil {
		return true
	}
	var perr *emitter.PublishError
	return errors.As(err, &perr)
}

func (o *Orchestrator) outOfTime(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return time.Until(deadline) < o.deadlineReserve
}
