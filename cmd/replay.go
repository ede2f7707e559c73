package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/yhwhpe/response-orchestrator/config"
	"github.com/yhwhpe/response-orchestrator/engine"
	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/state"
	"github.com/yhwhpe/response-orchestrator/store"
)

var replayCmd = &cobra.Command{
	Use:   "replay <conversation-id>",
	Short: "Re-run the decision engine over a conversation's audit log",
	Long: `replay rebuilds a conversation's state from its audit log and runs
the decision engine over every recorded assertion, comparing the
recomputed decision against the one recorded at the time. The engine
is deterministic, so a divergence means the configuration changed or
the log was tampered with.`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		exitOnError(err)
		exitOnError(cfg.Validate())

		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		exitOnError(err)

		s := store.NewMinIOStore(client, cfg.MinIO.Bucket)
		exitOnError(Replay(context.Background(), s, cfg, args[0], os.Stdout))
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

// Replay walks the audit log in order, maintaining the same state view
// the orchestrator had at each step, and prints the recomputed decision
// next to the recorded one.
func Replay(ctx context.Context, s store.Store, cfg *config.Config, conversationID string, out io.Writer) error {
	lines, err := s.ReadEvents(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("no audit events for conversation %s", conversationID)
	}

	eng := engine.New(engine.Config{
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		EscalationRunLength: cfg.Engine.EscalationRunLength,
	})

	st := &state.ConversationState{ConversationID: conversationID}
	computed := make(map[string]events.Decision)
	divergences := 0

	for _, line := range lines {
		ev, err := events.ParseAuditLine(line)
		if err != nil {
			fmt.Fprintf(out, "!! unreadable audit line: %v\n", err)
			continue
		}

		switch e := ev.(type) {
		case *events.AssertionEvent:
			st.AppendSummary(state.Summarize(e), cfg.HistoryCap)
			d := eng.Analyze(e, st)
			computed[e.EventID] = d
			fmt.Fprintf(out, "assertion %s  type=%s conf=%.2f -> %s (respond=%v)\n",
				e.EventID, e.Assertion.Type, e.Assertion.Confidence, d.Decision, d.ShouldRespond)

		case *events.DecisionEvent:
			// Recorded decisions drive the replayed state so later
			// engine calls see what the orchestrator saw.
			st.LastDecision = &state.DecisionRef{Type: e.Decision.Decision, MadeAt: e.EmittedAt}
			if d, ok := computed[e.AssertionID]; ok && (d.Decision != e.Decision.Decision || d.ShouldRespond != e.Decision.ShouldRespond) {
				divergences++
				fmt.Fprintf(out, "!! divergence for assertion %s: recomputed %s/%v, recorded %s/%v\n",
					e.AssertionID, d.Decision, d.ShouldRespond, e.Decision.Decision, e.Decision.ShouldRespond)
			}

		case *events.UpdateEvent:
			st.ResponsesSent++
		}
	}

	fmt.Fprintf(out, "replayed %d audit event(s), %d divergence(s)\n", len(lines), divergences)
	if divergences > 0 {
		return fmt.Errorf("%d decision(s) diverged from the audit log", divergences)
	}
	return nil
}
