// Package app wires the process: clients are constructed once and
// injected into the orchestrator, never rebuilt per invocation.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yhwhpe/response-orchestrator/config"
	"github.com/yhwhpe/response-orchestrator/emitter"
	"github.com/yhwhpe/response-orchestrator/engine"
	"github.com/yhwhpe/response-orchestrator/events"
	"github.com/yhwhpe/response-orchestrator/orchestrator"
	"github.com/yhwhpe/response-orchestrator/rabbitmq"
	"github.com/yhwhpe/response-orchestrator/state"
	"github.com/yhwhpe/response-orchestrator/store"
)

type App struct {
	cfg       *config.Config
	consumer  *rabbitmq.Consumer
	publisher *rabbitmq.Publisher
	store     store.Store
	repo      *state.Repository
	orch      *orchestrator.Orchestrator
	ready     atomic.Bool
}

// New builds the full processing chain from configuration.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	minioClient, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("✅ [APP] MinIO client initialized: endpoint=%s bucket=%s", cfg.MinIO.Endpoint, cfg.MinIO.Bucket)

	eventStore := store.NewMinIOStore(minioClient, cfg.MinIO.Bucket)
	repo := state.New(eventStore, cfg.HistoryCap)

	publisher := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	em := emitter.New(repo, publisher, cfg.Topics.Decisions, cfg.Topics.Updates)

	eng := engine.New(engine.Config{
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		EscalationRunLength: cfg.Engine.EscalationRunLength,
	})

	orch := orchestrator.New(repo, eng, em, cfg.Batch.DeadlineReserve)

	consumer := rabbitmq.New(
		cfg.RabbitMQ.URL,
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.Queue,
		cfg.RabbitMQ.Bindings,
		cfg.RabbitMQ.Prefetch,
		cfg.RabbitMQ.MaxRetries,
		cfg.Batch.Size,
		cfg.Batch.Wait,
	)

	return &App{
		cfg:       cfg,
		consumer:  consumer,
		publisher: publisher,
		store:     eventStore,
		repo:      repo,
		orch:      orch,
	}, nil
}

// Run starts the consumer loop and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.ready.Store(true)
	defer a.consumer.Close()
	defer a.publisher.Close()

	log.Printf("🚀 [APP] Starting response orchestrator: queue=%s", a.cfg.RabbitMQ.Queue)

	return a.consumer.Consume(ctx, func(hctx context.Context, records [][]byte) (*orchestrator.BatchResult, error) {
		bctx, cancel := context.WithTimeout(hctx, a.cfg.Batch.Timeout)
		defer cancel()
		return a.orch.ProcessBatch(bctx, records)
	})
}

// Router serves health checks and read-only conversation inspection.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.readyz)
	r.Get("/conversations/{conversationID}", a.getConversation)
	r.Get("/conversations/{conversationID}/events", a.getConversationEvents)

	return r
}

func (a *App) readyz(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	rctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.consumer.Ping(rctx); err != nil {
		http.Error(w, "rabbitmq not ready", http.StatusServiceUnavailable)
		return
	}
	if err := a.store.Ping(rctx); err != nil {
		http.Error(w, "event store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *App) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	st, err := a.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (a *App) getConversationEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	lines, err := a.store.ReadEvents(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	parsed := make([]events.AuditEvent, 0, len(lines))
	for _, line := range lines {
		ev, err := events.ParseAuditLine(line)
		if err != nil {
			log.Printf("[APP] Skipping unreadable audit line for %s: %v", id, err)
			continue
		}
		parsed = append(parsed, ev)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(parsed)
}
