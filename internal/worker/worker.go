// Package worker assesses records published to the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/msme-risk/internal/bus"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/metrics"
	"github.com/opensource-finance/msme-risk/internal/pipeline"
)

// Worker consumes assessment requests from the EventBus.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline

	mu            sync.Mutex
	subscriptions []domain.Subscription
	inflight      sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to consume; empty means every tenant.
	TenantIDs []string
}

// New creates a worker.
func New(eventBus domain.EventBus, p *pipeline.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the requested topic for each tenant.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.WildcardTenant}
	}

	var errs []error
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAssessmentRequested, w.handle)
		if err != nil {
			slog.Error("failed to start worker for tenant", "tenant_id", tenantID, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}

		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicAssessmentRequested,
		)
	}

	return errors.Join(errs...)
}

// handle assesses one request and publishes its outcome. A message sent
// with Request also receives the outcome as its reply.
func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	w.inflight.Add(1)
	defer w.inflight.Done()

	start := time.Now()
	tenantID := msg.TenantID

	var req domain.AssessmentRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse assessment request", "message_id", msg.ID, "error", err)
		return w.reject(ctx, msg, &domain.AssessmentRejection{
			RequestID: msg.ID,
			Error:     "malformed assessment request",
		})
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	eval, err := w.pipeline.Run(ctx, &pipeline.Input{
		TenantID: tenantID,
		TraceID:  req.RequestID,
		Profile:  req.Profile,
		Source:   metrics.SourceWorker,
		Raw:      req.Record,
	})
	if err != nil {
		rejection := &domain.AssessmentRejection{RequestID: req.RequestID, Error: err.Error()}
		var verrs domain.ValidationErrors
		if errors.As(err, &verrs) {
			rejection.Error = "validation failed"
			rejection.Errors = verrs
		}

		slog.Warn("assessment rejected",
			"request_id", req.RequestID,
			"tenant_id", tenantID,
			"error", err,
		)
		return w.reject(ctx, msg, rejection)
	}

	payload, err := bus.PublishEvaluation(ctx, w.bus, eval)
	if payload == nil {
		return err
	}
	if err != nil {
		slog.Error("failed to publish assessment", "request_id", req.RequestID, "error", err)
	}
	if err := w.bus.Respond(ctx, msg, payload); err != nil {
		slog.Error("failed to reply", "request_id", req.RequestID, "error", err)
	}

	slog.Info("assessment processed",
		"request_id", req.RequestID,
		"tenant_id", tenantID,
		"profile", eval.Profile,
		"score", eval.Assessment.Score,
		"tier", eval.Assessment.Tier,
		"referral", eval.Referral,
		"rules_triggered", eval.Metadata.RulesTriggered,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) reject(ctx context.Context, msg *domain.Message, rejection *domain.AssessmentRejection) error {
	payload, err := bus.PublishJSON(ctx, w.bus, msg.TenantID, domain.TopicAssessmentRejected, rejection)
	if payload == nil {
		return err
	}
	if err != nil {
		slog.Error("failed to publish rejection", "request_id", rejection.RequestID, "error", err)
	}
	return w.bus.Respond(ctx, msg, payload)
}

// Stop unsubscribes and waits for in-flight assessments.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.inflight.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats describes the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
