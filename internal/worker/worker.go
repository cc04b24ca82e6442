// Package worker provides async message processing on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-clinical/bedside/internal/bus"
	"github.com/opensource-clinical/bedside/internal/catalog"
	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/scoring"
	"github.com/opensource-clinical/bedside/internal/usage"
)

// Worker keeps the node's registry in step with instrument changes and
// serves evaluation requests arriving on the EventBus.
type Worker struct {
	bus      domain.EventBus
	registry *scoring.Registry
	loader   *catalog.Loader
	cache    domain.Cache
	usage    *usage.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// ServeEvaluations subscribes to evaluation requests in addition to instrument changes.
	ServeEvaluations bool
}

// NewWorker creates a new async worker. cache and usage may be nil.
func NewWorker(eventBus domain.EventBus, registry *scoring.Registry, loader *catalog.Loader, cache domain.Cache, usageSvc *usage.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		registry: registry,
		loader:   loader,
		cache:    cache,
		usage:    usageSvc,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes the worker's handlers.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicInstrumentChanged, w.handleInstrumentChanged)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if cfg.ServeEvaluations {
		sub, err := w.bus.Subscribe(w.ctx, domain.TopicEvaluateRequest, w.handleEvaluateRequest)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started",
		"subscriptions", len(w.subscriptions),
		"serve_evaluations", cfg.ServeEvaluations,
	)

	return nil
}

// handleInstrumentChanged reloads the registry and drops the cached catalog.
func (w *Worker) handleInstrumentChanged(ctx context.Context, msg *domain.Message) error {
	var change domain.InstrumentChange
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		slog.Error("failed to parse instrument change",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.loader.Reload(ctx, w.registry); err != nil {
		slog.Error("instrument reload failed",
			"instrument_id", change.InstrumentID,
			"error", err,
		)
		return err
	}

	if w.cache != nil {
		if err := w.cache.Delete(ctx, catalog.CacheKey); err != nil {
			slog.Warn("failed to invalidate catalog cache", "error", err)
		}
	}

	slog.Info("instruments reloaded",
		"instrument_id", change.InstrumentID,
		"version", change.Version,
		"deleted", change.Deleted,
		"count", w.registry.Count(),
	)
	return nil
}

// handleEvaluateRequest scores an EvaluateRequest and replies with an EvaluateReply.
func (w *Worker) handleEvaluateRequest(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.EvaluateRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse evaluate request",
			"message_id", msg.ID,
			"error", err,
		)
		return w.reply(ctx, msg, domain.EvaluateReply{Error: "invalid request: " + err.Error()})
	}

	eval, err := w.registry.Evaluate(ctx, req.InstrumentID, req.Inputs)
	if err != nil {
		slog.Warn("evaluation failed",
			"instrument_id", req.InstrumentID,
			"error", err,
		)
		return w.reply(ctx, msg, domain.EvaluateReply{Error: err.Error()})
	}

	Completed(ctx, w.bus, w.usage, eval)

	slog.Info("evaluation served",
		"instrument_id", eval.InstrumentID,
		"score", eval.Score,
		"tier", eval.Tier.Label,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return w.reply(ctx, msg, domain.EvaluateReply{Evaluation: eval})
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, r domain.EvaluateReply) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if msg.ReplyTo == "" {
		return nil
	}
	return w.bus.Reply(ctx, msg, payload)
}

// Completed records usage and publishes the evaluation summary. Failures are
// logged; the evaluation itself has already succeeded.
func Completed(ctx context.Context, eventBus domain.EventBus, usageSvc *usage.Service, eval *domain.Evaluation) {
	if usageSvc != nil {
		if err := usageSvc.Record(ctx, eval); err != nil {
			slog.Warn("failed to record usage",
				"instrument_id", eval.InstrumentID,
				"error", err,
			)
		}
	}
	if eventBus != nil {
		if err := bus.PublishJSON(ctx, eventBus, domain.TopicEvaluationCompleted, eval.Summary()); err != nil {
			slog.Warn("failed to publish evaluation summary",
				"instrument_id", eval.InstrumentID,
				"error", err,
			)
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
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
