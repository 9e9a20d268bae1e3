// Package worker provides async transaction processing from the event
// bus, for callers that prefer ingest-and-forget over the synchronous
// scoring endpoint.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker consumes ingested transactions from the bus and runs them
// through the scoring pipeline. Results reach consumers the same way
// synchronous ones do: persistence, metrics, and the result topic.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, p *pipeline.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingest topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.TransactionRecord
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse ingested transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("processing ingested transaction",
		"tx_id", tx.ID,
		"message_id", msg.ID,
	)

	result, err := w.pipeline.Score(ctx, &tx)
	if err != nil {
		// NoActiveModels/NoViableModels are call-scoped failures; the
		// transaction is dropped, subsequent messages still process.
		slog.Error("async scoring failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("async scoring complete",
		"tx_id", tx.ID,
		"risk_score", result.RiskScore,
		"recommendation", result.Recommendation,
	)
	return nil
}

// Stop unsubscribes and halts processing. The first unsubscribe
// failure is returned; teardown still runs to completion.
func (w *Worker) Stop() error {
	var firstErr error
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.subscriptions = nil
	w.cancel()

	slog.Info("worker stopped")
	return firstErr
}
