// Package pipeline runs the full scoring sequence for one transaction:
// feature extraction, ensemble prediction, risk scoring, recommendation,
// then persistence and fan-out. Shared by the HTTP handler and the
// async ingest worker.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Pipeline holds the stages and side-effect targets for scoring calls.
// The stages are stateless given a registry snapshot; one Pipeline is
// shared by all concurrent callers.
type Pipeline struct {
	extractor    *features.Extractor
	orchestrator *ensemble.Orchestrator
	scorer       *scoring.Scorer
	engine       *decision.Engine

	cache      domain.ProfileCache
	repo       domain.Repository
	bus        domain.EventBus
	aggregator *metrics.Aggregator
}

// New assembles a pipeline. Cache, repo, bus and aggregator may be nil;
// the corresponding side effects are then skipped.
func New(
	extractor *features.Extractor,
	orchestrator *ensemble.Orchestrator,
	scorer *scoring.Scorer,
	engine *decision.Engine,
	cache domain.ProfileCache,
	repo domain.Repository,
	bus domain.EventBus,
	aggregator *metrics.Aggregator,
) *Pipeline {
	return &Pipeline{
		extractor:    extractor,
		orchestrator: orchestrator,
		scorer:       scorer,
		engine:       engine,
		cache:        cache,
		repo:         repo,
		bus:          bus,
		aggregator:   aggregator,
	}
}

// Score runs the pipeline for one transaction. The returned error is
// limited to the fatal conditions: no active models, or every active
// model failing. History lookups, persistence, metrics and fan-out
// degrade gracefully and never fail the caller.
func (p *Pipeline) Score(ctx context.Context, tx *domain.TransactionRecord) (*domain.FraudDetectionResult, error) {
	start := time.Now()

	hist := p.loadHistory(ctx, tx)
	f := p.extractor.Extract(tx, hist)

	outcome, err := p.orchestrator.Predict(ctx, f)
	if err != nil {
		return nil, err
	}

	score, factors := p.scorer.Score(outcome.Probability, f)
	recommendation := p.engine.Decide(score, outcome.Confidence)

	result := &domain.FraudDetectionResult{
		ID:               uuid.New().String(),
		TransactionID:    tx.ID,
		FraudProbability: outcome.Probability,
		RiskScore:        score,
		Confidence:       outcome.Confidence,
		Recommendation:   recommendation,
		Factors:          factors,
		Predictions:      outcome.Predictions,
		MerchantID:       tx.MerchantID,
		MerchantCategory: tx.MerchantCategory,
		ProcessingTime:   time.Since(start),
		Timestamp:        time.Now().UTC(),
	}
	if tx.Location != nil {
		result.Country = tx.Location.Country
	}

	p.finish(ctx, tx, hist, result)

	return result, nil
}

// loadHistory pulls the user's profile and bumps the velocity counter.
// Cache faults degrade to empty history; a scoring call must not fail
// because the profile store is down.
func (p *Pipeline) loadHistory(ctx context.Context, tx *domain.TransactionRecord) features.History {
	var hist features.History
	if p.cache == nil {
		return hist
	}

	profile, err := p.cache.GetProfile(ctx, tx.UserID)
	if err != nil {
		slog.Warn("profile lookup failed",
			"user_id", tx.UserID,
			"error", err,
		)
	} else {
		hist.Profile = profile
	}

	count, err := p.cache.IncrementCounter(ctx, "velocity:"+tx.UserID, p.extractor.VelocityWindow())
	if err != nil {
		slog.Warn("velocity counter failed",
			"user_id", tx.UserID,
			"error", err,
		)
	} else {
		hist.VelocityCount = count
	}

	return hist
}

// finish applies the post-scoring side effects: persist, aggregate,
// publish, and write back the rolled-forward profile. All of them are
// fire-and-forget relative to the scoring response.
func (p *Pipeline) finish(ctx context.Context, tx *domain.TransactionRecord, hist features.History, result *domain.FraudDetectionResult) {
	if p.repo != nil {
		if err := p.repo.SaveResult(ctx, result); err != nil {
			slog.Error("failed to save result",
				"result_id", result.ID,
				"transaction_id", result.TransactionID,
				"error", err,
			)
		}
	}

	if p.aggregator != nil {
		p.aggregator.Record(result)
	}

	if p.bus != nil {
		p.publish(ctx, result)
	}

	if p.cache != nil {
		updated := p.extractor.UpdatedProfile(tx, hist.Profile)
		if err := p.cache.SetProfile(ctx, tx.UserID, updated, p.extractor.ProfileTTL()); err != nil {
			slog.Warn("profile write-back failed",
				"user_id", tx.UserID,
				"error", err,
			)
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, result *domain.FraudDetectionResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to marshal result for publish",
			"result_id", result.ID,
			"error", err,
		)
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicResult, payload); err != nil {
		slog.Error("failed to publish result",
			"result_id", result.ID,
			"topic", domain.TopicResult,
			"error", err,
		)
	}

	if result.Recommendation == domain.RecommendBlock || result.Recommendation == domain.RecommendReview {
		if err := p.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"result_id", result.ID,
				"topic", domain.TopicAlert,
				"error", err,
			)
		}
	}
}
