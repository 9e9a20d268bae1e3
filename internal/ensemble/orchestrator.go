// Package ensemble combines the outputs of all active predictors into a
// single weighted fraud probability, tolerating individual model
// failures and timeouts.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

var (
	// ErrNoActiveModels is returned when the registry snapshot contains
	// zero active models. Nothing is invoked in that case.
	ErrNoActiveModels = errors.New("no active models in registry")

	// ErrNoViableModels is returned when every active predictor failed
	// or timed out. The one fatal condition inside the pipeline.
	ErrNoViableModels = errors.New("all active models failed")

	// ErrModelTimeout marks a single predictor exceeding its budget.
	// Recovered locally; surfaces only through the breakdown.
	ErrModelTimeout = errors.New("model prediction timed out")
)

// Outcome is the result of one ensemble call.
type Outcome struct {
	// Probability is the weighted fraud probability over surviving models.
	Probability float64

	// Confidence derives from model agreement, scaled down by the share
	// of active models that survived this call.
	Confidence float64

	// Predictions holds the per-model breakdown, excluded models included.
	Predictions []domain.PredictionResult

	// RegistryVersion is the registry version the call was scored against.
	RegistryVersion uint64
}

// Orchestrator fans a feature vector out to every active predictor.
// Stateless apart from the registry reference; safe for concurrent use.
type Orchestrator struct {
	registry *registry.Registry
	timeout  time.Duration
	sem      chan struct{}
}

// New creates an orchestrator over the given registry.
func New(reg *registry.Registry, cfg domain.EnsembleConfig) *Orchestrator {
	timeout := cfg.PredictorTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &Orchestrator{
		registry: reg,
		timeout:  timeout,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Predict invokes every active predictor under an individual timeout and
// combines the surviving probabilities by renormalized weight.
//
// A model that errors or exceeds its budget is excluded from this call
// only; its weight is redistributed across the survivors so surviving
// weights always sum to 1. Timeout does not cancel in-flight work, but a
// late result is discarded.
func (o *Orchestrator) Predict(ctx context.Context, features *domain.FeatureVector) (*Outcome, error) {
	snap := o.registry.Snapshot()
	if len(snap.Models) == 0 {
		return nil, ErrNoActiveModels
	}

	results := make([]domain.PredictionResult, len(snap.Models))
	done := make(chan int, len(snap.Models))

	for i, m := range snap.Models {
		go func(idx int, m registry.SnapshotModel) {
			o.sem <- struct{}{}
			defer func() { <-o.sem }()

			results[idx] = o.invoke(ctx, m, features)
			done <- idx
		}(i, m)
	}

	for range snap.Models {
		<-done
	}

	// Combine survivors with renormalized weights. A model registered
	// with weight zero survives but contributes nothing, which is fine
	// as long as at least one surviving weight is positive.
	var weightSum float64
	surviving := 0
	for _, r := range results {
		if !r.Excluded {
			surviving++
			weightSum += modelWeight(snap, r.ModelID)
		}
	}
	if surviving == 0 || weightSum <= 0 {
		return nil, fmt.Errorf("%w: %d active, 0 viable", ErrNoViableModels, len(snap.Models))
	}

	var probability float64
	for _, r := range results {
		if !r.Excluded {
			probability += r.Probability * (modelWeight(snap, r.ModelID) / weightSum)
		}
	}

	confidence := o.confidence(results, snap, weightSum, probability, surviving)

	return &Outcome{
		Probability:     probability,
		Confidence:      confidence,
		Predictions:     results,
		RegistryVersion: snap.Version,
	}, nil
}

// invoke runs one predictor under the per-model budget.
func (o *Orchestrator) invoke(ctx context.Context, m registry.SnapshotModel, features *domain.FeatureVector) domain.PredictionResult {
	start := time.Now()
	result := domain.PredictionResult{
		ModelID:   m.ID,
		ModelType: m.Type,
	}

	type prediction struct {
		prob float64
		err  error
	}
	ch := make(chan prediction, 1)

	go func() {
		prob, err := m.Predictor.Predict(features)
		ch <- prediction{prob: prob, err: err}
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case p := <-ch:
		result.Latency = time.Since(start)
		result.LatencyMs = result.Latency.Milliseconds()
		if p.err != nil {
			result.Excluded = true
			result.Error = p.err.Error()
			o.registry.RecordFailure(m.ID)
			slog.Warn("model prediction failed",
				"model_id", m.ID,
				"error", p.err,
			)
			return result
		}
		result.Probability = clamp01(p.prob)
		o.registry.RecordPrediction(m.ID, result.Probability)
		return result

	case <-timer.C:
		result.Latency = time.Since(start)
		result.LatencyMs = result.Latency.Milliseconds()
		result.Excluded = true
		result.Error = ErrModelTimeout.Error()
		o.registry.RecordFailure(m.ID)
		slog.Warn("model prediction timed out",
			"model_id", m.ID,
			"budget_ms", o.timeout.Milliseconds(),
		)
		return result

	case <-ctx.Done():
		result.Latency = time.Since(start)
		result.LatencyMs = result.Latency.Milliseconds()
		result.Excluded = true
		result.Error = ctx.Err().Error()
		return result
	}
}

// confidence is model agreement scaled by surviving participation:
//
//	agreement  = 1 - min(1, 4*variance)
//	confidence = agreement * (surviving / totalActive)
//
// Variance of values in [0,1] is at most 0.25, so the factor of 4
// normalizes it to [0,1].
func (o *Orchestrator) confidence(results []domain.PredictionResult, snap registry.Snapshot, weightSum, mean float64, surviving int) float64 {
	var variance float64
	for _, r := range results {
		if !r.Excluded {
			w := modelWeight(snap, r.ModelID) / weightSum
			d := r.Probability - mean
			variance += w * d * d
		}
	}

	agreement := 1.0 - math.Min(1.0, 4.0*variance)
	participation := float64(surviving) / float64(len(snap.Models))
	return clamp01(agreement * participation)
}

func modelWeight(snap registry.Snapshot, id string) float64 {
	for _, m := range snap.Models {
		if m.ID == id {
			return m.Weight
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
