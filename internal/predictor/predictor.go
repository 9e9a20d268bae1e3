// Package predictor provides deterministic reference predictors for the
// ensemble. Each implements domain.Predictor with a fixed-coefficient
// linear scorer squashed through a sigmoid, so identical features always
// produce identical probabilities. Real trained models can replace these
// behind the same interface without touching the pipeline.
package predictor

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New returns the reference predictor for a model type.
func New(t domain.ModelType) (domain.Predictor, error) {
	switch t {
	case domain.ModelRandomForest:
		return &linearModel{coeffs: randomForestCoeffs, bias: -2.6}, nil
	case domain.ModelGradientBoosting:
		return &linearModel{coeffs: gradientBoostingCoeffs, bias: -2.9}, nil
	case domain.ModelNeuralNetwork:
		return &linearModel{coeffs: neuralNetworkCoeffs, bias: -2.4}, nil
	case domain.ModelIsolationForest:
		return &anomalyModel{}, nil
	}
	return nil, fmt.Errorf("no reference predictor for model type %q", t)
}

// coefficients index into the signal slice produced by signals().
type coefficients [8]float64

// Each model weighs the same signals differently, so the ensemble gets
// genuine disagreement on borderline transactions.
var (
	randomForestCoeffs     = coefficients{2.2, 1.4, 0.9, 1.1, 0.8, 0.7, 1.0, 0.5}
	gradientBoostingCoeffs = coefficients{2.6, 1.1, 0.7, 1.4, 1.0, 0.5, 0.8, 0.9}
	neuralNetworkCoeffs    = coefficients{1.8, 1.6, 1.2, 0.8, 0.6, 1.0, 1.1, 0.4}
)

// signals normalizes the feature vector into [0,1] risk signals.
func signals(f *domain.FeatureVector) [8]float64 {
	var s [8]float64

	// Amount-to-balance pressure saturates at ratio 2.
	s[0] = clamp01(f.AmountBalanceRatio / 2.0)

	// Absolute amount, saturating at 50k.
	s[1] = clamp01(f.Amount / 50000.0)

	// Velocity, saturating at 10 transactions per window.
	s[2] = clamp01(float64(f.VelocityCount) / 10.0)

	// Geographic displacement, saturating at 2000 km. Unknown location
	// contributes a moderate constant instead of zero.
	switch {
	case f.UnknownLocation:
		s[3] = 0.5
	case f.GeoDistanceKm < 0:
		s[3] = 0.2 // known location, no history to compare against
	default:
		s[3] = clamp01(f.GeoDistanceKm / 2000.0)
	}

	// Night activity.
	if f.TimeBucket == domain.BucketNight {
		s[4] = 1.0
	}

	// Device trust.
	switch {
	case f.UnknownDevice:
		s[5] = 0.7
	case f.NovelDevice:
		s[5] = 0.5
	}

	// Merchant category tier.
	switch f.CategoryTier {
	case domain.TierHigh:
		s[6] = 1.0
	case domain.TierUnknown:
		s[6] = 0.6
	case domain.TierMedium:
		s[6] = 0.4
	}

	// Rapid-fire: under a minute since the previous transaction.
	if f.SecondsSinceLastTx >= 0 && f.SecondsSinceLastTx < 60 {
		s[7] = 1.0
	}

	return s
}

// linearModel is a fixed-weight logistic scorer.
type linearModel struct {
	coeffs coefficients
	bias   float64
}

func (m *linearModel) Predict(f *domain.FeatureVector) (float64, error) {
	if f == nil {
		return 0, fmt.Errorf("feature vector is nil")
	}

	sig := signals(f)
	z := m.bias
	for i, c := range m.coeffs {
		z += c * sig[i]
	}
	return sigmoid(z), nil
}

// anomalyModel scores how far the transaction sits from an "ordinary"
// profile, mirroring an isolation-style detector: it reacts to extremes
// rather than to a weighted vote.
type anomalyModel struct{}

func (m *anomalyModel) Predict(f *domain.FeatureVector) (float64, error) {
	if f == nil {
		return 0, fmt.Errorf("feature vector is nil")
	}

	sig := signals(f)

	// Mean squared deviation from the all-quiet baseline, emphasising
	// the largest single excursion.
	var sum, peak float64
	for _, s := range sig {
		sum += s * s
		if s > peak {
			peak = s
		}
	}
	mean := sum / float64(len(sig))

	return clamp01(0.65*peak + 0.35*math.Sqrt(mean)), nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// DefaultModels returns the standard model set registered at first boot,
// weighted the way the ensemble shipped: two tree learners carrying most
// of the vote and the anomaly detector as a tie-breaker.
func DefaultModels() []domain.ModelConfig {
	return []domain.ModelConfig{
		{ID: "rf_v1", Type: domain.ModelRandomForest, Version: "1.0", Weight: 0.4, Active: true},
		{ID: "gb_v1", Type: domain.ModelGradientBoosting, Version: "1.0", Weight: 0.4, Active: true},
		{ID: "iso_v1", Type: domain.ModelIsolationForest, Version: "1.0", Weight: 0.2, Active: true},
		{ID: "nn_v1", Type: domain.ModelNeuralNetwork, Version: "1.0", Weight: 0.3, Active: false},
	}
}
