package domain

import (
	"time"
)

// ModelType tags the kind of predictor behind a registered model.
// Used for metadata display only; the pipeline treats all predictors
// uniformly through the Predictor interface.
type ModelType string

const (
	ModelRandomForest     ModelType = "random_forest"
	ModelGradientBoosting ModelType = "gradient_boosting"
	ModelNeuralNetwork    ModelType = "neural_network"
	ModelIsolationForest  ModelType = "isolation_forest"
)

// Valid reports whether t is one of the supported model kinds.
func (t ModelType) Valid() bool {
	switch t {
	case ModelRandomForest, ModelGradientBoosting, ModelNeuralNetwork, ModelIsolationForest:
		return true
	}
	return false
}

// Predictor is the capability contract a model must satisfy to
// participate in the ensemble. Implementations must be safe for
// concurrent use and should be cheap, bounded computations; the
// orchestrator discards results that arrive after the per-model budget.
type Predictor interface {
	// Predict returns the fraud probability in [0,1] for the features.
	Predict(features *FeatureVector) (float64, error)
}

// ModelMetadata describes a registered model.
// Weight and Active are mutated only through registry operations.
type ModelMetadata struct {
	ID      string    `json:"id"`
	Type    ModelType `json:"type"`
	Version string    `json:"version"`
	Weight  float64   `json:"weight"`
	Active  bool      `json:"active"`

	RegisteredAt time.Time `json:"registeredAt"`

	// Performance holds rolling counters updated after each invocation.
	Performance PerformanceStats `json:"performance"`
}

// PerformanceStats are rolling per-model prediction counters.
type PerformanceStats struct {
	Predictions    int64   `json:"predictions"`
	Failures       int64   `json:"failures"`
	AvgProbability float64 `json:"avgProbability"`
	MinProbability float64 `json:"minProbability"`
	MaxProbability float64 `json:"maxProbability"`
}

// ModelConfig is the persisted form of a model registration, used to
// rebuild the registry at startup. The predictor itself is reconstructed
// from the type tag.
type ModelConfig struct {
	ID      string    `json:"id"`
	Type    ModelType `json:"type"`
	Version string    `json:"version"`
	Weight  float64   `json:"weight"`
	Active  bool      `json:"active"`
}
