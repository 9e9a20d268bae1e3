package domain

import (
	"time"
)

// Recommendation is the final categorical decision for a transaction.
type Recommendation string

const (
	RecommendApprove   Recommendation = "APPROVE"
	RecommendReview    Recommendation = "REVIEW"
	RecommendChallenge Recommendation = "CHALLENGE"
	RecommendBlock     Recommendation = "BLOCK"
)

// Strictness orders recommendations from most permissive to most
// strict. Used by tests to assert monotonicity of the decision table.
func (r Recommendation) Strictness() int {
	switch r {
	case RecommendApprove:
		return 0
	case RecommendReview:
		return 1
	case RecommendChallenge:
		return 2
	case RecommendBlock:
		return 3
	}
	return -1
}

// Valid reports whether r is one of the defined recommendations.
func (r Recommendation) Valid() bool {
	return r.Strictness() >= 0
}

// PredictionResult is the outcome of a single predictor invocation.
// Ephemeral; created per call and carried in the result breakdown.
type PredictionResult struct {
	ModelID     string        `json:"modelId"`
	ModelType   ModelType     `json:"modelType"`
	Probability float64       `json:"probability"`
	Latency     time.Duration `json:"-"`
	LatencyMs   int64         `json:"latencyMs"`

	// Excluded marks predictors that errored or timed out and were
	// dropped from the weighted combination for this call.
	Excluded bool   `json:"excluded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RiskFactor is a rule-based contribution applied by the risk scorer.
type RiskFactor struct {
	Name        string  `json:"name"`
	Severity    string  `json:"severity"` // "low", "medium", "high"
	Points      float64 `json:"points"`
	Description string  `json:"description"`
}

// FraudDetectionResult is the immutable unit of exchange between the
// pipeline and its consumers (API response, metrics, event bus).
type FraudDetectionResult struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`

	FraudProbability float64 `json:"fraudProbability"` // [0,1]
	RiskScore        float64 `json:"riskScore"`        // [0,100]
	Confidence       float64 `json:"confidence"`       // [0,1]

	Recommendation Recommendation `json:"recommendation"`
	Factors        []RiskFactor   `json:"factors,omitempty"`

	// Predictions is the per-model breakdown, including excluded models.
	Predictions []PredictionResult `json:"predictions"`

	// Context carried for metrics aggregation.
	MerchantID       string `json:"merchantId"`
	MerchantCategory string `json:"merchantCategory"`
	Country          string `json:"country"`

	ProcessingTime time.Duration `json:"-"`
	Timestamp      time.Time     `json:"timestamp"`
}

// IsFlagged reports whether the result crosses the flagging line.
func (r *FraudDetectionResult) IsFlagged() bool {
	return r.RiskScore >= 60
}

// ScoreResponse is the wire format for a scoring call.
type ScoreResponse struct {
	TransactionID    string             `json:"transaction_id"`
	FraudProbability float64            `json:"fraud_probability"`
	RiskScore        float64            `json:"risk_score"`
	IsFlagged        bool               `json:"is_flagged"`
	Confidence       float64            `json:"confidence"`
	Recommendation   Recommendation     `json:"recommendation"`
	RiskFactors      []RiskFactor       `json:"risk_factors,omitempty"`
	ModelPredictions map[string]float64 `json:"model_predictions"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
	Timestamp        time.Time          `json:"timestamp"`
}

// ToResponse converts a result to its wire format. Excluded models are
// omitted from model_predictions but remain visible in the full result.
func (r *FraudDetectionResult) ToResponse() *ScoreResponse {
	preds := make(map[string]float64, len(r.Predictions))
	for _, p := range r.Predictions {
		if !p.Excluded {
			preds[p.ModelID] = p.Probability
		}
	}

	return &ScoreResponse{
		TransactionID:    r.TransactionID,
		FraudProbability: r.FraudProbability,
		RiskScore:        r.RiskScore,
		IsFlagged:        r.IsFlagged(),
		Confidence:       r.Confidence,
		Recommendation:   r.Recommendation,
		RiskFactors:      r.Factors,
		ModelPredictions: preds,
		ProcessingTimeMs: float64(r.ProcessingTime.Microseconds()) / 1000.0,
		Timestamp:        r.Timestamp,
	}
}
