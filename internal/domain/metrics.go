package domain

import (
	"time"
)

// Granularity is a configured aggregation window size. Each granularity
// maintains its own rolling snapshot in the metrics aggregator.
type Granularity string

const (
	GranularityHour  Granularity = "1h"
	GranularityDay   Granularity = "24h"
	GranularityWeek  Granularity = "7d"
	GranularityMonth Granularity = "30d"
)

// Granularities lists the supported windows in ascending order.
func Granularities() []Granularity {
	return []Granularity{GranularityHour, GranularityDay, GranularityWeek, GranularityMonth}
}

// Window returns the time span the granularity covers.
func (g Granularity) Window() time.Duration {
	switch g {
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	case GranularityWeek:
		return 7 * 24 * time.Hour
	case GranularityMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	return g.Window() > 0
}

// EntityCount is a named counter used in top-N listings.
type EntityCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// ModelSnapshotStats are windowed per-model aggregates.
type ModelSnapshotStats struct {
	Predictions    int64   `json:"predictions"`
	AvgProbability float64 `json:"avgProbability"`
}

// MetricSnapshot is a windowed aggregate for one granularity. Snapshots
// returned by the aggregator are deep copies; callers may retain them.
type MetricSnapshot struct {
	Granularity Granularity `json:"granularity"`

	TotalTransactions   int64 `json:"total_transactions"`
	FlaggedTransactions int64 `json:"flagged_transactions"`
	BlockedTransactions int64 `json:"blocked_transactions"`

	FraudRate    float64 `json:"fraud_rate"`
	AvgRiskScore float64 `json:"avg_risk_score"`

	// Recommendations counts results by final decision.
	Recommendations map[Recommendation]int64 `json:"recommendations"`

	// ModelStats keys by model id.
	ModelStats map[string]ModelSnapshotStats `json:"model_stats"`

	// Geographic counts flagged transactions by country.
	Geographic map[string]int64 `json:"geographic"`

	TopMerchants  []EntityCount `json:"top_merchants"`
	TopCategories []EntityCount `json:"top_categories"`

	Timestamp time.Time `json:"timestamp"`
}
