package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultFactors returns the factor table shipped with Kestrel.
// Operators replace or extend it through configuration; nothing in the
// scorer depends on these particular names or thresholds.
func DefaultFactors() domain.ScoringConfig {
	return domain.ScoringConfig{
		Factors: []domain.FactorConfig{
			{
				Name:        "amount_to_balance",
				Condition:   "amount_balance_ratio > 1.5",
				Severity:    "high",
				Description: "transaction amount greatly exceeds account balance",
			},
			{
				Name:        "amount_to_balance_elevated",
				Condition:   "amount_balance_ratio > 0.7 && amount_balance_ratio <= 1.5",
				Severity:    "medium",
				Description: "transaction amount is large relative to account balance",
			},
			{
				Name:        "high_value",
				Condition:   "amount > 10000.0",
				Severity:    "medium",
				Description: "high transaction value",
			},
			{
				Name:        "night_transaction",
				Condition:   "time_bucket == 'night'",
				Severity:    "medium",
				Description: "transaction at an unusual hour",
			},
			{
				Name:        "velocity",
				Condition:   "velocity_count > 5",
				Severity:    "high",
				Description: "unusually many transactions in the rolling window",
			},
			{
				Name:        "rapid_fire",
				Condition:   "seconds_since_last_tx >= 0.0 && seconds_since_last_tx < 60.0",
				Severity:    "medium",
				Description: "transaction within a minute of the previous one",
			},
			{
				Name:        "geo_anomaly",
				Condition:   "geo_distance_km > 500.0",
				Severity:    "high",
				Description: "far from the user's known locations",
			},
			{
				Name:        "unknown_location",
				Condition:   "unknown_location",
				Severity:    "low",
				Description: "no geolocation supplied",
			},
			{
				Name:        "novel_device",
				Condition:   "novel_device",
				Severity:    "medium",
				Description: "first transaction from this device",
			},
			{
				Name:        "unknown_device",
				Condition:   "unknown_device",
				Severity:    "medium",
				Description: "no device fingerprint supplied",
			},
			{
				Name:        "high_risk_category",
				Condition:   "category_tier == 'high'",
				Severity:    "medium",
				Description: "merchant category with elevated fraud exposure",
			},
			{
				Name:        "unknown_category",
				Condition:   "category_tier == 'unknown'",
				Severity:    "low",
				Description: "merchant category not in the risk table",
			},
		},
	}
}
