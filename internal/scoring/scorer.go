// Package scoring combines the ensemble probability with rule-based
// risk factors into the 0-100 composite risk score. Factor conditions
// are CEL expressions over the feature vector, compiled once at load so
// operators can retune the factor table without code changes.
package scoring

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Default point contributions per severity, used when a factor's config
// does not set an explicit value.
const (
	PointsLow    = 4.0
	PointsMedium = 10.0
	PointsHigh   = 25.0
)

// Scorer evaluates the configured factor table. Immutable after
// construction; safe for concurrent use.
type Scorer struct {
	factors []compiledFactor
}

type compiledFactor struct {
	cfg     domain.FactorConfig
	program cel.Program
}

// New compiles the factor table. Invalid conditions fail here, at
// configuration time, never during scoring.
func New(cfg domain.ScoringConfig) (*Scorer, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("balance", cel.DoubleType),
		cel.Variable("amount_balance_ratio", cel.DoubleType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("seconds_since_last_tx", cel.DoubleType),
		cel.Variable("geo_distance_km", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("time_bucket", cel.StringType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("novel_device", cel.BoolType),
		cel.Variable("unknown_device", cel.BoolType),
		cel.Variable("unknown_location", cel.BoolType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("category_tier", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	s := &Scorer{}
	for _, fc := range cfg.Factors {
		compiled, err := compileFactor(env, fc)
		if err != nil {
			return nil, err
		}
		s.factors = append(s.factors, compiled)
	}
	return s, nil
}

func compileFactor(env *cel.Env, fc domain.FactorConfig) (compiledFactor, error) {
	if fc.Name == "" {
		return compiledFactor{}, fmt.Errorf("factor name is required")
	}
	switch fc.Severity {
	case "low", "medium", "high":
	default:
		return compiledFactor{}, fmt.Errorf("factor %s: invalid severity %q", fc.Name, fc.Severity)
	}

	ast, issues := env.Compile(fc.Condition)
	if issues != nil && issues.Err() != nil {
		return compiledFactor{}, fmt.Errorf("failed to compile factor %s: %w", fc.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return compiledFactor{}, fmt.Errorf("factor %s: condition must return bool, got %s", fc.Name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return compiledFactor{}, fmt.Errorf("failed to create program for factor %s: %w", fc.Name, err)
	}

	if fc.Points <= 0 {
		fc.Points = severityPoints(fc.Severity)
	}

	return compiledFactor{cfg: fc, program: program}, nil
}

func severityPoints(severity string) float64 {
	switch severity {
	case "high":
		return PointsHigh
	case "medium":
		return PointsMedium
	default:
		return PointsLow
	}
}

// Score computes the composite risk score: the ensemble probability
// scaled to 0-100 as the base, plus the points of every factor whose
// condition holds. Always clamped to [0,100]. Each applied factor is
// returned with its description for traceability.
func (s *Scorer) Score(fraudProbability float64, f *domain.FeatureVector) (float64, []domain.RiskFactor) {
	score := clampProbability(fraudProbability) * 100

	activation := activationFor(f)

	var applied []domain.RiskFactor
	for _, factor := range s.factors {
		out, _, err := factor.program.Eval(activation)
		if err != nil {
			// A factor that cannot evaluate is skipped, not fatal: the
			// base score still stands and other factors still apply.
			continue
		}
		if fired, ok := out.(types.Bool); !ok || !bool(fired) {
			continue
		}

		score += factor.cfg.Points
		applied = append(applied, domain.RiskFactor{
			Name:        factor.cfg.Name,
			Severity:    factor.cfg.Severity,
			Points:      factor.cfg.Points,
			Description: factor.cfg.Description,
		})
	}

	return math.Max(0, math.Min(100, score)), applied
}

// FactorCount returns the number of loaded factors.
func (s *Scorer) FactorCount() int {
	return len(s.factors)
}

func activationFor(f *domain.FeatureVector) map[string]any {
	return map[string]any{
		"amount":                f.Amount,
		"balance":               f.Balance,
		"amount_balance_ratio":  f.AmountBalanceRatio,
		"velocity_count":        f.VelocityCount,
		"seconds_since_last_tx": f.SecondsSinceLastTx,
		"geo_distance_km":       f.GeoDistanceKm,
		"hour":                  f.Hour,
		"day_of_week":           f.DayOfWeek,
		"time_bucket":           string(f.TimeBucket),
		"is_weekend":            f.IsWeekend,
		"novel_device":          f.NovelDevice,
		"unknown_device":        f.UnknownDevice,
		"unknown_location":      f.UnknownLocation,
		"merchant_category":     f.MerchantCategory,
		"category_tier":         f.CategoryTier.String(),
		"payment_method":        f.PaymentMethod,
	}
}

func clampProbability(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}
