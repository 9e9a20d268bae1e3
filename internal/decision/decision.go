// Package decision maps a risk score and ensemble confidence to an
// operational recommendation through an injected threshold table.
package decision

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidThresholdTable is returned when the configured bands do not
// form a contiguous, exhaustive cover of the [0, 100] score range.
var ErrInvalidThresholdTable = errors.New("invalid decision threshold table")

// Engine resolves recommendations from a validated band table.
type Engine struct {
	bands []domain.DecisionBand // sorted by Lower ascending
}

// New validates the band table and builds an engine. Bands may be given
// in any order; they must tile [0, 100] exactly with no gaps or overlaps.
func New(cfg domain.DecisionConfig) (*Engine, error) {
	if len(cfg.Bands) == 0 {
		return nil, fmt.Errorf("%w: no bands configured", ErrInvalidThresholdTable)
	}

	bands := make([]domain.DecisionBand, len(cfg.Bands))
	copy(bands, cfg.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Lower < bands[j].Lower })

	for i, b := range bands {
		if b.Upper <= b.Lower {
			return nil, fmt.Errorf("%w: band %s has upper %.1f <= lower %.1f",
				ErrInvalidThresholdTable, b.Recommendation, b.Upper, b.Lower)
		}
		if !b.Recommendation.Valid() {
			return nil, fmt.Errorf("%w: unknown recommendation %q", ErrInvalidThresholdTable, b.Recommendation)
		}
		if b.LowConfidence != "" && !b.LowConfidence.Valid() {
			return nil, fmt.Errorf("%w: unknown low-confidence recommendation %q",
				ErrInvalidThresholdTable, b.LowConfidence)
		}
		if i > 0 && bands[i-1].Upper != b.Lower {
			return nil, fmt.Errorf("%w: gap or overlap between %.1f and %.1f",
				ErrInvalidThresholdTable, bands[i-1].Upper, b.Lower)
		}
	}
	if bands[0].Lower != 0 {
		return nil, fmt.Errorf("%w: coverage starts at %.1f, want 0", ErrInvalidThresholdTable, bands[0].Lower)
	}
	if bands[len(bands)-1].Upper != 100 {
		return nil, fmt.Errorf("%w: coverage ends at %.1f, want 100",
			ErrInvalidThresholdTable, bands[len(bands)-1].Upper)
	}

	return &Engine{bands: bands}, nil
}

// Decide resolves the recommendation for a clamped risk score. Scores
// outside [0, 100] are clamped first so callers cannot fall off the
// table. A boundary score lands in the band whose Lower it equals; 100
// belongs to the topmost band.
func (e *Engine) Decide(score, confidence float64) domain.Recommendation {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	band := e.bands[len(e.bands)-1]
	for _, b := range e.bands {
		if score >= b.Lower && score < b.Upper {
			band = b
			break
		}
	}

	if band.LowConfidence != "" && confidence < band.ConfidenceCut {
		return band.LowConfidence
	}
	return band.Recommendation
}

// Bands returns the validated table in ascending order.
func (e *Engine) Bands() []domain.DecisionBand {
	out := make([]domain.DecisionBand, len(e.bands))
	copy(out, e.bands)
	return out
}

// DefaultBands is the stock threshold table. High-score decisions always
// block regardless of confidence; the band below escalates to a manual
// review when the ensemble disagrees with itself.
func DefaultBands() domain.DecisionConfig {
	return domain.DecisionConfig{
		Bands: []domain.DecisionBand{
			{Lower: 0, Upper: 40, Recommendation: domain.RecommendApprove},
			{Lower: 40, Upper: 60, Recommendation: domain.RecommendReview},
			{
				Lower:          60,
				Upper:          80,
				Recommendation: domain.RecommendChallenge,
				ConfidenceCut:  0.5,
				LowConfidence:  domain.RecommendReview,
			},
			{Lower: 80, Upper: 100, Recommendation: domain.RecommendBlock},
		},
	}
}
