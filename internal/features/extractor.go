// Package features turns a raw transaction plus the user's rolling
// history into the fixed-shape feature vector the ensemble scores.
package features

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// History is the per-user context a scoring call extracts against. The
// caller loads it from the profile cache before calling Extract, so
// extraction itself stays pure and free of I/O.
type History struct {
	// Profile is nil when the user has never been seen.
	Profile *domain.UserProfile

	// VelocityCount is the user's transaction count in the rolling
	// velocity window, including the current transaction.
	VelocityCount int64
}

// Extractor computes feature vectors. Stateless; safe for concurrent use.
type Extractor struct {
	cfg domain.FeatureConfig
}

// NewExtractor creates an extractor with the given settings.
func NewExtractor(cfg domain.FeatureConfig) *Extractor {
	if cfg.MaxKnownLocations <= 0 {
		cfg.MaxKnownLocations = 5
	}
	if cfg.MaxKnownDevices <= 0 {
		cfg.MaxKnownDevices = 5
	}
	return &Extractor{cfg: cfg}
}

// maxBalanceRatio caps amount/balance so a zero balance cannot produce
// an unbounded feature.
const maxBalanceRatio = 1000.0

// Extract derives the feature vector for a transaction. Deterministic:
// the same transaction and history always produce the same vector.
// Missing optional fields become explicit "unknown" flags rather than
// silently defaulting to zero-risk values.
func (e *Extractor) Extract(tx *domain.TransactionRecord, hist History) *domain.FeatureVector {
	f := &domain.FeatureVector{
		TransactionID:    tx.ID,
		UserID:           tx.UserID,
		Amount:           tx.Amount,
		Balance:          tx.AccountBalance,
		VelocityCount:    hist.VelocityCount,
		MerchantCategory: tx.MerchantCategory,
		PaymentMethod:    tx.PaymentMethod,
	}

	if tx.AccountBalance > 0 {
		f.AmountBalanceRatio = math.Min(tx.Amount/tx.AccountBalance, maxBalanceRatio)
	} else {
		f.AmountBalanceRatio = maxBalanceRatio
	}

	f.Hour = tx.Timestamp.UTC().Hour()
	f.DayOfWeek = int(tx.Timestamp.UTC().Weekday())
	f.TimeBucket = bucketFor(f.Hour)
	f.IsWeekend = f.DayOfWeek == 0 || f.DayOfWeek == 6

	f.SecondsSinceLastTx = -1
	if hist.Profile != nil && !hist.Profile.LastSeen.IsZero() {
		delta := tx.Timestamp.Sub(hist.Profile.LastSeen)
		if delta >= 0 {
			f.SecondsSinceLastTx = delta.Seconds()
		}
	}

	f.GeoDistanceKm = -1
	if tx.Location == nil {
		f.UnknownLocation = true
	} else if hist.Profile != nil && len(hist.Profile.KnownLocations) > 0 {
		f.GeoDistanceKm = nearestDistanceKm(*tx.Location, hist.Profile.KnownLocations)
	}

	if tx.DeviceFingerprint == "" {
		f.UnknownDevice = true
	} else if hist.Profile == nil || !hist.Profile.HasDevice(tx.DeviceFingerprint) {
		f.NovelDevice = true
	}

	f.CategoryTier = CategoryTier(tx.MerchantCategory)

	return f
}

// UpdatedProfile folds the transaction into the user's rolling history,
// keeping the location and device sets bounded (oldest entries rotate
// out first). The previous profile is not mutated.
func (e *Extractor) UpdatedProfile(tx *domain.TransactionRecord, prev *domain.UserProfile) *domain.UserProfile {
	p := &domain.UserProfile{
		UserID:   tx.UserID,
		LastSeen: tx.Timestamp,
	}
	if prev != nil {
		p.KnownLocations = append(p.KnownLocations, prev.KnownLocations...)
		p.KnownDevices = append(p.KnownDevices, prev.KnownDevices...)
		if tx.Timestamp.Before(prev.LastSeen) {
			p.LastSeen = prev.LastSeen
		}
	}

	if tx.Location != nil {
		p.KnownLocations = append(p.KnownLocations, *tx.Location)
		if n := len(p.KnownLocations); n > e.cfg.MaxKnownLocations {
			p.KnownLocations = p.KnownLocations[n-e.cfg.MaxKnownLocations:]
		}
	}

	if tx.DeviceFingerprint != "" && !p.HasDevice(tx.DeviceFingerprint) {
		p.KnownDevices = append(p.KnownDevices, tx.DeviceFingerprint)
		if n := len(p.KnownDevices); n > e.cfg.MaxKnownDevices {
			p.KnownDevices = p.KnownDevices[n-e.cfg.MaxKnownDevices:]
		}
	}

	return p
}

// VelocityWindow returns the configured rolling window.
func (e *Extractor) VelocityWindow() time.Duration {
	if e.cfg.VelocityWindow <= 0 {
		return time.Hour
	}
	return e.cfg.VelocityWindow
}

// ProfileTTL returns how long idle profiles should be retained.
func (e *Extractor) ProfileTTL() time.Duration {
	if e.cfg.ProfileTTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return e.cfg.ProfileTTL
}

func bucketFor(hour int) domain.TimeBucket {
	switch {
	case hour < 6:
		return domain.BucketNight
	case hour < 12:
		return domain.BucketMorning
	case hour < 18:
		return domain.BucketDay
	default:
		return domain.BucketEvening
	}
}

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// nearestDistanceKm returns the haversine distance to the closest point
// in the known-location set.
func nearestDistanceKm(loc domain.Geolocation, known []domain.Geolocation) float64 {
	nearest := math.MaxFloat64
	for _, k := range known {
		if d := haversineKm(loc, k); d < nearest {
			nearest = d
		}
	}
	return nearest
}

func haversineKm(a, b domain.Geolocation) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// categoryTiers is the static merchant-category risk table. Categories
// absent from the table resolve to TierUnknown, which is itself a risk
// signal downstream.
var categoryTiers = map[string]domain.RiskTier{
	"grocery":       domain.TierLow,
	"utilities":     domain.TierLow,
	"restaurants":   domain.TierLow,
	"pharmacy":      domain.TierLow,
	"fuel":          domain.TierLow,
	"transport":     domain.TierLow,
	"retail":        domain.TierLow,
	"electronics":   domain.TierMedium,
	"travel":        domain.TierMedium,
	"entertainment": domain.TierMedium,
	"jewelry":       domain.TierMedium,
	"luxury_goods":  domain.TierMedium,
	"gambling":      domain.TierHigh,
	"crypto":        domain.TierHigh,
	"money_transfer": domain.TierHigh,
	"wire_transfer":  domain.TierHigh,
	"cash_advance":   domain.TierHigh,
}

// CategoryTier looks up the risk tier for a merchant category.
func CategoryTier(category string) domain.RiskTier {
	if category == "" {
		return domain.TierUnknown
	}
	if tier, ok := categoryTiers[strings.ToLower(category)]; ok {
		return tier
	}
	return domain.TierUnknown
}
