package domain

// TimeBucket buckets the transaction hour for feature purposes.
type TimeBucket string

const (
	BucketNight   TimeBucket = "night"   // 00:00-05:59
	BucketMorning TimeBucket = "morning" // 06:00-11:59
	BucketDay     TimeBucket = "day"     // 12:00-17:59
	BucketEvening TimeBucket = "evening" // 18:00-23:59
)

// RiskTier classifies merchant categories by historical fraud exposure.
type RiskTier int

const (
	// TierUnknown applies when the category is missing from the static
	// table. Unknown is itself a risk signal, not a zero-risk default,
	// so it is the zero value: an unset CategoryTier reads as unknown,
	// never as low risk.
	TierUnknown RiskTier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t RiskTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	}
	return "unknown"
}

// FeatureVector is the fixed-shape numeric view of a transaction,
// computed once per scoring call and discarded after use. It is owned
// exclusively by that call and never mutated after extraction.
type FeatureVector struct {
	TransactionID string
	UserID        string

	Amount  float64
	Balance float64

	// AmountBalanceRatio is amount / balance; balance of zero yields
	// the capped maximum ratio rather than a division blow-up.
	AmountBalanceRatio float64

	// VelocityCount is the number of transactions seen for the user in
	// the rolling velocity window, including this one.
	VelocityCount int64

	// SecondsSinceLastTx is time since the user's previous transaction;
	// negative means no prior transaction is known.
	SecondsSinceLastTx float64

	// GeoDistanceKm is the haversine distance from the nearest point in
	// the user's rolling known-location set; negative when either this
	// transaction's location or the history is unknown.
	GeoDistanceKm float64

	Hour       int
	DayOfWeek  int
	TimeBucket TimeBucket
	IsWeekend  bool

	// NovelDevice is set when the device fingerprint has not been seen
	// for this user before. UnknownDevice is set when no fingerprint
	// was supplied at all.
	NovelDevice   bool
	UnknownDevice bool

	// UnknownLocation is set when the transaction carried no geolocation.
	UnknownLocation bool

	MerchantCategory string
	CategoryTier     RiskTier

	PaymentMethod string
}
