package domain

import (
	"context"
	"time"
)

// ProfileCache stores rolling per-user history consumed by the feature
// extractor. Supports a local LRU (community tier) or Redis (pro tier).
type ProfileCache interface {
	// GetProfile returns the stored profile for a user.
	// Returns nil, nil when the user has no history yet.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	// SetProfile stores a user profile with expiration.
	SetProfile(ctx context.Context, userID string, profile *UserProfile, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for per-user velocity counts.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// UserProfile is the rolling history kept per user. Bounded: the
// location and device sets are capped by the feature extractor before
// write-back so profiles never grow without limit.
type UserProfile struct {
	UserID string `json:"userId"`

	// LastSeen is the timestamp of the user's most recent transaction.
	LastSeen time.Time `json:"lastSeen"`

	// KnownLocations is the rolling set of recent geolocations.
	KnownLocations []Geolocation `json:"knownLocations,omitempty"`

	// KnownDevices is the rolling set of recent device fingerprints.
	KnownDevices []string `json:"knownDevices,omitempty"`
}

// HasDevice reports whether the fingerprint is in the known set.
func (p *UserProfile) HasDevice(fingerprint string) bool {
	for _, d := range p.KnownDevices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
