package domain

import (
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline configurations
	Ensemble EnsembleConfig `json:"ensemble"`
	Features FeatureConfig  `json:"features"`
	Scoring  ScoringConfig  `json:"scoring"`
	Decision DecisionConfig `json:"decision"`
	Metrics  MetricsConfig  `json:"metrics"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// EnsembleConfig holds orchestrator settings.
type EnsembleConfig struct {
	// PredictorTimeout is the per-model invocation budget. A model that
	// exceeds it is excluded from the call and its weight redistributed.
	PredictorTimeout time.Duration `json:"predictorTimeout"`

	// MaxConcurrent bounds parallel predictor invocations per call.
	MaxConcurrent int `json:"maxConcurrent"`
}

// FeatureConfig holds feature extraction settings.
type FeatureConfig struct {
	// VelocityWindow is the rolling window for per-user velocity counts.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// MaxKnownLocations / MaxKnownDevices cap the rolling history sets.
	MaxKnownLocations int `json:"maxKnownLocations"`
	MaxKnownDevices   int `json:"maxKnownDevices"`

	// ProfileTTL is how long idle user profiles are retained.
	ProfileTTL time.Duration `json:"profileTTL"`
}

// FactorConfig defines one rule-based risk factor. Condition is a CEL
// expression over the feature vector; when it evaluates true the factor
// contributes Points to the composite score.
type FactorConfig struct {
	Name        string  `json:"name"`
	Condition   string  `json:"condition"`
	Severity    string  `json:"severity"` // "low", "medium", "high"
	Points      float64 `json:"points"`
	Description string  `json:"description"`
}

// ScoringConfig holds the injected risk-factor table.
type ScoringConfig struct {
	Factors []FactorConfig `json:"factors"`
}

// DecisionBand maps a risk-score range to a recommendation. Bands are
// lower-inclusive, upper-exclusive; the topmost band also includes its
// upper limit so a score of exactly 100 is covered. A boundary value
// therefore belongs to the stricter band above it.
type DecisionBand struct {
	Lower          float64        `json:"lower"`
	Upper          float64        `json:"upper"`
	Recommendation Recommendation `json:"recommendation"`

	// When LowConfidence is set, results whose confidence is below
	// ConfidenceCut receive LowConfidence instead of Recommendation.
	ConfidenceCut float64        `json:"confidenceCut,omitempty"`
	LowConfidence Recommendation `json:"lowConfidence,omitempty"`
}

// DecisionConfig holds the injected threshold table.
type DecisionConfig struct {
	Bands []DecisionBand `json:"bands"`
}

// MetricsConfig holds aggregator settings.
type MetricsConfig struct {
	// QueueSize is the per-granularity update queue depth. A full queue
	// drops the update rather than blocking the scoring caller.
	QueueSize int `json:"queueSize"`

	// TopN bounds the merchant/category leaderboards in snapshots.
	TopN int `json:"topN"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + LRU + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Ensemble: EnsembleConfig{
			PredictorTimeout: 50 * time.Millisecond,
			MaxConcurrent:    16,
		},
		Features: FeatureConfig{
			VelocityWindow:    time.Hour,
			MaxKnownLocations: 5,
			MaxKnownDevices:   5,
			ProfileTTL:        30 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			QueueSize: 4096,
			TopN:      10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
