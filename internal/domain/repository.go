// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. Raw
// transactions are not persisted here; the stored unit of exchange is
// the finished FraudDetectionResult plus model configuration.
type Repository interface {
	// Scoring results
	SaveResult(ctx context.Context, result *FraudDetectionResult) error
	GetResult(ctx context.Context, resultID string) (*FraudDetectionResult, error)
	GetResultByTransaction(ctx context.Context, txID string) (*FraudDetectionResult, error)
	ListFlaggedResults(ctx context.Context, since time.Time, limit int) ([]*FraudDetectionResult, error)

	// Model configuration (registry is rebuilt from these at startup)
	SaveModelConfig(ctx context.Context, cfg *ModelConfig) error
	ListModelConfigs(ctx context.Context) ([]*ModelConfig, error)
	DeleteModelConfig(ctx context.Context, modelID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Connection pool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
