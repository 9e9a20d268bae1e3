// Package repository provides persistence for scoring results and model
// configuration.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveResult stores a finished scoring result.
func (r *SQLRepository) SaveResult(ctx context.Context, result *domain.FraudDetectionResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: result with id is required", ErrInvalidInput)
	}

	factors, _ := json.Marshal(result.Factors)
	predictions, _ := json.Marshal(result.Predictions)

	flagged := 0
	if result.IsFlagged() {
		flagged = 1
	}

	query := `
		INSERT INTO results (
			id, transaction_id, fraud_probability, risk_score, confidence,
			recommendation, is_flagged, factors, predictions,
			merchant_id, merchant_category, country,
			processing_time_us, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.TransactionID,
		result.FraudProbability, result.RiskScore, result.Confidence,
		string(result.Recommendation), flagged,
		string(factors), string(predictions),
		result.MerchantID, result.MerchantCategory, result.Country,
		result.ProcessingTime.Microseconds(), result.Timestamp,
	)
	return err
}

// GetResult retrieves a result by its ID.
func (r *SQLRepository) GetResult(ctx context.Context, resultID string) (*domain.FraudDetectionResult, error) {
	if resultID == "" {
		return nil, fmt.Errorf("%w: resultID is required", ErrInvalidInput)
	}

	query := selectResult + ` WHERE id = ?`
	return r.scanResult(r.db.QueryRowContext(ctx, r.rebind(query), resultID))
}

// GetResultByTransaction retrieves the most recent result for a
// transaction.
func (r *SQLRepository) GetResultByTransaction(ctx context.Context, txID string) (*domain.FraudDetectionResult, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: txID is required", ErrInvalidInput)
	}

	query := selectResult + ` WHERE transaction_id = ? ORDER BY timestamp DESC LIMIT 1`
	return r.scanResult(r.db.QueryRowContext(ctx, r.rebind(query), txID))
}

// ListFlaggedResults retrieves flagged results newest first.
func (r *SQLRepository) ListFlaggedResults(ctx context.Context, since time.Time, limit int) ([]*domain.FraudDetectionResult, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectResult + ` WHERE is_flagged = 1 AND timestamp >= ? ORDER BY timestamp DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.FraudDetectionResult
	for rows.Next() {
		result, err := r.scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

const selectResult = `
	SELECT id, transaction_id, fraud_probability, risk_score, confidence,
		   recommendation, factors, predictions,
		   merchant_id, merchant_category, country,
		   processing_time_us, timestamp
	FROM results
`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanResult(row rowScanner) (*domain.FraudDetectionResult, error) {
	var result domain.FraudDetectionResult
	var recommendation, factors, predictions string
	var processingUs int64

	err := row.Scan(
		&result.ID, &result.TransactionID,
		&result.FraudProbability, &result.RiskScore, &result.Confidence,
		&recommendation, &factors, &predictions,
		&result.MerchantID, &result.MerchantCategory, &result.Country,
		&processingUs, &result.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	result.Recommendation = domain.Recommendation(recommendation)
	result.ProcessingTime = time.Duration(processingUs) * time.Microsecond
	if factors != "" {
		json.Unmarshal([]byte(factors), &result.Factors)
	}
	if predictions != "" {
		json.Unmarshal([]byte(predictions), &result.Predictions)
	}

	return &result, nil
}

// SaveModelConfig stores or updates a model registration.
func (r *SQLRepository) SaveModelConfig(ctx context.Context, cfg *domain.ModelConfig) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("%w: model config with id is required", ErrInvalidInput)
	}

	active := 0
	if cfg.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO model_configs (
			id, type, version, weight, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			version = excluded.version,
			weight = excluded.weight,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.ID, string(cfg.Type), cfg.Version, cfg.Weight, active,
		now, now,
	)
	return err
}

// ListModelConfigs retrieves all stored model registrations.
func (r *SQLRepository) ListModelConfigs(ctx context.Context) ([]*domain.ModelConfig, error) {
	query := `
		SELECT id, type, version, weight, active
		FROM model_configs
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ModelConfig
	for rows.Next() {
		var cfg domain.ModelConfig
		var modelType string
		var active int

		if err := rows.Scan(&cfg.ID, &modelType, &cfg.Version, &cfg.Weight, &active); err != nil {
			return nil, err
		}

		cfg.Type = domain.ModelType(modelType)
		cfg.Active = active == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeleteModelConfig removes a stored model registration.
func (r *SQLRepository) DeleteModelConfig(ctx context.Context, modelID string) error {
	if modelID == "" {
		return fmt.Errorf("%w: modelID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM model_configs WHERE id = ?`), modelID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
