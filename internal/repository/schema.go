package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaResults = `
CREATE TABLE IF NOT EXISTS results (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    fraud_probability REAL NOT NULL,
    risk_score REAL NOT NULL,
    confidence REAL NOT NULL,
    recommendation TEXT NOT NULL,
    is_flagged INTEGER NOT NULL DEFAULT 0,
    factors TEXT,
    predictions TEXT NOT NULL,
    merchant_id TEXT,
    merchant_category TEXT,
    country TEXT,
    processing_time_us INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_tx ON results(transaction_id);
CREATE INDEX IF NOT EXISTS idx_results_flagged ON results(is_flagged, timestamp);
CREATE INDEX IF NOT EXISTS idx_results_timestamp ON results(timestamp);
`

const schemaModelConfigs = `
CREATE TABLE IF NOT EXISTS model_configs (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    version TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaResults,
		schemaModelConfigs,
	}
}
