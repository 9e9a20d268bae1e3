package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens the pro-tier store.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	params := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + dbname,
		"sslmode=" + sslmode,
	}
	if cfg.PostgresUser != "" {
		params = append(params, "user="+cfg.PostgresUser)
	}
	if cfg.PostgresPassword != "" {
		params = append(params, "password="+cfg.PostgresPassword)
	}

	db, err := sql.Open("postgres", strings.Join(params, " "))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}
