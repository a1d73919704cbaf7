package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"strat-scanner/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN builds the libpq connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// The journal sees at most one write per alert
	poolConfig.MaxConns = 5
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.DatabaseContext("connect", "").Info("Connected to PostgreSQL", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.DatabaseContext("close", "").Info("Database connection closed")
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS strat_alerts (
		id UUID PRIMARY KEY,
		scan_id VARCHAR(64),
		symbol VARCHAR(20) NOT NULL,
		direction VARCHAR(4) NOT NULL,
		pattern_name VARCHAR(64) NOT NULL,
		timeframe VARCHAR(8) NOT NULL,
		bias_timeframe VARCHAR(8) NOT NULL,
		entry_level DECIMAL(20, 4) NOT NULL,
		stop_level DECIMAL(20, 4) NOT NULL,
		target_level DECIMAL(20, 4),
		underlying_price DECIMAL(20, 4) NOT NULL,
		option_ticker VARCHAR(64),
		payload JSONB NOT NULL,
		alerted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strat_alerts_symbol ON strat_alerts(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_strat_alerts_alerted_at ON strat_alerts(alerted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_strat_alerts_scan_id ON strat_alerts(scan_id)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.DatabaseContext("migrate", "strat_alerts")
	log.Info("Running database migrations", "count", len(migrations))

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
