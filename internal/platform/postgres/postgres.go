// Package postgres opens the registry's database and applies its schema.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"claimreg/internal/platform/config"
	"claimreg/pkg/platform/sentinel"
)

// Schema is applied idempotently at startup. Claims are keyed by their raw
// bytes; the outbox feeds the event relay in insertion order; block_head holds
// the last produced block.
const Schema = `
CREATE TABLE IF NOT EXISTS claims (
	claim_key BYTEA PRIMARY KEY,
	owner     UUID NOT NULL,
	block     BIGINT NOT NULL CHECK (block >= 0)
);

CREATE TABLE IF NOT EXISTS claim_outbox (
	id           BIGSERIAL PRIMARY KEY,
	event_id     UUID NOT NULL UNIQUE,
	event_type   TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS claim_outbox_unpublished_idx
	ON claim_outbox (id) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS block_head (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	block     BIGINT NOT NULL CHECK (block >= 0)
);

INSERT INTO block_head (singleton, block) VALUES (TRUE, 0) ON CONFLICT DO NOTHING;
`

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", Classify(err))
	}
	return db, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", Classify(err))
	}
	return nil
}

// Classify marks connection-class failures with sentinel.ErrUnavailable so
// callers can tell an outage from a bad statement.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 08: connection exception; 57P0x: operator shutdown.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0") {
			return errors.Join(sentinel.ErrUnavailable, err)
		}
		return err
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return err
}
