package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"claimreg/internal/claims/models"
	"claimreg/internal/platform/postgres"
	"claimreg/pkg/domain"
	"claimreg/pkg/platform/sentinel"
	txcontext "claimreg/pkg/platform/tx"
)

// PostgresStore persists claims in the claims table. Calls made with a
// transaction bound to the context (see RunInTx) join that transaction, and
// reads inside one take a per-key advisory lock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed claim store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// lockKey serialises commands on the same key across instances. The lock is
// held until the transaction bound to ctx ends, so a second writer reads the
// first one's committed row. Reads outside a transaction take no lock.
func (s *PostgresStore) lockKey(ctx context.Context, key domain.ClaimKey) error {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended(encode($1::bytea, 'hex'), 0))`, []byte(key),
	)
	if err != nil {
		return fmt.Errorf("lock claim: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key domain.ClaimKey) (*models.Claim, error) {
	if err := s.lockKey(ctx, key); err != nil {
		return nil, err
	}
	var (
		owner uuid.UUID
		block int64
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT owner, block FROM claims WHERE claim_key = $1`, []byte(key),
	).Scan(&owner, &block)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find claim: %w", postgres.Classify(err))
	}
	if block < 0 {
		return nil, fmt.Errorf("claim %s has negative block %d: %w", key, block, sentinel.ErrInvalidState)
	}
	return &models.Claim{Key: key.Clone(), Owner: domain.AccountID(owner), Block: domain.BlockNumber(block)}, nil
}

func (s *PostgresStore) Contains(ctx context.Context, key domain.ClaimKey) (bool, error) {
	if err := s.lockKey(ctx, key); err != nil {
		return false, err
	}
	var exists bool
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM claims WHERE claim_key = $1)`, []byte(key),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check claim: %w", postgres.Classify(err))
	}
	return exists, nil
}

// Insert upserts the record. Uniqueness is the service's concern; the key
// lock taken by the preceding read keeps concurrent creates from both
// passing the existence check.
func (s *PostgresStore) Insert(ctx context.Context, key domain.ClaimKey, owner domain.AccountID, block domain.BlockNumber) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO claims (claim_key, owner, block)
		VALUES ($1, $2, $3)
		ON CONFLICT (claim_key) DO UPDATE SET owner = EXCLUDED.owner, block = EXCLUDED.block
	`, []byte(key), uuid.UUID(owner), int64(block))
	if err != nil {
		return fmt.Errorf("insert claim: %w", postgres.Classify(err))
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, key domain.ClaimKey) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM claims WHERE claim_key = $1`, []byte(key))
	if err != nil {
		return fmt.Errorf("remove claim: %w", postgres.Classify(err))
	}
	return nil
}

// RunInTx binds a SQL transaction to the callback's context. The outbox
// writes events through the same transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}
