// Package clock provides the host's logical clock: a block number that only
// moves forward. The registry reads it; only the host advances it.
package clock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"claimreg/internal/platform/postgres"
	"claimreg/pkg/domain"
	"claimreg/pkg/platform/sentinel"
	txcontext "claimreg/pkg/platform/tx"
)

// Sequencer is the host-side view of the clock.
type Sequencer interface {
	Current(ctx context.Context) (domain.BlockNumber, error)
	Advance(ctx context.Context) (domain.BlockNumber, error)
}

type dispatchKey struct{}

// WithDispatchBlock binds the block a command was dispatched in to ctx.
func WithDispatchBlock(ctx context.Context, block domain.BlockNumber) context.Context {
	return context.WithValue(ctx, dispatchKey{}, block)
}

// DispatchBlock returns the block bound by WithDispatchBlock. Readers prefer
// it to Current, which another instance sharing the timeline may have moved.
func DispatchBlock(ctx context.Context) (domain.BlockNumber, bool) {
	block, ok := ctx.Value(dispatchKey{}).(domain.BlockNumber)
	return block, ok
}

// Memory is a process-local sequencer.
type Memory struct {
	n atomic.Uint64
}

// NewMemory starts the clock at start.
func NewMemory(start domain.BlockNumber) *Memory {
	m := &Memory{}
	m.n.Store(uint64(start))
	return m
}

func (m *Memory) Current(context.Context) (domain.BlockNumber, error) {
	return domain.BlockNumber(m.n.Load()), nil
}

// Advance moves the clock forward by one block and returns the new value.
func (m *Memory) Advance(context.Context) (domain.BlockNumber, error) {
	return domain.BlockNumber(m.n.Add(1)), nil
}

const DefaultRedisKey = "claimreg:block"

// Redis keeps the block number in a single key so every host instance shares
// one timeline. INCR is atomic, so concurrent advances never reuse a block.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis builds a sequencer on key; an empty key selects DefaultRedisKey.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Current(ctx context.Context) (domain.BlockNumber, error) {
	n, err := r.client.Get(ctx, r.key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read block number: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return domain.BlockNumber(n), nil
}

func (r *Redis) Advance(ctx context.Context) (domain.BlockNumber, error) {
	n, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("advance block number: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return domain.BlockNumber(n), nil
}

// Postgres keeps the block number in the single-row block_head table, so the
// timeline survives restarts of a postgres-backed host.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Current(ctx context.Context) (domain.BlockNumber, error) {
	var n int64
	err := txcontext.Exec(ctx, p.db).QueryRowContext(ctx, `SELECT block FROM block_head`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("read block number: %w", postgres.Classify(err))
	}
	return domain.BlockNumber(n), nil
}

// Advance increments the head outside any caller transaction; a produced
// block is never handed out twice even if the command in it rolls back.
func (p *Postgres) Advance(ctx context.Context) (domain.BlockNumber, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `UPDATE block_head SET block = block + 1 RETURNING block`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("advance block number: %w", postgres.Classify(err))
	}
	return domain.BlockNumber(n), nil
}
