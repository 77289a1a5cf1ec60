package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"claimreg/internal/claims/models"
	platformredis "claimreg/internal/platform/redis"
	"claimreg/pkg/domain"
	"claimreg/pkg/platform/sentinel"
)

const (
	fieldOwner = "owner"
	fieldBlock = "block"
)

// RedisStore keeps each claim in a hash under its derived storage key.
// Inside RunInTx reads watch the key they touch and writes are queued, so a
// concurrent writer on another instance forces the command to be replayed
// against the new state instead of overwriting it.
type RedisStore struct {
	client   redis.UniversalClient
	attempts int
}

// NewRedis constructs a Redis-backed claim store.
func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, attempts: platformredis.DefaultTxAttempts}
}

// reader watches rk when a transaction is bound to ctx and returns the
// connection the read must go through.
func (s *RedisStore) reader(ctx context.Context, rk string) (redis.Cmdable, error) {
	tx, ok := platformredis.TxFrom(ctx)
	if !ok {
		return s.client, nil
	}
	if err := tx.Watch(ctx, rk); err != nil {
		return nil, fmt.Errorf("watch claim: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return tx.Reader(), nil
}

func (s *RedisStore) Get(ctx context.Context, key domain.ClaimKey) (*models.Claim, error) {
	rk := redisKey(key)
	r, err := s.reader(ctx, rk)
	if err != nil {
		return nil, err
	}
	fields, err := r.HGetAll(ctx, rk).Result()
	if err != nil {
		return nil, fmt.Errorf("find claim: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	owner, err := uuid.Parse(fields[fieldOwner])
	if err != nil {
		return nil, fmt.Errorf("decode claim owner: %w", errors.Join(sentinel.ErrInvalidState, err))
	}
	block, err := strconv.ParseUint(fields[fieldBlock], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode claim block: %w", errors.Join(sentinel.ErrInvalidState, err))
	}
	return &models.Claim{Key: key.Clone(), Owner: domain.AccountID(owner), Block: domain.BlockNumber(block)}, nil
}

func (s *RedisStore) Contains(ctx context.Context, key domain.ClaimKey) (bool, error) {
	rk := redisKey(key)
	r, err := s.reader(ctx, rk)
	if err != nil {
		return false, err
	}
	n, err := r.Exists(ctx, rk).Result()
	if err != nil {
		return false, fmt.Errorf("check claim: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return n > 0, nil
}

// Insert replaces the whole hash so no field from a previous owner survives.
func (s *RedisStore) Insert(ctx context.Context, key domain.ClaimKey, owner domain.AccountID, block domain.BlockNumber) error {
	rk := redisKey(key)
	write := func(pipe redis.Pipeliner) {
		pipe.Del(ctx, rk)
		pipe.HSet(ctx, rk, fieldOwner, owner.String(), fieldBlock, block.String())
	}
	if tx, ok := platformredis.TxFrom(ctx); ok {
		tx.Queue(write)
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		write(pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert claim: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key domain.ClaimKey) error {
	rk := redisKey(key)
	if tx, ok := platformredis.TxFrom(ctx); ok {
		tx.Queue(func(pipe redis.Pipeliner) {
			pipe.Del(ctx, rk)
		})
		return nil
	}
	if err := s.client.Del(ctx, rk).Err(); err != nil {
		return fmt.Errorf("remove claim: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

// RunInTx commits the writes made by fn in one MULTI/EXEC. Nothing is
// written when fn fails. Other sinks that join the transaction (the redis
// outbox) commit or vanish together with the claim write.
func (s *RedisStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var callbackErr error
	err := platformredis.RunInTx(ctx, s.client, s.attempts, func(txCtx context.Context) error {
		callbackErr = fn(txCtx)
		return callbackErr
	})
	if err == nil || (callbackErr != nil && errors.Is(err, callbackErr)) {
		return err
	}
	return fmt.Errorf("commit claim writes: %w", errors.Join(sentinel.ErrUnavailable, err))
}
