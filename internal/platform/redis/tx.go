package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"claimreg/pkg/platform/sentinel"
)

// DefaultTxAttempts bounds how often RunInTx replays a callback whose
// watched keys changed before EXEC.
const DefaultTxAttempts = 8

// ErrTxConflict is returned when every attempt lost the race on a watched key.
var ErrTxConflict = errors.New("redis transaction conflict")

// Tx is the optimistic transaction bound to a context by RunInTx. Reads go
// through the watching connection; writes are queued and sent in one
// MULTI/EXEC once the callback succeeds.
type Tx struct {
	tx     *redis.Tx
	writes []func(pipe redis.Pipeliner)
}

type txKey struct{}

// TxFrom returns the transaction bound to ctx, if any.
func TxFrom(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

// Watch marks keys so a concurrent write to any of them aborts the commit.
func (t *Tx) Watch(ctx context.Context, keys ...string) error {
	return t.tx.Watch(ctx, keys...).Err()
}

// Reader returns the connection reads must use to observe watched keys.
func (t *Tx) Reader() redis.Cmdable {
	return t.tx
}

// Queue defers a write until commit.
func (t *Tx) Queue(write func(pipe redis.Pipeliner)) {
	t.writes = append(t.writes, write)
}

// RunInTx runs fn with a Tx bound to its context and commits the queued
// writes atomically. When a watched key changes before EXEC the whole
// callback is replayed, up to attempts times. A Tx already bound to ctx is
// joined instead.
func RunInTx(ctx context.Context, client redis.UniversalClient, attempts int, fn func(ctx context.Context) error) error {
	if _, nested := TxFrom(ctx); nested {
		return fn(ctx)
	}
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}
	for i := 0; i < attempts; i++ {
		err := client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &Tx{tx: rtx}
			if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
				return err
			}
			if len(t.writes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, write := range t.writes {
					write(pipe)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("commit after %d attempts: %w", attempts, errors.Join(sentinel.ErrUnavailable, ErrTxConflict))
}
