package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"claimreg/internal/claims/models"
	"claimreg/internal/events"
	platformredis "claimreg/internal/platform/redis"
	"claimreg/pkg/platform/sentinel"
)

// DefaultRedisStream holds the outbox of the redis backend.
const DefaultRedisStream = "claimreg:outbox"

const (
	fieldEventID = "event_id"
	fieldKind    = "event_type"
	fieldKey     = "aggregate_id"
	fieldPayload = "payload"
)

// RedisStore appends events to a stream. Emit queues the XADD on the
// transaction bound to ctx, so the entry exists exactly when the claim
// write it describes was committed.
type RedisStore struct {
	client redis.UniversalClient
	stream string
	now    func() time.Time
}

// NewRedis builds a stream outbox; an empty stream selects DefaultRedisStream.
func NewRedis(client redis.UniversalClient, stream string) *RedisStore {
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisStore{client: client, stream: stream, now: time.Now}
}

// Emit implements events.Sink.
func (s *RedisStore) Emit(ctx context.Context, event models.Event) error {
	msg, err := events.NewMessage(event, s.now())
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			fieldEventID: msg.EventID.String(),
			fieldKind:    msg.Kind,
			fieldKey:     msg.Key,
			fieldPayload: string(msg.Value),
		},
	}
	if tx, ok := platformredis.TxFrom(ctx); ok {
		tx.Queue(func(pipe redis.Pipeliner) {
			pipe.XAdd(ctx, args)
		})
		return nil
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append outbox entry: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

// Drain hands up to limit of the oldest entries to fn and deletes them once
// fn succeeds. Relays on several instances may hand the same entry to the
// broker twice; consumers dedupe on event_id.
func (s *RedisStore) Drain(ctx context.Context, limit int, fn func(ctx context.Context, msgs []events.Message) error) (int, error) {
	entries, err := s.client.XRangeN(ctx, s.stream, "-", "+", int64(limit)).Result()
	if err != nil {
		return 0, fmt.Errorf("read outbox entries: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	if len(entries) == 0 {
		return 0, nil
	}
	msgs := make([]events.Message, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		msg, err := decodeEntry(entry)
		if err != nil {
			return 0, fmt.Errorf("decode outbox entry %s: %w", entry.ID, err)
		}
		msgs = append(msgs, msg)
		ids = append(ids, entry.ID)
	}
	if err := fn(ctx, msgs); err != nil {
		return 0, err
	}
	if err := s.client.XDel(ctx, s.stream, ids...).Err(); err != nil {
		return 0, fmt.Errorf("delete outbox entries: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return len(msgs), nil
}

// Pending counts entries not yet published.
func (s *RedisStore) Pending(ctx context.Context) (int, error) {
	n, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return int(n), nil
}

func decodeEntry(entry redis.XMessage) (events.Message, error) {
	str := func(field string) string {
		v, _ := entry.Values[field].(string)
		return v
	}
	id, err := uuid.Parse(str(fieldEventID))
	if err != nil {
		return events.Message{}, errors.Join(sentinel.ErrInvalidState, err)
	}
	return events.Message{
		EventID: id,
		Kind:    str(fieldKind),
		Key:     str(fieldKey),
		Value:   []byte(str(fieldPayload)),
	}, nil
}
