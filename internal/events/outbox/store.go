// Package outbox persists registry events next to the claim writes they
// describe, then relays them to the broker.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"claimreg/internal/claims/models"
	"claimreg/internal/events"
	"claimreg/internal/platform/postgres"
	txcontext "claimreg/pkg/platform/tx"
)

// Store writes events to the claim_outbox table. Emit joins the transaction
// bound to ctx, so an event is committed exactly when its claim write is.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Emit implements events.Sink.
func (s *Store) Emit(ctx context.Context, event models.Event) error {
	msg, err := events.NewMessage(event, s.now())
	if err != nil {
		return err
	}
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO claim_outbox (event_id, event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.EventID, msg.Kind, msg.Key, msg.Value, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", postgres.Classify(err))
	}
	return nil
}

// Drain locks up to limit unpublished entries in insertion order, hands them
// to fn and marks them published when fn succeeds. Concurrent relays skip
// rows another relay holds. It returns the number of entries published.
func (s *Store) Drain(ctx context.Context, limit int, fn func(ctx context.Context, msgs []events.Message) error) (int, error) {
	var published int
	err := txcontext.Run(ctx, s.db, func(txCtx context.Context) error {
		exec := txcontext.Exec(txCtx, s.db)
		rows, err := exec.QueryContext(txCtx, `
			SELECT id, event_id, event_type, aggregate_id, payload
			FROM claim_outbox
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("select outbox entries: %w", postgres.Classify(err))
		}
		defer rows.Close()

		var (
			ids  []int64
			msgs []events.Message
		)
		for rows.Next() {
			var (
				id  int64
				msg events.Message
			)
			if err := rows.Scan(&id, &msg.EventID, &msg.Kind, &msg.Key, &msg.Value); err != nil {
				return fmt.Errorf("scan outbox entry: %w", err)
			}
			ids = append(ids, id)
			msgs = append(msgs, msg)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox entries: %w", postgres.Classify(err))
		}
		if len(msgs) == 0 {
			return nil
		}

		if err := fn(txCtx, msgs); err != nil {
			return err
		}
		if _, err := exec.ExecContext(txCtx,
			`UPDATE claim_outbox SET published_at = $1 WHERE id = ANY($2)`,
			s.now().UTC(), ids,
		); err != nil {
			return fmt.Errorf("mark outbox entries published: %w", postgres.Classify(err))
		}
		published = len(msgs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

// Pending counts entries not yet published.
func (s *Store) Pending(ctx context.Context) (int, error) {
	var n int
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claim_outbox WHERE published_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", postgres.Classify(err))
	}
	return n, nil
}
