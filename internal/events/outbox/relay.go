package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"claimreg/internal/events"
)

// Source yields batches of unpublished messages. Store and RedisStore
// implement it.
type Source interface {
	Drain(ctx context.Context, limit int, fn func(ctx context.Context, msgs []events.Message) error) (int, error)
}

// Publisher delivers a batch to the broker, returning only once every
// message is acknowledged.
type Publisher interface {
	Publish(ctx context.Context, msgs []events.Message) error
}

// Relay moves outbox entries to the broker on a fixed interval. Delivery is
// at least once: a crash between publish and commit resends the batch.
type Relay struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	published prometheus.Counter
	failures  prometheus.Counter
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRelayMetrics registers relay counters on reg.
func WithRelayMetrics(reg prometheus.Registerer) RelayOption {
	return func(r *Relay) {
		factory := promauto.With(reg)
		r.published = factory.NewCounter(prometheus.CounterOpts{
			Name: "claimreg_outbox_published_total",
			Help: "Outbox entries delivered to the broker",
		})
		r.failures = factory.NewCounter(prometheus.CounterOpts{
			Name: "claimreg_outbox_relay_failures_total",
			Help: "Relay batches that failed and will be retried",
		})
	}
}

func NewRelay(source Source, publisher Publisher, interval time.Duration, batchSize int, opts ...RelayOption) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	r := &Relay{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush drains full batches until the outbox is empty or a batch fails.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.source.Drain(ctx, r.batchSize, r.publisher.Publish)
		total += n
		if r.published != nil {
			r.published.Add(float64(n))
		}
		if err != nil {
			if r.failures != nil {
				r.failures.Inc()
			}
			return total, err
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}

// Run flushes on every tick until ctx is cancelled. Failed batches are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.ErrorContext(ctx, "outbox relay failed", "error", err, "published", n)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "outbox relayed", "published", n)
			}
		}
	}
}
