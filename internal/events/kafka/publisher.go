// Package kafka publishes registry events to a Kafka compatible broker.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"claimreg/internal/claims/models"
	"claimreg/internal/events"
	"claimreg/internal/platform/config"
	"claimreg/pkg/platform/sentinel"
)

const (
	headerEventID   = "event_id"
	headerEventKind = "event_kind"
)

// Publisher produces events synchronously; a call returns once every record
// is acknowledged by all in-sync replicas.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New connects to the brokers in cfg. Extra client options are appended,
// which tests use to shorten timeouts.
func New(cfg config.KafkaConfig, opts []Option, clientOpts ...kgo.Opt) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers are required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	}
	client, err := kgo.NewClient(append(base, clientOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p := &Publisher{client: client, topic: cfg.Topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureTopic creates the event topic when it is missing.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopic(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, errors.Join(sentinel.ErrUnavailable, err))
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

// Publish implements outbox.Publisher.
func (p *Publisher) Publish(ctx context.Context, msgs []events.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(m.Key),
			Value: m.Value,
			Headers: []kgo.RecordHeader{
				{Key: headerEventID, Value: []byte(m.EventID.String())},
				{Key: headerEventKind, Value: []byte(m.Kind)},
			},
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce %d events: %w", len(records), errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

// Emit implements events.Sink by producing the event directly. Use the
// outbox instead when the store is durable.
func (p *Publisher) Emit(ctx context.Context, event models.Event) error {
	msg, err := events.NewMessage(event, time.Now())
	if err != nil {
		return err
	}
	return p.Publish(ctx, []events.Message{msg})
}

// Ping checks broker reachability.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}

// ToMessage rebuilds a Message from a consumed record.
func ToMessage(rec *kgo.Record) (events.Message, error) {
	payload, err := events.DecodePayload(rec.Value)
	if err != nil {
		return events.Message{}, err
	}
	return events.Message{EventID: payload.ID, Kind: payload.Kind, Key: string(rec.Key), Value: rec.Value}, nil
}
