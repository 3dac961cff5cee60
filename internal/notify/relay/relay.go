// Package relay publishes the notification outbox to Kafka.
//
// Rows are read and marked published inside one transaction; the mark only
// happens after the broker acknowledged the batch, so delivery is at least
// once. Consumers deduplicate on the record's notification id header.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"venuepass/internal/notify"
	"venuepass/internal/platform/logger"
	"venuepass/internal/platform/metrics"
	"venuepass/internal/storage"
	"venuepass/pkg/platform/sentinel"
	"venuepass/pkg/requestcontext"
)

const DefaultBatchSize = 100

// Producer is the part of *kgo.Client the relay uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay moves outbox rows to a topic.
type Relay struct {
	tx        storage.TxRunner
	producer  Producer
	topic     string
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Relay)

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithBatchSize bounds the rows published per transaction.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func New(tx storage.TxRunner, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		tx:        tx,
		producer:  producer,
		topic:     topic,
		batchSize: DefaultBatchSize,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// message is the record value consumers see.
type message struct {
	ID          uuid.UUID         `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Kind        notify.Kind       `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (r *Relay) record(n *notify.Notification) (*kgo.Record, error) {
	value, err := json.Marshal(message{
		ID:          n.ID,
		RecipientID: n.RecipientID.String(),
		Kind:        n.Kind,
		Title:       n.Title,
		Body:        n.Body,
		Data:        n.Data,
		CreatedAt:   n.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode notification %s: %w", n.ID, err)
	}
	return &kgo.Record{
		Topic: r.topic,
		// Keyed by recipient so one user's notifications stay ordered.
		Key:   []byte(n.RecipientID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "notification_id", Value: []byte(n.ID.String())},
			{Key: "kind", Value: []byte(n.Kind)},
		},
	}, nil
}

// RelayOnce publishes one batch and returns how many rows it published.
// When the broker rejects any record the batch stays unpublished and the
// error wraps sentinel.ErrUnavailable.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var published int
	err := r.tx.RunInTx(ctx, func(stores storage.Stores) error {
		pending, err := stores.Outbox.ListUnpublished(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("list outbox: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		records := make([]*kgo.Record, 0, len(pending))
		ids := make([]uuid.UUID, 0, len(pending))
		for _, n := range pending {
			rec, err := r.record(n)
			if err != nil {
				return err
			}
			records = append(records, rec)
			ids = append(ids, n.ID)
		}

		if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			return fmt.Errorf("produce notifications: %w: %w", sentinel.ErrUnavailable, err)
		}
		if err := stores.Outbox.MarkPublished(ctx, ids, requestcontext.Now(ctx)); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "outbox relay failed", "topic", r.topic, "error", err)
		return 0, err
	}
	if published > 0 {
		r.metrics.AddNotificationsRelayed(published)
		r.logger.InfoContext(ctx, "outbox relayed", "topic", r.topic, "count", published)
	}
	return published, nil
}

// Drain publishes batches until the outbox is empty.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var total int
	for {
		n, err := r.RelayOnce(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}

// Run drains the outbox every interval until ctx is cancelled. A failed
// pass is logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(ctx context.Context, adm *kadm.Client, topic string, partitions int32, replicationFactor int16) error {
	resps, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}
