package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-booking/internal/adapters/crdb"
	"github.com/robertarktes/seat-booking/internal/observability"
)

type Store interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

const (
	DefaultInterval  = 5 * time.Second
	DefaultBatchSize = 100
)

// Publisher relays outbox rows to the broker in creation order. A record that
// still fails after retries stops the batch; it is picked up again next tick.
// Consumers dedupe on MessageId, so a record published twice is harmless.
type Publisher struct {
	repo       Store
	rabbitPub  Broker
	logger     observability.Logger
	interval   time.Duration
	batchSize  int
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

type Option func(*Publisher)

func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithBackOff(f func() backoff.BackOff) Option {
	return func(p *Publisher) { p.newBackOff = f }
}

func NewPublisher(repo Store, rabbitPub Broker, logger observability.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		logger:    logger,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return backoff.WithMaxRetries(b, 3)
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox relay batch failed")
			}
		}
	}
}

// PublishBatch sends up to one batch of pending records and returns how many
// were published.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "load outbox")
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	for i, rec := range records {
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		}
		op := func() error {
			return p.rabbitPub.Publish(ctx, rec.EventType, msg)
		}
		notify := func(err error, wait time.Duration) {
			observability.RabbitPublishRetries.Inc()
			p.logger.WithError(err).WithField("dedupe_key", rec.DedupeKey).Warn("publish failed, retrying")
		}
		if err := backoff.RetryNotify(op, backoff.WithContext(p.newBackOff(), ctx), notify); err != nil {
			return i, errors.Wrapf(err, "publish %s", rec.DedupeKey)
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, p.now()); err != nil {
			return i, errors.Wrapf(err, "mark %s published", rec.DedupeKey)
		}
	}
	return len(records), nil
}
