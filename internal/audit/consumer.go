package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
)

type Sink interface {
	LogSeatEvent(ctx context.Context, ev domain.SeatEvent) error
}

// Consumer writes seat events from the broker into the audit log. Messages
// are acked only after the write; undecodable ones are rejected without
// requeue.
type Consumer struct {
	sink       Sink
	logger     observability.Logger
	newBackOff func() backoff.BackOff
}

func NewConsumer(sink Sink, logger observability.Logger) *Consumer {
	return &Consumer{
		sink:   sink,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

// Run handles deliveries until ctx ends or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.Handle(ctx, d)
		}
	}
}

func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.WithFields(map[string]interface{}{
		"message_id":  d.MessageId,
		"routing_key": d.RoutingKey,
	})

	var ev domain.SeatEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.EventID == "" || ev.SeatID == "" {
		log.WithError(err).Warn("dropping malformed seat event")
		observability.AuditEventsStored.WithLabelValues("rejected").Inc()
		if err := d.Reject(false); err != nil {
			log.WithError(err).Error("reject failed")
		}
		return
	}

	op := func() error { return c.sink.LogSeatEvent(ctx, ev) }
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		log.WithError(err).Error("failed to store seat event")
		observability.AuditEventsStored.WithLabelValues("requeued").Inc()
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("nack failed")
		}
		return
	}

	observability.AuditEventsStored.WithLabelValues("stored").Inc()
	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("ack failed")
	}
}
