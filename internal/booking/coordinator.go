package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/robertarktes/seat-booking/internal/booking")

const (
	DefaultMaxAttempts = 4
	DefaultHoldTTL     = 5 * time.Minute
	DefaultMaxHoldTTL  = 30 * time.Minute
)

// SeatLedger is the part of the ledger the coordinator drives.
type SeatLedger interface {
	Get(ctx context.Context, eventID, seatID string) (domain.SeatRecord, error)
	CompareAndTransition(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error)
	Locate(ctx context.Context, eventID, seatID string) (string, error)
}

// Coordinator runs the seat state machine on top of the ledger. It holds no
// locks; races are settled by the ledger's conditional write and a bounded
// read-then-transition retry.
type Coordinator struct {
	ledger      SeatLedger
	logger      observability.Logger
	maxAttempts int
	defaultTTL  time.Duration
	maxTTL      time.Duration
	now         func() time.Time
	ticketID    func() string
}

type Option func(*Coordinator)

func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithDefaultTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

func WithMaxTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.maxTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithTicketIDs(gen func() string) Option {
	return func(c *Coordinator) { c.ticketID = gen }
}

func NewCoordinator(ledger SeatLedger, logger observability.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:      ledger,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		defaultTTL:  DefaultHoldTTL,
		maxTTL:      DefaultMaxHoldTTL,
		now:         time.Now,
		ticketID:    uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxTTL < c.defaultTTL {
		c.maxTTL = c.defaultTTL
	}
	return c
}

// Hold claims a seat for req.RequesterToken for ttl. A non-positive ttl uses
// the default; longer ones are capped at the maximum.
func (c *Coordinator) Hold(ctx context.Context, req domain.ClaimRequest, ttl time.Duration) (tok domain.HoldToken, err error) {
	ctx, span := c.start(ctx, "booking.Hold", req.EventID, req.SeatID)
	defer func() { c.finish(span, "hold", err) }()

	if err := req.Validate(); err != nil {
		return domain.HoldToken{}, err
	}
	sector, err := c.ledger.Locate(ctx, req.EventID, req.SeatID)
	if err != nil {
		return domain.HoldToken{}, err
	}
	if req.Sector != "" && req.Sector != sector {
		return domain.HoldToken{}, errors.Wrapf(domain.ErrSeatNotFound, "seat %s is not in sector %s", req.SeatID, req.Sector)
	}
	ttl = c.holdTTL(ttl)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		rec, err := c.ledger.Get(ctx, req.EventID, req.SeatID)
		if err != nil {
			return domain.HoldToken{}, err
		}
		now := c.now()

		switch rec.EffectiveStatus(now) {
		case domain.SeatSold:
			return domain.HoldToken{}, errors.Wrapf(domain.ErrSeatUnavailable, "seat %s is sold", req.SeatID)
		case domain.SeatHeld:
			if rec.HeldBy(req.RequesterToken) {
				return domain.NewHoldToken(rec, sector), nil
			}
			return domain.HoldToken{}, errors.Wrapf(domain.ErrSeatUnavailable, "seat %s is held", req.SeatID)
		}

		held, err := c.ledger.CompareAndTransition(ctx, domain.NewHoldTransition(rec, req, now, ttl))
		if err == nil {
			return domain.NewHoldToken(held, sector), nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.HoldToken{}, err
		}
		c.logConflict("hold", req.EventID, req.SeatID, attempt)
	}
	return domain.HoldToken{}, c.exhausted("hold", req.SeatID)
}

// Confirm turns the caller's live hold into a sale. Confirming a seat already
// sold to the same token returns the original ticket.
func (c *Coordinator) Confirm(ctx context.Context, eventID, seatID, holderToken string) (ticket domain.Ticket, err error) {
	ctx, span := c.start(ctx, "booking.Confirm", eventID, seatID)
	defer func() { c.finish(span, "confirm", err) }()

	if holderToken == "" {
		return domain.Ticket{}, domain.Invalid("holder_token is required")
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		rec, err := c.ledger.Get(ctx, eventID, seatID)
		if err != nil {
			return domain.Ticket{}, err
		}
		now := c.now()

		switch {
		case rec.SoldTo(holderToken):
			return domain.NewTicket(rec), nil
		case rec.LostBy(holderToken):
			return domain.Ticket{}, errors.Wrapf(domain.ErrHoldExpired, "seat %s hold expired and is gone", seatID)
		case !rec.HeldBy(holderToken):
			return domain.Ticket{}, errors.Wrapf(domain.ErrNotHeldByCaller, "seat %s", seatID)
		case rec.Expired(now):
			return domain.Ticket{}, errors.Wrapf(domain.ErrHoldExpired, "seat %s hold ended at %s", seatID, rec.HeldUntil.Format(time.RFC3339Nano))
		}

		sold, err := c.ledger.CompareAndTransition(ctx, domain.NewSaleTransition(rec, c.ticketID(), now))
		if err == nil {
			return domain.NewTicket(sold), nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Ticket{}, err
		}
		c.logConflict("confirm", eventID, seatID, attempt)
	}
	return domain.Ticket{}, c.exhausted("confirm", seatID)
}

// Release gives a held seat back. The holder may release its own expired hold.
func (c *Coordinator) Release(ctx context.Context, eventID, seatID, holderToken string) (err error) {
	ctx, span := c.start(ctx, "booking.Release", eventID, seatID)
	defer func() { c.finish(span, "release", err) }()

	if holderToken == "" {
		return domain.Invalid("holder_token is required")
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		rec, err := c.ledger.Get(ctx, eventID, seatID)
		if err != nil {
			return err
		}
		if !rec.HeldBy(holderToken) {
			return errors.Wrapf(domain.ErrNotHeldByCaller, "seat %s", seatID)
		}

		_, err = c.ledger.CompareAndTransition(ctx, domain.NewReleaseTransition(rec, c.now()))
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		c.logConflict("release", eventID, seatID, attempt)
	}
	return c.exhausted("release", seatID)
}

func (c *Coordinator) holdTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	if ttl > c.maxTTL {
		return c.maxTTL
	}
	return ttl
}

func (c *Coordinator) exhausted(op, seatID string) error {
	return errors.Wrapf(domain.ErrSeatUnavailable, "%s seat %s: still contended after %d attempts", op, seatID, c.maxAttempts)
}

func (c *Coordinator) logConflict(op, eventID, seatID string, attempt int) {
	c.logger.WithFields(map[string]interface{}{
		"operation": op,
		"event_id":  eventID,
		"seat_id":   seatID,
		"attempt":   attempt,
	}).Debug("seat transition conflict, retrying")
}

func (c *Coordinator) start(ctx context.Context, name, eventID, seatID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("event_id", eventID),
		attribute.String("seat_id", seatID),
	))
}

func (c *Coordinator) finish(span trace.Span, op string, err error) {
	outcome := Outcome(err)
	observability.OperationsTotal.WithLabelValues(op, outcome).Inc()
	span.SetAttributes(attribute.String("outcome", outcome))
	if outcome == "store_unavailable" || outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.WithError(err).WithField("operation", op).Error("booking operation failed")
	}
	span.End()
}

// Outcome names the result class of a booking operation for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSeatUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrHoldExpired):
		return "hold_expired"
	case errors.Is(err, domain.ErrNotHeldByCaller):
		return "not_held"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "error"
}
