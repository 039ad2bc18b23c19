package reaper

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
)

type Ledger interface {
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.SeatRecord, error)
	CompareAndTransition(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error)
}

// Reaper returns expired holds to AVAILABLE. Readers already treat them as
// available, so this only tidies storage and emits seat.available events; it
// goes through the same conditional write as everyone else.
type Reaper struct {
	ledger     Ledger
	logger     observability.Logger
	batch      int
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func New(ledger Ledger, logger observability.Logger, batch int) *Reaper {
	if batch <= 0 {
		batch = 100
	}
	return &Reaper{
		ledger: ledger,
		logger: logger,
		batch:  batch,
		now:    time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("hold sweep failed")
				continue
			}
			if n > 0 {
				r.logger.WithField("released", n).Info("released expired holds")
			}
		}
	}
}

// Sweep releases one batch of expired holds and returns how many it released.
// Holds that changed in the meantime are skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	holds, err := r.ledger.ExpiredHolds(ctx, now, r.batch)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, rec := range holds {
		if !rec.Expired(now) {
			continue
		}
		err := r.release(ctx, rec, now)
		switch {
		case err == nil:
			released++
			observability.HoldsReaped.Inc()
		case errors.Is(err, domain.ErrConflict):
			r.logger.WithField("seat_id", rec.SeatID).Debug("expired hold changed before release")
		default:
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"event_id": rec.EventID,
				"seat_id":  rec.SeatID,
			}).Error("failed to release expired hold after retries")
		}
	}
	return released, nil
}

func (r *Reaper) release(ctx context.Context, rec domain.SeatRecord, now time.Time) error {
	op := func() error {
		_, err := r.ledger.CompareAndTransition(ctx, domain.NewExpiryTransition(rec, now))
		if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(r.newBackOff(), ctx))
}
