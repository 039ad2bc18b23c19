package ledger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/robertarktes/seat-booking/internal/ledger")

// Backend is the storage behind the ledger. Apply must be one atomic
// conditional write: it succeeds only if the stored record (or the initial
// AVAILABLE/0 record when none is stored) matches the transition's expected
// version and status, and returns domain.ErrConflict otherwise.
type Backend interface {
	Read(ctx context.Context, eventID, seatID string) (domain.SeatRecord, bool, error)
	Init(ctx context.Context, eventID, seatID string) (domain.SeatRecord, error)
	Apply(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error)
	ReadMany(ctx context.Context, eventID string, seatIDs []string) (map[string]domain.SeatRecord, error)
}

// ExpiredHoldLister is implemented by backends that can find stale holds.
type ExpiredHoldLister interface {
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.SeatRecord, error)
}

type ChartSource interface {
	ChartForEvent(ctx context.Context, eventID string) (*domain.SeatingChart, error)
}

var (
	// ErrOutcomeUnknown marks a failed write whose effect could not be read back.
	ErrOutcomeUnknown     = errors.New("transition outcome unknown")
	ErrListingUnsupported = errors.New("backend cannot list expired holds")
)

const defaultVerifyReads = 3

type Ledger struct {
	backend     Backend
	charts      ChartSource
	logger      observability.Logger
	verifyReads int
}

type Option func(*Ledger)

func WithVerifyReads(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.verifyReads = n
		}
	}
}

func New(backend Backend, charts ChartSource, logger observability.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		backend:     backend,
		charts:      charts,
		logger:      logger,
		verifyReads: defaultVerifyReads,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Get returns the current record of a seat, creating the initial record on
// first reference. Seats outside the event's chart are domain.ErrSeatNotFound.
func (l *Ledger) Get(ctx context.Context, eventID, seatID string) (domain.SeatRecord, error) {
	if _, err := l.Locate(ctx, eventID, seatID); err != nil {
		return domain.SeatRecord{}, err
	}

	rec, found, err := l.backend.Read(ctx, eventID, seatID)
	if err != nil {
		return domain.SeatRecord{}, domain.StoreFailure(err, "read seat %s/%s", eventID, seatID)
	}
	if found {
		return rec, nil
	}
	rec, err = l.backend.Init(ctx, eventID, seatID)
	if err != nil {
		return domain.SeatRecord{}, domain.StoreFailure(err, "init seat %s/%s", eventID, seatID)
	}
	return rec, nil
}

// CompareAndTransition applies tr if the seat still has the expected version
// and status. It returns the new record, or an error marked domain.ErrConflict
// when someone else got there first.
func (l *Ledger) CompareAndTransition(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error) {
	ctx, span := tracer.Start(ctx, "ledger.CompareAndTransition")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", tr.EventID),
		attribute.String("seat_id", tr.SeatID),
		attribute.Int64("expected_version", tr.ExpectedVersion),
		attribute.String("new_status", string(tr.NewStatus)),
	)

	if err := tr.Validate(); err != nil {
		return domain.SeatRecord{}, err
	}
	if _, err := l.Locate(ctx, tr.EventID, tr.SeatID); err != nil {
		return domain.SeatRecord{}, err
	}

	rec, err := l.backend.Apply(ctx, tr)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, domain.ErrConflict) {
		observability.LedgerConflicts.Inc()
		span.SetAttributes(attribute.Bool("conflict", true))
		return domain.SeatRecord{}, errors.Wrapf(err, "seat %s/%s", tr.EventID, tr.SeatID)
	}

	rec, err = l.verify(ctx, tr, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
	}
	return rec, err
}

// verify reads the record back after a failed write to learn whether the write
// landed before the failure was reported.
func (l *Ledger) verify(ctx context.Context, tr domain.Transition, cause error) (domain.SeatRecord, error) {
	log := l.logger.WithFields(map[string]interface{}{
		"event_id": tr.EventID,
		"seat_id":  tr.SeatID,
		"version":  tr.ExpectedVersion,
	})

	var readErr error
	for i := 0; i < l.verifyReads; i++ {
		rec, found, err := l.backend.Read(ctx, tr.EventID, tr.SeatID)
		if err != nil {
			readErr = err
			continue
		}
		if !found {
			rec = domain.NewSeatRecord(tr.EventID, tr.SeatID)
		}
		switch {
		case tr.AppliedTo(rec):
			log.WithError(cause).Warn("write reported failure but was applied")
			return rec, nil
		case tr.Matches(rec):
			return domain.SeatRecord{}, domain.StoreFailure(cause, "transition seat %s/%s", tr.EventID, tr.SeatID)
		default:
			observability.LedgerConflicts.Inc()
			return domain.SeatRecord{}, errors.Wrapf(domain.ErrConflict, "seat %s/%s moved to version %d", tr.EventID, tr.SeatID, rec.Version)
		}
	}

	observability.LedgerUnverifiedWrites.Inc()
	log.WithError(errors.CombineErrors(cause, readErr)).Error("transition outcome could not be verified")
	return domain.SeatRecord{}, errors.Mark(
		domain.StoreFailure(cause, "transition seat %s/%s", tr.EventID, tr.SeatID),
		ErrOutcomeUnknown,
	)
}

// Snapshot reads every seat of a sector in chart order as of one instant.
// Seats never touched are reported as AVAILABLE at version 0 without being
// created.
func (l *Ledger) Snapshot(ctx context.Context, eventID, sector string) ([]domain.SeatRecord, error) {
	ctx, span := tracer.Start(ctx, "ledger.Snapshot")
	defer span.End()

	ch, err := l.charts.ChartForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	sec, ok := ch.Sector(sector)
	if !ok {
		return nil, errors.Wrapf(domain.ErrSectorNotFound, "sector %s of event %s", sector, eventID)
	}

	stored, err := l.backend.ReadMany(ctx, eventID, sec.Seats)
	if err != nil {
		return nil, domain.StoreFailure(err, "snapshot %s/%s", eventID, sector)
	}

	out := make([]domain.SeatRecord, len(sec.Seats))
	for i, seatID := range sec.Seats {
		if rec, ok := stored[seatID]; ok {
			out[i] = rec
			continue
		}
		out[i] = domain.NewSeatRecord(eventID, seatID)
	}
	return out, nil
}

// Locate returns the sector of a seat within the event's chart.
func (l *Ledger) Locate(ctx context.Context, eventID, seatID string) (string, error) {
	ch, err := l.charts.ChartForEvent(ctx, eventID)
	if err != nil {
		return "", err
	}
	sector, ok := ch.SectorOf(seatID)
	if !ok {
		return "", errors.Wrapf(domain.ErrSeatNotFound, "seat %s in chart %s", seatID, ch.ID)
	}
	return sector, nil
}

func (l *Ledger) Sectors(ctx context.Context, eventID string) ([]string, error) {
	ch, err := l.charts.ChartForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return ch.SectorIDs(), nil
}

func (l *Ledger) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.SeatRecord, error) {
	lister, ok := l.backend.(ExpiredHoldLister)
	if !ok {
		return nil, ErrListingUnsupported
	}
	recs, err := lister.ExpiredHolds(ctx, now, limit)
	if err != nil {
		return nil, domain.StoreFailure(err, "list expired holds")
	}
	return recs, nil
}
