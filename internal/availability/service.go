package availability

import (
	"context"
	"time"

	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/robertarktes/seat-booking/internal/availability")

type Snapshotter interface {
	Snapshot(ctx context.Context, eventID, sector string) ([]domain.SeatRecord, error)
	Sectors(ctx context.Context, eventID string) ([]string, error)
}

// Cache keeps recently built sector views. A cached view is a snapshot of an
// earlier instant, never a mix of instants.
type Cache interface {
	GetSectorView(ctx context.Context, eventID, sector string) (SectorView, bool, error)
	SetSectorView(ctx context.Context, view SectorView, ttl time.Duration) error
}

type SeatView struct {
	SeatID  string            `json:"seat_id"`
	Status  domain.SeatStatus `json:"status"`
	Version int64             `json:"version"`
}

type SectorView struct {
	EventID   string     `json:"event_id"`
	Sector    string     `json:"sector"`
	Seats     []SeatView `json:"seats"`
	Occupied  []string   `json:"occupied_seats"`
	Available int        `json:"available"`
	Held      int        `json:"held"`
	Sold      int        `json:"sold"`
	AsOf      time.Time  `json:"as_of"`
}

// Statuses maps seat id to status.
func (v SectorView) Statuses() map[string]domain.SeatStatus {
	out := make(map[string]domain.SeatStatus, len(v.Seats))
	for _, s := range v.Seats {
		out[s.SeatID] = s.Status
	}
	return out
}

type Service struct {
	ledger   Snapshotter
	cache    Cache
	cacheTTL time.Duration
	logger   observability.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithCache enables the sector view cache. A zero ttl leaves it off.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil && ttl > 0 {
			s.cache = c
			s.cacheTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(ledger Snapshotter, logger observability.Logger, opts ...Option) *Service {
	s := &Service{ledger: ledger, logger: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListAvailability reports the effective status of every seat in a sector.
func (s *Service) ListAvailability(ctx context.Context, eventID, sector string) (map[string]domain.SeatStatus, error) {
	v, err := s.SectorView(ctx, eventID, sector)
	if err != nil {
		return nil, err
	}
	return v.Statuses(), nil
}

// SectorView returns the sector in chart order. Expired holds show as
// AVAILABLE.
func (s *Service) SectorView(ctx context.Context, eventID, sector string) (SectorView, error) {
	ctx, span := tracer.Start(ctx, "availability.SectorView")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID), attribute.String("sector", sector))

	if s.cache != nil {
		v, ok, err := s.cache.GetSectorView(ctx, eventID, sector)
		if err != nil {
			s.logger.WithError(err).Warn("availability cache read failed")
		} else if ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return v, nil
		}
	}

	recs, err := s.ledger.Snapshot(ctx, eventID, sector)
	if err != nil {
		return SectorView{}, err
	}
	v := build(eventID, sector, recs, s.now())

	if s.cache != nil {
		if err := s.cache.SetSectorView(ctx, v, s.cacheTTL); err != nil {
			s.logger.WithError(err).Warn("availability cache write failed")
		}
	}
	return v, nil
}

// EventAvailability builds every sector of the event concurrently.
func (s *Service) EventAvailability(ctx context.Context, eventID string) ([]SectorView, error) {
	sectors, err := s.ledger.Sectors(ctx, eventID)
	if err != nil {
		return nil, err
	}

	views := make([]SectorView, len(sectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, sector := range sectors {
		i, sector := i, sector
		g.Go(func() error {
			v, err := s.SectorView(gctx, eventID, sector)
			if err != nil {
				return err
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func build(eventID, sector string, recs []domain.SeatRecord, now time.Time) SectorView {
	v := SectorView{
		EventID:  eventID,
		Sector:   sector,
		Seats:    make([]SeatView, len(recs)),
		Occupied: []string{},
		AsOf:     now,
	}
	for i, rec := range recs {
		st := rec.EffectiveStatus(now)
		v.Seats[i] = SeatView{SeatID: rec.SeatID, Status: st, Version: rec.Version}
		switch st {
		case domain.SeatAvailable:
			v.Available++
		case domain.SeatHeld:
			v.Held++
			v.Occupied = append(v.Occupied, rec.SeatID)
		case domain.SeatSold:
			v.Sold++
			v.Occupied = append(v.Occupied, rec.SeatID)
		}
	}
	return v
}
