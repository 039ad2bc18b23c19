package chart

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Store loads charts by id. Implementations return domain.ErrChartNotFound for
// unknown ids.
type Store interface {
	LoadChart(ctx context.Context, chartID string) (*domain.SeatingChart, error)
}

// EventDirectory resolves which chart an event uses. Implementations return
// domain.ErrEventNotFound for unknown events.
type EventDirectory interface {
	ChartIDForEvent(ctx context.Context, eventID string) (string, error)
}

// loadTimeout bounds a shared chart load once it is detached from its callers.
const loadTimeout = 10 * time.Second

// Catalog is the read side of the seating chart store. Charts never change once
// written, so a loaded chart is cached for the life of the process. The event to
// chart mapping is looked up every time.
type Catalog struct {
	store  Store
	events EventDirectory

	mu     sync.RWMutex
	charts map[string]*domain.SeatingChart
	group  singleflight.Group
}

func NewCatalog(store Store, events EventDirectory) *Catalog {
	return &Catalog{
		store:  store,
		events: events,
		charts: make(map[string]*domain.SeatingChart),
	}
}

func (c *Catalog) LoadChart(ctx context.Context, chartID string) (*domain.SeatingChart, error) {
	c.mu.RLock()
	ch, ok := c.charts[chartID]
	c.mu.RUnlock()
	if ok {
		return ch, nil
	}

	// Concurrent callers share one load, which must not die with whichever
	// caller happened to start it.
	done := c.group.DoChan(chartID, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.charts[chartID]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		ch, err := c.store.LoadChart(loadCtx, chartID)
		if err != nil {
			return nil, err
		}
		ch = ch.Indexed()
		c.mu.Lock()
		c.charts[chartID] = ch
		c.mu.Unlock()
		return ch, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "load chart %s", chartID)
	case res = <-done:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.Wrapf(err, "chart %s", chartID)
		}
		return nil, domain.StoreFailure(err, "load chart %s", chartID)
	}
	return v.(*domain.SeatingChart), nil
}

func (c *Catalog) SeatExists(ctx context.Context, chartID, seatID string) (bool, error) {
	ch, err := c.LoadChart(ctx, chartID)
	if err != nil {
		return false, err
	}
	return ch.HasSeat(seatID), nil
}

func (c *Catalog) ChartForEvent(ctx context.Context, eventID string) (*domain.SeatingChart, error) {
	chartID, err := c.events.ChartIDForEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.Wrapf(err, "event %s", eventID)
		}
		return nil, domain.StoreFailure(err, "resolve chart of event %s", eventID)
	}
	return c.LoadChart(ctx, chartID)
}
