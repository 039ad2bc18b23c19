package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
)

// Catalog stores charts and events for single-process runs and tests.
type Catalog struct {
	mu     sync.RWMutex
	charts map[string]*domain.SeatingChart
	events map[string]domain.Event
}

func NewCatalog() *Catalog {
	return &Catalog{
		charts: make(map[string]*domain.SeatingChart),
		events: make(map[string]domain.Event),
	}
}

func (c *Catalog) LoadChart(ctx context.Context, chartID string) (*domain.SeatingChart, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.charts[chartID]
	if !ok {
		return nil, domain.ErrChartNotFound
	}
	return ch, nil
}

func (c *Catalog) SaveChart(ctx context.Context, chart *domain.SeatingChart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.charts[chart.ID]; ok {
		return errors.Wrapf(domain.ErrAlreadyExists, "chart %s", chart.ID)
	}
	c.charts[chart.ID] = chart.Indexed()
	return nil
}

func (c *Catalog) ListCharts(ctx context.Context) ([]*domain.SeatingChart, error) {
	c.mu.RLock()
	out := make([]*domain.SeatingChart, 0, len(c.charts))
	for _, ch := range c.charts {
		out = append(out, ch)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) ChartIDForEvent(ctx context.Context, eventID string) (string, error) {
	ev, err := c.GetEvent(ctx, eventID)
	if err != nil {
		return "", err
	}
	return ev.ChartID, nil
}

func (c *Catalog) SaveEvent(ctx context.Context, event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[event.ID]; ok {
		return errors.Wrapf(domain.ErrAlreadyExists, "event %s", event.ID)
	}
	c.events[event.ID] = event
	return nil
}

func (c *Catalog) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, nil
}

func (c *Catalog) ListEvents(ctx context.Context) ([]domain.Event, error) {
	c.mu.RLock()
	out := make([]domain.Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}
