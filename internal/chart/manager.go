package chart

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/domain"
)

// Registry is the write side of the catalog. SaveChart and SaveEvent return
// domain.ErrAlreadyExists when the id is taken; charts are never overwritten.
type Registry interface {
	SaveChart(ctx context.Context, chart *domain.SeatingChart) error
	ListCharts(ctx context.Context) ([]*domain.SeatingChart, error)
	SaveEvent(ctx context.Context, event domain.Event) error
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
}

// Manager registers charts and events for organizers.
type Manager struct {
	catalog  *Catalog
	registry Registry
}

func NewManager(catalog *Catalog, registry Registry) *Manager {
	return &Manager{catalog: catalog, registry: registry}
}

// CreateChart stores a new chart. An empty id gets a generated one.
func (m *Manager) CreateChart(ctx context.Context, id, name string, sectors []domain.Sector) (*domain.SeatingChart, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	ch, err := domain.NewSeatingChart(id, name, sectors)
	if err != nil {
		return nil, err
	}
	if err := m.registry.SaveChart(ctx, ch); err != nil {
		return nil, storeErr(err, "save chart %s", id)
	}
	return ch, nil
}

func (m *Manager) GetChart(ctx context.Context, chartID string) (*domain.SeatingChart, error) {
	return m.catalog.LoadChart(ctx, chartID)
}

func (m *Manager) ListCharts(ctx context.Context) ([]*domain.SeatingChart, error) {
	charts, err := m.registry.ListCharts(ctx)
	if err != nil {
		return nil, domain.StoreFailure(err, "list charts")
	}
	return charts, nil
}

// CreateEvent registers an event on an existing chart.
func (m *Manager) CreateEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = uuid.NewString()
	}
	if err := ev.Validate(); err != nil {
		return domain.Event{}, err
	}
	if _, err := m.catalog.LoadChart(ctx, ev.ChartID); err != nil {
		return domain.Event{}, err
	}
	if err := m.registry.SaveEvent(ctx, ev); err != nil {
		return domain.Event{}, storeErr(err, "save event %s", ev.ID)
	}
	return ev, nil
}

func (m *Manager) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	ev, err := m.registry.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, storeErr(err, "get event %s", eventID)
	}
	return ev, nil
}

// ListEvents returns events ordered by date.
func (m *Manager) ListEvents(ctx context.Context) ([]domain.Event, error) {
	events, err := m.registry.ListEvents(ctx)
	if err != nil {
		return nil, domain.StoreFailure(err, "list events")
	}
	return events, nil
}

func storeErr(err error, format string, args ...interface{}) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyExists) {
		return errors.Wrapf(err, format, args...)
	}
	return domain.StoreFailure(err, format, args...)
}
