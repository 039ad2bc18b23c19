package chart

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	Store
	loads atomic.Int32
	delay time.Duration
}

func (s *countingStore) LoadChart(ctx context.Context, chartID string) (*domain.SeatingChart, error) {
	s.loads.Add(1)
	time.Sleep(s.delay)
	return s.Store.LoadChart(ctx, chartID)
}

// gatedStore blocks every load until release is closed or the load's context ends.
type gatedStore struct {
	Store
	loads   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *gatedStore) LoadChart(ctx context.Context, chartID string) (*domain.SeatingChart, error) {
	if s.loads.Add(1) == 1 {
		close(s.started)
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Store.LoadChart(ctx, chartID)
}

type brokenStore struct{}

func (brokenStore) LoadChart(ctx context.Context, chartID string) (*domain.SeatingChart, error) {
	return nil, errors.New("connection refused")
}

func arena(t *testing.T) *memory.Catalog {
	t.Helper()
	ctx := context.Background()
	mem := memory.NewCatalog()
	ch, err := domain.NewSeatingChart("Arena-A", "Arena A", []domain.Sector{domain.GridSector("Courtside", "Courtside", 1, 5)})
	require.NoError(t, err)
	require.NoError(t, mem.SaveChart(ctx, ch))
	require.NoError(t, mem.SaveEvent(ctx, domain.Event{ID: "evt-1", ChartID: "Arena-A", Name: "Finals", Date: time.Now()}))
	return mem
}

func TestCatalog_CachesCharts(t *testing.T) {
	ctx := context.Background()
	mem := arena(t)
	store := &countingStore{Store: mem, delay: 20 * time.Millisecond}
	c := NewCatalog(store, mem)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.LoadChart(ctx, "Arena-A")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ok, err := c.SeatExists(ctx, "Arena-A", "R1S3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SeatExists(ctx, "Arena-A", "R9S9")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), store.loads.Load())
}

func TestCatalog_CancelledCallerDoesNotFailOthers(t *testing.T) {
	mem := arena(t)
	store := &gatedStore{Store: mem, started: make(chan struct{}), release: make(chan struct{})}
	c := NewCatalog(store, mem)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.LoadChart(firstCtx, "Arena-A")
		firstErr <- err
	}()
	<-store.started

	type result struct {
		ch  *domain.SeatingChart
		err error
	}
	second := make(chan result, 1)
	go func() {
		ch, err := c.LoadChart(context.Background(), "Arena-A")
		second <- result{ch, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared load")
	}

	close(store.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, "Arena-A", res.ch.ID)
	case <-time.After(time.Second):
		t.Fatal("second caller never got the chart")
	}
	assert.Equal(t, int32(1), store.loads.Load())
}

func TestCatalog_NotFound(t *testing.T) {
	ctx := context.Background()
	mem := arena(t)
	c := NewCatalog(mem, mem)

	_, err := c.LoadChart(ctx, "Arena-Z")
	assert.True(t, errors.Is(err, domain.ErrChartNotFound))

	_, err = c.ChartForEvent(ctx, "evt-404")
	assert.True(t, errors.Is(err, domain.ErrEventNotFound))

	ch, err := c.ChartForEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Arena-A", ch.ID)
}

func TestCatalog_StoreFailure(t *testing.T) {
	c := NewCatalog(brokenStore{}, memory.NewCatalog())

	_, err := c.LoadChart(context.Background(), "Arena-A")
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestManager_CreateEventRequiresChart(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewCatalog()
	m := NewManager(NewCatalog(mem, mem), mem)

	ch, err := m.CreateChart(ctx, "", "Court", []domain.Sector{domain.GridSector("A", "A", 2, 2)})
	require.NoError(t, err)
	assert.NotEmpty(t, ch.ID)

	_, err = m.CreateChart(ctx, "bad", "Bad", nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = m.CreateEvent(ctx, domain.Event{Name: "Show", ChartID: "missing", Date: time.Now()})
	assert.True(t, errors.Is(err, domain.ErrChartNotFound))

	ev, err := m.CreateEvent(ctx, domain.Event{Name: "Show", ChartID: ch.ID, Date: time.Now()})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	got, err := m.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, got.ChartID)

	charts, err := m.ListCharts(ctx)
	require.NoError(t, err)
	assert.Len(t, charts, 1)
}
