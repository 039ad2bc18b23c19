package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	"github.com/robertarktes/seat-booking/internal/chart"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventID = "evt-1"

func newCatalog(t *testing.T) *chart.Catalog {
	t.Helper()
	ctx := context.Background()
	mem := memory.NewCatalog()
	ch, err := domain.NewSeatingChart("Arena-A", "Arena A", []domain.Sector{
		domain.GridSector("Courtside", "Courtside", 1, 5),
		{ID: "Upper", Label: "Upper", Seats: []string{"U1", "U2"}},
	})
	require.NoError(t, err)
	require.NoError(t, mem.SaveChart(ctx, ch))
	require.NoError(t, mem.SaveEvent(ctx, domain.Event{ID: eventID, ChartID: "Arena-A", Name: "Finals", Date: time.Now()}))
	return chart.NewCatalog(mem, mem)
}

// flakyBackend fails Apply after (or instead of) writing, and can fail reads.
type flakyBackend struct {
	*memory.Ledger
	applyThenFail bool
	failApply     bool
	failReads     int
}

func (f *flakyBackend) Apply(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error) {
	if f.failApply {
		return domain.SeatRecord{}, errors.New("connection reset by peer")
	}
	if f.applyThenFail {
		if _, err := f.Ledger.Apply(ctx, tr); err != nil {
			return domain.SeatRecord{}, err
		}
		return domain.SeatRecord{}, errors.New("i/o timeout")
	}
	return f.Ledger.Apply(ctx, tr)
}

func (f *flakyBackend) Read(ctx context.Context, eventID, seatID string) (domain.SeatRecord, bool, error) {
	if f.failReads > 0 {
		f.failReads--
		return domain.SeatRecord{}, false, errors.New("read timeout")
	}
	return f.Ledger.Read(ctx, eventID, seatID)
}

type noListBackend struct{ Backend }

func hold(rec domain.SeatRecord, token string) domain.Transition {
	return domain.NewHoldTransition(rec, domain.ClaimRequest{RequesterToken: token}, time.Now(), time.Minute)
}

func TestLedger_GetCreatesInitialRecord(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewLedger(), newCatalog(t), observability.NopLogger())

	rec, err := l.Get(ctx, eventID, "R1S3")
	require.NoError(t, err)
	assert.Equal(t, domain.SeatAvailable, rec.Status)
	assert.Equal(t, int64(0), rec.Version)

	_, err = l.Get(ctx, eventID, "R9S9")
	assert.True(t, errors.Is(err, domain.ErrSeatNotFound))
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = l.Get(ctx, "evt-404", "R1S3")
	assert.True(t, errors.Is(err, domain.ErrEventNotFound))
}

func TestLedger_CompareAndTransition(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewLedger(), newCatalog(t), observability.NopLogger())

	rec, err := l.Get(ctx, eventID, "R1S3")
	require.NoError(t, err)

	held, err := l.CompareAndTransition(ctx, hold(rec, "A1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), held.Version)

	_, err = l.CompareAndTransition(ctx, hold(rec, "B1"))
	assert.True(t, errors.Is(err, domain.ErrConflict), "stale version must conflict")

	cur, err := l.Get(ctx, eventID, "R1S3")
	require.NoError(t, err)
	assert.Equal(t, "A1", cur.HolderToken)
	assert.Equal(t, int64(1), cur.Version)
}

func TestLedger_RejectsIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewLedger(), newCatalog(t), observability.NopLogger())

	rec, _ := l.Get(ctx, eventID, "R1S1")
	tr := domain.NewSaleTransition(rec, "ticket", time.Now())
	tr.ExpectedStatus = domain.SeatSold
	_, err := l.CompareAndTransition(ctx, tr)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	outside := hold(domain.NewSeatRecord(eventID, "Z99"), "A1")
	_, err = l.CompareAndTransition(ctx, outside)
	assert.True(t, errors.Is(err, domain.ErrSeatNotFound))
}

func TestLedger_VerifiesAmbiguousWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("write landed", func(t *testing.T) {
		b := &flakyBackend{Ledger: memory.NewLedger(), applyThenFail: true}
		l := New(b, newCatalog(t), observability.NopLogger())
		rec, _ := l.Get(ctx, eventID, "R1S1")

		got, err := l.CompareAndTransition(ctx, hold(rec, "A1"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "A1", got.HolderToken)
	})

	t.Run("write lost", func(t *testing.T) {
		b := &flakyBackend{Ledger: memory.NewLedger(), failApply: true}
		l := New(b, newCatalog(t), observability.NopLogger())
		rec, _ := l.Get(ctx, eventID, "R1S1")

		_, err := l.CompareAndTransition(ctx, hold(rec, "A1"))
		assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
		assert.False(t, errors.Is(err, ErrOutcomeUnknown))
	})

	t.Run("someone else moved it", func(t *testing.T) {
		mem := memory.NewLedger()
		b := &flakyBackend{Ledger: mem, failApply: true}
		l := New(b, newCatalog(t), observability.NopLogger())
		rec, _ := l.Get(ctx, eventID, "R1S1")
		_, err := mem.Apply(ctx, hold(rec, "B1"))
		require.NoError(t, err)

		_, err = l.CompareAndTransition(ctx, hold(rec, "A1"))
		assert.True(t, errors.Is(err, domain.ErrConflict))
	})

	t.Run("cannot read back", func(t *testing.T) {
		b := &flakyBackend{Ledger: memory.NewLedger(), failApply: true}
		l := New(b, newCatalog(t), observability.NopLogger())
		rec, _ := l.Get(ctx, eventID, "R1S1")
		b.failReads = 3

		_, err := l.CompareAndTransition(ctx, hold(rec, "A1"))
		assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
		assert.True(t, errors.Is(err, ErrOutcomeUnknown))
	})
}

func TestLedger_Snapshot(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewLedger()
	l := New(mem, newCatalog(t), observability.NopLogger())

	rec, _ := l.Get(ctx, eventID, "R1S2")
	_, err := l.CompareAndTransition(ctx, hold(rec, "A1"))
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx, eventID, "Courtside")
	require.NoError(t, err)
	require.Len(t, snap, 5)
	for i, r := range snap {
		assert.Equal(t, []string{"R1S1", "R1S2", "R1S3", "R1S4", "R1S5"}[i], r.SeatID)
	}
	assert.Equal(t, domain.SeatHeld, snap[1].Status)
	assert.Equal(t, domain.SeatAvailable, snap[4].Status)

	_, found, _ := mem.Read(ctx, eventID, "R1S5")
	assert.False(t, found, "snapshot must not create records")

	_, err = l.Snapshot(ctx, eventID, "Balcony")
	assert.True(t, errors.Is(err, domain.ErrSectorNotFound))
}

func TestLedger_SnapshotDuringWrites(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewLedger(), newCatalog(t), observability.NopLogger())
	seats := []string{"R1S1", "R1S2", "R1S3", "R1S4", "R1S5"}

	var wg sync.WaitGroup
	for _, token := range []string{"A1", "B1", "C1"} {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				for _, seat := range seats {
					rec, err := l.Get(ctx, eventID, seat)
					if !assert.NoError(t, err) {
						return
					}
					var tr domain.Transition
					switch {
					case rec.Status == domain.SeatAvailable:
						tr = hold(rec, token)
					case rec.HeldBy(token):
						tr = domain.NewReleaseTransition(rec, time.Now())
					default:
						continue
					}
					_, err = l.CompareAndTransition(ctx, tr)
					if err != nil && !errors.Is(err, domain.ErrConflict) {
						t.Errorf("unexpected error: %v", err)
					}
				}
			}
		}(token)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	versions := make([]int64, len(seats))
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		snap, err := l.Snapshot(ctx, eventID, "Courtside")
		require.NoError(t, err)
		require.Len(t, snap, len(seats))
		for i, rec := range snap {
			assert.Equal(t, seats[i], rec.SeatID)
			assert.GreaterOrEqual(t, rec.Version, versions[i])
			versions[i] = rec.Version
			if rec.Status == domain.SeatHeld {
				assert.NotEmpty(t, rec.HolderToken)
			}
		}
	}
}

func TestLedger_LocateAndSectors(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewLedger(), newCatalog(t), observability.NopLogger())

	sector, err := l.Locate(ctx, eventID, "U2")
	require.NoError(t, err)
	assert.Equal(t, "Upper", sector)

	sectors, err := l.Sectors(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Courtside", "Upper"}, sectors)
}

func TestLedger_ExpiredHolds(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewLedger()
	l := New(mem, newCatalog(t), observability.NopLogger())

	rec, _ := l.Get(ctx, eventID, "R1S1")
	_, err := l.CompareAndTransition(ctx, hold(rec, "A1"))
	require.NoError(t, err)

	recs, err := l.ExpiredHolds(ctx, time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = New(noListBackend{mem}, newCatalog(t), observability.NopLogger()).ExpiredHolds(ctx, time.Now(), 10)
	assert.True(t, errors.Is(err, ErrListingUnsupported))
}
