package booking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	"github.com/robertarktes/seat-booking/internal/chart"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventID = "finals-2026"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	cat := memory.NewCatalog()
	ch, err := domain.NewSeatingChart("Arena-A", "Arena A", []domain.Sector{
		domain.GridSector("Courtside", "Courtside", 1, 5),
		{ID: "Upper", Label: "Upper", Seats: []string{"U1", "U2"}},
	})
	require.NoError(t, err)
	require.NoError(t, cat.SaveChart(ctx, ch))
	require.NoError(t, cat.SaveEvent(ctx, domain.Event{ID: eventID, ChartID: "Arena-A", Name: "Finals", Date: time.Now()}))
	return ledger.New(memory.NewLedger(), chart.NewCatalog(cat, cat), observability.NopLogger())
}

func claim(seat, token string) domain.ClaimRequest {
	return domain.ClaimRequest{EventID: eventID, Sector: "Courtside", SeatID: seat, RequesterToken: token, TicketType: "general"}
}

func TestCoordinator_ArenaScenario(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	c := NewCoordinator(l, observability.NopLogger())

	tok, err := c.Hold(ctx, claim("R1S3", "A1"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A1", tok.Token)
	assert.Equal(t, "Courtside", tok.Sector)

	_, err = c.Hold(ctx, claim("R1S3", "B1"), 5*time.Second)
	assert.True(t, errors.Is(err, domain.ErrSeatUnavailable))

	ticket, err := c.Confirm(ctx, eventID, "R1S3", "A1")
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.TicketID)

	_, err = c.Hold(ctx, claim("R1S3", "B1"), 5*time.Second)
	assert.True(t, errors.Is(err, domain.ErrSeatUnavailable), "sold is terminal")

	snap, err := l.Snapshot(ctx, eventID, "Courtside")
	require.NoError(t, err)
	for _, rec := range snap {
		if rec.SeatID == "R1S3" {
			assert.Equal(t, domain.SeatSold, rec.Status)
		} else {
			assert.Equal(t, domain.SeatAvailable, rec.Status, rec.SeatID)
		}
	}
}

func TestCoordinator_Exclusivity(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newLedger(t), observability.NopLogger())

	const racers = 32
	var (
		wg      sync.WaitGroup
		sold    atomic.Int32
		tickets sync.Map
		start   = make(chan struct{})
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("buyer-%d", i)
			<-start
			if _, err := c.Hold(ctx, claim("R1S1", token), time.Minute); err != nil {
				assert.True(t, errors.Is(err, domain.ErrSeatUnavailable), err)
				return
			}
			ticket, err := c.Confirm(ctx, eventID, "R1S1", token)
			if err == nil {
				sold.Add(1)
				tickets.Store(ticket.TicketID, token)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), sold.Load())
}

func TestCoordinator_IdempotentConfirm(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newLedger(t), observability.NopLogger())

	_, err := c.Hold(ctx, claim("R1S2", "A1"), time.Minute)
	require.NoError(t, err)

	first, err := c.Confirm(ctx, eventID, "R1S2", "A1")
	require.NoError(t, err)
	second, err := c.Confirm(ctx, eventID, "R1S2", "A1")
	require.NoError(t, err)
	assert.Equal(t, first.TicketID, second.TicketID)
	assert.Equal(t, first.Version, second.Version)

	_, err = c.Confirm(ctx, eventID, "R1S2", "B1")
	assert.True(t, errors.Is(err, domain.ErrNotHeldByCaller))
}

func TestCoordinator_HoldExpiryAllowsReclaim(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
	c := NewCoordinator(newLedger(t), observability.NopLogger(), WithClock(clk.Now))

	_, err := c.Hold(ctx, claim("R1S4", "A1"), 100*time.Millisecond)
	require.NoError(t, err)

	clk.Advance(150 * time.Millisecond)

	tok, err := c.Hold(ctx, claim("R1S4", "B1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "B1", tok.Token)
	assert.Equal(t, int64(2), tok.Version)

	_, err = c.Confirm(ctx, eventID, "R1S4", "A1")
	assert.True(t, errors.Is(err, domain.ErrHoldExpired), "the taken over hold reports its expiry to A1")
	assert.False(t, errors.Is(err, domain.ErrNotHeldByCaller))

	_, err = c.Confirm(ctx, eventID, "R1S4", "C1")
	assert.True(t, errors.Is(err, domain.ErrNotHeldByCaller), "C1 never held the seat")

	ticket, err := c.Confirm(ctx, eventID, "R1S4", "B1")
	require.NoError(t, err)
	assert.Equal(t, "B1", ticket.HolderToken)

	_, err = c.Confirm(ctx, eventID, "R1S4", "A1")
	assert.True(t, errors.Is(err, domain.ErrHoldExpired), "still expired once B1 bought the seat")

	err = c.Release(ctx, eventID, "R1S4", "A1")
	assert.True(t, errors.Is(err, domain.ErrNotHeldByCaller))
}

func TestCoordinator_ConfirmExpiredHold(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
	c := NewCoordinator(newLedger(t), observability.NopLogger(), WithClock(clk.Now))

	_, err := c.Hold(ctx, claim("R1S5", "A1"), 10*time.Second)
	require.NoError(t, err)

	clk.Advance(11 * time.Second)
	_, err = c.Confirm(ctx, eventID, "R1S5", "A1")
	assert.True(t, errors.Is(err, domain.ErrHoldExpired))

	tok, err := c.Hold(ctx, claim("R1S5", "A1"), 10*time.Second)
	require.NoError(t, err, "the same caller may hold again")
	assert.Equal(t, clk.Now().Add(10*time.Second), tok.ExpiresAt)
}

func TestCoordinator_HoldIsIdempotentForHolder(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newLedger(t), observability.NopLogger())

	first, err := c.Hold(ctx, claim("R1S1", "A1"), time.Minute)
	require.NoError(t, err)
	again, err := c.Hold(ctx, claim("R1S1", "A1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestCoordinator_HoldTTL(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)}
	c := NewCoordinator(newLedger(t), observability.NopLogger(),
		WithClock(clk.Now), WithDefaultTTL(2*time.Minute), WithMaxTTL(10*time.Minute))

	tok, err := c.Hold(ctx, claim("R1S1", "A1"), 0)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(2*time.Minute), tok.ExpiresAt)

	tok, err = c.Hold(ctx, claim("R1S2", "A1"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(10*time.Minute), tok.ExpiresAt)
}

func TestCoordinator_Release(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newLedger(t), observability.NopLogger())

	_, err := c.Hold(ctx, claim("R1S1", "A1"), time.Minute)
	require.NoError(t, err)

	err = c.Release(ctx, eventID, "R1S1", "B1")
	assert.True(t, errors.Is(err, domain.ErrNotHeldByCaller))

	require.NoError(t, c.Release(ctx, eventID, "R1S1", "A1"))

	tok, err := c.Hold(ctx, claim("R1S1", "B1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tok.Version)

	_, err = c.Confirm(ctx, eventID, "R1S1", "B1")
	require.NoError(t, err)
	err = c.Release(ctx, eventID, "R1S1", "B1")
	assert.True(t, errors.Is(err, domain.ErrNotHeldByCaller), "sold seats cannot be released")
}

func TestCoordinator_UnknownSeats(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newLedger(t), observability.NopLogger())

	_, err := c.Hold(ctx, claim("R9S9", "A1"), time.Minute)
	assert.True(t, errors.Is(err, domain.ErrSeatNotFound))

	req := claim("R1S1", "A1")
	req.Sector = "Upper"
	_, err = c.Hold(ctx, req, time.Minute)
	assert.True(t, errors.Is(err, domain.ErrSeatNotFound), "seat exists but in another sector")

	req = claim("R1S1", "A1")
	req.EventID = "no-such-event"
	_, err = c.Hold(ctx, req, time.Minute)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = c.Hold(ctx, claim("R1S1", ""), time.Minute)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

// contendedLedger reports a conflict on every write.
type contendedLedger struct {
	SeatLedger
	writes atomic.Int32
}

func (l *contendedLedger) CompareAndTransition(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error) {
	l.writes.Add(1)
	return domain.SeatRecord{}, errors.Wrap(domain.ErrConflict, "lost the race")
}

func TestCoordinator_BoundedRetry(t *testing.T) {
	ctx := context.Background()
	l := &contendedLedger{SeatLedger: newLedger(t)}
	c := NewCoordinator(l, observability.NopLogger(), WithMaxAttempts(3))

	_, err := c.Hold(ctx, claim("R1S1", "A1"), time.Minute)
	assert.True(t, errors.Is(err, domain.ErrSeatUnavailable))
	assert.Equal(t, int32(3), l.writes.Load())
}

func TestCoordinator_VersionMonotonic(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	c := NewCoordinator(l, observability.NopLogger())

	var last int64
	for i := 0; i < 3; i++ {
		tok, err := c.Hold(ctx, claim("R1S2", "A1"), time.Minute)
		require.NoError(t, err)
		assert.Greater(t, tok.Version, last)
		last = tok.Version
		require.NoError(t, c.Release(ctx, eventID, "R1S2", "A1"))
	}

	stale := domain.NewSeatRecord(eventID, "R1S2")
	_, err := l.CompareAndTransition(ctx, domain.NewHoldTransition(stale, claim("R1S2", "B1"), time.Now(), time.Minute))
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "not_found", Outcome(errors.Wrap(domain.ErrSeatNotFound, "x")))
	assert.Equal(t, "unavailable", Outcome(domain.ErrSeatUnavailable))
	assert.Equal(t, "store_unavailable", Outcome(domain.StoreFailure(errors.New("down"), "x")))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
