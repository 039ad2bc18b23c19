package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
)

type seatKey struct {
	eventID string
	seatID  string
}

// Ledger keeps seat records in a map. The mutex makes every Apply a single
// atomic conditional write; it is the only lock involved.
type Ledger struct {
	mu    sync.Mutex
	seats map[seatKey]domain.SeatRecord
}

func NewLedger() *Ledger {
	return &Ledger{seats: make(map[seatKey]domain.SeatRecord)}
}

func (l *Ledger) Read(ctx context.Context, eventID, seatID string) (domain.SeatRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.seats[seatKey{eventID, seatID}]
	return rec, ok, nil
}

func (l *Ledger) Init(ctx context.Context, eventID, seatID string) (domain.SeatRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := seatKey{eventID, seatID}
	rec, ok := l.seats[k]
	if !ok {
		rec = domain.NewSeatRecord(eventID, seatID)
		l.seats[k] = rec
	}
	return rec, nil
}

func (l *Ledger) Apply(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.SeatRecord{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := seatKey{tr.EventID, tr.SeatID}
	rec, ok := l.seats[k]
	if !ok {
		rec = domain.NewSeatRecord(tr.EventID, tr.SeatID)
	}
	if !tr.Matches(rec) {
		return rec, errors.Wrapf(domain.ErrConflict, "seat %s is at version %d %s", tr.SeatID, rec.Version, rec.Status)
	}
	rec = tr.Apply(rec)
	l.seats[k] = rec
	return rec, nil
}

// ReadMany returns the stored records among seatIDs, taken under one lock.
func (l *Ledger) ReadMany(ctx context.Context, eventID string, seatIDs []string) (map[string]domain.SeatRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.SeatRecord, len(seatIDs))
	for _, id := range seatIDs {
		if rec, ok := l.seats[seatKey{eventID, id}]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// ExpiredHolds lists holds that ran out at or before now, oldest first.
func (l *Ledger) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.SeatRecord, error) {
	l.mu.Lock()
	var out []domain.SeatRecord
	for _, rec := range l.seats {
		if rec.Expired(now) {
			out = append(out, rec)
		}
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].HeldUntil.Before(out[j].HeldUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
