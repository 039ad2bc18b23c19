package crdb

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

//go:embed schema.sql
var schema string

const seatColumns = `event_id, seat_id, status, holder_token, held_until, ticket_id, ticket_type, version, updated_at, displaced_token`

// DefaultOutboxLease is how long a publisher owns the outbox rows it claimed.
const DefaultOutboxLease = 30 * time.Second

// Repository is the CockroachDB (or Postgres) seat ledger. Every transition is
// one conditional UPDATE plus its outbox row in a serializable transaction.
type Repository struct {
	pool *pgxpool.Pool

	// OutboxLease hides claimed outbox rows from other publishers until it
	// runs out, so a crashed publisher's batch is picked up again.
	OutboxLease time.Duration
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, OutboxLease: DefaultOutboxLease}
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapTxError(err)
	}
	return mapTxError(tx.Commit(ctx))
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

func (r *Repository) Read(ctx context.Context, eventID, seatID string) (domain.SeatRecord, bool, error) {
	rec, err := scanSeat(r.pool.QueryRow(ctx, `
		SELECT `+seatColumns+` FROM seat_records WHERE event_id = $1 AND seat_id = $2
	`, eventID, seatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SeatRecord{}, false, nil
	}
	if err != nil {
		return domain.SeatRecord{}, false, err
	}
	return rec, true, nil
}

// Init inserts the AVAILABLE/0 record unless one exists, then reads it.
func (r *Repository) Init(ctx context.Context, eventID, seatID string) (domain.SeatRecord, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO seat_records (event_id, seat_id) VALUES ($1, $2)
		ON CONFLICT (event_id, seat_id) DO NOTHING
	`, eventID, seatID)
	if err != nil {
		return domain.SeatRecord{}, err
	}
	rec, found, err := r.Read(ctx, eventID, seatID)
	if err != nil {
		return domain.SeatRecord{}, err
	}
	if !found {
		return domain.SeatRecord{}, errors.Newf("seat %s/%s vanished after insert", eventID, seatID)
	}
	return rec, nil
}

func (r *Repository) Apply(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error) {
	next := tr.Apply(domain.NewSeatRecord(tr.EventID, tr.SeatID))

	var rec domain.SeatRecord
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if tr.ExpectedVersion == 0 {
			_, err := tx.Exec(ctx, `
				INSERT INTO seat_records (event_id, seat_id) VALUES ($1, $2)
				ON CONFLICT (event_id, seat_id) DO NOTHING
			`, tr.EventID, tr.SeatID)
			if err != nil {
				return err
			}
		}

		var err error
		rec, err = scanSeat(tx.QueryRow(ctx, `
			UPDATE seat_records
			SET status = $5, holder_token = $6, held_until = $7, ticket_id = $8, ticket_type = $9,
				version = version + 1, updated_at = $10,
				displaced_token = CASE WHEN $11 = '' THEN displaced_token ELSE $11 END
			WHERE event_id = $1 AND seat_id = $2 AND version = $3 AND status = $4
			RETURNING `+seatColumns,
			tr.EventID, tr.SeatID, tr.ExpectedVersion, string(tr.ExpectedStatus),
			string(next.Status), next.HolderToken, nullTime(next.HeldUntil), next.TicketID, next.TicketType, tr.At,
			tr.DisplacedToken,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(domain.ErrConflict, "seat %s/%s not at version %d %s", tr.EventID, tr.SeatID, tr.ExpectedVersion, tr.ExpectedStatus)
		}
		if err != nil {
			return err
		}

		ev := domain.NewSeatEvent(rec)
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return r.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "seat",
			AggregateID:   rec.EventID + "/" + rec.SeatID,
			EventType:     ev.RoutingKey(),
			Payload:       payload,
			DedupeKey:     ev.DedupeKey(),
		})
	})
	if err != nil {
		return domain.SeatRecord{}, err
	}
	return rec, nil
}

// ReadMany reads the stored seats among seatIDs in a single statement.
func (r *Repository) ReadMany(ctx context.Context, eventID string, seatIDs []string) (map[string]domain.SeatRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+seatColumns+` FROM seat_records WHERE event_id = $1 AND seat_id = ANY($2)
	`, eventID, seatIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.SeatRecord, len(seatIDs))
	for rows.Next() {
		rec, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out[rec.SeatID] = rec
	}
	return out, rows.Err()
}

func (r *Repository) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.SeatRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+seatColumns+` FROM seat_records
		WHERE status = 'HELD' AND held_until <= $1
		ORDER BY held_until ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.SeatRecord
	for rows.Next() {
		rec, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanSeat(row pgx.Row) (domain.SeatRecord, error) {
	var (
		rec       domain.SeatRecord
		status    string
		heldUntil *time.Time
	)
	err := row.Scan(&rec.EventID, &rec.SeatID, &status, &rec.HolderToken, &heldUntil,
		&rec.TicketID, &rec.TicketType, &rec.Version, &rec.UpdatedAt, &rec.DisplacedToken)
	if err != nil {
		return domain.SeatRecord{}, err
	}
	rec.Status = domain.SeatStatus(status)
	if heldUntil != nil {
		rec.HeldUntil = *heldUntil
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
