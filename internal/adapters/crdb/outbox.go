package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// GetUnpublishedOutbox claims up to limit pending records for r.OutboxLease.
// Rows locked or claimed by another publisher are skipped.
func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	now := time.Now()
	rows, err := r.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE outbox SET claimed_until = $2
			WHERE id IN (
				SELECT id FROM outbox
				WHERE status = 'NEW' AND (claimed_until IS NULL OR claimed_until <= $3)
				ORDER BY created_at ASC LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		)
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM claimed ORDER BY created_at ASC
	`, limit, now.Add(r.OutboxLease), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1 AND status = 'NEW'
	`, id, publishedAt)
	return err
}

