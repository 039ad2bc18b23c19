package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	Subject   string    `bson:"subject"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// LogEvent stores one audit entry under id. An entry that already exists is
// left as is, which makes redelivered messages harmless.
func (a *AuditLogger) LogEvent(ctx context.Context, id, action, subject string, data map[string]interface{}) error {
	if id == "" {
		id = uuid.NewString()
	}
	log := AuditLog{
		ID:        id,
		Action:    action,
		Subject:   subject,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogSeatEvent(ctx context.Context, ev domain.SeatEvent) error {
	data := map[string]interface{}{
		"event_id":    ev.EventID,
		"seat_id":     ev.SeatID,
		"status":      string(ev.Status),
		"version":     ev.Version,
		"ticket_id":   ev.TicketID,
		"ticket_type": ev.TicketType,
		"occurred_at": ev.OccurredAt,
	}
	return a.LogEvent(ctx, ev.DedupeKey(), ev.RoutingKey(), ev.HolderToken, data)
}
