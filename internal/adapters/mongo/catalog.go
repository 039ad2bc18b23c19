package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository stores seating charts and events. Charts are insert-only.
type CatalogRepository struct {
	charts *mongo.Collection
	events *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		charts: db.Collection("seating_charts"),
		events: db.Collection("events"),
		logger: logger,
	}
}

type chartDoc struct {
	domain.SeatingChart `bson:",inline"`
	CreatedAt           time.Time `bson:"created_at"`
}

type eventDoc struct {
	domain.Event `bson:",inline"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// EnsureIndexes creates the index events are listed by.
func (c *CatalogRepository) EnsureIndexes(ctx context.Context) error {
	_, err := c.events.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "date", Value: 1}}})
	return err
}

func (c *CatalogRepository) LoadChart(ctx context.Context, chartID string) (*domain.SeatingChart, error) {
	var doc chartDoc
	err := c.charts.FindOne(ctx, bson.M{"_id": chartID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrChartNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to load chart")
		return nil, err
	}
	ch := doc.SeatingChart
	return ch.Indexed(), nil
}

func (c *CatalogRepository) SaveChart(ctx context.Context, chart *domain.SeatingChart) error {
	_, err := c.charts.InsertOne(ctx, chartDoc{SeatingChart: *chart, CreatedAt: time.Now()})
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(domain.ErrAlreadyExists, "chart %s", chart.ID)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to create chart")
		return err
	}
	return nil
}

func (c *CatalogRepository) ListCharts(ctx context.Context) ([]*domain.SeatingChart, error) {
	cur, err := c.charts.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []chartDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domain.SeatingChart, len(docs))
	for i := range docs {
		ch := docs[i].SeatingChart
		out[i] = ch.Indexed()
	}
	return out, nil
}

func (c *CatalogRepository) ChartIDForEvent(ctx context.Context, eventID string) (string, error) {
	var doc struct {
		ChartID string `bson:"chart_id"`
	}
	opts := options.FindOne().SetProjection(bson.M{"chart_id": 1})
	err := c.events.FindOne(ctx, bson.M{"_id": eventID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", domain.ErrEventNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to resolve event chart")
		return "", err
	}
	return doc.ChartID, nil
}

func (c *CatalogRepository) SaveEvent(ctx context.Context, event domain.Event) error {
	now := time.Now()
	_, err := c.events.InsertOne(ctx, eventDoc{Event: event, CreatedAt: now, UpdatedAt: now})
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(domain.ErrAlreadyExists, "event %s", event.ID)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to create event")
		return err
	}
	return nil
}

func (c *CatalogRepository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	var doc eventDoc
	err := c.events.FindOne(ctx, bson.M{"_id": eventID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get event")
		return domain.Event{}, err
	}
	return doc.Event, nil
}

func (c *CatalogRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	cur, err := c.events.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Event, len(docs))
	for i, d := range docs {
		out[i] = d.Event
	}
	return out, nil
}
