package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/seat-booking/internal/adapters/mongo"
	"github.com/robertarktes/seat-booking/internal/adapters/rabbit"
	"github.com/robertarktes/seat-booking/internal/audit"
	"github.com/robertarktes/seat-booking/internal/config"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queue = "seat-audit.q"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.MongoURI == "" || cfg.RabbitURL == "" {
		log.Fatalf("audit consumer needs MONGO_URI and RABBIT_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "seat-booking-audit-consumer")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	sink := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDatabase), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, "seat.#")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", queue, err)
	}

	logger.WithField("queue", queue).Info("audit consumer started")
	audit.NewConsumer(sink, logger).Run(ctx, deliveries)
	logger.Info("Shutdown audit consumer")
}
