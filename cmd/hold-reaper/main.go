package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seat-booking/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
	"github.com/robertarktes/seat-booking/internal/chart"
	"github.com/robertarktes/seat-booking/internal/config"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/reaper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.LedgerBackend == config.BackendMemory || cfg.CatalogBackend == config.BackendMemory {
		log.Fatalf("hold reaper needs shared stores, got ledger %q and catalog %q", cfg.LedgerBackend, cfg.CatalogBackend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "seat-booking-hold-reaper")
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
	catalog := mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDatabase), logger)

	var backend ledger.Backend
	switch cfg.LedgerBackend {
	case config.BackendCRDB:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		backend = crdb.NewRepository(pool)
	case config.BackendRedis:
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		backend = redisadapter.NewLedger(redisClient)
	}

	seats := ledger.New(backend, chart.NewCatalog(catalog, catalog), logger)
	r := reaper.New(seats, logger, cfg.ReaperBatch)

	logger.WithField("interval", cfg.ReaperInterval.String()).Info("hold reaper started")
	r.Run(ctx, cfg.ReaperInterval)
	logger.Info("Shutdown hold reaper")
}
