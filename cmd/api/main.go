package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-booking/internal/adapters/crdb"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/seat-booking/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
	"github.com/robertarktes/seat-booking/internal/availability"
	"github.com/robertarktes/seat-booking/internal/booking"
	"github.com/robertarktes/seat-booking/internal/chart"
	"github.com/robertarktes/seat-booking/internal/config"
	httphandler "github.com/robertarktes/seat-booking/internal/http"
	"github.com/robertarktes/seat-booking/internal/idempotency"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/rateLimit"
	"github.com/robertarktes/seat-booking/internal/reaper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/errgroup"
)

type catalogStore interface {
	chart.Store
	chart.EventDirectory
	chart.Registry
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "seat-booking-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)
	checks := map[string]httphandler.Check{}

	var catalog catalogStore
	switch cfg.CatalogBackend {
	case config.BackendMongo:
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		repo := mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDatabase), logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Fatalf("failed to create mongo indexes: %v", err)
		}
		catalog = repo
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) }
	default:
		logger.Warn("using in-memory chart catalog, charts are lost on restart")
		catalog = memory.NewCatalog()
	}

	var redisClient *redisclient.Client
	if cfg.RedisAddr != "" {
		redisClient = redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var backend ledger.Backend
	switch cfg.LedgerBackend {
	case config.BackendCRDB:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		backend = repo
		checks["crdb"] = repo.Ping
	case config.BackendRedis:
		backend = redisadapter.NewLedger(redisClient)
	default:
		logger.Warn("using in-memory seat ledger, state is lost on restart")
		backend = memory.NewLedger()
	}

	charts := chart.NewCatalog(catalog, catalog)
	seats := ledger.New(backend, charts, logger)
	coordinator := booking.NewCoordinator(seats, logger,
		booking.WithMaxAttempts(cfg.HoldMaxAttempts),
		booking.WithDefaultTTL(cfg.HoldTTL),
		booking.WithMaxTTL(cfg.MaxHoldTTL),
	)

	var availOpts []availability.Option
	guards := httphandler.Guards{RatePerMinute: cfg.RateLimitPerMinute}
	if redisClient != nil {
		cache := redisadapter.NewCache(redisClient)
		if cfg.AvailabilityCacheTTL > 0 {
			availOpts = append(availOpts, availability.WithCache(cache, cfg.AvailabilityCacheTTL))
		}
		guards.Limiter = rateLimit.NewRateLimiter(cache)
		guards.Idempotency = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), idempotency.DefaultTTL)
	}
	if cfg.JWTPublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKey))
		if err != nil {
			log.Fatalf("failed to parse JWT_PUBLIC_KEY: %v", err)
		}
		guards.JWTKey = key
	}
	avail := availability.NewService(seats, logger, availOpts...)

	handlers := httphandler.NewHandlers(coordinator, avail, chart.NewManager(charts, catalog), logger, checks)
	r := httphandler.SetupRouter(handlers, logger, guards)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if cfg.LedgerBackend == config.BackendMemory {
		// no other process can see this ledger, so expired holds are reaped here
		g.Go(func() error {
			reaper.New(seats, logger, cfg.ReaperBatch).Run(gctx, cfg.ReaperInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
