package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	BackendCRDB   = "crdb"
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

type Config struct {
	HTTPAddr       string
	LedgerBackend  string
	CatalogBackend string

	CRDBDSN       string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RabbitURL     string
	JWTPublicKey  string
	OTLPEndpoint  string
	LogLevel      string

	HoldTTL              time.Duration
	MaxHoldTTL           time.Duration
	HoldMaxAttempts      int
	AvailabilityCacheTTL time.Duration

	ReaperInterval     time.Duration
	ReaperBatch        int
	OutboxInterval     time.Duration
	RateLimitPerMinute int
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests do not have to touch
// the real environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		HTTPAddr:       p.str("HTTP_ADDR", ":8080"),
		LedgerBackend:  p.str("LEDGER_BACKEND", BackendCRDB),
		CatalogBackend: p.str("CATALOG_BACKEND", BackendMongo),

		CRDBDSN:       getenv("CRDB_DSN"),
		MongoURI:      getenv("MONGO_URI"),
		MongoDatabase: p.str("MONGO_DATABASE", "seats"),
		RedisAddr:     getenv("REDIS_ADDR"),
		RabbitURL:     getenv("RABBIT_URL"),
		JWTPublicKey:  getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:      p.str("LOG_LEVEL", "info"),

		HoldTTL:              p.duration("HOLD_TTL", 5*time.Minute),
		MaxHoldTTL:           p.duration("MAX_HOLD_TTL", 30*time.Minute),
		HoldMaxAttempts:      p.int("HOLD_MAX_ATTEMPTS", 4),
		AvailabilityCacheTTL: p.duration("AVAILABILITY_CACHE_TTL", 0),

		ReaperInterval:     p.duration("REAPER_INTERVAL", time.Minute),
		ReaperBatch:        p.int("REAPER_BATCH", 100),
		OutboxInterval:     p.duration("OUTBOX_INTERVAL", 5*time.Second),
		RateLimitPerMinute: p.int("RATE_LIMIT_PER_MINUTE", 120),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case BackendCRDB:
		if c.CRDBDSN == "" {
			return errors.New("CRDB_DSN is required for the crdb ledger")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis ledger")
		}
	case BackendMemory:
	default:
		return errors.Newf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	switch c.CatalogBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo catalog")
		}
	case BackendMemory:
	default:
		return errors.Newf("unknown CATALOG_BACKEND %q", c.CatalogBackend)
	}

	if c.HoldTTL <= 0 {
		return errors.New("HOLD_TTL must be positive")
	}
	if c.MaxHoldTTL < c.HoldTTL {
		return errors.Newf("MAX_HOLD_TTL %s is shorter than HOLD_TTL %s", c.MaxHoldTTL, c.HoldTTL)
	}
	if c.HoldMaxAttempts < 1 || c.HoldMaxAttempts > 10 {
		return errors.Newf("HOLD_MAX_ATTEMPTS must be within 1..10, got %d", c.HoldMaxAttempts)
	}
	if c.AvailabilityCacheTTL < 0 {
		return errors.New("AVAILABILITY_CACHE_TTL must not be negative")
	}
	if c.ReaperInterval <= 0 || c.OutboxInterval <= 0 {
		return errors.New("REAPER_INTERVAL and OUTBOX_INTERVAL must be positive")
	}
	if c.ReaperBatch < 1 {
		return errors.New("REAPER_BATCH must be at least 1")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := p.getenv(key); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(errors.Wrapf(err, "parse %s", key))
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	v := p.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(errors.Wrapf(err, "parse %s", key))
		return def
	}
	return n
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
