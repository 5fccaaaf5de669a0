package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/auction/pkg/config"
)

// Config holds the runtime configuration of the auction engine.
// Every field comes from the environment (or a .env file) with a default.
type Config struct {
	ServiceName string // e.g. "auction-engine"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string
	Port        int // HTTP API, /health and /metrics
	StreamPort  int // websocket bid stream

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	DatabaseURL         string
	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	RedisAddr string
	RedisDB   int
	RedisPass string

	NATSURL            string
	NATSStream         string
	EventSubjectPrefix string // events go to <prefix>.<event_type>.v1

	RabbitMQURL          string // empty disables the command consumer
	RabbitMQCommandQueue string
	RabbitMQExchange     string

	AWSRegion   string
	CacheTTL    time.Duration // TTL for creator profile cache
	CleanupFreq time.Duration

	LedgerBackend        string // "memory" | "redis"
	LedgerInitialBalance string // major units credited to unseen identities
	AmountDecimals       int32

	CreatePolicy     string // "open" | "allowlist" | "secrets"
	CreatorAllowlist []string

	SweepInterval    time.Duration
	SummaryInterval  time.Duration // seller summary refresh, Postgres only
	BidRatePerSecond float64
	BidRateBurst     int

	WebhookURL      string // empty disables webhook delivery
	WebhookRetryMax int

	ListingsSeedPath string
	SeedCreator      string
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	return &Config{
		ServiceName:      pkgconfig.GetEnv("SERVICE_NAME", "auction-engine"),
		Env:              pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:         pkgconfig.GetEnv("LOG_LEVEL", "info"),
		Port:             pkgconfig.GetEnvInt("PORT", 9040),
		StreamPort:       pkgconfig.GetEnvInt("STREAM_PORT", 9041),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    pkgconfig.GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		DatabaseURL:         pkgconfig.GetEnv("DATABASE_URL", ""),
		PGMaxConns:          pkgconfig.GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          pkgconfig.GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: pkgconfig.GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		RedisAddr: pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   pkgconfig.GetEnvInt("REDIS_DB", 0),
		RedisPass: pkgconfig.GetEnv("REDIS_PASS", ""),

		NATSURL:            pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		NATSStream:         pkgconfig.GetEnv("NATS_STREAM", "AUCTION_EVENTS"),
		EventSubjectPrefix: pkgconfig.GetEnv("EVENT_SUBJECT_PREFIX", "evt.auction"),

		RabbitMQURL:          pkgconfig.GetEnv("RABBITMQ_URL", ""),
		RabbitMQCommandQueue: pkgconfig.GetEnv("RABBITMQ_COMMAND_QUEUE", "auction.commands"),
		RabbitMQExchange:     pkgconfig.GetEnv("RABBITMQ_EXCHANGE", "auction.events"),

		AWSRegion:   pkgconfig.GetEnv("AWS_REGION", "us-east-2"),
		CacheTTL:    pkgconfig.GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq: pkgconfig.GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),

		LedgerBackend:        pkgconfig.GetEnv("LEDGER_BACKEND", "memory"),
		LedgerInitialBalance: pkgconfig.GetEnv("LEDGER_INITIAL_BALANCE", "0"),
		AmountDecimals:       int32(pkgconfig.GetEnvInt("AMOUNT_DECIMALS", 6)),

		CreatePolicy:     pkgconfig.GetEnv("CREATE_POLICY", "open"),
		CreatorAllowlist: pkgconfig.GetEnvList("CREATOR_ALLOWLIST", nil),

		SweepInterval:    pkgconfig.GetEnvDuration("SWEEP_INTERVAL", 5*time.Second),
		SummaryInterval:  pkgconfig.GetEnvDuration("SUMMARY_REFRESH_INTERVAL", 1*time.Hour),
		BidRatePerSecond: float64(pkgconfig.GetEnvInt("BID_RATE_PER_SECOND", 5)),
		BidRateBurst:     pkgconfig.GetEnvInt("BID_RATE_BURST", 10),

		WebhookURL:      pkgconfig.GetEnv("WEBHOOK_URL", ""),
		WebhookRetryMax: pkgconfig.GetEnvInt("WEBHOOK_RETRY_MAX", 3),

		ListingsSeedPath: pkgconfig.GetEnv("LISTINGS_SEED_PATH", ""),
		SeedCreator:      pkgconfig.GetEnv("SEED_CREATOR", "seed"),
	}
}
