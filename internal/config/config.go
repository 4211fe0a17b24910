package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; queue definitions live in the file
// named by QueueConfigFile, not in the environment.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	// Database (optional: subscriptions are kept in memory when empty)
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Directory of the golang-migrate SQL files
	MigrationsDir string

	// Queues
	QueueConfigFile string
	SQSEndpoint     string

	// Monitors
	PoolSize               int
	DedupWindow            time.Duration
	DedupCapacity          int
	BackoffBase            time.Duration
	BackoffMax             time.Duration
	MaxConsecutiveFailures int
	ListenerTimeout        time.Duration

	// Listeners
	WebhookTimeout   time.Duration
	WebhookRateLimit int
	AMQPURL          string
	AMQPExchange     string
}

func Load() (*Config, error) {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:    int32(getInt("DB_MIN_CONNS", 1)),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		QueueConfigFile: getEnv("QUEUE_CONFIG_FILE", "queues.yaml"),
		SQSEndpoint:     os.Getenv("SQS_ENDPOINT"),

		PoolSize: getInt("POOL_SIZE", 16),
		// The window must outlive the queue's visibility timeout (30s by
		// default on SQS) for redeliveries to be suppressed.
		DedupWindow:            getDuration("DEDUP_WINDOW", 15*time.Minute),
		DedupCapacity:          getInt("DEDUP_CAPACITY", 10000),
		BackoffBase:            getDuration("BACKOFF_BASE", time.Second),
		BackoffMax:             getDuration("BACKOFF_MAX", 2*time.Minute),
		MaxConsecutiveFailures: getInt("MAX_CONSECUTIVE_FAILURES", 10),
		ListenerTimeout:        getDuration("LISTENER_TIMEOUT", 30*time.Second),

		WebhookTimeout:   getDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookRateLimit: getInt("WEBHOOK_RATE_LIMIT", 5),
		AMQPURL:          os.Getenv("AMQP_URL"),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "builds"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
