// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/ateliergems/cartcore/internal/domain"
)

type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// Config holds everything the server needs. Empty PostgresHost, RedisAddr
// or KafkaBrokers disable the corresponding backend.
type Config struct {
	HTTPPort string

	Postgres      Postgres
	MigrationsDir string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string

	Pricing           domain.Pricing
	MaxItems          int
	HistoryDepth      int
	LowStockThreshold int32

	GuestTTL       time.Duration
	AbandonedAfter time.Duration
	SweepInterval  time.Duration

	SaveDebounce time.Duration
	SaveRetries  int
	RetryBackoff time.Duration
}

// Load reads the environment. A missing .env file is not an error.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Postgres: Postgres{
			Host:     getEnv("POSTGRES_HOST", ""),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   getEnv("POSTGRES_DB", "cartcore"),
		},
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		Pricing: domain.Pricing{
			TaxRate:        getEnvDecimal("TAX_RATE", "0.0875"),
			FlatShipping:   getEnvDecimal("FLAT_SHIPPING", "12.00"),
			FreeShippingAt: getEnvDecimal("FREE_SHIPPING_AT", "150.00"),
			Discount:       decimal.Zero,
		},
		MaxItems:          getEnvInt("CART_MAX_ITEMS", 50),
		HistoryDepth:      getEnvInt("CART_HISTORY_DEPTH", 50),
		LowStockThreshold: int32(getEnvInt("LOW_STOCK_THRESHOLD", 5)),

		GuestTTL:       getEnvDuration("GUEST_CART_TTL", 7*24*time.Hour),
		AbandonedAfter: getEnvDuration("ABANDONED_AFTER", 30*24*time.Hour),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Hour),

		SaveDebounce: getEnvDuration("SAVE_DEBOUNCE", 500*time.Millisecond),
		SaveRetries:  getEnvInt("SAVE_RETRIES", 3),
		RetryBackoff: getEnvDuration("SAVE_RETRY_BACKOFF", 100*time.Millisecond),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

// UsePostgres reports whether a Postgres host was configured. Without one
// the server falls back to the in-memory backends.
func (c Config) UsePostgres() bool { return c.Postgres.Host != "" }

func (c Config) UseRedis() bool { return c.RedisAddr != "" }

func (c Config) UseKafka() bool { return len(c.KafkaBrokers) > 0 }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
