package config

import (
	"database/sql"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"checkout-service/internal/entity"
)

// ShippingConfig holds the fee table. Money values are in cents.
type ShippingConfig struct {
	BaseFee               entity.Money
	WeightThresholdGrams  int
	FeePerKg              entity.Money
	FreeShippingThreshold entity.Money
}

type Config struct {
	Env      string
	HTTPAddr string

	DBDriver         string
	DBHost           string
	DBPort           string
	DBUser           string
	DBPass           string
	DBName           string
	DBDSN            string
	DBConnectRetries int

	RedisAddr string

	KafkaBrokers       []string
	OrderTopic         string
	OrderConsumerGroup string

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	Shipping       ShippingConfig
	Surcharge      entity.Money
	StockCacheTTL  time.Duration
	IdempotencyTTL time.Duration
	// PendingCheckoutTTL bounds how long an Idempotency-Key stays claimed by a
	// checkout that never reported back.
	PendingCheckoutTTL time.Duration

	// TracesExporter is otlp, stdout or none.
	TracesExporter string
	OTLPEndpoint   string
}

// Load reads the process environment, after an optional .env file.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Error loading .env file")
	}

	defaultExporter := "none"
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		defaultExporter = "otlp"
	}

	return &Config{
		Env:      getEnv("ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8082"),

		DBDriver:         getEnv("DB_DRIVER", "mysql"),
		DBHost:           getEnv("DB_HOST", "127.0.0.1"),
		DBPort:           getEnv("DB_PORT", "3306"),
		DBUser:           getEnv("DB_USER", "root"),
		DBPass:           os.Getenv("DB_PASS"),
		DBName:           getEnv("DB_NAME", "checkout-db"),
		DBDSN:            os.Getenv("DB_DSN"),
		DBConnectRetries: getInt("DB_CONNECT_RETRIES", 10),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		KafkaBrokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092,localhost:9093,localhost:9094"), ","),
		OrderTopic:         getEnv("ORDER_TOPIC", "order-topic"),
		OrderConsumerGroup: getEnv("ORDER_CONSUMER_GROUP", "checkout-service-group"),

		JWTSecret:      getEnv("JWT_SECRET", "secret"),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 30),

		Shipping: ShippingConfig{
			BaseFee:               entity.Money(getInt64("SHIPPING_BASE_FEE", 1500)),
			WeightThresholdGrams:  getInt("SHIPPING_WEIGHT_THRESHOLD_GRAMS", 1000),
			FeePerKg:              entity.Money(getInt64("SHIPPING_FEE_PER_KG", 500)),
			FreeShippingThreshold: entity.Money(getInt64("FREE_SHIPPING_THRESHOLD", 20000)),
		},
		Surcharge:      entity.Money(getInt64("CHECKOUT_SURCHARGE", 0)),
		StockCacheTTL:  getDuration("STOCK_CACHE_TTL", time.Minute),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		PendingCheckoutTTL: getDuration("PENDING_CHECKOUT_TTL", 2*time.Minute),

		TracesExporter: getEnv("OTEL_TRACES_EXPORTER", defaultExporter),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// TxOptions returns the isolation checkout transactions run with. MySQL gets
// READ COMMITTED so the conditional stock updates re-read the latest row;
// SQLite only knows serializable and takes the driver default.
func (c *Config) TxOptions() *sql.TxOptions {
	if c.DBDriver == "mysql" {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
