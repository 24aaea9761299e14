package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"checkout-service/internal/api"
	"checkout-service/internal/config"
	"checkout-service/internal/consumer"
	"checkout-service/internal/repository"
	"checkout-service/internal/service"
	"checkout-service/migrations"
)

func dsnOf(cfg *config.Config) string {
	if cfg.DBDSN != "" {
		return cfg.DBDSN
	}
	if cfg.DBDriver == "sqlite" {
		return "file:checkout.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC", cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < cfg.DBConnectRetries; i++ {
		db, err = sql.Open(cfg.DBDriver, dsnOf(cfg))
		if err == nil {
			err = db.Ping()
			if err == nil {
				log.Info().Msgf("Connected to %s DB %s", cfg.DBDriver, cfg.DBName)
				if cfg.DBDriver == "sqlite" {
					// one writer at a time, the stock updates rely on it
					db.SetMaxOpenConns(1)
				}
				return db, nil
			}
			db.Close()
		}
		log.Warn().Msgf("Retry %d: Failed to connect to DB %s (%s:%s): %v", i+1, cfg.DBName, cfg.DBHost, cfg.DBPort, err)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB %s after retries: %w", cfg.DBName, err)
}

func main() {
	cfg := config.Load()

	db, err := connectDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := config.NewTracerProvider(ctx, "checkout-service", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Error().Err(err).Msg("Error flushing traces")
		}
	}()

	if err := migrations.AutoMigrate(ctx, db, 3); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate checkout tables")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	kafkaWriter := config.NewKafkaWriter(cfg.KafkaBrokers, cfg.OrderTopic)
	defer kafkaWriter.Close()

	var notifier service.Notifier = service.NewKafkaNotifier(kafkaWriter)
	if cfg.Env == "test" {
		notifier = service.NopNotifier{}
	}

	store := repository.NewStore(db, cfg.TxOptions())
	coupons := service.NewCouponService(store, time.Now)
	shipping := service.NewShippingCalculator(cfg.Shipping)
	carts := service.NewCartService(store, time.Now)
	checkout := service.NewCheckoutService(store, coupons, shipping, notifier, service.WithSurcharge(cfg.Surcharge))
	orders := service.NewOrderService(store, notifier, service.DefaultLedger, time.Now)
	stockCache := service.NewStockCache(store, rdb, cfg.StockCacheTTL)
	idempotency := service.NewIdempotencyGuard(rdb, cfg.IdempotencyTTL, cfg.PendingCheckoutTTL)

	handler := api.NewHandler(carts, checkout, orders, stockCache, idempotency)

	if cfg.Env != "test" {
		orderConsumer := consumer.NewConsumer(config.NewKafkaReader(cfg.KafkaBrokers, cfg.OrderTopic, cfg.OrderConsumerGroup), stockCache)
		go orderConsumer.Start(ctx)
	}

	e := echo.New()

	limiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitRPS),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(context echo.Context) (string, error) {
			return context.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
	}

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("checkout-service")))
	e.Use(middleware.RateLimiterWithConfig(limiterConfig))

	handler.Register(e, api.JWTMiddleware(cfg.JWTSecret))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down HTTP server")
		}
	}()

	if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server stopped")
	}
}
