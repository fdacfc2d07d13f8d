// Package main provides the outbox relay service entry point. It drains the
// outbox table and publishes domain events to Kafka.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/config"
	"github.com/clinichq/rxdesk/internal/kafka"
	"github.com/clinichq/rxdesk/internal/observability/metrics"
	"github.com/clinichq/rxdesk/internal/store/postgres"
	"github.com/clinichq/rxdesk/pkg/circuitbreaker"
)

const serviceName = "outbox-relay"

// guardedPublisher runs every publish through the broker circuit breaker so a
// dead broker fails fast instead of stalling each batch.
type guardedPublisher struct {
	producer *kafka.Producer
	breaker  *circuitbreaker.CircuitBreaker
}

func (g *guardedPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return g.breaker.Execute(func() error {
		return g.producer.Publish(ctx, topic, key, value)
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", serviceName))

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}

	if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, logger); err != nil {
		logger.Fatal("ensure topics failed", zap.Error(err))
	}

	producerCfg := kafka.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := kafka.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	m := metrics.New()

	breaker := circuitbreaker.New(
		circuitbreaker.DefaultConfig("kafka"),
		logger,
		func(name string, state circuitbreaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(stateValue(state))
		},
	)

	relay := postgres.NewRelay(pool, &guardedPublisher{producer: producer, breaker: breaker},
		postgres.DefaultRelayConfig(), m, logger)
	relay.Start()

	// Metrics and health endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("outbox relay running", zap.Strings("brokers", cfg.KafkaBrokers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	relay.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func stateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
