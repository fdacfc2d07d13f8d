// Package main provides the stock alerts service entry point. It consumes
// low-stock events and surfaces them to the clinic staff.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/config"
	"github.com/clinichq/rxdesk/internal/events"
	"github.com/clinichq/rxdesk/internal/kafka"
	"github.com/clinichq/rxdesk/internal/observability/metrics"
)

const serviceName = "stock-alerts"

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

	m := metrics.New()

	handler := func(ctx context.Context, msg *kafka.Message) error {
		var alert events.StockLow
		if err := json.Unmarshal(msg.Value, &alert); err != nil {
			// Malformed payloads are logged and committed; redelivery
			// cannot fix them.
			logger.Error("malformed stock.low payload",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return nil
		}

		m.KafkaMessagesConsumed.Inc()
		logger.Warn("stock low",
			zap.String("stock_id", alert.StockID.String()),
			zap.String("name", alert.Name),
			zap.Int("quantity", alert.Quantity),
			zap.Int("threshold", alert.LowStockThreshold),
			zap.Time("at", alert.At))
		return nil
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: serviceName,
		Topics:  []string{events.TopicStockLow},
	}, handler, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	consumer.Start()

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

	logger.Info("stock alerts running",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", events.TopicStockLow))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
