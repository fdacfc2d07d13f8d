package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/events"
	"github.com/clinichq/rxdesk/internal/observability/metrics"
	"github.com/clinichq/rxdesk/internal/store"
)

// Publisher publishes one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// RelayConfig holds configuration for the outbox relay.
type RelayConfig struct {
	// BatchSize is the number of entries claimed per poll.
	BatchSize int
	// PollInterval is how often to poll for pending entries.
	PollInterval time.Duration
	// MaxRetries before an entry is moved to the dead-letter topic.
	MaxRetries int
	// RetentionPeriod is how long processed outbox entries and idempotency
	// inbox records are kept before cleanup.
	RetentionPeriod time.Duration
}

// DefaultRelayConfig returns defaults sized for a single clinic.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:       50,
		PollInterval:    500 * time.Millisecond,
		MaxRetries:      5,
		RetentionPeriod: 7 * 24 * time.Hour,
	}
}

// Relay implements the transactional-outbox pattern: domain events are
// written to the outbox table in the same transaction as the state change
// they describe, and this relay claims pending entries and publishes them.
type Relay struct {
	pool      *pgxpool.Pool
	config    RelayConfig
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates an outbox relay. Metrics may be nil.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, cfg RelayConfig, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins the poll loop.
func (r *Relay) Start() {
	go r.processLoop()
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval))
}

// Stop stops the loop and waits for the in-flight batch.
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) processLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.processBatch(r.ctx); err != nil {
				r.logger.Error("outbox batch failed", zap.Error(err))
			}
		case <-cleanup.C:
			if err := r.cleanupProcessed(r.ctx); err != nil {
				r.logger.Error("outbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entries, err := claimBatch(ctx, tx, r.config.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return tx.Commit(ctx)
	}

	for _, entry := range entries {
		if err := r.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
			if markErr := r.markFailed(ctx, tx, entry, err); markErr != nil {
				return markErr
			}
			continue
		}

		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET processed_at = now() WHERE id = $1
		`, entry.ID); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		if r.metrics != nil {
			r.metrics.KafkaMessagesProduced.Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.updatePendingGauge(ctx)
	return nil
}

func claimBatch(ctx context.Context, tx pgx.Tx, limit int) ([]store.OutboxEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, topic, key, payload, retry_count
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var entries []store.OutboxEntry
	for rows.Next() {
		var e store.OutboxEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.RetryCount); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// markFailed bumps the retry count; entries that exhaust retries go to the
// dead-letter topic and are marked processed so they stop blocking the queue.
func (r *Relay) markFailed(ctx context.Context, tx pgx.Tx, entry store.OutboxEntry, cause error) error {
	entry.RetryCount++
	if entry.RetryCount >= r.config.MaxRetries {
		r.logger.Warn("outbox entry moved to dead letter",
			zap.Int64("id", entry.ID),
			zap.String("topic", entry.Topic),
			zap.Error(cause))

		if err := r.publisher.Publish(ctx, events.TopicDeadLetter, entry.Key, entry.Payload); err != nil {
			r.logger.Error("dead letter publish failed", zap.Int64("id", entry.ID), zap.Error(err))
		}
		_, err := tx.Exec(ctx, `
			UPDATE outbox SET processed_at = now(), retry_count = $2, last_error = $3 WHERE id = $1
		`, entry.ID, entry.RetryCount, cause.Error())
		if err != nil {
			return fmt.Errorf("mark dead-lettered: %w", err)
		}
		return nil
	}

	_, err := tx.Exec(ctx, `
		UPDATE outbox SET retry_count = $2, last_error = $3 WHERE id = $1
	`, entry.ID, entry.RetryCount, cause.Error())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *Relay) updatePendingGauge(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	var pending int64
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL
	`).Scan(&pending); err == nil {
		r.metrics.OutboxPending.Set(float64(pending))
	}
}

// cleanupProcessed trims processed outbox entries and stale idempotency
// inbox records past the retention period.
func (r *Relay) cleanupProcessed(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL AND processed_at < now() - make_interval(secs => $1)
	`, r.config.RetentionPeriod.Seconds()); err != nil {
		return fmt.Errorf("cleanup outbox: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM idempotency_inbox WHERE created_at < now() - make_interval(secs => $1)
	`, r.config.RetentionPeriod.Seconds()); err != nil {
		return fmt.Errorf("cleanup inbox: %w", err)
	}
	return nil
}
