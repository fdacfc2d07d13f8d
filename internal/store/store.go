// Package store defines the persistence boundary for the clinic workflow.
// The Tx interface exposes exactly the operations the prescription save
// needs, so the services can run against an in-memory implementation in
// tests and against PostgreSQL in production.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinichq/rxdesk/internal/domain"
)

// StockIntake is a stock add/adjust submission. Amount may be negative for
// corrections; pointer fields are only applied when present.
type StockIntake struct {
	Name              string
	Amount            int
	LowStockThreshold *int
	IsDivisible       *bool
	DispensingUnit    string
	UnitsPerPack      int
}

// OutboxEntry is a domain event awaiting publication. Entries are written in
// the same transaction as the state change they describe and relayed to
// Kafka by a separate process.
type OutboxEntry struct {
	ID          int64
	Topic       string
	Key         string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ProcessedAt *time.Time
	RetryCount  int
	LastError   *string
}

// Tx is one atomic unit of work. Every method observes and mutates state
// that commits or rolls back together.
type Tx interface {
	// UpsertPatient creates or refreshes the patient keyed by phone; the
	// latest submitted name always wins, and age wins only when the
	// submission carries one (nil leaves the stored age untouched).
	UpsertPatient(ctx context.Context, phone, name string, age *int) (domain.Patient, error)

	// StocksByNames fetches candidate stock rows matching any of the given
	// names case-insensitively, in name order.
	StocksByNames(ctx context.Context, names []string) ([]domain.Stock, error)

	// CreatePrescription persists the prescription and its items, assigning
	// ID, Number (max existing + 1) and CreatedAt.
	CreatePrescription(ctx context.Context, p *domain.Prescription) error

	// DecrementStock subtracts quantity from the stock row, clamping at
	// zero, and returns the updated row.
	DecrementStock(ctx context.Context, id domain.ID, quantity int) (domain.Stock, error)

	// StockByName finds one stock row by case-insensitive exact name.
	// Returns domain.ErrNotFound when absent.
	StockByName(ctx context.Context, name string) (domain.Stock, error)

	// CreateStock inserts a new stock row, assigning ID and UpdatedAt.
	CreateStock(ctx context.Context, s *domain.Stock) error

	// ApplyIntake adjusts an existing stock row by the intake amount and
	// refreshes its attributes, returning the updated row.
	ApplyIntake(ctx context.Context, id domain.ID, intake StockIntake) (domain.Stock, error)

	// AppendOutbox queues a domain event for publication with the enclosing
	// transaction.
	AppendOutbox(ctx context.Context, topic, key string, payload []byte) error

	// InboxGet returns the stored result for an idempotency key, if any.
	InboxGet(ctx context.Context, key string) (json.RawMessage, bool, error)

	// InboxPut records the result for an idempotency key.
	InboxPut(ctx context.Context, key string, result json.RawMessage) error
}

// Store is the full persistence surface: a transaction runner plus the
// non-transactional read paths, which may observe state mid-save (acceptable
// for search and listing).
type Store interface {
	// WithinTx runs fn in one atomic transaction; any error rolls back
	// every change made through the Tx.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	// PatientByPhone returns domain.ErrNotFound when no patient matches.
	PatientByPhone(ctx context.Context, phone string) (domain.Patient, error)

	// ListPrescriptions returns the newest prescriptions first, with
	// patient and items (and linked stock) attached.
	ListPrescriptions(ctx context.Context, limit int) ([]domain.Prescription, error)

	// SearchStocks returns all stocks in name order, or those whose name
	// contains q case-insensitively.
	SearchStocks(ctx context.Context, q string) ([]domain.Stock, error)

	// LowStocks returns rows with quantity > 0 and quantity <= threshold.
	LowStocks(ctx context.Context) ([]domain.Stock, error)
}
