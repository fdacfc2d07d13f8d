// Package inventory implements stock intake, search, and the low-stock view.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/events"
	"github.com/clinichq/rxdesk/internal/observability/metrics"
	"github.com/clinichq/rxdesk/internal/store"
)

// Service manages the medicine inventory.
type Service struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates the service. Metrics may be nil in tests.
func New(st store.Store, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, metrics: m, logger: logger}
}

// Intake adds (or corrects, with a negative amount) stock for a medicine,
// creating the row on first intake. The lookup is case-insensitive, so
// "paracetamol" restocks an existing "Paracetamol" row instead of forking a
// duplicate. Emits a stock.low event when the result lands at or below the
// threshold.
func (s *Service) Intake(ctx context.Context, in store.StockIntake) (domain.Stock, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Amount == 0 {
		return domain.Stock{}, fmt.Errorf("%w: name and non-zero amount required", domain.ErrInvalidInput)
	}
	if in.DispensingUnit != "" {
		in.DispensingUnit = strings.ToUpper(strings.TrimSpace(in.DispensingUnit))
	}

	var result domain.Stock
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		wasDepleted := false
		existing, err := tx.StockByName(ctx, in.Name)
		switch {
		case err == nil:
			wasDepleted = existing.IsLow() || existing.Quantity == 0
			result, err = tx.ApplyIntake(ctx, existing.ID, in)
			if err != nil {
				return fmt.Errorf("apply intake: %w", err)
			}
		case errors.Is(err, domain.ErrNotFound):
			result = newStock(in)
			if err := tx.CreateStock(ctx, &result); err != nil {
				return fmt.Errorf("create stock: %w", err)
			}
		default:
			return fmt.Errorf("find stock: %w", err)
		}

		// Alert only when this intake moves the row into low/exhausted;
		// adjustments to an already-depleted row stay quiet.
		if (result.IsLow() || result.Quantity == 0) && !wasDepleted {
			payload, err := json.Marshal(events.StockLow{
				StockID:           result.ID,
				Name:              result.Name,
				Quantity:          result.Quantity,
				LowStockThreshold: result.LowStockThreshold,
				At:                time.Now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("marshal stock.low: %w", err)
			}
			if err := tx.AppendOutbox(ctx, events.TopicStockLow, result.ID.String(), payload); err != nil {
				return fmt.Errorf("append stock.low: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Stock{}, err
	}

	if s.metrics != nil {
		s.metrics.StockIntakes.Inc()
	}
	s.logger.Info("stock intake applied",
		zap.String("id", result.ID.String()),
		zap.String("name", result.Name),
		zap.Int("amount", in.Amount),
		zap.Int("quantity", result.Quantity),
	)
	return result, nil
}

// Search lists stocks, optionally filtered by a case-insensitive substring.
// This is the autocomplete path; it reads outside any transaction and may be
// stale relative to an in-flight save.
func (s *Service) Search(ctx context.Context, q string) ([]domain.Stock, error) {
	return s.store.SearchStocks(ctx, q)
}

// Low lists stocks running low, and refreshes the low-stock gauge.
func (s *Service) Low(ctx context.Context) ([]domain.Stock, error) {
	low, err := s.store.LowStocks(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.StocksLow.Set(float64(len(low)))
	}
	return low, nil
}

func newStock(in store.StockIntake) domain.Stock {
	s := domain.Stock{
		Name:           in.Name,
		Quantity:       in.Amount,
		IsDivisible:    true,
		DispensingUnit: "TABLET",
		UnitsPerPack:   1,
	}
	if s.Quantity < 0 {
		s.Quantity = 0
	}
	if in.LowStockThreshold != nil {
		s.LowStockThreshold = *in.LowStockThreshold
	}
	if in.IsDivisible != nil {
		s.IsDivisible = *in.IsDivisible
	}
	if in.DispensingUnit != "" {
		s.DispensingUnit = in.DispensingUnit
	}
	if in.UnitsPerPack >= 1 {
		s.UnitsPerPack = in.UnitsPerPack
	}
	return s
}
