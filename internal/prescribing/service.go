// Package prescribing implements the prescription save workflow: patient
// upsert, item normalization, inventory matching, clamped stock decrements
// and event emission, all inside one store transaction.
package prescribing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/events"
	"github.com/clinichq/rxdesk/internal/observability/metrics"
	"github.com/clinichq/rxdesk/internal/store"
)

// Service assembles and persists prescriptions.
type Service struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates the service. Metrics may be nil in tests.
func New(st store.Store, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   st,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("prescribing"),
	}
}

// SaveRequest is a prescription form submission.
type SaveRequest struct {
	Phone    string
	Name     string
	Age      *int
	Symptoms string
	Items    []domain.RawItem

	// IdempotencyKey, when set, makes resubmission return the originally
	// saved prescription without touching stock again.
	IdempotencyKey string
}

// Save runs the whole workflow as one atomic unit. The returned bool is true
// when the result was replayed from the idempotency inbox.
func (s *Service) Save(ctx context.Context, req SaveRequest) (domain.Prescription, bool, error) {
	ctx, span := s.tracer.Start(ctx, "prescribing.save")
	defer span.End()
	start := time.Now()

	phone := strings.TrimSpace(req.Phone)
	name := strings.TrimSpace(req.Name)
	if phone == "" || name == "" {
		return domain.Prescription{}, false, fmt.Errorf("%w: name and phone required", domain.ErrInvalidInput)
	}
	if req.Age != nil && *req.Age < 0 {
		zero := 0
		req.Age = &zero
	}

	normalized, err := domain.NormalizeItems(req.Items)
	if err != nil {
		return domain.Prescription{}, false, err
	}

	span.SetAttributes(
		attribute.Int("items", len(normalized)),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	)

	var (
		saved    domain.Prescription
		replayed bool
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		if req.IdempotencyKey != "" {
			stored, ok, err := tx.InboxGet(ctx, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("inbox lookup: %w", err)
			}
			if ok {
				replayed = true
				return json.Unmarshal(stored, &saved)
			}
		}

		patient, err := tx.UpsertPatient(ctx, phone, name, req.Age)
		if err != nil {
			return fmt.Errorf("upsert patient: %w", err)
		}

		stocks, err := tx.StocksByNames(ctx, domain.MedNames(normalized))
		if err != nil {
			return fmt.Errorf("fetch stocks: %w", err)
		}

		resolved := domain.ResolveItems(normalized, stocks)
		items := make([]domain.PrescriptionItem, len(resolved))
		for i, r := range resolved {
			items[i] = domain.BuildItem(r)
		}

		p := domain.Prescription{
			PatientID: patient.ID,
			Symptoms:  strings.TrimSpace(req.Symptoms),
			Items:     items,
		}
		if err := tx.CreatePrescription(ctx, &p); err != nil {
			return fmt.Errorf("create prescription: %w", err)
		}

		decrements := domain.AggregateDecrements(resolved)
		adjustments := make([]events.StockAdjustment, 0, len(decrements))
		updated := make(map[domain.ID]domain.Stock, len(decrements))
		for _, d := range decrements {
			before := domain.Stock{}
			if match := findByID(stocks, d.StockID); match != nil {
				before = *match
			}

			after, err := tx.DecrementStock(ctx, d.StockID, d.Quantity)
			if err != nil {
				return fmt.Errorf("decrement stock %s: %w", d.StockID, err)
			}
			updated[after.ID] = after
			adjustments = append(adjustments, events.StockAdjustment{StockID: d.StockID, Quantity: d.Quantity})

			if s.metrics != nil {
				s.metrics.StockDecrements.Inc()
				if before.Quantity < d.Quantity {
					s.metrics.StockDecrementsClamped.Inc()
				}
			}

			// Alert on the transition into low/exhausted, not on every
			// save that touches an already-depleted row.
			wasDepleted := before.IsLow() || before.Quantity == 0
			if (after.IsLow() || after.Quantity == 0) && !wasDepleted {
				if err := appendStockLow(ctx, tx, after); err != nil {
					return err
				}
			}
		}

		// Attach the state the caller will render: patient, and per item
		// the freshest stock row seen in this transaction.
		p.Patient = &patient
		for i := range p.Items {
			if p.Items[i].StockID == nil {
				continue
			}
			id := *p.Items[i].StockID
			if after, ok := updated[id]; ok {
				cp := after
				p.Items[i].Stock = &cp
			} else if match := findByID(stocks, id); match != nil {
				cp := *match
				p.Items[i].Stock = &cp
			}
		}

		created := events.PrescriptionCreated{
			PrescriptionID: p.ID,
			Number:         p.Number,
			PatientID:      p.PatientID,
			ItemCount:      len(p.Items),
			Decrements:     adjustments,
			CreatedAt:      p.CreatedAt,
		}
		payload, err := json.Marshal(created)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := tx.AppendOutbox(ctx, events.TopicPrescriptionCreated, p.ID.String(), payload); err != nil {
			return fmt.Errorf("append outbox: %w", err)
		}

		if req.IdempotencyKey != "" {
			result, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal inbox result: %w", err)
			}
			if err := tx.InboxPut(ctx, req.IdempotencyKey, result); err != nil {
				return fmt.Errorf("record inbox: %w", err)
			}
		}

		saved = p
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.PrescriptionsFailed.Inc()
		}
		span.RecordError(err)
		return domain.Prescription{}, false, err
	}

	if s.metrics != nil && !replayed {
		s.metrics.PrescriptionsSaved.Inc()
		s.metrics.SaveDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Info("prescription saved",
		zap.String("id", saved.ID.String()),
		zap.Int("number", saved.Number),
		zap.Int("items", len(saved.Items)),
		zap.Bool("replayed", replayed),
	)
	return saved, replayed, nil
}

// List returns the most recent prescriptions; the HTTP layer attaches the
// formatted quantity string per item.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Prescription, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return s.store.ListPrescriptions(ctx, limit)
}

func appendStockLow(ctx context.Context, tx store.Tx, s domain.Stock) error {
	payload, err := json.Marshal(events.StockLow{
		StockID:           s.ID,
		Name:              s.Name,
		Quantity:          s.Quantity,
		LowStockThreshold: s.LowStockThreshold,
		At:                time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal stock.low: %w", err)
	}
	if err := tx.AppendOutbox(ctx, events.TopicStockLow, s.ID.String(), payload); err != nil {
		return fmt.Errorf("append stock.low: %w", err)
	}
	return nil
}

func findByID(stocks []domain.Stock, id domain.ID) *domain.Stock {
	for i := range stocks {
		if stocks[i].ID == id {
			return &stocks[i]
		}
	}
	return nil
}
