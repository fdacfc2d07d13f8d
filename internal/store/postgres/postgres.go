// Package postgres implements the store interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/store"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL-backed store.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a store over the given pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping verifies connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// PatientByPhone implements store.Store.
func (s *Store) PatientByPhone(ctx context.Context, phone string) (domain.Patient, error) {
	var p domain.Patient
	err := s.pool.QueryRow(ctx, `
		SELECT id, phone, name, age, created_at, updated_at
		FROM patients WHERE phone = $1
	`, phone).Scan(&p.ID, &p.Phone, &p.Name, &p.Age, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Patient{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Patient{}, fmt.Errorf("query patient: %w", err)
	}
	return p, nil
}

// ListPrescriptions implements store.Store.
func (s *Store) ListPrescriptions(ctx context.Context, limit int) ([]domain.Prescription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.number, r.patient_id, COALESCE(r.symptoms, ''), r.created_at,
		       p.id, p.phone, p.name, p.age, p.created_at, p.updated_at
		FROM prescriptions r
		JOIN patients p ON p.id = r.patient_id
		ORDER BY r.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	var (
		list  []domain.Prescription
		index = make(map[domain.ID]int)
		ids   []int64
	)
	for rows.Next() {
		var (
			p  domain.Prescription
			pt domain.Patient
		)
		err := rows.Scan(
			&p.ID, &p.Number, &p.PatientID, &p.Symptoms, &p.CreatedAt,
			&pt.ID, &pt.Phone, &pt.Name, &pt.Age, &pt.CreatedAt, &pt.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		p.Patient = &pt
		p.Items = []domain.PrescriptionItem{}
		index[p.ID] = len(list)
		ids = append(ids, int64(p.ID))
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return list, nil
	}

	itemRows, err := s.pool.Query(ctx, `
		SELECT i.prescription_id, i.id, i.med_name, COALESCE(i.dosage, ''),
		       i.quantity, COALESCE(i.prescribed_as, ''), i.units_per_pack, i.stock_id,
		       s.id, s.name, s.quantity, s.low_stock_threshold,
		       s.is_divisible, s.dispensing_unit, s.units_per_pack, s.updated_at
		FROM prescription_items i
		LEFT JOIN stocks s ON s.id = i.stock_id
		WHERE i.prescription_id = ANY($1)
		ORDER BY i.prescription_id, i.id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			rxID    domain.ID
			item    domain.PrescriptionItem
			stockID *domain.ID
			st      struct {
				ID        *domain.ID
				Name      *string
				Quantity  *int
				Threshold *int
				Divisible *bool
				Unit      *string
				PerPack   *int
				UpdatedAt *time.Time
			}
		)
		err := itemRows.Scan(
			&rxID, &item.ID, &item.MedName, &item.Dosage,
			&item.Quantity, &item.PrescribedAs, &item.UnitsPerPack, &stockID,
			&st.ID, &st.Name, &st.Quantity, &st.Threshold,
			&st.Divisible, &st.Unit, &st.PerPack, &st.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.StockID = stockID
		if st.ID != nil {
			item.Stock = &domain.Stock{
				ID:                *st.ID,
				Name:              *st.Name,
				Quantity:          *st.Quantity,
				LowStockThreshold: *st.Threshold,
				IsDivisible:       *st.Divisible,
				DispensingUnit:    *st.Unit,
				UnitsPerPack:      *st.PerPack,
				UpdatedAt:         *st.UpdatedAt,
			}
		}
		if i, ok := index[rxID]; ok {
			list[i].Items = append(list[i].Items, item)
		}
	}
	return list, itemRows.Err()
}

// SearchStocks implements store.Store.
func (s *Store) SearchStocks(ctx context.Context, q string) ([]domain.Stock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, quantity, low_stock_threshold, is_divisible,
		       dispensing_unit, units_per_pack, updated_at
		FROM stocks
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
		ORDER BY name
	`, q)
	if err != nil {
		return nil, fmt.Errorf("query stocks: %w", err)
	}
	defer rows.Close()
	return scanStocks(rows)
}

// LowStocks implements store.Store.
func (s *Store) LowStocks(ctx context.Context) ([]domain.Stock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, quantity, low_stock_threshold, is_divisible,
		       dispensing_unit, units_per_pack, updated_at
		FROM stocks
		WHERE quantity > 0 AND quantity <= low_stock_threshold
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query low stocks: %w", err)
	}
	defer rows.Close()
	return scanStocks(rows)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertPatient(ctx context.Context, phone, name string, age *int) (domain.Patient, error) {
	var p domain.Patient
	err := t.tx.QueryRow(ctx, `
		INSERT INTO patients (phone, name, age)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE
		SET name = EXCLUDED.name,
		    age = COALESCE(EXCLUDED.age, patients.age),
		    updated_at = now()
		RETURNING id, phone, name, age, created_at, updated_at
	`, phone, name, age).Scan(&p.ID, &p.Phone, &p.Name, &p.Age, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Patient{}, fmt.Errorf("upsert patient: %w", err)
	}
	return p, nil
}

func (t *pgTx) StocksByNames(ctx context.Context, names []string) ([]domain.Stock, error) {
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = domain.NameKey(n)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, name, quantity, low_stock_threshold, is_divisible,
		       dispensing_unit, units_per_pack, updated_at
		FROM stocks
		WHERE lower(name) = ANY($1)
		ORDER BY name
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("query stocks by name: %w", err)
	}
	defer rows.Close()
	return scanStocks(rows)
}

func (t *pgTx) CreatePrescription(ctx context.Context, p *domain.Prescription) error {
	// Number is assigned here, inside the transaction. The unique constraint
	// turns a concurrent-save collision into a transaction failure instead
	// of a duplicate display number.
	err := t.tx.QueryRow(ctx, `
		INSERT INTO prescriptions (number, patient_id, symptoms)
		VALUES ((SELECT COALESCE(MAX(number), 0) + 1 FROM prescriptions), $1, NULLIF($2, ''))
		RETURNING id, number, created_at
	`, p.PatientID, p.Symptoms).Scan(&p.ID, &p.Number, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for i := range p.Items {
		item := &p.Items[i]
		err := t.tx.QueryRow(ctx, `
			INSERT INTO prescription_items
			(prescription_id, med_name, dosage, quantity, prescribed_as, units_per_pack, stock_id)
			VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)
			RETURNING id
		`, p.ID, item.MedName, item.Dosage, item.Quantity,
			string(item.PrescribedAs), item.UnitsPerPack, item.StockID,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return nil
}

func (t *pgTx) DecrementStock(ctx context.Context, id domain.ID, quantity int) (domain.Stock, error) {
	var s domain.Stock
	err := t.tx.QueryRow(ctx, `
		UPDATE stocks
		SET quantity = GREATEST(quantity - $2, 0), updated_at = now()
		WHERE id = $1
		RETURNING id, name, quantity, low_stock_threshold, is_divisible,
		          dispensing_unit, units_per_pack, updated_at
	`, id, quantity).Scan(
		&s.ID, &s.Name, &s.Quantity, &s.LowStockThreshold,
		&s.IsDivisible, &s.DispensingUnit, &s.UnitsPerPack, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stock{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Stock{}, fmt.Errorf("decrement stock: %w", err)
	}
	return s, nil
}

func (t *pgTx) StockByName(ctx context.Context, name string) (domain.Stock, error) {
	var s domain.Stock
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, quantity, low_stock_threshold, is_divisible,
		       dispensing_unit, units_per_pack, updated_at
		FROM stocks
		WHERE lower(name) = $1
		ORDER BY name
		LIMIT 1
	`, domain.NameKey(name)).Scan(
		&s.ID, &s.Name, &s.Quantity, &s.LowStockThreshold,
		&s.IsDivisible, &s.DispensingUnit, &s.UnitsPerPack, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stock{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Stock{}, fmt.Errorf("query stock by name: %w", err)
	}
	return s, nil
}

func (t *pgTx) CreateStock(ctx context.Context, s *domain.Stock) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stocks (name, quantity, low_stock_threshold, is_divisible, dispensing_unit, units_per_pack)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, updated_at
	`, s.Name, s.Quantity, s.LowStockThreshold, s.IsDivisible, s.DispensingUnit, s.UnitsPerPack,
	).Scan(&s.ID, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert stock: %w", err)
	}
	return nil
}

func (t *pgTx) ApplyIntake(ctx context.Context, id domain.ID, intake store.StockIntake) (domain.Stock, error) {
	var s domain.Stock
	err := t.tx.QueryRow(ctx, `
		UPDATE stocks
		SET quantity = quantity + $2,
		    low_stock_threshold = COALESCE($3, low_stock_threshold),
		    is_divisible = COALESCE($4, is_divisible),
		    dispensing_unit = COALESCE(NULLIF($5, ''), dispensing_unit),
		    units_per_pack = CASE WHEN $6 >= 1 THEN $6 ELSE units_per_pack END,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, quantity, low_stock_threshold, is_divisible,
		          dispensing_unit, units_per_pack, updated_at
	`, id, intake.Amount, intake.LowStockThreshold, intake.IsDivisible,
		intake.DispensingUnit, intake.UnitsPerPack,
	).Scan(
		&s.ID, &s.Name, &s.Quantity, &s.LowStockThreshold,
		&s.IsDivisible, &s.DispensingUnit, &s.UnitsPerPack, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stock{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Stock{}, fmt.Errorf("apply intake: %w", err)
	}
	return s, nil
}

func (t *pgTx) AppendOutbox(ctx context.Context, topic, key string, payload []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (topic, key, payload) VALUES ($1, $2, $3)
	`, topic, key, payload)
	if err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}

func (t *pgTx) InboxGet(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var result json.RawMessage
	err := t.tx.QueryRow(ctx, `
		SELECT result FROM idempotency_inbox WHERE key = $1
	`, key).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("inbox get: %w", err)
	}
	return result, true, nil
}

func (t *pgTx) InboxPut(ctx context.Context, key string, result json.RawMessage) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_inbox (key, result) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, result)
	if err != nil {
		return fmt.Errorf("inbox put: %w", err)
	}
	return nil
}

func scanStocks(rows pgx.Rows) ([]domain.Stock, error) {
	var list []domain.Stock
	for rows.Next() {
		var s domain.Stock
		err := rows.Scan(
			&s.ID, &s.Name, &s.Quantity, &s.LowStockThreshold,
			&s.IsDivisible, &s.DispensingUnit, &s.UnitsPerPack, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
