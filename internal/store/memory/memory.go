// Package memory provides an in-process store.Store implementation. It backs
// the unit tests and gives transactions real all-or-nothing semantics by
// mutating a copy of the state and swapping it in on commit.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/store"
)

type state struct {
	patients      map[domain.ID]domain.Patient
	stocks        map[domain.ID]domain.Stock
	prescriptions map[domain.ID]domain.Prescription
	outbox        []store.OutboxEntry
	inbox         map[string]json.RawMessage
	nextID        int64
	nextOutboxID  int64
}

func (s *state) clone() *state {
	c := &state{
		patients:      make(map[domain.ID]domain.Patient, len(s.patients)),
		stocks:        make(map[domain.ID]domain.Stock, len(s.stocks)),
		prescriptions: make(map[domain.ID]domain.Prescription, len(s.prescriptions)),
		outbox:        make([]store.OutboxEntry, len(s.outbox)),
		inbox:         make(map[string]json.RawMessage, len(s.inbox)),
		nextID:        s.nextID,
		nextOutboxID:  s.nextOutboxID,
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.prescriptions {
		v.Items = append([]domain.PrescriptionItem(nil), v.Items...)
		c.prescriptions[k] = v
	}
	copy(c.outbox, s.outbox)
	for k, v := range s.inbox {
		c.inbox[k] = v
	}
	return c
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu sync.Mutex
	st *state

	// FailDecrement makes DecrementStock fail, simulating a store error
	// mid-transaction in atomicity tests.
	FailDecrement error
}

// New returns an empty store.
func New() *Store {
	return &Store{st: &state{
		patients:      make(map[domain.ID]domain.Patient),
		stocks:        make(map[domain.ID]domain.Stock),
		prescriptions: make(map[domain.ID]domain.Prescription),
		inbox:         make(map[string]json.RawMessage),
		nextID:        1,
		nextOutboxID:  1,
	}}
}

// SeedStock inserts a stock row directly, for test setup.
func (m *Store) SeedStock(s domain.Stock) domain.Stock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = domain.ID(m.st.nextID)
		m.st.nextID++
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	m.st.stocks[s.ID] = s
	return s
}

// StockByID returns a stock row for test assertions.
func (m *Store) StockByID(id domain.ID) (domain.Stock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.stocks[id]
	return s, ok
}

// PatientCount reports how many patients exist, for atomicity assertions.
func (m *Store) PatientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.patients)
}

// PrescriptionCount reports how many prescriptions exist.
func (m *Store) PrescriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.prescriptions)
}

// Outbox returns a copy of the queued outbox entries.
func (m *Store) Outbox() []store.OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.OutboxEntry(nil), m.st.outbox...)
}

// WithinTx runs fn against a cloned state and commits it on success.
func (m *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	tx := &memTx{st: work, failDecrement: m.FailDecrement}
	if err := fn(tx); err != nil {
		return err
	}
	m.st = work
	return nil
}

// PatientByPhone implements store.Store.
func (m *Store) PatientByPhone(ctx context.Context, phone string) (domain.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.st.patients {
		if p.Phone == phone {
			return p, nil
		}
	}
	return domain.Patient{}, domain.ErrNotFound
}

// ListPrescriptions implements store.Store.
func (m *Store) ListPrescriptions(ctx context.Context, limit int) ([]domain.Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]domain.Prescription, 0, len(m.st.prescriptions))
	for _, p := range m.st.prescriptions {
		p.Items = append([]domain.PrescriptionItem(nil), p.Items...)
		if patient, ok := m.st.patients[p.PatientID]; ok {
			cp := patient
			p.Patient = &cp
		}
		for i := range p.Items {
			if p.Items[i].StockID != nil {
				if s, ok := m.st.stocks[*p.Items[i].StockID]; ok {
					cs := s
					p.Items[i].Stock = &cs
				}
			}
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// SearchStocks implements store.Store.
func (m *Store) SearchStocks(ctx context.Context, q string) ([]domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q))
	list := make([]domain.Stock, 0, len(m.st.stocks))
	for _, s := range m.st.stocks {
		if needle == "" || strings.Contains(strings.ToLower(s.Name), needle) {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// LowStocks implements store.Store.
func (m *Store) LowStocks(ctx context.Context) ([]domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]domain.Stock, 0)
	for _, s := range m.st.stocks {
		if s.IsLow() {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

type memTx struct {
	st            *state
	failDecrement error
}

func (t *memTx) UpsertPatient(ctx context.Context, phone, name string, age *int) (domain.Patient, error) {
	now := time.Now().UTC()
	for id, p := range t.st.patients {
		if p.Phone == phone {
			p.Name = name
			if age != nil {
				p.Age = age
			}
			p.UpdatedAt = now
			t.st.patients[id] = p
			return p, nil
		}
	}

	p := domain.Patient{
		ID:        domain.ID(t.st.nextID),
		Phone:     phone,
		Name:      name,
		Age:       age,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.st.nextID++
	t.st.patients[p.ID] = p
	return p, nil
}

func (t *memTx) StocksByNames(ctx context.Context, names []string) ([]domain.Stock, error) {
	keys := make(map[string]struct{}, len(names))
	for _, n := range names {
		keys[domain.NameKey(n)] = struct{}{}
	}

	list := make([]domain.Stock, 0, len(keys))
	for _, s := range t.st.stocks {
		if _, ok := keys[domain.NameKey(s.Name)]; ok {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (t *memTx) CreatePrescription(ctx context.Context, p *domain.Prescription) error {
	maxNumber := 0
	for _, existing := range t.st.prescriptions {
		if existing.Number > maxNumber {
			maxNumber = existing.Number
		}
	}

	p.ID = domain.ID(t.st.nextID)
	t.st.nextID++
	p.Number = maxNumber + 1
	p.CreatedAt = time.Now().UTC()
	for i := range p.Items {
		p.Items[i].ID = domain.ID(t.st.nextID)
		t.st.nextID++
	}

	stored := *p
	stored.Items = append([]domain.PrescriptionItem(nil), p.Items...)
	stored.Patient = nil
	t.st.prescriptions[p.ID] = stored
	return nil
}

func (t *memTx) DecrementStock(ctx context.Context, id domain.ID, quantity int) (domain.Stock, error) {
	if t.failDecrement != nil {
		return domain.Stock{}, t.failDecrement
	}

	s, ok := t.st.stocks[id]
	if !ok {
		return domain.Stock{}, domain.ErrNotFound
	}
	if s.Quantity >= quantity {
		s.Quantity -= quantity
	} else {
		s.Quantity = 0
	}
	s.UpdatedAt = time.Now().UTC()
	t.st.stocks[id] = s
	return s, nil
}

func (t *memTx) StockByName(ctx context.Context, name string) (domain.Stock, error) {
	key := domain.NameKey(name)
	var (
		found domain.Stock
		ok    bool
	)
	for _, s := range t.st.stocks {
		if domain.NameKey(s.Name) == key {
			if !ok || s.Name < found.Name {
				found, ok = s, true
			}
		}
	}
	if !ok {
		return domain.Stock{}, domain.ErrNotFound
	}
	return found, nil
}

func (t *memTx) CreateStock(ctx context.Context, s *domain.Stock) error {
	s.ID = domain.ID(t.st.nextID)
	t.st.nextID++
	s.UpdatedAt = time.Now().UTC()
	t.st.stocks[s.ID] = *s
	return nil
}

func (t *memTx) ApplyIntake(ctx context.Context, id domain.ID, intake store.StockIntake) (domain.Stock, error) {
	s, ok := t.st.stocks[id]
	if !ok {
		return domain.Stock{}, domain.ErrNotFound
	}

	s.Quantity += intake.Amount
	if intake.LowStockThreshold != nil {
		s.LowStockThreshold = *intake.LowStockThreshold
	}
	if intake.IsDivisible != nil {
		s.IsDivisible = *intake.IsDivisible
	}
	if intake.DispensingUnit != "" {
		s.DispensingUnit = intake.DispensingUnit
	}
	if intake.UnitsPerPack >= 1 {
		s.UnitsPerPack = intake.UnitsPerPack
	}
	s.UpdatedAt = time.Now().UTC()
	t.st.stocks[id] = s
	return s, nil
}

func (t *memTx) AppendOutbox(ctx context.Context, topic, key string, payload []byte) error {
	entry := store.OutboxEntry{
		ID:        t.st.nextOutboxID,
		Topic:     topic,
		Key:       key,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: time.Now().UTC(),
	}
	t.st.nextOutboxID++
	t.st.outbox = append(t.st.outbox, entry)
	return nil
}

func (t *memTx) InboxGet(ctx context.Context, key string) (json.RawMessage, bool, error) {
	result, ok := t.st.inbox[key]
	return result, ok, nil
}

func (t *memTx) InboxPut(ctx context.Context, key string, result json.RawMessage) error {
	t.st.inbox[key] = append(json.RawMessage(nil), result...)
	return nil
}
