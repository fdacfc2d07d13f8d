package prescribing

import (
	"context"
	"errors"
	"testing"

	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/events"
	"github.com/clinichq/rxdesk/internal/store/memory"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return New(st, nil, nil), st
}

func seedParacetamol(st *memory.Store) domain.Stock {
	return st.SeedStock(domain.Stock{
		Name:              "Paracetamol",
		Quantity:          5,
		LowStockThreshold: 2,
		IsDivisible:       true,
		DispensingUnit:    "TABLET",
		UnitsPerPack:      10,
	})
}

func TestSaveLinksMatchedStockAndDefaults(t *testing.T) {
	svc, st := newService(t)
	stock := seedParacetamol(st)

	p, replayed, err := svc.Save(context.Background(), SaveRequest{
		Phone:    "555",
		Name:     "Jo",
		Symptoms: "cough",
		Items:    []domain.RawItem{{MedName: "Paracetamol", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if replayed {
		t.Fatal("fresh save should not be a replay")
	}

	if len(p.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(p.Items))
	}
	item := p.Items[0]
	if item.StockID == nil || *item.StockID != stock.ID {
		t.Errorf("stockId = %v, want %v", item.StockID, stock.ID)
	}
	if item.PrescribedAs != domain.PrescribedUnits {
		t.Errorf("prescribedAs = %q, want UNITS for divisible stock", item.PrescribedAs)
	}
	if item.UnitsPerPack != 10 {
		t.Errorf("unitsPerPack = %d, want snapshot 10", item.UnitsPerPack)
	}
	if p.Number != 1 {
		t.Errorf("number = %d, want 1", p.Number)
	}
	if p.Patient == nil || p.Patient.Phone != "555" {
		t.Errorf("patient not attached: %+v", p.Patient)
	}

	after, _ := st.StockByID(stock.ID)
	if after.Quantity != 3 {
		t.Errorf("stock quantity = %d, want 3 after decrementing 2", after.Quantity)
	}
}

func TestSaveUnmatchedMedicineStillSucceeds(t *testing.T) {
	svc, _ := newService(t)

	p, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555",
		Name:  "Jo",
		Items: []domain.RawItem{{MedName: "Mystery Tonic", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p.Items[0].StockID != nil {
		t.Errorf("expected nil stockId for unmatched medicine, got %v", *p.Items[0].StockID)
	}
}

func TestSaveDropsEmptyNamesKeepsRest(t *testing.T) {
	svc, _ := newService(t)

	p, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555",
		Name:  "Jo",
		Items: []domain.RawItem{
			{MedName: "  "},
			{MedName: "Ibuprofen", Quantity: 1},
			{MedName: ""},
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(p.Items) != 1 || p.Items[0].MedName != "Ibuprofen" {
		t.Fatalf("expected only the named item to survive, got %+v", p.Items)
	}
}

func TestSaveAggregatesDecrementsAcrossLineItems(t *testing.T) {
	svc, st := newService(t)
	stock := st.SeedStock(domain.Stock{Name: "Amoxicillin", Quantity: 10, UnitsPerPack: 1})

	_, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555",
		Name:  "Jo",
		Items: []domain.RawItem{
			{MedName: "Amoxicillin", Quantity: 3},
			{MedName: "amoxicillin", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	after, _ := st.StockByID(stock.ID)
	if after.Quantity != 4 {
		t.Errorf("quantity = %d, want 4 (one combined decrement of 6)", after.Quantity)
	}
}

func TestSaveClampsDecrementAtZero(t *testing.T) {
	svc, st := newService(t)
	stock := st.SeedStock(domain.Stock{Name: "Cough Syrup", Quantity: 2, UnitsPerPack: 1})

	_, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555",
		Name:  "Jo",
		Items: []domain.RawItem{{MedName: "Cough Syrup", Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("save must not be rejected by insufficient stock: %v", err)
	}

	after, _ := st.StockByID(stock.ID)
	if after.Quantity != 0 {
		t.Errorf("quantity = %d, want clamped 0", after.Quantity)
	}
}

func TestSaveInvalidInput(t *testing.T) {
	svc, st := newService(t)

	tests := []struct {
		name string
		req  SaveRequest
	}{
		{"empty phone", SaveRequest{Phone: "  ", Name: "Jo", Items: []domain.RawItem{{MedName: "X"}}}},
		{"empty name", SaveRequest{Phone: "555", Name: "", Items: []domain.RawItem{{MedName: "X"}}}},
		{"no items", SaveRequest{Phone: "555", Name: "Jo"}},
		{"only empty items", SaveRequest{Phone: "555", Name: "Jo", Items: []domain.RawItem{{MedName: " "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Save(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if st.PatientCount() != 0 || st.PrescriptionCount() != 0 {
		t.Error("invalid input must not persist anything")
	}
}

func TestSaveAtomicRollbackOnDecrementFailure(t *testing.T) {
	svc, st := newService(t)
	seedParacetamol(st)
	st.FailDecrement = errors.New("simulated store failure")

	_, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555",
		Name:  "Jo",
		Items: []domain.RawItem{{MedName: "Paracetamol", Quantity: 1}},
	})
	if err == nil {
		t.Fatal("expected save to fail")
	}

	if st.PatientCount() != 0 {
		t.Error("patient upsert must roll back with the transaction")
	}
	if st.PrescriptionCount() != 0 {
		t.Error("prescription row must roll back with the transaction")
	}
	if len(st.Outbox()) != 0 {
		t.Error("no events may survive a rolled-back save")
	}
}

func TestSaveUpsertsPatientByPhone(t *testing.T) {
	svc, st := newService(t)

	age1 := 40
	if _, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555", Name: "Jo", Age: &age1,
		Items: []domain.RawItem{{MedName: "A"}},
	}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	age2 := 41
	if _, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555", Name: "Joanna", Age: &age2,
		Items: []domain.RawItem{{MedName: "B"}},
	}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	if st.PatientCount() != 1 {
		t.Fatalf("expected one patient, got %d", st.PatientCount())
	}
	p, err := st.PatientByPhone(context.Background(), "555")
	if err != nil {
		t.Fatalf("PatientByPhone: %v", err)
	}
	if p.Name != "Joanna" || p.Age == nil || *p.Age != 41 {
		t.Errorf("latest submission must win: %+v", p)
	}
}

func TestSaveWithoutAgeKeepsStoredAge(t *testing.T) {
	svc, st := newService(t)

	age := 40
	if _, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555", Name: "Jo", Age: &age,
		Items: []domain.RawItem{{MedName: "A"}},
	}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	if _, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555", Name: "Jo",
		Items: []domain.RawItem{{MedName: "B"}},
	}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	p, err := st.PatientByPhone(context.Background(), "555")
	if err != nil {
		t.Fatalf("PatientByPhone: %v", err)
	}
	if p.Age == nil || *p.Age != 40 {
		t.Errorf("age = %v, want stored 40 preserved when the save omits it", p.Age)
	}
}

func TestSaveNumbersIncrease(t *testing.T) {
	svc, _ := newService(t)

	var last int
	for i := 0; i < 3; i++ {
		p, _, err := svc.Save(context.Background(), SaveRequest{
			Phone: "555", Name: "Jo",
			Items: []domain.RawItem{{MedName: "A"}},
		})
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if p.Number <= last {
			t.Errorf("number %d not strictly increasing after %d", p.Number, last)
		}
		last = p.Number
	}
}

func TestSaveEmitsEvents(t *testing.T) {
	svc, st := newService(t)
	st.SeedStock(domain.Stock{Name: "Paracetamol", Quantity: 3, LowStockThreshold: 2, UnitsPerPack: 1})

	_, _, err := svc.Save(context.Background(), SaveRequest{
		Phone: "555", Name: "Jo",
		Items: []domain.RawItem{{MedName: "Paracetamol", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	outbox := st.Outbox()
	topics := make(map[string]int)
	for _, e := range outbox {
		topics[e.Topic]++
	}
	if topics[events.TopicStockLow] != 1 {
		t.Errorf("expected one stock.low entry (quantity fell to 1 <= threshold 2), got %v", topics)
	}
	if topics[events.TopicPrescriptionCreated] != 1 {
		t.Errorf("expected one prescription.created entry, got %v", topics)
	}
}

func TestSaveAlertsDepletedStockOnce(t *testing.T) {
	svc, st := newService(t)
	st.SeedStock(domain.Stock{Name: "Cough Syrup", Quantity: 2, LowStockThreshold: 1, UnitsPerPack: 1})

	for i := 0; i < 2; i++ {
		if _, _, err := svc.Save(context.Background(), SaveRequest{
			Phone: "555", Name: "Jo",
			Items: []domain.RawItem{{MedName: "Cough Syrup", Quantity: 2}},
		}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	topics := make(map[string]int)
	for _, e := range st.Outbox() {
		topics[e.Topic]++
	}
	if topics[events.TopicStockLow] != 1 {
		t.Errorf("stock.low entries = %d, want 1 (first save exhausts the row, the second stays quiet)",
			topics[events.TopicStockLow])
	}
	if topics[events.TopicPrescriptionCreated] != 2 {
		t.Errorf("prescription.created entries = %d, want 2", topics[events.TopicPrescriptionCreated])
	}
}

func TestSaveIdempotencyKeyReplays(t *testing.T) {
	svc, st := newService(t)
	stock := seedParacetamol(st)

	req := SaveRequest{
		Phone:          "555",
		Name:           "Jo",
		Items:          []domain.RawItem{{MedName: "Paracetamol", Quantity: 2}},
		IdempotencyKey: "form-7c1a",
	}

	first, replayed, err := svc.Save(context.Background(), req)
	if err != nil || replayed {
		t.Fatalf("first save: err=%v replayed=%v", err, replayed)
	}

	second, replayed, err := svc.Save(context.Background(), req)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if !replayed {
		t.Fatal("second save with the same key must replay")
	}
	if second.ID != first.ID || second.Number != first.Number {
		t.Errorf("replay returned a different prescription: %v vs %v", second.ID, first.ID)
	}

	after, _ := st.StockByID(stock.ID)
	if after.Quantity != 3 {
		t.Errorf("quantity = %d, want 3 (no second decrement)", after.Quantity)
	}
	if st.PrescriptionCount() != 1 {
		t.Errorf("prescriptions = %d, want 1", st.PrescriptionCount())
	}
}
