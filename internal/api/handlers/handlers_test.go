package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/inventory"
	"github.com/clinichq/rxdesk/internal/prescribing"
	"github.com/clinichq/rxdesk/internal/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()

	st := memory.New()
	prescriptionSvc := prescribing.New(st, nil, nil)
	inventorySvc := inventory.New(st, nil, nil)

	r := chi.NewRouter()
	r.Mount("/patients", NewPatientHandler(st, nil).Routes())
	r.Mount("/prescriptions", NewPrescriptionHandler(prescriptionSvc, nil).Routes())
	r.Mount("/stocks", NewStockHandler(inventorySvc, nil).Routes())

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, st
}

func postJSON(t *testing.T, url, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestCreatePrescription(t *testing.T) {
	server, st := newTestServer(t)
	seeded := st.SeedStock(domain.Stock{
		Name:           "Paracetamol",
		Quantity:       10,
		IsDivisible:    true,
		DispensingUnit: "TABLET",
		UnitsPerPack:   10,
	})

	resp, body := postJSON(t, server.URL+"/prescriptions", `{
		"phone": "0412345678",
		"name": "Jan Kowalski",
		"items": [{"medName": "paracetamol", "quantity": 2, "prescribedAs": "PACKS"}]
	}`, nil)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	prescription, ok := body["prescription"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing prescription in response: %v", body)
	}
	if _, isString := prescription["id"].(string); !isString {
		t.Errorf("prescription id should serialize as a string, got %T", prescription["id"])
	}
	if prescription["number"] != float64(1) {
		t.Errorf("number = %v, want 1", prescription["number"])
	}

	items := prescription["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	item := items[0].(map[string]interface{})
	if item["display"] != "2 packs (20 tablets)" {
		t.Errorf("display = %q, want %q", item["display"], "2 packs (20 tablets)")
	}

	after, _ := st.StockByID(seeded.ID)
	if after.Quantity != 8 {
		t.Errorf("stock quantity = %d, want 8", after.Quantity)
	}
}

func TestCreatePrescriptionInvalidBody(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := postJSON(t, server.URL+"/prescriptions", `{not json`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreatePrescriptionNoItems(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/prescriptions", `{
		"phone": "0412345678",
		"name": "Jan Kowalski",
		"items": [{"medName": "   "}]
	}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if _, ok := body["error"]; !ok {
		t.Error("expected error message in body")
	}
}

func TestCreatePrescriptionIdempotentReplay(t *testing.T) {
	server, st := newTestServer(t)
	seeded := st.SeedStock(domain.Stock{
		Name:           "Ibuprofen",
		Quantity:       10,
		DispensingUnit: "TABLET",
		UnitsPerPack:   1,
	})

	body := `{
		"phone": "0412345678",
		"name": "Jan Kowalski",
		"items": [{"medName": "Ibuprofen", "quantity": 3}]
	}`
	headers := map[string]string{"Idempotency-Key": "form-submit-1"}

	first, firstBody := postJSON(t, server.URL+"/prescriptions", body, headers)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.StatusCode)
	}

	second, secondBody := postJSON(t, server.URL+"/prescriptions", body, headers)
	if second.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", second.StatusCode)
	}

	firstID := firstBody["prescription"].(map[string]interface{})["id"]
	secondID := secondBody["prescription"].(map[string]interface{})["id"]
	if firstID != secondID {
		t.Errorf("replay returned a different prescription: %v vs %v", firstID, secondID)
	}

	after, _ := st.StockByID(seeded.ID)
	if after.Quantity != 7 {
		t.Errorf("stock quantity = %d, want 7 (single decrement)", after.Quantity)
	}
}

func TestListPrescriptions(t *testing.T) {
	server, st := newTestServer(t)
	st.SeedStock(domain.Stock{
		Name:           "Amoxicillin",
		Quantity:       30,
		IsDivisible:    true,
		DispensingUnit: "CAPSULE",
		UnitsPerPack:   1,
	})

	for _, phone := range []string{"100", "200"} {
		resp, _ := postJSON(t, server.URL+"/prescriptions", `{
			"phone": "`+phone+`",
			"name": "Patient `+phone+`",
			"items": [{"medName": "Amoxicillin", "quantity": 1}]
		}`, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("seed save status = %d", resp.StatusCode)
		}
	}

	resp, body := getJSON(t, server.URL+"/prescriptions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	list := body["prescriptions"].([]interface{})
	if len(list) != 2 {
		t.Fatalf("prescriptions = %d, want 2", len(list))
	}
	// Newest first.
	first := list[0].(map[string]interface{})
	if first["number"] != float64(2) {
		t.Errorf("first number = %v, want 2", first["number"])
	}
	item := first["items"].([]interface{})[0].(map[string]interface{})
	if item["display"] != "1 capsule" {
		t.Errorf("display = %q, want %q", item["display"], "1 capsule")
	}
}

func TestPatientLookup(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/patients")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing phone status = %d, want 400", resp.StatusCode)
	}

	resp2, body := getJSON(t, server.URL+"/patients?phone=0499999999")
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("unknown phone status = %d, want 200", resp2.StatusCode)
	}
	if body["patient"] != nil {
		t.Errorf("unknown phone patient = %v, want null", body["patient"])
	}

	upsertResp, _ := postJSON(t, server.URL+"/patients", `{"phone": "0499999999", "name": "Anna Nowak", "age": 34}`, nil)
	if upsertResp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d, want 200", upsertResp.StatusCode)
	}

	_, found := getJSON(t, server.URL+"/patients?phone=0499999999")
	patient, ok := found["patient"].(map[string]interface{})
	if !ok {
		t.Fatalf("patient missing after upsert: %v", found)
	}
	if patient["name"] != "Anna Nowak" {
		t.Errorf("name = %v, want Anna Nowak", patient["name"])
	}
}

func TestPatientUpsertValidation(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := postJSON(t, server.URL+"/patients", `{"phone": "  ", "name": ""}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStockIntakeAndSearch(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := postJSON(t, server.URL+"/stocks", `{
		"name": "Cetirizine",
		"amount": 50,
		"lowStockThreshold": 10,
		"dispensingUnit": "tablet",
		"unitsPerPack": 10
	}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("intake status = %d, want 200", resp.StatusCode)
	}
	stock := body["stock"].(map[string]interface{})
	if stock["quantity"] != float64(50) {
		t.Errorf("quantity = %v, want 50", stock["quantity"])
	}
	if stock["inStock"] != true || stock["isLow"] != false {
		t.Errorf("flags = inStock:%v isLow:%v", stock["inStock"], stock["isLow"])
	}
	if stock["dispensingUnit"] != "TABLET" {
		t.Errorf("dispensingUnit = %v, want TABLET", stock["dispensingUnit"])
	}

	searchResp, searchBody := getJSON(t, server.URL+"/stocks?q=ceti")
	if searchResp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", searchResp.StatusCode)
	}
	if got := len(searchBody["stocks"].([]interface{})); got != 1 {
		t.Errorf("search results = %d, want 1", got)
	}
}

func TestStockIntakeInvalid(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := postJSON(t, server.URL+"/stocks", `{"name": "", "amount": 5}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", resp.StatusCode)
	}

	resp2, _ := postJSON(t, server.URL+"/stocks", `{"name": "Aspirin", "amount": 0}`, nil)
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("zero amount status = %d, want 400", resp2.StatusCode)
	}
}

func TestLowStocks(t *testing.T) {
	server, st := newTestServer(t)
	st.SeedStock(domain.Stock{Name: "Plenty", Quantity: 100, LowStockThreshold: 10, UnitsPerPack: 1})
	st.SeedStock(domain.Stock{Name: "Scarce", Quantity: 3, LowStockThreshold: 10, UnitsPerPack: 1})
	st.SeedStock(domain.Stock{Name: "Gone", Quantity: 0, LowStockThreshold: 10, UnitsPerPack: 1})

	resp, body := getJSON(t, server.URL+"/stocks/low")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	list := body["stocks"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("low stocks = %d, want 1 (exhausted rows are out of stock, not low)", len(list))
	}
	if list[0].(map[string]interface{})["name"] != "Scarce" {
		t.Errorf("low stock = %v, want Scarce", list[0])
	}
}
