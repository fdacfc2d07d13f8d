package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/store"
)

// PatientHandler serves patient lookup and upsert.
type PatientHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewPatientHandler creates the handler.
func NewPatientHandler(st store.Store, logger *zap.Logger) *PatientHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatientHandler{store: st, logger: logger}
}

// Routes returns the handler routes.
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Lookup)
	r.Post("/", h.Upsert)
	return r
}

// Lookup handles GET /patients?phone=. A missing patient is not an error;
// the form just starts blank.
func (h *PatientHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		respondError(w, "phone required", http.StatusBadRequest)
		return
	}

	patient, err := h.store.PatientByPhone(r.Context(), phone)
	if errors.Is(err, domain.ErrNotFound) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"patient": nil})
		return
	}
	if err != nil {
		h.logger.Error("patient lookup failed", zap.Error(err))
		respondError(w, "request failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"patient": patient})
}

type upsertPatientRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
	Age   *int   `json:"age,omitempty"`
}

// Upsert handles POST /patients.
func (h *PatientHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	phone := strings.TrimSpace(req.Phone)
	name := strings.TrimSpace(req.Name)
	if phone == "" || name == "" {
		respondError(w, "name and phone required", http.StatusBadRequest)
		return
	}
	if req.Age != nil && *req.Age < 0 {
		zero := 0
		req.Age = &zero
	}

	var patient domain.Patient
	err := h.store.WithinTx(r.Context(), func(tx store.Tx) error {
		var err error
		patient, err = tx.UpsertPatient(r.Context(), phone, name, req.Age)
		return err
	})
	if err != nil {
		h.logger.Error("patient upsert failed", zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"patient": patient})
}
