package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/api/middleware"
	"github.com/clinichq/rxdesk/internal/domain"
	"github.com/clinichq/rxdesk/internal/prescribing"
)

// PrescriptionHandler serves the prescription form save and the listing page.
type PrescriptionHandler struct {
	svc    *prescribing.Service
	logger *zap.Logger
}

// NewPrescriptionHandler creates the handler.
func NewPrescriptionHandler(svc *prescribing.Service, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{svc: svc, logger: logger}
}

// Routes returns the handler routes.
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	return r
}

// List handles GET /prescriptions: the latest 50, newest first, with the
// formatted quantity attached so the listing and the print view render the
// exact same strings.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), 50)
	if err != nil {
		h.logger.Error("list prescriptions failed", zap.Error(err))
		respondError(w, "request failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"prescriptions": newPrescriptionViews(list),
	})
}

type createPrescriptionRequest struct {
	Phone    string           `json:"phone"`
	Name     string           `json:"name"`
	Age      *int             `json:"age,omitempty"`
	Symptoms string           `json:"symptoms,omitempty"`
	Items    []domain.RawItem `json:"items"`
}

// Create handles POST /prescriptions. An Idempotency-Key header makes a
// resubmitted form replay the original result instead of decrementing stock
// twice.
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPrescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	saved, replayed, err := h.svc.Save(r.Context(), prescribing.SaveRequest{
		Phone:          req.Phone,
		Name:           req.Name,
		Age:            req.Age,
		Symptoms:       req.Symptoms,
		Items:          req.Items,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Warn("prescription save failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)
		respondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]interface{}{
		"prescription": newPrescriptionView(saved),
	})
}
