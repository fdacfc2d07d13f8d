package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinichq/rxdesk/internal/inventory"
	"github.com/clinichq/rxdesk/internal/store"
)

// StockHandler serves the stock page and the medicine autocomplete.
type StockHandler struct {
	svc    *inventory.Service
	logger *zap.Logger
}

// NewStockHandler creates the handler.
func NewStockHandler(svc *inventory.Service, logger *zap.Logger) *StockHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockHandler{svc: svc, logger: logger}
}

// Routes returns the handler routes.
func (h *StockHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Search)
	r.Get("/low", h.Low)
	r.Post("/", h.Intake)
	return r
}

// Search handles GET /stocks?q=.
func (h *StockHandler) Search(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("stock search failed", zap.Error(err))
		respondError(w, "request failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"stocks": newStockViews(stocks)})
}

// Low handles GET /stocks/low.
func (h *StockHandler) Low(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.svc.Low(r.Context())
	if err != nil {
		h.logger.Error("low stock query failed", zap.Error(err))
		respondError(w, "request failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"stocks": newStockViews(stocks)})
}

type intakeRequest struct {
	Name              string `json:"name"`
	Amount            int    `json:"amount"`
	LowStockThreshold *int   `json:"lowStockThreshold,omitempty"`
	IsDivisible       *bool  `json:"isDivisible,omitempty"`
	DispensingUnit    string `json:"dispensingUnit,omitempty"`
	UnitsPerPack      int    `json:"unitsPerPack,omitempty"`
}

// Intake handles POST /stocks.
func (h *StockHandler) Intake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stock, err := h.svc.Intake(r.Context(), store.StockIntake{
		Name:              req.Name,
		Amount:            req.Amount,
		LowStockThreshold: req.LowStockThreshold,
		IsDivisible:       req.IsDivisible,
		DispensingUnit:    req.DispensingUnit,
		UnitsPerPack:      req.UnitsPerPack,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"stock": newStockView(stock)})
}
