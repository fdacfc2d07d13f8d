// Package handlers provides the HTTP handlers for the clinic API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinichq/rxdesk/internal/domain"
)

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, message string, code int) {
	respondJSON(w, code, map[string]string{"error": message})
}

// respondDomainError maps domain sentinels onto HTTP status codes. Anything
// unrecognized is a transaction failure the caller may retry whole.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	default:
		respondError(w, "request failed", http.StatusInternalServerError)
	}
}
