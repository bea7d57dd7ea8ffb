package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ateliergems/cartcore/internal/cart"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (h *CartHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *CartHandler) handleCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		h.respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
	case errors.Is(err, cart.ErrCartLimitExceeded):
		h.respondError(w, http.StatusUnprocessableEntity, "cart_limit_exceeded", "cart item limit reached")
	default:
		h.respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
