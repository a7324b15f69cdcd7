package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-stock/internal/cart"
	"github.com/ariefcatur/go-storefront-stock/internal/inventory"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"go.uber.org/zap"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderActor  = "X-Actor"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cart.ErrValidationBlocked), errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, stock.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, stock.ErrUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, stock.ErrInvalidQuantity), errors.Is(err, stock.ErrInvalidReason),
		errors.Is(err, stock.ErrMissingActor), errors.Is(err, cart.ErrMissingUser),
		errors.Is(err, inventory.ErrInvalidTransition):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error     string           `json:"error"`
	Shortages []stock.Shortage `json:"shortages,omitempty"`
	Result    *cart.Result     `json:"validation,omitempty"`
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}
	var short *stock.InsufficientStockError
	if errors.As(err, &short) {
		body.Shortages = short.Shortages
	}
	var blocked *cart.BlockedError
	if errors.As(err, &blocked) {
		body.Result = &blocked.Result
	}
	if code == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		body.Error = "internal error"
	}
	writeJSON(w, code, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
