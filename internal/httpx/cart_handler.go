package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/cart"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CartHandler serves the shopper's cart. The user id comes from the auth
// layer in front of this service via X-User-ID.
type CartHandler struct {
	Cart *cart.Service
	Log  *zap.Logger
}

type addItemReq struct {
	Unit           stock.UnitRef `json:"unit"`
	Quantity       int           `json:"quantity"`
	SkipStockCheck bool          `json:"skip_stock_check,omitempty"`
}

type setQuantityReq struct {
	Quantity int `json:"quantity"`
}

type checkoutResp struct {
	cart.Result
	Summary []string `json:"summary"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.view)
		r.Delete("/", h.clear)
		r.Post("/items", h.add)
		r.Patch("/items/{id}", h.setQuantity)
		r.Delete("/items/{id}", h.remove)
		r.Post("/validate", h.validate)
		r.Post("/checkout", h.checkout)
	})
}

func userID(r *http.Request) string { return r.Header.Get(HeaderUserID) }

func (h *CartHandler) view(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Cart.View(ctx, userID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Cart.Add(ctx, userID(r), req.Unit, req.Quantity, req.SkipStockCheck)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CartHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	it, err := h.Cart.SetQuantity(ctx, userID(r), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.Cart.Remove(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Cart.Clear(r.Context(), userID(r)); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Cart.Validate(ctx, userID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// checkout validates, applies the caps and answers 409 with the itemized
// errors when something blocks.
func (h *CartHandler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Cart.PrepareCheckout(ctx, userID(r))
	var blocked *cart.BlockedError
	if errors.As(err, &blocked) {
		writeJSON(w, http.StatusConflict, checkoutResp{Result: blocked.Result, Summary: blocked.Result.Summary()})
		return
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResp{Result: res, Summary: res.Summary()})
}
