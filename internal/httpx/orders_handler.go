package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-storefront-stock/internal/inventory"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// OrdersHandler exposes the fulfillment and return hooks to the
// order-management service.
type OrdersHandler struct {
	Inventory *inventory.Service
	Idem      Idempotency
	Log       *zap.Logger
}

type linesReq struct {
	Lines []inventory.OrderLine `json:"lines"`
}

type returnReq struct {
	RefundID string                `json:"refund_id,omitempty"`
	Lines    []inventory.OrderLine `json:"lines"`
	Reason   stock.Reason          `json:"reason,omitempty"`
	Notes    string                `json:"notes,omitempty"`
}

type cancelReq struct {
	Notes string `json:"notes,omitempty"`
}

type transitionReq struct {
	OrderID string                 `json:"order_id"`
	From    inventory.RefundStatus `json:"from"`
	To      inventory.RefundStatus `json:"to"`
	Lines   []inventory.OrderLine  `json:"lines"`
}

type entriesResp struct {
	OrderID string        `json:"order_id"`
	Entries []stock.Entry `json:"entries"`
}

type transitionResp struct {
	RefundID string                 `json:"refund_id"`
	Status   inventory.RefundStatus `json:"status"`
	Entries  []stock.Entry          `json:"entries"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/internal/orders/{id}/fulfill", h.fulfill)
	r.Post("/internal/orders/{id}/cancel", h.cancel)
	r.Post("/internal/orders/{id}/return", h.returnLines)
	r.Post("/internal/refunds/{id}/transition", h.transition)
}

func nonNil(entries []stock.Entry) []stock.Entry {
	if entries == nil {
		return []stock.Entry{}
	}
	return entries
}

func (h *OrdersHandler) fulfill(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req linesReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	actor := r.Header.Get(HeaderActor)
	once(w, r, h.Idem, h.Log, "fulfill:"+orderID, func() (int, any, error) {
		entries, err := h.Inventory.ReserveForOrder(r.Context(), orderID, actor, req.Lines)
		return http.StatusOK, entriesResp{OrderID: orderID, Entries: nonNil(entries)}, err
	})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req cancelReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, "invalid json")
			return
		}
	}
	actor := r.Header.Get(HeaderActor)
	once(w, r, h.Idem, h.Log, "cancel:"+orderID, func() (int, any, error) {
		entries, err := h.Inventory.CancelOrder(r.Context(), orderID, actor, req.Notes)
		return http.StatusOK, entriesResp{OrderID: orderID, Entries: nonNil(entries)}, err
	})
}

func (h *OrdersHandler) returnLines(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req returnReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Reason == "" {
		req.Reason = stock.ReasonReturn
	}
	actor := r.Header.Get(HeaderActor)
	once(w, r, h.Idem, h.Log, "return:"+orderID+":"+req.RefundID, func() (int, any, error) {
		entries, err := h.Inventory.ReturnForRefund(r.Context(), orderID, req.RefundID, actor, req.Reason, req.Lines, req.Notes)
		return http.StatusOK, entriesResp{OrderID: orderID, Entries: nonNil(entries)}, err
	})
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	refundID := chi.URLParam(r, "id")
	var req transitionReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	actor := r.Header.Get(HeaderActor)
	once(w, r, h.Idem, h.Log, "refund:"+refundID, func() (int, any, error) {
		ref := inventory.Refund{ID: refundID, OrderID: req.OrderID, Status: req.From, Lines: req.Lines}
		entries, err := h.Inventory.TransitionRefund(r.Context(), ref, req.To, actor)
		return http.StatusOK, transitionResp{RefundID: refundID, Status: req.To, Entries: nonNil(entries)}, err
	})
}
