package httpx

import (
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-storefront-stock/internal/inventory"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StockHandler is the admin surface over the ledger.
type StockHandler struct {
	Ledger            *stock.Ledger
	Inventory         *inventory.Service
	Idem              Idempotency
	LowStockThreshold int
	Log               *zap.Logger
}

type adjustReq struct {
	Delta       int          `json:"delta"`
	Reason      stock.Reason `json:"reason"`
	Notes       string       `json:"notes,omitempty"`
	ReferenceID string       `json:"reference_id,omitempty"`
}

type rebuildResp struct {
	Unit   stock.UnitRef `json:"unit"`
	Before int           `json:"before"`
	After  int           `json:"after"`
}

func (h *StockHandler) Register(r chi.Router) {
	r.Route("/admin/stock", func(r chi.Router) {
		r.Get("/low", h.lowStock)
		r.Get("/out", h.outOfStock)
		r.Get("/{kind}/{id}", h.unit)
		r.Get("/{kind}/{id}/ledger", h.ledger)
		r.Get("/{kind}/{id}/replay", h.replay)
		r.Post("/{kind}/{id}/rebuild", h.rebuild)
		r.Post("/{kind}/{id}/adjustments", h.adjust)
	})
}

func unitRef(r *http.Request) (stock.UnitRef, bool) {
	ref := stock.UnitRef{Kind: stock.Kind(chi.URLParam(r, "kind")), ID: chi.URLParam(r, "id")}
	return ref, ref.Kind.Valid() && ref.ID != ""
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func (h *StockHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold, ok := intParam(r, "threshold", h.LowStockThreshold)
	if !ok {
		badRequest(w, "invalid threshold")
		return
	}
	units, err := h.Ledger.LowStock(r.Context(), threshold)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (h *StockHandler) outOfStock(w http.ResponseWriter, r *http.Request) {
	units, err := h.Ledger.OutOfStock(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (h *StockHandler) unit(w http.ResponseWriter, r *http.Request) {
	ref, ok := unitRef(r)
	if !ok {
		badRequest(w, "invalid unit")
		return
	}
	u, err := h.Ledger.Unit(r.Context(), ref)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *StockHandler) ledger(w http.ResponseWriter, r *http.Request) {
	ref, ok := unitRef(r)
	if !ok {
		badRequest(w, "invalid unit")
		return
	}
	limit, ok := intParam(r, "limit", 0)
	if !ok {
		badRequest(w, "invalid limit")
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), ref, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if entries == nil {
		entries = []stock.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *StockHandler) replay(w http.ResponseWriter, r *http.Request) {
	ref, ok := unitRef(r)
	if !ok {
		badRequest(w, "invalid unit")
		return
	}
	res, err := h.Ledger.Replay(r.Context(), ref)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *StockHandler) rebuild(w http.ResponseWriter, r *http.Request) {
	ref, ok := unitRef(r)
	if !ok {
		badRequest(w, "invalid unit")
		return
	}
	before, after, err := h.Ledger.Rebuild(r.Context(), ref)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rebuildResp{Unit: ref, Before: before, After: after})
}

func (h *StockHandler) adjust(w http.ResponseWriter, r *http.Request) {
	ref, ok := unitRef(r)
	if !ok {
		badRequest(w, "invalid unit")
		return
	}
	var req adjustReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	actor := r.Header.Get(HeaderActor)
	once(w, r, h.Idem, h.Log, "adjust:"+ref.String(), func() (int, any, error) {
		e, err := h.Inventory.ManualAdjust(r.Context(), ref, req.Delta, req.Reason, actor, req.Notes, req.ReferenceID)
		return http.StatusCreated, e, err
	})
}
