package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/metrics"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
)

type Code string

const (
	CodeProductUnavailable Code = "PRODUCT_UNAVAILABLE"
	CodeOutOfStock         Code = "OUT_OF_STOCK"
	CodeLowStock           Code = "LOW_STOCK"
)

const ReasonStockLimitation = "stock limitation"

type Issue struct {
	ItemID    string        `json:"item_id"`
	Unit      stock.UnitRef `json:"unit"`
	Name      string        `json:"name"`
	Code      Code          `json:"code"`
	Message   string        `json:"message"`
	Requested int           `json:"requested"`
	Available int           `json:"available"`
}

type Adjustment struct {
	ItemID string        `json:"item_id"`
	Unit   stock.UnitRef `json:"unit"`
	Name   string        `json:"name"`
	Old    int           `json:"old"`
	New    int           `json:"new"`
	Reason string        `json:"reason"`
}

type Result struct {
	Valid       bool         `json:"is_valid"`
	Errors      []Issue      `json:"errors"`
	Warnings    []Issue      `json:"warnings"`
	Adjustments []Adjustment `json:"adjustments"`
}

// Summary renders adjustments as user-facing notes.
func (r Result) Summary() []string {
	out := make([]string, 0, len(r.Adjustments))
	for _, a := range r.Adjustments {
		out = append(out, fmt.Sprintf("%s: quantity reduced to %d - only %d left", a.Name, a.New, a.New))
	}
	return out
}

// Validator reconciles a cart against live stock. It never writes.
type Validator struct {
	Store             Store
	Catalog           Catalog
	LowStockThreshold int
	Now               func() time.Time
}

func (v *Validator) Validate(ctx context.Context, userID string) (Result, error) {
	if userID == "" {
		return Result{}, ErrMissingUser
	}
	items, err := v.Store.List(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	live := items[:0:0]
	refs := make([]stock.UnitRef, 0, len(items))
	for _, it := range items {
		if it.Expired(now) {
			continue
		}
		live = append(live, it)
		refs = append(refs, it.Unit)
	}
	units, err := v.Catalog.Units(ctx, refs)
	if err != nil {
		return Result{}, err
	}

	res := Classify(live, units, v.LowStockThreshold)
	for _, is := range res.Errors {
		metrics.CartValidations.WithLabelValues("error", string(is.Code)).Inc()
	}
	for _, is := range res.Warnings {
		metrics.CartValidations.WithLabelValues("warning", string(is.Code)).Inc()
	}
	if n := len(res.Adjustments); n > 0 {
		metrics.CartValidations.WithLabelValues("adjustment", "STOCK_LIMITATION").Add(float64(n))
	}
	return res, nil
}

// Classify sorts each reservation into an error, an adjustment or a warning.
// Units missing from the map are treated as unavailable.
func Classify(items []Item, units map[stock.UnitRef]stock.Unit, lowStockThreshold int) Result {
	res := Result{Errors: []Issue{}, Warnings: []Issue{}, Adjustments: []Adjustment{}}
	for _, it := range items {
		u, ok := units[it.Unit]
		if !ok || !u.Purchasable() {
			res.Errors = append(res.Errors, Issue{
				ItemID: it.ID, Unit: it.Unit, Name: u.Name, Code: CodeProductUnavailable,
				Message:   "product is no longer available",
				Requested: it.Quantity,
			})
			continue
		}
		if u.Stock <= 0 {
			res.Errors = append(res.Errors, Issue{
				ItemID: it.ID, Unit: it.Unit, Name: u.Name, Code: CodeOutOfStock,
				Message:   "product is out of stock",
				Requested: it.Quantity,
			})
			continue
		}
		if it.Quantity > u.Stock {
			res.Adjustments = append(res.Adjustments, Adjustment{
				ItemID: it.ID, Unit: it.Unit, Name: u.Name,
				Old: it.Quantity, New: u.Stock, Reason: ReasonStockLimitation,
			})
			continue
		}
		if u.Stock <= lowStockThreshold {
			res.Warnings = append(res.Warnings, Issue{
				ItemID: it.ID, Unit: it.Unit, Name: u.Name, Code: CodeLowStock,
				Message:   fmt.Sprintf("only %d left in stock", u.Stock),
				Requested: it.Quantity, Available: u.Stock,
			})
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}
