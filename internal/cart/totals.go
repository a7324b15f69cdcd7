package cart

import "github.com/ariefcatur/go-storefront-stock/internal/stock"

// Line pairs a reservation with its unit as read at listing time.
type Line struct {
	Item Item
	Unit stock.Unit
}

type LineView struct {
	Item
	Name             string `json:"name"`
	UnitPriceCents   int    `json:"unit_price_cents"`
	Available        int    `json:"available"`
	BillableQuantity int    `json:"billable_quantity"`
	LineTotalCents   int    `json:"line_total_cents"`
}

type View struct {
	UserID        string     `json:"user_id"`
	Items         []LineView `json:"items"`
	ItemCount     int        `json:"item_count"`
	SubtotalCents int        `json:"subtotal_cents"`
	ShippingCents int        `json:"shipping_cents"`
	TaxCents      int        `json:"tax_cents"`
	TotalCents    int        `json:"total_cents"`
}

// Totals prices every line at the effective price times the quantity capped
// at live stock, so soft reservations never bill phantom inventory.
func Totals(userID string, lines []Line, opts Options) View {
	v := View{UserID: userID, Items: make([]LineView, 0, len(lines))}
	for _, l := range lines {
		billable := l.Item.Quantity
		if billable > l.Unit.Stock {
			billable = l.Unit.Stock
		}
		if billable < 0 {
			billable = 0
		}
		price := l.Unit.EffectivePriceCents()
		lv := LineView{
			Item:             l.Item,
			Name:             l.Unit.Name,
			UnitPriceCents:   price,
			Available:        l.Unit.Stock,
			BillableQuantity: billable,
			LineTotalCents:   price * billable,
		}
		v.Items = append(v.Items, lv)
		v.ItemCount += billable
		v.SubtotalCents += lv.LineTotalCents
	}

	if v.SubtotalCents > 0 && (opts.FreeShippingMinCents <= 0 || v.SubtotalCents < opts.FreeShippingMinCents) {
		v.ShippingCents = opts.ShippingFlatCents
	}
	v.TaxCents = (v.SubtotalCents*opts.TaxRateBPS + 5000) / 10000
	v.TotalCents = v.SubtotalCents + v.ShippingCents + v.TaxCents
	return v
}
