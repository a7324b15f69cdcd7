package cart

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/stock"
)

// Item is a soft reservation: user intent only, no stock is held.
type Item struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Unit      stock.UnitRef `json:"unit"`
	Quantity  int           `json:"quantity"`
	ExpiresAt time.Time     `json:"expires_at"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (i Item) Expired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

// Catalog resolves units for carts; stock.Store satisfies it.
type Catalog interface {
	Unit(ctx context.Context, ref stock.UnitRef) (stock.Unit, error)
	Units(ctx context.Context, refs []stock.UnitRef) (map[stock.UnitRef]stock.Unit, error)
}

type Options struct {
	TTL               time.Duration
	MaxQuantity       int
	LowStockThreshold int

	ShippingFlatCents    int
	FreeShippingMinCents int
	TaxRateBPS           int
}

func DefaultOptions() Options {
	return Options{
		TTL:                  30 * 24 * time.Hour,
		MaxQuantity:          99,
		LowStockThreshold:    5,
		ShippingFlatCents:    1000,
		FreeShippingMinCents: 10000,
		TaxRateBPS:           1000,
	}
}
