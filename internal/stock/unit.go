package stock

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes the two sellable unit variants sharing the ledger.
type Kind string

const (
	KindProduct Kind = "product"
	KindVariant Kind = "variant"
)

func (k Kind) Valid() bool { return k == KindProduct || k == KindVariant }

// UnitRef identifies a product or a product variant.
type UnitRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func Product(id string) UnitRef { return UnitRef{Kind: KindProduct, ID: id} }
func Variant(id string) UnitRef { return UnitRef{Kind: KindVariant, ID: id} }

func (r UnitRef) String() string { return string(r.Kind) + ":" + r.ID }

// ParseRef accepts the "kind:id" form produced by String.
func ParseRef(s string) (UnitRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" || !Kind(kind).Valid() {
		return UnitRef{}, fmt.Errorf("%w: bad unit ref %q", ErrNotFound, s)
	}
	return UnitRef{Kind: Kind(kind), ID: id}, nil
}

func less(a, b UnitRef) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.ID < b.ID
}

// Unit is the current state of a sellable unit. For variants, Active and
// DeletedAt already fold in the parent product's flags.
type Unit struct {
	Ref            UnitRef    `json:"ref"`
	ProductID      string     `json:"product_id"`
	Name           string     `json:"name"`
	PriceCents     int        `json:"price_cents"`
	SalePriceCents int        `json:"sale_price_cents,omitempty"`
	Stock          int        `json:"stock"`
	Baseline       int        `json:"baseline"`
	Active         bool       `json:"active"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func (u Unit) Deleted() bool { return u.DeletedAt != nil }

// Purchasable reports whether the unit may be bought or kept in a cart.
func (u Unit) Purchasable() bool { return u.Active && !u.Deleted() }

// EffectivePriceCents is the lesser of the list price and a positive sale price.
func (u Unit) EffectivePriceCents() int {
	if u.SalePriceCents > 0 && u.SalePriceCents < u.PriceCents {
		return u.SalePriceCents
	}
	return u.PriceCents
}

// VariantID is empty for products.
func (u Unit) VariantID() string {
	if u.Ref.Kind == KindVariant {
		return u.Ref.ID
	}
	return ""
}

// UnitFilter selects purchasable units whose stock is in [MinStock, MaxStock].
type UnitFilter struct {
	MinStock int
	MaxStock int
}
