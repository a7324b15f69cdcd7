package cart

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/stock"
)

// Tx reads lock the returned rows until InTx returns.
type Tx interface {
	FindByUnit(ctx context.Context, userID string, ref stock.UnitRef) (Item, bool, error)
	Get(ctx context.Context, userID, itemID string) (Item, error)
	// Save upserts on (user, unit) and returns the stored row.
	Save(ctx context.Context, it Item) (Item, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// List returns every row for the user, expired ones included, oldest first.
	List(ctx context.Context, userID string) ([]Item, error)
	Delete(ctx context.Context, userID, itemID string) error
	DeleteIDs(ctx context.Context, ids []string) (int64, error)
	Clear(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
