package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/cart"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id, unitID string, qty int) cart.Item {
	return cart.Item{ID: id, UserID: "u1", Unit: stock.Product(unitID), Quantity: qty}
}

func units(us ...stock.Unit) map[stock.UnitRef]stock.Unit {
	out := make(map[stock.UnitRef]stock.Unit, len(us))
	for _, u := range us {
		out[u.Ref] = u
	}
	return out
}

func TestClassifyCapsToStock(t *testing.T) {
	res := cart.Classify([]cart.Item{item("i1", "p1", 8)}, units(unit("p1", 5, 100)), 3)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, 8, res.Adjustments[0].Old)
	assert.Equal(t, 5, res.Adjustments[0].New)
	assert.Equal(t, cart.ReasonStockLimitation, res.Adjustments[0].Reason)
}

func TestClassifyOutOfStock(t *testing.T) {
	res := cart.Classify([]cart.Item{item("i1", "p1", 1)}, units(unit("p1", 0, 100)), 5)

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, cart.CodeOutOfStock, res.Errors[0].Code)
	assert.Empty(t, res.Adjustments)
}

func TestClassifyUnavailable(t *testing.T) {
	now := time.Now()
	deleted := unit("del", 5, 100)
	deleted.DeletedAt = &now
	off := unit("off", 5, 100)
	off.Active = false

	res := cart.Classify([]cart.Item{
		item("i1", "del", 1),
		item("i2", "off", 1),
		item("i3", "ghost", 1),
	}, units(deleted, off), 5)

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 3)
	for _, is := range res.Errors {
		assert.Equal(t, cart.CodeProductUnavailable, is.Code)
	}
}

func TestClassifyLowStockWarning(t *testing.T) {
	res := cart.Classify([]cart.Item{
		item("i1", "low", 2),
		item("i2", "edge", 6),
		item("i3", "plenty", 2),
	}, units(unit("low", 3, 100), unit("edge", 5, 100), unit("plenty", 50, 100)), 5)

	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "i1", res.Warnings[0].ItemID)
	assert.Equal(t, cart.CodeLowStock, res.Warnings[0].Code)
	assert.Equal(t, 3, res.Warnings[0].Available)
	// an item that needs capping gets the adjustment, not the warning
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, "i2", res.Adjustments[0].ItemID)
}

func TestClassifyEmptyCart(t *testing.T) {
	res := cart.Classify(nil, nil, 5)

	assert.True(t, res.Valid)
	assert.NotNil(t, res.Errors)
	assert.NotNil(t, res.Warnings)
	assert.NotNil(t, res.Adjustments)
}

func TestValidateDoesNotWrite(t *testing.T) {
	f := newFixture(t, unit("p1", 5, 100))
	ctx := context.Background()
	it := f.add(t, "u1", "p1", 1).Item
	_, err := f.svc.SetQuantity(ctx, "u1", it.ID, 8)
	require.NoError(t, err)

	first, err := f.svc.Validate(ctx, "u1")
	require.NoError(t, err)
	second, err := f.svc.Validate(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	lines, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 8, lines[0].Item.Quantity)
}

func TestValidateSkipsExpiredAndReportsInactive(t *testing.T) {
	f := newFixture(t, unit("old", 5, 100), unit("off", 5, 100))
	ctx := context.Background()
	f.add(t, "u1", "old", 1)
	f.clock = f.clock.Add(29 * 24 * time.Hour)
	f.add(t, "u1", "off", 1)
	f.clock = f.clock.Add(2 * 24 * time.Hour)
	f.mem.SetActive(stock.Product("off"), false)

	res, err := f.svc.Validate(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "off", res.Errors[0].Unit.ID)
	assert.Equal(t, cart.CodeProductUnavailable, res.Errors[0].Code)
}

func TestValidateRequiresUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Validate(context.Background(), "")

	assert.ErrorIs(t, err, cart.ErrMissingUser)
}
