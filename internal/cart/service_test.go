package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/cart"
	"github.com/ariefcatur/go-storefront-stock/internal/memstore"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mem   *memstore.Store
	svc   *cart.Service
	clock time.Time
}

func newFixture(t *testing.T, units ...stock.Unit) *fixture {
	t.Helper()
	f := &fixture{mem: memstore.New(), clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	for _, u := range units {
		f.mem.PutUnit(u)
	}
	f.svc = cart.NewService(f.mem.Carts(), f.mem.Stock(), cart.DefaultOptions(), nil)
	f.svc.Now = func() time.Time { return f.clock }
	return f
}

func unit(id string, qty, price int) stock.Unit {
	return stock.Unit{Ref: stock.Product(id), Name: id, PriceCents: price, Stock: qty, Active: true}
}

func (f *fixture) add(t *testing.T, user, id string, qty int) cart.AddResult {
	t.Helper()
	res, err := f.svc.Add(context.Background(), user, stock.Product(id), qty, false)
	require.NoError(t, err)
	return res
}

func TestAddCoalescesSameUnit(t *testing.T) {
	f := newFixture(t, unit("p1", 10, 1000))

	first := f.add(t, "u1", "p1", 2)
	second := f.add(t, "u1", "p1", 3)

	assert.Equal(t, first.Item.ID, second.Item.ID)
	assert.Equal(t, 5, second.Item.Quantity)
	assert.False(t, second.Capped)

	lines, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Item.Quantity)
}

func TestAddCapsAtStock(t *testing.T) {
	f := newFixture(t, unit("p1", 4, 1000))

	f.add(t, "u1", "p1", 2)
	res := f.add(t, "u1", "p1", 3)

	assert.Equal(t, 4, res.Item.Quantity)
	assert.Equal(t, 5, res.Requested)
	assert.True(t, res.Capped)
	assert.Equal(t, cart.ReasonStockLimitation, res.CapReason)
}

func TestAddCapsAtMaxQuantity(t *testing.T) {
	f := newFixture(t, unit("p1", 500, 100))

	f.add(t, "u1", "p1", 99)
	res := f.add(t, "u1", "p1", 5)

	assert.Equal(t, 99, res.Item.Quantity)
	assert.Equal(t, 104, res.Requested)
	assert.Equal(t, cart.ReasonMaxQuantity, res.CapReason)
}

func TestAddRejections(t *testing.T) {
	f := newFixture(t, unit("empty", 0, 1000), unit("off", 5, 1000), unit("p1", 5, 1000))
	f.mem.SetActive(stock.Product("off"), false)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "u1", stock.Product("empty"), 1, false)
	assert.ErrorIs(t, err, cart.ErrOutOfStock)
	assert.ErrorIs(t, err, stock.ErrUnavailable)

	_, err = f.svc.Add(ctx, "u1", stock.Product("off"), 1, false)
	assert.ErrorIs(t, err, stock.ErrUnavailable)

	_, err = f.svc.Add(ctx, "u1", stock.Product("ghost"), 1, false)
	assert.ErrorIs(t, err, stock.ErrNotFound)

	_, err = f.svc.Add(ctx, "u1", stock.Product("p1"), 0, false)
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = f.svc.Add(ctx, "u1", stock.Product("p1"), 100, false)
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = f.svc.Add(ctx, "", stock.Product("p1"), 1, false)
	assert.ErrorIs(t, err, cart.ErrMissingUser)
}

func TestAddSkipStockCheck(t *testing.T) {
	f := newFixture(t, unit("empty", 0, 1000))

	res, err := f.svc.Add(context.Background(), "u1", stock.Product("empty"), 3, true)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Item.Quantity)
	assert.False(t, res.Capped)
}

func TestAddAfterExpiryStartsOver(t *testing.T) {
	f := newFixture(t, unit("p1", 10, 1000))
	f.add(t, "u1", "p1", 3)

	f.clock = f.clock.Add(31 * 24 * time.Hour)
	res := f.add(t, "u1", "p1", 2)

	assert.Equal(t, 2, res.Item.Quantity)
	assert.Equal(t, f.clock.Add(30*24*time.Hour), res.Item.ExpiresAt)
}

func TestSetQuantity(t *testing.T) {
	f := newFixture(t, unit("p1", 2, 1000))
	ctx := context.Background()
	it := f.add(t, "u1", "p1", 1).Item

	// no stock check here; validation caps it later
	got, err := f.svc.SetQuantity(ctx, "u1", it.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)

	_, err = f.svc.SetQuantity(ctx, "u2", it.ID, 1)
	assert.ErrorIs(t, err, cart.ErrItemNotFound)
	assert.ErrorIs(t, err, stock.ErrNotFound)

	_, err = f.svc.SetQuantity(ctx, "u1", it.ID, 0)
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
}

func TestRemoveAndClear(t *testing.T) {
	f := newFixture(t, unit("a", 5, 100), unit("b", 5, 100))
	ctx := context.Background()
	a := f.add(t, "u1", "a", 1).Item
	f.add(t, "u1", "b", 1)
	other := f.add(t, "u2", "a", 1).Item

	require.NoError(t, f.svc.Remove(ctx, "u2", a.ID))
	lines, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	require.NoError(t, f.svc.Remove(ctx, "u1", a.ID))
	require.NoError(t, f.svc.Clear(ctx, "u1"))
	lines, err = f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = f.svc.List(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, other.ID, lines[0].Item.ID)
}

func TestListCleansStaleRows(t *testing.T) {
	f := newFixture(t, unit("keep", 5, 100), unit("gone", 5, 100), unit("off", 5, 100), unit("old", 5, 100))
	ctx := context.Background()
	f.add(t, "u1", "old", 1)
	f.clock = f.clock.Add(29 * 24 * time.Hour)
	f.add(t, "u1", "keep", 1)
	f.add(t, "u1", "gone", 1)
	f.add(t, "u1", "off", 1)
	f.clock = f.clock.Add(2 * 24 * time.Hour)

	f.mem.SoftDelete(stock.Product("gone"), f.clock)
	f.mem.SetActive(stock.Product("off"), false)

	lines, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "keep", lines[0].Unit.Ref.ID)

	// expired and deleted rows are gone for good; the inactive one comes back
	f.mem.SetActive(stock.Product("off"), true)
	f.mem.PutUnit(stock.Unit{Ref: stock.Product("gone"), Name: "gone", PriceCents: 100, Active: true})
	lines, err = f.svc.List(ctx, "u1")
	require.NoError(t, err)
	ids := []string{}
	for _, l := range lines {
		ids = append(ids, l.Unit.Ref.ID)
	}
	assert.ElementsMatch(t, []string{"keep", "off"}, ids)
}

func TestViewTotals(t *testing.T) {
	sale := unit("sale", 2, 1000)
	sale.SalePriceCents = 800
	f := newFixture(t, sale, unit("full", 10, 5000))
	ctx := context.Background()
	f.add(t, "u1", "sale", 2)
	f.clock = f.clock.Add(time.Minute)
	f.add(t, "u1", "full", 1)
	f.mem.CorruptStock(stock.Product("sale"), 1)

	v, err := f.svc.View(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, v.Items, 2)
	assert.Equal(t, 1, v.Items[0].BillableQuantity)
	assert.Equal(t, 800, v.Items[0].LineTotalCents)
	assert.Equal(t, 5800, v.SubtotalCents)
	assert.Equal(t, 1000, v.ShippingCents)
	assert.Equal(t, 580, v.TaxCents)
	assert.Equal(t, 7380, v.TotalCents)
	assert.Equal(t, 2, v.ItemCount)
}

func TestPrepareCheckoutAppliesCaps(t *testing.T) {
	f := newFixture(t, unit("p1", 5, 1000))
	ctx := context.Background()
	it := f.add(t, "u1", "p1", 1).Item
	_, err := f.svc.SetQuantity(ctx, "u1", it.ID, 8)
	require.NoError(t, err)

	res, err := f.svc.PrepareCheckout(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, []string{"p1: quantity reduced to 5 - only 5 left"}, res.Summary())

	lines, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, lines[0].Item.Quantity)
}

func TestPrepareCheckoutBlocked(t *testing.T) {
	f := newFixture(t, unit("p1", 5, 1000), unit("p2", 5, 1000))
	ctx := context.Background()
	f.add(t, "u1", "p1", 1)
	f.add(t, "u1", "p2", 1)
	f.mem.CorruptStock(stock.Product("p2"), 0)

	res, err := f.svc.PrepareCheckout(ctx, "u1")

	require.ErrorIs(t, err, cart.ErrValidationBlocked)
	var blocked *cart.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.False(t, res.Valid)
	require.Len(t, blocked.Result.Errors, 1)
	assert.Equal(t, cart.CodeOutOfStock, blocked.Result.Errors[0].Code)

	require.NoError(t, f.svc.RemoveUnavailable(ctx, "u1", blocked.Result))
	res, err = f.svc.PrepareCheckout(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestApplyAdjustmentsOnlyLowers(t *testing.T) {
	f := newFixture(t, unit("p1", 50, 1000))
	ctx := context.Background()
	it := f.add(t, "u1", "p1", 3).Item

	err := f.svc.ApplyAdjustments(ctx, "u1", []cart.Adjustment{
		{ItemID: it.ID, Old: 8, New: 5},
		{ItemID: "missing", Old: 2, New: 1},
	})
	require.NoError(t, err)

	lines, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, lines[0].Item.Quantity)
}

func TestSweeperPurgesExpired(t *testing.T) {
	f := newFixture(t, unit("p1", 5, 100), unit("p2", 5, 100))
	f.add(t, "u1", "p1", 1)
	f.clock = f.clock.Add(20 * 24 * time.Hour)
	f.add(t, "u1", "p2", 1)

	sw := &cart.Sweeper{Store: f.mem.Carts(), Log: f.svc.Log, Now: func() time.Time { return f.clock.Add(15 * 24 * time.Hour) }}
	n, err := sw.SweepOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	items, err := f.mem.Carts().List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].Unit.ID)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		(&cart.Sweeper{Store: f.mem.Carts(), Interval: time.Millisecond, Log: f.svc.Log}).Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
