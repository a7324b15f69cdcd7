package inventory_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ariefcatur/go-storefront-stock/internal/inventory"
	"github.com/ariefcatur/go-storefront-stock/internal/memstore"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	m.Called(string(key), value)
}

// envelopes decodes every published value.
func (m *mockPublisher) envelopes(t *testing.T) []inventory.Envelope {
	t.Helper()
	var out []inventory.Envelope
	for _, c := range m.Calls {
		var env inventory.Envelope
		require.NoError(t, json.Unmarshal(c.Arguments.Get(1).([]byte), &env))
		out = append(out, env)
	}
	return out
}

type fixture struct {
	mem      *memstore.Store
	ledger   *stock.Ledger
	svc      *inventory.Service
	changed  *mockPublisher
	low      *mockPublisher
	rejected *mockPublisher
}

func newFixture(t *testing.T, units ...stock.Unit) *fixture {
	t.Helper()
	f := &fixture{mem: memstore.New(), changed: &mockPublisher{}, low: &mockPublisher{}, rejected: &mockPublisher{}}
	for _, u := range units {
		f.mem.PutUnit(u)
	}
	f.changed.On("Publish", mock.Anything, mock.Anything).Maybe()
	f.low.On("Publish", mock.Anything, mock.Anything).Maybe()
	f.rejected.On("Publish", mock.Anything, mock.Anything).Maybe()

	f.ledger = stock.NewLedger(f.mem.Stock(), nil)
	f.svc = inventory.NewService(f.ledger,
		inventory.Publishers{Changed: f.changed, Low: f.low, Rejected: f.rejected}, 5, "stock-test", nil)
	return f
}

func product(id string, qty int) stock.Unit {
	return stock.Unit{Ref: stock.Product(id), Name: id, PriceCents: 1000, Stock: qty, Active: true}
}

func lines(pairs ...any) []inventory.OrderLine {
	var out []inventory.OrderLine
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, inventory.OrderLine{Unit: stock.Product(pairs[i].(string)), Quantity: pairs[i+1].(int)})
	}
	return out
}

func (f *fixture) stockOf(t *testing.T, id string) int {
	t.Helper()
	u, err := f.ledger.Unit(context.Background(), stock.Product(id))
	require.NoError(t, err)
	return u.Stock
}

func TestReserveForOrder(t *testing.T) {
	f := newFixture(t, product("a", 10), product("b", 4))

	entries, err := f.svc.ReserveForOrder(context.Background(), "o-1", "user:1", lines("a", 2, "b", 1))

	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, stock.ReasonSale, e.Reason)
		assert.Equal(t, "o-1", e.ReferenceID)
	}
	assert.Equal(t, 8, f.stockOf(t, "a"))
	assert.Equal(t, 3, f.stockOf(t, "b"))

	f.changed.AssertNumberOfCalls(t, "Publish", 2)
	f.low.AssertNumberOfCalls(t, "Publish", 1)
	env := f.low.envelopes(t)[0]
	assert.Equal(t, inventory.EventStockLow, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "stock-test", env.Producer)
}

func TestReserveForOrderShortageLeavesEverything(t *testing.T) {
	f := newFixture(t, product("a", 10), product("b", 1))

	_, err := f.svc.ReserveForOrder(context.Background(), "o-1", "user:1", lines("a", 2, "b", 2))

	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 10, f.stockOf(t, "a"))
	assert.Equal(t, 1, f.stockOf(t, "b"))
	f.changed.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestReserveForOrderTwiceTakesStockOnce(t *testing.T) {
	f := newFixture(t, product("a", 10))
	ctx := context.Background()

	first, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 3))
	require.NoError(t, err)
	second, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 3))
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 7, f.stockOf(t, "a"))
	f.changed.AssertNumberOfCalls(t, "Publish", 1)
}

func TestReserveForOrderValidation(t *testing.T) {
	f := newFixture(t, product("a", 10))
	ctx := context.Background()

	_, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", nil)
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 0))
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = f.svc.ReserveForOrder(ctx, "o-1", "", lines("a", 1))
	assert.ErrorIs(t, err, stock.ErrMissingActor)
}

func TestRefundProcessedReturnsStock(t *testing.T) {
	f := newFixture(t, product("a", 10))
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 5))
	require.NoError(t, err)

	refund := inventory.Refund{ID: "r-1", OrderID: "o-1", Status: inventory.RefundApproved, Lines: lines("a", 3)}
	entries, err := f.svc.TransitionRefund(ctx, refund, inventory.RefundProcessed, "admin:1")

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].ChangeAmount)
	assert.Equal(t, stock.ReasonReturn, entries[0].Reason)
	assert.Equal(t, "o-1", entries[0].ReferenceID)
	assert.Equal(t, 8, f.stockOf(t, "a"))

	returned, err := f.ledger.EntriesByReference(ctx, "o-1", stock.ReasonReturn)
	require.NoError(t, err)
	assert.Len(t, returned, 1)
}

func TestRefundTransitions(t *testing.T) {
	f := newFixture(t, product("a", 10))
	ctx := context.Background()
	r := inventory.Refund{ID: "r-1", OrderID: "o-1", Lines: lines("a", 1)}

	cases := []struct {
		from, to inventory.RefundStatus
		ok       bool
	}{
		{inventory.RefundPending, inventory.RefundApproved, true},
		{inventory.RefundPending, inventory.RefundRejected, true},
		{inventory.RefundApproved, inventory.RefundRejected, true},
		{inventory.RefundPending, inventory.RefundProcessed, false},
		{inventory.RefundRejected, inventory.RefundApproved, false},
		{inventory.RefundProcessed, inventory.RefundProcessed, false},
	}
	for _, tc := range cases {
		r.Status = tc.from
		entries, err := f.svc.TransitionRefund(ctx, r, tc.to, "admin:1")
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
			assert.Empty(t, entries)
		} else {
			assert.ErrorIs(t, err, inventory.ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
	assert.Equal(t, 10, f.stockOf(t, "a"))
}

func TestReturnRejectsOtherReasons(t *testing.T) {
	f := newFixture(t, product("a", 10))

	_, err := f.svc.ReturnForRefund(context.Background(), "o-1", "r-1", "admin:1", stock.ReasonSale, lines("a", 1), "")
	assert.ErrorIs(t, err, stock.ErrInvalidReason)

	_, err = f.svc.ReturnForRefund(context.Background(), "o-1", "", "admin:1", stock.ReasonReturn, lines("a", 1), "")
	assert.ErrorIs(t, err, stock.ErrInvalidReason)
	assert.Equal(t, 10, f.stockOf(t, "a"))
}

func TestCancelOrderRestocksOnce(t *testing.T) {
	f := newFixture(t, product("a", 10), product("b", 10))
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 2, "b", 3))
	require.NoError(t, err)

	entries, err := f.svc.CancelOrder(ctx, "o-1", "user:1", "changed my mind")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, stock.ReasonCancellation, entries[0].Reason)

	_, err = f.svc.CancelOrder(ctx, "o-1", "user:1", "")
	require.NoError(t, err)
	assert.Equal(t, 10, f.stockOf(t, "a"))
	assert.Equal(t, 10, f.stockOf(t, "b"))

	_, err = f.svc.CancelOrder(ctx, "o-unknown", "user:1", "")
	assert.ErrorIs(t, err, stock.ErrNotFound)
}

func TestCancelAfterFullRefundRestocksNothing(t *testing.T) {
	f := newFixture(t, product("a", 10))
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 3))
	require.NoError(t, err)
	refund := inventory.Refund{ID: "r-1", OrderID: "o-1", Status: inventory.RefundApproved, Lines: lines("a", 3)}
	_, err = f.svc.TransitionRefund(ctx, refund, inventory.RefundProcessed, "admin:1")
	require.NoError(t, err)
	require.Equal(t, 10, f.stockOf(t, "a"))
	published := len(f.changed.Calls)

	entries, err := f.svc.CancelOrder(ctx, "o-1", "user:1", "")

	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 10, f.stockOf(t, "a"))
	cancelled, err := f.ledger.EntriesByReference(ctx, "o-1", stock.ReasonCancellation)
	require.NoError(t, err)
	assert.Empty(t, cancelled)
	assert.Len(t, f.changed.Calls, published)
}

func TestCancelAfterPartialRefundRestocksRemainder(t *testing.T) {
	f := newFixture(t, product("a", 10), product("b", 10))
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 4, "b", 2))
	require.NoError(t, err)
	_, err = f.svc.ReturnForRefund(ctx, "o-1", "r-1", "admin:1", stock.ReasonReturn, lines("a", 1, "b", 2), "")
	require.NoError(t, err)

	entries, err := f.svc.CancelOrder(ctx, "o-1", "user:1", "")

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, stock.Product("a"), entries[0].Unit)
	assert.Equal(t, 3, entries[0].ChangeAmount)
	assert.Equal(t, 10, f.stockOf(t, "a"))
	assert.Equal(t, 10, f.stockOf(t, "b"))
}

func TestRefundProcessedTwiceRestocksOnce(t *testing.T) {
	f := newFixture(t, product("a", 10))
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 5))
	require.NoError(t, err)
	refund := inventory.Refund{ID: "r-1", OrderID: "o-1", Status: inventory.RefundApproved, Lines: lines("a", 3)}

	first, err := f.svc.TransitionRefund(ctx, refund, inventory.RefundProcessed, "admin:1")
	require.NoError(t, err)
	published := len(f.changed.Calls)
	second, err := f.svc.TransitionRefund(ctx, refund, inventory.RefundProcessed, "admin:1")
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 8, f.stockOf(t, "a"))
	assert.Len(t, f.changed.Calls, published)
	assert.Equal(t, "r-1", first[0].SourceID)

	other := inventory.Refund{ID: "r-2", OrderID: "o-1", Status: inventory.RefundApproved, Lines: lines("a", 2)}
	_, err = f.svc.TransitionRefund(ctx, other, inventory.RefundProcessed, "admin:1")
	require.NoError(t, err)
	assert.Equal(t, 10, f.stockOf(t, "a"))
}

func TestReturnBeyondSoldIsRejected(t *testing.T) {
	f := newFixture(t, product("a", 10))
	ctx := context.Background()
	_, err := f.svc.ReserveForOrder(ctx, "o-1", "user:1", lines("a", 2))
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, "o-1", "user:1", "")
	require.NoError(t, err)

	_, err = f.svc.ReturnForRefund(ctx, "o-1", "r-1", "admin:1", stock.ReasonReturn, lines("a", 1), "")

	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
	assert.Equal(t, 10, f.stockOf(t, "a"))
}

func TestManualAdjust(t *testing.T) {
	f := newFixture(t, product("a", 2))
	ctx := context.Background()

	e, err := f.svc.Receive(ctx, stock.Product("a"), 10, "admin:1", "PO-7")
	require.NoError(t, err)
	assert.Equal(t, stock.ReasonReceiving, e.Reason)
	assert.Equal(t, 12, e.NewStock)

	e, err = f.svc.Correct(ctx, stock.Product("a"), -4, "admin:1", "cycle count")
	require.NoError(t, err)
	assert.Equal(t, 8, e.NewStock)

	_, err = f.svc.Correct(ctx, stock.Product("a"), -9, "admin:1", "")
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	_, err = f.svc.Receive(ctx, stock.Product("a"), 0, "admin:1", "")
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)

	_, err = f.svc.ManualAdjust(ctx, stock.Product("a"), 1, stock.ReasonSale, "admin:1", "", "")
	assert.ErrorIs(t, err, stock.ErrInvalidReason)

	_, err = f.svc.Receive(ctx, stock.Product("a"), 1, "", "")
	assert.ErrorIs(t, err, stock.ErrMissingActor)
}

func TestNilPublishersAreSkipped(t *testing.T) {
	mem := memstore.New()
	mem.PutUnit(product("a", 3))
	svc := inventory.NewService(stock.NewLedger(mem.Stock(), nil), inventory.Publishers{}, 5, "stock-test", nil)

	_, err := svc.ReserveForOrder(context.Background(), "o-1", "user:1", lines("a", 1))

	assert.NoError(t, err)
}
