package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-stock/internal/kafka"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-stock/internal/inventory")

var ErrInvalidTransition = errors.New("invalid refund transition")

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Publishers may be left nil; events are then dropped.
type Publishers struct {
	Changed  Publisher
	Low      Publisher
	Rejected Publisher
}

// Service holds the order-side hooks onto the ledger: fulfillment,
// cancellation, refund returns and manual corrections. Each is a thin caller
// of the ledger that only picks the reason and reference.
type Service struct {
	Ledger            *stock.Ledger
	Events            Publishers
	LowStockThreshold int
	ServiceName       string
	Log               *zap.Logger
}

func NewService(ledger *stock.Ledger, events Publishers, lowStockThreshold int, serviceName string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Ledger:            ledger,
		Events:            events,
		LowStockThreshold: lowStockThreshold,
		ServiceName:       serviceName,
		Log:               log,
	}
}

func checkLines(orderID string, lines []OrderLine) error {
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", stock.ErrNotFound)
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: order %s has no lines", stock.ErrInvalidQuantity, orderID)
	}
	for i, l := range lines {
		if l.Quantity < 1 {
			return fmt.Errorf("%w: order %s line %d quantity %d", stock.ErrInvalidQuantity, orderID, i, l.Quantity)
		}
	}
	return nil
}

// ReserveForOrder takes stock for every line of a confirmed order in one
// all-or-nothing unit. Calling it again for the same order returns the
// entries of the first call.
func (s *Service) ReserveForOrder(ctx context.Context, orderID, actor string, lines []OrderLine) ([]stock.Entry, error) {
	ctx, span := tracer.Start(ctx, "inventory.ReserveForOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int("order.lines", len(lines)))

	if err := checkLines(orderID, lines); err != nil {
		return nil, err
	}
	adjs := make([]stock.Adjustment, 0, len(lines))
	for _, l := range lines {
		adjs = append(adjs, stock.Adjustment{
			Unit: l.Unit, Delta: -l.Quantity, Reason: stock.ReasonSale, Actor: actor, ReferenceID: orderID,
		})
	}
	entries, applied, err := s.Ledger.ApplyOnce(ctx, orderID, stock.ReasonSale, adjs)
	if err != nil {
		return nil, err
	}
	if applied {
		s.Log.Info("order stock reserved", zap.String("order_id", orderID), zap.Int("lines", len(entries)))
		s.publishChanged(ctx, entries)
	}
	return entries, nil
}

// ReturnForRefund puts stock back for returned or cancelled lines. reason
// must be RETURN or CANCELLATION; a RETURN needs the refund id it belongs to.
// The same refund, or a second cancellation of the order, restocks once, and
// no line gets back more than the order still has outstanding.
func (s *Service) ReturnForRefund(ctx context.Context, orderID, refundID, actor string, reason stock.Reason, lines []OrderLine, notes string) ([]stock.Entry, error) {
	ctx, span := tracer.Start(ctx, "inventory.ReturnForRefund")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("refund.id", refundID), attribute.String("stock.reason", string(reason)))

	if reason != stock.ReasonReturn && reason != stock.ReasonCancellation {
		return nil, fmt.Errorf("%w: %q is not a return reason", stock.ErrInvalidReason, reason)
	}
	if err := checkLines(orderID, lines); err != nil {
		return nil, err
	}
	restock := make([]stock.RestockLine, 0, len(lines))
	for _, l := range lines {
		restock = append(restock, stock.RestockLine{Unit: l.Unit, Quantity: l.Quantity})
	}
	return s.restock(ctx, stock.Restock{
		OrderID: orderID, SourceID: refundID, Reason: reason, Actor: actor, Notes: notes, Lines: restock,
	})
}

// CancelOrder restocks whatever the order's SALE entries took and was not
// already returned.
func (s *Service) CancelOrder(ctx context.Context, orderID, actor, notes string) ([]stock.Entry, error) {
	ctx, span := tracer.Start(ctx, "inventory.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", stock.ErrNotFound)
	}
	return s.restock(ctx, stock.Restock{
		OrderID: orderID, Reason: stock.ReasonCancellation, Actor: actor, Notes: notes,
	})
}

func (s *Service) restock(ctx context.Context, req stock.Restock) ([]stock.Entry, error) {
	entries, applied, err := s.Ledger.Restock(ctx, req)
	if err != nil {
		return nil, err
	}
	if !applied {
		return entries, nil
	}
	s.Log.Info("order stock returned", zap.String("order_id", req.OrderID), zap.String("refund_id", req.SourceID),
		zap.String("reason", string(req.Reason)), zap.Int("lines", len(entries)))
	s.publishChanged(ctx, entries)
	return entries, nil
}

// Refund is the slice of a refund record the hook needs.
type Refund struct {
	ID      string       `json:"id"`
	OrderID string       `json:"order_id"`
	Status  RefundStatus `json:"status"`
	Lines   []OrderLine  `json:"lines"`
}

// TransitionRefund checks the state move and calls the return hook only when
// the refund becomes PROCESSED.
func (s *Service) TransitionRefund(ctx context.Context, r Refund, to RefundStatus, actor string) ([]stock.Entry, error) {
	if !CanTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	if to != RefundProcessed {
		return nil, nil
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: refund id is required", stock.ErrInvalidReason)
	}
	return s.ReturnForRefund(ctx, r.OrderID, r.ID, actor, stock.ReasonReturn, r.Lines, "refund "+r.ID)
}

// Receive books incoming stock.
func (s *Service) Receive(ctx context.Context, ref stock.UnitRef, qty int, actor, notes string) (stock.Entry, error) {
	if qty < 1 {
		return stock.Entry{}, fmt.Errorf("%w: received quantity must be positive", stock.ErrInvalidQuantity)
	}
	return s.ManualAdjust(ctx, ref, qty, stock.ReasonReceiving, actor, notes, "")
}

// Correct fixes a miscount in either direction.
func (s *Service) Correct(ctx context.Context, ref stock.UnitRef, delta int, actor, notes string) (stock.Entry, error) {
	return s.ManualAdjust(ctx, ref, delta, stock.ReasonAdjustmentManual, actor, notes, "")
}

// ManualAdjust is the admin path; it accepts RECEIVING and ADJUSTMENT_MANUAL
// and gets no exemption from the non-negative check.
func (s *Service) ManualAdjust(ctx context.Context, ref stock.UnitRef, delta int, reason stock.Reason, actor, notes, referenceID string) (stock.Entry, error) {
	if reason != stock.ReasonReceiving && reason != stock.ReasonAdjustmentManual {
		return stock.Entry{}, fmt.Errorf("%w: %q is not a manual reason", stock.ErrInvalidReason, reason)
	}
	e, err := s.Ledger.Adjust(ctx, stock.Adjustment{
		Unit: ref, Delta: delta, Reason: reason, Actor: actor, Notes: notes, ReferenceID: referenceID,
	})
	if err != nil {
		return stock.Entry{}, err
	}
	s.Log.Info("manual stock adjustment", zap.String("unit", ref.String()), zap.Int("change", delta),
		zap.Int("new_stock", e.NewStock), zap.String("reason", string(reason)), zap.String("actor", actor))
	s.publishChanged(ctx, []stock.Entry{e})
	return e, nil
}

func (s *Service) publishChanged(ctx context.Context, entries []stock.Entry) {
	for _, e := range entries {
		s.publish(ctx, s.Events.Changed, EventStockChanged, e.Unit.String(), StockChangedPayload{
			Unit: e.Unit, EntryID: e.ID, ChangeAmount: e.ChangeAmount, NewStock: e.NewStock,
			Reason: e.Reason, ReferenceID: e.ReferenceID, Actor: e.Actor,
		})
		if e.ChangeAmount < 0 && e.NewStock <= s.LowStockThreshold {
			s.publish(ctx, s.Events.Low, EventStockLow, e.Unit.String(), StockLowPayload{
				Unit: e.Unit, Stock: e.NewStock, Threshold: s.LowStockThreshold,
			})
		}
	}
}

func (s *Service) publishRejected(ctx context.Context, orderID string, shortages []stock.Shortage) {
	s.publish(ctx, s.Events.Rejected, EventStockRejected, orderID, StockRejectedPayload{
		OrderID: orderID, Reason: "OUT_OF_STOCK", Shortages: shortages,
	})
}

func (s *Service) publish(ctx context.Context, p Publisher, eventType, key string, payload any) {
	if p == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID(ctx),
		CorrelationID: key,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(key), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
