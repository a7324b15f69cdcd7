package stock

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-stock/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RestockLine puts Quantity units back.
type RestockLine struct {
	Unit     UnitRef
	Quantity int
}

// Restock gives back stock an order took with its SALE entries.
type Restock struct {
	OrderID string
	// SourceID keys a RETURN to its refund. CANCELLATION is keyed by the
	// order alone.
	SourceID string
	Reason   Reason
	Actor    string
	Notes    string
	// Lines nil restocks everything the order still has outstanding.
	Lines []RestockLine
}

// Restock applies req once. A repeat of the same refund, or any second
// cancellation of the order, returns the entries already written with
// applied false. When the order has sales, no unit gets back more than its
// outstanding quantity: sold minus what was already returned or cancelled.
// A cancellation with nothing outstanding writes nothing.
func (l *Ledger) Restock(ctx context.Context, req Restock) (entries []Entry, applied bool, err error) {
	ctx, span := tracer.Start(ctx, "stock.Restock")
	defer span.End()
	span.SetAttributes(
		attribute.String("stock.reference_id", req.OrderID),
		attribute.String("stock.source_id", req.SourceID),
		attribute.String("stock.reason", string(req.Reason)))

	if err := req.validate(); err != nil {
		metrics.StockRejections.WithLabelValues("invalid").Inc()
		return nil, false, err
	}

	var adjs []Adjustment
	err = l.Store.InTx(ctx, func(tx Tx) error {
		entries, applied = nil, false
		lines := req.Lines
		if lines == nil {
			sold, err := tx.EntriesByReference(ctx, req.OrderID, ReasonSale)
			if err != nil {
				return err
			}
			if len(sold) == 0 {
				return fmt.Errorf("%w: no sale recorded for order %s", ErrNotFound, req.OrderID)
			}
			lines = soldLines(sold)
		}
		adjs = req.adjustments(lines)

		units, err := l.lockAll(ctx, tx, adjs)
		if err != nil {
			return err
		}
		prior, err := req.prior(ctx, tx)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			entries = prior
			return nil
		}
		open, hasSales, err := outstanding(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if req.Lines == nil {
			adjs = capToOutstanding(adjs, open)
			if len(adjs) == 0 {
				return nil
			}
		} else if hasSales {
			if err := checkOutstanding(adjs, open); err != nil {
				return err
			}
		}
		written, err := l.applyLocked(ctx, tx, units, adjs)
		if err != nil {
			return err
		}
		entries, applied = written, true
		return nil
	})
	if err != nil {
		l.reject(err, adjs)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	switch {
	case applied:
		l.record(entries)
	case len(entries) > 0:
		l.Log.Info("restock already applied",
			zap.String("order_id", req.OrderID), zap.String("source_id", req.SourceID),
			zap.String("reason", string(req.Reason)), zap.Int("entries", len(entries)))
	default:
		l.Log.Info("nothing outstanding to restock",
			zap.String("order_id", req.OrderID), zap.String("reason", string(req.Reason)))
	}
	return entries, applied, nil
}

func (req Restock) validate() error {
	if req.Reason != ReasonReturn && req.Reason != ReasonCancellation {
		return fmt.Errorf("%w: %q does not restock", ErrInvalidReason, req.Reason)
	}
	if req.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidReason)
	}
	if req.Reason == ReasonReturn && req.SourceID == "" {
		return fmt.Errorf("%w: refund id is required", ErrInvalidReason)
	}
	if req.Actor == "" {
		return ErrMissingActor
	}
	if req.Lines != nil && len(req.Lines) == 0 {
		return fmt.Errorf("%w: no lines", ErrInvalidQuantity)
	}
	for i, ln := range req.Lines {
		if !ln.Unit.Kind.Valid() || ln.Unit.ID == "" {
			return fmt.Errorf("%w: line %d unit %q", ErrNotFound, i, ln.Unit)
		}
		if ln.Quantity < 1 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidQuantity, i)
		}
	}
	return nil
}

func (req Restock) sourceID() string {
	if req.Reason == ReasonCancellation {
		return req.OrderID
	}
	return req.SourceID
}

func (req Restock) adjustments(lines []RestockLine) []Adjustment {
	adjs := make([]Adjustment, 0, len(lines))
	for _, ln := range lines {
		adjs = append(adjs, Adjustment{
			Unit:        ln.Unit,
			Delta:       ln.Quantity,
			Reason:      req.Reason,
			Actor:       req.Actor,
			Notes:       req.Notes,
			ReferenceID: req.OrderID,
			SourceID:    req.sourceID(),
		})
	}
	return adjs
}

// prior finds what an earlier run of the same restock wrote.
func (req Restock) prior(ctx context.Context, tx Tx) ([]Entry, error) {
	entries, err := tx.EntriesByReference(ctx, req.OrderID, req.Reason)
	if err != nil || req.Reason == ReasonCancellation {
		return entries, err
	}
	var out []Entry
	for _, e := range entries {
		if e.SourceID == req.SourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// soldLines folds SALE entries into one line per unit, first sale first.
func soldLines(sold []Entry) []RestockLine {
	idx := make(map[UnitRef]int, len(sold))
	var lines []RestockLine
	for _, e := range sold {
		i, ok := idx[e.Unit]
		if !ok {
			i = len(lines)
			idx[e.Unit] = i
			lines = append(lines, RestockLine{Unit: e.Unit})
		}
		lines[i].Quantity -= e.ChangeAmount
	}
	return lines
}

// outstanding is, per unit, what the order sold and has not yet got back.
func outstanding(ctx context.Context, tx Tx, orderID string) (map[UnitRef]int, bool, error) {
	open := make(map[UnitRef]int)
	hasSales := false
	for _, reason := range []Reason{ReasonSale, ReasonReturn, ReasonCancellation} {
		entries, err := tx.EntriesByReference(ctx, orderID, reason)
		if err != nil {
			return nil, false, err
		}
		if reason == ReasonSale && len(entries) > 0 {
			hasSales = true
		}
		for _, e := range entries {
			open[e.Unit] -= e.ChangeAmount
		}
	}
	return open, hasSales, nil
}

func capToOutstanding(adjs []Adjustment, open map[UnitRef]int) []Adjustment {
	out := adjs[:0]
	for _, a := range adjs {
		if n := open[a.Unit]; n > 0 {
			a.Delta = n
			out = append(out, a)
		}
	}
	return out
}

func checkOutstanding(adjs []Adjustment, open map[UnitRef]int) error {
	want := make(map[UnitRef]int, len(adjs))
	for _, a := range adjs {
		want[a.Unit] += a.Delta
	}
	for _, a := range adjs {
		if n := want[a.Unit]; n > open[a.Unit] {
			return fmt.Errorf("%w: %s restocks %d but only %d is outstanding", ErrInvalidQuantity, a.Unit, n, max(open[a.Unit], 0))
		}
	}
	return nil
}
