package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-stock/internal/stock")

// Ledger is the only writer of stock. Every change goes through apply, which
// locks the touched units, checks non-negativity, then writes the new counters
// and one entry per adjustment in the same transaction.
type Ledger struct {
	Store Store
	Log   *zap.Logger
	Now   func() time.Time
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{Store: store, Log: log, Now: time.Now}
}

// Adjust applies a single signed change and returns the written entry.
func (l *Ledger) Adjust(ctx context.Context, adj Adjustment) (Entry, error) {
	entries, err := l.AdjustBatch(ctx, []Adjustment{adj})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// AdjustBatch applies all adjustments or none. Entries come back in input order.
func (l *Ledger) AdjustBatch(ctx context.Context, adjs []Adjustment) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "stock.AdjustBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("stock.lines", len(adjs)))

	if err := validate(adjs); err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.StockRejections.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var out []Entry
	err := l.Store.InTx(ctx, func(tx Tx) error {
		entries, err := l.apply(ctx, tx, adjs)
		if err != nil {
			return err
		}
		out = entries
		return nil
	})
	if err != nil {
		l.reject(err, adjs)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	l.record(out)
	return out, nil
}

// ApplyOnce is AdjustBatch keyed by (referenceID, reason): when entries with
// that key already exist they are returned and nothing is written. The check
// runs after the units are locked, so concurrent callers cannot both apply.
func (l *Ledger) ApplyOnce(ctx context.Context, referenceID string, reason Reason, adjs []Adjustment) (entries []Entry, applied bool, err error) {
	ctx, span := tracer.Start(ctx, "stock.ApplyOnce")
	defer span.End()
	span.SetAttributes(attribute.String("stock.reference_id", referenceID), attribute.String("stock.reason", string(reason)))

	if referenceID == "" {
		return nil, false, fmt.Errorf("%w: reference id is required", ErrInvalidReason)
	}
	for i := range adjs {
		if adjs[i].Reason != reason || adjs[i].ReferenceID != referenceID {
			return nil, false, fmt.Errorf("%w: line %d does not match %s/%s", ErrInvalidReason, i, reason, referenceID)
		}
	}
	if err := validate(adjs); err != nil {
		metrics.StockRejections.WithLabelValues("invalid").Inc()
		return nil, false, err
	}

	err = l.Store.InTx(ctx, func(tx Tx) error {
		entries, applied = nil, false
		units, err := l.lockAll(ctx, tx, adjs)
		if err != nil {
			return err
		}
		prior, err := tx.EntriesByReference(ctx, referenceID, reason)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			entries, applied = prior, false
			return nil
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
	if applied {
		l.record(entries)
	} else {
		l.Log.Info("stock change already applied",
			zap.String("reference_id", referenceID), zap.String("reason", string(reason)), zap.Int("entries", len(entries)))
	}
	return entries, applied, nil
}

func validate(adjs []Adjustment) error {
	if len(adjs) == 0 {
		return fmt.Errorf("%w: no adjustments", ErrInvalidQuantity)
	}
	for i, a := range adjs {
		if !a.Unit.Kind.Valid() || a.Unit.ID == "" {
			return fmt.Errorf("%w: line %d unit %q", ErrNotFound, i, a.Unit)
		}
		if a.Delta == 0 {
			return fmt.Errorf("%w: line %d change amount is zero", ErrInvalidQuantity, i)
		}
		if !a.Reason.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidReason, a.Reason)
		}
		if a.Actor == "" {
			return ErrMissingActor
		}
	}
	return nil
}

// lockAll takes the row locks in (kind, id) order so two multi-line orders
// touching the same units cannot deadlock.
func (l *Ledger) lockAll(ctx context.Context, tx Tx, adjs []Adjustment) (map[UnitRef]Unit, error) {
	refs := make([]UnitRef, 0, len(adjs))
	seen := make(map[UnitRef]bool, len(adjs))
	for _, a := range adjs {
		if !seen[a.Unit] {
			seen[a.Unit] = true
			refs = append(refs, a.Unit)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return less(refs[i], refs[j]) })

	units := make(map[UnitRef]Unit, len(refs))
	for _, ref := range refs {
		u, err := tx.LockUnit(ctx, ref)
		if err != nil {
			return nil, err
		}
		if u.Deleted() {
			return nil, fmt.Errorf("%w: %s is deleted", ErrNotFound, ref)
		}
		units[ref] = u
	}
	return units, nil
}

func (l *Ledger) apply(ctx context.Context, tx Tx, adjs []Adjustment) ([]Entry, error) {
	units, err := l.lockAll(ctx, tx, adjs)
	if err != nil {
		return nil, err
	}
	return l.applyLocked(ctx, tx, units, adjs)
}

func (l *Ledger) applyLocked(ctx context.Context, tx Tx, units map[UnitRef]Unit, adjs []Adjustment) ([]Entry, error) {
	balance := make(map[UnitRef]int, len(units))
	for ref, u := range units {
		balance[ref] = u.Stock
	}

	now := l.now()
	entries := make([]Entry, 0, len(adjs))
	var shortages []Shortage
	for _, a := range adjs {
		next := balance[a.Unit] + a.Delta
		if next < 0 {
			shortages = append(shortages, Shortage{Unit: a.Unit, Requested: -a.Delta, Available: balance[a.Unit]})
			continue
		}
		balance[a.Unit] = next
		u := units[a.Unit]
		entries = append(entries, Entry{
			ID:           uuid.NewString(),
			Unit:         a.Unit,
			ProductID:    u.ProductID,
			VariantID:    u.VariantID(),
			ChangeAmount: a.Delta,
			NewStock:     next,
			Reason:       a.Reason,
			ReferenceID:  a.ReferenceID,
			SourceID:     a.SourceID,
			Notes:        a.Notes,
			Actor:        a.Actor,
			CreatedAt:    now,
		})
	}
	if len(shortages) > 0 {
		return nil, &InsufficientStockError{Shortages: shortages}
	}

	refs := make([]UnitRef, 0, len(balance))
	for ref := range balance {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return less(refs[i], refs[j]) })
	for _, ref := range refs {
		if balance[ref] == units[ref].Stock {
			continue
		}
		if err := tx.SetStock(ctx, ref, balance[ref]); err != nil {
			return nil, err
		}
	}
	for _, e := range entries {
		if err := tx.AppendEntry(ctx, e); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (l *Ledger) record(entries []Entry) {
	for _, e := range entries {
		metrics.StockAdjustments.WithLabelValues(string(e.Reason)).Inc()
		l.Log.Debug("stock adjusted",
			zap.String("unit", e.Unit.String()),
			zap.Int("change", e.ChangeAmount),
			zap.Int("new_stock", e.NewStock),
			zap.String("reason", string(e.Reason)),
			zap.String("reference_id", e.ReferenceID),
			zap.String("actor", e.Actor))
	}
}

func (l *Ledger) reject(err error, adjs []Adjustment) {
	var short *InsufficientStockError
	switch {
	case errors.As(err, &short):
		metrics.StockRejections.WithLabelValues("insufficient_stock").Inc()
		l.Log.Warn("stock adjustment rejected", zap.Error(err), zap.Int("lines", len(adjs)))
	case errors.Is(err, ErrNotFound):
		metrics.StockRejections.WithLabelValues("not_found").Inc()
		l.Log.Warn("stock adjustment rejected", zap.Error(err))
	default:
		metrics.StockRejections.WithLabelValues("error").Inc()
		l.Log.Error("stock adjustment failed", zap.Error(err))
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) Unit(ctx context.Context, ref UnitRef) (Unit, error) {
	return l.Store.Unit(ctx, ref)
}

func (l *Ledger) Entries(ctx context.Context, ref UnitRef, limit int) ([]Entry, error) {
	if _, err := l.Store.Unit(ctx, ref); err != nil {
		return nil, err
	}
	return l.Store.Entries(ctx, ref, limit)
}

func (l *Ledger) EntriesByReference(ctx context.Context, referenceID string, reason Reason) ([]Entry, error) {
	return l.Store.EntriesByReference(ctx, referenceID, reason)
}

// LowStock lists purchasable units with 0 < stock <= threshold.
func (l *Ledger) LowStock(ctx context.Context, threshold int) ([]Unit, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidQuantity)
	}
	return l.Store.ListUnits(ctx, UnitFilter{MinStock: 1, MaxStock: threshold})
}

// OutOfStock lists purchasable units with stock 0.
func (l *Ledger) OutOfStock(ctx context.Context) ([]Unit, error) {
	return l.Store.ListUnits(ctx, UnitFilter{MinStock: 0, MaxStock: 0})
}
