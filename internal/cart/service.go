package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/metrics"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ReasonMaxQuantity = "max quantity"

type Service struct {
	Store     Store
	Catalog   Catalog
	Validator *Validator
	Opts      Options
	Log       *zap.Logger
	Now       func() time.Time
}

func NewService(store Store, catalog Catalog, opts Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{Store: store, Catalog: catalog, Opts: opts, Log: log, Now: time.Now}
	s.Validator = &Validator{
		Store:             store,
		Catalog:           catalog,
		LowStockThreshold: opts.LowStockThreshold,
		Now:               func() time.Time { return s.now() },
	}
	return s
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) checkQuantity(qty int) error {
	if qty < 1 || qty > s.Opts.MaxQuantity {
		return fmt.Errorf("%w: %d not in [1,%d]", stock.ErrInvalidQuantity, qty, s.Opts.MaxQuantity)
	}
	return nil
}

type AddResult struct {
	Item      Item   `json:"item"`
	Requested int    `json:"requested"`
	Capped    bool   `json:"capped"`
	CapReason string `json:"cap_reason,omitempty"`
}

// Add creates the reservation or increments an existing one for the same
// unit. Unless skipStockCheck is set, a total above live stock is capped
// to the stock and reported rather than refused.
func (s *Service) Add(ctx context.Context, userID string, ref stock.UnitRef, qty int, skipStockCheck bool) (AddResult, error) {
	if userID == "" {
		return AddResult{}, ErrMissingUser
	}
	if err := s.checkQuantity(qty); err != nil {
		return AddResult{}, err
	}
	u, err := s.Catalog.Unit(ctx, ref)
	if err != nil {
		return AddResult{}, err
	}
	if !u.Purchasable() {
		return AddResult{}, fmt.Errorf("%w: %s", stock.ErrUnavailable, ref)
	}

	var res AddResult
	err = s.Store.InTx(ctx, func(tx Tx) error {
		now := s.now()
		existing, found, err := tx.FindByUnit(ctx, userID, ref)
		if err != nil {
			return err
		}
		it := existing
		if !found {
			it = Item{ID: uuid.NewString(), UserID: userID, Unit: ref, CreatedAt: now}
		} else if it.Expired(now) {
			it.Quantity = 0
		}

		total := it.Quantity + qty
		res = AddResult{Requested: total}
		if total > s.Opts.MaxQuantity {
			total, res.Capped, res.CapReason = s.Opts.MaxQuantity, true, ReasonMaxQuantity
		}
		if !skipStockCheck && total > u.Stock {
			if u.Stock <= 0 {
				return fmt.Errorf("%w: %s", ErrOutOfStock, ref)
			}
			total, res.Capped, res.CapReason = u.Stock, true, ReasonStockLimitation
		}

		it.Quantity = total
		it.ExpiresAt = now.Add(s.Opts.TTL)
		it.UpdatedAt = now
		saved, err := tx.Save(ctx, it)
		if err != nil {
			return err
		}
		res.Item = saved
		return nil
	})
	if err != nil {
		return AddResult{}, err
	}
	if res.Capped {
		s.Log.Info("cart quantity capped",
			zap.String("user_id", userID), zap.String("unit", ref.String()),
			zap.Int("requested", res.Requested), zap.Int("quantity", res.Item.Quantity), zap.String("reason", res.CapReason))
	}
	return res, nil
}

// SetQuantity overwrites the quantity of an item the user owns. It does not
// look at stock; checkout validation caps it.
func (s *Service) SetQuantity(ctx context.Context, userID, itemID string, qty int) (Item, error) {
	if userID == "" {
		return Item{}, ErrMissingUser
	}
	if err := s.checkQuantity(qty); err != nil {
		return Item{}, err
	}
	var out Item
	err := s.Store.InTx(ctx, func(tx Tx) error {
		it, err := tx.Get(ctx, userID, itemID)
		if err != nil {
			return err
		}
		now := s.now()
		it.Quantity = qty
		it.ExpiresAt = now.Add(s.Opts.TTL)
		it.UpdatedAt = now
		out, err = tx.Save(ctx, it)
		return err
	})
	return out, err
}

func (s *Service) Remove(ctx context.Context, userID, itemID string) error {
	if userID == "" {
		return ErrMissingUser
	}
	return s.Store.Delete(ctx, userID, itemID)
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUser
	}
	return s.Store.Clear(ctx, userID)
}

// List returns live reservations for purchasable units. Expired rows and rows
// whose unit is gone or soft-deleted are deleted on the way. Rows for
// inactive units are hidden but kept, since the unit may come back.
func (s *Service) List(ctx context.Context, userID string) ([]Line, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	items, err := s.Store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	refs := make([]stock.UnitRef, 0, len(items))
	for _, it := range items {
		refs = append(refs, it.Unit)
	}
	units, err := s.Catalog.Units(ctx, refs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	lines := make([]Line, 0, len(items))
	var stale []string
	for _, it := range items {
		u, ok := units[it.Unit]
		switch {
		case it.Expired(now), !ok, u.Deleted():
			stale = append(stale, it.ID)
		case !u.Active:
		default:
			lines = append(lines, Line{Item: it, Unit: u})
		}
	}
	if len(stale) > 0 {
		n, err := s.Store.DeleteIDs(ctx, stale)
		if err != nil {
			s.Log.Warn("cart cleanup failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			metrics.CartPurged.Add(float64(n))
		}
	}
	return lines, nil
}

// View is List plus derived totals.
func (s *Service) View(ctx context.Context, userID string) (View, error) {
	lines, err := s.List(ctx, userID)
	if err != nil {
		return View{}, err
	}
	return Totals(userID, lines, s.Opts), nil
}

func (s *Service) Validate(ctx context.Context, userID string) (Result, error) {
	return s.Validator.Validate(ctx, userID)
}

// PrepareCheckout validates the cart and, when nothing blocks, persists the
// capped quantities. A blocked cart returns *BlockedError.
func (s *Service) PrepareCheckout(ctx context.Context, userID string) (Result, error) {
	res, err := s.Validate(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if !res.Valid {
		return res, &BlockedError{Result: res}
	}
	if err := s.ApplyAdjustments(ctx, userID, res.Adjustments); err != nil {
		return Result{}, err
	}
	return res, nil
}

// ApplyAdjustments writes capped quantities. An item changed since
// validation keeps the lower of its current and the capped quantity.
func (s *Service) ApplyAdjustments(ctx context.Context, userID string, adjs []Adjustment) error {
	for _, a := range adjs {
		err := s.Store.InTx(ctx, func(tx Tx) error {
			it, err := tx.Get(ctx, userID, a.ItemID)
			if err != nil {
				return err
			}
			if it.Quantity <= a.New {
				return nil
			}
			it.Quantity = a.New
			it.UpdatedAt = s.now()
			_, err = tx.Save(ctx, it)
			return err
		})
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveUnavailable deletes every item that produced a blocking error.
func (s *Service) RemoveUnavailable(ctx context.Context, userID string, res Result) error {
	for _, is := range res.Errors {
		if err := s.Store.Delete(ctx, userID, is.ItemID); err != nil {
			return err
		}
	}
	return nil
}
