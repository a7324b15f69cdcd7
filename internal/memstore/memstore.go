// Package memstore keeps units, the stock ledger and carts in process memory.
// Every unit of work holds one mutex, so transactions are serializable and
// a failed one leaves nothing behind.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/cart"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
)

type unitRow struct {
	stock.Unit
	// raw flags; Unit.Active / DeletedAt hold the effective values
	active    bool
	deletedAt *time.Time
}

type Store struct {
	mu      sync.Mutex
	units   map[stock.UnitRef]*unitRow
	ledger  []stock.Entry
	seq     int64
	carts   map[string]cart.Item // by item id
	failing error
}

func New() *Store {
	return &Store{
		units: map[stock.UnitRef]*unitRow{},
		carts: map[string]cart.Item{},
	}
}

// Stock returns the stock half as a stock.Store.
func (s *Store) Stock() stock.Store { return stockStore{s} }

// Carts returns the cart half as a cart.Store.
func (s *Store) Carts() cart.Store { return cartStore{s} }

// PutUnit inserts or replaces a unit. Stock becomes the baseline of a new
// unit; for an existing one only catalog fields change.
func (s *Store) PutUnit(u stock.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Ref.Kind == stock.KindProduct {
		u.ProductID = u.Ref.ID
	}
	if row, ok := s.units[u.Ref]; ok {
		row.Name, row.PriceCents, row.SalePriceCents = u.Name, u.PriceCents, u.SalePriceCents
		row.active, row.deletedAt, row.ProductID = u.Active, u.DeletedAt, u.ProductID
		return
	}
	u.Baseline = u.Stock
	s.units[u.Ref] = &unitRow{Unit: u, active: u.Active, deletedAt: u.DeletedAt}
}

func (s *Store) SetActive(ref stock.UnitRef, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.units[ref]; ok {
		row.active = active
	}
}

func (s *Store) SoftDelete(ref stock.UnitRef, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.units[ref]; ok {
		row.deletedAt = &at
	}
}

// FailWrites makes every following ledger append fail with err (nil clears).
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = err
}

// CorruptStock overwrites a cached counter without a ledger entry.
func (s *Store) CorruptStock(ref stock.UnitRef, v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.units[ref]; ok {
		row.Stock = v
	}
}

// view folds the parent product's flags into a variant. Caller holds mu.
func (s *Store) view(ref stock.UnitRef) (stock.Unit, bool) {
	row, ok := s.units[ref]
	if !ok {
		return stock.Unit{}, false
	}
	u := row.Unit
	u.Active, u.DeletedAt = row.active, row.deletedAt
	if ref.Kind == stock.KindVariant {
		if p, ok := s.units[stock.Product(row.ProductID)]; ok {
			u.Active = u.Active && p.active
			if u.DeletedAt == nil {
				u.DeletedAt = p.deletedAt
			}
		}
	}
	return u, true
}

// ---- stock.Store ----

type stockStore struct{ s *Store }

func (ss stockStore) InTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &stockTx{s: s, stock: map[stock.UnitRef]int{}}
	if err := fn(tx); err != nil {
		return err
	}
	for ref, v := range tx.stock {
		s.units[ref].Stock = v
	}
	for _, e := range tx.entries {
		s.seq++
		e.Seq = s.seq
		s.ledger = append(s.ledger, e)
	}
	return nil
}

func (ss stockStore) Unit(_ context.Context, ref stock.UnitRef) (stock.Unit, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	u, ok := ss.s.view(ref)
	if !ok {
		return stock.Unit{}, fmt.Errorf("%w: %s", stock.ErrNotFound, ref)
	}
	return u, nil
}

func (ss stockStore) Units(_ context.Context, refs []stock.UnitRef) (map[stock.UnitRef]stock.Unit, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	out := make(map[stock.UnitRef]stock.Unit, len(refs))
	for _, ref := range refs {
		if u, ok := ss.s.view(ref); ok {
			out[ref] = u
		}
	}
	return out, nil
}

func (ss stockStore) ListUnits(_ context.Context, f stock.UnitFilter) ([]stock.Unit, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	var out []stock.Unit
	for ref := range ss.s.units {
		u, _ := ss.s.view(ref)
		if u.Purchasable() && u.Stock >= f.MinStock && u.Stock <= f.MaxStock {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.Kind != out[j].Ref.Kind {
			return out[i].Ref.Kind < out[j].Ref.Kind
		}
		if out[i].Stock != out[j].Stock {
			return out[i].Stock < out[j].Stock
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})
	return out, nil
}

func (ss stockStore) Entries(_ context.Context, ref stock.UnitRef, limit int) ([]stock.Entry, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	var out []stock.Entry
	for _, e := range ss.s.ledger {
		if e.Unit == ref {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (ss stockStore) EntriesByReference(_ context.Context, referenceID string, reason stock.Reason) ([]stock.Entry, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	return ss.s.byReference(referenceID, reason), nil
}

func (s *Store) byReference(referenceID string, reason stock.Reason) []stock.Entry {
	var out []stock.Entry
	for _, e := range s.ledger {
		if e.ReferenceID == referenceID && e.Reason == reason {
			out = append(out, e)
		}
	}
	return out
}

// stockTx stages writes until InTx commits them.
type stockTx struct {
	s       *Store
	stock   map[stock.UnitRef]int
	entries []stock.Entry
}

func (t *stockTx) LockUnit(_ context.Context, ref stock.UnitRef) (stock.Unit, error) {
	u, ok := t.s.view(ref)
	if !ok {
		return stock.Unit{}, fmt.Errorf("%w: %s", stock.ErrNotFound, ref)
	}
	if v, ok := t.stock[ref]; ok {
		u.Stock = v
	}
	return u, nil
}

func (t *stockTx) SetStock(_ context.Context, ref stock.UnitRef, v int) error {
	if _, ok := t.s.units[ref]; !ok {
		return fmt.Errorf("%w: %s", stock.ErrNotFound, ref)
	}
	if v < 0 {
		return fmt.Errorf("stock check violated for %s: %d", ref, v)
	}
	t.stock[ref] = v
	return nil
}

func (t *stockTx) AppendEntry(_ context.Context, e stock.Entry) error {
	if t.s.failing != nil {
		return t.s.failing
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *stockTx) EntriesByReference(_ context.Context, referenceID string, reason stock.Reason) ([]stock.Entry, error) {
	out := t.s.byReference(referenceID, reason)
	for _, e := range t.entries {
		if e.ReferenceID == referenceID && e.Reason == reason {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *stockTx) SumChanges(_ context.Context, ref stock.UnitRef) (int, error) {
	sum := 0
	for _, e := range t.s.ledger {
		if e.Unit == ref {
			sum += e.ChangeAmount
		}
	}
	for _, e := range t.entries {
		if e.Unit == ref {
			sum += e.ChangeAmount
		}
	}
	return sum, nil
}

// ---- cart.Store ----

type cartStore struct{ s *Store }

func (cs cartStore) InTx(ctx context.Context, fn func(tx cart.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &cartTx{s: s, saved: map[string]cart.Item{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, it := range tx.saved {
		s.carts[id] = it
	}
	return nil
}

func (cs cartStore) List(_ context.Context, userID string) ([]cart.Item, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var out []cart.Item
	for _, it := range cs.s.carts {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	sortItems(out)
	return out, nil
}

func sortItems(items []cart.Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (cs cartStore) Delete(_ context.Context, userID, itemID string) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if it, ok := cs.s.carts[itemID]; ok && it.UserID == userID {
		delete(cs.s.carts, itemID)
	}
	return nil
}

func (cs cartStore) DeleteIDs(_ context.Context, ids []string) (int64, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := cs.s.carts[id]; ok {
			delete(cs.s.carts, id)
			n++
		}
	}
	return n, nil
}

func (cs cartStore) Clear(_ context.Context, userID string) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	for id, it := range cs.s.carts {
		if it.UserID == userID {
			delete(cs.s.carts, id)
		}
	}
	return nil
}

func (cs cartStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var n int64
	for id, it := range cs.s.carts {
		if it.Expired(now) {
			delete(cs.s.carts, id)
			n++
		}
	}
	return n, nil
}

type cartTx struct {
	s     *Store
	saved map[string]cart.Item
}

func (t *cartTx) lookup(id string) (cart.Item, bool) {
	if it, ok := t.saved[id]; ok {
		return it, true
	}
	it, ok := t.s.carts[id]
	return it, ok
}

func (t *cartTx) FindByUnit(_ context.Context, userID string, ref stock.UnitRef) (cart.Item, bool, error) {
	for id := range t.s.carts {
		if it, _ := t.lookup(id); it.UserID == userID && it.Unit == ref {
			return it, true, nil
		}
	}
	for _, it := range t.saved {
		if it.UserID == userID && it.Unit == ref {
			return it, true, nil
		}
	}
	return cart.Item{}, false, nil
}

func (t *cartTx) Get(_ context.Context, userID, itemID string) (cart.Item, error) {
	it, ok := t.lookup(itemID)
	if !ok || it.UserID != userID {
		return cart.Item{}, fmt.Errorf("%w: %s", cart.ErrItemNotFound, itemID)
	}
	return it, nil
}

// Save keeps one row per (user, unit) like the unique index in postgres.
func (t *cartTx) Save(ctx context.Context, it cart.Item) (cart.Item, error) {
	if cur, found, _ := t.FindByUnit(ctx, it.UserID, it.Unit); found && cur.ID != it.ID {
		cur.Quantity, cur.ExpiresAt, cur.UpdatedAt = it.Quantity, it.ExpiresAt, it.UpdatedAt
		it = cur
	}
	t.saved[it.ID] = it
	return it, nil
}
