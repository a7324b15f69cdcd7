package stock

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayResult compares the cached counter with the ledger.
type ReplayResult struct {
	Unit     UnitRef `json:"unit"`
	Baseline int     `json:"baseline"`
	Sum      int     `json:"sum"`
	Replayed int     `json:"replayed"`
	Cached   int     `json:"cached"`
	Entries  int     `json:"entries"`
	// BrokenLinks counts entries whose NewStock does not follow from the
	// previous balance plus ChangeAmount.
	BrokenLinks int  `json:"broken_links"`
	Consistent  bool `json:"consistent"`
}

// Replay rebuilds the unit's stock from its baseline and the full ledger.
func (l *Ledger) Replay(ctx context.Context, ref UnitRef) (ReplayResult, error) {
	u, err := l.Store.Unit(ctx, ref)
	if err != nil {
		return ReplayResult{}, err
	}
	entries, err := l.Store.Entries(ctx, ref, 0)
	if err != nil {
		return ReplayResult{}, err
	}

	res := ReplayResult{Unit: ref, Baseline: u.Baseline, Cached: u.Stock, Entries: len(entries)}
	running := u.Baseline
	for _, e := range entries {
		running += e.ChangeAmount
		res.Sum += e.ChangeAmount
		if running != e.NewStock {
			res.BrokenLinks++
		}
	}
	res.Replayed = running
	res.Consistent = res.Replayed == res.Cached && res.BrokenLinks == 0
	return res, nil
}

// Rebuild overwrites the cached counter with baseline + sum of changes. It
// writes no ledger entry: the log is already the truth. Deleted units are
// left alone like every other ledger write.
func (l *Ledger) Rebuild(ctx context.Context, ref UnitRef) (before, after int, err error) {
	err = l.Store.InTx(ctx, func(tx Tx) error {
		u, err := tx.LockUnit(ctx, ref)
		if err != nil {
			return err
		}
		if u.Deleted() {
			return fmt.Errorf("%w: %s is deleted", ErrNotFound, ref)
		}
		sum, err := tx.SumChanges(ctx, ref)
		if err != nil {
			return err
		}
		before, after = u.Stock, u.Baseline+sum
		if after < 0 {
			return &InsufficientStockError{Shortages: []Shortage{{Unit: ref, Requested: -after, Available: 0}}}
		}
		if before == after {
			return nil
		}
		return tx.SetStock(ctx, ref, after)
	})
	if err != nil {
		return 0, 0, err
	}
	if before != after {
		l.Log.Warn("stock rebuilt from ledger", zap.String("unit", ref.String()), zap.Int("before", before), zap.Int("after", after))
	}
	return before, after, nil
}
