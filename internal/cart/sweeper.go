package cart

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/metrics"
	"go.uber.org/zap"
)

// Sweeper purges expired reservations for storage hygiene. Listing already
// filters them, so nothing depends on it running.
type Sweeper struct {
	Store    Store
	Interval time.Duration
	Log      *zap.Logger
	Now      func() time.Time
}

func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.Log.Warn("cart sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	n, err := s.Store.PurgeExpired(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.CartPurged.Add(float64(n))
		s.Log.Info("expired cart items purged", zap.Int64("count", n))
	}
	return n, nil
}
