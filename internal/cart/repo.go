package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

const itemCols = `id, user_id, unit_kind, unit_id, quantity, expires_at, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var kind string
	err := row.Scan(&it.ID, &it.UserID, &kind, &it.Unit.ID, &it.Quantity, &it.ExpiresAt, &it.CreatedAt, &it.UpdatedAt)
	it.Unit.Kind = stock.Kind(kind)
	return it, err
}

func (s *PGStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) List(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+itemCols+` FROM cart_items WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, userID, itemID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM cart_items WHERE id::text = $1 AND user_id = $2`, itemID, userID)
	return err
}

func (s *PGStore) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM cart_items WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *PGStore) Clear(ctx context.Context, userID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}

func (s *PGStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM cart_items WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) FindByUnit(ctx context.Context, userID string, ref stock.UnitRef) (Item, bool, error) {
	it, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemCols+` FROM cart_items
		WHERE user_id = $1 AND unit_kind = $2 AND unit_id = $3 FOR UPDATE`, userID, string(ref.Kind), ref.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	return it, true, nil
}

func (t *pgTx) Get(ctx context.Context, userID, itemID string) (Item, error) {
	it, err := scanItem(t.tx.QueryRow(ctx, `SELECT `+itemCols+` FROM cart_items
		WHERE id::text = $1 AND user_id = $2 FOR UPDATE`, itemID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return it, err
}

// Save upserts on (user_id, unit_kind, unit_id); two racing first adds end
// with one row and the last quantity written.
func (t *pgTx) Save(ctx context.Context, it Item) (Item, error) {
	return scanItem(t.tx.QueryRow(ctx, `
		INSERT INTO cart_items(id, user_id, unit_kind, unit_id, quantity, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, unit_kind, unit_id) DO UPDATE
		   SET quantity = EXCLUDED.quantity, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
		RETURNING `+itemCols,
		it.ID, it.UserID, string(it.Unit.Kind), it.Unit.ID, it.Quantity, it.ExpiresAt, it.CreatedAt, it.UpdatedAt))
}
