package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxTxAttempts = 3

// PGStore keeps units in products / product_variants and the ledger in
// stock_ledger. Row locks are SELECT ... FOR UPDATE inside one pgx tx.
type PGStore struct{ DB *pgxpool.Pool }

const productCols = `p.id, p.id, p.name, p.price_cents, COALESCE(p.sale_price_cents, 0),
	p.stock, p.stock_baseline, p.is_active, p.deleted_at`

const variantCols = `v.id, v.product_id, v.name, v.price_cents, COALESCE(v.sale_price_cents, 0),
	v.stock, v.stock_baseline, v.is_active AND p.is_active, COALESCE(v.deleted_at, p.deleted_at)`

const entryCols = `seq, id, unit_kind, unit_id, product_id, COALESCE(variant_id, ''), change_amount,
	new_stock, reason, COALESCE(reference_id, ''), COALESCE(source_id, ''), notes, actor, created_at`

func unitQuery(kind Kind, lock bool) string {
	var q string
	switch kind {
	case KindVariant:
		q = `SELECT ` + variantCols + ` FROM product_variants v JOIN products p ON p.id = v.product_id WHERE v.id = $1`
		if lock {
			q += ` FOR UPDATE OF v`
		}
	default:
		q = `SELECT ` + productCols + ` FROM products p WHERE p.id = $1`
		if lock {
			q += ` FOR UPDATE`
		}
	}
	return q
}

func table(kind Kind) string {
	if kind == KindVariant {
		return "product_variants"
	}
	return "products"
}

func scanUnit(row pgx.Row, kind Kind) (Unit, error) {
	u := Unit{Ref: UnitRef{Kind: kind}}
	err := row.Scan(&u.Ref.ID, &u.ProductID, &u.Name, &u.PriceCents, &u.SalePriceCents,
		&u.Stock, &u.Baseline, &u.Active, &u.DeletedAt)
	return u, err
}

func notFound(ref UnitRef, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return err
}

func (s *PGStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return withRetry(ctx, maxTxAttempts, func() error { return s.runTx(ctx, fn) })
}

var retryBackoff = 20 * time.Millisecond

// withRetry reruns run while it fails with a serialization failure or a
// deadlock, up to attempts times, backing off linearly between tries.
func withRetry(ctx context.Context, attempts int, run func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = run()
		if !retryable(err) || attempt == attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func (s *PGStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
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

// retryable reports serialization failures and deadlocks.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (s *PGStore) Unit(ctx context.Context, ref UnitRef) (Unit, error) {
	u, err := scanUnit(s.DB.QueryRow(ctx, unitQuery(ref.Kind, false), ref.ID), ref.Kind)
	if err != nil {
		return Unit{}, notFound(ref, err)
	}
	return u, nil
}

func (s *PGStore) Units(ctx context.Context, refs []UnitRef) (map[UnitRef]Unit, error) {
	byKind := map[Kind][]string{}
	for _, r := range refs {
		byKind[r.Kind] = append(byKind[r.Kind], r.ID)
	}
	out := make(map[UnitRef]Unit, len(refs))
	for kind, ids := range byKind {
		var q string
		if kind == KindVariant {
			q = `SELECT ` + variantCols + ` FROM product_variants v JOIN products p ON p.id = v.product_id WHERE v.id = ANY($1)`
		} else {
			q = `SELECT ` + productCols + ` FROM products p WHERE p.id = ANY($1)`
		}
		rows, err := s.DB.Query(ctx, q, ids)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			u, err := scanUnit(rows, kind)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[u.Ref] = u
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PGStore) ListUnits(ctx context.Context, f UnitFilter) ([]Unit, error) {
	var out []Unit
	queries := []struct {
		kind Kind
		sql  string
	}{
		{KindProduct, `SELECT ` + productCols + ` FROM products p
			WHERE p.is_active AND p.deleted_at IS NULL AND p.stock BETWEEN $1 AND $2
			ORDER BY p.stock, p.id`},
		{KindVariant, `SELECT ` + variantCols + ` FROM product_variants v JOIN products p ON p.id = v.product_id
			WHERE v.is_active AND p.is_active AND v.deleted_at IS NULL AND p.deleted_at IS NULL
			  AND v.stock BETWEEN $1 AND $2
			ORDER BY v.stock, v.id`},
	}
	for _, q := range queries {
		rows, err := s.DB.Query(ctx, q.sql, f.MinStock, f.MaxStock)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			u, err := scanUnit(rows, q.kind)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, u)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PGStore) Entries(ctx context.Context, ref UnitRef, limit int) ([]Entry, error) {
	q := `SELECT ` + entryCols + ` FROM stock_ledger WHERE unit_kind = $1 AND unit_id = $2 ORDER BY seq`
	args := []any{string(ref.Kind), ref.ID}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	return collectEntries(s.DB.Query(ctx, q, args...))
}

func (s *PGStore) EntriesByReference(ctx context.Context, referenceID string, reason Reason) ([]Entry, error) {
	return collectEntries(s.DB.Query(ctx,
		`SELECT `+entryCols+` FROM stock_ledger WHERE reference_id = $1 AND reason = $2 ORDER BY seq`,
		referenceID, string(reason)))
}

func collectEntries(rows pgx.Rows, err error) ([]Entry, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, reason string
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &e.Unit.ID, &e.ProductID, &e.VariantID, &e.ChangeAmount,
			&e.NewStock, &reason, &e.ReferenceID, &e.SourceID, &e.Notes, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Unit.Kind, e.Reason = Kind(kind), Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockUnit(ctx context.Context, ref UnitRef) (Unit, error) {
	u, err := scanUnit(t.tx.QueryRow(ctx, unitQuery(ref.Kind, true), ref.ID), ref.Kind)
	if err != nil {
		return Unit{}, notFound(ref, err)
	}
	return u, nil
}

func (t *pgTx) SetStock(ctx context.Context, ref UnitRef, stock int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE `+table(ref.Kind)+` SET stock = $2, updated_at = now() WHERE id = $1`, ref.ID, stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e Entry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_ledger(id, unit_kind, unit_id, product_id, variant_id, change_amount,
		                         new_stock, reason, reference_id, source_id, notes, actor, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)`,
		e.ID, string(e.Unit.Kind), e.Unit.ID, e.ProductID, e.VariantID, e.ChangeAmount,
		e.NewStock, string(e.Reason), e.ReferenceID, e.SourceID, e.Notes, e.Actor, e.CreatedAt)
	return err
}

func (t *pgTx) EntriesByReference(ctx context.Context, referenceID string, reason Reason) ([]Entry, error) {
	return collectEntries(t.tx.Query(ctx,
		`SELECT `+entryCols+` FROM stock_ledger WHERE reference_id = $1 AND reason = $2 ORDER BY seq`,
		referenceID, string(reason)))
}

func (t *pgTx) SumChanges(ctx context.Context, ref UnitRef) (int, error) {
	var sum int
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(change_amount), 0) FROM stock_ledger WHERE unit_kind = $1 AND unit_id = $2`,
		string(ref.Kind), ref.ID).Scan(&sum)
	return sum, err
}
