package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema for the stock core. Products and variants carry their own stock
// counter; stock_ledger is append-only and ordered by seq.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		price_cents      INT NOT NULL CHECK (price_cents >= 0),
		sale_price_cents INT,
		stock            INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		stock_baseline   INT NOT NULL DEFAULT 0,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		deleted_at       TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS product_variants (
		id               TEXT PRIMARY KEY,
		product_id       TEXT NOT NULL REFERENCES products(id),
		name             TEXT NOT NULL,
		price_cents      INT NOT NULL CHECK (price_cents >= 0),
		sale_price_cents INT,
		stock            INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		stock_baseline   INT NOT NULL DEFAULT 0,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		deleted_at       TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_ledger (
		seq           BIGSERIAL PRIMARY KEY,
		id            UUID NOT NULL UNIQUE,
		unit_kind     TEXT NOT NULL,
		unit_id       TEXT NOT NULL,
		product_id    TEXT NOT NULL,
		variant_id    TEXT,
		change_amount INT NOT NULL,
		new_stock     INT NOT NULL CHECK (new_stock >= 0),
		reason        TEXT NOT NULL,
		reference_id  TEXT,
		notes         TEXT NOT NULL DEFAULT '',
		actor         TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS stock_ledger_unit_idx ON stock_ledger (unit_kind, unit_id, seq)`,
	`CREATE INDEX IF NOT EXISTS stock_ledger_reference_idx ON stock_ledger (reference_id, reason)`,
	`ALTER TABLE stock_ledger ADD COLUMN IF NOT EXISTS source_id TEXT`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id         UUID PRIMARY KEY,
		user_id    TEXT NOT NULL,
		unit_kind  TEXT NOT NULL,
		unit_id    TEXT NOT NULL,
		quantity   INT NOT NULL CHECK (quantity BETWEEN 1 AND 999),
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, unit_kind, unit_id)
	)`,
	`CREATE INDEX IF NOT EXISTS cart_items_expires_idx ON cart_items (expires_at)`,
}

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
