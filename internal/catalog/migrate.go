package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

const productsDDL = `
CREATE TABLE IF NOT EXISTS %s (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	external_id       TEXT,
	title             TEXT NOT NULL,
	description       TEXT,
	brand             TEXT,
	gender            TEXT,
	category          TEXT NOT NULL DEFAULT 'Clothing',
	price             TEXT,
	sale              TEXT,
	size              TEXT,
	image_url         TEXT,
	additional_images TEXT,
	product_url       TEXT,
	affiliate_url     TEXT,
	second_hand       BOOLEAN NOT NULL DEFAULT FALSE,
	availability      TEXT NOT NULL DEFAULT 'unknown',
	merchant_name     TEXT,
	country           TEXT,
	metadata          JSONB,
	embedding         JSONB,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%s_source ON %s(source);
CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(source, merchant_name, country);
`

// Migrate creates the products table and its sync-delete scope indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	table := pgx.Identifier{s.table}.Sanitize()
	ddl := fmt.Sprintf(productsDDL, table, s.table, table, s.table, table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return eris.Wrap(err, "catalog: migrate")
	}
	return nil
}
