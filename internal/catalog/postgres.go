package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/model"
)

// Pool is the subset of pgxpool.Pool the backend uses; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore writes rows directly over pgx.
type PostgresStore struct {
	pool      Pool
	table     string
	chunkSize int
}

// NewPostgres connects a PostgresStore.
func NewPostgres(ctx context.Context, connString, table string, chunkSize int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse postgres config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: connect postgres")
	}
	return NewPostgresWithPool(pool, table, chunkSize), nil
}

// NewPostgresWithPool wraps an existing pool; tests inject pgxmock here.
func NewPostgresWithPool(pool Pool, table string, chunkSize int) *PostgresStore {
	if table == "" {
		table = "products"
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &PostgresStore{pool: pool, table: table, chunkSize: chunkSize}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Upsert implements Store via a temp table, COPY, and INSERT ... ON
// CONFLICT (id) DO UPDATE. Chunks are independent transactions.
func (s *PostgresStore) Upsert(ctx context.Context, rows []model.CanonicalRow) (int, error) {
	rows = dedupeByID(rows)
	if len(rows) == 0 {
		return 0, nil
	}
	log := zap.L().With(zap.String("component", "catalog.postgres"))

	persisted := 0
	var lastErr error
	for start := 0; start < len(rows); start += s.chunkSize {
		end := min(start+s.chunkSize, len(rows))
		chunk := rows[start:end]

		n, err := s.upsertChunk(ctx, chunk)
		if err != nil {
			log.Warn("catalog: chunk upsert failed",
				zap.Int("size", len(chunk)), zap.Error(err))
			lastErr = err
			continue
		}
		persisted += n
	}

	if persisted == 0 && lastErr != nil {
		return 0, lastErr
	}
	return persisted, nil
}

func (s *PostgresStore) upsertChunk(ctx context.Context, chunk []model.CanonicalRow) (int, error) {
	columns := model.Columns()
	values := make([][]any, len(chunk))
	for i, row := range chunk {
		values[i] = rowValues(row)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tempTable := "_tmp_upsert_" + s.table
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		pgx.Identifier{s.table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrap(err, "catalog: create temp table")
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, columns, pgx.CopyFromRows(values)); err != nil {
		return 0, eris.Wrap(err, "catalog: copy into temp table")
	}

	colList := quoteAndJoin(columns)
	var setClauses []string
	for _, col := range columns {
		if col == "id" {
			continue
		}
		ident := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, ident+" = EXCLUDED."+ident)
	}
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (id) DO UPDATE SET %s",
		pgx.Identifier{s.table}.Sanitize(),
		colList, colList,
		pgx.Identifier{tempTable}.Sanitize(),
		strings.Join(setClauses, ", "),
	)
	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: insert on conflict")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "catalog: commit tx")
	}
	return int(tag.RowsAffected()), nil
}

// rowValues orders one row's values per model.Columns(). JSON-valued
// columns are serialized here; empty optionals become NULL.
func rowValues(row model.CanonicalRow) []any {
	return []any{
		row.ID, row.Source, nullable(row.ExternalID),
		row.Title, nullable(row.Description), nullable(row.Brand),
		nullable(row.Gender), row.Category,
		nullable(row.Price), nullable(row.Sale), nullable(row.Size),
		nullable(row.ImageURL), nullable(row.AdditionalImages),
		nullable(row.ProductURL), nullable(row.AffiliateURL),
		row.SecondHand, string(row.Availability),
		nullable(row.MerchantName), nullable(row.Country),
		jsonOrNil(row.Metadata), jsonOrNil(row.Embedding),
	}
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// SyncDelete implements Store with one negative-filter DELETE; unlike
// the REST API the database can express it directly.
func (s *PostgresStore) SyncDelete(ctx context.Context, scope Scope, seenIDs []string) (int, error) {
	if scope.Source == "" {
		return 0, eris.New("catalog: sync delete requires a source scope")
	}

	where := []string{"source = $1"}
	args := []any{scope.Source}
	if scope.Merchant != "" {
		args = append(args, scope.Merchant)
		where = append(where, fmt.Sprintf("merchant_name = $%d", len(args)))
	}
	if scope.Country != "" {
		args = append(args, scope.Country)
		where = append(where, fmt.Sprintf("country = $%d", len(args)))
	}
	args = append(args, seenIDs)
	where = append(where, fmt.Sprintf("NOT (id = ANY($%d))", len(args)))

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s",
		pgx.Identifier{s.table}.Sanitize(), strings.Join(where, " AND "))

	tag, err := s.pool.Exec(ctx, deleteSQL, args...)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: sync delete")
	}
	return int(tag.RowsAffected()), nil
}
