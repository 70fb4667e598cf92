package catalog

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finds-group/catalog-ingest/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock, "products", 100), mock
}

// expectUpsertChunk mirrors one chunk transaction:
// Begin -> CREATE TEMP TABLE -> CopyFrom -> INSERT ON CONFLICT -> Commit.
func expectUpsertChunk(m pgxmock.PgxPoolIface, n int64) {
	m.ExpectBegin()
	m.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	m.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_products"}, model.Columns()).WillReturnResult(n)
	m.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", n))
	m.ExpectCommit()
}

func TestPostgresUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	expectUpsertChunk(mock, 2)

	n, err := s.Upsert(context.Background(), []model.CanonicalRow{
		row("a", "A"), row("b", "B"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertDedupe(t *testing.T) {
	s, mock := newMockStore(t)
	expectUpsertChunk(mock, 1)

	n, err := s.Upsert(context.Background(), []model.CanonicalRow{
		row("a", "old"), row("a", "new"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertChunked(t *testing.T) {
	s, mock := newMockStore(t)
	s.chunkSize = 2
	expectUpsertChunk(mock, 2)
	expectUpsertChunk(mock, 1)

	n, err := s.Upsert(context.Background(), []model.CanonicalRow{
		row("a", "A"), row("b", "B"), row("c", "C"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	n, err := s.Upsert(context.Background(), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSyncDelete(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM "products"`).
		WithArgs("zara", []string{"A", "B"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	n, err := s.SyncDelete(context.Background(), Scope{Source: "zara"}, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSyncDeleteFullScope(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM "products"`).
		WithArgs("zara", "Zara", "US", []string{"A"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := s.SyncDelete(context.Background(),
		Scope{Source: "zara", Merchant: "Zara", Country: "US"}, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
