package embed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Cache wraps an Embedder with a SQLite lookaside keyed by the image
// URL. Embedding is by far the slowest pipeline step and image URLs are
// stable between runs, so repeat runs hit the cache for unchanged rows.
type Cache struct {
	db    *sql.DB
	inner Embedder
}

// NewCache opens (or creates) the cache database at path.
func NewCache(path string, inner Embedder) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "embed: open cache")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "embed: exec %s", pragma)
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			url        TEXT PRIMARY KEY,
			vector     TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "embed: migrate cache")
	}
	return &Cache{db: db, inner: inner}, nil
}

// Embed implements Embedder. Cache read/write failures degrade to the
// inner embedder; only inner failures surface.
func (c *Cache) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	key, _ := NormalizeImageURL(imageURL, 0)
	if key == "" {
		return nil, eris.New("embed: empty image url")
	}

	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE url = ?`, key).Scan(&raw)
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal([]byte(raw), &vec); jerr == nil && len(vec) > 0 {
			return vec, nil
		}
		// Corrupt entry: fall through and recompute.
	case !errors.Is(err, sql.ErrNoRows):
		zap.L().Debug("embed: cache read failed", zap.String("url", key), zap.Error(err))
	}

	vec, err := c.inner.Embed(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	if buf, jerr := json.Marshal(vec); jerr == nil {
		if _, werr := c.db.ExecContext(ctx,
			`INSERT INTO embeddings (url, vector) VALUES (?, ?)
			 ON CONFLICT(url) DO UPDATE SET vector = excluded.vector`,
			key, string(buf)); werr != nil {
			zap.L().Debug("embed: cache write failed", zap.String("url", key), zap.Error(werr))
		}
	}
	return vec, nil
}

// Close releases the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}
