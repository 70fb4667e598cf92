package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/model"
)

// RESTOptions configures the PostgREST-style backend.
type RESTOptions struct {
	BaseURL string // service root, e.g. https://acme.supabase.co
	Key     string
	Table   string
	Timeout time.Duration

	ChunkSize       int
	DeleteChunkSize int
}

// RESTStore talks to a PostgREST-compatible product API.
type RESTStore struct {
	http *http.Client
	opts RESTOptions
}

// NewREST creates a RESTStore.
func NewREST(opts RESTOptions) *RESTStore {
	if opts.Table == "" {
		opts.Table = "products"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.DeleteChunkSize <= 0 {
		opts.DeleteChunkSize = DefaultDeleteChunkSize
	}
	return &RESTStore{
		http: &http.Client{Timeout: opts.Timeout},
		opts: opts,
	}
}

func (s *RESTStore) tableURL() string {
	return s.opts.BaseURL + "/rest/v1/" + s.opts.Table
}

func (s *RESTStore) auth(req *http.Request) {
	req.Header.Set("apikey", s.opts.Key)
	req.Header.Set("Authorization", "Bearer "+s.opts.Key)
}

// Upsert implements Store. Chunks are independent: a failed chunk is
// logged and the rest continue.
func (s *RESTStore) Upsert(ctx context.Context, rows []model.CanonicalRow) (int, error) {
	rows = dedupeByID(rows)
	if len(rows) == 0 {
		return 0, nil
	}
	log := zap.L().With(zap.String("component", "catalog.rest"))

	persisted := 0
	var lastErr error
	for start := 0; start < len(rows); start += s.opts.ChunkSize {
		end := min(start+s.opts.ChunkSize, len(rows))
		chunk := rows[start:end]

		if err := s.upsertChunk(ctx, chunk); err != nil {
			log.Warn("catalog: chunk upsert failed",
				zap.Int("size", len(chunk)), zap.Error(err))
			lastErr = err
			continue
		}
		persisted += len(chunk)
	}

	if persisted == 0 && lastErr != nil {
		return 0, lastErr
	}
	return persisted, nil
}

func (s *RESTStore) upsertChunk(ctx context.Context, chunk []model.CanonicalRow) error {
	payload := make([]map[string]any, len(chunk))
	for i, row := range chunk {
		payload[i] = rowPayload(row)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "catalog: marshal chunk")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.tableURL()+"?on_conflict=id", bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "catalog: create upsert request")
	}
	s.auth(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := s.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "catalog: upsert request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return eris.Errorf("catalog: upsert status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// SyncDelete implements Store: enumerate stored ids in scope, diff
// against the ids seen this run, delete the rest row by row. Individual
// delete failures are logged, not fatal.
func (s *RESTStore) SyncDelete(ctx context.Context, scope Scope, seenIDs []string) (int, error) {
	if scope.Source == "" {
		return 0, eris.New("catalog: sync delete requires a source scope")
	}
	log := zap.L().With(
		zap.String("component", "catalog.rest"),
		zap.String("source", scope.Source),
	)

	stored, err := s.storedIDs(ctx, scope)
	if err != nil {
		return 0, err
	}

	stale := diffIDs(stored, seenIDs)
	if len(stale) == 0 {
		return 0, nil
	}
	log.Info("catalog: purging rows not seen this run",
		zap.Int("stored", len(stored)), zap.Int("stale", len(stale)))

	deleted := 0
	for start := 0; start < len(stale); start += s.opts.DeleteChunkSize {
		end := min(start+s.opts.DeleteChunkSize, len(stale))
		for _, id := range stale[start:end] {
			if err := s.deleteRow(ctx, scope, id); err != nil {
				log.Warn("catalog: delete failed", zap.String("id", id), zap.Error(err))
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

func (s *RESTStore) scopeQuery(scope Scope) url.Values {
	q := url.Values{}
	q.Set("source", "eq."+scope.Source)
	if scope.Merchant != "" {
		q.Set("merchant_name", "eq."+scope.Merchant)
	}
	if scope.Country != "" {
		q.Set("country", "eq."+scope.Country)
	}
	return q
}

func (s *RESTStore) storedIDs(ctx context.Context, scope Scope) ([]string, error) {
	q := s.scopeQuery(scope)
	q.Set("select", "id")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.tableURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: create list request")
	}
	s.auth(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list ids")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("catalog: list ids status %d", resp.StatusCode)
	}

	var entries []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, eris.Wrap(err, "catalog: decode id list")
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

func (s *RESTStore) deleteRow(ctx context.Context, scope Scope, id string) error {
	q := s.scopeQuery(scope)
	q.Set("id", "eq."+id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		s.tableURL()+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "catalog: create delete request")
	}
	s.auth(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "catalog: delete request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return eris.Errorf("catalog: delete status %d", resp.StatusCode)
	}
	return nil
}
