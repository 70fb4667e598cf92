// Package catalog persists canonical rows to the product store. Two
// backends exist behind one interface: a PostgREST-style HTTP client and
// a direct pgx connection. Both share the batch protocol: dedupe by id
// (last wins), uniform row shape, chunked writes that survive individual
// chunk failures.
package catalog

import (
	"context"
	"encoding/json"

	"github.com/finds-group/catalog-ingest/internal/model"
)

// Scope identifies the partition a sync-delete may touch. Source is
// required; merchant and country narrow it further so a filtered run
// never purges unrelated brands sharing a source tag.
type Scope struct {
	Source   string
	Merchant string
	Country  string
}

// Store is the catalog persistence interface.
type Store interface {
	// Upsert writes rows keyed by id, returning how many were persisted.
	// A partially-failed batch returns the persisted count and no error;
	// an error means nothing was stored.
	Upsert(ctx context.Context, rows []model.CanonicalRow) (int, error)

	// SyncDelete removes rows in scope whose ids were not observed this
	// run, returning the number deleted. Keep-only semantics.
	SyncDelete(ctx context.Context, scope Scope, seenIDs []string) (int, error)
}

const (
	// DefaultChunkSize bounds upsert request size.
	DefaultChunkSize = 100
	// DefaultDeleteChunkSize bounds one sync-delete batch.
	DefaultDeleteChunkSize = 300
)

// dedupeByID collapses duplicate ids within one batch, keeping the last
// occurrence's values in the first occurrence's position. The store's
// conflict key is id; duplicate keys within one request are rejected.
func dedupeByID(rows []model.CanonicalRow) []model.CanonicalRow {
	idx := make(map[string]int, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		if at, ok := idx[row.ID]; ok {
			out[at] = row
			continue
		}
		idx[row.ID] = len(out)
		out = append(out, row)
	}
	return out
}

// rowPayload renders one row with the full column set, explicit nulls
// included. Batch APIs require a uniform shape across the batch.
func rowPayload(row model.CanonicalRow) map[string]any {
	payload := map[string]any{
		"id":                row.ID,
		"source":            row.Source,
		"external_id":       nullable(row.ExternalID),
		"title":             row.Title,
		"description":       nullable(row.Description),
		"brand":             nullable(row.Brand),
		"gender":            nullable(row.Gender),
		"category":          row.Category,
		"price":             nullable(row.Price),
		"sale":              nullable(row.Sale),
		"size":              nullable(row.Size),
		"image_url":         nullable(row.ImageURL),
		"additional_images": nullable(row.AdditionalImages),
		"product_url":       nullable(row.ProductURL),
		"affiliate_url":     nullable(row.AffiliateURL),
		"second_hand":       row.SecondHand,
		"availability":      string(row.Availability),
		"merchant_name":     nullable(row.MerchantName),
		"country":           nullable(row.Country),
		"metadata":          nil,
		"embedding":         nil,
	}
	if len(row.Metadata) > 0 {
		payload["metadata"] = row.Metadata
	}
	if len(row.Embedding) > 0 {
		payload["embedding"] = row.Embedding
	}
	return payload
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonOrNil marshals v for a jsonb column, nil when empty.
func jsonOrNil(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
	case []float32:
		if len(t) == 0 {
			return nil
		}
	case nil:
		return nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(buf)
}

// diffIDs returns stored ids absent from seen, preserving stored order.
func diffIDs(stored, seen []string) []string {
	keep := make(map[string]bool, len(seen))
	for _, id := range seen {
		keep[id] = true
	}
	var stale []string
	for _, id := range stored {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale
}
