// Package embed attaches image-similarity vectors to catalog rows. The
// pipeline treats every embedding failure as "no vector": rows are still
// upserted, so backends here return errors freely and callers drop them.
package embed

import "context"

// Embedder produces a vector for a product image.
type Embedder interface {
	Embed(ctx context.Context, imageURL string) ([]float32, error)
}

// NopEmbedder produces no vectors. Used for dry runs and --no-embed.
type NopEmbedder struct{}

// Embed implements Embedder.
func (NopEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}
