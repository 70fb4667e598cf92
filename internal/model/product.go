package model

// Availability is the normalized stock state of a product.
type Availability string

const (
	InStock    Availability = "in_stock"
	OutOfStock Availability = "out_of_stock"
	Unknown    Availability = "unknown"
)

// CanonicalRow is the store-ready product record. One row is produced per
// observed product per run; rows are replaced wholesale on upsert, keyed by ID.
type CanonicalRow struct {
	// ID is the deterministic identity digest: sha256(source + ":" + external id).
	ID         string `json:"id"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Category    string `json:"category"`

	// Price and Sale are comma-joined multi-currency strings, e.g. "20USD,450CZK".
	Price string `json:"price,omitempty"`
	Sale  string `json:"sale,omitempty"`

	Size string `json:"size,omitempty"`

	// ImageURL is the single representative image used for embedding.
	// AdditionalImages is a JSON-encoded array of the remaining candidates
	// and is never embedded.
	ImageURL         string `json:"image_url,omitempty"`
	AdditionalImages string `json:"additional_images,omitempty"`

	ProductURL   string `json:"product_url,omitempty"`
	AffiliateURL string `json:"affiliate_url,omitempty"`

	SecondHand   bool         `json:"second_hand"`
	Availability Availability `json:"availability"`

	// MerchantName and Country are partition keys for sync-delete scoping.
	// They are duplicated into Metadata for downstream consumers.
	MerchantName string `json:"merchant_name,omitempty"`
	Country      string `json:"country,omitempty"`

	// Metadata carries passthrough context (merchant, country, original
	// price/currency, extractor hints) without widening the column set.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Embedding is the image-similarity vector, absent when the embedder
	// failed or was skipped.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Columns lists every catalog column in stable order. Batch upserts require
// a uniform row shape, so payload builders emit all of these with explicit
// nulls for absent values.
func Columns() []string {
	return []string{
		"id", "source", "external_id",
		"title", "description", "brand", "gender", "category",
		"price", "sale", "size",
		"image_url", "additional_images",
		"product_url", "affiliate_url",
		"second_hand", "availability",
		"merchant_name", "country",
		"metadata", "embedding",
	}
}
