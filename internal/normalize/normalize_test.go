package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finds-group/catalog-ingest/internal/model"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

func TestIdentityDeterminism(t *testing.T) {
	a := Identity("acme", "p-42")
	b := Identity("acme", "p-42")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Identity("acme", "p-43"))
	assert.NotEqual(t, a, Identity("other", "p-42"))
}

func TestNormalizeIdentityPrefersExternalID(t *testing.T) {
	n := New(nil)

	withID := n.Normalize(model.RawRecord{
		"source":      "acme",
		"external_id": "p-42",
		"product_url": "https://acme.example/p/old-path",
	})
	movedURL := n.Normalize(model.RawRecord{
		"source":      "acme",
		"external_id": "p-42",
		"product_url": "https://acme.example/p/new-path",
	})
	assert.Equal(t, withID.ID, movedURL.ID)

	urlOnly := n.Normalize(model.RawRecord{
		"source":      "acme",
		"product_url": "https://acme.example/p/x",
	})
	assert.Equal(t, Identity("acme", "https://acme.example/p/x"), urlOnly.ID)
}

func TestNormalizeNumericExternalID(t *testing.T) {
	// JSON numbers arrive as float64; the id must not pick up a fraction.
	row := New(nil).Normalize(model.RawRecord{
		"source":      "acme",
		"external_id": float64(42),
	})
	assert.Equal(t, "42", row.ExternalID)
	assert.Equal(t, Identity("acme", "42"), row.ID)
}

func TestNormalizeTitlePlaceholder(t *testing.T) {
	row := New(nil).Normalize(model.RawRecord{"source": "acme", "external_id": "1"})
	assert.Equal(t, "Untitled", row.Title)
	assert.Equal(t, "Clothing", row.Category)
	assert.Equal(t, model.Unknown, row.Availability)
	assert.False(t, row.SecondHand)
}

func TestFormatPriceMap(t *testing.T) {
	got := FormatPrice(map[string]any{"USD": float64(20), "CZK": float64(450)}, "USD")
	assert.Equal(t, "20USD,450CZK", got)
}

func TestFormatPricePreformattedPassthrough(t *testing.T) {
	assert.Equal(t, "15USD", FormatPrice("15USD", "CZK"))
	assert.Equal(t, "20USD,450CZK", FormatPrice("20USD,450CZK", ""))
}

func TestFormatPriceMinorUnitHeuristic(t *testing.T) {
	assert.Equal(t, "49.9USD", FormatPrice(float64(4990), "USD"))
	assert.Equal(t, "49.9USD", FormatPrice(49.9, "USD"))
	assert.Equal(t, "19.99USD", FormatPrice(float64(1999), "USD"))
	// Below the threshold nothing is divided.
	assert.Equal(t, "999USD", FormatPrice(float64(999), "USD"))
	// Known ambiguity: a genuine whole 1000 reads as minor units too.
	assert.Equal(t, "10USD", FormatPrice(float64(1000), "USD"))
	assert.Equal(t, "1000.5USD", FormatPrice(1000.5, "USD"))
	// String inputs with an explicit decimal part stay major-unit.
	assert.Equal(t, "1299CZK", FormatPrice("1299,00", "CZK"))
}

func TestFormatPriceMessyStrings(t *testing.T) {
	assert.Equal(t, "1299CZK", FormatPrice("1 299,00 Kč", "CZK"))
	assert.Equal(t, "1299.5USD", FormatPrice("$1,299.50", "USD"))
	assert.Equal(t, "49.9EUR", FormatPrice("49,90 €", "EUR"))
	assert.Equal(t, "", FormatPrice("call for price", "USD"))
	assert.Equal(t, "", FormatPrice(nil, "USD"))
}

func TestFormatPricePairList(t *testing.T) {
	got := FormatPrice([]any{
		map[string]any{"price": float64(20), "currency": "USD"},
		map[string]any{"price": float64(450), "currency": "CZK"},
	}, "")
	assert.Equal(t, "20USD,450CZK", got)
}

func TestFormatPriceStringDecimalsInAllShapes(t *testing.T) {
	// An explicit decimal part marks a major-unit price in every input
	// shape, not just the bare-string one.
	assert.Equal(t, "1299CZK", FormatPrice(map[string]any{"CZK": "1299,00"}, "CZK"))
	assert.Equal(t, "1299CZK", FormatPrice([]any{
		map[string]any{"price": "1299,00", "currency": "CZK"},
	}, ""))
	// Bare whole strings still get the minor-unit reading.
	assert.Equal(t, "19.99USD", FormatPrice(map[string]any{"USD": "1999"}, "USD"))
}

func TestGenderPrecedence(t *testing.T) {
	assert.Equal(t, "women", Gender("Woman"))
	assert.Equal(t, "women", Gender("WOMEN"))
	assert.Equal(t, "women", Gender("ladies"))
	assert.Equal(t, "men", Gender("Man"))
	assert.Equal(t, "men", Gender("boys"))
	// Unrecognized values pass through unchanged.
	assert.Equal(t, "unisex", Gender("unisex"))
	assert.Equal(t, "", Gender("  "))
}

func TestJoinSizes(t *testing.T) {
	got := JoinSizes(model.RawRecord{
		"sizes": []any{"S", []any{"M", " L "}, "S"},
	})
	assert.Equal(t, "S, M, L", got)

	assert.Equal(t, "M", JoinSizes(model.RawRecord{"size": "M"}))
	assert.Empty(t, JoinSizes(model.RawRecord{}))
}

func TestImagesSelection(t *testing.T) {
	row := New(nil).Normalize(model.RawRecord{
		"source":      "acme",
		"external_id": "1",
		"images":      []any{"//cdn/a.jpg", "https://cdn/b.jpg", "//cdn/a.jpg"},
	})
	assert.Equal(t, "https://cdn/a.jpg", row.ImageURL)
	assert.JSONEq(t, `["https://cdn/b.jpg"]`, row.AdditionalImages)

	single := New(nil).Normalize(model.RawRecord{
		"source": "acme", "external_id": "1", "image_url": "https://cdn/x.jpg",
	})
	assert.Equal(t, "https://cdn/x.jpg", single.ImageURL)
	assert.Empty(t, single.AdditionalImages)
}

func TestCategoryFromEndpoint(t *testing.T) {
	n := New(&sitespec.Spec{Brand: "acme", API: &sitespec.APISpec{
		Endpoint:          "https://api.acme.example/category/12/products",
		ItemsPath:         sitespec.StringList{"items"},
		CategoryIDPattern: `/category/(\d+)/`,
		CategoryLabels:    map[string]string{"12": "Dresses"},
	}})

	row := n.Normalize(model.RawRecord{
		"source": "acme", "external_id": "1",
		"_endpoint": "https://api.acme.example/category/12/products",
	})
	assert.Equal(t, "Dresses", row.Category)

	unknown := n.Normalize(model.RawRecord{
		"source": "acme", "external_id": "1",
		"_endpoint": "https://api.acme.example/category/99/products",
	})
	assert.Equal(t, "Clothing", unknown.Category)
}

func TestCategoryHintAndLabelTable(t *testing.T) {
	n := New(&sitespec.Spec{Brand: "acme", HTML: &sitespec.HTMLSpec{
		CategoryURLs:   []string{"https://acme.example/women"},
		CategoryLabels: map[string]string{"saty": "Dresses"},
	}})

	mapped := n.Normalize(model.RawRecord{"source": "acme", "external_id": "1", "category": "saty"})
	assert.Equal(t, "Dresses", mapped.Category)

	passthrough := n.Normalize(model.RawRecord{"source": "acme", "external_id": "1", "category": "Knitwear"})
	assert.Equal(t, "Knitwear", passthrough.Category)
}

func TestDescriptionColorStrip(t *testing.T) {
	row := New(nil).Normalize(model.RawRecord{
		"source": "acme", "external_id": "1",
		"title":       "Linen Dress",
		"description": "Linen Dress Navy with pockets",
		"color_names": []any{"Navy"},
	})
	assert.Equal(t, "Linen Dress with pockets", row.Description)
}

func TestDescriptionTrailingColorExtraction(t *testing.T) {
	row := New(nil).Normalize(model.RawRecord{
		"source": "acme", "external_id": "1",
		"title":       "Linen Dress",
		"description": "Linen Dress - Navy",
	})
	assert.Equal(t, "Linen Dress", row.Description)
	require.NotNil(t, row.Metadata)
	assert.Equal(t, []string{"navy"}, row.Metadata["colors"])
}

func TestDescriptionFallsBackToTitle(t *testing.T) {
	row := New(nil).Normalize(model.RawRecord{
		"source": "acme", "external_id": "1",
		"title":       "Linen Dress",
		"description": "Navy",
		"color_names": "Navy",
	})
	assert.Equal(t, "Linen Dress", row.Description)
}

func TestDescriptionAbsentStaysEmpty(t *testing.T) {
	// Title substitutes only when cleanup consumed an existing description.
	row := New(nil).Normalize(model.RawRecord{
		"source": "acme", "external_id": "1", "title": "Linen Dress",
	})
	assert.Empty(t, row.Description)
}

func TestProductURLTemplate(t *testing.T) {
	n := New(nil)

	row := n.Normalize(model.RawRecord{
		"source": "acme", "external_id": "42",
		"keyword":              "linen-dress",
		"product_url_template": "https://acme.example/p/{keyword}-{id}",
	})
	assert.Equal(t, "https://acme.example/p/linen-dress-42", row.ProductURL)

	// Unresolvable placeholders leave the URL absent.
	missing := n.Normalize(model.RawRecord{
		"source": "acme", "external_id": "42",
		"product_url_template": "https://acme.example/p/{keyword}-{id}",
	})
	assert.Empty(t, missing.ProductURL)

	// An extracted URL always wins over the template.
	direct := n.Normalize(model.RawRecord{
		"source": "acme", "external_id": "42",
		"product_url":          "https://acme.example/p/direct",
		"product_url_template": "https://acme.example/p/{keyword}-{id}",
	})
	assert.Equal(t, "https://acme.example/p/direct", direct.ProductURL)
}

func TestAvailability(t *testing.T) {
	n := New(nil)
	base := model.RawRecord{"source": "acme", "external_id": "1"}

	cases := []struct {
		in   any
		want model.Availability
	}{
		{true, model.InStock},
		{false, model.OutOfStock},
		{"in stock", model.InStock},
		{"InStock", model.InStock},
		{"sold-out", model.OutOfStock},
		{"out_of_stock", model.OutOfStock},
		{"backorder", model.Unknown},
		{nil, model.Unknown},
	}
	for _, c := range cases {
		rec := model.RawRecord{"source": "acme", "external_id": "1", "availability": c.in}
		assert.Equal(t, c.want, n.Normalize(rec).Availability, "availability %v", c.in)
	}
	assert.Equal(t, model.Unknown, n.Normalize(base).Availability)
}

func TestMetadataPacking(t *testing.T) {
	row := New(nil).Normalize(model.RawRecord{
		"source": "acme", "external_id": "1",
		"merchant": "Acme Store",
		"country":  "CZ",
		"currency": "CZK",
		"price":    "450",
	})
	require.NotNil(t, row.Metadata)
	assert.Equal(t, "Acme Store", row.Metadata["merchant"])
	assert.Equal(t, "CZ", row.Metadata["country"])
	assert.Equal(t, "CZK", row.Metadata["original_currency"])
	assert.Equal(t, "450", row.Metadata["original_price"])
	assert.Equal(t, "Acme Store", row.MerchantName)
	assert.Equal(t, "CZ", row.Country)
}

func TestEndToEndScenarioRow(t *testing.T) {
	// The api pipeline shape: {"name":"Tee","cost":1999,"img":"//cdn/x.jpg"}
	// mapped through {title:name, price:cost, image:img} with USD default.
	row := New(nil).Normalize(model.RawRecord{
		"source":      "acme",
		"external_id": "77",
		"title":       "Tee",
		"price":       float64(1999),
		"currency":    "USD",
		"image":       "//cdn/x.jpg",
	})
	assert.Equal(t, "Tee", row.Title)
	assert.Equal(t, "19.99USD", row.Price)
	assert.Equal(t, "https://cdn/x.jpg", row.ImageURL)
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, Identity("acme", "77"), row.ID)
}
