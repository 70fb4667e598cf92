package extract

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finds-group/catalog-ingest/internal/fetch"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

// stubGetter serves canned responses by URL and records requests.
type stubGetter struct {
	pages map[string]string
	codes map[string]int

	mu    sync.Mutex
	calls []string
}

func (s *stubGetter) Get(_ context.Context, rawURL string, _ map[string]string) (*fetch.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, rawURL)
	s.mu.Unlock()

	body, ok := s.pages[rawURL]
	if !ok {
		return nil, eris.Errorf("no route for %s", rawURL)
	}
	code := s.codes[rawURL]
	if code == 0 {
		code = http.StatusOK
	}
	return &fetch.Response{StatusCode: code, Header: http.Header{}, Body: []byte(body)}, nil
}

func (s *stubGetter) called(rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == rawURL {
			return true
		}
	}
	return false
}

func apiSpec(api *sitespec.APISpec) *sitespec.Spec {
	return &sitespec.Spec{Brand: "acme", Merchant: "Acme Store", Country: "US", API: api}
}

func TestStructuredExtract(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/products": `{
			"data": {"items": [
				{"id": 1, "title": "Dress", "img": {"url": "https://cdn/1.jpg"}},
				{"id": 2, "name": "Skirt", "img": {"url": "https://cdn/2.jpg"}},
				{"title": "no id, dropped"}
			]}
		}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoint:  "https://api.acme.example/products",
		ItemsPath: sitespec.StringList{"data.items"},
		FieldMap: map[string]sitespec.StringList{
			"external_id": {"id"},
			"title":       {"title", "name"},
			"image_url":   {"img.url"},
		},
	}), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Dress", records[0].Str("title"))
	// Fallback path chain: "name" resolves when "title" is absent.
	assert.Equal(t, "Skirt", records[1].Str("title"))
	assert.Equal(t, "acme", records[0].Str("brand"))
	assert.Equal(t, "Acme Store", records[0].Str("merchant"))
	assert.Equal(t, "scraper", records[0].Str("source"))
	assert.Equal(t, "US", records[0].Str("country"))
	assert.Equal(t, "https://api.acme.example/products", records[0].Str("_endpoint"))
}

func TestStructuredExtractItemsPathFallback(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/products": `{"products": [{"id": 9, "title": "Coat"}]}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoint:  "https://api.acme.example/products",
		ItemsPath: sitespec.StringList{"data.items", "products"},
		FieldMap: map[string]sitespec.StringList{
			"external_id": {"id"},
			"title":       {"title"},
		},
	}), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Coat", records[0].Str("title"))
}

func TestStructuredExtractDropsMissingImage(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/products": `{"items": [
			{"id": 1, "img": "https://cdn/1.jpg"},
			{"id": 2}
		]}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoint:  "https://api.acme.example/products",
		ItemsPath: sitespec.StringList{"items"},
		FieldMap: map[string]sitespec.StringList{
			"external_id": {"id"},
			"image_url":   {"img"},
		},
	}), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://cdn/1.jpg", records[0].Str("image_url"))
}

func TestStructuredExtractLimit(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/products": `{"items": [
			{"id": 1}, {"id": 2}, {"id": 3}
		]}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoint:  "https://api.acme.example/products",
		ItemsPath: sitespec.StringList{"items"},
		FieldMap:  map[string]sitespec.StringList{"external_id": {"id"}},
	}), 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStructuredExtractEndpointFailureContinues(t *testing.T) {
	getter := &stubGetter{
		pages: map[string]string{
			"https://api.acme.example/a": `boom`,
			"https://api.acme.example/b": `{"items": [{"id": 1, "title": "Ok"}]}`,
		},
	}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoints: []string{"https://api.acme.example/a", "https://api.acme.example/b"},
		ItemsPath: sitespec.StringList{"items"},
		FieldMap: map[string]sitespec.StringList{
			"external_id": {"id"},
			"title":       {"title"},
		},
	}), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Ok", records[0].Str("title"))
}

func TestStructuredExtractParams(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/products?page_size=500": `{"items": [{"id": 1}]}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoint:  "https://api.acme.example/products",
		Params:    map[string]string{"page_size": "500"},
		ItemsPath: sitespec.StringList{"items"},
		FieldMap:  map[string]sitespec.StringList{"external_id": {"id"}},
	}), 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStructuredExtractDefaultCurrencyAndTemplate(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/products": `{"items": [{"id": 1}]}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoint:           "https://api.acme.example/products",
		ItemsPath:          sitespec.StringList{"items"},
		FieldMap:           map[string]sitespec.StringList{"external_id": {"id"}},
		DefaultCurrency:    "USD",
		ProductURLTemplate: "https://acme.example/p/{keyword}-{id}",
	}), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "USD", records[0].Str("currency"))
	assert.Equal(t, "https://acme.example/p/{keyword}-{id}", records[0].Str("product_url_template"))
}

func TestDiscoverCategoryEndpoints(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/categories": `{"categories": [
			{"id": 10, "url": "https://api.acme.example/category/10/products"},
			{"id": 20}
		]}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	eps := e.discoverCategoryEndpoints(context.Background(), &sitespec.CategoryDiscovery{
		Endpoint:    "https://api.acme.example/categories",
		ItemsPath:   "categories",
		URLPath:     "url",
		IDPath:      "id",
		URLTemplate: "https://api.acme.example/category/{id}/products",
	}, nil)

	assert.Equal(t, []string{
		"https://api.acme.example/category/10/products",
		"https://api.acme.example/category/20/products",
	}, eps)
}

func TestDiscoverCategoryEndpointsNumericScavenge(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/categories": `{"tree": {"children": [{"id": "7"}, {"id": 8}]}}`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	eps := e.discoverCategoryEndpoints(context.Background(), &sitespec.CategoryDiscovery{
		Endpoint:    "https://api.acme.example/categories",
		ItemsPath:   "missing.path",
		URLTemplate: "https://api.acme.example/c/{id}",
	}, nil)

	assert.Equal(t, []string{
		"https://api.acme.example/c/7",
		"https://api.acme.example/c/8",
	}, eps)
}

func TestDiscoverFromHTML(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://acme.example/women": `<html><body>
			<script>var cfg = {categoryId: "55"};</script>
			<a class="cat" href="/c/dresses?cid=66">Dresses</a>
		</body></html>`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	eps := e.discoverFromHTML(context.Background(), &sitespec.HTMLDiscovery{
		CategoryPages:        []string{"https://acme.example/women"},
		CategoryLinkSelector: "a.cat",
		APITemplate:          "https://acme.example/api/category/{category_id}",
		CategoryQueryParam:   "cid",
	}, nil)

	assert.Equal(t, []string{
		"https://acme.example/api/category/55?ajax=true",
		"https://acme.example/api/category/66?ajax=true",
	}, eps)
}

func TestStructuredExtractFallbackHTML(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://api.acme.example/products": `{"items": []}`,
		"https://acme.example/women": `<html><body>
			<a class="product" href="/p/dress-1">Dress</a>
		</body></html>`,
		"https://acme.example/p/dress-1": `<html><body>
			<h1 class="name">Linen Dress</h1>
			<span class="sku">SKU-1</span>
		</body></html>`,
	}}
	e := NewStructuredExtractor(Deps{Fetcher: getter})

	records, err := e.Extract(context.Background(), apiSpec(&sitespec.APISpec{
		Endpoint:  "https://api.acme.example/products",
		ItemsPath: sitespec.StringList{"items"},
		FieldMap:  map[string]sitespec.StringList{"external_id": {"id"}},
		FallbackHTML: &sitespec.FallbackHTML{
			PageURL:             "https://acme.example/women",
			ProductLinkSelector: "a.product",
			ProductSelectors: map[string]string{
				"title":       "h1.name",
				"external_id": "span.sku",
			},
		},
	}), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "Linen Dress", records[0].Str("title"))
	assert.Equal(t, "SKU-1", records[0].Str("external_id"))
	assert.Equal(t, "https://acme.example/p/dress-1", records[0].Str("product_url"))
	assert.True(t, getter.called("https://acme.example/women"))
}

func TestItemsAtEmptyArrays(t *testing.T) {
	body := []byte(`{"a": [], "b": [1, 2]}`)
	items := itemsAt(body, sitespec.StringList{"a", "b"})
	assert.Len(t, items, 2)

	assert.Nil(t, itemsAt(body, sitespec.StringList{"a"}))
	assert.Nil(t, itemsAt([]byte(`{}`), sitespec.StringList{"x"}))
}
