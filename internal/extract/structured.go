package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/fetch"
	"github.com/finds-group/catalog-ingest/internal/model"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

// StructuredExtractor pulls records from JSON API endpoints by evaluating
// path queries against the response body. Endpoint failures degrade to
// zero items and, when configured, trigger the rendered fallback.
type StructuredExtractor struct {
	deps Deps
}

// NewStructuredExtractor creates a StructuredExtractor.
func NewStructuredExtractor(deps Deps) *StructuredExtractor {
	return &StructuredExtractor{deps: deps}
}

// Extract implements Extractor for API-mode specs.
func (e *StructuredExtractor) Extract(ctx context.Context, spec *sitespec.Spec, limit int) ([]model.RawRecord, error) {
	api := spec.API
	if api == nil {
		return nil, eris.Errorf("extract: %s is not an api-mode spec", spec.Brand)
	}
	log := zap.L().With(zap.String("component", "extract.api"), zap.String("brand", spec.Brand))

	headers := fetch.MergeHeaders(e.deps.Headers, api.Headers)
	fetch.Prewarm(ctx, e.deps.Fetcher, api.Prewarm, headers)

	endpoints := api.AllEndpoints()
	if api.DiscoverCategories != nil {
		if found := e.discoverCategoryEndpoints(ctx, api.DiscoverCategories, headers); len(found) > 0 {
			log.Debug("discovered endpoints from category api", zap.Int("count", len(found)))
			endpoints = found
		}
	}
	if api.DiscoverCategoriesHTML != nil {
		if found := e.discoverFromHTML(ctx, api.DiscoverCategoriesHTML, headers); len(found) > 0 {
			log.Debug("discovered endpoints from category html", zap.Int("count", len(found)))
			endpoints = found
		}
	}

	var records []model.RawRecord
	for _, ep := range endpoints {
		if ctx.Err() != nil {
			break
		}

		batch, err := e.ingestEndpoint(ctx, api, ep, headers)
		if err != nil {
			log.Debug("endpoint failed", zap.String("endpoint", ep), zap.Error(err))
			batch = nil
		}

		if len(batch) == 0 && api.FallbackHTML != nil {
			log.Debug("endpoint empty, using html fallback", zap.String("endpoint", ep))
			remaining := 0
			if limit > 0 {
				remaining = limit - len(records)
			}
			batch = e.fallbackHTML(ctx, spec, ep, remaining)
		}

		for _, rec := range batch {
			attachContext(rec, spec, ep)
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}
	}
	return records, nil
}

// withParams appends configured query parameters to an endpoint URL.
func withParams(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ingestEndpoint fetches one endpoint and flattens its items through the
// field map. Items without an identifier candidate are dropped, as are
// items missing a mapped image_url.
func (e *StructuredExtractor) ingestEndpoint(ctx context.Context, api *sitespec.APISpec, endpoint string, headers map[string]string) ([]model.RawRecord, error) {
	resp, err := e.deps.Fetcher.Get(ctx, withParams(endpoint, api.Params), headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("extract: endpoint %s status %d", endpoint, resp.StatusCode)
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, eris.Errorf("extract: endpoint %s returned invalid json", endpoint)
	}

	items := itemsAt(resp.Body, api.ItemsPath)
	if len(items) == 0 {
		return nil, nil
	}

	// Items that fail to yield a field the map promises are dropped;
	// fields the map never mentions are nobody's problem.
	_, wantImage := api.FieldMap["image_url"]
	_, mapsExternal := api.FieldMap["external_id"]
	_, mapsProduct := api.FieldMap["product_id"]
	wantID := mapsExternal || mapsProduct

	var records []model.RawRecord
	for _, item := range items {
		rec := flattenItem(item, api.FieldMap)
		if wantID && rec.Scalar("external_id", "product_id") == "" {
			continue
		}
		if wantImage && rec.Scalar("image_url") == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// itemsAt evaluates the items-path fallback chain; the first path that
// yields a non-empty array wins.
func itemsAt(body []byte, paths sitespec.StringList) []gjson.Result {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		res := gjson.GetBytes(body, p)
		if res.IsArray() {
			if arr := res.Array(); len(arr) > 0 {
				return arr
			}
		}
	}
	return nil
}

// flattenItem maps one JSON item node through the field map. Each field
// takes the first non-null result of its fallback path chain; unresolved
// fields stay absent rather than defaulting.
func flattenItem(item gjson.Result, fieldMap map[string]sitespec.StringList) model.RawRecord {
	rec := make(model.RawRecord, len(fieldMap))
	for dest, paths := range fieldMap {
		for _, p := range paths {
			if strings.TrimSpace(p) == "" {
				continue
			}
			v := item.Get(p)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			rec[dest] = v.Value()
			break
		}
	}
	return rec
}

// fallbackHTML runs link-then-visit rendered extraction for an endpoint
// whose JSON yielded nothing. It shares the spec's identity context but
// its own selectors and headers.
func (e *StructuredExtractor) fallbackHTML(ctx context.Context, spec *sitespec.Spec, endpoint string, limit int) []model.RawRecord {
	fh := spec.API.FallbackHTML

	pageURL := fh.PageURL
	if pageURL == "" {
		pageURL = strings.SplitN(endpoint, "?", 2)[0]
	}
	headers := fetch.MergeHeaders(e.deps.Headers, fh.Headers)
	fetch.Prewarm(ctx, e.deps.Fetcher, fh.Prewarm, headers)

	r := &RenderedExtractor{deps: e.deps}
	links := r.categoryLinks(ctx, pageURL, fh.ProductLinkSelector, "", headers, fh.UseBrowser)
	zap.L().Debug("html fallback links",
		zap.String("brand", spec.Brand),
		zap.String("page", pageURL),
		zap.Int("count", len(links)),
	)

	return r.visitProducts(ctx, links, fh.ProductSelectors, headers, fh.UseBrowser, limit)
}
