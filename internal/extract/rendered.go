package extract

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finds-group/catalog-ingest/internal/fetch"
	"github.com/finds-group/catalog-ingest/internal/model"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

// productPageConcurrency bounds parallel product-page fetches within one
// site. Collection completes before normalization and upsert, so the
// batch-wide dedupe is unaffected.
const productPageConcurrency = 4

// RenderedExtractor pulls records out of HTML pages. Link-then-visit
// mode discovers product links on category pages (and sitemaps) and
// visits each; direct mode reads repeating product cards off the
// category page itself.
type RenderedExtractor struct {
	deps Deps
}

// NewRenderedExtractor creates a RenderedExtractor.
func NewRenderedExtractor(deps Deps) *RenderedExtractor {
	return &RenderedExtractor{deps: deps}
}

// Extract implements Extractor for HTML-mode specs.
func (e *RenderedExtractor) Extract(ctx context.Context, spec *sitespec.Spec, limit int) ([]model.RawRecord, error) {
	h := spec.HTML
	if h == nil {
		return nil, eris.Errorf("extract: %s is not an html-mode spec", spec.Brand)
	}
	log := zap.L().With(zap.String("component", "extract.html"), zap.String("brand", spec.Brand))

	headers := fetch.MergeHeaders(e.deps.Headers, h.Headers)
	fetch.Prewarm(ctx, e.deps.Fetcher, h.Prewarm, headers)

	var records []model.RawRecord
	if h.ProductSelector != "" {
		records = e.extractDirect(ctx, spec, headers, limit)
	} else {
		links := e.collectLinks(ctx, spec, headers)
		log.Debug("collected product links", zap.Int("count", len(links)))
		records = e.visitProducts(ctx, links, h.ProductSelectors, headers, h.UseBrowser, limit)
	}

	for _, rec := range records {
		attachContext(rec, spec, "")
	}
	return records, nil
}

// collectLinks gathers product links from sitemaps and category pages,
// deduplicated preserving first-seen order.
func (e *RenderedExtractor) collectLinks(ctx context.Context, spec *sitespec.Spec, headers map[string]string) []string {
	h := spec.HTML

	var links []string
	if len(h.Sitemaps) > 0 {
		links = append(links, FetchSitemapURLs(ctx, e.deps.Fetcher, h.Sitemaps, headers, h.SitemapURLContains)...)
	}
	for _, cat := range h.CategoryURLs {
		if ctx.Err() != nil {
			break
		}
		links = append(links, e.categoryLinks(ctx, cat, h.ProductLinkSelector, h.LinkPattern, headers, h.UseBrowser)...)
	}
	return dedupe(links)
}

// categoryLinks extracts candidate product links from one category page
// via, in order: browser link enumeration (when requested), CSS
// selector, JSON-LD structured data, and a raw-HTML regex scan.
func (e *RenderedExtractor) categoryLinks(ctx context.Context, pageURL, selector, linkPattern string, headers map[string]string, useBrowser bool) []string {
	base, _ := url.Parse(pageURL)

	if useBrowser && e.deps.Renderer != nil {
		hrefs, err := e.deps.Renderer.Links(ctx, pageURL, selector, headers)
		if err == nil && len(hrefs) > 0 {
			out := make([]string, 0, len(hrefs))
			for _, href := range hrefs {
				if abs := resolveURL(base, href); strings.HasPrefix(abs, "http") {
					out = append(out, abs)
				}
			}
			return dedupe(out)
		}
		zap.L().Debug("extract: browser link enumeration failed, parsing static html",
			zap.String("page", pageURL), zap.Error(err))
	}

	html := e.deps.fetchHTML(ctx, pageURL, headers, false, nil)
	if html == "" {
		return nil
	}

	var links []string
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
			for _, attr := range []string{"href", "data-href", "data-url"} {
				if href, ok := a.Attr(attr); ok && href != "" {
					if abs := resolveURL(base, href); strings.HasPrefix(abs, "http") {
						links = append(links, abs)
					}
					return
				}
			}
		})
		links = append(links, jsonLDLinks(doc, base)...)
	}

	// SPA markup that selectors miss: regex-scan the raw HTML.
	if linkPattern != "" {
		links = append(links, patternLinks(html, linkPattern, base)...)
	}

	return dedupe(links)
}

// jsonLDLinks walks embedded JSON-LD blocks collecting url values,
// which list pages commonly carry under itemListElement.
func jsonLDLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var node any
		if err := json.Unmarshal([]byte(s.Text()), &node); err != nil {
			return
		}
		collectJSONURLs(node, base, &links)
	})
	return links
}

func collectJSONURLs(node any, base *url.URL, out *[]string) {
	switch t := node.(type) {
	case map[string]any:
		if u, ok := t["url"].(string); ok && u != "" {
			*out = append(*out, resolveURL(base, u))
		}
		for _, v := range t {
			collectJSONURLs(v, base, out)
		}
	case []any:
		for _, v := range t {
			collectJSONURLs(v, base, out)
		}
	}
}

var (
	hrefAttrRe    = regexp.MustCompile(`(?:href|data-href|data-url)=["']([^"']*)["']`)
	absoluteURLRe = regexp.MustCompile(`https?://[^\s"'<>\\]+`)
)

// patternLinks scans raw HTML for product URLs matching the spec's link
// pattern, both inside href-like attributes and as bare absolute URLs in
// scripts or inlined state.
func patternLinks(html, pattern string, base *url.URL) []string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		zap.L().Debug("extract: bad link_pattern", zap.String("pattern", pattern), zap.Error(err))
		return nil
	}

	var links []string
	for _, m := range hrefAttrRe.FindAllStringSubmatch(html, -1) {
		if re.MatchString(m[1]) {
			links = append(links, resolveURL(base, m[1]))
		}
	}
	for _, m := range absoluteURLRe.FindAllString(html, -1) {
		if re.MatchString(m) {
			links = append(links, m)
		}
	}
	return links
}

// visitProducts fetches and parses each product page. Failures yield nil
// slots that are dropped; source order is preserved.
func (e *RenderedExtractor) visitProducts(ctx context.Context, links []string, selectors map[string]string, headers map[string]string, useBrowser bool, limit int) []model.RawRecord {
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}

	rules := parseRules(selectors)
	slots := make([]model.RawRecord, len(links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(productPageConcurrency)
	for i, link := range links {
		i, link := i, link
		g.Go(func() error {
			html := e.deps.fetchHTML(gctx, link, headers, useBrowser, nil)
			if html == "" {
				return nil
			}
			rec := parseProductPage(html, link, rules)
			if rec != nil {
				slots[i] = rec
			}
			return nil
		})
	}
	_ = g.Wait()

	records := make([]model.RawRecord, 0, len(slots))
	for _, rec := range slots {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// parseProductPage evaluates the per-field rules against a product page.
func parseProductPage(html, pageURL string, rules map[string]FieldRule) model.RawRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)

	rec := make(model.RawRecord, len(rules)+2)
	root := doc.Selection
	for field, rule := range rules {
		if v := rule.Eval(root, base); v != "" {
			rec[field] = v
		}
	}
	rec["product_url"] = pageURL
	rec.SetDefault("external_id", rec.Str("product_id", "external_id"))
	if rec.Str("external_id") == "" {
		rec["external_id"] = pageURL
	}
	rec["_meta"] = map[string]any{"extractor": "html", "page_url": pageURL, "html_len": len(html)}
	return rec
}

// extractDirect reads repeating product cards off each category page
// without visiting product pages. Cards lacking any identifier-bearing
// field are discarded.
func (e *RenderedExtractor) extractDirect(ctx context.Context, spec *sitespec.Spec, headers map[string]string, limit int) []model.RawRecord {
	h := spec.HTML
	rules := parseRules(h.ProductSelectors)
	log := zap.L().With(zap.String("component", "extract.html"), zap.String("brand", spec.Brand))

	var records []model.RawRecord
	for _, cat := range h.CategoryURLs {
		if ctx.Err() != nil {
			break
		}

		html := e.deps.fetchHTML(ctx, cat, headers, h.UseBrowser, []string{h.ProductSelector})
		if html == "" {
			log.Debug("empty category page", zap.String("category", cat))
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			log.Debug("unparsable category page", zap.String("category", cat), zap.Error(err))
			continue
		}
		base, _ := url.Parse(cat)

		count := 0
		doc.Find(h.ProductSelector).EachWithBreak(func(_ int, card *goquery.Selection) bool {
			rec := make(model.RawRecord, len(rules))
			for field, rule := range rules {
				if v := rule.Eval(card, base); v != "" {
					rec[field] = v
				}
			}
			if rec.Str("external_id", "product_id", "product_url") == "" {
				return true
			}
			rec.SetDefault("external_id", rec.Str("product_id", "product_url"))
			records = append(records, rec)
			count++
			return limit <= 0 || len(records) < limit
		})
		log.Debug("category extracted", zap.String("category", cat), zap.Int("products", count))

		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records
}

func parseRules(selectors map[string]string) map[string]FieldRule {
	rules := make(map[string]FieldRule, len(selectors))
	for field, s := range selectors {
		rules[field] = ParseRule(s)
	}
	return rules
}
