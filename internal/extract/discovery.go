package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

// discoverCategoryEndpoints probes a category-listing API for product
// endpoints. Items may be direct URL strings, carry a URL at url_path,
// or carry an ID formatted into url_template. When nothing matches, a
// recursive scan collects numeric ids from the whole response.
func (e *StructuredExtractor) discoverCategoryEndpoints(ctx context.Context, conf *sitespec.CategoryDiscovery, headers map[string]string) []string {
	resp, err := e.deps.Fetcher.Get(ctx, conf.Endpoint, headers)
	if err != nil || resp.StatusCode >= 400 {
		zap.L().Debug("extract: category discovery fetch failed",
			zap.String("endpoint", conf.Endpoint), zap.Error(err))
		return nil
	}

	body := gjson.ParseBytes(resp.Body)
	var endpoints []string
	for _, item := range body.Get(conf.ItemsPath).Array() {
		if item.Type == gjson.String && strings.HasPrefix(item.String(), "http") {
			endpoints = append(endpoints, item.String())
			continue
		}
		if conf.URLPath != "" {
			if u := item.Get(conf.URLPath).String(); strings.HasPrefix(u, "http") {
				endpoints = append(endpoints, u)
				continue
			}
		}
		if conf.IDPath != "" && conf.URLTemplate != "" {
			if id := item.Get(conf.IDPath); id.Exists() {
				endpoints = append(endpoints, strings.ReplaceAll(conf.URLTemplate, "{id}", id.String()))
			}
		}
	}

	// Nothing matched the declared paths: scavenge numeric ids anywhere
	// in the response.
	if len(endpoints) == 0 && conf.URLTemplate != "" {
		for _, id := range dedupe(collectNumericIDs(body)) {
			endpoints = append(endpoints, strings.ReplaceAll(conf.URLTemplate, "{id}", id))
		}
	}

	return dedupe(endpoints)
}

var digitsRe = regexp.MustCompile(`^\d+$`)

func collectNumericIDs(node gjson.Result) []string {
	var ids []string
	switch {
	case node.IsObject():
		node.ForEach(func(key, value gjson.Result) bool {
			if key.String() == "id" {
				if s := strings.TrimSpace(value.String()); digitsRe.MatchString(s) {
					ids = append(ids, s)
				}
			}
			ids = append(ids, collectNumericIDs(value)...)
			return true
		})
	case node.IsArray():
		for _, v := range node.Array() {
			ids = append(ids, collectNumericIDs(v)...)
		}
	}
	return ids
}

// embeddedEndpointPatterns locate category ids inside raw category HTML.
var embeddedEndpointPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/category/(\d+)/products`),
	regexp.MustCompile(`categoryId["']?\s*[:=]\s*["']?(\d+)`),
	regexp.MustCompile(`[?&]v2=(\d+)`),
}

// discoverFromHTML scans rendered category pages for embedded product
// API endpoints: raw-HTML id patterns first, then the category page URL
// itself, then category links matching the configured selector.
func (e *StructuredExtractor) discoverFromHTML(ctx context.Context, conf *sitespec.HTMLDiscovery, headers map[string]string) []string {
	var endpoints []string
	for _, page := range conf.CategoryPages {
		resp, err := e.deps.Fetcher.Get(ctx, page, headers)
		if err != nil || resp.StatusCode >= 400 {
			zap.L().Debug("extract: html discovery fetch failed", zap.String("page", page), zap.Error(err))
			continue
		}
		html := resp.Text()

		for _, pat := range embeddedEndpointPatterns {
			for _, m := range pat.FindAllStringSubmatch(html, -1) {
				if ep := formatCategoryEndpoint(conf, m[1], page); ep != "" {
					endpoints = append(endpoints, ep)
				}
			}
		}

		if id := categoryIDFromURL(conf, page); id != "" {
			if ep := formatCategoryEndpoint(conf, id, page); ep != "" {
				endpoints = append(endpoints, ep)
			}
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}
		selector := conf.CategoryLinkSelector
		if selector == "" {
			selector = "a"
		}
		doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if href == "" || (conf.LinkHrefFilter != "" && !strings.Contains(href, conf.LinkHrefFilter)) {
				return
			}
			id := categoryIDFromURL(conf, href)
			if id == "" && strings.Contains(conf.APITemplate, "{category_id}") {
				return
			}
			if ep := formatCategoryEndpoint(conf, id, href); ep != "" {
				endpoints = append(endpoints, ep)
			}
		})
	}
	return dedupe(endpoints)
}

// categoryIDFromURL extracts a category id from a URL via the configured
// query parameter first, then the configured regex.
func categoryIDFromURL(conf *sitespec.HTMLDiscovery, rawURL string) string {
	if conf.CategoryQueryParam != "" {
		if u, err := url.Parse(rawURL); err == nil {
			if v := u.Query().Get(conf.CategoryQueryParam); v != "" {
				return v
			}
		}
	}
	if conf.CategoryIDRegex != "" {
		re, err := regexp.Compile(conf.CategoryIDRegex)
		if err == nil {
			if m := re.FindStringSubmatch(rawURL); len(m) > 1 {
				return m[1]
			}
		}
	}
	return ""
}

// formatCategoryEndpoint renders the API template and enforces the
// ajax=true flag sites use to serve JSON on shared routes.
func formatCategoryEndpoint(conf *sitespec.HTMLDiscovery, categoryID, path string) string {
	ep := conf.APITemplate
	ep = strings.ReplaceAll(ep, "{category_id}", categoryID)
	ep = strings.ReplaceAll(ep, "{path}", path)
	if !strings.HasPrefix(ep, "http") {
		return ""
	}
	if !strings.Contains(ep, "ajax=true") {
		sep := "?"
		if strings.Contains(ep, "?") {
			sep = "&"
		}
		ep += sep + "ajax=true"
	}
	return ep
}
