// Package extract turns site specs into streams of raw product records.
// Two strategies exist: StructuredExtractor walks JSON API endpoints and
// RenderedExtractor parses HTML pages. Each can delegate to the other as
// a fallback; neither lets per-endpoint or per-page failures propagate
// past the site boundary.
package extract

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/fetch"
	"github.com/finds-group/catalog-ingest/internal/model"
	"github.com/finds-group/catalog-ingest/internal/render"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

// Deps are the collaborators shared by both extraction strategies.
type Deps struct {
	Fetcher  fetch.Getter
	Renderer render.Renderer   // nil disables browser escalation
	Headers  map[string]string // default request headers
}

// Extractor produces raw records for one site. limit <= 0 means no cap.
type Extractor interface {
	Extract(ctx context.Context, spec *sitespec.Spec, limit int) ([]model.RawRecord, error)
}

// ForSpec selects the extraction strategy for a validated spec.
func ForSpec(deps Deps, spec *sitespec.Spec) Extractor {
	if spec.API != nil {
		return &StructuredExtractor{deps: deps}
	}
	return &RenderedExtractor{deps: deps}
}

// fetchHTML obtains page HTML with the escalation ladder: plain fetch,
// then headless rendering on access denial or block signals, then plain
// fetch again if the browser path itself fails. It never returns an
// error; the worst case is empty HTML.
func (d Deps) fetchHTML(ctx context.Context, pageURL string, headers map[string]string, useBrowser bool, waitSelectors []string) string {
	log := zap.L().With(zap.String("component", "extract"), zap.String("url", pageURL))

	if useBrowser && d.Renderer != nil {
		html, err := d.Renderer.Render(ctx, pageURL, headers, waitSelectors)
		if err == nil && html != "" {
			return html
		}
		log.Debug("browser render failed, falling back to fetch", zap.Error(err))
	}

	resp, err := d.Fetcher.Get(ctx, pageURL, headers)
	if err != nil {
		log.Debug("fetch failed", zap.Error(err))
		if !useBrowser && d.Renderer != nil {
			if html, rerr := d.Renderer.Render(ctx, pageURL, headers, waitSelectors); rerr == nil {
				return html
			}
		}
		return ""
	}

	if blocked, kind := fetch.DetectBlock(resp); blocked && !useBrowser && d.Renderer != nil {
		log.Debug("block detected, escalating to browser", zap.String("block", string(kind)))
		if html, rerr := d.Renderer.Render(ctx, pageURL, headers, waitSelectors); rerr == nil && html != "" {
			return html
		}
		// Browser failed too; best effort is whatever the fetch returned.
	}

	return resp.Text()
}

// attachContext stamps site-level fields onto a record without clobbering
// anything the extractor already resolved.
func attachContext(rec model.RawRecord, spec *sitespec.Spec, endpoint string) {
	rec.SetDefault("source", spec.SourceTag())
	rec.SetDefault("merchant", spec.MerchantName())
	rec.SetDefault("brand", spec.Brand)
	if spec.Country != "" {
		rec.SetDefault("country", spec.Country)
	}
	if endpoint != "" {
		rec.SetDefault("_endpoint", endpoint)
	}
	if spec.API != nil {
		if spec.API.ProductURLTemplate != "" {
			rec.SetDefault("product_url_template", spec.API.ProductURLTemplate)
		}
		if spec.API.DefaultCurrency != "" {
			rec.SetDefault("currency", spec.API.DefaultCurrency)
		}
	}
	if spec.HTML != nil && spec.HTML.DefaultCurrency != "" {
		rec.SetDefault("currency", spec.HTML.DefaultCurrency)
	}
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// resolveURL makes href absolute against base. Protocol-relative URLs
// get https. Unresolvable inputs return the original string.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
