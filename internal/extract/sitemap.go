package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/fetch"
)

// maxSitemapDepth caps sitemap-index recursion. Indexes pointing at
// indexes exist in the wild but three levels covers every retailer seen.
const maxSitemapDepth = 3

// FetchSitemapURLs walks sitemaps (including sitemap indexes) and returns
// the page URLs they list, filtered by the optional substring list and
// deduplicated in first-seen order. Unreachable or malformed sitemaps are
// skipped.
func FetchSitemapURLs(ctx context.Context, fetcher fetch.Getter, sitemaps []string, headers map[string]string, contains []string) []string {
	log := zap.L().With(zap.String("component", "extract.sitemap"))

	var urls []string
	for _, sm := range sitemaps {
		if ctx.Err() != nil {
			break
		}
		urls = append(urls, walkSitemap(ctx, fetcher, sm, headers, contains, 0, log)...)
	}
	return dedupe(urls)
}

func walkSitemap(ctx context.Context, fetcher fetch.Getter, sitemapURL string, headers map[string]string, contains []string, depth int, log *zap.Logger) []string {
	if depth >= maxSitemapDepth || ctx.Err() != nil {
		return nil
	}

	resp, err := fetcher.Get(ctx, sitemapURL, headers)
	if err != nil || resp.StatusCode >= 400 {
		log.Debug("sitemap fetch failed", zap.String("sitemap", sitemapURL), zap.Error(err))
		return nil
	}

	locs, err := sitemapLocs(resp.Body)
	if err != nil {
		log.Debug("sitemap parse failed", zap.String("sitemap", sitemapURL), zap.Error(err))
		return nil
	}

	var urls []string
	for _, loc := range locs {
		// Nested sitemaps get walked; everything else is a page URL.
		if isSitemapRef(loc) {
			urls = append(urls, walkSitemap(ctx, fetcher, loc, headers, contains, depth+1, log)...)
			continue
		}
		if matchesAny(loc, contains) {
			urls = append(urls, loc)
		}
	}
	log.Debug("sitemap walked", zap.String("sitemap", sitemapURL), zap.Int("urls", len(urls)))
	return urls
}

// sitemapLocs collects the text of every <loc> element regardless of
// namespace, which covers both urlset and sitemapindex documents.
func sitemapLocs(body []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var locs []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return locs, nil
		}
		if err != nil {
			if len(locs) > 0 {
				return locs, nil
			}
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "loc" {
			continue
		}
		var loc string
		if err := dec.DecodeElement(&loc, &start); err != nil {
			continue
		}
		if loc = strings.TrimSpace(loc); loc != "" {
			locs = append(locs, loc)
		}
	}
}

func isSitemapRef(loc string) bool {
	path := strings.SplitN(loc, "?", 2)[0]
	return strings.HasSuffix(path, ".xml") || strings.HasSuffix(path, ".xml.gz")
}

// matchesAny reports whether the URL contains any of the substrings. An
// empty filter list admits everything.
func matchesAny(u string, contains []string) bool {
	if len(contains) == 0 {
		return true
	}
	for _, c := range contains {
		if c != "" && strings.Contains(u, c) {
			return true
		}
	}
	return false
}
