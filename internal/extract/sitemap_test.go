package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchSitemapURLs(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://acme.example/sitemap.xml": `<?xml version="1.0" encoding="UTF-8"?>
			<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<url><loc>https://acme.example/p/dress</loc></url>
				<url><loc>https://acme.example/p/skirt</loc></url>
				<url><loc>https://acme.example/about</loc></url>
			</urlset>`,
	}}

	urls := FetchSitemapURLs(context.Background(), getter,
		[]string{"https://acme.example/sitemap.xml"}, nil, []string{"/p/"})
	assert.Equal(t, []string{
		"https://acme.example/p/dress",
		"https://acme.example/p/skirt",
	}, urls)
}

func TestFetchSitemapURLsIndex(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://acme.example/sitemap_index.xml": `<?xml version="1.0"?>
			<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<sitemap><loc>https://acme.example/sitemap-products.xml</loc></sitemap>
				<sitemap><loc>https://acme.example/sitemap-missing.xml</loc></sitemap>
			</sitemapindex>`,
		"https://acme.example/sitemap-products.xml": `<?xml version="1.0"?>
			<urlset>
				<url><loc>https://acme.example/p/coat</loc></url>
				<url><loc>https://acme.example/p/coat</loc></url>
			</urlset>`,
	}}

	urls := FetchSitemapURLs(context.Background(), getter,
		[]string{"https://acme.example/sitemap_index.xml"}, nil, nil)
	// Nested sitemap walked, dead one skipped, duplicates collapsed.
	assert.Equal(t, []string{"https://acme.example/p/coat"}, urls)
}

func TestFetchSitemapURLsDepthCap(t *testing.T) {
	// Self-referencing index terminates at the recursion cap.
	getter := &stubGetter{pages: map[string]string{
		"https://acme.example/loop.xml": `<?xml version="1.0"?>
			<sitemapindex>
				<sitemap><loc>https://acme.example/loop.xml</loc></sitemap>
			</sitemapindex>`,
	}}

	urls := FetchSitemapURLs(context.Background(), getter,
		[]string{"https://acme.example/loop.xml"}, nil, nil)
	assert.Empty(t, urls)
}

func TestFetchSitemapURLsMalformed(t *testing.T) {
	getter := &stubGetter{pages: map[string]string{
		"https://acme.example/sitemap.xml": `not xml at all`,
	}}

	urls := FetchSitemapURLs(context.Background(), getter,
		[]string{"https://acme.example/sitemap.xml"}, nil, nil)
	assert.Empty(t, urls)
}
