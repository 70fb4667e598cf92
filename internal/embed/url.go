package embed

import (
	"net/url"
	"strconv"
	"strings"
)

// refererByHostSuffix lists CDNs that refuse image requests without the
// retailer referer.
var refererByHostSuffix = map[string]string{
	"cdn.shopify.com":   "https://www.shopify.com/",
	"images.ctfassets.net": "https://www.contentful.com/",
}

// NormalizeImageURL prepares an extracted image URL for fetching by an
// embedding service: protocol-relative URLs get https, {width}
// placeholders are substituted, and known CDNs get a referer header.
func NormalizeImageURL(raw string, width int) (string, map[string]string) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", nil
	}
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	if width > 0 {
		u = strings.ReplaceAll(u, "{width}", strconv.Itoa(width))
	}

	var headers map[string]string
	if parsed, err := url.Parse(u); err == nil {
		for suffix, referer := range refererByHostSuffix {
			if strings.HasSuffix(parsed.Host, suffix) {
				headers = map[string]string{"Referer": referer}
				break
			}
		}
	}
	return u, headers
}
