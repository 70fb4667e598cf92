// Package sitespec holds the declarative per-retailer extraction
// configuration loaded from sites.yaml. Specs are pure data; validation
// and selection live here, extraction behavior lives in internal/extract.
package sitespec

import (
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// StringList accepts either a YAML scalar or a sequence of strings, so
// config authors can write `items_path: products` or a fallback list.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = StringList{v}
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = StringList(v)
		return nil
	default:
		return eris.Errorf("sitespec: expected string or list, got yaml kind %d", node.Kind)
	}
}

// Spec describes one retailer source. Exactly one of API or HTML must be set.
type Spec struct {
	Brand    string `yaml:"brand"`
	Merchant string `yaml:"merchant"`
	Source   string `yaml:"source"`
	Country  string `yaml:"country"`
	Debug    bool   `yaml:"debug"`

	// RespectRobots defaults to true; any spec setting it to false
	// disables robots checks for the whole run.
	RespectRobots *bool `yaml:"respect_robots"`

	API  *APISpec  `yaml:"api"`
	HTML *HTMLSpec `yaml:"html"`
}

// APISpec configures structured (JSON endpoint) extraction.
type APISpec struct {
	Endpoint  string   `yaml:"endpoint"`
	Endpoints []string `yaml:"endpoints"`

	// ItemsPath selects the array of item nodes from the response body.
	// Multiple paths act as fallbacks: the first that yields items wins.
	ItemsPath StringList `yaml:"items_path"`

	// FieldMap maps canonical field names to JSON path expressions.
	// A list value is a fallback chain: first non-null result wins.
	FieldMap map[string]StringList `yaml:"field_map"`

	Headers map[string]string `yaml:"headers"`
	Params  map[string]string `yaml:"params"`

	// Prewarm URLs are fetched before extraction to establish cookies.
	Prewarm []string `yaml:"prewarm"`

	// DiscoverCategories probes a category-listing API for per-category
	// product endpoints; DiscoverCategoriesHTML scans rendered category
	// pages instead. Discovered endpoints replace the static list.
	DiscoverCategories     *CategoryDiscovery `yaml:"discover_categories"`
	DiscoverCategoriesHTML *HTMLDiscovery     `yaml:"discover_categories_html"`

	// FallbackHTML is invoked for an endpoint that errors or yields
	// zero items.
	FallbackHTML *FallbackHTML `yaml:"fallback_html"`

	// ProductURLTemplate synthesizes product URLs from SEO fields when no
	// direct URL was extracted. Placeholders: {keyword}, {id}, {discern_id}.
	ProductURLTemplate string `yaml:"product_url_template"`

	// DefaultCurrency is assumed for numeric prices without a code.
	DefaultCurrency string `yaml:"default_currency"`

	// CategoryIDPattern extracts a category identifier from the endpoint
	// URL (one capture group); CategoryLabels maps identifiers to labels.
	CategoryIDPattern string            `yaml:"category_id_pattern"`
	CategoryLabels    map[string]string `yaml:"category_labels"`
}

// CategoryDiscovery probes a categories JSON endpoint for product endpoints.
type CategoryDiscovery struct {
	Endpoint    string `yaml:"endpoint"`
	ItemsPath   string `yaml:"items_path"`
	URLPath     string `yaml:"url_path"`
	IDPath      string `yaml:"id_path"`
	URLTemplate string `yaml:"url_template"` // format target for {id}
}

// HTMLDiscovery scans category HTML pages for embedded API endpoints.
type HTMLDiscovery struct {
	CategoryPages        []string `yaml:"category_pages"`
	CategoryLinkSelector string   `yaml:"category_link_selector"`
	LinkHrefFilter       string   `yaml:"link_href_filter"`
	APITemplate          string   `yaml:"product_api_from_category"` // {category_id}, {path}
	CategoryIDRegex      string   `yaml:"extract_category_id_regex"`
	CategoryQueryParam   string   `yaml:"extract_category_query_param"`
}

// FallbackHTML configures rendered extraction used as an API fallback.
type FallbackHTML struct {
	PageURL             string            `yaml:"page_url"` // defaults to the endpoint minus its query
	ProductLinkSelector string            `yaml:"product_link_selector"`
	ProductSelectors    map[string]string `yaml:"product_selectors"`
	Headers             map[string]string `yaml:"headers"`
	Prewarm             []string          `yaml:"prewarm"`
	UseBrowser          bool              `yaml:"use_browser"`
}

// HTMLSpec configures rendered (HTML page) extraction. Either
// ProductLinkSelector (link-then-visit) or ProductSelector +
// ProductSelectors (direct card extraction) drives the mode.
type HTMLSpec struct {
	CategoryURLs []string `yaml:"category_urls"`

	ProductLinkSelector string            `yaml:"product_link_selector"`
	ProductSelector     string            `yaml:"product_selector"`
	ProductSelectors    map[string]string `yaml:"product_selectors"`

	// LinkPattern is a regex used for the raw-HTML fallback scan when
	// selectors and JSON-LD miss SPA-rendered links.
	LinkPattern string `yaml:"link_pattern"`

	Headers    map[string]string `yaml:"headers"`
	Prewarm    []string          `yaml:"prewarm"`
	UseBrowser bool              `yaml:"use_browser"`

	// Sitemaps seed link-then-visit mode before category pages are scanned.
	Sitemaps           []string `yaml:"sitemaps"`
	SitemapURLContains []string `yaml:"sitemap_url_contains"`

	DefaultCurrency string            `yaml:"default_currency"`
	CategoryLabels  map[string]string `yaml:"category_labels"`
}

// SourceTag returns the source partition tag, defaulting to "scraper".
func (s *Spec) SourceTag() string {
	if s.Source != "" {
		return s.Source
	}
	return "scraper"
}

// MerchantName returns the merchant, falling back to the brand.
func (s *Spec) MerchantName() string {
	if s.Merchant != "" {
		return s.Merchant
	}
	return s.Brand
}

// Validate checks the single-mode invariant. A failing spec is fatal for
// that site only; callers log and continue.
func (s *Spec) Validate() error {
	if s.Brand == "" {
		return eris.New("sitespec: missing brand")
	}
	if s.API == nil && s.HTML == nil {
		return eris.Errorf("sitespec: %s: missing 'api' or 'html' config", s.Brand)
	}
	if s.API != nil && s.HTML != nil {
		return eris.Errorf("sitespec: %s: both 'api' and 'html' configured", s.Brand)
	}
	if s.API != nil {
		if s.API.Endpoint == "" && len(s.API.Endpoints) == 0 &&
			s.API.DiscoverCategories == nil && s.API.DiscoverCategoriesHTML == nil {
			return eris.Errorf("sitespec: %s: api mode needs endpoints or discovery", s.Brand)
		}
		if len(s.API.ItemsPath) == 0 {
			return eris.Errorf("sitespec: %s: api mode needs items_path", s.Brand)
		}
	}
	if s.HTML != nil {
		if len(s.HTML.CategoryURLs) == 0 && len(s.HTML.Sitemaps) == 0 {
			return eris.Errorf("sitespec: %s: html mode needs category_urls or sitemaps", s.Brand)
		}
		if s.HTML.ProductLinkSelector == "" && s.HTML.ProductSelector == "" {
			return eris.Errorf("sitespec: %s: html mode needs product_link_selector or product_selector", s.Brand)
		}
	}
	return nil
}

// AllEndpoints returns the static endpoint list (endpoint + endpoints merged).
func (a *APISpec) AllEndpoints() []string {
	var out []string
	if a.Endpoint != "" {
		out = append(out, a.Endpoint)
	}
	out = append(out, a.Endpoints...)
	return out
}

// Select filters specs by brand. "all" returns everything; otherwise the
// argument is a comma-separated, case-insensitive brand list.
func Select(specs []Spec, requested string) []Spec {
	if strings.EqualFold(strings.TrimSpace(requested), "all") {
		return specs
	}
	want := make(map[string]bool)
	for _, name := range strings.Split(requested, ",") {
		if n := strings.ToLower(strings.TrimSpace(name)); n != "" {
			want[n] = true
		}
	}
	var out []Spec
	for _, s := range specs {
		if want[strings.ToLower(s.Brand)] {
			out = append(out, s)
		}
	}
	return out
}
