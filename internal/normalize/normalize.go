// Package normalize converts raw extracted records into canonical
// catalog rows. Normalize is a total function: unparsable fields degrade
// to empty or default values instead of erroring, so one bad field never
// costs a row and one bad row never costs a batch.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/model"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

// DefaultCategory is assigned when no category can be derived.
const DefaultCategory = "Clothing"

const placeholderTitle = "Untitled"

// Normalizer carries the per-site context a transform needs: the
// category label table and the endpoint pattern that extracts the
// category id.
type Normalizer struct {
	labels map[string]string
	catRe  *regexp.Regexp
}

// New builds a Normalizer for one site spec. A nil spec yields a
// context-free normalizer, useful in tests.
func New(spec *sitespec.Spec) *Normalizer {
	n := &Normalizer{}
	if spec == nil {
		return n
	}
	switch {
	case spec.API != nil:
		n.labels = spec.API.CategoryLabels
		if p := spec.API.CategoryIDPattern; p != "" {
			re, err := regexp.Compile(p)
			if err != nil {
				zap.L().Warn("normalize: bad category_id_pattern",
					zap.String("brand", spec.Brand), zap.Error(err))
			} else {
				n.catRe = re
			}
		}
	case spec.HTML != nil:
		n.labels = spec.HTML.CategoryLabels
	}
	return n
}

// Identity derives the deterministic row id: hex sha256 over the source
// tag and the site-native identifier. Site identifiers are preferred
// over URLs so identity survives URL-template changes.
func Identity(source, key string) string {
	sum := sha256.Sum256([]byte(source + ":" + key))
	return hex.EncodeToString(sum[:])
}

// Normalize converts one raw record into a canonical row.
func (n *Normalizer) Normalize(rec model.RawRecord) model.CanonicalRow {
	source := rec.Str("source")
	if source == "" {
		source = "scraper"
	}

	externalID := rec.Scalar("external_id", "product_id")
	idKey := externalID
	if idKey == "" {
		idKey = rec.Str("product_url", "url")
	}

	title := rec.Str("title", "name")
	if title == "" {
		title = placeholderTitle
	}

	currencyCode := strings.ToUpper(rec.Str("currency", "original_currency"))

	row := model.CanonicalRow{
		ID:           Identity(source, idKey),
		Source:       source,
		ExternalID:   externalID,
		Title:        title,
		Brand:        rec.Str("brand"),
		Gender:       Gender(rec.Str("gender")),
		Category:     n.category(rec),
		Price:        FormatPrice(rec.Get("price"), currencyCode),
		Sale:         FormatPrice(first(rec, "sale", "sale_price", "discount_price"), currencyCode),
		Size:         JoinSizes(rec),
		AffiliateURL: rec.Str("affiliate_url"),
		SecondHand:   boolField(rec, "second_hand", "is_second_hand"),
		Availability: availability(first(rec, "availability", "in_stock", "available", "stock")),
		MerchantName: rec.Str("merchant", "merchant_name"),
		Country:      rec.Str("country"),
	}

	row.ImageURL, row.AdditionalImages = images(rec)

	row.ProductURL = rec.Str("product_url", "url")
	if row.ProductURL == "" {
		row.ProductURL = templateURL(rec, externalID)
	}

	colors := collectColors(rec)
	raw := rec.Str("description", "desc")
	desc := raw
	if len(colors) == 0 {
		if rest, color := TrailingColor(desc); color != "" {
			desc, colors = rest, []string{color}
		}
	}
	desc = StripColors(desc, colors)
	// Title stands in only when cleanup consumed an existing description;
	// a source with no description stays empty.
	if desc == "" && raw != "" {
		desc = title
	}
	row.Description = desc

	row.Metadata = metadata(rec, row, currencyCode, colors)
	return row
}

// category derives the label from the endpoint-embedded category id when
// a pattern is configured, then from a raw category hint via the label
// table, then passes the hint through. Always non-empty.
func (n *Normalizer) category(rec model.RawRecord) string {
	if n.catRe != nil {
		if m := n.catRe.FindStringSubmatch(rec.Str("_endpoint")); len(m) > 1 {
			if label, ok := n.labels[m[1]]; ok {
				return label
			}
		}
	}
	if hint := rec.Scalar("category"); hint != "" {
		if label, ok := n.labels[hint]; ok {
			return label
		}
		return hint
	}
	return DefaultCategory
}

// images flattens all image candidates, resolves protocol-relative URLs,
// and splits them into the representative image and the JSON-encoded rest.
func images(rec model.RawRecord) (imageURL, additional string) {
	var all []string
	seen := make(map[string]bool)
	for _, key := range []string{"image_url", "image", "images", "image_urls", "additional_images"} {
		for _, u := range rec.Strings(key) {
			if strings.HasPrefix(u, "//") {
				u = "https:" + u
			}
			if !seen[u] {
				seen[u] = true
				all = append(all, u)
			}
		}
	}
	if len(all) == 0 {
		return "", ""
	}
	if len(all) > 1 {
		if buf, err := json.Marshal(all[1:]); err == nil {
			additional = string(buf)
		}
	}
	return all[0], additional
}

var templatePlaceholders = []struct {
	name string
	keys []string
}{
	{"{keyword}", []string{"keyword", "seo_keyword", "slug", "seo_name"}},
	{"{id}", nil}, // external id
	{"{discern_id}", []string{"discern_id"}},
}

// templateURL synthesizes a product URL from the per-site template.
// A template left with unresolved placeholders yields no URL at all.
func templateURL(rec model.RawRecord, externalID string) string {
	tmpl := rec.Str("product_url_template")
	if tmpl == "" {
		return ""
	}
	out := tmpl
	for _, ph := range templatePlaceholders {
		val := externalID
		if ph.keys != nil {
			val = rec.Scalar(ph.keys...)
		}
		if val != "" {
			out = strings.ReplaceAll(out, ph.name, val)
		}
	}
	if strings.ContainsAny(out, "{}") {
		return ""
	}
	return out
}

func collectColors(rec model.RawRecord) []string {
	var colors []string
	seen := make(map[string]bool)
	for _, key := range []string{"color_names", "colors", "color"} {
		for _, c := range rec.Strings(key) {
			if !seen[c] {
				seen[c] = true
				colors = append(colors, c)
			}
		}
	}
	return colors
}

func boolField(rec model.RawRecord, keys ...string) bool {
	for _, k := range keys {
		switch t := rec.Get(k).(type) {
		case bool:
			return t
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "yes", "1":
				return true
			case "false", "no", "0":
				return false
			}
		}
	}
	return false
}

// availability normalizes the stock state spellings seen across sources.
func availability(v any) model.Availability {
	switch t := v.(type) {
	case bool:
		if t {
			return model.InStock
		}
		return model.OutOfStock
	case string:
		switch strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), " ", "_"), "-", "_") {
		case "in_stock", "instock", "available", "true", "yes":
			return model.InStock
		case "out_of_stock", "outofstock", "sold_out", "soldout", "unavailable", "false", "no":
			return model.OutOfStock
		}
	}
	return model.Unknown
}

// metadata packs passthrough context into the JSON side channel instead
// of widening the column set.
func metadata(rec model.RawRecord, row model.CanonicalRow, currencyCode string, colors []string) map[string]any {
	meta := map[string]any{}
	if row.MerchantName != "" {
		meta["merchant"] = row.MerchantName
	}
	if row.Country != "" {
		meta["country"] = row.Country
	}
	if currencyCode != "" {
		meta["original_currency"] = currencyCode
	}
	if orig := rec.Scalar("price"); orig != "" {
		meta["original_price"] = orig
	}
	if len(colors) > 0 {
		meta["colors"] = colors
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func first(rec model.RawRecord, keys ...string) any {
	for _, k := range keys {
		if v := rec.Get(k); v != nil {
			return v
		}
	}
	return nil
}
