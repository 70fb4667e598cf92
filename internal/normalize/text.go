package normalize

import (
	"regexp"
	"strings"

	"github.com/finds-group/catalog-ingest/internal/model"
)

// womensTokens are checked before mensTokens: "woman" contains "man".
var (
	womensTokens = []string{"women", "female", "woman", "ladies", "lady", "girl"}
	mensTokens   = []string{"men", "male", "man", "guy", "boy"}
)

// Gender canonicalizes a raw gender value to "women" or "men" by keyword
// match. Unrecognized values pass through unchanged.
func Gender(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, tok := range womensTokens {
		if strings.Contains(lower, tok) {
			return "women"
		}
	}
	for _, tok := range mensTokens {
		if strings.Contains(lower, tok) {
			return "men"
		}
	}
	return strings.TrimSpace(raw)
}

// JoinSizes flattens size values (string, list, or list-of-lists), trims,
// de-duplicates preserving first-seen order, and joins with ", ".
func JoinSizes(rec model.RawRecord) string {
	var sizes []string
	seen := make(map[string]bool)
	for _, key := range []string{"size", "sizes"} {
		for _, s := range rec.Strings(key) {
			if !seen[s] {
				seen[s] = true
				sizes = append(sizes, s)
			}
		}
	}
	return strings.Join(sizes, ", ")
}

// knownColors is the vocabulary for trailing-color extraction when a
// source supplies no explicit color fields.
var knownColors = map[string]bool{
	"black": true, "white": true, "red": true, "blue": true, "green": true,
	"navy": true, "beige": true, "grey": true, "gray": true, "brown": true,
	"pink": true, "purple": true, "yellow": true, "orange": true,
	"cream": true, "khaki": true, "olive": true, "burgundy": true,
	"ecru": true, "ivory": true, "taupe": true, "camel": true,
	"multicolour": true, "multicolor": true,
}

var trailingColorRe = regexp.MustCompile(`(?i)\s*[-–,/]\s*([a-zA-Z]+)\s*$`)

// TrailingColor splits a trailing color token off text, e.g.
// "Linen Dress - Navy" yields ("Linen Dress", "navy"). Tokens outside the
// known vocabulary are left in place.
func TrailingColor(text string) (rest, color string) {
	m := trailingColorRe.FindStringSubmatchIndex(text)
	if m == nil {
		return text, ""
	}
	tok := strings.ToLower(text[m[2]:m[3]])
	if !knownColors[tok] {
		return text, ""
	}
	return strings.TrimSpace(text[:m[0]]), tok
}

// separatorCutset trims the punctuation left behind by color stripping.
const separatorCutset = " \t-–,/.;:|"

// StripColors removes color-name tokens from text via whole-word
// case-insensitive matching and trims leftover separators.
func StripColors(text string, colors []string) string {
	if text == "" || len(colors) == 0 {
		return strings.TrimSpace(text)
	}
	quoted := make([]string, 0, len(colors))
	for _, c := range colors {
		if c = strings.TrimSpace(c); c != "" {
			quoted = append(quoted, regexp.QuoteMeta(c))
		}
	}
	if len(quoted) == 0 {
		return strings.TrimSpace(text)
	}
	re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return strings.TrimSpace(text)
	}
	out := re.ReplaceAllString(text, "")
	out = strings.Join(strings.Fields(out), " ")
	return strings.Trim(out, separatorCutset)
}
