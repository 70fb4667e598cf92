package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RuleKind tags a field extraction rule variant.
type RuleKind int

const (
	// RuleText extracts the trimmed text of the first selector match.
	RuleText RuleKind = iota
	// RuleLiteral yields a constant string.
	RuleLiteral
	// RuleAttr extracts a named attribute from the first selector match.
	RuleAttr
	// RuleHref extracts href/data-href/data-url and resolves it absolute.
	RuleHref
	// RuleImageSrc extracts src/data-src/data-srcset and resolves it.
	RuleImageSrc
	// RulePrice extracts the first numeric token from the match's text.
	RulePrice
	// RuleConcat joins the results of its parts.
	RuleConcat
)

// FieldRule is one declarative per-field extraction rule. Rules are
// parsed once per spec from their string form:
//
//	'Sale'            literal
//	h2.name           text of first match
//	a.card@href       resolved link
//	img.main@src      resolved image source
//	div.tag@data-id   named attribute
//	price:span.amt    numeric token from text
//	'https://x/p/' + div@data-id    concatenation
type FieldRule struct {
	Kind     RuleKind
	Selector string
	Attr     string
	Literal  string
	Parts    []FieldRule
}

// ParseRule builds a FieldRule from its config string form.
func ParseRule(s string) FieldRule {
	s = strings.TrimSpace(s)

	if parts := splitConcat(s); len(parts) > 1 {
		rule := FieldRule{Kind: RuleConcat}
		for _, p := range parts {
			rule.Parts = append(rule.Parts, ParseRule(p))
		}
		return rule
	}

	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return FieldRule{Kind: RuleLiteral, Literal: s[1 : len(s)-1]}
	}

	if rest, ok := strings.CutPrefix(s, "price:"); ok {
		return FieldRule{Kind: RulePrice, Selector: strings.TrimSpace(rest)}
	}

	if sel, attr, ok := strings.Cut(s, "@"); ok {
		sel, attr = strings.TrimSpace(sel), strings.TrimSpace(attr)
		switch attr {
		case "href":
			return FieldRule{Kind: RuleHref, Selector: sel}
		case "src":
			return FieldRule{Kind: RuleImageSrc, Selector: sel}
		default:
			return FieldRule{Kind: RuleAttr, Selector: sel, Attr: attr}
		}
	}

	return FieldRule{Kind: RuleText, Selector: s}
}

// splitConcat splits on top-level " + " separators, respecting quotes.
func splitConcat(s string) []string {
	var parts []string
	var buf strings.Builder
	inQuote := false
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if !inQuote && c == ' ' && strings.HasPrefix(s[i:], " + ") {
			parts = append(parts, buf.String())
			buf.Reset()
			i += 3
			continue
		}
		buf.WriteByte(c)
		i++
	}
	parts = append(parts, buf.String())
	return parts
}

var priceTokenRe = regexp.MustCompile(`\d[\d.,\s]*`)

// Eval resolves the rule against a selection (a product card, or a whole
// document's root selection). base resolves relative URLs. Missing
// matches yield "".
func (r FieldRule) Eval(sel *goquery.Selection, base *url.URL) string {
	switch r.Kind {
	case RuleLiteral:
		return r.Literal

	case RuleConcat:
		var b strings.Builder
		for _, p := range r.Parts {
			b.WriteString(p.Eval(sel, base))
		}
		return b.String()

	case RuleText:
		return strings.TrimSpace(r.find(sel).First().Text())

	case RuleAttr:
		v, _ := r.find(sel).First().Attr(r.Attr)
		return strings.TrimSpace(v)

	case RuleHref:
		node := r.find(sel).First()
		for _, attr := range []string{"href", "data-href", "data-url"} {
			if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return resolveURL(base, v)
			}
		}
		return ""

	case RuleImageSrc:
		node := r.find(sel).First()
		for _, attr := range []string{"src", "data-src"} {
			if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return resolveURL(base, v)
			}
		}
		if v, ok := node.Attr("data-srcset"); ok {
			if first := strings.Fields(strings.Split(v, ",")[0]); len(first) > 0 {
				return resolveURL(base, first[0])
			}
		}
		return ""

	case RulePrice:
		text := strings.TrimSpace(r.find(sel).First().Text())
		m := priceTokenRe.FindString(text)
		return strings.TrimSpace(m)

	default:
		return ""
	}
}

// find scopes the selector to sel; an empty selector means the node
// itself. The selection's own nodes are candidates too, so a card rule
// like "div.card@data-id" can read the card's own attributes.
func (r FieldRule) find(sel *goquery.Selection) *goquery.Selection {
	if r.Selector == "" {
		return sel
	}
	return sel.Filter(r.Selector).AddSelection(sel.Find(r.Selector))
}
