package extract

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docFrom(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Selection
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want FieldRule
	}{
		{"literal", "'Sale'", FieldRule{Kind: RuleLiteral, Literal: "Sale"}},
		{"text", "h2.name", FieldRule{Kind: RuleText, Selector: "h2.name"}},
		{"href", "a.card@href", FieldRule{Kind: RuleHref, Selector: "a.card"}},
		{"src", "img.main@src", FieldRule{Kind: RuleImageSrc, Selector: "img.main"}},
		{"attr", "div.tag@data-id", FieldRule{Kind: RuleAttr, Selector: "div.tag", Attr: "data-id"}},
		{"price", "price:span.amount", FieldRule{Kind: RulePrice, Selector: "span.amount"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRule(tt.in))
		})
	}
}

func TestParseRuleConcat(t *testing.T) {
	rule := ParseRule("'https://shop.example/p/' + div.card@data-id")
	require.Equal(t, RuleConcat, rule.Kind)
	require.Len(t, rule.Parts, 2)
	assert.Equal(t, RuleLiteral, rule.Parts[0].Kind)
	assert.Equal(t, "https://shop.example/p/", rule.Parts[0].Literal)
	assert.Equal(t, RuleAttr, rule.Parts[1].Kind)
}

func TestParseRuleConcatQuotedPlus(t *testing.T) {
	// A " + " inside quotes is part of the literal, not a separator.
	rule := ParseRule("'a + b'")
	assert.Equal(t, RuleLiteral, rule.Kind)
	assert.Equal(t, "a + b", rule.Literal)
}

func TestFieldRuleEval(t *testing.T) {
	base, _ := url.Parse("https://shop.example/women/dresses")
	sel := docFrom(t, `
		<div class="card" data-id="p-42">
			<h2 class="name"> Linen Dress </h2>
			<a class="link" href="/p/linen-dress">view</a>
			<img class="main" data-src="//cdn.example/img/42.jpg">
			<span class="amount">1 299,00 Kč</span>
		</div>`)

	assert.Equal(t, "Linen Dress", ParseRule("h2.name").Eval(sel, base))
	assert.Equal(t, "Sale", ParseRule("'Sale'").Eval(sel, base))
	assert.Equal(t, "p-42", ParseRule("div.card@data-id").Eval(sel, base))
	assert.Equal(t, "https://shop.example/p/linen-dress", ParseRule("a.link@href").Eval(sel, base))
	assert.Equal(t, "https://cdn.example/img/42.jpg", ParseRule("img.main@src").Eval(sel, base))
	assert.Equal(t, "1 299,00", ParseRule("price:span.amount").Eval(sel, base))
	assert.Equal(t, "https://shop.example/p/p-42",
		ParseRule("'https://shop.example/p/' + div.card@data-id").Eval(sel, base))
}

func TestFieldRuleEvalCardSelfAttr(t *testing.T) {
	// Direct extraction evaluates rules against the card selection, so a
	// selector matching the card itself must read the card's own attributes.
	base, _ := url.Parse("https://shop.example/")
	card := docFrom(t, `
		<div class="card" data-id="p-42">
			<h2 class="name">Linen Dress</h2>
		</div>`).Find("div.card")
	require.Equal(t, 1, card.Length())

	assert.Equal(t, "p-42", ParseRule("div.card@data-id").Eval(card, base))
	assert.Equal(t, "https://shop.example/p/p-42",
		ParseRule("'https://shop.example/p/' + div.card@data-id").Eval(card, base))
	assert.Equal(t, "Linen Dress", ParseRule("h2.name").Eval(card, base))
}

func TestFieldRuleEvalMissing(t *testing.T) {
	base, _ := url.Parse("https://shop.example/")
	sel := docFrom(t, `<div class="card"></div>`)

	assert.Empty(t, ParseRule("h2.name").Eval(sel, base))
	assert.Empty(t, ParseRule("a.link@href").Eval(sel, base))
	assert.Empty(t, ParseRule("price:span.amount").Eval(sel, base))
}

func TestFieldRuleEvalSrcset(t *testing.T) {
	base, _ := url.Parse("https://shop.example/")
	sel := docFrom(t, `<img class="main" data-srcset="/img/a-400.jpg 400w, /img/a-800.jpg 800w">`)

	assert.Equal(t, "https://shop.example/img/a-400.jpg", ParseRule("img.main@src").Eval(sel, base))
}

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://shop.example/women/dresses")

	assert.Equal(t, "https://cdn.example/x.jpg", resolveURL(base, "//cdn.example/x.jpg"))
	assert.Equal(t, "https://shop.example/p/1", resolveURL(base, "/p/1"))
	assert.Equal(t, "https://other.example/p", resolveURL(base, "https://other.example/p"))
	assert.Equal(t, "", resolveURL(base, "  "))
	assert.Equal(t, "/p/1", resolveURL(nil, "/p/1"))
}
