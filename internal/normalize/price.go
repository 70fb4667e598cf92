package normalize

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/currency"

	"github.com/finds-group/catalog-ingest/internal/model"
)

// FormatPrice renders a raw price value as the canonical comma-joined
// multi-currency string, e.g. "20USD,450CZK". Accepted shapes:
//
//   - a string already containing ISO currency codes (passed through),
//   - a plain number or numeric string plus a separate currency code,
//   - a currency→amount map,
//   - a list of {price, currency} pairs.
//
// Anything unparsable yields "".
func FormatPrice(value any, currencyCode string) string {
	switch t := value.(type) {
	case nil:
		return ""

	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return ""
		}
		if containsCurrencyCode(s) {
			return s
		}
		amt, hadFraction, ok := parseAmountParts(s)
		if !ok {
			return ""
		}
		// An explicit decimal part ("1 299,00") marks a major-unit price;
		// the minor-unit reading only applies to bare whole numbers.
		if !hadFraction {
			amt = minorUnitAdjust(amt)
		}
		return formatAmount(amt) + normalizeCode(currencyCode)

	case map[string]any:
		return formatAmountMap(t, currencyCode)

	case []any:
		var parts []string
		for _, e := range t {
			pair, ok := e.(map[string]any)
			if !ok {
				continue
			}
			amt, hadFraction, ok := scalarAmount(pair["price"])
			if !ok {
				continue
			}
			if !hadFraction {
				amt = minorUnitAdjust(amt)
			}
			code := normalizeCode(model.ScalarString(pair["currency"]))
			if code == "" {
				code = normalizeCode(currencyCode)
			}
			parts = append(parts, formatAmount(amt)+code)
		}
		return strings.Join(parts, ",")

	default:
		amt, _, ok := scalarAmount(value)
		if !ok {
			return ""
		}
		return formatAmount(minorUnitAdjust(amt)) + normalizeCode(currencyCode)
	}
}

// formatAmountMap joins a currency→amount map. Go maps carry no source
// order, so the record's own currency leads and the rest sort by code.
func formatAmountMap(amounts map[string]any, currencyCode string) string {
	preferred := normalizeCode(currencyCode)

	codes := make([]string, 0, len(amounts))
	for code := range amounts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		ci, cj := normalizeCode(codes[i]), normalizeCode(codes[j])
		if (ci == preferred) != (cj == preferred) {
			return ci == preferred
		}
		return ci < cj
	})

	var parts []string
	for _, code := range codes {
		amt, hadFraction, ok := scalarAmount(amounts[code])
		if !ok {
			continue
		}
		if !hadFraction {
			amt = minorUnitAdjust(amt)
		}
		parts = append(parts, formatAmount(amt)+normalizeCode(code))
	}
	return strings.Join(parts, ",")
}

// minorUnitAdjust treats large whole numbers as minor-unit (cent) values.
// A genuine whole major-unit price >= 1000 is indistinguishable from a
// minor-unit one; the divide-by-100 reading is kept for compatibility
// with the sources this feeds from.
func minorUnitAdjust(amt float64) float64 {
	if amt >= 1000 && amt == math.Trunc(amt) {
		return amt / 100
	}
	return amt
}

// formatAmount prints without exponent or trailing zero fraction.
func formatAmount(amt float64) string {
	return strconv.FormatFloat(amt, 'f', -1, 64)
}

// scalarAmount coerces a raw amount. hadFraction mirrors
// parseAmountParts for strings; numbers never carry a written decimal.
func scalarAmount(v any) (amt float64, hadFraction, ok bool) {
	switch t := v.(type) {
	case float64:
		return t, false, true
	case float32:
		return float64(t), false, true
	case int:
		return float64(t), false, true
	case int64:
		return float64(t), false, true
	case string:
		return parseAmountParts(t)
	default:
		return 0, false, false
	}
}

// parseAmountParts extracts a number from messy price text like
// "1 299,00 Kč" or "$1,299.00". Currency symbols and spaces are dropped;
// the decimal separator is inferred from the rightmost of "," and ".".
// hadFraction reports whether an explicit decimal part was written.
func parseAmountParts(raw string) (amt float64, hadFraction, ok bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return 0, false, false
	}

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
		hadFraction = true
	case lastComma >= 0:
		// A single comma with at most two trailing digits reads as a
		// decimal separator; anything else as thousands grouping.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
			hadFraction = true
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.Replace(s, ".", "", strings.Count(s, ".")-1)
		}
		hadFraction = true
	}

	amt, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, false
	}
	return amt, hadFraction, true
}

var isoTokenRe = regexp.MustCompile(`[A-Z]{3}`)

// containsCurrencyCode reports whether s already carries at least one
// valid ISO 4217 code, i.e. is a pre-formatted price string.
func containsCurrencyCode(s string) bool {
	for _, tok := range isoTokenRe.FindAllString(s, -1) {
		if _, err := currency.ParseISO(tok); err == nil {
			return true
		}
	}
	return false
}

// normalizeCode uppercases a currency code. Codes that fail ISO 4217
// validation still pass through; formatting is best effort.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if _, err := currency.ParseISO(code); err != nil {
		return code
	}
	return code
}
