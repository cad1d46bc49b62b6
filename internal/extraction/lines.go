package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// pricePattern is the shared receipt price grammar: plain or comma-grouped
// digits with an optional two-digit decimal part.
const pricePattern = `(?:\d{1,3}(?:,\d{3})*|\d+)(?:\.\d{2})?`

var (
	// lineShapes are tried in order; the first shape yielding a valid item wins.
	lineShapes = []*regexp.Regexp{
		regexp.MustCompile(`^(?P<name>.+?)\s+\$?(?P<price>` + pricePattern + `)$`),
		regexp.MustCompile(`^(?P<qty>\d+)\s*[xX*]\s*(?P<name>.+?)\s+\$?(?P<price>` + pricePattern + `)$`),
		regexp.MustCompile(`^(?P<name>.+?)\s+@\s*\$?(?P<price>` + pricePattern + `)$`),
		regexp.MustCompile(`^(?P<name>.+?)\s{2,}\$?(?P<price>` + pricePattern + `)$`),
		regexp.MustCompile(`^\$?(?P<price>` + pricePattern + `)\s+(?P<name>.+)$`),
	}

	trailingPriceRE = regexp.MustCompile(`\$?(` + pricePattern + `)[^0-9]*$`)
	priceOnlyRE     = regexp.MustCompile(`^\$?(` + pricePattern + `)$`)
	firstAmountRE   = regexp.MustCompile(`\$?(` + pricePattern + `)`)
	dottedLeaderRE  = regexp.MustCompile(`\.{2,}\s*`)
)

const nameCutset = "-: .\t"

// ParseLines extracts items from plain OCR text, one receipt line at a time.
// Results are deduplicated and rescaled against a detected total when OCR
// appears to have dropped every decimal point.
func ParseLines(text string) []ParsedItem {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		items   []ParsedItem
		pending string
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if len([]rune(line)) < 2 {
			continue
		}
		lower := strings.ToLower(line)
		if containsAny(lower, stopPhrases) {
			continue
		}
		if isNoisy(line) {
			continue
		}
		line = strings.TrimSpace(dottedLeaderRE.ReplaceAllString(line, " "))

		if it, ok := matchShapes(line); ok {
			items = append(items, it)
			pending = ""
			continue
		}
		it, found, ok := matchTrailingPrice(line)
		if ok {
			items = append(items, it)
			pending = ""
			continue
		}

		if m := priceOnlyRE.FindStringSubmatch(line); m != nil {
			if pending != "" {
				if p, err := parsePrice(m[1]); err == nil && validPrice(p) {
					items = append(items, NewItem(pending, p))
				}
				pending = ""
			}
			continue
		}
		// A rejected trailing price still consumes the line.
		if found {
			pending = ""
			continue
		}
		if hasLetter(line) && !containsAny(strings.ToLower(line), excludedKeywords) {
			pending = line
		}
	}

	items = Dedupe(items)
	return RescaleByTotal(items, text)
}

func matchShapes(line string) (ParsedItem, bool) {
	for _, re := range lineShapes {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		var name, priceStr, qtyStr string
		for i, group := range re.SubexpNames() {
			switch group {
			case "name":
				name = m[i]
			case "price":
				priceStr = m[i]
			case "qty":
				qtyStr = m[i]
			}
		}
		name = strings.Trim(name, nameCutset)
		price, err := parsePrice(priceStr)
		if err != nil || !validPrice(price) {
			continue
		}
		if !validName(name) {
			continue
		}
		it := NewItem(name, price)
		if qtyStr != "" {
			if q, err := strconv.Atoi(qtyStr); err == nil && q > 0 {
				it.Qty = &q
			}
		}
		return it, true
	}
	return ParsedItem{}, false
}

// matchTrailingPrice takes the rightmost price-like token of the line and
// uses the text before it, or after it when nothing precedes, as the name.
// found reports whether a price token was present at all, ok whether it
// produced a valid item.
func matchTrailingPrice(line string) (it ParsedItem, found, ok bool) {
	loc := trailingPriceRE.FindStringSubmatchIndex(line)
	if loc == nil {
		return ParsedItem{}, false, false
	}
	price, err := parsePrice(line[loc[2]:loc[3]])
	if err != nil || !validPrice(price) {
		return ParsedItem{}, true, false
	}
	before := strings.Trim(line[:loc[0]], nameCutset)
	after := strings.Trim(line[loc[3]:], nameCutset)
	name := before
	if name == "" {
		name = after
	}
	if !validName(name) || containsAny(strings.ToLower(name), stopPhrases) {
		return ParsedItem{}, true, false
	}
	return NewItem(name, price), true, true
}

// isNoisy flags OCR garbage: lines without any alphanumerics, or dominated by
// symbols while carrying fewer than two letters.
func isNoisy(s string) bool {
	var letters, digits, symbols, total int
	for _, r := range s {
		total++
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r):
		default:
			symbols++
		}
	}
	if letters+digits == 0 {
		return true
	}
	if total == 0 {
		total = 1
	}
	return float64(symbols)/float64(total) > 0.4 && letters < 2
}

func parsePrice(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// DetectTotal returns the largest amount found on "total" lines, ignoring
// subtotal and tax lines. ok is false when no such line exists.
func DetectTotal(text string) (total float64, ok bool) {
	for _, raw := range strings.Split(text, "\n") {
		s := strings.ToLower(strings.TrimSpace(raw))
		if !strings.Contains(s, "total") {
			continue
		}
		if strings.Contains(s, "subtotal") || strings.Contains(s, "sub total") || strings.Contains(s, "tax") {
			continue
		}
		m := firstAmountRE.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		v, err := parsePrice(m[1])
		if err != nil {
			continue
		}
		if !ok || v > total {
			total, ok = v, true
		}
	}
	return total, ok
}

// RescaleByTotal divides every price by 100 when the item sum is within 5% of
// one hundred times the detected total. This recovers receipts where OCR lost
// the decimal point ("129" for 1.29). A coincidental match on short receipts
// rescales wrongly; that false positive is accepted.
func RescaleByTotal(items []ParsedItem, text string) []ParsedItem {
	total, ok := DetectTotal(text)
	if !ok || total <= 0 {
		return items
	}
	var sum float64
	priced := 0
	for _, it := range items {
		if it.Price != nil {
			sum += *it.Price
			priced++
		}
	}
	if priced == 0 {
		return items
	}
	ratio := sum / (total * 100)
	if ratio < 0.95 || ratio > 1.05 {
		return items
	}
	out := make([]ParsedItem, len(items))
	for i, it := range items {
		out[i] = it
		if it.Price != nil {
			p := round2(*it.Price / 100)
			out[i].Price = &p
		}
	}
	return out
}

// PriceSignal counts decimal price substrings, a proxy for how well an OCR
// pass preserved decimal points.
func PriceSignal(text string) int {
	if text == "" {
		return 0
	}
	return len(priceSignalRE.FindAllStringIndex(text, -1))
}

var priceSignalRE = regexp.MustCompile(`\b\$?\d+\.\d{2}\b`)
