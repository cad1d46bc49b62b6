package extraction

import (
	"regexp"
	"sort"
	"strings"
)

// BandTolerance is the vertical distance, in pixels, within which a token
// joins the band started by another token.
const BandTolerance = 12

// Token is one OCR word with its bounding box origin.
type Token struct {
	Text       string
	Left       int
	Top        int
	Confidence float64
}

// Band is a half-open index range into Layout.Tokens.
type Band struct {
	Start int
	End   int
}

// Layout holds tokens sorted by Top and the bands grouped over them. Tokens
// inside a band are ordered left to right.
type Layout struct {
	Tokens []Token
	Bands  []Band
}

// Band returns the tokens of band i.
func (l Layout) Band(i int) []Token {
	b := l.Bands[i]
	return l.Tokens[b.Start:b.End]
}

// Lines joins each band's tokens with spaces.
func (l Layout) Lines() []string {
	lines := make([]string, 0, len(l.Bands))
	for i := range l.Bands {
		lines = append(lines, joinTokens(l.Band(i), " "))
	}
	return lines
}

// GroupBands sorts tokens by Top and groups them into visual lines. A token
// belongs to the current band when its Top is within BandTolerance of the
// band's first token. Tokens with negative confidence are dropped.
func GroupBands(tokens []Token) Layout {
	arena := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Confidence < 0 || strings.TrimSpace(t.Text) == "" {
			continue
		}
		t.Text = strings.TrimSpace(t.Text)
		arena = append(arena, t)
	}
	sort.SliceStable(arena, func(i, j int) bool { return arena[i].Top < arena[j].Top })

	var bands []Band
	start := 0
	for i := 1; i <= len(arena); i++ {
		if i < len(arena) && abs(arena[i].Top-arena[start].Top) <= BandTolerance {
			continue
		}
		if i > start {
			bands = append(bands, Band{Start: start, End: i})
		}
		start = i
	}
	for _, b := range bands {
		seg := arena[b.Start:b.End]
		sort.SliceStable(seg, func(i, j int) bool { return seg[i].Left < seg[j].Left })
	}
	return Layout{Tokens: arena, Bands: bands}
}

// PositionalText renders tokens as text, one band per line.
func PositionalText(tokens []Token) string {
	return strings.Join(GroupBands(tokens).Lines(), "\n")
}

var (
	priceFullRE = regexp.MustCompile(`^\$?(` + pricePattern + `)$`)
	unitTokenRE = regexp.MustCompile(`^(?:\d+(?:\.\d+)?)?(?:lbs?|pk|ct|ea|oz|kg|g)$`)
)

// AssociateByLayout pairs names on the left of each band with prices on the
// right, falling back to the nearest numeric token anywhere on the receipt
// and, for weighed items, to the next two bands.
func AssociateByLayout(tokens []Token) []ParsedItem {
	layout := GroupBands(tokens)
	numeric := numericTokens(layout.Tokens)

	var items []ParsedItem
	for i := range layout.Bands {
		band := layout.Band(i)
		if len(band) < 2 {
			continue
		}
		median := medianLeft(band)

		var names, prices []Token
		for _, t := range band {
			if t.Left <= median {
				names = append(names, t)
			} else {
				prices = append(prices, t)
			}
		}
		if len(names) == 0 || len(prices) == 0 {
			continue
		}

		name := strings.Trim(joinTokens(names, " "), nameCutset)
		lower := strings.ToLower(name)
		if name == "" || !hasLetter(name) {
			continue
		}
		if containsAny(lower, layoutStopPhrases) || containsAny(lower, excludedKeywords) {
			continue
		}

		nameRight := names[0].Left
		for _, t := range names[1:] {
			nameRight = max(nameRight, t.Left)
		}

		price, ok := reconstructPrice(prices)
		if !ok {
			price, ok = nearestNumeric(numeric, band, nameRight)
		}
		if !ok && hasUnit(band) {
			for j := i + 1; j <= i+2 && j < len(layout.Bands); j++ {
				var right []Token
				for _, t := range layout.Band(j) {
					if t.Left > nameRight {
						right = append(right, t)
					}
				}
				if price, ok = reconstructPrice(right); ok {
					break
				}
			}
		}
		if !ok || !validPrice(price) {
			continue
		}
		items = append(items, NewItem(name, price))
	}
	return Dedupe(items)
}

// reconstructPrice scans from the rightmost token backward, joining up to
// three adjacent tokens, and returns the first decimal or dollar amount.
func reconstructPrice(tokens []Token) (float64, bool) {
	for k := len(tokens) - 1; k >= 0; k-- {
		for span := 1; span <= 3; span++ {
			from := k - span + 1
			if from < 0 {
				break
			}
			seg := strings.ReplaceAll(joinTokens(tokens[from:k+1], ""), " ", "")
			if !strings.ContainsAny(seg, ".$") {
				continue
			}
			m := priceFullRE.FindStringSubmatch(seg)
			if m == nil {
				continue
			}
			if p, err := parsePrice(m[1]); err == nil {
				return p, true
			}
		}
	}
	return 0, false
}

type numericToken struct {
	left, top int
	price     float64
}

func numericTokens(tokens []Token) []numericToken {
	var out []numericToken
	for _, t := range tokens {
		m := priceFullRE.FindStringSubmatch(strings.ReplaceAll(t.Text, " ", ""))
		if m == nil {
			continue
		}
		p, err := parsePrice(m[1])
		if err != nil {
			continue
		}
		out = append(out, numericToken{left: t.Left, top: t.Top, price: p})
	}
	return out
}

// nearestNumeric picks the numeric token right of nameRight, within the
// band's vertical range, minimising dx + dy/4. Ties keep the first seen.
func nearestNumeric(numeric []numericToken, band []Token, nameRight int) (float64, bool) {
	top, bottom := band[0].Top, band[0].Top
	for _, t := range band[1:] {
		top = min(top, t.Top)
		bottom = max(bottom, t.Top)
	}

	best, found := 0.0, false
	var price float64
	for _, n := range numeric {
		if n.left <= nameRight {
			continue
		}
		if n.top < top-BandTolerance || n.top > bottom+BandTolerance {
			continue
		}
		dy := 0
		if n.top < top || n.top > bottom {
			dy = min(abs(n.top-top), abs(n.top-bottom))
		}
		dist := float64(n.left-nameRight) + 0.25*float64(dy)
		if !found || dist < best {
			best, price, found = dist, n.price, true
		}
	}
	return price, found
}

func hasUnit(band []Token) bool {
	for _, t := range band {
		if unitTokenRE.MatchString(strings.Trim(strings.ToLower(t.Text), ".,:;()")) {
			return true
		}
	}
	return false
}

func medianLeft(band []Token) int {
	xs := make([]int, len(band))
	for i, t := range band {
		xs[i] = t.Left
	}
	sort.Ints(xs)
	return xs[len(xs)/2]
}

func joinTokens(tokens []Token, sep string) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, sep)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
