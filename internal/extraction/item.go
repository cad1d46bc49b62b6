package extraction

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// MaxPrice is the largest price accepted for a single line item.
const MaxPrice = 10000.0

// PlaceholderName is the item name emitted when nothing could be extracted.
const PlaceholderName = "Unknown Item"

// ParsedItem is a single receipt line item.
type ParsedItem struct {
	Name  string   `json:"name"`
	Price *float64 `json:"price"`
	Qty   *int     `json:"qty"`
}

// NewItem builds an item with a price and no quantity.
func NewItem(name string, price float64) ParsedItem {
	return ParsedItem{Name: name, Price: &price}
}

// PriceValue returns the price or 0 when unknown.
func (p ParsedItem) PriceValue() float64 {
	if p.Price == nil {
		return 0
	}
	return *p.Price
}

func (p ParsedItem) String() string {
	if p.Price == nil {
		return p.Name
	}
	return fmt.Sprintf("%s %.2f", p.Name, *p.Price)
}

// validPrice reports whether price lies in (0, MaxPrice].
func validPrice(price float64) bool {
	return price > 0 && price <= MaxPrice
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type itemKey struct {
	name  string
	cents int64
}

func keyOf(it ParsedItem) itemKey {
	return itemKey{
		name:  strings.ToLower(it.Name),
		cents: int64(math.Round(it.PriceValue() * 100)),
	}
}

// Dedupe collapses items sharing (lowercased name, price rounded to cents).
// The last occurrence of a key wins but keeps the position of the first.
func Dedupe(items []ParsedItem) []ParsedItem {
	if len(items) == 0 {
		return items
	}
	index := make(map[itemKey]int, len(items))
	out := make([]ParsedItem, 0, len(items))
	for _, it := range items {
		k := keyOf(it)
		if i, ok := index[k]; ok {
			out[i] = it
			continue
		}
		index[k] = len(out)
		out = append(out, it)
	}
	return out
}

// Merge appends the extra items that are not already present in items.
// It returns the merged list and the number of items added.
func Merge(items, extra []ParsedItem) ([]ParsedItem, int) {
	seen := make(map[itemKey]struct{}, len(items)+len(extra))
	for _, it := range items {
		seen[keyOf(it)] = struct{}{}
	}
	added := 0
	for _, it := range extra {
		k := keyOf(it)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, it)
		added++
	}
	return items, added
}
