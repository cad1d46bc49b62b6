// Package footprint estimates the carbon footprint of receipt items from
// spend-based emission factors.
package footprint

import (
	"strings"

	"github.com/shopspring/decimal"
)

type factor struct {
	key      string
	kgPerUSD decimal.Decimal
}

func f(key, kg string) factor {
	return factor{key: key, kgPerUSD: decimal.RequireFromString(kg)}
}

// categoryFactors are sector-level kgCO2e per USD. Categories take precedence
// over item names so transit and ride share stay apart.
var categoryFactors = []factor{
	f("public transit", "0.04"),
	f("rail", "0.05"),
	f("bicycle", "0.02"),
	f("electric charging", "0.08"),
	f("groceries", "0.28"),
	f("coffee shop", "0.28"),
	f("restaurant", "0.35"),
	f("delivery", "0.45"),
	f("utilities", "0.35"),
	f("electric", "0.35"),
	f("ride share", "1.20"),
	f("gas", "1.50"),
	f("air", "2.50"),
	f("fast food", "0.40"),
}

// nameFactors are item-level hints matched as substrings of the item name,
// first match wins.
var nameFactors = []factor{
	f("organic", "0.05"),
	f("kale", "0.06"),
	f("banana", "0.08"),
	f("coffee", "0.25"),
	f("beef", "5.0"),
	f("chicken", "1.8"),
	f("pork", "3.0"),
	f("rice", "0.4"),
	f("bread", "0.3"),
	f("salad", "0.2"),
	f("grocery", "0.30"),
	f("starbucks", "0.28"),
	f("shell", "1.50"),
	f("uber", "1.20"),
	f("lyft", "1.20"),
	f("amtrak", "0.05"),
}

var (
	// DefaultFactor applies when neither categories nor name match.
	DefaultFactor = decimal.RequireFromString("0.50")
	// MaxPerItem caps a single item's estimate in kgCO2e.
	MaxPerItem = decimal.NewFromInt(50)
)

var mixedMerchants = []string{"walmart", "target", "amazon", "costco"}

// Factor returns the kgCO2e per USD for an item.
func Factor(name string, categories []string) decimal.Decimal {
	cats := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		cats[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, cf := range categoryFactors {
		if _, ok := cats[cf.key]; ok {
			return cf.kgPerUSD
		}
	}

	n := strings.ToLower(name)
	for _, nf := range nameFactors {
		if strings.Contains(n, nf.key) {
			return nf.kgPerUSD
		}
	}
	return DefaultFactor
}

// Estimate returns the kgCO2e of one item. A missing price counts as one
// dollar. Quantity is accepted for interface stability but prices are already
// line totals.
func Estimate(name string, price *float64, qty *int, categories []string) decimal.Decimal {
	spend := decimal.NewFromInt(1)
	if price != nil {
		spend = decimal.NewFromFloat(*price)
	}
	return decimal.Min(Factor(name, categories).Mul(spend), MaxPerItem)
}

var scoreBands = []struct {
	limit decimal.Decimal
	score int
}{
	{decimal.RequireFromString("0.03"), 10},
	{decimal.RequireFromString("0.06"), 9},
	{decimal.RequireFromString("0.10"), 8},
	{decimal.RequireFromString("0.15"), 7},
	{decimal.RequireFromString("0.22"), 6},
	{decimal.RequireFromString("0.30"), 5},
	{decimal.RequireFromString("0.45"), 4},
	{decimal.RequireFromString("0.60"), 3},
	{decimal.RequireFromString("0.90"), 2},
	{decimal.RequireFromString("1.50"), 1},
}

// NeutralScore is used when the footprint per dollar is unknown.
const NeutralScore = 5

// Score maps kgCO2e per USD onto an eco score from 0 (worst) to 10 (best).
func Score(kgPerUSD decimal.NullDecimal) int {
	if !kgPerUSD.Valid {
		return NeutralScore
	}
	x := decimal.Max(kgPerUSD.Decimal, decimal.Zero)
	for _, b := range scoreBands {
		if x.LessThanOrEqual(b.limit) {
			return b.score
		}
	}
	return 0
}

// IsMixedMerchant reports whether a merchant sells across eco categories, so
// its purchases need item-level receipt evidence.
func IsMixedMerchant(merchant string) bool {
	m := strings.ToLower(merchant)
	if m == "" {
		return false
	}
	for _, mm := range mixedMerchants {
		if strings.Contains(m, mm) {
			return true
		}
	}
	return false
}
