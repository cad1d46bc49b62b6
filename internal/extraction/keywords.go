package extraction

import (
	"strings"
	"unicode/utf8"
)

// stopPhrases mark totals and payment metadata. Lines containing any of them
// never produce items.
var stopPhrases = []string{
	"subtotal", "sub total", "tax", "total", "grand total", "balance", "change",
	"payment", "visa", "mastercard", "amex", "debit", "credit", "cash",
}

// layoutStopPhrases is the narrower set the layout associator checks against
// a band's name region.
var layoutStopPhrases = []string{
	"subtotal", "sub total", "tax", "total", "grand total",
}

// excludedKeywords disqualify a candidate item name.
var excludedKeywords = []string{
	"order", "phone", "date", "time", "invoice", "register", "receipt",
	"discount", "% off", "%", "cashier", "store", "address",
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// validName applies the shared name rules: at least two characters, one
// letter, and no excluded keyword.
func validName(name string) bool {
	if utf8.RuneCountInString(name) < 2 || !hasLetter(name) {
		return false
	}
	return !containsAny(strings.ToLower(name), excludedKeywords)
}
