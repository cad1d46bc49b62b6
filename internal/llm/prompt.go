// Package llm extracts receipt items from OCR text with large language models.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/greenbucks/internal/extraction"
)

// maxPromptChars is the amount of receipt text sent to a model.
const maxPromptChars = 4000

const requestTimeout = 30 * time.Second

// systemPrompt is shared by every provider.
const systemPrompt = `You extract structured line items from plain receipt text produced by OCR.
Return ONLY a JSON object with an "items" array. Each item has "name" (string), "price" (number, USD) and an optional "qty" (integer).
Ignore headers, phone numbers, order numbers, totals, tax, discounts and promotions.
When a product name is on one line and its price alone on the next line, pair them.
Use decimal prices such as 1.29. Never invent items.`

const userPromptTemplate = `Extract the items and prices from this receipt text.
Rules:
- Use only prices that appear in the text. Do not invent or upscale values.
- Prefer decimal amounts such as 1.29. Pair a name line with a following price-only line.
- If the text has a TOTAL line, choose the decimal prices so that the item prices add up to that total.
- Never return total, subtotal or tax lines as items.
- Return strict JSON: {"items":[{"name":string,"price":number,"qty"?:number}]}

Receipt text:
%s`

func userPrompt(text string) string {
	return fmt.Sprintf(userPromptTemplate, truncate(text, maxPromptChars))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// parseItemsJSON decodes a model reply into items, keeping only named items
// with a numeric price in (0, 10000].
func parseItemsJSON(text string) ([]extraction.ParsedItem, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var reply struct {
		Items []struct {
			Name  any `json:"name"`
			Price any `json:"price"`
			Qty   any `json:"qty"`
		} `json:"items"`
	}
	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	dec.UseNumber()
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	items := make([]extraction.ParsedItem, 0, len(reply.Items))
	for _, it := range reply.Items {
		name, _ := it.Name.(string)
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		num, ok := it.Price.(json.Number)
		if !ok {
			continue
		}
		price, err := num.Float64()
		if err != nil || price <= 0 || price > extraction.MaxPrice {
			continue
		}
		item := extraction.NewItem(name, price)
		if q, ok := it.Qty.(json.Number); ok {
			if n, err := q.Int64(); err == nil && n > 0 {
				qty := int(n)
				item.Qty = &qty
			}
		}
		items = append(items, item)
	}
	return items, nil
}
