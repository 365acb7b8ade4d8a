package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/llm"
)

// maxLLMText caps the cleaned page text sent to the model.
const maxLLMText = 50000

// strippedTags are removed from the page before text extraction; they carry
// no product data and dominate the byte count.
const strippedTags = "script, style, noscript, iframe, svg, path"

var blankRuns = regexp.MustCompile(`\n\s*\n+`)

const llmExtractSystem = `You are a product data extraction assistant. Given the text content of a retail product page, extract the product's details.

Respond with valid JSON only, no prose:
{
  "name": "product name",
  "price": 29.99,
  "original_price": 39.99,
  "currency": "CAD",
  "in_stock": true,
  "brand": "brand name",
  "image_url": "https://...",
  "upc": "123456789012"
}

Rules:
- "price" is the current selling price as a plain number, no currency symbols.
- "original_price" is the pre-sale price, only when the page shows one.
- Use null for any field not present on the page.
- "in_stock" is false only when the page clearly says the product is unavailable.
- Never invent values.`

// llmProduct is the JSON shape the extraction prompt asks for. Price fields
// are any because models return both numbers and formatted strings.
type llmProduct struct {
	Name          string `json:"name"`
	Price         any    `json:"price"`
	OriginalPrice any    `json:"original_price"`
	Currency      string `json:"currency"`
	InStock       *bool  `json:"in_stock"`
	Brand         string `json:"brand"`
	ImageURL      string `json:"image_url"`
	UPC           string `json:"upc"`
}

// ExtractLLM is the last-resort waterfall stage: the page is reduced to
// text, sent through the completion client, and the JSON answer mapped to a
// snapshot. Callers must check client.Enabled() first.
func ExtractLLM(ctx context.Context, client *llm.Client, page, pageURL string) (domain.PriceSnapshot, error) {
	text := CleanHTMLForLLM(page)
	if text == "" {
		return domain.PriceSnapshot{}, fmt.Errorf("scrape: llm extract: page has no text content")
	}

	domainName, err := ExtractDomain(pageURL)
	if err != nil {
		domainName = "unknown"
	}

	prompt := fmt.Sprintf("Extract the product data from this %s page.\n\n## Page Content\n```\n%s\n```", domainName, text)

	comp, err := client.Complete(ctx, llmExtractSystem, prompt)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("scrape: llm extract: %w", err)
	}

	var p llmProduct
	if err := json.Unmarshal([]byte(llm.ExtractJSON(comp.Text)), &p); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("scrape: llm extract: parse completion: %w", err)
	}

	snap := domain.PriceSnapshot{Currency: "CAD", InStock: true}
	snap.Name = CleanName(p.Name)
	if price, ok := coercePrice(p.Price); ok {
		snap.Price = &price
	}
	if orig, ok := coercePrice(p.OriginalPrice); ok {
		snap.OriginalPrice = &orig
	}
	if p.Currency != "" {
		snap.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	}
	if p.InStock != nil {
		snap.InStock = *p.InStock
	}
	snap.Brand = CleanBrand(p.Brand)
	snap.UPC = CleanUPC(p.UPC)
	snap.ImageURL = CleanImageURL(p.ImageURL, pageURL)

	return snap, nil
}

// coercePrice accepts a price as a JSON number or a formatted string.
func coercePrice(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return ValidPrice(t)
	case string:
		return ParsePrice(t)
	}
	return 0, false
}

// CleanHTMLForLLM reduces a page to its visible text: noise tags and
// comments are dropped, text nodes joined by newlines, blank runs
// collapsed, and the result truncated to fit the prompt.
func CleanHTMLForLLM(page string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return ""
	}
	doc.Find(strippedTags).Remove()

	var parts []string
	for _, root := range doc.Selection.Nodes {
		collectText(root, &parts)
	}

	text := strings.Join(parts, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if len(text) > maxLLMText {
		text = text[:maxLLMText]
	}
	return text
}

// collectText gathers trimmed text nodes in document order, skipping
// comments.
func collectText(n *html.Node, out *[]string) {
	if n.Type == html.CommentNode {
		return
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*out = append(*out, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, out)
	}
}
