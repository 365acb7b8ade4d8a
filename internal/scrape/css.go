package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// ExtractCSS runs the store's CSS selectors against the page. Each field
// takes the first selector that matches anything; later selectors are
// fallbacks for layout variants, not accumulation.
func ExtractCSS(doc *goquery.Document, sel domain.Selectors, pageURL string) domain.PriceSnapshot {
	snap := domain.PriceSnapshot{Currency: "CAD", InStock: true}

	if raw := firstMatchText(doc, sel.Price.CSS); raw != "" {
		if p, ok := ParsePrice(raw); ok {
			snap.Price = &p
		}
	}
	if raw := firstMatchText(doc, sel.OriginalPrice.CSS); raw != "" {
		if p, ok := ParsePrice(raw); ok {
			snap.OriginalPrice = &p
		}
	}

	snap.Name = CleanName(firstMatchText(doc, sel.Name.CSS))
	snap.InStock = cssAvailability(doc, sel.Availability)
	snap.ImageURL = CleanImageURL(firstImageSrc(doc, sel.Image.CSS), pageURL)

	return snap
}

// firstMatchText returns the text of the first selector that matches. A
// content attribute wins over element text, for meta-style markup such as
// [itemprop=price].
func firstMatchText(doc *goquery.Document, selectors []string) string {
	for _, css := range selectors {
		node := doc.Find(css).First()
		if node.Length() == 0 {
			continue
		}
		if content, ok := node.Attr("content"); ok && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
		if text := strings.TrimSpace(node.Text()); text != "" {
			return text
		}
	}
	return ""
}

// cssAvailability decides stock state from the first matching availability
// selector. A button match means the add-to-cart control exists, which
// counts as in stock. Text matches are checked against the store's
// patterns. No selector matching anything defaults to in stock.
func cssAvailability(doc *goquery.Document, field domain.FieldSelector) bool {
	for _, css := range field.CSS {
		node := doc.Find(css).First()
		if node.Length() == 0 {
			continue
		}
		if goquery.NodeName(node) == "button" {
			return true
		}
		text := strings.ToLower(node.Text())
		for _, pattern := range field.InStockPatterns {
			if strings.Contains(text, strings.ToLower(pattern)) {
				return true
			}
		}
		return false
	}
	return true
}

// firstImageSrc returns the image reference of the first matching image
// selector, preferring src and falling back to data-src for lazy loaders.
func firstImageSrc(doc *goquery.Document, selectors []string) string {
	for _, css := range selectors {
		node := doc.Find(css).First()
		if node.Length() == 0 {
			continue
		}
		if src, ok := node.Attr("src"); ok && strings.TrimSpace(src) != "" {
			return strings.TrimSpace(src)
		}
		if src, ok := node.Attr("data-src"); ok && strings.TrimSpace(src) != "" {
			return strings.TrimSpace(src)
		}
	}
	return ""
}
