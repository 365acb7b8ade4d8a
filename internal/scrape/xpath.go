package scrape

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// ExtractXPath runs the store's XPath expressions against the page. XPath
// is a narrow third fallback covering only price and name; stores rarely
// carry these hints, so the bool short-circuits the strategy entirely when
// neither field has any.
func ExtractXPath(page string, sel domain.Selectors) (domain.PriceSnapshot, bool) {
	if len(sel.Price.XPath) == 0 && len(sel.Name.XPath) == 0 {
		return domain.PriceSnapshot{}, false
	}

	doc, err := htmlquery.Parse(strings.NewReader(page))
	if err != nil {
		return domain.PriceSnapshot{}, false
	}

	snap := domain.PriceSnapshot{Currency: "CAD", InStock: true}

	if raw := firstXPathText(doc, sel.Price.XPath); raw != "" {
		if p, ok := ParsePrice(raw); ok {
			snap.Price = &p
		}
	}
	snap.Name = CleanName(firstXPathText(doc, sel.Name.XPath))

	return snap, true
}

// firstXPathText returns the text of the first expression that matches.
// Expressions that fail to compile are skipped rather than failing the
// strategy; regenerated selectors are not always valid.
func firstXPathText(doc *html.Node, exprs []string) string {
	for _, expr := range exprs {
		node, err := htmlquery.Query(doc, expr)
		if err != nil || node == nil {
			continue
		}
		if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
			return text
		}
	}
	return ""
}
