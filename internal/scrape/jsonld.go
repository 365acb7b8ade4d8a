package scrape

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// maxJSONLDDepth bounds recursion through nested @graph / mainEntity
// wrappers.
const maxJSONLDDepth = 5

// inStockHints are substrings of schema.org availability values that mean
// the product can be bought.
var inStockHints = []string{"instock", "in stock", "available", "preorder", "pre-order"}

// ExtractJSONLD walks the page's application/ld+json blocks looking for a
// schema.org Product and maps it to a snapshot. The bool reports whether a
// Product block was found at all; completeness is the caller's call.
func ExtractJSONLD(doc *goquery.Document, pageURL string) (domain.PriceSnapshot, bool) {
	var snap domain.PriceSnapshot
	found := false

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var node any
		if err := json.Unmarshal([]byte(sel.Text()), &node); err != nil {
			// Malformed blocks are common in the wild; keep looking.
			return true
		}
		product := findProduct(node, 0)
		if product == nil {
			return true
		}
		snap = productSnapshot(product, pageURL)
		found = true
		return false
	})

	return snap, found
}

// findProduct recurses through arrays, @graph collections and entity
// wrappers until it hits a node typed Product.
func findProduct(node any, depth int) map[string]any {
	if depth > maxJSONLDDepth {
		return nil
	}
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if p := findProduct(item, depth+1); p != nil {
				return p
			}
		}
	case map[string]any:
		if isProductType(v["@type"]) {
			return v
		}
		for _, key := range []string{"@graph", "mainEntity", "mainEntityOfPage"} {
			if child, ok := v[key]; ok {
				if p := findProduct(child, depth+1); p != nil {
					return p
				}
			}
		}
	}
	return nil
}

// isProductType accepts @type as a string or the first entry of a list.
func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Product"
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s == "Product"
			}
		}
	}
	return false
}

// productSnapshot maps a schema.org Product node to a snapshot, pushing
// every field through the sanitizers.
func productSnapshot(p map[string]any, pageURL string) domain.PriceSnapshot {
	snap := domain.PriceSnapshot{Currency: "CAD", InStock: true}

	snap.Name = CleanName(stringField(p, "name"))

	switch b := p["brand"].(type) {
	case map[string]any:
		snap.Brand = CleanBrand(stringField(b, "name"))
	case string:
		snap.Brand = CleanBrand(b)
	}

	for _, key := range []string{"gtin13", "gtin12", "gtin", "sku"} {
		if v := scalarString(p[key]); v != "" {
			snap.UPC = CleanUPC(v)
			break
		}
	}

	snap.ImageURL = CleanImageURL(imageField(p["image"]), pageURL)

	if offer := firstOffer(p["offers"]); offer != nil {
		if price, ok := offerPrice(offer); ok {
			snap.Price = &price
		}
		if cur := stringField(offer, "priceCurrency"); cur != "" {
			snap.Currency = cur
		}
		if avail := stringField(offer, "availability"); avail != "" {
			snap.InStock = availabilityInStock(avail)
		}
	}

	return snap
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// scalarString renders a string or bare number field as a string. GTINs in
// particular arrive both ways.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// imageField handles image as a string, an array of either form, or an
// ImageObject with a url.
func imageField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return imageField(t[0])
		}
	case map[string]any:
		return stringField(t, "url")
	}
	return ""
}

// firstOffer returns offers as a map, taking the first entry of a list.
func firstOffer(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// offerPrice pulls a valid price out of an Offer. AggregateOffer prefers
// lowPrice. Values arrive as numbers or strings.
func offerPrice(offer map[string]any) (float64, bool) {
	keys := []string{"price"}
	if t, _ := offer["@type"].(string); t == "AggregateOffer" {
		keys = []string{"lowPrice", "price"}
	}
	for _, key := range keys {
		switch v := offer[key].(type) {
		case float64:
			if p, ok := ValidPrice(v); ok {
				return p, true
			}
		case string:
			if p, ok := ParsePrice(v); ok {
				return p, true
			}
		}
	}
	return 0, false
}

func availabilityInStock(avail string) bool {
	avail = strings.ToLower(avail)
	for _, hint := range inStockHints {
		if strings.Contains(avail, hint) {
			return true
		}
	}
	return false
}
