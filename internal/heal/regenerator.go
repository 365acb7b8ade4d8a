package heal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/llm"
)

const (
	minConfidence = 0.7

	// maxHTMLSample bounds the page sample sent to the model.
	maxHTMLSample = 50000

	// markerLeadIn is how much context before a product marker survives
	// truncation.
	markerLeadIn = 1000
)

// productMarkers locate the product section of an oversized page so
// truncation keeps the part worth analyzing.
var productMarkers = []string{
	"<main",
	`class="product`,
	`id="product`,
	`itemtype="http://schema.org/product`,
	"data-product",
}

const regenSystemPrompt = `You are a web scraping expert specializing in e-commerce product pages.

Your task is to analyze HTML content and generate reliable CSS selectors for extracting product data.

## Guidelines

1. **Prioritize Stable Selectors**
   - Prefer semantic HTML attributes (data-*, itemprop, aria-*)
   - Use ID selectors when unique and descriptive
   - Avoid positional selectors (:nth-child) when possible
   - Look for consistent patterns across similar elements

2. **Multiple Fallbacks**
   - Provide 2-4 selectors per field in order of preference
   - First selector should be most specific/reliable
   - Later selectors should be progressively more general

3. **Price Selectors**
   - Target the final/sale price, not original/MSRP
   - Handle currency symbols and formatting
   - Check for "sale", "now", "current" price containers

4. **Availability Selectors**
   - Look for "Add to Cart" buttons
   - Check for out-of-stock indicators
   - Note common patterns: inventory status, shipping info

5. **Response Format**
   Return valid JSON only:
   ` + "```json" + `
   {
     "selectors": {
       "price": {"css": ["selector1", "selector2"]},
       "name": {"css": ["selector1", "selector2"]},
       "availability": {"css": ["selector1"], "in_stock_patterns": ["in stock"]},
       "image": {"css": ["selector1"]},
       "original_price": {"css": ["selector1"]},
       "wait_for": "main-selector-to-wait-for",
       "json_ld": false
     },
     "confidence": 0.85,
     "notes": "Brief explanation of selector choices"
   }
   ` + "```"

// Regeneration is the outcome of one selector-regeneration attempt.
type Regeneration struct {
	Success    bool
	Domain     string
	Selectors  domain.Selectors
	Confidence float64
	Notes      string
	Err        string
}

type regenResponse struct {
	Selectors  domain.Selectors `json:"selectors"`
	Confidence float64          `json:"confidence"`
	Notes      string           `json:"notes"`
}

// Regenerator asks an LLM for fresh selectors when a store's existing ones
// stop producing data.
type Regenerator struct {
	llm    *llm.Client
	logger *slog.Logger
}

func NewRegenerator(client *llm.Client, logger *slog.Logger) *Regenerator {
	return &Regenerator{
		llm:    client,
		logger: logger.With("component", "regenerator"),
	}
}

// Regenerate analyzes an HTML sample and returns a candidate selector set.
// The candidate is accepted only when the model's confidence clears the
// floor and the structural check passes. No retry here; the controller
// decides whether another cycle is worth an attempt.
func (r *Regenerator) Regenerate(ctx context.Context, html, storeDomain string, current *domain.Selectors) Regeneration {
	sample := truncateHTML(html, maxHTMLSample)
	prompt := buildRegenPrompt(sample, storeDomain, current)

	comp, err := r.llm.Complete(ctx, regenSystemPrompt, prompt)
	if err != nil {
		r.logger.Error("selector regeneration failed", "store", storeDomain, "error", err)
		return Regeneration{Domain: storeDomain, Err: err.Error()}
	}

	var resp regenResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(comp.Text)), &resp); err != nil {
		r.logger.Warn("unparseable selector response", "store", storeDomain, "model", comp.Model)
		return Regeneration{Domain: storeDomain, Err: "Failed to parse selector response"}
	}

	if resp.Confidence < minConfidence {
		return Regeneration{
			Domain:     storeDomain,
			Confidence: resp.Confidence,
			Err:        fmt.Sprintf("Low confidence: %.2f", resp.Confidence),
		}
	}
	if !structurallyValid(resp.Selectors) {
		return Regeneration{
			Domain:     storeDomain,
			Confidence: resp.Confidence,
			Err:        "incomplete selector set: price, name and availability are required",
		}
	}

	return Regeneration{
		Success:    true,
		Domain:     storeDomain,
		Selectors:  resp.Selectors,
		Confidence: resp.Confidence,
		Notes:      resp.Notes,
	}
}

// structurallyValid demands a CSS list for each of the three fields a scrape
// needs before the result counts as complete.
func structurallyValid(s domain.Selectors) bool {
	return len(s.Price.CSS) > 0 && len(s.Name.CSS) > 0 && len(s.Availability.CSS) > 0
}

func buildRegenPrompt(html, storeDomain string, current *domain.Selectors) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this HTML from %s and generate CSS selectors for product data extraction.\n\n", storeDomain)

	if current != nil {
		if enc, err := json.MarshalIndent(current, "", "  "); err == nil {
			b.WriteString("## Current (Broken) Selectors\n")
			b.WriteString("These selectors are no longer working:\n")
			b.WriteString("```json\n")
			b.Write(enc)
			b.WriteString("\n```\n\n")
		}
	}

	b.WriteString("## HTML Content\n")
	b.WriteString("```html\n")
	b.WriteString(html)
	b.WriteString("\n```\n\n")
	b.WriteString("Generate new CSS selectors that will reliably extract product data from this page.")
	return b.String()
}

// truncateHTML cuts an oversized page down to maxChars, keeping the region
// around the first product marker when one is present.
func truncateHTML(html string, maxChars int) string {
	if len(html) <= maxChars {
		return html
	}

	lower := strings.ToLower(html)
	for _, marker := range productMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		start := idx - markerLeadIn
		if start < 0 {
			start = 0
		}
		end := idx + maxChars - markerLeadIn
		if end > len(html) {
			end = len(html)
		}
		return html[start:end]
	}

	return html[:maxChars]
}
