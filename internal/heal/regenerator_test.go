package heal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/llm"
)

const fence = "```"

type capturedChat struct {
	mu     sync.Mutex
	system string
	user   string
}

func (c *capturedChat) userPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *capturedChat) systemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system
}

// newTestRegenerator backs the LLM client with a server that always
// answers reply.
func newTestRegenerator(t *testing.T, reply string) (*Regenerator, *capturedChat) {
	t.Helper()
	captured := &capturedChat{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		captured.mu.Lock()
		for _, m := range req.Messages {
			switch m.Role {
			case "system":
				captured.system = m.Content
			case "user":
				captured.user = m.Content
			}
		}
		captured.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "test-model",
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
			"usage":   map[string]int{"total_tokens": 128},
		})
	}))
	t.Cleanup(srv.Close)

	client := llm.NewClient(srv.URL, "test-key", []string{"test-model"})
	return NewRegenerator(client, testLogger()), captured
}

const goodSelectorJSON = `{
  "selectors": {
    "price": {"css": [".price-current", "[data-automation=price]"]},
    "name": {"css": ["h1.product-title"]},
    "availability": {"css": [".add-to-cart"], "in_stock_patterns": ["add to cart"]},
    "wait_for": ".price-current",
    "json_ld": true
  },
  "confidence": 0.85,
  "notes": "Stable data attributes on price and cart button"
}`

func TestRegenerateAcceptsConfidentResponse(t *testing.T) {
	reply := "Here you go:\n" + fence + "json\n" + goodSelectorJSON + "\n" + fence
	regen, captured := newTestRegenerator(t, reply)

	got := regen.Regenerate(context.Background(), "<html><main>page</main></html>", "bestbuy.ca", nil)
	if !got.Success {
		t.Fatalf("Regenerate failed: %s", got.Err)
	}
	if got.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", got.Confidence)
	}
	if len(got.Selectors.Price.CSS) != 2 || got.Selectors.Price.CSS[0] != ".price-current" {
		t.Errorf("price selectors = %v", got.Selectors.Price.CSS)
	}
	if !got.Selectors.JSONLD {
		t.Error("expected json_ld to carry through")
	}
	if got.Selectors.WaitFor != ".price-current" {
		t.Errorf("wait_for = %q", got.Selectors.WaitFor)
	}

	if sys := captured.systemPrompt(); !strings.Contains(sys, "web scraping expert") {
		t.Errorf("system prompt missing role framing: %q", sys)
	}
	user := captured.userPrompt()
	if !strings.Contains(user, "bestbuy.ca") {
		t.Error("user prompt missing store domain")
	}
	if !strings.Contains(user, "## HTML Content") {
		t.Error("user prompt missing HTML section")
	}
	if strings.Contains(user, "Current (Broken) Selectors") {
		t.Error("broken-selectors section present without current selectors")
	}
}

func TestRegeneratePromptIncludesBrokenSelectors(t *testing.T) {
	reply := fence + "json\n" + goodSelectorJSON + "\n" + fence
	regen, captured := newTestRegenerator(t, reply)

	current := &domain.Selectors{
		Price: domain.FieldSelector{CSS: []string{".stale-price"}},
	}
	regen.Regenerate(context.Background(), "<html></html>", "walmart.ca", current)

	user := captured.userPrompt()
	if !strings.Contains(user, "Current (Broken) Selectors") {
		t.Fatal("user prompt missing broken-selectors section")
	}
	if !strings.Contains(user, ".stale-price") {
		t.Error("user prompt missing the stale selector")
	}
}

func TestRegenerateRejectsLowConfidence(t *testing.T) {
	low := strings.Replace(goodSelectorJSON, `"confidence": 0.85`, `"confidence": 0.40`, 1)
	regen, _ := newTestRegenerator(t, fence+"json\n"+low+"\n"+fence)

	got := regen.Regenerate(context.Background(), "<html></html>", "bestbuy.ca", nil)
	if got.Success {
		t.Fatal("low-confidence response must be rejected")
	}
	if got.Err != "Low confidence: 0.40" {
		t.Errorf("err = %q", got.Err)
	}
}

func TestRegenerateRejectsIncompleteSelectors(t *testing.T) {
	incomplete := `{
  "selectors": {
    "price": {"css": [".price"]},
    "name": {"css": ["h1"]}
  },
  "confidence": 0.9
}`
	regen, _ := newTestRegenerator(t, fence+"json\n"+incomplete+"\n"+fence)

	got := regen.Regenerate(context.Background(), "<html></html>", "bestbuy.ca", nil)
	if got.Success {
		t.Fatal("incomplete selector set must be rejected")
	}
	if !strings.Contains(got.Err, "incomplete selector set") {
		t.Errorf("err = %q", got.Err)
	}
}

func TestRegenerateRejectsUnparseableReply(t *testing.T) {
	regen, _ := newTestRegenerator(t, "I cannot determine selectors for this page.")

	got := regen.Regenerate(context.Background(), "<html></html>", "bestbuy.ca", nil)
	if got.Success {
		t.Fatal("prose reply must be rejected")
	}
	if got.Err != "Failed to parse selector response" {
		t.Errorf("err = %q", got.Err)
	}
}

func TestTruncateHTMLShortPageUnchanged(t *testing.T) {
	html := "<html><body>small</body></html>"
	if got := truncateHTML(html, maxHTMLSample); got != html {
		t.Errorf("short page modified: %d bytes", len(got))
	}
}

func TestTruncateHTMLKeepsProductRegion(t *testing.T) {
	filler := strings.Repeat("<div>x</div>", 3000) // ~36k of noise
	page := filler + `<MAIN id="content"><span class="price">$19.99</span></MAIN>` + filler

	got := truncateHTML(page, maxHTMLSample)
	if len(got) > maxHTMLSample {
		t.Fatalf("sample too large: %d bytes", len(got))
	}
	if !strings.Contains(got, `<MAIN id="content">`) {
		t.Error("product region lost in truncation")
	}
	if !strings.Contains(got, "$19.99") {
		t.Error("price content lost in truncation")
	}
}

func TestTruncateHTMLWithoutMarkersKeepsPrefix(t *testing.T) {
	page := strings.Repeat("a", maxHTMLSample+500)
	got := truncateHTML(page, maxHTMLSample)
	if len(got) != maxHTMLSample {
		t.Fatalf("len = %d, want %d", len(got), maxHTMLSample)
	}
}

func TestStructurallyValid(t *testing.T) {
	full := domain.Selectors{
		Price:        domain.FieldSelector{CSS: []string{".p"}},
		Name:         domain.FieldSelector{CSS: []string{".n"}},
		Availability: domain.FieldSelector{CSS: []string{".a"}},
	}
	if !structurallyValid(full) {
		t.Error("complete set judged invalid")
	}

	missing := full
	missing.Availability = domain.FieldSelector{}
	if structurallyValid(missing) {
		t.Error("set without availability judged valid")
	}
}
