package notify

import (
	"strings"
	"testing"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

func TestRenderPriceAlertWithDrop(t *testing.T) {
	p := testProduct() // $249.99
	a := domain.Alert{Type: domain.AlertPercentDrop, TargetValue: ptr(20)}

	r, err := renderPriceAlert(p, a, "Best Buy Canada", ptr(329.99))
	if err != nil {
		t.Fatalf("renderPriceAlert: %v", err)
	}

	want := "Price Drop: Sony WH-1000XM5 is now $249.99 (Save $80.00)"
	if r.Subject != want {
		t.Errorf("subject = %q, want %q", r.Subject, want)
	}
	if !strings.Contains(r.HTML, p.URL) {
		t.Error("HTML missing product link")
	}
	if !strings.Contains(r.HTML, "Best Buy Canada") {
		t.Error("HTML missing store name")
	}
	if !strings.Contains(r.Text, "249.99") {
		t.Errorf("text missing price: %q", r.Text)
	}
	if strings.Contains(r.Text, "<") {
		t.Errorf("text still carries markup: %q", r.Text)
	}
}

func TestRenderPriceAlertNoDrop(t *testing.T) {
	p := testProduct()
	a := domain.Alert{Type: domain.AlertTargetPrice, TargetValue: ptr(250)}

	r, err := renderPriceAlert(p, a, "Best Buy Canada", nil)
	if err != nil {
		t.Fatalf("renderPriceAlert: %v", err)
	}
	want := "Price Alert: Sony WH-1000XM5 is now $249.99"
	if r.Subject != want {
		t.Errorf("subject = %q, want %q", r.Subject, want)
	}
	if !strings.Contains(r.HTML, "Target Price Reached") {
		t.Error("HTML missing alert label")
	}
}

func TestRenderPriceAlertEscapesName(t *testing.T) {
	p := testProduct()
	p.Name = `TV <script>alert("x")</script>`
	a := domain.Alert{Type: domain.AlertAnyChange}

	r, err := renderPriceAlert(p, a, "bestbuy.ca", nil)
	if err != nil {
		t.Fatalf("renderPriceAlert: %v", err)
	}
	if strings.Contains(r.HTML, "<script>alert") {
		t.Error("product name not escaped in HTML")
	}
}

func TestRenderBackInStock(t *testing.T) {
	r, err := renderBackInStock(testProduct(), "Best Buy Canada")
	if err != nil {
		t.Fatalf("renderBackInStock: %v", err)
	}
	if r.Subject != "Back in Stock: Sony WH-1000XM5" {
		t.Errorf("subject = %q", r.Subject)
	}
	if !strings.Contains(r.Text, "available again") {
		t.Errorf("text = %q", r.Text)
	}
}

func TestRenderProductError(t *testing.T) {
	r, err := renderProductError(testProduct(), "Best Buy Canada", "selector matched nothing")
	if err != nil {
		t.Fatalf("renderProductError: %v", err)
	}
	if r.Subject != "Tracking Issue: Sony WH-1000XM5" {
		t.Errorf("subject = %q", r.Subject)
	}
	if !strings.Contains(r.HTML, "selector matched nothing") {
		t.Error("HTML missing error message")
	}
}

func TestRenderStoreFlagged(t *testing.T) {
	r, err := renderStoreFlagged("Best Buy Canada", "bestbuy.ca", 0.347)
	if err != nil {
		t.Fatalf("renderStoreFlagged: %v", err)
	}
	if r.Subject != "Store Health Warning: Best Buy Canada (35% success rate)" {
		t.Errorf("subject = %q", r.Subject)
	}
	if !strings.Contains(r.HTML, "bestbuy.ca") {
		t.Error("HTML missing store domain")
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"line breaks",
			"first<br>second<br/>third",
			"first\nsecond\nthird",
		},
		{
			"paragraphs",
			"<p>one</p><p>two</p>",
			"one\n\ntwo",
		},
		{
			"list items",
			"<ul><li>a</li><li>b</li></ul>",
			"a\nb",
		},
		{
			"anchor becomes text with url",
			`see <a href="https://example.com/p">the product</a> here`,
			"see the product (https://example.com/p) here",
		},
		{
			"entities decoded",
			"Tom &amp; Jerry &lt;3 &quot;quotes&quot;&nbsp;end",
			`Tom & Jerry <3 "quotes" end`,
		},
		{
			"style block dropped",
			"<style>body{color:red}</style><p>visible</p>",
			"visible",
		},
		{
			"headings separate",
			"<h2>Title</h2>body",
			"Title\n\nbody",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.html); got != tt.want {
				t.Errorf("HTMLToText(%q) = %q, want %q", tt.html, got, tt.want)
			}
		})
	}
}

func TestHTMLToTextDeterministic(t *testing.T) {
	r, err := renderPriceAlert(testProduct(), domain.Alert{Type: domain.AlertTargetPrice}, "Best Buy Canada", ptr(300))
	if err != nil {
		t.Fatalf("renderPriceAlert: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := HTMLToText(r.HTML); got != r.Text {
			t.Fatalf("conversion varied on pass %d", i)
		}
	}
}
