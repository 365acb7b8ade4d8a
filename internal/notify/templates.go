package notify

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// RenderedEmail is the output of template rendering: a subject line, the
// HTML body, and a plain-text alternative derived from the HTML.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "price_alert"}}<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>{{.AlertLabel}}</h2>
<p><strong>{{.ProductName}}</strong> at {{.StoreName}} is now <strong>${{.CurrentPrice}}</strong>.</p>
{{if .PreviousPrice}}<p>Previous price: ${{.PreviousPrice}}{{if .DropAmount}}<br>You save: ${{.DropAmount}}{{end}}</p>{{end}}
{{if .OriginalPrice}}<p>Was: ${{.OriginalPrice}}{{if .DiscountPercent}} ({{.DiscountPercent}}% off){{end}}</p>{{end}}
<p><a href="{{.ProductURL}}">View product</a></p>
</body></html>{{end}}

{{define "back_in_stock"}}<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>Back in Stock</h2>
<p><strong>{{.ProductName}}</strong> is available again at {{.StoreName}}{{if .CurrentPrice}} for <strong>${{.CurrentPrice}}</strong>{{end}}.</p>
<p><a href="{{.ProductURL}}">View product</a></p>
</body></html>{{end}}

{{define "product_error"}}<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>Tracking Issue</h2>
<p>We are having trouble checking <strong>{{.ProductName}}</strong> at {{.StoreName}}.</p>
<p>Error: {{.ErrorMessage}}</p>
<p>The product page may have moved or changed. Please verify the URL:</p>
<p><a href="{{.ProductURL}}">{{.ProductURL}}</a></p>
</body></html>{{end}}

{{define "store_flagged"}}<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>Store Health Warning</h2>
<p>Scrapes against <strong>{{.StoreName}}</strong> ({{.StoreDomain}}) are failing.</p>
<p>Success rate over the last 7 days: <strong>{{.SuccessRatePercent}}%</strong></p>
<p>Products at this store may not update until the store recovers or its selectors are repaired.</p>
</body></html>{{end}}
`))

type priceAlertData struct {
	ProductName     string
	StoreName       string
	CurrentPrice    string
	PreviousPrice   string
	OriginalPrice   string
	DiscountPercent int
	DropAmount      string
	ProductURL      string
	AlertLabel      string
}

type backInStockData struct {
	ProductName  string
	StoreName    string
	CurrentPrice string
	ProductURL   string
}

type productErrorData struct {
	ProductName  string
	StoreName    string
	ErrorMessage string
	ProductURL   string
}

type storeFlaggedData struct {
	StoreName          string
	StoreDomain        string
	SuccessRatePercent int
}

// alertLabel names the alert type in the email heading.
func alertLabel(t domain.AlertType) string {
	switch t {
	case domain.AlertTargetPrice:
		return "Target Price Reached"
	case domain.AlertPercentDrop:
		return "Price Drop"
	case domain.AlertAnyChange:
		return "Price Changed"
	}
	return "Price Alert"
}

func renderPriceAlert(p domain.Product, a domain.Alert, storeName string, prevPrice *float64) (RenderedEmail, error) {
	var current float64
	if p.CurrentPrice != nil {
		current = *p.CurrentPrice
	}

	data := priceAlertData{
		ProductName:  p.Name,
		StoreName:    storeName,
		CurrentPrice: money(current),
		ProductURL:   p.URL,
		AlertLabel:   alertLabel(a.Type),
	}

	var drop float64
	if prevPrice != nil {
		data.PreviousPrice = money(*prevPrice)
		if *prevPrice > current {
			drop = *prevPrice - current
			data.DropAmount = money(drop)
		}
	}
	if p.OriginalPrice != nil && *p.OriginalPrice > current {
		orig := *p.OriginalPrice
		data.OriginalPrice = money(orig)
		data.DiscountPercent = int((1-current/orig)*100 + 0.5)
	}

	subject := fmt.Sprintf("Price Alert: %s is now $%s", p.Name, data.CurrentPrice)
	if drop > 0 {
		subject = fmt.Sprintf("Price Drop: %s is now $%s (Save $%s)", p.Name, data.CurrentPrice, data.DropAmount)
	}

	return render("price_alert", subject, data)
}

func renderBackInStock(p domain.Product, storeName string) (RenderedEmail, error) {
	data := backInStockData{
		ProductName: p.Name,
		StoreName:   storeName,
		ProductURL:  p.URL,
	}
	if p.CurrentPrice != nil {
		data.CurrentPrice = money(*p.CurrentPrice)
	}
	return render("back_in_stock", fmt.Sprintf("Back in Stock: %s", p.Name), data)
}

func renderProductError(p domain.Product, storeName, message string) (RenderedEmail, error) {
	data := productErrorData{
		ProductName:  p.Name,
		StoreName:    storeName,
		ErrorMessage: message,
		ProductURL:   p.URL,
	}
	return render("product_error", fmt.Sprintf("Tracking Issue: %s", p.Name), data)
}

func renderStoreFlagged(storeName, storeDomain string, successRate float64) (RenderedEmail, error) {
	pct := int(successRate*100 + 0.5)
	data := storeFlaggedData{
		StoreName:          storeName,
		StoreDomain:        storeDomain,
		SuccessRatePercent: pct,
	}
	subject := fmt.Sprintf("Store Health Warning: %s (%d%% success rate)", storeName, pct)
	return render("store_flagged", subject, data)
}

func render(name, subject string, data any) (RenderedEmail, error) {
	var buf strings.Builder
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return RenderedEmail{}, fmt.Errorf("notify: render %s: %w", name, err)
	}
	html := buf.String()
	return RenderedEmail{
		Subject: subject,
		HTML:    html,
		Text:    HTMLToText(html),
	}, nil
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

var (
	reStyleBlock = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reScript     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reBreak      = regexp.MustCompile(`(?i)<br\s*/?>`)
	reParaEnd    = regexp.MustCompile(`(?i)</p>`)
	reDivEnd     = regexp.MustCompile(`(?i)</div>`)
	reListEnd    = regexp.MustCompile(`(?i)</li>`)
	reHeadEnd    = regexp.MustCompile(`(?i)</h[1-6]>`)
	reAnchor     = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>([^<]*)</a>`)
	reTag        = regexp.MustCompile(`<[^>]+>`)
	reBlankRuns  = regexp.MustCompile(`\n\s*\n\s*\n+`)
	reSpaceRuns  = regexp.MustCompile(`[ \t]+`)
)

// HTMLToText derives the plain-text body from rendered HTML: block-level
// closers become newlines, anchors become "text (url)", remaining tags are
// stripped and common entities decoded. The conversion is deterministic so
// the text part of a given HTML body never varies between sends.
func HTMLToText(html string) string {
	text := reStyleBlock.ReplaceAllString(html, "")
	text = reScript.ReplaceAllString(text, "")

	text = reBreak.ReplaceAllString(text, "\n")
	text = reParaEnd.ReplaceAllString(text, "\n\n")
	text = reDivEnd.ReplaceAllString(text, "\n")
	text = reListEnd.ReplaceAllString(text, "\n")
	text = reHeadEnd.ReplaceAllString(text, "\n\n")

	text = reAnchor.ReplaceAllString(text, "$2 ($1)")
	text = reTag.ReplaceAllString(text, "")

	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#34;", `"`,
		"&#39;", "'",
	)
	text = replacer.Replace(text)

	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	text = reSpaceRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
