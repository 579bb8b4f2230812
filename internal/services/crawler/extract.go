package crawler

import (
	"encoding/json"
	"net/url"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/specto/internal/models"
)

// ExtractSnapshot parses rendered HTML into the fields the scorers
// consume. Extraction never fails hard: a page that cannot be parsed
// yields an empty snapshot with the raw HTML attached.
func ExtractSnapshot(pageURL, html string) *models.PageSnapshot {
	snapshot := &models.PageSnapshot{
		URL:      pageURL,
		FinalURL: pageURL,
		HTML:     truncate(html, models.MaxCaptureBytes),
	}

	if parsed, err := url.Parse(pageURL); err == nil {
		snapshot.IsHTTPS = parsed.Scheme == "https"
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		snapshot.Text = truncate(stripTags(html), models.MaxCaptureBytes)
		return snapshot
	}

	snapshot.Title = strings.TrimSpace(doc.Find("title").First().Text())
	snapshot.MetaDescription = metaContent(doc, "description")
	snapshot.Canonical, _ = doc.Find(`link[rel="canonical"]`).First().Attr("href")
	snapshot.Canonical = strings.TrimSpace(snapshot.Canonical)

	doc.Find(`meta[property^="og:"]`).Each(func(_ int, sel *goquery.Selection) {
		if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
			snapshot.OGTagCount++
		}
	})

	viewport := metaContent(doc, "viewport")
	snapshot.HasViewport = viewport != ""

	extractHeadings(doc, snapshot)

	extractStructuredData(doc, snapshot)

	snapshot.Text = truncate(extractText(html, doc), models.MaxCaptureBytes)

	return snapshot
}

// metaContent returns the trimmed content of a named meta tag
func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find(`meta[name="` + name + `"]`).First().Attr("content")
	return strings.TrimSpace(content)
}

// extractHeadings collects h1-h6 in document order, which the
// hierarchy check relies on
func extractHeadings(doc *goquery.Document, snapshot *models.PageSnapshot) {
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		node := goquery.NodeName(sel)
		if len(node) == 2 && node[0] == 'h' && node[1] >= '1' && node[1] <= '6' {
			snapshot.Headings = append(snapshot.Headings, models.Heading{
				Level: int(node[1] - '0'),
				Text:  strings.TrimSpace(sel.Text()),
			})
		}
	})
}

// extractStructuredData collects JSON-LD @type values from the page
func extractStructuredData(doc *goquery.Document, snapshot *models.PageSnapshot) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		var payload interface{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return
		}
		snapshot.HasStructured = true
		collectTypes(payload, snapshot)
	})
}

// collectTypes walks a JSON-LD payload for @type values, descending
// into arrays and @graph containers
func collectTypes(payload interface{}, snapshot *models.PageSnapshot) {
	switch value := payload.(type) {
	case map[string]interface{}:
		switch typed := value["@type"].(type) {
		case string:
			snapshot.StructuredTypes = append(snapshot.StructuredTypes, typed)
		case []interface{}:
			for _, entry := range typed {
				if name, ok := entry.(string); ok {
					snapshot.StructuredTypes = append(snapshot.StructuredTypes, name)
				}
			}
		}
		if graph, ok := value["@graph"].([]interface{}); ok {
			for _, entry := range graph {
				collectTypes(entry, snapshot)
			}
		}
	case []interface{}:
		for _, entry := range value {
			collectTypes(entry, snapshot)
		}
	}
}

// extractText converts page HTML to readable text via markdown,
// falling back to plain tag stripping when conversion yields nothing
func extractText(html string, doc *goquery.Document) string {
	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(html)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	return strings.TrimSpace(doc.Find("body").Text())
}

// stripTags is the last-resort text extraction for unparseable pages
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncate caps a string at max bytes, backing off to the nearest
// rune boundary so the result stays valid UTF-8
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
