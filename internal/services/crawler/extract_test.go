package crawler

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/specto/internal/models"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>  Handmade Widgets | Acme  </title>
<meta name="description" content="Handmade widgets delivered worldwide.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<link rel="canonical" href="https://example.com/widgets">
<meta property="og:title" content="Handmade Widgets">
<meta property="og:description" content="Widgets for every occasion">
<meta property="og:image" content="https://example.com/widget.png">
<meta property="og:empty" content="">
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "Product", "name": "Widget"}
</script>
</head>
<body>
<h1>Handmade Widgets</h1>
<p>Widgets for every occasion.</p>
<h2>Materials</h2>
<h3>Oak</h3>
<h2>Shipping</h2>
</body>
</html>`

func TestExtractSnapshotMetadata(t *testing.T) {
	snapshot := ExtractSnapshot("https://example.com/widgets", samplePage)

	assert.Equal(t, "Handmade Widgets | Acme", snapshot.Title)
	assert.Equal(t, "Handmade widgets delivered worldwide.", snapshot.MetaDescription)
	assert.Equal(t, "https://example.com/widgets", snapshot.Canonical)
	assert.True(t, snapshot.HasViewport)
	assert.True(t, snapshot.IsHTTPS)
	// Empty og: content does not count
	assert.Equal(t, 3, snapshot.OGTagCount)
}

func TestExtractSnapshotHeadingsInDocumentOrder(t *testing.T) {
	snapshot := ExtractSnapshot("https://example.com", samplePage)

	require.Len(t, snapshot.Headings, 4)
	levels := make([]int, len(snapshot.Headings))
	for i, heading := range snapshot.Headings {
		levels[i] = heading.Level
	}
	assert.Equal(t, []int{1, 2, 3, 2}, levels)
	assert.Equal(t, "Handmade Widgets", snapshot.Headings[0].Text)
	assert.Equal(t, 1, snapshot.HeadingCount(1))
	assert.Equal(t, 2, snapshot.HeadingCount(2))
}

func TestExtractSnapshotStructuredData(t *testing.T) {
	snapshot := ExtractSnapshot("https://example.com", samplePage)

	assert.True(t, snapshot.HasStructured)
	assert.Equal(t, []string{"Product"}, snapshot.StructuredTypes)
}

func TestExtractSnapshotStructuredDataVariants(t *testing.T) {
	tests := []struct {
		name      string
		script    string
		wantValid bool
		wantTypes []string
	}{
		{
			name:      "type array",
			script:    `{"@type": ["Organization", "LocalBusiness"]}`,
			wantValid: true,
			wantTypes: []string{"Organization", "LocalBusiness"},
		},
		{
			name:      "graph container",
			script:    `{"@graph": [{"@type": "WebSite"}, {"@type": "WebPage"}]}`,
			wantValid: true,
			wantTypes: []string{"WebSite", "WebPage"},
		},
		{
			name:      "top level array",
			script:    `[{"@type": "Article"}, {"@type": "Person"}]`,
			wantValid: true,
			wantTypes: []string{"Article", "Person"},
		},
		{
			name:      "valid json without type",
			script:    `{"@context": "https://schema.org"}`,
			wantValid: true,
		},
		{
			name:   "malformed json",
			script: `{"@type": "Product"`,
		},
		{
			name:   "empty script",
			script: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := `<html><head><script type="application/ld+json">` +
				tt.script + `</script></head><body><h1>Page</h1></body></html>`
			snapshot := ExtractSnapshot("https://example.com", html)

			assert.Equal(t, tt.wantValid, snapshot.HasStructured)
			assert.Equal(t, tt.wantTypes, snapshot.StructuredTypes)
		})
	}
}

func TestExtractSnapshotText(t *testing.T) {
	snapshot := ExtractSnapshot("https://example.com", samplePage)

	assert.Contains(t, snapshot.Text, "Widgets for every occasion")
	assert.Contains(t, snapshot.Text, "Handmade Widgets")
}

func TestExtractSnapshotMissingFields(t *testing.T) {
	snapshot := ExtractSnapshot("http://example.com", "<html><body><p>bare page</p></body></html>")

	assert.Empty(t, snapshot.Title)
	assert.Empty(t, snapshot.MetaDescription)
	assert.Empty(t, snapshot.Canonical)
	assert.Zero(t, snapshot.OGTagCount)
	assert.False(t, snapshot.HasViewport)
	assert.False(t, snapshot.IsHTTPS)
	assert.False(t, snapshot.HasStructured)
	assert.Empty(t, snapshot.Headings)
	assert.Contains(t, snapshot.Text, "bare page")
}

func TestTruncateDoesNotSplitRunes(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune

	out := truncate(s, 5)

	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 4, len(out))
	assert.Equal(t, s, truncate(s, 20))
}

func TestExtractSnapshotTruncatesCapture(t *testing.T) {
	filler := strings.Repeat("a", models.MaxCaptureBytes)
	html := "<html><head><title>Big</title></head><body><p>" + filler + "</p></body></html>"

	snapshot := ExtractSnapshot("https://example.com", html)

	assert.LessOrEqual(t, len(snapshot.HTML), models.MaxCaptureBytes)
	assert.LessOrEqual(t, len(snapshot.Text), models.MaxCaptureBytes)
	assert.Equal(t, "Big", snapshot.Title)
}
