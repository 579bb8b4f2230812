package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/specto/internal/models"
)

func wellFormedSnapshot() *models.PageSnapshot {
	return &models.PageSnapshot{
		URL:             "https://example.com",
		Title:           "Example Widgets - Handmade Widgets Delivered",                                                                                          // 44 chars
		MetaDescription: "We design and ship handmade widgets to customers worldwide. Browse the catalogue, compare models and order online with free delivery.", // 134 chars
		Canonical:       "https://example.com/",
		OGTagCount:      5,
		HasViewport:     true,
		IsHTTPS:         true,
		Headings: []models.Heading{
			{Level: 1, Text: "Handmade Widgets"},
			{Level: 2, Text: "Our Catalogue"},
			{Level: 3, Text: "Classic Range"},
			{Level: 2, Text: "Delivery"},
		},
		StructuredTypes: []string{"Organization"},
		HasStructured:   true,
		LoadTimeSeconds: 1.2,
	}
}

func TestScoreWellFormedPage(t *testing.T) {
	scorer := NewScorer()
	report := scorer.Score(wellFormedSnapshot())

	assert.Equal(t, 100.0, report.CategoryScores[models.CategoryMeta])
	assert.Equal(t, 100.0, report.CategoryScores[models.CategoryHeadings])
	assert.Equal(t, 100.0, report.CategoryScores[models.CategoryPerformance])
	assert.Equal(t, 100.0, report.CategoryScores[models.CategoryMobile])
	assert.Equal(t, 100.0, report.CategoryScores[models.CategorySecurity])
	assert.Equal(t, 100.0, report.CategoryScores[models.CategoryStructured])
	assert.Equal(t, 100.0, report.TotalScore)
	assert.Empty(t, report.Suggestions)
}

func TestScoreMetaCategory(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
		ogTags      int
		canonical   string
		expected    float64
	}{
		{
			name:     "everything missing scores zero",
			expected: 0,
		},
		{
			name:        "short title and short description",
			title:       "Widgets", // under 30
			description: "Handmade widgets.",
			expected:    40, // 20 + 20
		},
		{
			name:        "long title and long description",
			title:       "Example Widgets - The Finest Handmade Widgets Available Anywhere Online",                                                                                                              // over 60
			description: "We design and ship handmade widgets to customers worldwide. Browse the catalogue, compare every model we have ever produced and order online today with free delivery on all orders.", // over 160
			expected:    60,                                                                                                                                                                                     // 30 + 30
		},
		{
			name:        "ideal lengths with canonical and many og tags",
			title:       "Example Widgets - Handmade Widgets Online",
			description: "We design and ship handmade widgets to customers worldwide. Browse the catalogue and order online with free delivery today.",
			ogTags:      4,
			canonical:   "https://example.com/",
			expected:    100, // 40 + 40 + 10 + 10
		},
		{
			name:        "single og tag gets the smaller bonus",
			title:       "Example Widgets - Handmade Widgets Online",
			description: "We design and ship handmade widgets to customers worldwide. Browse the catalogue and order online with free delivery today.",
			ogTags:      1,
			expected:    85, // 40 + 40 + 5
		},
	}

	scorer := NewScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := &models.PageSnapshot{
				URL:             "https://example.com",
				Title:           tt.title,
				MetaDescription: tt.description,
				OGTagCount:      tt.ogTags,
				Canonical:       tt.canonical,
			}
			report := scorer.Score(snapshot)
			assert.Equal(t, tt.expected, report.CategoryScores[models.CategoryMeta])
		})
	}
}

func TestScoreMetaMissingTitleIsCritical(t *testing.T) {
	scorer := NewScorer()
	report := scorer.Score(&models.PageSnapshot{URL: "https://example.com"})

	var found bool
	for _, s := range report.Suggestions {
		if s.Category == models.CategoryMeta && s.Priority == models.PriorityCritical {
			found = true
		}
	}
	assert.True(t, found, "missing title should produce a critical suggestion")
}

func TestScoreHeadings(t *testing.T) {
	tests := []struct {
		name     string
		headings []models.Heading
		expected float64
	}{
		{
			// No h1 loses fifty, and the h2 with no h1 anywhere is a gap
			name:     "h2 without h1 loses seventy",
			headings: []models.Heading{{Level: 2, Text: "Section"}},
			expected: 30,
		},
		{
			name: "multiple h1 loses twenty",
			headings: []models.Heading{
				{Level: 1, Text: "One"},
				{Level: 1, Text: "Two"},
				{Level: 2, Text: "Section"},
			},
			expected: 80,
		},
		{
			name:     "h1 without h2 loses thirty",
			headings: []models.Heading{{Level: 1, Text: "Only"}},
			expected: 70,
		},
		{
			name: "h4 with no h3 anywhere loses twenty",
			headings: []models.Heading{
				{Level: 1, Text: "Top"},
				{Level: 2, Text: "Section"},
				{Level: 4, Text: "Jumped"},
			},
			expected: 80,
		},
		{
			// Every level is present, so document order does not matter
			name: "out of order levels are not a gap",
			headings: []models.Heading{
				{Level: 1, Text: "Top"},
				{Level: 3, Text: "Detail"},
				{Level: 2, Text: "Section"},
			},
			expected: 100,
		},
		{
			name:     "no headings at all",
			headings: nil,
			expected: 50, // the h2 deduction only applies when an h1 exists
		},
	}

	scorer := NewScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := &models.PageSnapshot{URL: "https://example.com", Headings: tt.headings}
			report := scorer.Score(snapshot)
			assert.Equal(t, tt.expected, report.CategoryScores[models.CategoryHeadings], tt.name)
		})
	}
}

func TestScoreMultipleH1IsHighPriority(t *testing.T) {
	scorer := NewScorer()
	report := scorer.Score(&models.PageSnapshot{
		URL: "https://example.com",
		Headings: []models.Heading{
			{Level: 1, Text: "One"},
			{Level: 1, Text: "Two"},
			{Level: 2, Text: "Section"},
		},
	})

	var found bool
	for _, s := range report.Suggestions {
		if s.Title == "Use a single H1 heading" {
			found = true
			assert.Equal(t, models.PriorityHigh, s.Priority)
		}
	}
	assert.True(t, found)
}

func TestScoreMetaCountsCharactersNotBytes(t *testing.T) {
	// 40 characters but 80 bytes; byte counting would call it overlong
	snapshot := &models.PageSnapshot{
		URL:             "https://example.com",
		Title:           strings.Repeat("ä", 40),
		MetaDescription: strings.Repeat("ö", 130),
	}

	scorer := NewScorer()
	report := scorer.Score(snapshot)

	// 40 for the title + 40 for the description
	assert.Equal(t, 80.0, report.CategoryScores[models.CategoryMeta])
}

func TestScoreSuggestionsCarryImpact(t *testing.T) {
	scorer := NewScorer()
	report := scorer.Score(&models.PageSnapshot{URL: "http://example.com", LoadTimeSeconds: 9})

	require.NotEmpty(t, report.Suggestions)
	for _, s := range report.Suggestions {
		assert.NotEmpty(t, s.Impact, s.Title)
	}
}

func TestScorePerformanceBands(t *testing.T) {
	tests := []struct {
		loadTime float64
		expected float64
	}{
		{0.5, 100},
		{1.99, 100},
		{2.0, 80},
		{2.99, 80},
		{3.0, 50},
		{4.99, 50},
		{5.0, 20},
		{12.0, 20},
	}

	scorer := NewScorer()
	for _, tt := range tests {
		snapshot := &models.PageSnapshot{URL: "https://example.com", LoadTimeSeconds: tt.loadTime}
		report := scorer.Score(snapshot)
		assert.Equal(t, tt.expected, report.CategoryScores[models.CategoryPerformance], "load time %.2f", tt.loadTime)
	}
}

func TestScoreStructuredData(t *testing.T) {
	scorer := NewScorer()

	none := scorer.Score(&models.PageSnapshot{URL: "https://example.com"})
	assert.Equal(t, 0.0, none.CategoryScores[models.CategoryStructured])

	known := scorer.Score(&models.PageSnapshot{
		URL:             "https://example.com",
		HasStructured:   true,
		StructuredTypes: []string{"Product"},
	})
	assert.Equal(t, 100.0, known.CategoryScores[models.CategoryStructured])

	unknown := scorer.Score(&models.PageSnapshot{
		URL:             "https://example.com",
		HasStructured:   true,
		StructuredTypes: []string{"SomethingElse"},
	})
	assert.Equal(t, 50.0, unknown.CategoryScores[models.CategoryStructured])
}

func TestScoreWeightedTotal(t *testing.T) {
	snapshot := wellFormedSnapshot()
	snapshot.IsHTTPS = false
	snapshot.HasViewport = false

	scorer := NewScorer()
	report := scorer.Score(snapshot)

	// security (.10) and mobile (.15) drop to zero
	assert.Equal(t, 75.0, report.TotalScore)
	assert.False(t, report.HasHTTPS)
	assert.False(t, report.HasViewport)
}

func TestScoreSuggestionsSortedByPriority(t *testing.T) {
	scorer := NewScorer()
	report := scorer.Score(&models.PageSnapshot{URL: "http://example.com", LoadTimeSeconds: 9})

	require.NotEmpty(t, report.Suggestions)
	rank := map[string]int{
		models.PriorityCritical: 0,
		models.PriorityHigh:     1,
		models.PriorityMedium:   2,
		models.PriorityLow:      3,
	}
	for i := 1; i < len(report.Suggestions); i++ {
		assert.LessOrEqual(t, rank[report.Suggestions[i-1].Priority], rank[report.Suggestions[i].Priority])
	}
}
