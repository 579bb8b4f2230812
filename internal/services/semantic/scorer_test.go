package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/models"
)

// fakeLLM returns canned responses in order, repeating the last one
type fakeLLM struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.responses[i], nil
}

func (f *fakeLLM) Provider() string { return "fake" }

func (f *fakeLLM) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeLLM) Close() error { return nil }

func testAnalysisConfig() *common.AnalysisConfig {
	return &common.AnalysisConfig{
		ScorerTimeout: 5 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

const goodResponse = `{
	"what_it_does": "A storefront for handmade widgets with worldwide delivery and a full catalogue.",
	"products_services": "Handmade widgets in classic and custom ranges, shipped worldwide.",
	"target_audience": "Hobbyists and small businesses that need custom widgets.",
	"unique_value": "Every widget is made to order by hand with free delivery.",
	"clarity_score": 9,
	"overall_impression": "Clear and well organised content that states its purpose immediately."
}`

func TestAnalyzeParsesModelResponse(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodResponse}}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	report, err := scorer.Analyze(context.Background(), &models.PageSnapshot{
		URL:   "https://example.com",
		Title: "Example Widgets",
		Text:  "Handmade widgets delivered worldwide.",
	})
	require.NoError(t, err)

	assert.Equal(t, 9, report.ClarityScore)
	assert.NotEmpty(t, report.WhatItDoes)
	assert.NotEmpty(t, report.UniqueValue)
	// clarity 9 -> 63 base, all four narrative fields substantive -> +30
	assert.Equal(t, 93.0, report.Score)
	assert.Equal(t, 1, llm.calls)
}

func TestAnalyzePromptIncludesDescription(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodResponse}}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	_, err := scorer.Analyze(context.Background(), &models.PageSnapshot{
		URL:             "https://example.com",
		Title:           "Example Widgets",
		MetaDescription: "Handmade widgets delivered worldwide since 1998.",
		Text:            "Widgets for every occasion.",
	})
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Handmade widgets delivered worldwide since 1998.")
}

func TestAnalyzeTruncatesPageTextInPrompt(t *testing.T) {
	llm := &fakeLLM{responses: []string{goodResponse}}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	_, err := scorer.Analyze(context.Background(), &models.PageSnapshot{
		URL:  "https://example.com",
		Text: "lead-in   marker\n\n" + strings.Repeat("filler ", 2000),
	})
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	// Whitespace runs collapse to single spaces
	assert.Contains(t, llm.prompts[0], "lead-in marker filler")
	// The tail of the page text never reaches the prompt
	assert.LessOrEqual(t, len(llm.prompts[0]), maxPromptTextChars+len(scorerPromptTemplate)+256)
}

func TestPromptText(t *testing.T) {
	collapsed := promptText("  one \n two\t\tthree  ")
	assert.Equal(t, "one two three", collapsed)

	capped := promptText(strings.Repeat("ä ", maxPromptTextChars))
	assert.Equal(t, maxPromptTextChars, len([]rune(capped)))
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	llm := &fakeLLM{responses: []string{"```json\n" + goodResponse + "\n```"}}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	report, err := scorer.Analyze(context.Background(), &models.PageSnapshot{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 9, report.ClarityScore)
}

func TestAnalyzeRetriesTransientErrors(t *testing.T) {
	llm := &fakeLLM{
		responses: []string{"", "", goodResponse},
		errs:      []error{errors.New("rate limited"), errors.New("rate limited"), nil},
	}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	report, err := scorer.Analyze(context.Background(), &models.PageSnapshot{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, llm.calls)
	assert.Equal(t, 9, report.ClarityScore)
}

func TestAnalyzeFailsAfterAllAttempts(t *testing.T) {
	llm := &fakeLLM{
		responses: []string{"not json at all"},
	}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	_, err := scorer.Analyze(context.Background(), &models.PageSnapshot{URL: "https://example.com"})
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindScorerFailed, models.KindOf(err))
	assert.Equal(t, 3, llm.calls)
}

func TestAnalyzeClampsClarity(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"what_it_does":"w","products_services":"p","target_audience":"t","unique_value":"u","clarity_score":42,"overall_impression":"i"}`}}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	report, err := scorer.Analyze(context.Background(), &models.PageSnapshot{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 10, report.ClarityScore)
}

func TestComputeScore(t *testing.T) {
	longField := "a field that is definitely longer than twenty characters"

	tests := []struct {
		name     string
		report   models.SemanticReport
		expected float64
	}{
		{
			name: "full marks",
			report: models.SemanticReport{
				WhatItDoes:        longField,
				ProductsServices:  longField,
				TargetAudience:    longField,
				UniqueValue:       longField,
				ClarityScore:      10,
				OverallImpression: longField,
			},
			expected: 100,
		},
		{
			name: "clarity only",
			report: models.SemanticReport{
				ClarityScore: 5,
			},
			expected: 35,
		},
		{
			name: "impression alone earns no completeness",
			report: models.SemanticReport{
				ClarityScore:      10,
				OverallImpression: longField,
			},
			expected: 70,
		},
		{
			name: "negative impression loses ten",
			report: models.SemanticReport{
				WhatItDoes:        longField,
				ProductsServices:  longField,
				TargetAudience:    longField,
				UniqueValue:       longField,
				ClarityScore:      10,
				OverallImpression: "The page is confusing and hard to navigate for most readers.",
			},
			expected: 90,
		},
		{
			name: "weak impression loses five",
			report: models.SemanticReport{
				WhatItDoes:        longField,
				ProductsServices:  longField,
				TargetAudience:    longField,
				UniqueValue:       longField,
				ClarityScore:      10,
				OverallImpression: "Decent overall but lacking depth in several key sections of text.",
			},
			expected: 95,
		},
		{
			name: "floor at zero",
			report: models.SemanticReport{
				ClarityScore:      1,
				OverallImpression: "confusing",
			},
			expected: 0, // 7 - 10 clamps to 0
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeScore(&tt.report))
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain json untouched", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripCodeFences(tt.input))
		})
	}
}

func TestAnalyzeAddsRecommendationsForWeakContent(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"what_it_does":"short","products_services":"few","target_audience":"few","unique_value":"none","clarity_score":4,"overall_impression":"thin"}`}}
	scorer := NewScorer(llm, testAnalysisConfig(), arbor.NewLogger())

	report, err := scorer.Analyze(context.Background(), &models.PageSnapshot{URL: "https://example.com"})
	require.NoError(t, err)

	titles := make(map[string]bool)
	for _, s := range report.Suggestions {
		titles[s.Title] = true
		assert.NotEmpty(t, s.Impact)
	}
	assert.True(t, titles["Improve content clarity"])
	assert.True(t, titles["State what sets the site apart"])
	assert.True(t, titles["Add more substantive content"])
}
