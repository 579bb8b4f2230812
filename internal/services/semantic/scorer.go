package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

const scorerSystemPrompt = `You are a website content analyst. You evaluate how clearly a page communicates its purpose to readers and to automated assistants. Respond with valid JSON only, no surrounding prose.`

const scorerPromptTemplate = `Analyze the following web page content and respond with a JSON object containing exactly these keys:

- "what_it_does": a 2-3 sentence description of what the site or page does
- "products_services": the products or services offered
- "target_audience": who the page is written for
- "unique_value": what sets this site apart from alternatives
- "clarity_score": an integer from 1 to 10 rating how clearly the page communicates its purpose
- "overall_impression": your overall impression of the content quality

URL: %s
Title: %s
Description: %s

Page content:
%s`

// minNarrativeLength is the shortest narrative field that counts as substantive
const minNarrativeLength = 20

// maxPromptTextChars caps the page text included in the prompt
const maxPromptTextChars = 2000

// Impression phrases that trigger the heavier score penalty
var negativeImpressionTerms = []string{"unclear", "confusing", "vague", "difficult"}

// Impression phrases that trigger the lighter score penalty
var weakImpressionTerms = []string{"missing", "lacking", "insufficient"}

// Scorer runs LLM semantic analysis over a page snapshot. Model calls
// are retried with exponential backoff; a response that never parses
// fails the job with kind SCORER_FAILED.
type Scorer struct {
	llm    interfaces.LLMService
	config *common.AnalysisConfig
	logger arbor.ILogger
}

// NewScorer creates a semantic scorer over the given provider
func NewScorer(llm interfaces.LLMService, config *common.AnalysisConfig, logger arbor.ILogger) *Scorer {
	return &Scorer{
		llm:    llm,
		config: config,
		logger: logger,
	}
}

// rawReport matches the JSON shape the model is asked for
type rawReport struct {
	WhatItDoes        string `json:"what_it_does"`
	ProductsServices  string `json:"products_services"`
	TargetAudience    string `json:"target_audience"`
	UniqueValue       string `json:"unique_value"`
	ClarityScore      int    `json:"clarity_score"`
	OverallImpression string `json:"overall_impression"`
}

// Analyze scores the snapshot's content and returns the report
func (s *Scorer) Analyze(ctx context.Context, snapshot *models.PageSnapshot) (*models.SemanticReport, error) {
	prompt := fmt.Sprintf(scorerPromptTemplate,
		snapshot.URL, snapshot.Title, snapshot.MetaDescription, promptText(snapshot.Text))

	var raw rawReport
	err := withRetry(ctx, s.config.RetryAttempts, s.config.RetryBackoff, s.config.RetryMaxDelay, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.config.ScorerTimeout)
		defer cancel()

		response, err := s.llm.Complete(attemptCtx, scorerSystemPrompt, prompt)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(StripCodeFences(response)), &raw)
	})
	if err != nil {
		return nil, models.NewAnalysisError(models.ErrorKindScorerFailed, "semantic", err)
	}

	if raw.ClarityScore < 1 {
		raw.ClarityScore = 1
	}
	if raw.ClarityScore > 10 {
		raw.ClarityScore = 10
	}

	report := &models.SemanticReport{
		WhatItDoes:        strings.TrimSpace(raw.WhatItDoes),
		ProductsServices:  strings.TrimSpace(raw.ProductsServices),
		TargetAudience:    strings.TrimSpace(raw.TargetAudience),
		UniqueValue:       strings.TrimSpace(raw.UniqueValue),
		ClarityScore:      raw.ClarityScore,
		OverallImpression: strings.TrimSpace(raw.OverallImpression),
	}
	report.Score = ComputeScore(report)
	s.addRecommendations(report)

	s.logger.Debug().
		Str("url", snapshot.URL).
		Int("clarity", report.ClarityScore).
		Float64("score", report.Score).
		Msg("Semantic analysis completed")

	return report, nil
}

// promptText collapses whitespace and caps the page text at
// maxPromptTextChars characters before it enters the prompt
func promptText(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) > maxPromptTextChars {
		return string(runes[:maxPromptTextChars])
	}
	return collapsed
}

// ComputeScore derives the 0-100 semantic score from the report:
// clarity contributes up to 70 points, the four narrative fields up to
// 30, and a negative impression deducts 5 or 10.
func ComputeScore(report *models.SemanticReport) float64 {
	base := float64(report.ClarityScore) / 10.0 * 70.0

	completeness := 0.0
	for _, field := range report.NarrativeFields() {
		if len(field) > minNarrativeLength {
			completeness += 7.5
		}
	}
	if completeness > 30 {
		completeness = 30
	}

	penalty := 0.0
	impression := strings.ToLower(report.OverallImpression)
	if containsAny(impression, negativeImpressionTerms) {
		penalty = 10
	} else if containsAny(impression, weakImpressionTerms) {
		penalty = 5
	}

	score := base + completeness - penalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*100) / 100
}

// addRecommendations turns weak report signals into suggestions
func (s *Scorer) addRecommendations(report *models.SemanticReport) {
	if report.ClarityScore < 7 {
		report.Suggestions = append(report.Suggestions, models.Suggestion{
			Priority:    models.PriorityHigh,
			Category:    "content",
			Title:       "Improve content clarity",
			Description: fmt.Sprintf("Content clarity rated %d/10. Restructure the page so its purpose is obvious within the first screen of text.", report.ClarityScore),
			Impact:      "A page that states its purpose immediately retains more visitors.",
			Source:      "semantic",
		})
	}
	if len(report.UniqueValue) <= minNarrativeLength {
		report.Suggestions = append(report.Suggestions, models.Suggestion{
			Priority:    models.PriorityMedium,
			Category:    "content",
			Title:       "State what sets the site apart",
			Description: "No unique value proposition could be identified. Say explicitly why a visitor should choose this site over alternatives.",
			Impact:      "A clear value proposition is what converts comparison shoppers.",
			Source:      "semantic",
		})
	}
	for _, field := range report.NarrativeFields() {
		if len(field) <= minNarrativeLength {
			report.Suggestions = append(report.Suggestions, models.Suggestion{
				Priority:    models.PriorityLow,
				Category:    "content",
				Title:       "Add more substantive content",
				Description: "Parts of the page could not be described in any depth. Thin content reads as low quality to both users and assistants.",
				Impact:      "Substantive content earns trust from readers and ranking systems alike.",
				Source:      "semantic",
			})
			break
		}
	}
	models.SortSuggestions(report.Suggestions)
}

// StripCodeFences removes a surrounding markdown code fence from a
// model response, tolerating a json language tag
func StripCodeFences(response string) string {
	trimmed := strings.TrimSpace(response)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// Provider exposes the underlying provider name for status reporting
func (s *Scorer) Provider() string {
	return s.llm.Provider()
}

// HealthCheck proxies to the underlying provider
func (s *Scorer) HealthCheck(ctx context.Context) error {
	return s.llm.HealthCheck(ctx)
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
