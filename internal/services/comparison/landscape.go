package comparison

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/semantic"
)

const landscapeSystemPrompt = `You are a competitive analyst comparing websites on technical quality and content. Respond with valid JSON only, no surrounding prose.`

const landscapePromptHeader = `Compare the following websites. For each one you are given scores (0-100), ranks, a short description, notable strengths and outstanding issues.

Respond with a JSON object containing exactly these keys:
- "insights": a paragraph of competitive insights across all sites
- "opportunities": an array of concrete opportunities for the primary site
- "threats": an array of competitive threats to the primary site
- "overall_winner": an object with "url", "label" and "reason" naming the strongest site overall

Websites:
`

// maxDescriptionLength caps per-site descriptions in the prompt
const maxDescriptionLength = 200

// landscape matches the JSON shape the model is asked for
type landscape struct {
	Insights      string   `json:"insights"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
	OverallWinner struct {
		URL    string `json:"url"`
		Label  string `json:"label"`
		Reason string `json:"reason"`
	} `json:"overall_winner"`
}

// Comparator produces batch comparisons: deterministic rankings always,
// an LLM landscape narrative when the model cooperates
type Comparator struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
}

// NewComparator creates a comparator over the given provider
func NewComparator(llm interfaces.LLMService, logger arbor.ILogger) *Comparator {
	return &Comparator{
		llm:    llm,
		logger: logger,
	}
}

// Compare builds the full comparison for a batch. A landscape failure
// degrades gracefully: the comparison is returned with empty narrative
// fields and the error is only logged.
func (c *Comparator) Compare(ctx context.Context, batchID string, entries []Entry) (*models.Comparison, error) {
	if len(entries) < 2 {
		return nil, fmt.Errorf("comparison requires at least 2 completed analyses, got %d", len(entries))
	}

	comparison := BuildRankings(batchID, entries)

	narrative, err := c.buildLandscape(ctx, comparison, entries)
	if err != nil {
		c.logger.Warn().Err(err).Str("batch_id", batchID).Msg("Landscape narrative failed, keeping rankings only")
		return comparison, nil
	}

	comparison.Insights = narrative.Insights
	comparison.Opportunities = narrative.Opportunities
	comparison.Threats = narrative.Threats
	comparison.OverallWinner = &models.OverallWinner{
		URL:    narrative.OverallWinner.URL,
		Label:  narrative.OverallWinner.Label,
		Reason: narrative.OverallWinner.Reason,
	}
	return comparison, nil
}

// buildLandscape makes the single narrative model call for the batch
func (c *Comparator) buildLandscape(ctx context.Context, comparison *models.Comparison, entries []Entry) (*landscape, error) {
	prompt := landscapePromptHeader + c.describeEntries(comparison, entries)

	response, err := c.llm.Complete(ctx, landscapeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var result landscape
	if err := json.Unmarshal([]byte(semantic.StripCodeFences(response)), &result); err != nil {
		return nil, fmt.Errorf("failed to parse landscape response: %w", err)
	}
	return &result, nil
}

// describeEntries renders the per-site sections of the landscape prompt
func (c *Comparator) describeEntries(comparison *models.Comparison, entries []Entry) string {
	overallRank := make(map[string]int, len(comparison.OverallComparison.Rankings))
	for _, ranking := range comparison.OverallComparison.Rankings {
		overallRank[ranking.URL] = ranking.Rank
	}

	var b strings.Builder
	for _, entry := range entries {
		description := entry.Artifact.SemanticReport.WhatItDoes
		if len(description) > maxDescriptionLength {
			description = description[:maxDescriptionLength]
		}

		role := "Competitor"
		if entry.Member.IsPrimary {
			role = "Primary"
		}

		fmt.Fprintf(&b, "\n%s: %s (%s)\n", role, entry.Member.Label, entry.Artifact.URL)
		fmt.Fprintf(&b, "  Rule score: %.2f, semantic score: %.2f, overall rank: %d of %d\n",
			entry.Artifact.RuleScore, entry.Artifact.SemanticScore, overallRank[entry.Artifact.URL], len(entries))
		fmt.Fprintf(&b, "  Description: %s\n", description)
		if strengths := topStrengths(entry.Artifact, 3); len(strengths) > 0 {
			fmt.Fprintf(&b, "  Strengths: %s\n", strings.Join(strengths, "; "))
		}
		if issues := topIssues(entry.Artifact, 5); len(issues) > 0 {
			fmt.Fprintf(&b, "  Issues: %s\n", strings.Join(issues, "; "))
		}
	}
	return b.String()
}
