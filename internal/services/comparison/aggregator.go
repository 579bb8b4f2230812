package comparison

import (
	"math"
	"sort"

	"github.com/ternarybob/specto/internal/models"
)

// Entry pairs a batch member with its completed artifact
type Entry struct {
	Member   *models.BatchMember
	Artifact *models.Artifact
}

// BuildRankings computes the deterministic part of a comparison from
// the completed entries: per-axis rankings, averages, leaders and
// deltas. Entries must already be filtered to completed members.
func BuildRankings(batchID string, entries []Entry) *models.Comparison {
	comparison := &models.Comparison{
		BatchID:            batchID,
		RuleComparison:     buildAxis(entries, func(e Entry) float64 { return e.Artifact.RuleScore }),
		SemanticComparison: buildAxis(entries, func(e Entry) float64 { return e.Artifact.SemanticScore }),
		OverallComparison:  buildAxis(entries, func(e Entry) float64 { return e.Artifact.OverallScore() }),
	}
	comparison.MarketLeader = comparison.OverallComparison.Leader
	comparison.MarketAverage = comparison.OverallComparison.Average
	return comparison
}

// buildAxis ranks entries on one score axis, highest first. Ties keep
// member order, so ranking is deterministic for identical scores.
func buildAxis(entries []Entry, score func(Entry) float64) models.AxisComparison {
	ranked := make([]Entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return score(ranked[i]) > score(ranked[j])
	})

	total := 0.0
	for _, entry := range ranked {
		total += score(entry)
	}
	average := 0.0
	if len(ranked) > 0 {
		average = round2(total / float64(len(ranked)))
	}

	axis := models.AxisComparison{
		Rankings: make([]models.Ranking, 0, len(ranked)),
		Average:  average,
	}
	if len(ranked) == 0 {
		return axis
	}

	leaderScore := score(ranked[0])
	axis.Leader = ranked[0].Artifact.URL
	for i, entry := range ranked {
		value := round2(score(entry))
		axis.Rankings = append(axis.Rankings, models.Ranking{
			URL:              entry.Artifact.URL,
			Label:            entry.Member.Label,
			Score:            value,
			Rank:             i + 1,
			DeltaFromLeader:  round2(value - round2(leaderScore)),
			DeltaFromAverage: round2(value - average),
		})
	}
	return axis
}

// topStrengths names a competitor's strongest signals: categories
// scoring 90 or better plus the boolean page qualities, capped at max
func topStrengths(artifact *models.Artifact, max int) []string {
	var strengths []string

	categories := make([]string, 0, len(artifact.RuleReport.CategoryScores))
	for category := range artifact.RuleReport.CategoryScores {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		if artifact.RuleReport.CategoryScores[category] >= 90 {
			strengths = append(strengths, "strong "+category)
		}
	}

	if artifact.RuleReport.HasHTTPS {
		strengths = append(strengths, "served over HTTPS")
	}
	if artifact.RuleReport.HasViewport {
		strengths = append(strengths, "mobile friendly")
	}
	if artifact.RuleReport.HasStructured {
		strengths = append(strengths, "structured data present")
	}

	if len(strengths) > max {
		strengths = strengths[:max]
	}
	return strengths
}

// topIssues returns the highest-priority suggestion titles, capped at max
func topIssues(artifact *models.Artifact, max int) []string {
	suggestions := make([]models.Suggestion, len(artifact.Suggestions))
	copy(suggestions, artifact.Suggestions)
	models.SortSuggestions(suggestions)

	issues := make([]string, 0, max)
	for _, suggestion := range suggestions {
		issues = append(issues, suggestion.Title)
		if len(issues) == max {
			break
		}
	}
	return issues
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
