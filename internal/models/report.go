package models

import (
	"sort"
)

// Rule scoring categories
const (
	CategoryMeta        = "meta"
	CategoryHeadings    = "headings"
	CategoryPerformance = "performance"
	CategoryMobile      = "mobile"
	CategorySecurity    = "security"
	CategoryStructured  = "structured_data"
)

// Suggestion priorities, ordered critical first
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

var priorityRank = map[string]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Suggestion is an actionable recommendation produced by a scorer
type Suggestion struct {
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
	Source      string `json:"source"`
}

// SortSuggestions orders suggestions critical-first, preserving the
// original order within each priority band
func SortSuggestions(suggestions []Suggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		return priorityRank[suggestions[i].Priority] < priorityRank[suggestions[j].Priority]
	})
}

// RuleReport is the deterministic scorer output: per-category scores
// 0-100 and a weighted total rounded to two decimals
type RuleReport struct {
	TotalScore     float64            `json:"total_score"`
	CategoryScores map[string]float64 `json:"category_scores"`
	HasHTTPS       bool               `json:"has_https"`
	HasViewport    bool               `json:"has_viewport"`
	HasStructured  bool               `json:"has_structured_data"`
	Suggestions    []Suggestion       `json:"suggestions"`
}

// AddSuggestion appends a recommendation produced by the rule scorer
func (r *RuleReport) AddSuggestion(priority, category, title, description, impact string) {
	r.Suggestions = append(r.Suggestions, Suggestion{
		Priority:    priority,
		Category:    category,
		Title:       title,
		Description: description,
		Impact:      impact,
		Source:      "rules",
	})
}

// SemanticReport is the LLM scorer output
type SemanticReport struct {
	WhatItDoes        string       `json:"what_it_does"`
	ProductsServices  string       `json:"products_services"`
	TargetAudience    string       `json:"target_audience"`
	UniqueValue       string       `json:"unique_value"`
	ClarityScore      int          `json:"clarity_score"`
	OverallImpression string       `json:"overall_impression"`
	Score             float64      `json:"score"`
	Suggestions       []Suggestion `json:"suggestions"`
}

// NarrativeFields returns the four free-text fields that contribute to
// the completeness component of the semantic score. The overall
// impression feeds the penalty, not the completeness bonus.
func (r *SemanticReport) NarrativeFields() []string {
	return []string{
		r.WhatItDoes,
		r.ProductsServices,
		r.TargetAudience,
		r.UniqueValue,
	}
}
