package models

import "time"

// Ranking is one competitor's standing on a scoring axis
type Ranking struct {
	URL              string  `json:"url"`
	Label            string  `json:"label"`
	Score            float64 `json:"score"`
	Rank             int     `json:"rank"`
	DeltaFromLeader  float64 `json:"delta_from_leader"`
	DeltaFromAverage float64 `json:"delta_from_average"`
}

// AxisComparison ranks all completed batch members on one axis
type AxisComparison struct {
	Rankings []Ranking `json:"rankings"`
	Average  float64   `json:"average"`
	Leader   string    `json:"leader"`
}

// OverallWinner names the strongest competitor with the LLM's reasoning
type OverallWinner struct {
	URL    string `json:"url"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// Comparison is the persisted batch result: deterministic rankings on
// each axis plus the LLM landscape narrative. Narrative fields may be
// empty when the landscape call failed; the rankings are always present.
type Comparison struct {
	BatchID            string         `json:"batch_id" badgerhold:"unique"`
	RuleComparison     AxisComparison `json:"rule_comparison"`
	SemanticComparison AxisComparison `json:"semantic_comparison"`
	OverallComparison  AxisComparison `json:"overall_comparison"`
	MarketLeader       string         `json:"market_leader"`
	MarketAverage      float64        `json:"market_average"`
	Insights           string         `json:"insights,omitempty"`
	Opportunities      []string       `json:"opportunities,omitempty"`
	Threats            []string       `json:"threats,omitempty"`
	OverallWinner      *OverallWinner `json:"overall_winner,omitempty"`
	DurationSeconds    float64        `json:"duration_seconds"`
	CreatedAt          time.Time      `json:"created_at"`
}
