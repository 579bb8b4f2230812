package models

import "time"

// Artifact is the persisted result of a completed analysis job.
// Exactly one artifact exists per completed job and it is written in
// the same storage transaction that marks the job completed.
type Artifact struct {
	JobID           string         `json:"job_id" badgerhold:"unique"`
	URL             string         `json:"url"`
	PageHTML        string         `json:"page_html"`
	PageText        string         `json:"page_text"`
	ScreenshotRef   string         `json:"screenshot_ref,omitempty"`
	RuleScore       float64        `json:"rule_score"`
	RuleReport      RuleReport     `json:"rule_report"`
	SemanticScore   float64        `json:"semantic_score"`
	SemanticReport  SemanticReport `json:"semantic_report"`
	Suggestions     []Suggestion   `json:"suggestions"`
	DurationSeconds float64        `json:"duration_seconds"`
	CreatedAt       time.Time      `json:"created_at"`
}

// OverallScore is the unweighted mean of the two scoring axes
func (a *Artifact) OverallScore() float64 {
	return (a.RuleScore + a.SemanticScore) / 2
}
