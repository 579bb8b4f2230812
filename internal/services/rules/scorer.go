package rules

import (
	"math"
	"unicode/utf8"

	"github.com/ternarybob/specto/internal/models"
)

// Category weights sum to 1.0
var categoryWeights = map[string]float64{
	models.CategoryMeta:        0.25,
	models.CategoryHeadings:    0.15,
	models.CategoryPerformance: 0.20,
	models.CategoryMobile:      0.15,
	models.CategorySecurity:    0.10,
	models.CategoryStructured:  0.15,
}

// validStructuredTypes are the schema.org types that earn full credit
var validStructuredTypes = map[string]bool{
	"Organization":   true,
	"WebSite":        true,
	"Article":        true,
	"Product":        true,
	"LocalBusiness":  true,
	"FAQPage":        true,
	"BreadcrumbList": true,
}

// Scorer computes the deterministic rule score for a page snapshot.
// Scoring is pure: the same snapshot always yields the same report.
type Scorer struct{}

// NewScorer creates a rule scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score evaluates all six categories and returns the weighted report
func (s *Scorer) Score(snapshot *models.PageSnapshot) *models.RuleReport {
	report := &models.RuleReport{
		CategoryScores: make(map[string]float64, len(categoryWeights)),
		HasHTTPS:       snapshot.IsHTTPS,
		HasViewport:    snapshot.HasViewport,
		HasStructured:  snapshot.HasStructured,
	}

	report.CategoryScores[models.CategoryMeta] = s.scoreMeta(snapshot, report)
	report.CategoryScores[models.CategoryHeadings] = s.scoreHeadings(snapshot, report)
	report.CategoryScores[models.CategoryPerformance] = s.scorePerformance(snapshot, report)
	report.CategoryScores[models.CategoryMobile] = s.scoreMobile(snapshot, report)
	report.CategoryScores[models.CategorySecurity] = s.scoreSecurity(snapshot, report)
	report.CategoryScores[models.CategoryStructured] = s.scoreStructured(snapshot, report)

	total := 0.0
	for category, score := range report.CategoryScores {
		total += score * categoryWeights[category]
	}
	report.TotalScore = round2(total)

	models.SortSuggestions(report.Suggestions)

	return report
}

// scoreMeta evaluates title, description, Open Graph tags and the
// canonical link. Component points sum to at most 100. Lengths are
// measured in characters, not bytes.
func (s *Scorer) scoreMeta(snapshot *models.PageSnapshot, report *models.RuleReport) float64 {
	score := 0.0

	titleLen := utf8.RuneCountInString(snapshot.Title)
	switch {
	case titleLen == 0:
		report.AddSuggestion(models.PriorityCritical, models.CategoryMeta,
			"Add a title tag",
			"The page has no title tag. Search engines and assistants rely on the title to understand and present the page.",
			"The page cannot rank or preview properly without a title.")
	case titleLen < 30:
		score += 20
		report.AddSuggestion(models.PriorityMedium, models.CategoryMeta,
			"Lengthen the page title",
			"The title is shorter than 30 characters. Aim for 30-60 characters that describe the page.",
			"A descriptive title improves click-through rates from search results.")
	case titleLen > 60:
		score += 30
		report.AddSuggestion(models.PriorityLow, models.CategoryMeta,
			"Shorten the page title",
			"The title exceeds 60 characters and will be truncated in search results.",
			"A title that fits the result snippet reads better and keeps its keywords visible.")
	default:
		score += 40
	}

	descLen := utf8.RuneCountInString(snapshot.MetaDescription)
	switch {
	case descLen == 0:
		report.AddSuggestion(models.PriorityHigh, models.CategoryMeta,
			"Add a meta description",
			"The page has no meta description. Write a 120-160 character summary of the page content.",
			"Search engines substitute arbitrary page text when the description is missing.")
	case descLen < 120:
		score += 20
		report.AddSuggestion(models.PriorityMedium, models.CategoryMeta,
			"Expand the meta description",
			"The meta description is shorter than 120 characters. A fuller summary improves snippet quality.",
			"A fuller description earns a richer search snippet.")
	case descLen > 160:
		score += 30
		report.AddSuggestion(models.PriorityLow, models.CategoryMeta,
			"Shorten the meta description",
			"The meta description exceeds 160 characters and will be truncated in search results.",
			"An untruncated description keeps the call to action visible in results.")
	default:
		score += 40
	}

	switch {
	case snapshot.OGTagCount >= 4:
		score += 10
	case snapshot.OGTagCount >= 1:
		score += 5
		report.AddSuggestion(models.PriorityLow, models.CategoryMeta,
			"Complete Open Graph tags",
			"Only some Open Graph tags are present. Add og:title, og:description, og:image and og:url for rich link previews.",
			"Complete tags produce consistent link previews when the page is shared.")
	default:
		report.AddSuggestion(models.PriorityMedium, models.CategoryMeta,
			"Add Open Graph tags",
			"No Open Graph tags found. Social shares and link previews will fall back to arbitrary page content.",
			"Shared links with proper previews get substantially more engagement.")
	}

	if snapshot.Canonical != "" {
		score += 10
	} else {
		report.AddSuggestion(models.PriorityMedium, models.CategoryMeta,
			"Add a canonical link",
			"No canonical link found. Duplicate URLs may split ranking signals across variants.",
			"A canonical link consolidates ranking signals onto one URL.")
	}

	return math.Min(score, 100)
}

// scoreHeadings starts at 100 and deducts for structural problems
func (s *Scorer) scoreHeadings(snapshot *models.PageSnapshot, report *models.RuleReport) float64 {
	score := 100.0

	h1Count := snapshot.HeadingCount(1)
	h2Count := snapshot.HeadingCount(2)

	if h1Count == 0 {
		score -= 50
		report.AddSuggestion(models.PriorityCritical, models.CategoryHeadings,
			"Add an H1 heading",
			"The page has no H1. Every page needs exactly one H1 stating its main topic.",
			"The H1 is the strongest on-page signal of what the page is about.")
	} else if h1Count > 1 {
		score -= 20
		report.AddSuggestion(models.PriorityHigh, models.CategoryHeadings,
			"Use a single H1 heading",
			"Multiple H1 headings found. Keep one H1 and demote the rest to H2.",
			"Competing H1s dilute the page's main topic signal.")
	}

	if h1Count > 0 && h2Count == 0 {
		score -= 30
		report.AddSuggestion(models.PriorityMedium, models.CategoryHeadings,
			"Add H2 section headings",
			"The page has an H1 but no H2 headings. Break the content into sections with H2s.",
			"Sectioned content is easier to scan for readers and to outline for crawlers.")
	}

	if hasHierarchyGap(snapshot.Headings) {
		score -= 20
		report.AddSuggestion(models.PriorityLow, models.CategoryHeadings,
			"Fix the heading hierarchy",
			"A heading level is used without the level above it (for example H3 with no H2 anywhere). Use consecutive levels so the outline stays readable.",
			"A complete heading outline keeps the document structure parseable.")
	}

	return math.Max(score, 0)
}

// hasHierarchyGap reports whether any heading level is used while the
// level above it is absent from the page entirely
func hasHierarchyGap(headings []models.Heading) bool {
	var present [7]bool
	for _, heading := range headings {
		if heading.Level >= 1 && heading.Level <= 6 {
			present[heading.Level] = true
		}
	}
	for level := 2; level <= 6; level++ {
		if present[level] && !present[level-1] {
			return true
		}
	}
	return false
}

// scorePerformance buckets the measured load time
func (s *Scorer) scorePerformance(snapshot *models.PageSnapshot, report *models.RuleReport) float64 {
	loadTime := snapshot.LoadTimeSeconds
	switch {
	case loadTime < 2:
		return 100
	case loadTime < 3:
		report.AddSuggestion(models.PriorityLow, models.CategoryPerformance,
			"Improve page load time",
			"The page loads in 2-3 seconds. Under 2 seconds keeps both users and crawlers engaged.",
			"Faster pages convert better and get crawled more often.")
		return 80
	case loadTime < 5:
		report.AddSuggestion(models.PriorityHigh, models.CategoryPerformance,
			"Reduce page load time",
			"The page takes 3-5 seconds to load. Compress assets and defer non-critical scripts.",
			"Load times over 3 seconds measurably increase bounce rates.")
		return 50
	default:
		report.AddSuggestion(models.PriorityCritical, models.CategoryPerformance,
			"Fix slow page load",
			"The page takes over 5 seconds to load. Slow pages rank lower and lose visitors before rendering.",
			"Most visitors abandon pages that take over 5 seconds to appear.")
		return 20
	}
}

func (s *Scorer) scoreMobile(snapshot *models.PageSnapshot, report *models.RuleReport) float64 {
	if snapshot.HasViewport {
		return 100
	}
	report.AddSuggestion(models.PriorityCritical, models.CategoryMobile,
		"Add a viewport meta tag",
		"No viewport meta tag found. The page will not render correctly on mobile devices.",
		"Mobile visitors see a broken layout, and mobile rankings suffer.")
	return 0
}

func (s *Scorer) scoreSecurity(snapshot *models.PageSnapshot, report *models.RuleReport) float64 {
	if snapshot.IsHTTPS {
		return 100
	}
	report.AddSuggestion(models.PriorityCritical, models.CategorySecurity,
		"Serve the page over HTTPS",
		"The page is served over plain HTTP. Browsers flag it as not secure and rankings suffer.",
		"The not-secure warning drives visitors away before the page loads.")
	return 0
}

// scoreStructured gives full credit for recognised schema.org types,
// half credit for unrecognised structured data, none for its absence
func (s *Scorer) scoreStructured(snapshot *models.PageSnapshot, report *models.RuleReport) float64 {
	if !snapshot.HasStructured {
		report.AddSuggestion(models.PriorityMedium, models.CategoryStructured,
			"Add structured data",
			"No JSON-LD structured data found. Schema.org markup helps search engines and assistants understand the page.",
			"Structured data makes the page eligible for rich results.")
		return 0
	}
	for _, typeName := range snapshot.StructuredTypes {
		if validStructuredTypes[typeName] {
			return 100
		}
	}
	report.AddSuggestion(models.PriorityLow, models.CategoryStructured,
		"Use recognised schema.org types",
		"Structured data is present but uses no widely recognised type such as Organization, Article or Product.",
		"Recognised types are what search engines actually surface as rich results.")
	return 50
}

// round2 rounds to two decimal places
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
