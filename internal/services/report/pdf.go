package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/models"
)

// Service renders batch comparisons as PDF documents
type Service struct {
	logger arbor.ILogger
}

// NewService creates a new report service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
	}
}

// RenderComparison lays the comparison out as a printable report
func (s *Service) RenderComparison(batch *models.Batch, comparison *models.Comparison) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()

	title := batch.Name
	if title == "" {
		title = "Website Comparison"
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated %s - %d sites compared",
		time.Now().UTC().Format("2006-01-02 15:04 UTC"), len(comparison.OverallComparison.Rankings)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	s.writeAxis(pdf, "Overall Ranking", comparison.OverallComparison)
	s.writeAxis(pdf, "Rule Scores", comparison.RuleComparison)
	s.writeAxis(pdf, "Semantic Scores", comparison.SemanticComparison)

	if comparison.Insights != "" {
		s.writeHeading(pdf, "Competitive Insights")
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, comparison.Insights, "", "L", false)
		pdf.Ln(2)
	}
	s.writeList(pdf, "Opportunities", comparison.Opportunities)
	s.writeList(pdf, "Threats", comparison.Threats)

	if comparison.OverallWinner != nil {
		s.writeHeading(pdf, "Overall Winner")
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(0, 6, fmt.Sprintf("%s (%s)", comparison.OverallWinner.Label, comparison.OverallWinner.URL), "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, comparison.OverallWinner.Reason, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	s.logger.Debug().Str("batch_id", comparison.BatchID).Int("pdf_size", buf.Len()).Msg("Comparison PDF generated")
	return buf.Bytes(), nil
}

func (s *Service) writeHeading(pdf *fpdf.Fpdf, text string) {
	pdf.Ln(2)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
}

// writeAxis renders one ranking table: rank, label, url, score, deltas
func (s *Service) writeAxis(pdf *fpdf.Fpdf, title string, axis models.AxisComparison) {
	s.writeHeading(pdf, title)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(10, 6, "#", "B", 0, "L", false, 0, "")
	pdf.CellFormat(35, 6, "Label", "B", 0, "L", false, 0, "")
	pdf.CellFormat(85, 6, "URL", "B", 0, "L", false, 0, "")
	pdf.CellFormat(20, 6, "Score", "B", 0, "R", false, 0, "")
	pdf.CellFormat(20, 6, "vs Avg", "B", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, ranking := range axis.Rankings {
		url := ranking.URL
		if len(url) > 55 {
			url = url[:52] + "..."
		}
		pdf.CellFormat(10, 6, fmt.Sprintf("%d", ranking.Rank), "", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, ranking.Label, "", 0, "L", false, 0, "")
		pdf.CellFormat(85, 6, url, "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%.2f", ranking.Score), "", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%+.2f", ranking.DeltaFromAverage), "", 1, "R", false, 0, "")
	}

	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Average: %.2f", axis.Average), "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func (s *Service) writeList(pdf *fpdf.Fpdf, title string, items []string) {
	if len(items) == 0 {
		return
	}
	s.writeHeading(pdf, title)
	pdf.SetFont("Arial", "", 9)
	for _, item := range items {
		pdf.MultiCell(0, 5, "- "+strings.TrimSpace(item), "", "L", false)
	}
	pdf.Ln(2)
}
