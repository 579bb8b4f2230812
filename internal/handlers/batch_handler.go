package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/report"
	"github.com/ternarybob/specto/internal/workers"
)

// BatchHandler serves the comparison batch endpoints
type BatchHandler struct {
	storage    interfaces.StorageManager
	dispatcher *workers.Dispatcher
	report     *report.Service
	config     *common.Config
	validate   *validator.Validate
	logger     arbor.ILogger
}

// NewBatchHandler creates the batch handler
func NewBatchHandler(storage interfaces.StorageManager, dispatcher *workers.Dispatcher, reportService *report.Service, config *common.Config, logger arbor.ILogger) *BatchHandler {
	return &BatchHandler{
		storage:    storage,
		dispatcher: dispatcher,
		report:     reportService,
		config:     config,
		validate:   validator.New(),
		logger:     logger,
	}
}

type createBatchRequest struct {
	Name   string   `json:"name" validate:"max=255"`
	URLs   []string `json:"urls" validate:"required,min=2,max=5,dive,required,max=2048"`
	Labels []string `json:"labels" validate:"omitempty,dive,max=100"`
}

// CreateHandler accepts a set of URLs to compare and queues the batch.
// The first URL is the primary site; labels default to "Primary" and
// "Competitor N".
// POST /api/batches
func (h *BatchHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req createBatchRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteStorageError(w, err)
		return
	}
	if len(req.Labels) > 0 && len(req.Labels) != len(req.URLs) {
		WriteError(w, http.StatusBadRequest, "labels must match urls in length when provided")
		return
	}

	normalized := make([]string, len(req.URLs))
	seen := make(map[string]bool, len(req.URLs))
	for i, raw := range req.URLs {
		url, err := common.ValidateTargetURL(raw, h.config.Crawler.AllowPrivate)
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("urls[%d]: %s", i, err.Error()))
			return
		}
		if seen[url] {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("urls[%d]: duplicate url %s", i, url))
			return
		}
		seen[url] = true
		normalized[i] = url
	}

	batch := &models.Batch{
		ID:     common.NewBatchID(),
		Name:   req.Name,
		Status: models.JobStatusPending,
		Total:  len(normalized),
	}

	members := make([]*models.BatchMember, len(normalized))
	jobs := make([]*models.AnalysisJob, len(normalized))
	for i, url := range normalized {
		label := ""
		if len(req.Labels) > 0 {
			label = strings.TrimSpace(req.Labels[i])
		}
		if label == "" {
			if i == 0 {
				label = "Primary"
			} else {
				label = fmt.Sprintf("Competitor %d", i)
			}
		}

		jobs[i] = &models.AnalysisJob{
			ID:     common.NewJobID(),
			URL:    url,
			Status: models.JobStatusPending,
		}
		members[i] = &models.BatchMember{
			ID:         common.NewMemberID(),
			BatchID:    batch.ID,
			JobID:      jobs[i].ID,
			Label:      label,
			IsPrimary:  i == 0,
			OrderIndex: i,
		}
	}

	if err := h.storage.Batches().CreateBatch(r.Context(), batch, members, jobs); err != nil {
		WriteStorageError(w, err)
		return
	}
	if err := h.dispatcher.SubmitBatch(batch.ID); err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.logger.Info().Str("batch_id", batch.ID).Int("urls", len(normalized)).Msg("Batch queued")
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch":   batch,
		"members": members,
	})
}

// StatusHandler returns the batch and its membership.
// GET /api/batches/{id}
func (h *BatchHandler) StatusHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	batch, err := h.storage.Batches().GetBatch(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	members, err := h.storage.Batches().GetBatchMembers(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batch":   batch,
		"members": members,
	})
}

// memberResult is one member's row in the batch results payload
type memberResult struct {
	Member       *models.BatchMember `json:"member"`
	Status       models.JobStatus    `json:"status"`
	Progress     int                 `json:"progress"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Result       *analysisResult     `json:"result,omitempty"`
}

// ResultsHandler returns per-member outcomes for the batch, including
// full results for members that completed
// GET /api/batches/{id}/results
func (h *BatchHandler) ResultsHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	batch, err := h.storage.Batches().GetBatch(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	members, err := h.storage.Batches().GetBatchMembers(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	results := make([]memberResult, 0, len(members))
	for _, member := range members {
		row := memberResult{Member: member}

		job, err := h.storage.Jobs().GetJob(r.Context(), member.JobID)
		if err != nil {
			WriteStorageError(w, err)
			return
		}
		row.Status = job.Status
		row.Progress = job.Progress
		row.ErrorMessage = job.ErrorMessage

		if job.Status == models.JobStatusCompleted {
			artifact, err := h.storage.Jobs().GetArtifact(r.Context(), member.JobID)
			if err == nil {
				row.Result = &analysisResult{
					JobID:           artifact.JobID,
					URL:             artifact.URL,
					OverallScore:    artifact.OverallScore(),
					RuleScore:       artifact.RuleScore,
					RuleReport:      artifact.RuleReport,
					SemanticScore:   artifact.SemanticScore,
					SemanticReport:  artifact.SemanticReport,
					Suggestions:     artifact.Suggestions,
					ScreenshotRef:   artifact.ScreenshotRef,
					DurationSeconds: artifact.DurationSeconds,
					CompletedAt:     job.CompletedAt,
				}
			}
		}
		results = append(results, row)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batch":   batch,
		"results": results,
	})
}

// ComparisonHandler returns the batch comparison once the batch has
// completed; earlier requests answer 409.
// GET /api/batches/{id}/comparison
func (h *BatchHandler) ComparisonHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	comparison, ok := h.loadComparison(w, r, batchID)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, comparison)
}

// ReportHandler renders the comparison as a downloadable PDF.
// GET /api/batches/{id}/report.pdf
func (h *BatchHandler) ReportHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	batch, err := h.storage.Batches().GetBatch(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	comparison, ok := h.loadComparison(w, r, batchID)
	if !ok {
		return
	}

	pdf, err := h.report.RenderComparison(batch, comparison)
	if err != nil {
		h.logger.Error().Err(err).Str("batch_id", batchID).Msg("Report rendering failed")
		WriteError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batchID+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// CancelHandler requests cooperative cancellation of a running batch.
// POST /api/batches/{id}/cancel
func (h *BatchHandler) CancelHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	batch, err := h.storage.Batches().GetBatch(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	if batch.Status.IsTerminal() {
		WriteError(w, http.StatusConflict, "batch is already "+string(batch.Status))
		return
	}
	if !h.dispatcher.Cancel(batchID) {
		WriteError(w, http.StatusConflict, "batch is not running")
		return
	}

	h.logger.Info().Str("batch_id", batchID).Msg("Batch cancellation requested")
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":   "cancelling",
		"batch_id": batchID,
	})
}

// loadComparison fetches the comparison, translating batch state into
// the right status code
func (h *BatchHandler) loadComparison(w http.ResponseWriter, r *http.Request, batchID string) (*models.Comparison, bool) {
	batch, err := h.storage.Batches().GetBatch(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return nil, false
	}
	if batch.Status != models.JobStatusCompleted {
		WriteError(w, http.StatusConflict, "batch is "+string(batch.Status)+", comparison is only available once completed")
		return nil, false
	}

	comparison, err := h.storage.Batches().GetComparison(r.Context(), batchID)
	if err != nil {
		WriteStorageError(w, err)
		return nil, false
	}
	return comparison, true
}

// RouteHandler dispatches /api/batches/{id} and subpaths
func (h *BatchHandler) RouteHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	if rest == "" || rest == r.URL.Path {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case strings.HasSuffix(rest, "/results"):
		h.ResultsHandler(w, r, strings.TrimSuffix(rest, "/results"))
	case strings.HasSuffix(rest, "/comparison"):
		h.ComparisonHandler(w, r, strings.TrimSuffix(rest, "/comparison"))
	case strings.HasSuffix(rest, "/report.pdf"):
		h.ReportHandler(w, r, strings.TrimSuffix(rest, "/report.pdf"))
	case strings.HasSuffix(rest, "/cancel"):
		h.CancelHandler(w, r, strings.TrimSuffix(rest, "/cancel"))
	case strings.Contains(rest, "/"):
		WriteError(w, http.StatusNotFound, "not found")
	default:
		h.StatusHandler(w, r, rest)
	}
}
