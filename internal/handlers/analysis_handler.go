package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/workers"
)

// AnalysisHandler serves the single-URL analysis endpoints
type AnalysisHandler struct {
	storage    interfaces.StorageManager
	dispatcher *workers.Dispatcher
	config     *common.Config
	validate   *validator.Validate
	logger     arbor.ILogger
}

// NewAnalysisHandler creates the analysis handler
func NewAnalysisHandler(storage interfaces.StorageManager, dispatcher *workers.Dispatcher, config *common.Config, logger arbor.ILogger) *AnalysisHandler {
	return &AnalysisHandler{
		storage:    storage,
		dispatcher: dispatcher,
		config:     config,
		validate:   validator.New(),
		logger:     logger,
	}
}

type createAnalysisRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

// CreateHandler accepts a URL for analysis and queues the job.
// POST /api/analyses
func (h *AnalysisHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req createAnalysisRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteStorageError(w, err)
		return
	}

	normalized, err := common.ValidateTargetURL(req.URL, h.config.Crawler.AllowPrivate)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &models.AnalysisJob{
		ID:     common.NewJobID(),
		URL:    normalized,
		Status: models.JobStatusPending,
	}
	if err := h.storage.Jobs().CreateJob(r.Context(), job); err != nil {
		WriteStorageError(w, err)
		return
	}
	if err := h.dispatcher.SubmitJob(job.ID); err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.logger.Info().Str("job_id", job.ID).Str("url", normalized).Msg("Analysis queued")
	WriteJSON(w, http.StatusAccepted, job)
}

// StatusHandler returns the job's current state.
// GET /api/analyses/{id}
func (h *AnalysisHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	job, err := h.storage.Jobs().GetJob(r.Context(), jobID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// analysisResult is the results payload: scores and reports without the
// captured page body
type analysisResult struct {
	JobID           string                `json:"job_id"`
	URL             string                `json:"url"`
	OverallScore    float64               `json:"overall_score"`
	RuleScore       float64               `json:"rule_score"`
	RuleReport      models.RuleReport     `json:"rule_report"`
	SemanticScore   float64               `json:"semantic_score"`
	SemanticReport  models.SemanticReport `json:"semantic_report"`
	Suggestions     []models.Suggestion   `json:"suggestions"`
	ScreenshotRef   string                `json:"screenshot_ref,omitempty"`
	DurationSeconds float64               `json:"duration_seconds"`
	CompletedAt     time.Time             `json:"completed_at"`
}

// ResultsHandler returns the completed job's artifact. A job that has
// not finished yet answers 409 so clients poll status instead.
// GET /api/analyses/{id}/results
func (h *AnalysisHandler) ResultsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	job, err := h.storage.Jobs().GetJob(r.Context(), jobID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}
	if job.Status != models.JobStatusCompleted {
		WriteError(w, http.StatusConflict, "analysis is "+string(job.Status)+", results are only available once completed")
		return
	}

	artifact, err := h.storage.Jobs().GetArtifact(r.Context(), jobID)
	if err != nil {
		WriteStorageError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, analysisResult{
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
	})
}

// RouteHandler dispatches /api/analyses/{id} and subpaths
func (h *AnalysisHandler) RouteHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
	if rest == "" || rest == r.URL.Path {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	if jobID, ok := strings.CutSuffix(rest, "/results"); ok {
		h.ResultsHandler(w, r, jobID)
		return
	}
	if strings.Contains(rest, "/") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	h.StatusHandler(w, r, rest)
}
