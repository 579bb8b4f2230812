package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

// StatusHandler reports service health: storage reachability, the
// configured LLM provider and version information
type StatusHandler struct {
	storage interfaces.StorageManager
	llm     interfaces.LLMService
	logger  arbor.ILogger
}

// NewStatusHandler creates the status handler
func NewStatusHandler(storage interfaces.StorageManager, llm interfaces.LLMService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		storage: storage,
		llm:     llm,
		logger:  logger,
	}
}

// GetStatusHandler returns overall service status.
// GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	storageStatus := "ok"
	if err := h.storage.Ping(ctx); err != nil {
		status = "degraded"
		storageStatus = err.Error()
	}

	llmStatus := "ok"
	if err := h.llm.HealthCheck(ctx); err != nil {
		status = "degraded"
		llmStatus = err.Error()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": common.GetVersion(),
		"build":   common.Build,
		"storage": storageStatus,
		"llm": map[string]string{
			"provider": h.llm.Provider(),
			"status":   llmStatus,
		},
	})
}
