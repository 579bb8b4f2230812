package server

import (
	"net/http"

	"github.com/ternarybob/specto/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket progress streams
	mux.HandleFunc("/ws/progress/", s.app.WSHandler.ProgressHandler)

	// API routes - single URL analyses
	mux.HandleFunc("/api/analyses", s.app.AnalysisHandler.CreateHandler) // POST - queue analysis
	mux.HandleFunc("/api/analyses/", s.app.AnalysisHandler.RouteHandler) // GET /{id}, GET /{id}/results

	// API routes - comparison batches
	mux.HandleFunc("/api/batches", s.app.BatchHandler.CreateHandler) // POST - queue batch
	mux.HandleFunc("/api/batches/", s.app.BatchHandler.RouteHandler) // GET /{id}, /{id}/results, /{id}/comparison, /{id}/report.pdf, POST /{id}/cancel

	// API routes - system
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - service status

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)
	mux.HandleFunc("/", s.notFoundHandler)

	return mux
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
