package handler

import (
	"net/http"

	"github.com/kevinmcaleer/page-count/pkg/logging"
	"github.com/kevinmcaleer/page-count/pkg/ports"
)

// NewRouter creates and configures the main application router
func NewRouter(service ports.VisitService, repo ports.VisitRepository, log logging.Logger) http.Handler {
	h := NewHTTPHandler(service, repo, log)

	mux := http.NewServeMux()

	// Write path
	mux.HandleFunc("POST /visit", h.RecordVisit)
	mux.HandleFunc("GET /{$}", h.RecordVisitLegacy)
	mux.HandleFunc("POST /bulk-visits", h.RecordBulk)

	// Analytics. The {url...} wildcard keeps the slashes inside tracked URLs.
	mux.HandleFunc("GET /stats", h.SiteStats)
	mux.HandleFunc("GET /stats/{url...}", h.URLStats)
	mux.HandleFunc("GET /summary", h.Summary)

	// Export and maintenance
	mux.HandleFunc("GET /all-visits", h.ListVisits)
	mux.HandleFunc("DELETE /cleanup", h.Cleanup)
	mux.HandleFunc("GET /health", h.Health)

	return RequestLogger(log)(mux)
}
