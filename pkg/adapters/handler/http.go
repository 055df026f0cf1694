package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kevinmcaleer/page-count/pkg/core/domain"
	"github.com/kevinmcaleer/page-count/pkg/core/timewindow"
	"github.com/kevinmcaleer/page-count/pkg/logging"
	"github.com/kevinmcaleer/page-count/pkg/ports"
)

type HTTPHandler struct {
	service ports.VisitService
	repo    ports.VisitRepository
	log     logging.Logger
}

func NewHTTPHandler(service ports.VisitService, repo ports.VisitRepository, log logging.Logger) *HTTPHandler {
	return &HTTPHandler{service: service, repo: repo, log: log}
}

// VisitRequest payload
type VisitRequest struct {
	URL string `json:"url"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sentinel errors to status codes and renders the historic
// {"error": "..."} body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// clientIP resolves the caller address: first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// RecordVisit handles POST /visit: the rate-limited write path.
func (h *HTTPHandler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	visit, total, err := h.service.RecordVisit(r.Context(), req.URL, clientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":        visit.URL,
		"ip":         visit.IP,
		"user_agent": visit.UserAgent,
		"status":     fmt.Sprintf("Visit #%d recorded", total),
		"timestamp":  visit.TimestampString(),
	})
}

// RecordVisitLegacy handles GET /: the original query-parameter write path,
// kept for callers that predate POST /visit. No rate limit.
func (h *HTTPHandler) RecordVisitLegacy(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")

	visit, total, err := h.service.RecordVisitLegacy(r.Context(), url, clientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Visit recorded!",
		"url":       visit.URL,
		"ip":        visit.IP,
		"timestamp": visit.TimestampString(),
		"visits":    humanize.Comma(total),
	})
}

// RecordBulk handles POST /bulk-visits.
func (h *HTTPHandler) RecordBulk(w http.ResponseWriter, r *http.Request) {
	var reqs []VisitRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	urls := make([]string, 0, len(reqs))
	for _, req := range reqs {
		urls = append(urls, req.URL)
	}

	recorded, rejected, err := h.service.RecordBulk(r.Context(), urls, clientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          fmt.Sprintf("Recorded %d visits", recorded),
		"visits_recorded": recorded,
		"visits_rejected": rejected,
		"ip":              clientIP(r),
	})
}

// SiteStats handles GET /stats.
func (h *HTTPHandler) SiteStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SiteStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Summary handles GET /summary?hours=.
func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	hours, err := hoursParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.service.Summary(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// URLStats handles GET /stats/{url...}?hours=. The wildcard swallows the
// slashes inside the tracked URL.
func (h *HTTPHandler) URLStats(w http.ResponseWriter, r *http.Request) {
	hours, err := hoursParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// the mux path cleaner collapses the scheme's double slash
	url := r.PathValue("url")
	if !strings.Contains(url, "://") {
		url = strings.Replace(url, ":/", "://", 1)
	}

	stats, err := h.service.URLStats(r.Context(), url, hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func hoursParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return 24, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 1 {
		return 0, fmt.Errorf("%w: hours must be a positive integer", domain.ErrValidation)
	}
	return hours, nil
}

// ListVisits handles GET /all-visits: raw export with window filtering,
// pagination and selectable format (json, jsonl, csv).
func (h *HTTPHandler) ListVisits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	window, err := timewindow.Resolve(r.Context(), h.log,
		q.Get("range"), q.Get("start_date"), q.Get("end_date"), q.Get("since"))
	if err != nil {
		writeError(w, err)
		return
	}

	var f domain.VisitFilter
	window.Apply(&f)
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, err)
		return
	}

	visits, err := h.service.ListVisits(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := writeExport(w, q.Get("format"), visits); err != nil {
		writeError(w, err)
	}
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit and offset must be non-negative integers", domain.ErrValidation)
	}
	return n, nil
}

// Cleanup handles DELETE /cleanup?days=. The retention horizon defaults to
// 30 days when not given.
func (h *HTTPHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		var err error
		if days, err = strconv.Atoi(raw); err != nil {
			writeError(w, fmt.Errorf("%w: days must be an integer", domain.ErrValidation))
			return
		}
	}

	deleted, cutoff, err := h.service.Cleanup(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "completed",
		"deleted_visits": deleted,
		"cutoff_date":    cutoff.Format(domain.TimeLayout),
	})
}

// Health handles GET /health.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().Format(domain.TimeLayout),
			"database":  "disconnected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(domain.TimeLayout),
		"database":  "connected",
	})
}
