package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmcaleer/page-count/pkg/adapters/repository/sqlite"
	"github.com/kevinmcaleer/page-count/pkg/core/ratelimit"
	"github.com/kevinmcaleer/page-count/pkg/core/services"
	"github.com/kevinmcaleer/page-count/pkg/logging"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	repo, err := sqlite.NewSQLiteRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logger := logging.NewDefault("local")
	service := services.NewVisitService(repo,
		ratelimit.New(60*time.Second, 10),
		ratelimit.New(60*time.Second, 20),
		logger)

	server := httptest.NewServer(NewRouter(service, repo, logger))
	t.Cleanup(server.Close)
	return server
}

func postVisit(t *testing.T, server *httptest.Server, url, ip string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"url": url})
	req, err := http.NewRequest(http.MethodPost, server.URL+"/visit", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRecordVisitEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postVisit(t, server, "https://example.com/home", "1.1.1.1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "https://example.com/home", body["url"])
	assert.Equal(t, "1.1.1.1", body["ip"])
	assert.Equal(t, "Visit #1 recorded", body["status"])
	assert.NotEmpty(t, body["timestamp"])

	resp = postVisit(t, server, "https://example.com/home", "2.2.2.2")
	decode(t, resp, &body)
	assert.Equal(t, "Visit #2 recorded", body["status"])
}

func TestRecordVisitInvalidURL(t *testing.T) {
	server := newTestServer(t)

	resp := postVisit(t, server, "not-a-url", "1.1.1.1")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Contains(t, body["error"], "http")
}

func TestRecordVisitRateLimit(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 10; i++ {
		resp := postVisit(t, server, "https://example.com/hot", "1.1.1.1")
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := postVisit(t, server, "https://example.com/hot", "1.1.1.1")
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// a different client IP still gets through
	resp = postVisit(t, server, "https://example.com/hot", "9.9.9.9")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLegacyRecordVisit(t *testing.T) {
	server := newTestServer(t)

	resp, err := server.Client().Get(server.URL + "/?url=https://example.com/legacy")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "Visit recorded!", body["message"])
	assert.Equal(t, "https://example.com/legacy", body["url"])
	assert.Equal(t, "1", body["visits"])
}

func TestBulkVisits(t *testing.T) {
	server := newTestServer(t)

	payload := []map[string]string{
		{"url": "https://example.com/a"},
		{"url": "https://example.com/b"},
		{"url": "https://example.com/a"},
	}
	body, _ := json.Marshal(payload)
	resp, err := server.Client().Post(server.URL+"/bulk-visits", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Recorded int `json:"visits_recorded"`
		Rejected int `json:"visits_rejected"`
	}
	decode(t, resp, &out)
	assert.Equal(t, 3, out.Recorded)
	assert.Equal(t, 0, out.Rejected)
}

func TestBulkVisitsOversized(t *testing.T) {
	server := newTestServer(t)

	payload := make([]map[string]string, 150)
	for i := range payload {
		payload[i] = map[string]string{"url": fmt.Sprintf("https://example.com/p%d", i)}
	}
	body, _ := json.Marshal(payload)
	resp, err := server.Client().Post(server.URL+"/bulk-visits", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// nothing was written
	stats := getStats(t, server)
	assert.Equal(t, "0", stats.TotalVisits)
}

type siteStatsBody struct {
	TotalVisits    string            `json:"total_visits"`
	UniqueVisitors string            `json:"unique_visitors"`
	PopularPages   map[string]string `json:"popular_pages"`
}

func getStats(t *testing.T, server *httptest.Server) siteStatsBody {
	t.Helper()
	resp, err := server.Client().Get(server.URL + "/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats siteStatsBody
	decode(t, resp, &stats)
	return stats
}

func TestSiteStatsEndpoint(t *testing.T) {
	server := newTestServer(t)

	postVisit(t, server, "https://example.com/home", "1.1.1.1").Body.Close()
	postVisit(t, server, "https://example.com/home", "2.2.2.2").Body.Close()
	postVisit(t, server, "https://example.com/about", "1.1.1.1").Body.Close()

	stats := getStats(t, server)
	assert.Equal(t, "3", stats.TotalVisits)
	assert.Equal(t, "2", stats.UniqueVisitors)
	assert.Equal(t, "2", stats.PopularPages["https://example.com/home"])
	assert.Equal(t, "1", stats.PopularPages["https://example.com/about"])
}

func TestURLStatsEndpoint(t *testing.T) {
	server := newTestServer(t)

	postVisit(t, server, "https://example.com/page", "1.1.1.1").Body.Close()
	postVisit(t, server, "https://example.com/page", "2.2.2.2").Body.Close()

	resp, err := server.Client().Get(server.URL + "/stats/https://example.com/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		URL          string           `json:"url"`
		TotalVisits  int64            `json:"total_visits"`
		UniqueIPs    int64            `json:"unique_ips"`
		HourlyVisits map[string]int64 `json:"hourly_visits"`
	}
	decode(t, resp, &stats)
	assert.Equal(t, "https://example.com/page", stats.URL)
	assert.Equal(t, int64(2), stats.TotalVisits)
	assert.Equal(t, int64(2), stats.UniqueIPs)

	var hourly int64
	for _, n := range stats.HourlyVisits {
		hourly += n
	}
	assert.Equal(t, int64(2), hourly)
}

func TestSummaryEndpoint(t *testing.T) {
	server := newTestServer(t)

	postVisit(t, server, "https://example.com/home", "1.1.1.1").Body.Close()

	resp, err := server.Client().Get(server.URL + "/summary?hours=48")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary struct {
		Data         map[string]json.RawMessage `json:"data"`
		TotalEntries int64                      `json:"total_entries"`
	}
	decode(t, resp, &summary)
	assert.Equal(t, int64(1), summary.TotalEntries)
	assert.Contains(t, summary.Data, "https://example.com/home")

	// invalid hours is rejected
	resp, err = server.Client().Get(server.URL + "/summary?hours=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAllVisitsFormats(t *testing.T) {
	server := newTestServer(t)

	postVisit(t, server, "https://example.com/a", "1.1.1.1").Body.Close()
	postVisit(t, server, "https://example.com/b", "1.1.1.1").Body.Close()

	// default JSON envelope
	resp, err := server.Client().Get(server.URL + "/all-visits")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Visits     []json.RawMessage `json:"visits"`
		TotalCount string            `json:"total_count"`
	}
	decode(t, resp, &out)
	assert.Len(t, out.Visits, 2)
	assert.Equal(t, "2", out.TotalCount)

	// jsonl: one object per line
	resp, err = server.Client().Get(server.URL + "/all-visits?format=jsonl")
	require.NoError(t, err)
	assert.Equal(t, "application/jsonl", resp.Header.Get("Content-Type"))
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	// csv with the fixed header
	resp, err = server.Client().Get(server.URL + "/all-visits?format=csv")
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	buf.Reset()
	_, err = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, rows, 3)
	assert.Equal(t, "url,ip,user_agent,timestamp", rows[0])

	// unknown format
	resp, err = server.Client().Get(server.URL + "/all-visits?format=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAllVisitsWindowFiltering(t *testing.T) {
	server := newTestServer(t)

	postVisit(t, server, "https://example.com/a", "1.1.1.1").Body.Close()

	today := time.Now().Format("2006-01-02")
	resp, err := server.Client().Get(server.URL + "/all-visits?start_date=" + today)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		TotalCount string `json:"total_count"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "1", out.TotalCount)

	// tomorrow onward is empty
	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	resp, err = server.Client().Get(server.URL + "/all-visits?start_date=" + tomorrow)
	require.NoError(t, err)
	decode(t, resp, &out)
	assert.Equal(t, "0", out.TotalCount)

	// malformed explicit date bound is fail-closed
	resp, err = server.Client().Get(server.URL + "/all-visits?start_date=yesterday")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// malformed range is fail-open: filter dropped, everything returned
	resp, err = server.Client().Get(server.URL + "/all-visits?range=not,arange")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &out)
	assert.Equal(t, "1", out.TotalCount)
}

func TestCleanupEndpoint(t *testing.T) {
	server := newTestServer(t)

	postVisit(t, server, "https://example.com/a", "1.1.1.1").Body.Close()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/cleanup?days=0", nil)
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, server.URL+"/cleanup?days=30", nil)
	require.NoError(t, err)
	resp, err = server.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status     string `json:"status"`
		Deleted    int64  `json:"deleted_visits"`
		CutoffDate string `json:"cutoff_date"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, int64(0), out.Deleted)
	assert.NotEmpty(t, out.CutoffDate)

	// days defaults to 30 when absent
	req, err = http.NewRequest(http.MethodDelete, server.URL+"/cleanup", nil)
	require.NoError(t, err)
	resp, err = server.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &out)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, int64(0), out.Deleted)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := server.Client().Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	decode(t, resp, &out)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "connected", out["database"])
}
