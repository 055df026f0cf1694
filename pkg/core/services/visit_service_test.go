package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmcaleer/page-count/pkg/adapters/repository/sqlite"
	"github.com/kevinmcaleer/page-count/pkg/core/domain"
	"github.com/kevinmcaleer/page-count/pkg/core/ratelimit"
	"github.com/kevinmcaleer/page-count/pkg/logging"
)

func ts(s string) time.Time {
	t, err := time.ParseInLocation(domain.TimeLayout, s, time.Local)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestService(t *testing.T) (*VisitService, *sqlite.SQLiteRepository) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	repo, err := sqlite.NewSQLiteRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	logger := logging.NewDefault("local")
	svc := NewVisitService(repo,
		ratelimit.New(60*time.Second, 10),
		ratelimit.New(60*time.Second, 20),
		logger)
	return svc, repo
}

func seedAt(t *testing.T, repo *sqlite.SQLiteRepository, url, ip, ua, stamp string) {
	t.Helper()
	v := &domain.Visit{URL: url, IP: ip, UserAgent: ua, Timestamp: ts(stamp)}
	require.NoError(t, repo.Insert(context.Background(), v))
}

func TestRecordVisitValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "example.com/page"},
		{"ftp scheme", "ftp://example.com/file"},
		{"whitespace", "https://exa mple.com"},
		{"too long", "https://example.com/" + strings.Repeat("a", 2048)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.RecordVisit(ctx, tc.url, "1.1.1.1", "ua")
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestRecordVisitCountsPerURL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, total, err := svc.RecordVisit(ctx, "https://example.com/home", "1.1.1.1", "ua")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = svc.RecordVisit(ctx, "https://example.com/home", "2.2.2.2", "ua")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// a different URL starts its own count
	_, total, err = svc.RecordVisit(ctx, "https://example.com/about", "1.1.1.1", "ua")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestRecordVisitRateLimited(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, err := svc.RecordVisit(ctx, "https://example.com/", "1.1.1.1", "ua")
		require.NoError(t, err)
	}
	_, _, err := svc.RecordVisit(ctx, "https://example.com/", "1.1.1.1", "ua")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// other callers and other URLs are unaffected
	_, _, err = svc.RecordVisit(ctx, "https://example.com/", "2.2.2.2", "ua")
	assert.NoError(t, err)
	_, _, err = svc.RecordVisit(ctx, "https://example.com/other", "1.1.1.1", "ua")
	assert.NoError(t, err)

	// the legacy path never rate-limits
	for i := 0; i < 15; i++ {
		_, _, err = svc.RecordVisitLegacy(ctx, "https://example.com/", "1.1.1.1", "ua")
		require.NoError(t, err)
	}

	total, err := repo.Count(context.Background(), domain.VisitFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(27), total)
}

func TestRecordBulkOversizedRejectedBeforeInsert(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	urls := make([]string, 150)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/page-%d", i)
	}

	_, _, err := svc.RecordBulk(ctx, urls, "1.1.1.1", "ua")
	assert.ErrorIs(t, err, domain.ErrValidation)

	total, err := repo.Count(ctx, domain.VisitFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total, "oversized batch must not write anything")
}

func TestRecordBulkPerURLRateLimit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	// 30 visits to the same URL against a bulk budget of 20
	urls := make([]string, 30)
	for i := range urls {
		urls[i] = "https://example.com/hot"
	}

	recorded, rejected, err := svc.RecordBulk(ctx, urls, "1.1.1.1", "ua")
	require.NoError(t, err)
	assert.Equal(t, 20, recorded)
	assert.Equal(t, 10, rejected)

	total, err := repo.Count(ctx, domain.VisitFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
}

func TestSiteStatsScenario(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	seedAt(t, repo, "https://example.com/home", "1.1.1.1", "ua", "2025-09-14 10:00:00")
	seedAt(t, repo, "https://example.com/home", "2.2.2.2", "ua", "2025-09-14 11:00:00")
	seedAt(t, repo, "https://example.com/about", "1.1.1.1", "ua", "2025-09-14 12:00:00")

	stats, err := svc.SiteStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, "3", stats.TotalVisits)
	assert.Equal(t, "2", stats.UniqueVisitors)
	assert.Equal(t, map[string]string{
		"https://example.com/home":  "2",
		"https://example.com/about": "1",
	}, stats.PopularPages)

	require.Len(t, stats.RecentVisits, 3)
	assert.Equal(t, "https://example.com/about", stats.RecentVisits[0].URL)
	assert.Equal(t, "2025-09-14 12:00:00", stats.RecentVisits[0].Timestamp)
}

func TestSiteStatsCommaGrouping(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		seedAt(t, repo, "https://example.com/", "1.1.1.1", "ua",
			fmt.Sprintf("2025-09-%02d %02d:%02d:00", 1+i/100, (i/60)%24, i%60))
	}

	stats, err := svc.SiteStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1,200", stats.TotalVisits)
}

func TestURLStatsWindowing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	now := ts("2025-09-14 12:00:00")
	svc.now = func() time.Time { return now }

	url := "https://example.com/page"
	seedAt(t, repo, url, "1.1.1.1", "firefox", "2025-09-10 10:00:00") // outside 24h window
	seedAt(t, repo, url, "2.2.2.2", "firefox", "2025-09-14 10:15:00")
	seedAt(t, repo, url, "2.2.2.2", "chrome", "2025-09-14 10:45:00")

	stats, err := svc.URLStats(ctx, url, 24)
	require.NoError(t, err)

	// totals are all-time, buckets and recents windowed
	assert.Equal(t, url, stats.URL)
	assert.Equal(t, int64(3), stats.TotalVisits)
	assert.Equal(t, int64(2), stats.UniqueIPs)
	assert.Equal(t, map[string]int64{"2025-09-14 10:00:00": 2}, stats.HourlyVisits)
	require.Len(t, stats.RecentVisits, 2)
	assert.Equal(t, "2025-09-14 10:45:00", stats.RecentVisits[0].Timestamp)

	var windowed int64
	for _, n := range stats.HourlyVisits {
		windowed += n
	}
	assert.LessOrEqual(t, windowed, stats.TotalVisits)
}

func TestSummary(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	now := ts("2025-09-14 12:00:00")
	svc.now = func() time.Time { return now }

	seedAt(t, repo, "https://example.com/home", "1.1.1.1", "firefox", "2025-09-01 10:00:00")
	seedAt(t, repo, "https://example.com/home", "2.2.2.2", "firefox", "2025-09-14 10:00:00")
	seedAt(t, repo, "https://example.com/about", "1.1.1.1", "chrome", "2025-09-14 11:00:00")

	summary, err := svc.Summary(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.TotalEntries)
	require.NotNil(t, summary.DateRange.Earliest)
	require.NotNil(t, summary.DateRange.Latest)
	assert.Equal(t, "2025-09-01 10:00:00", *summary.DateRange.Earliest)
	assert.Equal(t, "2025-09-14 11:00:00", *summary.DateRange.Latest)

	home := summary.Data["https://example.com/home"]
	require.NotNil(t, home)
	assert.Equal(t, int64(2), home.TotalVisits)
	assert.Equal(t, int64(2), home.UniqueIPs)
	// only the in-window visit lands in the hourly buckets
	assert.Equal(t, map[string]int64{"2025-09-14 10:00:00": 1}, home.ByHour)
	require.Len(t, home.RecentVisits, 1)

	about := summary.Data["https://example.com/about"]
	require.NotNil(t, about)
	assert.Equal(t, int64(1), about.TotalVisits)
	assert.Equal(t, map[string]int64{"chrome": 1}, about.UserAgents)
}

func TestSummaryIncludesURLsOutsideWindow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	now := ts("2025-09-14 12:00:00")
	svc.now = func() time.Time { return now }

	// all of this URL's traffic predates the window
	seedAt(t, repo, "https://example.com/archive", "1.1.1.1", "firefox", "2025-09-01 10:00:00")
	seedAt(t, repo, "https://example.com/archive", "2.2.2.2", "firefox", "2025-09-01 11:00:00")

	summary, err := svc.Summary(ctx, 24)
	require.NoError(t, err)

	archive := summary.Data["https://example.com/archive"]
	require.NotNil(t, archive, "URLs with only out-of-window visits still get an entry")
	assert.Equal(t, int64(2), archive.TotalVisits)
	assert.Equal(t, int64(2), archive.UniqueIPs)
	assert.Empty(t, archive.ByHour)
	assert.Empty(t, archive.UserAgents)
	assert.Empty(t, archive.RecentVisits)
}

func TestCleanup(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	now := ts("2025-09-14 12:00:00")
	svc.now = func() time.Time { return now }

	seedAt(t, repo, "https://example.com/", "1.1.1.1", "ua", "2025-09-01 10:00:00")
	seedAt(t, repo, "https://example.com/", "1.1.1.1", "ua", "2025-09-14 10:00:00")

	_, _, err := svc.Cleanup(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	deleted, cutoff, err := svc.Cleanup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, "2025-09-07 12:00:00", cutoff.Format(domain.TimeLayout))

	total, err := repo.Count(ctx, domain.VisitFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
