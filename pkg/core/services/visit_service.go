package services

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kevinmcaleer/page-count/pkg/core/domain"
	"github.com/kevinmcaleer/page-count/pkg/core/ratelimit"
	"github.com/kevinmcaleer/page-count/pkg/logging"
	"github.com/kevinmcaleer/page-count/pkg/ports"
)

const (
	maxURLLength  = 2048
	maxBulkVisits = 100

	siteRecentLimit    = 10
	urlRecentLimit     = 20
	summaryRecentLimit = 10
	summaryScanLimit   = 100
)

var urlPattern = regexp.MustCompile(`^https?://\S+$`)

// VisitService implements the write path and the aggregation read path over
// a single visit store. Rate limiters are injected so the same service can
// run with different budgets (or a frozen clock) in tests.
type VisitService struct {
	repo         ports.VisitRepository
	visitLimiter *ratelimit.Limiter
	bulkLimiter  *ratelimit.Limiter
	log          logging.Logger
	now          func() time.Time
}

func NewVisitService(repo ports.VisitRepository, visitLimiter, bulkLimiter *ratelimit.Limiter, log logging.Logger) *VisitService {
	return &VisitService{
		repo:         repo,
		visitLimiter: visitLimiter,
		bulkLimiter:  bulkLimiter,
		log:          log,
		now:          time.Now,
	}
}

func validateURL(url string) error {
	if url == "" {
		return fmt.Errorf("%w: url is required", domain.ErrValidation)
	}
	if len(url) > maxURLLength {
		return fmt.Errorf("%w: url exceeds %d characters", domain.ErrValidation, maxURLLength)
	}
	if !urlPattern.MatchString(url) {
		return fmt.Errorf("%w: url must start with http:// or https://", domain.ErrValidation)
	}
	return nil
}

// RecordVisit validates, rate-limits and appends one visit, returning the
// stored record and the per-URL running total.
func (s *VisitService) RecordVisit(ctx context.Context, url, ip, userAgent string) (*domain.Visit, int64, error) {
	if err := validateURL(url); err != nil {
		return nil, 0, err
	}
	if !s.visitLimiter.Allow(ip, url) {
		s.log.Warn(ctx, "visit rate limited", "ip", ip, "url", url)
		return nil, 0, fmt.Errorf("%w: too many visits for this url", domain.ErrRateLimited)
	}
	return s.record(ctx, url, ip, userAgent)
}

// RecordVisitLegacy is the pre-rate-limit write path kept for the legacy
// GET / endpoint.
func (s *VisitService) RecordVisitLegacy(ctx context.Context, url, ip, userAgent string) (*domain.Visit, int64, error) {
	if err := validateURL(url); err != nil {
		return nil, 0, err
	}
	return s.record(ctx, url, ip, userAgent)
}

func (s *VisitService) record(ctx context.Context, url, ip, userAgent string) (*domain.Visit, int64, error) {
	if userAgent == "" {
		userAgent = "unknown"
	}
	v := &domain.Visit{URL: url, IP: ip, UserAgent: userAgent}
	if err := s.repo.Insert(ctx, v); err != nil {
		return nil, 0, err
	}

	total, err := s.repo.Count(ctx, domain.VisitFilter{URL: url})
	if err != nil {
		return nil, 0, err
	}
	s.log.Info(ctx, "visit recorded", "url", url, "ip", ip, "total", total)
	return v, total, nil
}

// RecordBulk appends up to maxBulkVisits visits in one call. The batch is
// validated before anything is written; individual URLs over their rate
// budget are skipped and counted as rejected.
func (s *VisitService) RecordBulk(ctx context.Context, urls []string, ip, userAgent string) (int, int, error) {
	if len(urls) == 0 {
		return 0, 0, fmt.Errorf("%w: empty batch", domain.ErrValidation)
	}
	if len(urls) > maxBulkVisits {
		return 0, 0, fmt.Errorf("%w: batch exceeds %d visits", domain.ErrValidation, maxBulkVisits)
	}
	for _, url := range urls {
		if err := validateURL(url); err != nil {
			return 0, 0, err
		}
	}

	if userAgent == "" {
		userAgent = "unknown"
	}

	recorded, rejected := 0, 0
	for _, url := range urls {
		if !s.bulkLimiter.Allow(ip, url) {
			rejected++
			continue
		}
		v := &domain.Visit{URL: url, IP: ip, UserAgent: userAgent}
		if err := s.repo.Insert(ctx, v); err != nil {
			return recorded, rejected, err
		}
		recorded++
	}
	s.log.Info(ctx, "bulk visits recorded", "ip", ip, "recorded", recorded, "rejected", rejected)
	return recorded, rejected, nil
}

// SiteStats builds the all-time dataset summary: totals, per-URL counts and
// the ten most recent visits.
func (s *VisitService) SiteStats(ctx context.Context) (*domain.SiteStats, error) {
	total, err := s.repo.Count(ctx, domain.VisitFilter{})
	if err != nil {
		return nil, err
	}
	unique, err := s.repo.CountDistinctIPs(ctx, domain.VisitFilter{})
	if err != nil {
		return nil, err
	}
	byURL, err := s.repo.CountsByURL(ctx, domain.VisitFilter{})
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.Scan(ctx, domain.VisitFilter{Limit: siteRecentLimit})
	if err != nil {
		return nil, err
	}

	popular := make(map[string]string, len(byURL))
	for url, n := range byURL {
		popular[url] = humanize.Comma(n)
	}

	stats := &domain.SiteStats{
		TotalVisits:    humanize.Comma(total),
		UniqueVisitors: humanize.Comma(unique),
		PopularPages:   popular,
		RecentVisits:   make([]domain.RecentVisit, 0, len(recent)),
	}
	for _, v := range recent {
		stats.RecentVisits = append(stats.RecentVisits, domain.RecentVisit{
			URL:       v.URL,
			IP:        v.IP,
			Timestamp: v.TimestampString(),
		})
	}
	return stats, nil
}

// URLStats aggregates one URL: all-time total and unique IPs, plus hourly
// buckets and the most recent visits within the window.
func (s *VisitService) URLStats(ctx context.Context, url string, hours int) (*domain.URLReport, error) {
	if err := validateURL(url); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}

	allTime := domain.VisitFilter{URL: url}
	total, err := s.repo.Count(ctx, allTime)
	if err != nil {
		return nil, err
	}
	unique, err := s.repo.CountDistinctIPs(ctx, allTime)
	if err != nil {
		return nil, err
	}

	start := s.windowStart(hours)
	windowed := domain.VisitFilter{URL: url, Start: &start}
	hourly, err := s.repo.HourlyCountsByURL(ctx, windowed)
	if err != nil {
		return nil, err
	}

	recentFilter := windowed
	recentFilter.Limit = urlRecentLimit
	recent, err := s.repo.Scan(ctx, recentFilter)
	if err != nil {
		return nil, err
	}

	stats := &domain.URLReport{
		URL:          url,
		TotalVisits:  total,
		UniqueIPs:    unique,
		HourlyVisits: emptyCounts(hourly[url]),
		RecentVisits: make([]domain.RecentVisit, 0, len(recent)),
	}
	for _, v := range recent {
		stats.RecentVisits = append(stats.RecentVisits, domain.RecentVisit{
			IP:        v.IP,
			UserAgent: v.UserAgent,
			Timestamp: v.TimestampString(),
		})
	}
	return stats, nil
}

// Summary rolls up every URL seen in the window. Totals and unique-IP counts
// are all-time; hourly buckets, user agents and recent visits are bounded by
// the window.
func (s *VisitService) Summary(ctx context.Context, hours int) (*domain.Summary, error) {
	if hours <= 0 {
		hours = 24
	}
	start := s.windowStart(hours)
	windowed := domain.VisitFilter{Start: &start}

	totals, err := s.repo.CountsByURL(ctx, domain.VisitFilter{})
	if err != nil {
		return nil, err
	}
	uniques, err := s.repo.UniqueIPsByURL(ctx, domain.VisitFilter{})
	if err != nil {
		return nil, err
	}
	hourly, err := s.repo.HourlyCountsByURL(ctx, windowed)
	if err != nil {
		return nil, err
	}
	agents, err := s.repo.UserAgentCountsByURL(ctx, windowed)
	if err != nil {
		return nil, err
	}

	scanFilter := windowed
	scanFilter.Limit = summaryScanLimit
	recent, err := s.repo.Scan(ctx, scanFilter)
	if err != nil {
		return nil, err
	}

	earliest, latest, totalEntries, err := s.repo.TimeRange(ctx)
	if err != nil {
		return nil, err
	}

	// every URL ever seen appears, with all-time totals and whatever falls
	// inside the window in the bucketed maps
	data := make(map[string]*domain.URLStats, len(totals))
	for url, total := range totals {
		data[url] = &domain.URLStats{
			TotalVisits:  total,
			UniqueIPs:    uniques[url],
			ByHour:       emptyCounts(hourly[url]),
			UserAgents:   emptyCounts(agents[url]),
			RecentVisits: []domain.RecentVisit{},
		}
	}
	for _, v := range recent {
		st, ok := data[v.URL]
		if !ok || len(st.RecentVisits) >= summaryRecentLimit {
			continue
		}
		st.RecentVisits = append(st.RecentVisits, domain.RecentVisit{
			IP:        v.IP,
			UserAgent: v.UserAgent,
			Timestamp: v.TimestampString(),
		})
	}

	summary := &domain.Summary{
		Data:         data,
		TotalEntries: totalEntries,
	}
	if earliest != nil {
		e := earliest.Format(domain.TimeLayout)
		summary.DateRange.Earliest = &e
	}
	if latest != nil {
		l := latest.Format(domain.TimeLayout)
		summary.DateRange.Latest = &l
	}
	return summary, nil
}

// ListVisits returns raw records for export, filter semantics per the store.
func (s *VisitService) ListVisits(ctx context.Context, f domain.VisitFilter) ([]domain.Visit, error) {
	return s.repo.Scan(ctx, f)
}

// Cleanup deletes records older than the retention horizon and returns the
// cutoff alongside the delete count.
func (s *VisitService) Cleanup(ctx context.Context, days int) (int64, time.Time, error) {
	if days < 1 {
		return 0, time.Time{}, fmt.Errorf("%w: days must be at least 1", domain.ErrValidation)
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour).Truncate(time.Second)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, time.Time{}, err
	}
	s.log.Info(ctx, "cleanup completed", "days", days, "deleted", deleted)
	return deleted, cutoff, nil
}

func (s *VisitService) windowStart(hours int) time.Time {
	return s.now().Add(-time.Duration(hours) * time.Hour).Truncate(time.Second)
}

func emptyCounts(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

// Ensure interface compliance
var _ ports.VisitService = (*VisitService)(nil)
