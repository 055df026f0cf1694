package ports

import (
	"context"
	"time"

	"github.com/kevinmcaleer/page-count/pkg/core/domain"
)

// VisitRepository defines storage operations for the append-only visit log.
// Implementations exist for embedded SQLite (incl. libsql) and PostgreSQL;
// both guarantee read-your-writes within a single store instance.
type VisitRepository interface {
	// Insert appends one record. A zero Timestamp defaults to the insertion
	// time; only the sync path supplies it explicitly. The assigned id is
	// written back to the record.
	Insert(ctx context.Context, v *domain.Visit) error

	// Scan returns records matching the filter, ordered by timestamp
	// descending by default, ascending when f.Ascending (sync replay; equal
	// timestamps fall back to insertion order).
	Scan(ctx context.Context, f domain.VisitFilter) ([]domain.Visit, error)
	Count(ctx context.Context, f domain.VisitFilter) (int64, error)
	CountDistinctIPs(ctx context.Context, f domain.VisitFilter) (int64, error)

	// DeleteOlderThan irreversibly removes records with timestamp < cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Aggregation
	CountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]int64, error)
	UniqueIPsByURL(ctx context.Context, f domain.VisitFilter) (map[string]int64, error)
	HourlyCountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]map[string]int64, error)
	UserAgentCountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]map[string]int64, error)
	TimeRange(ctx context.Context) (earliest, latest *time.Time, total int64, err error)

	// Sync support
	EnsureSchema(ctx context.Context) error // create-if-not-exists table, indexes, dedup constraint
	MaxTimestamp(ctx context.Context) (*time.Time, error)
	BeginBatch(ctx context.Context) (SyncBatch, error)

	Ping(ctx context.Context) error
	Close() error
}

// SyncBatch is one migration transaction. Insert skips records colliding on
// the (url, ip, user_agent, timestamp) dedup tuple and reports whether a row
// was actually written. Commit makes the batch durable; Rollback discards it.
type SyncBatch interface {
	Insert(ctx context.Context, v *domain.Visit) (inserted bool, err error)
	Commit() error
	Rollback() error
}

// VisitService defines the business logic operations
type VisitService interface {
	RecordVisit(ctx context.Context, url, ip, userAgent string) (*domain.Visit, int64, error)
	RecordVisitLegacy(ctx context.Context, url, ip, userAgent string) (*domain.Visit, int64, error)
	RecordBulk(ctx context.Context, urls []string, ip, userAgent string) (recorded, rejected int, err error)

	// Aggregation
	SiteStats(ctx context.Context) (*domain.SiteStats, error)
	Summary(ctx context.Context, hours int) (*domain.Summary, error)
	URLStats(ctx context.Context, url string, hours int) (*domain.URLReport, error)

	// Export
	ListVisits(ctx context.Context, f domain.VisitFilter) ([]domain.Visit, error)

	// Retention
	Cleanup(ctx context.Context, days int) (deleted int64, cutoff time.Time, err error)
}
