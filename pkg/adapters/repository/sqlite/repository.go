package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kevinmcaleer/page-count/pkg/adapters/repository/dbx"
	"github.com/kevinmcaleer/page-count/pkg/core/domain"
	"github.com/kevinmcaleer/page-count/pkg/ports"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite" // Local SQLite driver
)

// SQLiteRepository stores visits in an embedded (or Turso-remote) SQLite
// database. Timestamps are persisted as canonical "YYYY-MM-DD HH:MM:SS"
// strings, which also sort chronologically, so MIN/MAX and range comparisons
// work on the raw column.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", domain.ErrStorage, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrStorage, err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS visits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_url ON visits(url);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON visits(timestamp);
	CREATE INDEX IF NOT EXISTS idx_url_timestamp ON visits(url, timestamp);
	CREATE INDEX IF NOT EXISTS idx_url_ip ON visits(url, ip_address);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrStorage, err)
	}
	return nil
}

func bindTime(t time.Time) any {
	return t.Format(domain.TimeLayout)
}

// The driver converts the DATETIME-declared column to time.Time on read and
// flags it UTC; rebuild the wall clock in local time to keep timestamps
// naive. Aggregate expressions (MIN/MAX) carry no declared type and come
// back as the stored text, so those go through parseTime instead.
func localTime(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(domain.TimeLayout, s, time.Local)
}

func (r *SQLiteRepository) Insert(ctx context.Context, v *domain.Visit) error {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().Truncate(time.Second)
	}

	query := `INSERT INTO visits (url, ip_address, user_agent, timestamp) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, v.URL, v.IP, v.UserAgent, bindTime(v.Timestamp))
	if err != nil {
		return fmt.Errorf("%w: insert visit: %v", domain.ErrStorage, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %v", domain.ErrStorage, err)
	}
	v.ID = id
	return nil
}

func (r *SQLiteRepository) Scan(ctx context.Context, f domain.VisitFilter) ([]domain.Visit, error) {
	where, args := dbx.WhereClause(f, dbx.Question, bindTime)
	page, pageArgs := dbx.PageClause(f, dbx.Question, len(args))
	query := `SELECT id, url, ip_address, user_agent, timestamp FROM visits` + where + page
	args = append(args, pageArgs...)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: scan visits: %v", domain.ErrQuery, err)
	}
	defer rows.Close()

	var visits []domain.Visit
	for rows.Next() {
		var v domain.Visit
		var ts time.Time
		if err := rows.Scan(&v.ID, &v.URL, &v.IP, &v.UserAgent, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", domain.ErrQuery, err)
		}
		v.Timestamp = localTime(ts)
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan visits: %v", domain.ErrQuery, err)
	}
	return visits, nil
}

func (r *SQLiteRepository) Count(ctx context.Context, f domain.VisitFilter) (int64, error) {
	where, args := dbx.WhereClause(f, dbx.Question, bindTime)

	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count visits: %v", domain.ErrQuery, err)
	}
	return count, nil
}

func (r *SQLiteRepository) CountDistinctIPs(ctx context.Context, f domain.VisitFilter) (int64, error) {
	where, args := dbx.WhereClause(f, dbx.Question, bindTime)

	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT ip_address) FROM visits`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count distinct ips: %v", domain.ErrQuery, err)
	}
	return count, nil
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM visits WHERE timestamp < ?`, bindTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: delete old visits: %v", domain.ErrStorage, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", domain.ErrStorage, err)
	}
	return deleted, nil
}

func (r *SQLiteRepository) CountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Question, bindTime)
	query := `SELECT url, COUNT(*) FROM visits` + where + ` GROUP BY url`
	return r.countMap(ctx, query, args)
}

func (r *SQLiteRepository) UniqueIPsByURL(ctx context.Context, f domain.VisitFilter) (map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Question, bindTime)
	query := `SELECT url, COUNT(DISTINCT ip_address) FROM visits` + where + ` GROUP BY url`
	return r.countMap(ctx, query, args)
}

func (r *SQLiteRepository) countMap(ctx context.Context, query string, args []any) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: url counts: %v", domain.ErrQuery, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var url string
		var n int64
		if err := rows.Scan(&url, &n); err != nil {
			return nil, fmt.Errorf("%w: url counts: %v", domain.ErrQuery, err)
		}
		counts[url] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) HourlyCountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Question, bindTime)
	query := `SELECT url, strftime('%Y-%m-%d %H:00:00', timestamp) AS hour, COUNT(*)
		FROM visits` + where + ` GROUP BY url, hour`
	return r.nestedCountMap(ctx, query, args)
}

func (r *SQLiteRepository) UserAgentCountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Question, bindTime)
	query := `SELECT url, user_agent, COUNT(*) FROM visits` + where + ` GROUP BY url, user_agent`
	return r.nestedCountMap(ctx, query, args)
}

func (r *SQLiteRepository) nestedCountMap(ctx context.Context, query string, args []any) (map[string]map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: grouped counts: %v", domain.ErrQuery, err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int64)
	for rows.Next() {
		var url, key string
		var n int64
		if err := rows.Scan(&url, &key, &n); err != nil {
			return nil, fmt.Errorf("%w: grouped counts: %v", domain.ErrQuery, err)
		}
		if counts[url] == nil {
			counts[url] = make(map[string]int64)
		}
		counts[url][key] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) TimeRange(ctx context.Context) (*time.Time, *time.Time, int64, error) {
	var minTS, maxTS sql.NullString
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(timestamp), MAX(timestamp), COUNT(*) FROM visits`).Scan(&minTS, &maxTS, &total)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: time range: %v", domain.ErrQuery, err)
	}

	var earliest, latest *time.Time
	if minTS.Valid {
		t, err := parseTime(minTS.String)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: bad stored timestamp %q: %v", domain.ErrQuery, minTS.String, err)
		}
		earliest = &t
	}
	if maxTS.Valid {
		t, err := parseTime(maxTS.String)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: bad stored timestamp %q: %v", domain.ErrQuery, maxTS.String, err)
		}
		latest = &t
	}
	return earliest, latest, total, nil
}

// EnsureSchema makes this store usable as a sync destination: base schema
// plus the unique index enforcing the 4-tuple dedup constraint. The index is
// deliberately absent from migrate() so a plain write-path store matches the
// historic layout.
func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	if err := migrate(r.db); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS visits_unique_record
		ON visits(url, ip_address, user_agent, timestamp)`)
	if err != nil {
		return fmt.Errorf("%w: ensure dedup index: %v", domain.ErrStorage, err)
	}
	return nil
}

func (r *SQLiteRepository) MaxTimestamp(ctx context.Context) (*time.Time, error) {
	var ts sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM visits`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("%w: max timestamp: %v", domain.ErrQuery, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t, err := parseTime(ts.String)
	if err != nil {
		return nil, fmt.Errorf("%w: bad stored timestamp %q: %v", domain.ErrQuery, ts.String, err)
	}
	return &t, nil
}

func (r *SQLiteRepository) BeginBatch(ctx context.Context) (ports.SyncBatch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin batch: %v", domain.ErrStorage, err)
	}
	return &syncBatch{tx: tx}, nil
}

type syncBatch struct {
	tx *sql.Tx
}

// Insert writes one record inside the batch transaction, skipping rows that
// collide on the (url, ip_address, user_agent, timestamp) unique index.
func (b *syncBatch) Insert(ctx context.Context, v *domain.Visit) (bool, error) {
	res, err := b.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO visits (url, ip_address, user_agent, timestamp) VALUES (?, ?, ?, ?)`,
		v.URL, v.IP, v.UserAgent, bindTime(v.Timestamp))
	if err != nil {
		return false, fmt.Errorf("%w: batch insert: %v", domain.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", domain.ErrStorage, err)
	}
	return n > 0, nil
}

func (b *syncBatch) Commit() error   { return b.tx.Commit() }
func (b *syncBatch) Rollback() error { return b.tx.Rollback() }

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ensure interface compliance
var _ ports.VisitRepository = (*SQLiteRepository)(nil)
