// Package postgres implements the visit store over a client-server
// PostgreSQL database via the pgx stdlib driver. Schema is managed by
// embedded goose migrations; the visits_unique_record constraint backing
// dedup-safe sync is part of the base migration, so it is always present on
// this backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kevinmcaleer/page-count/pkg/adapters/repository/dbx"
	"github.com/kevinmcaleer/page-count/pkg/adapters/repository/postgres/migrations"
	"github.com/kevinmcaleer/page-count/pkg/core/domain"
	"github.com/kevinmcaleer/page-count/pkg/ports"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", domain.ErrStorage, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrStorage, err)
	}

	r := &PostgresRepository{db: db}
	if err := r.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// EnsureSchema runs the embedded goose migrations. Goose tracks applied
// versions, so repeated calls are no-ops.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("%w: goose dialect: %v", domain.ErrStorage, err)
	}
	if err := goose.UpContext(ctx, r.db, "."); err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrStorage, err)
	}
	return nil
}

// Timestamps are bound as naive second-resolution instants; the column is
// TIMESTAMP WITHOUT TIME ZONE, so the wall-clock value round-trips.
func bindTime(t time.Time) any {
	return t.Truncate(time.Second)
}

func (r *PostgresRepository) Insert(ctx context.Context, v *domain.Visit) error {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().Truncate(time.Second)
	}

	query := `INSERT INTO visits (url, ip_address, user_agent, timestamp) VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, v.URL, v.IP, v.UserAgent, bindTime(v.Timestamp)).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("%w: insert visit: %v", domain.ErrStorage, err)
	}
	return nil
}

func (r *PostgresRepository) Scan(ctx context.Context, f domain.VisitFilter) ([]domain.Visit, error) {
	where, args := dbx.WhereClause(f, dbx.Dollar, bindTime)
	page, pageArgs := dbx.PageClause(f, dbx.Dollar, len(args))
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
		if err := rows.Scan(&v.ID, &v.URL, &v.IP, &v.UserAgent, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", domain.ErrQuery, err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan visits: %v", domain.ErrQuery, err)
	}
	return visits, nil
}

func (r *PostgresRepository) Count(ctx context.Context, f domain.VisitFilter) (int64, error) {
	where, args := dbx.WhereClause(f, dbx.Dollar, bindTime)

	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count visits: %v", domain.ErrQuery, err)
	}
	return count, nil
}

func (r *PostgresRepository) CountDistinctIPs(ctx context.Context, f domain.VisitFilter) (int64, error) {
	where, args := dbx.WhereClause(f, dbx.Dollar, bindTime)

	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT ip_address) FROM visits`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count distinct ips: %v", domain.ErrQuery, err)
	}
	return count, nil
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM visits WHERE timestamp < $1`, bindTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: delete old visits: %v", domain.ErrStorage, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", domain.ErrStorage, err)
	}
	return deleted, nil
}

func (r *PostgresRepository) CountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Dollar, bindTime)
	query := `SELECT url, COUNT(*) FROM visits` + where + ` GROUP BY url`
	return r.countMap(ctx, query, args)
}

func (r *PostgresRepository) UniqueIPsByURL(ctx context.Context, f domain.VisitFilter) (map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Dollar, bindTime)
	query := `SELECT url, COUNT(DISTINCT ip_address) FROM visits` + where + ` GROUP BY url`
	return r.countMap(ctx, query, args)
}

func (r *PostgresRepository) countMap(ctx context.Context, query string, args []any) (map[string]int64, error) {
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

func (r *PostgresRepository) HourlyCountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Dollar, bindTime)
	query := `SELECT url, to_char(date_trunc('hour', timestamp), 'YYYY-MM-DD HH24:00:00') AS hour, COUNT(*)
		FROM visits` + where + ` GROUP BY url, hour`
	return r.nestedCountMap(ctx, query, args)
}

func (r *PostgresRepository) UserAgentCountsByURL(ctx context.Context, f domain.VisitFilter) (map[string]map[string]int64, error) {
	where, args := dbx.WhereClause(f, dbx.Dollar, bindTime)
	query := `SELECT url, user_agent, COUNT(*) FROM visits` + where + ` GROUP BY url, user_agent`
	return r.nestedCountMap(ctx, query, args)
}

func (r *PostgresRepository) nestedCountMap(ctx context.Context, query string, args []any) (map[string]map[string]int64, error) {
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

func (r *PostgresRepository) TimeRange(ctx context.Context) (*time.Time, *time.Time, int64, error) {
	var minTS, maxTS sql.NullTime
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(timestamp), MAX(timestamp), COUNT(*) FROM visits`).Scan(&minTS, &maxTS, &total)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: time range: %v", domain.ErrQuery, err)
	}

	var earliest, latest *time.Time
	if minTS.Valid {
		earliest = &minTS.Time
	}
	if maxTS.Valid {
		latest = &maxTS.Time
	}
	return earliest, latest, total, nil
}

func (r *PostgresRepository) MaxTimestamp(ctx context.Context) (*time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM visits`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("%w: max timestamp: %v", domain.ErrQuery, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}

func (r *PostgresRepository) BeginBatch(ctx context.Context) (ports.SyncBatch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin batch: %v", domain.ErrStorage, err)
	}
	return &syncBatch{tx: tx}, nil
}

type syncBatch struct {
	tx *sql.Tx
}

func (b *syncBatch) Insert(ctx context.Context, v *domain.Visit) (bool, error) {
	res, err := b.tx.ExecContext(ctx, `
		INSERT INTO visits (url, ip_address, user_agent, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT visits_unique_record DO NOTHING`,
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

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ensure interface compliance
var _ ports.VisitRepository = (*PostgresRepository)(nil)
