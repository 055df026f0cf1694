package services

import (
	"context"
	"fmt"
	"time"

	"github.com/kevinmcaleer/page-count/pkg/core/domain"
	"github.com/kevinmcaleer/page-count/pkg/logging"
	"github.com/kevinmcaleer/page-count/pkg/ports"
)

// SyncState tracks the engine's progress through one run.
type SyncState string

const (
	StateIdle           SyncState = "idle"
	StateConnected      SyncState = "connected"
	StateSchemaVerified SyncState = "schema_verified"
	StateReading        SyncState = "reading"
	StateMigrating      SyncState = "migrating"
	StateVerifying      SyncState = "verifying"
	StateDone           SyncState = "done"
	StateFailed         SyncState = "failed"
)

// SyncReport summarizes one migration run.
type SyncReport struct {
	Migrated   int64
	Skipped    int64
	Errors     int64
	Pending    int64
	FinalCount int64
	Earliest   *time.Time
	Latest     *time.Time
}

// SyncEngine incrementally copies visits from a source store into a
// destination store. Records are read above the destination's timestamp
// watermark in insertion order and written in dedup-safe batches, so a run
// can be repeated (or interrupted and restarted) without producing
// duplicates.
type SyncEngine struct {
	source ports.VisitRepository
	dest   ports.VisitRepository
	log    logging.Logger

	BatchSize int
	MaxErrors int
	DryRun    bool

	state SyncState
}

func NewSyncEngine(source, dest ports.VisitRepository, log logging.Logger) *SyncEngine {
	return &SyncEngine{
		source:    source,
		dest:      dest,
		log:       log,
		BatchSize: 1000,
		MaxErrors: 10,
		state:     StateIdle,
	}
}

// State reports the engine's current phase.
func (e *SyncEngine) State() SyncState {
	return e.state
}

func (e *SyncEngine) fail(err error) error {
	e.state = StateFailed
	return err
}

// Run executes one full sync pass and returns its report. In DryRun mode the
// engine stops after reading: it reports how many records are pending and
// writes nothing.
func (e *SyncEngine) Run(ctx context.Context) (*SyncReport, error) {
	if err := e.source.Ping(ctx); err != nil {
		return nil, e.fail(fmt.Errorf("source unreachable: %w", err))
	}
	if err := e.dest.Ping(ctx); err != nil {
		return nil, e.fail(fmt.Errorf("destination unreachable: %w", err))
	}
	e.state = StateConnected

	if err := e.dest.EnsureSchema(ctx); err != nil {
		return nil, e.fail(fmt.Errorf("destination schema: %w", err))
	}
	e.state = StateSchemaVerified

	e.state = StateReading
	watermark, err := e.dest.MaxTimestamp(ctx)
	if err != nil {
		return nil, e.fail(fmt.Errorf("destination watermark: %w", err))
	}
	if watermark != nil {
		e.log.Info(ctx, "incremental sync", "watermark", watermark.Format(domain.TimeLayout))
	} else {
		e.log.Info(ctx, "full sync, destination is empty")
	}

	pending, err := e.source.Scan(ctx, domain.VisitFilter{After: watermark, Ascending: true})
	if err != nil {
		return nil, e.fail(fmt.Errorf("read source: %w", err))
	}

	report := &SyncReport{Pending: int64(len(pending))}
	if e.DryRun {
		e.state = StateDone
		e.log.Info(ctx, "dry run, nothing written", "pending", report.Pending)
		return report, nil
	}

	e.state = StateMigrating
	if err := e.migrate(ctx, pending, report); err != nil {
		return report, e.fail(err)
	}

	e.state = StateVerifying
	earliest, latest, total, err := e.dest.TimeRange(ctx)
	if err != nil {
		return report, e.fail(fmt.Errorf("verify destination: %w", err))
	}
	report.FinalCount = total
	report.Earliest = earliest
	report.Latest = latest

	e.state = StateDone
	e.log.Info(ctx, "sync complete",
		"migrated", report.Migrated, "skipped", report.Skipped,
		"errors", report.Errors, "final_count", report.FinalCount)
	return report, nil
}

func (e *SyncEngine) migrate(ctx context.Context, pending []domain.Visit, report *SyncReport) error {
	for off := 0; off < len(pending); off += e.BatchSize {
		end := off + e.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		batch, err := e.dest.BeginBatch(ctx)
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}

		for i := off; i < end; i++ {
			v := pending[i]
			v.ID = 0 // destination assigns its own ids
			inserted, err := batch.Insert(ctx, &v)
			if err != nil {
				report.Errors++
				e.log.Error(ctx, "record failed", "url", v.URL, "timestamp", v.TimestampString(), "error", err)
				if report.Errors > int64(e.MaxErrors) {
					_ = batch.Rollback()
					return fmt.Errorf("%w: aborted after %d record errors", domain.ErrStorage, report.Errors)
				}
				continue
			}
			if inserted {
				report.Migrated++
			} else {
				report.Skipped++
			}
		}

		if err := batch.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		e.log.Info(ctx, "batch committed", "processed", end, "total", len(pending))
	}
	return nil
}
