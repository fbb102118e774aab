// Package journal keeps a sqlite history of decision loop runs, the
// recovery manoeuvres they performed and every trigger received.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/picar.autonav/internal/monitoring"
	"github.com/banshee-data/picar.autonav/internal/navigation"
	"github.com/banshee-data/picar.autonav/internal/trigger"
)

// DefaultLimit caps list queries when the caller passes zero.
const DefaultLimit = 50

// WriteTimeout bounds every journal write.
const WriteTimeout = 2 * time.Second

// Journal is the run history store.
type Journal struct {
	db *sql.DB
	// admin serves the SQL console and backups on its own connection.
	admin        *sql.DB
	path         string
	writeTimeout time.Duration
	log          logrus.FieldLogger
}

var (
	_ navigation.Journal    = (*Journal)(nil)
	_ trigger.EventRecorder = (*Journal)(nil)
)

// dsn applies the pragmas to every pooled connection, not just the first.
func dsn(path string) string {
	return path + "?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
}

// Open opens (creating if needed) the journal at path and brings its
// schema up to date.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	j := &Journal{db: db, path: path, writeTimeout: WriteTimeout, log: monitoring.Component("journal")}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	admin, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s for admin: %w", path, err)
	}
	admin.SetMaxOpenConns(1)
	j.admin = admin
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return errors.Join(j.admin.Close(), j.db.Close())
}

func (j *Journal) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, j.writeTimeout)
	defer cancel()
	return j.db.ExecContext(ctx, query, args...)
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// BeginRun inserts a new run and returns its id.
func (j *Journal) BeginRun(ctx context.Context, started time.Time) (string, error) {
	id := uuid.NewString()
	_, err := j.exec(ctx,
		`INSERT INTO runs (run_id, started_at_ns) VALUES (?, ?)`,
		id, nanos(started))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the end-of-run summary.
func (j *Journal) FinishRun(ctx context.Context, runID string, s navigation.Summary) error {
	res, err := j.exec(ctx, `
		UPDATE runs SET
			ended_at_ns = ?,
			cycles = ?,
			clear_cycles = ?,
			failed_scans = ?,
			recoveries = ?,
			frame_failures = ?,
			mean_cycle_ns = ?,
			stddev_cycle_ns = ?,
			error = ?
		WHERE run_id = ?`,
		nanos(s.Ended), s.Cycles, s.ClearCycles, s.FailedScans, s.Recoveries, s.FrameFailures,
		int64(s.MeanCycle), int64(s.StdDevCycle), s.Err, runID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// RecordRecovery appends one recovery manoeuvre to a run.
func (j *Journal) RecordRecovery(ctx context.Context, runID string, r navigation.Recovery) error {
	_, err := j.exec(ctx, `
		INSERT INTO recoveries (run_id, at_ns, mode, steering, hold_ns, reason, failed_scans, no_detection)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, nanos(r.At), r.Mode.String(), r.Steering, int64(r.Hold), r.Reason, r.FailedScans, r.NoDetection)
	if err != nil {
		return fmt.Errorf("insert recovery: %w", err)
	}
	return nil
}

// RecordTrigger stores a received trigger and its outcome.
func (j *Journal) RecordTrigger(ctx context.Context, ev trigger.Event) error {
	_, err := j.exec(ctx, `
		INSERT INTO trigger_events (at_ns, source, payload, command, outcome)
		VALUES (?, ?, ?, ?, ?)`,
		nanos(ev.At), ev.Source, ev.Payload, ev.Command.String(), ev.Outcome.String())
	if err != nil {
		return fmt.Errorf("insert trigger event: %w", err)
	}
	return nil
}

// Run is a stored run. Ended is nil while the run is in progress or if the
// process died before it finished.
type Run struct {
	ID            string        `json:"id"`
	Started       time.Time     `json:"started"`
	Ended         *time.Time    `json:"ended,omitempty"`
	Cycles        int           `json:"cycles"`
	ClearCycles   int           `json:"clear_cycles"`
	FailedScans   int           `json:"failed_scans"`
	Recoveries    int           `json:"recoveries"`
	FrameFailures int           `json:"frame_failures"`
	MeanCycle     time.Duration `json:"mean_cycle_ns"`
	StdDevCycle   time.Duration `json:"stddev_cycle_ns"`
	Err           string        `json:"error,omitempty"`
}

func limitOr(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, started_at_ns, ended_at_ns, cycles, clear_cycles, failed_scans,
		       recoveries, frame_failures, mean_cycle_ns, stddev_cycle_ns, error
		FROM runs
		ORDER BY started_at_ns DESC
		LIMIT ?`, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r            Run
			started      int64
			ended        sql.NullInt64
			mean, stddev int64
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.Cycles, &r.ClearCycles, &r.FailedScans,
			&r.Recoveries, &r.FrameFailures, &mean, &stddev, &r.Err); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = fromNanos(started)
		if ended.Valid {
			t := fromNanos(ended.Int64)
			r.Ended = &t
		}
		r.MeanCycle = time.Duration(mean)
		r.StdDevCycle = time.Duration(stddev)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recoveries returns the recovery manoeuvres of one run in order.
func (j *Journal) Recoveries(ctx context.Context, runID string) ([]navigation.Recovery, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT at_ns, mode, steering, hold_ns, reason, failed_scans, no_detection
		FROM recoveries
		WHERE run_id = ?
		ORDER BY recovery_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query recoveries: %w", err)
	}
	defer rows.Close()

	var out []navigation.Recovery
	for rows.Next() {
		var (
			r        navigation.Recovery
			at, hold int64
			mode     string
		)
		if err := rows.Scan(&at, &mode, &r.Steering, &hold, &r.Reason, &r.FailedScans, &r.NoDetection); err != nil {
			return nil, fmt.Errorf("scan recovery: %w", err)
		}
		m, ok := navigation.ParseMode(mode)
		if !ok {
			j.log.WithField("mode", mode).Warn("unknown recovery mode in journal")
		}
		r.At = fromNanos(at)
		r.Mode = m
		r.Hold = time.Duration(hold)
		out = append(out, r)
	}
	return out, rows.Err()
}

// TriggerRecord is a stored trigger event.
type TriggerRecord struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Payload string    `json:"payload"`
	Command string    `json:"command"`
	Outcome string    `json:"outcome"`
}

// TriggerEvents returns the most recent triggers, newest first.
func (j *Journal) TriggerEvents(ctx context.Context, limit int) ([]TriggerRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT at_ns, source, payload, command, outcome
		FROM trigger_events
		ORDER BY at_ns DESC, event_id DESC
		LIMIT ?`, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("query trigger events: %w", err)
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var (
			r  TriggerRecord
			at int64
		)
		if err := rows.Scan(&at, &r.Source, &r.Payload, &r.Command, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan trigger event: %w", err)
		}
		r.At = fromNanos(at)
		out = append(out, r)
	}
	return out, rows.Err()
}
