// Package history keeps a SQLite log of past runs and per-case verdicts,
// so a case's behavior can be traced across compiler revisions.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deixis/crosscheck/internal/report"
)

// Store records runs in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Run is one row of the runs table.
type Run struct {
	ID       string
	Started  time.Time
	Mode     string
	OK       int
	Skip     int
	Fail     int
	Total    int
	Ratio    float64
	Report   string
	Duration time.Duration
}

// CaseEntry is the outcome of one case in one run.
type CaseEntry struct {
	RunID     string
	Started   time.Time
	Case      string
	Verdict   report.Verdict
	Reason    report.Reason
	RefMicros int64
	OurMicros int64
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started     INTEGER NOT NULL,
	finished    INTEGER NOT NULL,
	mode        TEXT NOT NULL,
	ok          INTEGER NOT NULL,
	skip        INTEGER NOT NULL,
	fail        INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	ratio       REAL NOT NULL,
	report      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	rel         TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	ref_us      INTEGER NOT NULL,
	our_us      INTEGER NOT NULL,
	PRIMARY KEY (run_id, rel)
);

CREATE INDEX IF NOT EXISTS idx_cases_rel ON cases(rel);
`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun inserts a finished run and all of its case records in one
// transaction. Recording the same run twice replaces it.
func (s *Store) RecordRun(ctx context.Context, r *report.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE run_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clearing run %s: %w", r.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, started, finished, mode, ok, skip, fail, total, ratio, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Started.UnixNano(), r.Finished.UnixNano(), r.Mode,
		r.Summary.OK, r.Summary.Skip, r.Summary.Fail, r.Summary.Total, r.Summary.Ratio, r.Report)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cases (run_id, rel, verdict, reason, ref_us, our_us)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing case insert: %w", err)
	}
	defer stmt.Close()
	for _, rec := range r.Records {
		if _, err := stmt.ExecContext(ctx, r.ID, rec.Case, string(rec.Verdict), string(rec.Reason), rec.RefMicros, rec.OurMicros); err != nil {
			return fmt.Errorf("inserting case %s: %w", rec.Case, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started, finished, mode, ok, skip, fail, total, ratio, report
		FROM runs ORDER BY started DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Mode, &r.OK, &r.Skip, &r.Fail, &r.Total, &r.Ratio, &r.Report); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Started = time.Unix(0, started)
		r.Duration = time.Duration(finished - started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CaseTrail returns the verdicts of one case across runs, newest first.
func (s *Store) CaseTrail(ctx context.Context, rel string, limit int) ([]CaseEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.run_id, r.started, c.rel, c.verdict, c.reason, c.ref_us, c.our_us
		FROM cases c JOIN runs r ON r.id = c.run_id
		WHERE c.rel = ?
		ORDER BY r.started DESC, r.id DESC LIMIT ?`, rel, limit)
	if err != nil {
		return nil, fmt.Errorf("querying case %s: %w", rel, err)
	}
	defer rows.Close()

	var trail []CaseEntry
	for rows.Next() {
		var e CaseEntry
		var started int64
		var verdict, reason string
		if err := rows.Scan(&e.RunID, &started, &e.Case, &verdict, &reason, &e.RefMicros, &e.OurMicros); err != nil {
			return nil, fmt.Errorf("scanning case: %w", err)
		}
		e.Started = time.Unix(0, started)
		e.Verdict, e.Reason = report.Verdict(verdict), report.Reason(reason)
		trail = append(trail, e)
	}
	return trail, rows.Err()
}

// Regressions returns cases that passed in the previous run and fail in
// the given one.
func (s *Store) Regressions(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cur.rel FROM cases cur
		JOIN cases prev ON prev.rel = cur.rel
		WHERE cur.run_id = ? AND cur.verdict = 'FAIL' AND prev.verdict = 'OK'
		  AND prev.run_id = (
			SELECT id FROM runs
			WHERE started < (SELECT started FROM runs WHERE id = ?)
			ORDER BY started DESC LIMIT 1)
		ORDER BY cur.rel`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("querying regressions: %w", err)
	}
	defer rows.Close()

	var rels []string
	for rows.Next() {
		var rel string
		if err := rows.Scan(&rel); err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}
