// Package store is the relational backing store: sqlite via database/sql.
// Dedupe is enforced here with a UNIQUE constraint on dedupe_key, not just in
// process memory, so concurrent pipelines and retries cannot double-insert.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vigilops/bastion/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrBadTransition = errors.New("illegal status transition")
)

type Store struct {
	db   *sql.DB
	path string
}

// Open initializes the sqlite database at path, creating the schema if
// needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign_keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable. Called at startup; failure there is a
// refuse-to-start condition.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			id         TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			submitter  TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vulnerabilities (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			dedupe_key  TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			discipline  TEXT NOT NULL DEFAULT '',
			sector      TEXT NOT NULL DEFAULT '',
			subsector   TEXT NOT NULL DEFAULT '',
			confidence  REAL NOT NULL DEFAULT 0,
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS options_for_consideration (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			vulnerability_id INTEGER NOT NULL REFERENCES vulnerabilities(id),
			position         INTEGER NOT NULL,
			text             TEXT NOT NULL,
			discipline       TEXT NOT NULL DEFAULT '',
			sector           TEXT NOT NULL DEFAULT '',
			UNIQUE(vulnerability_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS submission_vulnerabilities (
			submission_id    TEXT NOT NULL REFERENCES submissions(id),
			vulnerability_id INTEGER NOT NULL REFERENCES vulnerabilities(id),
			PRIMARY KEY (submission_id, vulnerability_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subvuln_vuln ON submission_vulnerabilities(vulnerability_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status)`,
	}
	for _, q := range schema {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateSubmission(ctx context.Context, sub model.Submission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, filename, submitter, status, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Filename, sub.Submitter, string(sub.Status), sub.Reason, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create submission %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	var sub model.Submission
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, submitter, status, reason, created_at, updated_at
		 FROM submissions WHERE id = ?`, id).
		Scan(&sub.ID, &sub.Filename, &sub.Submitter, &status, &sub.Reason, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, ErrNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("failed to load submission %s: %w", id, err)
	}
	sub.Status = model.Status(status)
	return sub, nil
}

// UpdateSubmissionStatus moves a submission through its lifecycle, refusing
// transitions the state machine does not allow.
func (s *Store) UpdateSubmissionStatus(ctx context.Context, id string, next model.Status, reason string) error {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	if !sub.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for submission %s", ErrBadTransition, sub.Status, next, id)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, reason = ?, updated_at = ? WHERE id = ?`,
		string(next), reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update submission %s: %w", id, err)
	}
	return nil
}

// WithTx runs fn inside a transaction, rolling back on any error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// GetVulnerabilityIDByKey looks a vulnerability up by dedupe key inside tx.
func (s *Store) GetVulnerabilityIDByKey(ctx context.Context, tx *sql.Tx, dedupeKey string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM vulnerabilities WHERE dedupe_key = ?`, dedupeKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query dedupe key: %w", err)
	}
	return id, nil
}

func (s *Store) InsertVulnerability(ctx context.Context, tx *sql.Tx, dedupeKey string, rec model.FindingRecord) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO vulnerabilities (dedupe_key, name, description, discipline, sector, subsector, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dedupeKey, rec.Vulnerability, rec.Category, rec.Discipline, rec.Sector, rec.Subsector, rec.Confidence, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert vulnerability: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertOption(ctx context.Context, tx *sql.Tx, vulnID int64, position int, text, discipline, sector string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO options_for_consideration (vulnerability_id, position, text, discipline, sector)
		 VALUES (?, ?, ?, ?, ?)`,
		vulnID, position, text, discipline, sector)
	if err != nil {
		return fmt.Errorf("failed to insert option: %w", err)
	}
	return nil
}

// LinkSubmission associates a vulnerability with a submission. INSERT OR
// IGNORE makes re-linking on retry a no-op.
func (s *Store) LinkSubmission(ctx context.Context, tx *sql.Tx, submissionID string, vulnID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO submission_vulnerabilities (submission_id, vulnerability_id) VALUES (?, ?)`,
		submissionID, vulnID)
	if err != nil {
		return fmt.Errorf("failed to link submission %s to vulnerability %d: %w", submissionID, vulnID, err)
	}
	return nil
}

// CountVulnerabilitiesForSubmission returns how many vulnerability rows are
// attributable to a submission via the link table.
func (s *Store) CountVulnerabilitiesForSubmission(ctx context.Context, submissionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submission_vulnerabilities WHERE submission_id = ?`, submissionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vulnerabilities for %s: %w", submissionID, err)
	}
	return n, nil
}

// CountVulnerabilities returns the total number of persisted vulnerabilities.
func (s *Store) CountVulnerabilities(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vulnerabilities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vulnerabilities: %w", err)
	}
	return n, nil
}

// CountOptions returns the total number of persisted options.
func (s *Store) CountOptions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM options_for_consideration`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count options: %w", err)
	}
	return n, nil
}
