// Package store persists installations, projects, rules, analyses, and
// violations in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Analysis lifecycle states.
const (
	AnalysisPending = "PENDING"
	AnalysisSuccess = "SUCCESS"
	AnalysisFailure = "FAILURE"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS installations (
	id            INTEGER PRIMARY KEY,
	account_login TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS projects (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id         INTEGER NOT NULL UNIQUE,
	owner           TEXT NOT NULL,
	name            TEXT NOT NULL,
	installation_id INTEGER NOT NULL,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS rules (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	rule_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL,
	severity   TEXT NOT NULL,
	language   TEXT NOT NULL DEFAULT '*',
	pattern    TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE(project_id, rule_id)
);
CREATE TABLE IF NOT EXISTS analyses (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  INTEGER NOT NULL REFERENCES projects(id),
	commit_hash TEXT NOT NULL,
	pr_number   INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'PENDING',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS violations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES analyses(id),
	rule_id     TEXT NOT NULL,
	file        TEXT NOT NULL,
	line        INTEGER NOT NULL,
	message     TEXT NOT NULL
);
`

// Project is one tracked repository.
type Project struct {
	ID             int64
	RepoID         int64
	Owner          string
	Name           string
	InstallationID int64
	CreatedAt      time.Time
}

// Rule is one stored detection rule, toggled by IsActive.
type Rule struct {
	ID       int64
	RuleID   string
	Name     string
	Category string
	Severity string
	Language string
	Pattern  string
	Message  string
	IsActive bool
}

// Analysis tracks one inline PR analysis run.
type Analysis struct {
	ID         int64
	ProjectID  int64
	CommitHash string
	PRNumber   int
	Status     string
}

// Violation is one persisted finding of an analysis.
type Violation struct {
	RuleID  string
	File    string
	Line    int
	Message string
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at url and applies the
// schema.
func Open(url string) (*Store, error) {
	db, err := sql.Open("sqlite", url)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", url, err)
	}
	// SQLite handles one writer; serialise through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertInstallation records an installation, updating the account login on
// conflict.
func (s *Store) UpsertInstallation(ctx context.Context, id int64, accountLogin string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installations (id, account_login) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET account_login = excluded.account_login`,
		id, accountLogin)
	if err != nil {
		return fmt.Errorf("upserting installation %d: %w", id, err)
	}
	return nil
}

// UpsertProject creates a project for repoID or, when it already exists,
// refreshes its installation id. Reports whether a new row was created.
func (s *Store) UpsertProject(ctx context.Context, repoID int64, owner, name string, installationID int64) (projectID int64, created bool, err error) {
	existing, err := s.ProjectByRepoID(ctx, repoID)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE projects SET installation_id = ?, owner = ?, name = ? WHERE repo_id = ?`,
			installationID, owner, name, repoID)
		if err != nil {
			return 0, false, fmt.Errorf("updating project %d: %w", repoID, err)
		}
		return existing.ID, false, nil
	case errors.Is(err, ErrNotFound):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO projects (repo_id, owner, name, installation_id) VALUES (?, ?, ?, ?)`,
			repoID, owner, name, installationID)
		if err != nil {
			return 0, false, fmt.Errorf("creating project %d: %w", repoID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	default:
		return 0, false, err
	}
}

// ProjectByRepoID looks up a project by its forge repository id.
func (s *Store) ProjectByRepoID(ctx context.Context, repoID int64) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, owner, name, installation_id, created_at
		FROM projects WHERE repo_id = ?`, repoID)
	var p Project
	err := row.Scan(&p.ID, &p.RepoID, &p.Owner, &p.Name, &p.InstallationID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading project %d: %w", repoID, err)
	}
	return &p, nil
}

// CountProjects returns the total project count.
func (s *Store) CountProjects(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n)
	return n, err
}

// SeedDefaultRules installs the default rule set for a new project. Existing
// rules are left alone.
func (s *Store) SeedDefaultRules(ctx context.Context, projectID int64) error {
	for _, r := range defaultRules {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rules (project_id, rule_id, name, category, severity, language, pattern, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, rule_id) DO NOTHING`,
			projectID, r.RuleID, r.Name, r.Category, r.Severity, r.Language, r.Pattern, r.Message)
		if err != nil {
			return fmt.Errorf("seeding rule %s: %w", r.RuleID, err)
		}
	}
	return nil
}

// ActiveRules returns the active rules for a project.
func (s *Store) ActiveRules(ctx context.Context, projectID int64) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, name, category, severity, language, pattern, message, is_active
		FROM rules WHERE project_id = ? AND is_active`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing rules for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.RuleID, &r.Name, &r.Category, &r.Severity,
			&r.Language, &r.Pattern, &r.Message, &r.IsActive); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetRuleActive toggles one rule of a project.
func (s *Store) SetRuleActive(ctx context.Context, projectID int64, ruleID string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET is_active = ? WHERE project_id = ? AND rule_id = ?`,
		active, projectID, ruleID)
	return err
}

// CreateAnalysis records a new analysis in PENDING state.
func (s *Store) CreateAnalysis(ctx context.Context, projectID int64, commitHash string, prNumber int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (project_id, commit_hash, pr_number, status)
		VALUES (?, ?, ?, ?)`, projectID, commitHash, prNumber, AnalysisPending)
	if err != nil {
		return 0, fmt.Errorf("creating analysis: %w", err)
	}
	return res.LastInsertId()
}

// SetAnalysisStatus transitions an analysis to its terminal state.
func (s *Store) SetAnalysisStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	if err != nil {
		return fmt.Errorf("updating analysis %d: %w", id, err)
	}
	return nil
}

// GetAnalysis fetches one analysis by id.
func (s *Store) GetAnalysis(ctx context.Context, id int64) (*Analysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, commit_hash, pr_number, status FROM analyses WHERE id = ?`, id)
	var a Analysis
	err := row.Scan(&a.ID, &a.ProjectID, &a.CommitHash, &a.PRNumber, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertViolations persists the findings of one analysis.
func (s *Store) InsertViolations(ctx context.Context, analysisID int64, violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, v := range violations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO violations (analysis_id, rule_id, file, line, message)
			VALUES (?, ?, ?, ?, ?)`,
			analysisID, v.RuleID, v.File, v.Line, v.Message); err != nil {
			return fmt.Errorf("inserting violation: %w", err)
		}
	}
	return tx.Commit()
}

// ViolationsForAnalysis lists the persisted findings of one analysis.
func (s *Store) ViolationsForAnalysis(ctx context.Context, analysisID int64) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, file, line, message FROM violations WHERE analysis_id = ?`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.RuleID, &v.File, &v.Line, &v.Message); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
