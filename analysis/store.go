package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
    clause_id   INTEGER NOT NULL,
    version     INTEGER NOT NULL,
    summary     TEXT NOT NULL DEFAULT '',
    risk_score  REAL NOT NULL DEFAULT 0,
    rationale   TEXT NOT NULL DEFAULT '',
    suggestion  TEXT NOT NULL DEFAULT '',
    failed      INTEGER NOT NULL DEFAULT 0,
    fail_reason TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (clause_id, version)
);
CREATE TABLE IF NOT EXISTS analysis_hits (
    clause_id    INTEGER NOT NULL,
    version      INTEGER NOT NULL,
    position     INTEGER NOT NULL,
    ref          TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    jurisdiction TEXT NOT NULL DEFAULT '',
    text         TEXT NOT NULL DEFAULT '',
    score        REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (clause_id, version, position)
);
CREATE TABLE IF NOT EXISTS analysis_citations (
    clause_id INTEGER NOT NULL,
    version   INTEGER NOT NULL,
    ref       TEXT NOT NULL,
    PRIMARY KEY (clause_id, version, ref)
);
`

// Store persists ClauseAnalysis versions. Versions for a clause are totally
// ordered; a commit is all-or-nothing, so a cancelled run never leaves a
// partial version visible.
type Store struct {
	db       *sql.DB
	onCommit func(clauseID, version int)
}

// NewStore binds an analysis store to the session shard database.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("analysis: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SetOnCommit registers a callback fired after each committed version.
// The decision store uses it to re-validate decisions bound to older
// versions.
func (s *Store) SetOnCommit(fn func(clauseID, version int)) {
	s.onCommit = fn
}

// Commit writes a as the next version for its clause in one transaction and
// fills in a.Version and a.CreatedAt.
func (s *Store) Commit(ctx context.Context, a *ClauseAnalysis) error {
	a.CreatedAt = time.Now().UnixMilli()

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var version int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM analyses WHERE clause_id = ?`,
			a.ClauseID).Scan(&version); err != nil {
			return fmt.Errorf("next version: %w", err)
		}
		a.Version = version

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analyses
				(clause_id, version, summary, risk_score, rationale, suggestion,
				 failed, fail_reason, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			a.ClauseID, a.Version, a.Summary, a.RiskScore, a.RiskRationale,
			a.Suggestion, boolToInt(a.Failed), a.FailReason, a.CreatedAt); err != nil {
			return fmt.Errorf("insert analysis: %w", err)
		}

		for i, h := range a.Hits {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO analysis_hits
					(clause_id, version, position, ref, title, jurisdiction, text, score)
				VALUES (?,?,?,?,?,?,?,?)`,
				a.ClauseID, a.Version, i, h.Ref, h.Title, h.Jurisdiction, h.Text, h.Score); err != nil {
				return fmt.Errorf("insert hit %d: %w", i, err)
			}
		}

		for _, ref := range a.Citations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO analysis_citations (clause_id, version, ref)
				VALUES (?,?,?)`,
				a.ClauseID, a.Version, ref); err != nil {
				return fmt.Errorf("insert citation %s: %w", ref, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.onCommit != nil {
		s.onCommit(a.ClauseID, a.Version)
	}
	return nil
}

// Latest returns the newest version for a clause, or nil when none exists.
func (s *Store) Latest(ctx context.Context, clauseID int) (*ClauseAnalysis, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM analyses WHERE clause_id = ?`,
		clauseID).Scan(&version)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, nil
	}
	return s.Get(ctx, clauseID, version)
}

// Get loads one specific version.
func (s *Store) Get(ctx context.Context, clauseID, version int) (*ClauseAnalysis, error) {
	a := &ClauseAnalysis{ClauseID: clauseID, Version: version}
	var failed int
	err := s.db.QueryRowContext(ctx, `
		SELECT summary, risk_score, rationale, suggestion, failed, fail_reason, created_at
		FROM analyses WHERE clause_id = ? AND version = ?`, clauseID, version).
		Scan(&a.Summary, &a.RiskScore, &a.RiskRationale, &a.Suggestion,
			&failed, &a.FailReason, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis: load %d/%d: %w", clauseID, version, err)
	}
	a.Failed = failed != 0

	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, title, jurisdiction, text, score
		FROM analysis_hits WHERE clause_id = ? AND version = ? ORDER BY position`,
		clauseID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h authindex.Hit
		if err := rows.Scan(&h.Ref, &h.Title, &h.Jurisdiction, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		a.Hits = append(a.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx, `
		SELECT ref FROM analysis_citations
		WHERE clause_id = ? AND version = ? ORDER BY ref`, clauseID, version)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var ref string
		if err := crows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan citation: %w", err)
		}
		a.Citations = append(a.Citations, ref)
	}
	return a, crows.Err()
}

// LatestAll returns the newest version of every analyzed clause.
func (s *Store) LatestAll(ctx context.Context) (map[int]*ClauseAnalysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT clause_id, MAX(version) FROM analyses GROUP BY clause_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type key struct{ clause, version int }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.clause, &k.version); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[int]*ClauseAnalysis, len(keys))
	for _, k := range keys {
		a, err := s.Get(ctx, k.clause, k.version)
		if err != nil {
			return nil, err
		}
		out[k.clause] = a
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
