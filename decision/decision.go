// Package decision records reviewer verdicts on analyzed clauses.
//
// Each clause carries at most one live decision, bound to the analysis
// version it was taken against. Recording overwrites in place
// (last-write-wins); a newer analysis version invalidates the decision back
// to pending so the reviewer looks at the clause again.
package decision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clauseguard/clauseguard/analysis"
	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/dbopen"
)

var (
	// ErrUnknownClause is returned when no analysis version exists for the
	// clause, so there is nothing to decide on.
	ErrUnknownClause = errors.New("decision: no analysis for clause")

	// ErrAnalysisFailed is returned when the latest analysis version for the
	// clause is a failed one.
	ErrAnalysisFailed = errors.New("decision: latest analysis failed")

	// ErrInvalidDecision is returned when the status or chosen text do not
	// form a valid verdict.
	ErrInvalidDecision = errors.New("decision: invalid decision")
)

// Status is the reviewer verdict on a clause.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Decision is the live verdict for one clause.
type Decision struct {
	ClauseID int `json:"clause_id"`

	Status Status `json:"status"`

	// ResolvedSuggestion is the wording the reviewer accepted. Set iff the
	// status is accepted.
	ResolvedSuggestion string `json:"resolved_suggestion,omitempty"`

	// AnalysisVersion is the analysis version the verdict was taken against.
	AnalysisVersion int `json:"analysis_version"`

	DecidedAt int64 `json:"decided_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
    clause_id           INTEGER PRIMARY KEY,
    status              TEXT    NOT NULL,
    resolved_suggestion TEXT    NOT NULL DEFAULT '',
    analysis_version    INTEGER NOT NULL,
    decided_at          INTEGER NOT NULL
);
`

// EphemeralSink receives accepted rewordings so follow-up questions can
// retrieve them alongside the statute passages.
type EphemeralSink interface {
	Add(ctx context.Context, entries []authindex.Entry) error
}

// Store holds decisions for one review session.
type Store struct {
	db       *sql.DB
	analyses *analysis.Store
	sink     EphemeralSink
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// NewStore creates the decisions table and returns a store bound to the
// session's analysis store. sink may be nil when no ephemeral collection is
// attached.
func NewStore(db *sql.DB, analyses *analysis.Store, sink EphemeralSink, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("decision: create schema: %w", err)
	}
	return &Store{
		db:       db,
		analyses: analyses,
		sink:     sink,
		logger:   logger,
		locks:    map[int]*sync.Mutex{},
	}, nil
}

func (s *Store) clauseLock(clauseID int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[clauseID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[clauseID] = m
	}
	return m
}

// Record stores a verdict for a clause against its latest analysis version.
// Accepting with empty chosenText takes the analysis suggestion as-is.
// Concurrent writers to the same clause are serialized; the last write wins.
func (s *Store) Record(ctx context.Context, clauseID int, status Status, chosenText string) (*Decision, error) {
	if status != StatusAccepted && status != StatusRejected {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidDecision, status)
	}
	if status == StatusRejected && chosenText != "" {
		return nil, fmt.Errorf("%w: rejected decision carries replacement text", ErrInvalidDecision)
	}

	lock := s.clauseLock(clauseID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := s.analyses.Latest(ctx, clauseID)
	if err != nil {
		return nil, fmt.Errorf("decision: load analysis for clause %d: %w", clauseID, err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: clause %d", ErrUnknownClause, clauseID)
	}
	if latest.Failed {
		return nil, fmt.Errorf("%w: clause %d version %d", ErrAnalysisFailed, clauseID, latest.Version)
	}

	resolved := ""
	if status == StatusAccepted {
		resolved = chosenText
		if resolved == "" {
			resolved = latest.Suggestion
		}
		if resolved == "" {
			return nil, fmt.Errorf("%w: clause %d has no suggestion to accept", ErrInvalidDecision, clauseID)
		}
	}

	d := &Decision{
		ClauseID:           clauseID,
		Status:             status,
		ResolvedSuggestion: resolved,
		AnalysisVersion:    latest.Version,
		DecidedAt:          time.Now().UnixMilli(),
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO decisions (clause_id, status, resolved_suggestion, analysis_version, decided_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(clause_id) DO UPDATE SET
			status              = excluded.status,
			resolved_suggestion = excluded.resolved_suggestion,
			analysis_version    = excluded.analysis_version,
			decided_at          = excluded.decided_at`,
		d.ClauseID, string(d.Status), d.ResolvedSuggestion, d.AnalysisVersion, d.DecidedAt)
	if err != nil {
		return nil, fmt.Errorf("decision: record clause %d: %w", clauseID, err)
	}

	if status == StatusAccepted && s.sink != nil {
		if err := s.sink.Add(ctx, []authindex.Entry{acceptedEntry(d, latest)}); err != nil {
			// Retrieval enrichment only; the verdict itself stands.
			s.logger.Warn("ephemeral add failed", "clause_id", clauseID, "error", err)
		}
	}

	s.logger.Info("decision recorded",
		"clause_id", clauseID, "status", status, "analysis_version", latest.Version)
	return d, nil
}

func acceptedEntry(d *Decision, a *analysis.ClauseAnalysis) authindex.Entry {
	text := d.ResolvedSuggestion
	if len(a.Citations) > 0 {
		text += "\nCited authorities: " + strings.Join(a.Citations, ", ")
	}
	return authindex.Entry{
		Ref:   fmt.Sprintf("decision#%d", d.ClauseID),
		Title: fmt.Sprintf("Accepted rewording of clause %d", d.ClauseID),
		Text:  text,
	}
}

// Get returns the live decision for a clause, or nil when none was recorded.
func (s *Store) Get(ctx context.Context, clauseID int) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT clause_id, status, resolved_suggestion, analysis_version, decided_at
		FROM decisions WHERE clause_id = ?`, clauseID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// List returns the live decision per analyzed clause, ordered by clause ID.
// Clauses analyzed but not yet decided on appear as pending.
func (s *Store) List(ctx context.Context) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT clause_id, status, resolved_suggestion, analysis_version, decided_at
		FROM decisions ORDER BY clause_id`)
	if err != nil {
		return nil, fmt.Errorf("decision: list: %w", err)
	}
	defer rows.Close()

	var out []Decision
	recorded := map[int]bool{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		recorded[d.ClauseID] = true
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	latest, err := s.analyses.LatestAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("decision: list analyses: %w", err)
	}
	for id, a := range latest {
		if recorded[id] || a.Failed {
			continue
		}
		out = append(out, Decision{
			ClauseID:        id,
			Status:          StatusPending,
			AnalysisVersion: a.Version,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ClauseID < out[j].ClauseID })
	return out, nil
}

// Invalidate moves the clause's decision back to pending after a newer
// analysis version was committed. A clause without a decision is untouched.
func (s *Store) Invalidate(ctx context.Context, clauseID, newVersion int) error {
	lock := s.clauseLock(clauseID)
	lock.Lock()
	defer lock.Unlock()

	_, err := dbopen.Exec(ctx, s.db, `
		UPDATE decisions
		SET status = ?, resolved_suggestion = '', analysis_version = ?, decided_at = ?
		WHERE clause_id = ?`,
		string(StatusPending), newVersion, time.Now().UnixMilli(), clauseID)
	if err != nil {
		return fmt.Errorf("decision: invalidate clause %d: %w", clauseID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (*Decision, error) {
	var d Decision
	var status string
	err := row.Scan(&d.ClauseID, &status, &d.ResolvedSuggestion, &d.AnalysisVersion, &d.DecidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("decision: scan: %w", err)
	}
	d.Status = Status(status)
	return &d, nil
}
