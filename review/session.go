package review

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clauseguard/clauseguard/analysis"
	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/dbopen"
	"github.com/clauseguard/clauseguard/decision"
	"github.com/clauseguard/clauseguard/observability"
	"github.com/clauseguard/clauseguard/query"
	"github.com/clauseguard/clauseguard/regen"
	"github.com/clauseguard/clauseguard/report"
	"github.com/clauseguard/clauseguard/segment"
)

// Session is one contract review: the segmented contract, its analyses and
// decisions in a dedicated shard database, a session-scoped ephemeral
// collection, and a query engine over both collections.
type Session struct {
	id       string
	contract string
	clauses  []segment.Clause

	db        *sql.DB
	analyses  *analysis.Store
	decisions *decision.Store
	ephemeral *authindex.Ephemeral
	runner    *analysis.Runner
	engine    *query.Engine

	svc *Service
}

func (s *Service) openSession(sessionID, shardPath, contract string, clauses []segment.Clause) (*Session, error) {
	db, err := dbopen.Open(shardPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("review: open session shard: %w", err)
	}

	analyses, err := analysis.NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	ephemeral, err := authindex.NewEphemeral(db, s.emb, sessionID)
	if err != nil {
		db.Close()
		return nil, err
	}
	log := s.logger.With("session_id", sessionID)
	decisions, err := decision.NewStore(db, analyses, ephemeral, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	// A newer analysis version sends the clause's decision back to pending.
	analyses.SetOnCommit(func(clauseID, version int) {
		if version == 1 {
			return
		}
		if err := decisions.Invalidate(context.Background(), clauseID, version); err != nil {
			log.Warn("decision invalidation failed", "clause_id", clauseID, "error", err)
		}
	})

	cfg := s.cfg.Analysis
	cfg.Logger = log
	qcfg := s.cfg.Query
	qcfg.Logger = log

	return &Session{
		id:        sessionID,
		contract:  contract,
		clauses:   clauses,
		db:        db,
		analyses:  analyses,
		decisions: decisions,
		ephemeral: ephemeral,
		runner:    analysis.NewRunner(s.comp, s.authority, analyses, cfg),
		engine:    query.NewEngine(s.authority, ephemeral, s.comp, qcfg),
		svc:       s,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Clauses returns the segmented contract.
func (s *Session) Clauses() []segment.Clause { return s.clauses }

// Contract returns the original contract text.
func (s *Session) Contract() string { return s.contract }

// Analyze runs the stage graph over every clause. Clauses that fail after
// retries come back with Failed versions; cancellation aborts the batch.
func (s *Session) Analyze(ctx context.Context) ([]*analysis.ClauseAnalysis, error) {
	results, err := s.runner.RunAll(ctx, s.clauses)
	s.svc.logEvent(ctx, observability.Event{
		Type:      observability.EventClauseAnalyzed,
		SessionID: s.id,
		Details:   fmt.Sprintf(`{"clauses":%d}`, len(s.clauses)),
		Success:   err == nil,
	})
	return results, err
}

// Decide records a reviewer verdict on a clause.
func (s *Session) Decide(ctx context.Context, clauseID int, status decision.Status, chosenText string) (*decision.Decision, error) {
	d, err := s.decisions.Record(ctx, clauseID, status, chosenText)
	s.svc.logEvent(ctx, observability.Event{
		Type:      observability.EventDecisionRecorded,
		SessionID: s.id,
		EntityID:  fmt.Sprintf("clause:%d", clauseID),
		Details:   fmt.Sprintf(`{"status":%q}`, status),
		Success:   err == nil,
	})
	return d, err
}

// Decisions lists the live decisions ordered by clause ID.
func (s *Session) Decisions(ctx context.Context) ([]decision.Decision, error) {
	return s.decisions.List(ctx)
}

// Regenerate builds the revised contract from the current snapshot.
func (s *Session) Regenerate(ctx context.Context) (regen.RevisedContract, error) {
	analyses, decisions, err := s.snapshotState(ctx)
	if err != nil {
		return regen.RevisedContract{}, err
	}
	rc := regen.Regenerate(s.clauses, analyses, decisions)
	s.svc.logEvent(ctx, observability.Event{
		Type:      observability.EventContractRebuilt,
		SessionID: s.id,
		Details:   fmt.Sprintf(`{"changed":%d}`, rc.Changed()),
		Success:   true,
	})
	return rc, nil
}

// Reports renders the lawyer and client reports from the current snapshot.
func (s *Session) Reports(ctx context.Context) (lawyer, client report.Report, err error) {
	analyses, decisions, err := s.snapshotState(ctx)
	if err != nil {
		return report.Report{}, report.Report{}, err
	}
	snap := report.Snapshot{
		Clauses:   s.clauses,
		Analyses:  analyses,
		Decisions: decisions,
		Revised:   regen.Regenerate(s.clauses, analyses, decisions),
	}
	s.svc.logEvent(ctx, observability.Event{
		Type:      observability.EventReportRendered,
		SessionID: s.id,
		Success:   true,
	})
	return report.Lawyer(snap), report.Client(snap), nil
}

// Ask answers a follow-up question grounded in the merged collections.
func (s *Session) Ask(ctx context.Context, question string) (*query.Answer, error) {
	a, err := s.engine.Ask(ctx, question)
	s.svc.logEvent(ctx, observability.Event{
		Type:      observability.EventQuestionAnswered,
		SessionID: s.id,
		Success:   err == nil,
	})
	return a, err
}

// Analyses returns the latest committed version per clause.
func (s *Session) Analyses(ctx context.Context) (map[int]*analysis.ClauseAnalysis, error) {
	return s.analyses.LatestAll(ctx)
}

func (s *Session) snapshotState(ctx context.Context) (map[int]*analysis.ClauseAnalysis, []decision.Decision, error) {
	analyses, err := s.analyses.LatestAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(analyses) == 0 {
		return nil, nil, ErrNotAnalyzed
	}
	decisions, err := s.decisions.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	return analyses, decisions, nil
}

func (s *Session) close(ctx context.Context) error {
	if err := s.ephemeral.Drop(ctx); err != nil {
		return fmt.Errorf("review: drop ephemeral rows: %w", err)
	}
	return s.db.Close()
}
