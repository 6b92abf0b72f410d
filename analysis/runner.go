// Package analysis executes the per-clause four-stage graph:
// summarize → retrieve case law → evaluate risk → suggest improvement.
//
// Stages within a clause form a strict dependency chain (retrieval depends
// only on the summary and must complete before risk evaluation reads its
// output). Across clauses, runs are independent and execute concurrently.
// Capability calls are retried with bounded exponential backoff under a
// per-stage timeout; a clause that exhausts its retries commits a Failed
// version instead of aborting the whole document run.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/completion"
	"github.com/clauseguard/clauseguard/embedding"
	"github.com/clauseguard/clauseguard/segment"
)

// Searcher is the slice of the authority index the runner needs.
type Searcher interface {
	Search(ctx context.Context, q authindex.Query) ([]authindex.Hit, error)
}

// Config tunes the runner.
type Config struct {
	// TopK is how many authorities RetrieveCaseLaw fetches. Default: 5.
	TopK int `json:"top_k" yaml:"top_k"`

	// MaterialThreshold is the risk score at which a cited rationale is
	// required and a rewording is expected. Default: 0.5.
	MaterialThreshold float64 `json:"material_threshold" yaml:"material_threshold"`

	// MaxRetries bounds retries per capability call. Default: 3.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Backoff is the initial retry wait, doubled each attempt. Default: 500ms.
	Backoff time.Duration `json:"backoff" yaml:"backoff"`

	// StageTimeout bounds each capability or search call. Default: 60s.
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`

	// Concurrency is the number of clauses analyzed in parallel. Default: 4.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MaterialThreshold <= 0 {
		c.MaterialThreshold = 0.5
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 60 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Runner executes stage graphs and commits the results.
type Runner struct {
	completer   completion.Completer
	authorities Searcher
	store       *Store
	cfg         Config
}

// NewRunner wires a runner to its capabilities and store.
func NewRunner(completer completion.Completer, authorities Searcher, store *Store, cfg Config) *Runner {
	cfg.defaults()
	return &Runner{
		completer:   completer,
		authorities: authorities,
		store:       store,
		cfg:         cfg,
	}
}

// RunClause executes one stage-graph run for a clause and commits exactly one
// new version. A capability failure after retries commits a Failed version
// and returns it with a nil error (partial-failure semantics). Cancellation
// returns the context error and commits nothing.
func (r *Runner) RunClause(ctx context.Context, clause segment.Clause) (*ClauseAnalysis, error) {
	log := r.cfg.Logger.With("clause_id", clause.ID)
	a := &ClauseAnalysis{ClauseID: clause.ID}

	err := r.runStages(ctx, clause, a)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled: nothing may become visible.
			return nil, ctx.Err()
		}
		log.Warn("clause analysis failed", "error", err)
		a.Failed = true
		a.FailReason = err.Error()
	}

	if err := r.store.Commit(ctx, a); err != nil {
		return nil, fmt.Errorf("analysis: commit clause %d: %w", clause.ID, err)
	}
	log.Info("clause analysis committed",
		"version", a.Version, "risk_score", a.RiskScore, "failed", a.Failed)
	return a, nil
}

func (r *Runner) runStages(ctx context.Context, clause segment.Clause, a *ClauseAnalysis) error {
	// Summarize.
	err := r.stage(ctx, a, StageSummarize, func(sctx context.Context) error {
		out, err := r.completer.Complete(sctx, summarizePrompt(clause.ID, strings.TrimSpace(clause.Text)))
		if err != nil {
			return err
		}
		a.Summary = out
		return nil
	})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	// RetrieveCaseLaw queries with the summary, not the raw clause text,
	// and must complete before EvaluateRisk reads its output.
	err = r.stage(ctx, a, StageRetrieve, func(sctx context.Context) error {
		hits, err := r.authorities.Search(sctx, authindex.Query{
			Text: a.Summary,
			TopK: r.cfg.TopK,
		})
		if err != nil {
			return err
		}
		a.Hits = hits
		return nil
	})
	if err != nil {
		return fmt.Errorf("retrieve case law: %w", err)
	}

	// EvaluateRisk.
	err = r.stage(ctx, a, StageEvaluate, func(sctx context.Context) error {
		out, err := r.completer.Complete(sctx, riskPrompt(a.Summary, a.Hits))
		if err != nil {
			return err
		}
		a.RiskScore = parseRiskScore(out)
		a.RiskRationale = out
		if a.RiskScore >= r.cfg.MaterialThreshold {
			a.RiskRationale = ensureRationaleCitations(a.RiskRationale, a.Hits)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("evaluate risk: %w", err)
	}

	// SuggestImprovement is optional below the material threshold.
	if a.RiskScore < r.cfg.MaterialThreshold {
		a.Suggestion = noChangeSuggestion
		return nil
	}
	err = r.stage(ctx, a, StageSuggest, func(sctx context.Context) error {
		out, err := r.completer.Complete(sctx, improvePrompt(a.Summary, a.RiskRationale, a.Hits))
		if err != nil {
			return err
		}
		a.Suggestion = out
		a.Citations = extractCitations(out, a.Hits)
		return nil
	})
	if err != nil {
		return fmt.Errorf("suggest improvement: %w", err)
	}
	return nil
}

// stage runs fn with retry/backoff under the per-stage timeout and records
// its timing window on the analysis.
func (r *Runner) stage(ctx context.Context, a *ClauseAnalysis, name string, fn func(context.Context) error) error {
	timing := StageTiming{Name: name, StartedAt: time.Now()}
	err := r.withRetry(ctx, name, fn)
	timing.FinishedAt = time.Now()
	a.Stages = append(a.Stages, timing)
	return err
}

func (r *Runner) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
		err := fn(sctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		if !isTransient(err) {
			return lastErr
		}
		if attempt < r.cfg.MaxRetries {
			wait := r.cfg.Backoff * (1 << uint(attempt))
			r.cfg.Logger.WarnContext(ctx, "retrying capability call",
				"op", op,
				"attempt", attempt+1,
				"max_retries", r.cfg.MaxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

// isTransient reports whether err warrants a retry. Only capability
// unavailability is transient; everything else fails the stage immediately.
func isTransient(err error) bool {
	return errors.Is(err, embedding.ErrUnavailable) ||
		errors.Is(err, completion.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// RunAll fans the stage graph out across clauses with bounded concurrency.
// Per-clause failures become Failed versions; only cancellation or commit
// errors abort the batch. Results are ordered by clause ID.
func (r *Runner) RunAll(ctx context.Context, clauses []segment.Clause) ([]*ClauseAnalysis, error) {
	results := make([]*ClauseAnalysis, len(clauses))
	errs := make([]error, len(clauses))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range r.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = r.RunClause(ctx, clauses[i])
			}
		}()
	}

	for i := range clauses {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	return results, errors.Join(errs...)
}
