// Package query answers follow-up questions about a reviewed contract. It
// retrieves from the persistent authority collection and the session's
// ephemeral collection, merges the hits, and composes a completion grounded
// only in the retrieved passages.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/completion"
	"github.com/clauseguard/clauseguard/embedding"
)

// PersistentSearcher is the authority index slice the engine needs.
type PersistentSearcher interface {
	Search(ctx context.Context, q authindex.Query) ([]authindex.Hit, error)
}

// EphemeralSearcher searches the session's ephemeral collection.
type EphemeralSearcher interface {
	Search(ctx context.Context, text string, topK int) ([]authindex.Hit, error)
}

// Answer is the engine's response to one question.
type Answer struct {
	Text string `json:"text"`

	// Grounded reports whether the answer was composed over retrieved
	// passages. Ungrounded answers are best-effort and must be presented
	// as such.
	Grounded bool `json:"grounded"`

	Sources []authindex.Hit `json:"sources,omitempty"`
}

// Config tunes the engine.
type Config struct {
	// TopK is how many merged passages ground the answer. Default: 4.
	TopK int `json:"top_k" yaml:"top_k"`

	// MaxRetries bounds retries per capability call. Default: 3.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Backoff is the initial retry wait, doubled each attempt. Default: 500ms.
	Backoff time.Duration `json:"backoff" yaml:"backoff"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine answers questions for one session. ephemeral may be nil for
// sessions without accepted rewordings.
type Engine struct {
	authorities PersistentSearcher
	ephemeral   EphemeralSearcher
	completer   completion.Completer
	cfg         Config
}

// NewEngine wires an engine to its collections and completer.
func NewEngine(authorities PersistentSearcher, ephemeral EphemeralSearcher, completer completion.Completer, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		authorities: authorities,
		ephemeral:   ephemeral,
		completer:   completer,
		cfg:         cfg,
	}
}

const answerSystem = "You are a contract review assistant. Answer the " +
	"question using only the provided source material. Cite sources by " +
	"their bracketed ref. If the material does not cover the question, say so."

const ungroundedSystem = "You are a contract review assistant. No source " +
	"material matched this question. Give a careful general answer and " +
	"state clearly that it is not grounded in the reviewed documents."

// Ask retrieves, merges and answers. A question no passage matches still
// gets a best-effort answer, flagged ungrounded. Only a completion failure
// is an error.
func (e *Engine) Ask(ctx context.Context, question string) (*Answer, error) {
	hits := e.retrieve(ctx, question)

	req := completion.Request{
		System: answerSystem,
		Prompt: question,
	}
	if len(hits) == 0 {
		req.System = ungroundedSystem
	}
	for _, h := range hits {
		req.Grounding = append(req.Grounding,
			fmt.Sprintf("[%s] %s: %s", h.Ref, h.Title, strings.TrimSpace(h.Text)))
	}

	var text string
	err := e.withRetry(ctx, "answer completion", func(ctx context.Context) error {
		var err error
		text, err = e.completer.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query: answer: %w", err)
	}
	return &Answer{Text: text, Grounded: len(hits) > 0, Sources: hits}, nil
}

// retrieve searches both collections and merges by ref, keeping the higher
// score per passage. Transient failures are retried with backoff; a
// collection that still fails contributes nothing and the question is
// answered from whatever remains.
func (e *Engine) retrieve(ctx context.Context, question string) []authindex.Hit {
	var merged []authindex.Hit
	seen := map[string]int{}

	add := func(hits []authindex.Hit) {
		for _, h := range hits {
			if i, ok := seen[h.Ref]; ok {
				if h.Score > merged[i].Score {
					merged[i] = h
				}
				continue
			}
			seen[h.Ref] = len(merged)
			merged = append(merged, h)
		}
	}

	var persistent []authindex.Hit
	err := e.withRetry(ctx, "authority search", func(ctx context.Context) error {
		var err error
		persistent, err = e.authorities.Search(ctx, authindex.Query{Text: question, TopK: e.cfg.TopK})
		return err
	})
	if err != nil {
		e.cfg.Logger.Warn("persistent search failed", "error", err)
	}
	add(persistent)

	if e.ephemeral != nil {
		var ephemeral []authindex.Hit
		err := e.withRetry(ctx, "ephemeral search", func(ctx context.Context) error {
			var err error
			ephemeral, err = e.ephemeral.Search(ctx, question, e.cfg.TopK)
			return err
		})
		if err != nil {
			e.cfg.Logger.Warn("ephemeral search failed", "error", err)
		}
		add(ephemeral)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > e.cfg.TopK {
		merged = merged[:e.cfg.TopK]
	}
	return merged
}

func (e *Engine) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		err := fn(ctx)
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
		if attempt < e.cfg.MaxRetries {
			wait := e.cfg.Backoff * (1 << uint(attempt))
			e.cfg.Logger.WarnContext(ctx, "retrying capability call",
				"op", op,
				"attempt", attempt+1,
				"max_retries", e.cfg.MaxRetries,
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
// unavailability is transient.
func isTransient(err error) bool {
	return errors.Is(err, embedding.ErrUnavailable) ||
		errors.Is(err, completion.ErrUnavailable)
}
